package test

import (
	"context"
	"os"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/storage"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

// Config contains the test configuration.
type Config struct {
	RedisURL string
}

// GetConfig returns the test configuration, defaulting to a local Redis
// instance and honouring TEST_REDIS_URL the same way the upstream test suite
// honours TEST_REDIS_URL / TEST_POSTGRES_DSN.
func GetConfig() *Config {
	log.SetLevel(log.ErrorLevel)

	c := &Config{
		RedisURL: "redis://localhost:6379/1",
	}

	if v := os.Getenv("TEST_REDIS_URL"); v != "" {
		c.RedisURL = v
	}

	return c
}

// SetupRedis points storage's package-level Redis client at the configured
// test database and flushes it. Call from a suite's SetupTest so every test
// starts from an empty keyspace.
func SetupRedis() {
	conf := GetConfig()
	opt, err := redis.ParseURL(conf.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("test: parse redis url error")
	}

	storage.SetRedisClient(redis.NewClient(opt))
	MustFlushRedis()
}

// MustFlushRedis flushes the Redis test database.
func MustFlushRedis() {
	if err := storage.RedisClient().FlushDB(context.Background()).Err(); err != nil {
		log.WithError(err).Fatal("test: flush redis error")
	}
}
