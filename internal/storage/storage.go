package storage

import (
	"crypto/tls"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/config"
)

var redisClient redis.UniversalClient

// Setup configures the storage backend. The DevAddr cache, its leases
// and the registry synchroniser all share this single Redis client; no
// relational store is used by this service, as the registry of record lives
// in the IoT Hub rather than in a local schema.
func Setup(c config.Config) error {
	log.Info("storage: setting up Redis client")

	if c.Redis.URL != "" {
		opt, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "storage: parse redis url error")
		}
		c.Redis.Servers = []string{opt.Addr}
		c.Redis.Database = opt.DB
		c.Redis.Password = opt.Password
	}

	if len(c.Redis.Servers) == 0 {
		return errors.New("storage: at least one redis server must be configured")
	}

	var tlsConfig *tls.Config
	if c.Redis.TLSEnabled {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	switch {
	case c.Redis.Cluster:
		redisClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       c.Redis.Servers,
			PoolSize:    c.Redis.PoolSize,
			Password:    c.Redis.Password,
			TLSConfig:   tlsConfig,
			DialTimeout: c.Redis.DialTimeout,
		})
	case c.Redis.MasterName != "":
		redisClient = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       c.Redis.MasterName,
			SentinelAddrs:    c.Redis.Servers,
			SentinelPassword: c.Redis.Password,
			DB:               c.Redis.Database,
			PoolSize:         c.Redis.PoolSize,
			TLSConfig:        tlsConfig,
			DialTimeout:      c.Redis.DialTimeout,
		})
	default:
		redisClient = redis.NewClient(&redis.Options{
			Addr:        c.Redis.Servers[0],
			DB:          c.Redis.Database,
			Password:    c.Redis.Password,
			PoolSize:    c.Redis.PoolSize,
			TLSConfig:   tlsConfig,
			DialTimeout: c.Redis.DialTimeout,
		})
	}

	return nil
}

// RedisClient returns the configured Redis client.
func RedisClient() redis.UniversalClient {
	return redisClient
}

// SetRedisClient overrides the Redis client. Used by tests to point at a
// throwaway database.
func SetRedisClient(c redis.UniversalClient) {
	redisClient = c
}

// GetRedisKey returns the Redis key given a template and parameters.
func GetRedisKey(tmpl string, params ...interface{}) string {
	return fmt.Sprintf(tmpl, params...)
}
