// Package devaddrcache implements the Device-Address Cache Store (C3): a
// typed wrapper over Redis holding, per DevAddr, a hash of device entries,
// plus the named leases the registry synchroniser and device getter use for
// mutual exclusion.
package devaddrcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lorawan"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/storage"
)

// Redis key templates, grounded on the teacher's lora:ns:<domain>:<detail>
// naming convention (internal/storage/passive_roaming.go, internal/uplink/collect.go).
const (
	bucketKeyTempl    = "lora:ns:devaddr:%s"
	fullUpdateKey     = "lora:ns:devaddr:full-update"
	globalUpdateKey   = "lora:ns:devaddr:global-update"
	perDevAddrLeaseKeyTempl = "lora:ns:devaddr:%s:lease"
)

// Store is the C3 API. It does no retrying; every Redis error is wrapped
// and surfaced to the caller as-is.
type Store struct{}

// NewStore returns a Store bound to the package-level Redis client
// (internal/storage.RedisClient).
func NewStore() *Store {
	return &Store{}
}

// GetBucket returns the devAddrTable bucket for devAddr, keyed by the
// hex-encoded DevEUI (or the empty string for a negative entry). A missing
// bucket returns an empty, non-nil map and a nil error.
func (s *Store) GetBucket(ctx context.Context, devAddr lorawan.DevAddr) (map[string]DevAddrCacheInfo, error) {
	key := storage.GetRedisKey(bucketKeyTempl, devAddr)

	vals, err := storage.RedisClient().HGetAll(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "devaddrcache: get bucket error")
	}

	out := make(map[string]DevAddrCacheInfo, len(vals))
	for field, raw := range vals {
		var entry DevAddrCacheInfo
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// SerializationError (§7): treat the malformed entry as
			// absent, it will be rewritten on the next sync.
			log.WithFields(log.Fields{
				"dev_addr": devAddr,
				"field":    field,
			}).WithError(err).Warning("devaddrcache: dropping malformed bucket entry")
			continue
		}
		out[field] = entry
	}

	return out, nil
}

// PutEntry upserts a single field of a devAddrTable bucket.
func (s *Store) PutEntry(ctx context.Context, devAddr lorawan.DevAddr, entry DevAddrCacheInfo) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "devaddrcache: marshal entry error")
	}

	key := storage.GetRedisKey(bucketKeyTempl, devAddr)
	if err := storage.RedisClient().HSet(ctx, key, fieldKey(entry), b).Err(); err != nil {
		return errors.Wrap(err, "devaddrcache: put entry error")
	}

	// A real entry lifts any negative-cache TTL the bucket still carries.
	if !entry.IsNegative() {
		if err := storage.RedisClient().Persist(ctx, key).Err(); err != nil {
			return errors.Wrap(err, "devaddrcache: persist bucket error")
		}
	}

	return nil
}

// PutNegativeEntry writes the single negative-cache entry recording that
// devAddr belongs to no device in the registry, and bounds the whole bucket
// key with ttl so the marker expires and self-heals instead of suppressing
// lookups forever. A subsequent ReplaceBucket recreates the key from scratch,
// and a PutEntry of a real entry clears the key's TTL, so either drops this
// TTL.
func (s *Store) PutNegativeEntry(ctx context.Context, devAddr lorawan.DevAddr, ttl time.Duration) error {
	if err := s.PutEntry(ctx, devAddr, negativeEntry(devAddr)); err != nil {
		return err
	}

	key := storage.GetRedisKey(bucketKeyTempl, devAddr)
	if err := storage.RedisClient().Expire(ctx, key, ttl).Err(); err != nil {
		return errors.Wrap(err, "devaddrcache: expire negative entry error")
	}

	return nil
}

// ReplaceBucket atomically swaps the entire bucket for devAddr with
// entries, keyed by fieldKey. An empty entries map deletes the bucket.
func (s *Store) ReplaceBucket(ctx context.Context, devAddr lorawan.DevAddr, entries map[string]DevAddrCacheInfo) error {
	key := storage.GetRedisKey(bucketKeyTempl, devAddr)

	fields := make(map[string]interface{}, len(entries))
	for field, entry := range entries {
		b, err := json.Marshal(entry)
		if err != nil {
			return errors.Wrap(err, "devaddrcache: marshal entry error")
		}
		fields[field] = b
	}

	pipe := storage.RedisClient().TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "devaddrcache: replace bucket error")
	}

	return nil
}

// TakeLease atomically acquires the named lease with the given TTL,
// returning whether it was acquired (false means another node already
// holds it). Grounded on the SETNX-based lock idiom in the teacher's
// internal/uplink/collect.go (collectAndCallOnceLocked).
func (s *Store) TakeLease(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	token, err := uuid.NewV4()
	if err != nil {
		return false, errors.Wrap(err, "devaddrcache: new uuid error")
	}

	ok, err := storage.RedisClient().SetNX(ctx, name, token.String(), ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "devaddrcache: take lease error")
	}

	return ok, nil
}

// SetLeaseTTL overwrites the TTL of an already-held lease without changing
// its value. Used to shorten fullUpdateKey's TTL after a failed full
// reload so the next attempt happens soon instead of waiting out the full
// cooldown.
func (s *Store) SetLeaseTTL(ctx context.Context, name string, ttl time.Duration) error {
	if err := storage.RedisClient().Expire(ctx, name, ttl).Err(); err != nil {
		return errors.Wrap(err, "devaddrcache: set lease ttl error")
	}
	return nil
}

// ReleaseLease releases the named lease immediately.
func (s *Store) ReleaseLease(ctx context.Context, name string) error {
	if err := storage.RedisClient().Del(ctx, name).Err(); err != nil {
		return errors.Wrap(err, "devaddrcache: release lease error")
	}
	return nil
}

// GetLeaseTTL returns the remaining TTL of the named lease. A non-positive
// duration means the lease is not held.
func (s *Store) GetLeaseTTL(ctx context.Context, name string) (time.Duration, error) {
	ttl, err := storage.RedisClient().PTTL(ctx, name).Result()
	if err != nil {
		return 0, errors.Wrap(err, "devaddrcache: get lease ttl error")
	}
	return ttl, nil
}

// FullUpdateLeaseKey returns the Redis key of the full-reload lease.
func (s *Store) FullUpdateLeaseKey() string { return fullUpdateKey }

// GlobalUpdateLeaseKey returns the Redis key of the lease held during full
// and delta reloads. Per-DevAddr cache-miss lookups do not use it; they use
// PerDevAddrLeaseKey.
func (s *Store) GlobalUpdateLeaseKey() string { return globalUpdateKey }

// PerDevAddrLeaseKey returns the Redis key of the per-DevAddr cache-miss
// coalescing lease for devAddr.
func (s *Store) PerDevAddrLeaseKey(devAddr lorawan.DevAddr) string {
	return storage.GetRedisKey(perDevAddrLeaseKeyTempl, devAddr)
}
