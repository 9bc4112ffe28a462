// Package registrysync implements the Registry Synchroniser (C4): full and
// delta reloads of the DevAddr cache (C3) from the external device
// registry, guarded by the fullUpdateKey and globalUpdateKey leases.
package registrysync

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lorawan"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/config"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/devaddrcache"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/logging"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/registry"
)

// Syncer runs perform_needed_syncs against a Store and a Registry.
type Syncer struct {
	store    *devaddrcache.Store
	registry registry.Registry
	conf     config.Config

	mu           sync.Mutex
	lastSyncTime time.Time
}

// NewSyncer returns a Syncer. conf carries the lease TTLs and registry page
// size (internal/config.Config.DevAddrCache).
func NewSyncer(store *devaddrcache.Store, reg registry.Registry, conf config.Config) *Syncer {
	return &Syncer{
		store:    store,
		registry: reg,
		conf:     conf,
	}
}

func (s *Syncer) getLastSyncTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncTime
}

func (s *Syncer) setLastSyncTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSyncTime = t
}

// WarmUp performs one initial delta reload from the beginning of time,
// independent of perform_needed_syncs and its leases. This is the first of
// the two calls to find_by_last_update_date the design note calls out (§9):
// invoke it once at process startup, before the scheduler loop starts.
func (s *Syncer) WarmUp(ctx context.Context) error {
	ctx, err := logging.WithContextID(ctx)
	if err != nil {
		return errors.Wrap(err, "registrysync: new context id error")
	}
	log.WithField("ctx_id", logging.IDFromContext(ctx)).Info("registrysync: warm-up sync starting")

	since := s.getLastSyncTime()
	if err := s.runReload(ctx, "warmup", false, func() (registry.TwinIterator, error) {
		return s.registry.FindByLastUpdateDate(ctx, since)
	}); err != nil {
		return err
	}

	s.setLastSyncTime(time.Now())
	return nil
}

// PerformNeededSyncs implements perform_needed_syncs (§4.4): it attempts a
// full reload first, falls back to a delta reload if another node already
// owns the full reload, and does nothing if a delta is already in
// progress elsewhere.
func (s *Syncer) PerformNeededSyncs(ctx context.Context) error {
	ctx, err := logging.WithContextID(ctx)
	if err != nil {
		return errors.Wrap(err, "registrysync: new context id error")
	}
	log.WithField("ctx_id", logging.IDFromContext(ctx)).Debug("registrysync: perform needed syncs")

	tookFull, err := s.store.TakeLease(ctx, s.store.FullUpdateLeaseKey(), s.conf.DevAddrCache.FullReloadLeaseTTL)
	if err != nil {
		return err
	}

	if tookFull {
		// Best-effort: also hold globalUpdateKey while the full reload
		// runs, so no other node starts a delta reload in the meantime.
		// Per-DevAddr cache misses in the device getter do not check this
		// lease.
		// Failure to acquire it here is not fatal to the full reload,
		// which is already exclusive via fullUpdateKey; runGuarded must
		// only release the lease if this call actually took it, or it
		// would delete another node's live lease.
		heldGlobal, gerr := s.store.TakeLease(ctx, s.store.GlobalUpdateLeaseKey(), s.conf.DevAddrCache.GlobalUpdateLeaseTTL)
		if gerr != nil {
			log.WithError(gerr).Warning("registrysync: take global update lease for full reload error")
		}

		return s.runGuarded(ctx, "full", true, heldGlobal, func() (registry.TwinIterator, error) {
			return s.registry.FindConfiguredLoRaDevices(ctx)
		})
	}

	tookGlobal, err := s.store.TakeLease(ctx, s.store.GlobalUpdateLeaseKey(), s.conf.DevAddrCache.GlobalUpdateLeaseTTL)
	if err != nil {
		return err
	}
	if !tookGlobal {
		// LeaseContention is not an error (§7): another node owns the
		// work, return normally.
		log.Debug("registrysync: global update lease contention, skipping sync")
		return nil
	}

	since := s.getLastSyncTime()
	return s.runGuarded(ctx, "delta", false, true, func() (registry.TwinIterator, error) {
		return s.registry.FindByLastUpdateDate(ctx, since)
	})
}

// runGuarded wraps a reload with the single cleanup path the design note
// calls for (§9): on any exit, the global-update lease is released if this
// call acquired it, and on failure of a full reload the full-update
// lease's TTL is shortened so the retry happens soon rather than after its
// full cooldown.
func (s *Syncer) runGuarded(ctx context.Context, kind string, full, heldGlobal bool, open func() (registry.TwinIterator, error)) (err error) {
	start := time.Now()

	defer func() {
		if heldGlobal {
			if relErr := s.store.ReleaseLease(ctx, s.store.GlobalUpdateLeaseKey()); relErr != nil {
				log.WithError(relErr).Error("registrysync: release global update lease error")
			}
		}

		outcome := "success"
		if err != nil {
			outcome = "failure"
			if full {
				if ttlErr := s.store.SetLeaseTTL(ctx, s.store.FullUpdateLeaseKey(), s.conf.DevAddrCache.FullReloadRetryTTL); ttlErr != nil {
					log.WithError(ttlErr).Error("registrysync: shorten full update lease ttl error")
				}
			}
		} else {
			s.setLastSyncTime(start)
		}

		recordSync(kind, outcome, time.Since(start).Seconds())
	}()

	err = s.runReload(ctx, kind, full, open)
	return err
}

func (s *Syncer) runReload(ctx context.Context, kind string, full bool, open func() (registry.TwinIterator, error)) error {
	iter, err := open()
	if err != nil {
		return err
	}

	buckets := make(map[lorawan.DevAddr]map[string]devaddrcache.DevAddrCacheInfo)
	for !iter.Done() {
		twins, err := iter.Next(ctx)
		if err != nil {
			return err
		}
		if len(twins) == 0 {
			break
		}

		for _, t := range twins {
			entry := devaddrcache.DevAddrCacheInfo{
				DevEUI:           t.DevEUI,
				DevAddr:          t.DevAddr,
				GatewayID:        t.GatewayID,
				NwkSKey:          t.NwkSKey,
				LastUpdatedTwins: t.LastUpdated,
			}

			bucket, ok := buckets[t.DevAddr]
			if !ok {
				bucket = make(map[string]devaddrcache.DevAddrCacheInfo)
				buckets[t.DevAddr] = bucket
			}
			bucket[devaddrcache.FieldKey(entry)] = entry
		}
	}

	for devAddr, incoming := range buckets {
		existing, err := s.store.GetBucket(ctx, devAddr)
		if err != nil {
			return err
		}

		merged := mergeBucket(existing, incoming, full)
		if err := s.store.ReplaceBucket(ctx, devAddr, merged); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"kind":    kind,
		"buckets": len(buckets),
	}).Info("registrysync: sync complete")

	return nil
}
