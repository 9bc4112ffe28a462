// Package deviceresolver implements the Device Getter (C5): the
// request-time resolver mediating the DevAddr cache (C3) and the external
// registry to answer get_device_list.
package deviceresolver

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/brocaar/lorawan"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/config"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/devaddrcache"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/logging"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/registry"
)

// Getter resolves DevAddr -> device list requests, coalescing concurrent
// cache misses for the same DevAddr both within this process
// (golang.org/x/sync/singleflight) and across the cluster (C3's
// per-DevAddr lease).
type Getter struct {
	store    *devaddrcache.Store
	registry registry.Registry
	conf     config.Config
	group    singleflight.Group
}

// NewGetter returns a Getter.
func NewGetter(store *devaddrcache.Store, reg registry.Registry, conf config.Config) *Getter {
	return &Getter{store: store, registry: reg, conf: conf}
}

// GetDeviceList implements get_device_list (§4.5). station is nil for a
// data frame's cache lookup (only supplied on join, where it participates
// in later processing outside this package); devNonce is likewise only
// meaningful to the caller's join-anti-replay checks, not to the cache
// itself, and is accepted here purely to keep this signature call-site
// compatible with §6.
func (g *Getter) GetDeviceList(ctx context.Context, station *lorawan.EUI64, gatewayID string, devNonce uint16, devAddr lorawan.DevAddr) ([]devaddrcache.DevAddrCacheInfo, error) {
	ctx, err := logging.WithContextID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "deviceresolver: new context id error")
	}
	log.WithFields(log.Fields{
		"ctx_id":   logging.IDFromContext(ctx),
		"dev_addr": devAddr,
	}).Debug("deviceresolver: get device list request")

	bucket, err := g.store.GetBucket(ctx, devAddr)
	if err != nil {
		return nil, errors.Wrap(err, "deviceresolver: get bucket error")
	}

	if len(bucket) > 0 {
		if isNegative(bucket) {
			negativeCacheHitCounter.Inc()
			return nil, nil
		}

		candidates := candidatesForGateway(bucket, gatewayID)
		if allHaveCredentials(candidates) {
			cacheHitCounter.Inc()
			return candidates, nil
		}

		cacheMissCounter.Inc()
		return g.fillCredentials(ctx, devAddr, candidates)
	}

	cacheMissCounter.Inc()
	return g.resolveEmptyBucket(ctx, devAddr, gatewayID)
}

// isNegative reports whether bucket is a pure negative-cache marker: every
// field present is negative. A bucket mixing a negative field with real
// entries (possible when a real entry is written with PutEntry into a
// bucket that still holds the marker; mergeBucket drops the marker on its
// own writes) must not be treated as negative, or the real entries would
// be masked.
func isNegative(bucket map[string]devaddrcache.DevAddrCacheInfo) bool {
	if len(bucket) == 0 {
		return false
	}
	for _, e := range bucket {
		if !e.IsNegative() {
			return false
		}
	}
	return true
}

func candidatesForGateway(bucket map[string]devaddrcache.DevAddrCacheInfo, gatewayID string) []devaddrcache.DevAddrCacheInfo {
	out := make([]devaddrcache.DevAddrCacheInfo, 0, len(bucket))
	for _, e := range bucket {
		if e.IsNegative() {
			continue
		}
		if e.GatewayID == "" || e.GatewayID == gatewayID {
			out = append(out, e)
		}
	}
	return out
}

func allHaveCredentials(entries []devaddrcache.DevAddrCacheInfo) bool {
	for _, e := range entries {
		if e.PrimaryKey == "" {
			return false
		}
	}
	return true
}

// fillCredentials fetches PrimaryKey for every candidate that lacks one,
// writes the enriched entry back to C3, and returns all candidates. It
// never calls get_twin or find_by_addr, per §4.5 step 3.
func (g *Getter) fillCredentials(ctx context.Context, devAddr lorawan.DevAddr, candidates []devaddrcache.DevAddrCacheInfo) ([]devaddrcache.DevAddrCacheInfo, error) {
	out := make([]devaddrcache.DevAddrCacheInfo, 0, len(candidates))

	for _, e := range candidates {
		if e.PrimaryKey == "" {
			creds, err := g.registry.GetDevice(ctx, e.DevEUI)
			if err != nil {
				return nil, errors.Wrap(err, "deviceresolver: get device error")
			}

			e.PrimaryKey = creds.PrimaryKey
			if err := g.store.PutEntry(ctx, devAddr, e); err != nil {
				return nil, errors.Wrap(err, "deviceresolver: put entry error")
			}
		}

		out = append(out, e)
	}

	return out, nil
}

// resolveEmptyBucket coalesces concurrent callers for the same empty-bucket
// devAddr into a single find_by_addr, both within this process
// (singleflight) and across the cluster (the per-DevAddr lease).
func (g *Getter) resolveEmptyBucket(ctx context.Context, devAddr lorawan.DevAddr, gatewayID string) ([]devaddrcache.DevAddrCacheInfo, error) {
	v, err, _ := g.group.Do(devAddr.String(), func() (interface{}, error) {
		return g.populateFromRegistry(ctx, devAddr)
	})
	if err != nil {
		return nil, err
	}

	bucket := v.(map[string]devaddrcache.DevAddrCacheInfo)
	if isNegative(bucket) {
		return nil, nil
	}

	return g.fillCredentials(ctx, devAddr, candidatesForGateway(bucket, gatewayID))
}

func (g *Getter) populateFromRegistry(ctx context.Context, devAddr lorawan.DevAddr) (map[string]devaddrcache.DevAddrCacheInfo, error) {
	leaseKey := g.store.PerDevAddrLeaseKey(devAddr)

	acquired, err := g.store.TakeLease(ctx, leaseKey, g.conf.DevAddrCache.PerDevAddrLeaseTTL)
	if err != nil {
		return nil, errors.Wrap(err, "deviceresolver: take per-devaddr lease error")
	}

	if !acquired {
		return g.waitForBucket(ctx, devAddr)
	}
	defer func() {
		if relErr := g.store.ReleaseLease(ctx, leaseKey); relErr != nil {
			log.WithError(relErr).Error("deviceresolver: release per-devaddr lease error")
		}
	}()

	// A previous lease holder may have populated the bucket between this
	// caller's cache read and taking the lease.
	bucket, err := g.store.GetBucket(ctx, devAddr)
	if err != nil {
		return nil, errors.Wrap(err, "deviceresolver: get bucket error")
	}
	if len(bucket) > 0 {
		return bucket, nil
	}

	iter, err := g.registry.FindByAddr(ctx, devAddr)
	if err != nil {
		return nil, errors.Wrap(err, "deviceresolver: find by addr error")
	}

	var twins []registry.Twin
	for !iter.Done() {
		page, err := iter.Next(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "deviceresolver: find by addr next page error")
		}
		if len(page) == 0 {
			break
		}
		twins = append(twins, page...)
	}

	if len(twins) == 0 {
		if err := g.store.PutNegativeEntry(ctx, devAddr, g.conf.DevAddrCache.NegativeCacheTTL); err != nil {
			return nil, errors.Wrap(err, "deviceresolver: put negative entry error")
		}
		return g.store.GetBucket(ctx, devAddr)
	}

	// Credentials are fetched here, inside the single-flighted /
	// lease-guarded section, rather than by resolveEmptyBucket after Do
	// returns: that keeps get_device to exactly one call per DevEUI even
	// when many callers raced into the same empty bucket (scenario 6).
	for _, t := range twins {
		entry := devaddrcache.DevAddrCacheInfo{
			DevEUI:           t.DevEUI,
			DevAddr:          t.DevAddr,
			GatewayID:        t.GatewayID,
			NwkSKey:          t.NwkSKey,
			LastUpdatedTwins: t.LastUpdated,
		}

		creds, err := g.registry.GetDevice(ctx, t.DevEUI)
		if err != nil {
			return nil, errors.Wrap(err, "deviceresolver: get device error")
		}
		entry.PrimaryKey = creds.PrimaryKey

		if err := g.store.PutEntry(ctx, devAddr, entry); err != nil {
			return nil, errors.Wrap(err, "deviceresolver: put entry error")
		}
	}

	return g.store.GetBucket(ctx, devAddr)
}

// waitForBucket polls C3 until another node's populateFromRegistry call has
// written the bucket, or ctx is cancelled.
func (g *Getter) waitForBucket(ctx context.Context, devAddr lorawan.DevAddr) (map[string]devaddrcache.DevAddrCacheInfo, error) {
	ticker := time.NewTicker(g.conf.DevAddrCache.PerDevAddrPollInterval)
	defer ticker.Stop()

	for {
		bucket, err := g.store.GetBucket(ctx, devAddr)
		if err != nil {
			return nil, errors.Wrap(err, "deviceresolver: get bucket error")
		}
		if len(bucket) > 0 {
			return bucket, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "deviceresolver: wait for bucket cancelled")
		case <-ticker.C:
		}
	}
}
