package dedup

import (
	"sync"
	"time"

	"github.com/brocaar/lorawan"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/frame"
)

type dataEntry struct {
	station   lorawan.EUI64
	expiresAt time.Time
}

// Cache is the Concentrator Deduplication Cache (C2). It is scoped to a
// single service instance and must be constructed once per instance, never
// shared across tenants, per the design note on global mutable state.
//
// A single mutex guards both maps, the same shape as the teacher's
// joinserver connection pool: simple, correct, and fast enough for an
// in-process cache whose entries live only for the configured entry TTL
// (two minutes by default).
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	data  map[DataMessageKey]dataEntry
	joins map[JoinMessageKey]time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewCache returns a Cache whose entries expire ttl after first insertion. A
// background janitor sweeps expired entries every ttl so memory does not
// grow with traffic that has long since aged out; call Close to stop it.
func NewCache(ttl time.Duration) *Cache {
	c := &Cache{
		ttl:   ttl,
		data:  make(map[DataMessageKey]dataEntry),
		joins: make(map[JoinMessageKey]time.Time),
		stop:  make(chan struct{}),
	}

	c.wg.Add(1)
	go c.janitor()

	return c
}

// Close stops the background janitor. Safe to call once.
func (c *Cache) Close() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Cache) janitor() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.data {
		if !now.Before(e.expiresAt) {
			delete(c.data, k)
		}
	}
	for k, expiresAt := range c.joins {
		if !now.Before(expiresAt) {
			delete(c.joins, k)
		}
	}
}

// CheckDuplicateData implements check_duplicate_data (§4.2). The read-or-
// insert step is linearised by c.mu: either this call observes no entry and
// becomes the first-seen station, or it observes the entry a prior call
// installed.
func (c *Cache) CheckDuplicateData(up frame.DataUplink, dev frame.Device) Result {
	key := DataKey(up)
	now := time.Now()

	c.mu.Lock()
	entry, ok := c.data[key]
	if !ok || !now.Before(entry.expiresAt) {
		c.data[key] = dataEntry{station: up.StationEUI, expiresAt: now.Add(c.ttl)}
		c.mu.Unlock()

		recordResult(NotDuplicate)
		return NotDuplicate
	}
	c.mu.Unlock()

	// Duplicate paths never overwrite the stored station: the first
	// observation is authoritative for the TTL window.
	var result Result
	switch {
	case entry.station == up.StationEUI:
		result = DuplicateDueToResubmission
	case dev.Deduplication == frame.Drop:
		result = Duplicate
	default:
		result = SoftDuplicateDueToDeduplicationStrategy
	}

	recordResult(result)
	return result
}

// CheckDuplicateJoin implements check_duplicate_join (§4.2). Unlike data
// frames, a join has no DeduplicationMode to consult: any re-observation,
// same station or not, is a Duplicate. DuplicateDueToResubmission is never
// returned for joins; this asymmetry is intentional (§9).
func (c *Cache) CheckDuplicateJoin(jr frame.JoinRequest) Result {
	key := JoinKey(jr)
	now := time.Now()

	c.mu.Lock()
	expiresAt, ok := c.joins[key]
	if !ok || !now.Before(expiresAt) {
		c.joins[key] = now.Add(c.ttl)
		c.mu.Unlock()

		recordResult(NotDuplicate)
		return NotDuplicate
	}
	c.mu.Unlock()

	recordResult(Duplicate)
	return Duplicate
}
