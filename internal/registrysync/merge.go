package registrysync

import (
	"github.com/brocaar/chirpstack-devaddr-cache/internal/devaddrcache"
)

// mergeBucket applies the §4.4 merge rules to combine an existing bucket
// with an incoming one freshly read from the registry, both keyed by
// devaddrcache.FieldKey. full selects whether entries present in existing
// but absent from incoming are discarded (full reload) or retained (delta
// reload, which only ever carries partial knowledge).
func mergeBucket(existing, incoming map[string]devaddrcache.DevAddrCacheInfo, full bool) map[string]devaddrcache.DevAddrCacheInfo {
	merged := make(map[string]devaddrcache.DevAddrCacheInfo, len(incoming))

	for field, in := range incoming {
		old, ok := existing[field]
		switch {
		case ok && old.LastUpdatedTwins.Equal(in.LastUpdatedTwins):
			// Same twin timestamp: the credential is still valid, keep it.
			next := in
			next.PrimaryKey = old.PrimaryKey
			merged[field] = next
		default:
			// New entry, or the registry has a newer view: credentials
			// must be re-fetched lazily on demand.
			next := in
			next.PrimaryKey = ""
			merged[field] = next
		}
	}

	if !full {
		for field, old := range existing {
			if _, ok := incoming[field]; !ok {
				merged[field] = old
			}
		}
	}

	dropStaleNegativeMarker(merged)

	return merged
}

// dropStaleNegativeMarker removes the negative-cache marker once merged also
// holds a real entry. A delta reload's "retain unseen" rule would otherwise
// keep a negative field around forever alongside a device the same reload
// just proved exists. deviceresolver.isNegative already ignores such a
// marker when real entries are present; dropping it here keeps the stored
// bucket clean as well.
func dropStaleNegativeMarker(merged map[string]devaddrcache.DevAddrCacheInfo) {
	hasReal := false
	for _, e := range merged {
		if !e.IsNegative() {
			hasReal = true
			break
		}
	}
	if !hasReal {
		return
	}

	for field, e := range merged {
		if e.IsNegative() {
			delete(merged, field)
		}
	}
}
