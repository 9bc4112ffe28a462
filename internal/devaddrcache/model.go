package devaddrcache

import (
	"encoding/hex"
	"time"

	"github.com/brocaar/lorawan"
)

// negativeField is the hash field used for a negative-cache entry: a bucket
// holding only this field means "queried, and no device in the registry
// claims this DevAddr".
const negativeField = ""

// DevAddrCacheInfo is the per-device record stored in a devAddrTable bucket.
// Field names and casing match §6 exactly so readers written against the
// original JSON layout keep working: DevEUI, DevAddr, GatewayId, NwkSKey,
// PrimaryKey, LastUpdatedTwins.
type DevAddrCacheInfo struct {
	DevEUI           lorawan.EUI64  `json:"DevEUI"`
	DevAddr          lorawan.DevAddr `json:"DevAddr"`
	GatewayID        string          `json:"GatewayId"`
	NwkSKey          string          `json:"NwkSKey"`
	PrimaryKey       string          `json:"PrimaryKey"`
	LastUpdatedTwins time.Time       `json:"LastUpdatedTwins"`
}

// IsNegative reports whether this entry is a negative-cache marker: its
// DevEUI is absent, meaning the DevAddr was looked up and found to belong
// to no device.
func (e DevAddrCacheInfo) IsNegative() bool {
	return e.DevEUI == lorawan.EUI64{}
}

// fieldKey returns the hash field under which e is stored: the hex-encoded
// DevEUI, or negativeField for a negative entry.
func fieldKey(e DevAddrCacheInfo) string {
	if e.IsNegative() {
		return negativeField
	}
	return hex.EncodeToString(e.DevEUI[:])
}

// FieldKey is the exported form of fieldKey, used by the registry
// synchroniser to index the DevAddr -> {DevEUI -> entry} maps it builds
// from registry pages before calling ReplaceBucket / PutEntry.
func FieldKey(e DevAddrCacheInfo) string {
	return fieldKey(e)
}

// negativeEntry builds the single negative-cache entry written for a
// DevAddr that no device owns.
func negativeEntry(devAddr lorawan.DevAddr) DevAddrCacheInfo {
	return DevAddrCacheInfo{DevAddr: devAddr}
}
