package dedup

import (
	"github.com/brocaar/lorawan"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/frame"
)

// DataMessageKey identifies a logical uplink for deduplication purposes.
// Two data frames derive equal keys iff their (DevEUI, MIC, FrameCounter)
// triples are equal byte-wise; no other field may influence equality, so
// this type intentionally carries nothing else.
type DataMessageKey struct {
	DevEUI       lorawan.EUI64
	MIC          lorawan.MIC
	FrameCounter uint16
}

// JoinMessageKey identifies a logical join request for deduplication
// purposes. The MIC deliberately does not participate in the key.
type JoinMessageKey struct {
	JoinEUI  lorawan.EUI64
	DevEUI   lorawan.EUI64
	DevNonce uint16
}

// DataKey derives the DataMessageKey of an uplink. Both EUI64 and MIC are
// plain byte arrays, so the returned key is comparable and usable directly
// as a map key.
func DataKey(up frame.DataUplink) DataMessageKey {
	return DataMessageKey{
		DevEUI:       up.DevEUI,
		MIC:          up.MIC,
		FrameCounter: up.FrameCounter,
	}
}

// JoinKey derives the JoinMessageKey of a join-request frame.
func JoinKey(jr frame.JoinRequest) JoinMessageKey {
	return JoinMessageKey{
		JoinEUI:  jr.JoinEUI,
		DevEUI:   jr.DevEUI,
		DevNonce: jr.DevNonce,
	}
}
