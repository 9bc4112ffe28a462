// Package frame holds the typed views of LoRaWAN uplink and join frames
// that C1 derives deduplication keys from. Parsing the raw PHYPayload into
// these views is out of scope (it lives in the LoRaWAN packet parser,
// an external collaborator); this package only carries the fields that
// survive the parse.
package frame

import (
	"github.com/brocaar/lorawan"
)

// DeduplicationMode controls how the Concentrator Deduplication Cache (C2)
// classifies a cross-station re-observation of a data frame.
type DeduplicationMode int

const (
	// Drop means a cross-station duplicate is fully suppressed.
	Drop DeduplicationMode = iota
	// Mark means a cross-station duplicate is passed through, tagged as a
	// soft duplicate.
	Mark
	// None behaves like Mark: the duplicate is passed through, tagged.
	None
)

func (m DeduplicationMode) String() string {
	switch m {
	case Drop:
		return "DROP"
	case Mark:
		return "MARK"
	default:
		return "NONE"
	}
}

// DataUplink is the typed view of an uplink data frame needed to derive a
// DataMessageKey and run it through the dedup cache.
type DataUplink struct {
	DevEUI       lorawan.EUI64
	MIC          lorawan.MIC
	FrameCounter uint16
	StationEUI   lorawan.EUI64
}

// JoinRequest is the typed view of a join-request frame needed to derive a
// JoinMessageKey and run it through the dedup cache.
type JoinRequest struct {
	JoinEUI    lorawan.EUI64
	DevEUI     lorawan.EUI64
	DevNonce   uint16
	StationEUI lorawan.EUI64
}

// Device carries the dedup-relevant configuration of the device a data
// frame belongs to. C2 needs nothing else about the device to classify an
// observation.
type Device struct {
	DevEUI        lorawan.EUI64
	Deduplication DeduplicationMode
}
