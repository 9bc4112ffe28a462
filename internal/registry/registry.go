// Package registry defines the capability interface for the external device
// registry ("IoT Hub" in spec terms) consumed by C4 and C5, plus a
// production implementation against Azure IoT Hub and an in-memory fake for
// tests. No mock framework is used, per the design note on cyclic-object
// mock-heavy testing (§9): registry.Registry is an explicit interface and
// registry.Fake is a plain, hand-written stand-in.
package registry

import (
	"context"
	"time"

	"github.com/brocaar/lorawan"
)

// Twin is the registry-side representation of a device relevant to the
// DevAddr cache: its current DevAddr, gateway assignment, session key and
// the timestamp the registry last updated these fields.
type Twin struct {
	DevEUI      lorawan.EUI64
	DevAddr     lorawan.DevAddr
	GatewayID   string
	NwkSKey     string
	LastUpdated time.Time
}

// DeviceCredentials carries the per-device secret C5 fetches lazily, once a
// twin is known, to populate DevAddrCacheInfo.PrimaryKey.
type DeviceCredentials struct {
	PrimaryKey     string
	AssignedIoTHub string
}

// TwinIterator pages through a query result. Done reports true once the
// result is exhausted; a single Next call may perform at most one round-trip to the
// registry regardless of how many twins it returns, mirroring a typical
// IoT Hub device-query page.
type TwinIterator interface {
	Next(ctx context.Context) ([]Twin, error)
	Done() bool
}

// Registry is the capability this service needs from the device registry.
type Registry interface {
	// GetDevice returns the credentials for a single device.
	GetDevice(ctx context.Context, devEUI lorawan.EUI64) (DeviceCredentials, error)

	// GetTwin returns a single device's twin.
	GetTwin(ctx context.Context, devEUI lorawan.EUI64) (Twin, error)

	// FindByAddr returns every twin currently reporting devAddr.
	FindByAddr(ctx context.Context, devAddr lorawan.DevAddr) (TwinIterator, error)

	// FindConfiguredLoRaDevices returns every twin configured as a LoRa
	// device, for a full reload.
	FindConfiguredLoRaDevices(ctx context.Context) (TwinIterator, error)

	// FindByLastUpdateDate returns every twin updated at or after since,
	// for a delta reload.
	FindByLastUpdateDate(ctx context.Context, since time.Time) (TwinIterator, error)
}
