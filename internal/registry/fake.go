package registry

import (
	"context"
	"sync"
	"time"

	"github.com/brocaar/lorawan"
)

// Fake is an in-memory Registry for tests, replacing the strict-behaviour
// mocks the original test suite used (§9). It also counts calls per
// operation so tests can assert single-flight and coalescing properties
// (scenarios 5-8) without a mocking framework.
type Fake struct {
	mu sync.Mutex

	twins       map[lorawan.EUI64]Twin
	credentials map[lorawan.EUI64]DeviceCredentials

	GetDeviceCalls          int
	GetTwinCalls            int
	FindByAddrCalls         int
	FindConfiguredCalls     int
	FindByLastUpdateCalls   int
}

// NewFake returns an empty Fake registry.
func NewFake() *Fake {
	return &Fake{
		twins:       make(map[lorawan.EUI64]Twin),
		credentials: make(map[lorawan.EUI64]DeviceCredentials),
	}
}

// AddDevice seeds the fake registry with a device, its twin and its
// credentials.
func (f *Fake) AddDevice(twin Twin, creds DeviceCredentials) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.twins[twin.DevEUI] = twin
	f.credentials[twin.DevEUI] = creds
}

// GetDevice implements Registry.
func (f *Fake) GetDevice(ctx context.Context, devEUI lorawan.EUI64) (DeviceCredentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.GetDeviceCalls++

	creds, ok := f.credentials[devEUI]
	if !ok {
		return DeviceCredentials{}, ErrDeviceNotFound
	}
	return creds, nil
}

// GetTwin implements Registry.
func (f *Fake) GetTwin(ctx context.Context, devEUI lorawan.EUI64) (Twin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.GetTwinCalls++

	twin, ok := f.twins[devEUI]
	if !ok {
		return Twin{}, ErrDeviceNotFound
	}
	return twin, nil
}

// FindByAddr implements Registry.
func (f *Fake) FindByAddr(ctx context.Context, devAddr lorawan.DevAddr) (TwinIterator, error) {
	f.mu.Lock()
	f.FindByAddrCalls++

	var matches []Twin
	for _, t := range f.twins {
		if t.DevAddr == devAddr {
			matches = append(matches, t)
		}
	}
	f.mu.Unlock()

	return newFakeIterator(matches), nil
}

// FindConfiguredLoRaDevices implements Registry.
func (f *Fake) FindConfiguredLoRaDevices(ctx context.Context) (TwinIterator, error) {
	f.mu.Lock()
	f.FindConfiguredCalls++

	all := make([]Twin, 0, len(f.twins))
	for _, t := range f.twins {
		all = append(all, t)
	}
	f.mu.Unlock()

	return newFakeIterator(all), nil
}

// FindByLastUpdateDate implements Registry.
func (f *Fake) FindByLastUpdateDate(ctx context.Context, since time.Time) (TwinIterator, error) {
	f.mu.Lock()
	f.FindByLastUpdateCalls++

	var matches []Twin
	for _, t := range f.twins {
		if !t.LastUpdated.Before(since) {
			matches = append(matches, t)
		}
	}
	f.mu.Unlock()

	return newFakeIterator(matches), nil
}

// fakeIterator returns its entire result set on the first Next call, which
// is sufficient for the single-page test fixtures this repository exercises.
type fakeIterator struct {
	twins []Twin
	done  bool
}

func newFakeIterator(twins []Twin) *fakeIterator {
	return &fakeIterator{twins: twins}
}

func (it *fakeIterator) Next(ctx context.Context) ([]Twin, error) {
	if it.done {
		return nil, nil
	}
	it.done = true
	return it.twins, nil
}

func (it *fakeIterator) Done() bool {
	return it.done
}
