package deviceresolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/brocaar/lorawan"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/config"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/devaddrcache"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/registry"
	itest "github.com/brocaar/chirpstack-devaddr-cache/internal/test"
)

type GetterTestSuite struct {
	suite.Suite
	store *devaddrcache.Store
	fake  *registry.Fake
	conf  config.Config
	ctx   context.Context
}

func (ts *GetterTestSuite) SetupTest() {
	itest.SetupRedis()
	ts.store = devaddrcache.NewStore()
	ts.fake = registry.NewFake()
	ts.ctx = context.Background()

	ts.conf = config.Config{}
	ts.conf.DevAddrCache.PerDevAddrLeaseTTL = time.Minute
	ts.conf.DevAddrCache.PerDevAddrPollInterval = time.Millisecond * 10
	ts.conf.DevAddrCache.NegativeCacheTTL = time.Minute
}

func (ts *GetterTestSuite) newGetter() *Getter {
	return NewGetter(ts.store, ts.fake, ts.conf)
}

// scenario 5: DevAddr cache miss, single gateway.
func (ts *GetterTestSuite) TestCacheMissSingleGateway() {
	assert := ts.Require()

	devAddr := lorawan.DevAddr{1, 2, 3, 4}
	devEUI := lorawan.EUI64{1, 1, 1, 1, 1, 1, 1, 1}

	ts.fake.AddDevice(
		registry.Twin{DevEUI: devEUI, DevAddr: devAddr, GatewayID: "gw1"},
		registry.DeviceCredentials{PrimaryKey: "key1"},
	)

	getter := ts.newGetter()
	list, err := getter.GetDeviceList(ts.ctx, nil, "gw1", 0xABCD, devAddr)
	assert.NoError(err)
	assert.Len(list, 1)
	assert.Equal(devEUI, list[0].DevEUI)

	assert.Equal(1, ts.fake.FindByAddrCalls)
	assert.Equal(1, ts.fake.GetDeviceCalls)
}

// scenario 6: DevAddr cache miss, multi-gateway concurrent.
func (ts *GetterTestSuite) TestCacheMissConcurrent() {
	assert := ts.Require()

	devAddr := lorawan.DevAddr{1, 2, 3, 4}
	devEUI := lorawan.EUI64{1, 1, 1, 1, 1, 1, 1, 1}

	ts.fake.AddDevice(
		registry.Twin{DevEUI: devEUI, DevAddr: devAddr},
		registry.DeviceCredentials{PrimaryKey: "key1"},
	)

	getter := ts.newGetter()

	var wg sync.WaitGroup
	gateways := []string{"gw1", "gw2", "gw1", "gw2"}
	for _, gw := range gateways {
		wg.Add(1)
		go func(gatewayID string) {
			defer wg.Done()
			_, err := getter.GetDeviceList(ts.ctx, nil, gatewayID, 0xABCD, devAddr)
			assert.NoError(err)
		}(gw)
	}
	wg.Wait()

	assert.Equal(1, ts.fake.FindByAddrCalls)
	assert.Equal(1, ts.fake.GetDeviceCalls)
}

// scenario 7: DevAddr cache hit without key.
func (ts *GetterTestSuite) TestCacheHitWithoutPrimaryKey() {
	assert := ts.Require()

	devAddr := lorawan.DevAddr{1, 2, 3, 4}
	devEUI := lorawan.EUI64{1, 1, 1, 1, 1, 1, 1, 1}

	assert.NoError(ts.store.PutEntry(ts.ctx, devAddr, devaddrcache.DevAddrCacheInfo{
		DevEUI:  devEUI,
		DevAddr: devAddr,
	}))
	ts.fake.AddDevice(
		registry.Twin{DevEUI: devEUI, DevAddr: devAddr},
		registry.DeviceCredentials{PrimaryKey: "key1"},
	)

	getter := ts.newGetter()
	list, err := getter.GetDeviceList(ts.ctx, nil, "", 0, devAddr)
	assert.NoError(err)
	assert.Len(list, 1)
	assert.Equal("key1", list[0].PrimaryKey)

	assert.Equal(0, ts.fake.FindByAddrCalls)
	assert.Equal(0, ts.fake.GetTwinCalls)
	assert.Equal(1, ts.fake.GetDeviceCalls)

	bucket, err := ts.store.GetBucket(ts.ctx, devAddr)
	assert.NoError(err)
	assert.Equal("key1", bucket[devaddrcache.FieldKey(devaddrcache.DevAddrCacheInfo{DevEUI: devEUI})].PrimaryKey)
}

// scenario 8: not-our-device.
func (ts *GetterTestSuite) TestNotOurDevice() {
	assert := ts.Require()

	devAddr := lorawan.DevAddr{9, 9, 9, 9}

	getter := ts.newGetter()
	list, err := getter.GetDeviceList(ts.ctx, nil, "gw1", 0, devAddr)
	assert.NoError(err)
	assert.Empty(list)
	assert.Equal(1, ts.fake.FindByAddrCalls)

	list, err = getter.GetDeviceList(ts.ctx, nil, "gw1", 0, devAddr)
	assert.NoError(err)
	assert.Empty(list)
	assert.Equal(1, ts.fake.FindByAddrCalls, "second call must not hit the registry again")
}

// a bucket mixing a stale negative marker with a real entry (as left by
// writing a real entry with PutEntry into a bucket that still holds the
// marker) must not be treated as negative.
func (ts *GetterTestSuite) TestMixedNegativeAndRealBucketIsNotNegative() {
	assert := ts.Require()

	devAddr := lorawan.DevAddr{1, 2, 3, 4}
	devEUI := lorawan.EUI64{1, 1, 1, 1, 1, 1, 1, 1}

	assert.NoError(ts.store.PutNegativeEntry(ts.ctx, devAddr, time.Hour))
	assert.NoError(ts.store.PutEntry(ts.ctx, devAddr, devaddrcache.DevAddrCacheInfo{
		DevEUI:     devEUI,
		DevAddr:    devAddr,
		PrimaryKey: "key1",
	}))

	getter := ts.newGetter()
	list, err := getter.GetDeviceList(ts.ctx, nil, "", 0, devAddr)
	assert.NoError(err)
	assert.Len(list, 1)
	assert.Equal(devEUI, list[0].DevEUI)
}

func TestGetter(t *testing.T) {
	suite.Run(t, new(GetterTestSuite))
}
