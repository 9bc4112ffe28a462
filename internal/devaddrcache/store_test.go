package devaddrcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/brocaar/lorawan"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/storage"
	itest "github.com/brocaar/chirpstack-devaddr-cache/internal/test"
)

type StoreTestSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func (ts *StoreTestSuite) SetupTest() {
	itest.SetupRedis()
	ts.store = NewStore()
	ts.ctx = context.Background()
}

func (ts *StoreTestSuite) TestPutAndGetBucket() {
	assert := ts.Require()

	devAddr := lorawan.DevAddr{1, 2, 3, 4}
	entry := DevAddrCacheInfo{
		DevEUI:    lorawan.EUI64{1, 1, 1, 1, 1, 1, 1, 1},
		DevAddr:   devAddr,
		GatewayID: "gw-1",
	}

	assert.NoError(ts.store.PutEntry(ts.ctx, devAddr, entry))

	bucket, err := ts.store.GetBucket(ts.ctx, devAddr)
	assert.NoError(err)
	assert.Len(bucket, 1)
	assert.Equal(entry.DevEUI, bucket[fieldKey(entry)].DevEUI)
}

func (ts *StoreTestSuite) TestNegativeEntry() {
	assert := ts.Require()

	devAddr := lorawan.DevAddr{9, 9, 9, 9}
	assert.NoError(ts.store.PutNegativeEntry(ts.ctx, devAddr, time.Minute))

	bucket, err := ts.store.GetBucket(ts.ctx, devAddr)
	assert.NoError(err)
	assert.Len(bucket, 1)
	assert.True(bucket[negativeField].IsNegative())

	key := storage.GetRedisKey(bucketKeyTempl, devAddr)
	ttl, err := storage.RedisClient().PTTL(ts.ctx, key).Result()
	assert.NoError(err)
	assert.Greater(ttl, time.Duration(0))
}

func (ts *StoreTestSuite) TestNegativeEntryExpires() {
	assert := ts.Require()

	devAddr := lorawan.DevAddr{9, 9, 9, 8}
	assert.NoError(ts.store.PutNegativeEntry(ts.ctx, devAddr, time.Millisecond*20))

	time.Sleep(time.Millisecond * 60)

	bucket, err := ts.store.GetBucket(ts.ctx, devAddr)
	assert.NoError(err)
	assert.Empty(bucket)
}

func (ts *StoreTestSuite) TestReplaceBucket() {
	assert := ts.Require()

	devAddr := lorawan.DevAddr{1, 2, 3, 4}
	old := DevAddrCacheInfo{DevEUI: lorawan.EUI64{1}, DevAddr: devAddr}
	assert.NoError(ts.store.PutEntry(ts.ctx, devAddr, old))

	next := DevAddrCacheInfo{DevEUI: lorawan.EUI64{2}, DevAddr: devAddr}
	assert.NoError(ts.store.ReplaceBucket(ts.ctx, devAddr, map[string]DevAddrCacheInfo{
		fieldKey(next): next,
	}))

	bucket, err := ts.store.GetBucket(ts.ctx, devAddr)
	assert.NoError(err)
	assert.Len(bucket, 1)
	assert.Contains(bucket, fieldKey(next))
}

func (ts *StoreTestSuite) TestLeaseLifecycle() {
	assert := ts.Require()

	ok, err := ts.store.TakeLease(ts.ctx, ts.store.FullUpdateLeaseKey(), time.Minute)
	assert.NoError(err)
	assert.True(ok)

	ok, err = ts.store.TakeLease(ts.ctx, ts.store.FullUpdateLeaseKey(), time.Minute)
	assert.NoError(err)
	assert.False(ok, "lease already held by the first TakeLease call")

	ttl, err := ts.store.GetLeaseTTL(ts.ctx, ts.store.FullUpdateLeaseKey())
	assert.NoError(err)
	assert.Greater(ttl, time.Duration(0))

	assert.NoError(ts.store.SetLeaseTTL(ts.ctx, ts.store.FullUpdateLeaseKey(), time.Second))
	assert.NoError(ts.store.ReleaseLease(ts.ctx, ts.store.FullUpdateLeaseKey()))

	ok, err = ts.store.TakeLease(ts.ctx, ts.store.FullUpdateLeaseKey(), time.Minute)
	assert.NoError(err)
	assert.True(ok, "lease must be acquirable again after release")
}

func TestStore(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
