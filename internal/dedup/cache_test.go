package dedup

import (
	"testing"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/frame"
)

func station(b byte) lorawan.EUI64 {
	var e lorawan.EUI64
	for i := range e {
		e[i] = b
	}
	return e
}

// scenario 1: data dedup, same station.
func TestCheckDuplicateDataSameStation(t *testing.T) {
	assert := require.New(t)
	c := NewCache(time.Minute)
	defer c.Close()

	up := frame.DataUplink{StationEUI: station(0x11)}
	dev := frame.Device{}

	assert.Equal(NotDuplicate, c.CheckDuplicateData(up, dev))
	assert.Equal(DuplicateDueToResubmission, c.CheckDuplicateData(up, dev))
	assert.Len(c.data, 1)
}

// scenario 2: data dedup, cross-station, Drop.
func TestCheckDuplicateDataCrossStationDrop(t *testing.T) {
	assert := require.New(t)
	c := NewCache(time.Minute)
	defer c.Close()

	up := frame.DataUplink{StationEUI: station(0x11)}
	dev := frame.Device{Deduplication: frame.Drop}

	assert.Equal(NotDuplicate, c.CheckDuplicateData(up, dev))

	up2 := up
	up2.StationEUI = station(0x22)
	assert.Equal(Duplicate, c.CheckDuplicateData(up2, dev))

	assert.Equal(station(0x11), c.data[DataKey(up)].station)
}

// scenario 3: data dedup, cross-station, Mark/None.
func TestCheckDuplicateDataCrossStationSoft(t *testing.T) {
	for _, mode := range []frame.DeduplicationMode{frame.Mark, frame.None} {
		assert := require.New(t)
		c := NewCache(time.Minute)

		up := frame.DataUplink{StationEUI: station(0x11)}
		dev := frame.Device{Deduplication: mode}

		assert.Equal(NotDuplicate, c.CheckDuplicateData(up, dev))

		up2 := up
		up2.StationEUI = station(0x22)
		assert.Equal(SoftDuplicateDueToDeduplicationStrategy, c.CheckDuplicateData(up2, dev))

		c.Close()
	}
}

// scenario 4: join dedup.
func TestCheckDuplicateJoin(t *testing.T) {
	assert := require.New(t)
	c := NewCache(time.Minute)
	defer c.Close()

	jr := frame.JoinRequest{StationEUI: station(0x11)}
	assert.Equal(NotDuplicate, c.CheckDuplicateJoin(jr))

	jr2 := jr
	jr2.StationEUI = station(0x11)
	assert.Equal(Duplicate, c.CheckDuplicateJoin(jr2))

	jr3 := jr
	jr3.StationEUI = station(0x22)
	assert.Equal(Duplicate, c.CheckDuplicateJoin(jr3))
}

func TestCheckDuplicateDataExpiry(t *testing.T) {
	assert := require.New(t)
	c := NewCache(time.Millisecond * 20)
	defer c.Close()

	up := frame.DataUplink{StationEUI: station(0x11)}
	dev := frame.Device{}

	assert.Equal(NotDuplicate, c.CheckDuplicateData(up, dev))
	time.Sleep(time.Millisecond * 40)
	assert.Equal(NotDuplicate, c.CheckDuplicateData(up, dev))
}
