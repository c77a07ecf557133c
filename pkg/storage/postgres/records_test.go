package postgres_test

import (
	"testing"
	"time"

	"tradedash/internal/dashboard/memorystore"
	"tradedash/pkg/storage/postgres"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -v --run TestTickRecordConversion
func TestTickRecordConversion(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	tick := memorystore.Tick{ID: "t1", Symbol: "BTCUSDT", Price: 50000.5, Quantity: 0.2, Timestamp: time.Date(2025, 3, 1, 5, 0, 0, 0, est)}

	r := postgres.ToTickRecord(tick)
	assert.Equal(t, "t1", r.TickID)
	assert.Equal(t, time.UTC, r.Timestamp.Location())

	back := r.ToTick()
	assert.True(t, tick.Timestamp.Equal(back.Timestamp))
	back.Timestamp = tick.Timestamp
	assert.Equal(t, tick, back)
}

// go test -v --run TestToCandleRecordsKeepsLastVersion
func TestToCandleRecordsKeepsLastVersion(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	records := postgres.ToCandleRecords([]memorystore.Candle{
		{Symbol: "BTCUSDT", Interval: "1m", Timestamp: start, Close: 1},
		{Symbol: "BTCUSDT", Interval: "1m", Timestamp: start.Add(time.Minute), Close: 5},
		{Symbol: "BTCUSDT", Interval: "1m", Timestamp: start, Close: 2},
		{Symbol: "BTCUSDT", Interval: "5m", Timestamp: start, Close: 3},
	})

	require.Len(t, records, 3)
	assert.Equal(t, 2.0, records[0].Close)
	assert.Equal(t, 5.0, records[1].Close)
	assert.Equal(t, "5m", records[2].Interval)
	assert.Equal(t, start, records[0].ToCandle().Timestamp)
}
