package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"tradedash/internal/dashboard/memorystore"
	"tradedash/pkg/storage/postgres"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient connects to the database named by TRADEDASH_TEST_PG_DSN or skips.
func testClient(t *testing.T) *postgres.PostgresClient {
	t.Helper()
	dsn := os.Getenv("TRADEDASH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TRADEDASH_TEST_PG_DSN not set")
	}

	client, err := postgres.NewClient(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.AutoMigrate())
	return client
}

// go test -v --run ^TestPostgresInvalidDSN$
func TestPostgresInvalidDSN(t *testing.T) {
	invalidDSN := "host=invalid.invalid port=5432 user=fail password=fail dbname=fail sslmode=disable connect_timeout=2"

	_, err := postgres.NewClient(invalidDSN)
	assert.Error(t, err)
}

// go test -v --run ^TestPostgresHealthy$
func TestPostgresHealthy(t *testing.T) {
	client := testClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.True(t, client.IsHealthy(ctx))
}

// go test -v --run TestArchiveRoundTrip
func TestArchiveRoundTrip(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	symbol := "TEST" + time.Now().Format("150405.000000")
	start := time.Now().UTC().Truncate(time.Minute)
	t.Cleanup(func() {
		client.DB.Where("symbol = ?", symbol).Delete(&postgres.TickRecord{})
		client.DB.Where("symbol = ?", symbol).Delete(&postgres.CandleRecord{})
	})

	tick := memorystore.Tick{ID: "a", Symbol: symbol, Price: 100, Quantity: 1, Timestamp: start}
	require.NoError(t, client.RecordTicks(ctx, []memorystore.Tick{tick, tick}))
	require.NoError(t, client.RecordTicks(ctx, []memorystore.Tick{tick}))

	ticks, err := client.GetTicks(ctx, symbol, start.Add(-time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, 100.0, ticks[0].Price)

	candle := memorystore.Candle{Symbol: symbol, Interval: "1m", Timestamp: start, Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 3}
	require.NoError(t, client.RecordCandles(ctx, []memorystore.Candle{candle}))
	candle.Close, candle.Volume = 1.8, 4
	require.NoError(t, client.RecordCandles(ctx, []memorystore.Candle{candle}))

	candles, err := client.GetCandles(ctx, symbol, "1m", start)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 1.8, candles[0].Close)
	assert.Equal(t, 4.0, candles[0].Volume)

	require.NoError(t, client.DeleteOlderThan(ctx, start.Add(time.Hour)))
	candles, err = client.GetCandles(ctx, symbol, "1m", start)
	require.NoError(t, err)
	assert.Empty(t, candles)
}
