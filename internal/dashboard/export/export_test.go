package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"tradedash/internal/dashboard/memorystore"
	"tradedash/pkg/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// go test -v --run TestWriteTicksCSV
func TestWriteTicksCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTicks(&buf, FormatCSV, []memorystore.Tick{
		{ID: "1", Symbol: "BTCUSDT", Price: 50000.5, Quantity: 0.25, Timestamp: ts},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,symbol,price,quantity,timestamp", lines[0])
	assert.Equal(t, "1,BTCUSDT,50000.5,0.25,2025-03-01T10:00:00Z", lines[1])
}

// go test -v --run TestWriteAlertsJSON
func TestWriteAlertsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAlerts(&buf, FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	last := ts
	require.NoError(t, WriteAlerts(&buf, FormatJSON, []memorystore.Alert{
		{ID: "7", SymbolOrPair: "BTCUSDT", ConditionType: "above", ThresholdValue: 1, IsActive: true, LastTriggered: &last},
	}))
	var got []memorystore.Alert
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].ID)
}

// go test -v --run TestWriteStateAnalytics
func TestWriteStateAnalytics(t *testing.T) {
	store := memorystore.NewStore(memorystore.DefaultOptions())
	store.SetMetric(memorystore.Metric{Name: "z_score", Kind: memorystore.KindTickBased, Value: 1.5, Timestamp: ts})
	store.SetMetric(memorystore.Metric{Name: "correlation", Kind: memorystore.KindCandleBased, Value: 0.9, Timestamp: ts, SymbolPair: "BTCUSDT-ETHUSDT"})

	var buf bytes.Buffer
	require.NoError(t, WriteState(&buf, FormatCSV, DataAnalytics, store.Snapshot()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "correlation,candle-based,0.9,"))
	assert.True(t, strings.HasPrefix(lines[2], "z_score,tick-based,1.5,"))

	assert.Error(t, WriteState(&buf, FormatCSV, "spreads", store.Snapshot()))
}

// go test -v --run TestParseFormatAndFilename
func TestParseFormatAndFilename(t *testing.T) {
	f, err := ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	_, err = ParseFormat("xlsx")
	assert.Error(t, err)

	assert.Equal(t, "ticks_20250301_100000.csv", Filename(DataTicks, FormatCSV, ts))
}

type fakeExporter struct {
	payload backend.ExportPayload
	err     error
}

func (f fakeExporter) Export(ctx context.Context, dataType string, params url.Values) (backend.ExportPayload, error) {
	return f.payload, f.err
}

// go test -v --run TestDownload
func TestDownload(t *testing.T) {
	var buf bytes.Buffer
	name, err := Download(context.Background(), fakeExporter{payload: backend.ExportPayload{
		Filename: "ticks.csv",
		Data:     []byte("symbol,price\nBTCUSDT,1\n"),
	}}, DataTicks, nil, &buf)
	require.NoError(t, err)
	assert.Equal(t, "ticks.csv", name)
	assert.Equal(t, "symbol,price\nBTCUSDT,1\n", buf.String())

	_, err = Download(context.Background(), fakeExporter{err: &backend.Error{Op: "export", Kind: backend.KindHTTP, Status: 500}}, DataTicks, nil, &buf)
	assert.True(t, errors.Is(err, backend.ErrHTTP))
}
