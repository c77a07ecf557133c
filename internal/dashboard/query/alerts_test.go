package query

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"tradedash/internal/dashboard/memorystore"
	"tradedash/pkg/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBackend struct {
	mu         sync.Mutex
	symbols    []memorystore.Symbol
	symbolsErr error
	listErr    error
	alerts     []memorystore.Alert
	mutateErr  error
	creates    int
	lists      int
	nextID     int
	pairCalls  int
}

func (f *fakeBackend) GetSymbols(ctx context.Context) ([]memorystore.Symbol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.symbolsErr != nil {
		return nil, f.symbolsErr
	}
	return append([]memorystore.Symbol(nil), f.symbols...), nil
}

func (f *fakeBackend) GetTicks(ctx context.Context, symbol string, limit int) ([]memorystore.Tick, error) {
	return []memorystore.Tick{{ID: "1", Symbol: symbol, Price: 1}}, nil
}

func (f *fakeBackend) GetLatestTick(ctx context.Context, symbol string) (memorystore.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairCalls++
	return memorystore.Tick{ID: "latest", Symbol: symbol, Price: 2}, nil
}

func (f *fakeBackend) GetSpread(ctx context.Context, symbol1, symbol2 string, window int) (backend.SpreadAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairCalls++
	return backend.SpreadAnalysis{Symbol1: symbol1, Symbol2: symbol2, Window: window, SpreadMean: 1.5}, nil
}

func (f *fakeBackend) GetCorrelation(ctx context.Context, symbol1, symbol2 string, window int) (backend.CorrelationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairCalls++
	if f.symbolsErr != nil {
		return backend.CorrelationSummary{}, f.symbolsErr
	}
	return backend.CorrelationSummary{Symbol1: symbol1, Symbol2: symbol2, Window: window, CurrentCorrelation: 0.8}, nil
}

func (f *fakeBackend) GetOHLCV(ctx context.Context, symbol string, tf backend.Timeframe, limit int) ([]memorystore.Candle, error) {
	return []memorystore.Candle{{Symbol: symbol, Interval: string(tf)}}, nil
}

func (f *fakeBackend) ListAlerts(ctx context.Context) ([]memorystore.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]memorystore.Alert(nil), f.alerts...), nil
}

func (f *fakeBackend) CreateAlert(ctx context.Context, in backend.AlertInput) (memorystore.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.mutateErr != nil {
		return memorystore.Alert{}, f.mutateErr
	}
	f.nextID++
	a := memorystore.Alert{ID: fmt.Sprintf("srv-%d", f.nextID), SymbolOrPair: in.Symbol,
		ConditionType: in.Condition, ThresholdValue: *in.Threshold, IsActive: true}
	f.alerts = append(f.alerts, a)
	return a, nil
}

func (f *fakeBackend) UpdateAlert(ctx context.Context, id string, upd backend.AlertUpdate) (memorystore.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return memorystore.Alert{}, f.mutateErr
	}
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			if upd.IsActive != nil {
				f.alerts[i].IsActive = *upd.IsActive
			}
			return f.alerts[i], nil
		}
	}
	return memorystore.Alert{}, errors.New("not found")
}

func (f *fakeBackend) DeleteAlert(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return f.mutateErr
	}
	out := f.alerts[:0]
	for _, a := range f.alerts {
		if a.ID != id {
			out = append(out, a)
		}
	}
	f.alerts = out
	return nil
}

func (f *fakeBackend) AlertHistory(ctx context.Context, limit int) ([]memorystore.AlertTrigger, error) {
	return nil, nil
}

func (f *fakeBackend) Health(ctx context.Context) (backend.HealthStatus, error) {
	return backend.HealthStatus{Status: "healthy"}, nil
}

func threshold(v float64) *float64 { return &v }

func newTestQueries(b Backend) (*Queries, *memorystore.Store) {
	store := memorystore.NewStore(memorystore.DefaultOptions())
	return New(zap.NewNop(), b, NewCache(zap.NewNop()), store, Limits{}), store
}

// go test -v --run TestCreateAlertRollbackAgainstServer
func TestCreateAlertRollbackAgainstServer(t *testing.T) {
	var lists atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/alerts", func(w http.ResponseWriter, r *http.Request) {
		lists.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"symbol":"BTCUSDT","condition":"above","threshold":50000,"is_active":true,"severity":"High"}]`))
	})
	mux.HandleFunc("POST /api/alerts", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"duplicate alert"}`, http.StatusUnprocessableEntity)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	q, store := newTestQueries(backend.NewRESTClient(srv.URL, 0))
	ctx := context.Background()

	original := q.Alerts(ctx)
	require.Len(t, original, 1)

	var seen [][]memorystore.Alert
	unsub := store.Subscribe(func(kind memorystore.ChangeKind) {
		if kind == memorystore.ChangeAlerts {
			seen = append(seen, store.Snapshot().Alerts)
		}
	})
	defer unsub()

	_, err := q.CreateAlert(ctx, backend.AlertInput{Symbol: "ethusdt", Condition: "below", Threshold: threshold(2000)})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrHTTP)
	assert.Equal(t, http.StatusUnprocessableEntity, backend.StatusCode(err))

	require.Len(t, seen, 3) // optimistic, rollback, refetch
	require.Len(t, seen[0], 2)
	assert.True(t, strings.HasPrefix(seen[0][1].ID, TempIDPrefix))
	assert.Equal(t, "ETHUSDT", seen[0][1].SymbolOrPair)
	assert.Equal(t, original, seen[1])
	assert.Equal(t, original, seen[2])
	assert.Equal(t, int32(2), lists.Load())
}

// go test -v --run TestCreateAlertRollbackWithoutCachedList
func TestCreateAlertRollbackWithoutCachedList(t *testing.T) {
	fb := &fakeBackend{
		listErr:   errors.New("connection refused"),
		mutateErr: errors.New("backend returned 500"),
	}
	q, store := newTestQueries(fb)
	ctx := context.Background()

	assert.Empty(t, q.Alerts(ctx))
	_, cached := q.Cache().Peek(KeyAlerts)
	require.False(t, cached)

	_, err := q.CreateAlert(ctx, backend.AlertInput{Symbol: "BTCUSDT", Condition: "above", Threshold: threshold(100)})
	require.Error(t, err)
	assert.Equal(t, 1, fb.creates)

	_, cached = q.Cache().Peek(KeyAlerts)
	assert.False(t, cached)
	assert.Empty(t, store.Snapshot().Alerts)
	assert.Empty(t, q.Alerts(ctx))
}

// go test -v --run TestCreateAlertValidation
func TestCreateAlertValidation(t *testing.T) {
	fb := &fakeBackend{}
	q, store := newTestQueries(fb)

	cases := []backend.AlertInput{
		{Symbol: "BTCUSDT", Condition: "above"},
		{Symbol: "BTCUSDT", Condition: "sideways", Threshold: threshold(1)},
		{Symbol: "B", Condition: "above", Threshold: threshold(1)},
		{Symbol: "BTCUSDT", Condition: "above", Threshold: threshold(1), Severity: "urgent"},
	}
	for _, in := range cases {
		_, err := q.CreateAlert(context.Background(), in)
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Zero(t, fb.creates)
	assert.Empty(t, store.Snapshot().Alerts)
}

// go test -v --run TestCreateAlertSuccessReconciles
func TestCreateAlertSuccessReconciles(t *testing.T) {
	fb := &fakeBackend{}
	q, store := newTestQueries(fb)

	created, err := q.CreateAlert(context.Background(), backend.AlertInput{
		Symbol: "BTCUSDT", Condition: "crosses_above", Threshold: threshold(60000), Severity: "Medium",
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", created.ID)

	alerts := store.Snapshot().Alerts
	require.Len(t, alerts, 1)
	assert.Equal(t, "srv-1", alerts[0].ID)

	cached, ok := q.Cache().Peek(KeyAlerts)
	require.True(t, ok)
	assert.Equal(t, alerts, cached)
}

// go test -v --run TestUpdateAndDeleteAlert
func TestUpdateAndDeleteAlert(t *testing.T) {
	fb := &fakeBackend{alerts: []memorystore.Alert{
		{ID: "a", SymbolOrPair: "BTCUSDT", IsActive: true},
		{ID: "b", SymbolOrPair: "ETHUSDT", IsActive: true},
	}}
	q, store := newTestQueries(fb)
	ctx := context.Background()
	require.Len(t, q.Alerts(ctx), 2)

	_, err := q.ToggleAlert(ctx, "a", false)
	require.NoError(t, err)
	assert.False(t, store.Snapshot().Alerts[0].IsActive)
	assert.Len(t, memorystore.ActiveAlerts(store.Snapshot()), 1)

	require.NoError(t, q.DeleteAlert(ctx, "b"))
	alerts := store.Snapshot().Alerts
	require.Len(t, alerts, 1)
	assert.Equal(t, "a", alerts[0].ID)

	fb.mutateErr = errors.New("backend returned 500")
	err = q.DeleteAlert(ctx, "a")
	require.Error(t, err)
	require.Len(t, store.Snapshot().Alerts, 1)
}

// go test -v --run TestReadsDegradeGracefully
func TestReadsDegradeGracefully(t *testing.T) {
	fb := &fakeBackend{symbolsErr: errors.New("connection refused")}
	q, store := newTestQueries(fb)
	ctx := context.Background()

	symbols := q.Symbols(ctx)
	assert.NotNil(t, symbols)
	assert.Empty(t, symbols)

	fb.mu.Lock()
	fb.symbolsErr = nil
	fb.symbols = []memorystore.Symbol{{Symbol: "BTCUSDT"}}
	fb.mu.Unlock()
	got, err := q.RefreshSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, got, store.Snapshot().Symbols)

	fb.mu.Lock()
	fb.symbolsErr = errors.New("connection refused")
	fb.mu.Unlock()
	q.Cache().Invalidate(KeySymbols)
	assert.Equal(t, got, q.Symbols(ctx))
}

// go test -v --run TestPerSymbolQueries
func TestPerSymbolQueries(t *testing.T) {
	q, _ := newTestQueries(&fakeBackend{})
	ctx := context.Background()

	ticks := q.Ticks(ctx, "btcusdt")
	require.Len(t, ticks, 1)
	assert.True(t, q.Cache().Registered(TicksKey("BTCUSDT")))

	candles := q.Candles(ctx, "BTCUSDT", backend.Timeframe5m)
	require.Len(t, candles, 1)
	assert.Equal(t, "5m", candles[0].Interval)
	assert.Equal(t, "ohlcv:BTCUSDT:5m", OHLCVKey("btcusdt", backend.Timeframe5m))

	h, err := q.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
}

// go test -v --run TestLatestTickAndPairStatsQueries
func TestLatestTickAndPairStatsQueries(t *testing.T) {
	fb := &fakeBackend{}
	q, _ := newTestQueries(fb)
	ctx := context.Background()

	tick, err := q.LatestTick(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 2.0, tick.Price)
	assert.True(t, q.Cache().Registered(LatestTickKey("BTCUSDT")))

	spread, err := q.Spread(ctx, "BTCUSDT", "ETHUSDT", 30)
	require.NoError(t, err)
	assert.Equal(t, 1.5, spread.SpreadMean)
	assert.Equal(t, "spread:BTCUSDT:ETHUSDT:30", SpreadKey("btcusdt", "ethusdt", 30))

	corr, err := q.Correlation(ctx, "BTCUSDT", "ETHUSDT", 30)
	require.NoError(t, err)
	assert.Equal(t, 0.8, corr.CurrentCorrelation)

	// fresh values are served from the cache
	_, _ = q.LatestTick(ctx, "BTCUSDT")
	_, _ = q.Spread(ctx, "BTCUSDT", "ETHUSDT", 30)
	assert.Equal(t, 3, fb.pairCalls)

	fb.mu.Lock()
	fb.symbolsErr = errors.New("connection refused")
	fb.mu.Unlock()
	_, err = q.Correlation(ctx, "BTCUSDT", "ETHUSDT", 60)
	assert.Error(t, err)
}
