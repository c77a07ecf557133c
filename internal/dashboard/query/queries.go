package query

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradedash/internal/dashboard/memorystore"
	"tradedash/pkg/backend"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Query keys.
const (
	KeySymbols      = "symbols"
	KeyAlerts       = "alerts"
	KeyAlertHistory = "alerts:history"
	KeyHealth       = "health"
)

func TicksKey(symbol string) string {
	return "ticks:" + strings.ToUpper(symbol)
}

func OHLCVKey(symbol string, tf backend.Timeframe) string {
	return "ohlcv:" + strings.ToUpper(symbol) + ":" + string(tf)
}

func LatestTickKey(symbol string) string {
	return "ticks:latest:" + strings.ToUpper(symbol)
}

func SpreadKey(symbol1, symbol2 string, window int) string {
	return pairKey("spread", symbol1, symbol2, window)
}

func CorrelationKey(symbol1, symbol2 string, window int) string {
	return pairKey("correlation", symbol1, symbol2, window)
}

func pairKey(prefix, symbol1, symbol2 string, window int) string {
	return prefix + ":" + strings.ToUpper(symbol1) + ":" + strings.ToUpper(symbol2) + ":" + strconv.Itoa(window)
}

var (
	SymbolsPolicy      = Policy{StaleTime: time.Hour}
	TicksPolicy        = Policy{StaleTime: 5 * time.Second, RefetchInterval: 10 * time.Second}
	OHLCVPolicy        = Policy{StaleTime: 30 * time.Second, RefetchInterval: 60 * time.Second}
	AlertsPolicy       = Policy{StaleTime: 10 * time.Second, RefetchInterval: 30 * time.Second}
	AlertHistoryPolicy = Policy{StaleTime: 10 * time.Second}
	HealthPolicy       = Policy{StaleTime: 10 * time.Second}
	LatestTickPolicy   = Policy{StaleTime: 5 * time.Second}
	PairStatsPolicy    = Policy{StaleTime: 10 * time.Second}
)

// Backend is the subset of the REST client the query layer reads and mutates through.
type Backend interface {
	GetSymbols(ctx context.Context) ([]memorystore.Symbol, error)
	GetTicks(ctx context.Context, symbol string, limit int) ([]memorystore.Tick, error)
	GetLatestTick(ctx context.Context, symbol string) (memorystore.Tick, error)
	GetOHLCV(ctx context.Context, symbol string, tf backend.Timeframe, limit int) ([]memorystore.Candle, error)
	GetSpread(ctx context.Context, symbol1, symbol2 string, window int) (backend.SpreadAnalysis, error)
	GetCorrelation(ctx context.Context, symbol1, symbol2 string, window int) (backend.CorrelationSummary, error)
	ListAlerts(ctx context.Context) ([]memorystore.Alert, error)
	CreateAlert(ctx context.Context, in backend.AlertInput) (memorystore.Alert, error)
	UpdateAlert(ctx context.Context, id string, upd backend.AlertUpdate) (memorystore.Alert, error)
	DeleteAlert(ctx context.Context, id string) error
	AlertHistory(ctx context.Context, limit int) ([]memorystore.AlertTrigger, error)
	Health(ctx context.Context) (backend.HealthStatus, error)
}

type Limits struct {
	Ticks        int
	Candles      int
	AlertHistory int
}

func DefaultLimits() Limits {
	return Limits{Ticks: 1000, Candles: 500, AlertHistory: 50}
}

// Queries exposes the backend reads through the cache and runs the alert mutations.
// Fetched symbols and alerts are also pushed into the store when one is attached.
type Queries struct {
	logger   *zap.Logger
	backend  Backend
	cache    *Cache
	store    *memorystore.Store
	limits   Limits
	validate *validator.Validate

	mutMu sync.Mutex
}

func New(logger *zap.Logger, b Backend, cache *Cache, store *memorystore.Store, limits Limits) *Queries {
	def := DefaultLimits()
	if limits.Ticks <= 0 {
		limits.Ticks = def.Ticks
	}
	if limits.Candles <= 0 {
		limits.Candles = def.Candles
	}
	if limits.AlertHistory <= 0 {
		limits.AlertHistory = def.AlertHistory
	}

	q := &Queries{
		logger:   logger.With(zap.String("component", "queries")),
		backend:  b,
		cache:    cache,
		store:    store,
		limits:   limits,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	q.registerStatic()
	return q
}

func (q *Queries) Cache() *Cache {
	return q.cache
}

func (q *Queries) registerStatic() {
	q.cache.Register(KeySymbols, SymbolsPolicy, func(ctx context.Context) (any, error) {
		symbols, err := q.backend.GetSymbols(ctx)
		if err != nil {
			return nil, err
		}
		if q.store != nil {
			q.store.SetSymbols(symbols)
		}
		return symbols, nil
	})
	q.cache.Register(KeyAlerts, AlertsPolicy, func(ctx context.Context) (any, error) {
		alerts, err := q.backend.ListAlerts(ctx)
		if err != nil {
			return nil, err
		}
		if q.store != nil {
			q.store.SetAlerts(alerts)
		}
		return alerts, nil
	})
	q.cache.Register(KeyAlertHistory, AlertHistoryPolicy, func(ctx context.Context) (any, error) {
		return q.backend.AlertHistory(ctx, q.limits.AlertHistory)
	})
	q.cache.Register(KeyHealth, HealthPolicy, func(ctx context.Context) (any, error) {
		return q.backend.Health(ctx)
	})
}

// ensureTicks registers the per-symbol tick query on first use.
func (q *Queries) ensureTicks(symbol string) string {
	key := TicksKey(symbol)
	if !q.cache.Registered(key) {
		q.cache.Register(key, TicksPolicy, func(ctx context.Context) (any, error) {
			return q.backend.GetTicks(ctx, symbol, q.limits.Ticks)
		})
	}
	return key
}

func (q *Queries) ensureOHLCV(symbol string, tf backend.Timeframe) string {
	key := OHLCVKey(symbol, tf)
	if !q.cache.Registered(key) {
		q.cache.Register(key, OHLCVPolicy, func(ctx context.Context) (any, error) {
			return q.backend.GetOHLCV(ctx, symbol, tf, q.limits.Candles)
		})
	}
	return key
}

func (q *Queries) ensure(key string, policy Policy, fetch Fetcher) string {
	if !q.cache.Registered(key) {
		q.cache.Register(key, policy, fetch)
	}
	return key
}

// LatestTick returns the newest tick of symbol as reported by the backend.
func (q *Queries) LatestTick(ctx context.Context, symbol string) (memorystore.Tick, error) {
	key := q.ensure(LatestTickKey(symbol), LatestTickPolicy, func(ctx context.Context) (any, error) {
		return q.backend.GetLatestTick(ctx, symbol)
	})
	return Typed[memorystore.Tick](ctx, q.cache, key)
}

// Spread returns rolling spread statistics of the pair. window <= 0 leaves it to the backend.
func (q *Queries) Spread(ctx context.Context, symbol1, symbol2 string, window int) (backend.SpreadAnalysis, error) {
	key := q.ensure(SpreadKey(symbol1, symbol2, window), PairStatsPolicy, func(ctx context.Context) (any, error) {
		return q.backend.GetSpread(ctx, symbol1, symbol2, window)
	})
	return Typed[backend.SpreadAnalysis](ctx, q.cache, key)
}

// Correlation returns rolling correlation statistics of the pair.
func (q *Queries) Correlation(ctx context.Context, symbol1, symbol2 string, window int) (backend.CorrelationSummary, error) {
	key := q.ensure(CorrelationKey(symbol1, symbol2, window), PairStatsPolicy, func(ctx context.Context) (any, error) {
		return q.backend.GetCorrelation(ctx, symbol1, symbol2, window)
	})
	return Typed[backend.CorrelationSummary](ctx, q.cache, key)
}

// list reads a slice query, falling back to the last good value or an empty list on failure.
func list[T any](ctx context.Context, q *Queries, key string) []T {
	v, err := Typed[[]T](ctx, q.cache, key)
	if err == nil {
		if v == nil {
			return []T{}
		}
		return v
	}

	q.logger.Warn("Query failed", zap.String("key", key), zap.Error(err))
	if cached, ok := q.cache.Peek(key); ok {
		if items, ok := cached.([]T); ok {
			return items
		}
	}
	return []T{}
}

func (q *Queries) Symbols(ctx context.Context) []memorystore.Symbol {
	return list[memorystore.Symbol](ctx, q, KeySymbols)
}

func (q *Queries) Ticks(ctx context.Context, symbol string) []memorystore.Tick {
	return list[memorystore.Tick](ctx, q, q.ensureTicks(symbol))
}

func (q *Queries) Candles(ctx context.Context, symbol string, tf backend.Timeframe) []memorystore.Candle {
	return list[memorystore.Candle](ctx, q, q.ensureOHLCV(symbol, tf))
}

func (q *Queries) Alerts(ctx context.Context) []memorystore.Alert {
	return list[memorystore.Alert](ctx, q, KeyAlerts)
}

func (q *Queries) AlertHistory(ctx context.Context) []memorystore.AlertTrigger {
	return list[memorystore.AlertTrigger](ctx, q, KeyAlertHistory)
}

// Health returns the backend status. Unlike the list reads it reports the failure.
func (q *Queries) Health(ctx context.Context) (backend.HealthStatus, error) {
	return Typed[backend.HealthStatus](ctx, q.cache, KeyHealth)
}

// RefreshSymbols drops the cached symbol list and fetches it again.
func (q *Queries) RefreshSymbols(ctx context.Context) ([]memorystore.Symbol, error) {
	q.cache.Invalidate(KeySymbols)
	return Typed[[]memorystore.Symbol](ctx, q.cache, KeySymbols)
}
