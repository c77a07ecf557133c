package snapshot

import (
	"context"
	"time"

	"tradedash/internal/dashboard/memorystore"
	"tradedash/internal/dashboard/query"
	"tradedash/pkg/backend"

	"go.uber.org/zap"
)

// Loader fills the store with REST history before the live stream takes over.
type Loader struct {
	Queries *query.Queries
	Store   *memorystore.Store
	Logger  *zap.Logger
	Timeout time.Duration
}

// Result counts what Load merged into the store.
type Result struct {
	Symbol  string
	Symbols int
	Ticks   int
	Candles int
	Alerts  int
}

// Load fetches symbols, then ticks and candles of the selected symbol, then alerts.
// Reads degrade to empty lists, so Load only fails when ctx is done.
func (l *Loader) Load(ctx context.Context) (Result, error) {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	var res Result
	symbols := l.Queries.Symbols(ctx)
	res.Symbols = len(symbols)

	selected := l.Store.SelectedSymbol()
	if selected == "" && len(symbols) > 0 {
		selected = symbols[0].Symbol
		l.Store.SetSelectedSymbol(selected)
	}
	res.Symbol = selected

	if selected != "" {
		ticks := l.Queries.Ticks(ctx, selected)
		l.Store.BulkMergeTicks(ticks)
		res.Ticks = len(ticks)

		tf := backend.Timeframe(l.Store.Timeframe())
		if !tf.IsValid() {
			tf = backend.Timeframe1m
		}
		candles := l.Queries.Candles(ctx, selected, tf)
		l.Store.BulkMergeCandles(candles)
		res.Candles = len(candles)
	}

	res.Alerts = len(l.Queries.Alerts(ctx))

	if err := ctx.Err(); err != nil {
		l.Logger.Warn("snapshot load interrupted", zap.Error(err))
		return res, err
	}
	l.Logger.Info("loaded snapshot",
		zap.String("symbol", res.Symbol),
		zap.Int("symbols", res.Symbols),
		zap.Int("ticks", res.Ticks),
		zap.Int("candles", res.Candles),
		zap.Int("alerts", res.Alerts))
	return res, nil
}
