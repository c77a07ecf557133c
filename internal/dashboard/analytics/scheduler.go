package analytics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"tradedash/internal/dashboard/memorystore"
	"tradedash/pkg/backend"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metric names written to the store.
const (
	MetricTickRate        = "tick_rate"
	MetricPriceVolatility = "price_volatility"
	MetricZScore          = "z_score"
	MetricCorrelation     = "correlation"
	MetricHedgeRatio      = "hedge_ratio"
	MetricADFStatistic    = "adf_statistic"
	MetricPValue          = "p_value"
	MetricCointegrated    = "is_cointegrated"
)

// Client is the subset of the REST client the scheduler calls.
type Client interface {
	ComputeAnalytics(ctx context.Context, kind backend.AnalyticsKind, req backend.AnalyticsRequest) (backend.AnalyticsResult, error)
}

type Options struct {
	TickInterval time.Duration
	// CandleInterval overrides the interval derived from the selected timeframe.
	CandleInterval   time.Duration
	Symbol1          string
	Symbol2          string
	WindowMinutes    int
	LookbackPeriods  int
	RemoteZScore     bool
	RateWindow       time.Duration
	VolatilityWindow int
	RequestTimeout   time.Duration
	Now              func() time.Time
}

func DefaultOptions() Options {
	return Options{
		TickInterval:     500 * time.Millisecond,
		Symbol1:          "BTCUSDT",
		Symbol2:          "ETHUSDT",
		WindowMinutes:    60,
		LookbackPeriods:  20,
		RemoteZScore:     true,
		RateWindow:       5 * time.Second,
		VolatilityWindow: 20,
		RequestTimeout:   30 * time.Second,
		Now:              time.Now,
	}
}

// Scheduler keeps derived metrics fresh on two timer cadences plus on-demand requests.
// Firings are independent: a slow request does not delay or cancel the next one.
type Scheduler struct {
	logger *zap.Logger
	store  *memorystore.Store
	client Client

	mu   sync.RWMutex
	opts Options

	runMu   sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func New(logger *zap.Logger, store *memorystore.Store, client Client, opts Options) *Scheduler {
	def := DefaultOptions()
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = def.RateWindow
	}
	if opts.VolatilityWindow <= 0 {
		opts.VolatilityWindow = def.VolatilityWindow
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Scheduler{
		logger: logger.With(zap.String("component", "analytics")),
		store:  store,
		client: client,
		opts:   opts,
	}
}

// SetPair changes the symbol pair used by remote computations.
func (s *Scheduler) SetPair(symbol1, symbol2 string) {
	s.mu.Lock()
	s.opts.Symbol1, s.opts.Symbol2 = symbol1, symbol2
	s.mu.Unlock()
}

func (s *Scheduler) options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

func (s *Scheduler) request() backend.AnalyticsRequest {
	o := s.options()
	return backend.AnalyticsRequest{
		Symbol1:         o.Symbol1,
		Symbol2:         o.Symbol2,
		WindowMinutes:   o.WindowMinutes,
		LookbackPeriods: o.LookbackPeriods,
	}
}

func pairName(req backend.AnalyticsRequest) string {
	return req.Symbol1 + "-" + req.Symbol2
}

// Start launches the tick and candle cadences. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	o := s.options()
	s.wg.Add(2)
	go s.loop(ctx, "tick", func() time.Duration { return o.TickInterval }, s.RunTickCadence)
	go s.loop(ctx, "candle", s.candleInterval, s.RunCandleCadence)

	// first candle-based fetch does not wait a full interval
	s.RunCandleCadence(ctx)
	s.logger.Info("Analytics scheduler started",
		zap.Duration("tick_interval", o.TickInterval),
		zap.Duration("candle_interval", s.candleInterval()))
}

// Stop cancels every timer and in-flight request and waits for them to finish.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.runMu.Unlock()

	s.wg.Wait()
	s.logger.Info("Analytics scheduler stopped")
}

// loop fires run every interval() until ctx is done. The interval is re-read after each firing.
func (s *Scheduler) loop(ctx context.Context, name string, interval func() time.Duration, run func(context.Context)) {
	defer s.wg.Done()
	timer := time.NewTimer(interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("cadence stopped", zap.String("cadence", name))
			return
		case <-timer.C:
			run(ctx)
			timer.Reset(interval())
		}
	}
}

// candleInterval is the explicit override or the duration of the selected timeframe (1m default).
func (s *Scheduler) candleInterval() time.Duration {
	if d := s.options().CandleInterval; d > 0 {
		return d
	}
	if meta, err := backend.ParseTimeframe(s.store.Timeframe()); err == nil {
		return meta.Duration
	}
	return time.Minute
}

// RunTickCadence computes local tick metrics synchronously and issues the remote z-score
// request in the background when enabled.
func (s *Scheduler) RunTickCadence(ctx context.Context) {
	o := s.options()
	now := o.Now()

	st := s.store.Snapshot()
	ticks := st.Ticks
	if st.SelectedSymbol != "" {
		ticks = memorystore.TicksForSymbol(st, st.SelectedSymbol)
	}

	s.store.SetMetric(memorystore.Metric{
		ID:        uuid.NewString(),
		Name:      MetricTickRate,
		Kind:      memorystore.KindTickBased,
		Value:     TickRate(ticks, now, o.RateWindow),
		Timestamp: now,
		Symbol:    st.SelectedSymbol,
	})
	if vol, ok := PriceVolatility(ticks, o.VolatilityWindow); ok {
		s.store.SetMetric(memorystore.Metric{
			ID:        uuid.NewString(),
			Name:      MetricPriceVolatility,
			Kind:      memorystore.KindTickBased,
			Value:     vol,
			Timestamp: now,
			Symbol:    st.SelectedSymbol,
			Metadata:  map[string]string{"window": strconv.Itoa(o.VolatilityWindow)},
		})
	}

	if o.RemoteZScore && s.client != nil {
		s.spawn(ctx, func(ctx context.Context) { s.fetchZScore(ctx) })
	}
}

// RunCandleCadence issues the correlation and hedge-ratio requests in the background.
func (s *Scheduler) RunCandleCadence(ctx context.Context) {
	if s.client == nil {
		return
	}
	s.spawn(ctx, s.fetchCandleMetrics)
}

// spawn runs fn on its own goroutine, bounded by the scheduler's lifetime and the request timeout.
func (s *Scheduler) spawn(ctx context.Context, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, s.options().RequestTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Scheduler) fetchZScore(ctx context.Context) {
	req := s.request()
	s.store.SetCadenceLoading(memorystore.CadenceTick, true)

	start := time.Now()
	res, err := s.client.ComputeAnalytics(ctx, backend.AnalyticsZScore, req)
	if err != nil {
		s.logger.Debug("z-score request failed", zap.Error(err))
		s.store.SetCadenceError(memorystore.CadenceTick, err)
		return
	}
	if res.ZScore == nil {
		s.store.SetCadenceError(memorystore.CadenceTick, fmt.Errorf("z-score response has no value"))
		return
	}

	s.store.SetMetric(s.pairMetric(MetricZScore, memorystore.KindTickBased, *res.ZScore, req, res))
	s.store.RecordCalculation(memorystore.CadenceTick, time.Since(start))
}

func (s *Scheduler) fetchCandleMetrics(ctx context.Context) {
	req := s.request()
	s.store.SetCadenceLoading(memorystore.CadenceCandle, true)
	start := time.Now()

	corr, err := s.client.ComputeAnalytics(ctx, backend.AnalyticsCorrelation, req)
	if err != nil {
		s.logger.Warn("correlation request failed", zap.String("pair", pairName(req)), zap.Error(err))
		s.store.SetCadenceError(memorystore.CadenceCandle, err)
		return
	}
	hedge, err := s.client.ComputeAnalytics(ctx, backend.AnalyticsHedgeRatio, req)
	if err != nil {
		s.logger.Warn("hedge ratio request failed", zap.String("pair", pairName(req)), zap.Error(err))
		s.store.SetCadenceError(memorystore.CadenceCandle, err)
		return
	}

	if corr.Correlation != nil {
		s.store.SetMetric(s.pairMetric(MetricCorrelation, memorystore.KindCandleBased, *corr.Correlation, req, corr))
	}
	if hedge.HedgeRatio != nil {
		s.store.SetMetric(s.pairMetric(MetricHedgeRatio, memorystore.KindCandleBased, *hedge.HedgeRatio, req, hedge))
	}
	s.store.RecordCalculation(memorystore.CadenceCandle, time.Since(start))
}

// RequestCointegration runs the historical cointegration test on demand. It is never timer driven.
func (s *Scheduler) RequestCointegration(ctx context.Context) (backend.AnalyticsResult, error) {
	if s.client == nil {
		return backend.AnalyticsResult{}, fmt.Errorf("analytics client not configured")
	}
	req := s.request()
	s.store.SetCadenceLoading(memorystore.CadenceHistorical, true)

	start := time.Now()
	res, err := s.client.ComputeAnalytics(ctx, backend.AnalyticsCointegration, req)
	if err != nil {
		s.store.SetCadenceError(memorystore.CadenceHistorical, err)
		return backend.AnalyticsResult{}, fmt.Errorf("cointegration %s: %w", pairName(req), err)
	}

	if res.ADFStatistic != nil {
		m := s.pairMetric(MetricADFStatistic, memorystore.KindHistorical, *res.ADFStatistic, req, res)
		for level, v := range res.CriticalValues {
			m.Metadata["critical_"+level] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		s.store.SetMetric(m)
	}
	if res.PValue != nil {
		s.store.SetMetric(s.pairMetric(MetricPValue, memorystore.KindHistorical, *res.PValue, req, res))
	}
	if res.IsCointegrated != nil {
		v := 0.0
		if *res.IsCointegrated {
			v = 1
		}
		s.store.SetMetric(s.pairMetric(MetricCointegrated, memorystore.KindHistorical, v, req, res))
	}
	s.store.RecordCalculation(memorystore.CadenceHistorical, time.Since(start))
	return res, nil
}

func (s *Scheduler) pairMetric(name string, kind memorystore.MetricKind, v float64,
	req backend.AnalyticsRequest, res backend.AnalyticsResult) memorystore.Metric {
	ts := res.Timestamp.Time
	if ts.IsZero() {
		ts = s.options().Now()
	}
	return memorystore.Metric{
		ID:         uuid.NewString(),
		Name:       name,
		Kind:       kind,
		Value:      v,
		Timestamp:  ts,
		SymbolPair: pairName(req),
		Metadata: map[string]string{
			"window_minutes":   strconv.Itoa(req.WindowMinutes),
			"lookback_periods": strconv.Itoa(req.LookbackPeriods),
		},
	}
}
