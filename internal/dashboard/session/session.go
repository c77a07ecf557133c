package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradedash/config"
	"tradedash/internal/dashboard/analytics"
	"tradedash/internal/dashboard/memorystore"
	"tradedash/internal/dashboard/query"
	"tradedash/internal/dashboard/snapshot"
	"tradedash/internal/dashboard/stream"
	"tradedash/internal/dashboard/symbolmeta"
	"tradedash/pkg/backend"
	"tradedash/pkg/storage/postgres"

	"go.uber.org/zap"
)

const snapshotTimeout = 30 * time.Second

// Session owns every long-lived component of one dashboard: the store, the streaming
// connection, the analytics timers, the query cache, the symbol refresher and the
// optional archive.
type Session struct {
	cfg    *config.Config
	logger *zap.Logger

	Store     *memorystore.Store
	REST      *backend.RESTClient
	WS        *backend.WSClient
	Cache     *query.Cache
	Queries   *query.Queries
	Scheduler *analytics.Scheduler
	Loader    *snapshot.Loader
	Refresher *symbolmeta.MidnightRefresher
	Archive   *postgres.PostgresClient

	handler *stream.Handler

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
}

// New builds the components from cfg without touching the network.
func New(cfg *config.Config, logger *zap.Logger) (*Session, error) {
	wsURL, err := backend.DeriveWSURL(cfg.Backend.REST.BaseURL, cfg.Backend.WS.URL)
	if err != nil {
		return nil, fmt.Errorf("derive websocket url: %w", err)
	}

	store := memorystore.NewStore(memorystore.Options{
		MaxTicks:         cfg.Store.MaxTicks,
		MaxCandles:       cfg.Store.MaxCandles,
		MaxMetricHistory: cfg.Store.MaxMetricHistory,
		MaxNotifications: cfg.Store.MaxNotifications,
	})
	if cfg.Store.Timeframe != "" {
		if _, err := backend.ParseTimeframe(cfg.Store.Timeframe); err != nil {
			return nil, err
		}
		store.SetTimeframe(cfg.Store.Timeframe)
	}
	if cfg.Store.Symbol != "" {
		store.SetSelectedSymbol(cfg.Store.Symbol)
	}

	rest := backend.NewRESTClient(cfg.Backend.REST.BaseURL, cfg.Backend.REST.Timeout)

	wsCfg := cfg.Backend.WS
	ws := backend.NewWSClient(backend.WSOptions{
		URL:                  wsURL,
		AutoReconnect:        wsCfg.AutoReconnect,
		MaxReconnectAttempts: wsCfg.MaxReconnectAttempts,
		ReconnectDelay:       wsCfg.ReconnectDelay,
		BackoffFactor:        wsCfg.BackoffFactor,
		MaxReconnectDelay:    wsCfg.MaxReconnectDelay,
		PingInterval:         wsCfg.PingInterval,
	}, logger)

	cache := query.NewCache(logger)
	queries := query.New(logger, rest, cache, store, query.Limits{Ticks: cfg.Store.MaxTicks, Candles: cfg.Store.MaxCandles})

	a := cfg.Analytics
	scheduler := analytics.New(logger, store, rest, analytics.Options{
		TickInterval:     a.TickInterval,
		Symbol1:          a.Symbol1,
		Symbol2:          a.Symbol2,
		WindowMinutes:    a.WindowMinutes,
		LookbackPeriods:  a.LookbackPeriods,
		RemoteZScore:     a.RemoteZScore,
		RateWindow:       a.RateWindow,
		VolatilityWindow: a.VolatilityWindow,
	})

	return &Session{
		cfg:       cfg,
		logger:    logger,
		Store:     store,
		REST:      rest,
		WS:        ws,
		Cache:     cache,
		Queries:   queries,
		Scheduler: scheduler,
		Loader:    &snapshot.Loader{Queries: queries, Store: store, Logger: logger, Timeout: snapshotTimeout},
		Refresher: &symbolmeta.MidnightRefresher{Refresh: symbolmeta.DefaultRefreshFn(queries), Logger: logger},
	}, nil
}

// Start opens the archive when enabled, loads history, starts the timers and connects the socket.
// A failed first dial is not an error: the client keeps retrying per its reconnect policy.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	if s.started {
		return nil
	}

	opts := []stream.Option{stream.WithTickBuffer(s.cfg.Backend.WS.TickBuffer)}
	if s.cfg.Archive.Enabled {
		archive, err := postgres.InitializeAndMigrate(s.cfg.Postgres, s.cfg.Log.Environment, s.cfg.Archive.CreateDB)
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		s.Archive = archive
		opts = append(opts, stream.WithRecorder(archive))
	}
	s.handler = stream.NewHandler(s.logger, s.Store, opts...)

	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	if _, err := s.Loader.Load(ctx); err != nil {
		s.logger.Warn("initial snapshot incomplete", zap.Error(err))
	}

	s.Cache.Start(ctx)
	s.Refresher.Start(ctx)
	s.Scheduler.Start(ctx)

	s.WS.SetMessageHandler(s.handler.Handle)
	s.WS.OnStateChange(s.Store.SetConnectionState)
	s.WS.OnError(func(err error) {
		s.logger.Debug("websocket error", zap.Error(err))
	})
	if symbol := s.Store.SelectedSymbol(); symbol != "" {
		if err := s.WS.Subscribe(symbol); err != nil {
			s.logger.Warn("subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	if err := s.WS.Connect(ctx); err != nil {
		s.logger.Warn("initial websocket connect failed", zap.Error(err))
	}

	s.logger.Info("Dashboard session started",
		zap.String("api", s.REST.BaseURL()),
		zap.String("symbol", s.Store.SelectedSymbol()),
		zap.String("timeframe", s.Store.Timeframe()))
	return nil
}

// SelectSymbol moves the stream subscription to symbol and reloads its history.
func (s *Session) SelectSymbol(ctx context.Context, symbol string) error {
	if symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	prev := s.Store.SelectedSymbol()
	if prev != "" && prev != symbol {
		if err := s.WS.Unsubscribe(prev); err != nil {
			s.logger.Warn("unsubscribe failed", zap.String("symbol", prev), zap.Error(err))
		}
	}
	s.Store.SetSelectedSymbol(symbol)
	if err := s.WS.Subscribe(symbol); err != nil {
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	_, err := s.Loader.Load(ctx)
	return err
}

// SetTimeframe switches the candle interval and reloads candles for it.
func (s *Session) SetTimeframe(ctx context.Context, tf string) error {
	if _, err := backend.ParseTimeframe(tf); err != nil {
		return err
	}
	s.Store.SetTimeframe(tf)

	if symbol := s.Store.SelectedSymbol(); symbol != "" {
		s.Store.BulkMergeCandles(s.Queries.Candles(ctx, symbol, backend.Timeframe(tf)))
	}
	return nil
}

// Close suppresses reconnects, closes the socket, stops every timer and closes the archive.
// It is safe to call more than once and before Start.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	s.WS.Disconnect()
	if cancel != nil {
		cancel()
	}
	s.Scheduler.Stop()
	s.Refresher.Stop()
	s.Cache.Stop()

	if s.Archive != nil {
		if err := s.Archive.Close(); err != nil {
			return fmt.Errorf("close archive: %w", err)
		}
	}
	s.logger.Info("Dashboard session closed")
	return nil
}
