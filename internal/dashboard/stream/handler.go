package stream

import (
	"context"
	"sync"
	"time"

	"tradedash/internal/dashboard/memorystore"

	"go.uber.org/zap"
)

const (
	DefaultTickBuffer = 100
	recordTimeout     = 5 * time.Second
)

// Recorder archives accepted market data. Failures are logged, never fatal.
type Recorder interface {
	RecordTicks(ctx context.Context, ticks []memorystore.Tick) error
	RecordCandles(ctx context.Context, candles []memorystore.Candle) error
}

// Handler routes decoded frames into the store.
type Handler struct {
	logger   *zap.Logger
	store    *memorystore.Store
	recorder Recorder
	now      func() time.Time

	mu     sync.Mutex
	buffer *memorystore.SlidingWindow[memorystore.Tick]
}

type Option func(*Handler)

// WithRecorder archives every accepted tick and candle.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// WithTickBuffer sets the rolling buffer size that caps tick batches before the store.
func WithTickBuffer(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.buffer = memorystore.NewSlidingWindow[memorystore.Tick](n)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func NewHandler(logger *zap.Logger, store *memorystore.Store, opts ...Option) *Handler {
	h := &Handler{
		logger: logger.With(zap.String("component", "stream")),
		store:  store,
		now:    time.Now,
		buffer: memorystore.NewSlidingWindow[memorystore.Tick](DefaultTickBuffer),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MakeMessageHandler returns a function that handles incoming WebSocket messages
// by decoding them and applying them to the store.
func MakeMessageHandler(logger *zap.Logger, store *memorystore.Store, recorder Recorder) func(msg []byte) {
	opts := []Option{}
	if recorder != nil {
		opts = append(opts, WithRecorder(recorder))
	}
	return NewHandler(logger, store, opts...).Handle
}

// Handle decodes and applies one frame. Malformed frames are logged and skipped.
func (h *Handler) Handle(msg []byte) {
	ev, err := Decode(msg, h.now())
	if err != nil {
		h.logger.Warn("failed to decode frame", zap.Error(err), zap.Int("bytes", len(msg)))
		return
	}
	h.Apply(ev)
}

// Apply dispatches one decoded event.
func (h *Handler) Apply(ev Event) {
	switch e := ev.(type) {
	case TickEvent:
		h.applyTicks(e)
	case CandleEvent:
		h.applyCandles(e)
	case AlertEvent:
		h.logger.Info("alert triggered",
			zap.String("alert_id", e.Trigger.AlertID),
			zap.String("symbol", e.Trigger.Symbol),
			zap.String("severity", e.Trigger.Severity))
		h.store.ApplyAlertTrigger(e.Trigger)
	case StatusEvent:
		h.logger.Info("server status", zap.String("type", e.Type), zap.String("status", e.Status), zap.String("message", e.Message))
		msg := e.Message
		if msg == "" {
			msg = e.Status
		}
		h.store.SetStatusMessage(msg)
	case ErrorEvent:
		h.logger.Warn("server error frame", zap.String("message", e.Message))
		h.store.SetStatusMessage("error: " + e.Message)
	case PongEvent:
		h.logger.Debug("pong", zap.Time("at", e.At))
	case AnalyticsEvent:
		for _, m := range e.Metrics {
			h.store.SetMetric(m)
		}
	case UnknownEvent:
		h.logger.Debug("ignoring unknown frame type", zap.String("type", e.Type))
	}
}

func (h *Handler) applyTicks(e TickEvent) {
	if e.Dropped > 0 {
		h.logger.Warn("dropped invalid ticks", zap.Int("dropped", e.Dropped), zap.Int("accepted", len(e.Ticks)))
	}
	if len(e.Ticks) == 0 {
		return
	}

	h.mu.Lock()
	h.buffer.Push(e.Ticks...)
	accepted := e.Ticks
	if n := h.buffer.MaxSize(); len(accepted) > n {
		accepted = accepted[len(accepted)-n:]
	}
	h.mu.Unlock()

	h.store.AddTicks(accepted)
	if h.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := h.recorder.RecordTicks(ctx, accepted); err != nil {
			h.logger.Warn("failed to record ticks", zap.Error(err))
		}
	}
}

func (h *Handler) applyCandles(e CandleEvent) {
	if e.Dropped > 0 {
		h.logger.Warn("dropped invalid candles", zap.Int("dropped", e.Dropped))
	}

	tf := h.store.Timeframe()
	accepted := make([]memorystore.Candle, 0, len(e.Candles))
	for _, c := range e.Candles {
		// the candle window holds the selected timeframe only
		if tf != "" && c.Interval != "" && c.Interval != tf {
			continue
		}
		h.store.AddOrReplaceCandle(c)
		accepted = append(accepted, c)
	}

	if h.recorder != nil && len(e.Candles) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := h.recorder.RecordCandles(ctx, e.Candles); err != nil {
			h.logger.Warn("failed to record candles", zap.Error(err))
		}
	}
	if len(accepted) < len(e.Candles) {
		h.logger.Debug("skipped candles for other timeframes", zap.Int("skipped", len(e.Candles)-len(accepted)))
	}
}

// Buffered returns the rolling client-side tick buffer.
func (h *Handler) Buffered() []memorystore.Tick {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buffer.Items()
}
