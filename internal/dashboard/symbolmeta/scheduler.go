package symbolmeta

import (
	"context"
	"sync"
	"time"

	"tradedash/internal/dashboard/query"

	"go.uber.org/zap"
)

// MidnightRefresher runs Refresh once at start, then at every UTC midnight.
type MidnightRefresher struct {
	Refresh func(ctx context.Context) error
	Logger  *zap.Logger

	now    func() time.Time
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// DefaultRefreshFn drops and refetches the cached symbol list.
func DefaultRefreshFn(q *query.Queries) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := q.RefreshSymbols(ctx)
		return err
	}
}

// NextMidnight is the first UTC midnight strictly after now.
func NextMidnight(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}

// Start schedules the refresh. It is a no-op when already started.
func (m *MidnightRefresher) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	if m.now == nil {
		m.now = time.Now
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		// Run immediately once at startup
		m.runOnce(ctx)

		timer := time.NewTimer(time.Until(NextMidnight(m.now())))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			m.runOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels the schedule and waits for a running refresh to return.
func (m *MidnightRefresher) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *MidnightRefresher) runOnce(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
		m.Logger.Error("failed to refresh symbols", zap.Error(err))
		return
	}
	m.Logger.Debug("symbols refreshed")
}
