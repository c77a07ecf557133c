package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tradedash/internal/dashboard/memorystore"
	"tradedash/pkg/backend"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrValidation = errors.New("invalid alert")

// TempIDPrefix marks alerts that exist only as an optimistic placeholder.
const TempIDPrefix = "temp-"

// alertSnapshot is the pre-mutation alert list of the cache and the store.
type alertSnapshot struct {
	cached    []memorystore.Alert
	hasCached bool
	stored    []memorystore.Alert
}

func (q *Queries) snapshotAlerts() alertSnapshot {
	var snap alertSnapshot
	if v, ok := q.cache.Peek(KeyAlerts); ok {
		if alerts, ok := v.([]memorystore.Alert); ok {
			snap.cached = append([]memorystore.Alert(nil), alerts...)
			snap.hasCached = true
		}
	}
	if q.store != nil {
		snap.stored = q.store.Snapshot().Alerts
	}
	return snap
}

// base is the list an optimistic change is applied to.
func (s alertSnapshot) base() []memorystore.Alert {
	if s.stored != nil || !s.hasCached {
		return append([]memorystore.Alert(nil), s.stored...)
	}
	return append([]memorystore.Alert(nil), s.cached...)
}

func (q *Queries) applyAlerts(alerts []memorystore.Alert) {
	q.cache.Set(KeyAlerts, alerts)
	if q.store != nil {
		q.store.SetAlerts(alerts)
	}
}

func (q *Queries) rollback(snap alertSnapshot) {
	if snap.hasCached {
		q.cache.Set(KeyAlerts, snap.cached)
	} else {
		q.cache.Clear(KeyAlerts)
	}
	if q.store != nil {
		q.store.SetAlerts(snap.stored)
	}
}

// settle rolls back on failure, then always reconciles with the server.
func (q *Queries) settle(ctx context.Context, op string, snap alertSnapshot, err error) {
	if err != nil {
		q.logger.Warn("Alert mutation failed, rolling back", zap.String("op", op), zap.Error(err))
		q.rollback(snap)
	}
	q.cache.Invalidate(KeyAlerts)
	if _, rerr := q.cache.Refetch(ctx, KeyAlerts); rerr != nil {
		q.logger.Warn("Alert refetch failed", zap.String("op", op), zap.Error(rerr))
	}
}

// CreateAlert validates in, shows a placeholder alert immediately and posts it.
// A rejected create restores the previous list.
func (q *Queries) CreateAlert(ctx context.Context, in backend.AlertInput) (memorystore.Alert, error) {
	in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
	if err := q.validate.Struct(in); err != nil {
		return memorystore.Alert{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	q.mutMu.Lock()
	defer q.mutMu.Unlock()

	snap := q.snapshotAlerts()
	placeholder := memorystore.Alert{
		ID:             TempIDPrefix + uuid.NewString(),
		SymbolOrPair:   in.Symbol,
		ConditionType:  in.Condition,
		ThresholdValue: *in.Threshold,
		IsActive:       true,
		Severity:       in.Severity,
	}
	q.applyAlerts(append(snap.base(), placeholder))

	created, err := q.backend.CreateAlert(ctx, in)
	q.settle(ctx, "create", snap, err)
	if err != nil {
		return memorystore.Alert{}, fmt.Errorf("create alert: %w", err)
	}
	return created, nil
}

// UpdateAlert applies upd to alert id optimistically and sends it.
func (q *Queries) UpdateAlert(ctx context.Context, id string, upd backend.AlertUpdate) (memorystore.Alert, error) {
	if err := q.validate.Struct(upd); err != nil {
		return memorystore.Alert{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	q.mutMu.Lock()
	defer q.mutMu.Unlock()

	snap := q.snapshotAlerts()
	next := snap.base()
	for i := range next {
		if next[i].ID != id {
			continue
		}
		if upd.IsActive != nil {
			next[i].IsActive = *upd.IsActive
		}
		if upd.Threshold != nil {
			next[i].ThresholdValue = *upd.Threshold
		}
		if upd.Condition != "" {
			next[i].ConditionType = upd.Condition
		}
	}
	q.applyAlerts(next)

	updated, err := q.backend.UpdateAlert(ctx, id, upd)
	q.settle(ctx, "update", snap, err)
	if err != nil {
		return memorystore.Alert{}, fmt.Errorf("update alert %s: %w", id, err)
	}
	return updated, nil
}

// ToggleAlert flips the active flag of alert id.
func (q *Queries) ToggleAlert(ctx context.Context, id string, active bool) (memorystore.Alert, error) {
	return q.UpdateAlert(ctx, id, backend.AlertUpdate{IsActive: &active})
}

// DeleteAlert removes alert id optimistically and sends the delete.
func (q *Queries) DeleteAlert(ctx context.Context, id string) error {
	q.mutMu.Lock()
	defer q.mutMu.Unlock()

	snap := q.snapshotAlerts()
	base := snap.base()
	next := make([]memorystore.Alert, 0, len(base))
	for _, a := range base {
		if a.ID != id {
			next = append(next, a)
		}
	}
	q.applyAlerts(next)

	err := q.backend.DeleteAlert(ctx, id)
	q.settle(ctx, "delete", snap, err)
	if err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	return nil
}
