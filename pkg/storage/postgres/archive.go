package postgres

import (
	"context"
	"time"

	"tradedash/internal/dashboard/memorystore"

	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

// RecordTicks inserts received ticks. Ticks already archived are skipped.
func (p *PostgresClient) RecordTicks(ctx context.Context, ticks []memorystore.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	records := make([]TickRecord, len(ticks))
	for i, t := range ticks {
		records[i] = ToTickRecord(t)
	}

	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "timestamp"},
			{Name: "price"},
		},
		DoNothing: true,
	}).CreateInBatches(&records, insertBatchSize).Error
}

// RecordCandles upserts candles; a still-forming candle is overwritten by its later versions.
func (p *PostgresClient) RecordCandles(ctx context.Context, candles []memorystore.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	records := ToCandleRecords(candles)

	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "interval"},
			{Name: "start"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "trade_count", "updated_at"}),
	}).CreateInBatches(&records, insertBatchSize).Error
}

// GetTicks returns archived ticks of symbol stamped at or after since, oldest first.
func (p *PostgresClient) GetTicks(ctx context.Context, symbol string, since time.Time, limit int) ([]memorystore.Tick, error) {
	var records []TickRecord
	q := p.DB.WithContext(ctx).
		Where("symbol = ? AND timestamp >= ?", symbol, since).
		Order("timestamp ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}

	out := make([]memorystore.Tick, len(records))
	for i, r := range records {
		out[i] = r.ToTick()
	}
	return out, nil
}

// GetCandles returns archived candles of symbol and interval starting at or after since, oldest first.
func (p *PostgresClient) GetCandles(ctx context.Context, symbol, interval string, since time.Time) ([]memorystore.Candle, error) {
	var records []CandleRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ? AND interval = ? AND start >= ?", symbol, interval, since).
		Order("start ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	out := make([]memorystore.Candle, len(records))
	for i, r := range records {
		out[i] = r.ToCandle()
	}
	return out, nil
}

// DeleteOlderThan prunes ticks and candles older than before.
func (p *PostgresClient) DeleteOlderThan(ctx context.Context, before time.Time) error {
	db := p.DB.WithContext(ctx)
	if err := db.Where("timestamp < ?", before).Delete(&TickRecord{}).Error; err != nil {
		return err
	}
	return db.Where("start < ?", before).Delete(&CandleRecord{}).Error
}
