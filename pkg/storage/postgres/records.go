package postgres

import (
	"time"

	"tradedash/internal/dashboard/memorystore"
)

// TickRecord is a received trade tick. (symbol, timestamp, price) identifies it, as in the store.
type TickRecord struct {
	ID uint `gorm:"primaryKey"`

	TickID string `gorm:"type:text;not null"`

	// unique index
	Symbol    string    `gorm:"type:text;not null;index:idx_tick_symbol;index:idx_tick_symbol_ts_price,unique"`
	Timestamp time.Time `gorm:"not null;index:idx_tick_symbol_ts_price,unique;index:idx_tick_timestamp"`
	Price     float64   `gorm:"type:numeric;not null;index:idx_tick_symbol_ts_price,unique"`

	Quantity float64 `gorm:"type:numeric;not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (TickRecord) TableName() string {
	return "tick_record"
}

// CandleRecord is an OHLCV candle. The latest version of a (symbol, interval, start) wins.
type CandleRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	Symbol   string    `gorm:"type:text;not null;index:idx_candle_symbol;index:idx_candle_symbol_interval_start,unique"`
	Interval string    `gorm:"type:varchar(10);not null;index:idx_candle_symbol_interval_start,unique"`
	Start    time.Time `gorm:"not null;index:idx_candle_symbol_interval_start,unique"`

	Open  float64 `gorm:"type:numeric;not null"`
	High  float64 `gorm:"type:numeric;not null"`
	Low   float64 `gorm:"type:numeric;not null"`
	Close float64 `gorm:"type:numeric;not null"`

	Volume     float64 `gorm:"type:numeric;not null"`
	TradeCount int64   `gorm:"not null;default:0"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (CandleRecord) TableName() string {
	return "candle_record"
}

func ToTickRecord(t memorystore.Tick) TickRecord {
	return TickRecord{
		TickID:    t.ID,
		Symbol:    t.Symbol,
		Timestamp: t.Timestamp.UTC(),
		Price:     t.Price,
		Quantity:  t.Quantity,
	}
}

func (r TickRecord) ToTick() memorystore.Tick {
	return memorystore.Tick{
		ID:        r.TickID,
		Symbol:    r.Symbol,
		Price:     r.Price,
		Quantity:  r.Quantity,
		Timestamp: r.Timestamp.UTC(),
	}
}

func ToCandleRecord(c memorystore.Candle) CandleRecord {
	return CandleRecord{
		Symbol:     c.Symbol,
		Interval:   c.Interval,
		Start:      c.Timestamp.UTC(),
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		Volume:     c.Volume,
		TradeCount: c.TradeCount,
	}
}

func (r CandleRecord) ToCandle() memorystore.Candle {
	return memorystore.Candle{
		Symbol:     r.Symbol,
		Interval:   r.Interval,
		Timestamp:  r.Start.UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
	}
}

type candleRecordKey struct {
	symbol   string
	interval string
	start    int64
}

// ToCandleRecords converts a batch, keeping only the last version of each candle.
// Postgres rejects an upsert that touches the same row twice.
func ToCandleRecords(candles []memorystore.Candle) []CandleRecord {
	index := make(map[candleRecordKey]int, len(candles))
	out := make([]CandleRecord, 0, len(candles))
	for _, c := range candles {
		r := ToCandleRecord(c)
		k := candleRecordKey{r.Symbol, r.Interval, r.Start.UnixNano()}
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
