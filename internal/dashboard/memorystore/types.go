package memorystore

import (
	"strconv"
	"time"
)

// Tick is a single trade/price update. Immutable once created.
type Tick struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// tickKey identifies a tick for de-duplication: (symbol, timestamp, price).
type tickKey struct {
	symbol string
	ts     int64
	price  string
}

func (t Tick) key() tickKey {
	return tickKey{
		symbol: t.Symbol,
		ts:     t.Timestamp.UnixNano(),
		price:  strconv.FormatFloat(t.Price, 'g', -1, 64),
	}
}

// Candle is an OHLCV aggregate keyed by (symbol, timestamp).
type Candle struct {
	Symbol     string    `json:"symbol"`
	Interval   string    `json:"interval"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int64     `json:"trade_count"`
}

type candleKey struct {
	symbol string
	ts     int64
}

func (c Candle) key() candleKey {
	return candleKey{symbol: c.Symbol, ts: c.Timestamp.UnixNano()}
}

// Symbol is near-static reference metadata.
type Symbol struct {
	Symbol    string `json:"symbol"`
	Exchange  string `json:"exchange,omitempty"`
	AssetType string `json:"asset_type,omitempty"`
}

// Alert is a user-defined alert rule plus its live trigger counters.
type Alert struct {
	ID             string     `json:"id"`
	SymbolOrPair   string     `json:"symbol"`
	ConditionType  string     `json:"condition"`
	ThresholdValue float64    `json:"threshold"`
	IsActive       bool       `json:"is_active"`
	Severity       string     `json:"severity"`
	TriggerCount   int        `json:"trigger_count"`
	LastTriggered  *time.Time `json:"last_triggered,omitempty"`
}

// AlertTrigger is a live notification that an alert fired.
type AlertTrigger struct {
	AlertID     string    `json:"alert_id"`
	Symbol      string    `json:"symbol"`
	Message     string    `json:"message"`
	Severity    string    `json:"severity"`
	Value       float64   `json:"value"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// MetricKind groups metrics by how they are produced.
type MetricKind string

const (
	KindTickBased   MetricKind = "tick-based"
	KindCandleBased MetricKind = "candle-based"
	KindHistorical  MetricKind = "historical"
)

// Metric is one computed analytics value. Each new value for a name replaces the current one.
type Metric struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Kind       MetricKind        `json:"kind"`
	Value      float64           `json:"value"`
	Timestamp  time.Time         `json:"timestamp"`
	Symbol     string            `json:"symbol,omitempty"`
	SymbolPair string            `json:"symbol_pair,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Cadence names a refresh schedule of the analytics scheduler.
type Cadence string

const (
	CadenceTick       Cadence = "tick"
	CadenceCandle     Cadence = "candle"
	CadenceHistorical Cadence = "historical"
)

// CadenceStatus is the loading/error state of one cadence, tracked independently.
type CadenceStatus struct {
	Loading     bool          `json:"loading"`
	Err         string        `json:"error,omitempty"`
	LastLatency time.Duration `json:"last_latency"`
	LastUpdated time.Time     `json:"last_updated"`
}

// AnalyticsState holds current metric values, their bounded history and cadence bookkeeping.
type AnalyticsState struct {
	Current           map[string]Metric
	History           map[string][]Metric
	Cadences          map[Cadence]CadenceStatus
	TotalCalculations int64
}

// ConnStatus is the WebSocket connection lifecycle state.
type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
	StatusReconnecting ConnStatus = "reconnecting"
)

// ConnectionState drives reconnection policy and is surfaced to observers.
type ConnectionState struct {
	Status         ConnStatus `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	Terminal       bool       `json:"terminal"` // reconnect attempts exhausted; needs a manual connect
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt time.Time  `json:"disconnected_at"`
}

// TickStats are running counters over the live tick stream.
type TickStats struct {
	TotalTicks int64     `json:"total_ticks"`
	Rate       float64   `json:"rate"` // instantaneous ticks/second
	LastUpdate time.Time `json:"last_update"`
}
