package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tradedash/internal/dashboard/memorystore"

	"github.com/google/uuid"
)

// Timestamp accepts epoch milliseconds (number or numeric string) or ISO-8601 text.
type Timestamp struct {
	time.Time
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = fromEpoch(f)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// ParseTimestamp parses ISO-8601 (with or without zone; zoneless is UTC) or epoch text.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f), nil
	}
	for _, layout := range isoLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// fromEpoch treats small values as seconds and larger ones as milliseconds.
func fromEpoch(f float64) time.Time {
	if math.Abs(f) < 1e11 {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return time.UnixMilli(int64(f)).UTC()
}

// Number accepts a JSON number or a quoted numeric string.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("not numeric: %q", s)
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("not numeric: %s", b)
	}
	*n = Number(f)
	return nil
}

// ID accepts a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// TickPayload is one tick as sent by REST and the stream.
type TickPayload struct {
	ID        ID         `json:"id"`
	Symbol    string     `json:"symbol"`
	Price     *Number    `json:"price"`
	Quantity  *Number    `json:"quantity"`
	Size      *Number    `json:"size"`
	Timestamp *Timestamp `json:"timestamp"`
}

var (
	ErrMissingSymbol = errors.New("missing symbol")
	ErrMissingPrice  = errors.New("missing numeric price")
)

// ToTick validates the payload and converts it. received stamps ticks without a timestamp.
// Ticks without an id get a generated one.
func (p TickPayload) ToTick(received time.Time) (memorystore.Tick, error) {
	if strings.TrimSpace(p.Symbol) == "" {
		return memorystore.Tick{}, ErrMissingSymbol
	}
	if p.Price == nil || math.IsNaN(float64(*p.Price)) || math.IsInf(float64(*p.Price), 0) {
		return memorystore.Tick{}, ErrMissingPrice
	}

	t := memorystore.Tick{
		ID:        string(p.ID),
		Symbol:    strings.ToUpper(strings.TrimSpace(p.Symbol)),
		Price:     float64(*p.Price),
		Timestamp: received.UTC(),
	}
	switch {
	case p.Quantity != nil:
		t.Quantity = float64(*p.Quantity)
	case p.Size != nil:
		t.Quantity = float64(*p.Size)
	}
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		t.Timestamp = p.Timestamp.Time
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return t, nil
}

// CandlePayload is one OHLCV row.
type CandlePayload struct {
	Symbol     string     `json:"symbol"`
	Interval   string     `json:"interval"`
	Timeframe  string     `json:"timeframe"`
	Timestamp  *Timestamp `json:"timestamp"`
	OpenTime   *Timestamp `json:"open_time"`
	Open       Number     `json:"open"`
	High       Number     `json:"high"`
	Low        Number     `json:"low"`
	Close      Number     `json:"close"`
	Volume     Number     `json:"volume"`
	TradeCount Number     `json:"trade_count"`
}

var ErrMissingTimestamp = errors.New("missing timestamp")

// ToCandle validates and converts. fallbackSymbol fills payloads that omit it (per-symbol REST routes).
func (p CandlePayload) ToCandle(fallbackSymbol, fallbackInterval string) (memorystore.Candle, error) {
	symbol := strings.TrimSpace(p.Symbol)
	if symbol == "" {
		symbol = fallbackSymbol
	}
	if symbol == "" {
		return memorystore.Candle{}, ErrMissingSymbol
	}
	ts := p.Timestamp
	if ts == nil || ts.IsZero() {
		ts = p.OpenTime
	}
	if ts == nil || ts.IsZero() {
		return memorystore.Candle{}, ErrMissingTimestamp
	}
	interval := p.Interval
	if interval == "" {
		interval = p.Timeframe
	}
	if interval == "" {
		interval = fallbackInterval
	}
	return memorystore.Candle{
		Symbol:     strings.ToUpper(symbol),
		Interval:   interval,
		Timestamp:  ts.Time,
		Open:       float64(p.Open),
		High:       float64(p.High),
		Low:        float64(p.Low),
		Close:      float64(p.Close),
		Volume:     float64(p.Volume),
		TradeCount: int64(p.TradeCount),
	}, nil
}

// SymbolPayload accepts either a bare string or an object.
type SymbolPayload struct {
	memorystore.Symbol
}

func (s *SymbolPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &s.Symbol.Symbol)
	}
	var obj struct {
		Symbol    string `json:"symbol"`
		Exchange  string `json:"exchange"`
		AssetType string `json:"asset_type"`
		AssetTyp2 string `json:"assetType"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	s.Symbol = memorystore.Symbol{Symbol: obj.Symbol, Exchange: obj.Exchange, AssetType: obj.AssetType}
	if s.AssetType == "" {
		s.AssetType = obj.AssetTyp2
	}
	return nil
}

// AlertPayload tolerates both the alert and user-alert shapes of the backend.
type AlertPayload struct {
	ID             ID         `json:"id"`
	Symbol         string     `json:"symbol"`
	SymbolPair     string     `json:"symbol_pair"`
	Condition      string     `json:"condition"`
	ConditionType  string     `json:"condition_type"`
	Threshold      *Number    `json:"threshold"`
	ThresholdValue *Number    `json:"threshold_value"`
	IsActive       *bool      `json:"is_active"`
	IsEnabled      *bool      `json:"is_enabled"`
	Severity       string     `json:"severity"`
	TriggerCount   Number     `json:"trigger_count"`
	LastTriggered  *Timestamp `json:"last_triggered"`
}

func (p AlertPayload) ToAlert() memorystore.Alert {
	a := memorystore.Alert{
		ID:            string(p.ID),
		SymbolOrPair:  p.Symbol,
		ConditionType: p.Condition,
		Severity:      p.Severity,
		TriggerCount:  int(p.TriggerCount),
		IsActive:      true,
	}
	if a.SymbolOrPair == "" {
		a.SymbolOrPair = p.SymbolPair
	}
	if a.ConditionType == "" {
		a.ConditionType = p.ConditionType
	}
	switch {
	case p.Threshold != nil:
		a.ThresholdValue = float64(*p.Threshold)
	case p.ThresholdValue != nil:
		a.ThresholdValue = float64(*p.ThresholdValue)
	}
	switch {
	case p.IsActive != nil:
		a.IsActive = *p.IsActive
	case p.IsEnabled != nil:
		a.IsActive = *p.IsEnabled
	}
	if p.LastTriggered != nil && !p.LastTriggered.IsZero() {
		t := p.LastTriggered.Time
		a.LastTriggered = &t
	}
	return a
}

// AlertTriggerPayload is a live alert notification or an alert history row.
type AlertTriggerPayload struct {
	AlertID     ID         `json:"alert_id"`
	ID          ID         `json:"id"`
	Symbol      string     `json:"symbol"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Severity    string     `json:"severity"`
	ActualValue *Number    `json:"actual_value"`
	Value       *Number    `json:"value"`
	TriggeredAt *Timestamp `json:"triggered_at"`
	Timestamp   *Timestamp `json:"timestamp"`
}

func (p AlertTriggerPayload) ToTrigger(received time.Time) memorystore.AlertTrigger {
	tr := memorystore.AlertTrigger{
		AlertID:     string(p.AlertID),
		Symbol:      p.Symbol,
		Message:     p.Message,
		Severity:    p.Severity,
		TriggeredAt: received.UTC(),
	}
	if tr.AlertID == "" {
		tr.AlertID = string(p.ID)
	}
	if tr.Message == "" {
		tr.Message = p.Title
	}
	switch {
	case p.ActualValue != nil:
		tr.Value = float64(*p.ActualValue)
	case p.Value != nil:
		tr.Value = float64(*p.Value)
	}
	switch {
	case p.TriggeredAt != nil && !p.TriggeredAt.IsZero():
		tr.TriggeredAt = p.TriggeredAt.Time
	case p.Timestamp != nil && !p.Timestamp.IsZero():
		tr.TriggeredAt = p.Timestamp.Time
	}
	return tr
}

// AlertInput is the body of alert create requests.
type AlertInput struct {
	Symbol    string   `json:"symbol" validate:"required,min=2,max=32"`
	Condition string   `json:"condition" validate:"required,oneof=above below crosses_above crosses_below"`
	Threshold *float64 `json:"threshold" validate:"required"`
	AlertType string   `json:"alert_type,omitempty" validate:"omitempty,oneof=price volume indicator z_score spread correlation"`
	Severity  string   `json:"severity,omitempty" validate:"omitempty,oneof=Low Medium High Critical"`
	Message   string   `json:"message,omitempty" validate:"max=500"`
	UserID    string   `json:"user_id,omitempty"`
}

// AlertUpdate is the body of alert update requests; nil fields are left unchanged.
type AlertUpdate struct {
	IsActive  *bool    `json:"is_active,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Condition string   `json:"condition,omitempty" validate:"omitempty,oneof=above below crosses_above crosses_below"`
}

// AnalyticsKind selects a POST /api/analytics/{kind} computation.
type AnalyticsKind string

const (
	AnalyticsZScore        AnalyticsKind = "z-score"
	AnalyticsCorrelation   AnalyticsKind = "correlation"
	AnalyticsHedgeRatio    AnalyticsKind = "hedge-ratio"
	AnalyticsCointegration AnalyticsKind = "cointegration"
)

// AnalyticsRequest is the pair-analytics request body.
type AnalyticsRequest struct {
	Symbol1         string `json:"symbol1"`
	Symbol2         string `json:"symbol2"`
	WindowMinutes   int    `json:"window_minutes,omitempty"`
	LookbackPeriods int    `json:"lookback_periods,omitempty"`
}

// AnalyticsResult carries whichever fields the computation returns.
type AnalyticsResult struct {
	Symbol1        string             `json:"symbol1"`
	Symbol2        string             `json:"symbol2"`
	Correlation    *float64           `json:"correlation,omitempty"`
	HedgeRatio     *float64           `json:"hedge_ratio,omitempty"`
	ZScore         *float64           `json:"z_score,omitempty"`
	ADFStatistic   *float64           `json:"adf_statistic,omitempty"`
	PValue         *float64           `json:"p_value,omitempty"`
	CriticalValues map[string]float64 `json:"critical_values,omitempty"`
	IsCointegrated *bool              `json:"is_cointegrated,omitempty"`
	Timestamp      Timestamp          `json:"timestamp"`
}

// SpreadAnalysis is the GET /api/analytics/spread response.
type SpreadAnalysis struct {
	Symbol1       string    `json:"symbol1"`
	Symbol2       string    `json:"symbol2"`
	Window        int       `json:"window"`
	HedgeRatio    float64   `json:"hedge_ratio"`
	HedgeRatioR2  float64   `json:"hedge_ratio_r2"`
	SpreadMean    float64   `json:"spread_mean"`
	SpreadStd     float64   `json:"spread_std"`
	SpreadMin     float64   `json:"spread_min"`
	SpreadMax     float64   `json:"spread_max"`
	CurrentSpread *float64  `json:"current_spread,omitempty"`
	ZScore        *float64  `json:"z_score,omitempty"`
	Timestamp     Timestamp `json:"timestamp"`
}

// CorrelationSummary is the GET /api/analytics/correlation response.
type CorrelationSummary struct {
	Symbol1            string    `json:"symbol1"`
	Symbol2            string    `json:"symbol2"`
	Window             int       `json:"window"`
	CurrentCorrelation float64   `json:"current_correlation"`
	MeanCorrelation    float64   `json:"mean_correlation"`
	StdCorrelation     float64   `json:"std_correlation"`
	MinCorrelation     float64   `json:"min_correlation"`
	MaxCorrelation     float64   `json:"max_correlation"`
	Interpretation     string    `json:"interpretation"`
	DataPoints         int       `json:"data_points"`
	Timestamp          Timestamp `json:"timestamp"`
}

// HealthStatus is the GET /api/health response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp Timestamp `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ExportPayload is a raw export body.
type ExportPayload struct {
	ContentType string
	Filename    string
	Data        []byte
}
