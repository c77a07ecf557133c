package stream

import (
	"encoding/json"
	"time"

	"tradedash/internal/dashboard/memorystore"
)

// Envelope is the outer shape of every server frame: {type, data, timestamp}.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// EventKind is the decoded message kind.
type EventKind string

const (
	KindTick      EventKind = "tick"
	KindCandle    EventKind = "candle"
	KindAlert     EventKind = "alert"
	KindStatus    EventKind = "status"
	KindError     EventKind = "error"
	KindPong      EventKind = "pong"
	KindAnalytics EventKind = "analytics"
	KindUnknown   EventKind = "unknown"
)

// Event is one decoded frame. The concrete type is one of the *Event structs below.
type Event interface {
	Kind() EventKind
}

// TickEvent carries the valid ticks of a frame; Dropped counts rejected elements.
type TickEvent struct {
	Ticks   []memorystore.Tick
	Dropped int
}

// CandleEvent carries the valid candles of an ohlcv/candle frame.
type CandleEvent struct {
	Candles []memorystore.Candle
	Dropped int
}

type AlertEvent struct {
	Trigger memorystore.AlertTrigger
}

// StatusEvent covers status, connection and subscribed frames.
type StatusEvent struct {
	Type    string
	Status  string
	Message string
	Clients int
}

type ErrorEvent struct {
	Message string
}

type PongEvent struct {
	At time.Time
}

// AnalyticsEvent carries server-computed pair metrics pushed over the stream.
type AnalyticsEvent struct {
	Metrics []memorystore.Metric
}

// UnknownEvent is any frame type this client does not handle.
type UnknownEvent struct {
	Type string
}

func (TickEvent) Kind() EventKind      { return KindTick }
func (CandleEvent) Kind() EventKind    { return KindCandle }
func (AlertEvent) Kind() EventKind     { return KindAlert }
func (StatusEvent) Kind() EventKind    { return KindStatus }
func (ErrorEvent) Kind() EventKind     { return KindError }
func (PongEvent) Kind() EventKind      { return KindPong }
func (AnalyticsEvent) Kind() EventKind { return KindAnalytics }
func (UnknownEvent) Kind() EventKind   { return KindUnknown }
