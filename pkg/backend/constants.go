package backend

import (
	"fmt"
	"time"
)

// Timeframe is the candle interval selected on the dashboard, e.g. "1m".
type Timeframe string

// TimeframeMeta holds the API value and the wall-clock span of a timeframe.
type TimeframeMeta struct {
	APIValue string
	Duration time.Duration
}

const (
	Timeframe1s  Timeframe = "1s"
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

var validTimeframes = map[Timeframe]TimeframeMeta{
	Timeframe1s:  {APIValue: "1s", Duration: time.Second},
	Timeframe1m:  {APIValue: "1m", Duration: time.Minute},
	Timeframe5m:  {APIValue: "5m", Duration: 5 * time.Minute},
	Timeframe15m: {APIValue: "15m", Duration: 15 * time.Minute},
	Timeframe30m: {APIValue: "30m", Duration: 30 * time.Minute},
	Timeframe1h:  {APIValue: "1h", Duration: time.Hour},
	Timeframe4h:  {APIValue: "4h", Duration: 4 * time.Hour},
	Timeframe1d:  {APIValue: "1d", Duration: 24 * time.Hour},
}

// IsValid checks if the Timeframe is a predefined one
func (t Timeframe) IsValid() bool {
	_, ok := validTimeframes[t]
	return ok
}

// ParseTimeframe parses a string into its TimeframeMeta
func ParseTimeframe(s string) (TimeframeMeta, error) {
	meta, ok := validTimeframes[Timeframe(s)]
	if !ok {
		return TimeframeMeta{}, fmt.Errorf("invalid timeframe: %s", s)
	}
	return meta, nil
}

// Outbound WebSocket message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
)

// OutboundMessage is a client -> server WebSocket frame.
type OutboundMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
}
