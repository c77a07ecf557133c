package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tradedash/internal/dashboard/memorystore"
	"tradedash/pkg/backend"

	"github.com/google/uuid"
)

var ErrMissingType = errors.New("frame has no type")

// analyticsFields maps analytics frame columns to metric names.
var analyticsFields = []string{"spread", "spread_mean", "spread_std", "z_score", "half_life", "hedge_ratio", "correlation"}

// Decode parses one frame. Only a malformed envelope is an error; bad elements inside a
// tick or candle batch are dropped and counted.
func Decode(msg []byte, received time.Time) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch env.Type {
	case "tick", "ticks", "trade":
		return decodeTicks(env.Data, received), nil
	case "ohlcv", "candle":
		return decodeCandles(env.Data), nil
	case "alert":
		var p backend.AlertTriggerPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		return AlertEvent{Trigger: p.ToTrigger(received)}, nil
	case "status", "connection", "subscribed":
		return decodeStatus(env.Type, env.Data), nil
	case "error":
		return ErrorEvent{Message: decodeMessage(env.Data)}, nil
	case "pong":
		at := received
		var ts backend.Timestamp
		if len(env.Timestamp) > 0 && json.Unmarshal(env.Timestamp, &ts) == nil && !ts.IsZero() {
			at = ts.Time
		}
		return PongEvent{At: at}, nil
	case "analytics":
		return decodeAnalytics(env.Data, received), nil
	default:
		return UnknownEvent{Type: env.Type}, nil
	}
}

// elements splits data into array elements; a single object is one element.
func elements(data json.RawMessage) []json.RawMessage {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] != '[' {
		return []json.RawMessage{data}
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil
	}
	return elems
}

func decodeTicks(data json.RawMessage, received time.Time) TickEvent {
	var ev TickEvent
	for _, raw := range elements(data) {
		var p backend.TickPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			ev.Dropped++
			continue
		}
		t, err := p.ToTick(received)
		if err != nil {
			ev.Dropped++
			continue
		}
		ev.Ticks = append(ev.Ticks, t)
	}
	return ev
}

func decodeCandles(data json.RawMessage) CandleEvent {
	var ev CandleEvent
	for _, raw := range elements(data) {
		var p backend.CandlePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			ev.Dropped++
			continue
		}
		c, err := p.ToCandle("", "")
		if err != nil {
			ev.Dropped++
			continue
		}
		ev.Candles = append(ev.Candles, c)
	}
	return ev
}

func decodeStatus(typ string, data json.RawMessage) StatusEvent {
	ev := StatusEvent{Type: typ}
	var body struct {
		Status  string   `json:"status"`
		Message string   `json:"message"`
		Clients int      `json:"clients"`
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		ev.Message = decodeMessage(data)
		return ev
	}
	ev.Status = body.Status
	ev.Message = body.Message
	ev.Clients = body.Clients
	if typ == "subscribed" && ev.Message == "" {
		ev.Message = fmt.Sprintf("subscribed to %v", body.Symbols)
	}
	return ev
}

// decodeMessage reads a bare string or a {message|error|detail} object.
func decodeMessage(data json.RawMessage) string {
	var s string
	if json.Unmarshal(data, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(data, &obj) == nil {
		switch {
		case obj.Message != "":
			return obj.Message
		case obj.Error != "":
			return obj.Error
		case obj.Detail != "":
			return obj.Detail
		}
	}
	return string(bytes.TrimSpace(data))
}

func decodeAnalytics(data json.RawMessage, received time.Time) AnalyticsEvent {
	var ev AnalyticsEvent
	for _, raw := range elements(data) {
		var row map[string]json.RawMessage
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}

		var pair, interval string
		_ = json.Unmarshal(row["symbol_pair"], &pair)
		_ = json.Unmarshal(row["interval"], &interval)

		ts := received
		var t backend.Timestamp
		if v, ok := row["timestamp"]; ok && json.Unmarshal(v, &t) == nil && !t.IsZero() {
			ts = t.Time
		}

		for _, name := range analyticsFields {
			v, ok := row[name]
			if !ok {
				continue
			}
			var f *float64
			if err := json.Unmarshal(v, &f); err != nil || f == nil {
				continue
			}
			m := memorystore.Metric{
				ID:         uuid.NewString(),
				Name:       name,
				Kind:       memorystore.KindCandleBased,
				Value:      *f,
				Timestamp:  ts,
				SymbolPair: pair,
				Metadata:   map[string]string{"source": "stream"},
			}
			if interval != "" {
				m.Metadata["interval"] = interval
			}
			ev.Metrics = append(ev.Metrics, m)
		}
	}
	return ev
}
