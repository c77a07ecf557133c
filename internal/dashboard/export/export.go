package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"tradedash/internal/dashboard/memorystore"
	"tradedash/pkg/backend"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Data types accepted by WriteState and the backend export endpoint.
const (
	DataTicks     = "ticks"
	DataOHLCV     = "ohlcv"
	DataAlerts    = "alerts"
	DataAnalytics = "analytics"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// Filename is "<dataType>_YYYYMMDD_HHMMSS.<format>" in UTC.
func Filename(dataType string, f Format, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", dataType, now.UTC().Format("20060102_150405"), f)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// write renders items as an indented JSON array or as CSV with header.
func write[T any](w io.Writer, f Format, items []T, header []string, row func(T) []string) error {
	switch f {
	case FormatJSON:
		if items == nil {
			items = []T{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, item := range items {
			if err := cw.Write(row(item)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unsupported export format: %s", f)
	}
}

func WriteTicks(w io.Writer, f Format, ticks []memorystore.Tick) error {
	return write(w, f, ticks, []string{"id", "symbol", "price", "quantity", "timestamp"},
		func(t memorystore.Tick) []string {
			return []string{t.ID, t.Symbol, formatFloat(t.Price), formatFloat(t.Quantity), formatTime(t.Timestamp)}
		})
}

func WriteCandles(w io.Writer, f Format, candles []memorystore.Candle) error {
	return write(w, f, candles, []string{"symbol", "interval", "timestamp", "open", "high", "low", "close", "volume", "trade_count"},
		func(c memorystore.Candle) []string {
			return []string{
				c.Symbol,
				c.Interval,
				formatTime(c.Timestamp),
				formatFloat(c.Open),
				formatFloat(c.High),
				formatFloat(c.Low),
				formatFloat(c.Close),
				formatFloat(c.Volume),
				strconv.FormatInt(c.TradeCount, 10),
			}
		})
}

func WriteAlerts(w io.Writer, f Format, alerts []memorystore.Alert) error {
	return write(w, f, alerts, []string{"id", "symbol", "condition", "threshold", "is_active", "severity", "trigger_count", "last_triggered"},
		func(a memorystore.Alert) []string {
			last := ""
			if a.LastTriggered != nil {
				last = formatTime(*a.LastTriggered)
			}
			return []string{
				a.ID,
				a.SymbolOrPair,
				a.ConditionType,
				formatFloat(a.ThresholdValue),
				strconv.FormatBool(a.IsActive),
				a.Severity,
				strconv.Itoa(a.TriggerCount),
				last,
			}
		})
}

func WriteMetrics(w io.Writer, f Format, metrics []memorystore.Metric) error {
	return write(w, f, metrics, []string{"name", "kind", "value", "timestamp", "symbol", "symbol_pair"},
		func(m memorystore.Metric) []string {
			return []string{m.Name, string(m.Kind), formatFloat(m.Value), formatTime(m.Timestamp), m.Symbol, m.SymbolPair}
		})
}

// WriteState exports one slice of a store snapshot. Analytics exports every metric history,
// ordered by name then time.
func WriteState(w io.Writer, f Format, dataType string, st memorystore.State) error {
	switch dataType {
	case DataTicks:
		return WriteTicks(w, f, st.Ticks)
	case DataOHLCV:
		return WriteCandles(w, f, st.Candles)
	case DataAlerts:
		return WriteAlerts(w, f, st.Alerts)
	case DataAnalytics:
		names := make([]string, 0, len(st.Analytics.History))
		for name := range st.Analytics.History {
			names = append(names, name)
		}
		sort.Strings(names)
		var metrics []memorystore.Metric
		for _, name := range names {
			metrics = append(metrics, st.Analytics.History[name]...)
		}
		return WriteMetrics(w, f, metrics)
	default:
		return fmt.Errorf("unknown export data type: %s", dataType)
	}
}

// Exporter is the backend export endpoint.
type Exporter interface {
	Export(ctx context.Context, dataType string, params url.Values) (backend.ExportPayload, error)
}

// Download fetches a server-side export and copies it to w. It returns the server's file name.
func Download(ctx context.Context, e Exporter, dataType string, params url.Values, w io.Writer) (string, error) {
	payload, err := e.Export(ctx, dataType, params)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", dataType, err)
	}
	if _, err := w.Write(payload.Data); err != nil {
		return "", fmt.Errorf("write %s: %w", payload.Filename, err)
	}
	return payload.Filename, nil
}
