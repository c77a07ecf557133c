package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradedash/internal/dashboard/memorystore"
)

const DefaultRESTTimeout = 30 * time.Second

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = DefaultRESTTimeout
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *RESTClient) BaseURL() string {
	return c.baseURL
}

// GetSymbols fetches the tradable symbols.
func (c *RESTClient) GetSymbols(ctx context.Context) ([]memorystore.Symbol, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "get symbols", http.MethodGet, "/api/symbols", nil, nil, &raw); err != nil {
		return nil, err
	}

	payloads, err := decodeList[SymbolPayload](raw, "symbols", "data")
	if err != nil {
		return nil, &Error{Op: "get symbols", Kind: KindDecode, Err: err}
	}

	symbols := make([]memorystore.Symbol, 0, len(payloads))
	for _, p := range payloads {
		if p.Symbol.Symbol == "" {
			continue
		}
		symbols = append(symbols, p.Symbol)
	}
	return symbols, nil
}

// GetTicks fetches the most recent ticks for symbol. Invalid rows are skipped, as are rows
// without a timestamp: stamping history with the fetch time would break (symbol, timestamp, price)
// de-duplication across refetches.
func (c *RESTClient) GetTicks(ctx context.Context, symbol string, limit int) ([]memorystore.Tick, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var raw json.RawMessage
	if err := c.do(ctx, "get ticks", http.MethodGet, "/api/ticks", q, nil, &raw); err != nil {
		return nil, err
	}

	payloads, err := decodeList[TickPayload](raw, "ticks", "data")
	if err != nil {
		return nil, &Error{Op: "get ticks", Kind: KindDecode, Err: err}
	}

	received := c.now()
	ticks := make([]memorystore.Tick, 0, len(payloads))
	for _, p := range payloads {
		if p.Timestamp == nil || p.Timestamp.IsZero() {
			continue
		}
		if p.Symbol == "" {
			p.Symbol = symbol
		}
		t, err := p.ToTick(received)
		if err != nil {
			continue
		}
		ticks = append(ticks, t)
	}
	return ticks, nil
}

// GetLatestTick fetches the newest tick for symbol.
func (c *RESTClient) GetLatestTick(ctx context.Context, symbol string) (memorystore.Tick, error) {
	var p TickPayload
	path := "/api/market/ticks/latest/" + url.PathEscape(strings.ToUpper(symbol))
	if err := c.do(ctx, "get latest tick", http.MethodGet, path, nil, nil, &p); err != nil {
		return memorystore.Tick{}, err
	}
	if p.Symbol == "" {
		p.Symbol = symbol
	}
	t, err := p.ToTick(c.now())
	if err != nil {
		return memorystore.Tick{}, &Error{Op: "get latest tick", Kind: KindDecode, Err: err}
	}
	return t, nil
}

// GetOHLCV fetches resampled candles for symbol at the given timeframe.
func (c *RESTClient) GetOHLCV(ctx context.Context, symbol string, tf Timeframe, limit int) ([]memorystore.Candle, error) {
	meta, err := ParseTimeframe(string(tf))
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("timeframe", meta.APIValue)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var raw json.RawMessage
	if err := c.do(ctx, "get ohlcv", http.MethodGet, "/api/ohlcv", q, nil, &raw); err != nil {
		return nil, err
	}

	payloads, err := decodeList[CandlePayload](raw, "candles", "data")
	if err != nil {
		return nil, &Error{Op: "get ohlcv", Kind: KindDecode, Err: err}
	}

	candles := make([]memorystore.Candle, 0, len(payloads))
	for _, p := range payloads {
		candle, err := p.ToCandle(strings.ToUpper(symbol), meta.APIValue)
		if err != nil {
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetSpread fetches spread statistics for a symbol pair over a rolling window.
func (c *RESTClient) GetSpread(ctx context.Context, symbol1, symbol2 string, window int) (SpreadAnalysis, error) {
	var out SpreadAnalysis
	err := c.do(ctx, "get spread", http.MethodGet, "/api/analytics/spread", pairQuery(symbol1, symbol2, window), nil, &out)
	return out, err
}

// GetCorrelation fetches rolling correlation statistics for a symbol pair.
func (c *RESTClient) GetCorrelation(ctx context.Context, symbol1, symbol2 string, window int) (CorrelationSummary, error) {
	var out CorrelationSummary
	err := c.do(ctx, "get correlation", http.MethodGet, "/api/analytics/correlation", pairQuery(symbol1, symbol2, window), nil, &out)
	return out, err
}

func pairQuery(symbol1, symbol2 string, window int) url.Values {
	q := url.Values{}
	q.Set("symbol1", strings.ToUpper(symbol1))
	q.Set("symbol2", strings.ToUpper(symbol2))
	if window > 0 {
		q.Set("window", strconv.Itoa(window))
	}
	return q
}

// ComputeAnalytics runs one server-side pair computation.
func (c *RESTClient) ComputeAnalytics(ctx context.Context, kind AnalyticsKind, req AnalyticsRequest) (AnalyticsResult, error) {
	switch kind {
	case AnalyticsZScore, AnalyticsCorrelation, AnalyticsHedgeRatio, AnalyticsCointegration:
	default:
		return AnalyticsResult{}, fmt.Errorf("unknown analytics kind %q", kind)
	}

	var out AnalyticsResult
	op := "compute " + string(kind)
	if err := c.do(ctx, op, http.MethodPost, "/api/analytics/"+string(kind), nil, req, &out); err != nil {
		return AnalyticsResult{}, err
	}
	return out, nil
}

// ListAlerts fetches every configured alert.
func (c *RESTClient) ListAlerts(ctx context.Context) ([]memorystore.Alert, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "list alerts", http.MethodGet, "/api/alerts", nil, nil, &raw); err != nil {
		return nil, err
	}

	payloads, err := decodeList[AlertPayload](raw, "alerts", "data")
	if err != nil {
		return nil, &Error{Op: "list alerts", Kind: KindDecode, Err: err}
	}

	alerts := make([]memorystore.Alert, 0, len(payloads))
	for _, p := range payloads {
		alerts = append(alerts, p.ToAlert())
	}
	return alerts, nil
}

// CreateAlert posts a new alert and returns the server's version of it.
func (c *RESTClient) CreateAlert(ctx context.Context, in AlertInput) (memorystore.Alert, error) {
	var p AlertPayload
	if err := c.do(ctx, "create alert", http.MethodPost, "/api/alerts", nil, in, &p); err != nil {
		return memorystore.Alert{}, err
	}
	return p.ToAlert(), nil
}

// UpdateAlert applies a partial update to alert id.
func (c *RESTClient) UpdateAlert(ctx context.Context, id string, upd AlertUpdate) (memorystore.Alert, error) {
	var raw json.RawMessage
	path := "/api/alerts/" + url.PathEscape(id)
	if err := c.do(ctx, "update alert", http.MethodPut, path, nil, upd, &raw); err != nil {
		return memorystore.Alert{}, err
	}

	var p AlertPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return memorystore.Alert{}, &Error{Op: "update alert", Kind: KindDecode, Err: err}
		}
	}
	if p.ID == "" {
		p.ID = ID(id)
	}
	return p.ToAlert(), nil
}

// DeleteAlert removes alert id.
func (c *RESTClient) DeleteAlert(ctx context.Context, id string) error {
	return c.do(ctx, "delete alert", http.MethodDelete, "/api/alerts/"+url.PathEscape(id), nil, nil, nil)
}

// AlertHistory fetches recent alert triggers.
func (c *RESTClient) AlertHistory(ctx context.Context, limit int) ([]memorystore.AlertTrigger, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var raw json.RawMessage
	if err := c.do(ctx, "alert history", http.MethodGet, "/api/alerts/history", q, nil, &raw); err != nil {
		return nil, err
	}

	payloads, err := decodeList[AlertTriggerPayload](raw, "history", "alerts", "data")
	if err != nil {
		return nil, &Error{Op: "alert history", Kind: KindDecode, Err: err}
	}

	received := c.now()
	out := make([]memorystore.AlertTrigger, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p.ToTrigger(received))
	}
	return out, nil
}

// Health checks the backend status.
func (c *RESTClient) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	err := c.do(ctx, "health", http.MethodGet, "/api/health", nil, nil, &out)
	return out, err
}

// Export fetches a raw export of dataType (e.g. "ticks", "ohlcv", "csv").
func (c *RESTClient) Export(ctx context.Context, dataType string, params url.Values) (ExportPayload, error) {
	op := "export " + dataType
	resp, err := c.send(ctx, op, http.MethodGet, "/api/export/"+url.PathEscape(dataType), params, nil)
	if err != nil {
		return ExportPayload{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExportPayload{}, &Error{Op: op, Kind: KindNetwork, Err: err}
	}

	filename := dataType
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if i := strings.Index(cd, "filename="); i >= 0 {
			filename = strings.Trim(cd[i+len("filename="):], `"; `)
		}
	}
	return ExportPayload{
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    filename,
		Data:        data,
	}, nil
}

// do sends a request and decodes a JSON response into out (nil discards the body).
func (c *RESTClient) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	resp, err := c.send(ctx, op, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &Error{Op: op, Kind: KindDecode, Err: err}
	}
	return nil
}

// send executes the request and returns the response on 2xx; the caller closes the body.
func (c *RESTClient) send(ctx context.Context, op, method, path string, query url.Values, body any) (*http.Response, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	// Construct the request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindNetwork, Err: err}
	}

	// Check HTTP status code
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &Error{Op: op, Kind: KindHTTP, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp, nil
}

// decodeList accepts a bare JSON array or an object wrapping it under one of keys.
// Elements that fail to decode are skipped.
func decodeList[T any](raw json.RawMessage, keys ...string) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] != '[' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		for _, k := range keys {
			if v, ok := obj[k]; ok {
				return decodeList[T](v)
			}
		}
		return nil, fmt.Errorf("no list under %v", keys)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(elems))
	for _, e := range elems {
		var v T
		if err := json.Unmarshal(e, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
