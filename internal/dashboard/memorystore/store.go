package memorystore

import (
	"sort"
	"sync"
	"time"
)

// ChangeKind tells subscribers which slice of state a mutation touched.
type ChangeKind string

const (
	ChangeTicks      ChangeKind = "ticks"
	ChangeCandles    ChangeKind = "candles"
	ChangeSelection  ChangeKind = "selection"
	ChangeSymbols    ChangeKind = "symbols"
	ChangeAnalytics  ChangeKind = "analytics"
	ChangeAlerts     ChangeKind = "alerts"
	ChangeConnection ChangeKind = "connection"
	ChangeStatus     ChangeKind = "status"
)

// Options bounds the store's windows.
type Options struct {
	MaxTicks         int
	MaxCandles       int
	MaxMetricHistory int
	MaxNotifications int

	// Now is the arrival clock used for rate computation.
	Now func() time.Time
}

// DefaultOptions mirrors the dashboard defaults.
func DefaultOptions() Options {
	return Options{
		MaxTicks:         500,
		MaxCandles:       200,
		MaxMetricHistory: 100,
		MaxNotifications: 50,
		Now:              time.Now,
	}
}

// Store is the single source of truth for market data, analytics, alerts and connection state.
// Writers (socket handler, scheduler, query layer) go through its methods only.
type Store struct {
	mu sync.RWMutex

	opts           Options
	selectedSymbol string
	timeframe      string

	ticks         *SlidingWindow[Tick]
	candles       *SlidingWindow[Candle]
	latestTick    *Tick
	latestCandle  *Candle
	stats         TickStats
	symbols       []Symbol
	analytics     AnalyticsState
	inflight      map[Cadence]int
	alerts        []Alert
	notifications *SlidingWindow[AlertTrigger]
	connection    ConnectionState
	statusMessage string

	subMu       sync.RWMutex
	nextSubID   int
	subscribers map[int]func(ChangeKind)
}

// NewStore creates a store; zero-valued options fall back to the defaults.
func NewStore(opts Options) *Store {
	def := DefaultOptions()
	if opts.MaxTicks <= 0 {
		opts.MaxTicks = def.MaxTicks
	}
	if opts.MaxCandles <= 0 {
		opts.MaxCandles = def.MaxCandles
	}
	if opts.MaxMetricHistory <= 0 {
		opts.MaxMetricHistory = def.MaxMetricHistory
	}
	if opts.MaxNotifications <= 0 {
		opts.MaxNotifications = def.MaxNotifications
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}

	return &Store{
		opts:          opts,
		ticks:         NewSlidingWindow[Tick](opts.MaxTicks),
		candles:       NewSlidingWindow[Candle](opts.MaxCandles),
		notifications: NewSlidingWindow[AlertTrigger](opts.MaxNotifications),
		analytics:     newAnalyticsState(),
		inflight:      make(map[Cadence]int),
		connection:    ConnectionState{Status: StatusDisconnected},
		subscribers:   make(map[int]func(ChangeKind)),
	}
}

func newAnalyticsState() AnalyticsState {
	return AnalyticsState{
		Current:  make(map[string]Metric),
		History:  make(map[string][]Metric),
		Cadences: make(map[Cadence]CadenceStatus),
	}
}

// Subscribe registers fn to be called after every mutation. The returned func unsubscribes.
// fn runs on the mutating goroutine after the store lock is released; it should re-read via Snapshot.
func (s *Store) Subscribe(fn func(ChangeKind)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(kind ChangeKind) {
	s.subMu.RLock()
	fns := make([]func(ChangeKind), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(kind)
	}
}

// AddTick appends a live tick to the tick window and updates counters and rate.
func (s *Store) AddTick(t Tick) {
	s.mu.Lock()
	s.pushTickLocked(t)
	s.mu.Unlock()

	s.publish(ChangeTicks)
}

// AddTicks applies AddTick for each tick under a single lock and a single notification.
func (s *Store) AddTicks(ticks []Tick) {
	if len(ticks) == 0 {
		return
	}
	s.mu.Lock()
	for _, t := range ticks {
		s.pushTickLocked(t)
	}
	s.mu.Unlock()

	s.publish(ChangeTicks)
}

// pushTickLocked computes the instantaneous rate as 1/Δt between consecutive updates.
// Δt == 0 keeps the previous rate.
func (s *Store) pushTickLocked(t Tick) {
	s.ticks.Push(t)
	latest := t
	s.latestTick = &latest

	now := s.opts.Now()
	if !s.stats.LastUpdate.IsZero() {
		if dt := now.Sub(s.stats.LastUpdate).Seconds(); dt > 0 {
			s.stats.Rate = 1 / dt
		}
	}
	s.stats.TotalTicks++
	s.stats.LastUpdate = now
}

// AddOrReplaceCandle replaces the candle with the same (symbol, timestamp) in place,
// otherwise inserts it in timestamp order. Oldest candles are evicted past the bound.
func (s *Store) AddOrReplaceCandle(c Candle) {
	s.mu.Lock()
	replaced := false
	k := c.key()
	for i := s.candles.Len() - 1; i >= 0; i-- {
		if s.candles.At(i).key() == k {
			s.candles.Set(i, c)
			replaced = true
			break
		}
	}
	if !replaced {
		last, ok := s.candles.Last()
		if !ok || !c.Timestamp.Before(last.Timestamp) {
			s.candles.Push(c)
		} else {
			items := append(s.candles.Items(), c)
			sortCandles(items)
			s.candles.Replace(items)
		}
	}
	if last, ok := s.candles.Last(); ok {
		s.latestCandle = &last
	}
	s.mu.Unlock()

	s.publish(ChangeCandles)
}

// BulkMergeTicks merges historical ticks by (symbol, timestamp, price), sorts by timestamp
// and truncates to the window bound. Merging the same batch twice is a no-op the second time.
func (s *Store) BulkMergeTicks(ticks []Tick) {
	s.mu.Lock()
	existing := s.ticks.Items()
	seen := make(map[tickKey]struct{}, len(existing)+len(ticks))
	merged := make([]Tick, 0, len(existing)+len(ticks))
	for _, t := range existing {
		seen[t.key()] = struct{}{}
		merged = append(merged, t)
	}
	for _, t := range ticks {
		k := t.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, t)
	}
	sortTicks(merged)
	s.ticks.Replace(merged)
	if last, ok := s.ticks.Last(); ok {
		s.latestTick = &last
	}
	s.mu.Unlock()

	s.publish(ChangeTicks)
}

// BulkMergeCandles merges historical candles by (symbol, timestamp); batch values win.
func (s *Store) BulkMergeCandles(candles []Candle) {
	s.mu.Lock()
	existing := s.candles.Items()
	index := make(map[candleKey]int, len(existing)+len(candles))
	merged := make([]Candle, 0, len(existing)+len(candles))
	for _, c := range existing {
		index[c.key()] = len(merged)
		merged = append(merged, c)
	}
	for _, c := range candles {
		k := c.key()
		if i, ok := index[k]; ok {
			merged[i] = c
			continue
		}
		index[k] = len(merged)
		merged = append(merged, c)
	}
	sortCandles(merged)
	s.candles.Replace(merged)
	if last, ok := s.candles.Last(); ok {
		s.latestCandle = &last
	}
	s.mu.Unlock()

	s.publish(ChangeCandles)
}

// sortTicks orders by timestamp with symbol and price as tie-breakers,
// so the order never depends on merge order.
func sortTicks(t []Tick) {
	sort.SliceStable(t, func(i, j int) bool {
		if !t[i].Timestamp.Equal(t[j].Timestamp) {
			return t[i].Timestamp.Before(t[j].Timestamp)
		}
		if t[i].Symbol != t[j].Symbol {
			return t[i].Symbol < t[j].Symbol
		}
		return t[i].Price < t[j].Price
	})
}

func sortCandles(c []Candle) {
	sort.SliceStable(c, func(i, j int) bool {
		if !c[i].Timestamp.Equal(c[j].Timestamp) {
			return c[i].Timestamp.Before(c[j].Timestamp)
		}
		return c[i].Symbol < c[j].Symbol
	})
}

// SetSelectedSymbol switches the focused symbol and clears tick/candle windows and latest pointers.
func (s *Store) SetSelectedSymbol(symbol string) {
	s.mu.Lock()
	s.selectedSymbol = symbol
	s.ticks.Clear()
	s.candles.Clear()
	s.latestTick = nil
	s.latestCandle = nil
	s.stats = TickStats{}
	s.mu.Unlock()

	s.publish(ChangeSelection)
}

// SetTimeframe switches the candle interval and clears the candle window only.
func (s *Store) SetTimeframe(tf string) {
	s.mu.Lock()
	s.timeframe = tf
	s.candles.Clear()
	s.latestCandle = nil
	s.mu.Unlock()

	s.publish(ChangeSelection)
}

func (s *Store) SelectedSymbol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedSymbol
}

func (s *Store) Timeframe() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeframe
}

// Ticks returns a copy of the tick window in arrival order.
func (s *Store) Ticks() []Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks.Items()
}

// Candles returns a copy of the candle window in timestamp order.
func (s *Store) Candles() []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.candles.Items()
}

// SetSymbols replaces the symbol reference list.
func (s *Store) SetSymbols(symbols []Symbol) {
	s.mu.Lock()
	s.symbols = append([]Symbol(nil), symbols...)
	s.mu.Unlock()

	s.publish(ChangeSymbols)
}

// SetMetric replaces the current value for m.Name and appends it to the bounded history.
func (s *Store) SetMetric(m Metric) {
	s.mu.Lock()
	s.analytics.Current[m.Name] = m
	h := append(s.analytics.History[m.Name], m)
	if over := len(h) - s.opts.MaxMetricHistory; over > 0 {
		h = append([]Metric(nil), h[over:]...)
	}
	s.analytics.History[m.Name] = h
	s.mu.Unlock()

	s.publish(ChangeAnalytics)
}

// SetCadenceLoading counts a request of cadence c in (true) or out (false) without touching
// its last error. The cadence reads as loading while any request is in flight.
func (s *Store) SetCadenceLoading(c Cadence, loading bool) {
	s.mu.Lock()
	if loading {
		s.inflight[c]++
	} else {
		s.finishLocked(c)
	}
	st := s.analytics.Cadences[c]
	st.Loading = s.inflight[c] > 0
	s.analytics.Cadences[c] = st
	s.mu.Unlock()

	s.publish(ChangeAnalytics)
}

func (s *Store) finishLocked(c Cadence) {
	if s.inflight[c] > 0 {
		s.inflight[c]--
	}
}

// SetCadenceError records a failed fetch for one cadence only.
func (s *Store) SetCadenceError(c Cadence, err error) {
	s.mu.Lock()
	s.finishLocked(c)
	st := s.analytics.Cadences[c]
	st.Loading = s.inflight[c] > 0
	if err != nil {
		st.Err = err.Error()
	} else {
		st.Err = ""
	}
	s.analytics.Cadences[c] = st
	s.mu.Unlock()

	s.publish(ChangeAnalytics)
}

// RecordCalculation records a successful fetch: latency, timestamp and the total counter.
func (s *Store) RecordCalculation(c Cadence, latency time.Duration) {
	s.mu.Lock()
	s.finishLocked(c)
	st := s.analytics.Cadences[c]
	st.Loading = s.inflight[c] > 0
	st.Err = ""
	st.LastLatency = latency
	st.LastUpdated = s.opts.Now()
	s.analytics.Cadences[c] = st
	s.analytics.TotalCalculations++
	s.mu.Unlock()

	s.publish(ChangeAnalytics)
}

// SetAlerts replaces the alert list.
func (s *Store) SetAlerts(alerts []Alert) {
	s.mu.Lock()
	s.alerts = cloneAlerts(alerts)
	s.mu.Unlock()

	s.publish(ChangeAlerts)
}

// ApplyAlertTrigger bumps TriggerCount/LastTriggered of the matching alert in place
// and records the notification. Unknown alert IDs are still recorded as notifications.
func (s *Store) ApplyAlertTrigger(tr AlertTrigger) {
	s.mu.Lock()
	for i := range s.alerts {
		if s.alerts[i].ID == tr.AlertID {
			at := tr.TriggeredAt
			s.alerts[i].TriggerCount++
			s.alerts[i].LastTriggered = &at
			break
		}
	}
	s.notifications.Push(tr)
	s.mu.Unlock()

	s.publish(ChangeAlerts)
}

// SetConnectionState mirrors the WebSocket client's state.
func (s *Store) SetConnectionState(cs ConnectionState) {
	s.mu.Lock()
	s.connection = cs
	s.mu.Unlock()

	s.publish(ChangeConnection)
}

// SetStatusMessage stores the last server status/error frame text.
func (s *Store) SetStatusMessage(msg string) {
	s.mu.Lock()
	s.statusMessage = msg
	s.mu.Unlock()

	s.publish(ChangeStatus)
}

// Snapshot returns a deep copy of the whole state for selectors.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		SelectedSymbol: s.selectedSymbol,
		Timeframe:      s.timeframe,
		Ticks:          s.ticks.Items(),
		Candles:        s.candles.Items(),
		Stats:          s.stats,
		Symbols:        append([]Symbol(nil), s.symbols...),
		Alerts:         cloneAlerts(s.alerts),
		Notifications:  s.notifications.Items(),
		Connection:     s.connection,
		StatusMessage:  s.statusMessage,
		Analytics:      cloneAnalytics(s.analytics),
	}
	if s.latestTick != nil {
		t := *s.latestTick
		st.LatestTick = &t
	}
	if s.latestCandle != nil {
		c := *s.latestCandle
		st.LatestCandle = &c
	}
	return st
}

func cloneAlerts(in []Alert) []Alert {
	if in == nil {
		return nil
	}
	out := make([]Alert, len(in))
	for i, a := range in {
		if a.LastTriggered != nil {
			t := *a.LastTriggered
			a.LastTriggered = &t
		}
		out[i] = a
	}
	return out
}

func cloneAnalytics(a AnalyticsState) AnalyticsState {
	out := newAnalyticsState()
	out.TotalCalculations = a.TotalCalculations
	for k, v := range a.Current {
		out.Current[k] = v
	}
	for k, v := range a.History {
		out.History[k] = append([]Metric(nil), v...)
	}
	for k, v := range a.Cadences {
		out.Cadences[k] = v
	}
	return out
}
