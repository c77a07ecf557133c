package memorystore

// State is an immutable copy of the store taken by Snapshot. Selectors below are pure over it.
type State struct {
	SelectedSymbol string
	Timeframe      string
	Ticks          []Tick
	Candles        []Candle
	LatestTick     *Tick
	LatestCandle   *Candle
	Stats          TickStats
	Symbols        []Symbol
	Analytics      AnalyticsState
	Alerts         []Alert
	Notifications  []AlertTrigger
	Connection     ConnectionState
	StatusMessage  string
}

// PriceStats summarizes the visible tick window. These are not true 24h figures
// unless the window happens to cover 24h.
type PriceStats struct {
	High          float64
	Low           float64
	Open          float64
	Last          float64
	Change        float64
	ChangePercent float64
	Volume        float64
	Count         int
}

// TicksForSymbol filters the tick window by symbol, preserving order.
func TicksForSymbol(st State, symbol string) []Tick {
	out := make([]Tick, 0, len(st.Ticks))
	for _, t := range st.Ticks {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}

// CandlesForSymbol filters the candle window by symbol, preserving order.
func CandlesForSymbol(st State, symbol string) []Candle {
	out := make([]Candle, 0, len(st.Candles))
	for _, c := range st.Candles {
		if c.Symbol == symbol {
			out = append(out, c)
		}
	}
	return out
}

// LastNTicks returns at most n of the newest ticks, oldest first.
func LastNTicks(st State, n int) []Tick {
	return lastN(st.Ticks, n)
}

// LastNCandles returns at most n of the newest candles, oldest first.
func LastNCandles(st State, n int) []Candle {
	return lastN(st.Candles, n)
}

func lastN[T any](items []T, n int) []T {
	if n <= 0 {
		return []T{}
	}
	if n > len(items) {
		n = len(items)
	}
	out := make([]T, n)
	copy(out, items[len(items)-n:])
	return out
}

// ComputePriceStats derives high/low/change over the given ticks.
func ComputePriceStats(ticks []Tick) PriceStats {
	if len(ticks) == 0 {
		return PriceStats{}
	}
	ps := PriceStats{
		High:  ticks[0].Price,
		Low:   ticks[0].Price,
		Open:  ticks[0].Price,
		Last:  ticks[len(ticks)-1].Price,
		Count: len(ticks),
	}
	for _, t := range ticks {
		if t.Price > ps.High {
			ps.High = t.Price
		}
		if t.Price < ps.Low {
			ps.Low = t.Price
		}
		ps.Volume += t.Quantity
	}
	ps.Change = ps.Last - ps.Open
	if ps.Open != 0 {
		ps.ChangePercent = ps.Change / ps.Open * 100
	}
	return ps
}

// SelectedPriceStats computes PriceStats for the selected symbol's visible ticks.
func SelectedPriceStats(st State) PriceStats {
	return ComputePriceStats(TicksForSymbol(st, st.SelectedSymbol))
}

// MetricHistory returns the retained values of one metric, oldest first.
func MetricHistory(st State, name string) []Metric {
	return append([]Metric(nil), st.Analytics.History[name]...)
}

// CurrentMetric returns the latest value of one metric.
func CurrentMetric(st State, name string) (Metric, bool) {
	m, ok := st.Analytics.Current[name]
	return m, ok
}

// ActiveAlerts returns alerts with IsActive set.
func ActiveAlerts(st State) []Alert {
	out := make([]Alert, 0, len(st.Alerts))
	for _, a := range st.Alerts {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out
}
