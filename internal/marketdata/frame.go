package marketdata

import (
	"math"
	"sort"
	"time"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// Frame is a timestamp-indexed view over several symbols' bars. The index
// is the sorted union of the per-symbol timestamp sets; cells where a symbol
// has no bar are NaN. Timestamps are strictly increasing with no duplicates
// per symbol by construction (tables are).
type Frame struct {
	timestamps []time.Time
	symbols    []string
	cols       map[string]frameCol
}

type frameCol struct {
	open, high, low, close_, volume []float64
}

// NewFrame builds a frame from per-symbol tables. Symbol order is preserved
// as given; iteration order over the universe matters for trade tie-breaks.
func NewFrame(symbols []string, tables map[string]*Table) *Frame {
	union := make(map[int64]struct{})
	for _, sym := range symbols {
		if t := tables[sym]; t != nil {
			for _, d := range t.Dates {
				union[d] = struct{}{}
			}
		}
	}
	dates := make([]int64, 0, len(union))
	for d := range union {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })

	index := make(map[int64]int, len(dates))
	timestamps := make([]time.Time, len(dates))
	for i, d := range dates {
		index[d] = i
		timestamps[i] = time.Unix(d, 0).UTC()
	}

	f := &Frame{
		timestamps: timestamps,
		symbols:    append([]string(nil), symbols...),
		cols:       make(map[string]frameCol, len(symbols)),
	}
	for _, sym := range symbols {
		col := frameCol{
			open:   nanSlice(len(dates)),
			high:   nanSlice(len(dates)),
			low:    nanSlice(len(dates)),
			close_: nanSlice(len(dates)),
			volume: nanSlice(len(dates)),
		}
		if t := tables[sym]; t != nil {
			for i, d := range t.Dates {
				j := index[d]
				col.open[j] = t.Open[i]
				col.high[j] = t.High[i]
				col.low[j] = t.Low[i]
				col.close_[j] = t.Close[i]
				col.volume[j] = t.Volume[i]
			}
		}
		f.cols[sym] = col
	}
	return f
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// Len returns the number of timestamps in the union index.
func (f *Frame) Len() int { return len(f.timestamps) }

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool { return f.Len() == 0 }

// Timestamps returns the union index in ascending order.
func (f *Frame) Timestamps() []time.Time { return f.timestamps }

// Symbols returns the universe in its original order.
func (f *Frame) Symbols() []string { return f.symbols }

// Field returns one cell; ok is false when the symbol has no bar there.
func (f *Frame) Field(symbol, field string, i int) (float64, bool) {
	col, exists := f.cols[symbol]
	if !exists || i < 0 || i >= f.Len() {
		return 0, false
	}
	var v float64
	switch field {
	case "open":
		v = col.open[i]
	case "high":
		v = col.high[i]
	case "low":
		v = col.low[i]
	case "close":
		v = col.close_[i]
	case "volume":
		v = col.volume[i]
	default:
		return 0, false
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// History returns up to n non-missing values of a field ending at index i
// inclusive, oldest first.
func (f *Frame) History(symbol, field string, i, n int) []float64 {
	out := make([]float64, 0, n)
	for j := i; j >= 0 && len(out) < n; j-- {
		if v, ok := f.Field(symbol, field, j); ok {
			out = append(out, v)
		}
	}
	// reverse into chronological order
	for a, b := 0, len(out)-1; a < b; a, b = a+1, b-1 {
		out[a], out[b] = out[b], out[a]
	}
	return out
}

// CanonicalTimeline returns the indexes the engine should iterate: the
// intersection of per-symbol timestamp sets, so every bar sees the whole
// universe; when the calendars share no timestamps at all it falls back to
// the union.
func (f *Frame) CanonicalTimeline() []int {
	intersection := make([]int, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		all := true
		for _, sym := range f.symbols {
			if _, ok := f.Field(sym, "close", i); !ok {
				all = false
				break
			}
		}
		if all {
			intersection = append(intersection, i)
		}
	}
	if len(intersection) > 0 {
		return intersection
	}
	union := make([]int, f.Len())
	for i := range union {
		union[i] = i
	}
	return union
}

// ToSeries converts the frame back to per-symbol wire series. NaN rows are
// dropped per symbol (the sandbox payload carries only real bars).
func (f *Frame) ToSeries() map[string]domain.SymbolSeries {
	out := make(map[string]domain.SymbolSeries, len(f.symbols))
	for _, sym := range f.symbols {
		s := domain.SymbolSeries{}
		for i := 0; i < f.Len(); i++ {
			c, ok := f.Field(sym, "close", i)
			if !ok {
				continue
			}
			o, _ := f.Field(sym, "open", i)
			h, _ := f.Field(sym, "high", i)
			l, _ := f.Field(sym, "low", i)
			v, _ := f.Field(sym, "volume", i)
			s.Date = append(s.Date, f.timestamps[i].Format(time.RFC3339))
			s.Open = append(s.Open, o)
			s.High = append(s.High, h)
			s.Low = append(s.Low, l)
			s.Close = append(s.Close, c)
			s.Volume = append(s.Volume, v)
		}
		out[sym] = s
	}
	return out
}

// FrameFromSeries rebuilds a frame from wire series (sandbox child side).
func FrameFromSeries(series map[string]domain.SymbolSeries) (*Frame, error) {
	symbols := make([]string, 0, len(series))
	for sym := range series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	tables := make(map[string]*Table, len(symbols))
	for _, sym := range symbols {
		t, err := TableFromSeries(series[sym])
		if err != nil {
			return nil, err
		}
		tables[sym] = t
	}
	return NewFrame(symbols, tables), nil
}
