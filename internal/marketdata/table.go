// Package marketdata provides historical OHLCV retrieval with a durable
// per-symbol cache, atomic writes, per-symbol concurrency control, and
// resampling from daily bars to larger bar sizes.
package marketdata

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// Table is the columnar per-symbol daily OHLCV store. Dates are UTC
// midnights as unix seconds, strictly increasing. A Table never contains
// NaN rows; rows with missing fields are dropped before construction.
//
// This is the cache file format as well (msgpack-encoded), so field tags
// are part of the on-disk contract.
type Table struct {
	Dates  []int64   `msgpack:"dates"`
	Open   []float64 `msgpack:"open"`
	High   []float64 `msgpack:"high"`
	Low    []float64 `msgpack:"low"`
	Close  []float64 `msgpack:"close"`
	Volume []float64 `msgpack:"volume"`
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Dates)
}

// MinDate returns the first row's date. Zero time for an empty table.
func (t *Table) MinDate() time.Time {
	if t.Len() == 0 {
		return time.Time{}
	}
	return time.Unix(t.Dates[0], 0).UTC()
}

// MaxDate returns the last row's date. Zero time for an empty table.
func (t *Table) MaxDate() time.Time {
	if t.Len() == 0 {
		return time.Time{}
	}
	return time.Unix(t.Dates[t.Len()-1], 0).UTC()
}

// row is used internally when merging and sorting.
type row struct {
	date       int64
	o, h, l, c float64
	v          float64
}

func (t *Table) rows() []row {
	out := make([]row, 0, t.Len())
	for i := range t.Dates {
		out = append(out, row{t.Dates[i], t.Open[i], t.High[i], t.Low[i], t.Close[i], t.Volume[i]})
	}
	return out
}

func tableFromRows(rows []row) *Table {
	t := &Table{
		Dates:  make([]int64, 0, len(rows)),
		Open:   make([]float64, 0, len(rows)),
		High:   make([]float64, 0, len(rows)),
		Low:    make([]float64, 0, len(rows)),
		Close:  make([]float64, 0, len(rows)),
		Volume: make([]float64, 0, len(rows)),
	}
	for _, r := range rows {
		t.Dates = append(t.Dates, r.date)
		t.Open = append(t.Open, r.o)
		t.High = append(t.High, r.h)
		t.Low = append(t.Low, r.l)
		t.Close = append(t.Close, r.c)
		t.Volume = append(t.Volume, r.v)
	}
	return t
}

// Merge combines two tables, deduplicating by date with the other table
// winning ties. The result is sorted strictly ascending.
func (t *Table) Merge(other *Table) *Table {
	byDate := make(map[int64]row, t.Len()+other.Len())
	for _, r := range t.rows() {
		byDate[r.date] = r
	}
	for _, r := range other.rows() {
		byDate[r.date] = r
	}
	merged := make([]row, 0, len(byDate))
	for _, r := range byDate {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].date < merged[j].date })
	return tableFromRows(merged)
}

// Trim returns the sub-table with dates in [start, end] inclusive.
func (t *Table) Trim(start, end time.Time) *Table {
	s, e := start.Unix(), end.Unix()
	lo := sort.Search(t.Len(), func(i int) bool { return t.Dates[i] >= s })
	hi := sort.Search(t.Len(), func(i int) bool { return t.Dates[i] > e })
	return &Table{
		Dates:  t.Dates[lo:hi],
		Open:   t.Open[lo:hi],
		High:   t.High[lo:hi],
		Low:    t.Low[lo:hi],
		Close:  t.Close[lo:hi],
		Volume: t.Volume[lo:hi],
	}
}

// Validate checks the cache invariants: strictly increasing dates, no NaN
// or infinite values, positive prices.
func (t *Table) Validate() error {
	n := t.Len()
	if len(t.Open) != n || len(t.High) != n || len(t.Low) != n || len(t.Close) != n || len(t.Volume) != n {
		return fmt.Errorf("column length mismatch")
	}
	for i := 0; i < n; i++ {
		if i > 0 && t.Dates[i] <= t.Dates[i-1] {
			return fmt.Errorf("dates not strictly increasing at row %d", i)
		}
		for _, v := range []float64{t.Open[i], t.High[i], t.Low[i], t.Close[i], t.Volume[i]} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("non-finite value at row %d", i)
			}
		}
	}
	return nil
}

// ToSeries converts the table to the wire format crossing the sandbox
// boundary.
func (t *Table) ToSeries() domain.SymbolSeries {
	s := domain.SymbolSeries{
		Date:   make([]string, 0, t.Len()),
		Open:   append([]float64(nil), t.Open...),
		High:   append([]float64(nil), t.High...),
		Low:    append([]float64(nil), t.Low...),
		Close:  append([]float64(nil), t.Close...),
		Volume: append([]float64(nil), t.Volume...),
	}
	for _, d := range t.Dates {
		s.Date = append(s.Date, time.Unix(d, 0).UTC().Format(time.RFC3339))
	}
	return s
}

// TableFromSeries rebuilds a Table from the wire format. Rows that fail to
// parse are rejected, not silently dropped.
func TableFromSeries(s domain.SymbolSeries) (*Table, error) {
	n := len(s.Date)
	if len(s.Open) != n || len(s.High) != n || len(s.Low) != n || len(s.Close) != n || len(s.Volume) != n {
		return nil, fmt.Errorf("series column length mismatch")
	}
	t := &Table{
		Dates:  make([]int64, 0, n),
		Open:   append([]float64(nil), s.Open...),
		High:   append([]float64(nil), s.High...),
		Low:    append([]float64(nil), s.Low...),
		Close:  append([]float64(nil), s.Close...),
		Volume: append([]float64(nil), s.Volume...),
	}
	for _, d := range s.Date {
		ts, err := time.Parse(time.RFC3339, d)
		if err != nil {
			return nil, fmt.Errorf("bad date %q: %w", d, err)
		}
		t.Dates = append(t.Dates, ts.UTC().Unix())
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
