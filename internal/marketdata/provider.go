package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// DefaultFloor is the earliest date ever fetched. Any request starting
// before it is widened to it; history older than this is out of scope.
var DefaultFloor = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// ipoBuffer applies to requests reaching back before the floor: a cached
// table whose first row is within this window of the requested start still
// counts as covering the range.
const ipoBuffer = 30 * 24 * time.Hour

// Provider serves historical OHLCV frames, backed by the per-symbol cache
// and the upstream client. Cache misses widen the fetch window to the full
// [floor, last trading day] span so a symbol is fetched at most a handful of
// times over its life.
type Provider struct {
	cache    *Cache
	locks    *Locks
	upstream Upstream
	log      zerolog.Logger

	// now is swapped in tests to pin the trading calendar.
	now func() time.Time
}

// NewProvider wires a provider from its parts.
func NewProvider(cache *Cache, upstream Upstream, log zerolog.Logger) *Provider {
	return &Provider{
		cache:    cache,
		locks:    NewLocks(),
		upstream: upstream,
		log:      log.With().Str("component", "market_data").Logger(),
		now:      time.Now,
	}
}

// GetData returns a frame of bars for the given symbols over [start, end],
// resampled to barSize. Symbols are uppercased; duplicates are collapsed.
func (p *Provider) GetData(ctx context.Context, symbols []string, start, end time.Time, barSize domain.BarSize) (*Frame, error) {
	switch barSize {
	case domain.BarSizeDaily, domain.BarSizeWeekly, domain.BarSizeMonthly, domain.BarSizeQuarterly:
	default:
		return nil, fmt.Errorf("unsupported bar size: %s", barSize)
	}

	normalized := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		normalized = append(normalized, u)
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("no symbols requested")
	}

	start = midnight(start)
	end = midnight(end)
	fetchStart := start
	if DefaultFloor.Before(fetchStart) {
		fetchStart = DefaultFloor
	}
	fetchEnd := p.lastTradingDay()
	if end.After(fetchEnd) {
		end = fetchEnd
	}

	// Lockless pre-scan: in the common case every symbol is already cached
	// and no locks are taken at all.
	missing := make([]string, 0, len(normalized))
	tables := make(map[string]*Table, len(normalized))
	for _, sym := range normalized {
		t, err := p.cache.Load(sym)
		if err != nil {
			return nil, err
		}
		if t != nil && covers(t, start, fetchEnd) {
			tables[sym] = t
		} else {
			missing = append(missing, sym)
		}
	}

	if len(missing) > 0 {
		release := p.locks.AcquireSorted(missing)
		err := p.fillMissing(ctx, missing, start, fetchStart, fetchEnd, tables)
		release()
		if err != nil {
			return nil, err
		}
	}

	trimmed := make(map[string]*Table, len(tables))
	for sym, t := range tables {
		trimmed[sym] = Resample(t.Trim(start, end), barSize)
	}

	frame := NewFrame(normalized, trimmed)
	if frame.Empty() {
		return nil, fmt.Errorf("no market data in range %s to %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return frame, nil
}

// fillMissing runs under the symbols' locks. Coverage is re-checked per
// symbol first: another request may have fetched it while we waited.
func (p *Provider) fillMissing(ctx context.Context, missing []string, start, fetchStart, fetchEnd time.Time, tables map[string]*Table) error {
	for _, sym := range missing {
		cached, err := p.cache.Load(sym)
		if err != nil {
			return err
		}
		if cached != nil && covers(cached, start, fetchEnd) {
			tables[sym] = cached
			continue
		}

		p.log.Info().
			Str("symbol", sym).
			Str("from", fetchStart.Format("2006-01-02")).
			Str("to", fetchEnd.Format("2006-01-02")).
			Msg("Fetching market data")

		fresh, err := p.upstream.FetchDaily(ctx, sym, fetchStart, fetchEnd)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", sym, err)
		}
		if fresh.Len() == 0 {
			return fmt.Errorf("no market data available for %s", sym)
		}

		merged := fresh
		if cached != nil {
			merged = cached.Merge(fresh)
		}
		if err := p.cache.Store(sym, merged); err != nil {
			// A failed cache write degrades future requests, not this one.
			p.log.Warn().Err(err).Str("symbol", sym).Msg("Failed to persist cache")
		}
		tables[sym] = merged
	}
	return nil
}

// covers reports whether a cached table spans [start, end]. Fetches are
// always widened to the floor, so for any start at or after the floor the
// cached table already holds everything upstream has: a first row after the
// start just means the symbol listed later, not that data is missing. Only
// a request reaching back before the floor needs the start side checked,
// with the IPO buffer tolerating near-start listings.
func covers(t *Table, start, end time.Time) bool {
	if t.Len() == 0 {
		return false
	}
	if start.Before(DefaultFloor) && t.MinDate().After(start.Add(ipoBuffer)) {
		return false
	}
	return !t.MaxDate().Before(end)
}

// lastTradingDay returns the most recent weekday strictly before today.
// Holidays are not modeled; a holiday gap just means one extra fetch with an
// identical result, which the merge absorbs.
func (p *Provider) lastTradingDay() time.Time {
	d := midnight(p.now().UTC()).AddDate(0, 0, -1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
