package marketdata

import (
	"time"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// Resample aggregates a daily table into the requested bar size. Buckets are
// calendar periods (week ending Friday, calendar month, calendar quarter)
// and each emitted bar carries the date of the last actual trading day in
// its bucket, not a synthetic period end. Aggregation is open=first,
// high=max, low=min, close=last, volume=sum.
func Resample(t *Table, barSize domain.BarSize) *Table {
	if barSize == domain.BarSizeDaily || t.Len() == 0 {
		return t
	}

	out := &Table{}
	var (
		curKey  int64
		started bool
		o, h, l, c, v float64
		lastDate int64
	)

	flush := func() {
		out.Dates = append(out.Dates, lastDate)
		out.Open = append(out.Open, o)
		out.High = append(out.High, h)
		out.Low = append(out.Low, l)
		out.Close = append(out.Close, c)
		out.Volume = append(out.Volume, v)
	}

	for i := 0; i < t.Len(); i++ {
		key := bucketKey(time.Unix(t.Dates[i], 0).UTC(), barSize)
		if !started || key != curKey {
			if started {
				flush()
			}
			started = true
			curKey = key
			o = t.Open[i]
			h = t.High[i]
			l = t.Low[i]
			v = 0
		}
		if t.High[i] > h {
			h = t.High[i]
		}
		if t.Low[i] < l {
			l = t.Low[i]
		}
		c = t.Close[i]
		v += t.Volume[i]
		lastDate = t.Dates[i]
	}
	if started {
		flush()
	}
	return out
}

// bucketKey maps a trading day to its calendar bucket.
func bucketKey(d time.Time, barSize domain.BarSize) int64 {
	switch barSize {
	case domain.BarSizeWeekly:
		// Week ending Friday: key by the date of that week's Friday.
		wd := int(d.Weekday()) // Sunday=0 .. Saturday=6
		var toFriday int
		switch {
		case wd == 6: // Saturday rolls into next week's Friday
			toFriday = 6
		case wd == 0: // Sunday likewise
			toFriday = 5
		default:
			toFriday = 5 - wd
		}
		return d.AddDate(0, 0, toFriday).Unix() / 86400
	case domain.BarSizeMonthly:
		return int64(d.Year())*12 + int64(d.Month()) - 1
	case domain.BarSizeQuarterly:
		return int64(d.Year())*4 + int64(d.Month()-1)/3
	default:
		return d.Unix() / 86400
	}
}
