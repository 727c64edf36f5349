package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

func day(y int, m time.Month, d int) int64 {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
}

func testTable(dates ...int64) *Table {
	t := &Table{}
	for i, d := range dates {
		base := 100.0 + float64(i)
		t.Dates = append(t.Dates, d)
		t.Open = append(t.Open, base)
		t.High = append(t.High, base+1)
		t.Low = append(t.Low, base-1)
		t.Close = append(t.Close, base+0.5)
		t.Volume = append(t.Volume, 1000)
	}
	return t
}

func TestTableMergeDeduplicatesAndSorts(t *testing.T) {
	older := testTable(day(2024, 1, 2), day(2024, 1, 3))
	newer := testTable(day(2024, 1, 3), day(2024, 1, 4))
	newer.Close[0] = 999 // same date as older's second row

	merged := older.Merge(newer)

	require.Equal(t, 3, merged.Len())
	assert.True(t, merged.Dates[0] < merged.Dates[1] && merged.Dates[1] < merged.Dates[2])
	// The newer table wins date collisions.
	assert.Equal(t, 999.0, merged.Close[1])
}

func TestTableTrimInclusive(t *testing.T) {
	table := testTable(day(2024, 1, 2), day(2024, 1, 3), day(2024, 1, 4), day(2024, 1, 5))

	trimmed := table.Trim(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC))

	require.Equal(t, 2, trimmed.Len())
	assert.Equal(t, day(2024, 1, 3), trimmed.Dates[0])
	assert.Equal(t, day(2024, 1, 4), trimmed.Dates[1])
}

func TestTableValidateRejectsUnsortedDates(t *testing.T) {
	table := testTable(day(2024, 1, 3), day(2024, 1, 2))
	assert.Error(t, table.Validate())
}

func TestTableSeriesRoundTrip(t *testing.T) {
	table := testTable(day(2024, 1, 2), day(2024, 1, 3))

	back, err := TableFromSeries(table.ToSeries())
	require.NoError(t, err)
	assert.Equal(t, table.Dates, back.Dates)
	assert.Equal(t, table.Close, back.Close)
}

func TestResampleWeeklyUsesLastTradingDay(t *testing.T) {
	// Mon Jan 8 .. Thu Jan 11 2024, then Mon Jan 15: two partial weeks.
	table := testTable(
		day(2024, 1, 8), day(2024, 1, 9), day(2024, 1, 10), day(2024, 1, 11),
		day(2024, 1, 15),
	)

	weekly := Resample(table, domain.BarSizeWeekly)

	require.Equal(t, 2, weekly.Len())
	// First bar carries Thursday's date, not a synthetic Friday.
	assert.Equal(t, day(2024, 1, 11), weekly.Dates[0])
	assert.Equal(t, table.Open[0], weekly.Open[0])
	assert.Equal(t, table.Close[3], weekly.Close[0])
	assert.Equal(t, 4000.0, weekly.Volume[0])
	assert.Equal(t, day(2024, 1, 15), weekly.Dates[1])
}

func TestResampleMonthlyAggregates(t *testing.T) {
	table := testTable(day(2024, 1, 30), day(2024, 1, 31), day(2024, 2, 1))
	table.High[1] = 500

	monthly := Resample(table, domain.BarSizeMonthly)

	require.Equal(t, 2, monthly.Len())
	assert.Equal(t, day(2024, 1, 31), monthly.Dates[0])
	assert.Equal(t, 500.0, monthly.High[0])
	assert.Equal(t, day(2024, 2, 1), monthly.Dates[1])
}

func TestResampleDailyIsIdentity(t *testing.T) {
	table := testTable(day(2024, 1, 2), day(2024, 1, 3))
	assert.Equal(t, table, Resample(table, domain.BarSizeDaily))
}
