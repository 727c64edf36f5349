package strategy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/engine"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/marketdata"
)

// barAt builds a BarContext over a single-symbol frame positioned at the
// given index.
func barAt(t *testing.T, symbol string, index int, closes ...float64) *engine.BarContext {
	t.Helper()
	table := &marketdata.Table{}
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		table.Dates = append(table.Dates, base.AddDate(0, 0, i).Unix())
		table.Open = append(table.Open, c)
		table.High = append(table.High, c+1)
		table.Low = append(table.Low, c-1)
		table.Close = append(table.Close, c)
		table.Volume = append(table.Volume, 1000)
	}
	frame := marketdata.NewFrame([]string{symbol}, map[string]*marketdata.Table{symbol: table})
	require.Less(t, index, frame.Len())
	return &engine.BarContext{
		Frame:     frame,
		Index:     index,
		Portfolio: engine.NewPortfolio(10_000, 0, 0),
	}
}

func mustLoad(t *testing.T, source string) *Program {
	t.Helper()
	p, err := Load(source, 0, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestLoadAndCallTargetWeights(t *testing.T) {
	p := mustLoad(t, `
universe = ["SPY"]

def on_data(data, portfolio):
    return TargetWeights({"SPY": 0.6})
`)

	d, err := p.OnData(barAt(t, "SPY", 0, 100))
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionTargets, d.Kind)
	assert.InDelta(t, 0.6, d.Weights["SPY"], 1e-9)
}

func TestNoneReturnMeansHold(t *testing.T) {
	p := mustLoad(t, `
def on_data(data, portfolio):
    pass
`)

	d, err := p.OnData(barAt(t, "SPY", 0, 100))
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionHold, d.Kind)
}

func TestBareDictShorthand(t *testing.T) {
	p := mustLoad(t, `
def on_data(data, portfolio):
    return {"SPY": 0.5}
`)

	d, err := p.OnData(barAt(t, "SPY", 0, 100))
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionTargets, d.Kind)
	assert.InDelta(t, 0.5, d.Weights["SPY"], 1e-9)
}

func TestLiquidateDecision(t *testing.T) {
	p := mustLoad(t, `
def on_data(data, portfolio):
    return Liquidate()
`)

	d, err := p.OnData(barAt(t, "SPY", 0, 100))
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionLiquidate, d.Kind)
}

func TestDataAccessCurrentBar(t *testing.T) {
	p := mustLoad(t, `
def on_data(data, portfolio):
    px = data.close("SPY")
    if px > 100:
        return {"SPY": 1.0}
    return Hold()
`)

	d, err := p.OnData(barAt(t, "SPY", 1, 100, 110))
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionTargets, d.Kind)

	d, err = p.OnData(barAt(t, "SPY", 0, 100, 110))
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionHold, d.Kind)
}

func TestHistoryIsBackwardOnly(t *testing.T) {
	p := mustLoad(t, `
def on_data(data, portfolio):
    closes = data.history("SPY", 10)
    # Weight encodes the observations so the test can inspect them.
    return {"SPY": len(closes) * 0.1}
`)

	// At index 1 only two bars are visible, never the later ones.
	d, err := p.OnData(barAt(t, "SPY", 1, 100, 101, 102, 103, 104))
	require.NoError(t, err)
	assert.InDelta(t, 0.2, d.Weights["SPY"], 1e-9)
}

func TestPortfolioViewExposesCash(t *testing.T) {
	p := mustLoad(t, `
def on_data(data, portfolio):
    if portfolio.cash == 10000 and portfolio.shares("SPY") == 0:
        return Hold()
    return Liquidate()
`)

	d, err := p.OnData(barAt(t, "SPY", 0, 100))
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionHold, d.Kind)
}

func TestStatsAndAlgosModules(t *testing.T) {
	p := mustLoad(t, `
def on_data(data, portfolio):
    closes = data.history("SPY", 3)
    m = stats.mean(closes)
    rets = hqg_algorithms.returns(closes)
    if m > 0 and len(rets) == len(closes) - 1:
        return Hold()
    return Liquidate()
`)

	d, err := p.OnData(barAt(t, "SPY", 2, 100, 102, 104))
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionHold, d.Kind)
}

func TestTalibModule(t *testing.T) {
	p := mustLoad(t, `
def on_data(data, portfolio):
    closes = data.history("SPY", 5)
    smas = talib.sma(closes, 3)
    if len(smas) == len(closes):
        return Hold()
    return Liquidate()
`)

	d, err := p.OnData(barAt(t, "SPY", 4, 100, 101, 102, 103, 104))
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionHold, d.Kind)
}

func TestSumBuiltin(t *testing.T) {
	p := mustLoad(t, `
def on_data(data, portfolio):
    total = sum([0.1, 0.2, 0.3])
    return {"SPY": total}
`)

	d, err := p.OnData(barAt(t, "SPY", 0, 100))
	require.NoError(t, err)
	assert.InDelta(t, 0.6, d.Weights["SPY"], 1e-9)
}

func TestLoadModuleAllowlist(t *testing.T) {
	_, err := Load(`load("os", "getenv")`, 0, zerolog.Nop())
	require.Error(t, err)

	p, err := Load(`
load("math", "floor")

def on_data(data, portfolio):
    return {"SPY": floor(0.9)}
`, 0, zerolog.Nop())
	require.NoError(t, err)
	d, err := p.OnData(barAt(t, "SPY", 0, 100))
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.Weights["SPY"])
}

func TestRuntimeErrorCarriesBacktrace(t *testing.T) {
	p := mustLoad(t, `
def on_data(data, portfolio):
    return undefined_name
`)

	_, err := p.OnData(barAt(t, "SPY", 0, 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on_data")
}

func TestLoadRejectsMissingOnData(t *testing.T) {
	_, err := Load(`universe = ["SPY"]`, 0, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on_data")
}

func TestStepBudgetAbortsRunawayLoop(t *testing.T) {
	p, err := Load(`
def on_data(data, portfolio):
    n = 0
    while True:
        n += 1
`, 50_000, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.OnData(barAt(t, "SPY", 0, 100))
	require.Error(t, err)
}

func TestTopLevelRaiseFailsLoad(t *testing.T) {
	_, err := Load(`
universe = ["SPY"]
x = 1 // 0

def on_data(data, portfolio):
    return Hold()
`, 0, zerolog.Nop())
	require.Error(t, err)
}
