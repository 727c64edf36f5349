package orchestrator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

func goodResult() *domain.RawExecutionResult {
	res := domain.EmptyResult(domain.BarSizeDaily)
	res.FinalValue = 10_500
	res.FinalCash = 10_500
	res.EquityCurve = map[string]float64{
		"2024-01-02T00:00:00Z": 10_000,
		"2024-01-03T00:00:00Z": 10_500,
	}
	res.Trades = []domain.Trade{
		{ID: 1, Ticker: "SPY", Type: domain.OrderBuy, Price: 100, Amount: 100},
	}
	return res
}

func TestValidateOutputAcceptsCleanResult(t *testing.T) {
	assert.Nil(t, ValidateOutput(goodResult()))
}

func TestValidateOutputRejectsNonFiniteFinalValue(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		res := goodResult()
		res.FinalValue = v
		errs := ValidateOutput(res)
		require.NotNil(t, errs)
		assert.Contains(t, errs.String(), "not finite")
	}
}

func TestValidateOutputRejectsNegativeFinalValue(t *testing.T) {
	res := goodResult()
	res.FinalValue = -5
	errs := ValidateOutput(res)
	require.NotNil(t, errs)
	assert.Contains(t, errs.String(), "negative")
}

func TestValidateOutputRejectsEmptyEquityCurve(t *testing.T) {
	res := goodResult()
	res.EquityCurve = map[string]float64{}
	errs := ValidateOutput(res)
	require.NotNil(t, errs)
	assert.Contains(t, errs.String(), "equity curve")
}

func TestValidateOutputRejectsBadTrades(t *testing.T) {
	res := goodResult()
	res.Trades = append(res.Trades, domain.Trade{ID: 2, Ticker: "SPY", Type: domain.OrderSell, Price: 0, Amount: 10})
	errs := ValidateOutput(res)
	require.NotNil(t, errs)
	assert.Contains(t, errs.String(), "invalid price")

	res = goodResult()
	res.Trades = append(res.Trades, domain.Trade{ID: 2, Ticker: "SPY", Type: domain.OrderSell, Price: 100, Amount: -1})
	errs = ValidateOutput(res)
	require.NotNil(t, errs)
	assert.Contains(t, errs.String(), "invalid amount")
}

func TestValidateOutputRejectsNonFiniteEquityPoint(t *testing.T) {
	res := goodResult()
	res.EquityCurve["2024-01-04T00:00:00Z"] = math.Inf(1)
	errs := ValidateOutput(res)
	require.NotNil(t, errs)
}
