package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

const validStrategy = `
universe = ["SPY", "QQQ"]

cadence = Cadence(bar_size=BarSize.WEEKLY, execution=ExecutionTiming.CLOSE_TO_NEXT_OPEN)

def on_data(data, portfolio):
    return TargetWeights({"SPY": 0.6, "QQQ": 0.4})
`

func messages(errs domain.ErrorList) string {
	return strings.Join(errs.Messages(), "\n")
}

func TestAnalyzeAcceptsValidStrategy(t *testing.T) {
	errs := Analyze(validStrategy)
	assert.True(t, errs.IsEmpty(), messages(errs))
}

func TestAnalyzeReportsSyntaxErrorWithLine(t *testing.T) {
	errs := Analyze("universe = [\ndef on_data(data, portfolio):\n    pass\n")

	require.False(t, errs.IsEmpty())
	assert.Greater(t, errs.Items[0].Line, 0)
}

func TestAnalyzeRejectsForbiddenCalls(t *testing.T) {
	for _, name := range []string{"eval", "exec", "compile", "getattr", "open"} {
		src := validStrategy + "\nx = " + name + "(\"something\")\n"
		errs := Analyze(src)
		require.False(t, errs.IsEmpty(), name)
		assert.Contains(t, messages(errs), name)
	}
}

func TestAnalyzeRejectsDunderAttributes(t *testing.T) {
	src := validStrategy + "\ny = data.__class__\n"
	errs := Analyze(src)

	require.False(t, errs.IsEmpty())
	assert.Contains(t, messages(errs), "__class__")
}

func TestAnalyzeRejectsUnknownLoad(t *testing.T) {
	src := "load(\"os\", \"getenv\")\n" + validStrategy
	errs := Analyze(src)

	require.False(t, errs.IsEmpty())
	assert.Contains(t, messages(errs), `"os"`)
}

func TestAnalyzeAllowsWhitelistedLoad(t *testing.T) {
	src := "load(\"math\", \"sqrt\")\nload(\"talib\", \"sma\")\n" + validStrategy
	errs := Analyze(src)
	assert.True(t, errs.IsEmpty(), messages(errs))
}

func TestAnalyzeRequiresOnDataAndUniverse(t *testing.T) {
	errs := Analyze("x = 1\n")

	require.False(t, errs.IsEmpty())
	assert.Contains(t, messages(errs), "on_data")
	assert.Contains(t, messages(errs), "universe")
}

func TestAnalyzeRejectsWrongOnDataArity(t *testing.T) {
	src := `
universe = ["SPY"]

def on_data(data):
    return Hold()
`
	errs := Analyze(src)

	require.False(t, errs.IsEmpty())
	assert.Contains(t, messages(errs), "two parameters")
}

func TestAnalyzeRejectsReservedNameReassignment(t *testing.T) {
	src := validStrategy + "\nHold = 5\n"
	errs := Analyze(src)

	require.False(t, errs.IsEmpty())
	assert.Contains(t, messages(errs), "reserved name")
}
