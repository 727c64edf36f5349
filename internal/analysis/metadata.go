package analysis

import (
	"regexp"
	"strings"

	"go.starlark.net/syntax"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

const maxUniverseSize = 200

// tickerPattern covers equities plus index (^GSPC) and class-share (BRK.B)
// notation. Tickers are matched after uppercasing.
var tickerPattern = regexp.MustCompile(`^[A-Z0-9^.\-=]{1,12}$`)

// ExtractMetadata reads the strategy's declared universe and cadence out of
// its source without executing it. Both declarations must be syntactically
// literal: a list of string constants for universe, a keyword-argument
// Cadence(...) call for cadence. Anything dynamic is rejected, since the
// market data has to be resolved before the code ever runs.
func ExtractMetadata(source string) (*domain.StrategyMetadata, domain.ErrorList) {
	var errs domain.ErrorList

	file, err := Parse(source)
	if err != nil {
		appendParseError(&errs, err)
		return nil, errs
	}

	meta := &domain.StrategyMetadata{Cadence: domain.DefaultCadence()}
	var foundUniverse, foundCadence bool

	for _, stmt := range file.Stmts {
		assign, ok := stmt.(*syntax.AssignStmt)
		if !ok || assign.Op != syntax.EQ {
			continue
		}
		ident, ok := assign.LHS.(*syntax.Ident)
		if !ok {
			continue
		}
		switch ident.Name {
		case "universe":
			foundUniverse = true
			meta.Universe = extractUniverse(assign, &errs)
		case "cadence":
			foundCadence = true
			meta.Cadence = extractCadence(assign, &errs)
		}
	}

	if !foundUniverse {
		errs.Add("no top-level 'universe' declaration found in strategy")
	}
	_ = foundCadence // optional; default applies when absent

	if !errs.IsEmpty() {
		return nil, errs
	}
	return meta, errs
}

func extractUniverse(assign *syntax.AssignStmt, errs *domain.ErrorList) []string {
	list, ok := assign.RHS.(*syntax.ListExpr)
	if !ok {
		errs.AddAt(line(assign), "universe must be a literal list of ticker strings")
		return nil
	}
	if len(list.List) == 0 {
		errs.AddAt(line(assign), "universe must contain at least one ticker")
		return nil
	}
	if len(list.List) > maxUniverseSize {
		errs.AddAtf(line(assign), "universe exceeds the maximum of %d tickers", maxUniverseSize)
		return nil
	}

	seen := make(map[string]struct{}, len(list.List))
	out := make([]string, 0, len(list.List))
	for _, elem := range list.List {
		lit, ok := elem.(*syntax.Literal)
		if !ok || lit.Token != syntax.STRING {
			errs.AddAt(line(elem), "universe entries must be string literals")
			continue
		}
		ticker := strings.ToUpper(strings.TrimSpace(lit.Value.(string)))
		if !tickerPattern.MatchString(ticker) {
			errs.AddAtf(line(elem), "invalid ticker %q", lit.Value.(string))
			continue
		}
		if _, dup := seen[ticker]; dup {
			continue
		}
		seen[ticker] = struct{}{}
		out = append(out, ticker)
	}
	return out
}

func extractCadence(assign *syntax.AssignStmt, errs *domain.ErrorList) domain.Cadence {
	cadence := domain.DefaultCadence()

	call, ok := assign.RHS.(*syntax.CallExpr)
	if !ok {
		errs.AddAt(line(assign), "cadence must be a Cadence(...) call")
		return cadence
	}
	if fn, ok := call.Fn.(*syntax.Ident); !ok || fn.Name != "Cadence" {
		errs.AddAt(line(assign), "cadence must be a Cadence(...) call")
		return cadence
	}

	for _, arg := range call.Args {
		kw, ok := arg.(*syntax.BinaryExpr)
		if !ok || kw.Op != syntax.EQ {
			errs.AddAt(line(arg), "Cadence arguments must be keyword arguments")
			continue
		}
		name, ok := kw.X.(*syntax.Ident)
		if !ok {
			errs.AddAt(line(arg), "Cadence arguments must be keyword arguments")
			continue
		}
		switch name.Name {
		case "bar_size":
			if v, ok := enumAttr(kw.Y, "BarSize"); ok {
				parsed, err := domain.ParseBarSize(v)
				if err != nil {
					errs.AddAtf(line(kw.Y), "unknown bar size BarSize.%s", v)
					continue
				}
				cadence.BarSize = parsed
			} else {
				errs.AddAt(line(kw.Y), "bar_size must be a BarSize.<NAME> reference")
			}
		case "execution":
			if v, ok := enumAttr(kw.Y, "ExecutionTiming"); ok {
				parsed, err := domain.ParseExecutionTiming(v)
				if err != nil {
					errs.AddAtf(line(kw.Y), "unknown execution timing ExecutionTiming.%s", v)
					continue
				}
				cadence.Execution = parsed
			} else {
				errs.AddAt(line(kw.Y), "execution must be an ExecutionTiming.<NAME> reference")
			}
		default:
			errs.AddAtf(line(arg), "unknown Cadence argument %q", name.Name)
		}
	}
	return cadence
}

// enumAttr matches an expression of the form Enum.MEMBER and returns MEMBER.
func enumAttr(expr syntax.Expr, enum string) (string, bool) {
	dot, ok := expr.(*syntax.DotExpr)
	if !ok {
		return "", false
	}
	base, ok := dot.X.(*syntax.Ident)
	if !ok || base.Name != enum {
		return "", false
	}
	return dot.Name.Name, true
}
