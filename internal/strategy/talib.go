package strategy

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// talibModule exposes a curated slice of TA-Lib to strategies. Inputs are
// lists of numbers oldest-first (as returned by data.history); outputs keep
// TA-Lib's convention of zero-padding the warmup prefix.
var talibModule = &starlarkstruct.Module{
	Name: "talib",
	Members: starlark.StringDict{
		"sma":    starlark.NewBuiltin("talib.sma", talibSingle(talib.Sma)),
		"ema":    starlark.NewBuiltin("talib.ema", talibSingle(talib.Ema)),
		"wma":    starlark.NewBuiltin("talib.wma", talibSingle(talib.Wma)),
		"rsi":    starlark.NewBuiltin("talib.rsi", talibSingle(talib.Rsi)),
		"macd":   starlark.NewBuiltin("talib.macd", talibMacd),
		"bbands": starlark.NewBuiltin("talib.bbands", talibBBands),
		"atr":    starlark.NewBuiltin("talib.atr", talibAtr),
	},
}

// talibSingle adapts the common (values, period) shape.
func talibSingle(fn func([]float64, int) []float64) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			values starlark.Value
			period int
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "values", &values, "period", &period); err != nil {
			return nil, err
		}
		xs, err := floatSlice(b.Name(), values)
		if err != nil {
			return nil, err
		}
		if period <= 0 || period > len(xs) {
			return nil, fmt.Errorf("%s: period %d out of range for %d values", b.Name(), period, len(xs))
		}
		return floatsToList(fn(xs, period)), nil
	}
}

func talibMacd(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		values                       starlark.Value
		fast, slow, signal           = 12, 26, 9
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"values", &values, "fast?", &fast, "slow?", &slow, "signal?", &signal); err != nil {
		return nil, err
	}
	xs, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	macd, sig, hist := talib.Macd(xs, fast, slow, signal)
	return starlark.Tuple{floatsToList(macd), floatsToList(sig), floatsToList(hist)}, nil
}

func talibBBands(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		values       starlark.Value
		period       = 20
		devUp, devDn = 2.0, 2.0
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"values", &values, "period?", &period, "dev_up?", &devUp, "dev_dn?", &devDn); err != nil {
		return nil, err
	}
	xs, err := floatSlice(b.Name(), values)
	if err != nil {
		return nil, err
	}
	upper, middle, lower := talib.BBands(xs, period, devUp, devDn, talib.SMA)
	return starlark.Tuple{floatsToList(upper), floatsToList(middle), floatsToList(lower)}, nil
}

func talibAtr(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		high, low, close starlark.Value
		period           = 14
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"high", &high, "low", &low, "close", &close, "period?", &period); err != nil {
		return nil, err
	}
	hs, err := floatSlice(b.Name(), high)
	if err != nil {
		return nil, err
	}
	ls, err := floatSlice(b.Name(), low)
	if err != nil {
		return nil, err
	}
	cs, err := floatSlice(b.Name(), close)
	if err != nil {
		return nil, err
	}
	if len(hs) != len(ls) || len(ls) != len(cs) {
		return nil, fmt.Errorf("%s: high/low/close lengths differ", b.Name())
	}
	return floatsToList(talib.Atr(hs, ls, cs, period)), nil
}

// floatSlice converts any iterable of numbers to []float64.
func floatSlice(name string, v starlark.Value) ([]float64, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s: want a sequence of numbers, got %s", name, v.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var out []float64
	var elem starlark.Value
	for iter.Next(&elem) {
		f, ok := starlark.AsFloat(elem)
		if !ok {
			return nil, fmt.Errorf("%s: want a sequence of numbers, got element of type %s", name, elem.Type())
		}
		out = append(out, f)
	}
	return out, nil
}
