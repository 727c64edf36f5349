package strategy

import (
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/engine"
)

// barView is the `data` argument to on_data: read-only access to the
// current bar and backward-looking history. It never exposes bars past the
// current index, so strategies cannot peek ahead.
type barView struct {
	bar *engine.BarContext
}

var (
	_ starlark.Value    = (*barView)(nil)
	_ starlark.HasAttrs = (*barView)(nil)
)

func newBarView(bar *engine.BarContext) *barView { return &barView{bar: bar} }

func (b *barView) String() string {
	return fmt.Sprintf("<data %s>", b.bar.Frame.Timestamps()[b.bar.Index].Format("2006-01-02"))
}

func (b *barView) Type() string          { return "data" }
func (b *barView) Freeze()               {}
func (b *barView) Truth() starlark.Bool  { return starlark.True }
func (b *barView) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: data") }

var barViewMethods = map[string]func(b *barView, thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error){
	"open":    func(b *barView, _ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) { return b.field("open", args, kwargs) },
	"high":    func(b *barView, _ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) { return b.field("high", args, kwargs) },
	"low":     func(b *barView, _ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) { return b.field("low", args, kwargs) },
	"close":   func(b *barView, _ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) { return b.field("close", args, kwargs) },
	"volume":  func(b *barView, _ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) { return b.field("volume", args, kwargs) },
	"history": (*barView).history,
	"symbols": (*barView).symbols,
}

func (b *barView) Attr(name string) (starlark.Value, error) {
	switch name {
	case "date":
		return starlark.String(b.bar.Frame.Timestamps()[b.bar.Index].Format(time.RFC3339)), nil
	case "index":
		return starlark.MakeInt(b.bar.Index), nil
	}
	method, ok := barViewMethods[name]
	if !ok {
		return nil, nil // no such attribute
	}
	impl := func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return method(b, thread, fn, args, kwargs)
	}
	return starlark.NewBuiltin(name, impl).BindReceiver(b), nil
}

func (b *barView) AttrNames() []string {
	names := []string{"date", "index"}
	for name := range barViewMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// field returns the current bar's value of one field for a symbol, or None
// when the symbol has no bar here (possible on a union timeline).
func (b *barView) field(field string, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var symbol string
	if err := starlark.UnpackArgs(field, args, kwargs, "symbol", &symbol); err != nil {
		return nil, err
	}
	v, ok := b.bar.Frame.Field(symbol, field, b.bar.Index)
	if !ok {
		return starlark.None, nil
	}
	return starlark.Float(v), nil
}

// history returns up to n values of a field ending at the current bar,
// oldest first. Fewer than n come back near the start of the run.
func (b *barView) history(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		symbol string
		field  = "close"
		n      int
	)
	if err := starlark.UnpackArgs("history", args, kwargs, "symbol", &symbol, "n", &n, "field?", &field); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("history: n must be positive, got %d", n)
	}
	values := b.bar.Frame.History(symbol, field, b.bar.Index, n)
	return floatsToList(values), nil
}

func (b *barView) symbols(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs("symbols", args, kwargs); err != nil {
		return nil, err
	}
	elems := make([]starlark.Value, 0, len(b.bar.Frame.Symbols()))
	for _, sym := range b.bar.Frame.Symbols() {
		elems = append(elems, starlark.String(sym))
	}
	return starlark.NewList(elems), nil
}

// portfolioView is the `portfolio` argument to on_data: a read-only
// snapshot of cash, holdings, and the mark at the current bar's closes.
type portfolioView struct {
	portfolio *engine.Portfolio
	prices    map[string]float64
}

var (
	_ starlark.Value    = (*portfolioView)(nil)
	_ starlark.HasAttrs = (*portfolioView)(nil)
)

func newPortfolioView(bar *engine.BarContext) *portfolioView {
	prices := make(map[string]float64, len(bar.Frame.Symbols()))
	for _, sym := range bar.Frame.Symbols() {
		if v, ok := bar.Frame.Field(sym, "close", bar.Index); ok {
			prices[sym] = v
		}
	}
	return &portfolioView{portfolio: bar.Portfolio, prices: prices}
}

func (p *portfolioView) String() string {
	return fmt.Sprintf("<portfolio value=%.2f cash=%.2f>", p.portfolio.Value(p.prices), p.portfolio.Cash())
}

func (p *portfolioView) Type() string          { return "portfolio" }
func (p *portfolioView) Freeze()               {}
func (p *portfolioView) Truth() starlark.Bool  { return starlark.True }
func (p *portfolioView) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: portfolio") }

func (p *portfolioView) Attr(name string) (starlark.Value, error) {
	switch name {
	case "cash":
		return starlark.Float(p.portfolio.Cash()), nil
	case "value":
		return starlark.Float(p.portfolio.Value(p.prices)), nil
	case "positions":
		d := starlark.NewDict(len(p.portfolio.Positions()))
		positions := p.portfolio.Positions()
		for _, sym := range sortedKeys(positions) {
			if err := d.SetKey(starlark.String(sym), starlark.Float(positions[sym])); err != nil {
				return nil, err
			}
		}
		return d, nil
	case "shares":
		return starlark.NewBuiltin("shares", p.sharesFn).BindReceiver(p), nil
	case "weight":
		return starlark.NewBuiltin("weight", p.weightFn).BindReceiver(p), nil
	}
	return nil, nil
}

func (p *portfolioView) AttrNames() []string {
	return []string{"cash", "positions", "shares", "value", "weight"}
}

func (p *portfolioView) sharesFn(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var symbol string
	if err := starlark.UnpackArgs("shares", args, kwargs, "symbol", &symbol); err != nil {
		return nil, err
	}
	return starlark.Float(p.portfolio.Shares(symbol)), nil
}

func (p *portfolioView) weightFn(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var symbol string
	if err := starlark.UnpackArgs("weight", args, kwargs, "symbol", &symbol); err != nil {
		return nil, err
	}
	total := p.portfolio.Value(p.prices)
	if total <= 0 {
		return starlark.Float(0), nil
	}
	return starlark.Float(p.portfolio.Shares(symbol) * p.prices[symbol] / total), nil
}

func floatsToList(values []float64) *starlark.List {
	elems := make([]starlark.Value, 0, len(values))
	for _, v := range values {
		elems = append(elems, starlark.Float(v))
	}
	return starlark.NewList(elems)
}
