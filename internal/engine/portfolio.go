// Package engine runs a strategy over a market data frame and produces the
// raw execution result: trades, equity curve, portfolio candles, and final
// state. It is deterministic and does no I/O, so it runs identically inside
// the sandbox child and in tests.
package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// dustThreshold is the smallest order value worth executing. Rebalancing
// churns out fractional deltas every bar; anything under a dollar is noise
// that would only accumulate commission.
const dustThreshold = 1.0

// maxWeightSum tolerates float accumulation when checking that target
// weights don't exceed full investment.
const maxWeightSum = 1.0001

// Portfolio tracks cash and fractional share positions through a run.
type Portfolio struct {
	cash      float64
	positions map[string]float64

	commission float64 // flat fee per executed order
	slippage   float64 // fractional price penalty per fill

	trades    []domain.Trade
	totalFees float64
	volume    float64
	nextID    int
}

// NewPortfolio creates a portfolio holding only cash.
func NewPortfolio(initialCapital, commission, slippage float64) *Portfolio {
	return &Portfolio{
		cash:       initialCapital,
		positions:  make(map[string]float64),
		commission: commission,
		slippage:   slippage,
		trades:     []domain.Trade{},
		nextID:     1,
	}
}

// Cash returns uninvested capital.
func (p *Portfolio) Cash() float64 { return p.cash }

// Positions returns a copy of current holdings in shares.
func (p *Portfolio) Positions() map[string]float64 {
	out := make(map[string]float64, len(p.positions))
	for sym, sh := range p.positions {
		out[sym] = sh
	}
	return out
}

// Shares returns the held share count for one symbol.
func (p *Portfolio) Shares(symbol string) float64 { return p.positions[symbol] }

// Trades returns every executed trade in order.
func (p *Portfolio) Trades() []domain.Trade { return p.trades }

// TotalFees returns cumulative commission paid.
func (p *Portfolio) TotalFees() float64 { return p.totalFees }

// Volume returns cumulative traded dollar value.
func (p *Portfolio) Volume() float64 { return p.volume }

// Value marks the portfolio at the given prices. Symbols without a price
// are marked at zero, which only happens when a symbol vanishes mid-run.
func (p *Portfolio) Value(prices map[string]float64) float64 {
	v := p.cash
	for sym, sh := range p.positions {
		v += sh * prices[sym]
	}
	return v
}

// ValidateWeights rejects weight maps the portfolio cannot honor: negative
// weights (no shorting) or a sum materially above 1.
func ValidateWeights(weights map[string]float64) error {
	sum := 0.0
	for sym, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("weight for %s is not finite", sym)
		}
		if w < 0 {
			return fmt.Errorf("negative weight %.4f for %s: short positions are not supported", w, sym)
		}
		sum += w
	}
	if sum > maxWeightSum {
		return fmt.Errorf("target weights sum to %.4f, exceeding 1.0", sum)
	}
	return nil
}

// TargetShares converts weights to share counts at the given prices,
// sizing against the portfolio's current mark at those same prices.
func (p *Portfolio) TargetShares(weights, prices map[string]float64) (map[string]float64, error) {
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}
	total := p.Value(prices)
	targets := make(map[string]float64, len(weights))
	for sym, w := range weights {
		price := prices[sym]
		if price <= 0 {
			return nil, fmt.Errorf("no price for %s at rebalance", sym)
		}
		targets[sym] = w * total / price
	}
	return targets, nil
}

// RebalanceToShares trades the portfolio to the given target share counts
// at the given prices. Symbols held but absent from targets are closed.
// Sells run before buys so freed cash funds the buys; buys are clamped to
// available cash after fees.
func (p *Portfolio) RebalanceToShares(targets, prices map[string]float64, ts time.Time) {
	type order struct {
		symbol string
		delta  float64 // shares; negative = sell
	}

	symbols := make(map[string]struct{}, len(targets)+len(p.positions))
	for sym := range targets {
		symbols[sym] = struct{}{}
	}
	for sym := range p.positions {
		symbols[sym] = struct{}{}
	}

	var sells, buys []order
	for sym := range symbols {
		price := prices[sym]
		if price <= 0 {
			continue
		}
		delta := targets[sym] - p.positions[sym]
		if math.Abs(delta)*price < dustThreshold {
			continue
		}
		if delta < 0 {
			sells = append(sells, order{sym, delta})
		} else {
			buys = append(buys, order{sym, delta})
		}
	}
	// Deterministic execution order regardless of map iteration.
	sort.Slice(sells, func(i, j int) bool { return sells[i].symbol < sells[j].symbol })
	sort.Slice(buys, func(i, j int) bool { return buys[i].symbol < buys[j].symbol })

	for _, o := range sells {
		p.sell(o.symbol, -o.delta, prices[o.symbol], ts)
	}
	for _, o := range buys {
		p.buy(o.symbol, o.delta, prices[o.symbol], ts)
	}
}

// RebalanceToWeights sizes and trades in one step at the given prices.
func (p *Portfolio) RebalanceToWeights(weights, prices map[string]float64, ts time.Time) error {
	targets, err := p.TargetShares(weights, prices)
	if err != nil {
		return err
	}
	p.RebalanceToShares(targets, prices, ts)
	return nil
}

// Liquidate closes every position at the given prices.
func (p *Portfolio) Liquidate(prices map[string]float64, ts time.Time) {
	p.RebalanceToShares(map[string]float64{}, prices, ts)
}

func (p *Portfolio) buy(symbol string, shares, price float64, ts time.Time) {
	fillPrice := price * (1 + p.slippage)
	// Clamp to what cash can actually fund, fee included.
	affordable := (p.cash - p.commission) / fillPrice
	if shares > affordable {
		shares = affordable
	}
	if shares <= 0 || shares*fillPrice < dustThreshold {
		return
	}
	cost := shares * fillPrice
	p.cash -= cost + p.commission
	p.positions[symbol] += shares
	p.record(domain.OrderBuy, symbol, fillPrice, shares, ts)
}

func (p *Portfolio) sell(symbol string, shares, price float64, ts time.Time) {
	held := p.positions[symbol]
	if shares > held {
		shares = held
	}
	fillPrice := price * (1 - p.slippage)
	if shares <= 0 || shares*fillPrice < dustThreshold {
		return
	}
	proceeds := shares * fillPrice
	p.cash += proceeds - p.commission
	remaining := held - shares
	if remaining < 1e-9 {
		delete(p.positions, symbol)
	} else {
		p.positions[symbol] = remaining
	}
	p.record(domain.OrderSell, symbol, fillPrice, shares, ts)
}

func (p *Portfolio) record(typ domain.OrderType, symbol string, price, shares float64, ts time.Time) {
	p.trades = append(p.trades, domain.Trade{
		ID:        p.nextID,
		Timestamp: ts,
		Ticker:    symbol,
		Type:      typ,
		Price:     price,
		Amount:    shares,
	})
	p.nextID++
	p.totalFees += p.commission
	p.volume += price * shares
}
