package metrics

import (
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// lot is an open long position acquired by one buy, partially consumable.
type lot struct {
	shares float64
	price  float64
}

// tradeStats aggregates realized round trips.
type tradeStats struct {
	winPnls  []float64
	lossPnls []float64
}

// matchTrades pairs sells against buys FIFO per symbol and records each
// matched slice's fractional P&L ((sell − buy) / buy), classified as a win
// or a loss. Slippage is already baked into trade prices; commission is
// deliberately excluded here, matching how the equity stats report fees
// separately.
func matchTrades(trades []domain.Trade) *tradeStats {
	stats := &tradeStats{}
	open := make(map[string][]lot)

	for _, t := range trades {
		switch t.Type {
		case domain.OrderBuy:
			open[t.Ticker] = append(open[t.Ticker], lot{shares: t.Amount, price: t.Price})
		case domain.OrderSell:
			remaining := t.Amount
			queue := open[t.Ticker]
			for remaining > 1e-9 && len(queue) > 0 {
				head := &queue[0]
				matched := head.shares
				if matched > remaining {
					matched = remaining
				}
				pnl := 0.0
				if head.price != 0 {
					pnl = (t.Price - head.price) / head.price
				}
				if pnl >= 0 {
					stats.winPnls = append(stats.winPnls, pnl)
				} else {
					stats.lossPnls = append(stats.lossPnls, pnl)
				}
				head.shares -= matched
				remaining -= matched
				if head.shares <= 1e-9 {
					queue = queue[1:]
				}
			}
			open[t.Ticker] = queue
		}
	}
	return stats
}

func (s *tradeStats) winRate() float64 {
	total := len(s.winPnls) + len(s.lossPnls)
	if total == 0 {
		return 0
	}
	return float64(len(s.winPnls)) / float64(total)
}

func (s *tradeStats) avgWin() float64 {
	return mean(s.winPnls)
}

func (s *tradeStats) avgLoss() float64 {
	return mean(s.lossPnls)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}
