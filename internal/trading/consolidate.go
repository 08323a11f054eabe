// Package trading nets strategy trades into broker orders, submits them and
// maintains the intent ledger and strategy holdings.
package trading

import (
	"sort"

	"allocator/internal/broker"
)

// StrategyTrades is the trade list of one strategy for one run.
type StrategyTrades struct {
	Strategy  string
	Trades    map[int64]int64
	Contracts map[int64]broker.Contract
}

// ConsolidatedTrade is the net order for one instrument. Source attributes the
// quantity to strategies and always sums to Quantity.
type ConsolidatedTrade struct {
	Contract broker.Contract  `json:"contract"`
	Quantity int64            `json:"quantity"`
	Source   map[string]int64 `json:"source"`
}

func (t ConsolidatedTrade) InstrumentID() int64 { return t.Contract.ID }

// Consolidate nets trades per instrument across strategies. Instruments whose
// contributions cancel out are dropped. The result is ordered by instrument id
// and does not depend on input order.
func Consolidate(items []StrategyTrades) []ConsolidatedTrade {
	byID := map[int64]*ConsolidatedTrade{}
	for _, item := range items {
		for id, qty := range item.Trades {
			if qty == 0 {
				continue
			}
			ct, ok := byID[id]
			if !ok {
				ct = &ConsolidatedTrade{Contract: broker.Contract{ID: id}, Source: map[string]int64{}}
				byID[id] = ct
			}
			if c, ok := item.Contracts[id]; ok && ct.Contract.Symbol == "" {
				ct.Contract = c
			}
			ct.Quantity += qty
			ct.Source[item.Strategy] += qty
		}
	}

	out := make([]ConsolidatedTrade, 0, len(byID))
	for _, ct := range byID {
		if ct.Quantity == 0 {
			continue
		}
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Contract.ID < out[j].Contract.ID })
	return out
}
