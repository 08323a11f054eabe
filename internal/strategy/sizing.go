package strategy

import (
	"github.com/shopspring/decimal"

	"allocator/internal/broker"
)

// TargetPosition converts a signal into a contract count:
// round_half_even(exposure*signal / (price*multiplier*fx)). It returns 0 when
// the signal is zero or price or fx is missing or not positive.
func TargetPosition(exposure, signal float64, price, fx *float64, multiplier int64) int64 {
	if signal == 0 || exposure == 0 {
		return 0
	}
	if price == nil || *price <= 0 || fx == nil || *fx <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	denom := decimal.NewFromFloat(*price).
		Mul(decimal.NewFromInt(multiplier)).
		Mul(decimal.NewFromFloat(*fx))
	if denom.IsZero() {
		return 0
	}
	return decimal.NewFromFloat(exposure).
		Mul(decimal.NewFromFloat(signal)).
		Div(denom).
		RoundBank(0).
		IntPart()
}

// Trades is target minus holdings with zero entries removed.
func Trades(targets, holdings map[int64]int64) map[int64]int64 {
	out := map[int64]int64{}
	for id, target := range targets {
		if d := target - holdings[id]; d != 0 {
			out[id] = d
		}
	}
	for id, held := range holdings {
		if _, ok := targets[id]; ok {
			continue
		}
		if held != 0 {
			out[id] = -held
		}
	}
	return out
}

func priceOf(t broker.Ticker, ok bool) *float64 {
	if !ok {
		return nil
	}
	v, ok := t.ClosePrice()
	if !ok {
		return nil
	}
	return &v
}
