// Package strategy turns per-strategy signals into target positions and
// trades against the strategy's holdings.
package strategy

import (
	"context"
	"errors"
	"time"

	"allocator/internal/instrument"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Env is what a strategy may consult while computing signals.
type Env struct {
	TradingMode  string
	BaseCurrency string
	Instruments  *instrument.Registry
	Now          time.Time
}

// Strategy produces a signal: instrument id to dimensionless exposure.
// Instruments the strategy holds but omits are closed.
type Strategy interface {
	Name() string
	Signals(ctx context.Context, env Env) (map[int64]float64, error)
}
