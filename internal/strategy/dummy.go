package strategy

import (
	"context"
	"fmt"
	"math/rand/v2"

	"allocator/internal/config"
	"allocator/internal/instrument"
)

const DummyName = "dummy"

// Dummy goes randomly long, flat or short one unit on the front contract of a
// futures root. It exists to exercise the pipeline end to end.
type Dummy struct {
	spec     instrument.FutureSpec
	rollover int
	draw     func() int
}

// NewDummy builds the dummy strategy; draw returns -1, 0 or 1 and defaults to
// a uniform random choice.
func NewDummy(cfg config.DummyStrategyConfig, draw func() int) *Dummy {
	if draw == nil {
		draw = func() int { return rand.IntN(3) - 1 }
	}
	return &Dummy{
		spec: instrument.FutureSpec{
			Symbol:       cfg.Symbol,
			Exchange:     cfg.Exchange,
			Currency:     cfg.Currency,
			ExpiryScheme: cfg.ExpiryScheme,
		},
		rollover: cfg.RolloverDaysBeforeExpiry,
		draw:     draw,
	}
}

func (d *Dummy) Name() string { return DummyName }

func (d *Dummy) Signals(ctx context.Context, env Env) (map[int64]float64, error) {
	series, err := env.Instruments.FutureSeries(ctx, d.spec, 1, d.rollover, env.Now)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("no %s contract beyond rollover", d.spec.Symbol)
	}
	return map[int64]float64{series[0].ID: float64(d.draw())}, nil
}
