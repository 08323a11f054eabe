package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"allocator/internal/broker"
	"allocator/internal/instrument"
	"allocator/internal/repository"
)

type Params struct {
	TradingMode  string
	BaseCurrency string
	Exposure     float64
	Instruments  *instrument.Registry
	Now          time.Time
}

// Result is one strategy's view of a run. Holdings and Signals share the same
// key set.
type Result struct {
	ID              string                    `json:"id"`
	Contracts       map[int64]broker.Contract `json:"contracts"`
	Holdings        map[int64]int64           `json:"holdings"`
	Signals         map[int64]float64         `json:"signals"`
	TargetPositions map[int64]int64           `json:"targetPositions"`
	FX              map[string]*float64       `json:"fx,omitempty"`
	Trades          map[int64]int64           `json:"trades"`
}

type Runner struct {
	Ledger     repository.Ledger
	Strategies *Registry
	Logger     *zap.Logger
}

// Run computes the trades that move strategy name from its holdings to the
// targets implied by its current signal.
func (r *Runner) Run(ctx context.Context, name string, p Params) (*Result, error) {
	if r == nil || r.Ledger == nil || r.Strategies == nil {
		return nil, fmt.Errorf("strategy runner not configured")
	}
	if p.Instruments == nil {
		return nil, fmt.Errorf("instrument registry is required")
	}
	strat, err := r.Strategies.Get(name)
	if err != nil {
		return nil, err
	}
	holdings, _, err := r.Ledger.GetHoldings(ctx, p.TradingMode, name)
	if err != nil {
		return nil, fmt.Errorf("load holdings %s: %w", name, err)
	}
	signals, err := strat.Signals(ctx, Env{
		TradingMode:  p.TradingMode,
		BaseCurrency: p.BaseCurrency,
		Instruments:  p.Instruments,
		Now:          p.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("signals %s: %w", name, err)
	}

	ids := unionKeys(holdings, signals)
	for _, id := range ids {
		if _, ok := holdings[id]; !ok {
			holdings[id] = 0
		}
		if _, ok := signals[id]; !ok {
			signals[id] = 0
		}
	}

	contracts, err := p.Instruments.Resolve(ctx, ids...)
	if err != nil {
		return nil, err
	}
	tickers, err := p.Instruments.Tickers(ctx, ids...)
	if err != nil {
		return nil, err
	}
	fx, err := p.Instruments.FXRates(ctx, p.BaseCurrency, currencies(contracts))
	if err != nil {
		return nil, err
	}

	targets := make(map[int64]int64, len(ids))
	for _, id := range ids {
		if p.BaseCurrency == "" || p.Exposure == 0 {
			targets[id] = 0
			continue
		}
		c := contracts[id]
		t, ok := tickers[id]
		targets[id] = TargetPosition(p.Exposure, signals[id], priceOf(t, ok), fx[c.Currency], c.EffectiveMultiplier())
	}

	res := &Result{
		ID:              name,
		Contracts:       contracts,
		Holdings:        holdings,
		Signals:         signals,
		TargetPositions: targets,
		FX:              fx,
		Trades:          Trades(targets, holdings),
	}
	if r.Logger != nil {
		r.Logger.Info("strategy run",
			zap.String("strategy", name),
			zap.Int("instruments", len(ids)),
			zap.Int("trades", len(res.Trades)),
		)
	}
	return res, nil
}

// RunCloseAll targets zero for every instrument the strategy holds.
func (r *Runner) RunCloseAll(ctx context.Context, name string, p Params) (*Result, error) {
	if r == nil || r.Ledger == nil {
		return nil, fmt.Errorf("strategy runner not configured")
	}
	if p.Instruments == nil {
		return nil, fmt.Errorf("instrument registry is required")
	}
	holdings, _, err := r.Ledger.GetHoldings(ctx, p.TradingMode, name)
	if err != nil {
		return nil, fmt.Errorf("load holdings %s: %w", name, err)
	}
	ids := unionKeys(holdings, nil)
	contracts, err := p.Instruments.Resolve(ctx, ids...)
	if err != nil {
		return nil, err
	}
	signals := make(map[int64]float64, len(ids))
	targets := make(map[int64]int64, len(ids))
	for _, id := range ids {
		signals[id] = 0
		targets[id] = 0
	}
	return &Result{
		ID:              name,
		Contracts:       contracts,
		Holdings:        holdings,
		Signals:         signals,
		TargetPositions: targets,
		Trades:          Trades(targets, holdings),
	}, nil
}

func unionKeys(holdings map[int64]int64, signals map[int64]float64) []int64 {
	seen := make(map[int64]struct{}, len(holdings)+len(signals))
	for id := range holdings {
		seen[id] = struct{}{}
	}
	for id := range signals {
		seen[id] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func currencies(contracts map[int64]broker.Contract) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range contracts {
		if c.Currency == "" {
			continue
		}
		if _, ok := seen[c.Currency]; ok {
			continue
		}
		seen[c.Currency] = struct{}{}
		out = append(out, c.Currency)
	}
	sort.Strings(out)
	return out
}
