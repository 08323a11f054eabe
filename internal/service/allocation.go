package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"allocator/internal/broker"
	"allocator/internal/repository"
	"allocator/internal/strategy"
	"allocator/internal/trading"
)

type AllocationParams struct {
	Strategies      []string       `json:"strategies"`
	DryRun          bool           `json:"dryRun"`
	OrderProperties map[string]any `json:"orderProperties"`
}

// Allocation sizes every requested strategy against the account, nets the
// trades and places the orders.
type Allocation struct {
	Params AllocationParams
}

func NewAllocation(params json.RawMessage) (Intent, error) {
	a := &Allocation{}
	if err := decodeParams(params, &a.Params); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allocation) Name() string { return "allocation" }

func (a *Allocation) Execute(ctx context.Context, run *Run) (any, error) {
	env, act, logger := run.Env, run.Activity, run.Logger
	act["dryRun"] = a.Params.DryRun
	act["orderProperties"] = a.Params.OrderProperties

	cfg, err := env.AllocationConfig(ctx)
	if err != nil {
		return nil, err
	}
	act["config"] = cfg

	names := a.Params.Strategies
	if len(names) == 0 {
		names = configuredStrategies(cfg.Exposure.Strategies)
	}
	if err := env.Strategies.Validate(names); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadParams, err)
	}
	act["strategies"] = names

	if cfg.Exposure.Overall == 0 {
		logger.Info("overall exposure is 0, nothing to allocate")
		act["skipped"] = "overall exposure is 0"
		return nil, nil
	}

	if cfg.RetryCheckMinutes > 0 {
		n, err := env.Ledger.CountActivityLogs(ctx, repository.ActivityLogQuery{
			TradingMode: env.TradingMode(),
			Signature:   run.Signature,
			Since:       env.now().Add(-time.Duration(cfg.RetryCheckMinutes) * time.Minute),
			WithOrders:  true,
		})
		if err != nil {
			return nil, fmt.Errorf("idempotency check: %w", err)
		}
		if n > 0 {
			logger.Warn("allocation with the same signature placed orders recently, skipping",
				zap.Int("retry_check_minutes", cfg.RetryCheckMinutes))
			act["skipped"] = "ran before"
			return nil, nil
		}
	}

	values, err := env.accountValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("account values: %w", err)
	}
	base, netLiq, ok := broker.NetLiquidation(values)
	if !ok {
		logger.Warn("net liquidation unavailable, all targets will be 0")
	}
	act["baseCurrency"] = base
	act["netLiquidation"] = netLiq

	instruments := env.instruments()
	runner := env.runner()
	var (
		results  []*strategy.Result
		failures = map[string]string{}
	)
	for _, name := range names {
		weight := cfg.Exposure.Strategies[name]
		if weight == 0 {
			logger.Info("strategy has no exposure, skipping", zap.String("strategy", name))
			continue
		}
		res, err := runner.Run(ctx, name, strategy.Params{
			TradingMode:  env.TradingMode(),
			BaseCurrency: base,
			Exposure:     netLiq * cfg.Exposure.Overall * weight,
			Instruments:  instruments,
			Now:          env.now(),
		})
		if err != nil {
			logger.Error("strategy failed", zap.String("strategy", name), zap.Error(err))
			env.Metrics.StrategyFailed(name)
			failures[name] = err.Error()
			continue
		}
		results = append(results, res)
	}
	if len(failures) > 0 {
		act["strategyErrors"] = failures
	}
	recordStrategyResults(act, results, true)

	consolidated := trading.Consolidate(strategyTrades(results))
	act["consolidatedTrades"] = consolidatedBySymbol(consolidated)
	logger.Info("consolidated trades", zap.Any("trades", act["consolidatedTrades"]))

	if a.Params.DryRun {
		return nil, nil
	}

	props := make(map[string]any, len(a.Params.OrderProperties)+1)
	for k, v := range a.Params.OrderProperties {
		props[k] = v
	}
	if raw, ok := props["goodAfterTime"]; ok {
		expr, _ := raw.(string)
		gat, err := ParseGoodAfterTime(expr, env.now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadParams, err)
		}
		props["goodAfterTime"] = gat
	}
	props["tif"] = "DAY"

	orders, err := env.executor().PlaceOrders(ctx, consolidated, trading.OrderSpec{
		TradingMode:  env.TradingMode(),
		Account:      env.Config.Broker.Account,
		AlgoStrategy: "Adaptive",
		AlgoParams:   map[string]string{"adaptivePriority": cfg.AdaptivePriority},
		Properties:   props,
	})
	act["orders"] = orders
	if err != nil {
		return nil, err
	}
	logger.Info("orders placed", zap.Int("count", len(orders)))
	return nil, nil
}

func configuredStrategies(weights map[string]float64) []string {
	out := make([]string, 0, len(weights))
	for name := range weights {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func strategyTrades(results []*strategy.Result) []trading.StrategyTrades {
	out := make([]trading.StrategyTrades, 0, len(results))
	for _, r := range results {
		out = append(out, trading.StrategyTrades{Strategy: r.ID, Trades: r.Trades, Contracts: r.Contracts})
	}
	return out
}

// recordStrategyResults writes per-strategy maps keyed by local symbol, the
// way operators read them.
func recordStrategyResults(act Activity, results []*strategy.Result, withSignals bool) {
	holdings := map[string]map[string]int64{}
	targets := map[string]map[string]int64{}
	trades := map[string]map[string]int64{}
	signals := map[string]map[string]float64{}
	contractIDs := map[string]int64{}
	fx := map[string]*float64{}
	for _, r := range results {
		holdings[r.ID] = bySymbol(r.Holdings, r.Contracts)
		targets[r.ID] = bySymbol(r.TargetPositions, r.Contracts)
		trades[r.ID] = bySymbol(r.Trades, r.Contracts)
		if withSignals {
			signals[r.ID] = bySymbol(r.Signals, r.Contracts)
		}
		for id, c := range r.Contracts {
			contractIDs[c.DisplaySymbol()] = id
		}
		for k, v := range r.FX {
			fx[k] = v
		}
	}
	act["holdings"] = holdings
	act["targetPositions"] = targets
	act["trades"] = trades
	act["contractIds"] = contractIDs
	if withSignals {
		act["signals"] = signals
		act["fx"] = fx
	}
}

func bySymbol[V int64 | float64](m map[int64]V, contracts map[int64]broker.Contract) map[string]V {
	out := make(map[string]V, len(m))
	for id, v := range m {
		out[symbolOf(id, contracts)] = v
	}
	return out
}

func symbolOf(id int64, contracts map[int64]broker.Contract) string {
	c, ok := contracts[id]
	if !ok {
		c = broker.Contract{ID: id}
	}
	return c.Key()
}

func consolidatedBySymbol(trades []trading.ConsolidatedTrade) map[string]int64 {
	out := make(map[string]int64, len(trades))
	for _, t := range trades {
		out[t.Contract.Key()] = t.Quantity
	}
	return out
}
