package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"allocator/internal/strategy"
	"allocator/internal/trading"
)

type CloseAllParams struct {
	DryRun          bool           `json:"dryRun"`
	OrderProperties map[string]any `json:"orderProperties"`
}

// CloseAll cancels every working order and flattens the holdings of every
// strategy in the ledger.
type CloseAll struct {
	Params CloseAllParams
}

func NewCloseAll(params json.RawMessage) (Intent, error) {
	c := &CloseAll{}
	if err := decodeParams(params, &c.Params); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CloseAll) Name() string { return "close-all" }

func (c *CloseAll) Execute(ctx context.Context, run *Run) (any, error) {
	env, act, logger := run.Env, run.Activity, run.Logger
	mode := env.TradingMode()
	act["dryRun"] = c.Params.DryRun
	act["orderProperties"] = c.Params.OrderProperties

	if !c.Params.DryRun {
		cancelled, err := cancelWorkingOrders(ctx, run)
		if err != nil {
			return nil, err
		}
		act["cancelledOrders"] = cancelled
	}

	mismatches, err := portfolioParity(ctx, env, mode)
	if err != nil {
		return nil, err
	}
	if len(mismatches) > 0 {
		logger.Warn("ledger and broker portfolio disagree before close-all", zap.Any("mismatches", mismatches))
		env.Metrics.Mismatches("close-all", len(mismatches))
		act["mismatches"] = mismatches
	}

	all, err := env.Ledger.ListHoldings(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	act["strategies"] = names

	instruments := env.instruments()
	runner := env.runner()
	results := make([]*strategy.Result, 0, len(names))
	for _, name := range names {
		res, err := runner.RunCloseAll(ctx, name, strategy.Params{
			TradingMode: mode,
			Instruments: instruments,
			Now:         env.now(),
		})
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	recordStrategyResults(act, results, false)

	consolidated := trading.Consolidate(strategyTrades(results))
	act["consolidatedTrades"] = consolidatedBySymbol(consolidated)
	if c.Params.DryRun {
		return nil, nil
	}

	orders, err := env.executor().PlaceOrders(ctx, consolidated, trading.OrderSpec{
		TradingMode: mode,
		Account:     env.Config.Broker.Account,
		Properties:  c.Params.OrderProperties,
	})
	act["orders"] = orders
	if err != nil {
		return nil, err
	}
	logger.Info("close-all orders placed", zap.Int("count", len(orders)))
	return nil, nil
}

// cancelWorkingOrders cancels every active broker order and drops the intent
// records it superseded.
func cancelWorkingOrders(ctx context.Context, run *Run) ([]int64, error) {
	env := run.Env
	open, err := env.Gateway.OpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("open trades: %w", err)
	}
	cancelled := make([]int64, 0, len(open))
	for _, t := range open {
		if err := env.Gateway.CancelOrder(ctx, t.OrderID); err != nil {
			return cancelled, fmt.Errorf("cancel order %d: %w", t.OrderID, err)
		}
		cancelled = append(cancelled, t.PermID)
		var n int64
		if t.PermID != 0 {
			if n, err = env.Ledger.DeleteOpenOrdersByPermID(ctx, env.TradingMode(), t.PermID); err != nil {
				return cancelled, fmt.Errorf("delete intent %d: %w", t.PermID, err)
			}
		}
		unassigned, err := env.Ledger.DeleteUnassignedOpenOrders(ctx, env.TradingMode(), t.OrderID, t.Contract.ID)
		if err != nil {
			return cancelled, fmt.Errorf("delete intent of order %d: %w", t.OrderID, err)
		}
		run.Logger.Info("order cancelled",
			zap.Int64("order_id", t.OrderID),
			zap.Int64("perm_id", t.PermID),
			zap.Int64("intents_deleted", n+unassigned),
		)
	}
	return cancelled, nil
}
