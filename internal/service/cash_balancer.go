package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"allocator/internal/broker"
)

// FXExchange is the venue for currency conversion orders.
const FXExchange = "FXCONV"

type CashBalancerParams struct {
	DryRun bool `json:"dryRun"`
}

// CashBalancer converts foreign cash balances back into the base currency
// once they exceed the configured threshold.
type CashBalancer struct {
	Params CashBalancerParams
}

func NewCashBalancer(params json.RawMessage) (Intent, error) {
	c := &CashBalancer{}
	if err := decodeParams(params, &c.Params); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CashBalancer) Name() string { return "cash-balancer" }

func (c *CashBalancer) Execute(ctx context.Context, run *Run) (any, error) {
	env, act, logger := run.Env, run.Activity, run.Logger
	act["dryRun"] = c.Params.DryRun

	cfg, err := env.AllocationConfig(ctx)
	if err != nil {
		return nil, err
	}
	values, err := env.accountValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("account values: %w", err)
	}
	base, _, ok := broker.NetLiquidation(values)
	if !ok {
		logger.Warn("base currency unknown, nothing to balance")
		act["skipped"] = "no account values"
		return nil, nil
	}

	exposure, trades := CashTrades(
		broker.ValuesByCurrency(values, broker.TagCashBalance),
		broker.ValuesByCurrency(values, broker.TagExchangeRate),
		base,
		cfg.CashBalanceThresholdInBase,
	)
	act["baseCurrency"] = base
	act["exposure"] = exposure
	act["trades"] = trades
	if c.Params.DryRun || len(trades) == 0 {
		return nil, nil
	}

	currencies := make([]string, 0, len(trades))
	for ccy := range trades {
		currencies = append(currencies, ccy)
	}
	sort.Strings(currencies)

	permIDs := map[int64]struct{}{}
	var placeErr error
	for _, ccy := range currencies {
		qty := trades[ccy]
		pair, err := env.Gateway.ForexPair(ctx, ccy, base)
		if err != nil {
			placeErr = fmt.Errorf("forex pair %s%s: %w", ccy, base, err)
			break
		}
		pair.Exchange = FXExchange
		order := broker.Order{
			Account:       env.Config.Broker.Account,
			Action:        broker.ActionBuy,
			TotalQuantity: qty,
			OrderType:     "MKT",
		}
		if qty < 0 {
			order.Action = broker.ActionSell
			order.TotalQuantity = -qty
		}
		trade, err := env.Gateway.PlaceOrder(ctx, pair, order)
		if err != nil {
			placeErr = fmt.Errorf("place %s%s: %w", ccy, base, err)
			break
		}
		env.Metrics.OrderPlaced(string(trade.Status))
		logger.Info("fx order placed",
			zap.String("pair", ccy+base),
			zap.String("action", order.Action),
			zap.Int64("quantity", order.TotalQuantity),
			zap.Int64("perm_id", trade.PermID),
		)
		permIDs[trade.PermID] = struct{}{}
		if err := env.sleep(ctx, env.Config.Broker.OrderAckDelay); err != nil {
			placeErr = err
			break
		}
	}

	session, err := env.Gateway.Trades(ctx)
	if err != nil && placeErr == nil {
		placeErr = fmt.Errorf("read back trades: %w", err)
	}
	orders := make([]broker.Trade, 0, len(permIDs))
	for _, t := range session {
		if _, ok := permIDs[t.PermID]; ok {
			orders = append(orders, t)
		}
	}
	act["orders"] = orders
	return nil, placeErr
}

// CashTrades returns the base-currency exposure of every foreign cash
// balance and the signed amount of each currency to convert. Amounts are
// truncated to whole units and floored to a multiple of 1000.
func CashTrades(cash, rates map[string]float64, base string, threshold float64) (map[string]float64, map[string]int64) {
	exposure := map[string]float64{}
	trades := map[string]int64{}
	for ccy, balance := range cash {
		if ccy == base || ccy == "BASE" {
			continue
		}
		rate, ok := rates[ccy]
		if !ok || rate == 0 {
			continue
		}
		exposure[ccy] = balance * rate
		if math.Abs(exposure[ccy]) <= threshold {
			continue
		}
		units := int64(exposure[ccy] / rate)
		if lots := floorDiv(units, 1000) * 1000; lots != 0 {
			trades[ccy] = -lots
		}
	}
	return exposure, trades
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
