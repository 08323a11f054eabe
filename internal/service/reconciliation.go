package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"allocator/internal/broker"
	"allocator/internal/models"
	"allocator/internal/repository"
	"allocator/internal/trading"
)

// Reconciliation books fully settled orders into strategy holdings and
// checks the ledger against the broker portfolio.
type Reconciliation struct{}

func NewReconciliation(params json.RawMessage) (Intent, error) {
	var ignored map[string]any
	if err := decodeParams(params, &ignored); err != nil {
		return nil, err
	}
	return &Reconciliation{}, nil
}

func (r *Reconciliation) Name() string { return "reconciliation" }

// FillResult is the activity record of one fill.
type FillResult struct {
	ExecID       string `json:"execId"`
	InstrumentID int64  `json:"conId"`
	OrderID      int64  `json:"orderId"`
	PermID       int64  `json:"permId"`
	CumQty       int64  `json:"cumQty"`
	Expected     int64  `json:"expected,omitempty"`
	Result       string `json:"result"`
}

const (
	fillUnmatched = "unmatched"
	fillPartial   = "partial"
	fillSettled   = "settled"
)

func (r *Reconciliation) Execute(ctx context.Context, run *Run) (any, error) {
	env, act, logger := run.Env, run.Activity, run.Logger
	mode := env.TradingMode()

	open, err := env.Gateway.OpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("open trades: %w", err)
	}
	for _, t := range open {
		logger.Info("open trade",
			zap.String("symbol", t.Contract.DisplaySymbol()),
			zap.Int64("perm_id", t.PermID),
			zap.String("status", string(t.Status)),
			zap.Int64("filled", t.Filled),
			zap.Int64("total", t.TotalQuantity),
		)
	}
	act["openTrades"] = open

	fills, err := env.Gateway.Fills(ctx)
	if err != nil {
		return nil, fmt.Errorf("fills: %w", err)
	}
	results := make([]FillResult, 0, len(fills))
	for _, f := range fills {
		res, err := reconcileFill(ctx, env.Ledger, mode, f)
		if err != nil {
			act["fills"] = results
			return nil, err
		}
		env.Metrics.FillSeen(res.Result)
		if res.Result == fillSettled {
			logger.Info("order settled",
				zap.String("symbol", f.LocalSymbol),
				zap.Int64("perm_id", f.PermID),
				zap.Int64("quantity", res.CumQty),
			)
		}
		results = append(results, res)
	}
	act["fills"] = results

	mismatches, err := portfolioParity(ctx, env, mode)
	if err != nil {
		return nil, err
	}
	if len(mismatches) > 0 {
		logger.Warn("ledger and broker portfolio disagree", zap.Any("mismatches", mismatches))
		env.Metrics.Mismatches("reconciliation", len(mismatches))
		act["mismatches"] = mismatches
	}
	return nil, nil
}

func reconcileFill(ctx context.Context, ledger repository.Ledger, mode string, f broker.Fill) (FillResult, error) {
	res := FillResult{
		ExecID:       f.ExecID,
		InstrumentID: f.InstrumentID,
		OrderID:      f.OrderID,
		PermID:       f.PermID,
		CumQty:       f.SignedCumQty(),
		Result:       fillUnmatched,
	}
	rec, err := findIntent(ctx, ledger, mode, f)
	if err != nil {
		return res, err
	}
	if rec == nil {
		return res, nil
	}
	source, err := rec.SourceMap()
	if err != nil {
		return res, fmt.Errorf("decode source of %s: %w", rec.ID, err)
	}
	expected, err := rec.SourceTotal()
	if err != nil {
		return res, fmt.Errorf("decode source of %s: %w", rec.ID, err)
	}
	res.Expected = expected
	if res.CumQty != expected {
		res.Result = fillPartial
		return res, nil
	}
	if err := trading.ApplySource(ctx, ledger, mode, rec.InstrumentID, source, rec.ID); err != nil {
		return res, err
	}
	res.Result = fillSettled
	return res, nil
}

// findIntent matches by perm id first and falls back to order id plus
// instrument for records written before the broker assigned a perm id.
func findIntent(ctx context.Context, ledger repository.Ledger, mode string, f broker.Fill) (*models.OpenOrder, error) {
	if f.PermID != 0 {
		rec, err := ledger.FindOpenOrderByPermID(ctx, mode, f.PermID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	rec, err := ledger.FindOpenOrderByOrderID(ctx, mode, f.OrderID, f.InstrumentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.PermID != nil && f.PermID != 0 && *rec.PermID != f.PermID {
		return nil, nil
	}
	return rec, nil
}

// portfolioParity compares the consolidated ledger with the broker positions.
func portfolioParity(ctx context.Context, env *Env, mode string) ([]trading.Mismatch, error) {
	all, err := env.Ledger.ListHoldings(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	positions, err := env.Gateway.Portfolio(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio: %w", err)
	}
	return trading.Compare(repository.Consolidate(all), portfolioQuantities(positions, env.Config.Broker.Account)), nil
}

func portfolioQuantities(positions []broker.Position, account string) map[int64]int64 {
	out := map[int64]int64{}
	for _, p := range positions {
		if account != "" && p.Account != "" && p.Account != account {
			continue
		}
		if p.Quantity != 0 {
			out[p.Contract.ID] += p.Quantity
		}
	}
	return out
}
