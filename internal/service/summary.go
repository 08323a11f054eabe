package service

import (
	"context"
	"encoding/json"
	"fmt"

	"allocator/internal/broker"
)

// Summary reports the account state. It never writes the activity log.
type Summary struct{}

func NewSummary(params json.RawMessage) (Intent, error) {
	var ignored map[string]any
	if err := decodeParams(params, &ignored); err != nil {
		return nil, err
	}
	return &Summary{}, nil
}

func (s *Summary) Name() string   { return "summary" }
func (s *Summary) ReadOnly() bool { return true }

type PortfolioLine struct {
	Position      int64   `json:"position"`
	Exposure      float64 `json:"exposure"`
	UnrealizedPNL float64 `json:"unrealizedPNL"`
}

type SummaryResult struct {
	AccountSummary map[string]map[string]string `json:"accountSummary"`
	Portfolio      map[string]PortfolioLine     `json:"portfolio"`
	OpenTrades     []broker.Trade               `json:"openTrades"`
	Fills          []broker.Fill                `json:"fills"`
}

func (s *Summary) Execute(ctx context.Context, run *Run) (any, error) {
	env := run.Env
	values, err := env.accountValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("account values: %w", err)
	}
	positions, err := env.Gateway.Portfolio(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio: %w", err)
	}
	open, err := env.Gateway.OpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("open trades: %w", err)
	}
	fills, err := env.Gateway.Fills(ctx)
	if err != nil {
		return nil, fmt.Errorf("fills: %w", err)
	}

	res := &SummaryResult{
		AccountSummary: map[string]map[string]string{},
		Portfolio:      make(map[string]PortfolioLine, len(positions)),
		OpenTrades:     open,
		Fills:          fills,
	}
	for _, v := range values {
		byCcy, ok := res.AccountSummary[v.Tag]
		if !ok {
			byCcy = map[string]string{}
			res.AccountSummary[v.Tag] = byCcy
		}
		byCcy[v.Currency] = v.Value
	}
	for _, p := range positions {
		res.Portfolio[p.Contract.Key()] = PortfolioLine{
			Position:      p.Quantity,
			Exposure:      p.MarketValue,
			UnrealizedPNL: p.UnrealizedPL,
		}
	}
	if res.OpenTrades == nil {
		res.OpenTrades = []broker.Trade{}
	}
	if res.Fills == nil {
		res.Fills = []broker.Fill{}
	}
	return res, nil
}
