// Package brokertest provides an in-memory broker.Gateway for tests.
package brokertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"allocator/internal/broker"
)

// Gateway is a scriptable fake. Orders placed through it are assigned
// sequential order and perm ids and take the status FillOnSubmit decides.
type Gateway struct {
	mu sync.Mutex

	Values    []broker.AccountValue
	Positions []broker.Position
	Contracts map[int64]broker.Contract
	Ticks     map[int64]broker.Ticker
	// Pairs maps "EURUSD" style keys to forex contracts.
	Pairs        map[string]broker.Contract
	FuturesList  map[string][]broker.Contract
	FillList     []broker.Fill
	SessionTrade []broker.Trade

	// FillOnSubmit returns the status of a freshly placed order; default Submitted.
	FillOnSubmit func(contract broker.Contract, order broker.Order) broker.OrderStatus

	Placed    []PlacedOrder
	Cancelled []int64

	AccountValuesCalls int
	// EmptyAccountValuesFor makes the first N AccountValues calls return nothing.
	EmptyAccountValuesFor int
	Err                   error

	nextOrderID int64
}

type PlacedOrder struct {
	Contract broker.Contract
	Order    broker.Order
	Trade    broker.Trade
}

var _ broker.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		Contracts:   map[int64]broker.Contract{},
		Ticks:       map[int64]broker.Ticker{},
		Pairs:       map[string]broker.Contract{},
		FuturesList: map[string][]broker.Contract{},
		nextOrderID: 1,
	}
}

func (g *Gateway) AddInstrument(c broker.Contract, t broker.Ticker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Contracts[c.ID] = c
	t.InstrumentID = c.ID
	g.Ticks[c.ID] = t
}

func (g *Gateway) AddPair(currency, base string, c broker.Contract, t broker.Ticker) {
	g.AddInstrument(c, t)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Pairs[currency+base] = c
}

func (g *Gateway) AccountValues(_ context.Context) ([]broker.AccountValue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.AccountValuesCalls++
	if g.Err != nil {
		return nil, g.Err
	}
	if g.AccountValuesCalls <= g.EmptyAccountValuesFor {
		return nil, nil
	}
	return append([]broker.AccountValue(nil), g.Values...), nil
}

func (g *Gateway) Portfolio(_ context.Context) ([]broker.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	return append([]broker.Position(nil), g.Positions...), nil
}

func (g *Gateway) Trades(_ context.Context) ([]broker.Trade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]broker.Trade(nil), g.SessionTrade...), nil
}

func (g *Gateway) OpenTrades(_ context.Context) ([]broker.Trade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []broker.Trade
	for _, t := range g.SessionTrade {
		if t.Status.Active() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (g *Gateway) Fills(_ context.Context) ([]broker.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	return append([]broker.Fill(nil), g.FillList...), nil
}

func (g *Gateway) PlaceOrder(_ context.Context, contract broker.Contract, order broker.Order) (broker.Trade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return broker.Trade{}, g.Err
	}
	status := broker.StatusSubmitted
	if g.FillOnSubmit != nil {
		status = g.FillOnSubmit(contract, order)
	}
	id := g.nextOrderID
	g.nextOrderID++
	trade := broker.Trade{
		Account:       order.Account,
		Contract:      contract,
		OrderID:       id,
		PermID:        1000 + id,
		Action:        order.Action,
		TotalQuantity: order.TotalQuantity,
		Status:        status,
	}
	if status == broker.StatusFilled {
		trade.Filled = order.TotalQuantity
	}
	g.Placed = append(g.Placed, PlacedOrder{Contract: contract, Order: order, Trade: trade})
	g.SessionTrade = append(g.SessionTrade, trade)
	return trade, nil
}

func (g *Gateway) CancelOrder(_ context.Context, orderID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Cancelled = append(g.Cancelled, orderID)
	for i := range g.SessionTrade {
		if g.SessionTrade[i].OrderID == orderID {
			g.SessionTrade[i].Status = broker.StatusCancelled
		}
	}
	return nil
}

func (g *Gateway) ContractDetails(_ context.Context, id int64) (broker.Contract, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.Contracts[id]
	if !ok {
		return broker.Contract{}, fmt.Errorf("unknown contract %d", id)
	}
	return c, nil
}

func (g *Gateway) Futures(_ context.Context, symbol, _ string) ([]broker.Contract, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := append([]broker.Contract(nil), g.FuturesList[strings.ToUpper(symbol)]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Expiry < out[j].Expiry })
	return out, nil
}

func (g *Gateway) ForexPair(_ context.Context, currency, base string) (broker.Contract, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.Pairs[currency+base]
	if !ok {
		return broker.Contract{}, fmt.Errorf("unknown pair %s%s", currency, base)
	}
	return c, nil
}

func (g *Gateway) Tickers(_ context.Context, ids ...int64) (map[int64]broker.Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int64]broker.Ticker, len(ids))
	for _, id := range ids {
		if t, ok := g.Ticks[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

// Price returns a pointer to v for building tickers.
func Price(v float64) *float64 { return &v }
