package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"allocator/internal/broker"
	"allocator/internal/metrics"
	"allocator/internal/models"
	"allocator/internal/repository"
)

// OrderSpec is applied to every order of one placement batch. Properties are
// merged over DefaultProperties.
type OrderSpec struct {
	TradingMode  string
	Account      string
	AlgoStrategy string
	AlgoParams   map[string]string
	Properties   map[string]any
}

var DefaultProperties = map[string]any{"tif": "GTC"}

// PlacedOrder is the activity record of one submitted order.
type PlacedOrder struct {
	InstrumentID int64              `json:"instrumentId"`
	LocalSymbol  string             `json:"localSymbol"`
	Action       string             `json:"action"`
	Quantity     int64              `json:"quantity"`
	OrderID      int64              `json:"orderId"`
	PermID       int64              `json:"permId"`
	Status       broker.OrderStatus `json:"status"`
	Source       map[string]int64   `json:"source"`
	// Booked is true when the order filled on submission and went straight
	// to holdings.
	Booked bool `json:"booked"`
}

type Executor struct {
	Gateway  broker.Gateway
	Ledger   repository.Ledger
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	AckDelay time.Duration

	// Sleep and NewID are replaceable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	NewID func() string
}

// PlaceOrders submits one market order per consolidated trade, then records
// an intent for every order the broker reports active and books orders that
// already filled. The result is keyed by Contract.Key. Orders placed before a submission failure are still
// recorded; the failure is returned afterwards.
func (e *Executor) PlaceOrders(ctx context.Context, trades []ConsolidatedTrade, spec OrderSpec) (map[string]PlacedOrder, error) {
	if e == nil || e.Gateway == nil || e.Ledger == nil {
		return nil, fmt.Errorf("executor not configured")
	}
	logger := e.logger()
	props := mergeProperties(spec.Properties)

	type submitted struct {
		trade ConsolidatedTrade
		ack   broker.Trade
	}
	var (
		placed    []submitted
		submitErr error
	)
	for _, t := range trades {
		if t.Quantity == 0 {
			continue
		}
		order := broker.Order{
			Account:       spec.Account,
			Action:        broker.ActionBuy,
			TotalQuantity: t.Quantity,
			OrderType:     "MKT",
			AlgoStrategy:  spec.AlgoStrategy,
			AlgoParams:    spec.AlgoParams,
			Properties:    props,
		}
		if t.Quantity < 0 {
			order.Action = broker.ActionSell
			order.TotalQuantity = -t.Quantity
		}
		ack, err := e.Gateway.PlaceOrder(ctx, t.Contract, order)
		if err != nil {
			e.Metrics.OrderPlaced("error")
			submitErr = fmt.Errorf("place order %s: %w", t.Contract.DisplaySymbol(), err)
			logger.Error("place order failed", zap.Int64("instrument_id", t.Contract.ID), zap.Error(err))
			break
		}
		logger.Info("order placed",
			zap.Int64("instrument_id", t.Contract.ID),
			zap.String("action", order.Action),
			zap.Int64("quantity", order.TotalQuantity),
			zap.Int64("order_id", ack.OrderID),
			zap.Int64("perm_id", ack.PermID),
		)
		placed = append(placed, submitted{trade: t, ack: ack})
		if err := e.sleep(ctx, e.AckDelay); err != nil {
			submitErr = err
			break
		}
	}

	// The broker's session view carries the settled status of each order.
	current := map[string]broker.Trade{}
	if len(placed) > 0 {
		session, err := e.Gateway.Trades(ctx)
		if err != nil {
			logger.Warn("list broker trades failed, using submission status", zap.Error(err))
		}
		for _, bt := range session {
			if bt.PermID != 0 {
				current[permKey(bt.PermID)] = bt
			}
			current[orderKey(bt.OrderID)] = bt
		}
	}

	out := make(map[string]PlacedOrder, len(placed))
	for _, p := range placed {
		state := p.ack
		if bt, ok := lookupTrade(current, p.ack); ok {
			state = bt
			if state.PermID == 0 {
				state.PermID = p.ack.PermID
			}
		} else {
			logger.Warn("order missing from broker trades, using submission status",
				zap.Int64("instrument_id", p.trade.Contract.ID),
				zap.Int64("order_id", p.ack.OrderID),
				zap.Int64("perm_id", p.ack.PermID),
				zap.String("status", string(p.ack.Status)),
			)
		}
		rec := PlacedOrder{
			InstrumentID: p.trade.Contract.ID,
			LocalSymbol:  p.trade.Contract.DisplaySymbol(),
			Action:       p.ack.Action,
			Quantity:     p.ack.TotalQuantity,
			OrderID:      state.OrderID,
			PermID:       state.PermID,
			Status:       state.Status,
			Source:       p.trade.Source,
		}
		if err := e.record(ctx, spec, p.trade, state, &rec); err != nil {
			return out, errors.Join(submitErr, err)
		}
		out[p.trade.Contract.Key()] = rec
	}
	return out, submitErr
}

func (e *Executor) record(ctx context.Context, spec OrderSpec, t ConsolidatedTrade, state broker.Trade, rec *PlacedOrder) error {
	logger := e.logger()
	switch {
	case state.Status == broker.StatusFilled:
		if err := ApplySource(ctx, e.Ledger, spec.TradingMode, t.Contract.ID, t.Source, ""); err != nil {
			return err
		}
		rec.Booked = true
		e.Metrics.OrderPlaced("filled")
	case state.Status.Done():
		logger.Warn("order cancelled on submission",
			zap.Int64("instrument_id", t.Contract.ID),
			zap.Int64("order_id", state.OrderID),
			zap.String("status", string(state.Status)),
		)
		e.Metrics.OrderPlaced("cancelled")
	case !state.Status.Active():
		logger.Warn("order not active after submission, no intent recorded",
			zap.Int64("instrument_id", t.Contract.ID),
			zap.Int64("order_id", state.OrderID),
			zap.String("status", string(state.Status)),
		)
		e.Metrics.OrderPlaced("rejected")
	default:
		src, err := models.EncodeQuantities(t.Source)
		if err != nil {
			return err
		}
		item := &models.OpenOrder{
			ID:           e.newID(),
			TradingMode:  spec.TradingMode,
			AccountID:    firstNonEmpty(state.Account, spec.Account),
			InstrumentID: t.Contract.ID,
			OrderID:      state.OrderID,
			Source:       src,
			CreatedAt:    time.Now().UTC(),
		}
		if state.PermID != 0 {
			perm := state.PermID
			item.PermID = &perm
		}
		if err := e.Ledger.InsertOpenOrder(ctx, item); err != nil {
			return fmt.Errorf("record intent for order %d: %w", state.OrderID, err)
		}
		e.Metrics.OrderPlaced("active")
	}
	return nil
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func mergeProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(DefaultProperties)+len(props))
	for k, v := range DefaultProperties {
		out[k] = v
	}
	for k, v := range props {
		out[k] = v
	}
	return out
}

func permKey(id int64) string  { return fmt.Sprintf("p%d", id) }
func orderKey(id int64) string { return fmt.Sprintf("o%d", id) }

// lookupTrade finds an acknowledged order in the session by perm id, falling
// back to the session order id.
func lookupTrade(session map[string]broker.Trade, ack broker.Trade) (broker.Trade, bool) {
	if ack.PermID != 0 {
		if bt, ok := session[permKey(ack.PermID)]; ok {
			return bt, true
		}
	}
	bt, ok := session[orderKey(ack.OrderID)]
	return bt, ok
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
