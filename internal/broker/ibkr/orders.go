package ibkr

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"allocator/internal/broker"
)

const maxOrderReplies = 5

type orderRow struct {
	Acct           string  `json:"acct"`
	Conid          int64   `json:"conid"`
	OrderID        int64   `json:"orderId"`
	PermID         int64   `json:"permId"`
	Status         string  `json:"status"`
	Side           string  `json:"side"`
	TotalSize      float64 `json:"totalSize"`
	FilledQuantity float64 `json:"filledQuantity"`
	Ticker         string  `json:"ticker"`
	SecType        string  `json:"secType"`
	Currency       string  `json:"currency"`
}

type tradeRow struct {
	ExecutionID string  `json:"execution_id"`
	Account     string  `json:"account"`
	Conid       int64   `json:"conid"`
	OrderID     int64   `json:"order_id"`
	PermID      int64   `json:"perm_id"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	Price       string  `json:"price"`
	TradeTimeMS int64   `json:"trade_time_r"`
	Symbol      string  `json:"contract_description_1"`
}

type orderTicket struct {
	AcctID             string            `json:"acctId"`
	Conid              int64             `json:"conid"`
	OrderType          string            `json:"orderType"`
	Side               string            `json:"side"`
	Quantity           int64             `json:"quantity"`
	TIF                string            `json:"tif,omitempty"`
	Strategy           string            `json:"strategy,omitempty"`
	StrategyParameters map[string]string `json:"strategyParameters,omitempty"`
	OutsideRTH         bool              `json:"outsideRTH,omitempty"`
	GoodAfterTime      string            `json:"goodAfterTime,omitempty"`
}

type orderReply struct {
	ID          string   `json:"id"`
	Message     []string `json:"message"`
	OrderID     string   `json:"order_id"`
	PermID      string   `json:"perm_id"`
	OrderStatus string   `json:"order_status"`
}

func (c *Client) Trades(ctx context.Context) ([]broker.Trade, error) {
	var resp struct {
		Orders []orderRow `json:"orders"`
	}
	if err := c.getJSON(ctx, "/iserver/account/orders", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]broker.Trade, 0, len(resp.Orders))
	for _, row := range resp.Orders {
		out = append(out, broker.Trade{
			Account: row.Acct,
			Contract: broker.Contract{
				ID:          row.Conid,
				Symbol:      row.Ticker,
				LocalSymbol: row.Ticker,
				SecType:     row.SecType,
				Currency:    row.Currency,
			},
			OrderID:       row.OrderID,
			PermID:        row.PermID,
			Action:        strings.ToUpper(row.Side),
			TotalQuantity: int64(math.Round(row.TotalSize)),
			Filled:        int64(math.Round(row.FilledQuantity)),
			Status:        broker.NormalizeStatus(row.Status),
		})
	}
	return out, nil
}

func (c *Client) OpenTrades(ctx context.Context) ([]broker.Trade, error) {
	all, err := c.Trades(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.Status.Active() {
			out = append(out, t)
		}
	}
	return out, nil
}

// Fills returns the session executions in time order with CumQty accumulated
// per order.
func (c *Client) Fills(ctx context.Context) ([]broker.Fill, error) {
	var rows []tradeRow
	if err := c.getJSON(ctx, "/iserver/account/trades", nil, &rows); err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TradeTimeMS < rows[j].TradeTimeMS })

	cum := map[int64]int64{}
	out := make([]broker.Fill, 0, len(rows))
	for _, row := range rows {
		shares := int64(math.Round(row.Size))
		cum[row.OrderID] += shares
		side := broker.SideSold
		if strings.HasPrefix(strings.ToUpper(row.Side), "B") {
			side = broker.SideBought
		}
		out = append(out, broker.Fill{
			ExecID:       row.ExecutionID,
			Account:      row.Account,
			InstrumentID: row.Conid,
			LocalSymbol:  row.Symbol,
			OrderID:      row.OrderID,
			PermID:       row.PermID,
			Side:         side,
			Shares:       shares,
			CumQty:       cum[row.OrderID],
			Price:        parsePrice(row.Price),
			Time:         time.UnixMilli(row.TradeTimeMS).UTC(),
		})
	}
	return out, nil
}

// PlaceOrder submits a market order, confirming any warning prompts the
// gateway raises.
func (c *Client) PlaceOrder(ctx context.Context, contract broker.Contract, order broker.Order) (broker.Trade, error) {
	acct := order.Account
	if acct == "" {
		var err error
		if acct, err = c.accountID(ctx); err != nil {
			return broker.Trade{}, err
		}
	}
	ticket := orderTicket{
		AcctID:             acct,
		Conid:              contract.ID,
		OrderType:          orderType(order),
		Side:               order.Action,
		Quantity:           order.TotalQuantity,
		TIF:                order.TIF(),
		Strategy:           order.AlgoStrategy,
		StrategyParameters: order.AlgoParams,
	}
	if v, ok := order.Properties["outsideRth"].(bool); ok {
		ticket.OutsideRTH = v
	}
	if v, ok := order.Properties["goodAfterTime"].(string); ok {
		ticket.GoodAfterTime = v
	}

	var replies []orderReply
	body, err := c.doRequest(ctx, http.MethodPost, "/iserver/account/"+acct+"/orders",
		nil, map[string]any{"orders": []orderTicket{ticket}})
	if err != nil {
		return broker.Trade{}, err
	}
	if err := decodeReplies(body, &replies); err != nil {
		return broker.Trade{}, err
	}
	for i := 0; i < maxOrderReplies && len(replies) > 0 && replies[0].OrderID == "" && replies[0].ID != ""; i++ {
		body, err = c.doRequest(ctx, http.MethodPost, "/iserver/reply/"+replies[0].ID, nil, map[string]bool{"confirmed": true})
		if err != nil {
			return broker.Trade{}, err
		}
		if err := decodeReplies(body, &replies); err != nil {
			return broker.Trade{}, err
		}
	}
	if len(replies) == 0 || replies[0].OrderID == "" {
		return broker.Trade{}, fmt.Errorf("order for %d not acknowledged", contract.ID)
	}

	orderID, err := strconv.ParseInt(replies[0].OrderID, 10, 64)
	if err != nil {
		return broker.Trade{}, fmt.Errorf("parse order id %q: %w", replies[0].OrderID, err)
	}
	permID, _ := strconv.ParseInt(replies[0].PermID, 10, 64)
	return broker.Trade{
		Account:       acct,
		Contract:      contract,
		OrderID:       orderID,
		PermID:        permID,
		Action:        order.Action,
		TotalQuantity: order.TotalQuantity,
		Status:        broker.NormalizeStatus(replies[0].OrderStatus),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	acct, err := c.accountID(ctx)
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/iserver/account/%s/order/%d", acct, orderID), nil, nil)
	return err
}

func orderType(order broker.Order) string {
	if order.OrderType == "" {
		return "MKT"
	}
	return order.OrderType
}
