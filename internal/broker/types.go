package broker

import (
	"strconv"
	"strings"
	"time"
)

type Contract struct {
	ID          int64  `json:"conId"`
	Symbol      string `json:"symbol"`
	LocalSymbol string `json:"localSymbol"`
	SecType     string `json:"secType"`
	Exchange    string `json:"exchange"`
	Currency    string `json:"currency"`
	Multiplier  int64  `json:"multiplier"`
	// Expiry is the last trade date as YYYYMMDD; empty for non-expiring contracts.
	Expiry string `json:"expiry,omitempty"`
}

// EffectiveMultiplier treats a missing multiplier as 1.
func (c Contract) EffectiveMultiplier() int64 {
	if c.Multiplier <= 0 {
		return 1
	}
	return c.Multiplier
}

func (c Contract) DisplaySymbol() string {
	if c.LocalSymbol != "" {
		return c.LocalSymbol
	}
	return c.Symbol
}

// Key is DisplaySymbol, or the instrument id when the contract has no symbol.
func (c Contract) Key() string {
	if sym := c.DisplaySymbol(); sym != "" {
		return sym
	}
	return strconv.FormatInt(c.ID, 10)
}

// ExpiryTime parses Expiry; ok is false when the contract has none.
func (c Contract) ExpiryTime() (time.Time, bool) {
	if len(c.Expiry) < 8 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", c.Expiry[:8])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Ticker is the latest market snapshot of one instrument. A nil field means
// the broker had no value for it.
type Ticker struct {
	InstrumentID int64    `json:"conId"`
	Last         *float64 `json:"last,omitempty"`
	Close        *float64 `json:"close,omitempty"`
	Bid          *float64 `json:"bid,omitempty"`
	Ask          *float64 `json:"ask,omitempty"`
}

func (t Ticker) Midpoint() (float64, bool) {
	if !positive(t.Bid) || !positive(t.Ask) {
		return 0, false
	}
	return (*t.Bid + *t.Ask) / 2, true
}

// ClosePrice returns the previous close, falling back to the last trade.
func (t Ticker) ClosePrice() (float64, bool) {
	if positive(t.Close) {
		return *t.Close, true
	}
	if positive(t.Last) {
		return *t.Last, true
	}
	return 0, false
}

// FXRate is the midpoint when quoted, else the close.
func (t Ticker) FXRate() (float64, bool) {
	if mid, ok := t.Midpoint(); ok {
		return mid, true
	}
	return t.ClosePrice()
}

func positive(v *float64) bool {
	return v != nil && *v > 0
}

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"

	SideBought = "BOT"
	SideSold   = "SLD"
)

// Order is a market order request. Params carry algo settings, Properties any
// extra order attributes (tif, goodAfterTime, outsideRth, ...).
type Order struct {
	Account       string            `json:"account,omitempty"`
	Action        string            `json:"action"`
	TotalQuantity int64             `json:"totalQuantity"`
	OrderType     string            `json:"orderType"`
	AlgoStrategy  string            `json:"algoStrategy,omitempty"`
	AlgoParams    map[string]string `json:"algoParams,omitempty"`
	Properties    map[string]any    `json:"properties,omitempty"`
}

func (o Order) TIF() string {
	if v, ok := o.Properties["tif"].(string); ok {
		return v
	}
	return ""
}

type OrderStatus string

const (
	StatusPendingSubmit OrderStatus = "PendingSubmit"
	StatusAPIPending    OrderStatus = "ApiPending"
	StatusPreSubmitted  OrderStatus = "PreSubmitted"
	StatusSubmitted     OrderStatus = "Submitted"
	StatusFilled        OrderStatus = "Filled"
	StatusCancelled     OrderStatus = "Cancelled"
	StatusAPICancelled  OrderStatus = "ApiCancelled"
	StatusInactive      OrderStatus = "Inactive"
)

var (
	ActiveStates = map[OrderStatus]struct{}{
		StatusPendingSubmit: {},
		StatusAPIPending:    {},
		StatusPreSubmitted:  {},
		StatusSubmitted:     {},
	}
	DoneStates = map[OrderStatus]struct{}{
		StatusFilled:       {},
		StatusCancelled:    {},
		StatusAPICancelled: {},
	}
)

func (s OrderStatus) Active() bool {
	_, ok := ActiveStates[s]
	return ok
}

func (s OrderStatus) Done() bool {
	_, ok := DoneStates[s]
	return ok
}

// NormalizeStatus maps free-form gateway status strings onto OrderStatus.
func NormalizeStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "_", "")) {
	case "pendingsubmit":
		return StatusPendingSubmit
	case "apipending":
		return StatusAPIPending
	case "presubmitted":
		return StatusPreSubmitted
	case "submitted":
		return StatusSubmitted
	case "filled":
		return StatusFilled
	case "cancelled", "canceled":
		return StatusCancelled
	case "apicancelled":
		return StatusAPICancelled
	case "inactive":
		return StatusInactive
	default:
		return OrderStatus(raw)
	}
}

// Trade is a submitted order with its current state.
type Trade struct {
	Account       string      `json:"account,omitempty"`
	Contract      Contract    `json:"contract"`
	OrderID       int64       `json:"orderId"`
	PermID        int64       `json:"permId"`
	Action        string      `json:"action"`
	TotalQuantity int64       `json:"totalQuantity"`
	Filled        int64       `json:"filled"`
	Status        OrderStatus `json:"status"`
}

// Fill is one execution. CumQty is the cumulative unsigned quantity of the
// order up to and including this execution.
type Fill struct {
	ExecID       string    `json:"execId"`
	Account      string    `json:"account,omitempty"`
	InstrumentID int64     `json:"conId"`
	LocalSymbol  string    `json:"localSymbol,omitempty"`
	OrderID      int64     `json:"orderId"`
	PermID       int64     `json:"permId"`
	Side         string    `json:"side"`
	Shares       int64     `json:"shares"`
	CumQty       int64     `json:"cumQty"`
	Price        float64   `json:"price"`
	Time         time.Time `json:"time"`
}

// SignedCumQty is CumQty with BOT positive and everything else negative.
func (f Fill) SignedCumQty() int64 {
	if f.Side == SideBought {
		return f.CumQty
	}
	return -f.CumQty
}

type Position struct {
	Account      string   `json:"account,omitempty"`
	Contract     Contract `json:"contract"`
	Quantity     int64    `json:"position"`
	MarketPrice  float64  `json:"marketPrice"`
	MarketValue  float64  `json:"marketValue"`
	AverageCost  float64  `json:"averageCost"`
	UnrealizedPL float64  `json:"unrealizedPNL"`
}

type AccountValue struct {
	Account  string `json:"account,omitempty"`
	Tag      string `json:"tag"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

const (
	TagNetLiquidation = "NetLiquidation"
	TagCashBalance    = "CashBalance"
	TagExchangeRate   = "ExchangeRate"
)
