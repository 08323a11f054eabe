package ibkr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"allocator/internal/broker"
)

const (
	fieldLast       = "31"
	fieldBid        = "84"
	fieldAsk        = "86"
	fieldPriorClose = "7741"
)

type contractInfo struct {
	ConID          int64  `json:"con_id"`
	Symbol         string `json:"symbol"`
	LocalSymbol    string `json:"local_symbol"`
	Exchange       string `json:"exchange"`
	Currency       string `json:"currency"`
	Multiplier     string `json:"multiplier"`
	InstrumentType string `json:"instrument_type"`
	MaturityDate   string `json:"maturity_date"`
}

type futureRow struct {
	Conid          int64  `json:"conid"`
	Symbol         string `json:"symbol"`
	ExpirationDate int64  `json:"expirationDate"`
}

type searchRow struct {
	Conid  json.Number `json:"conid"`
	Symbol string      `json:"symbol"`
}

func (c *Client) ContractDetails(ctx context.Context, id int64) (broker.Contract, error) {
	var info contractInfo
	if err := c.getJSON(ctx, fmt.Sprintf("/iserver/contract/%d/info", id), nil, &info); err != nil {
		return broker.Contract{}, err
	}
	if info.ConID == 0 {
		info.ConID = id
	}
	mult := int64(1)
	if info.Multiplier != "" {
		d, err := decimal.NewFromString(info.Multiplier)
		if err != nil {
			return broker.Contract{}, fmt.Errorf("parse multiplier %q: %w", info.Multiplier, err)
		}
		mult = d.IntPart()
	}
	return broker.Contract{
		ID:          info.ConID,
		Symbol:      info.Symbol,
		LocalSymbol: info.LocalSymbol,
		SecType:     info.InstrumentType,
		Exchange:    info.Exchange,
		Currency:    info.Currency,
		Multiplier:  mult,
		Expiry:      info.MaturityDate,
	}, nil
}

func (c *Client) Futures(ctx context.Context, symbol, exchange string) ([]broker.Contract, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	query := url.Values{}
	query.Set("symbols", symbol)
	if exchange != "" {
		query.Set("exchange", exchange)
	}
	var resp map[string][]futureRow
	if err := c.getJSON(ctx, "/trsrv/futures", query, &resp); err != nil {
		return nil, err
	}
	rows := resp[symbol]
	out := make([]broker.Contract, 0, len(rows))
	for _, row := range rows {
		out = append(out, broker.Contract{
			ID:       row.Conid,
			Symbol:   row.Symbol,
			SecType:  "FUT",
			Exchange: exchange,
			Expiry:   strconv.FormatInt(row.ExpirationDate, 10),
		})
	}
	return out, nil
}

func (c *Client) ForexPair(ctx context.Context, currency, base string) (broker.Contract, error) {
	pair := strings.ToUpper(currency) + "." + strings.ToUpper(base)
	query := url.Values{}
	query.Set("symbol", pair)
	query.Set("secType", "CASH")
	var rows []searchRow
	if err := c.getJSON(ctx, "/iserver/secdef/search", query, &rows); err != nil {
		return broker.Contract{}, err
	}
	for _, row := range rows {
		if !strings.EqualFold(row.Symbol, pair) {
			continue
		}
		id, err := row.Conid.Int64()
		if err != nil {
			continue
		}
		return broker.Contract{
			ID:          id,
			Symbol:      strings.ToUpper(currency),
			LocalSymbol: pair,
			SecType:     "CASH",
			Exchange:    "IDEALPRO",
			Currency:    strings.ToUpper(base),
			Multiplier:  1,
		}, nil
	}
	return broker.Contract{}, fmt.Errorf("forex pair %s not found", pair)
}

func (c *Client) Tickers(ctx context.Context, ids ...int64) (map[int64]broker.Ticker, error) {
	out := make(map[int64]broker.Ticker, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	conids := make([]string, 0, len(ids))
	for _, id := range ids {
		conids = append(conids, strconv.FormatInt(id, 10))
	}
	query := url.Values{}
	query.Set("conids", strings.Join(conids, ","))
	query.Set("fields", strings.Join([]string{fieldLast, fieldBid, fieldAsk, fieldPriorClose}, ","))

	var rows []map[string]any
	if err := c.getJSON(ctx, "/iserver/marketdata/snapshot", query, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		id, ok := asInt64(row["conid"])
		if !ok {
			continue
		}
		out[id] = broker.Ticker{
			InstrumentID: id,
			Last:         fieldPrice(row, fieldLast),
			Bid:          fieldPrice(row, fieldBid),
			Ask:          fieldPrice(row, fieldAsk),
			Close:        fieldPrice(row, fieldPriorClose),
		}
	}
	return out, nil
}

// fieldPrice reads a snapshot field. Values may carry a one letter prefix
// ("C" for prior close, "H" for halted); absent or unparsable values are nil.
func fieldPrice(row map[string]any, field string) *float64 {
	raw, ok := row[field]
	if !ok || raw == nil {
		return nil
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		return &v
	default:
		return nil
	}
	s = strings.TrimLeft(strings.TrimSpace(s), "CH")
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func parsePrice(s string) float64 {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func decodeReplies(body []byte, out *[]orderReply) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode order reply: %w", err)
	}
	return nil
}
