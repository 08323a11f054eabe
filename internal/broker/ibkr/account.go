package ibkr

import (
	"context"
	"math"
	"sort"
	"strconv"

	"allocator/internal/broker"
)

type ledgerEntry struct {
	Currency            string  `json:"currency"`
	CashBalance         float64 `json:"cashbalance"`
	NetLiquidationValue float64 `json:"netliquidationvalue"`
	ExchangeRate        float64 `json:"exchangerate"`
}

type summaryAmount struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type positionRow struct {
	AcctID        string  `json:"acctId"`
	Conid         int64   `json:"conid"`
	ContractDesc  string  `json:"contractDesc"`
	Position      float64 `json:"position"`
	MktPrice      float64 `json:"mktPrice"`
	MktValue      float64 `json:"mktValue"`
	Currency      string  `json:"currency"`
	AvgCost       float64 `json:"avgCost"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	AssetClass    string  `json:"assetClass"`
}

// AccountValues merges the account summary (net liquidation in base currency)
// with the per-currency ledger. An empty ledger means the gateway has not
// loaded the account yet.
func (c *Client) AccountValues(ctx context.Context) ([]broker.AccountValue, error) {
	acct, err := c.accountID(ctx)
	if err != nil {
		return nil, err
	}
	var ledger map[string]ledgerEntry
	if err := c.getJSON(ctx, "/portfolio/"+acct+"/ledger", nil, &ledger); err != nil {
		return nil, err
	}
	if len(ledger) == 0 {
		return nil, nil
	}
	var summary map[string]summaryAmount
	if err := c.getJSON(ctx, "/portfolio/"+acct+"/summary", nil, &summary); err != nil {
		return nil, err
	}

	var out []broker.AccountValue
	if nl, ok := summary["netliquidation"]; ok && nl.Currency != "" {
		out = append(out, broker.AccountValue{
			Account:  acct,
			Tag:      broker.TagNetLiquidation,
			Value:    formatFloat(nl.Amount),
			Currency: nl.Currency,
		})
	}
	keys := make([]string, 0, len(ledger))
	for k := range ledger {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry := ledger[k]
		ccy := entry.Currency
		if ccy == "" {
			ccy = k
		}
		if ccy == "BASE" {
			continue
		}
		out = append(out,
			broker.AccountValue{Account: acct, Tag: broker.TagCashBalance, Value: formatFloat(entry.CashBalance), Currency: ccy},
			broker.AccountValue{Account: acct, Tag: broker.TagExchangeRate, Value: formatFloat(entry.ExchangeRate), Currency: ccy},
		)
	}
	return out, nil
}

func (c *Client) Portfolio(ctx context.Context) ([]broker.Position, error) {
	acct, err := c.accountID(ctx)
	if err != nil {
		return nil, err
	}
	var rows []positionRow
	if err := c.getJSON(ctx, "/portfolio/"+acct+"/positions/0", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]broker.Position, 0, len(rows))
	for _, row := range rows {
		out = append(out, broker.Position{
			Account: row.AcctID,
			Contract: broker.Contract{
				ID:          row.Conid,
				LocalSymbol: row.ContractDesc,
				SecType:     row.AssetClass,
				Currency:    row.Currency,
			},
			Quantity:     int64(math.Round(row.Position)),
			MarketPrice:  row.MktPrice,
			MarketValue:  row.MktValue,
			AverageCost:  row.AvgCost,
			UnrealizedPL: row.UnrealizedPnl,
		})
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
