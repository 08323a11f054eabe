package ibkr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allocator/internal/broker"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), srv.URL, "DU1")
}

func TestClient_AccountValues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/portfolio/DU1/ledger", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"BASE":{"currency":"BASE","cashbalance":100,"exchangerate":1},
			"USD":{"currency":"USD","cashbalance":2500.5,"exchangerate":0.9}
		}`))
	})
	mux.HandleFunc("/portfolio/DU1/summary", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"netliquidation":{"amount":50000,"currency":"CHF"}}`))
	})
	c := newTestClient(t, mux)

	values, err := c.AccountValues(context.Background())
	require.NoError(t, err)
	ccy, nl, ok := broker.NetLiquidation(values)
	require.True(t, ok)
	assert.Equal(t, "CHF", ccy)
	assert.Equal(t, 50000.0, nl)
	assert.Equal(t, map[string]float64{"USD": 2500.5}, broker.ValuesByCurrency(values, broker.TagCashBalance))
	assert.Equal(t, map[string]float64{"USD": 0.9}, broker.ValuesByCurrency(values, broker.TagExchangeRate))
}

func TestClient_AccountValuesEmptyLedger(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/portfolio/DU1/ledger", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	c := newTestClient(t, mux)

	values, err := c.AccountValues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestClient_FillsAccumulatePerOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/account/trades", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"execution_id":"e2","conid":5,"order_id":7,"perm_id":70,"side":"B","size":60,"price":"10.5","trade_time_r":2000},
			{"execution_id":"e1","conid":5,"order_id":7,"perm_id":70,"side":"B","size":30,"price":"10.4","trade_time_r":1000},
			{"execution_id":"e3","conid":6,"order_id":8,"perm_id":80,"side":"S","size":4,"price":"1,200.25","trade_time_r":1500}
		]`))
	})
	c := newTestClient(t, mux)

	fills, err := c.Fills(context.Background())
	require.NoError(t, err)
	require.Len(t, fills, 3)
	assert.Equal(t, "e1", fills[0].ExecID)
	assert.Equal(t, int64(30), fills[0].CumQty)
	assert.Equal(t, int64(-4), fills[1].SignedCumQty())
	assert.Equal(t, 1200.25, fills[1].Price)
	assert.Equal(t, int64(90), fills[2].SignedCumQty())
}

func TestClient_PlaceOrderConfirmsPrompts(t *testing.T) {
	var ticket map[string][]orderTicket
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/account/DU1/orders", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ticket))
		_, _ = w.Write([]byte(`[{"id":"reply-1","message":["are you sure?"]}]`))
	})
	mux.HandleFunc("/iserver/reply/reply-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"order_id":"42","perm_id":"4200","order_status":"PreSubmitted"}]`))
	})
	c := newTestClient(t, mux)

	trade, err := c.PlaceOrder(context.Background(), broker.Contract{ID: 5}, broker.Order{
		Action: broker.ActionSell, TotalQuantity: 3, AlgoStrategy: "Adaptive",
		AlgoParams: map[string]string{"adaptivePriority": "Normal"},
		Properties: map[string]any{"tif": "DAY"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), trade.OrderID)
	assert.Equal(t, int64(4200), trade.PermID)
	assert.True(t, trade.Status.Active())

	require.Len(t, ticket["orders"], 1)
	assert.Equal(t, "MKT", ticket["orders"][0].OrderType)
	assert.Equal(t, "DAY", ticket["orders"][0].TIF)
	assert.Equal(t, int64(3), ticket["orders"][0].Quantity)
}

func TestClient_TickersParsePrefixedValues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/marketdata/snapshot", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5,6", r.URL.Query().Get("conids"))
		_, _ = w.Write([]byte(`[
			{"conid":5,"31":"C10.00","84":"9.5","86":"10.5"},
			{"conid":6,"7741":"0.9"}
		]`))
	})
	c := newTestClient(t, mux)

	ticks, err := c.Tickers(context.Background(), 5, 6)
	require.NoError(t, err)
	mid, ok := ticks[5].Midpoint()
	require.True(t, ok)
	assert.Equal(t, 10.0, mid)
	require.NotNil(t, ticks[5].Last)
	assert.Equal(t, 10.0, *ticks[5].Last)
	assert.Nil(t, ticks[6].Last)
	rate, ok := ticks[6].FXRate()
	require.True(t, ok)
	assert.Equal(t, 0.9, rate)
}

func TestClient_ContractDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/contract/5/info", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"con_id":5,"symbol":"MNQ","local_symbol":"MNQH5","currency":"USD","multiplier":"2","instrument_type":"FUT","maturity_date":"20250321"}`))
	})
	c := newTestClient(t, mux)

	got, err := c.ContractDetails(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Multiplier)
	assert.Equal(t, "MNQH5", got.DisplaySymbol())
}

func TestClient_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/portfolio/DU1/positions/0", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
	})
	c := newTestClient(t, mux)

	_, err := c.Portfolio(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
