package instrument

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allocator/internal/broker"
	"allocator/internal/broker/brokertest"
	"allocator/internal/cache"
)

type countingGateway struct {
	*brokertest.Gateway
	details int
	tickers int
}

func (g *countingGateway) ContractDetails(ctx context.Context, id int64) (broker.Contract, error) {
	g.details++
	return g.Gateway.ContractDetails(ctx, id)
}

func (g *countingGateway) Tickers(ctx context.Context, ids ...int64) (map[int64]broker.Ticker, error) {
	g.tickers++
	return g.Gateway.Tickers(ctx, ids...)
}

func TestRegistry_MemoizesPerRun(t *testing.T) {
	gw := &countingGateway{Gateway: brokertest.New()}
	gw.AddInstrument(broker.Contract{ID: 1, Symbol: "A", Currency: "USD", Multiplier: 2}, broker.Ticker{Close: brokertest.Price(10)})
	r := NewRegistry(gw, nil, 0, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := r.Resolve(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got[1].Multiplier)
		_, err = r.Tickers(ctx, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, gw.details)
	assert.Equal(t, 1, gw.tickers)
}

func TestRegistry_ContractCacheSharedAcrossRuns(t *testing.T) {
	gw := &countingGateway{Gateway: brokertest.New()}
	gw.AddInstrument(broker.Contract{ID: 1, Symbol: "A"}, broker.Ticker{})
	store := cache.NewMemoryStore()
	ctx := context.Background()

	_, err := NewRegistry(gw, store, time.Hour, nil).Resolve(ctx, 1)
	require.NoError(t, err)
	_, err = NewRegistry(gw, store, time.Hour, nil).Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, gw.details)
}

func TestRegistry_UnknownContractFails(t *testing.T) {
	r := NewRegistry(brokertest.New(), nil, 0, nil)
	_, err := r.Resolve(context.Background(), 99)
	require.Error(t, err)
}

func TestRegistry_FXRates(t *testing.T) {
	gw := brokertest.New()
	gw.AddPair("USD", "CHF", broker.Contract{ID: 100, SecType: "CASH"},
		broker.Ticker{Bid: brokertest.Price(0.89), Ask: brokertest.Price(0.91)})
	gw.AddPair("EUR", "CHF", broker.Contract{ID: 101, SecType: "CASH"},
		broker.Ticker{Close: brokertest.Price(0.95)})
	gw.AddPair("JPY", "CHF", broker.Contract{ID: 102, SecType: "CASH"}, broker.Ticker{})
	r := NewRegistry(gw, nil, 0, nil)

	rates, err := r.FXRates(context.Background(), "CHF", []string{"USD", "EUR", "JPY", "GBP", "CHF"})
	require.NoError(t, err)
	require.NotNil(t, rates["CHF"])
	assert.Equal(t, 1.0, *rates["CHF"])
	require.NotNil(t, rates["USD"])
	assert.InDelta(t, 0.9, *rates["USD"], 1e-9)
	require.NotNil(t, rates["EUR"])
	assert.Equal(t, 0.95, *rates["EUR"])
	assert.Nil(t, rates["JPY"])
	assert.Contains(t, rates, "GBP")
	assert.Nil(t, rates["GBP"])
}

func TestRegistry_FutureSeries(t *testing.T) {
	gw := brokertest.New()
	listed := []broker.Contract{
		{ID: 1, Symbol: "MNQ", Expiry: "20250321"},
		{ID: 2, Symbol: "MNQ", Expiry: "20250418"},
		{ID: 3, Symbol: "MNQ", Expiry: "20250620"},
		{ID: 4, Symbol: "MNQ", Expiry: "20250919"},
		{ID: 5, Symbol: "MNQ", Expiry: "20270319"},
	}
	gw.FuturesList["MNQ"] = listed
	for _, c := range listed {
		c.Multiplier = 2
		c.Currency = "USD"
		gw.AddInstrument(c, broker.Ticker{})
	}
	r := NewRegistry(gw, nil, 0, nil)
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

	got, err := r.FutureSeries(context.Background(), FutureSpec{Symbol: "MNQ", Exchange: "CME", ExpiryScheme: SchemeQuarterly}, 2, 2, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, "MNQM5", got[0].LocalSymbol)
	assert.Equal(t, int64(4), got[1].ID)
}

func TestRegistry_FutureSeriesUnknownScheme(t *testing.T) {
	r := NewRegistry(brokertest.New(), nil, 0, nil)
	_, err := r.FutureSeries(context.Background(), FutureSpec{Symbol: "MNQ", ExpiryScheme: "x"}, 1, 0, time.Now())
	require.Error(t, err)
}
