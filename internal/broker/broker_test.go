package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allocator/internal/broker"
	"allocator/internal/broker/brokertest"
)

func TestTicker_FXRatePrefersMidpoint(t *testing.T) {
	tk := broker.Ticker{Bid: brokertest.Price(0.89), Ask: brokertest.Price(0.91), Close: brokertest.Price(0.5)}
	rate, ok := tk.FXRate()
	require.True(t, ok)
	assert.InDelta(t, 0.9, rate, 1e-9)

	tk = broker.Ticker{Bid: brokertest.Price(0.89), Close: brokertest.Price(0.5)}
	rate, ok = tk.FXRate()
	require.True(t, ok)
	assert.InDelta(t, 0.5, rate, 1e-9)

	_, ok = broker.Ticker{}.FXRate()
	assert.False(t, ok)
}

func TestFill_SignedCumQty(t *testing.T) {
	assert.Equal(t, int64(90), broker.Fill{Side: broker.SideBought, CumQty: 90}.SignedCumQty())
	assert.Equal(t, int64(-90), broker.Fill{Side: broker.SideSold, CumQty: 90}.SignedCumQty())
}

func TestNormalizeStatus(t *testing.T) {
	assert.True(t, broker.NormalizeStatus("PreSubmitted").Active())
	assert.True(t, broker.NormalizeStatus("filled").Done())
	assert.True(t, broker.NormalizeStatus("Canceled").Done())
	assert.False(t, broker.NormalizeStatus("Inactive").Active())
}

func TestAccountValuesWithRetry_EventuallyReturns(t *testing.T) {
	gw := brokertest.New()
	gw.Values = []broker.AccountValue{{Tag: broker.TagNetLiquidation, Value: "1000", Currency: "CHF"}}
	gw.EmptyAccountValuesFor = 2

	got, err := broker.AccountValuesWithRetry(context.Background(), gw, broker.RetryPolicy{
		MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, gw.AccountValuesCalls)
}

func TestAccountValuesWithRetry_ExhaustedIsEmpty(t *testing.T) {
	gw := brokertest.New()
	gw.EmptyAccountValuesFor = 100

	got, err := broker.AccountValuesWithRetry(context.Background(), gw, broker.RetryPolicy{
		MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 3, gw.AccountValuesCalls)
}

func TestAccountValuesWithRetry_GatewayErrorIsNotRetried(t *testing.T) {
	gw := brokertest.New()
	gw.Err = errors.New("boom")

	_, err := broker.AccountValuesWithRetry(context.Background(), gw, broker.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, 1, gw.AccountValuesCalls)
}

func TestNetLiquidation(t *testing.T) {
	values := []broker.AccountValue{
		{Tag: broker.TagCashBalance, Value: "10", Currency: "USD"},
		{Tag: broker.TagNetLiquidation, Value: "50000", Currency: "CHF"},
	}
	ccy, v, ok := broker.NetLiquidation(values)
	require.True(t, ok)
	assert.Equal(t, "CHF", ccy)
	assert.Equal(t, 50000.0, v)
	assert.Equal(t, map[string]float64{"USD": 10}, broker.ValuesByCurrency(values, broker.TagCashBalance))
}

func TestContract_ExpiryTime(t *testing.T) {
	c := broker.Contract{Expiry: "20250321"}
	got, ok := c.ExpiryTime()
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC), got)
	_, ok = broker.Contract{}.ExpiryTime()
	assert.False(t, ok)
}
