package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allocator/internal/broker"
	"allocator/internal/strategy"
	"allocator/internal/trading"
)

func TestAllocation_PlacesNettedOrder(t *testing.T) {
	f := newFixture(t, fixedStrategy{name: "s1", signals: map[int64]float64{1: 1.2}})
	act := f.run(t, "allocation", `{"strategies":["s1"]}`)

	assert.Equal(t, map[string]int64{"A": 3333}, act["consolidatedTrades"])
	assert.Equal(t, "CHF", act["baseCurrency"])
	assert.Equal(t, 50000.0, act["netLiquidation"])

	require.Len(t, f.gw.Placed, 1)
	placed := f.gw.Placed[0]
	assert.Equal(t, broker.ActionBuy, placed.Order.Action)
	assert.Equal(t, int64(3333), placed.Order.TotalQuantity)
	assert.Equal(t, "Adaptive", placed.Order.AlgoStrategy)
	assert.Equal(t, map[string]string{"adaptivePriority": "Normal"}, placed.Order.AlgoParams)
	assert.Equal(t, "DAY", placed.Order.TIF())
	assert.Equal(t, "DU100", placed.Order.Account)

	orders, ok := act["orders"].(map[string]trading.PlacedOrder)
	require.True(t, ok)
	require.Contains(t, orders, "A")
	assert.Equal(t, map[string]int64{"s1": 3333}, orders["A"].Source)

	open, err := f.ledger.ListOpenOrders(context.Background(), "paper")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.NotNil(t, open[0].PermID)
	assert.Equal(t, placed.Trade.PermID, *open[0].PermID)

	logs := f.ledger.ActivityLogs()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].HasOrders)
}

func TestAllocation_DayOverridesRequestedTIF(t *testing.T) {
	f := newFixture(t, fixedStrategy{name: "s1", signals: map[int64]float64{1: 1.2}})
	f.run(t, "allocation", `{"strategies":["s1"],"orderProperties":{"tif":"GTC","goodAfterTime":"in 10 minutes"}}`)

	require.Len(t, f.gw.Placed, 1)
	props := f.gw.Placed[0].Order.Properties
	assert.Equal(t, "DAY", props["tif"])
	assert.Equal(t, "20260302 10:10:00 UTC", props["goodAfterTime"])
}

func TestAllocation_DryRunNeverTouchesBroker(t *testing.T) {
	f := newFixture(t, fixedStrategy{name: "s1", signals: map[int64]float64{1: 1.2}})
	act := f.run(t, "allocation", `{"strategies":["s1"],"dryRun":true}`)

	assert.Equal(t, map[string]int64{"A": 3333}, act["consolidatedTrades"])
	assert.NotContains(t, act, "orders")
	assert.Empty(t, f.gw.Placed)
	open, err := f.ledger.ListOpenOrders(context.Background(), "paper")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestAllocation_RetryGuardSkipsRepeatedRun(t *testing.T) {
	f := newFixture(t, fixedStrategy{name: "s1", signals: map[int64]float64{1: 1.2}})
	f.env.Config.Allocation.RetryCheckMinutes = 10

	f.run(t, "allocation", `{"strategies":["s1"]}`)
	require.Len(t, f.gw.Placed, 1)

	act := f.run(t, "allocation", `{"strategies":["s1"]}`)
	assert.Equal(t, "ran before", act["skipped"])
	assert.Len(t, f.gw.Placed, 1)

	// A dry run has a different signature and is never blocked.
	f.run(t, "allocation", `{"strategies":["s1"],"dryRun":true}`)
	assert.Len(t, f.ledger.ActivityLogs(), 3)
}

func TestAllocation_RetryGuardIgnoresRunsWithoutOrders(t *testing.T) {
	f := newFixture(t, fixedStrategy{name: "s1", signals: map[int64]float64{1: 1.2}})
	f.env.Config.Allocation.RetryCheckMinutes = 10
	f.env.Config.Allocation.Exposure.Overall = 0

	act := f.run(t, "allocation", `{"strategies":["s1"]}`)
	assert.Equal(t, "overall exposure is 0", act["skipped"])

	f.env.Config.Allocation.Exposure.Overall = 1
	act = f.run(t, "allocation", `{"strategies":["s1"]}`)
	assert.NotContains(t, act, "skipped")
	assert.Len(t, f.gw.Placed, 1)
}

func TestAllocation_ZeroWeightAndFailingStrategies(t *testing.T) {
	f := newFixture(t,
		fixedStrategy{name: "s1", signals: map[int64]float64{1: 1.2}},
		fixedStrategy{name: "s2", signals: map[int64]float64{1: -5}},
		fixedStrategy{name: "s3", err: errors.New("model unavailable")},
	)
	f.env.Config.Allocation.Exposure.Strategies = map[string]float64{"s1": 1, "s2": 0, "s3": 1}

	act := f.run(t, "allocation", `{"strategies":["s1","s2","s3"]}`)

	holdings := act["holdings"].(map[string]map[string]int64)
	assert.Contains(t, holdings, "s1")
	assert.NotContains(t, holdings, "s2")
	assert.NotContains(t, holdings, "s3")

	failures := act["strategyErrors"].(map[string]string)
	assert.Contains(t, failures["s3"], "model unavailable")

	require.Len(t, f.gw.Placed, 1)
	assert.Equal(t, int64(3333), f.gw.Placed[0].Order.TotalQuantity)
}

func TestAllocation_NetsAgainstHoldings(t *testing.T) {
	f := newFixture(t,
		fixedStrategy{name: "s1", signals: map[int64]float64{1: 1.2}},
		fixedStrategy{name: "s2", signals: map[int64]float64{}},
	)
	f.ledger.SetHoldings("paper", "s1", map[int64]int64{1: 3000})
	f.ledger.SetHoldings("paper", "s2", map[int64]int64{1: 333})

	act := f.run(t, "allocation", `{"strategies":["s1","s2"]}`)

	// s1 buys 333, s2 sells 333: nothing to trade.
	assert.Equal(t, map[string]int64{}, act["consolidatedTrades"])
	assert.Empty(t, f.gw.Placed)
	trades := act["trades"].(map[string]map[string]int64)
	assert.Equal(t, map[string]int64{"A": 333}, trades["s1"])
	assert.Equal(t, map[string]int64{"A": -333}, trades["s2"])
}

func TestAllocation_DefaultsToConfiguredStrategies(t *testing.T) {
	f := newFixture(t,
		fixedStrategy{name: "s1", signals: map[int64]float64{1: 1.2}},
		fixedStrategy{name: "s2", signals: map[int64]float64{1: 1.2}},
	)
	act := f.run(t, "allocation", `{"dryRun":true}`)
	assert.Equal(t, []string{"s1", "s2"}, act["strategies"])
	assert.Equal(t, map[string]int64{"A": 6666}, act["consolidatedTrades"])
}

func TestAllocation_UnknownStrategy(t *testing.T) {
	f := newFixture(t, fixedStrategy{name: "s1"})
	_, err := f.disp.Run(context.Background(), "allocation", json.RawMessage(`{"strategies":["s1","nope"]}`))
	assert.ErrorIs(t, err, ErrBadParams)
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)
	assert.Empty(t, f.gw.Placed)
}

func TestAllocation_NoAccountValuesMeansZeroTargets(t *testing.T) {
	f := newFixture(t, fixedStrategy{name: "s1", signals: map[int64]float64{1: 1.2}})
	f.ledger.SetHoldings("paper", "s1", map[int64]int64{1: 10})
	f.gw.Values = nil

	act := f.run(t, "allocation", `{"strategies":["s1"],"dryRun":true}`)
	targets := act["targetPositions"].(map[string]map[string]int64)
	assert.Equal(t, map[string]int64{"A": 0}, targets["s1"])
	assert.Equal(t, map[string]int64{"A": -10}, act["consolidatedTrades"])
}
