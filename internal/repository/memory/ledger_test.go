package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"allocator/internal/models"
	"allocator/internal/repository"
)

func permID(v int64) *int64 { return &v }

func TestLedger_HoldingsMissingIsEmpty(t *testing.T) {
	l := NewLedger()
	got, found, err := l.GetHoldings(context.Background(), "paper", "s1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, got)
}

func TestLedger_ApplyDeltaConsumesOrder(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.InsertOpenOrder(ctx, &models.OpenOrder{
		ID: "o1", TradingMode: "paper", InstrumentID: 5, OrderID: 10, PermID: permID(77),
		Source: datatypes.JSON(`{"s1":10}`),
	}))

	require.NoError(t, l.ApplyHoldingsDelta(ctx, "paper", "s1", 5, 10, "o1"))

	got, found, err := l.GetHoldings(ctx, "paper", "s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[int64]int64{5: 10}, got)

	_, err = l.FindOpenOrderByPermID(ctx, "paper", 77)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	// consuming an already deleted order is not an error
	require.NoError(t, l.ApplyHoldingsDelta(ctx, "paper", "s1", 5, -10, "o1"))
	got, _, err = l.GetHoldings(ctx, "paper", "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLedger_ModesAreIsolated(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	l.SetHoldings("live", "s1", map[int64]int64{1: 4})

	paper, err := l.ListHoldings(ctx, "paper")
	require.NoError(t, err)
	assert.Empty(t, paper)

	live, err := l.ListHoldings(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, map[string]map[int64]int64{"s1": {1: 4}}, live)
}

func TestLedger_FindByOrderIDFallback(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.InsertOpenOrder(ctx, &models.OpenOrder{ID: "o1", TradingMode: "paper", InstrumentID: 5, OrderID: 10}))

	got, err := l.FindOpenOrderByOrderID(ctx, "paper", 10, 5)
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)

	_, err = l.FindOpenOrderByOrderID(ctx, "paper", 10, 6)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLedger_DuplicateOpenOrder(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	item := &models.OpenOrder{ID: "o1", TradingMode: "paper"}
	require.NoError(t, l.InsertOpenOrder(ctx, item))
	assert.ErrorIs(t, l.InsertOpenOrder(ctx, item), repository.ErrDuplicateKey)
}

func TestLedger_DeleteOpenOrdersByPermID(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.InsertOpenOrder(ctx, &models.OpenOrder{ID: "a", TradingMode: "paper", PermID: permID(1)}))
	require.NoError(t, l.InsertOpenOrder(ctx, &models.OpenOrder{ID: "b", TradingMode: "paper", PermID: permID(2)}))
	require.NoError(t, l.InsertOpenOrder(ctx, &models.OpenOrder{ID: "c", TradingMode: "live", PermID: permID(1)}))

	n, err := l.DeleteOpenOrdersByPermID(ctx, "paper", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	paper, err := l.ListOpenOrders(ctx, "paper")
	require.NoError(t, err)
	require.Len(t, paper, 1)
	assert.Equal(t, "b", paper[0].ID)
}

func TestLedger_CountActivityLogs(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	now := time.Now().UTC()
	require.NoError(t, l.InsertActivityLog(ctx, &models.ActivityLog{ID: "1", Signature: "sig", TradingMode: "paper", HasOrders: true, CreatedAt: now}))
	require.NoError(t, l.InsertActivityLog(ctx, &models.ActivityLog{ID: "2", Signature: "sig", TradingMode: "paper", CreatedAt: now}))
	require.NoError(t, l.InsertActivityLog(ctx, &models.ActivityLog{ID: "3", Signature: "sig", TradingMode: "paper", HasOrders: true, CreatedAt: now.Add(-time.Hour)}))

	n, err := l.CountActivityLogs(ctx, repository.ActivityLogQuery{
		TradingMode: "paper", Signature: "sig", Since: now.Add(-time.Minute), WithOrders: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = l.CountActivityLogs(ctx, repository.ActivityLogQuery{TradingMode: "live", Signature: "sig"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLedger_RuntimeConfigOrder(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.UpsertRuntimeConfig(ctx, &models.RuntimeConfig{Scope: "paper", Value: datatypes.JSON(`{}`)}))
	require.NoError(t, l.UpsertRuntimeConfig(ctx, &models.RuntimeConfig{Scope: "common", Value: datatypes.JSON(`{}`)}))

	rows, err := l.ListRuntimeConfigs(ctx, "common", "paper", "live")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "common", rows[0].Scope)
	assert.Equal(t, "paper", rows[1].Scope)
}

func TestLedger_DeleteUnassignedOpenOrders(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.InsertOpenOrder(ctx, &models.OpenOrder{ID: "a", TradingMode: "paper", OrderID: 5, InstrumentID: 7}))
	require.NoError(t, l.InsertOpenOrder(ctx, &models.OpenOrder{ID: "b", TradingMode: "paper", OrderID: 5, InstrumentID: 7, PermID: permID(9)}))
	require.NoError(t, l.InsertOpenOrder(ctx, &models.OpenOrder{ID: "c", TradingMode: "paper", OrderID: 5, InstrumentID: 8}))

	n, err := l.DeleteUnassignedOpenOrders(ctx, "paper", 5, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := l.ListOpenOrders(ctx, "paper")
	require.NoError(t, err)
	ids := []string{}
	for _, o := range left {
		ids = append(ids, o.ID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
}
