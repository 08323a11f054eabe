package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"allocator/internal/models"
)

func TestAllocationConfig_MergesRuntimeOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.UpsertRuntimeConfig(ctx, &models.RuntimeConfig{
		Scope: ScopeCommon,
		Value: datatypes.JSON(`{"exposure":{"overall":0.5},"retryCheckMinutes":3}`),
	}))
	require.NoError(t, f.ledger.UpsertRuntimeConfig(ctx, &models.RuntimeConfig{
		Scope: "paper",
		Value: datatypes.JSON(`{"retryCheckMinutes":5,"exposure":{"strategies":{"s2":0.3}}}`),
	}))
	require.NoError(t, f.ledger.UpsertRuntimeConfig(ctx, &models.RuntimeConfig{
		Scope: "live",
		Value: datatypes.JSON(`{"adaptivePriority":"Urgent"}`),
	}))

	cfg, err := f.env.AllocationConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Exposure.Overall)
	assert.Equal(t, map[string]float64{"s1": 1, "s2": 0.3}, cfg.Exposure.Strategies)
	assert.Equal(t, 5, cfg.RetryCheckMinutes)
	assert.Equal(t, "Normal", cfg.AdaptivePriority)

	// File config is never mutated.
	assert.Equal(t, 1.0, f.env.Config.Allocation.Exposure.Strategies["s2"])
	assert.Equal(t, 1.0, f.env.Config.Allocation.Exposure.Overall)
}

func TestAllocationConfig_BadOverride(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.UpsertRuntimeConfig(context.Background(), &models.RuntimeConfig{
		Scope: ScopeCommon,
		Value: datatypes.JSON(`{"exposure":"all of it"}`),
	}))
	_, err := f.env.AllocationConfig(context.Background())
	assert.Error(t, err)
}
