package service

import (
	"context"
	"encoding/json"
	"fmt"

	"allocator/internal/config"
)

const ScopeCommon = "common"

// AllocationConfig returns file config with the runtime overrides of the
// "common" scope and then the trading mode scope merged over it. Overrides
// are partial JSON documents shaped like config.AllocationConfig.
func (e *Env) AllocationConfig(ctx context.Context) (config.AllocationConfig, error) {
	cfg := cloneAllocation(e.Config.Allocation)
	if e.Ledger == nil {
		return cfg, nil
	}
	rows, err := e.Ledger.ListRuntimeConfigs(ctx, ScopeCommon, e.TradingMode())
	if err != nil {
		return cfg, fmt.Errorf("load runtime config: %w", err)
	}
	for _, row := range rows {
		if len(row.Value) == 0 {
			continue
		}
		if err := json.Unmarshal(row.Value, &cfg); err != nil {
			return cfg, fmt.Errorf("runtime config %s: %w", row.Scope, err)
		}
	}
	return cfg, nil
}

func cloneAllocation(in config.AllocationConfig) config.AllocationConfig {
	out := in
	out.Exposure.Strategies = make(map[string]float64, len(in.Exposure.Strategies))
	for k, v := range in.Exposure.Strategies {
		out.Exposure.Strategies[k] = v
	}
	return out
}
