package paas

import (
	"context"
	"time"

	"allocator/internal/service"
)

// ActivitySink forwards intent activity to the platform log service.
type ActivitySink struct {
	Client  *Client
	Timeout time.Duration
}

var _ service.AuditSink = (*ActivitySink)(nil)

// activityKeys are copied into the forwarded details; the full activity stays
// in the local activity log.
var activityKeys = []string{
	"consolidatedTrades", "orders", "skipped", "mismatches", "strategyErrors",
	"dryRun", "netLiquidation", "baseCurrency", "trades",
}

func (s *ActivitySink) RecordActivity(ctx context.Context, entry service.AuditEntry) error {
	if s == nil || s.Client == nil {
		return nil
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	details := map[string]any{}
	for _, k := range activityKeys {
		if v, ok := entry.Activity[k]; ok {
			details[k] = v
		}
	}
	level := "info"
	if entry.Exception != "" {
		level = "error"
		details["exception"] = entry.Exception
	} else if _, ok := entry.Activity["mismatches"]; ok {
		level = "warn"
	}
	return s.Client.CreateLog(ctx, CreateLogRequest{
		Action:     "intent_" + entry.Intent,
		Level:      level,
		Details:    details,
		SessionKey: entry.Signature,
		Metadata: map[string]any{
			"tradingMode": entry.TradingMode,
			"intent":      entry.Intent,
		},
	})
}
