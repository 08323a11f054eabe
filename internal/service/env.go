package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"allocator/internal/broker"
	"allocator/internal/cache"
	"allocator/internal/config"
	"allocator/internal/instrument"
	"allocator/internal/metrics"
	"allocator/internal/repository"
	"allocator/internal/strategy"
	"allocator/internal/trading"
)

// AuditSink receives a copy of every persisted activity entry.
type AuditSink interface {
	RecordActivity(ctx context.Context, entry AuditEntry) error
}

type AuditEntry struct {
	Intent      string
	Signature   string
	TradingMode string
	Exception   string
	Activity    Activity
}

// Env carries the collaborators every intent runs against. It is built once
// at startup and shared by concurrent runs.
type Env struct {
	Config     config.Config
	Ledger     repository.Ledger
	Gateway    broker.Gateway
	Strategies *strategy.Registry
	Cache      cache.Store
	Audit      AuditSink
	Metrics    *metrics.Metrics
	Logger     *zap.Logger

	// Now and Sleep are replaceable in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (e *Env) TradingMode() string {
	if e.Config.App.TradingMode == "" {
		return "paper"
	}
	return e.Config.App.TradingMode
}

func (e *Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// instruments returns a registry scoped to one run.
func (e *Env) instruments() *instrument.Registry {
	return instrument.NewRegistry(e.Gateway, e.Cache, e.Config.Cache.ContractTTL, e.logger())
}

func (e *Env) runner() *strategy.Runner {
	return &strategy.Runner{Ledger: e.Ledger, Strategies: e.Strategies, Logger: e.logger()}
}

func (e *Env) executor() *trading.Executor {
	return &trading.Executor{
		Gateway:  e.Gateway,
		Ledger:   e.Ledger,
		Logger:   e.logger(),
		Metrics:  e.Metrics,
		AckDelay: e.Config.Broker.OrderAckDelay,
		Sleep:    e.Sleep,
	}
}

func (e *Env) accountValues(ctx context.Context) ([]broker.AccountValue, error) {
	rc := e.Config.Broker.AccountValues
	return broker.AccountValuesWithRetry(ctx, e.Gateway, broker.RetryPolicy{
		MaxAttempts:     rc.MaxAttempts,
		InitialInterval: rc.InitialInterval,
		MaxInterval:     rc.MaxInterval,
	})
}

func (e *Env) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
