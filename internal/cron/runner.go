package cronrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// IntentRunner is the part of the intent dispatcher the scheduler needs.
type IntentRunner interface {
	Run(ctx context.Context, name string, params json.RawMessage) (any, error)
}

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
	// Timeout bounds one scheduled run; zero means no bound.
	Timeout time.Duration
}

// New builds a seconds-resolution scheduler. A job still running when its
// next tick fires is skipped for that tick.
func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	cl := cronLogger{logger: logger}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

func (r *Runner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() { job(r.baseCtx) })
}

// AddIntent schedules intent name with fixed params. An empty spec is a no-op.
func (r *Runner) AddIntent(spec, name string, params json.RawMessage, intents IntentRunner) (cron.EntryID, error) {
	if spec == "" {
		return 0, nil
	}
	if intents == nil {
		return 0, fmt.Errorf("schedule %s: no intent runner", name)
	}
	id, err := r.Add(spec, r.intentJob(name, params, intents))
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", name, err)
	}
	r.logger.Info("intent scheduled", zap.String("intent", name), zap.String("spec", spec))
	return id, nil
}

func (r *Runner) intentJob(name string, params json.RawMessage, intents IntentRunner) func(context.Context) {
	return func(ctx context.Context) {
		if r.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.Timeout)
			defer cancel()
		}
		started := time.Now()
		if _, err := intents.Run(ctx, name, params); err != nil {
			r.logger.Error("scheduled intent failed", zap.String("intent", name), zap.Error(err))
			return
		}
		r.logger.Info("scheduled intent done", zap.String("intent", name), zap.Duration("elapsed", time.Since(started)))
	}
}

func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

func (r *Runner) Start() {
	r.logger.Info("cron started", zap.Int("entries", r.Entries()))
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
