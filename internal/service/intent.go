package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"allocator/internal/models"
)

var (
	ErrUnknownIntent = errors.New("unknown intent")
	ErrBadParams     = errors.New("bad intent params")
)

// LocalRevision marks a developer run; its activity is never persisted.
const LocalRevision = "localhost"

// Activity is the audit payload accumulated by one run.
type Activity map[string]any

// Run is the per-invocation state handed to an intent.
type Run struct {
	Env       *Env
	Signature string
	Activity  Activity
	Logger    *zap.Logger
}

type Intent interface {
	Name() string
	// Execute performs the intent. A non-nil result replaces the activity as
	// the response body.
	Execute(ctx context.Context, run *Run) (any, error)
}

// readOnly intents skip the activity log.
type readOnly interface {
	ReadOnly() bool
}

// Factory parses request params into an intent.
type Factory func(params json.RawMessage) (Intent, error)

// Dispatcher runs named intents and writes their activity log.
type Dispatcher struct {
	Env     *Env
	intents map[string]Factory
}

func NewDispatcher(env *Env) *Dispatcher {
	d := &Dispatcher{Env: env, intents: map[string]Factory{}}
	d.Register("allocation", NewAllocation)
	d.Register("reconciliation", NewReconciliation)
	d.Register("close-all", NewCloseAll)
	d.Register("summary", NewSummary)
	d.Register("cash-balancer", NewCashBalancer)
	return d
}

func (d *Dispatcher) Register(name string, f Factory) {
	d.intents[name] = f
}

func (d *Dispatcher) Names() []string {
	out := make([]string, 0, len(d.intents))
	for name := range d.intents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Signature identifies a run by agent revision, intent and canonical params.
func Signature(revision, intent string, params json.RawMessage) (string, error) {
	canonical, err := canonicalJSON(params)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(revision + intent + canonical))
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(params json.RawMessage) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	if v == nil {
		return "{}", nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Run executes intent name. The activity log is written whether or not the
// intent fails; a failed write is logged and never masks the intent's own
// outcome.
func (d *Dispatcher) Run(ctx context.Context, name string, params json.RawMessage) (any, error) {
	factory, ok := d.intents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIntent, name)
	}
	env := d.Env
	started := time.Now()

	sig, err := Signature(env.Config.App.Revision, name, params)
	if err != nil {
		return nil, err
	}
	intent, err := factory(params)
	if err != nil {
		return nil, err
	}

	logger := env.logger().With(zap.String("intent", name), zap.String("signature", sig))
	run := &Run{
		Env:       env,
		Signature: sig,
		Logger:    logger,
		Activity: Activity{
			"agent":       env.Config.App.Revision,
			"intent":      name,
			"signature":   sig,
			"tradingMode": env.TradingMode(),
			"exception":   nil,
		},
	}

	result, runErr := intent.Execute(ctx, run)
	outcome := "ok"
	if runErr != nil {
		outcome = "error"
		run.Activity["exception"] = runErr.Error()
		logger.Error("intent failed", zap.Error(runErr))
	} else if _, skipped := run.Activity["skipped"]; skipped {
		outcome = "skipped"
	}
	env.Metrics.ObserveIntent(name, outcome, started)

	timestamp := env.now()
	run.Activity["timestamp"] = timestamp.Format(time.RFC3339Nano)
	if ro, ok := intent.(readOnly); !ok || !ro.ReadOnly() {
		d.logActivity(ctx, run, name, runErr, timestamp)
	}
	if runErr != nil {
		return nil, runErr
	}
	logger.Info("intent done", zap.String("outcome", outcome), zap.Duration("elapsed", time.Since(started)))
	if result != nil {
		return result, nil
	}
	return run.Activity, nil
}

func (d *Dispatcher) logActivity(ctx context.Context, run *Run, name string, runErr error, ts time.Time) {
	env := d.Env
	if env.Config.App.Revision == LocalRevision {
		return
	}
	// The caller may already be gone; the audit write still happens.
	ctx = context.WithoutCancel(ctx)

	payload, err := json.Marshal(run.Activity)
	if err != nil {
		run.Logger.Error("encode activity failed", zap.Error(err))
		return
	}
	entry := &models.ActivityLog{
		ID:          uuid.NewString(),
		Agent:       env.Config.App.Revision,
		Intent:      name,
		Signature:   run.Signature,
		TradingMode: env.TradingMode(),
		Payload:     payload,
		CreatedAt:   ts,
	}
	_, entry.HasOrders = run.Activity["orders"]
	var exception string
	if runErr != nil {
		exception = runErr.Error()
		entry.Exception = &exception
	}
	if env.Ledger != nil {
		if err := env.Ledger.InsertActivityLog(ctx, entry); err != nil {
			run.Logger.Error("write activity log failed", zap.Error(err), zap.ByteString("activity", payload))
		}
	}
	if env.Audit != nil {
		if err := env.Audit.RecordActivity(ctx, AuditEntry{
			Intent:      name,
			Signature:   run.Signature,
			TradingMode: entry.TradingMode,
			Exception:   exception,
			Activity:    run.Activity,
		}); err != nil {
			run.Logger.Warn("forward activity failed", zap.Error(err))
		}
	}
}

func decodeParams(params json.RawMessage, out any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	return nil
}
