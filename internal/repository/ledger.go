package repository

import (
	"context"
	"errors"
	"time"

	"allocator/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidInput = errors.New("invalid input")
)

// Ledger is the document store behind the strategy holdings, the intent
// ledger (open orders) and the activity log. Every method is scoped to one
// trading mode so paper and live books never mix.
type Ledger interface {
	// Holdings of one strategy; found=false when the strategy has no document yet.
	GetHoldings(ctx context.Context, mode, strategy string) (positions map[int64]int64, found bool, err error)
	// ListHoldings returns every strategy document of the mode keyed by strategy.
	ListHoldings(ctx context.Context, mode string) (map[string]map[int64]int64, error)
	// ApplyHoldingsDelta adds qty to the strategy's position in instrumentID and,
	// when consumeOrderID is set, deletes that open order in the same
	// transaction. A resulting zero position removes the key. Deleting an
	// already-deleted open order is not an error.
	ApplyHoldingsDelta(ctx context.Context, mode, strategy string, instrumentID, qty int64, consumeOrderID string) error

	InsertOpenOrder(ctx context.Context, item *models.OpenOrder) error
	FindOpenOrderByPermID(ctx context.Context, mode string, permID int64) (*models.OpenOrder, error)
	FindOpenOrderByOrderID(ctx context.Context, mode string, orderID, instrumentID int64) (*models.OpenOrder, error)
	ListOpenOrders(ctx context.Context, mode string) ([]models.OpenOrder, error)
	DeleteOpenOrdersByPermID(ctx context.Context, mode string, permID int64) (int64, error)
	// DeleteUnassignedOpenOrders removes records of orderID on instrumentID
	// that were written before the broker assigned a perm id.
	DeleteUnassignedOpenOrders(ctx context.Context, mode string, orderID, instrumentID int64) (int64, error)

	InsertActivityLog(ctx context.Context, item *models.ActivityLog) error
	CountActivityLogs(ctx context.Context, params ActivityLogQuery) (int64, error)

	// ListRuntimeConfigs returns the override documents for the given scopes in
	// the order requested; missing scopes are skipped.
	ListRuntimeConfigs(ctx context.Context, scopes ...string) ([]models.RuntimeConfig, error)
	UpsertRuntimeConfig(ctx context.Context, item *models.RuntimeConfig) error
}

type ActivityLogQuery struct {
	TradingMode string
	Signature   string
	Since       time.Time
	WithOrders  bool
}

// ApplyDelta returns a copy of positions with qty added to instrumentID,
// dropping the key when the result is zero.
func ApplyDelta(positions map[int64]int64, instrumentID, qty int64) map[int64]int64 {
	out := make(map[int64]int64, len(positions)+1)
	for k, v := range positions {
		out[k] = v
	}
	next := out[instrumentID] + qty
	if next == 0 {
		delete(out, instrumentID)
	} else {
		out[instrumentID] = next
	}
	return out
}

// Consolidate sums the holdings of all strategies per instrument. Instruments
// netting to zero are left out.
func Consolidate(all map[string]map[int64]int64) map[int64]int64 {
	out := map[int64]int64{}
	for _, positions := range all {
		for k, v := range positions {
			out[k] += v
		}
	}
	for k, v := range out {
		if v == 0 {
			delete(out, k)
		}
	}
	return out
}
