package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"allocator/internal/models"
	"allocator/internal/repository"
)

// Ledger is an in-memory implementation of repository.Ledger. It is used by
// tests and by local dry runs without a database.
type Ledger struct {
	mu       sync.RWMutex
	holdings map[string]map[string]map[int64]int64 // mode -> strategy -> positions
	orders   map[string]models.OpenOrder
	activity []models.ActivityLog
	configs  map[string]models.RuntimeConfig
}

var _ repository.Ledger = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		holdings: map[string]map[string]map[int64]int64{},
		orders:   map[string]models.OpenOrder{},
		configs:  map[string]models.RuntimeConfig{},
	}
}

func (l *Ledger) GetHoldings(_ context.Context, mode, strategy string) (map[int64]int64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	positions, ok := l.holdings[mode][strategy]
	if !ok {
		return map[int64]int64{}, false, nil
	}
	return copyPositions(positions), true, nil
}

func (l *Ledger) ListHoldings(_ context.Context, mode string) (map[string]map[int64]int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]map[int64]int64, len(l.holdings[mode]))
	for strategy, positions := range l.holdings[mode] {
		out[strategy] = copyPositions(positions)
	}
	return out, nil
}

func (l *Ledger) ApplyHoldingsDelta(_ context.Context, mode, strategy string, instrumentID, qty int64, consumeOrderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	byStrategy, ok := l.holdings[mode]
	if !ok {
		byStrategy = map[string]map[int64]int64{}
		l.holdings[mode] = byStrategy
	}
	byStrategy[strategy] = repository.ApplyDelta(byStrategy[strategy], instrumentID, qty)
	if consumeOrderID != "" {
		delete(l.orders, consumeOrderID)
	}
	return nil
}

// SetHoldings replaces a strategy document. Test helper.
func (l *Ledger) SetHoldings(mode, strategy string, positions map[int64]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holdings[mode] == nil {
		l.holdings[mode] = map[string]map[int64]int64{}
	}
	clean := map[int64]int64{}
	for k, v := range positions {
		if v != 0 {
			clean[k] = v
		}
	}
	l.holdings[mode][strategy] = clean
}

func (l *Ledger) InsertOpenOrder(_ context.Context, item *models.OpenOrder) error {
	if item == nil || item.ID == "" {
		return repository.ErrInvalidInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.orders[item.ID]; exists {
		return repository.ErrDuplicateKey
	}
	cp := *item
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	l.orders[item.ID] = cp
	return nil
}

func (l *Ledger) FindOpenOrderByPermID(_ context.Context, mode string, permID int64) (*models.OpenOrder, error) {
	return l.findOpenOrder(func(o models.OpenOrder) bool {
		return o.TradingMode == mode && o.PermID != nil && *o.PermID == permID
	})
}

func (l *Ledger) FindOpenOrderByOrderID(_ context.Context, mode string, orderID, instrumentID int64) (*models.OpenOrder, error) {
	return l.findOpenOrder(func(o models.OpenOrder) bool {
		return o.TradingMode == mode && o.OrderID == orderID && o.InstrumentID == instrumentID
	})
}

func (l *Ledger) findOpenOrder(match func(models.OpenOrder) bool) (*models.OpenOrder, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var found *models.OpenOrder
	for _, o := range l.orders {
		if !match(o) {
			continue
		}
		if found == nil || o.CreatedAt.Before(found.CreatedAt) {
			cp := o
			found = &cp
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (l *Ledger) ListOpenOrders(_ context.Context, mode string) ([]models.OpenOrder, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.OpenOrder
	for _, o := range l.orders {
		if o.TradingMode == mode {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (l *Ledger) DeleteOpenOrdersByPermID(_ context.Context, mode string, permID int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for id, o := range l.orders {
		if o.TradingMode == mode && o.PermID != nil && *o.PermID == permID {
			delete(l.orders, id)
			n++
		}
	}
	return n, nil
}

func (l *Ledger) DeleteUnassignedOpenOrders(_ context.Context, mode string, orderID, instrumentID int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for id, o := range l.orders {
		if o.TradingMode == mode && o.PermID == nil && o.OrderID == orderID && o.InstrumentID == instrumentID {
			delete(l.orders, id)
			n++
		}
	}
	return n, nil
}

func (l *Ledger) InsertActivityLog(_ context.Context, item *models.ActivityLog) error {
	if item == nil {
		return repository.ErrInvalidInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := *item
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	l.activity = append(l.activity, cp)
	return nil
}

func (l *Ledger) CountActivityLogs(_ context.Context, params repository.ActivityLogQuery) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var n int64
	for _, a := range l.activity {
		if params.TradingMode != "" && a.TradingMode != params.TradingMode {
			continue
		}
		if params.Signature != "" && a.Signature != params.Signature {
			continue
		}
		if !params.Since.IsZero() && !a.CreatedAt.After(params.Since) {
			continue
		}
		if params.WithOrders && !a.HasOrders {
			continue
		}
		n++
	}
	return n, nil
}

// ActivityLogs returns a copy of every entry in insertion order.
func (l *Ledger) ActivityLogs() []models.ActivityLog {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.ActivityLog, len(l.activity))
	copy(out, l.activity)
	return out
}

func (l *Ledger) ListRuntimeConfigs(_ context.Context, scopes ...string) ([]models.RuntimeConfig, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.RuntimeConfig
	for _, scope := range scopes {
		if row, ok := l.configs[scope]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (l *Ledger) UpsertRuntimeConfig(_ context.Context, item *models.RuntimeConfig) error {
	if item == nil || item.Scope == "" {
		return repository.ErrInvalidInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := *item
	now := time.Now().UTC()
	if prev, ok := l.configs[item.Scope]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	l.configs[item.Scope] = cp
	return nil
}

func copyPositions(in map[int64]int64) map[int64]int64 {
	out := make(map[int64]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
