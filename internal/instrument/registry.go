// Package instrument resolves broker instrument ids to contract metadata and
// prices for the duration of one run.
package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"allocator/internal/broker"
	"allocator/internal/cache"
)

const contractKeyPrefix = "contract:"

// Registry memoizes contracts, tickers and FX rates for one run. Contract
// metadata may also be shared across runs through the cache store; prices
// never are.
type Registry struct {
	gw     broker.Gateway
	store  cache.Store
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.Mutex
	contracts map[int64]broker.Contract
	tickers   map[int64]broker.Ticker
	fx        map[string]*float64
}

func NewRegistry(gw broker.Gateway, store cache.Store, ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		gw:        gw,
		store:     store,
		ttl:       ttl,
		logger:    logger,
		contracts: map[int64]broker.Contract{},
		tickers:   map[int64]broker.Ticker{},
		fx:        map[string]*float64{},
	}
}

// Resolve returns contract metadata for every id, fetching each at most once.
func (r *Registry) Resolve(ctx context.Context, ids ...int64) (map[int64]broker.Contract, error) {
	out := make(map[int64]broker.Contract, len(ids))
	for _, id := range ids {
		r.mu.Lock()
		c, ok := r.contracts[id]
		r.mu.Unlock()
		if !ok {
			var err error
			c, err = r.fetchContract(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("resolve contract %d: %w", id, err)
			}
			r.mu.Lock()
			r.contracts[id] = c
			r.mu.Unlock()
		}
		out[id] = c
	}
	return out, nil
}

func (r *Registry) fetchContract(ctx context.Context, id int64) (broker.Contract, error) {
	key := contractKeyPrefix + strconv.FormatInt(id, 10)
	if r.store != nil {
		raw, found, err := r.store.Get(ctx, key)
		if err != nil {
			r.logger.Warn("contract cache read failed", zap.Int64("instrument_id", id), zap.Error(err))
		} else if found {
			var c broker.Contract
			if err := json.Unmarshal(raw, &c); err == nil && c.ID == id {
				return c, nil
			}
		}
	}
	c, err := r.gw.ContractDetails(ctx, id)
	if err != nil {
		return broker.Contract{}, err
	}
	if r.store != nil {
		if raw, err := json.Marshal(c); err == nil {
			if err := r.store.Set(ctx, key, raw, r.ttl); err != nil {
				r.logger.Warn("contract cache write failed", zap.Int64("instrument_id", id), zap.Error(err))
			}
		}
	}
	return c, nil
}

// Tickers returns the latest tick of each id; ids the broker has no tick for
// are absent from the result.
func (r *Registry) Tickers(ctx context.Context, ids ...int64) (map[int64]broker.Ticker, error) {
	out := make(map[int64]broker.Ticker, len(ids))
	var missing []int64
	r.mu.Lock()
	for _, id := range ids {
		if t, ok := r.tickers[id]; ok {
			out[id] = t
		} else {
			missing = append(missing, id)
		}
	}
	r.mu.Unlock()
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := r.gw.Tickers(ctx, missing...)
	if err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}
	r.mu.Lock()
	for id, t := range fetched {
		r.tickers[id] = t
		out[id] = t
	}
	r.mu.Unlock()
	return out, nil
}

// FXRates converts one unit of each currency into base. The base currency
// rate is 1; a currency without a usable quote maps to nil.
func (r *Registry) FXRates(ctx context.Context, base string, currencies []string) (map[string]*float64, error) {
	out := make(map[string]*float64, len(currencies)+1)
	if base == "" {
		return out, nil
	}
	one := 1.0
	out[base] = &one
	for _, ccy := range currencies {
		ccy = strings.ToUpper(strings.TrimSpace(ccy))
		if ccy == "" || ccy == base {
			continue
		}
		if _, done := out[ccy]; done {
			continue
		}
		rate, err := r.fxRate(ctx, ccy, base)
		if err != nil {
			return nil, err
		}
		out[ccy] = rate
	}
	return out, nil
}

func (r *Registry) fxRate(ctx context.Context, ccy, base string) (*float64, error) {
	pair := ccy + base
	r.mu.Lock()
	rate, ok := r.fx[pair]
	r.mu.Unlock()
	if ok {
		return rate, nil
	}

	contract, err := r.gw.ForexPair(ctx, ccy, base)
	if err != nil {
		r.logger.Warn("forex pair not resolved", zap.String("pair", pair), zap.Error(err))
		r.storeFX(pair, nil)
		return nil, nil
	}
	ticks, err := r.Tickers(ctx, contract.ID)
	if err != nil {
		return nil, err
	}
	if t, ok := ticks[contract.ID]; ok {
		if v, ok := t.FXRate(); ok {
			rate = &v
		}
	}
	if rate == nil {
		r.logger.Warn("no fx quote", zap.String("pair", pair))
	}
	r.storeFX(pair, rate)
	return rate, nil
}

func (r *Registry) storeFX(pair string, rate *float64) {
	r.mu.Lock()
	r.fx[pair] = rate
	r.mu.Unlock()
}
