package instrument

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"allocator/internal/broker"
)

// Expiry schemes: quarterly (H M U Z) or every calendar month.
const (
	SchemeQuarterly = "q"
	SchemeMonthly   = "m"
)

var monthCodes = [12]byte{'F', 'G', 'H', 'J', 'K', 'M', 'N', 'Q', 'U', 'V', 'X', 'Z'}

type FutureSpec struct {
	Symbol       string
	Exchange     string
	Currency     string
	ExpiryScheme string
}

// MonthCode is the futures month letter of m.
func MonthCode(m time.Month) byte {
	return monthCodes[m-1]
}

func schemeMonths(scheme string) (map[time.Month]struct{}, error) {
	out := map[time.Month]struct{}{}
	switch strings.ToLower(scheme) {
	case SchemeQuarterly, "":
		for _, m := range []time.Month{time.March, time.June, time.September, time.December} {
			out[m] = struct{}{}
		}
	case SchemeMonthly:
		for m := time.January; m <= time.December; m++ {
			out[m] = struct{}{}
		}
	default:
		return nil, fmt.Errorf("unknown expiry scheme %q", scheme)
	}
	return out, nil
}

// FutureSeries returns the next n contracts of a futures root whose expiry
// month belongs to the scheme, limited to the current and next calendar year
// and skipping contracts that expire within rolloverDays of now.
func (r *Registry) FutureSeries(ctx context.Context, spec FutureSpec, n, rolloverDays int, now time.Time) ([]broker.Contract, error) {
	months, err := schemeMonths(spec.ExpiryScheme)
	if err != nil {
		return nil, err
	}
	listed, err := r.gw.Futures(ctx, spec.Symbol, spec.Exchange)
	if err != nil {
		return nil, fmt.Errorf("list futures %s: %w", spec.Symbol, err)
	}

	cutoff := now.AddDate(0, 0, rolloverDays)
	lastYear := now.Year() + 1
	type candidate struct {
		id     int64
		expiry time.Time
	}
	var candidates []candidate
	for _, c := range listed {
		exp, ok := c.ExpiryTime()
		if !ok || exp.Year() > lastYear || !exp.After(cutoff) {
			continue
		}
		if _, ok := months[exp.Month()]; !ok {
			continue
		}
		candidates = append(candidates, candidate{id: c.ID, expiry: exp})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].expiry.Before(candidates[j].expiry) })
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}

	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.id)
	}
	resolved, err := r.Resolve(ctx, ids...)
	if err != nil {
		return nil, err
	}
	out := make([]broker.Contract, 0, len(ids))
	for _, c := range candidates {
		contract := resolved[c.id]
		if contract.LocalSymbol == "" {
			contract.LocalSymbol = fmt.Sprintf("%s%c%d", spec.Symbol, MonthCode(c.expiry.Month()), c.expiry.Year()%10)
		}
		if contract.Currency == "" {
			contract.Currency = spec.Currency
		}
		out = append(out, contract)
	}
	return out, nil
}
