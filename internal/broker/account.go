package broker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var errNoAccountValues = errors.New("account values not available yet")

// AccountValuesWithRetry polls the gateway until it reports account values or
// the policy is exhausted. Exhaustion yields an empty result, not an error;
// gateway errors are returned as is.
func AccountValuesWithRetry(ctx context.Context, gw Gateway, policy RetryPolicy) ([]AccountValue, error) {
	if gw == nil {
		return nil, errors.New("broker gateway is nil")
	}
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		eb.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		eb.MaxInterval = policy.MaxInterval
	}
	eb.MaxElapsedTime = 0

	var values []AccountValue
	err := backoff.Retry(func() error {
		got, err := gw.AccountValues(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(got) == 0 {
			return errNoAccountValues
		}
		values = got
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx))
	if errors.Is(err, errNoAccountValues) {
		return []AccountValue{}, nil
	}
	if err != nil {
		return nil, err
	}
	return values, nil
}

// NetLiquidation returns the account's base currency and net liquidation value.
func NetLiquidation(values []AccountValue) (currency string, value float64, ok bool) {
	for _, v := range values {
		if v.Tag != TagNetLiquidation || v.Currency == "" || v.Currency == "BASE" {
			continue
		}
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			continue
		}
		return v.Currency, f, true
	}
	return "", 0, false
}

// ValuesByCurrency collects the numeric values of one tag keyed by currency.
func ValuesByCurrency(values []AccountValue, tag string) map[string]float64 {
	out := map[string]float64{}
	for _, v := range values {
		if v.Tag != tag || v.Currency == "" {
			continue
		}
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			continue
		}
		out[v.Currency] = f
	}
	return out
}
