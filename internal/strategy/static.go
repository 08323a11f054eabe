package strategy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Static returns fixed weights from configuration.
type Static struct {
	name    string
	weights map[int64]float64
}

// NewStatic parses weights keyed by instrument id.
func NewStatic(name string, weights map[string]float64) (*Static, error) {
	parsed := make(map[int64]float64, len(weights))
	for k, v := range weights {
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("static strategy %s: instrument id %q: %w", name, k, err)
		}
		parsed[id] = v
	}
	return &Static{name: name, weights: parsed}, nil
}

func (s *Static) Name() string { return s.name }

func (s *Static) Signals(_ context.Context, _ Env) (map[int64]float64, error) {
	out := make(map[int64]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out, nil
}
