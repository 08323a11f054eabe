package strategy

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"allocator/internal/config"
)

type Constructor func() (Strategy, error)

// Registry maps strategy names to constructors. It is filled explicitly at
// startup.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: map[string]Constructor{}}
}

func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return ctor()
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate rejects names that are not registered, listing all of them.
func (r *Registry) Validate(names []string) error {
	var unknown []string
	for _, name := range names {
		if !r.Has(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, strings.Join(unknown, ", "))
	}
	return nil
}

// DefaultRegistry registers the dummy strategy plus every static and remote
// strategy found in config.
func DefaultRegistry(cfg config.StrategiesConfig, httpClient *http.Client, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := NewRegistry()
	r.Register(DummyName, func() (Strategy, error) {
		return NewDummy(cfg.Dummy, nil), nil
	})
	for name, weights := range cfg.Static {
		name, weights := name, weights
		r.Register(name, func() (Strategy, error) {
			return NewStatic(name, weights)
		})
	}
	for name, remote := range cfg.Remote {
		name, remote := name, remote
		r.Register(name, func() (Strategy, error) {
			return NewRemote(name, remote, httpClient, logger), nil
		})
	}
	return r
}
