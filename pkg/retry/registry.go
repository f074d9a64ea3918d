package retry

import (
	"sync"

	"github.com/wardendns/warden/pkg/config"
)

// Registry lazily creates and caches one Breaker per upstream key.
type Registry struct {
	mu       sync.RWMutex
	cfg      config.RetryConfig
	breakers map[string]*Breaker
}

// NewRegistry builds an empty registry; breakers are created on first use
// of a given upstream key.
func NewRegistry(cfg config.RetryConfig) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for upstream, creating one if it doesn't exist
// yet.
func (r *Registry) Get(upstream string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[upstream]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[upstream]; ok {
		return b
	}
	b = NewBreaker(r.cfg)
	r.breakers[upstream] = b
	return b
}

// States returns every tracked upstream's current state, for observability.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.State()
	}
	return out
}
