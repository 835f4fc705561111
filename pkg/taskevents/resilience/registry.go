package resilience

import "sync"

// Registry hands out one circuit breaker per integration name, creating
// breakers lazily with a shared configuration.
type Registry struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry. Every breaker it creates uses cfg.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for an integration name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.cfg)
	r.breakers[name] = b
	return b
}

// Remove drops the breaker for an integration name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}

// Stats returns a snapshot per live breaker, keyed by integration name.
func (r *Registry) Stats() map[string]BreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BreakerStats, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Stats()
	}
	return out
}
