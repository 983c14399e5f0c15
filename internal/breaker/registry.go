package breaker

import "sync"

// Registry holds one breaker per marketplace, shared across every tenant
// worker. It is constructed once and injected; there is no package-level
// instance.
type Registry struct {
	mu  sync.Mutex
	cfg Config
	m   map[string]*Breaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, m: make(map[string]*Breaker)}
}

func (r *Registry) For(marketplace string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.m[marketplace]
	if !ok {
		b = New(r.cfg)
		r.m[marketplace] = b
	}
	return b
}

// OpenMarketplaces returns the marketplaces currently refusing calls; the
// claim query excludes these so their jobs never leave pending.
func (r *Registry) OpenMarketplaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, b := range r.m {
		if b.State() == Open {
			out = append(out, name)
		}
	}
	return out
}
