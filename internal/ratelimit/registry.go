package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

// Registry holds one limiter per tenant, created lazily and injected into
// workers by the dispatcher.
type Registry struct {
	mu  sync.Mutex
	cfg Config
	m   map[string]*Limiter
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, m: make(map[string]*Limiter)}
}

func (r *Registry) For(tenant string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.m[tenant]
	if !ok {
		// seed per tenant so pacing patterns differ across tenants
		h := fnv.New64a()
		_, _ = h.Write([]byte(tenant))
		l = New(r.cfg, int64(h.Sum64())^time.Now().UnixNano())
		r.m[tenant] = l
	}
	return l
}
