package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// Default budgets published by the upstream services.
var (
	MedlinePlusPolicy = Policy{Max: 85, Window: time.Minute, MaxWait: 30 * time.Second, MaxQueue: 32}
	PubMedPolicy      = Policy{Max: 3, Window: time.Second, MaxWait: 5 * time.Second, MaxQueue: 32}
	PubMedKeyedPolicy = Policy{Max: 10, Window: time.Second, MaxWait: 5 * time.Second, MaxQueue: 64}
)

// Registry owns one limiter per source for the lifetime of the process.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Register installs a limiter for source, replacing any previous one.
func (r *Registry) Register(source string, p Policy) *Limiter {
	l := New(source, p)
	r.mu.Lock()
	r.limiters[source] = l
	r.mu.Unlock()
	return l
}

// Get returns the limiter for source, creating one with p when absent.
func (r *Registry) Get(source string, p Policy) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[source]; ok {
		return l
	}
	l := New(source, p)
	r.limiters[source] = l
	return l
}

// Budgets snapshots every registered limiter, sorted by source.
func (r *Registry) Budgets() []Budget {
	r.mu.Lock()
	ls := make([]*Limiter, 0, len(r.limiters))
	for _, l := range r.limiters {
		ls = append(ls, l)
	}
	r.mu.Unlock()

	out := make([]Budget, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Budget())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
