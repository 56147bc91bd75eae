// Package keylock provides per-key mutexes. Pool mutations lock the pool's
// key across the validate, ledger submit and index commit steps so two
// writers cannot interleave inside one pool.
package keylock

import "sync"

type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for key, creating it on first use. Entries are kept
// for the life of the process; the key space is bounded by the number of
// pools.
func (r *Registry) Get(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}
