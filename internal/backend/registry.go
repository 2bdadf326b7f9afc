package backend

import "sync"

// registry is the process-wide (backend_name, database_name) -> handle map
// described in spec.md §4.A and §9 "Process-wide handle registry": a
// guard against a backend's own "already open" restriction, exactly the
// role jrchyang-etcd's single in-process *backend per data directory plays
// implicitly by being constructed once per etcd instance. Here multiple
// logical Database values opened against the same path must share one
// Backend, so the registry does the sharing explicitly and refcounts it.
type registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	backend  Backend
	refCount int
}

var globalRegistry = &registry{entries: make(map[string]*entry)}

// Acquire returns the shared Backend for (backendName, dbName), opening one
// via open if this is the first acquisition, and incrementing the
// reference count otherwise.
func Acquire(backendName, dbName string, open func() (Backend, error)) (Backend, error) {
	key := backendName + "\x00" + dbName
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if e, ok := globalRegistry.entries[key]; ok {
		e.refCount++
		return e.backend, nil
	}
	b, err := open()
	if err != nil {
		return nil, err
	}
	globalRegistry.entries[key] = &entry{backend: b, refCount: 1}
	return b, nil
}

// Release decrements the refcount for (backendName, dbName) and closes and
// evicts the shared Backend once it reaches zero.
func Release(backendName, dbName string) error {
	key := backendName + "\x00" + dbName
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	e, ok := globalRegistry.entries[key]
	if !ok {
		return nil
	}
	e.refCount--
	if e.refCount > 0 {
		return nil
	}
	delete(globalRegistry.entries, key)
	return e.backend.Close()
}
