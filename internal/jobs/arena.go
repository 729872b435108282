package jobs

import (
	"sync"
)

// Arena names used by the terrain engine.
const (
	ArenaDefault     = "terrain.default"
	ArenaCreateChild = "terrain.createchild"
	ArenaLoadTile    = "terrain.load"
	ArenaAsyncImage  = "terrain.asyncimage"
)

// Arenas is a registry of named pools. Pools are created lazily on first use
// with the concurrency configured for their name.
type Arenas struct {
	mu      sync.Mutex
	sizes   map[string]int
	pools   map[string]*Pool
	closed  bool
	deflt   int
	created []*Pool
}

// NewArenas creates an arena registry. sizes maps arena names to worker
// counts; names without an entry get defaultWorkers.
func NewArenas(defaultWorkers int, sizes map[string]int) *Arenas {
	s := make(map[string]int, len(sizes))
	for k, v := range sizes {
		s[k] = v
	}
	return &Arenas{
		sizes: s,
		pools: make(map[string]*Pool),
		deflt: defaultWorkers,
	}
}

// Get returns the pool for name, creating it if needed. An empty name
// selects ArenaDefault. Get returns nil once the registry is closed.
func (a *Arenas) Get(name string) *Pool {
	if name == "" {
		name = ArenaDefault
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	if p, ok := a.pools[name]; ok {
		return p
	}
	workers, ok := a.sizes[name]
	if !ok {
		workers = a.deflt
	}
	p := NewPool(name, workers)
	a.pools[name] = p
	a.created = append(a.created, p)
	slogger().Debug("jobs: arena created", "arena", name, "workers", p.Workers())
	return p
}

// Close shuts down every pool, waiting for queued work to finish.
func (a *Arenas) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	pools := a.created
	a.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
