package tile

import (
	"cmp"
	"slices"
	"sync"

	"github.com/gogpu/terrain/tilekey"
)

// LiveTiles indexes every tile attached to the tree by key.
//
// When neighbour notification is on, a tile listens for the arrival of its
// east and south neighbours; Add tells waiting tiles when their neighbour
// appears.
type LiveTiles struct {
	notify bool

	mu      sync.RWMutex
	tiles   map[tilekey.Key]*TileNode
	waiters map[tilekey.Key][]tilekey.Key
}

// NewLiveTiles creates an empty registry.
func NewLiveTiles(notifyNeighbors bool) *LiveTiles {
	return &LiveTiles{
		notify:  notifyNeighbors,
		tiles:   make(map[tilekey.Key]*TileNode),
		waiters: make(map[tilekey.Key][]tilekey.Key),
	}
}

// Add registers t.
func (l *LiveTiles) Add(t *TileNode) {
	var arrivals [][2]*TileNode

	l.mu.Lock()
	l.tiles[t.key] = t
	if l.notify {
		for _, nk := range []tilekey.Key{t.key.Neighbor(1, 0), t.key.Neighbor(0, 1)} {
			if !nk.Valid() {
				continue
			}
			if n, ok := l.tiles[nk]; ok {
				arrivals = append(arrivals, [2]*TileNode{t, n})
			} else if !slices.Contains(l.waiters[nk], t.key) {
				l.waiters[nk] = append(l.waiters[nk], t.key)
			}
		}
		for _, wk := range l.waiters[t.key] {
			if w, ok := l.tiles[wk]; ok {
				arrivals = append(arrivals, [2]*TileNode{w, t})
			}
		}
		delete(l.waiters, t.key)
	}
	l.mu.Unlock()

	for _, a := range arrivals {
		a[0].NotifyOfArrival(a[1])
	}
}

// Remove unregisters t. Other tiles stop waiting for it.
func (l *LiveTiles) Remove(t *TileNode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.tiles[t.key]; ok && cur == t {
		delete(l.tiles, t.key)
	}
	if l.notify {
		for _, nk := range []tilekey.Key{t.key.Neighbor(1, 0), t.key.Neighbor(0, 1)} {
			l.waiters[nk] = slices.DeleteFunc(l.waiters[nk], func(k tilekey.Key) bool { return k == t.key })
			if len(l.waiters[nk]) == 0 {
				delete(l.waiters, nk)
			}
		}
	}
}

// Get returns the live tile at key.
func (l *LiveTiles) Get(key tilekey.Key) (*TileNode, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tiles[key]
	return t, ok
}

// Len returns the number of live tiles.
func (l *LiveTiles) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tiles)
}

// Update records that t was traversed in frame.
func (l *LiveTiles) Update(t *TileNode, frame uint64) {
	t.lastTraversalFrame.Store(frame)
}

// ForEach calls fn for every live tile. fn must not add or remove tiles.
func (l *LiveTiles) ForEach(fn func(*TileNode)) {
	for _, t := range l.snapshot() {
		fn(t)
	}
}

func (l *LiveTiles) snapshot() []*TileNode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*TileNode, 0, len(l.tiles))
	for _, t := range l.tiles {
		out = append(out, t)
	}
	return out
}

// CollectDormant returns up to limit tiles whose four children are all
// dormant, least recently traversed first. A limit of 0 is unlimited.
func (l *LiveTiles) CollectDormant(limit int) []*TileNode {
	var out []*TileNode
	for _, t := range l.snapshot() {
		if t.AreSubTilesDormant() {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *TileNode) int {
		return cmp.Compare(a.lastTraversalFrame.Load(), b.lastTraversalFrame.Load())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// waiting reports the keys waiting for key, for tests.
func (l *LiveTiles) waiting(key tilekey.Key) []tilekey.Key {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.waiters[key])
}
