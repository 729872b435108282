package tile

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gogpu/terrain/texture"
)

// Merger queues completed loads handed over by the cull pass and merges
// them in a separate step. Merges never run concurrently.
type Merger struct {
	mu    sync.Mutex
	queue []*LoadTileDataOperation

	runMu  sync.Mutex
	merged atomic.Uint64
}

// NewMerger creates an empty merger.
func NewMerger() *Merger {
	return &Merger{}
}

// Merge queues a completed load.
func (m *Merger) Merge(op *LoadTileDataOperation) {
	m.mu.Lock()
	m.queue = append(m.queue, op)
	m.mu.Unlock()
}

// Len returns the number of queued loads.
func (m *Merger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Merged returns the total number of loads merged.
func (m *Merger) Merged() uint64 { return m.merged.Load() }

// Clear drops every queued load.
func (m *Merger) Clear() {
	m.mu.Lock()
	m.queue = nil
	m.mu.Unlock()
}

func (m *Merger) pop(limit int) []*LoadTileDataOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queue)
	if limit > 0 {
		n = min(n, limit)
	}
	ops := m.queue[:n:n]
	m.queue = m.queue[n:]
	return ops
}

// Run merges up to limit queued loads, all of them when limit is 0, and
// returns how many were merged. Textures of each load are registered with
// the engine's texture arena first.
func (m *Merger) Run(ctx context.Context, limit int) int {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	n := 0
	for _, op := range m.pop(limit) {
		if op.ec.Textures != nil {
			if data, ok := op.Result(); ok && data != nil {
				registerTextures(ctx, op.ec.Textures, data.Textures())
			}
		}
		if op.Merge() {
			n++
		}
	}
	m.merged.Add(uint64(n))
	return n
}

// registerTextures adds texs to the arena, preparing them in parallel. A
// texture that fails to prepare is skipped.
func registerTextures(ctx context.Context, arena *texture.Arena, texs []*texture.Texture) {
	if len(texs) == 0 {
		return
	}
	if err := arena.AddAll(ctx, texs); err == nil {
		return
	}
	for _, tex := range texs {
		if _, err := arena.Add(tex); err != nil {
			slogger().Warn("tile: texture rejected by arena", "texture", tex.Label(), "err", err)
		}
	}
}

// Textures returns the textures of the data that are ready to upload.
// Textures still waiting for asynchronous images are left out.
func (d *TileData) Textures() []*texture.Texture {
	var out []*texture.Texture
	add := func(tex *texture.Texture) {
		if tex != nil && !tex.IsFuture() {
			out = append(out, tex)
		}
	}
	for _, c := range d.Color {
		add(c.Texture)
	}
	if d.Elevation != nil {
		add(d.Elevation.Texture)
		add(d.Elevation.NormalMap)
	}
	if d.LandCover != nil {
		add(d.LandCover.Texture)
	}
	for _, s := range d.Shared {
		add(s.Texture)
	}
	return out
}
