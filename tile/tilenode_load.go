package tile

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/terrain/texture"
)

// dirty reports whether loads are queued.
func (t *TileNode) dirty() bool { return t.loadsInQueue.Load() > 0 }

// LoadsInQueue returns the number of queued loads.
func (t *TileNode) LoadsInQueue() int { return int(t.loadsInQueue.Load()) }

// nextLoadIsProgressive reports whether the next queued load should hold
// back the children's loads. A manifest may opt out explicitly.
func (t *TileNode) nextLoadIsProgressive() bool {
	if !t.ec.Options.Progressive {
		return false
	}
	t.loadMu.Lock()
	defer t.loadMu.Unlock()
	m := t.nextManifest
	return m == nil || m.Progressive == nil || *m.Progressive
}

// Load services the load queue outside of a cull pass.
func (t *TileNode) Load() { t.processLoadQueue() }

// processLoadQueue dispatches the front load if it has not started yet,
// or hands it to the merger once it has finished. One load is in flight
// per tile.
func (t *TileNode) processLoadQueue() {
	t.loadMu.Lock()
	defer t.loadMu.Unlock()
	if len(t.loadQueue) == 0 {
		return
	}

	op := t.loadQueue[0]
	switch {
	case op.IsAbandoned():
		if !op.Dispatch(true) {
			slogger().Debug("tile: load deferred", "key", t.key)
		}
	case op.IsAvailable():
		t.ec.Merger.Merge(op)
		t.loadQueue = t.loadQueue[1:]
		t.loadsInQueue.Store(int32(len(t.loadQueue)))
		if len(t.loadQueue) > 0 {
			t.nextManifest = &t.loadQueue[0].manifest
		} else {
			t.nextManifest = nil
		}
	}
}

// LoadSync loads and merges every layer on the calling goroutine. The load
// ignores cancellation.
func (t *TileNode) LoadSync() {
	op := NewLoadTileDataOperation(t, Manifest{})
	op.SetEnableCancel(false)
	op.Dispatch(false)
	if op.ec.Textures != nil {
		if data, ok := op.Result(); ok && data != nil {
			registerTextures(t.ec.ctx, t.ec.Textures, data.Textures())
		}
	}
	op.Merge()
}

// Unload cancels and drops every queued load. Data already merged stays.
func (t *TileNode) Unload() {
	t.loadMu.Lock()
	defer t.loadMu.Unlock()
	for _, op := range t.loadQueue {
		op.Cancel()
	}
	t.loadQueue = nil
	t.nextManifest = nil
	t.loadsInQueue.Store(0)
}

// Update polls asynchronous textures. A future whose images have all
// arrived replaces the sampler's texture; one whose images all failed is
// dropped and the sampler keeps what it had.
func (t *TileNode) Update() {
	if !t.imageUpdatesActive.Load() {
		return
	}

	var swapped []*texture.Texture
	updated := 0

	t.modelMu.Lock()
	for _, p := range t.model.passes {
		for i := range p.samplers {
			s := &p.samplers[i]
			if s.OwnsTexture() && s.Texture != s.FutureTexture && s.Texture.IsFuture() {
				_, n := s.Texture.UpdateImages()
				updated += n
			}

			f := s.FutureTexture
			if f == nil {
				continue
			}
			remaining, n := f.UpdateImages()
			updated += n
			switch {
			case remaining == 0:
				s.SetOwned(f, mgl32.Ident4(), s.Revision+1)
				swapped = append(swapped, f)
			case n == 0:
				slogger().Debug("tile: async texture failed", "key", t.key, "texture", f.Label())
				s.FutureTexture = nil
			}
		}
	}
	if len(swapped) > 0 {
		t.revision.Add(1)
	}
	if updated == 0 {
		t.imageUpdatesActive.Store(false)
	}
	t.modelMu.Unlock()

	if len(swapped) == 0 {
		return
	}
	if t.ec.Textures != nil {
		for _, tex := range swapped {
			if _, err := t.ec.Textures.Add(tex); err != nil {
				slogger().Warn("tile: texture rejected by arena", "texture", tex.Label(), "err", err)
			}
		}
	}
	for _, k := range t.Children() {
		k.RefreshInheritedData(t)
	}
}

// ReleaseGLObjects drops the GPU objects of the textures the tile owns.
// With a nil state they are released on every context and, when an arena
// manages them, removed from it.
func (t *TileNode) ReleaseGLObjects(state *texture.State) {
	t.modelMu.RLock()
	owned := t.model.OwnedTextures()
	t.modelMu.RUnlock()

	for _, tex := range owned {
		if state == nil && t.ec.Textures != nil {
			t.ec.Textures.Release(tex)
			continue
		}
		tex.ReleaseGLObjects(state)
	}
}

// ResizeGLObjectBuffers grows per-context state of owned textures to n
// contexts.
func (t *TileNode) ResizeGLObjectBuffers(n int) {
	t.modelMu.RLock()
	owned := t.model.OwnedTextures()
	t.modelMu.RUnlock()
	for _, tex := range owned {
		tex.ResizeGLObjectBuffers(n)
	}
}

// RemoveSubTiles prunes the children and their subtrees. Pending child
// creation is cancelled. Each child releases its GPU objects before the
// children are detached.
func (t *TileNode) RemoveSubTiles() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.createResults {
		f.Cancel()
	}
	t.createResults = nil
	t.subdividing.Store(false)

	kids := t.children.Load()
	if kids == nil {
		return
	}
	for _, k := range kids {
		k.release()
	}
	t.children.Store(nil)
}

// release detaches the tile for good: its subtree goes first, then its
// loads, textures and registry entry.
func (t *TileNode) release() {
	if t.released.Swap(true) {
		return
	}
	t.RemoveSubTiles()
	t.Unload()

	t.modelMu.RLock()
	for _, p := range t.model.passes {
		if f := p.Sampler(BindingColor).FutureTexture; f != nil {
			f.CancelFutures()
		}
	}
	t.modelMu.RUnlock()

	t.ReleaseGLObjects(nil)
	t.ec.Live.Remove(t)
}
