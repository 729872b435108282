// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gogpu/terrain/internal/jobs"
)

// Texture errors.
var (
	ErrNoImage     = errors.New("texture: no image")
	ErrNotCompiled = errors.New("texture: not compiled")
)

// GCState is the compiled state of a texture on one GPU context.
type GCState struct {
	Object   TextureID
	Handle   Handle
	Resident bool
	Format   PixelFormat
	Bytes    int
	Revision uint64

	compileSet *CompileSet
	releaser   *Releaser
}

// Texture is a CPU image plus its compiled state on every GPU context that
// has used it. Per-context state is created lazily and released through
// the context's Releaser, independently of the Texture's own lifetime.
type Texture struct {
	label string
	uri   string

	mu       sync.RWMutex
	image    *Image
	futures  []*jobs.Future[*Image]
	resolved []*Image

	revision atomic.Uint64

	gcMu sync.Mutex
	gc   map[uint32]*GCState
}

// New creates a texture from an in-memory image.
func New(label string, im *Image) *Texture {
	return &Texture{label: label, image: im, gc: make(map[uint32]*GCState)}
}

// FromURI creates a texture whose image is loaded on first use.
func FromURI(uri string) *Texture {
	return &Texture{label: uri, uri: uri, gc: make(map[uint32]*GCState)}
}

// NewFuture creates a texture whose images arrive asynchronously. Each
// future supplies one array layer; the texture has no image until every
// future has resolved (see UpdateImages).
func NewFuture(label string, futures ...*jobs.Future[*Image]) *Texture {
	return &Texture{
		label:    label,
		futures:  futures,
		resolved: make([]*Image, len(futures)),
		gc:       make(map[uint32]*GCState),
	}
}

// Label returns the debug label.
func (t *Texture) Label() string { return t.label }

// URI returns the source location, if any.
func (t *Texture) URI() string { return t.uri }

// Image returns the current CPU image, or nil.
func (t *Texture) Image() *Image {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.image
}

// SetImage replaces the CPU image and marks the texture dirty.
func (t *Texture) SetImage(im *Image) {
	t.mu.Lock()
	t.image = im
	t.mu.Unlock()
	t.MarkDirty()
}

// Revision returns the CPU data revision.
func (t *Texture) Revision() uint64 { return t.revision.Load() }

// MarkDirty bumps the revision after an in-place edit of the image.
func (t *Texture) MarkDirty() { t.revision.Add(1) }

// Load reads the image from the URI if it is not already in memory.
// Decoded images are shared through cache when one is given.
func (t *Texture) Load(cache *lru.Cache[string, *Image]) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.image != nil {
		return nil
	}
	if t.uri == "" {
		return fmt.Errorf("%w: %s", ErrNoImage, t.label)
	}
	if cache != nil {
		if im, ok := cache.Get(t.uri); ok {
			t.image = im.Clone()
			return nil
		}
	}

	f, err := os.Open(t.uri)
	if err != nil {
		return fmt.Errorf("texture: load %s: %w", t.uri, err)
	}
	defer f.Close()

	im, err := Decode(f)
	if err != nil {
		return fmt.Errorf("texture: load %s: %w", t.uri, err)
	}
	if cache != nil {
		cache.Add(t.uri, im.Clone())
	}
	t.image = im
	return nil
}

// NumImages returns the number of asynchronous images, or 1 for a plain
// texture with an image.
func (t *Texture) NumImages() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.resolved != nil {
		return len(t.resolved)
	}
	if t.image != nil {
		return 1
	}
	return 0
}

// IsFuture reports whether the texture still waits for asynchronous images.
func (t *Texture) IsFuture() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.futures != nil
}

// UpdateImages polls the asynchronous images. remaining is the number of
// images not yet resolved; updated counts images that made progress or are
// still in flight. When remaining reaches zero the resolved images become
// the texture's layers. updated == 0 with remaining > 0 means every
// outstanding image failed.
func (t *Texture) UpdateImages() (remaining, updated int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.futures == nil {
		return 0, 0
	}

	for i, f := range t.futures {
		if t.resolved[i] != nil {
			continue
		}
		switch {
		case f.IsAvailable():
			if im, _ := f.Value(); im.Valid() {
				t.resolved[i] = im
				updated++
				continue
			}
		case !f.IsAbandoned() && !f.IsCanceled():
			updated++
		}
		remaining++
	}

	if remaining == 0 {
		im, err := stackLayers(t.resolved)
		if err != nil {
			slogger().Warn("texture: future images incompatible", "texture", t.label, "err", err)
			return len(t.resolved), 0
		}
		t.image = im
		t.futures = nil
		t.revision.Add(1)
	}
	return remaining, updated
}

// CancelFutures cancels any outstanding asynchronous images.
func (t *Texture) CancelFutures() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, f := range t.futures {
		f.Cancel()
	}
}

func stackLayers(images []*Image) (*Image, error) {
	if len(images) == 1 {
		return images[0], nil
	}
	first := images[0]
	out := &Image{Width: first.Width, Height: first.Height, Format: first.Format}
	out.Levels = make([][]byte, first.NumLevels())
	for _, im := range images {
		if im.Width != first.Width || im.Height != first.Height || im.Format != first.Format || im.NumLevels() != first.NumLevels() {
			return nil, fmt.Errorf("%w: layer %dx%d %s", ErrInvalidImage, im.Width, im.Height, im.Format)
		}
		for l := range out.Levels {
			out.Levels[l] = append(out.Levels[l], im.Levels[l]...)
		}
		out.Layers += im.Layers
	}
	return out, nil
}

// state returns the context's compiled state, creating it on first use.
// Callers hold gcMu.
func (t *Texture) state(contextID uint32) *GCState {
	gc, ok := t.gc[contextID]
	if !ok {
		gc = &GCState{}
		t.gc[contextID] = gc
	}
	return gc
}

// GCState returns a snapshot of the compiled state for a context.
func (t *Texture) GCState(contextID uint32) (GCState, bool) {
	t.gcMu.Lock()
	defer t.gcMu.Unlock()
	gc, ok := t.gc[contextID]
	if !ok {
		return GCState{}, false
	}
	return *gc, true
}

// IsCompiled reports whether the texture has a GPU object on the context.
func (t *Texture) IsCompiled(state *State) bool {
	t.gcMu.Lock()
	defer t.gcMu.Unlock()
	gc, ok := t.gc[state.ContextID()]
	return ok && gc.Object != InvalidID
}

// Handle returns the bindless handle on the context, or 0.
func (t *Texture) Handle(state *State) Handle {
	t.gcMu.Lock()
	defer t.gcMu.Unlock()
	if gc, ok := t.gc[state.ContextID()]; ok {
		return gc.Handle
	}
	return 0
}

// lutHandle returns the handle published in the handle table: the
// bindless handle while resident, otherwise 0.
func (t *Texture) lutHandle(state *State) Handle {
	t.gcMu.Lock()
	defer t.gcMu.Unlock()
	if gc, ok := t.gc[state.ContextID()]; ok && gc.Resident {
		return gc.Handle
	}
	return 0
}

// IsResident reports whether the handle is resident on the context.
func (t *Texture) IsResident(state *State) bool {
	t.gcMu.Lock()
	defer t.gcMu.Unlock()
	gc, ok := t.gc[state.ContextID()]
	return ok && gc.Resident
}

// MakeResident toggles residency of the texture's handle on the context.
// It is a no-op for textures that are not compiled.
func (t *Texture) MakeResident(state *State, resident bool) error {
	t.gcMu.Lock()
	defer t.gcMu.Unlock()
	gc, ok := t.gc[state.ContextID()]
	if !ok || gc.Object == InvalidID {
		return nil
	}
	if gc.Resident == resident {
		return nil
	}
	if err := state.Device.MakeResident(gc.Handle, resident); err != nil {
		return fmt.Errorf("texture: residency %s: %w", t.label, err)
	}
	gc.Resident = resident
	return nil
}

// ReleaseGLObjects queues the GPU object of the given context for release.
// A nil state releases the objects of every context.
func (t *Texture) ReleaseGLObjects(state *State) {
	t.gcMu.Lock()
	defer t.gcMu.Unlock()
	if state != nil {
		if gc, ok := t.gc[state.ContextID()]; ok {
			t.release(gc, state.Releaser)
		}
		return
	}
	for _, gc := range t.gc {
		t.release(gc, gc.releaser)
	}
}

func (t *Texture) release(gc *GCState, r *Releaser) {
	if gc.compileSet != nil {
		gc.compileSet.canceled.Store(true)
	}
	if gc.Object != InvalidID && r != nil {
		r.ReleaseTexture(gc.Object)
	}
	*gc = GCState{}
}

// ResizeGLObjectBuffers reserves compiled state for contexts 0..n-1.
func (t *Texture) ResizeGLObjectBuffers(n int) {
	t.gcMu.Lock()
	defer t.gcMu.Unlock()
	for i := range n {
		t.state(uint32(i))
	}
}
