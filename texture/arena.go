// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ErrNilTexture is returned when a nil texture is added to an arena.
var ErrNilTexture = errors.New("texture: nil texture")

// DefaultImageCacheSize is the number of decoded URI images an arena keeps.
const DefaultImageCacheSize = 128

// ArenaOption configures an Arena.
type ArenaOption func(*Arena)

// WithImageCache sets the number of decoded URI images kept in memory.
// Zero disables the cache.
func WithImageCache(size int) ArenaOption {
	return func(a *Arena) { a.cacheSize = size }
}

// WithCompression enables or disables block compression on Add.
func WithCompression(on bool) ArenaOption {
	return func(a *Arena) { a.compress = on }
}

// WithCPUMipmaps builds mip chains on the CPU when textures are added.
func WithCPUMipmaps(on bool) ArenaOption {
	return func(a *Arena) { a.mipmap = on }
}

// arenaState holds the per-context queues and handle table.
type arenaState struct {
	inUse        bool
	toAdd        []*Texture
	toActivate   []*Texture
	toDeactivate []*Texture
	lut          HandleLUT
}

// Arena owns a set of textures and keeps them compiled, resident and
// listed in a handle table on every GPU context it is applied to.
//
// Add, Activate, Deactivate and Refresh may be called from any goroutine.
// Apply is called once per frame per context, from that context's render
// goroutine.
type Arena struct {
	mu       sync.Mutex
	textures []*Texture
	index    map[*Texture]int
	released map[*Texture]bool
	gc       map[uint32]*arenaState

	cache     *lru.Cache[string, *Image]
	cacheSize int
	compress  bool
	mipmap    bool
}

// NewArena creates an empty arena.
func NewArena(opts ...ArenaOption) *Arena {
	a := &Arena{
		index:     make(map[*Texture]int),
		released:  make(map[*Texture]bool),
		gc:        make(map[uint32]*arenaState),
		cacheSize: DefaultImageCacheSize,
		compress:  true,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		a.cache, _ = lru.New[string, *Image](a.cacheSize)
	}
	return a
}

// Len returns the number of registered textures.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.textures)
}

// Index returns the handle table slot of tex, or -1.
func (a *Arena) Index(tex *Texture) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok := a.index[tex]; ok {
		return i
	}
	return -1
}

// Textures returns the registered textures in slot order.
func (a *Arena) Textures() []*Texture {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.textures)
}

// Add registers a texture and returns its handle table slot. The image is
// loaded if needed, normalized and block compressed, then queued for
// compilation on every context the arena is in use on. Adding a texture
// twice returns its existing slot.
func (a *Arena) Add(tex *Texture) (int, error) {
	if tex == nil {
		return -1, ErrNilTexture
	}
	a.mu.Lock()
	i, ok := a.index[tex]
	live := ok && !a.released[tex]
	a.mu.Unlock()
	if live {
		return i, nil
	}
	if err := a.prepare(tex); err != nil {
		return -1, err
	}
	return a.register(tex), nil
}

// AddAll prepares textures in parallel and registers them in order.
func (a *Arena) AddAll(ctx context.Context, texs []*Texture) error {
	if slices.Contains(texs, nil) {
		return ErrNilTexture
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, tex := range texs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return a.prepare(tex)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, tex := range texs {
		a.register(tex)
	}
	return nil
}

func (a *Arena) prepare(tex *Texture) error {
	if err := tex.Load(a.cache); err != nil {
		return err
	}

	tex.mu.Lock()
	defer tex.mu.Unlock()
	im := tex.image
	if !im.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidImage, tex.label)
	}
	if im.Format.Compressed() {
		return nil
	}
	Normalize(im)
	if a.mipmap {
		if err := GenerateMipmaps(im); err != nil {
			return err
		}
	}
	if a.compress {
		if _, err := Compress(im); err != nil {
			return err
		}
	}
	return nil
}

func (a *Arena) register(tex *Texture) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok := a.index[tex]; ok {
		if a.released[tex] {
			delete(a.released, tex)
			a.enqueue(tex)
		}
		return i
	}
	i := len(a.textures)
	a.textures = append(a.textures, tex)
	a.index[tex] = i
	a.enqueue(tex)
	return i
}

func (a *Arena) enqueue(tex *Texture) {
	for _, gc := range a.gc {
		if gc.inUse {
			gc.toAdd = append(gc.toAdd, tex)
		}
	}
}

// Activate queues tex to become resident on every context.
func (a *Arena) Activate(tex *Texture) {
	if tex == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released[tex] {
		return
	}
	for _, gc := range a.gc {
		gc.toActivate = append(gc.toActivate, tex)
	}
}

// Deactivate queues tex to become non-resident on every context. Its GPU
// storage is kept.
func (a *Arena) Deactivate(tex *Texture) {
	if tex == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, gc := range a.gc {
		gc.toDeactivate = append(gc.toDeactivate, tex)
	}
}

// Release drops the GPU objects of tex on every context and stops it from
// being compiled again. Its handle table slot stays allocated and reads 0.
// Adding the texture again revives the slot.
func (a *Arena) Release(tex *Texture) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.index[tex]; !ok {
		return
	}
	a.released[tex] = true
	drop := func(q []*Texture) []*Texture {
		return slices.DeleteFunc(q, func(t *Texture) bool { return t == tex })
	}
	for _, gc := range a.gc {
		gc.toAdd = drop(gc.toAdd)
		gc.toActivate = drop(gc.toActivate)
		gc.toDeactivate = drop(gc.toDeactivate)
		gc.lut.dirty = true
	}
	tex.ReleaseGLObjects(nil)
}

// Refresh re-uploads a texture after its CPU image changed. The old GPU
// object is released and the texture recompiled on the next Apply, which
// gives it a new handle.
func (a *Arena) Refresh(tex *Texture) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.index[tex]; !ok || a.released[tex] {
		return
	}
	tex.ReleaseGLObjects(nil)
	a.enqueue(tex)
}

func (a *Arena) state(contextID uint32) *arenaState {
	gc, ok := a.gc[contextID]
	if !ok {
		gc = &arenaState{}
		a.gc[contextID] = gc
	}
	return gc
}

// Apply advances the arena on one GPU context: compiles pending textures,
// applies deactivations then activations, syncs the handle table and binds
// it. The first Apply on a context queues every registered texture.
func (a *Arena) Apply(state *State) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if state.Releaser != nil {
		state.Releaser.Flush()
	}
	if len(a.textures) == 0 {
		return nil
	}

	gc := a.state(state.ContextID())
	if !gc.inUse {
		gc.inUse = true
		gc.toAdd = slices.DeleteFunc(slices.Clone(a.textures), func(t *Texture) bool { return a.released[t] })
	}

	var errs error
	var stillCompiling []*Texture
	for _, tex := range gc.toAdd {
		if tex.IsCompiled(state) {
			gc.toActivate = append(gc.toActivate, tex)
			continue
		}
		if state.Compiler != nil {
			set := tex.compileSet(state)
			if set.Done() {
				// The compile ran and failed; the image is unusable.
				slogger().Warn("texture: dropping texture that failed to compile", "texture", tex.Label())
				tex.ReleaseGLObjects(state)
				continue
			}
			stillCompiling = append(stillCompiling, tex)
			continue
		}
		if err := tex.Compile(state); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		gc.toActivate = append(gc.toActivate, tex)
	}
	gc.toAdd = stillCompiling

	if len(gc.toDeactivate) > 0 {
		for _, tex := range gc.toDeactivate {
			errs = multierr.Append(errs, tex.MakeResident(state, false))
		}
		gc.toDeactivate = gc.toDeactivate[:0]
		gc.lut.dirty = true
	}

	if len(gc.toActivate) > 0 {
		for _, tex := range gc.toActivate {
			if !tex.IsCompiled(state) {
				gc.toAdd = append(gc.toAdd, tex)
				continue
			}
			errs = multierr.Append(errs, tex.MakeResident(state, true))
		}
		gc.toActivate = gc.toActivate[:0]
		gc.lut.dirty = true
	}

	errs = multierr.Append(errs, gc.lut.sync(a.textures, state))
	errs = multierr.Append(errs, gc.lut.bind(state))
	return errs
}

// CompileGLObjects compiles everything pending on the context.
func (a *Arena) CompileGLObjects(state *State) error {
	return a.Apply(state)
}

// ResizeGLObjectBuffers reserves per-context state for contexts 0..n-1.
func (a *Arena) ResizeGLObjectBuffers(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range n {
		a.state(uint32(i))
	}
	for _, tex := range a.textures {
		tex.ResizeGLObjectBuffers(n)
	}
}

// ReleaseGLObjects releases the GPU objects of every texture. With a
// non-nil state only that context is released, including its handle
// table; the context is re-seeded on its next Apply.
func (a *Arena) ReleaseGLObjects(state *State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tex := range a.textures {
		tex.ReleaseGLObjects(state)
	}
	if state == nil {
		for _, gc := range a.gc {
			gc.lut.release()
			gc.inUse = false
		}
		return
	}
	if gc, ok := a.gc[state.ContextID()]; ok {
		gc.lut.release()
		gc.inUse = false
	}
}

// HandleLUT returns the handle table of a context, or nil if the arena was
// never applied there. The returned table must only be read from the
// context's render goroutine.
func (a *Arena) HandleLUT(contextID uint32) *HandleLUT {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gc, ok := a.gc[contextID]; ok {
		return &gc.lut
	}
	return nil
}

// Pending returns the number of textures waiting to be compiled on a
// context.
func (a *Arena) Pending(contextID uint32) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gc, ok := a.gc[contextID]; ok {
		return len(gc.toAdd)
	}
	return 0
}

// Stats summarizes an arena on one context.
type Stats struct {
	Textures int
	Compiled int
	Resident int
	GPUBytes uint64
}

// String formats the stats for logs.
func (s Stats) String() string {
	return fmt.Sprintf("%d textures, %d compiled, %d resident, %s",
		s.Textures, s.Compiled, s.Resident, humanize.IBytes(s.GPUBytes))
}

// Stats reports compile and residency counts for a context.
func (a *Arena) Stats(contextID uint32) Stats {
	texs := a.Textures()
	s := Stats{Textures: len(texs)}
	for _, tex := range texs {
		gc, ok := tex.GCState(contextID)
		if !ok || gc.Object == InvalidID {
			continue
		}
		s.Compiled++
		s.GPUBytes += uint64(gc.Bytes)
		if gc.Resident {
			s.Resident++
		}
	}
	return s
}
