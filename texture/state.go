// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import (
	"sync"
)

// State is the per-GPU-context capability passed to Arena.Apply and the
// texture compile path. Code holding a State runs with its context bound.
type State struct {
	// Device is the context's GPU device.
	Device Device

	// Compiler, when set, compiles textures off the apply path.
	Compiler *IncrementalCompiler

	// Releaser collects GPU objects for deferred destruction.
	Releaser *Releaser
}

// NewState creates a State for dev with a fresh releaser.
func NewState(dev Device) *State {
	return &State{Device: dev, Releaser: NewReleaser(dev)}
}

// ContextID returns the GPU context identity.
func (s *State) ContextID() uint32 { return s.Device.ContextID() }

// Releaser defers GPU object destruction until the owning context flushes
// it. Objects may be queued from any goroutine.
type Releaser struct {
	dev      Device
	mu       sync.Mutex
	textures []TextureID
	buffers  []BufferID
}

// NewReleaser creates a releaser bound to dev.
func NewReleaser(dev Device) *Releaser {
	return &Releaser{dev: dev}
}

// ReleaseTexture queues a texture for destruction.
func (r *Releaser) ReleaseTexture(id TextureID) {
	if id == InvalidID {
		return
	}
	r.mu.Lock()
	r.textures = append(r.textures, id)
	r.mu.Unlock()
}

// ReleaseBuffer queues a buffer for destruction.
func (r *Releaser) ReleaseBuffer(id BufferID) {
	if id == InvalidID {
		return
	}
	r.mu.Lock()
	r.buffers = append(r.buffers, id)
	r.mu.Unlock()
}

// Pending returns the number of queued objects.
func (r *Releaser) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.textures) + len(r.buffers)
}

// Flush destroys every queued object. Call with the context bound.
func (r *Releaser) Flush() int {
	r.mu.Lock()
	textures, buffers := r.textures, r.buffers
	r.textures, r.buffers = nil, nil
	r.mu.Unlock()

	for _, id := range textures {
		r.dev.DestroyTexture(id)
	}
	for _, id := range buffers {
		r.dev.DestroyBuffer(id)
	}
	if n := len(textures) + len(buffers); n > 0 {
		slogger().Debug("texture: released GPU objects", "context", r.dev.ContextID(), "textures", len(textures), "buffers", len(buffers))
		return n
	}
	return 0
}
