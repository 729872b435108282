// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// estimatedCompileTime is the budget charged per texture compile.
const estimatedCompileTime = 100 * time.Millisecond

// CompileSet is a pending compile request for one texture on one context.
type CompileSet struct {
	tex      *Texture
	done     atomic.Bool
	canceled atomic.Bool
}

// Done reports whether the compile has run.
func (c *CompileSet) Done() bool { return c.done.Load() }

// Canceled reports whether the texture was released before the compile ran.
func (c *CompileSet) Canceled() bool { return c.canceled.Load() }

// IncrementalCompiler queues texture compiles per GPU context and runs them
// in bounded batches outside the arena apply step.
type IncrementalCompiler struct {
	mu      sync.Mutex
	pending map[uint32][]*CompileSet
}

// NewIncrementalCompiler creates an empty compiler.
func NewIncrementalCompiler() *IncrementalCompiler {
	return &IncrementalCompiler{pending: make(map[uint32][]*CompileSet)}
}

// Add queues a compile set for a context.
func (c *IncrementalCompiler) Add(contextID uint32, set *CompileSet) {
	c.mu.Lock()
	c.pending[contextID] = append(c.pending[contextID], set)
	c.mu.Unlock()
}

// Pending returns the number of queued compiles for a context.
func (c *IncrementalCompiler) Pending(contextID uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[contextID])
}

// Drain runs queued compiles for the state's context until budget is
// spent, charging each compile its estimated time. At least one compile
// runs per call. Canceled sets are dropped without being charged. It
// returns the number of compiles performed.
func (c *IncrementalCompiler) Drain(state *State, budget time.Duration) int {
	id := state.ContextID()

	c.mu.Lock()
	queue := slices.DeleteFunc(c.pending[id], (*CompileSet).Canceled)
	n := 0
	for spent := time.Duration(0); n < len(queue) && (n == 0 || spent+estimatedCompileTime <= budget); n++ {
		spent += estimatedCompileTime
	}
	batch := queue[:n]
	c.pending[id] = append([]*CompileSet(nil), queue[n:]...)
	c.mu.Unlock()

	for _, set := range batch {
		if set.Canceled() {
			continue
		}
		if err := set.tex.Compile(state); err != nil {
			slogger().Warn("texture: incremental compile failed", "texture", set.tex.Label(), "err", err)
		}
		set.done.Store(true)
		// Released while compiling: the new object has no owner.
		if set.Canceled() {
			set.tex.ReleaseGLObjects(state)
		}
	}
	return n
}
