// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// DefaultHandleLUTBinding is the storage buffer binding used when the device
// does not report one.
const DefaultHandleLUTBinding = 5

const handleSize = 8

// lutDiscovery caches the storage buffer alignment and binding index. The
// first HandleLUT to allocate queries its device; everyone after reuses it.
var lutDiscovery struct {
	sync.Mutex
	done      bool
	alignment uint64
	binding   uint32
}

func discoverLUTLayout(dev Device) (alignment uint64, binding uint32) {
	lutDiscovery.Lock()
	defer lutDiscovery.Unlock()
	if !lutDiscovery.done {
		caps := dev.Capabilities()
		lutDiscovery.alignment = uint64(max(caps.StorageBufferAlignment, handleSize))
		lutDiscovery.binding = DefaultHandleLUTBinding
		if caps.HandleLUTBinding > 0 {
			lutDiscovery.binding = uint32(caps.HandleLUTBinding)
		}
		lutDiscovery.done = true
		slogger().Debug("texture: handle table layout",
			"alignment", lutDiscovery.alignment,
			"binding", lutDiscovery.binding)
	}
	return lutDiscovery.alignment, lutDiscovery.binding
}

// HandleLUT is the GPU buffer of bindless handles read by shaders, one
// 64-bit entry per arena texture in registration order.
type HandleLUT struct {
	handles   []uint64
	buffer    BufferID
	allocated uint64
	binding   uint32
	dirty     bool
	releaser  *Releaser

	reallocations  int
	partialUpdates int
}

// Len returns the number of handle entries.
func (l *HandleLUT) Len() int { return len(l.handles) }

// Handles returns a copy of the CPU mirror of the table.
func (l *HandleLUT) Handles() []uint64 { return append([]uint64(nil), l.handles...) }

// AllocatedSize returns the GPU buffer size in bytes.
func (l *HandleLUT) AllocatedSize() uint64 { return l.allocated }

// Reallocations returns how many times the buffer was fully reallocated.
func (l *HandleLUT) Reallocations() int { return l.reallocations }

// PartialUpdates returns how many in-place updates were written.
func (l *HandleLUT) PartialUpdates() int { return l.partialUpdates }

// sync brings the GPU table in line with textures. The buffer is
// reallocated when it is too small; otherwise a dirty table writes only
// the entries whose handles changed.
func (l *HandleLUT) sync(textures []*Texture, state *State) error {
	dev := state.Device
	required := uint64(len(textures)) * handleSize

	if required > l.allocated {
		alignment, binding := discoverLUTLayout(dev)
		l.release()

		size := (required + alignment - 1) / alignment * alignment
		l.handles = make([]uint64, len(textures))
		l.refresh(textures, state)

		id, err := dev.CreateBuffer("terrain.handle_lut", size)
		if err != nil {
			l.handles = nil
			return fmt.Errorf("texture: handle table alloc: %w", err)
		}
		if err := dev.WriteBuffer(id, 0, encodeHandles(l.handles)); err != nil {
			dev.DestroyBuffer(id)
			l.handles = nil
			return fmt.Errorf("texture: handle table upload: %w", err)
		}
		l.buffer = id
		l.allocated = size
		l.binding = binding
		l.releaser = state.Releaser
		l.dirty = false
		l.reallocations++
		slogger().Debug("texture: handle table allocated",
			"context", state.ContextID(),
			"handles", len(l.handles),
			"bytes", size)
		return nil
	}

	if !l.dirty && len(l.handles) == len(textures) {
		return nil
	}
	if len(l.handles) < len(textures) {
		l.handles = append(l.handles, make([]uint64, len(textures)-len(l.handles))...)
	}

	runs := l.refresh(textures, state)
	for _, r := range runs {
		data := encodeHandles(l.handles[r[0]:r[1]])
		if err := dev.WriteBuffer(l.buffer, uint64(r[0])*handleSize, data); err != nil {
			return fmt.Errorf("texture: handle table update: %w", err)
		}
	}
	if len(runs) > 0 {
		l.partialUpdates++
	}
	l.dirty = false
	return nil
}

// refresh copies current handles into the CPU mirror and returns the
// half-open index ranges that changed.
func (l *HandleLUT) refresh(textures []*Texture, state *State) [][2]int {
	var runs [][2]int
	start := -1
	for i, tex := range textures {
		h := uint64(tex.lutHandle(state))
		if l.handles[i] != h {
			l.handles[i] = h
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			runs = append(runs, [2]int{start, i})
			start = -1
		}
	}
	if start >= 0 {
		runs = append(runs, [2]int{start, len(textures)})
	}
	return runs
}

func (l *HandleLUT) bind(state *State) error {
	if l.buffer == InvalidID {
		return nil
	}
	return state.Device.BindStorageBuffer(l.binding, l.buffer)
}

func (l *HandleLUT) release() {
	if l.buffer != InvalidID && l.releaser != nil {
		l.releaser.ReleaseBuffer(l.buffer)
	}
	l.buffer = InvalidID
	l.allocated = 0
	l.handles = nil
}

func encodeHandles(handles []uint64) []byte {
	out := make([]byte, 0, len(handles)*handleSize)
	for _, h := range handles {
		out = binary.LittleEndian.AppendUint64(out, h)
	}
	return out
}
