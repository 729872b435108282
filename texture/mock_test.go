// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import (
	"fmt"
	"sync"
)

// mockDevice is a minimal in-memory Device for package tests.
type mockDevice struct {
	mu         sync.Mutex
	id         uint32
	caps       Capabilities
	next       uint64
	nextHandle uint64
	textures   map[TextureID]*TextureDesc
	uploads    map[TextureID]int
	handles    map[TextureID]Handle
	resident   map[Handle]bool
	buffers    map[BufferID][]byte
	bound      map[uint32]BufferID
	writes     [][2]uint64 // offset, size
	destroyed  []TextureID
	mipmapped  map[TextureID]bool
	failCreate bool
}

func newMockDevice(id uint32) *mockDevice {
	return &mockDevice{
		id:        id,
		caps:      Capabilities{GPUMipmaps: true, BlockCompression: true, StorageBufferAlignment: 16},
		textures:  make(map[TextureID]*TextureDesc),
		uploads:   make(map[TextureID]int),
		handles:   make(map[TextureID]Handle),
		resident:  make(map[Handle]bool),
		buffers:   make(map[BufferID][]byte),
		bound:     make(map[uint32]BufferID),
		mipmapped: make(map[TextureID]bool),
	}
}

func (d *mockDevice) ContextID() uint32          { return d.id }
func (d *mockDevice) Capabilities() Capabilities { return d.caps }

func (d *mockDevice) CreateTexture(desc *TextureDesc) (TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failCreate {
		return InvalidID, fmt.Errorf("mock: create failed")
	}
	d.next++
	id := TextureID(d.next)
	cp := *desc
	d.textures[id] = &cp
	return id, nil
}

func (d *mockDevice) WriteTexture(id TextureID, level, layer int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("mock: unknown texture %d", id)
	}
	w, h := max(desc.Width>>level, 1), max(desc.Height>>level, 1)
	if len(data) != desc.Format.LevelSize(w, h) {
		return fmt.Errorf("mock: level %d size %d, want %d", level, len(data), desc.Format.LevelSize(w, h))
	}
	d.uploads[id]++
	return nil
}

func (d *mockDevice) GenerateMipmaps(id TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mipmapped[id] = true
	return nil
}

func (d *mockDevice) SetSampler(TextureID, SamplerDesc) error { return nil }

func (d *mockDevice) TextureHandle(id TextureID) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.handles[id]; ok {
		return h, nil
	}
	d.nextHandle++
	h := Handle(0x1000 + d.nextHandle)
	d.handles[id] = h
	return h, nil
}

func (d *mockDevice) MakeResident(h Handle, resident bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resident[h] = resident
	return nil
}

func (d *mockDevice) DestroyTexture(id TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.textures, id)
	d.destroyed = append(d.destroyed, id)
}

func (d *mockDevice) CreateBuffer(_ string, size uint64) (BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	id := BufferID(d.next)
	d.buffers[id] = make([]byte, size)
	return id, nil
}

func (d *mockDevice) WriteBuffer(id BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok || offset+uint64(len(data)) > uint64(len(buf)) {
		return fmt.Errorf("mock: bad buffer write")
	}
	copy(buf[offset:], data)
	d.writes = append(d.writes, [2]uint64{offset, uint64(len(data))})
	return nil
}

func (d *mockDevice) BindStorageBuffer(binding uint32, id BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bound[binding] = id
	return nil
}

func (d *mockDevice) DestroyBuffer(id BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
}

func (d *mockDevice) resetWrites() {
	d.mu.Lock()
	d.writes = nil
	d.mu.Unlock()
}

func (d *mockDevice) liveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.textures)
}

func resetLUTDiscovery() {
	lutDiscovery.Lock()
	lutDiscovery.done = false
	lutDiscovery.Unlock()
}

func solidImage(w, h int, f PixelFormat, v byte) *Image {
	im := NewImage(w, h, 1, f)
	for i := range im.Levels[0] {
		im.Levels[0][i] = v
	}
	return im
}
