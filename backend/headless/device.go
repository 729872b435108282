// Package headless provides an in-memory texture.Device.
//
// It keeps every texture level, buffer byte and residency flag in memory,
// so the arena can run without a GPU: in tools, simulations and tests.
// Handles come from a counter, so recompiling a texture changes its handle
// just like a real bindless driver would.
package headless

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/terrain/texture"
)

// Device errors.
var (
	ErrUnknownTexture = errors.New("headless: unknown texture")
	ErrUnknownBuffer  = errors.New("headless: unknown buffer")
	ErrUnknownHandle  = errors.New("headless: unknown handle")
	ErrOutOfRange     = errors.New("headless: write out of range")
	ErrHandleFrozen   = errors.New("headless: sampler change after handle creation")
)

// handleBase offsets handles so they never collide with object IDs in
// test output.
const handleBase = 0x1_0000_0000

// BufferWrite records one WriteBuffer call.
type BufferWrite struct {
	Buffer texture.BufferID
	Offset uint64
	Size   int
}

type textureObject struct {
	desc    texture.TextureDesc
	levels  map[[2]int][]byte
	sampler texture.SamplerDesc
	handle  texture.Handle
	mipped  bool
}

// Device is a thread-safe in-memory GPU context.
type Device struct {
	mu        sync.Mutex
	contextID uint32
	caps      texture.Capabilities

	nextID     uint64
	nextHandle uint64

	textures map[texture.TextureID]*textureObject
	handles  map[texture.Handle]texture.TextureID
	resident map[texture.Handle]bool
	buffers  map[texture.BufferID][]byte
	bindings map[uint32]texture.BufferID
	writes   []BufferWrite
	created  int
}

// Option configures a Device.
type Option func(*Device)

// WithCapabilities overrides the reported capabilities.
func WithCapabilities(caps texture.Capabilities) Option {
	return func(d *Device) { d.caps = caps }
}

// DefaultCapabilities are reported unless overridden.
var DefaultCapabilities = texture.Capabilities{
	GPUMipmaps:             true,
	BlockCompression:       true,
	StorageBufferAlignment: 16,
}

// New creates a device for a GPU context.
func New(contextID uint32, opts ...Option) *Device {
	d := &Device{
		contextID: contextID,
		caps:      DefaultCapabilities,
		textures:  make(map[texture.TextureID]*textureObject),
		handles:   make(map[texture.Handle]texture.TextureID),
		resident:  make(map[texture.Handle]bool),
		buffers:   make(map[texture.BufferID][]byte),
		bindings:  make(map[uint32]texture.BufferID),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ContextID implements texture.Device.
func (d *Device) ContextID() uint32 { return d.contextID }

// Capabilities implements texture.Device.
func (d *Device) Capabilities() texture.Capabilities { return d.caps }

func (d *Device) allocID() uint64 {
	d.nextID++
	return d.nextID
}

// CreateTexture implements texture.Device.
func (d *Device) CreateTexture(desc *texture.TextureDesc) (texture.TextureID, error) {
	if desc == nil || desc.Width <= 0 || desc.Height <= 0 {
		return texture.InvalidID, fmt.Errorf("headless: invalid texture descriptor %+v", desc)
	}
	if desc.Format.Compressed() && !d.caps.BlockCompression {
		return texture.InvalidID, fmt.Errorf("headless: format %s unsupported", desc.Format)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := texture.TextureID(d.allocID())
	d.textures[id] = &textureObject{desc: *desc, levels: make(map[[2]int][]byte)}
	d.created++
	return id, nil
}

// WriteTexture implements texture.Device.
func (d *Device) WriteTexture(id texture.TextureID, level, layer int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTexture, id)
	}
	if level >= obj.desc.MipLevels || layer >= max(obj.desc.Layers, 1) {
		return fmt.Errorf("%w: level %d layer %d", ErrOutOfRange, level, layer)
	}
	w, h := max(obj.desc.Width>>level, 1), max(obj.desc.Height>>level, 1)
	if want := obj.desc.Format.LevelSize(w, h); len(data) != want {
		return fmt.Errorf("%w: level %d has %d bytes, want %d", ErrOutOfRange, level, len(data), want)
	}
	obj.levels[[2]int{level, layer}] = append([]byte(nil), data...)
	return nil
}

// GenerateMipmaps implements texture.Device.
func (d *Device) GenerateMipmaps(id texture.TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTexture, id)
	}
	if !d.caps.GPUMipmaps {
		return errors.New("headless: mipmap generation unsupported")
	}
	obj.mipped = true
	return nil
}

// SetSampler implements texture.Device.
func (d *Device) SetSampler(id texture.TextureID, desc texture.SamplerDesc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTexture, id)
	}
	if obj.handle != 0 {
		return ErrHandleFrozen
	}
	obj.sampler = desc
	return nil
}

// TextureHandle implements texture.Device.
func (d *Device) TextureHandle(id texture.TextureID) (texture.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.textures[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownTexture, id)
	}
	if obj.handle == 0 {
		d.nextHandle++
		obj.handle = texture.Handle(handleBase + d.nextHandle)
		d.handles[obj.handle] = id
	}
	return obj.handle, nil
}

// MakeResident implements texture.Device.
func (d *Device) MakeResident(h texture.Handle, resident bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handles[h]; !ok {
		return fmt.Errorf("%w: %#x", ErrUnknownHandle, uint64(h))
	}
	if resident {
		d.resident[h] = true
	} else {
		delete(d.resident, h)
	}
	return nil
}

// DestroyTexture implements texture.Device.
func (d *Device) DestroyTexture(id texture.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.textures[id]
	if !ok {
		return
	}
	if obj.handle != 0 {
		delete(d.handles, obj.handle)
		delete(d.resident, obj.handle)
	}
	delete(d.textures, id)
}

// CreateBuffer implements texture.Device.
func (d *Device) CreateBuffer(label string, size uint64) (texture.BufferID, error) {
	if size == 0 {
		return texture.InvalidID, fmt.Errorf("headless: zero-sized buffer %q", label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := texture.BufferID(d.allocID())
	d.buffers[id] = make([]byte, size)
	return id, nil
}

// WriteBuffer implements texture.Device.
func (d *Device) WriteBuffer(id texture.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}
	if offset+uint64(len(data)) > uint64(len(buf)) {
		return fmt.Errorf("%w: %d+%d > %d", ErrOutOfRange, offset, len(data), len(buf))
	}
	copy(buf[offset:], data)
	d.writes = append(d.writes, BufferWrite{Buffer: id, Offset: offset, Size: len(data)})
	return nil
}

// BindStorageBuffer implements texture.Device.
func (d *Device) BindStorageBuffer(binding uint32, id texture.BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}
	d.bindings[binding] = id
	return nil
}

// DestroyBuffer implements texture.Device.
func (d *Device) DestroyBuffer(id texture.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
	for b, bound := range d.bindings {
		if bound == id {
			delete(d.bindings, b)
		}
	}
}

var _ texture.Device = (*Device)(nil)
