package wgpu

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/terrain/internal/bc"
	"github.com/gogpu/terrain/texture"
)

// Device errors.
var (
	ErrNilDevice          = errors.New("wgpu: nil device or queue")
	ErrNoHAL              = errors.New("wgpu: provider does not expose HAL types")
	ErrUnknownTexture     = errors.New("wgpu: unknown texture")
	ErrUnknownBuffer      = errors.New("wgpu: unknown buffer")
	ErrUnknownHandle      = errors.New("wgpu: unknown or stale handle")
	ErrUnsupportedFormat  = errors.New("wgpu: unsupported pixel format")
	ErrMipmapsUnsupported = errors.New("wgpu: GPU mipmap generation not supported")
	ErrHandleFrozen       = errors.New("wgpu: sampler change after handle creation")
	ErrOutOfRange         = errors.New("wgpu: write out of range")
)

type gpuTexture struct {
	desc    texture.TextureDesc
	tex     hal.Texture
	sampler texture.SamplerDesc
	handle  texture.Handle
}

type gpuBuffer struct {
	label string
	buf   hal.Buffer
	size  uint64
}

// slot is one entry of the emulated bindless table.
type slot struct {
	generation uint32
	live       bool
	resident   bool
	texture    texture.TextureID
	view       hal.TextureView
	sampler    hal.Sampler
}

// Resident is one resident slot, ready to be placed in a binding array.
type Resident struct {
	Slot    uint32
	Handle  texture.Handle
	View    hal.TextureView
	Sampler hal.Sampler
}

// Device is a texture.Device backed by a HAL device and queue.
type Device struct {
	mu        sync.Mutex
	contextID uint32
	device    hal.Device
	queue     hal.Queue
	caps      texture.Capabilities

	nextID atomic.Uint64

	textures map[texture.TextureID]*gpuTexture
	buffers  map[texture.BufferID]*gpuBuffer
	bindings map[uint32]texture.BufferID
	slots    []slot
	free     []uint32
}

// Option configures a Device.
type Option func(*Device)

// WithCapabilities overrides the capabilities derived from the device.
func WithCapabilities(caps texture.Capabilities) Option {
	return func(d *Device) { d.caps = caps }
}

// CapabilitiesFor derives arena capabilities from adapter features and
// device limits. Mipmaps are always built on the CPU.
func CapabilitiesFor(features gputypes.Features, limits gputypes.Limits) texture.Capabilities {
	align := int(limits.MinStorageBufferOffsetAlignment)
	if align <= 0 {
		align = 256
	}
	return texture.Capabilities{
		GPUMipmaps:             false,
		BlockCompression:       features.Contains(gputypes.FeatureTextureCompressionBC),
		StorageBufferAlignment: align,
	}
}

// New wraps an opened HAL device and queue for a GPU context.
func New(contextID uint32, device hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	d := &Device{
		contextID: contextID,
		device:    device,
		queue:     queue,
		caps:      CapabilitiesFor(0, gputypes.DefaultLimits()),
		textures:  make(map[texture.TextureID]*gpuTexture),
		buffers:   make(map[texture.BufferID]*gpuBuffer),
		bindings:  make(map[uint32]texture.BufferID),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// NewFromProvider shares the device of an external provider, such as a
// gogpu application. The provider is either a gpucontext.DeviceProvider
// whose Device and Queue are HAL objects, or exposes HalDevice() and
// HalQueue() directly.
func NewFromProvider(contextID uint32, provider any, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}

	var rawDevice, rawQueue any
	switch p := provider.(type) {
	case halProvider:
		rawDevice, rawQueue = p.HalDevice(), p.HalQueue()
	case gpucontext.DeviceProvider:
		rawDevice, rawQueue = p.Device(), p.Queue()
	default:
		return nil, ErrNoHAL
	}

	device, ok := rawDevice.(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: device is %T", ErrNoHAL, rawDevice)
	}
	queue, ok := rawQueue.(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: queue is %T", ErrNoHAL, rawQueue)
	}
	return New(contextID, device, queue, opts...)
}

// ContextID implements texture.Device.
func (d *Device) ContextID() uint32 { return d.contextID }

// Capabilities implements texture.Device.
func (d *Device) Capabilities() texture.Capabilities { return d.caps }

func halFormat(f texture.PixelFormat) (gputypes.TextureFormat, error) {
	switch f {
	case texture.FormatR8:
		return gputypes.TextureFormatR8Unorm, nil
	case texture.FormatRG8:
		return gputypes.TextureFormatRG8Unorm, nil
	case texture.FormatRGBA8:
		return gputypes.TextureFormatRGBA8Unorm, nil
	case texture.FormatR16F:
		return gputypes.TextureFormatR16Float, nil
	case texture.FormatBC1:
		return gputypes.TextureFormatBC1RGBAUnorm, nil
	case texture.FormatBC3:
		return gputypes.TextureFormatBC3RGBAUnorm, nil
	default:
		return gputypes.TextureFormatUndefined, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
}

// CreateTexture implements texture.Device.
func (d *Device) CreateTexture(desc *texture.TextureDesc) (texture.TextureID, error) {
	format, err := halFormat(desc.Format)
	if err != nil {
		return texture.InvalidID, err
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              uint32(desc.Width),  //nolint:gosec // texture dims fit uint32
			Height:             uint32(desc.Height), //nolint:gosec // texture dims fit uint32
			DepthOrArrayLayers: uint32(max(desc.Layers, 1)),
		},
		MipLevelCount: uint32(max(desc.MipLevels, 1)),
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return texture.InvalidID, fmt.Errorf("wgpu: create texture %q: %w", desc.Label, err)
	}

	id := texture.TextureID(d.nextID.Add(1))
	d.mu.Lock()
	d.textures[id] = &gpuTexture{
		desc: *desc,
		tex:  tex,
		sampler: texture.SamplerDesc{
			MinFilter: texture.FilterLinear,
			MagFilter: texture.FilterLinear,
		},
	}
	d.mu.Unlock()
	return id, nil
}

func (d *Device) lookupTexture(id texture.TextureID) (*gpuTexture, error) {
	t, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTexture, id)
	}
	return t, nil
}

// WriteTexture implements texture.Device.
func (d *Device) WriteTexture(id texture.TextureID, level, layer int, data []byte) error {
	d.mu.Lock()
	t, err := d.lookupTexture(id)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if level < 0 || level >= max(t.desc.MipLevels, 1) || layer < 0 || layer >= max(t.desc.Layers, 1) {
		return fmt.Errorf("%w: level %d layer %d", ErrOutOfRange, level, layer)
	}

	w := max(t.desc.Width>>level, 1)
	h := max(t.desc.Height>>level, 1)
	if want := t.desc.Format.LevelSize(w, h); len(data) != want {
		return fmt.Errorf("%w: %d bytes for %dx%d %s, want %d", ErrOutOfRange, len(data), w, h, t.desc.Format, want)
	}

	rows := h
	if t.desc.Format.Compressed() {
		rows = bc.BlocksHigh(h)
	}
	dst := &hal.ImageCopyTexture{
		Texture:  t.tex,
		MipLevel: uint32(level), //nolint:gosec // checked above
		Origin:   hal.Origin3D{Z: uint32(layer)}, //nolint:gosec // checked above
		Aspect:   gputypes.TextureAspectAll,
	}
	layout := &hal.ImageDataLayout{
		BytesPerRow:  uint32(t.desc.Format.RowBytes(w)), //nolint:gosec // row size fits uint32
		RowsPerImage: uint32(rows),                      //nolint:gosec // row count fits uint32
	}
	size := &hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1} //nolint:gosec // dims fit uint32
	if err := d.queue.WriteTexture(dst, data, layout, size); err != nil {
		return fmt.Errorf("wgpu: write texture %q level %d layer %d: %w", t.desc.Label, level, layer, err)
	}
	return nil
}

// GenerateMipmaps implements texture.Device. The HAL has no blit-based
// mipmap path, so callers upload CPU-built chains instead.
func (d *Device) GenerateMipmaps(texture.TextureID) error {
	return ErrMipmapsUnsupported
}

// SetSampler implements texture.Device.
func (d *Device) SetSampler(id texture.TextureID, desc texture.SamplerDesc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookupTexture(id)
	if err != nil {
		return err
	}
	if t.handle != 0 {
		return ErrHandleFrozen
	}
	t.sampler = desc
	return nil
}

func addressMode(w texture.Wrap) gputypes.AddressMode {
	if w == texture.WrapRepeat {
		return gputypes.AddressModeRepeat
	}
	return gputypes.AddressModeClampToEdge
}

func filterModes(f texture.Filter) (filter, mip gputypes.FilterMode) {
	switch f {
	case texture.FilterNearest:
		return gputypes.FilterModeNearest, gputypes.FilterModeNearest
	case texture.FilterLinearMipmapLinear:
		return gputypes.FilterModeLinear, gputypes.FilterModeLinear
	default:
		return gputypes.FilterModeLinear, gputypes.FilterModeNearest
	}
}

func packHandle(index, generation uint32) texture.Handle {
	return texture.Handle(uint64(generation)<<32 | uint64(index+1))
}

// unpackHandle returns the slot index of a handle, or false for zero.
func unpackHandle(h texture.Handle) (index, generation uint32, ok bool) {
	low := uint32(h) //nolint:gosec // intentional truncation
	if low == 0 {
		return 0, 0, false
	}
	return low - 1, uint32(h >> 32), true //nolint:gosec // intentional truncation
}

// TextureHandle implements texture.Device. The first call creates the
// view and sampler and claims a slot; later calls return the same handle.
func (d *Device) TextureHandle(id texture.TextureID) (texture.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookupTexture(id)
	if err != nil {
		return 0, err
	}
	if t.handle != 0 {
		return t.handle, nil
	}

	format, _ := halFormat(t.desc.Format)
	view, err := d.device.CreateTextureView(t.tex, &hal.TextureViewDescriptor{
		Label:           t.desc.Label,
		Format:          format,
		Dimension:       gputypes.TextureViewDimension2DArray,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   uint32(max(t.desc.MipLevels, 1)), //nolint:gosec // small
		ArrayLayerCount: uint32(max(t.desc.Layers, 1)),    //nolint:gosec // small
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create view %q: %w", t.desc.Label, err)
	}

	minFilter, mipFilter := filterModes(t.sampler.MinFilter)
	magFilter, _ := filterModes(t.sampler.MagFilter)
	sampler, err := d.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        t.desc.Label,
		AddressModeU: addressMode(t.sampler.WrapS),
		AddressModeV: addressMode(t.sampler.WrapT),
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    magFilter,
		MinFilter:    minFilter,
		MipmapFilter: mipFilter,
		LodMaxClamp:  float32(max(t.desc.MipLevels, 1)),
	})
	if err != nil {
		d.device.DestroyTextureView(view)
		return 0, fmt.Errorf("wgpu: create sampler %q: %w", t.desc.Label, err)
	}

	var index uint32
	if n := len(d.free); n > 0 {
		index = d.free[n-1]
		d.free = d.free[:n-1]
	} else {
		index = uint32(len(d.slots)) //nolint:gosec // slot count fits uint32
		d.slots = append(d.slots, slot{})
	}
	s := &d.slots[index]
	s.live = true
	s.resident = false
	s.texture = id
	s.view = view
	s.sampler = sampler

	t.handle = packHandle(index, s.generation)
	return t.handle, nil
}

func (d *Device) lookupSlot(h texture.Handle) (*slot, error) {
	index, generation, ok := unpackHandle(h)
	if !ok || int(index) >= len(d.slots) {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownHandle, uint64(h))
	}
	s := &d.slots[index]
	if !s.live || s.generation != generation {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownHandle, uint64(h))
	}
	return s, nil
}

// MakeResident implements texture.Device.
func (d *Device) MakeResident(h texture.Handle, resident bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.lookupSlot(h)
	if err != nil {
		return err
	}
	s.resident = resident
	return nil
}

// DestroyTexture implements texture.Device.
func (d *Device) DestroyTexture(id texture.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return
	}
	delete(d.textures, id)

	if t.handle != 0 {
		if s, err := d.lookupSlot(t.handle); err == nil {
			d.device.DestroySampler(s.sampler)
			d.device.DestroyTextureView(s.view)
			index, _, _ := unpackHandle(t.handle)
			*s = slot{generation: s.generation + 1}
			d.free = append(d.free, index)
		}
	}
	d.device.DestroyTexture(t.tex)
}

// CreateBuffer implements texture.Device. Sizes are rounded up to the
// four-byte copy granularity.
func (d *Device) CreateBuffer(label string, size uint64) (texture.BufferID, error) {
	size = (size + 3) &^ 3
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return texture.InvalidID, fmt.Errorf("wgpu: create buffer %q: %w", label, err)
	}

	id := texture.BufferID(d.nextID.Add(1))
	d.mu.Lock()
	d.buffers[id] = &gpuBuffer{label: label, buf: buf, size: size}
	d.mu.Unlock()
	return id, nil
}

// WriteBuffer implements texture.Device.
func (d *Device) WriteBuffer(id texture.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	b, ok := d.buffers[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("%w: %d+%d > %d", ErrOutOfRange, offset, len(data), b.size)
	}
	if err := d.queue.WriteBuffer(b.buf, offset, data); err != nil {
		return fmt.Errorf("wgpu: write buffer %q: %w", b.label, err)
	}
	return nil
}

// BindStorageBuffer implements texture.Device. The binding is recorded
// for the renderer, which builds bind groups from StorageBinding.
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
	b, ok := d.buffers[id]
	if !ok {
		return
	}
	delete(d.buffers, id)
	for binding, bound := range d.bindings {
		if bound == id {
			delete(d.bindings, binding)
		}
	}
	d.device.DestroyBuffer(b.buf)
}

// StorageBinding returns the HAL buffer bound at a storage slot.
func (d *Device) StorageBinding(binding uint32) (hal.Buffer, uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.bindings[binding]
	if !ok {
		return nil, 0, false
	}
	b := d.buffers[id]
	return b.buf, b.size, true
}

// Resident returns the resident slots in slot order.
func (d *Device) Resident() []Resident {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Resident
	for i := range d.slots {
		s := &d.slots[i]
		if s.live && s.resident {
			index := uint32(i) //nolint:gosec // slot count fits uint32
			out = append(out, Resident{
				Slot:    index,
				Handle:  packHandle(index, s.generation),
				View:    s.view,
				Sampler: s.sampler,
			})
		}
	}
	return out
}

// SlotCount returns the size of the binding array needed to cover every
// slot ever claimed.
func (d *Device) SlotCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.slots)
}

// LiveTextures returns the IDs of undestroyed textures in ascending order.
func (d *Device) LiveTextures() []texture.TextureID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]texture.TextureID, 0, len(d.textures))
	for id := range d.textures {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close destroys every remaining texture and buffer. The HAL device
// itself belongs to the caller.
func (d *Device) Close() {
	for _, id := range d.LiveTextures() {
		d.DestroyTexture(id)
	}
	d.mu.Lock()
	ids := make([]texture.BufferID, 0, len(d.buffers))
	for id := range d.buffers {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	for _, id := range ids {
		d.DestroyBuffer(id)
	}
}

var _ texture.Device = (*Device)(nil)
