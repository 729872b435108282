// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

// Resource IDs
//
// These opaque IDs represent GPU resources. Each Device implementation
// maintains a mapping between IDs and its backend objects.

// TextureID is an opaque handle to a GPU texture object.
type TextureID uint64

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// Handle is a 64-bit bindless texture handle. Zero means "no texture".
type Handle uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// Filter selects texture minification/magnification filtering.
type Filter uint8

// Filters.
const (
	FilterNearest Filter = iota
	FilterLinear
	FilterLinearMipmapLinear
)

// Wrap selects texture coordinate wrapping.
type Wrap uint8

// Wrap modes.
const (
	WrapClamp Wrap = iota
	WrapRepeat
)

// SamplerDesc describes the fixed sampling state of a texture object.
type SamplerDesc struct {
	MinFilter Filter
	MagFilter Filter
	WrapS     Wrap
	WrapT     Wrap
}

// TextureDesc describes a 2D array texture allocation.
type TextureDesc struct {
	Label     string
	Width     int
	Height    int
	Layers    int
	MipLevels int
	Format    PixelFormat
}

// Capabilities reports what a Device supports.
type Capabilities struct {
	// GPUMipmaps reports whether GenerateMipmaps is implemented.
	GPUMipmaps bool

	// BlockCompression reports whether BC1/BC3 storage is available.
	BlockCompression bool

	// StorageBufferAlignment is the required storage buffer offset
	// alignment in bytes.
	StorageBufferAlignment int

	// HandleLUTBinding is the storage buffer binding the shaders read the
	// handle table from. Negative means "use the default".
	HandleLUTBinding int
}

// Device is the GPU-context capability the arena compiles textures with.
// One Device corresponds to one GPU context; all calls for a context are
// made from that context's render goroutine.
type Device interface {
	// ContextID identifies the GPU context. IDs are small and dense.
	ContextID() uint32

	// Capabilities returns the device capabilities.
	Capabilities() Capabilities

	// CreateTexture allocates storage for a 2D array texture.
	CreateTexture(desc *TextureDesc) (TextureID, error)

	// WriteTexture uploads one layer of one mip level.
	WriteTexture(id TextureID, level, layer int, data []byte) error

	// GenerateMipmaps fills levels 1..n-1 from level 0.
	GenerateMipmaps(id TextureID) error

	// SetSampler sets filtering and wrapping. Must be called before
	// TextureHandle; parameters are frozen once a handle exists.
	SetSampler(id TextureID, desc SamplerDesc) error

	// TextureHandle returns the bindless handle of a texture.
	TextureHandle(id TextureID) (Handle, error)

	// MakeResident toggles residency of a handle.
	MakeResident(h Handle, resident bool) error

	// DestroyTexture frees a texture and invalidates its handle.
	DestroyTexture(id TextureID)

	// CreateBuffer allocates a storage buffer of size bytes.
	CreateBuffer(label string, size uint64) (BufferID, error)

	// WriteBuffer uploads data at offset.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// BindStorageBuffer binds a buffer to a shader storage slot.
	BindStorageBuffer(binding uint32, id BufferID) error

	// DestroyBuffer frees a buffer.
	DestroyBuffer(id BufferID)
}
