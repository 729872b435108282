// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import (
	"fmt"
	"math/bits"

	"github.com/gogpu/terrain/internal/bc"
)

// storageFormat picks the GPU storage format for an image format:
// compressed passthrough, BC1 for RGB, BC3 for RGBA, RGBA8 otherwise.
func storageFormat(f PixelFormat, caps Capabilities) PixelFormat {
	switch {
	case f.Compressed() && caps.BlockCompression:
		return f
	case f == FormatRGB8 && caps.BlockCompression:
		return FormatBC1
	case f == FormatRGBA8 && caps.BlockCompression:
		return FormatBC3
	default:
		return FormatRGBA8
	}
}

// convertLayer converts one w×h layer between formats for upload.
func convertLayer(src []byte, w, h int, from, to PixelFormat) ([]byte, error) {
	switch {
	case from == to:
		return src, nil
	case to == FormatBC1 && from == FormatRGB8:
		return bc.EncodeBC1(src, w, h, 3)
	case to == FormatBC3 && from == FormatRGBA8:
		return bc.EncodeBC3(src, w, h)
	case to == FormatRGBA8:
		return ExpandRGBA8(src, w, h, from), nil
	default:
		return nil, fmt.Errorf("texture: no conversion from %s to %s", from, to)
	}
}

// fullMipCount returns the number of levels in a full chain for w×h.
func fullMipCount(w, h int) int {
	return bits.Len(uint(max(w, h, 1)))
}

// Compile allocates the 2D array GPU object for the texture on the state's
// context, uploads every mip level of every layer and requests the
// bindless handle. A previously compiled object is handed to the releaser.
// Sampling parameters are fixed before the handle is requested.
func (t *Texture) Compile(state *State) error {
	im := t.Image()
	if !im.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidImage, t.label)
	}
	revision := t.Revision()

	dev := state.Device
	caps := dev.Capabilities()
	storage := storageFormat(im.Format, caps)

	levels := im.NumLevels()
	gpuMipmaps := levels <= 1 && caps.GPUMipmaps
	if levels <= 1 && !gpuMipmaps && !im.Format.Compressed() {
		cpu := im.Clone()
		if err := GenerateMipmaps(cpu); err == nil {
			im = cpu
			levels = im.NumLevels()
		}
	}
	mipCount := levels
	if gpuMipmaps {
		mipCount = fullMipCount(im.Width, im.Height)
	}

	id, err := dev.CreateTexture(&TextureDesc{
		Label:     t.label,
		Width:     im.Width,
		Height:    im.Height,
		Layers:    im.Layers,
		MipLevels: mipCount,
		Format:    storage,
	})
	if err != nil {
		return fmt.Errorf("texture: create %s: %w", t.label, err)
	}

	uploaded := 0
	for level := range levels {
		w, h := im.LevelDims(level)
		for layer := range im.Layers {
			data, err := convertLayer(im.Layer(level, layer), w, h, im.Format, storage)
			if err != nil {
				dev.DestroyTexture(id)
				return fmt.Errorf("texture: convert %s: %w", t.label, err)
			}
			if err := dev.WriteTexture(id, level, layer, data); err != nil {
				dev.DestroyTexture(id)
				return fmt.Errorf("texture: upload %s level %d layer %d: %w", t.label, level, layer, err)
			}
			uploaded += len(data)
		}
	}

	if gpuMipmaps {
		if err := dev.GenerateMipmaps(id); err != nil {
			slogger().Warn("texture: mipmap generation failed", "texture", t.label, "err", err)
		}
	}

	if err := dev.SetSampler(id, SamplerDesc{
		MinFilter: FilterLinearMipmapLinear,
		MagFilter: FilterLinear,
		WrapS:     WrapRepeat,
		WrapT:     WrapRepeat,
	}); err != nil {
		dev.DestroyTexture(id)
		return fmt.Errorf("texture: sampler %s: %w", t.label, err)
	}

	handle, err := dev.TextureHandle(id)
	if err != nil {
		dev.DestroyTexture(id)
		return fmt.Errorf("texture: handle %s: %w", t.label, err)
	}

	t.gcMu.Lock()
	gc := t.state(state.ContextID())
	if gc.Object != InvalidID {
		state.Releaser.ReleaseTexture(gc.Object)
	}
	gc.Object = id
	gc.Handle = handle
	gc.Resident = false
	gc.Format = storage
	gc.Bytes = uploaded
	gc.Revision = revision
	gc.compileSet = nil
	gc.releaser = state.Releaser
	t.gcMu.Unlock()

	slogger().Debug("texture: compiled",
		"texture", t.label,
		"context", state.ContextID(),
		"size", fmt.Sprintf("%dx%dx%d", im.Width, im.Height, im.Layers),
		"levels", mipCount,
		"format", storage.String())
	return nil
}

// compileSet returns the pending compile set for the context, creating
// and registering one with compiler if none exists.
func (t *Texture) compileSet(state *State) *CompileSet {
	t.gcMu.Lock()
	defer t.gcMu.Unlock()
	gc := t.state(state.ContextID())
	if gc.compileSet == nil {
		gc.compileSet = &CompileSet{tex: t}
		state.Compiler.Add(state.ContextID(), gc.compileSet)
	}
	return gc.compileSet
}
