// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import "github.com/gogpu/terrain/internal/bc"

// PixelFormat describes how texel data is laid out in memory.
type PixelFormat uint8

// Pixel formats.
const (
	FormatUndefined PixelFormat = iota

	// FormatR8 is one 8-bit unsigned normalized channel.
	FormatR8

	// FormatRG8 is two 8-bit unsigned normalized channels.
	FormatRG8

	// FormatRGB8 is three 8-bit channels, tightly packed.
	FormatRGB8

	// FormatRGBA8 is four 8-bit channels.
	FormatRGBA8

	// FormatR16F is one IEEE half-precision float channel.
	FormatR16F

	// FormatBC1 is S3TC DXT1 (RGB, 8 bytes per 4x4 block).
	FormatBC1

	// FormatBC3 is S3TC DXT5 (RGBA, 16 bytes per 4x4 block).
	FormatBC3
)

var formatNames = [...]string{
	FormatUndefined: "undefined",
	FormatR8:        "r8",
	FormatRG8:       "rg8",
	FormatRGB8:      "rgb8",
	FormatRGBA8:     "rgba8",
	FormatR16F:      "r16f",
	FormatBC1:       "bc1",
	FormatBC3:       "bc3",
}

// String returns the lower-case format name.
func (f PixelFormat) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// Channels returns the number of color channels.
func (f PixelFormat) Channels() int {
	switch f {
	case FormatR8, FormatR16F:
		return 1
	case FormatRG8:
		return 2
	case FormatRGB8, FormatBC1:
		return 3
	case FormatRGBA8, FormatBC3:
		return 4
	default:
		return 0
	}
}

// Compressed reports whether the format is block compressed.
func (f PixelFormat) Compressed() bool {
	return f == FormatBC1 || f == FormatBC3
}

// BytesPerPixel returns the texel size of an uncompressed format, or 0.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatR8:
		return 1
	case FormatRG8, FormatR16F:
		return 2
	case FormatRGB8:
		return 3
	case FormatRGBA8:
		return 4
	default:
		return 0
	}
}

// LevelSize returns the byte size of one w×h layer in this format.
func (f PixelFormat) LevelSize(w, h int) int {
	w, h = max(w, 1), max(h, 1)
	switch f {
	case FormatBC1:
		return bc.EncodedSize(w, h, bc.BC1BlockSize)
	case FormatBC3:
		return bc.EncodedSize(w, h, bc.BC3BlockSize)
	default:
		return w * h * f.BytesPerPixel()
	}
}

// RowBytes returns the byte stride of one row of texels, or of one row of
// 4x4 blocks for compressed formats.
func (f PixelFormat) RowBytes(w int) int {
	w = max(w, 1)
	switch f {
	case FormatBC1:
		return ((w + 3) / 4) * bc.BC1BlockSize
	case FormatBC3:
		return ((w + 3) / 4) * bc.BC3BlockSize
	default:
		return w * f.BytesPerPixel()
	}
}
