// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/x448/float16"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/terrain/internal/bc"
)

// Normalize converts an uncompressed image to the canonical storage format
// for its channel count: one channel becomes R16F, two to four channels
// stay 8 bits per channel. It reports whether the image changed.
func Normalize(im *Image) bool {
	if im.Format != FormatR8 {
		return false
	}
	for i, lvl := range im.Levels {
		out := make([]byte, len(lvl)*2)
		for j, v := range lvl {
			h := float16.Fromfloat32(float32(v) / 255)
			binary.LittleEndian.PutUint16(out[j*2:], h.Bits())
		}
		im.Levels[i] = out
	}
	im.Format = FormatR16F
	return true
}

// Compress block-compresses RGB8 images to BC1 and RGBA8 images to BC3, in
// place, for every level and layer. Other formats are left untouched.
func Compress(im *Image) (bool, error) {
	var target PixelFormat
	switch im.Format {
	case FormatRGB8:
		target = FormatBC1
	case FormatRGBA8:
		target = FormatBC3
	default:
		return false, nil
	}

	levels := make([][]byte, len(im.Levels))
	for i := range im.Levels {
		w, h := im.LevelDims(i)
		levels[i] = make([]byte, 0, target.LevelSize(w, h)*im.Layers)
		for l := range im.Layers {
			enc, err := encodeLayer(im.Layer(i, l), w, h, im.Format)
			if err != nil {
				return false, fmt.Errorf("texture: compress level %d layer %d: %w", i, l, err)
			}
			levels[i] = append(levels[i], enc...)
		}
	}
	im.Levels = levels
	im.Format = target
	return true, nil
}

func encodeLayer(pix []byte, w, h int, f PixelFormat) ([]byte, error) {
	if f == FormatRGB8 {
		return bc.EncodeBC1(pix, w, h, 3)
	}
	return bc.EncodeBC3(pix, w, h)
}

// GenerateMipmaps builds a full CPU mip chain from level 0. Compressed
// images and images that already have mips are left untouched.
func GenerateMipmaps(im *Image) error {
	if im.Format.Compressed() || len(im.Levels) > 1 {
		return nil
	}
	levels := [][]byte{im.Levels[0]}
	for i := 1; ; i++ {
		pw, ph := im.LevelDims(i - 1)
		if pw == 1 && ph == 1 {
			break
		}
		w, h := im.LevelDims(i)
		lvl := make([]byte, 0, im.Format.LevelSize(w, h)*im.Layers)
		for l := range im.Layers {
			prev := levels[i-1][l*im.Format.LevelSize(pw, ph) : (l+1)*im.Format.LevelSize(pw, ph)]
			next, err := downsample(prev, pw, ph, w, h, im.Format)
			if err != nil {
				return err
			}
			lvl = append(lvl, next...)
		}
		levels = append(levels, lvl)
	}
	im.Levels = levels
	return nil
}

func downsample(src []byte, sw, sh, dw, dh int, f PixelFormat) ([]byte, error) {
	switch f {
	case FormatR8:
		s := &image.Gray{Pix: src, Stride: sw, Rect: image.Rect(0, 0, sw, sh)}
		d := image.NewGray(image.Rect(0, 0, dw, dh))
		xdraw.BiLinear.Scale(d, d.Bounds(), s, s.Bounds(), xdraw.Src, nil)
		return d.Pix, nil
	case FormatRGBA8:
		s := &image.NRGBA{Pix: src, Stride: sw * 4, Rect: image.Rect(0, 0, sw, sh)}
		d := image.NewNRGBA(image.Rect(0, 0, dw, dh))
		xdraw.BiLinear.Scale(d, d.Bounds(), s, s.Bounds(), xdraw.Src, nil)
		return d.Pix, nil
	case FormatRGB8:
		rgba := expandRGB(src)
		s := &image.NRGBA{Pix: rgba, Stride: sw * 4, Rect: image.Rect(0, 0, sw, sh)}
		d := image.NewNRGBA(image.Rect(0, 0, dw, dh))
		xdraw.BiLinear.Scale(d, d.Bounds(), s, s.Bounds(), xdraw.Src, nil)
		return packRGB(d.Pix), nil
	case FormatRG8, FormatR16F:
		return boxFilter(src, sw, sh, dw, dh, f), nil
	default:
		return nil, fmt.Errorf("texture: cannot mipmap %s", f)
	}
}

// boxFilter averages 2x2 texel footprints. Used for formats the image
// package has no color model for.
func boxFilter(src []byte, sw, sh, dw, dh int, f PixelFormat) []byte {
	bpp := f.BytesPerPixel()
	out := make([]byte, dw*dh*bpp)
	for y := range dh {
		for x := range dw {
			x0, y0 := min(x*2, sw-1), min(y*2, sh-1)
			x1, y1 := min(x0+1, sw-1), min(y0+1, sh-1)
			taps := [4]int{y0*sw + x0, y0*sw + x1, y1*sw + x0, y1*sw + x1}
			o := (y*dw + x) * bpp
			if f == FormatR16F {
				var sum float32
				for _, t := range taps {
					sum += float16.Frombits(binary.LittleEndian.Uint16(src[t*2:])).Float32()
				}
				binary.LittleEndian.PutUint16(out[o:], float16.Fromfloat32(sum/4).Bits())
				continue
			}
			for c := range bpp {
				sum := 0
				for _, t := range taps {
					sum += int(src[t*bpp+c])
				}
				out[o+c] = byte((sum + 2) / 4)
			}
		}
	}
	return out
}

func expandRGB(src []byte) []byte {
	out := make([]byte, len(src)/3*4)
	for i, j := 0, 0; j < len(src); i, j = i+4, j+3 {
		out[i], out[i+1], out[i+2], out[i+3] = src[j], src[j+1], src[j+2], 0xff
	}
	return out
}

func packRGB(src []byte) []byte {
	out := make([]byte, len(src)/4*3)
	for i, j := 0, 0; i < len(src); i, j = i+4, j+3 {
		out[j], out[j+1], out[j+2] = src[i], src[i+1], src[i+2]
	}
	return out
}

// ExpandRGBA8 converts one w×h layer of any format into RGBA8 texels.
// Float channels are clamped to [0,1].
func ExpandRGBA8(src []byte, w, h int, f PixelFormat) []byte {
	switch f {
	case FormatRGBA8:
		return append([]byte(nil), src...)
	case FormatRGB8:
		return expandRGB(src)
	case FormatBC1:
		return bc.DecodeBC1(src, w, h)
	case FormatBC3:
		return bc.DecodeBC3(src, w, h)
	}

	out := make([]byte, w*h*4)
	for i := range w * h {
		o := i * 4
		switch f {
		case FormatR8:
			out[o], out[o+1], out[o+2] = src[i], src[i], src[i]
		case FormatRG8:
			out[o], out[o+1] = src[i*2], src[i*2+1]
		case FormatR16F:
			v := float16.Frombits(binary.LittleEndian.Uint16(src[i*2:])).Float32()
			b := byte(min(max(v, 0), 1)*255 + 0.5)
			out[o], out[o+1], out[o+2] = b, b, b
		}
		out[o+3] = 0xff
	}
	return out
}
