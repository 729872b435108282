// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// Image errors.
var (
	ErrInvalidImage = errors.New("texture: invalid image")
	ErrNoPixel      = errors.New("texture: pixel access unsupported for format")
)

// Image is a CPU-side texel buffer with optional mip levels and array layers.
//
// Levels[i] holds every layer of mip level i back to back; each layer of
// level i occupies Format.LevelSize(Width>>i, Height>>i) bytes.
type Image struct {
	Width  int
	Height int
	Layers int
	Format PixelFormat
	Levels [][]byte
}

// NewImage allocates a single-level image.
func NewImage(w, h, layers int, format PixelFormat) *Image {
	layers = max(layers, 1)
	return &Image{
		Width:  w,
		Height: h,
		Layers: layers,
		Format: format,
		Levels: [][]byte{make([]byte, format.LevelSize(w, h)*layers)},
	}
}

// Valid reports whether the image has a size, a format and level 0 data of
// the expected length.
func (im *Image) Valid() bool {
	if im == nil || im.Width <= 0 || im.Height <= 0 || im.Layers <= 0 {
		return false
	}
	if im.Format == FormatUndefined || len(im.Levels) == 0 {
		return false
	}
	for i := range im.Levels {
		w, h := im.LevelDims(i)
		if len(im.Levels[i]) < im.Format.LevelSize(w, h)*im.Layers {
			return false
		}
	}
	return true
}

// NumLevels returns the number of mip levels present.
func (im *Image) NumLevels() int { return len(im.Levels) }

// LevelDims returns the dimensions of mip level i.
func (im *Image) LevelDims(i int) (w, h int) {
	return max(im.Width>>i, 1), max(im.Height>>i, 1)
}

// Layer returns the bytes of one array layer at mip level i.
func (im *Image) Layer(level, layer int) []byte {
	w, h := im.LevelDims(level)
	n := im.Format.LevelSize(w, h)
	return im.Levels[level][layer*n : (layer+1)*n]
}

// SizeInBytes returns the total byte size of every level.
func (im *Image) SizeInBytes() int {
	total := 0
	for _, l := range im.Levels {
		total += len(l)
	}
	return total
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	c := *im
	c.Levels = make([][]byte, len(im.Levels))
	for i, l := range im.Levels {
		c.Levels[i] = append([]byte(nil), l...)
	}
	return &c
}

// Pixel returns the raw texel bytes at (x, y) of layer 0, level 0.
// It fails for block-compressed formats.
func (im *Image) Pixel(x, y int) ([]byte, error) {
	bpp := im.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPixel, im.Format)
	}
	o := (y*im.Width + x) * bpp
	return im.Levels[0][o : o+bpp], nil
}

// SetPixel writes raw texel bytes at (x, y) of layer 0, level 0.
func (im *Image) SetPixel(x, y int, texel []byte) error {
	dst, err := im.Pixel(x, y)
	if err != nil {
		return err
	}
	copy(dst, texel)
	return nil
}

// Decode reads an encoded image (png, jpeg, bmp, tiff or webp).
func Decode(r io.Reader) (*Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("texture: decode: %w", err)
	}
	return FromGoImage(img), nil
}

// FromGoImage converts an image.Image into a single-level Image.
// Gray images become R8, opaque images RGB8 and everything else RGBA8.
func FromGoImage(img image.Image) *Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		out := NewImage(w, h, 1, FormatR8)
		for y := range h {
			o := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Levels[0][y*w:(y+1)*w], src.Pix[o:o+w])
		}
		return out
	case *image.Gray16:
		out := NewImage(w, h, 1, FormatR8)
		for y := range h {
			for x := range w {
				out.Levels[0][y*w+x] = src.Pix[src.PixOffset(b.Min.X+x, b.Min.Y+y)]
			}
		}
		return out
	}

	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	if src, ok := img.(*image.NRGBA); ok {
		for y := range h {
			o := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(nrgba.Pix[y*nrgba.Stride:(y+1)*nrgba.Stride], src.Pix[o:o+w*4])
		}
	} else {
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}

	if opaque(nrgba) {
		out := NewImage(w, h, 1, FormatRGB8)
		px := out.Levels[0]
		for i, j := 0, 0; i < len(nrgba.Pix); i, j = i+4, j+3 {
			px[j], px[j+1], px[j+2] = nrgba.Pix[i], nrgba.Pix[i+1], nrgba.Pix[i+2]
		}
		return out
	}
	out := NewImage(w, h, 1, FormatRGBA8)
	copy(out.Levels[0], nrgba.Pix)
	return out
}

func opaque(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return false
		}
	}
	return true
}

// ToNRGBA expands layer 0 of level 0 of an uncompressed 8-bit image into
// an *image.NRGBA.
func (im *Image) ToNRGBA() (*image.NRGBA, error) {
	out := image.NewNRGBA(image.Rect(0, 0, im.Width, im.Height))
	src := im.Layer(0, 0)
	switch im.Format {
	case FormatR8:
		for i, v := range src {
			out.Pix[i*4], out.Pix[i*4+1], out.Pix[i*4+2], out.Pix[i*4+3] = v, v, v, 0xff
		}
	case FormatRGB8:
		for i, j := 0, 0; j < len(src); i, j = i+4, j+3 {
			out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = src[j], src[j+1], src[j+2], 0xff
		}
	case FormatRGBA8:
		copy(out.Pix, src)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoPixel, im.Format)
	}
	return out, nil
}
