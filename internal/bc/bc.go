// Package bc encodes S3TC block compressed textures (BC1/DXT1 and BC3/DXT5).
//
// The encoder uses a bounding-box endpoint fit, which is fast enough to run
// on tile textures as they arrive and good enough for terrain imagery.
package bc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when the source pixels do not cover the image.
var ErrShortBuffer = errors.New("bc: source buffer too small")

// Block sizes in bytes.
const (
	BC1BlockSize = 8
	BC3BlockSize = 16
)

// EncodedSize returns the number of bytes needed for a w×h image with the
// given block size.
func EncodedSize(w, h, blockSize int) int {
	return BlocksWide(w) * BlocksHigh(h) * blockSize
}

// BlocksWide returns the number of 4×4 block columns covering w pixels.
func BlocksWide(w int) int { return max(1, (w+3)/4) }

// BlocksHigh returns the number of 4×4 block rows covering h pixels.
func BlocksHigh(h int) int { return max(1, (h+3)/4) }

// EncodeBC1 compresses tightly packed pixels with channels bytes per pixel
// (3 or 4) into BC1 blocks. Alpha is ignored.
func EncodeBC1(pix []byte, w, h, channels int) ([]byte, error) {
	if err := check(pix, w, h, channels); err != nil {
		return nil, err
	}
	out := make([]byte, EncodedSize(w, h, BC1BlockSize))
	var block [16][4]byte
	o := 0
	for by := 0; by < h; by += 4 {
		for bx := 0; bx < w; bx += 4 {
			fetch(&block, pix, w, h, channels, bx, by)
			encodeColor(out[o:o+BC1BlockSize], &block)
			o += BC1BlockSize
		}
	}
	return out, nil
}

// EncodeBC3 compresses tightly packed RGBA pixels into BC3 blocks.
func EncodeBC3(pix []byte, w, h int) ([]byte, error) {
	if err := check(pix, w, h, 4); err != nil {
		return nil, err
	}
	out := make([]byte, EncodedSize(w, h, BC3BlockSize))
	var block [16][4]byte
	o := 0
	for by := 0; by < h; by += 4 {
		for bx := 0; bx < w; bx += 4 {
			fetch(&block, pix, w, h, 4, bx, by)
			encodeAlpha(out[o:o+8], &block)
			encodeColor(out[o+8:o+16], &block)
			o += BC3BlockSize
		}
	}
	return out, nil
}

func check(pix []byte, w, h, channels int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("bc: invalid size %dx%d", w, h)
	}
	if channels != 3 && channels != 4 {
		return fmt.Errorf("bc: unsupported channel count %d", channels)
	}
	if len(pix) < w*h*channels {
		return fmt.Errorf("%w: have %d, need %d", ErrShortBuffer, len(pix), w*h*channels)
	}
	return nil
}

// fetch copies a 4x4 block, clamping reads at the image edge.
func fetch(block *[16][4]byte, pix []byte, w, h, channels, bx, by int) {
	for y := range 4 {
		sy := min(by+y, h-1)
		for x := range 4 {
			sx := min(bx+x, w-1)
			i := (sy*w + sx) * channels
			p := &block[y*4+x]
			p[0], p[1], p[2] = pix[i], pix[i+1], pix[i+2]
			p[3] = 255
			if channels == 4 {
				p[3] = pix[i+3]
			}
		}
	}
}

func to565(r, g, b byte) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

func from565(c uint16) [3]int {
	r := int(c>>11) & 0x1f
	g := int(c>>5) & 0x3f
	b := int(c) & 0x1f
	return [3]int{r<<3 | r>>2, g<<2 | g>>4, b<<3 | b>>2}
}

func encodeColor(dst []byte, block *[16][4]byte) {
	lo := [3]byte{255, 255, 255}
	hi := [3]byte{}
	for _, p := range block {
		for c := range 3 {
			lo[c] = min(lo[c], p[c])
			hi[c] = max(hi[c], p[c])
		}
	}
	c0 := to565(hi[0], hi[1], hi[2])
	c1 := to565(lo[0], lo[1], lo[2])
	if c0 < c1 {
		c0, c1 = c1, c0
	}
	binary.LittleEndian.PutUint16(dst[0:], c0)
	binary.LittleEndian.PutUint16(dst[2:], c1)
	if c0 == c1 {
		binary.LittleEndian.PutUint32(dst[4:], 0)
		return
	}

	e0, e1 := from565(c0), from565(c1)
	var palette [4][3]int
	for c := range 3 {
		palette[0][c] = e0[c]
		palette[1][c] = e1[c]
		palette[2][c] = (2*e0[c] + e1[c]) / 3
		palette[3][c] = (e0[c] + 2*e1[c]) / 3
	}

	var indices uint32
	for i, p := range block {
		best, bestDist := 0, int(^uint(0)>>1)
		for j, q := range palette {
			dr := int(p[0]) - q[0]
			dg := int(p[1]) - q[1]
			db := int(p[2]) - q[2]
			if d := dr*dr + dg*dg + db*db; d < bestDist {
				best, bestDist = j, d
			}
		}
		indices |= uint32(best) << (2 * i)
	}
	binary.LittleEndian.PutUint32(dst[4:], indices)
}

func encodeAlpha(dst []byte, block *[16][4]byte) {
	a0, a1 := byte(0), byte(255)
	for _, p := range block {
		a0 = max(a0, p[3])
		a1 = min(a1, p[3])
	}
	dst[0], dst[1] = a0, a1
	for i := 2; i < 8; i++ {
		dst[i] = 0
	}
	if a0 == a1 {
		return
	}

	var palette [8]int
	palette[0], palette[1] = int(a0), int(a1)
	for i := 1; i < 7; i++ {
		palette[i+1] = ((7-i)*int(a0) + i*int(a1)) / 7
	}

	var bits uint64
	for i, p := range block {
		best, bestDist := 0, 1<<30
		for j, q := range palette {
			d := int(p[3]) - q
			if d < 0 {
				d = -d
			}
			if d < bestDist {
				best, bestDist = j, d
			}
		}
		bits |= uint64(best) << (3 * i)
	}
	for i := range 6 {
		dst[2+i] = byte(bits >> (8 * i))
	}
}
