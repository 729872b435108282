package bc

import "encoding/binary"

// DecodeBC1 expands BC1 blocks to RGBA pixels. Used to read back compressed
// tiles on the CPU.
func DecodeBC1(data []byte, w, h int) []byte {
	out := make([]byte, w*h*4)
	o := 0
	for by := 0; by < h; by += 4 {
		for bx := 0; bx < w; bx += 4 {
			if o+BC1BlockSize > len(data) {
				return out
			}
			decodeColor(out, data[o:o+BC1BlockSize], w, h, bx, by)
			o += BC1BlockSize
		}
	}
	return out
}

// DecodeBC3 expands BC3 blocks to RGBA pixels.
func DecodeBC3(data []byte, w, h int) []byte {
	out := make([]byte, w*h*4)
	o := 0
	for by := 0; by < h; by += 4 {
		for bx := 0; bx < w; bx += 4 {
			if o+BC3BlockSize > len(data) {
				return out
			}
			decodeColor(out, data[o+8:o+16], w, h, bx, by)
			decodeAlpha(out, data[o:o+8], w, h, bx, by)
			o += BC3BlockSize
		}
	}
	return out
}

func decodeColor(out, blk []byte, w, h, bx, by int) {
	c0 := binary.LittleEndian.Uint16(blk[0:])
	c1 := binary.LittleEndian.Uint16(blk[2:])
	idx := binary.LittleEndian.Uint32(blk[4:])
	e0, e1 := from565(c0), from565(c1)
	var palette [4][3]int
	palette[0], palette[1] = e0, e1
	for c := range 3 {
		if c0 > c1 {
			palette[2][c] = (2*e0[c] + e1[c]) / 3
			palette[3][c] = (e0[c] + 2*e1[c]) / 3
		} else {
			palette[2][c] = (e0[c] + e1[c]) / 2
		}
	}
	for i := range 16 {
		x, y := bx+i%4, by+i/4
		if x >= w || y >= h {
			continue
		}
		p := palette[(idx>>(2*i))&3]
		o := (y*w + x) * 4
		out[o], out[o+1], out[o+2], out[o+3] = byte(p[0]), byte(p[1]), byte(p[2]), 255
	}
}

func decodeAlpha(out, blk []byte, w, h, bx, by int) {
	a0, a1 := int(blk[0]), int(blk[1])
	var palette [8]int
	palette[0], palette[1] = a0, a1
	if a0 > a1 {
		for i := 1; i < 7; i++ {
			palette[i+1] = ((7-i)*a0 + i*a1) / 7
		}
	} else {
		for i := 1; i < 5; i++ {
			palette[i+1] = ((5-i)*a0 + i*a1) / 5
		}
		palette[7] = 255
	}
	var bits uint64
	for i := range 6 {
		bits |= uint64(blk[2+i]) << (8 * i)
	}
	for i := range 16 {
		x, y := bx+i%4, by+i/4
		if x >= w || y >= h {
			continue
		}
		out[(y*w+x)*4+3] = byte(palette[(bits>>(3*i))&7])
	}
}
