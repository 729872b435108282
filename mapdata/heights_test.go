package mapdata

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/x448/float16"

	"github.com/gogpu/terrain/texture"
)

func TestTerrarium_RoundTrip(t *testing.T) {
	in := &Heights{Width: 2, Height: 2, Values: []float32{0, -10.25, 8848, 1234.5}}
	data, err := EncodeTerrarium(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeHeights(data, Terrarium)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range in.Values {
		if got := out.Values[i]; math.Abs(float64(got-want)) > 1.0/256 {
			t.Errorf("height %d = %g, want %g", i, got, want)
		}
	}
}

func TestDecodeHeights_Gray16(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 2, 1))
	img.SetGray16(0, 0, color.Gray16{Y: 300})
	img.SetGray16(1, 0, color.Gray16{Y: 4000})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	h, err := DecodeHeights(buf.Bytes(), Gray16)
	if err != nil {
		t.Fatal(err)
	}
	if h.Values[0] != 300 || h.Values[1] != 4000 {
		t.Errorf("heights = %v", h.Values)
	}

	// An 8-bit image cannot carry Gray16 heights.
	data, _ := EncodeTerrarium(h)
	if _, err := DecodeHeights(data, Gray16); !errors.Is(err, ErrEncoding) {
		t.Errorf("err = %v, want ErrEncoding", err)
	}
	if _, err := DecodeHeights([]byte("junk"), Terrarium); err == nil {
		t.Error("junk decoded")
	}
}

func TestHeights_Image(t *testing.T) {
	h := &Heights{Width: 2, Height: 1, Values: []float32{-5, 1500}}
	im := h.Image()
	if im.Format != texture.FormatR16F || !im.Valid() {
		t.Fatalf("format = %s", im.Format)
	}
	px, _ := im.Pixel(1, 0)
	if got := float16.Frombits(uint16(px[0]) | uint16(px[1])<<8).Float32(); got != 1500 {
		t.Errorf("texel 1 = %g, want 1500", got)
	}
}

func TestHeights_NormalMap(t *testing.T) {
	ext := key(10, 512, 200).Extent()

	flat := &Heights{Width: 3, Height: 3, Values: make([]float32, 9)}
	im := flat.NormalMap(ext)
	if im.Format != texture.FormatRG8 {
		t.Fatalf("format = %s", im.Format)
	}
	for i, v := range im.Levels[0] {
		if v != 128 {
			t.Fatalf("flat normal byte %d = %d, want 128", i, v)
		}
	}

	// Ground rising to the east tilts the normal west.
	slope := &Heights{Width: 3, Height: 3, Values: []float32{0, 50, 100, 0, 50, 100, 0, 50, 100}}
	im = slope.NormalMap(ext)
	px, _ := im.Pixel(1, 1)
	if px[0] >= 128 || px[1] != 128 {
		t.Errorf("east slope normal = %v, want x < 128, y = 128", px)
	}

	tiny := &Heights{Width: 1, Height: 1, Values: []float32{7}}
	if px, _ := tiny.NormalMap(ext).Pixel(0, 0); px[0] != 128 || px[1] != 128 {
		t.Errorf("1x1 normal = %v", px)
	}
}
