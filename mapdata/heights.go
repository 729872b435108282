package mapdata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/x448/float16"

	"github.com/gogpu/terrain/texture"
)

// ErrEncoding is returned for elevation tiles that do not match the layer's
// height encoding.
var ErrEncoding = errors.New("mapdata: unsupported height encoding")

// HeightEncoding is the pixel encoding of elevation tiles.
type HeightEncoding int

// Height encodings.
const (
	// Terrarium packs metres into RGB as R*256 + G + B/256 - 32768.
	Terrarium HeightEncoding = iota
	// Gray16 stores whole metres in a 16-bit grayscale image.
	Gray16
)

func (e HeightEncoding) String() string {
	switch e {
	case Terrarium:
		return "terrarium"
	case Gray16:
		return "gray16"
	}
	return "unknown"
}

// Heights is a row-major grid of elevations in metres. Row 0 is the northern
// edge.
type Heights struct {
	Width, Height int
	Values        []float32
}

// At returns the height at (x, y) with coordinates clamped to the grid.
func (h *Heights) At(x, y int) float32 {
	x = min(max(x, 0), h.Width-1)
	y = min(max(y, 0), h.Height-1)
	return h.Values[y*h.Width+x]
}

// DecodeHeights decodes an elevation tile.
func DecodeHeights(data []byte, enc HeightEncoding) (*Heights, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mapdata: decode heights: %w", err)
	}
	b := img.Bounds()
	h := &Heights{Width: b.Dx(), Height: b.Dy(), Values: make([]float32, b.Dx()*b.Dy())}

	switch enc {
	case Terrarium:
		for y := range h.Height {
			for x := range h.Width {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				h.Values[y*h.Width+x] = float32(c.R)*256 + float32(c.G) + float32(c.B)/256 - 32768
			}
		}
	case Gray16:
		g, ok := img.(*image.Gray16)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not 16-bit gray", ErrEncoding, img)
		}
		for y := range h.Height {
			for x := range h.Width {
				h.Values[y*h.Width+x] = float32(g.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrEncoding, enc)
	}
	return h, nil
}

// EncodeTerrarium writes heights as a Terrarium PNG.
func EncodeTerrarium(h *Heights) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, h.Width, h.Height))
	for i, v := range h.Values {
		u := math.Round(float64(v+32768) * 256)
		u = min(max(u, 0), 1<<24-1)
		n := uint32(u)
		img.Pix[i*4] = uint8(n >> 16)
		img.Pix[i*4+1] = uint8(n >> 8)
		img.Pix[i*4+2] = uint8(n)
		img.Pix[i*4+3] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Image returns the heights as an R16F texture image.
func (h *Heights) Image() *texture.Image {
	im := texture.NewImage(h.Width, h.Height, 1, texture.FormatR16F)
	px := im.Levels[0]
	for i, v := range h.Values {
		binary.LittleEndian.PutUint16(px[i*2:], float16.Fromfloat32(v).Bits())
	}
	return im
}

// NormalMap derives an RG8 normal map from heights covering extent. Each
// texel stores the east and north components of the unit surface normal
// mapped from [-1, 1] to [0, 255].
func (h *Heights) NormalMap(extent orb.Bound) *texture.Image {
	im := texture.NewImage(h.Width, h.Height, 1, texture.FormatRG8)
	if h.Width < 2 || h.Height < 2 {
		for i := range im.Levels[0] {
			im.Levels[0][i] = 128
		}
		return im
	}

	lat := extent.Center().Lat()
	dx := geo.Distance(orb.Point{extent.Min.Lon(), lat}, orb.Point{extent.Max.Lon(), lat}) / float64(h.Width-1)
	dy := geo.Distance(orb.Point{extent.Min.Lon(), extent.Min.Lat()}, orb.Point{extent.Min.Lon(), extent.Max.Lat()}) / float64(h.Height-1)
	dx, dy = max(dx, 1e-3), max(dy, 1e-3)

	px := im.Levels[0]
	for y := range h.Height {
		for x := range h.Width {
			east := float64(h.At(x+1, y)-h.At(x-1, y)) / (float64(min(x+1, h.Width-1)-max(x-1, 0)) * dx)
			north := float64(h.At(x, y-1)-h.At(x, y+1)) / (float64(min(y+1, h.Height-1)-max(y-1, 0)) * dy)
			n := mgl32.Vec3{float32(-east), float32(-north), 1}.Normalize()
			o := (y*h.Width + x) * 2
			px[o] = packUnit(n.X())
			px[o+1] = packUnit(n.Y())
		}
	}
	return im
}

func packUnit(v float32) uint8 {
	return uint8(math.Round(float64(v*0.5+0.5) * 255))
}
