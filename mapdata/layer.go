package mapdata

import (
	"bytes"
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/gogpu/terrain/texture"
	"github.com/gogpu/terrain/tile"
	"github.com/gogpu/terrain/tilekey"
)

// Layer is a map layer reading tiles from a Source. Layers are created with
// NewImageLayer, NewElevationLayer or NewLandCoverLayer and receive their
// UID when added to a Map.
type Layer struct {
	uid    tile.UID
	name   string
	kind   tile.LayerKind
	source Source

	// bucket is the layer's name in the source; it defaults to name.
	bucket    string
	minLOD    uint32
	maxLOD    uint32
	extent    orb.Bound
	hasExtent bool
	async     bool
	encoding  HeightEncoding
}

// LayerOption configures a Layer.
type LayerOption func(*Layer)

// WithLODRange limits the levels the layer has data for.
func WithLODRange(minLOD, maxLOD uint32) LayerOption {
	return func(l *Layer) { l.minLOD, l.maxLOD = minLOD, maxLOD }
}

// WithExtent limits the area the layer covers.
func WithExtent(b orb.Bound) LayerOption {
	return func(l *Layer) { l.extent, l.hasExtent = b, true }
}

// WithAsync makes an image layer deliver textures that finish loading after
// they are merged.
func WithAsync(on bool) LayerOption {
	return func(l *Layer) { l.async = on }
}

// WithShared binds an image layer to its own sampler slot instead of a
// rendering pass.
func WithShared(on bool) LayerOption {
	return func(l *Layer) {
		if l.kind == tile.KindColor || l.kind == tile.KindShared {
			l.kind = tile.KindColor
			if on {
				l.kind = tile.KindShared
			}
		}
	}
}

// WithEncoding sets the pixel encoding of elevation tiles.
func WithEncoding(e HeightEncoding) LayerOption {
	return func(l *Layer) { l.encoding = e }
}

// WithBucket reads the layer under a different name in its source.
func WithBucket(name string) LayerOption {
	return func(l *Layer) { l.bucket = name }
}

func newLayer(name string, kind tile.LayerKind, src Source, opts []LayerOption) *Layer {
	l := &Layer{name: name, kind: kind, source: src, bucket: name, maxLOD: 99}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewImageLayer returns a color layer.
func NewImageLayer(name string, src Source, opts ...LayerOption) *Layer {
	return newLayer(name, tile.KindColor, src, opts)
}

// NewElevationLayer returns an elevation layer. Its tiles become R16F
// height textures plus a generated normal map.
func NewElevationLayer(name string, src Source, opts ...LayerOption) *Layer {
	return newLayer(name, tile.KindElevation, src, opts)
}

// NewLandCoverLayer returns a land-cover layer of 8-bit class codes.
func NewLandCoverLayer(name string, src Source, opts ...LayerOption) *Layer {
	return newLayer(name, tile.KindLandCover, src, opts)
}

// UID implements tile.Layer.
func (l *Layer) UID() tile.UID { return l.uid }

// Name implements tile.Layer.
func (l *Layer) Name() string { return l.name }

// Kind implements tile.Layer.
func (l *Layer) Kind() tile.LayerKind { return l.kind }

// Async implements tile.AsyncLayer. Only color layers load asynchronously.
func (l *Layer) Async() bool { return l.async && l.kind == tile.KindColor }

// Source returns the layer's tile source.
func (l *Layer) Source() Source { return l.source }

// Encoding returns the height encoding of an elevation layer.
func (l *Layer) Encoding() HeightEncoding { return l.encoding }

// InRange implements tile.Layer.
func (l *Layer) InRange(key tilekey.Key) bool {
	if key.LOD < l.minLOD || key.LOD > l.maxLOD {
		return false
	}
	return !l.hasExtent || key.Extent().Intersects(l.extent)
}

func (l *Layer) String() string {
	return fmt.Sprintf("%s(%s #%d)", l.name, l.kind, l.uid)
}

// read fetches and decodes one tile.
func (l *Layer) read(ctx context.Context, key tilekey.Key) (*decoded, error) {
	data, err := l.source.ReadTile(ctx, l.bucket, key)
	if err != nil {
		return nil, err
	}
	switch l.kind {
	case tile.KindElevation:
		h, err := DecodeHeights(data, l.encoding)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", l.name, key, err)
		}
		return &decoded{image: h.Image(), normals: h.NormalMap(key.Extent())}, nil
	case tile.KindLandCover:
		im, err := texture.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", l.name, key, err)
		}
		return &decoded{image: firstChannel(im)}, nil
	default:
		im, err := texture.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", l.name, key, err)
		}
		return &decoded{image: im}, nil
	}
}

// decoded is a cached tile. Consumers receive clones because the texture
// arena normalizes images in place.
type decoded struct {
	image   *texture.Image
	normals *texture.Image
}

func (d *decoded) clone() *decoded {
	c := &decoded{image: d.image.Clone()}
	if d.normals != nil {
		c.normals = d.normals.Clone()
	}
	return c
}

// firstChannel reduces an 8-bit image to R8.
func firstChannel(im *texture.Image) *texture.Image {
	if im.Format == texture.FormatR8 {
		return im
	}
	out := texture.NewImage(im.Width, im.Height, 1, texture.FormatR8)
	stride := im.Format.BytesPerPixel()
	src := im.Layer(0, 0)
	for i := range out.Levels[0] {
		out.Levels[0][i] = src[i*stride]
	}
	return out
}
