package tile

import (
	"context"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/paulmach/orb"

	"github.com/gogpu/terrain/texture"
	"github.com/gogpu/terrain/tilekey"
)

// UID identifies a map layer.
type UID int32

// LayerKind is the data category of a layer.
type LayerKind int

// Layer kinds.
const (
	KindColor LayerKind = iota
	KindElevation
	KindLandCover
	KindShared
)

func (k LayerKind) String() string {
	switch k {
	case KindColor:
		return "color"
	case KindElevation:
		return "elevation"
	case KindLandCover:
		return "landcover"
	case KindShared:
		return "shared"
	}
	return "unknown"
}

// Layer is the part of a map layer the tile engine needs.
type Layer interface {
	UID() UID
	Name() string
	Kind() LayerKind
	// InRange reports whether the layer has data at key's LOD and extent.
	InRange(key tilekey.Key) bool
}

// AsyncLayer is implemented by color layers whose textures finish loading
// after the merge that installs them.
type AsyncLayer interface {
	Layer
	Async() bool
}

func isAsync(l Layer) bool {
	a, ok := l.(AsyncLayer)
	return ok && a.Async()
}

// Manifest lists the layers a load should fetch. A manifest naming no
// layers requests all of them.
type Manifest struct {
	Layers      []UID
	Elevation   bool
	LandCover   bool
	Constraints bool

	// Progressive overrides the engine's progressive setting for this load.
	Progressive *bool
}

// Empty reports whether the manifest requests every layer.
func (m Manifest) Empty() bool {
	return len(m.Layers) == 0 && !m.Elevation && !m.LandCover
}

// Includes reports whether layer uid is requested.
func (m Manifest) Includes(uid UID) bool {
	return m.Empty() || slices.Contains(m.Layers, uid)
}

// IncludesElevation reports whether elevation is requested.
func (m Manifest) IncludesElevation() bool { return m.Empty() || m.Elevation }

// IncludesLandCover reports whether land cover is requested.
func (m Manifest) IncludesLandCover() bool { return m.Empty() || m.LandCover }

// IncludesConstraints reports whether geometry constraints are requested.
// Constraints are never implied by an empty manifest.
func (m Manifest) IncludesConstraints() bool { return m.Constraints }

// ManifestFor returns a manifest requesting exactly the given layers.
func ManifestFor(layers ...Layer) Manifest {
	var m Manifest
	for _, l := range layers {
		switch l.Kind() {
		case KindElevation:
			m.Elevation = true
		case KindLandCover:
			m.LandCover = true
		}
		m.Layers = append(m.Layers, l.UID())
	}
	return m
}

// LayerData is the payload of one layer for one tile.
type LayerData struct {
	Layer    Layer
	Texture  *texture.Texture
	Matrix   mgl32.Mat4
	Revision uint64
}

// ElevationData is the elevation payload. Texture holds R16F heights.
type ElevationData struct {
	LayerData
	NormalMap *texture.Texture
}

// TileData is what a Map returns for one key.
type TileData struct {
	Key       tilekey.Key
	Color     []LayerData
	Elevation *ElevationData
	LandCover *LayerData
	Shared    []LayerData
}

// ColorLayer returns the color data for uid.
func (d *TileData) ColorLayer(uid UID) *LayerData {
	for i := range d.Color {
		if d.Color[i].Layer.UID() == uid {
			return &d.Color[i]
		}
	}
	return nil
}

// SharedLayer returns the shared data for uid.
func (d *TileData) SharedLayer(uid UID) *LayerData {
	for i := range d.Shared {
		if d.Shared[i].Layer.UID() == uid {
			return &d.Shared[i]
		}
	}
	return nil
}

// Map supplies layer data to the engine.
type Map interface {
	Profile() *tilekey.Profile
	// Extent bounds the map's data. Tiles entirely outside it are empty.
	Extent() orb.Bound
	Layers() []Layer
	// CreateTileModel loads the layers named by manifest for key. It
	// returns a nil model when ctx is cancelled.
	CreateTileModel(ctx context.Context, key tilekey.Key, manifest Manifest) (*TileData, error)
}

// ConstraintSource is implemented by maps that cut holes in the terrain
// mesh, e.g. for building footprints or water bodies.
type ConstraintSource interface {
	Constraints(ctx context.Context, key tilekey.Key) (orb.MultiPolygon, error)
}
