package tilekey

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Profile describes the tiling scheme of a map: its geographic extent and the
// number of tiles that cover it at LOD 0. Every further LOD doubles both.
type Profile struct {
	Name       string
	Extent     orb.Bound
	TilesWide0 uint32
	TilesHigh0 uint32
	// Geodetic reports whether tile extents are in degrees of longitude and
	// latitude. Mercator extents are still given in degrees but rows are not
	// evenly spaced in latitude.
	Geodetic bool
}

// GlobalGeodetic is the WGS84 plate carrée profile: two tiles at LOD 0.
var GlobalGeodetic = &Profile{
	Name:       "global-geodetic",
	Extent:     orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}},
	TilesWide0: 2,
	TilesHigh0: 1,
	Geodetic:   true,
}

// SphericalMercator is the web mercator profile: one tile at LOD 0.
var SphericalMercator = &Profile{
	Name:       "spherical-mercator",
	Extent:     maptile.New(0, 0, 0).Bound(),
	TilesWide0: 1,
	TilesHigh0: 1,
}

// NumTiles returns the number of tiles in each direction at lod.
func (p *Profile) NumTiles(lod uint32) (wide, high uint32) {
	return p.TilesWide0 << lod, p.TilesHigh0 << lod
}

// RootKeys returns every key of the profile at lod.
func (p *Profile) RootKeys(lod uint32) []Key {
	w, h := p.NumTiles(lod)
	keys := make([]Key, 0, int(w*h))
	for y := uint32(0); y < h; y++ {
		for x := uint32(0); x < w; x++ {
			keys = append(keys, Key{LOD: lod, X: x, Y: y, Profile: p})
		}
	}
	return keys
}

// KeyAt returns the key containing the geographic point at lod.
func (p *Profile) KeyAt(pt orb.Point, lod uint32) (Key, bool) {
	if !p.Extent.Contains(pt) {
		return Key{}, false
	}
	if !p.Geodetic {
		t := maptile.At(pt, maptile.Zoom(lod))
		return Key{LOD: lod, X: t.X, Y: t.Y, Profile: p}, true
	}
	w, h := p.NumTiles(lod)
	dx := (p.Extent.Max[0] - p.Extent.Min[0]) / float64(w)
	dy := (p.Extent.Max[1] - p.Extent.Min[1]) / float64(h)
	x := uint32((pt[0] - p.Extent.Min[0]) / dx)
	y := uint32((p.Extent.Max[1] - pt[1]) / dy)
	x = min(x, w-1)
	y = min(y, h-1)
	return Key{LOD: lod, X: x, Y: y, Profile: p}, true
}
