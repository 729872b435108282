// Package tilekey identifies tiles in a quadtree tiling profile.
//
// A Key is an immutable (LOD, X, Y) triple bound to a Profile. Y grows
// southward, so quadrant 0 of a parent is its north-west child.
package tilekey

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// ErrInvalidKey is returned when a key string cannot be parsed.
var ErrInvalidKey = errors.New("tilekey: invalid key")

// Key identifies a single tile.
type Key struct {
	LOD     uint32
	X       uint32
	Y       uint32
	Profile *Profile
}

// Valid reports whether the key lies inside its profile.
func (k Key) Valid() bool {
	if k.Profile == nil {
		return false
	}
	w, h := k.Profile.NumTiles(k.LOD)
	return k.X < w && k.Y < h
}

// String returns "lod/x/y".
func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.LOD, k.X, k.Y)
}

// Quadrant returns the position of the key within its parent:
// 0 upper-left, 1 upper-right, 2 lower-left, 3 lower-right.
func (k Key) Quadrant() int {
	return int(k.X&1) | int(k.Y&1)<<1
}

// Child returns the child key in quadrant q (0..3).
func (k Key) Child(q int) Key {
	return Key{
		LOD:     k.LOD + 1,
		X:       k.X*2 + uint32(q&1),
		Y:       k.Y*2 + uint32(q>>1),
		Profile: k.Profile,
	}
}

// Parent returns the parent key. The parent of a LOD 0 key is invalid.
func (k Key) Parent() Key {
	if k.LOD == 0 {
		return Key{}
	}
	return Key{LOD: k.LOD - 1, X: k.X >> 1, Y: k.Y >> 1, Profile: k.Profile}
}

// Neighbor returns the key offset by (dx, dy) at the same LOD. X wraps around
// the profile; stepping off the top or bottom yields an invalid key.
func (k Key) Neighbor(dx, dy int) Key {
	if k.Profile == nil {
		return Key{}
	}
	w, h := k.Profile.NumTiles(k.LOD)
	x := (int64(k.X) + int64(dx)) % int64(w)
	if x < 0 {
		x += int64(w)
	}
	y := int64(k.Y) + int64(dy)
	if y < 0 || y >= int64(h) {
		return Key{}
	}
	return Key{LOD: k.LOD, X: uint32(x), Y: uint32(y), Profile: k.Profile}
}

// Extent returns the geographic bounds of the tile in degrees.
func (k Key) Extent() orb.Bound {
	if k.Profile == nil {
		return orb.Bound{}
	}
	if !k.Profile.Geodetic && k.Profile.TilesWide0 == 1 && k.Profile.TilesHigh0 == 1 {
		return maptile.New(k.X, k.Y, maptile.Zoom(k.LOD)).Bound()
	}
	p := k.Profile
	w, h := p.NumTiles(k.LOD)
	dx := (p.Extent.Max[0] - p.Extent.Min[0]) / float64(w)
	dy := (p.Extent.Max[1] - p.Extent.Min[1]) / float64(h)
	minX := p.Extent.Min[0] + dx*float64(k.X)
	maxY := p.Extent.Max[1] - dy*float64(k.Y)
	return orb.Bound{
		Min: orb.Point{minX, maxY - dy},
		Max: orb.Point{minX + dx, maxY},
	}
}

// Parse parses a "lod/x/y" string against profile.
func Parse(s string, profile *Profile) (Key, error) {
	var k Key
	if _, err := fmt.Sscanf(s, "%d/%d/%d", &k.LOD, &k.X, &k.Y); err != nil {
		return Key{}, fmt.Errorf("%w %q: %w", ErrInvalidKey, s, err)
	}
	k.Profile = profile
	if !k.Valid() {
		return Key{}, fmt.Errorf("%w %q: outside profile %s", ErrInvalidKey, s, profile.Name)
	}
	return k, nil
}
