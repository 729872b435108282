package tile

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/x448/float16"

	"github.com/gogpu/terrain/texture"
	"github.com/gogpu/terrain/tilekey"
)

// ecef converts geographic degrees and a height in meters to earth-centered
// coordinates on a spherical earth.
func ecef(lat, lon, height float64) mgl64.Vec3 {
	p := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	return mgl64.Vec3{p.X, p.Y, p.Z}.Mul(orb.EarthRadius + height)
}

// BoundingSphere is a sphere in earth-centered coordinates.
type BoundingSphere struct {
	Center mgl64.Vec3
	Radius float64
}

// Valid reports whether the sphere has been computed.
func (b BoundingSphere) Valid() bool { return b.Radius > 0 }

func boundExtent(ext orb.Bound, minH, maxH float64) BoundingSphere {
	var pts []mgl64.Vec3
	for _, h := range []float64{minH, maxH} {
		for i := range 3 {
			lat := ext.Min.Lat() + float64(i)*(ext.Max.Lat()-ext.Min.Lat())/2
			for j := range 3 {
				lon := ext.Min.Lon() + float64(j)*(ext.Max.Lon()-ext.Min.Lon())/2
				pts = append(pts, ecef(lat, lon, h))
			}
		}
	}
	var c mgl64.Vec3
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))
	r := 0.0
	for _, p := range pts {
		r = max(r, p.Sub(c).Len())
	}
	return BoundingSphere{Center: c, Radius: r}
}

// SurfaceNode holds the spatial bounds of a tile: its bounding sphere, the
// spheres of its four would-be children and the angular region used for
// horizon culling. Elevation rasters widen the bounds to the height range
// of the tile.
type SurfaceNode struct {
	key tilekey.Key

	mu        sync.RWMutex
	bound     BoundingSphere
	children  [4]BoundingSphere
	region    s2.Cap
	minHeight float64
	maxHeight float64

	lastFramePassedCull atomic.Uint64
}

// NewSurfaceNode computes the bounds of key at sea level.
func NewSurfaceNode(key tilekey.Key) *SurfaceNode {
	ext := key.Extent()
	rect := s2.Rect{
		Lat: r1.Interval{Lo: ext.Min.Lat() * math.Pi / 180, Hi: ext.Max.Lat() * math.Pi / 180},
		Lng: s1.IntervalFromEndpoints(ext.Min.Lon()*math.Pi/180, ext.Max.Lon()*math.Pi/180),
	}
	s := &SurfaceNode{key: key, region: rect.CapBound()}
	s.computeBounds()
	return s
}

func (s *SurfaceNode) computeBounds() {
	s.bound = boundExtent(s.key.Extent(), s.minHeight, s.maxHeight)
	for q := range 4 {
		s.children[q] = boundExtent(s.key.Child(q).Extent(), s.minHeight, s.maxHeight)
	}
}

// Bound returns the bounding sphere of the tile.
func (s *SurfaceNode) Bound() BoundingSphere {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound
}

// ChildBound returns the bounding sphere of quadrant q.
func (s *SurfaceNode) ChildBound(q int) BoundingSphere {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.children[q&3]
}

// HeightRange returns the elevation range the bounds were computed for.
func (s *SurfaceNode) HeightRange() (lo, hi float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minHeight, s.maxHeight
}

// SetElevationRaster recomputes the bounds from the heights of an R16F
// raster, restricted to the window selected by the scale/bias matrix m.
// Rasters in other formats reset the bounds to sea level.
func (s *SurfaceNode) SetElevationRaster(im *texture.Image, m mgl32.Mat4) {
	lo, hi := 0.0, 0.0
	if im.Valid() && im.Format == texture.FormatR16F {
		lo, hi = rasterRange(im, identityIfZero(m))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if lo == s.minHeight && hi == s.maxHeight {
		return
	}
	s.minHeight, s.maxHeight = lo, hi
	s.computeBounds()
}

func rasterRange(im *texture.Image, m mgl32.Mat4) (lo, hi float64) {
	su, sv := float64(m[0]), float64(m[5])
	bu, bv := float64(m[12]), float64(m[13])
	w, h := float64(im.Width), float64(im.Height)

	x0 := clampInt(int(math.Floor(bu*w)), 0, im.Width-1)
	x1 := clampInt(int(math.Ceil((bu+su)*w))-1, x0, im.Width-1)
	// Row 0 is the northern edge, v = 1.
	y0 := clampInt(int(math.Floor((1-bv-sv)*h)), 0, im.Height-1)
	y1 := clampInt(int(math.Ceil((1-bv)*h))-1, y0, im.Height-1)

	pix := im.Levels[0]
	lo, hi = math.Inf(1), math.Inf(-1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			o := (y*im.Width + x) * 2
			v := float64(float16.Frombits(binary.LittleEndian.Uint16(pix[o:])).Float32())
			if math.IsNaN(v) {
				continue
			}
			lo, hi = min(lo, v), max(hi, v)
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// IsVisibleFrom reports whether any part of the tile, raised to its
// maximum height, can rise above the horizon seen from eye.
func (s *SurfaceNode) IsVisibleFrom(eye mgl64.Vec3) bool {
	const r = orb.EarthRadius
	d := eye.Len()
	if d <= r {
		return true
	}
	s.mu.RLock()
	hmax := max(s.maxHeight, 0)
	region := s.region
	s.mu.RUnlock()

	angle := math.Acos(r/d) + math.Acos(r/(r+hmax))
	horizon := s2.CapFromCenterAngle(s2.PointFromCoords(eye[0], eye[1], eye[2]), s1.Angle(angle))
	return horizon.Intersects(region)
}

// AnyChildBoxWithinRange reports whether some child sphere comes within
// rng of the view point.
func (s *SurfaceNode) AnyChildBoxWithinRange(c Culler, rng float64) bool {
	s.mu.RLock()
	children := s.children
	s.mu.RUnlock()
	for _, b := range children {
		if c.DistanceToViewPoint(b.Center, true)-b.Radius <= rng {
			return true
		}
	}
	return false
}

// PixelSize returns the projected diameter of the tile in pixels.
func (s *SurfaceNode) PixelSize(c Culler) float64 {
	b := s.Bound()
	return c.PixelSizeOnScreen(b.Center, b.Radius)
}

// MarkPassedCull records the frame in which the surface was accepted.
func (s *SurfaceNode) MarkPassedCull(frame uint64) { s.lastFramePassedCull.Store(frame) }

// LastFramePassedCull returns the last frame the surface was accepted.
func (s *SurfaceNode) LastFramePassedCull() uint64 { return s.lastFramePassedCull.Load() }
