package tile

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// ReferenceFrame is the reference frame of the culling camera.
type ReferenceFrame int

// Reference frames.
const (
	FrameRelative ReferenceFrame = iota
	FrameAbsolute
	// FrameAbsoluteInheritViewpoint cameras borrow another camera's LOD
	// selection (shadow or reflection passes). They never create or load
	// tiles.
	FrameAbsoluteInheritViewpoint
)

// Culler is the per-frame visitor a tile tree is culled against.
type Culler interface {
	// IsCulled reports whether b is outside the view.
	IsCulled(b BoundingSphere) bool
	ViewPoint() mgl64.Vec3
	// DistanceToViewPoint returns the distance from p to the view point,
	// divided into LOD units when useLODScale is set.
	DistanceToViewPoint(p mgl64.Vec3, useLODScale bool) float64
	LODScale() float64
	ReferenceFrame() ReferenceFrame
	// PixelSizeOnScreen returns the projected diameter of a sphere.
	PixelSizeOnScreen(center mgl64.Vec3, radius float64) float64
	// IsSpy reports whether the visitor only replays what other cameras
	// culled recently.
	IsSpy() bool
	// AcceptSurface adds a tile to the draw list.
	AcceptSurface(t *TileNode)
}

// Camera is a perspective Culler. Visibility is a cone test around the
// view direction.
type Camera struct {
	Eye            mgl64.Vec3
	Forward        mgl64.Vec3
	FovY           float64 // radians
	ViewportHeight float64 // pixels
	Scale          float64 // LOD scale; 0 means 1
	Frame          ReferenceFrame
	Spy            bool

	mu       sync.Mutex
	accepted []*TileNode
}

// NewCamera returns a camera at eye looking at target.
func NewCamera(eye, target mgl64.Vec3, fovY, viewportHeight float64) *Camera {
	return &Camera{
		Eye:            eye,
		Forward:        target.Sub(eye).Normalize(),
		FovY:           fovY,
		ViewportHeight: viewportHeight,
	}
}

// LookAtGeo returns a camera height meters above (lat, lon) looking straight
// down.
func LookAtGeo(lat, lon, height, fovY, viewportHeight float64) *Camera {
	return NewCamera(ecef(lat, lon, height), mgl64.Vec3{}, fovY, viewportHeight)
}

// IsCulled implements Culler.
func (c *Camera) IsCulled(b BoundingSphere) bool {
	if !b.Valid() {
		return true
	}
	to := b.Center.Sub(c.Eye)
	d := to.Len()
	if d <= b.Radius {
		return false
	}
	angle := math.Acos(mgl64.Clamp(to.Dot(c.Forward)/d, -1, 1))
	return angle > c.FovY*0.75+math.Asin(b.Radius/d)
}

// ViewPoint implements Culler.
func (c *Camera) ViewPoint() mgl64.Vec3 { return c.Eye }

// DistanceToViewPoint implements Culler.
func (c *Camera) DistanceToViewPoint(p mgl64.Vec3, useLODScale bool) float64 {
	d := p.Sub(c.Eye).Len()
	if useLODScale {
		d *= c.LODScale()
	}
	return d
}

// LODScale implements Culler.
func (c *Camera) LODScale() float64 {
	if c.Scale <= 0 {
		return 1
	}
	return c.Scale
}

// ReferenceFrame implements Culler.
func (c *Camera) ReferenceFrame() ReferenceFrame { return c.Frame }

// PixelSizeOnScreen implements Culler.
func (c *Camera) PixelSizeOnScreen(center mgl64.Vec3, radius float64) float64 {
	d := center.Sub(c.Eye).Len()
	if d <= radius {
		return math.Inf(1)
	}
	return 2 * radius / (d * math.Tan(c.FovY/2)) * c.ViewportHeight / 2
}

// IsSpy implements Culler.
func (c *Camera) IsSpy() bool { return c.Spy }

// AcceptSurface implements Culler.
func (c *Camera) AcceptSurface(t *TileNode) {
	c.mu.Lock()
	c.accepted = append(c.accepted, t)
	c.mu.Unlock()
}

// DrawList returns the tiles accepted since the last Reset.
func (c *Camera) DrawList() []*TileNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*TileNode(nil), c.accepted...)
}

// Reset clears the draw list for a new frame.
func (c *Camera) Reset() {
	c.mu.Lock()
	c.accepted = c.accepted[:0]
	c.mu.Unlock()
}
