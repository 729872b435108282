package tile

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/terrain/internal/jobs"
	"github.com/gogpu/terrain/tilekey"
)

// minMinExpiryFrames is the floor on the dormancy frame threshold.
const minMinExpiryFrames = 3

// State is the lifecycle state of a tile as seen by the cull pass.
type State int

// Tile states.
const (
	StateEmpty State = iota
	StateLeaf
	StateSubdividing
	StateChildrenReady
	StateDormant
)

var stateNames = [...]string{"empty", "leaf", "subdividing", "children-ready", "dormant"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// TileNode is one tile of the terrain quadtree.
//
// A tile has either no children or exactly four. It holds a strong
// reference to its children and a weak one to its parent. Cull, load and
// merge may run on different goroutines; when both a parent's and a
// child's render model must be locked, the parent is locked first.
type TileNode struct {
	key              tilekey.Key
	ec               *EngineContext
	parent           weak.Pointer[TileNode]
	subdivideTestKey tilekey.Key
	morphConstants   mgl32.Vec2

	// mu serialises child creation and removal.
	mu            sync.Mutex
	createResults []*jobs.Future[*TileNode]
	children      atomic.Pointer[[4]*TileNode]
	subdividing   atomic.Bool

	modelMu  sync.RWMutex
	model    *RenderModel
	geometry atomic.Pointer[SharedGeometry]
	surface  atomic.Pointer[SurfaceNode]
	empty    atomic.Bool

	loadMu       sync.Mutex
	loadQueue    []*LoadTileDataOperation
	nextManifest *Manifest
	loadsInQueue atomic.Int32
	loadPriority atomic.Uint64

	neighborMu sync.Mutex
	east       weak.Pointer[TileNode]
	south      weak.Pointer[TileNode]

	lastTraversalFrame atomic.Uint64
	lastTraversalTime  atomic.Int64
	revision           atomic.Uint64
	merged             atomic.Bool
	doNotExpire        atomic.Bool
	imageUpdatesActive atomic.Bool
	released           atomic.Bool
}

// NewTileNode creates the tile at key below parent, which is nil for a
// root. The tile gets its geometry and bounds but no texture data; call
// InitializeData to inherit from the parent and register the tile. A
// cancelled ctx yields a nil tile and ctx's error.
func NewTileNode(ctx context.Context, key tilekey.Key, parent *TileNode, ec *EngineContext) (*TileNode, error) {
	if ec == nil {
		return nil, ErrNilContext
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := &TileNode{
		key:   key,
		ec:    ec,
		model: NewRenderModel(ec.Bindings),
	}
	if parent != nil {
		t.parent = weak.Make(parent)
	}

	_, high := key.Profile.NumTiles(key.LOD)
	if key.Y <= high/2 {
		t.subdivideTestKey = key.Child(0)
	} else {
		t.subdivideTestKey = key.Child(3)
	}

	start, end := ec.Selection.MorphConstants(key)
	t.morphConstants = mgl32.Vec2{start, end}

	t.CreateGeometry(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// Key returns the tile key.
func (t *TileNode) Key() tilekey.Key { return t.key }

// Parent returns the parent tile, or nil for a root or a pruned parent.
func (t *TileNode) Parent() *TileNode { return t.parent.Value() }

// Children returns the four children, or nil.
func (t *TileNode) Children() []*TileNode {
	kids := t.children.Load()
	if kids == nil {
		return nil
	}
	return kids[:]
}

// Child returns child q, or nil.
func (t *TileNode) Child(q int) *TileNode {
	kids := t.children.Load()
	if kids == nil {
		return nil
	}
	return kids[q&3]
}

// SubdivideTestKey returns the child key whose range decides subdivision in
// distance mode. It is the child nearest the equator.
func (t *TileNode) SubdivideTestKey() tilekey.Key { return t.subdivideTestKey }

// TileKeyValue returns the shader tile key: x and y (flipped to grow
// northward) modulo 65536, the LOD, and the bounding diameter.
func (t *TileNode) TileKeyValue() mgl32.Vec4 {
	_, high := t.key.Profile.NumTiles(t.key.LOD)
	v := mgl32.Vec4{
		float32(t.key.X % 65536),
		float32((high - t.key.Y - 1) % 65536),
		float32(t.key.LOD),
		-1,
	}
	if s := t.surface.Load(); s != nil {
		v[3] = float32(2 * s.Bound().Radius)
	}
	return v
}

// MorphConstants returns end/(end-start) and 1/(end-start) of the tile's
// LOD morph band.
func (t *TileNode) MorphConstants() mgl32.Vec2 { return t.morphConstants }

// Revision returns a counter bumped on every change to the render model.
func (t *TileNode) Revision() uint64 { return t.revision.Load() }

// IsEmpty reports whether the tile has no geometry.
func (t *TileNode) IsEmpty() bool { return t.empty.Load() }

// IsLoaded reports whether at least one load has been merged.
func (t *TileNode) IsLoaded() bool { return t.merged.Load() }

// IsHighestResolution reports whether the tile sits at the deepest LOD.
func (t *TileNode) IsHighestResolution() bool {
	return t.key.LOD+1 >= t.ec.Selection.NumLODs()
}

// Surface returns the tile's bounds and culling state.
func (t *TileNode) Surface() *SurfaceNode { return t.surface.Load() }

// Geometry returns the tile mesh.
func (t *TileNode) Geometry() *SharedGeometry { return t.geometry.Load() }

// RenderModel returns a snapshot of the tile's samplers.
func (t *TileNode) RenderModel() *RenderModel {
	t.modelMu.RLock()
	defer t.modelMu.RUnlock()
	return t.model.Clone()
}

// LoadPriority returns the priority computed by the last cull that asked
// for a load. Higher loads first.
func (t *TileNode) LoadPriority() float64 {
	return math.Float64frombits(t.loadPriority.Load())
}

// LastTraversalFrame returns the frame the tile was last culled in.
func (t *TileNode) LastTraversalFrame() uint64 { return t.lastTraversalFrame.Load() }

// DoNotExpire reports whether the tile is exempt from expiry.
func (t *TileNode) DoNotExpire() bool { return t.doNotExpire.Load() }

// SetDoNotExpire exempts the tile from expiry. Such tiles also load data
// regardless of MinLOD.
func (t *TileNode) SetDoNotExpire(v bool) { t.doNotExpire.Store(v) }

// AutoUnload reports whether the tile may be pruned when dormant.
func (t *TileNode) AutoUnload() bool { return !t.doNotExpire.Load() }

// SetAutoUnload is the inverse of SetDoNotExpire.
func (t *TileNode) SetAutoUnload(v bool) { t.doNotExpire.Store(!v) }

// State returns the tile's lifecycle state.
func (t *TileNode) State() State {
	switch {
	case t.empty.Load():
		return StateEmpty
	case t.IsDormant():
		return StateDormant
	case t.children.Load() != nil:
		return StateChildrenReady
	case t.subdividing.Load():
		return StateSubdividing
	}
	return StateLeaf
}

// IsDormant reports whether the tile has gone untraversed for more than
// max(MinExpiryFrames, 3) frames and more than MinExpiryTime.
func (t *TileNode) IsDormant() bool {
	if t.doNotExpire.Load() {
		return false
	}
	frame := t.ec.Clock.Frame()
	last := t.lastTraversalFrame.Load()
	if frame <= last {
		return false
	}
	idle := t.ec.Clock.Elapsed() - time.Duration(t.lastTraversalTime.Load())
	return frame-last > max(t.ec.Options.MinExpiryFrames, minMinExpiryFrames) &&
		idle > t.ec.Options.MinExpiryTime
}

// AreSubTilesDormant reports whether the tile has four children and all of
// them are dormant.
func (t *TileNode) AreSubTilesDormant() bool {
	kids := t.children.Load()
	if kids == nil {
		return false
	}
	for _, c := range kids {
		if c == nil || !c.IsDormant() {
			return false
		}
	}
	return true
}

// AreSiblingsDormant reports whether the parent's children are all dormant.
// A root has no siblings and reports true.
func (t *TileNode) AreSiblingsDormant() bool {
	if p := t.Parent(); p != nil {
		return p.AreSubTilesDormant()
	}
	return true
}

// touch records a traversal in the current frame.
func (t *TileNode) touch() {
	t.ec.Live.Update(t, t.ec.Clock.Frame())
	t.lastTraversalTime.Store(int64(t.ec.Clock.Elapsed()))
}
