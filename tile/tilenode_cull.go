package tile

import (
	"context"
	"math"

	"github.com/gogpu/terrain/config"
	"github.com/gogpu/terrain/internal/jobs"
)

// Traverse culls the tile and, where the view calls for more detail, its
// subtree. Accepted tiles are handed to c.AcceptSurface.
// A released tile is skipped.
func (t *TileNode) Traverse(c Culler) {
	if t.released.Load() {
		return
	}
	t.touch()

	if t.empty.Load() {
		if t.dirty() {
			t.load(c)
		}
		return
	}
	surface := t.surface.Load()
	if surface == nil {
		return
	}
	if c.IsSpy() {
		t.cullSpy(c)
		return
	}
	if !c.IsCulled(surface.Bound()) {
		t.cull(c)
	}
}

func (t *TileNode) cull(c Culler) bool {
	surface := t.surface.Load()
	if !surface.IsVisibleFrom(c.ViewPoint()) {
		return false
	}

	opts := t.ec.Options
	childrenInRange := t.shouldSubdivide(c)
	canCreateChildren := childrenInRange
	canLoadData := t.doNotExpire.Load() ||
		t.key.LOD == t.ec.Selection.FirstLOD() ||
		t.key.LOD >= opts.MinLOD

	if c.ReferenceFrame() == FrameAbsoluteInheritViewpoint {
		canCreateChildren = false
		canLoadData = false
	} else if opts.Progressive {
		if p := t.Parent(); p != nil && p.dirty() && p.nextLoadIsProgressive() {
			canLoadData = false
		}
	}

	acceptSurface := false
	if childrenInRange {
		if t.children.Load() == nil && canCreateChildren {
			t.mu.Lock()
			if t.children.Load() == nil {
				t.createChildren()
				canLoadData = false
			}
			t.mu.Unlock()
		}
		if kids := t.children.Load(); kids != nil {
			for _, k := range kids {
				k.Traverse(c)
			}
		} else {
			acceptSurface = true
		}
	} else {
		acceptSurface = true
	}

	if acceptSurface {
		surface.MarkPassedCull(t.ec.Clock.Frame())
		c.AcceptSurface(t)
	}

	if t.dirty() && canLoadData {
		t.load(c)
	}
	return true
}

// cullSpy draws whatever the real cameras drew in the last frame.
func (t *TileNode) cullSpy(c Culler) {
	frame := t.ec.Clock.Frame()
	last := t.surface.Load().LastFramePassedCull()
	if last > 0 && frame-last < 2 {
		c.AcceptSurface(t)
		return
	}
	if kids := t.children.Load(); kids != nil {
		for _, k := range kids {
			k.Traverse(c)
		}
	}
}

// shouldSubdivide reports whether the view wants the tile's children.
func (t *TileNode) shouldSubdivide(c Culler) bool {
	if t.IsHighestResolution() {
		return false
	}
	surface := t.surface.Load()

	if t.ec.Options.RangeMode == config.RangePixelSize {
		px := -1.0
		if f := t.ec.PixelSizeFunc; f != nil {
			px = f(t, c)
		}
		if px <= 0 {
			px = surface.PixelSize(c)
		}
		return px > t.ec.Options.TilePixelSize
	}

	return surface.AnyChildBoxWithinRange(c, t.ec.Selection.Range(t.subdivideTestKey))
}

// CanSubdivide reports whether the tile may still grow children.
func (t *TileNode) CanSubdivide() bool {
	return !t.IsHighestResolution() && t.children.Load() == nil
}

// Subdivide creates the children outside of a cull pass. It reports
// whether the four children are attached when it returns; asynchronous
// creation finishes on a later call.
func (t *TileNode) Subdivide() bool {
	if t.IsHighestResolution() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.children.Load() != nil {
		return true
	}
	return t.createChildren()
}

// createChildren builds the four children or polls their creation jobs.
// Children are attached only once all four exist. t.mu must be held.
func (t *TileNode) createChildren() bool {
	if t.released.Load() {
		return false
	}
	if t.ec.CreateChildrenSync {
		var kids [4]*TileNode
		for q := range kids {
			child, err := NewTileNode(t.ec.ctx, t.key.Child(q), t, t.ec)
			if err != nil {
				slogger().Warn("tile: child creation failed", "key", t.key.Child(q), "err", err)
				return false
			}
			kids[q] = child
		}
		t.attach(kids)
		return true
	}

	if t.createResults == nil {
		t.createResults = make([]*jobs.Future[*TileNode], 4)
		for q := range t.createResults {
			t.createResults[q] = t.dispatchChild(q)
		}
		t.subdividing.Store(true)
		return false
	}

	ready := 0
	for q, f := range t.createResults {
		if f.IsAbandoned() {
			t.createResults[q] = t.dispatchChild(q)
			continue
		}
		if !f.IsAvailable() {
			continue
		}
		if child, _ := f.Value(); child == nil {
			t.createResults[q] = t.dispatchChild(q)
			continue
		}
		ready++
	}
	if ready < len(t.createResults) {
		return false
	}

	var kids [4]*TileNode
	for q, f := range t.createResults {
		kids[q], _ = f.Value()
	}
	t.createResults = nil
	t.attach(kids)
	return true
}

// dispatchChild starts the creation job of child q. The job finds the
// parent through the live tile registry, so a pruned parent yields nil.
func (t *TileNode) dispatchChild(q int) *jobs.Future[*TileNode] {
	ec := t.ec
	parentKey := t.key
	childKey := t.key.Child(q)
	job := jobs.Job{Name: childKey.String(), Arena: jobs.ArenaCreateChild}
	return jobs.Dispatch(ec.ctx, ec.Jobs, job, func(ctx context.Context) *TileNode {
		parent, ok := ec.Live.Get(parentKey)
		if !ok {
			return nil
		}
		child, err := NewTileNode(ctx, childKey, parent, ec)
		if err != nil {
			return nil
		}
		return child
	})
}

// attach initialises the children from t and publishes them. t.mu must be
// held.
func (t *TileNode) attach(kids [4]*TileNode) {
	for _, k := range kids {
		k.InitializeData()
	}
	t.children.Store(&kids)
	t.subdividing.Store(false)
	for _, k := range kids {
		k.RefreshAllLayers()
	}
}

// load computes the tile's load priority and services its load queue.
func (t *TileNode) load(c Culler) {
	if surface := t.surface.Load(); surface != nil {
		dist := c.DistanceToViewPoint(surface.Bound().Center, true)
		maxRange := t.ec.Selection.LOD(0).VisibilityRange
		prio := float64(t.key.LOD)
		if maxRange > 0 {
			prio += 1 - dist/maxRange
		}
		t.loadPriority.Store(math.Float64bits(prio))
	}
	t.processLoadQueue()
}
