package tile

import (
	"context"
	"math"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"

	"github.com/gogpu/terrain/config"
)

// runFrames ticks the clock, culls the roots with cam and merges finished
// loads, n times.
func runFrames(ec *EngineContext, cam *Camera, roots []*TileNode, n int) {
	for range n {
		ec.Clock.Tick()
		cam.Reset()
		for _, r := range roots {
			r.Traverse(cam)
		}
		ec.Merger.Run(context.Background(), 0)
	}
}

func geodeticRoots(t *testing.T, ec *EngineContext) []*TileNode {
	t.Helper()
	var roots []*TileNode
	for _, k := range ec.Map.Profile().RootKeys(0) {
		r := newRoot(t, ec, k)
		r.RefreshAllLayers()
		roots = append(roots, r)
	}
	return roots
}

func drawKeys(cam *Camera) []string {
	var keys []string
	for _, n := range cam.DrawList() {
		keys = append(keys, n.Key().String())
	}
	slices.Sort(keys)
	return keys
}

func TestTraverse_RefinesUnderCamera(t *testing.T) {
	m := newMockMap(colorLayer(1, "imagery"))
	ec, _ := newTestContext(t, m, nil)
	ec.CreateChildrenSync = true
	roots := geodeticRoots(t, ec)

	cam := LookAtGeo(45, 90, 100e3, math.Pi/4, 800)
	runFrames(ec, cam, roots, 3)

	target := orb.Point{90.1, 45.1}
	var deepest *TileNode
	for _, n := range cam.DrawList() {
		if n.Key().Extent().Contains(target) {
			deepest = n
		}
	}
	if deepest == nil {
		t.Fatal("no accepted tile under the camera")
	}
	if deepest.Key().LOD != 4 {
		t.Errorf("tile under the camera at LOD %d, want 4", deepest.Key().LOD)
	}

	ec.Live.ForEach(func(n *TileNode) {
		if c := len(n.Children()); c != 0 && c != 4 {
			t.Errorf("%s has %d children", n.Key(), c)
		}
	})
}

func TestTraverse_LoadsAndMerges(t *testing.T) {
	m := newMockMap(colorLayer(1, "imagery"))
	ec, _ := newTestContext(t, m, nil)
	ec.CreateChildrenSync = true
	roots := geodeticRoots(t, ec)
	cam := LookAtGeo(45, 90, 100e3, math.Pi/4, 800)

	waitFor(t, "loads of accepted tiles", func() bool {
		runFrames(ec, cam, roots, 1)
		for _, n := range cam.DrawList() {
			if !n.IsLoaded() {
				return false
			}
		}
		return true
	})
	for _, n := range cam.DrawList() {
		if p := n.RenderModel().Pass(1); p == nil || !p.OwnsTexture() {
			t.Errorf("%s drawn without its own imagery", n.Key())
		}
		if n.LoadPriority() < float64(n.Key().LOD) {
			t.Errorf("%s priority %g below its LOD", n.Key(), n.LoadPriority())
		}
	}
}

// A spy camera sees exactly what the real camera drew.
func TestTraverse_SpyReplaysLastFrame(t *testing.T) {
	ec, _ := newTestContext(t, newMockMap(), nil)
	ec.CreateChildrenSync = true
	roots := geodeticRoots(t, ec)

	cam := LookAtGeo(-20, 30, 500e3, math.Pi/4, 800)
	runFrames(ec, cam, roots, 3)

	spy := LookAtGeo(80, -120, 1e7, math.Pi/4, 800)
	spy.Spy = true
	for _, r := range roots {
		r.Traverse(spy)
	}
	if diff := cmp.Diff(drawKeys(cam), drawKeys(spy)); diff != "" {
		t.Errorf("spy draw list mismatch (-camera +spy):\n%s", diff)
	}
}

func TestTraverse_PixelSizeMode(t *testing.T) {
	ec, _ := newTestContext(t, newMockMap(), func(o *config.Terrain) {
		o.RangeMode = config.RangePixelSize
		o.TilePixelSize = 256
	})
	ec.CreateChildrenSync = true
	ec.PixelSizeFunc = func(n *TileNode, _ Culler) float64 {
		if n.Key().LOD < 2 {
			return 1000
		}
		return 10
	}
	roots := geodeticRoots(t, ec)
	cam := LookAtGeo(0, 0, 1e7, math.Pi/2, 800)
	runFrames(ec, cam, roots, 1)

	if len(cam.DrawList()) == 0 {
		t.Fatal("nothing drawn")
	}
	for _, n := range cam.DrawList() {
		if n.Key().LOD != 2 {
			t.Errorf("%s drawn, want LOD 2 only", n.Key())
		}
	}
}

func TestTraverse_InheritViewpointFreezesTree(t *testing.T) {
	m := newMockMap(colorLayer(1, "imagery"))
	ec, _ := newTestContext(t, m, nil)
	ec.CreateChildrenSync = true
	roots := geodeticRoots(t, ec)

	cam := LookAtGeo(45, 90, 100e3, math.Pi/4, 800)
	cam.Frame = FrameAbsoluteInheritViewpoint
	runFrames(ec, cam, roots, 2)

	for _, r := range roots {
		if r.Children() != nil {
			t.Errorf("%s subdivided under an inherited viewpoint", r.Key())
		}
		if m.loadCount(r.Key()) != 0 || r.LoadsInQueue() != 1 {
			t.Errorf("%s loaded under an inherited viewpoint", r.Key())
		}
	}
}

func TestTraverse_MinLODDefersLoads(t *testing.T) {
	m := newMockMap(colorLayer(1, "imagery"))
	ec, _ := newTestContext(t, m, func(o *config.Terrain) { o.MinLOD = 3 })
	ec.CreateChildrenSync = true
	roots := geodeticRoots(t, ec)

	cam := LookAtGeo(45, 90, 100e3, math.Pi/4, 800)
	runFrames(ec, cam, roots, 2)

	ec.Live.ForEach(func(n *TileNode) {
		lod := n.Key().LOD
		if lod > 0 && lod < 3 && m.loadCount(n.Key()) != 0 {
			t.Errorf("%s loaded below MinLOD", n.Key())
		}
	})
}
