package tile

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/paulmach/orb"
	"github.com/x448/float16"

	"github.com/gogpu/terrain/config"
	"github.com/gogpu/terrain/texture"
	"github.com/gogpu/terrain/tilekey"
)

// =============================================================================
// Layers
// =============================================================================

type mockLayer struct {
	uid    UID
	name   string
	kind   LayerKind
	async  bool
	minLOD uint32
	maxLOD uint32
}

func colorLayer(uid UID, name string) *mockLayer {
	return &mockLayer{uid: uid, name: name, kind: KindColor, maxLOD: 99}
}

func (l *mockLayer) UID() UID        { return l.uid }
func (l *mockLayer) Name() string    { return l.name }
func (l *mockLayer) Kind() LayerKind { return l.kind }
func (l *mockLayer) Async() bool     { return l.async }
func (l *mockLayer) InRange(key tilekey.Key) bool {
	return key.LOD >= l.minLOD && key.LOD <= l.maxLOD
}

// =============================================================================
// Map
// =============================================================================

// mockMap serves one RGBA texture per color layer, and R16F elevation with
// an RG8 normal map when elevation is set.
type mockMap struct {
	layers    []Layer
	elevation bool
	normals   func(key tilekey.Key) *texture.Image

	mu    sync.Mutex
	loads map[tilekey.Key]int
	block map[tilekey.Key]chan struct{}
	fail  error
}

func newMockMap(layers ...Layer) *mockMap {
	return &mockMap{
		layers: layers,
		loads:  make(map[tilekey.Key]int),
		block:  make(map[tilekey.Key]chan struct{}),
	}
}

func (m *mockMap) Profile() *tilekey.Profile { return tilekey.GlobalGeodetic }
func (m *mockMap) Extent() orb.Bound         { return tilekey.GlobalGeodetic.Extent }
func (m *mockMap) Layers() []Layer           { return m.layers }

func (m *mockMap) CreateTileModel(ctx context.Context, key tilekey.Key, manifest Manifest) (*TileData, error) {
	m.mu.Lock()
	m.loads[key]++
	fail := m.fail
	m.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	data := &TileData{Key: key}
	for _, l := range m.layers {
		if l.Kind() != KindColor || !l.InRange(key) || !manifest.Includes(l.UID()) {
			continue
		}
		data.Color = append(data.Color, LayerData{
			Layer:   l,
			Texture: texture.New(fmt.Sprintf("%s/%s", l.Name(), key), texture.NewImage(4, 4, 1, texture.FormatRGBA8)),
		})
	}
	if m.elevation && manifest.IncludesElevation() {
		e := &ElevationData{LayerData: LayerData{
			Texture: texture.New("elevation/"+key.String(), heightImage(4, 4, 100)),
		}}
		if m.normals != nil {
			e.NormalMap = texture.New("normals/"+key.String(), m.normals(key))
		}
		data.Elevation = e
	}
	return data, nil
}

// Constraints blocks the keys registered with blockKey until they are
// released or ctx ends.
func (m *mockMap) Constraints(ctx context.Context, key tilekey.Key) (orb.MultiPolygon, error) {
	m.mu.Lock()
	ch := m.block[key]
	m.mu.Unlock()
	if ch == nil {
		return nil, nil
	}
	select {
	case <-ch:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *mockMap) blockKey(key tilekey.Key) chan struct{} {
	ch := make(chan struct{})
	m.mu.Lock()
	m.block[key] = ch
	m.mu.Unlock()
	return ch
}

func (m *mockMap) loadCount(key tilekey.Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads[key]
}

// heightImage returns a w×h R16F raster of constant height.
func heightImage(w, h int, height float32) *texture.Image {
	im := texture.NewImage(w, h, 1, texture.FormatR16F)
	bits := float16.Fromfloat32(height).Bits()
	for i := 0; i < w*h; i++ {
		binary.LittleEndian.PutUint16(im.Levels[0][i*2:], bits)
	}
	return im
}

// filledImage returns an RG8 image with every texel set to v.
func filledImage(w, h int, v byte) *texture.Image {
	im := texture.NewImage(w, h, 1, texture.FormatRG8)
	for i := range im.Levels[0] {
		im.Levels[0][i] = v
	}
	return im
}

// =============================================================================
// Engine context
// =============================================================================

func testOptions() config.Terrain {
	o := config.Default()
	o.TileSize = 5
	o.MaxLOD = 4
	o.GeometryPoolSize = 64
	o.Concurrency = 2
	return o
}

// newTestContext builds an engine context on a mock clock.
func newTestContext(t *testing.T, m Map, mutate func(*config.Terrain)) (*EngineContext, *clock.Mock) {
	t.Helper()
	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	ec := NewEngineContext(context.Background(), m, opts)
	mock := clock.NewMock()
	ec.Clock = NewClock(mock)
	t.Cleanup(ec.Jobs.Close)
	return ec, mock
}

func key(lod, x, y uint32) tilekey.Key {
	return tilekey.Key{LOD: lod, X: x, Y: y, Profile: tilekey.GlobalGeodetic}
}

// newRoot creates and registers a tile without a parent.
func newRoot(t *testing.T, ec *EngineContext, k tilekey.Key) *TileNode {
	t.Helper()
	n, err := NewTileNode(context.Background(), k, nil, ec)
	if err != nil {
		t.Fatalf("NewTileNode(%s): %v", k, err)
	}
	n.InitializeData()
	return n
}

// waitFor polls cond until it holds or five seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// mergeAll loads every layer of n synchronously.
func mergeAll(t *testing.T, n *TileNode) {
	t.Helper()
	n.LoadSync()
	if !n.IsLoaded() {
		t.Fatalf("%s not loaded after LoadSync", n.Key())
	}
}
