package tile

import (
	"context"
	"errors"

	"github.com/gogpu/terrain/config"
	"github.com/gogpu/terrain/internal/jobs"
	"github.com/gogpu/terrain/texture"
	"github.com/gogpu/terrain/tilekey"
)

// ErrNilContext is returned when a tile is created without an engine
// context.
var ErrNilContext = errors.New("tile: nil engine context")

// EngineContext is the state shared by every tile of one terrain engine.
type EngineContext struct {
	Map       Map
	Options   config.Terrain
	Selection *SelectionInfo
	Live      *LiveTiles
	Merger    *Merger
	Geometry  *GeometryPool
	Bindings  RenderBindings
	Clock     *Clock
	Jobs      *jobs.Arenas

	// Textures receives every texture a tile comes to own. Optional.
	Textures *texture.Arena

	// PixelSizeFunc overrides the projected tile size in pixel-size range
	// mode. A non-positive result falls back to the surface estimate.
	PixelSizeFunc func(t *TileNode, c Culler) float64

	// OnTileUpdate is called when a tile is created and when it receives
	// new elevation.
	OnTileUpdate func(key tilekey.Key, t *TileNode)

	// CreateChildrenSync builds children on the culling goroutine instead
	// of the child creation arena.
	CreateChildrenSync bool

	ctx context.Context
}

// NewEngineContext wires the shared collaborators for m. Clock, Jobs and
// Textures may be replaced before the first tile is created. ctx bounds
// every background job.
func NewEngineContext(ctx context.Context, m Map, opts config.Terrain) *EngineContext {
	if ctx == nil {
		ctx = context.Background()
	}
	var shared []Layer
	for _, l := range m.Layers() {
		if l.Kind() == KindShared {
			shared = append(shared, l)
		}
	}
	return &EngineContext{
		Map:       m,
		Options:   opts,
		Selection: NewSelectionInfo(m.Profile(), opts),
		Live:      NewLiveTiles(opts.NormalizeEdges),
		Merger:    NewMerger(),
		Geometry:  NewGeometryPool(opts.GeometryPoolSize),
		Bindings:  NewRenderBindings(shared...),
		Clock:     NewClock(nil),
		Jobs: jobs.NewArenas(opts.Concurrency, map[string]int{
			jobs.ArenaCreateChild: opts.Concurrency,
			jobs.ArenaLoadTile:    opts.Concurrency,
		}),
		ctx: ctx,
	}
}

// Context returns the context bounding background jobs.
func (c *EngineContext) Context() context.Context { return c.ctx }

func (c *EngineContext) notifyTileUpdate(t *TileNode) {
	if c.OnTileUpdate != nil {
		c.OnTileUpdate(t.key, t)
	}
}
