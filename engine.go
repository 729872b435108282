package terrain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"

	"github.com/gogpu/terrain/texture"
	"github.com/gogpu/terrain/tile"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("terrain: engine closed")

// Engine drives one terrain: a forest of root tiles over a map, refined
// every frame by a cull pass and fed by background loads.
//
// A frame is Cull on the cull goroutine, then Update, then Apply once per
// GPU context on that context's render goroutine. Expire may run from any
// goroutine; it never overlaps a cull pass.
type Engine struct {
	ec      *tile.EngineContext
	opts    engineOptions
	roots   []*tile.TileNode
	cancel  context.CancelFunc
	ownJobs bool

	// cullMu serializes cull passes and pruning; tiles are traversed by
	// one visitor at a time and never while a subtree is being removed.
	cullMu sync.Mutex
	closed atomic.Bool
	pruned atomic.Uint64
}

// New creates an engine over m and its root tiles at Options.FirstLOD. The
// roots never expire and request their first load immediately. ctx bounds
// every background job.
func New(ctx context.Context, m tile.Map, opts ...Option) (*Engine, error) {
	if m == nil {
		return nil, errors.New("terrain: nil map")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.terrain.Validate(); err != nil {
		return nil, err
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	ctx, cancel := context.WithCancel(ctx)
	ec := tile.NewEngineContext(ctx, m, o.terrain)
	ec.CreateChildrenSync = o.syncChildren
	ec.PixelSizeFunc = o.pixelSize
	ec.OnTileUpdate = o.onTileUpdate
	if o.clock != nil {
		ec.Clock = tile.NewClock(o.clock)
	}
	ownJobs := o.arenas == nil
	if !ownJobs {
		ec.Jobs = o.arenas
	}
	if o.arena == nil {
		o.arena = texture.NewArena(texture.WithCompression(o.terrain.CompressTextures))
	}
	ec.Textures = o.arena

	e := &Engine{ec: ec, opts: o, cancel: cancel, ownJobs: ownJobs}
	for _, k := range m.Profile().RootKeys(o.terrain.FirstLOD) {
		root, err := tile.NewTileNode(ctx, k, nil, ec)
		if err != nil {
			cancel()
			if ownJobs {
				ec.Jobs.Close()
			}
			return nil, fmt.Errorf("terrain: root %s: %w", k, err)
		}
		root.SetDoNotExpire(true)
		root.InitializeData()
		root.RefreshAllLayers()
		e.roots = append(e.roots, root)
	}

	Logger().Info("terrain: engine created",
		"profile", m.Profile().Name,
		"roots", len(e.roots),
		"layers", len(m.Layers()),
		"maxLOD", o.terrain.MaxLOD)
	return e, nil
}

// Context returns the state shared by the engine's tiles.
func (e *Engine) Context() *tile.EngineContext { return e.ec }

// Roots returns the root tiles.
func (e *Engine) Roots() []*tile.TileNode { return e.roots }

// Textures returns the arena holding every tile texture.
func (e *Engine) Textures() *texture.Arena { return e.ec.Textures }

// Cull starts a frame and traverses every root with c. It returns the new
// frame number, or 0 once the engine is closed.
func (e *Engine) Cull(c tile.Culler) uint64 {
	if e.closed.Load() {
		return 0
	}
	e.cullMu.Lock()
	defer e.cullMu.Unlock()

	frame := e.ec.Clock.Tick()
	for _, r := range e.roots {
		r.Traverse(c)
	}
	return frame
}

// Update advances asynchronous textures on every live tile and merges
// completed loads, at most MergesPerFrame of them. It returns the number
// of merges.
func (e *Engine) Update(ctx context.Context) int {
	if e.closed.Load() {
		return 0
	}
	e.ec.Live.ForEach(func(t *tile.TileNode) { t.Update() })
	return e.ec.Merger.Run(ctx, e.opts.terrain.MergesPerFrame)
}

// Apply brings the texture arena up to date on one GPU context and, when
// the state has an incremental compiler, spends the compile budget.
func (e *Engine) Apply(state *texture.State) error {
	if e.closed.Load() {
		return ErrClosed
	}
	err := e.ec.Textures.Apply(state)
	if state.Compiler != nil {
		state.Compiler.Drain(state, e.opts.compileBudget)
	}
	return err
}

// Expire prunes the subtrees of tiles whose children have all gone
// dormant, at most MaxTilesToUnloadPerFrame of them. It returns the number
// of tiles pruned. Expire waits for a running cull pass to finish.
func (e *Engine) Expire() int {
	if e.closed.Load() {
		return 0
	}
	e.cullMu.Lock()
	defer e.cullMu.Unlock()
	dormant := e.ec.Live.CollectDormant(e.opts.terrain.MaxTilesToUnloadPerFrame)
	n := 0
	for _, t := range dormant {
		// An ancestor pruned earlier in this pass already took t.
		if t.Children() == nil {
			continue
		}
		t.RemoveSubTiles()
		n++
		Logger().Debug("terrain: pruned subtiles", "key", t.Key())
	}
	e.pruned.Add(uint64(n))
	return n
}

// Stats is a snapshot of engine activity.
type Stats struct {
	Frame        uint64
	LiveTiles    int
	QueuedMerges int
	Merged       uint64
	Pruned       uint64
	Textures     int
	Geometry     tile.GeometryPoolStats
}

func (s Stats) String() string {
	return fmt.Sprintf("frame %d: %s live tiles, %s merged, %d queued, %s pruned, %d textures, geometry hit rate %.0f%%",
		s.Frame, humanize.Comma(int64(s.LiveTiles)), humanize.Comma(int64(s.Merged)), s.QueuedMerges,
		humanize.Comma(int64(s.Pruned)), s.Textures, s.Geometry.HitRate()*100)
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Frame:        e.ec.Clock.Frame(),
		LiveTiles:    e.ec.Live.Len(),
		QueuedMerges: e.ec.Merger.Len(),
		Merged:       e.ec.Merger.Merged(),
		Pruned:       e.pruned.Load(),
		Textures:     e.ec.Textures.Len(),
		Geometry:     e.ec.Geometry.Stats(),
	}
}

// Close cancels background work, prunes every tile and releases the
// arena's GPU objects on states. The map is closed too when it is an
// io.Closer. Close is idempotent.
func (e *Engine) Close(states ...*texture.State) error {
	if e.closed.Swap(true) {
		return nil
	}
	e.cancel()

	e.cullMu.Lock()
	for _, r := range e.roots {
		r.RemoveSubTiles()
		r.Unload()
		r.ReleaseGLObjects(nil)
		e.ec.Live.Remove(r)
	}
	e.cullMu.Unlock()
	e.ec.Merger.Clear()
	if e.ownJobs {
		e.ec.Jobs.Close()
	}

	for _, s := range states {
		e.ec.Textures.ReleaseGLObjects(s)
		if s.Releaser != nil {
			s.Releaser.Flush()
		}
	}

	var err error
	if c, ok := e.ec.Map.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	Logger().Info("terrain: engine closed", "frames", e.ec.Clock.Frame())
	return err
}
