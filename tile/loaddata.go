package tile

import (
	"context"
	"sync"
	"weak"

	"github.com/gogpu/terrain/internal/jobs"
	"github.com/gogpu/terrain/tilekey"
)

// LoadTileDataOperation fetches new data for a tile and, once it has
// arrived, merges it. The operation does not keep its tile alive.
type LoadTileDataOperation struct {
	manifest     Manifest
	key          tilekey.Key
	tile         weak.Pointer[TileNode]
	ec           *EngineContext
	enableCancel bool

	mu     sync.Mutex
	result *jobs.Future[*TileData]
}

// NewLoadTileDataOperation creates an undispatched load for t.
func NewLoadTileDataOperation(t *TileNode, manifest Manifest) *LoadTileDataOperation {
	return &LoadTileDataOperation{
		manifest:     manifest,
		key:          t.key,
		tile:         weak.Make(t),
		ec:           t.ec,
		enableCancel: true,
	}
}

// Manifest returns the requested layers.
func (op *LoadTileDataOperation) Manifest() Manifest { return op.manifest }

// Key returns the key of the tile being loaded.
func (op *LoadTileDataOperation) Key() tilekey.Key { return op.key }

// SetEnableCancel controls whether the load observes cancellation.
func (op *LoadTileDataOperation) SetEnableCancel(on bool) { op.enableCancel = on }

func (op *LoadTileDataOperation) future() *jobs.Future[*TileData] {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.result
}

// IsAbandoned reports whether the load has not been dispatched, or its
// dispatch was rejected.
func (op *LoadTileDataOperation) IsAbandoned() bool { return op.future().IsAbandoned() }

// IsAvailable reports whether the load finished.
func (op *LoadTileDataOperation) IsAvailable() bool { return op.future().IsAvailable() }

// Result returns the loaded data without blocking.
func (op *LoadTileDataOperation) Result() (*TileData, bool) { return op.future().Value() }

// Cancel asks an in-flight load to stop.
func (op *LoadTileDataOperation) Cancel() { op.future().Cancel() }

// Dispatch starts the load on the load arena, or runs it on the calling
// goroutine when async is false. It reports whether the load was
// accepted.
func (op *LoadTileDataOperation) Dispatch(async bool) bool {
	load := func(ctx context.Context) *TileData {
		if t := op.tile.Value(); t == nil || t.released.Load() {
			return nil
		}
		data, err := op.ec.Map.CreateTileModel(ctx, op.key, op.manifest)
		if err != nil {
			slogger().Warn("tile: load failed", "key", op.key, "err", err)
			return nil
		}
		return data
	}

	parent := op.ec.ctx
	if !op.enableCancel {
		parent = context.WithoutCancel(parent)
	}
	job := jobs.Job{Name: op.key.String(), Arena: jobs.ArenaLoadTile}

	var f *jobs.Future[*TileData]
	if async {
		f = jobs.Dispatch(parent, op.ec.Jobs, job, load)
	} else {
		f = jobs.Run(parent, job, load)
	}

	op.mu.Lock()
	op.result = f
	op.mu.Unlock()
	return !f.IsAbandoned()
}

// Merge installs the loaded data into the tile. It reports false while the
// load is still running or when the tile is gone.
func (op *LoadTileDataOperation) Merge() bool {
	f := op.future()
	if !f.IsAvailable() {
		return false
	}
	t := op.tile.Value()
	if t == nil || t.released.Load() {
		return false
	}
	data, _ := f.Value()
	if data == nil {
		slogger().Debug("tile: load produced no data", "key", op.key)
		return true
	}
	t.Merge(data, op.manifest)
	return true
}
