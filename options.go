package terrain

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gogpu/terrain/config"
	"github.com/gogpu/terrain/internal/jobs"
	"github.com/gogpu/terrain/texture"
	"github.com/gogpu/terrain/tile"
	"github.com/gogpu/terrain/tilekey"
)

// Option configures an Engine during creation.
//
// Example:
//
//	opts := config.Default()
//	opts.MaxLOD = 14
//	e, err := terrain.New(ctx, m, terrain.WithOptions(opts))
type Option func(*engineOptions)

// engineOptions holds optional configuration for Engine creation.
type engineOptions struct {
	terrain       config.Terrain
	arena         *texture.Arena
	clock         clock.Clock
	arenas        *jobs.Arenas
	logger        *slog.Logger
	syncChildren  bool
	compileBudget time.Duration
	pixelSize     func(t *tile.TileNode, c tile.Culler) float64
	onTileUpdate  func(key tilekey.Key, t *tile.TileNode)
}

// defaultOptions returns the default engine options.
func defaultOptions() engineOptions {
	return engineOptions{
		terrain:       config.Default(),
		compileBudget: 4 * time.Millisecond,
	}
}

// WithOptions replaces the terrain options.
func WithOptions(o config.Terrain) Option {
	return func(eo *engineOptions) {
		eo.terrain = o
	}
}

// WithTextureArena registers tile textures with a. Without it the engine
// creates its own arena.
func WithTextureArena(a *texture.Arena) Option {
	return func(eo *engineOptions) {
		eo.arena = a
	}
}

// WithClock drives frame timing from clk, e.g. a clock.Mock in tests.
func WithClock(clk clock.Clock) Option {
	return func(eo *engineOptions) {
		eo.clock = clk
	}
}

// WithArenas runs tile jobs on arenas owned by the caller. The engine does
// not close them.
func WithArenas(a *jobs.Arenas) Option {
	return func(eo *engineOptions) {
		eo.arenas = a
	}
}

// WithLogger installs l as the logger of terrain and its sub-packages.
// It is equivalent to calling SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(eo *engineOptions) {
		eo.logger = l
	}
}

// WithSyncChildren creates child tiles on the cull goroutine instead of the
// child creation arena.
func WithSyncChildren(on bool) Option {
	return func(eo *engineOptions) {
		eo.syncChildren = on
	}
}

// WithCompileBudget bounds the time Apply spends compiling textures when the
// state has an incremental compiler.
func WithCompileBudget(d time.Duration) Option {
	return func(eo *engineOptions) {
		eo.compileBudget = d
	}
}

// WithPixelSizeFunc overrides the projected tile size in pixel-size range
// mode.
func WithPixelSizeFunc(fn func(t *tile.TileNode, c tile.Culler) float64) Option {
	return func(eo *engineOptions) {
		eo.pixelSize = fn
	}
}

// WithTileUpdateCallback is called when a tile is created and whenever it
// receives new elevation.
func WithTileUpdateCallback(fn func(key tilekey.Key, t *tile.TileNode)) Option {
	return func(eo *engineOptions) {
		eo.onTileUpdate = fn
	}
}
