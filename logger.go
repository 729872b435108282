package terrain

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/terrain/internal/jobs"
	"github.com/gogpu/terrain/mapdata"
	"github.com/gogpu/terrain/texture"
	"github.com/gogpu/terrain/tile"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for terrain and all its sub-packages.
// By default, terrain produces no log output. Pass nil to restore the
// silent default.
//
// Log levels used by terrain:
//   - [slog.LevelDebug]: per-tile lifecycle (creation, loads, merges, pruning)
//   - [slog.LevelInfo]: engine lifecycle (created, closed)
//   - [slog.LevelWarn]: dropped work (failed loads, rejected textures)
//
// Example:
//
//	terrain.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	tile.SetLogger(l)
	texture.SetLogger(l)
	mapdata.SetLogger(l)
	jobs.SetLogger(l)
}

// Logger returns the current logger used by terrain.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
