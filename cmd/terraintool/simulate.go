package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gogpu/terrain"
	"github.com/gogpu/terrain/backend/headless"
	"github.com/gogpu/terrain/config"
	"github.com/gogpu/terrain/mapdata"
	"github.com/gogpu/terrain/texture"
	"github.com/gogpu/terrain/tile"
)

var (
	optFrames      int
	optLat         float64
	optLon         float64
	optAltitude    float64
	optDescent     float64
	optPan         float64
	optAsync       bool
	optConstraints string
	optReport      int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Fly a headless camera over a tile store",
	Long: `Runs the terrain engine against a headless GPU context: every frame culls,
merges finished loads, uploads textures and prunes dormant tiles, while the
camera descends and pans east.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(cmd.Flags())
		if err != nil {
			return err
		}
		profile, err := profileByName(optProfile)
		if err != nil {
			return err
		}
		src, err := mapdata.OpenBolt(optDB, true)
		if err != nil {
			return err
		}

		var mapOpts []mapdata.Option
		if optConstraints != "" {
			f, err := os.Open(optConstraints)
			if err != nil {
				return err
			}
			mp, err := mapdata.LoadConstraints(f)
			f.Close()
			if err != nil {
				return err
			}
			mapOpts = append(mapOpts, mapdata.WithConstraints(mp))
		}
		m := mapdata.New(profile, mapOpts...)
		if err := m.AddLayer(mapdata.NewImageLayer("imagery", src, mapdata.WithAsync(optAsync))); err != nil {
			return err
		}
		if err := m.AddLayer(mapdata.NewElevationLayer("dem", src)); err != nil {
			return err
		}

		return simulate(cmd.Context(), cmd.OutOrStdout(), m, opts, flight{
			Frames:   optFrames,
			Lat:      optLat,
			Lon:      optLon,
			Altitude: optAltitude,
			Descent:  optDescent,
			Pan:      optPan,
			Report:   optReport,
		})
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	f := simulateCmd.Flags()
	f.IntVar(&optFrames, "frames", 600, "frames to run")
	f.Float64Var(&optLat, "lat", 46.5, "start latitude")
	f.Float64Var(&optLon, "lon", 8, "start longitude")
	f.Float64Var(&optAltitude, "altitude", 2e6, "start altitude in metres")
	f.Float64Var(&optDescent, "descent", 0.99, "altitude factor per frame")
	f.Float64Var(&optPan, "pan", 0.01, "degrees of longitude per frame")
	f.BoolVar(&optAsync, "async", false, "load imagery asynchronously")
	f.StringVar(&optConstraints, "constraints", "", "GeoJSON polygons cut out of the terrain")
	f.IntVar(&optReport, "report", 100, "print stats every n frames; 0 disables")

	d := config.Default()
	f.Int("tile-size", d.TileSize, "vertices along a tile edge")
	f.Uint32("max-lod", d.MaxLOD, "deepest level")
	f.Int("concurrency", d.Concurrency, "tile job workers")
	f.Int("merges-per-frame", d.MergesPerFrame, "merge cap per frame; 0 is unlimited")
	f.Bool("progressive", d.Progressive, "load each level before refining")
	f.Bool("normalize-edges", d.NormalizeEdges, "stitch normal maps across tile edges")
	f.Duration("min-expiry-time", d.MinExpiryTime, "idle time before a tile may expire")
}

// flight is the camera path of a simulation.
type flight struct {
	Frames   int
	Lat, Lon float64
	Altitude float64
	Descent  float64
	Pan      float64
	Report   int
}

// simulate runs the flight and closes m with the engine.
func simulate(ctx context.Context, out io.Writer, m *mapdata.Map, opts config.Terrain, fl flight) error {
	state := texture.NewState(headless.New(1))
	state.Compiler = texture.NewIncrementalCompiler()

	e, err := terrain.New(ctx, m, terrain.WithOptions(opts), terrain.WithCompileBudget(time.Second))
	if err != nil {
		_ = m.Close()
		return err
	}

	start := time.Now()
	alt, lon := fl.Altitude, fl.Lon
	drawn := 0
	for i := 1; i <= fl.Frames; i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		cam := tile.LookAtGeo(fl.Lat, lon, alt, math.Pi/4, 1080)
		e.Cull(cam)
		e.Update(ctx)
		if err := e.Apply(state); err != nil {
			terrain.Logger().Warn("apply failed", "frame", i, "err", err)
		}
		e.Expire()
		drawn = len(cam.DrawList())

		if fl.Report > 0 && i%fl.Report == 0 {
			fmt.Fprintf(out, "%s, altitude %s m, %d drawn\n", e.Stats(), humanize.Comma(int64(alt)), drawn)
		}
		alt = max(alt*fl.Descent, 500)
		lon += fl.Pan
		if lon > 180 {
			lon -= 360
		}
	}

	st := e.Stats()
	arena := e.Textures().Stats(state.ContextID())
	lut := e.Textures().HandleLUT(state.ContextID())
	fmt.Fprintf(out, "done: %s in %s\n", st, time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "arena: %s; handle table %d entries, %s, %d reallocations, %d partial updates\n",
		arena, lut.Len(), humanize.IBytes(lut.AllocatedSize()), lut.Reallocations(), lut.PartialUpdates())
	if mt := m.CacheMetrics(); mt.Hits+mt.Misses > 0 {
		fmt.Fprintf(out, "tile cache: %s hits, %s misses\n", humanize.Comma(int64(mt.Hits)), humanize.Comma(int64(mt.Misses)))
	}
	return e.Close(state)
}
