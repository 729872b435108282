package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gogpu/terrain/config"
	"github.com/gogpu/terrain/mapdata"
	"github.com/gogpu/terrain/tilekey"
)

// seedDB seeds LOD 0-1 of the geodetic profile into a fresh store.
func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.db")
	src, err := mapdata.OpenBolt(path, false)
	if err != nil {
		t.Fatal(err)
	}
	res, err := seed(context.Background(), src, tilekey.GlobalGeodetic, 1, 8)
	if err != nil {
		t.Fatal(err)
	}
	// 2 tiles at LOD 0, 8 at LOD 1, two layers each.
	if res.Tiles != 20 || res.Bytes == 0 {
		t.Errorf("seed = %+v", res)
	}
	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSeed(t *testing.T) {
	path := seedDB(t)
	src, err := mapdata.OpenBolt(path, true)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	var out bytes.Buffer
	if err := inspect(&out, src); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"LAYER", "dem", "imagery", "10"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("inspect output missing %q:\n%s", want, out.String())
		}
	}

	k := tilekey.Key{LOD: 1, X: 3, Y: 1, Profile: tilekey.GlobalGeodetic}
	data, err := src.ReadTile(context.Background(), "dem", k)
	if err != nil {
		t.Fatal(err)
	}
	h, err := mapdata.DecodeHeights(data, mapdata.Terrarium)
	if err != nil {
		t.Fatal(err)
	}
	if h.Width != 8 || h.Height != 8 {
		t.Errorf("dem size = %dx%d", h.Width, h.Height)
	}
}

func TestSeed_Errors(t *testing.T) {
	src := mapdata.NewDirSource(t.TempDir(), "")
	if _, err := seed(context.Background(), src, tilekey.GlobalGeodetic, 0, 1); err == nil {
		t.Error("tile size 1 accepted")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := seed(ctx, src, tilekey.GlobalGeodetic, 2, 4); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSimulate(t *testing.T) {
	path := seedDB(t)
	src, err := mapdata.OpenBolt(path, true)
	if err != nil {
		t.Fatal(err)
	}
	m := mapdata.New(tilekey.GlobalGeodetic)
	if err := m.AddLayer(mapdata.NewImageLayer("imagery", src, mapdata.WithAsync(true))); err != nil {
		t.Fatal(err)
	}
	if err := m.AddLayer(mapdata.NewElevationLayer("dem", src)); err != nil {
		t.Fatal(err)
	}

	opts := config.Default()
	opts.TileSize = 5
	opts.MaxLOD = 3
	opts.Concurrency = 2

	var out bytes.Buffer
	err = simulate(context.Background(), &out, m, opts, flight{
		Frames: 20, Lat: 10, Lon: 20, Altitude: 1e6, Descent: 0.9, Pan: 0.5, Report: 10,
	})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	for _, want := range []string{"frame 10:", "done: frame 20", "arena:", "handle table"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
	if err := m.AddLayer(mapdata.NewImageLayer("late", src)); !errors.Is(err, mapdata.ErrClosed) {
		t.Errorf("map left open: %v", err)
	}
}

func TestLoadOptions(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "terrain.yaml")
	writeFile(t, file, "tile_size: 9\nmax_lod: 7\nprogressive: false\n")

	old := optConfig
	optConfig = file
	t.Cleanup(func() { optConfig = old })

	flags := simulateCmd.Flags()
	if err := flags.Set("max-lod", "12"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = flags.Set("max-lod", strconv.FormatUint(uint64(config.Default().MaxLOD), 10))
		flags.Lookup("max-lod").Changed = false
	})

	o, err := loadOptions(flags)
	if err != nil {
		t.Fatal(err)
	}
	if o.TileSize != 9 || o.Progressive {
		t.Errorf("file values not applied: %+v", o)
	}
	if o.MaxLOD != 12 {
		t.Errorf("MaxLOD = %d, want the flag value 12", o.MaxLOD)
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProfileByName(t *testing.T) {
	tests := []struct {
		name string
		want *tilekey.Profile
	}{
		{"geodetic", tilekey.GlobalGeodetic},
		{"Mercator", tilekey.SphericalMercator},
		{"spherical-mercator", tilekey.SphericalMercator},
	}
	for _, tt := range tests {
		got, err := profileByName(tt.name)
		if err != nil || got != tt.want {
			t.Errorf("profileByName(%q) = %v, %v", tt.name, got, err)
		}
	}
	if _, err := profileByName("cube"); err == nil {
		t.Error("unknown profile accepted")
	}
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	if err := setLogger(&buf, "shout"); err == nil {
		t.Error("bad level accepted")
	}
	if err := setLogger(&buf, "debug"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = setLogger(&bytes.Buffer{}, "error") })
	m := mapdata.New(tilekey.GlobalGeodetic)
	defer m.Close()
	if err := m.AddLayer(mapdata.NewImageLayer("imagery", mapdata.NewDirSource(t.TempDir(), ""))); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "layer added") {
		t.Errorf("log output = %q", buf.String())
	}
}
