// Package config holds the terrain engine options and loads them from files
// and the environment.
//
// Options are plain values with mapstructure tags, so they can be filled
// from YAML, TOML, JSON or TERRAIN_* environment variables through viper:
//
//	opts, err := config.Load("terrain.yaml")
//	if err != nil {
//	    return err
//	}
//	eng, err := terrain.New(m, terrain.WithOptions(opts))
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid terrain options")

// RangeMode selects how a tile decides to subdivide.
type RangeMode string

// Range modes.
const (
	// RangeDistance compares the eye distance with the per-LOD visibility
	// range of the child test key.
	RangeDistance RangeMode = "distance"

	// RangePixelSize compares the projected tile size with TilePixelSize.
	RangePixelSize RangeMode = "pixel-size"
)

// Terrain holds the engine options.
type Terrain struct {
	// TileSize is the number of vertices along one tile edge.
	TileSize int `mapstructure:"tile_size"`

	// TilePixelSize is the target on-screen size of a tile in pixel-size
	// range mode.
	TilePixelSize float64 `mapstructure:"tile_pixel_size"`

	// RangeMode selects the subdivision test.
	RangeMode RangeMode `mapstructure:"range_mode"`

	// MinTileRangeFactor scales a tile's diagonal into its visibility range.
	MinTileRangeFactor float64 `mapstructure:"min_tile_range_factor"`

	// FirstLOD is the level of the root tiles.
	FirstLOD uint32 `mapstructure:"first_lod"`

	// MinLOD is the lowest level that may load data on its own; tiles
	// between FirstLOD and MinLOD only inherit.
	MinLOD uint32 `mapstructure:"min_lod"`

	// MaxLOD is the deepest level tiles subdivide to.
	MaxLOD uint32 `mapstructure:"max_lod"`

	// MinExpiryFrames and MinExpiryTime bound how long an untraversed tile
	// stays before it is dormant. Both must be exceeded.
	MinExpiryFrames uint64        `mapstructure:"min_expiry_frames"`
	MinExpiryTime   time.Duration `mapstructure:"min_expiry_time"`

	// MaxTilesToUnloadPerFrame caps pruning per expiry pass; 0 is unlimited.
	MaxTilesToUnloadPerFrame int `mapstructure:"max_tiles_to_unload_per_frame"`

	// Progressive loads each level fully before subdividing further.
	Progressive bool `mapstructure:"progressive"`

	// NormalizeEdges stitches normal map borders between neighbours.
	NormalizeEdges bool `mapstructure:"normalize_edges"`

	// MorphTerrain enables the geomorph constants on tile geometry.
	MorphTerrain bool `mapstructure:"morph_terrain"`

	// Concurrency is the worker count of the tile job arenas.
	Concurrency int `mapstructure:"concurrency"`

	// MergesPerFrame caps merges per Merger.Run; 0 is unlimited.
	MergesPerFrame int `mapstructure:"merges_per_frame"`

	// GeometryPoolSize bounds the shared geometry cache; 0 disables it.
	GeometryPoolSize int `mapstructure:"geometry_pool_size"`

	// CompressTextures compresses arena textures to BC1/BC3.
	CompressTextures bool `mapstructure:"compress_textures"`
}

// Default returns the stock options.
func Default() Terrain {
	return Terrain{
		TileSize:                 17,
		TilePixelSize:            256,
		RangeMode:                RangeDistance,
		MinTileRangeFactor:       7.0,
		FirstLOD:                 0,
		MinLOD:                   0,
		MaxLOD:                   19,
		MinExpiryFrames:          0,
		MinExpiryTime:            0,
		MaxTilesToUnloadPerFrame: 0,
		Progressive:              false,
		NormalizeEdges:           false,
		MorphTerrain:             true,
		Concurrency:              4,
		MergesPerFrame:           0,
		GeometryPoolSize:         1024,
		CompressTextures:         true,
	}
}

// Validate reports the first inconsistent option.
func (t Terrain) Validate() error {
	switch {
	case t.TileSize < 2:
		return fmt.Errorf("%w: tile_size %d < 2", ErrInvalid, t.TileSize)
	case t.RangeMode != RangeDistance && t.RangeMode != RangePixelSize:
		return fmt.Errorf("%w: range_mode %q", ErrInvalid, t.RangeMode)
	case t.RangeMode == RangePixelSize && t.TilePixelSize <= 0:
		return fmt.Errorf("%w: tile_pixel_size %g", ErrInvalid, t.TilePixelSize)
	case t.MinTileRangeFactor <= 0:
		return fmt.Errorf("%w: min_tile_range_factor %g", ErrInvalid, t.MinTileRangeFactor)
	case t.MaxLOD < t.FirstLOD:
		return fmt.Errorf("%w: max_lod %d < first_lod %d", ErrInvalid, t.MaxLOD, t.FirstLOD)
	case t.MinExpiryTime < 0:
		return fmt.Errorf("%w: min_expiry_time %s", ErrInvalid, t.MinExpiryTime)
	case t.Concurrency < 1:
		return fmt.Errorf("%w: concurrency %d", ErrInvalid, t.Concurrency)
	case t.MergesPerFrame < 0 || t.MaxTilesToUnloadPerFrame < 0 || t.GeometryPoolSize < 0:
		return fmt.Errorf("%w: negative limit", ErrInvalid)
	}
	return nil
}

// EnvPrefix is the prefix of environment overrides, e.g. TERRAIN_MAX_LOD.
const EnvPrefix = "TERRAIN"

// NewViper returns a viper instance seeded with the defaults and bound to
// the TERRAIN_ environment. Callers may bind flags to it before Decode.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("tile_size", d.TileSize)
	v.SetDefault("tile_pixel_size", d.TilePixelSize)
	v.SetDefault("range_mode", string(d.RangeMode))
	v.SetDefault("min_tile_range_factor", d.MinTileRangeFactor)
	v.SetDefault("first_lod", d.FirstLOD)
	v.SetDefault("min_lod", d.MinLOD)
	v.SetDefault("max_lod", d.MaxLOD)
	v.SetDefault("min_expiry_frames", d.MinExpiryFrames)
	v.SetDefault("min_expiry_time", d.MinExpiryTime)
	v.SetDefault("max_tiles_to_unload_per_frame", d.MaxTilesToUnloadPerFrame)
	v.SetDefault("progressive", d.Progressive)
	v.SetDefault("normalize_edges", d.NormalizeEdges)
	v.SetDefault("morph_terrain", d.MorphTerrain)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("merges_per_frame", d.MergesPerFrame)
	v.SetDefault("geometry_pool_size", d.GeometryPoolSize)
	v.SetDefault("compress_textures", d.CompressTextures)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Decode unmarshals and validates the options held by v.
func Decode(v *viper.Viper) (Terrain, error) {
	var t Terrain
	if err := v.Unmarshal(&t); err != nil {
		return Terrain{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Terrain{}, err
	}
	return t, nil
}

// Load reads options from a file (any format viper understands) layered
// over the defaults and the environment. An empty path loads only
// defaults and environment.
func Load(path string) (Terrain, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Terrain{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return Decode(v)
}
