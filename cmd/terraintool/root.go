package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gogpu/terrain"
	"github.com/gogpu/terrain/config"
	"github.com/gogpu/terrain/tilekey"
)

var (
	optDB       string
	optProfile  string
	optLogLevel string
	optConfig   string
)

var rootCmd = &cobra.Command{
	Use:           "terraintool",
	Short:         "Seed and exercise terrain tile stores",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setLogger(cmd.ErrOrStderr(), optLogLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&optDB, "db", "terrain.db", "bbolt tile store")
	rootCmd.PersistentFlags().StringVar(&optProfile, "profile", "geodetic", "tiling profile: geodetic or mercator")
	rootCmd.PersistentFlags().StringVar(&optLogLevel, "log-level", "warn", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&optConfig, "config", "", "terrain options file (yaml, toml or json)")
}

func setLogger(w io.Writer, level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	terrain.SetLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})))
	return nil
}

func profileByName(name string) (*tilekey.Profile, error) {
	switch strings.ToLower(name) {
	case "geodetic", "global-geodetic":
		return tilekey.GlobalGeodetic, nil
	case "mercator", "spherical-mercator":
		return tilekey.SphericalMercator, nil
	}
	return nil, fmt.Errorf("unknown profile %q", name)
}

// loadOptions layers the options file, TERRAIN_ environment and the
// command's changed flags over the defaults.
func loadOptions(flags *pflag.FlagSet) (config.Terrain, error) {
	v := config.NewViper()
	if optConfig != "" {
		v.SetConfigFile(optConfig)
		if err := v.ReadInConfig(); err != nil {
			return config.Terrain{}, fmt.Errorf("read %s: %w", optConfig, err)
		}
	}
	if err := bindFlags(v, flags); err != nil {
		return config.Terrain{}, err
	}
	return config.Decode(v)
}

// bindFlags maps dashed flag names onto the underscored option keys.
// Unchanged flags leave the file and environment values in place.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if optionKeys[key] {
			err = v.BindPFlag(key, f)
		}
	})
	return err
}

var optionKeys = map[string]bool{
	"tile_size": true, "max_lod": true, "min_lod": true, "first_lod": true,
	"range_mode": true, "tile_pixel_size": true, "progressive": true,
	"normalize_edges": true, "concurrency": true, "merges_per_frame": true,
	"min_expiry_frames": true, "min_expiry_time": true,
	"max_tiles_to_unload_per_frame": true, "compress_textures": true,
}
