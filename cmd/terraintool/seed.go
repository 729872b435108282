package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gogpu/terrain/mapdata"
	"github.com/gogpu/terrain/tilekey"
)

var (
	optSeedMaxLOD   uint32
	optSeedTileSize int
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill a tile store with synthetic imagery and elevation",
	Long: `Writes an "imagery" layer of colour-mapped PNG tiles and a "dem" layer of
Terrarium-encoded heights for every tile from LOD 0 to --max-lod.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := profileByName(optProfile)
		if err != nil {
			return err
		}
		src, err := mapdata.OpenBolt(optDB, false)
		if err != nil {
			return err
		}
		defer src.Close()

		start := time.Now()
		res, err := seed(cmd.Context(), src, profile, optSeedMaxLOD, optSeedTileSize)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %s tiles (%s) into %s in %s\n",
			humanize.Comma(int64(res.Tiles)), humanize.IBytes(uint64(res.Bytes)), optDB,
			time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().Uint32Var(&optSeedMaxLOD, "max-lod", 3, "deepest level to seed")
	seedCmd.Flags().IntVar(&optSeedTileSize, "tile-size", 64, "tile width and height in pixels")
}

type seedResult struct {
	Tiles int
	Bytes int
}

// seed writes both layers for every key down to maxLOD.
func seed(ctx context.Context, w mapdata.Writer, profile *tilekey.Profile, maxLOD uint32, size int) (seedResult, error) {
	var res seedResult
	if size < 2 {
		return res, fmt.Errorf("tile size %d < 2", size)
	}
	for lod := uint32(0); lod <= maxLOD; lod++ {
		wide, high := profile.NumTiles(lod)
		for y := range high {
			for x := range wide {
				if err := ctx.Err(); err != nil {
					return res, err
				}
				k := tilekey.Key{LOD: lod, X: x, Y: y, Profile: profile}
				h := syntheticHeights(k, size)

				dem, err := mapdata.EncodeTerrarium(h)
				if err != nil {
					return res, err
				}
				img, err := colorize(h)
				if err != nil {
					return res, err
				}
				if err := w.WriteTile("dem", k, dem); err != nil {
					return res, fmt.Errorf("write dem %s: %w", k, err)
				}
				if err := w.WriteTile("imagery", k, img); err != nil {
					return res, fmt.Errorf("write imagery %s: %w", k, err)
				}
				res.Tiles += 2
				res.Bytes += len(dem) + len(img)
			}
		}
	}
	return res, nil
}

// syntheticHeights samples rolling terrain over the key's extent. Row 0 is
// the northern edge.
func syntheticHeights(k tilekey.Key, size int) *mapdata.Heights {
	ext := k.Extent()
	h := &mapdata.Heights{Width: size, Height: size, Values: make([]float32, size*size)}
	for row := range size {
		lat := ext.Max.Lat() - (ext.Max.Lat()-ext.Min.Lat())*float64(row)/float64(size-1)
		for col := range size {
			lon := ext.Min.Lon() + (ext.Max.Lon()-ext.Min.Lon())*float64(col)/float64(size-1)
			v := 2500*math.Sin(lon*math.Pi/30)*math.Cos(lat*math.Pi/20) +
				600*math.Sin(lon*math.Pi/4)*math.Sin(lat*math.Pi/3)
			h.Values[row*size+col] = float32(v)
		}
	}
	return h
}

// colorize renders heights with a hypsometric tint.
func colorize(h *mapdata.Heights) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, h.Width, h.Height))
	for i, v := range h.Values {
		img.Set(i%h.Width, i/h.Width, tint(v))
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func tint(v float32) color.NRGBA {
	switch {
	case v < 0:
		d := uint8(min(-v/12, 150))
		return color.NRGBA{R: 20, G: 60, B: 200 - d, A: 255}
	case v < 800:
		return color.NRGBA{R: 60, G: 140 + uint8(v/16), B: 60, A: 255}
	case v < 2000:
		return color.NRGBA{R: 120 + uint8((v-800)/12), G: 110, B: 70, A: 255}
	}
	return color.NRGBA{R: 240, G: 240, B: 245, A: 255}
}
