package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gogpu/terrain/mapdata"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List the layers of a tile store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(optDB); err != nil {
			return err
		}
		src, err := mapdata.OpenBolt(optDB, true)
		if err != nil {
			return err
		}
		defer src.Close()
		return inspect(cmd.OutOrStdout(), src)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func inspect(out io.Writer, src *mapdata.BoltSource) error {
	layers, err := src.Layers()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tTILES")
	for _, name := range layers {
		n, err := src.Count(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\n", name, humanize.Comma(int64(n)))
	}
	return tw.Flush()
}
