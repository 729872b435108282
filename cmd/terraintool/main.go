// Command terraintool seeds terrain tile stores and flies a headless camera
// over them.
//
//	terraintool seed --db world.db --max-lod 4
//	terraintool simulate --db world.db --frames 600 --lat 46.5 --lon 8
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
