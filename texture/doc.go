// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package texture manages bindless terrain textures.
//
// A Texture pairs a CPU image with per-context GPU state: an object ID, a
// 64-bit bindless handle and a residency flag. Textures may start out as
// futures whose images arrive from background jobs.
//
// An Arena collects textures into a single handle lookup table (HandleLUT)
// so shaders can index any of them by slot. Each frame, Arena.Apply on a
// context compiles pending textures, applies residency changes, rewrites
// only the changed ranges of the table and binds it:
//
//	arena := texture.NewArena(texture.WithCompression(true))
//	slot, err := arena.Add(tex)
//	...
//	state := texture.NewState(device)
//	if err := arena.Apply(state); err != nil {
//	    return err
//	}
//
// Images are normalized before upload: single-channel 8-bit data becomes
// R16F, and RGB/RGBA data is block compressed to BC1/BC3 when compression
// is enabled.
package texture
