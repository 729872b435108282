// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import (
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func addSolid(t *testing.T, a *Arena, n int) []*Texture {
	t.Helper()
	texs := make([]*Texture, n)
	for i := range texs {
		texs[i] = New("t", solidImage(8, 8, FormatRGB8, byte(i*10)))
		if _, err := a.Add(texs[i]); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return texs
}

// =============================================================================
// Add Tests
// =============================================================================

func TestArena_AddNormalizesAndCompresses(t *testing.T) {
	a := NewArena()
	rgb := New("rgb", solidImage(8, 8, FormatRGB8, 1))
	gray := New("gray", solidImage(8, 8, FormatR8, 1))

	if i, err := a.Add(rgb); err != nil || i != 0 {
		t.Fatalf("Add(rgb) = %d, %v", i, err)
	}
	if i, err := a.Add(gray); err != nil || i != 1 {
		t.Fatalf("Add(gray) = %d, %v", i, err)
	}
	if got := rgb.Image().Format; got != FormatBC1 {
		t.Errorf("rgb stored as %s, want bc1", got)
	}
	if got := gray.Image().Format; got != FormatR16F {
		t.Errorf("gray stored as %s, want r16f", got)
	}
}

func TestArena_AddTwiceKeepsSlot(t *testing.T) {
	a := NewArena()
	tex := New("t", solidImage(4, 4, FormatRGBA8, 1))
	first, _ := a.Add(tex)
	second, _ := a.Add(tex)
	if first != second || a.Len() != 1 {
		t.Errorf("slots %d, %d; Len() = %d", first, second, a.Len())
	}
}

func TestArena_AddErrors(t *testing.T) {
	a := NewArena()
	if _, err := a.Add(nil); !errors.Is(err, ErrNilTexture) {
		t.Errorf("Add(nil) err = %v", err)
	}
	if _, err := a.Add(New("bad", nil)); !errors.Is(err, ErrNoImage) {
		t.Errorf("Add(no image) err = %v", err)
	}
	if a.Len() != 0 {
		t.Errorf("Len() = %d after failed adds", a.Len())
	}
}

func TestArena_AddLoadsURI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tile.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	a := NewArena()
	tex := FromURI(path)
	if _, err := a.Add(tex); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if tex.Image().Format != FormatR16F {
		t.Errorf("loaded format = %s", tex.Image().Format)
	}

	again := FromURI(path)
	if _, err := a.Add(again); err != nil {
		t.Fatalf("Add cached: %v", err)
	}
	if again.Image() == tex.Image() {
		t.Error("cached image shared instead of cloned")
	}
}

func TestArena_AddAll(t *testing.T) {
	a := NewArena(WithCPUMipmaps(true))
	texs := make([]*Texture, 10)
	for i := range texs {
		texs[i] = New("t", solidImage(16, 16, FormatRGBA8, byte(i)))
	}
	if err := a.AddAll(context.Background(), texs); err != nil {
		t.Fatalf("AddAll: %v", err)
	}
	for i, tex := range texs {
		if a.Index(tex) != i {
			t.Errorf("Index(tex %d) = %d", i, a.Index(tex))
		}
		if tex.Image().NumLevels() != 5 {
			t.Errorf("tex %d has %d levels, want 5", i, tex.Image().NumLevels())
		}
	}
	if err := a.AddAll(context.Background(), []*Texture{nil}); !errors.Is(err, ErrNilTexture) {
		t.Errorf("AddAll(nil) err = %v", err)
	}
}

// =============================================================================
// Apply Tests
// =============================================================================

func TestArena_ApplyCompilesActivatesAndBinds(t *testing.T) {
	resetLUTDiscovery()
	dev := newMockDevice(0)
	state := NewState(dev)
	a := NewArena()
	texs := addSolid(t, a, 4)

	if err := a.Apply(state); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for i, tex := range texs {
		if !tex.IsResident(state) {
			t.Errorf("texture %d not resident", i)
		}
	}
	lut := a.HandleLUT(0)
	if lut.Len() != 4 {
		t.Errorf("LUT Len() = %d, want 4", lut.Len())
	}
	if lut.Reallocations() != 1 {
		t.Errorf("Reallocations() = %d, want 1", lut.Reallocations())
	}
	if _, ok := dev.bound[DefaultHandleLUTBinding]; !ok {
		t.Error("LUT not bound to the default binding")
	}

	buf := dev.buffers[dev.bound[DefaultHandleLUTBinding]]
	for i, tex := range texs {
		if got := binary.LittleEndian.Uint64(buf[i*8:]); got != uint64(tex.Handle(state)) {
			t.Errorf("LUT[%d] = %#x, want %#x", i, got, tex.Handle(state))
		}
	}
}

func TestArena_LUTTracksArenaLength(t *testing.T) {
	resetLUTDiscovery()
	state := NewState(newMockDevice(0))
	a := NewArena()

	addSolid(t, a, 1)
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	for n := 2; n <= 9; n++ {
		addSolid(t, a, 1)
		if err := a.Apply(state); err != nil {
			t.Fatal(err)
		}
		if got := a.HandleLUT(0).Len(); got != n {
			t.Errorf("after %d adds LUT Len() = %d", n, got)
		}
	}
}

func TestArena_HandleChangeIsPartialUpdate(t *testing.T) {
	resetLUTDiscovery()
	dev := newMockDevice(0)
	state := NewState(dev)
	a := NewArena()
	texs := addSolid(t, a, 3)

	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	lut := a.HandleLUT(0)
	old := texs[1].Handle(state)
	dev.resetWrites()

	a.Refresh(texs[1])
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}

	if texs[1].Handle(state) == old {
		t.Fatal("refresh did not produce a new handle")
	}
	if lut.Reallocations() != 1 {
		t.Errorf("Reallocations() = %d, want 1", lut.Reallocations())
	}
	if lut.PartialUpdates() != 1 {
		t.Errorf("PartialUpdates() = %d, want 1", lut.PartialUpdates())
	}
	if len(dev.writes) != 1 || dev.writes[0] != [2]uint64{8, 8} {
		t.Errorf("buffer writes = %v, want one 8-byte write at offset 8", dev.writes)
	}
	if dev.liveTextures() != 3 {
		t.Errorf("live textures = %d, want 3 after releasing the old object", dev.liveTextures())
	}
}

func TestArena_DeactivateThenActivate(t *testing.T) {
	resetLUTDiscovery()
	state := NewState(newMockDevice(0))
	a := NewArena()
	texs := addSolid(t, a, 2)
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}

	a.Deactivate(texs[0])
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	if texs[0].IsResident(state) {
		t.Error("texture still resident after Deactivate")
	}
	if !texs[0].IsCompiled(state) {
		t.Error("Deactivate released GPU storage")
	}

	a.Deactivate(texs[1])
	a.Activate(texs[1])
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	if !texs[1].IsResident(state) {
		t.Error("deactivations must apply before activations")
	}
}

func TestArena_DeactivateZeroesLUTEntry(t *testing.T) {
	resetLUTDiscovery()
	dev := newMockDevice(0)
	state := NewState(dev)
	a := NewArena()
	texs := addSolid(t, a, 2)
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	lut := a.HandleLUT(0)
	dev.resetWrites()

	a.Deactivate(texs[0])
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	if got := lut.Handles()[0]; got != 0 {
		t.Errorf("LUT[0] = %#x for a non-resident texture, want 0", got)
	}
	if got := lut.Handles()[1]; got != uint64(texs[1].Handle(state)) {
		t.Errorf("LUT[1] = %#x, want %#x", got, texs[1].Handle(state))
	}
	if len(dev.writes) != 1 || dev.writes[0] != [2]uint64{0, 8} {
		t.Errorf("buffer writes = %v, want one 8-byte write at offset 0", dev.writes)
	}

	a.Activate(texs[0])
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	if got := lut.Handles()[0]; got == 0 || got != uint64(texs[0].Handle(state)) {
		t.Errorf("LUT[0] = %#x after re-activation, want %#x", got, texs[0].Handle(state))
	}
}

func TestArena_ReleaseCancelsQueuedCompile(t *testing.T) {
	resetLUTDiscovery()
	dev := newMockDevice(0)
	state := NewState(dev)
	state.Compiler = NewIncrementalCompiler()
	a := NewArena()
	texs := addSolid(t, a, 2)
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	if state.Compiler.Pending(0) != 2 {
		t.Fatalf("compiler pending = %d, want 2", state.Compiler.Pending(0))
	}

	a.Release(texs[0])
	if n := state.Compiler.Drain(state, time.Second); n != 1 {
		t.Errorf("Drain() = %d, want only the live texture compiled", n)
	}
	for range 3 {
		if err := a.Apply(state); err != nil {
			t.Fatal(err)
		}
		state.Compiler.Drain(state, time.Second)
	}
	state.Releaser.Flush()

	if texs[0].IsCompiled(state) {
		t.Error("released texture was compiled")
	}
	if got := a.HandleLUT(0).Handles()[0]; got != 0 {
		t.Errorf("LUT[0] = %#x, want 0", got)
	}
	if !texs[1].IsResident(state) {
		t.Error("live texture not resident")
	}
	if dev.liveTextures() != 1 {
		t.Errorf("live GPU textures = %d, want 1", dev.liveTextures())
	}
}

func TestIncrementalCompiler_SkipsCanceledSets(t *testing.T) {
	dev := newMockDevice(0)
	state := NewState(dev)
	state.Compiler = NewIncrementalCompiler()
	tex := New("t", solidImage(8, 8, FormatRGBA8, 1))
	set := tex.compileSet(state)

	tex.ReleaseGLObjects(nil)
	if !set.Canceled() {
		t.Fatal("ReleaseGLObjects did not cancel the pending set")
	}
	if n := state.Compiler.Drain(state, time.Second); n != 0 {
		t.Errorf("Drain() = %d, want the canceled set skipped", n)
	}
	if state.Compiler.Pending(0) != 0 {
		t.Errorf("Pending() = %d, want canceled set dropped", state.Compiler.Pending(0))
	}
	if tex.IsCompiled(state) || dev.liveTextures() != 0 {
		t.Error("canceled set compiled")
	}
}

func TestArena_ReleaseZeroesSlot(t *testing.T) {
	resetLUTDiscovery()
	dev := newMockDevice(0)
	state := NewState(dev)
	a := NewArena()
	texs := addSolid(t, a, 3)
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}

	a.Release(texs[1])
	a.Activate(texs[1])
	state.Releaser.Flush()
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	if texs[1].IsCompiled(state) {
		t.Error("released texture was compiled again")
	}
	if got := a.HandleLUT(0).Handles()[1]; got != 0 {
		t.Errorf("LUT[1] = %#x, want 0", got)
	}
	if a.Len() != 3 {
		t.Errorf("Len() = %d, want slots kept", a.Len())
	}
	if dev.liveTextures() != 2 {
		t.Errorf("live textures = %d, want 2", dev.liveTextures())
	}

	if i, err := a.Add(texs[1]); err != nil || i != 1 {
		t.Fatalf("re-Add = %d, %v", i, err)
	}
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	if !texs[1].IsResident(state) {
		t.Error("re-added texture not resident")
	}
}

func TestArena_NewContextSeededWithAllTextures(t *testing.T) {
	resetLUTDiscovery()
	s0 := NewState(newMockDevice(0))
	s1 := NewState(newMockDevice(1))
	a := NewArena()
	texs := addSolid(t, a, 3)

	if err := a.Apply(s0); err != nil {
		t.Fatal(err)
	}
	if err := a.Apply(s1); err != nil {
		t.Fatal(err)
	}
	for i, tex := range texs {
		if !tex.IsResident(s0) || !tex.IsResident(s1) {
			t.Errorf("texture %d not resident on both contexts", i)
		}
	}

	late := addSolid(t, a, 1)[0]
	if a.Pending(0) != 1 || a.Pending(1) != 1 {
		t.Errorf("Pending = %d, %d; want 1, 1", a.Pending(0), a.Pending(1))
	}
	if err := a.Apply(s1); err != nil {
		t.Fatal(err)
	}
	if !late.IsResident(s1) || late.IsCompiled(s0) {
		t.Error("late add must compile only on the applied context")
	}
}

func TestArena_IncrementalCompiler(t *testing.T) {
	resetLUTDiscovery()
	state := NewState(newMockDevice(0))
	state.Compiler = NewIncrementalCompiler()
	a := NewArena()
	texs := addSolid(t, a, 3)

	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	if texs[0].IsCompiled(state) {
		t.Fatal("compiled synchronously despite an incremental compiler")
	}
	if a.Pending(0) != 3 || state.Compiler.Pending(0) != 3 {
		t.Fatalf("pending = %d / %d, want 3", a.Pending(0), state.Compiler.Pending(0))
	}

	// A second apply must not queue duplicate compile sets.
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	if state.Compiler.Pending(0) != 3 {
		t.Errorf("compiler pending = %d after re-apply, want 3", state.Compiler.Pending(0))
	}

	if n := state.Compiler.Drain(state, 250*time.Millisecond); n != 2 {
		t.Errorf("Drain() = %d, want 2", n)
	}
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	if a.Pending(0) != 1 {
		t.Errorf("pending = %d, want 1", a.Pending(0))
	}

	if n := state.Compiler.Drain(state, 0); n != 1 {
		t.Errorf("Drain(0) = %d, want at least one compile", n)
	}
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	for i, tex := range texs {
		if !tex.IsResident(state) {
			t.Errorf("texture %d not resident after draining", i)
		}
	}
}

func TestArena_SyncCompileErrorDropsTexture(t *testing.T) {
	resetLUTDiscovery()
	dev := newMockDevice(0)
	dev.failCreate = true
	state := NewState(dev)
	a := NewArena()
	addSolid(t, a, 1)

	if err := a.Apply(state); err == nil {
		t.Fatal("Apply should report the compile failure")
	}
	if a.Pending(0) != 0 {
		t.Errorf("failed texture still pending")
	}
}

func TestArena_ReleaseGLObjects(t *testing.T) {
	resetLUTDiscovery()
	dev := newMockDevice(0)
	state := NewState(dev)
	a := NewArena()
	texs := addSolid(t, a, 2)
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}

	a.ReleaseGLObjects(state)
	if texs[0].IsCompiled(state) {
		t.Error("texture compiled after release")
	}
	if state.Releaser.Pending() != 3 {
		t.Errorf("releaser pending = %d, want 2 textures + 1 buffer", state.Releaser.Pending())
	}

	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	if dev.liveTextures() != 2 {
		t.Errorf("live textures = %d, want 2 after re-seed", dev.liveTextures())
	}
	if !texs[1].IsResident(state) {
		t.Error("context not re-seeded after release")
	}
	if a.HandleLUT(0).Reallocations() != 2 {
		t.Errorf("LUT reallocations = %d, want 2", a.HandleLUT(0).Reallocations())
	}
}

func TestArena_Stats(t *testing.T) {
	resetLUTDiscovery()
	state := NewState(newMockDevice(0))
	a := NewArena()
	addSolid(t, a, 2)
	if err := a.Apply(state); err != nil {
		t.Fatal(err)
	}
	s := a.Stats(0)
	if s.Textures != 2 || s.Compiled != 2 || s.Resident != 2 || s.GPUBytes == 0 {
		t.Errorf("Stats() = %+v", s)
	}
	if !strings.Contains(s.String(), "2 resident") {
		t.Errorf("String() = %q", s.String())
	}
}
