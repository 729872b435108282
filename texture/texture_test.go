// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package texture

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/terrain/internal/jobs"
)

// =============================================================================
// Compile Tests
// =============================================================================

func TestTexture_CompileChoosesStorageFormat(t *testing.T) {
	tests := []struct {
		name string
		in   PixelFormat
		bc   bool
		want PixelFormat
	}{
		{"rgb to bc1", FormatRGB8, true, FormatBC1},
		{"rgba to bc3", FormatRGBA8, true, FormatBC3},
		{"compressed passthrough", FormatBC3, true, FormatBC3},
		{"float fallback", FormatR16F, true, FormatRGBA8},
		{"rg fallback", FormatRG8, true, FormatRGBA8},
		{"no bc support", FormatRGB8, false, FormatRGBA8},
		{"decompress without bc", FormatBC1, false, FormatRGBA8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newMockDevice(0)
			dev.caps.BlockCompression = tt.bc
			state := NewState(dev)

			tex := New(tt.name, solidImage(8, 8, tt.in, 7))
			if err := tex.Compile(state); err != nil {
				t.Fatalf("Compile: %v", err)
			}
			gc, ok := tex.GCState(0)
			if !ok {
				t.Fatal("no GC state after compile")
			}
			if gc.Format != tt.want {
				t.Errorf("storage format = %s, want %s", gc.Format, tt.want)
			}
			if gc.Handle == 0 {
				t.Error("handle not assigned")
			}
			if gc.Resident {
				t.Error("texture resident right after compile")
			}
		})
	}
}

func TestTexture_CompileUploadsEveryLevelAndLayer(t *testing.T) {
	dev := newMockDevice(0)
	state := NewState(dev)

	im := NewImage(8, 8, 3, FormatRGBA8)
	if err := GenerateMipmaps(im); err != nil {
		t.Fatal(err)
	}
	tex := New("array", im)
	if err := tex.Compile(state); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	gc, _ := tex.GCState(0)
	desc := dev.textures[gc.Object]
	if desc.Layers != 3 || desc.MipLevels != 4 {
		t.Errorf("desc = %+v, want 3 layers 4 levels", desc)
	}
	if got := dev.uploads[gc.Object]; got != 12 {
		t.Errorf("uploads = %d, want 12", got)
	}
	if dev.mipmapped[gc.Object] {
		t.Error("GPU mipmaps generated although levels were supplied")
	}
}

func TestTexture_CompileGPUMipmapsForSingleLevel(t *testing.T) {
	dev := newMockDevice(0)
	state := NewState(dev)

	tex := New("single", solidImage(16, 16, FormatRGBA8, 1))
	if err := tex.Compile(state); err != nil {
		t.Fatal(err)
	}
	gc, _ := tex.GCState(0)
	if !dev.mipmapped[gc.Object] {
		t.Error("expected GPU mipmap generation")
	}
	if dev.textures[gc.Object].MipLevels != 5 {
		t.Errorf("MipLevels = %d, want 5", dev.textures[gc.Object].MipLevels)
	}
}

func TestTexture_CompileCPUMipmapsWithoutGPUSupport(t *testing.T) {
	dev := newMockDevice(0)
	dev.caps.GPUMipmaps = false
	state := NewState(dev)

	tex := New("cpu", solidImage(4, 4, FormatRGBA8, 1))
	if err := tex.Compile(state); err != nil {
		t.Fatal(err)
	}
	gc, _ := tex.GCState(0)
	if dev.mipmapped[gc.Object] {
		t.Error("GenerateMipmaps called on a device without support")
	}
	if got := dev.uploads[gc.Object]; got != 3 {
		t.Errorf("uploads = %d, want 3 CPU levels", got)
	}
	if tex.Image().NumLevels() != 1 {
		t.Error("CPU mip chain leaked into the texture image")
	}
}

func TestTexture_CompileInvalidImage(t *testing.T) {
	state := NewState(newMockDevice(0))
	if err := New("empty", nil).Compile(state); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("Compile(nil image) err = %v, want ErrInvalidImage", err)
	}
}

func TestTexture_RecompileReleasesOldObject(t *testing.T) {
	dev := newMockDevice(0)
	state := NewState(dev)
	tex := New("t", solidImage(4, 4, FormatRGBA8, 1))

	if err := tex.Compile(state); err != nil {
		t.Fatal(err)
	}
	first := tex.Handle(state)
	if err := tex.Compile(state); err != nil {
		t.Fatal(err)
	}
	if tex.Handle(state) == first {
		t.Error("recompile kept the old handle")
	}
	if state.Releaser.Pending() != 1 {
		t.Errorf("releaser pending = %d, want 1", state.Releaser.Pending())
	}
	state.Releaser.Flush()
	if dev.liveTextures() != 1 {
		t.Errorf("live textures = %d, want 1", dev.liveTextures())
	}
}

func TestTexture_PerContextState(t *testing.T) {
	s0 := NewState(newMockDevice(0))
	s1 := NewState(newMockDevice(1))
	tex := New("shared", solidImage(4, 4, FormatRGBA8, 1))

	if err := tex.Compile(s0); err != nil {
		t.Fatal(err)
	}
	if !tex.IsCompiled(s0) {
		t.Error("not compiled on context 0")
	}
	if tex.IsCompiled(s1) {
		t.Error("compiling on context 0 leaked into context 1")
	}

	if err := tex.MakeResident(s0, true); err != nil {
		t.Fatal(err)
	}
	if !tex.IsResident(s0) {
		t.Error("not resident after MakeResident")
	}

	tex.ReleaseGLObjects(s0)
	if tex.IsCompiled(s0) {
		t.Error("still compiled after release")
	}
	if s0.Releaser.Pending() != 1 {
		t.Error("release not deferred to the releaser")
	}
}

func TestTexture_MakeResidentUncompiledIsNoop(t *testing.T) {
	state := NewState(newMockDevice(0))
	tex := New("t", solidImage(4, 4, FormatRGBA8, 1))
	if err := tex.MakeResident(state, true); err != nil {
		t.Fatal(err)
	}
	if tex.IsResident(state) {
		t.Error("uncompiled texture became resident")
	}
}

// =============================================================================
// Future Texture Tests
// =============================================================================

func TestTexture_UpdateImagesResolves(t *testing.T) {
	a := jobs.NewArenas(2, nil)
	defer a.Close()

	release := make(chan struct{})
	f := jobs.Dispatch(context.Background(), a, jobs.Job{Name: "img"}, func(context.Context) *Image {
		<-release
		return solidImage(4, 4, FormatRGBA8, 9)
	})
	tex := NewFuture("async", f)

	remaining, updated := tex.UpdateImages()
	if remaining != 1 || updated != 1 {
		t.Errorf("pending UpdateImages() = %d, %d; want 1, 1", remaining, updated)
	}
	if tex.Image() != nil {
		t.Error("image published before the future resolved")
	}

	close(release)
	if _, err := f.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	remaining, _ = tex.UpdateImages()
	if remaining != 0 {
		t.Errorf("remaining = %d after resolve", remaining)
	}
	if tex.Image() == nil || tex.IsFuture() {
		t.Error("future texture did not adopt its image")
	}
	if tex.Revision() == 0 {
		t.Error("revision not bumped")
	}
}

func TestTexture_UpdateImagesFailure(t *testing.T) {
	tex := NewFuture("failed", jobs.Resolved[*Image](nil))
	remaining, updated := tex.UpdateImages()
	if remaining != 1 || updated != 0 {
		t.Errorf("UpdateImages() = %d, %d; want 1, 0", remaining, updated)
	}
}

func TestTexture_UpdateImagesStacksLayers(t *testing.T) {
	tex := NewFuture("layers",
		jobs.Resolved(solidImage(4, 4, FormatRGBA8, 1)),
		jobs.Resolved(solidImage(4, 4, FormatRGBA8, 2)))
	if remaining, _ := tex.UpdateImages(); remaining != 0 {
		t.Fatalf("remaining = %d", remaining)
	}
	if im := tex.Image(); im.Layers != 2 || !im.Valid() {
		t.Errorf("stacked image = %d layers, valid=%v", im.Layers, im.Valid())
	}
	if tex.NumImages() != 2 {
		t.Errorf("NumImages() = %d, want 2", tex.NumImages())
	}
}
