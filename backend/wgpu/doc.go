// Package wgpu implements texture.Device on top of the gogpu/wgpu HAL.
//
// WebGPU has no native bindless handles, so the device emulates them with a
// slot table. Every compiled texture owns one slot holding its view and
// sampler; a handle packs the slot index and a generation counter:
//
//	handle = generation<<32 | (slot + 1)
//
// Destroying a texture bumps the slot generation, so stale handles stop
// resolving. Resident slots form the binding array that terrain shaders
// index through the handle lookup table; see ShaderSource.
//
// # Usage
//
//	dev, err := wgpu.NewFromProvider(0, provider)
//	if err != nil {
//	    return err
//	}
//	state := texture.NewState(dev)
//	arena.Apply(state)
//
//	for _, r := range dev.Resident() {
//	    // bind r.View and r.Sampler at array index r.Slot
//	}
//
// # Thread Safety
//
// Device is safe for concurrent use. The HAL device and queue must be
// usable from the calling goroutine.
package wgpu
