package headless

import (
	"github.com/gogpu/terrain/texture"
)

// TextureInfo describes a live texture object.
type TextureInfo struct {
	Desc     texture.TextureDesc
	Sampler  texture.SamplerDesc
	Handle   texture.Handle
	Uploads  int
	Mipmaped bool
}

// Texture returns information about a live texture.
func (d *Device) Texture(id texture.TextureID) (TextureInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.textures[id]
	if !ok {
		return TextureInfo{}, false
	}
	return TextureInfo{
		Desc:     obj.desc,
		Sampler:  obj.sampler,
		Handle:   obj.handle,
		Uploads:  len(obj.levels),
		Mipmaped: obj.mipped,
	}, true
}

// TextureData returns a copy of one uploaded layer of one level.
func (d *Device) TextureData(id texture.TextureID, level, layer int) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.textures[id]
	if !ok {
		return nil, false
	}
	data, ok := obj.levels[[2]int{level, layer}]
	return append([]byte(nil), data...), ok
}

// LiveTextures returns the number of texture objects not yet destroyed.
func (d *Device) LiveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.textures)
}

// CreatedTextures returns the number of CreateTexture calls that succeeded.
func (d *Device) CreatedTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// IsResident reports whether a handle is resident.
func (d *Device) IsResident(h texture.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resident[h]
}

// ResidentCount returns the number of resident handles.
func (d *Device) ResidentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.resident)
}

// Buffer returns a copy of a buffer's contents.
func (d *Device) Buffer(id texture.BufferID) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	return append([]byte(nil), buf...), ok
}

// Bound returns the buffer bound to a storage slot.
func (d *Device) Bound(binding uint32) (texture.BufferID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.bindings[binding]
	return id, ok
}

// BufferWrites returns every WriteBuffer call recorded so far.
func (d *Device) BufferWrites() []BufferWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]BufferWrite(nil), d.writes...)
}

// ResetBufferWrites clears the write log.
func (d *Device) ResetBufferWrites() {
	d.mu.Lock()
	d.writes = nil
	d.mu.Unlock()
}
