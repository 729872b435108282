package tile

import (
	"slices"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/terrain/texture"
)

// scaleBias maps the unit texture space of a child into the quadrant of its
// parent's texture space. Texture v grows northward, so the upper quadrants
// (0 and 1) take the top half.
var scaleBias = [4]mgl32.Mat4{
	mgl32.Translate3D(0, 0.5, 0).Mul4(mgl32.Scale3D(0.5, 0.5, 1)),
	mgl32.Translate3D(0.5, 0.5, 0).Mul4(mgl32.Scale3D(0.5, 0.5, 1)),
	mgl32.Translate3D(0, 0, 0).Mul4(mgl32.Scale3D(0.5, 0.5, 1)),
	mgl32.Translate3D(0.5, 0, 0).Mul4(mgl32.Scale3D(0.5, 0.5, 1)),
}

// ScaleBias returns the matrix that maps a child's texture coordinates in
// quadrant q to its parent's.
func ScaleBias(q int) mgl32.Mat4 {
	return scaleBias[q&3]
}

// identityIfZero treats an unset matrix as the identity.
func identityIfZero(m mgl32.Mat4) mgl32.Mat4 {
	if m == (mgl32.Mat4{}) {
		return mgl32.Ident4()
	}
	return m
}

// Sampler binds a texture to one slot of a tile.
//
// An owned sampler holds the tile's own data with an identity matrix. An
// inherited sampler borrows an ancestor's texture through a scale/bias
// matrix until the tile's own data arrives.
type Sampler struct {
	Texture  *texture.Texture
	Matrix   mgl32.Mat4
	Revision uint64

	// FutureTexture is an asynchronously loading replacement for Texture.
	// It is swapped in by TileNode.Update once every image has arrived.
	FutureTexture *texture.Texture

	owned bool
}

// OwnsTexture reports whether the sampler holds the tile's own data.
func (s *Sampler) OwnsTexture() bool {
	return s.Texture != nil && s.owned
}

// InheritsTexture reports whether the sampler borrows an ancestor's data.
func (s *Sampler) InheritsTexture() bool {
	return s.Texture != nil && !s.owned
}

// SetOwned installs the tile's own texture and bumps the revision.
func (s *Sampler) SetOwned(tex *texture.Texture, matrix mgl32.Mat4, revision uint64) {
	s.Texture = tex
	s.Matrix = identityIfZero(matrix)
	s.Revision = max(revision, s.Revision+1)
	s.FutureTexture = nil
	s.owned = true
}

// Clear drops the texture.
func (s *Sampler) Clear() {
	*s = Sampler{Matrix: mgl32.Ident4()}
}

// InheritFrom copies the parent sampler and narrows its matrix to the
// child quadrant. A nil or empty parent clears the sampler. It reports
// whether anything changed.
func (s *Sampler) InheritFrom(parent *Sampler, sb mgl32.Mat4) bool {
	before := *s
	if parent == nil || parent.Texture == nil {
		s.Clear()
	} else {
		*s = Sampler{
			Texture:  parent.Texture,
			Matrix:   identityIfZero(parent.Matrix).Mul4(sb),
			Revision: parent.Revision,
		}
	}
	return !s.equal(&before)
}

func (s *Sampler) equal(o *Sampler) bool {
	return s.Texture == o.Texture &&
		s.FutureTexture == o.FutureTexture &&
		s.Revision == o.Revision &&
		s.owned == o.owned &&
		identityIfZero(s.Matrix) == identityIfZero(o.Matrix)
}

// RenderingPass binds one color layer on a tile. The matching pass of the
// parent tile is found by source UID, never held.
type RenderingPass struct {
	sourceUID UID
	layer     Layer
	samplers  []Sampler
}

func newRenderingPass(uid UID, layer Layer, slots int) *RenderingPass {
	p := &RenderingPass{sourceUID: uid, layer: layer, samplers: make([]Sampler, slots)}
	for i := range p.samplers {
		p.samplers[i].Matrix = mgl32.Ident4()
	}
	return p
}

// SourceUID returns the UID of the layer feeding the pass.
func (p *RenderingPass) SourceUID() UID { return p.sourceUID }

// Layer returns the layer feeding the pass.
func (p *RenderingPass) Layer() Layer { return p.layer }

// Sampler returns the sampler at b.
func (p *RenderingPass) Sampler(b SamplerBinding) *Sampler { return &p.samplers[b] }

// OwnsTexture reports whether the pass color is the tile's own.
func (p *RenderingPass) OwnsTexture() bool { return p.samplers[BindingColor].OwnsTexture() }

// InheritsTexture reports whether the pass color is borrowed.
func (p *RenderingPass) InheritsTexture() bool {
	return p.samplers[BindingColor].InheritsTexture()
}

// InheritFrom replaces every sampler with the parent pass's, narrowed to
// the child quadrant, and returns the number of samplers that changed.
func (p *RenderingPass) InheritFrom(parent *RenderingPass, sb mgl32.Mat4) int {
	p.sourceUID = parent.sourceUID
	p.layer = parent.layer
	changes := 0
	for i := range p.samplers {
		var ps *Sampler
		if i < len(parent.samplers) {
			ps = &parent.samplers[i]
		}
		if p.samplers[i].InheritFrom(ps, sb) {
			changes++
		}
	}
	return changes
}

func (p *RenderingPass) clone() *RenderingPass {
	return &RenderingPass{sourceUID: p.sourceUID, layer: p.layer, samplers: slices.Clone(p.samplers)}
}

// RenderModel is the texture state of one tile: a pass per color layer and
// a sampler per shared slot.
type RenderModel struct {
	slots  int
	passes []*RenderingPass
	shared []Sampler
}

// NewRenderModel creates an empty model for the bindings.
func NewRenderModel(bindings RenderBindings) *RenderModel {
	m := &RenderModel{slots: len(bindings), shared: make([]Sampler, len(bindings))}
	for i := range m.shared {
		m.shared[i].Matrix = mgl32.Ident4()
	}
	return m
}

// Passes returns the passes in creation order.
func (m *RenderModel) Passes() []*RenderingPass { return slices.Clone(m.passes) }

// Pass returns the pass for uid, or nil.
func (m *RenderModel) Pass(uid UID) *RenderingPass {
	for _, p := range m.passes {
		if p.sourceUID == uid {
			return p
		}
	}
	return nil
}

// AddPass returns the pass for uid, creating an empty one if needed.
func (m *RenderModel) AddPass(uid UID, layer Layer) *RenderingPass {
	if p := m.Pass(uid); p != nil {
		return p
	}
	p := newRenderingPass(uid, layer, m.slots)
	m.passes = append(m.passes, p)
	return p
}

// RemovePass deletes the pass for uid and reports whether one existed.
func (m *RenderModel) RemovePass(uid UID) bool {
	n := len(m.passes)
	m.passes = slices.DeleteFunc(m.passes, func(p *RenderingPass) bool { return p.sourceUID == uid })
	return len(m.passes) != n
}

// Shared returns the shared sampler at b.
func (m *RenderModel) Shared(b SamplerBinding) *Sampler { return &m.shared[b] }

// SetShared installs an owned texture in the shared slot b.
func (m *RenderModel) SetShared(b SamplerBinding, tex *texture.Texture, matrix mgl32.Mat4, revision uint64) {
	m.shared[b].SetOwned(tex, matrix, revision)
}

// ClearShared empties the shared slot b.
func (m *RenderModel) ClearShared(b SamplerBinding) { m.shared[b].Clear() }

// OwnedTextures returns every texture the model owns, including pending
// future textures, without duplicates.
func (m *RenderModel) OwnedTextures() []*texture.Texture {
	var out []*texture.Texture
	push := func(tex *texture.Texture) {
		if !slices.Contains(out, tex) {
			out = append(out, tex)
		}
	}
	add := func(s *Sampler) {
		if s.OwnsTexture() {
			push(s.Texture)
		}
		if s.FutureTexture != nil {
			push(s.FutureTexture)
		}
	}
	for _, p := range m.passes {
		for i := range p.samplers {
			add(&p.samplers[i])
		}
	}
	for i := range m.shared {
		add(&m.shared[i])
	}
	return out
}

// Clone returns a deep copy. Textures are shared.
func (m *RenderModel) Clone() *RenderModel {
	c := &RenderModel{slots: m.slots, shared: slices.Clone(m.shared)}
	c.passes = make([]*RenderingPass, len(m.passes))
	for i, p := range m.passes {
		c.passes[i] = p.clone()
	}
	return c
}
