package tile

import (
	"context"
	"weak"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/terrain/texture"
)

// CreateGeometry builds the tile mesh and bounds. A tile outside the map
// extent, or masked away entirely by constraints, is empty.
func (t *TileNode) CreateGeometry(ctx context.Context) {
	surface := NewSurfaceNode(t.key)
	m := t.ec.Map
	if m == nil || !t.key.Extent().Intersects(m.Extent()) {
		t.surface.Store(surface)
		t.geometry.Store(nil)
		t.empty.Store(true)
		return
	}

	geom := t.ec.Geometry.Get(t.key, t.ec.Options.TileSize)
	if cs, ok := m.(ConstraintSource); ok {
		holes, err := cs.Constraints(ctx, t.key)
		switch {
		case err != nil:
			slogger().Warn("tile: constraints failed", "key", t.key, "err", err)
		case len(holes) > 0:
			geom = maskGeometry(geom, t.key, holes)
		}
	}
	if ctx.Err() != nil {
		return
	}

	t.modelMu.RLock()
	elev := *t.model.Shared(BindingElevation)
	t.modelMu.RUnlock()
	if elev.Texture != nil {
		surface.SetElevationRaster(elev.Texture.Image(), elev.Matrix)
	}

	t.geometry.Store(geom)
	t.surface.Store(surface)
	t.empty.Store(geom.Empty())
}

// InitializeData seeds the tile from its parent and registers it as live.
// Every parent pass whose layer covers this tile is inherited with the
// quadrant scale/bias, and COLOR_PARENT starts equal to COLOR. Shared
// samplers are inherited the same way.
func (t *TileNode) InitializeData() {
	if parent := t.Parent(); parent != nil {
		sb := ScaleBias(t.key.Quadrant())
		b := t.ec.Bindings

		parent.modelMu.RLock()
		t.modelMu.Lock()
		for _, pp := range parent.model.passes {
			if !t.passInLegalRange(pp) {
				continue
			}
			p := t.model.AddPass(pp.sourceUID, pp.layer)
			p.InheritFrom(pp, sb)
			if b[BindingColorParent].Active {
				*p.Sampler(BindingColorParent) = *p.Sampler(BindingColor)
			}
		}
		for i := range t.model.shared {
			if b[i].Active {
				t.model.shared[i].InheritFrom(&parent.model.shared[i], sb)
			}
		}
		t.updateElevationRaster()
		t.modelMu.Unlock()
		parent.modelMu.RUnlock()
	}

	t.ec.Live.Add(t)
	t.ec.notifyTileUpdate(t)
}

// passInLegalRange reports whether the layer of pass p has data for this
// tile.
func (t *TileNode) passInLegalRange(p *RenderingPass) bool {
	return p.layer == nil || p.layer.InRange(t.key)
}

// updateElevationRaster refreshes the surface height range from the
// elevation sampler. t.modelMu must be held.
func (t *TileNode) updateElevationRaster() {
	surface := t.surface.Load()
	if surface == nil {
		return
	}
	if s := t.model.Shared(BindingElevation); s.Texture != nil {
		surface.SetElevationRaster(s.Texture.Image(), s.Matrix)
	} else {
		surface.SetElevationRaster(nil, mgl32.Ident4())
	}
}

// RefreshInheritedData brings every inherited sampler of the tile in line
// with parent and recurses into the children when anything changed. It
// returns the number of samplers or passes that changed on this tile.
func (t *TileNode) RefreshInheritedData(parent *TileNode) int {
	if parent == nil {
		return 0
	}
	sb := ScaleBias(t.key.Quadrant())
	b := t.ec.Bindings
	changes := 0

	parent.modelMu.RLock()
	t.modelMu.Lock()

	for _, p := range t.model.Passes() {
		if p.InheritsTexture() && parent.model.Pass(p.sourceUID) == nil {
			t.model.RemovePass(p.sourceUID)
			changes++
		}
	}

	for _, pp := range parent.model.passes {
		p := t.model.Pass(pp.sourceUID)
		legal := t.passInLegalRange(pp)
		if p == nil {
			if !legal {
				continue
			}
			p = t.model.AddPass(pp.sourceUID, pp.layer)
			p.InheritFrom(pp, sb)
			changes++
		}

		if b[BindingColor].Active {
			if s := p.Sampler(BindingColor); s.InheritsTexture() && s.InheritFrom(pp.Sampler(BindingColor), sb) {
				changes++
			}
		}

		if b[BindingColorParent].Active {
			cp := p.Sampler(BindingColorParent)
			want := *p.Sampler(BindingColor)
			want.FutureTexture = nil
			if pc := pp.Sampler(BindingColor); pc.Texture != nil && legal {
				want = Sampler{
					Texture:  pc.Texture,
					Matrix:   identityIfZero(pc.Matrix).Mul4(sb),
					Revision: pc.Revision,
				}
			}
			if !cp.equal(&want) {
				*cp = want
				changes++
			}
		}
	}

	for i := range t.model.shared {
		s := &t.model.shared[i]
		if !b[i].Active || !s.InheritsTexture() {
			continue
		}
		if s.InheritFrom(&parent.model.shared[i], sb) {
			changes++
			if SamplerBinding(i) == BindingElevation {
				t.updateElevationRaster()
			}
		}
	}

	if changes > 0 {
		t.revision.Add(1)
	}
	t.modelMu.Unlock()
	parent.modelMu.RUnlock()

	if changes > 0 {
		for _, k := range t.Children() {
			k.RefreshInheritedData(t)
		}
	}
	return changes
}

// RefreshAllLayers queues a load of every layer.
func (t *TileNode) RefreshAllLayers() { t.RefreshLayers(Manifest{}) }

// RefreshLayers queues a load of the layers in manifest.
func (t *TileNode) RefreshLayers(manifest Manifest) {
	op := NewLoadTileDataOperation(t, manifest)

	t.loadMu.Lock()
	t.loadQueue = append(t.loadQueue, op)
	t.nextManifest = &t.loadQueue[0].manifest
	t.loadsInQueue.Store(int32(len(t.loadQueue)))
	t.loadMu.Unlock()
}

// Merge installs loaded data into the tile's render model.
//
// Layers in the manifest that produced no data fall back to the parent's
// data, or are removed when the parent has none. Children re-inherit
// afterwards.
func (t *TileNode) Merge(data *TileData, manifest Manifest) {
	if data == nil || t.released.Load() {
		return
	}
	if manifest.IncludesConstraints() {
		t.CreateGeometry(t.ec.ctx)
	}

	sb := ScaleBias(t.key.Quadrant())
	b := t.ec.Bindings
	parent := t.Parent()
	newElevation := false
	newNormals := false

	if parent != nil {
		parent.modelMu.RLock()
	}
	t.modelMu.Lock()

	parentPass := func(uid UID) *RenderingPass {
		if parent == nil {
			return nil
		}
		return parent.model.Pass(uid)
	}
	inheritShared := func(slot SamplerBinding) {
		if parent == nil {
			t.model.ClearShared(slot)
			return
		}
		t.model.shared[slot].InheritFrom(&parent.model.shared[slot], sb)
	}

	if b[BindingColor].Active {
		loaded := make(map[UID]bool, len(data.Color))
		for i := range data.Color {
			ld := &data.Color[i]
			if ld.Layer == nil || ld.Texture == nil {
				continue
			}
			uid := ld.Layer.UID()
			loaded[uid] = true

			pass := t.model.Pass(uid)
			isNew := pass == nil
			if isNew {
				pass = t.model.AddPass(uid, ld.Layer)
			}

			if isAsync(ld.Layer) {
				if pp := parentPass(uid); pp != nil {
					pass.InheritFrom(pp, sb)
					if b[BindingColorParent].Active {
						pc := pp.Sampler(BindingColor)
						*pass.Sampler(BindingColorParent) = Sampler{
							Texture:  pc.Texture,
							Matrix:   identityIfZero(pc.Matrix).Mul4(sb),
							Revision: pc.Revision,
						}
					}
				} else {
					pass.Sampler(BindingColor).SetOwned(ld.Texture, ld.Matrix, ld.Revision)
				}
				pass.Sampler(BindingColor).FutureTexture = ld.Texture
				t.imageUpdatesActive.Store(true)
				continue
			}

			pass.Sampler(BindingColor).SetOwned(ld.Texture, ld.Matrix, ld.Revision)
			if isNew && b[BindingColorParent].Active {
				*pass.Sampler(BindingColorParent) = *pass.Sampler(BindingColor)
			}
			if ld.Texture.IsFuture() {
				t.imageUpdatesActive.Store(true)
			}
		}

		for _, p := range t.model.Passes() {
			if !p.OwnsTexture() || loaded[p.sourceUID] || !manifest.Includes(p.sourceUID) {
				continue
			}
			if pp := parentPass(p.sourceUID); pp != nil {
				p.InheritFrom(pp, sb)
			} else {
				t.model.RemovePass(p.sourceUID)
			}
		}
	}

	if b[BindingElevation].Active {
		e := data.Elevation
		switch {
		case e != nil && e.Texture != nil:
			t.model.SetShared(BindingElevation, e.Texture, e.Matrix, e.Revision)
			t.updateElevationRaster()
			newElevation = true
		case manifest.IncludesElevation() && t.model.Shared(BindingElevation).OwnsTexture():
			inheritShared(BindingElevation)
			t.updateElevationRaster()
			newElevation = true
		}
	}

	if b[BindingNormal].Active {
		e := data.Elevation
		switch {
		case e != nil && e.NormalMap != nil:
			t.model.SetShared(BindingNormal, e.NormalMap, e.Matrix, e.Revision)
			newNormals = true
		case manifest.IncludesElevation() && t.model.Shared(BindingNormal).OwnsTexture():
			inheritShared(BindingNormal)
		}
	}

	if b[BindingLandCover].Active {
		lc := data.LandCover
		switch {
		case lc != nil && lc.Texture != nil:
			t.model.SetShared(BindingLandCover, lc.Texture, lc.Matrix, lc.Revision)
		case manifest.IncludesLandCover() && t.model.Shared(BindingLandCover).OwnsTexture():
			inheritShared(BindingLandCover)
		}
	}

	loadedShared := make(map[UID]bool, len(data.Shared))
	for _, ld := range data.Shared {
		if ld.Layer == nil || ld.Texture == nil {
			continue
		}
		if slot, ok := b.Shared(ld.Layer.UID()); ok && b[slot].Active {
			t.model.SetShared(slot, ld.Texture, ld.Matrix, ld.Revision)
			loadedShared[ld.Layer.UID()] = true
		}
	}
	for i := int(BindingShared); i < len(b); i++ {
		uid := b[i].SourceUID
		if b[i].Active && manifest.Includes(uid) && !loadedShared[uid] {
			inheritShared(SamplerBinding(i))
		}
	}

	t.revision.Add(1)
	t.modelMu.Unlock()
	if parent != nil {
		parent.modelMu.RUnlock()
	}
	t.merged.Store(true)

	if newNormals {
		t.updateNormalMap()
	}
	for _, k := range t.Children() {
		k.RefreshInheritedData(t)
	}
	if newElevation {
		t.ec.notifyTileUpdate(t)
	}
}

// NotifyOfArrival records that as the east or south neighbour and
// stitches the normal map edge shared with it.
func (t *TileNode) NotifyOfArrival(that *TileNode) {
	if that == nil || !t.ec.Options.NormalizeEdges {
		return
	}
	t.neighborMu.Lock()
	switch that.key {
	case t.key.Neighbor(1, 0):
		t.east = weak.Make(that)
	case t.key.Neighbor(0, 1):
		t.south = weak.Make(that)
	}
	t.neighborMu.Unlock()
	t.updateNormalMap()
}

func (t *TileNode) neighbors() (east, south *TileNode) {
	t.neighborMu.Lock()
	defer t.neighborMu.Unlock()
	return t.east.Value(), t.south.Value()
}

// ownNormalMap returns the tile's own normal texture, or nil when it is
// inherited or missing.
func (t *TileNode) ownNormalMap() *texture.Texture {
	t.modelMu.RLock()
	defer t.modelMu.RUnlock()
	if s := t.model.Shared(BindingNormal); s.OwnsTexture() {
		return s.Texture
	}
	return nil
}

// updateNormalMap copies the west column of the east neighbour's normal
// map over this tile's east column and the north row of the south
// neighbour's over this tile's south row, so shading matches across the
// seam. Each neighbour is stitched on its own.
func (t *TileNode) updateNormalMap() {
	if !t.ec.Options.NormalizeEdges {
		return
	}
	mine := t.ownNormalMap()
	if mine == nil {
		return
	}
	im := mine.Image()
	if !im.Valid() || im.Format.Compressed() {
		return
	}

	east, south := t.neighbors()
	changed := false

	if east != nil {
		if other := east.normalImage(im); other != nil {
			for y := range im.Height {
				if copyTexel(im, im.Width-1, y, other, 0, y) {
					changed = true
				}
			}
		}
	}
	if south != nil {
		if other := south.normalImage(im); other != nil {
			for x := range im.Width {
				if copyTexel(im, x, im.Height-1, other, x, 0) {
					changed = true
				}
			}
		}
	}

	if changed {
		mine.MarkDirty()
		if t.ec.Textures != nil {
			t.ec.Textures.Refresh(mine)
		}
	}
}

// normalImage returns the tile's own normal image if its size and format
// match like.
func (t *TileNode) normalImage(like *texture.Image) *texture.Image {
	tex := t.ownNormalMap()
	if tex == nil {
		return nil
	}
	im := tex.Image()
	if !im.Valid() || im.Width != like.Width || im.Height != like.Height || im.Format != like.Format {
		return nil
	}
	return im
}

// copyTexel copies src(sx, sy) to dst(dx, dy) and reports whether dst
// changed.
func copyTexel(dst *texture.Image, dx, dy int, src *texture.Image, sx, sy int) bool {
	from, err := src.Pixel(sx, sy)
	if err != nil {
		return false
	}
	to, err := dst.Pixel(dx, dy)
	if err != nil || string(to) == string(from) {
		return false
	}
	copy(to, from)
	return true
}
