package tile

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/gogpu/terrain/config"
	"github.com/gogpu/terrain/tilekey"
)

// morphStartRatio places the start of a LOD's morph band between the end
// of the next finer band and its own end.
const morphStartRatio = 0.66

// LODInfo holds the precomputed selection ranges of one LOD, in meters.
type LODInfo struct {
	VisibilityRange float64
	MorphStart      float64
	MorphEnd        float64
}

// SelectionInfo holds the visibility range of every LOD.
type SelectionInfo struct {
	firstLOD uint32
	lods     []LODInfo
}

// NewSelectionInfo computes ranges for LODs 0..opts.MaxLOD. A LOD's range
// is the radius of the circle bounding the middle tile of that LOD, scaled
// by MinTileRangeFactor.
func NewSelectionInfo(profile *tilekey.Profile, opts config.Terrain) *SelectionInfo {
	si := &SelectionInfo{firstLOD: opts.FirstLOD, lods: make([]LODInfo, opts.MaxLOD+1)}
	for lod := range si.lods {
		w, h := profile.NumTiles(uint32(lod))
		key := tilekey.Key{LOD: uint32(lod), X: w / 2, Y: h / 2, Profile: profile}
		ext := key.Extent()
		radius := geo.Distance(ext.Center(), orb.Point{ext.Max.Lon(), ext.Max.Lat()})
		si.lods[lod].VisibilityRange = radius * opts.MinTileRangeFactor * 2 / 1.405
	}

	prev := 0.0
	for lod := len(si.lods) - 1; lod >= 0; lod-- {
		end := si.lods[lod].VisibilityRange
		si.lods[lod].MorphEnd = end
		si.lods[lod].MorphStart = prev + (end-prev)*morphStartRatio
		prev = end
	}
	return si
}

// NumLODs returns the number of LODs with ranges.
func (si *SelectionInfo) NumLODs() uint32 { return uint32(len(si.lods)) }

// FirstLOD returns the root LOD.
func (si *SelectionInfo) FirstLOD() uint32 { return si.firstLOD }

// LOD returns the ranges of lod.
func (si *SelectionInfo) LOD(lod uint32) LODInfo {
	if int(lod) >= len(si.lods) {
		return LODInfo{}
	}
	return si.lods[lod]
}

// Range returns the visibility range of key's LOD.
func (si *SelectionInfo) Range(key tilekey.Key) float64 {
	return si.LOD(key.LOD).VisibilityRange
}

// MorphConstants returns (end/(end-start), 1/(end-start)) for key's LOD.
func (si *SelectionInfo) MorphConstants(key tilekey.Key) (float32, float32) {
	l := si.LOD(key.LOD)
	span := l.MorphEnd - l.MorphStart
	if span <= 0 {
		return 0, 0
	}
	return float32(l.MorphEnd / span), float32(1 / span)
}
