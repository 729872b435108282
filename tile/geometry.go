package tile

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/gogpu/terrain/tilekey"
)

// GeometryKey identifies geometry that can be shared between tiles. Tiles
// of one row share a mesh: their vertices differ only by a rotation about
// the polar axis.
type GeometryKey struct {
	Profile string
	LOD     uint32
	Row     uint32
	Size    int
}

func geometryKeyFor(key tilekey.Key, size int) GeometryKey {
	name := ""
	if key.Profile != nil {
		name = key.Profile.Name
	}
	return GeometryKey{Profile: name, LOD: key.LOD, Row: key.Y, Size: size}
}

func (k GeometryKey) hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k.Profile)) // fnv.Write never returns an error
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:], k.LOD)
	binary.LittleEndian.PutUint32(buf[4:], k.Row)
	binary.LittleEndian.PutUint64(buf[8:], uint64(k.Size))
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// SharedGeometry is a tile mesh of Size×Size vertices. Vertices are
// relative to the center of the tile in column 0 of the row.
type SharedGeometry struct {
	Key       GeometryKey
	Vertices  []mgl32.Vec3
	Normals   []mgl32.Vec3
	TexCoords []mgl32.Vec2
	Indices   []uint32

	// Masked is set on geometry that had constraint holes cut into it. It
	// belongs to one tile and is never pooled.
	Masked bool
}

// NumTriangles returns the triangle count.
func (g *SharedGeometry) NumTriangles() int { return len(g.Indices) / 3 }

// Empty reports whether the geometry has no triangles.
func (g *SharedGeometry) Empty() bool { return g == nil || len(g.Indices) == 0 }

func buildGeometry(key tilekey.Key, size int) *SharedGeometry {
	gk := geometryKeyFor(key, size)
	proto := tilekey.Key{LOD: key.LOD, X: 0, Y: key.Y, Profile: key.Profile}
	ext := proto.Extent()
	center := ecef(ext.Center().Lat(), ext.Center().Lon(), 0)

	n := size * size
	g := &SharedGeometry{
		Key:       gk,
		Vertices:  make([]mgl32.Vec3, 0, n),
		Normals:   make([]mgl32.Vec3, 0, n),
		TexCoords: make([]mgl32.Vec2, 0, n),
		Indices:   make([]uint32, 0, (size-1)*(size-1)*6),
	}
	step := 1 / float64(size-1)
	for row := range size {
		v := 1 - float64(row)*step
		lat := ext.Min.Lat() + v*(ext.Max.Lat()-ext.Min.Lat())
		for col := range size {
			u := float64(col) * step
			lon := ext.Min.Lon() + u*(ext.Max.Lon()-ext.Min.Lon())
			p := ecef(lat, lon, 0)
			g.Vertices = append(g.Vertices, vec32(p.Sub(center)))
			g.Normals = append(g.Normals, vec32(p.Normalize()))
			g.TexCoords = append(g.TexCoords, mgl32.Vec2{float32(u), float32(v)})
		}
	}
	for row := range size - 1 {
		for col := range size - 1 {
			i := uint32(row*size + col)
			s := uint32(size)
			g.Indices = append(g.Indices, i, i+s, i+1, i+1, i+s, i+s+1)
		}
	}
	return g
}

// maskGeometry returns a copy of g without the triangles whose centroid
// falls inside holes. Texture coordinates are resolved against key.
func maskGeometry(g *SharedGeometry, key tilekey.Key, holes orb.MultiPolygon) *SharedGeometry {
	ext := key.Extent()
	lonLat := func(i uint32) orb.Point {
		tc := g.TexCoords[i]
		return orb.Point{
			ext.Min.Lon() + float64(tc[0])*(ext.Max.Lon()-ext.Min.Lon()),
			ext.Min.Lat() + float64(tc[1])*(ext.Max.Lat()-ext.Min.Lat()),
		}
	}

	out := *g
	out.Masked = true
	out.Indices = make([]uint32, 0, len(g.Indices))
	for t := 0; t+2 < len(g.Indices); t += 3 {
		a, b, c := lonLat(g.Indices[t]), lonLat(g.Indices[t+1]), lonLat(g.Indices[t+2])
		centroid := orb.Point{(a[0] + b[0] + c[0]) / 3, (a[1] + b[1] + c[1]) / 3}
		if planar.MultiPolygonContains(holes, centroid) {
			continue
		}
		out.Indices = append(out.Indices, g.Indices[t:t+3]...)
	}
	return &out
}

func vec32(v mgl64.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
}

// geometryShards is the number of pool shards. Must be a power of 2.
const geometryShards = 16

// GeometryPool is a sharded LRU of shared tile meshes.
type GeometryPool struct {
	shards [geometryShards]*geometryShard

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type geometryShard struct {
	// mu serializes builds so concurrent misses on a key build it once.
	mu      sync.Mutex
	entries *lru.Cache[GeometryKey, *SharedGeometry]
}

// NewGeometryPool creates a pool holding about capacity meshes. A
// capacity of 0 disables pooling: every Get builds a new mesh.
func NewGeometryPool(capacity int) *GeometryPool {
	p := &GeometryPool{}
	if capacity <= 0 {
		return p
	}
	perShard := max(1, capacity/geometryShards)
	for i := range p.shards {
		// lru.NewWithEvict only fails for non-positive sizes.
		c, _ := lru.NewWithEvict(perShard, func(GeometryKey, *SharedGeometry) {
			p.evictions.Add(1)
		})
		p.shards[i] = &geometryShard{entries: c}
	}
	return p
}

func (p *GeometryPool) shard(k GeometryKey) *geometryShard {
	return p.shards[k.hash()&(geometryShards-1)]
}

// Get returns the mesh for key, building and pooling it on a miss.
func (p *GeometryPool) Get(key tilekey.Key, size int) *SharedGeometry {
	gk := geometryKeyFor(key, size)
	s := p.shard(gk)
	if s == nil {
		p.misses.Add(1)
		return buildGeometry(key, size)
	}
	if g, ok := s.entries.Get(gk); ok {
		p.hits.Add(1)
		return g
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.entries.Get(gk); ok {
		p.hits.Add(1)
		return g
	}
	p.misses.Add(1)
	g := buildGeometry(key, size)
	s.entries.Add(gk, g)
	return g
}

// Len returns the number of pooled meshes.
func (p *GeometryPool) Len() int {
	n := 0
	for _, s := range p.shards {
		if s != nil {
			n += s.entries.Len()
		}
	}
	return n
}

// Clear drops every pooled mesh.
func (p *GeometryPool) Clear() {
	for _, s := range p.shards {
		if s != nil {
			s.entries.Purge()
		}
	}
}

// GeometryPoolStats reports pool usage.
type GeometryPoolStats struct {
	Len       int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns hits / (hits + misses), or 0.
func (s GeometryPoolStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns a snapshot of the pool counters.
func (p *GeometryPool) Stats() GeometryPoolStats {
	return GeometryPoolStats{
		Len:       p.Len(),
		Hits:      p.hits.Load(),
		Misses:    p.misses.Load(),
		Evictions: p.evictions.Load(),
	}
}
