package mapdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/jellydator/ttlcache/v3"
	"github.com/paulmach/orb"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"

	"github.com/gogpu/terrain/internal/jobs"
	"github.com/gogpu/terrain/texture"
	"github.com/gogpu/terrain/tile"
	"github.com/gogpu/terrain/tilekey"
)

// Map errors.
var (
	ErrClosed        = errors.New("mapdata: map closed")
	ErrDuplicateName = errors.New("mapdata: duplicate layer name")
)

// DefaultCacheTTL is how long decoded tiles stay cached.
const DefaultCacheTTL = 30 * time.Second

// DefaultCacheCapacity bounds the decoded tile cache.
const DefaultCacheCapacity = 512

type cacheKey struct {
	uid tile.UID
	key tilekey.Key
}

// Option configures a Map.
type Option func(*Map)

// WithMapExtent limits the map to b. Tiles outside it are empty.
func WithMapExtent(b orb.Bound) Option {
	return func(m *Map) { m.extent = b }
}

// WithCache sets the decoded tile cache lifetime and capacity.
func WithCache(ttl time.Duration, capacity uint64) Option {
	return func(m *Map) { m.cacheTTL, m.cacheCap = ttl, capacity }
}

// WithArenas runs asynchronous image loads on arenas owned by the caller.
func WithArenas(a *jobs.Arenas) Option {
	return func(m *Map) { m.jobs = a }
}

// WithConstraints cuts polygons out of the terrain mesh.
func WithConstraints(mp orb.MultiPolygon) Option {
	return func(m *Map) { m.constraints = mp }
}

// Map is a tile.Map serving layers from tile sources.
type Map struct {
	profile     *tilekey.Profile
	extent      orb.Bound
	constraints orb.MultiPolygon

	mu     sync.RWMutex
	layers []*Layer
	byName map[string]*Layer
	uid    tile.UID

	cacheTTL time.Duration
	cacheCap uint64
	cache    *ttlcache.Cache[cacheKey, *decoded]
	group    singleflight.Group

	jobs     *jobs.Arenas
	ownJobs  bool
	ctx      context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
	asyncReq atomic.Int64
}

var _ tile.Map = (*Map)(nil)
var _ tile.ConstraintSource = (*Map)(nil)

// New creates an empty map on profile.
func New(profile *tilekey.Profile, opts ...Option) *Map {
	m := &Map{
		profile:  profile,
		extent:   profile.Extent,
		byName:   make(map[string]*Layer),
		cacheTTL: DefaultCacheTTL,
		cacheCap: DefaultCacheCapacity,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.jobs == nil {
		m.jobs = jobs.NewArenas(2, nil)
		m.ownJobs = true
	}
	m.cache = ttlcache.New[cacheKey, *decoded](
		ttlcache.WithTTL[cacheKey, *decoded](m.cacheTTL),
		ttlcache.WithCapacity[cacheKey, *decoded](m.cacheCap),
	)
	go m.cache.Start()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Profile implements tile.Map.
func (m *Map) Profile() *tilekey.Profile { return m.profile }

// Extent implements tile.Map.
func (m *Map) Extent() orb.Bound { return m.extent }

func foldName(name string) string { return cases.Fold().String(name) }

// AddLayer assigns l the next UID and adds it to the map. Names are unique
// regardless of case.
func (m *Map) AddLayer(l *Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return ErrClosed
	}
	folded := foldName(l.name)
	if _, ok := m.byName[folded]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, l.name)
	}
	m.uid++
	l.uid = m.uid
	m.layers = append(m.layers, l)
	m.byName[folded] = l
	slogger().Debug("mapdata: layer added", "layer", l.String())
	return nil
}

// Layer looks a layer up by name, ignoring case.
func (m *Map) Layer(name string) (*Layer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.byName[foldName(name)]
	return l, ok
}

// Layers implements tile.Map.
func (m *Map) Layers() []tile.Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]tile.Layer, len(m.layers))
	for i, l := range m.layers {
		out[i] = l
	}
	return out
}

// CacheMetrics reports decoded tile cache activity.
func (m *Map) CacheMetrics() ttlcache.Metrics { return m.cache.Metrics() }

// CreateTileModel implements tile.Map. Layers without a tile at key are
// left out so the tile inherits them from its parent.
func (m *Map) CreateTileModel(ctx context.Context, key tilekey.Key, manifest tile.Manifest) (*tile.TileData, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	m.mu.RLock()
	layers := append([]*Layer(nil), m.layers...)
	m.mu.RUnlock()

	data := &tile.TileData{Key: key}
	for _, l := range layers {
		if !l.InRange(key) || !m.requested(l, manifest) {
			continue
		}
		if ctx.Err() != nil {
			return nil, nil
		}

		if l.Async() {
			data.Color = append(data.Color, tile.LayerData{
				Layer:   l,
				Texture: m.asyncTexture(l, key),
				Matrix:  mgl32.Ident4(),
			})
			continue
		}

		d, err := m.decode(ctx, l, key)
		switch {
		case ctx.Err() != nil:
			return nil, nil
		case errors.Is(err, ErrNotFound):
			continue
		case err != nil:
			return nil, err
		}

		ld := tile.LayerData{
			Layer:   l,
			Texture: texture.New(label(l, key), d.image),
			Matrix:  mgl32.Ident4(),
		}
		switch l.kind {
		case tile.KindColor:
			data.Color = append(data.Color, ld)
		case tile.KindShared:
			data.Shared = append(data.Shared, ld)
		case tile.KindElevation:
			if data.Elevation == nil {
				data.Elevation = &tile.ElevationData{
					LayerData: ld,
					NormalMap: texture.New(label(l, key)+"/normals", d.normals),
				}
			}
		case tile.KindLandCover:
			if data.LandCover == nil {
				data.LandCover = &ld
			}
		}
	}
	return data, nil
}

func (m *Map) requested(l *Layer, manifest tile.Manifest) bool {
	switch l.kind {
	case tile.KindElevation:
		return manifest.IncludesElevation()
	case tile.KindLandCover:
		return manifest.IncludesLandCover()
	}
	return manifest.Includes(l.uid)
}

func label(l *Layer, key tilekey.Key) string { return l.name + "/" + key.String() }

// decode returns a private copy of the decoded tile. Concurrent requests for
// one tile share a single read; the read itself is bounded by the map's
// lifetime, not by the first caller.
func (m *Map) decode(ctx context.Context, l *Layer, key tilekey.Key) (*decoded, error) {
	ck := cacheKey{uid: l.uid, key: key}
	if it := m.cache.Get(ck); it != nil {
		return it.Value().clone(), nil
	}

	ch := m.group.DoChan(label(l, key), func() (any, error) {
		d, err := l.read(m.ctx, key)
		if err != nil {
			return nil, err
		}
		m.cache.Set(ck, d, ttlcache.DefaultTTL)
		return d, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*decoded).clone(), nil
	}
}

// asyncTexture returns a texture whose image is read on the async image
// arena. A failed read leaves the future empty.
func (m *Map) asyncTexture(l *Layer, key tilekey.Key) *texture.Texture {
	name := label(l, key)
	m.asyncReq.Add(1)
	f := jobs.Dispatch(m.ctx, m.jobs, jobs.Job{Name: name, Arena: jobs.ArenaAsyncImage}, func(ctx context.Context) *texture.Image {
		d, err := m.decode(ctx, l, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) && ctx.Err() == nil {
				slogger().Warn("mapdata: async image failed", "tile", name, "err", err)
			}
			return nil
		}
		return d.image
	})
	return texture.NewFuture(name, f)
}

// AsyncRequests returns the number of asynchronous image loads started.
func (m *Map) AsyncRequests() int64 { return m.asyncReq.Load() }

// Constraints implements tile.ConstraintSource. It returns the constraint
// polygons overlapping key.
func (m *Map) Constraints(ctx context.Context, key tilekey.Key) (orb.MultiPolygon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext := key.Extent()
	var out orb.MultiPolygon
	for _, p := range m.constraints {
		if p.Bound().Intersects(ext) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Close cancels outstanding reads, stops the cache and closes every
// distinct layer source.
func (m *Map) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.cancel()
	m.cache.Stop()
	if m.ownJobs {
		m.jobs.Close()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[Source]bool)
	var err error
	for _, l := range m.layers {
		if l.source == nil || seen[l.source] {
			continue
		}
		seen[l.source] = true
		err = multierr.Append(err, l.source.Close())
	}
	return err
}
