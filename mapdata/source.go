package mapdata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/gogpu/terrain/tilekey"
)

// ErrNotFound is returned when a source has no tile for a key.
var ErrNotFound = errors.New("mapdata: tile not found")

// Source reads encoded tiles.
type Source interface {
	// ReadTile returns the encoded tile of layer at key, or ErrNotFound.
	ReadTile(ctx context.Context, layer string, key tilekey.Key) ([]byte, error)
	Close() error
}

// Writer stores encoded tiles.
type Writer interface {
	WriteTile(layer string, key tilekey.Key, data []byte) error
}

// =============================================================================
// Directory
// =============================================================================

// DefaultPattern lays tiles out as layer/z/x/y.png.
const DefaultPattern = "{layer}/{z}/{x}/{y}.png"

// DirSource reads tiles from files under a root directory. The pattern
// names each file with the placeholders {layer}, {z}, {x}, {y} and {-y};
// {-y} counts rows from the southern edge.
type DirSource struct {
	root    string
	pattern string
}

// NewDirSource returns a source for root. An empty pattern selects
// DefaultPattern.
func NewDirSource(root, pattern string) *DirSource {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &DirSource{root: root, pattern: pattern}
}

// Path returns the file name of a tile.
func (s *DirSource) Path(layer string, key tilekey.Key) string {
	_, high := key.Profile.NumTiles(key.LOD)
	r := strings.NewReplacer(
		"{layer}", layer,
		"{z}", strconv.FormatUint(uint64(key.LOD), 10),
		"{x}", strconv.FormatUint(uint64(key.X), 10),
		"{y}", strconv.FormatUint(uint64(key.Y), 10),
		"{-y}", strconv.FormatUint(uint64(high-key.Y-1), 10),
	)
	return filepath.Join(s.root, filepath.FromSlash(r.Replace(s.pattern)))
}

// ReadTile implements Source.
func (s *DirSource) ReadTile(ctx context.Context, layer string, key tilekey.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(layer, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, layer, key)
	}
	return data, err
}

// WriteTile implements Writer.
func (s *DirSource) WriteTile(layer string, key tilekey.Key, data []byte) error {
	p := s.Path(layer, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// Close implements Source.
func (s *DirSource) Close() error { return nil }

// =============================================================================
// bbolt
// =============================================================================

// BoltSource reads tiles from a bbolt database. Each layer is a bucket
// keyed by "lod/x/y".
type BoltSource struct {
	db *bbolt.DB
}

// OpenBolt opens the database at path. A read-only database may be shared
// by several processes.
func OpenBolt(path string, readOnly bool) (*BoltSource, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		ReadOnly: readOnly,
		Timeout:  time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("mapdata: open %s: %w", path, err)
	}
	return &BoltSource{db: db}, nil
}

// ReadTile implements Source.
func (s *BoltSource) ReadTile(ctx context.Context, layer string, key tilekey.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(layer))
		if b == nil {
			return fmt.Errorf("%w: no layer %q", ErrNotFound, layer)
		}
		// Values are only valid inside the transaction.
		got := b.Get([]byte(key.String()))
		if got == nil {
			return fmt.Errorf("%w: %s %s", ErrNotFound, layer, key)
		}
		out = append([]byte(nil), got...)
		return nil
	})
	return out, err
}

// WriteTile implements Writer.
func (s *BoltSource) WriteTile(layer string, key tilekey.Key, data []byte) error {
	if data == nil {
		return fmt.Errorf("mapdata: nil tile %s %s", layer, key)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(layer))
		if err != nil {
			return err
		}
		return b.Put([]byte(key.String()), data)
	})
}

// Layers returns the stored layer names.
func (s *BoltSource) Layers() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// Count returns the number of tiles stored for layer.
func (s *BoltSource) Count(layer string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(layer)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Close implements Source.
func (s *BoltSource) Close() error { return s.db.Close() }
