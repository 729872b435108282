package tilekey

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestKey_ChildParentRoundTrip(t *testing.T) {
	k := Key{LOD: 3, X: 5, Y: 2, Profile: GlobalGeodetic}
	for q := range 4 {
		c := k.Child(q)
		if c.LOD != 4 {
			t.Errorf("Child(%d).LOD = %d, want 4", q, c.LOD)
		}
		if c.Quadrant() != q {
			t.Errorf("Child(%d).Quadrant() = %d", q, c.Quadrant())
		}
		if c.Parent() != k {
			t.Errorf("Child(%d).Parent() = %v, want %v", q, c.Parent(), k)
		}
	}
}

func TestKey_Quadrant(t *testing.T) {
	tests := []struct {
		x, y uint32
		want int
	}{
		{0, 0, 0},
		{1, 0, 1},
		{0, 1, 2},
		{1, 1, 3},
		{6, 9, 2},
	}
	for _, tt := range tests {
		k := Key{LOD: 4, X: tt.x, Y: tt.y, Profile: GlobalGeodetic}
		if got := k.Quadrant(); got != tt.want {
			t.Errorf("Quadrant(%d,%d) = %d, want %d", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestKey_NeighborWrapsX(t *testing.T) {
	k := Key{LOD: 1, X: 3, Y: 0, Profile: GlobalGeodetic}
	east := k.Neighbor(1, 0)
	if east.X != 0 || !east.Valid() {
		t.Errorf("east neighbor = %v, want x=0", east)
	}
	if north := k.Neighbor(0, -1); north.Valid() {
		t.Errorf("north of row 0 should be invalid, got %v", north)
	}
	if south := k.Neighbor(0, 1); south.Y != 1 {
		t.Errorf("south neighbor = %v", south)
	}
}

func TestKey_ExtentGeodetic(t *testing.T) {
	k := Key{LOD: 0, X: 1, Y: 0, Profile: GlobalGeodetic}
	got := k.Extent()
	want := orb.Bound{Min: orb.Point{0, -90}, Max: orb.Point{180, 90}}
	if got != want {
		t.Errorf("Extent() = %v, want %v", got, want)
	}

	c := k.Child(0).Extent()
	if c.Min[0] != 0 || c.Max[0] != 90 || c.Min[1] != 0 || c.Max[1] != 90 {
		t.Errorf("Child(0).Extent() = %v", c)
	}
}

func TestKey_ExtentMercator(t *testing.T) {
	k := Key{LOD: 1, X: 0, Y: 0, Profile: SphericalMercator}
	b := k.Extent()
	if b.Min[0] != -180 || math.Abs(b.Max[0]) > 1e-9 {
		t.Errorf("Extent() = %v", b)
	}
	if b.Min[1] > 1e-9 || b.Max[1] < 85 {
		t.Errorf("Extent() latitude = %v", b)
	}
}

func TestProfile_RootKeys(t *testing.T) {
	keys := GlobalGeodetic.RootKeys(0)
	if len(keys) != 2 {
		t.Fatalf("len(RootKeys(0)) = %d, want 2", len(keys))
	}
	for _, k := range keys {
		if !k.Valid() {
			t.Errorf("root key %v invalid", k)
		}
	}
	if n := len(GlobalGeodetic.RootKeys(2)); n != 32 {
		t.Errorf("len(RootKeys(2)) = %d, want 32", n)
	}
}

func TestProfile_KeyAt(t *testing.T) {
	k, ok := GlobalGeodetic.KeyAt(orb.Point{10, 10}, 1)
	if !ok {
		t.Fatal("KeyAt returned false")
	}
	if k.X != 2 || k.Y != 0 {
		t.Errorf("KeyAt = %v, want 1/2/0", k)
	}
	if !k.Extent().Contains(orb.Point{10, 10}) {
		t.Errorf("extent %v does not contain point", k.Extent())
	}
}

func TestParse(t *testing.T) {
	k, err := Parse("2/3/1", GlobalGeodetic)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if k.String() != "2/3/1" {
		t.Errorf("String() = %q", k.String())
	}
	if _, err := Parse("0/5/0", GlobalGeodetic); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Parse out-of-range err = %v, want ErrInvalidKey", err)
	}
	if _, err := Parse("bogus", GlobalGeodetic); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Parse garbage err = %v, want ErrInvalidKey", err)
	}
}
