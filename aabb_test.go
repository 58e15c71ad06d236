package pctiler

import "testing"

func TestAABB_Extent(t *testing.T) {
	b := NewAABB(Vec3{0, 0, 0}, Vec3{2, 4, 6})
	got := b.Extent()
	want := Vec3{2, 4, 6}
	if got != want {
		t.Errorf("Extent() = %v, want %v", got, want)
	}
}

func TestAABB_Contains(t *testing.T) {
	b := NewAABB(Vec3{0, 0, 0}, Vec3{10, 10, 10})
	tests := []struct {
		name string
		p    Vec3
		want bool
	}{
		{"inside", Vec3{5, 5, 5}, true},
		{"on min boundary", Vec3{0, 0, 0}, true},
		{"on max boundary", Vec3{10, 10, 10}, true},
		{"outside x", Vec3{11, 5, 5}, false},
		{"outside negative", Vec3{-1, 5, 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Contains(tt.p); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestAABB_Cubify_Idempotent(t *testing.T) {
	b := NewAABB(Vec3{0, 0, 0}, Vec3{1, 5, 2})
	once := b.Cubify()
	twice := once.Cubify()
	if once != twice {
		t.Errorf("Cubify not idempotent: once=%v twice=%v", once, twice)
	}
	e := once.Extent()
	if e.X != e.Y || e.Y != e.Z {
		t.Errorf("Cubify() extent not equal on all axes: %v", e)
	}
}

func TestAABB_Union(t *testing.T) {
	a := NewAABB(Vec3{0, 0, 0}, Vec3{1, 1, 1})
	b := NewAABB(Vec3{-1, 2, 0.5}, Vec3{0.5, 3, 2})
	u := a.Union(b)
	want := NewAABB(Vec3{-1, 0, 0}, Vec3{1, 3, 2})
	if u != want {
		t.Errorf("Union() = %v, want %v", u, want)
	}
}

func TestAABB_ChildOctantFor_RoundTrip(t *testing.T) {
	b := NewAABB(Vec3{0, 0, 0}, Vec3{8, 8, 8})
	for o := uint8(0); o < 8; o++ {
		child := b.Child(o)
		mid := child.Center()
		got := b.OctantFor(mid)
		if got != o {
			t.Errorf("octant %d: OctantFor(child(%d).Center()) = %d", o, o, got)
		}
	}
}

func TestAABB_OctantFor_CanonicalBits(t *testing.T) {
	b := NewAABB(Vec3{0, 0, 0}, Vec3{2, 2, 2}) // center (1,1,1)
	tests := []struct {
		name string
		p    Vec3
		want uint8
	}{
		{"+X +Y -Z", Vec3{1.5, 1.5, 0.5}, 0b111},
		{"-X -Y +Z", Vec3{0.5, 0.5, 1.5}, 0b000},
		{"all ties go to lower half except Z inverted", Vec3{1, 1, 1}, 0b001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.OctantFor(tt.p); got != tt.want {
				t.Errorf("OctantFor(%v) = %03b, want %03b", tt.p, got, tt.want)
			}
		})
	}
}
