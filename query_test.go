package pctiler

import "testing"

func TestNodeIndexSet_AddContains(t *testing.T) {
	s := NewNodeIndexSet(4)
	root := RootNodeIndex(4)
	child, _ := root.Child(2)

	s.Add(root)
	if !s.Contains(root) {
		t.Error("expected set to contain root after Add")
	}
	if s.Contains(child) {
		t.Error("expected set to not contain child that was never added")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestNodeIndexSet_UnionIntersect(t *testing.T) {
	root := RootNodeIndex(4)
	a, _ := root.Child(1)
	b, _ := root.Child(2)

	sa := NewNodeIndexSet(4)
	sa.Add(a)
	sb := NewNodeIndexSet(4)
	sb.Add(b)

	u := sa.Union(sb)
	if u.Len() != 2 {
		t.Errorf("Union Len() = %d, want 2", u.Len())
	}
	if !u.Contains(a) || !u.Contains(b) {
		t.Error("Union should contain both a and b")
	}

	both := NewNodeIndexSet(4)
	both.Add(a)
	both.Add(b)
	onlyA := NewNodeIndexSet(4)
	onlyA.Add(a)

	i := both.Intersect(onlyA)
	if i.Len() != 1 || !i.Contains(a) || i.Contains(b) {
		t.Errorf("Intersect result wrong: len=%d", i.Len())
	}
}

func TestQueryAABB_PrunesNonIntersectingBranch(t *testing.T) {
	store := buildTestTree(t, 2)
	root := RootNodeIndex(2)
	if st, ok := store.Get(root); !ok {
		t.Fatalf("root not present: %v", st)
	}

	// target covering the whole root bounds should find both root and
	// the populated child at octant 5.
	full := NewAABB(Vec3{0, 0, 0}, Vec3{8, 8, 8})
	result, err := QueryAABB(store, 2, full)
	if err != nil {
		t.Fatalf("QueryAABB: %v", err)
	}
	if !result.Contains(root) {
		t.Error("expected root present in a full-bounds query")
	}
	child, _ := root.Child(5)
	if !result.Contains(child) {
		t.Error("expected octant 5 child present in a full-bounds query")
	}

	// a target far outside root bounds should prune everything below the
	// first failed intersection test, so it returns nothing at all.
	far := NewAABB(Vec3{1000, 1000, 1000}, Vec3{1001, 1001, 1001})
	empty, err := QueryAABB(store, 2, far)
	if err != nil {
		t.Fatalf("QueryAABB: %v", err)
	}
	if empty.Len() != 0 {
		t.Errorf("expected an empty result for a disjoint target, got Len()=%d", empty.Len())
	}
}

func TestIntersects(t *testing.T) {
	a := NewAABB(Vec3{0, 0, 0}, Vec3{2, 2, 2})
	tests := []struct {
		name string
		b    AABB
		want bool
	}{
		{"overlapping", NewAABB(Vec3{1, 1, 1}, Vec3{3, 3, 3}), true},
		{"touching boundary", NewAABB(Vec3{2, 0, 0}, Vec3{4, 2, 2}), true},
		{"disjoint", NewAABB(Vec3{5, 5, 5}, Vec3{6, 6, 6}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := intersects(a, tt.b); got != tt.want {
				t.Errorf("intersects(%v, %v) = %v, want %v", a, tt.b, got, tt.want)
			}
		})
	}
}
