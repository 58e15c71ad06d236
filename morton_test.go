package pctiler

import "testing"

func rootBounds() AABB {
	return NewAABB(Vec3{0, 0, 0}, Vec3{8, 8, 8})
}

func TestOctreeNodeIndex_ParentOfChild(t *testing.T) {
	root := RootNodeIndex(5)
	for o := uint8(0); o < 8; o++ {
		child, err := root.Child(o)
		if err != nil {
			t.Fatalf("Child(%d): %v", o, err)
		}
		parent, err := child.Parent()
		if err != nil {
			t.Fatalf("Parent(): %v", err)
		}
		if !parent.Equal(root) {
			t.Errorf("octant %d: Parent(Child(root,%d)) != root", o, o)
		}
	}
}

func TestOctreeNodeIndex_ChildOctantAtLevel(t *testing.T) {
	root := RootNodeIndex(5)
	for o := uint8(0); o < 8; o++ {
		child, err := root.Child(o)
		if err != nil {
			t.Fatalf("Child(%d): %v", o, err)
		}
		got, err := child.OctantAtLevel(1)
		if err != nil {
			t.Fatalf("OctantAtLevel: %v", err)
		}
		if got != o {
			t.Errorf("Child(root,%d).OctantAtLevel(1) = %d, want %d", o, got, o)
		}
	}
}

func TestOctreeNodeIndex_ChildPastMaxLevels(t *testing.T) {
	n := RootNodeIndex(0)
	if _, err := n.Child(0); err == nil {
		t.Fatal("Child() at MaxLevels should fail")
	}
}

func TestOctreeNodeIndex_ParentOfRoot(t *testing.T) {
	root := RootNodeIndex(5)
	if _, err := root.Parent(); err == nil {
		t.Fatal("Parent() of root should fail")
	}
}

func TestOctreeNodeIndex_StringRoundTrip(t *testing.T) {
	maxLevels := uint32(6)
	root := RootNodeIndex(maxLevels)
	n := root
	for _, o := range []uint8{3, 0, 7, 2} {
		var err error
		n, err = n.Child(o)
		if err != nil {
			t.Fatalf("Child(%d): %v", o, err)
		}
	}

	for _, conv := range []NamingConvention{Simple, Potree, Entwine} {
		s := n.ToString(conv)
		parsed, err := NodeIndexFromString(s, conv, maxLevels)
		if err != nil {
			t.Fatalf("convention %d: NodeIndexFromString(%q): %v", conv, s, err)
		}
		if !parsed.Equal(n) {
			t.Errorf("convention %d: round trip %q -> %v, want %v", conv, s, parsed, n)
		}
	}
}

func TestNodeIndexFromString_MalformedInputs(t *testing.T) {
	tests := []struct {
		name string
		s    string
		conv NamingConvention
	}{
		{"simple bad digit", "089", Simple},
		{"potree missing prefix", "012", Potree},
		{"entwine wrong arity", "1-2-3", Entwine},
		{"entwine bad number", "1-x-2-3", Entwine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NodeIndexFromString(tt.s, tt.conv, 10); err == nil {
				t.Errorf("expected error parsing %q", tt.s)
			}
		})
	}
}

func TestMortonIndex_BitExactWithOctantFor(t *testing.T) {
	root := rootBounds()
	p := Vec3{6, 1, 7} // deterministic point inside root
	const levels = uint32(3)

	m := NewMortonIndex(p, root, levels)
	nodeFromMorton, err := m.ToOctreeNodeIndex(levels)
	if err != nil {
		t.Fatalf("ToOctreeNodeIndex: %v", err)
	}

	cur := root
	nodeFromDescent := RootNodeIndex(levels)
	for l := uint32(0); l < levels; l++ {
		o := cur.OctantFor(p)
		nodeFromDescent, err = nodeFromDescent.Child(o)
		if err != nil {
			t.Fatalf("Child: %v", err)
		}
		cur = cur.Child(o)
	}

	if !nodeFromMorton.Equal(nodeFromDescent) {
		t.Errorf("MortonIndex-derived node %v != octant-descent node %v", nodeFromMorton, nodeFromDescent)
	}
}

func TestOctreeNodeIndex_Compare(t *testing.T) {
	root := RootNodeIndex(4)
	a, _ := root.Child(1)
	b, _ := root.Child(5)
	if a.Compare(b) >= 0 {
		t.Errorf("expected Child(1) < Child(5)")
	}
	if a.Compare(a) != 0 {
		t.Errorf("expected Compare(a,a) == 0")
	}
}
