package pctiler

// AABB is an axis-aligned bounding box with Min <= Max component-wise.
//
// Octant numbering is canonical and fixed across the whole system: bit 2
// (value 4) is set when the point lies on the +X half, bit 1 (value 2) when
// it lies on the +Y half, and bit 0 (value 1) when it lies on the -Z half
// (note the inverted sense on Z - this matches the source tool's labelled
// diagram and MUST stay bit-exact with MortonIndex's interleaving, see
// octantBits below). Ties (a coordinate exactly on the split plane) go to
// whichever bit value represents the "lower" half on that axis - 0 for X
// and Y, 1 for Z.
type AABB struct {
	Min, Max Vec3
}

// NewAABB builds an AABB, assuming min <= max component-wise already holds.
func NewAABB(min, max Vec3) AABB {
	return AABB{Min: min, Max: max}
}

// Extent returns the size of the box along each axis.
func (b AABB) Extent() Vec3 {
	return b.Max.Sub(b.Min)
}

// Center returns the midpoint of the box.
func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Extent().Scale(0.5))
}

// Contains reports whether p lies within the box, inclusive of the
// boundary.
func (b AABB) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Union returns the smallest AABB containing both b and o.
func (b AABB) Union(o AABB) AABB {
	return AABB{
		Min: Vec3{min(b.Min.X, o.Min.X), min(b.Min.Y, o.Min.Y), min(b.Min.Z, o.Min.Z)},
		Max: Vec3{max(b.Max.X, o.Max.X), max(b.Max.Y, o.Max.Y), max(b.Max.Z, o.Max.Z)},
	}
}

// UnionPoint extends b, if needed, to also contain p.
func (b AABB) UnionPoint(p Vec3) AABB {
	return AABB{
		Min: Vec3{min(b.Min.X, p.X), min(b.Min.Y, p.Y), min(b.Min.Z, p.Z)},
		Max: Vec3{max(b.Max.X, p.X), max(b.Max.Y, p.Y), max(b.Max.Z, p.Z)},
	}
}

// Cubify extends Max so all sides equal the longest extent, producing a
// cubic box anchored at Min. The Morton encoding assumes equal axis
// lengths, so the root AABB must always be cubified before indexing.
// Cubify is idempotent: Cubify(Cubify(b)) == Cubify(b).
func (b AABB) Cubify() AABB {
	longest := b.Extent().MaxComponent()
	return AABB{
		Min: b.Min,
		Max: Vec3{b.Min.X + longest, b.Min.Y + longest, b.Min.Z + longest},
	}
}

// octantBits computes the canonical 3-bit octant code for p relative to a
// box with the given center: bit2=+X, bit1=+Y, bit0=-Z, ties going to the
// "lower" bit value on each axis. Shared by AABB.OctantFor and MortonIndex
// construction so the two stay bit-exact (testable property 5).
func octantBits(p, center Vec3) uint8 {
	var o uint8
	if p.X > center.X {
		o |= 1 << 2
	}
	if p.Y > center.Y {
		o |= 1 << 1
	}
	if p.Z <= center.Z {
		o |= 1 << 0
	}
	return o
}

// OctantFor returns the 3-bit octant code of p within b.
func (b AABB) OctantFor(p Vec3) uint8 {
	return octantBits(p, b.Center())
}

// Child returns the i-th octant sub-box of b, i in [0,8). Splits along the
// center on every axis; which half each bit selects follows octantBits's
// convention.
func (b AABB) Child(i uint8) AABB {
	c := b.Center()
	child := AABB{}
	if i&(1<<2) != 0 {
		child.Min.X, child.Max.X = c.X, b.Max.X
	} else {
		child.Min.X, child.Max.X = b.Min.X, c.X
	}
	if i&(1<<1) != 0 {
		child.Min.Y, child.Max.Y = c.Y, b.Max.Y
	} else {
		child.Min.Y, child.Max.Y = b.Min.Y, c.Y
	}
	if i&(1<<0) != 0 {
		// bit0 set => -Z half (lower)
		child.Min.Z, child.Max.Z = b.Min.Z, c.Z
	} else {
		child.Min.Z, child.Max.Z = c.Z, b.Max.Z
	}
	return child
}
