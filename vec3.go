package pctiler

import "fmt"

// Vec3 is a point or vector with float64 components, used throughout the
// indexing core for positions and bounds. A separate, lower-precision
// Vec3f32 is used only for the normal attribute, matching the point
// record's attribute schema.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// MaxComponent returns the largest of the three components.
func (v Vec3) MaxComponent() float64 {
	m := v.X
	if v.Y > m {
		m = v.Y
	}
	if v.Z > m {
		m = v.Z
	}
	return m
}

// Vec3f32 is the normal attribute's storage type (vec3<f32> per the
// attribute schema).
type Vec3f32 struct {
	X, Y, Z float32
}
