package spatial

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Plane is the set of points p where Normal.Dot(p) + Distance == 0. Points
// with a positive signed distance are on the inner side.
type Plane struct {
	Normal   mgl32.Vec3
	Distance float32
}

func NewPlane(v mgl32.Vec4) Plane {
	return Plane{
		Normal:   v.Vec3(),
		Distance: v[3],
	}
}

func (p Plane) SignedDistance(v mgl32.Vec3) float32 {
	return p.Normal.Dot(v) + p.Distance
}

// Normalized returns the plane with a unit normal. Degenerated planes are
// returned unchanged.
func (p Plane) Normalized() Plane {
	length := p.Normal.Len()
	if EqualWithEpsilon(length, 0, 1e-12) {
		return p
	}
	return Plane{
		Normal:   p.Normal.Mul(1 / length),
		Distance: p.Distance / length,
	}
}

// Classification is the result of testing a volume against a frustum.
type Classification int

const (
	Outside Classification = iota
	Intersecting
	Inside
)

// Frustum is a convex volume bounded by 6 inward facing planes ordered as
// left, right, bottom, top, near, far.
type Frustum [6]Plane

// FrustumFromMatrix extracts the planes of a view-projection matrix using an
// OpenGL clip space (z in [-w, w]).
func FrustumFromMatrix(viewProj mgl32.Mat4) Frustum {
	r0 := viewProj.Row(0)
	r1 := viewProj.Row(1)
	r2 := viewProj.Row(2)
	r3 := viewProj.Row(3)

	return Frustum{
		NewPlane(r3.Add(r0)).Normalized(),
		NewPlane(r3.Sub(r0)).Normalized(),
		NewPlane(r3.Add(r1)).Normalized(),
		NewPlane(r3.Sub(r1)).Normalized(),
		NewPlane(r3.Add(r2)).Normalized(),
		NewPlane(r3.Sub(r2)).Normalized(),
	}
}

// FrustumFromAABB returns the frustum whose volume is exactly the given box.
func FrustumFromAABB(b AABB) Frustum {
	return Frustum{
		{Normal: mgl32.Vec3{1, 0, 0}, Distance: -b.Min[0]},
		{Normal: mgl32.Vec3{-1, 0, 0}, Distance: b.Max[0]},
		{Normal: mgl32.Vec3{0, 1, 0}, Distance: -b.Min[1]},
		{Normal: mgl32.Vec3{0, -1, 0}, Distance: b.Max[1]},
		{Normal: mgl32.Vec3{0, 0, 1}, Distance: -b.Min[2]},
		{Normal: mgl32.Vec3{0, 0, -1}, Distance: b.Max[2]},
	}
}

func (f *Frustum) ContainsPoint(p mgl32.Vec3) bool {
	for i := range f {
		if f[i].SignedDistance(p) < 0 {
			return false
		}
	}
	return true
}

// ClassifyAABB tests the box against every plane using its positive and
// negative vertices.
func (f *Frustum) ClassifyAABB(b AABB) Classification {
	result := Inside
	for i := range f {
		plane := &f[i]

		positive := b.Min
		negative := b.Max
		for axis := 0; axis < 3; axis++ {
			if plane.Normal[axis] >= 0 {
				positive[axis] = b.Max[axis]
				negative[axis] = b.Min[axis]
			}
		}

		if plane.SignedDistance(positive) < 0 {
			return Outside
		}
		if plane.SignedDistance(negative) < 0 {
			result = Intersecting
		}
	}
	return result
}

// IntersectsAABB reports whether the box overlaps the frustum volume. Like
// any plane based test it is conservative near the frustum corners.
func (f *Frustum) IntersectsAABB(b AABB) bool {
	return f.ClassifyAABB(b) != Outside
}
