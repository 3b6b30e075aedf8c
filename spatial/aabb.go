package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned bounding box. Min must be lesser or equal than Max
// on every axis for the box to be valid.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// NewAABB returns the box centered on center with the given half extents.
func NewAABB(center mgl32.Vec3, extents mgl32.Vec3) AABB {
	return AABB{
		Min: center.Sub(extents),
		Max: center.Add(extents),
	}
}

// BoundsOf returns the smallest box holding all the given points. It returns
// false when points is empty.
func BoundsOf(points []mgl32.Vec3) (AABB, bool) {
	if len(points) == 0 {
		return AABB{}, false
	}

	b := AABB{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b.Min = Min(b.Min, p)
		b.Max = Max(b.Max, p)
	}
	return b, true
}

func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Extents returns the half extents of the box.
func (b AABB) Extents() mgl32.Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}

func (b AABB) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

func (b AABB) IsValid() bool {
	return b.Min[0] <= b.Max[0] && b.Min[1] <= b.Max[1] && b.Min[2] <= b.Max[2]
}

// Contains reports whether p lies inside the box, boundaries included.
func (b AABB) Contains(p mgl32.Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

// ContainsWithEpsilon is like Contains but tolerates points up to epsilon
// outside of the box.
func (b AABB) ContainsWithEpsilon(p mgl32.Vec3, epsilon float32) bool {
	return InRangeWithEpsilon(p[0], b.Min[0], b.Max[0], epsilon) &&
		InRangeWithEpsilon(p[1], b.Min[1], b.Max[1], epsilon) &&
		InRangeWithEpsilon(p[2], b.Min[2], b.Max[2], epsilon)
}

func (b AABB) Intersects(o AABB) bool {
	return b.Min[0] <= o.Max[0] && b.Max[0] >= o.Min[0] &&
		b.Min[1] <= o.Max[1] && b.Max[1] >= o.Min[1] &&
		b.Min[2] <= o.Max[2] && b.Max[2] >= o.Min[2]
}

// Expand grows the box by amount on every side.
func (b AABB) Expand(amount float32) AABB {
	e := mgl32.Vec3{amount, amount, amount}
	return AABB{
		Min: b.Min.Sub(e),
		Max: b.Max.Add(e),
	}
}

// Encapsulate returns the box grown to hold p.
func (b AABB) Encapsulate(p mgl32.Vec3) AABB {
	return AABB{
		Min: Min(b.Min, p),
		Max: Max(b.Max, p),
	}
}

func (b AABB) Union(o AABB) AABB {
	return AABB{
		Min: Min(b.Min, o.Min),
		Max: Max(b.Max, o.Max),
	}
}

// SqDistance returns the squared distance between p and the closest point of
// the box. It is 0 when p is inside.
func (b AABB) SqDistance(p mgl32.Vec3) float32 {
	var d float32
	for i := 0; i < 3; i++ {
		v := p[i]
		if v < b.Min[i] {
			d += (b.Min[i] - v) * (b.Min[i] - v)
		} else if v > b.Max[i] {
			d += (v - b.Max[i]) * (v - b.Max[i])
		}
	}
	return d
}

// Distance returns the distance between p and the closest point of the box.
func (b AABB) Distance(p mgl32.Vec3) float32 {
	return float32(math.Sqrt(float64(b.SqDistance(p))))
}
