package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

func EqualWithEpsilon(a float32, b float32, epsilon float64) bool {
	return math.Abs((float64)(a-b)) <= epsilon
}

func InRangeWithEpsilon(value float32, min float32, max float32, epsilon float32) bool {
	return value+epsilon >= min && value-epsilon <= max
}

// Min returns the component-wise minimum of a and b.
func Min(a mgl32.Vec3, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Min(float64(a[0]), float64(b[0]))),
		float32(math.Min(float64(a[1]), float64(b[1]))),
		float32(math.Min(float64(a[2]), float64(b[2]))),
	}
}

// Max returns the component-wise maximum of a and b.
func Max(a mgl32.Vec3, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Max(float64(a[0]), float64(b[0]))),
		float32(math.Max(float64(a[1]), float64(b[1]))),
		float32(math.Max(float64(a[2]), float64(b[2]))),
	}
}

// SqDistance returns the squared euclidean distance between a and b.
func SqDistance(a mgl32.Vec3, b mgl32.Vec3) float32 {
	d := a.Sub(b)
	return d.Dot(d)
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}
