package spatial

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func TestEqualWithEpsilon(t *testing.T) {
	require.True(t, EqualWithEpsilon(0.1, 0.2, 0.11))
	require.False(t, EqualWithEpsilon(0.1, 0.3, 0.11))
}

func TestInRangeWithEpsilon(t *testing.T) {
	require.True(t, InRangeWithEpsilon(1.05, 0, 1, 0.1))
	require.True(t, InRangeWithEpsilon(-0.05, 0, 1, 0.1))
	require.False(t, InRangeWithEpsilon(1.5, 0, 1, 0.1))
}

func TestMinMax(t *testing.T) {
	a := mgl32.Vec3{1, -2, 3}
	b := mgl32.Vec3{-1, 2, 3}

	require.Equal(t, mgl32.Vec3{-1, -2, 3}, Min(a, b))
	require.Equal(t, mgl32.Vec3{1, 2, 3}, Max(a, b))
}

func TestSqDistance(t *testing.T) {
	require.Equal(t, float32(25), SqDistance(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{3, 0, 4}))
	require.Zero(t, SqDistance(mgl32.Vec3{1, 1, 1}, mgl32.Vec3{1, 1, 1}))
}

func TestIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		value    uint32
		expected bool
	}{
		{value: 0, expected: false},
		{value: 1, expected: true},
		{value: 2, expected: true},
		{value: 3, expected: false},
		{value: 64, expected: true},
		{value: 96, expected: false},
		{value: 1 << 31, expected: true},
	}

	for _, test := range tests {
		require.Equal(t, test.expected, IsPowerOfTwo(test.value), "value: %d", test.value)
	}
}
