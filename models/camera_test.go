package models

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func TestPose(t *testing.T) {
	t.Run("fields", func(t *testing.T) {
		p := NewPose(mgl32.Vec3{1, 2, 3}, mgl32.Quat{W: 7, V: mgl32.Vec3{4, 5, 6}})
		require.Equal(t, Pose{PX: 1, PY: 2, PZ: 3, RX: 4, RY: 5, RZ: 6, RW: 7}, p)
		require.Equal(t, mgl32.Vec3{1, 2, 3}, p.Position())
	})

	t.Run("exact equality", func(t *testing.T) {
		a := NewPose(mgl32.Vec3{1, 2, 3}, mgl32.QuatIdent())
		b := NewPose(mgl32.Vec3{1, 2, 3}, mgl32.QuatIdent())
		c := NewPose(mgl32.Vec3{1, 2, 3.0001}, mgl32.QuatIdent())

		require.True(t, a == b)
		require.False(t, a == c)
	})

	t.Run("zero rotation is the identity", func(t *testing.T) {
		require.Equal(t, mgl32.QuatIdent(), Pose{}.Rotation())
		require.Equal(t, mgl32.Ident4(), Pose{}.View())
	})

	t.Run("view", func(t *testing.T) {
		p := NewPose(mgl32.Vec3{10, 0, 0}, mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0}))

		// Rotated 90 degrees around Y, the camera looks down world -X.
		v := p.View().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
		require.InDelta(t, 0, v[0], 1e-5)
		require.InDelta(t, 0, v[1], 1e-5)
		require.InDelta(t, -10, v[2], 1e-5)
	})
}

func TestCameraFrustum(t *testing.T) {
	cam := Camera{
		Pose:       NewPose(mgl32.Vec3{0, 0, 10}, mgl32.QuatIdent()),
		Projection: DefaultProjection(),
	}
	frustum := cam.Frustum()

	require.True(t, frustum.ContainsPoint(mgl32.Vec3{0, 0, 0}))
	require.False(t, frustum.ContainsPoint(mgl32.Vec3{0, 0, 20}))
	require.False(t, frustum.ContainsPoint(mgl32.Vec3{0, 0, -2000}))
	require.False(t, frustum.ContainsPoint(mgl32.Vec3{100, 0, 0}))
}
