package models

import (
	"github.com/aukilabs/meadow/spatial"
	"github.com/go-gl/mathgl/mgl32"
)

// Pose is a position and a rotation quaternion. Poses are compared by exact
// equality.
type Pose struct {
	PX float32
	PY float32
	PZ float32
	RX float32
	RY float32
	RZ float32
	RW float32
}

func NewPose(position mgl32.Vec3, rotation mgl32.Quat) Pose {
	return Pose{
		PX: position[0],
		PY: position[1],
		PZ: position[2],
		RX: rotation.V[0],
		RY: rotation.V[1],
		RZ: rotation.V[2],
		RW: rotation.W,
	}
}

func (p Pose) Position() mgl32.Vec3 {
	return mgl32.Vec3{p.PX, p.PY, p.PZ}
}

// Rotation returns the normalized rotation. A zero quaternion is read as the
// identity.
func (p Pose) Rotation() mgl32.Quat {
	q := mgl32.Quat{W: p.RW, V: mgl32.Vec3{p.RX, p.RY, p.RZ}}
	if q.Len() == 0 {
		return mgl32.QuatIdent()
	}
	return q.Normalize()
}

// View returns the world to camera matrix.
func (p Pose) View() mgl32.Mat4 {
	position := p.Position()
	return p.Rotation().Conjugate().Mat4().Mul4(mgl32.Translate3D(-position[0], -position[1], -position[2]))
}

// Projection describes a perspective projection. FovY is in radians.
type Projection struct {
	FovY   float32 `json:"fov_y"`
	Aspect float32 `json:"aspect"`
	Near   float32 `json:"near"`
	Far    float32 `json:"far"`
}

func DefaultProjection() Projection {
	return Projection{
		FovY:   mgl32.DegToRad(60),
		Aspect: 16.0 / 9.0,
		Near:   0.1,
		Far:    1000,
	}
}

func (p Projection) Matrix() mgl32.Mat4 {
	return mgl32.Perspective(p.FovY, p.Aspect, p.Near, p.Far)
}

// Camera is a pose looking down its local -Z axis through a projection.
type Camera struct {
	Pose       Pose
	Projection Projection
}

func (c Camera) ViewProjection() mgl32.Mat4 {
	return c.Projection.Matrix().Mul4(c.Pose.View())
}

func (c Camera) Frustum() spatial.Frustum {
	return spatial.FrustumFromMatrix(c.ViewProjection())
}
