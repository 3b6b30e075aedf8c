package soft

import (
	"github.com/aukilabs/meadow/gpu"
	"github.com/aukilabs/meadow/models"
)

// expandBlade builds the triangle of a blade: two base vertices spread by the
// blade width and a tip raised along the normal by the blade height.
func expandBlade(instance models.Instance) [VerticesPerBlade]gpu.Vertex {
	p := instance.Position
	n := instance.Normal
	if n.Len() == 0 {
		n[1] = 1
	} else {
		n = n.Normalize()
	}

	halfWidth := instance.WidthHeight[0] / 2
	tip := p.Add(n.Mul(instance.WidthHeight[1]))

	return [VerticesPerBlade]gpu.Vertex{
		{
			Position: [3]float32{p[0] - halfWidth, p[1], p[2]},
			Normal:   n,
			UV:       [2]float32{0, 0},
		},
		{
			Position: [3]float32{p[0] + halfWidth, p[1], p[2]},
			Normal:   n,
			UV:       [2]float32{1, 0},
		},
		{
			Position: tip,
			Normal:   n,
			UV:       [2]float32{0.5, 1},
		},
	}
}
