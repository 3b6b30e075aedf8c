package pipeline

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/meadow/featureflag"
	"github.com/aukilabs/meadow/gpu"
	"github.com/aukilabs/meadow/gpu/soft"
	"github.com/aukilabs/meadow/models"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

type cutEffect struct{}

type fixture struct {
	store     *models.InstanceStore
	device    *soft.Device
	renderer  *soft.Renderer
	program   *soft.Program
	material  *soft.Material
	resources gpu.Resources
}

// newFixture scatters count blades on a regular grid over [0, 100) in X and Z.
func newFixture(count int) *fixture {
	store := models.NewInstanceStore()
	side := 1
	for side*side < count {
		side++
	}
	step := float32(100) / float32(side)

	for i := 0; i < count; i++ {
		store.Append(models.Instance{
			Position:    mgl32.Vec3{float32(i%side) * step, 0, float32(i/side) * step},
			Normal:      mgl32.Vec3{0, 1, 0},
			WidthHeight: mgl32.Vec2{0.1, 0.5},
			Color:       mgl32.Vec3{0.3, 0.7, 0.2},
		})
	}

	f := &fixture{
		store:    store,
		device:   soft.NewDevice(),
		renderer: soft.NewRenderer(),
		program:  soft.NewProgram(64),
		material: soft.NewMaterial(),
	}
	f.resources = gpu.Resources{
		Program:   f.program,
		Material:  f.material,
		CutEffect: cutEffect{},
	}
	return f
}

func (f *fixture) config(flags ...string) Config {
	c := DefaultConfig()
	c.MaxVertices = 3 * (f.store.Len() + 1)
	c.FeatureFlags = featureflag.New(flags)
	return c
}

func (f *fixture) pipeline(flags ...string) *Pipeline {
	return New(f.config(flags...), f.device, f.renderer, f.resources, f.store)
}

func (f *fixture) buffer(t *testing.T, name string) *soft.Buffer {
	b, ok := f.device.Buffer(name)
	require.True(t, ok)
	return b
}

// overview looks at the whole field from above the -Z direction.
func overview() models.Camera {
	return models.Camera{
		Pose:       models.NewPose(mgl32.Vec3{50, 10, 250}, mgl32.QuatIdent()),
		Projection: models.DefaultProjection(),
	}
}

// away looks in the opposite direction of the field.
func away() models.Camera {
	return models.Camera{
		Pose:       models.NewPose(mgl32.Vec3{50, 10, 250}, mgl32.QuatRotate(mgl32.DegToRad(180), mgl32.Vec3{0, 1, 0})),
		Projection: models.DefaultProjection(),
	}
}

func captureLogs() *strings.Builder {
	var b strings.Builder
	logs.SetInlineEncoder()
	logs.SetLogger(func(e logs.Entry) {
		fmt.Fprint(&b, e)
	})
	return &b
}

func TestStateString(t *testing.T) {
	require.Equal(t, "uninitialized", Uninitialized.String())
	require.Equal(t, "building", Building.String())
	require.Equal(t, "ready", Ready.String())
	require.Equal(t, "disposed", Disposed.String())
	require.Equal(t, "unknown", State(42).String())
}

func TestPipelineSetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		errType string
	}{
		{
			name: "missing compute program",
			setup: func(f *fixture) {
				f.resources.Program = nil
			},
			errType: ErrTypeMissingResource,
		},
		{
			name: "missing material",
			setup: func(f *fixture) {
				f.resources.Material = nil
			},
			errType: ErrTypeMissingResource,
		},
		{
			name: "missing cut effect",
			setup: func(f *fixture) {
				f.resources.CutEffect = nil
			},
			errType: ErrTypeMissingResource,
		},
		{
			name: "thread group size not a power of two",
			setup: func(f *fixture) {
				f.resources.Program = soft.NewProgram(48)
			},
			errType: ErrTypeInvalidThreadGroup,
		},
		{
			name: "zero thread group size",
			setup: func(f *fixture) {
				f.resources.Program = soft.NewProgram(0)
			},
			errType: ErrTypeInvalidThreadGroup,
		},
		{
			name: "allocation failure",
			setup: func(f *fixture) {
				f.device.MaxBufferSize = 64
			},
			errType: ErrTypeAllocation,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := captureLogs()

			f := newFixture(100)
			test.setup(f)
			p := f.pipeline()

			err := p.Reset()
			require.Error(t, err)
			require.True(t, errors.IsType(err, test.errType))
			require.Equal(t, Uninitialized, p.State())
			require.Zero(t, f.device.Live())
			require.Contains(t, b.String(), `"kind":"full"`)

			require.Equal(t, FrameStats{}, p.OnFrame(overview()))
			require.Empty(t, f.renderer.Draws())
			require.False(t, p.UpdateRange(0, 10))
		})
	}

	t.Run("recovers once resources are provided", func(t *testing.T) {
		f := newFixture(100)
		missing := f.resources
		missing.CutEffect = nil

		p := New(f.config(), f.device, f.renderer, missing, f.store)
		require.Error(t, p.Reset())

		p.resources = f.resources
		require.NoError(t, p.Reset())
		require.Equal(t, Ready, p.State())
		require.True(t, p.OnFrame(overview()).Drawn)
	})
}

func TestPipelineOnFrame(t *testing.T) {
	f := newFixture(500)
	p := f.pipeline()
	require.NoError(t, p.Reset())
	require.Equal(t, Ready, p.State())
	require.False(t, p.FastMode())
	require.Equal(t, 500, p.Tree().Len())
	require.Equal(t, 4, f.device.Live())

	stats := p.OnFrame(overview())
	require.True(t, stats.Drawn)
	require.True(t, stats.Recomputed)
	require.Equal(t, 500, stats.Visible)
	require.Equal(t, DispatchGroups(500, 64), stats.Groups)

	require.Equal(t, []soft.Dispatch{{X: stats.Groups, Y: 1, Z: 1}}, f.renderer.Dispatches())

	draws := f.renderer.Draws()
	require.Len(t, draws, 1)
	require.Equal(t, uint32(500*soft.VerticesPerBlade), draws[0].Args.VertexCount)
	require.Equal(t, uint32(1), draws[0].Args.InstanceCount)
	require.Equal(t, gpu.DrawOptions{CastShadows: true, ReceiveShadows: true}, draws[0].Options)

	bounds, _ := f.store.Bounds()
	require.Equal(t, bounds, draws[0].Bounds)

	s := p.Stats()
	require.Equal(t, "ready", s.State)
	require.Equal(t, 500, s.Instances)
	require.Equal(t, 500, s.Visible)
	require.Equal(t, uint64(1), s.Frames)
	require.NotNil(t, s.Tree)
	require.Equal(t, 500, s.Tree.Held)
}

func TestPipelineCulling(t *testing.T) {
	f := newFixture(400)
	p := f.pipeline()
	require.NoError(t, p.Reset())

	t.Run("nothing in view", func(t *testing.T) {
		stats := p.OnFrame(away())
		require.True(t, stats.Recomputed)
		require.Zero(t, stats.Visible)
		require.Zero(t, stats.Groups)
		require.False(t, stats.Drawn)
		require.Empty(t, f.renderer.Dispatches())
		require.Empty(t, f.renderer.Draws())
	})

	t.Run("part in view", func(t *testing.T) {
		// Standing in the field, looking toward -X.
		cam := models.Camera{
			Pose:       models.NewPose(mgl32.Vec3{25, 1, 50}, mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0})),
			Projection: models.DefaultProjection(),
		}

		stats := p.OnFrame(cam)
		require.True(t, stats.Drawn)
		require.NotZero(t, stats.Visible)
		require.Less(t, stats.Visible, 400)

		frustum := cam.Frustum()
		ids := gpu.DecodeIDs(f.buffer(t, BufferVisible).Bytes())[:stats.Visible]
		found := make(map[uint32]bool)
		for _, id := range ids {
			found[id] = true
		}
		for i, instance := range f.store.Slice() {
			if frustum.ContainsPoint(instance.Position) {
				require.True(t, found[uint32(i)], "%v is in view but not drawn", i)
			}
		}
	})
}

func TestPipelineVisibilityCache(t *testing.T) {
	t.Run("same pose reuses the visible set", func(t *testing.T) {
		f := newFixture(100)
		p := f.pipeline()
		require.NoError(t, p.Reset())

		require.True(t, p.OnFrame(overview()).Recomputed)

		// Garbage in the visible ids would show if they were uploaded again.
		visible := f.buffer(t, BufferVisible)
		require.NoError(t, visible.Write(0, gpu.EncodeIDs([]uint32{99})))

		stats := p.OnFrame(overview())
		require.False(t, stats.Recomputed)
		require.True(t, stats.Drawn)
		require.Equal(t, 100, stats.Visible)
		require.Equal(t, uint32(99), gpu.DecodeIDs(visible.Bytes())[0])

		moved := overview()
		moved.Pose.PX += 0.001
		require.True(t, p.OnFrame(moved).Recomputed)
		require.NotEqual(t, uint32(99), gpu.DecodeIDs(visible.Bytes())[0])
	})

	t.Run("reset invalidates the cache", func(t *testing.T) {
		f := newFixture(100)
		p := f.pipeline()
		require.NoError(t, p.Reset())

		require.True(t, p.OnFrame(overview()).Recomputed)
		require.NoError(t, p.Reset())
		require.True(t, p.OnFrame(overview()).Recomputed)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(100)
		p := f.pipeline(string(featureflag.FlagDisableVisibilityCache))
		require.NoError(t, p.Reset())

		for i := 0; i < 3; i++ {
			require.True(t, p.OnFrame(overview()).Recomputed)
		}
	})
}

func TestPipelineResetsArgsEveryFrame(t *testing.T) {
	f := newFixture(200)
	p := f.pipeline()
	require.NoError(t, p.Reset())

	args := f.buffer(t, BufferArgs)
	vertices := f.buffer(t, BufferVertices)

	for frame := 0; frame < 5; frame++ {
		garbage := gpu.IndirectArgs{VertexCount: 12345, InstanceCount: 7, FirstVertex: 3, FirstInstance: 2, Pad: 1}
		require.NoError(t, args.Write(0, garbage.Marshal()))
		require.NoError(t, vertices.SetCounter(400))

		stats := p.OnFrame(overview())
		require.True(t, stats.Drawn)

		draws := f.renderer.Draws()
		require.Len(t, draws, frame+1)
		require.Equal(t, gpu.IndirectArgs{
			VertexCount:   uint32(200 * soft.VerticesPerBlade),
			InstanceCount: 1,
		}, draws[frame].Args)
	}

	// One dispatch and one draw per frame.
	require.Len(t, f.renderer.Dispatches(), 5)
	require.Len(t, f.renderer.Draws(), 5)
}

func TestPipelineVertexCapacity(t *testing.T) {
	f := newFixture(100)
	config := f.config()
	config.MaxVertices = 30
	p := New(config, f.device, f.renderer, f.resources, f.store)
	require.NoError(t, p.Reset())

	stats := p.OnFrame(overview())
	require.True(t, stats.Drawn)
	require.Equal(t, 100, stats.Visible)
	require.Equal(t, uint32(30), f.renderer.Draws()[0].Args.VertexCount)
}

func TestPipelineFastReset(t *testing.T) {
	f := newFixture(300)
	p := f.pipeline()
	require.NoError(t, p.Reset())
	tree := p.Tree()

	require.Zero(t, p.OnFrame(away()).Visible)

	require.NoError(t, p.FastReset())
	require.True(t, p.FastMode())
	require.Same(t, tree, p.Tree())

	for i := 0; i < 2; i++ {
		stats := p.OnFrame(away())
		require.False(t, stats.Recomputed)
		require.True(t, stats.Drawn)
		require.Equal(t, 300, stats.Visible)
	}

	ids := gpu.DecodeIDs(f.buffer(t, BufferVisible).Bytes())
	for i, id := range ids {
		require.Equal(t, uint32(i), id)
	}

	require.NoError(t, p.Reset())
	require.False(t, p.FastMode())
	require.NotSame(t, tree, p.Tree())
	require.Zero(t, p.OnFrame(away()).Visible)
}

func TestPipelineFeatureFlags(t *testing.T) {
	t.Run("disable culling", func(t *testing.T) {
		f := newFixture(50)
		p := f.pipeline(string(featureflag.FlagDisableCulling))
		require.NoError(t, p.Reset())

		require.True(t, p.FastMode())
		require.Nil(t, p.Tree())
		require.Equal(t, 50, p.OnFrame(away()).Visible)
	})

	t.Run("disable shadows", func(t *testing.T) {
		f := newFixture(50)
		p := f.pipeline(string(featureflag.FlagDisableShadows))
		require.NoError(t, p.Reset())

		require.True(t, p.OnFrame(overview()).Drawn)
		require.Equal(t, gpu.DrawOptions{}, f.renderer.Draws()[0].Options)
	})
}

func TestPipelineFrameFailures(t *testing.T) {
	b := captureLogs()

	f := newFixture(50)
	p := f.pipeline()
	require.NoError(t, p.Reset())

	f.renderer.FailDispatches(errors.New("device lost"))
	stats := p.OnFrame(overview())
	require.False(t, stats.Drawn)
	require.Empty(t, f.renderer.Draws())
	require.Equal(t, Ready, p.State())
	require.Contains(t, b.String(), `"frame":1`)

	f.renderer.FailDispatches(nil)
	require.True(t, p.OnFrame(overview()).Drawn)
}

func TestPipelineEmptyInstances(t *testing.T) {
	f := newFixture(0)
	p := f.pipeline()
	require.NoError(t, p.Reset())
	require.Equal(t, Ready, p.State())

	stats := p.OnFrame(overview())
	require.Zero(t, stats.Visible)
	require.False(t, stats.Drawn)
	require.Empty(t, f.renderer.Dispatches())

	require.NoError(t, p.FastReset())
	require.False(t, p.OnFrame(overview()).Drawn)
}

func TestPipelineUpdateRange(t *testing.T) {
	f := newFixture(10)
	p := f.pipeline()
	require.False(t, p.UpdateRange(0, 1))
	require.NoError(t, p.Reset())

	moved := models.Instance{
		Position:    mgl32.Vec3{1, 2, 3},
		Normal:      mgl32.Vec3{0, 1, 0},
		WidthHeight: mgl32.Vec2{1, 1},
	}
	for i := 7; i < 10; i++ {
		require.True(t, f.store.Set(i, moved))
	}

	source := f.buffer(t, BufferSource)
	decode := func(i int) models.Instance {
		instance, err := gpu.DecodeInstance(source.Bytes()[i*gpu.InstanceStride:])
		require.NoError(t, err)
		return instance
	}

	// Clamped to the remaining instances.
	require.True(t, p.UpdateRange(8, 100))
	require.Equal(t, moved, decode(8))
	require.Equal(t, moved, decode(9))
	require.NotEqual(t, moved, decode(7))

	require.True(t, p.UpdateRange(7, 1))
	require.Equal(t, moved, decode(7))
	require.Equal(t, Ready, p.State())

	require.False(t, p.UpdateRange(-1, 2))
	require.False(t, p.UpdateRange(0, 0))
	require.False(t, p.UpdateRange(0, -3))
	require.False(t, p.UpdateRange(10, 1))

	// Instances appended after the reset are not in the source buffer.
	f.store.Append(moved)
	require.False(t, p.UpdateRange(10, 1))
}

func TestPipelineUpdateRangeGrowsBounds(t *testing.T) {
	f := newFixture(10)
	p := f.pipeline()
	require.NoError(t, p.Reset())

	moved := models.Instance{
		Position:    mgl32.Vec3{500, 0, -40},
		Normal:      mgl32.Vec3{0, 1, 0},
		WidthHeight: mgl32.Vec2{0.1, 2},
	}
	require.True(t, f.store.Set(9, moved))
	require.True(t, p.UpdateRange(9, 1))

	require.True(t, p.OnFrame(overview()).Drawn)
	bounds := f.renderer.Draws()[0].Bounds
	require.True(t, bounds.Contains(mgl32.Vec3{500, 0, -40}))
	require.True(t, bounds.Contains(mgl32.Vec3{500, 2, -40}))
	require.True(t, bounds.Contains(mgl32.Vec3{0, 0, 0}))
}

func TestPipelineHide(t *testing.T) {
	t.Run("culled", func(t *testing.T) {
		f := newFixture(100)
		p := f.pipeline()
		require.NoError(t, p.Reset())
		require.Equal(t, 100, p.OnFrame(overview()).Visible)

		p.Hide(roaring.BitmapOf(5, 6))
		stats := p.OnFrame(overview())
		require.True(t, stats.Recomputed)
		require.Equal(t, 98, stats.Visible)
		ids := gpu.DecodeIDs(f.buffer(t, BufferVisible).Bytes())[:stats.Visible]
		require.NotContains(t, ids, uint32(5))
		require.NotContains(t, ids, uint32(6))

		// Hidden instances are left out of the rebuilt tree.
		require.NoError(t, p.Reset())
		require.Equal(t, 98, p.Tree().Len())
		require.Equal(t, 98, p.OnFrame(overview()).Visible)

		p.Hide(nil)
		require.NoError(t, p.Reset())
		require.Equal(t, 100, p.OnFrame(overview()).Visible)
	})

	t.Run("fast", func(t *testing.T) {
		f := newFixture(100)
		p := f.pipeline()
		require.NoError(t, p.FastReset())
		require.Equal(t, 100, p.OnFrame(away()).Visible)

		p.Hide(roaring.BitmapOf(0))
		stats := p.OnFrame(away())
		require.False(t, stats.Recomputed)
		require.Equal(t, 99, stats.Visible)
		require.Equal(t, uint32(1), gpu.DecodeIDs(f.buffer(t, BufferVisible).Bytes())[0])

		require.NoError(t, p.FastReset())
		require.Equal(t, 99, p.OnFrame(away()).Visible)
	})

	t.Run("before reset", func(t *testing.T) {
		f := newFixture(10)
		p := f.pipeline()
		p.Hide(roaring.BitmapOf(1, 2, 3))
		require.NoError(t, p.Reset())
		require.Equal(t, 7, p.Tree().Len())
		require.Equal(t, 7, p.OnFrame(overview()).Visible)
	})
}

func TestPipelineShutdown(t *testing.T) {
	f := newFixture(50)
	p := f.pipeline()
	require.NoError(t, p.Reset())
	require.Equal(t, 4, f.device.Live())

	p.Shutdown()
	require.Equal(t, Disposed, p.State())
	require.Zero(t, f.device.Live())
	require.Nil(t, p.Tree())

	p.Shutdown()
	require.Equal(t, Disposed, p.State())

	err := p.Reset()
	require.True(t, errors.IsType(err, ErrTypeDisposed))
	require.Equal(t, Disposed, p.State())
	require.Equal(t, FrameStats{}, p.OnFrame(overview()))
	require.False(t, p.UpdateRange(0, 1))
}

func TestDispatchGroups(t *testing.T) {
	require.Zero(t, DispatchGroups(0, 64))
	require.Equal(t, uint32(2), DispatchGroups(1, 64))
	require.Equal(t, uint32(2), DispatchGroups(64, 64))
	require.Equal(t, uint32(3), DispatchGroups(65, 64))
	require.Equal(t, uint32(6), DispatchGroups(5, 0))

	rng := rand.New(rand.NewPCG(4, 2))
	for i := 0; i < 1000; i++ {
		threads := uint32(1) << rng.UintN(11)
		visible := rng.Uint32()

		groups := DispatchGroups(visible, threads)
		minimum := (uint64(visible) + uint64(threads) - 1) / uint64(threads)

		require.GreaterOrEqual(t, uint64(groups), minimum)
		if visible > 0 {
			require.GreaterOrEqual(t, groups, uint32(1))
		}
	}
}
