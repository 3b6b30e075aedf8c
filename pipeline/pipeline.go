// Package pipeline turns the visible subset of a set of instances into a
// single GPU indirect draw per frame.
//
// A full reset builds a partition tree over the instances and allocates the
// GPU buffers. On each frame the tree is queried with the camera frustum,
// unless the camera did not move, and the visible ids are expanded into
// geometry by a compute program before being drawn indirectly. A fast reset
// only rebuilds the buffers and draws every instance, which is what
// continuous edits want.
package pipeline

import (
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/meadow/featureflag"
	"github.com/aukilabs/meadow/gpu"
	"github.com/aukilabs/meadow/models"
	"github.com/aukilabs/meadow/spatial"
	"github.com/aukilabs/meadow/spatial/partition"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	ErrTypeMissingResource    = "pipeline_missing_resource"
	ErrTypeInvalidThreadGroup = "pipeline_invalid_thread_group"
	ErrTypeAllocation         = "pipeline_allocation"
	ErrTypeUpload             = "pipeline_upload"
	ErrTypeRender             = "pipeline_render"
	ErrTypeDisposed           = "pipeline_disposed"
)

// Buffer names.
const (
	BufferSource   = "source"
	BufferVisible  = "visible_ids"
	BufferVertices = "vertices"
	BufferArgs     = "indirect_args"
)

type State int

const (
	Uninitialized State = iota
	Building
	Ready
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Building:
		return "building"
	case Ready:
		return "ready"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

type buildKind int

const (
	buildFull buildKind = iota
	buildFast
)

func (k buildKind) String() string {
	if k == buildFast {
		return "fast"
	}
	return "full"
}

// Config configures a pipeline.
type Config struct {
	// The depth of the partition tree built on full resets.
	TreeDepth int

	// The capacity of the generated vertex buffer. Geometry past it is
	// dropped by the compute stage.
	MaxVertices int

	CastShadows    bool
	ReceiveShadows bool

	FeatureFlags featureflag.FeatureFlag
}

func DefaultConfig() Config {
	return Config{
		TreeDepth:      partition.DefaultDepth,
		MaxVertices:    1 << 20,
		CastShadows:    true,
		ReceiveShadows: true,
	}
}

// Instances is the instance set a pipeline draws.
type Instances interface {
	Len() int
	Slice() []models.Instance
	Bounds() (spatial.AABB, bool)
}

// FrameStats describes what a frame did.
type FrameStats struct {
	Visible    int
	Groups     uint32
	Recomputed bool
	Drawn      bool
}

// Stats is a snapshot of a pipeline.
type Stats struct {
	State     string           `json:"state"`
	Instances int              `json:"instances"`
	Visible   int              `json:"visible"`
	Groups    uint32           `json:"groups"`
	FastMode  bool             `json:"fast_mode"`
	Frames    uint64           `json:"frames"`
	Tree      *partition.Stats `json:"tree,omitempty"`
}

// Pipeline orchestrates culling and drawing. It is not safe for concurrent
// use.
type Pipeline struct {
	config    Config
	device    gpu.Device
	renderer  gpu.Renderer
	resources gpu.Resources
	instances Instances

	state     State
	fast      bool
	tree      *partition.Tree
	bounds    spatial.AABB
	uploaded  int
	source    gpu.Buffer
	visibleID gpu.Buffer
	vertices  gpu.Buffer
	args      gpu.Buffer

	visible    []uint32
	hidden     *roaring.Bitmap
	cachedPose models.Pose
	cached     bool
	lastGroups uint32
	frames     uint64
}

// New creates an uninitialized pipeline. Reset must be called before frames
// draw anything.
func New(config Config, device gpu.Device, renderer gpu.Renderer, resources gpu.Resources, instances Instances) *Pipeline {
	defaults := DefaultConfig()
	if config.TreeDepth <= 0 {
		config.TreeDepth = defaults.TreeDepth
	}
	if config.MaxVertices <= 0 {
		config.MaxVertices = defaults.MaxVertices
	}
	if config.FeatureFlags == nil {
		config.FeatureFlags = featureflag.New(nil)
	}

	return &Pipeline{
		config:    config,
		device:    device,
		renderer:  renderer,
		resources: resources,
		instances: instances,
		hidden:    roaring.New(),
	}
}

func (p *Pipeline) State() State {
	return p.state
}

// Tree returns the partition tree built by the last full reset.
func (p *Pipeline) Tree() *partition.Tree {
	return p.tree
}

// FastMode reports whether the last reset was a fast one.
func (p *Pipeline) FastMode() bool {
	return p.fast
}

// Reset rebuilds the partition tree and every GPU buffer. On failure the
// pipeline goes back to Uninitialized and draws nothing until the next
// successful reset.
func (p *Pipeline) Reset() error {
	kind := buildFull
	p.config.FeatureFlags.IfSet(featureflag.FlagDisableCulling, func() {
		kind = buildFast
	})
	return p.build(kind)
}

// FastReset rebuilds the GPU buffers, keeps the partition tree and marks
// every instance visible.
func (p *Pipeline) FastReset() error {
	return p.build(buildFast)
}

func (p *Pipeline) build(kind buildKind) error {
	if p.state == Disposed {
		return errors.New("pipeline disposed").WithType(ErrTypeDisposed)
	}

	start := time.Now()
	p.state = Building
	p.releaseBuffers()

	if err := p.checkResources(); err != nil {
		return p.fail(kind, err)
	}

	bounds, ok := p.instances.Bounds()
	if !ok {
		bounds = spatial.AABB{}
	}
	p.bounds = bounds

	count := p.instances.Len()
	if kind == buildFull {
		p.tree = partition.New(bounds, p.config.TreeDepth)
		for i, instance := range p.instances.Slice() {
			if p.hidden.Contains(uint32(i)) {
				continue
			}
			p.tree.Insert(instance.Position, uint32(i))
		}
	}

	if err := p.allocate(count); err != nil {
		return p.fail(kind, err)
	}

	source := gpu.EncodeInstances(p.instances.Slice())
	if err := p.source.Write(0, source); err != nil {
		return p.fail(kind, errors.New("uploading instances failed").
			WithType(ErrTypeUpload).
			Wrap(err))
	}
	instrumentUpload(BufferSource, len(source))
	p.uploaded = count

	program := p.resources.Program
	program.SetBuffer(gpu.SlotSource, p.source)
	program.SetBuffer(gpu.SlotVisible, p.visibleID)
	program.SetBuffer(gpu.SlotAppend, p.vertices)
	program.SetBuffer(gpu.SlotArgs, p.args)
	program.SetResource(gpu.SlotCut, p.resources.CutEffect)
	p.resources.Material.SetBuffer(gpu.SlotAppend, p.vertices)

	p.cached = false
	p.visible = p.visible[:0]
	p.fast = kind == buildFast

	if p.fast {
		if err := p.showAll(); err != nil {
			return p.fail(kind, err)
		}
	}

	p.state = Ready
	instrumentBuildLatency(kind, start)

	entry := logs.WithTag("kind", kind.String()).
		WithTag("instances", count).
		WithTag("duration", time.Since(start).String())
	if p.tree != nil && kind == buildFull {
		entry = entry.WithTag("nodes", p.tree.Stats().Nodes)
	}
	entry.Info("pipeline ready")
	return nil
}

func (p *Pipeline) checkResources() error {
	missing := ""
	switch {
	case p.resources.Program == nil:
		missing = "compute program"
	case p.resources.Material == nil:
		missing = "material"
	case p.resources.CutEffect == nil:
		missing = "cut effect"
	}
	if missing != "" {
		return errors.New("missing resource").
			WithType(ErrTypeMissingResource).
			WithTag("resource", missing)
	}

	if size := p.resources.Program.ThreadGroupSize(); !spatial.IsPowerOfTwo(size) {
		return errors.New("thread group size is not a power of two").
			WithType(ErrTypeInvalidThreadGroup).
			WithTag("size", size)
	}
	return nil
}

func (p *Pipeline) allocate(count int) error {
	// Zero sized buffers are not supported by every device.
	slots := max(count, 1)

	descs := []struct {
		dst  *gpu.Buffer
		desc gpu.BufferDesc
	}{
		{
			dst: &p.source,
			desc: gpu.BufferDesc{
				Name:   BufferSource,
				Count:  slots,
				Stride: gpu.InstanceStride,
				Usage:  gpu.Structured,
			},
		},
		{
			dst: &p.visibleID,
			desc: gpu.BufferDesc{
				Name:   BufferVisible,
				Count:  slots,
				Stride: gpu.IDStride,
				Usage:  gpu.Structured,
			},
		},
		{
			dst: &p.vertices,
			desc: gpu.BufferDesc{
				Name:   BufferVertices,
				Count:  p.config.MaxVertices,
				Stride: gpu.VertexStride,
				Usage:  gpu.Append,
			},
		},
		{
			dst: &p.args,
			desc: gpu.BufferDesc{
				Name:   BufferArgs,
				Count:  gpu.IndirectArgsWords,
				Stride: gpu.IndirectArgsStride,
				Usage:  gpu.IndirectArguments,
			},
		},
	}

	for _, d := range descs {
		b, err := p.device.CreateBuffer(d.desc)
		if err != nil {
			return errors.New("allocating buffer failed").
				WithType(ErrTypeAllocation).
				WithTag("buffer", d.desc.Name).
				WithTag("size", d.desc.Size()).
				Wrap(err)
		}
		*d.dst = b
	}
	return nil
}

func (p *Pipeline) fail(kind buildKind, err error) error {
	logs.WithTag("kind", kind.String()).Warn(err)
	instrumentSetupError(err)

	p.releaseBuffers()
	p.state = Uninitialized
	p.cached = false
	return err
}

func (p *Pipeline) releaseBuffers() {
	for _, b := range []*gpu.Buffer{&p.source, &p.visibleID, &p.vertices, &p.args} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
	p.uploaded = 0
}

// showAll marks every uploaded instance that is not hidden visible.
func (p *Pipeline) showAll() error {
	p.visible = p.visible[:0]
	for i := 0; i < p.uploaded; i++ {
		if !p.hidden.Contains(uint32(i)) {
			p.visible = append(p.visible, uint32(i))
		}
	}

	if len(p.visible) == 0 {
		return nil
	}

	ids := gpu.EncodeIDs(p.visible)
	if err := p.visibleID.Write(0, ids); err != nil {
		return errors.New("uploading visible ids failed").
			WithType(ErrTypeUpload).
			Wrap(err)
	}
	instrumentUpload(BufferVisible, len(ids))
	return nil
}

// Hide excludes the given instances from drawing, replacing the previously
// hidden set. Hidden instances stay excluded across resets, which also leave
// them out of the partition tree. A nil set shows every instance again.
//
// In fast mode the visible set is rebuilt right away, otherwise on the next
// frame.
func (p *Pipeline) Hide(ids *roaring.Bitmap) {
	if ids == nil {
		ids = roaring.New()
	}
	p.hidden = ids

	if p.state != Ready {
		return
	}
	if !p.fast {
		p.cached = false
		return
	}

	if err := p.showAll(); err != nil {
		p.frameError(err)
	}
}

// Invalidate forces the next frame to recompute the visible set, as needed
// after instances were removed from or moved in the tree.
func (p *Pipeline) Invalidate() {
	p.cached = false
}

// OnFrame culls the instances with the camera and issues the draw. It draws
// nothing when the pipeline is not ready or when a GPU call fails.
func (p *Pipeline) OnFrame(cam models.Camera) FrameStats {
	if p.state != Ready {
		return FrameStats{}
	}
	p.frames++

	var stats FrameStats
	reuse := p.fast || (p.cached && cam.Pose == p.cachedPose)
	p.config.FeatureFlags.IfSet(featureflag.FlagDisableVisibilityCache, func() {
		reuse = p.fast
	})

	if !reuse {
		if err := p.updateVisible(cam); err != nil {
			p.frameError(err)
			return FrameStats{}
		}
		stats.Recomputed = true
		instrumentVisibility(resultRecomputed)
	} else if !p.fast {
		instrumentVisibility(resultReused)
	}

	if err := p.resetArgs(); err != nil {
		p.frameError(err)
		return FrameStats{}
	}

	program := p.resources.Program
	visible := uint32(len(p.visible))
	groups := DispatchGroups(visible, program.ThreadGroupSize())
	program.SetUint(gpu.UniformCount, visible)

	stats.Visible = len(p.visible)
	stats.Groups = groups
	p.lastGroups = groups
	instrumentFrame(stats.Visible, groups)

	if groups == 0 {
		return stats
	}

	if err := p.renderer.Dispatch(program, groups, 1, 1); err != nil {
		p.frameError(errors.New("dispatching compute failed").
			WithType(ErrTypeRender).
			WithTag("groups", groups).
			Wrap(err))
		return stats
	}

	var opts gpu.DrawOptions
	p.config.FeatureFlags.IfNotSet(featureflag.FlagDisableShadows, func() {
		opts = gpu.DrawOptions{
			CastShadows:    p.config.CastShadows,
			ReceiveShadows: p.config.ReceiveShadows,
		}
	})

	if err := p.renderer.DrawIndirect(p.resources.Material, p.args, p.bounds, opts); err != nil {
		p.frameError(errors.New("indirect draw failed").
			WithType(ErrTypeRender).
			Wrap(err))
		return stats
	}

	stats.Drawn = true
	return stats
}

func (p *Pipeline) updateVisible(cam models.Camera) error {
	frustum := cam.Frustum()
	if p.tree != nil {
		p.visible = p.tree.RetrieveVisible(&frustum, p.visible[:0])
	} else {
		p.visible = p.visible[:0]
	}

	// Instances inserted in the tree since the last reset are not in the
	// source buffer yet.
	kept := p.visible[:0]
	for _, id := range p.visible {
		if int(id) < p.uploaded && !p.hidden.Contains(id) {
			kept = append(kept, id)
		}
	}
	p.visible = kept

	if len(p.visible) != 0 {
		ids := gpu.EncodeIDs(p.visible)
		if err := p.visibleID.Write(0, ids); err != nil {
			p.cached = false
			return errors.New("uploading visible ids failed").
				WithType(ErrTypeUpload).
				Wrap(err)
		}
		instrumentUpload(BufferVisible, len(ids))
	}

	p.cachedPose = cam.Pose
	p.cached = true
	logs.WithTag("visible", len(p.visible)).Debug("visible set recomputed")
	return nil
}

func (p *Pipeline) resetArgs() error {
	if err := p.vertices.SetCounter(0); err != nil {
		return errors.New("resetting vertex counter failed").
			WithType(ErrTypeUpload).
			Wrap(err)
	}

	if err := p.args.Write(0, gpu.DefaultIndirectArgs.Marshal()); err != nil {
		return errors.New("resetting indirect args failed").
			WithType(ErrTypeUpload).
			Wrap(err)
	}
	return nil
}

func (p *Pipeline) frameError(err error) {
	logs.WithTag("frame", p.frames).Warn(err)
	instrumentFrameError(err)
}

// UpdateRange uploads count instances starting at start to the source
// buffer and grows the draw bounds to hold them. The count is clamped to the
// uploaded instances. Invalid ranges are
// ignored. It reports whether something was uploaded.
func (p *Pipeline) UpdateRange(start, count int) bool {
	if p.state != Ready || start < 0 || count <= 0 {
		return false
	}

	length := min(p.uploaded, p.instances.Len())
	if start >= length {
		return false
	}
	count = min(count, length-start)

	data := gpu.EncodeInstances(p.instances.Slice()[start : start+count])
	if err := p.source.Write(start*gpu.InstanceStride, data); err != nil {
		p.frameError(errors.New("uploading instance range failed").
			WithType(ErrTypeUpload).
			WithTag("start", start).
			WithTag("count", count).
			Wrap(err))
		return false
	}

	instrumentUpload(BufferSource, len(data))

	// Modified instances may have moved out of the draw bounds.
	for _, instance := range p.instances.Slice()[start : start+count] {
		tip := instance.Position.Add(mgl32.Vec3{0, instance.WidthHeight[1], 0})
		p.bounds = p.bounds.Encapsulate(instance.Position).Encapsulate(tip)
	}
	return true
}

// Shutdown releases the GPU buffers. The pipeline can not be used afterward.
func (p *Pipeline) Shutdown() {
	if p.state == Disposed {
		return
	}

	p.releaseBuffers()
	p.tree = nil
	p.visible = nil
	p.cached = false
	p.state = Disposed

	logs.WithTag("frames", p.frames).Info("pipeline disposed")
}

func (p *Pipeline) Stats() Stats {
	s := Stats{
		State:     p.state.String(),
		Instances: p.uploaded,
		Visible:   len(p.visible),
		Groups:    p.lastGroups,
		FastMode:  p.fast,
		Frames:    p.frames,
	}

	if p.tree != nil {
		treeStats := p.tree.Stats()
		s.Tree = &treeStats
	}
	return s
}

// DispatchGroups returns the number of groups to dispatch for the given
// number of visible instances. One group is added whenever something is
// visible.
func DispatchGroups(visible, threadGroupSize uint32) uint32 {
	if visible == 0 {
		return 0
	}
	if threadGroupSize == 0 {
		threadGroupSize = 1
	}

	t := uint64(threadGroupSize)
	groups := (uint64(visible)+t-1)/t + 1
	if groups > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(groups)
}
