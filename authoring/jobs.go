package authoring

import (
	"math/rand/v2"

	"github.com/aukilabs/meadow/models"
	"github.com/aukilabs/meadow/spatial"
	"github.com/go-gl/mathgl/mgl32"
)

const defaultBatchSize = 256

// Region is an area to scatter blades over. Blades are placed at the bottom
// of the bounds, anywhere on X and Z.
type Region struct {
	Bounds spatial.AABB
	Count  int
}

// Blade describes the blades a scatter job generates.
type Blade struct {
	Width     float32
	MinHeight float32
	MaxHeight float32
	Color     mgl32.Vec3
}

func DefaultBlade() Blade {
	return Blade{
		Width:     0.05,
		MinHeight: 0.3,
		MaxHeight: 0.8,
		Color:     mgl32.Vec3{0.3, 0.6, 0.2},
	}
}

type scatterBatch struct {
	region int
	count  int
}

// ScatterJob paints generated blades over regions. Each batch is seeded from
// the job seed and its number so that a job generates the same blades every
// time.
type ScatterJob struct {
	session *Session
	regions []Region
	blade   Blade
	seed    uint64
	batches []scatterBatch
}

func NewScatterJob(session *Session, regions []Region, blade Blade, batchSize int, seed uint64) *ScatterJob {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var batches []scatterBatch
	for i, r := range regions {
		for remaining := r.Count; remaining > 0; remaining -= batchSize {
			batches = append(batches, scatterBatch{
				region: i,
				count:  min(remaining, batchSize),
			})
		}
	}

	return &ScatterJob{
		session: session,
		regions: regions,
		blade:   blade,
		seed:    seed,
		batches: batches,
	}
}

func (j *ScatterJob) Name() string {
	return "scatter"
}

func (j *ScatterJob) Batches() int {
	return len(j.batches)
}

func (j *ScatterJob) RunBatch(batch int) error {
	b := j.batches[batch]
	region := j.regions[b.region].Bounds
	size := region.Size()
	rng := rand.New(rand.NewPCG(j.seed, uint64(batch)))

	instances := make([]models.Instance, b.count)
	for i := range instances {
		height := j.blade.MinHeight + rng.Float32()*(j.blade.MaxHeight-j.blade.MinHeight)
		shade := 0.9 + rng.Float32()*0.2

		instances[i] = models.Instance{
			Position: mgl32.Vec3{
				region.Min[0] + rng.Float32()*size[0],
				region.Min[1],
				region.Min[2] + rng.Float32()*size[2],
			},
			Normal:      mgl32.Vec3{0, 1, 0},
			WidthHeight: mgl32.Vec2{j.blade.Width, height},
			Color:       j.blade.Color.Mul(shade),
		}
	}

	j.session.Paint(instances...)
	return nil
}

// Stroke is a single erase brush stroke.
type Stroke struct {
	Center mgl32.Vec3
	Radius float32
}

// EraseJob applies erase strokes to a session, a batch of strokes at a time.
type EraseJob struct {
	session   *Session
	strokes   []Stroke
	batchSize int
	erased    int
}

func NewEraseJob(session *Session, strokes []Stroke, batchSize int) *EraseJob {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &EraseJob{
		session:   session,
		strokes:   strokes,
		batchSize: batchSize,
	}
}

func (j *EraseJob) Name() string {
	return "erase"
}

func (j *EraseJob) Batches() int {
	return (len(j.strokes) + j.batchSize - 1) / j.batchSize
}

func (j *EraseJob) RunBatch(batch int) error {
	start := batch * j.batchSize
	end := min(start+j.batchSize, len(j.strokes))

	for _, s := range j.strokes[start:end] {
		j.erased += len(j.session.Erase(s.Center, s.Radius))
	}
	return nil
}

// Erased returns the number of instances erased so far. It must not be
// called while the job runs.
func (j *EraseJob) Erased() int {
	return j.erased
}
