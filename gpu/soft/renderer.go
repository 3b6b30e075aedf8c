package soft

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/meadow/gpu"
	"github.com/aukilabs/meadow/spatial"
)

// Material records its bindings.
type Material struct {
	mutex   sync.Mutex
	buffers map[string]gpu.Buffer
}

func NewMaterial() *Material {
	return &Material{
		buffers: make(map[string]gpu.Buffer),
	}
}

func (m *Material) SetBuffer(slot string, b gpu.Buffer) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.buffers[slot] = b
}

func (m *Material) Buffer(slot string) (gpu.Buffer, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	b, ok := m.buffers[slot]
	return b, ok
}

type Dispatch struct {
	X uint32
	Y uint32
	Z uint32
}

type Draw struct {
	Args    gpu.IndirectArgs
	Bounds  spatial.AABB
	Options gpu.DrawOptions
}

// DefaultRecordLimit is the number of calls of each kind a new renderer
// keeps.
const DefaultRecordLimit = 64

// Renderer executes dispatches of soft programs synchronously and records the
// last submitted calls.
type Renderer struct {
	mutex         sync.Mutex
	limit         int
	dispatches    []Dispatch
	draws         []Draw
	dispatchCount uint64
	drawCount     uint64
	dispatchErr   error
}

func NewRenderer() *Renderer {
	return &Renderer{limit: DefaultRecordLimit}
}

// SetRecordLimit sets how many calls of each kind are kept. Older calls are
// dropped first. A non-positive limit disables recording, counters still
// increase.
func (r *Renderer) SetRecordLimit(limit int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.limit = max(limit, 0)
	r.dispatches = trim(r.dispatches, r.limit)
	r.draws = trim(r.draws, r.limit)
}

// trim keeps the last limit entries of s.
func trim[T any](s []T, limit int) []T {
	if len(s) <= limit {
		return s
	}
	n := copy(s, s[len(s)-limit:])
	clear(s[n:])
	return s[:n]
}

func record[T any](s []T, v T, limit int) []T {
	if limit == 0 {
		return s[:0]
	}
	return append(trim(s, limit-1), v)
}

// FailDispatches makes the following dispatches fail with err. A nil err
// restores normal behavior.
func (r *Renderer) FailDispatches(err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.dispatchErr = err
}

func (r *Renderer) Dispatch(p gpu.ComputeProgram, x, y, z uint32) error {
	r.mutex.Lock()
	err := r.dispatchErr
	r.dispatches = record(r.dispatches, Dispatch{X: x, Y: y, Z: z}, r.limit)
	r.dispatchCount++
	r.mutex.Unlock()

	if err != nil {
		return err
	}

	program, ok := p.(*Program)
	if !ok {
		return errors.New("program not supported by the soft renderer")
	}
	return program.run(x, y, z)
}

func (r *Renderer) DrawIndirect(m gpu.Material, args gpu.Buffer, bounds spatial.AABB, opts gpu.DrawOptions) error {
	b, ok := args.(*Buffer)
	if !ok {
		return errors.New("args buffer not allocated by the soft device")
	}

	a, err := gpu.UnmarshalIndirectArgs(b.Bytes())
	if err != nil {
		return errors.New("reading indirect args failed").Wrap(err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.draws = record(r.draws, Draw{
		Args:    a,
		Bounds:  bounds,
		Options: opts,
	}, r.limit)
	r.drawCount++
	return nil
}

// Dispatches returns the recorded dispatches, oldest first.
func (r *Renderer) Dispatches() []Dispatch {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return append([]Dispatch(nil), r.dispatches...)
}

// Draws returns the recorded draws, oldest first.
func (r *Renderer) Draws() []Draw {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return append([]Draw(nil), r.draws...)
}

// DispatchCount returns the number of dispatches submitted since the last
// Reset, recorded or not.
func (r *Renderer) DispatchCount() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.dispatchCount
}

// DrawCount returns the number of draws submitted since the last Reset.
func (r *Renderer) DrawCount() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.drawCount
}

// Reset forgets recorded calls and zeroes the counters.
func (r *Renderer) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.dispatches = nil
	r.draws = nil
	r.dispatchCount = 0
	r.drawCount = 0
}
