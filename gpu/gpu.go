// Package gpu defines the buffers, programs and renderer the draw pipeline
// drives. Implementations wrap a real graphics API or, for tests and
// headless hosts, the soft package.
package gpu

import (
	"github.com/aukilabs/meadow/spatial"
)

const (
	ErrTypeOutOfRange = "gpu_out_of_range"
	ErrTypeAllocation = "gpu_allocation"
	ErrTypeReleased   = "gpu_released"
)

// Usage describes how a buffer is accessed by shaders.
type Usage int

const (
	// Structured buffers are read and written by index.
	Structured Usage = iota
	// Append buffers carry a hidden counter atomically incremented on writes.
	Append
	// IndirectArguments buffers hold the arguments of an indirect draw.
	IndirectArguments
)

func (u Usage) String() string {
	switch u {
	case Structured:
		return "structured"
	case Append:
		return "append"
	case IndirectArguments:
		return "indirect_arguments"
	default:
		return "unknown"
	}
}

type BufferDesc struct {
	Name   string
	Count  int
	Stride int
	Usage  Usage
}

// Size returns the size of the buffer in bytes.
func (d BufferDesc) Size() int {
	return d.Count * d.Stride
}

// Buffer is a GPU resident buffer.
type Buffer interface {
	Desc() BufferDesc

	// Write copies data into the buffer starting at the given byte offset.
	Write(offset int, data []byte) error

	// SetCounter sets the hidden counter of an append buffer.
	SetCounter(v uint32) error

	Release()
}

type Device interface {
	CreateBuffer(desc BufferDesc) (Buffer, error)
}

// ComputeProgram is a compute kernel with its bindings.
type ComputeProgram interface {
	// ThreadGroupSize returns the number of threads of a group on X.
	ThreadGroupSize() uint32

	SetBuffer(slot string, b Buffer)
	SetUint(name string, v uint32)

	// SetResource binds an auxiliary resource such as the cut effect.
	SetResource(slot string, r Resource)
}

// Material is the render state used to draw generated geometry.
type Material interface {
	SetBuffer(slot string, b Buffer)
}

// Resource is an opaque host resource.
type Resource interface{}

type DrawOptions struct {
	CastShadows    bool
	ReceiveShadows bool
}

// Renderer submits GPU work. Calls are ordered by the renderer, callers never
// wait on completion.
type Renderer interface {
	Dispatch(p ComputeProgram, x, y, z uint32) error
	DrawIndirect(m Material, args Buffer, bounds spatial.AABB, opts DrawOptions) error
}

// Resources are the host provided resources a pipeline needs.
type Resources struct {
	Program   ComputeProgram
	Material  Material
	CutEffect Resource
}

// Binding slots shared by programs and materials.
const (
	SlotSource   = "source"
	SlotVisible  = "visible_ids"
	SlotAppend   = "vertices"
	SlotArgs     = "indirect_args"
	SlotCut      = "cut_effect"
	UniformCount = "visible_count"
)
