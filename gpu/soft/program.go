package soft

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/meadow/gpu"
)

// VerticesPerBlade is the number of vertices the expansion kernel emits for
// a visible blade.
const VerticesPerBlade = 3

// Program is a CPU rendition of the blade expansion kernel. Each thread reads
// a visible id, decodes the instance record and appends a triangle to the
// vertex buffer. Blades that do not fit in the vertex buffer are dropped. The
// resulting vertex count is written to the first word of the indirect args.
type Program struct {
	threadGroupSize uint32

	mutex     sync.Mutex
	buffers   map[string]gpu.Buffer
	uints     map[string]uint32
	resources map[string]gpu.Resource
}

func NewProgram(threadGroupSize uint32) *Program {
	return &Program{
		threadGroupSize: threadGroupSize,
		buffers:         make(map[string]gpu.Buffer),
		uints:           make(map[string]uint32),
		resources:       make(map[string]gpu.Resource),
	}
}

func (p *Program) ThreadGroupSize() uint32 {
	return p.threadGroupSize
}

func (p *Program) SetBuffer(slot string, b gpu.Buffer) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.buffers[slot] = b
}

func (p *Program) SetUint(name string, v uint32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.uints[name] = v
}

func (p *Program) SetResource(slot string, r gpu.Resource) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.resources[slot] = r
}

// Uint returns the value of a uniform.
func (p *Program) Uint(name string) uint32 {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.uints[name]
}

func (p *Program) buffer(slot string) (*Buffer, error) {
	p.mutex.Lock()
	b, ok := p.buffers[slot]
	p.mutex.Unlock()

	if !ok {
		return nil, errors.New("buffer not bound").WithTag("slot", slot)
	}

	sb, ok := b.(*Buffer)
	if !ok {
		return nil, errors.New("buffer not allocated by the soft device").WithTag("slot", slot)
	}
	return sb, nil
}

func (p *Program) run(x, y, z uint32) error {
	source, err := p.buffer(gpu.SlotSource)
	if err != nil {
		return err
	}
	visible, err := p.buffer(gpu.SlotVisible)
	if err != nil {
		return err
	}
	vertices, err := p.buffer(gpu.SlotAppend)
	if err != nil {
		return err
	}
	args, err := p.buffer(gpu.SlotArgs)
	if err != nil {
		return err
	}

	threads := uint64(x) * uint64(y) * uint64(z) * uint64(p.threadGroupSize)
	count := uint64(p.Uint(gpu.UniformCount))
	if count > threads {
		count = threads
	}

	ids := gpu.DecodeIDs(visible.Bytes())
	if uint64(len(ids)) < count {
		count = uint64(len(ids))
	}
	records := source.Bytes()

	vertices.mutex.Lock()
	defer vertices.mutex.Unlock()

	if vertices.released {
		return errors.New("buffer released").
			WithType(gpu.ErrTypeReleased).
			WithTag("name", vertices.desc.Name)
	}

	capacity := uint32(vertices.desc.Count)
	for _, id := range ids[:count] {
		offset := int(id) * gpu.InstanceStride
		if offset+gpu.InstanceStride > len(records) {
			continue
		}

		// The counter keeps increasing past the capacity like an append
		// buffer would, only the writes are dropped.
		start := vertices.counter
		vertices.counter += VerticesPerBlade
		if start+VerticesPerBlade > capacity {
			continue
		}

		instance, err := gpu.DecodeInstance(records[offset:])
		if err != nil {
			return err
		}

		for i, v := range expandBlade(instance) {
			copy(vertices.data[int(start+uint32(i))*gpu.VertexStride:], v.Marshal())
		}
	}

	written := min(vertices.counter, capacity/VerticesPerBlade*VerticesPerBlade)

	a := gpu.DefaultIndirectArgs
	if b := args.Bytes(); len(b) >= gpu.IndirectArgsSize {
		if a, err = gpu.UnmarshalIndirectArgs(b); err != nil {
			return err
		}
	}
	a.VertexCount = written
	return args.Write(0, a.Marshal())
}
