// Package soft implements the gpu interfaces in memory. It runs the blade
// expansion kernel on the CPU and records draws, which is enough for headless
// hosts and tests.
package soft

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/meadow/gpu"
)

// Device allocates in-memory buffers.
type Device struct {
	// MaxBufferSize is the largest buffer in bytes the device accepts. Zero
	// means no limit.
	MaxBufferSize int

	mutex   sync.Mutex
	buffers map[string]*Buffer
}

func NewDevice() *Device {
	return &Device{
		buffers: make(map[string]*Buffer),
	}
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Count < 0 || desc.Stride <= 0 {
		return nil, errors.New("invalid buffer description").
			WithType(gpu.ErrTypeAllocation).
			WithTag("name", desc.Name).
			WithTag("count", desc.Count).
			WithTag("stride", desc.Stride)
	}

	if d.MaxBufferSize > 0 && desc.Size() > d.MaxBufferSize {
		return nil, errors.New("buffer exceeds device limit").
			WithType(gpu.ErrTypeAllocation).
			WithTag("name", desc.Name).
			WithTag("size", desc.Size()).
			WithTag("limit", d.MaxBufferSize)
	}

	b := &Buffer{
		desc: desc,
		data: make([]byte, desc.Size()),
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.buffers == nil {
		d.buffers = make(map[string]*Buffer)
	}
	d.buffers[desc.Name] = b
	return b, nil
}

// Buffer returns the last buffer created with the given name.
func (d *Device) Buffer(name string) (*Buffer, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	b, ok := d.buffers[name]
	return b, ok
}

// Live returns the number of created buffers that are not released.
func (d *Device) Live() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	count := 0
	for _, b := range d.buffers {
		if !b.Released() {
			count++
		}
	}
	return count
}

type Buffer struct {
	desc gpu.BufferDesc

	mutex    sync.Mutex
	data     []byte
	counter  uint32
	released bool
}

func (b *Buffer) Desc() gpu.BufferDesc {
	return b.desc
}

func (b *Buffer) Write(offset int, data []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.released {
		return errors.New("buffer released").
			WithType(gpu.ErrTypeReleased).
			WithTag("name", b.desc.Name)
	}

	if offset < 0 || offset+len(data) > len(b.data) {
		return errors.New("write out of range").
			WithType(gpu.ErrTypeOutOfRange).
			WithTag("name", b.desc.Name).
			WithTag("offset", offset).
			WithTag("size", len(data)).
			WithTag("capacity", len(b.data))
	}

	copy(b.data[offset:], data)
	return nil
}

func (b *Buffer) SetCounter(v uint32) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.released {
		return errors.New("buffer released").
			WithType(gpu.ErrTypeReleased).
			WithTag("name", b.desc.Name)
	}

	b.counter = v
	return nil
}

func (b *Buffer) Release() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.released = true
	b.data = nil
}

func (b *Buffer) Released() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.released
}

// Bytes returns a copy of the buffer content.
func (b *Buffer) Bytes() []byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return append([]byte(nil), b.data...)
}

// Counter returns the hidden counter of an append buffer.
func (b *Buffer) Counter() uint32 {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.counter
}
