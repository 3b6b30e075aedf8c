package gpu

import (
	"encoding/binary"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/meadow/models"
)

const (
	// InstanceStride is the size of an instance record: position, normal,
	// width and height, color.
	InstanceStride = 11 * 4

	// VertexStride is the size of a generated vertex: position, normal, uv.
	VertexStride = 8 * 4

	IndirectArgsWords  = 5
	IndirectArgsStride = 4
	IndirectArgsSize   = IndirectArgsWords * IndirectArgsStride

	IDStride = 4
)

// IndirectArgs are the arguments of an indirect draw.
type IndirectArgs struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
	Pad           uint32
}

// DefaultIndirectArgs are written before every dispatch so that the compute
// stage only has to fill the vertex count.
var DefaultIndirectArgs = IndirectArgs{InstanceCount: 1}

func (a IndirectArgs) Marshal() []byte {
	b := make([]byte, IndirectArgsSize)
	binary.LittleEndian.PutUint32(b[0:], a.VertexCount)
	binary.LittleEndian.PutUint32(b[4:], a.InstanceCount)
	binary.LittleEndian.PutUint32(b[8:], a.FirstVertex)
	binary.LittleEndian.PutUint32(b[12:], a.FirstInstance)
	binary.LittleEndian.PutUint32(b[16:], a.Pad)
	return b
}

func UnmarshalIndirectArgs(b []byte) (IndirectArgs, error) {
	if len(b) < IndirectArgsSize {
		return IndirectArgs{}, errors.New("indirect args too short").
			WithType(ErrTypeOutOfRange).
			WithTag("size", len(b))
	}

	return IndirectArgs{
		VertexCount:   binary.LittleEndian.Uint32(b[0:]),
		InstanceCount: binary.LittleEndian.Uint32(b[4:]),
		FirstVertex:   binary.LittleEndian.Uint32(b[8:]),
		FirstInstance: binary.LittleEndian.Uint32(b[12:]),
		Pad:           binary.LittleEndian.Uint32(b[16:]),
	}, nil
}

// EncodeInstances encodes instances as little endian float32 records.
func EncodeInstances(instances []models.Instance) []byte {
	b := make([]byte, len(instances)*InstanceStride)
	for i, instance := range instances {
		r := b[i*InstanceStride:]
		putFloats(r[0:], instance.Position[:]...)
		putFloats(r[12:], instance.Normal[:]...)
		putFloats(r[24:], instance.WidthHeight[:]...)
		putFloats(r[32:], instance.Color[:]...)
	}
	return b
}

// DecodeInstance decodes the instance record at the start of b.
func DecodeInstance(b []byte) (models.Instance, error) {
	if len(b) < InstanceStride {
		return models.Instance{}, errors.New("instance record too short").
			WithType(ErrTypeOutOfRange).
			WithTag("size", len(b))
	}

	var instance models.Instance
	getFloats(b[0:], instance.Position[:])
	getFloats(b[12:], instance.Normal[:])
	getFloats(b[24:], instance.WidthHeight[:])
	getFloats(b[32:], instance.Color[:])
	return instance, nil
}

// Vertex is a generated vertex record.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	UV       [2]float32
}

func (v Vertex) Marshal() []byte {
	b := make([]byte, VertexStride)
	putFloats(b[0:], v.Position[:]...)
	putFloats(b[12:], v.Normal[:]...)
	putFloats(b[24:], v.UV[:]...)
	return b
}

func UnmarshalVertex(b []byte) (Vertex, error) {
	if len(b) < VertexStride {
		return Vertex{}, errors.New("vertex record too short").
			WithType(ErrTypeOutOfRange).
			WithTag("size", len(b))
	}

	var v Vertex
	getFloats(b[0:], v.Position[:])
	getFloats(b[12:], v.Normal[:])
	getFloats(b[24:], v.UV[:])
	return v, nil
}

// EncodeIDs encodes indices as little endian uint32.
func EncodeIDs(ids []uint32) []byte {
	b := make([]byte, len(ids)*IDStride)
	for i, id := range ids {
		binary.LittleEndian.PutUint32(b[i*IDStride:], id)
	}
	return b
}

func DecodeIDs(b []byte) []uint32 {
	ids := make([]uint32, len(b)/IDStride)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint32(b[i*IDStride:])
	}
	return ids
}

func putFloats(b []byte, values ...float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
}

func getFloats(b []byte, values []float32) {
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
}
