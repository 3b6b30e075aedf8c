package models

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/aukilabs/meadow/spatial"
	"github.com/go-gl/mathgl/mgl32"
)

// Instance is the authored data of a single blade.
type Instance struct {
	Position    mgl32.Vec3
	Normal      mgl32.Vec3
	WidthHeight mgl32.Vec2
	Color       mgl32.Vec3
}

// InstanceStore is a dense array of instances addressed by index. Indices are
// not stable: removing instances shifts the ones that follow.
//
// It is not safe for concurrent use.
type InstanceStore struct {
	instances []Instance
}

func NewInstanceStore(instances ...Instance) *InstanceStore {
	return &InstanceStore{
		instances: instances,
	}
}

func (s *InstanceStore) Len() int {
	return len(s.instances)
}

func (s *InstanceStore) At(i int) (Instance, bool) {
	if i < 0 || i >= len(s.instances) {
		return Instance{}, false
	}
	return s.instances[i], true
}

// Set replaces the instance at the given index. It reports false when the
// index is out of range.
func (s *InstanceStore) Set(i int, v Instance) bool {
	if i < 0 || i >= len(s.instances) {
		return false
	}
	s.instances[i] = v
	return true
}

// Append adds instances at the end of the store and returns the index of the
// first one.
func (s *InstanceStore) Append(instances ...Instance) int {
	start := len(s.instances)
	s.instances = append(s.instances, instances...)
	return start
}

// RemoveIndices removes the instances at the given indices, keeping the order
// of the remaining ones. Indices out of range are ignored. It returns the
// number of removed instances.
func (s *InstanceStore) RemoveIndices(indices *roaring.Bitmap) int {
	if indices == nil || indices.IsEmpty() {
		return 0
	}

	kept := s.instances[:0]
	for i, instance := range s.instances {
		if !indices.Contains(uint32(i)) {
			kept = append(kept, instance)
		}
	}

	removed := len(s.instances) - len(kept)
	clear(s.instances[len(kept):])
	s.instances = kept

	if removed != 0 {
		instrumentCompaction(removed)
	}
	return removed
}

// Slice returns the underlying instances. The returned slice is only valid
// until the next mutation.
func (s *InstanceStore) Slice() []Instance {
	return s.instances
}

func (s *InstanceStore) Positions() []mgl32.Vec3 {
	positions := make([]mgl32.Vec3, len(s.instances))
	for i, instance := range s.instances {
		positions[i] = instance.Position
	}
	return positions
}

// Bounds returns the world bounds of the instances, grown upward by the
// tallest blade. It returns false when the store is empty.
func (s *InstanceStore) Bounds() (spatial.AABB, bool) {
	if len(s.instances) == 0 {
		return spatial.AABB{}, false
	}

	b := spatial.AABB{
		Min: s.instances[0].Position,
		Max: s.instances[0].Position,
	}

	var height float32
	for _, instance := range s.instances {
		b = b.Encapsulate(instance.Position)
		height = max(height, instance.WidthHeight[1])
	}

	b.Max[1] += height
	return b, true
}
