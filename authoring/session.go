// Package authoring keeps the instance store and the spatial indices in sync
// while a brush tool edits instances.
package authoring

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/meadow/models"
	"github.com/aukilabs/meadow/spatial"
	"github.com/aukilabs/meadow/spatial/hashgrid"
	"github.com/go-gl/mathgl/mgl32"
)

// DefaultBrushSize is the brush size used when activating a session with a
// non-positive size.
const DefaultBrushSize = 2

// Index is a spatial index holding instance indices by position, such as a
// partition tree.
type Index interface {
	Insert(position mgl32.Vec3, index uint32) bool
	Remove(position mgl32.Vec3, index uint32) bool
}

// Session binds a hash grid to an instance store for the time a tool is
// active. Erased instances stay in the store as pending deletions until
// Commit compacts it, which keeps indices stable during a stroke.
//
// A session is not safe for concurrent use.
type Session struct {
	store *models.InstanceStore
	index Index
	grid  *hashgrid.Grid

	active    bool
	brushSize float32
	pending   *roaring.Bitmap
	scratch   *roaring.Bitmap
}

// NewSession creates an inactive session. The index may be nil.
func NewSession(store *models.InstanceStore, index Index) *Session {
	return &Session{
		store:   store,
		index:   index,
		grid:    hashgrid.New(DefaultBrushSize, mgl32.Vec3{}),
		pending: roaring.New(),
		scratch: roaring.New(),
	}
}

// SetIndex replaces the index kept in sync with the edits. It is typically
// called after a pipeline reset built a new partition tree.
func (s *Session) SetIndex(index Index) {
	s.index = index
}

// Activate builds the grid over every live instance with a cell size matching
// the brush size.
func (s *Session) Activate(brushSize float32) {
	s.active = true
	s.SetBrushSize(brushSize)
}

// SetBrushSize rebuilds the grid with a new cell size.
func (s *Session) SetBrushSize(brushSize float32) {
	if brushSize <= 0 {
		brushSize = DefaultBrushSize
	}
	s.brushSize = brushSize

	if !s.active {
		return
	}
	s.rebuildGrid()
}

// Deactivate clears the grid. Pending deletions are kept until Commit.
func (s *Session) Deactivate() {
	s.active = false
	s.grid.Clear()
}

func (s *Session) Active() bool {
	return s.active
}

func (s *Session) BrushSize() float32 {
	return s.brushSize
}

func (s *Session) Grid() *hashgrid.Grid {
	return s.grid
}

func (s *Session) rebuildGrid() {
	s.grid = hashgrid.New(s.brushSize, mgl32.Vec3{})
	for i, instance := range s.store.Slice() {
		if s.pending.Contains(uint32(i)) {
			continue
		}
		s.grid.Add(instance.Position, uint32(i))
	}

	logs.WithTag("cells", s.grid.Len()).
		WithTag("instances", s.grid.Count()).
		WithTag("brush_size", s.brushSize).
		Debug("authoring grid built")
}

// Erase removes every live instance within radius of center from the grid
// and the index, and marks it as pending deletion. It returns the erased
// indices in increasing order.
func (s *Session) Erase(center mgl32.Vec3, radius float32) []uint32 {
	if !s.active {
		return nil
	}

	s.grid.QueryRadius(center, radius, s.scratch)

	var erased []uint32
	sqRadius := radius * radius
	it := s.scratch.Iterator()
	for it.HasNext() {
		i := it.Next()

		instance, ok := s.store.At(int(i))
		if !ok || s.pending.Contains(i) {
			continue
		}
		if spatial.SqDistance(instance.Position, center) > sqRadius {
			continue
		}

		s.grid.Remove(instance.Position, i)
		if s.index != nil {
			s.index.Remove(instance.Position, i)
		}
		s.pending.Add(i)
		erased = append(erased, i)
	}

	if len(erased) != 0 {
		instrumentEdit(editErase, len(erased))
	}
	return erased
}

// Paint appends instances to the store and indexes them. It returns the index
// of the first appended instance.
func (s *Session) Paint(instances ...models.Instance) int {
	start := s.store.Append(instances...)

	for i, instance := range instances {
		index := uint32(start + i)
		if s.active {
			s.grid.Add(instance.Position, index)
		}
		if s.index != nil {
			s.index.Insert(instance.Position, index)
		}
	}

	if len(instances) != 0 {
		instrumentEdit(editPaint, len(instances))
	}
	return start
}

// Modify applies fn to every live instance within radius of center. Moved
// instances are removed from the indices at their old position and inserted
// at the new one. It returns the contiguous range of indices covering the
// modified instances, with a zero count when nothing was modified.
func (s *Session) Modify(center mgl32.Vec3, radius float32, fn func(models.Instance) models.Instance) (start, count int) {
	if !s.active {
		return 0, 0
	}

	s.grid.QueryRadius(center, radius, s.scratch)

	first, last := -1, -1
	sqRadius := radius * radius
	it := s.scratch.Iterator()
	for it.HasNext() {
		i := it.Next()

		before, ok := s.store.At(int(i))
		if !ok || s.pending.Contains(i) {
			continue
		}
		if spatial.SqDistance(before.Position, center) > sqRadius {
			continue
		}

		after := fn(before)
		s.store.Set(int(i), after)

		if after.Position != before.Position {
			s.grid.Remove(before.Position, i)
			s.grid.Add(after.Position, i)

			if s.index != nil {
				s.index.Remove(before.Position, i)
				s.index.Insert(after.Position, i)
			}
		}

		if first < 0 {
			first = int(i)
		}
		last = int(i)
	}

	if first < 0 {
		return 0, 0
	}

	instrumentEdit(editModify, last-first+1)
	return first, last - first + 1
}

// Pending returns a copy of the indices pending deletion.
func (s *Session) Pending() *roaring.Bitmap {
	return s.pending.Clone()
}

// Live returns the number of instances not pending deletion.
func (s *Session) Live() int {
	return s.store.Len() - int(s.pending.GetCardinality())
}

// Commit removes the pending deletions from the store. Removal shifts
// indices, so the grid is rebuilt and the index is detached: callers reset
// their pipeline and attach the new tree with SetIndex. It reports whether
// the store changed.
func (s *Session) Commit() bool {
	if s.pending.IsEmpty() {
		return false
	}

	removed := s.store.RemoveIndices(s.pending)
	s.pending.Clear()
	s.index = nil

	if s.active {
		s.rebuildGrid()
	}

	logs.WithTag("removed", removed).
		WithTag("instances", s.store.Len()).
		Info("authoring edits committed")
	return true
}
