// Package hashgrid implements a uniform spatial hash grid used as a broad
// phase for brush queries over instance positions.
//
// Positions are bucketed by the cell they fall in. Cells are addressed by
// signed integer coordinates packed into a single 64 bits key, each axis
// taking a 21 bits window. Only occupied cells hold a bucket.
package hashgrid

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/aukilabs/meadow/spatial"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	axisBits = 21
	axisMask = 1<<axisBits - 1

	// MinCoord and MaxCoord are the cell coordinates that can be packed in a
	// key. Coordinates outside of this window are clamped.
	MinCoord = -(1 << (axisBits - 1))
	MaxCoord = 1<<(axisBits-1) - 1
)

// Cell is the integer coordinates of a grid cell.
type Cell struct {
	X int32
	Y int32
	Z int32
}

// Key returns the packed key of the cell.
func (c Cell) Key() uint64 {
	return PackKey(c.X, c.Y, c.Z)
}

// PackKey packs cell coordinates into a key. Distinct coordinates within
// [MinCoord, MaxCoord] never produce the same key.
func PackKey(x, y, z int32) uint64 {
	return uint64(uint32(clampCoord(x))&axisMask)<<(2*axisBits) |
		uint64(uint32(clampCoord(y))&axisMask)<<axisBits |
		uint64(uint32(clampCoord(z))&axisMask)
}

// UnpackKey returns the cell coordinates of a key.
func UnpackKey(key uint64) Cell {
	return Cell{
		X: signExtend(uint32(key>>(2*axisBits)) & axisMask),
		Y: signExtend(uint32(key>>axisBits) & axisMask),
		Z: signExtend(uint32(key) & axisMask),
	}
}

func signExtend(v uint32) int32 {
	return int32(v<<(32-axisBits)) >> (32 - axisBits)
}

func clampCoord(v int32) int32 {
	if v < MinCoord {
		return MinCoord
	}
	if v > MaxCoord {
		return MaxCoord
	}
	return v
}

type bucket struct {
	cell Cell
	ids  *roaring.Bitmap
}

// Grid is a uniform spatial hash grid. It is not safe for concurrent use.
type Grid struct {
	cellSize float32
	origin   mgl32.Vec3
	slack    float64
	buckets  map[uint64]*bucket
}

// New creates a grid. A non-positive cell size defaults to 1.
func New(cellSize float32, origin mgl32.Vec3) *Grid {
	if cellSize <= 0 || math.IsNaN(float64(cellSize)) {
		cellSize = 1
	}

	return &Grid{
		cellSize: cellSize,
		origin:   origin,
		slack:    float64(cellSize) * math.Sqrt(3),
		buckets:  make(map[uint64]*bucket),
	}
}

func (g *Grid) CellSize() float32 {
	return g.cellSize
}

func (g *Grid) Origin() mgl32.Vec3 {
	return g.origin
}

// CellOf returns the coordinates of the cell holding the position.
func (g *Grid) CellOf(position mgl32.Vec3) Cell {
	return Cell{
		X: g.coord(position[0], g.origin[0]),
		Y: g.coord(position[1], g.origin[1]),
		Z: g.coord(position[2], g.origin[2]),
	}
}

func (g *Grid) coord(v, origin float32) int32 {
	c := math.Floor((float64(v) - float64(origin)) / float64(g.cellSize))
	if c < MinCoord || math.IsNaN(c) {
		return MinCoord
	}
	if c > MaxCoord {
		return MaxCoord
	}
	return int32(c)
}

// Add inserts the index in the bucket of the position.
func (g *Grid) Add(position mgl32.Vec3, index uint32) {
	cell := g.CellOf(position)
	key := cell.Key()

	b, ok := g.buckets[key]
	if !ok {
		b = &bucket{
			cell: UnpackKey(key),
			ids:  roaring.New(),
		}
		g.buckets[key] = b
	}
	b.ids.Add(index)
}

// Remove erases the index from the bucket of the position. The bucket is
// dropped once empty. Removing an absent index is a no-op.
func (g *Grid) Remove(position mgl32.Vec3, index uint32) {
	key := g.CellOf(position).Key()

	b, ok := g.buckets[key]
	if !ok {
		return
	}

	b.ids.Remove(index)
	if b.ids.IsEmpty() {
		delete(g.buckets, key)
	}
}

// Contains reports whether the index is in the bucket of the position.
func (g *Grid) Contains(position mgl32.Vec3, index uint32) bool {
	b, ok := g.buckets[g.CellOf(position).Key()]
	return ok && b.ids.Contains(index)
}

// QueryRadius clears out and fills it with the indices of every bucket that
// may hold a position within radius of the given position. The result is a
// superset of the exact answer. A negative radius yields an empty result.
func (g *Grid) QueryRadius(position mgl32.Vec3, radius float32, out *roaring.Bitmap) {
	out.Clear()
	if radius < 0 || math.IsNaN(float64(radius)) || len(g.buckets) == 0 {
		return
	}

	center := g.CellOf(position)
	reach := int64(math.Ceil(float64(radius) / float64(g.cellSize)))
	if reach > MaxCoord-MinCoord {
		reach = MaxCoord - MinCoord
	}

	limit := float64(radius) + g.slack
	limit *= limit
	cellSize := float64(g.cellSize)

	inRange := func(c Cell) bool {
		dx := int64(c.X) - int64(center.X)
		dy := int64(c.Y) - int64(center.Y)
		dz := int64(c.Z) - int64(center.Z)
		if abs(dx) > reach || abs(dy) > reach || abs(dz) > reach {
			return false
		}

		sq := float64(dx*dx+dy*dy+dz*dz) * cellSize * cellSize
		return sq <= limit
	}

	side := float64(2*reach + 1)
	if side*side*side > float64(len(g.buckets)) {
		for _, b := range g.buckets {
			if inRange(b.cell) {
				out.Or(b.ids)
			}
		}
		return
	}

	for x := int64(center.X) - reach; x <= int64(center.X)+reach; x++ {
		for y := int64(center.Y) - reach; y <= int64(center.Y)+reach; y++ {
			for z := int64(center.Z) - reach; z <= int64(center.Z)+reach; z++ {
				if x < MinCoord || x > MaxCoord || y < MinCoord || y > MaxCoord || z < MinCoord || z > MaxCoord {
					continue
				}

				c := Cell{X: int32(x), Y: int32(y), Z: int32(z)}
				if !inRange(c) {
					continue
				}
				if b, ok := g.buckets[c.Key()]; ok {
					out.Or(b.ids)
				}
			}
		}
	}
}

// QueryBounds clears out and fills it with the indices of every bucket
// overlapping the cells covering the bounds.
func (g *Grid) QueryBounds(bounds spatial.AABB, out *roaring.Bitmap) {
	out.Clear()
	if !bounds.IsValid() || len(g.buckets) == 0 {
		return
	}

	lo := g.CellOf(bounds.Min)
	hi := g.CellOf(bounds.Max)

	inRange := func(c Cell) bool {
		return c.X >= lo.X && c.X <= hi.X &&
			c.Y >= lo.Y && c.Y <= hi.Y &&
			c.Z >= lo.Z && c.Z <= hi.Z
	}

	cells := float64(int64(hi.X)-int64(lo.X)+1) *
		float64(int64(hi.Y)-int64(lo.Y)+1) *
		float64(int64(hi.Z)-int64(lo.Z)+1)
	if cells > float64(len(g.buckets)) {
		for _, b := range g.buckets {
			if inRange(b.cell) {
				out.Or(b.ids)
			}
		}
		return
	}

	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				if b, ok := g.buckets[PackKey(x, y, z)]; ok {
					out.Or(b.ids)
				}
			}
		}
	}
}

// Clear empties the grid.
func (g *Grid) Clear() {
	clear(g.buckets)
}

// Len returns the number of occupied cells.
func (g *Grid) Len() int {
	return len(g.buckets)
}

// Count returns the number of indices held by the grid.
func (g *Grid) Count() int {
	var count uint64
	for _, b := range g.buckets {
		count += b.ids.GetCardinality()
	}
	return int(count)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
