// Package partition implements a hybrid quad/oct tree over instance
// positions, built once over fixed world bounds and used for frustum culling
// and approximate radius gathering.
//
// Levels alternate between a 4-way split in the XZ plane, where children keep
// the full Y extent of their parent, and an 8-way split on every axis. Even
// remaining depths split 4-way and odd ones 8-way, which keeps the vertical
// subdivision coarser than the horizontal one.
package partition

import (
	"github.com/aukilabs/meadow/spatial"
	"github.com/go-gl/mathgl/mgl32"
)

// DefaultDepth is the depth used when building a tree for a pipeline.
const DefaultDepth = 6

type node struct {
	// bounds may grow past base when a position on a child boundary could not
	// be placed by containment.
	bounds   spatial.AABB
	base     spatial.AABB
	depth    int
	children []*node
	held     []uint32
}

func newNode(base spatial.AABB, depth int, eager bool) *node {
	n := &node{
		bounds: base,
		base:   base,
		depth:  depth,
	}

	if depth > 0 {
		n.children = make([]*node, splitCount(depth))
		if eager {
			for i := range n.children {
				n.children[i] = newNode(n.childBase(i), depth-1, true)
			}
		}
	}
	return n
}

func splitCount(depth int) int {
	if depth%2 == 0 {
		return 4
	}
	return 8
}

func (n *node) isLeaf() bool {
	return n.depth == 0
}

// childBase returns the constructed bounds of the i-th child. Bit 0 of i
// selects the X half, bit 1 the Z half and bit 2 the Y half.
func (n *node) childBase(i int) spatial.AABB {
	center := n.base.Center()
	extents := n.base.Extents()
	half := extents.Mul(0.5)

	childCenter := center
	childExtents := mgl32.Vec3{half[0], extents[1], half[2]}

	childCenter[0] += sign(i&1 != 0) * half[0]
	childCenter[2] += sign(i&2 != 0) * half[2]
	if len(n.children) == 8 {
		childExtents[1] = half[1]
		childCenter[1] += sign(i&4 != 0) * half[1]
	}

	return spatial.NewAABB(childCenter, childExtents)
}

func sign(positive bool) float32 {
	if positive {
		return 1
	}
	return -1
}

// child returns the i-th child, recreating it when a compaction dropped it.
func (n *node) child(i int) *node {
	if n.children[i] == nil {
		n.children[i] = newNode(n.childBase(i), n.depth-1, false)
	}
	return n.children[i]
}

func (n *node) childBounds(i int) spatial.AABB {
	if c := n.children[i]; c != nil {
		return c.bounds
	}
	return n.childBase(i)
}

// Tree is a hybrid spatial partition tree. It is not safe for concurrent use.
type Tree struct {
	root  *node
	depth int
	count int
}

// New builds a tree over the given bounds. A negative depth is treated as 0,
// which makes the root a single leaf.
func New(bounds spatial.AABB, depth int) *Tree {
	if depth < 0 {
		depth = 0
	}

	return &Tree{
		root:  newNode(bounds, depth, true),
		depth: depth,
	}
}

func (t *Tree) Bounds() spatial.AABB {
	return t.root.bounds
}

func (t *Tree) Depth() int {
	return t.depth
}

// Len returns the number of indices held by the tree.
func (t *Tree) Len() int {
	return t.count
}

// InsertBulk inserts every position using its slice index as instance index.
// It returns the number of inserted positions.
func (t *Tree) InsertBulk(positions []mgl32.Vec3) int {
	inserted := 0
	for i, p := range positions {
		if t.Insert(p, uint32(i)) {
			inserted++
		}
	}
	return inserted
}

// Insert places the index in the leaf containing the position. Positions
// outside of the tree bounds are rejected.
//
// At each level the first child whose bounds contain the position is picked.
// When no child does, the position goes to the nearest child whose bounds are
// grown to hold it, so that queries keep finding it.
func (t *Tree) Insert(position mgl32.Vec3, index uint32) bool {
	if !t.root.bounds.Contains(position) {
		return false
	}

	n := t.root
	for !n.isLeaf() {
		n = n.pick(position)
	}

	n.held = append(n.held, index)
	t.count++
	return true
}

func (n *node) pick(position mgl32.Vec3) *node {
	for i := range n.children {
		if n.childBounds(i).Contains(position) {
			return n.child(i)
		}
	}

	nearest := 0
	nearestDistance := n.childBounds(0).SqDistance(position)
	for i := 1; i < len(n.children); i++ {
		if d := n.childBounds(i).SqDistance(position); d < nearestDistance {
			nearest = i
			nearestDistance = d
		}
	}

	c := n.child(nearest)
	c.bounds = c.bounds.Encapsulate(position)
	return c
}

// Remove erases the index from the leaf owning the position and reports
// whether it was found.
func (t *Tree) Remove(position mgl32.Vec3, index uint32) bool {
	if t.root.remove(position, index) {
		t.count--
		return true
	}
	return false
}

func (n *node) remove(position mgl32.Vec3, index uint32) bool {
	if !n.bounds.Contains(position) {
		return false
	}

	if n.isLeaf() {
		for i, id := range n.held {
			if id == index {
				last := len(n.held) - 1
				n.held[i] = n.held[last]
				n.held = n.held[:last]
				return true
			}
		}
		return false
	}

	// Closed bounds overlap on shared faces so more than one child may
	// contain the position.
	for _, c := range n.children {
		if c != nil && c.remove(position, index) {
			return true
		}
	}
	return false
}

// RetrieveVisible appends to out the indices held by every leaf overlapping
// the frustum and returns the extended slice.
func (t *Tree) RetrieveVisible(frustum *spatial.Frustum, out []uint32) []uint32 {
	return t.root.retrieveVisible(frustum, out)
}

func (n *node) retrieveVisible(frustum *spatial.Frustum, out []uint32) []uint32 {
	switch frustum.ClassifyAABB(n.bounds) {
	case spatial.Outside:
		return out

	case spatial.Inside:
		return n.collect(out)
	}

	if n.isLeaf() {
		return append(out, n.held...)
	}

	for _, c := range n.children {
		if c != nil {
			out = c.retrieveVisible(frustum, out)
		}
	}
	return out
}

func (n *node) collect(out []uint32) []uint32 {
	if n.isLeaf() {
		return append(out, n.held...)
	}

	for _, c := range n.children {
		if c != nil {
			out = c.collect(out)
		}
	}
	return out
}

// GatherNear appends to out the indices of every leaf that may hold a
// position within radius of point and returns the extended slice. Leaves are
// appended whole so callers filter by exact distance when they need to.
func (t *Tree) GatherNear(point mgl32.Vec3, radius float32, out []uint32) []uint32 {
	if radius < 0 {
		return out
	}
	return t.root.gatherNear(point, radius, out)
}

func (n *node) gatherNear(point mgl32.Vec3, radius float32, out []uint32) []uint32 {
	if !n.bounds.Expand(2 * radius).Contains(point) {
		return out
	}

	if n.isLeaf() {
		return append(out, n.held...)
	}

	sqRadius := radius * radius
	for _, c := range n.children {
		if c != nil && c.bounds.SqDistance(point) <= sqRadius {
			out = c.gatherNear(point, radius, out)
		}
	}
	return out
}

// ClearEmpty drops every subtree holding no index and reports whether the
// whole tree is empty. Dropped children are recreated by later inserts.
func (t *Tree) ClearEmpty() bool {
	return t.root.clearEmpty()
}

func (n *node) clearEmpty() bool {
	if n.isLeaf() {
		return len(n.held) == 0
	}

	empty := true
	for i, c := range n.children {
		if c == nil {
			continue
		}

		if c.clearEmpty() {
			n.children[i] = nil
		} else {
			empty = false
		}
	}
	return empty
}
