package partition

// Stats describes the allocated structure of a tree.
type Stats struct {
	Nodes  int `json:"nodes"`
	Leaves int `json:"leaves"`
	Held   int `json:"held"`
	Depth  int `json:"depth"`
}

func (t *Tree) Stats() Stats {
	s := Stats{Depth: t.depth}
	t.root.stats(&s)
	return s
}

func (n *node) stats(s *Stats) {
	s.Nodes++
	if n.isLeaf() {
		s.Leaves++
		s.Held += len(n.held)
		return
	}

	for _, c := range n.children {
		if c != nil {
			c.stats(s)
		}
	}
}

// Shape is a structural snapshot of a tree. A nil entry in Children is a
// compacted child.
type Shape struct {
	Held     int
	Children []*Shape
}

func (t *Tree) Shape() *Shape {
	return t.root.shape()
}

func (n *node) shape() *Shape {
	s := &Shape{Held: len(n.held)}
	if len(n.children) == 0 {
		return s
	}

	s.Children = make([]*Shape, len(n.children))
	for i, c := range n.children {
		if c != nil {
			s.Children[i] = c.shape()
		}
	}
	return s
}
