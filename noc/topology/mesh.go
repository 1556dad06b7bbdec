package topology

import "log"

type coord struct {
	x, y int
}

// Mesh places the cores on a 2D grid, row by row. Distances follow XY
// dimension-order routing. With wrap, the grid is a torus.
type Mesh struct {
	width, height int
	wrap          bool
	tiles         []coord
}

// NumNodes returns the number of nodes.
func (m *Mesh) NumNodes() int {
	return len(m.tiles)
}

// Width returns the number of tiles per row.
func (m *Mesh) Width() int {
	return m.width
}

// Height returns the number of rows.
func (m *Mesh) Height() int {
	return m.height
}

// Coord returns the tile of a node. Edge banks sit in row -1.
func (m *Mesh) Coord(node int) (x, y int) {
	m.mustHaveNode(node)
	c := m.tiles[node]

	return c.x, c.y
}

func (m *Mesh) mustHaveNode(node int) {
	if node < 0 || node >= len(m.tiles) {
		log.Panicf("node %d is not on the mesh", node)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}

	return v
}

func (m *Mesh) axis(a, b, size int, onGrid bool) int {
	d := abs(a - b)
	if m.wrap && onGrid && size-d < d {
		return size - d
	}

	return d
}

// Distance returns the number of hops of the XY route between two nodes.
func (m *Mesh) Distance(a, b int) int {
	m.mustHaveNode(a)
	m.mustHaveNode(b)

	ca, cb := m.tiles[a], m.tiles[b]
	onGrid := ca.y >= 0 && cb.y >= 0

	return m.axis(ca.x, cb.x, m.width, true) +
		m.axis(ca.y, cb.y, m.height, onGrid)
}

// OrderSnoops orders the targets nearest first.
func (m *Mesh) OrderSnoops(
	sharers []int,
	src int,
	optimize3hop bool,
	finalDest int,
	multicast bool,
) []int {
	return orderSnoops(m, sharers, src, optimize3hop, finalDest, multicast)
}
