package topology

import (
	"fmt"
)

// Kind names a topology.
type Kind string

// All the topologies.
const (
	KindMesh     Kind = "mesh"
	KindTorus    Kind = "torus"
	KindCrossbar Kind = "crossbar"
)

// Placement tells where the directory banks sit on a mesh.
type Placement string

// All the placements.
const (
	// Distributed puts the banks on the tiles of the cores, spread evenly.
	Distributed Placement = "distributed"

	// Edge puts the banks in an extra row above the grid.
	Edge Placement = "edge"
)

// Builder can build topologies.
type Builder struct {
	kind      Kind
	width     int
	numCores  int
	numBanks  int
	placement Placement
}

// MakeBuilder creates a new Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		kind:      KindMesh,
		numCores:  1,
		numBanks:  1,
		placement: Distributed,
	}
}

// WithKind sets the kind of topology.
func (b Builder) WithKind(kind Kind) Builder {
	b.kind = kind
	return b
}

// WithWidth sets the number of tiles per row of a mesh. Zero picks a square
// grid.
func (b Builder) WithWidth(width int) Builder {
	b.width = width
	return b
}

// WithNumCores sets the number of cores.
func (b Builder) WithNumCores(n int) Builder {
	b.numCores = n
	return b
}

// WithNumBanks sets the number of directory banks.
func (b Builder) WithNumBanks(n int) Builder {
	b.numBanks = n
	return b
}

// WithPlacement sets where the banks sit.
func (b Builder) WithPlacement(p Placement) Builder {
	b.placement = p
	return b
}

// Build creates the topology.
func (b Builder) Build() (Topology, error) {
	if b.numCores <= 0 || b.numBanks <= 0 {
		return nil, fmt.Errorf("topology needs cores and banks, got %d and %d",
			b.numCores, b.numBanks)
	}

	switch b.kind {
	case KindCrossbar:
		return &Crossbar{numNodes: b.numCores + b.numBanks}, nil
	case KindMesh, KindTorus:
		return b.buildMesh()
	}

	return nil, fmt.Errorf("unknown topology %q", b.kind)
}

func (b Builder) buildMesh() (*Mesh, error) {
	width := b.width
	if width == 0 {
		for width*width < b.numCores {
			width++
		}
	}

	if width < 0 {
		return nil, fmt.Errorf("mesh width must be positive, got %d", width)
	}

	m := &Mesh{
		width:  width,
		height: (b.numCores + width - 1) / width,
		wrap:   b.kind == KindTorus,
	}

	for i := 0; i < b.numCores; i++ {
		m.tiles = append(m.tiles, coord{x: i % width, y: i / width})
	}

	for i := 0; i < b.numBanks; i++ {
		switch b.placement {
		case Distributed:
			tile := i * b.numCores / b.numBanks
			m.tiles = append(m.tiles, m.tiles[tile])
		case Edge:
			m.tiles = append(m.tiles, coord{x: i * width / b.numBanks, y: -1})
		default:
			return nil, fmt.Errorf("unknown bank placement %q", b.placement)
		}
	}

	return m, nil
}
