// Package topology describes where cores and directory banks sit on the
// interconnect and how far apart they are.
package topology

import (
	"sort"
)

// A Topology knows the distance between nodes. Nodes are numbered with the
// cores first and the directory banks after them.
type Topology interface {
	NumNodes() int

	// Distance returns the number of hops between two nodes.
	Distance(a, b int) int

	// OrderSnoops orders the targets of a snoop sent by src. Multicast
	// snoops keep their order. Other snoops are visited nearest first. With
	// optimize3hop, the distance from the target on to finalDest counts as
	// well, since the target forwards the block there.
	OrderSnoops(
		sharers []int,
		src int,
		optimize3hop bool,
		finalDest int,
		multicast bool,
	) []int
}

func orderSnoops(
	t Topology,
	sharers []int,
	src int,
	optimize3hop bool,
	finalDest int,
	multicast bool,
) []int {
	ordered := append([]int(nil), sharers...)
	if multicast {
		return ordered
	}

	cost := func(target int) int {
		if optimize3hop {
			return t.Distance(src, target) + t.Distance(target, finalDest)
		}

		return 2 * t.Distance(src, target)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		ci, cj := cost(ordered[i]), cost(ordered[j])
		if ci != cj {
			return ci < cj
		}

		return ordered[i] < ordered[j]
	})

	return ordered
}

// Crossbar connects every pair of nodes with one hop.
type Crossbar struct {
	numNodes int
}

// NumNodes returns the number of nodes.
func (c *Crossbar) NumNodes() int {
	return c.numNodes
}

// Distance returns 1 between different nodes.
func (c *Crossbar) Distance(a, b int) int {
	if a == b {
		return 0
	}

	return 1
}

// OrderSnoops orders the targets by id, since they are all equally far.
func (c *Crossbar) OrderSnoops(
	sharers []int,
	src int,
	optimize3hop bool,
	finalDest int,
	multicast bool,
) []int {
	return orderSnoops(c, sharers, src, optimize3hop, finalDest, multicast)
}
