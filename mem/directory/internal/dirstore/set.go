package dirstore

import (
	"log"

	"github.com/sarchlab/cohsim/mem/coherence/sharing"
)

// A Way holds one directory entry.
type Way struct {
	WayID     int
	SetID     int
	Valid     bool
	Tag       uint64
	State     sharing.State
	Protected int

	region *regionBits
}

// Empty tells if the way holds no entry with sharers.
func (w *Way) Empty() bool {
	return !w.Valid || w.State.NoSharers()
}

// A Set is the list of ways that a block can be stored at.
type Set struct {
	Ways     []Way
	LRUQueue []int
}

func newSets(numSets, numWays int) []Set {
	sets := make([]Set, numSets)
	for i := range sets {
		for j := 0; j < numWays; j++ {
			sets[i].Ways = append(sets[i].Ways, Way{SetID: i, WayID: j})
			sets[i].LRUQueue = append(sets[i].LRUQueue, j)
		}
	}

	return sets
}

func (s *Set) find(tag uint64) *Way {
	for i := range s.Ways {
		w := &s.Ways[i]
		if w.Valid && w.Tag == tag {
			return w
		}
	}

	return nil
}

// visit moves the way to the most-recently-used end of the LRU queue.
func (s *Set) visit(wayID int) {
	queue := s.LRUQueue[:0]
	for _, w := range s.LRUQueue {
		if w != wayID {
			queue = append(queue, w)
		}
	}

	s.LRUQueue = append(queue, wayID)
}

func (w *Way) protect(protected bool) {
	if protected {
		w.Protected++
		return
	}

	if w.Protected == 0 {
		log.Panicf("unprotecting way %d of set %d that is not protected",
			w.WayID, w.SetID)
	}

	w.Protected--
}
