package dirstore

import "fmt"

// A VictimFinder decides which way should be evicted.
type VictimFinder interface {
	FindVictim(set *Set) (*Way, bool)
}

// NewVictimFinder creates a victim finder by policy name.
func NewVictimFinder(policy string) VictimFinder {
	switch policy {
	case "lru", "":
		return NewLRUVictimFinder()
	case "minsharers":
		return NewMinSharersVictimFinder()
	}

	panic(fmt.Sprintf("unknown replacement policy: %s", policy))
}

func findEmptyWay(set *Set) (*Way, bool) {
	for _, wayID := range set.LRUQueue {
		w := &set.Ways[wayID]
		if w.Protected == 0 && w.Empty() {
			return w, true
		}
	}

	return nil, false
}

// LRUVictimFinder evicts the least recently used way.
type LRUVictimFinder struct {
}

// NewLRUVictimFinder returns a newly constructed LRU victim finder.
func NewLRUVictimFinder() *LRUVictimFinder {
	return new(LRUVictimFinder)
}

// FindVictim returns an empty way if there is one, or the least recently
// used way that is not protected.
func (e *LRUVictimFinder) FindVictim(set *Set) (*Way, bool) {
	if w, ok := findEmptyWay(set); ok {
		return w, true
	}

	for _, wayID := range set.LRUQueue {
		w := &set.Ways[wayID]
		if w.Protected == 0 {
			return w, true
		}
	}

	return nil, false
}

// MinSharersVictimFinder evicts the way with the fewest sharers, so that the
// eviction sends the fewest invalidations.
type MinSharersVictimFinder struct {
}

// NewMinSharersVictimFinder returns a new MinSharersVictimFinder.
func NewMinSharersVictimFinder() *MinSharersVictimFinder {
	return new(MinSharersVictimFinder)
}

// FindVictim returns an empty way if there is one, or the unprotected way
// with the fewest sharers. Ties go to the least recently used way.
func (e *MinSharersVictimFinder) FindVictim(set *Set) (*Way, bool) {
	if w, ok := findEmptyWay(set); ok {
		return w, true
	}

	var victim *Way

	for _, wayID := range set.LRUQueue {
		w := &set.Ways[wayID]
		if w.Protected > 0 {
			continue
		}

		if victim == nil ||
			w.State.CountSharers() < victim.State.CountSharers() {
			victim = w
		}
	}

	return victim, victim != nil
}
