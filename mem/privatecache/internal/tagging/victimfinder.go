package tagging

// A VictimFinder decides which block should be evicted
type VictimFinder interface {
	FindVictim(tags TagArray, addr uint64) (Block, bool)
}

// LRUVictimFinder evicts the least recently used block
type LRUVictimFinder struct {
}

// NewLRUVictimFinder returns a newly constructed lru evictor
func NewLRUVictimFinder() *LRUVictimFinder {
	e := new(LRUVictimFinder)
	return e
}

// FindVictim returns the least recently used block in a set. Empty blocks
// are taken first and locked blocks are never taken.
func (e *LRUVictimFinder) FindVictim(
	tags TagArray,
	addr uint64,
) (Block, bool) {
	set, _ := tags.GetSet(addr)

	for _, blockIndex := range set.LRUQueue {
		block := set.Blocks[blockIndex]

		if !block.IsValid() && !block.IsLocked {
			return block, true
		}
	}

	for _, blockIndex := range set.LRUQueue {
		block := set.Blocks[blockIndex]
		if !block.IsLocked {
			return block, true
		}
	}

	return Block{}, false
}
