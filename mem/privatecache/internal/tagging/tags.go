// Package tagging keeps the tags and coherence states of a private cache.
package tagging

import "fmt"

// LineState is the coherence state of a cache line.
type LineState int

// The line states.
const (
	Invalid LineState = iota
	Shared
	Exclusive
	Modified
)

func (s LineState) String() string {
	switch s {
	case Invalid:
		return "I"
	case Shared:
		return "S"
	case Exclusive:
		return "E"
	case Modified:
		return "M"
	}

	return fmt.Sprintf("LineState(%d)", int(s))
}

// Writable tells if the line can be written without asking the directory.
func (s LineState) Writable() bool {
	return s == Exclusive || s == Modified
}

// TagArray holds the blocks of a set-associative cache.
type TagArray interface {
	Lookup(addr uint64) (Block, bool)
	Update(block Block)
	Visit(block Block)
	GetSet(addr uint64) (set *Set, setID int)
	Lock(setID, wayID int)
	Unlock(setID, wayID int)
	ForEachValid(f func(block Block))
	Reset()
}

// NewTagArray creates a tag array with every block invalid.
func NewTagArray(
	numSets int,
	numWays int,
	blockSize uint64,
) TagArray {
	t := &tagArrayImpl{
		NumSets:   numSets,
		NumWays:   numWays,
		BlockSize: blockSize,
		Sets:      []Set{},
	}

	t.Reset()

	return t
}

// A Block of a cache is the information that is associated with a cache line
type Block struct {
	Tag      uint64
	WayID    int
	SetID    int
	State    LineState
	IsLocked bool
}

// IsValid tells if the block holds a line.
func (b Block) IsValid() bool {
	return b.State != Invalid
}

// A Set is a list of blocks where a certain piece memory can be stored at.
type Set struct {
	Blocks   []Block
	LRUQueue []int
}

type tagArrayImpl struct {
	NumSets   int
	NumWays   int
	BlockSize uint64
	Sets      []Set
}

// TotalSize returns the maximum number of bytes can be stored in the cache
func (d *tagArrayImpl) TotalSize() uint64 {
	return uint64(d.NumSets) * uint64(d.NumWays) * d.BlockSize
}

// Get the set that a certain address should store at
func (d *tagArrayImpl) GetSet(addr uint64) (set *Set, setID int) {
	setID = int(addr / d.BlockSize % uint64(d.NumSets))
	set = &d.Sets[setID]

	return
}

// Lookup finds the valid block that holds the address.
func (d *tagArrayImpl) Lookup(addr uint64) (Block, bool) {
	tag := addr &^ (d.BlockSize - 1)

	set, _ := d.GetSet(addr)
	for _, block := range set.Blocks {
		if block.IsValid() && block.Tag == tag {
			return block, true
		}
	}

	return Block{}, false
}

// Update updates the block information
func (d *tagArrayImpl) Update(block Block) {
	d.Sets[block.SetID].Blocks[block.WayID] = block
}

// Visit moves the block to the end of the LRUQueue
func (d *tagArrayImpl) Visit(block Block) {
	set := &d.Sets[block.SetID]
	newLRUQueue := make([]int, 0, len(set.LRUQueue))

	for _, b := range set.LRUQueue {
		if b != block.WayID {
			newLRUQueue = append(newLRUQueue, b)
		}
	}

	newLRUQueue = append(newLRUQueue, block.WayID)

	set.LRUQueue = newLRUQueue
}

// ForEachValid calls f on every valid block.
func (d *tagArrayImpl) ForEachValid(f func(block Block)) {
	for i := range d.Sets {
		for _, block := range d.Sets[i].Blocks {
			if block.IsValid() {
				f(block)
			}
		}
	}
}

// Reset will mark all the blocks in the directory invalid
func (d *tagArrayImpl) Reset() {
	d.Sets = make([]Set, d.NumSets)
	for i := 0; i < d.NumSets; i++ {
		for j := 0; j < d.NumWays; j++ {
			block := Block{
				SetID: i,
				WayID: j,
			}

			d.Sets[i].Blocks = append(d.Sets[i].Blocks, block)
			d.Sets[i].LRUQueue = append(d.Sets[i].LRUQueue, j)
		}
	}
}

func (d *tagArrayImpl) Lock(setID, wayID int) {
	d.Sets[setID].Blocks[wayID].IsLocked = true
}

func (d *tagArrayImpl) Unlock(setID, wayID int) {
	d.Sets[setID].Blocks[wayID].IsLocked = false
}
