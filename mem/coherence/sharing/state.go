// Package sharing provides the representations of which cores hold a copy of
// a memory block.
//
// All representations follow the same rule: the reported sharer set is
// always a superset of the cores that truly hold the block. Reporting an
// extra sharer only costs a needless snoop, while missing a real sharer
// breaks coherence.
package sharing

import (
	"fmt"
	"log"
)

// State records the sharers of a block and whether the block is held
// exclusively.
type State interface {
	// AddSharer records that the core holds a copy.
	AddSharer(core int)

	// RemoveSharer records that the core no longer holds a copy. Imprecise
	// representations may keep reporting the core.
	RemoveSharer(core int)

	// SetSharer clears all sharers, records the core as the only sharer, and
	// marks the block as exclusive.
	SetSharer(core int)

	IsSharer(core int) bool
	CountSharers() int
	NoSharers() bool
	OneSharer() bool
	ManySharers() bool

	// FirstSharer returns the lowest-numbered sharer.
	FirstSharer() (int, bool)

	// OtherSharers returns all the sharers except the given core.
	OtherSharers(exclude int) []int

	// Sharers returns all the sharers in ascending order.
	Sharers() []int

	Exclusive() bool
	SetExclusive(exclusive bool)

	// Precise tells if the sharer set is exactly the set of cores that hold
	// the block.
	Precise() bool

	NumCores() int
	Clone() State
	Clear()
}

// Factory creates empty sharing states for a directory.
type Factory interface {
	NewState() State
}

// ExactFactory creates Exact states.
type ExactFactory struct {
	NumCores int
}

// NewState creates a new empty Exact state.
func (f ExactFactory) NewState() State {
	return NewExact(f.NumCores)
}

// LimitedFactory creates Limited states.
type LimitedFactory struct {
	NumCores    int
	MaxPointers int
	Granularity int
}

// NewState creates a new empty Limited state.
func (f LimitedFactory) NewState() State {
	return NewLimited(f.NumCores, f.MaxPointers, f.Granularity)
}

// Equal tells if two states report the same sharers and exclusivity.
func Equal(a, b State) bool {
	if a.Exclusive() != b.Exclusive() {
		return false
	}

	sa := a.Sharers()
	sb := b.Sharers()

	if len(sa) != len(sb) {
		return false
	}

	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}

	return true
}

// Covers tells if every sharer of exact is also reported by s.
func Covers(s State, exact []int) bool {
	for _, c := range exact {
		if !s.IsSharer(c) {
			return false
		}
	}

	return true
}

// String formats a state for logs.
func String(s State) string {
	excl := ""
	if s.Exclusive() {
		excl = "E"
	}

	if !s.Precise() {
		excl += "~"
	}

	return fmt.Sprintf("%v%s", s.Sharers(), excl)
}

func coreMustBeInRange(core, numCores int) {
	if core < 0 || core >= numCores {
		log.Panicf("core %d out of range [0, %d)", core, numCores)
	}
}
