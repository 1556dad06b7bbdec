package sharing

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// Limited tracks up to a fixed number of sharers exactly. When more cores
// share the block, it switches to coarse mode, in which one bit represents a
// group of cores. The switch cannot be undone until the sharers are cleared
// or reset with SetSharer.
type Limited struct {
	numCores    int
	maxPointers int
	granularity int

	pointers  []int
	coarse    *bitset.BitSet
	exclusive bool
}

// NewLimited creates an empty Limited state.
func NewLimited(numCores, maxPointers, granularity int) *Limited {
	if numCores <= 0 {
		panic("number of cores must be positive")
	}

	if maxPointers <= 0 {
		panic("limited state needs at least one pointer")
	}

	if granularity <= 0 {
		panic("coarse granularity must be positive")
	}

	return &Limited{
		numCores:    numCores,
		maxPointers: maxPointers,
		granularity: granularity,
	}
}

// NewLimitedFrom converts an exact state. If the exact state has more sharers
// than the pointers can hold, the result starts in coarse mode.
func NewLimitedFrom(
	exact *Exact,
	maxPointers, granularity int,
) *Limited {
	s := NewLimited(exact.numCores, maxPointers, granularity)

	sharers := exact.Sharers()
	if len(sharers) > maxPointers {
		s.degrade(sharers)
	} else {
		s.pointers = sharers
	}

	s.exclusive = exact.exclusive

	return s
}

// NumCores returns the number of cores the state can track.
func (s *Limited) NumCores() int {
	return s.numCores
}

// IsCoarse tells if the state has degraded to coarse mode.
func (s *Limited) IsCoarse() bool {
	return s.coarse != nil
}

func (s *Limited) numGroups() int {
	return (s.numCores + s.granularity - 1) / s.granularity
}

func (s *Limited) degrade(sharers []int) {
	s.coarse = bitset.New(uint(s.numGroups()))
	for _, c := range sharers {
		s.coarse.Set(uint(c / s.granularity))
	}

	s.pointers = nil
}

// AddSharer records the core. If the pointers overflow, the state degrades
// to coarse mode.
func (s *Limited) AddSharer(core int) {
	coreMustBeInRange(core, s.numCores)

	if s.coarse != nil {
		s.coarse.Set(uint(core / s.granularity))
		s.exclusive = false

		return
	}

	idx := sort.SearchInts(s.pointers, core)
	if idx < len(s.pointers) && s.pointers[idx] == core {
		return
	}

	s.pointers = append(s.pointers, 0)
	copy(s.pointers[idx+1:], s.pointers[idx:])
	s.pointers[idx] = core

	if len(s.pointers) > 1 {
		s.exclusive = false
	}

	if len(s.pointers) > s.maxPointers {
		s.degrade(s.pointers)
	}
}

// RemoveSharer drops the core in exact mode. In coarse mode the group may
// still have other sharers, so nothing changes.
func (s *Limited) RemoveSharer(core int) {
	coreMustBeInRange(core, s.numCores)

	if s.coarse != nil {
		return
	}

	idx := sort.SearchInts(s.pointers, core)
	if idx < len(s.pointers) && s.pointers[idx] == core {
		s.pointers = append(s.pointers[:idx], s.pointers[idx+1:]...)
	}

	if len(s.pointers) == 0 {
		s.exclusive = false
	}
}

// SetSharer makes the core the only, exclusive sharer and returns the state
// to exact mode.
func (s *Limited) SetSharer(core int) {
	coreMustBeInRange(core, s.numCores)

	s.coarse = nil
	s.pointers = []int{core}
	s.exclusive = true
}

// IsSharer tells if the core is recorded, either by pointer or by group.
func (s *Limited) IsSharer(core int) bool {
	coreMustBeInRange(core, s.numCores)

	if s.coarse != nil {
		return s.coarse.Test(uint(core / s.granularity))
	}

	idx := sort.SearchInts(s.pointers, core)

	return idx < len(s.pointers) && s.pointers[idx] == core
}

// CountSharers returns the number of cores reported as sharers.
func (s *Limited) CountSharers() int {
	if s.coarse != nil {
		return len(s.Sharers())
	}

	return len(s.pointers)
}

// NoSharers tells if no core is reported.
func (s *Limited) NoSharers() bool {
	if s.coarse != nil {
		return s.coarse.None()
	}

	return len(s.pointers) == 0
}

// OneSharer tells if exactly one core is reported.
func (s *Limited) OneSharer() bool {
	return s.CountSharers() == 1
}

// ManySharers tells if more than one core is reported.
func (s *Limited) ManySharers() bool {
	return s.CountSharers() > 1
}

// FirstSharer returns the lowest reported core.
func (s *Limited) FirstSharer() (int, bool) {
	sharers := s.Sharers()
	if len(sharers) == 0 {
		return 0, false
	}

	return sharers[0], true
}

// OtherSharers returns the reported cores except the given core.
func (s *Limited) OtherSharers(exclude int) []int {
	all := s.Sharers()
	others := make([]int, 0, len(all))

	for _, c := range all {
		if c != exclude {
			others = append(others, c)
		}
	}

	return others
}

// Sharers returns the reported cores in ascending order. In coarse mode every
// core of a recorded group is returned.
func (s *Limited) Sharers() []int {
	if s.coarse == nil {
		out := make([]int, len(s.pointers))
		copy(out, s.pointers)

		return out
	}

	out := []int{}

	for g, ok := s.coarse.NextSet(0); ok; g, ok = s.coarse.NextSet(g + 1) {
		base := int(g) * s.granularity
		for c := base; c < base+s.granularity && c < s.numCores; c++ {
			out = append(out, c)
		}
	}

	return out
}

// Exclusive is true iff one core is reported and the marker is set.
func (s *Limited) Exclusive() bool {
	return s.exclusive && s.OneSharer()
}

// SetExclusive sets the exclusivity marker.
func (s *Limited) SetExclusive(exclusive bool) {
	s.exclusive = exclusive
}

// Precise tells if the state is still in exact mode.
func (s *Limited) Precise() bool {
	return s.coarse == nil
}

// Clone returns a deep copy.
func (s *Limited) Clone() State {
	c := &Limited{
		numCores:    s.numCores,
		maxPointers: s.maxPointers,
		granularity: s.granularity,
		exclusive:   s.exclusive,
	}

	if s.pointers != nil {
		c.pointers = append([]int(nil), s.pointers...)
	}

	if s.coarse != nil {
		c.coarse = s.coarse.Clone()
	}

	return c
}

// Clear removes all sharers and ends the coarse epoch.
func (s *Limited) Clear() {
	s.pointers = nil
	s.coarse = nil
	s.exclusive = false
}

// And intersects the state with an exact state in place. Sharers that the
// exact operand does not report are dropped, group by group in coarse mode.
// The exact operand must over-approximate the same block, otherwise real
// sharers could be lost.
func (s *Limited) And(other *Exact) {
	if s.coarse == nil {
		kept := s.pointers[:0]
		for _, c := range s.pointers {
			if other.IsSharer(c) {
				kept = append(kept, c)
			}
		}

		s.pointers = kept
		s.exclusive = s.exclusive && other.exclusive

		return
	}

	for g, ok := s.coarse.NextSet(0); ok; g, ok = s.coarse.NextSet(g + 1) {
		base := int(g) * s.granularity
		anyInGroup := false

		for c := base; c < base+s.granularity && c < s.numCores; c++ {
			if other.IsSharer(c) {
				anyInGroup = true
				break
			}
		}

		if !anyInGroup {
			s.coarse.Clear(g)
		}
	}

	s.exclusive = s.exclusive && other.exclusive
}

func (s *Limited) encode(numWords int) (uint8, []uint64) {
	var flags uint8
	if s.exclusive {
		flags |= flagExclusive
	}

	if s.coarse != nil {
		flags |= flagCoarse
		return flags, bitsToWords(s.coarse, numWords)
	}

	bits := bitset.New(uint(s.numCores))
	for _, c := range s.pointers {
		bits.Set(uint(c))
	}

	return flags, bitsToWords(bits, numWords)
}

func (s *Limited) decode(flags uint8, words []uint64) {
	s.Clear()

	if flags&flagCoarse != 0 {
		s.coarse = bitset.New(uint(s.numGroups()))
		wordsToBits(words, s.coarse, s.numGroups())
	} else {
		bits := bitset.New(uint(s.numCores))
		wordsToBits(words, bits, s.numCores)

		for i, ok := bits.NextSet(0); ok; i, ok = bits.NextSet(i + 1) {
			s.pointers = append(s.pointers, int(i))
		}
	}

	s.exclusive = flags&flagExclusive != 0
}
