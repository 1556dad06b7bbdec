package sharing

import (
	"github.com/bits-and-blooms/bitset"
)

// Exact tracks sharers with one bit per core.
type Exact struct {
	numCores  int
	bits      *bitset.BitSet
	exclusive bool
}

// NewExact creates an empty Exact state for numCores cores.
func NewExact(numCores int) *Exact {
	if numCores <= 0 {
		panic("number of cores must be positive")
	}

	return &Exact{
		numCores: numCores,
		bits:     bitset.New(uint(numCores)),
	}
}

// NewExactFrom creates an Exact state that holds the given sharers.
func NewExactFrom(numCores int, sharers ...int) *Exact {
	s := NewExact(numCores)
	for _, c := range sharers {
		s.AddSharer(c)
	}

	return s
}

// NumCores returns the number of cores the state can track.
func (s *Exact) NumCores() int {
	return s.numCores
}

// AddSharer sets the bit of the core. Adding a second sharer drops the
// exclusivity marker.
func (s *Exact) AddSharer(core int) {
	coreMustBeInRange(core, s.numCores)

	s.bits.Set(uint(core))
	if s.bits.Count() > 1 {
		s.exclusive = false
	}
}

// RemoveSharer clears the bit of the core.
func (s *Exact) RemoveSharer(core int) {
	coreMustBeInRange(core, s.numCores)

	s.bits.Clear(uint(core))
	if s.bits.None() {
		s.exclusive = false
	}
}

// SetSharer makes the core the only, exclusive sharer.
func (s *Exact) SetSharer(core int) {
	coreMustBeInRange(core, s.numCores)

	s.bits.ClearAll()
	s.bits.Set(uint(core))
	s.exclusive = true
}

// IsSharer tells if the bit of the core is set.
func (s *Exact) IsSharer(core int) bool {
	coreMustBeInRange(core, s.numCores)

	return s.bits.Test(uint(core))
}

// CountSharers returns the number of bits set.
func (s *Exact) CountSharers() int {
	return int(s.bits.Count())
}

// NoSharers tells if no bit is set.
func (s *Exact) NoSharers() bool {
	return s.bits.None()
}

// OneSharer tells if exactly one bit is set.
func (s *Exact) OneSharer() bool {
	return s.bits.Count() == 1
}

// ManySharers tells if more than one bit is set.
func (s *Exact) ManySharers() bool {
	return s.bits.Count() > 1
}

// FirstSharer returns the lowest core with its bit set.
func (s *Exact) FirstSharer() (int, bool) {
	i, ok := s.bits.NextSet(0)
	if !ok {
		return 0, false
	}

	return int(i), true
}

// OtherSharers returns the sharers except the given core.
func (s *Exact) OtherSharers(exclude int) []int {
	others := make([]int, 0, s.bits.Count())

	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		if int(i) != exclude {
			others = append(others, int(i))
		}
	}

	return others
}

// Sharers returns all the sharers in ascending order.
func (s *Exact) Sharers() []int {
	return s.OtherSharers(-1)
}

// Exclusive is true iff exactly one bit is set and the marker is set.
func (s *Exact) Exclusive() bool {
	return s.exclusive && s.bits.Count() == 1
}

// SetExclusive sets the exclusivity marker.
func (s *Exact) SetExclusive(exclusive bool) {
	s.exclusive = exclusive
}

// Precise always returns true.
func (s *Exact) Precise() bool {
	return true
}

// Clone returns a deep copy.
func (s *Exact) Clone() State {
	return s.clone()
}

func (s *Exact) clone() *Exact {
	return &Exact{
		numCores:  s.numCores,
		bits:      s.bits.Clone(),
		exclusive: s.exclusive,
	}
}

// Clear removes all sharers.
func (s *Exact) Clear() {
	s.bits.ClearAll()
	s.exclusive = false
}

// Intersect returns the AND of the given states. The sharer set is the
// intersection of the bit vectors and the block is marked exclusive only if
// every operand carries the marker. The result is only meaningful when every
// operand over-approximates the same block, as the buckets of a tagless
// directory do. The result is a lookup answer and must not be stored back.
func Intersect(states ...*Exact) *Exact {
	if len(states) == 0 {
		panic("intersecting no states")
	}

	out := states[0].clone()
	for _, s := range states[1:] {
		if s.numCores != out.numCores {
			panic("intersecting states of different sizes")
		}

		out.bits.InPlaceIntersection(s.bits)
		out.exclusive = out.exclusive && s.exclusive
	}

	return out
}

func (s *Exact) encode(numWords int) (uint8, []uint64) {
	var flags uint8
	if s.exclusive {
		flags |= flagExclusive
	}

	return flags, bitsToWords(s.bits, numWords)
}

func (s *Exact) decode(flags uint8, words []uint64) {
	s.bits.ClearAll()
	wordsToBits(words, s.bits, s.numCores)
	s.exclusive = flags&flagExclusive != 0
}
