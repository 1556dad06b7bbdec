package sharing

// Hashed is the view of a block in a tagless directory. The block maps to
// several buckets, each an Exact state shared by every block that hashes to
// it. Reads combine the buckets with AND. Writes go to every bucket and never
// clear anything, because the bits may belong to other blocks. Clearing is
// left to the owner of the buckets, which knows when a core no longer keeps
// any block of a bucket.
//
// The exclusivity marker of a bucket means that some block of the bucket may
// be owned. The view reports exclusive if every bucket carries the marker,
// even when colliding blocks add spurious sharers.
type Hashed struct {
	buckets []*Exact
}

// NewHashed creates a view over the given buckets.
func NewHashed(buckets ...*Exact) *Hashed {
	if len(buckets) == 0 {
		panic("hashed state needs at least one bucket")
	}

	for _, b := range buckets[1:] {
		if b.numCores != buckets[0].numCores {
			panic("hashed buckets of different sizes")
		}
	}

	return &Hashed{buckets: buckets}
}

// Buckets returns the buckets the view combines.
func (s *Hashed) Buckets() []*Exact {
	return s.buckets
}

func (s *Hashed) view() *Exact {
	return Intersect(s.buckets...)
}

// NumCores returns the number of cores the state can track.
func (s *Hashed) NumCores() int {
	return s.buckets[0].numCores
}

// AddSharer sets the bit of the core in every bucket.
func (s *Hashed) AddSharer(core int) {
	coreMustBeInRange(core, s.NumCores())

	for _, b := range s.buckets {
		b.bits.Set(uint(core))
	}
}

// RemoveSharer does nothing. The bit may be needed by another block.
func (s *Hashed) RemoveSharer(core int) {
	coreMustBeInRange(core, s.NumCores())
}

// SetSharer sets the bit of the core and the exclusivity marker in every
// bucket. Bits of other cores are kept.
func (s *Hashed) SetSharer(core int) {
	coreMustBeInRange(core, s.NumCores())

	for _, b := range s.buckets {
		b.bits.Set(uint(core))
		b.exclusive = true
	}
}

// IsSharer tells if the bit of the core is set in every bucket.
func (s *Hashed) IsSharer(core int) bool {
	coreMustBeInRange(core, s.NumCores())

	for _, b := range s.buckets {
		if !b.bits.Test(uint(core)) {
			return false
		}
	}

	return true
}

// CountSharers returns the number of cores set in every bucket.
func (s *Hashed) CountSharers() int {
	return s.view().CountSharers()
}

// NoSharers tells if no core is set in every bucket.
func (s *Hashed) NoSharers() bool {
	return s.view().NoSharers()
}

// OneSharer tells if exactly one core is set in every bucket.
func (s *Hashed) OneSharer() bool {
	return s.view().OneSharer()
}

// ManySharers tells if more than one core is set in every bucket.
func (s *Hashed) ManySharers() bool {
	return s.view().ManySharers()
}

// FirstSharer returns the lowest core set in every bucket.
func (s *Hashed) FirstSharer() (int, bool) {
	return s.view().FirstSharer()
}

// OtherSharers returns the cores set in every bucket except the given core.
func (s *Hashed) OtherSharers(exclude int) []int {
	return s.view().OtherSharers(exclude)
}

// Sharers returns the cores set in every bucket.
func (s *Hashed) Sharers() []int {
	return s.view().Sharers()
}

// Exclusive tells if some core is set in every bucket and every bucket
// carries the exclusivity marker.
func (s *Hashed) Exclusive() bool {
	for _, b := range s.buckets {
		if !b.exclusive {
			return false
		}
	}

	return !s.view().NoSharers()
}

// SetExclusive marks every bucket when set. Clearing does nothing, since
// other blocks of a bucket may still be owned.
func (s *Hashed) SetExclusive(exclusive bool) {
	if !exclusive {
		return
	}

	for _, b := range s.buckets {
		b.exclusive = true
	}
}

// Precise always returns false.
func (s *Hashed) Precise() bool {
	return false
}

// Clone returns an Exact snapshot of the view.
func (s *Hashed) Clone() State {
	snapshot := s.view()
	snapshot.exclusive = s.Exclusive()

	return snapshot
}

// Clear does nothing. Buckets are only cleared by their owner.
func (s *Hashed) Clear() {}
