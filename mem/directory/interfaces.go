package directory

import "github.com/sarchlab/cohsim/mem/coherence"

// An OutQueue takes the snoops and responses that a directory bank sends.
type OutQueue interface {
	Available() bool
	Enqueue(msg *coherence.Msg)
}

// A RegionProbe tells if a core still holds any block of a region. Region
// directories use it to drop a sharer from a region entry.
type RegionProbe interface {
	IsRegionPresent(core int, regionAddr uint64) bool
}

// A ResidencyProbe tells if a core still holds any block that matches.
// Tagless directories use it to clear a core from a bucket.
type ResidencyProbe interface {
	IsBucketPresent(core int, match func(blockAddr uint64) bool) bool
}
