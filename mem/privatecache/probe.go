package privatecache

// Probe answers the questions that imprecise directory stores ask about the
// blocks held by the caches. Blocks with a pending miss count as held.
type Probe struct {
	caches     []*Comp
	regionSize uint64
}

// NewProbe creates a probe over the caches, indexed by core. The region
// size is only used by IsRegionPresent.
func NewProbe(caches []*Comp, regionSize uint64) *Probe {
	return &Probe{
		caches:     caches,
		regionSize: regionSize,
	}
}

// IsRegionPresent tells if the core holds any block of the region.
func (p *Probe) IsRegionPresent(core int, regionAddr uint64) bool {
	if p.regionSize == 0 {
		panic("probe has no region size")
	}

	mask := p.regionSize - 1

	return p.caches[core].holds(func(blockAddr uint64) bool {
		return blockAddr&^mask == regionAddr
	})
}

// IsBucketPresent tells if the core holds any block that matches.
func (p *Probe) IsBucketPresent(core int, match func(uint64) bool) bool {
	return p.caches[core].holds(match)
}
