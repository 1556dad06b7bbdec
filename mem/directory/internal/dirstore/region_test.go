package dirstore

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/mem/coherence/sharing"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Region", func() {
	var (
		mockCtrl *gomock.Controller
		probe    *MockRegionProbe
		s        *Region
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		probe = NewMockRegionProbe(mockCtrl)
		s = NewRegion(RegionConfig{
			NumCores:   4,
			BlockSize:  64,
			RegionSize: 256,
			NumSets:    2,
			NumWays:    1,
			Probe:      probe,
		})
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should share the sharer vector across the region", func() {
		install(s, 0x1000)
		s.Lookup(0x1000).SetSharer(0)

		other := s.Lookup(0x1040)
		Expect(other.Found()).To(BeFalse())
		Expect(other.State().NoSharers()).To(BeTrue())
		Expect(s.EvictionCost(other)).To(Equal(0))

		_, err := s.Allocate(other, 0x1040, sharing.NewExact(4))
		Expect(err).NotTo(HaveOccurred())
		other.SetSharer(1)

		Expect(s.Lookup(0x1000).State().Sharers()).To(Equal([]int{0, 1}))
		Expect(s.Lookup(0x1000).State().Exclusive()).To(BeTrue())
		Expect(s.Lookup(0x1040).State().Exclusive()).To(BeTrue())
	})

	It("should downgrade a block without touching the others", func() {
		install(s, 0x1000)
		s.Lookup(0x1000).SetSharer(0)
		install(s, 0x1040)
		s.Lookup(0x1040).SetSharer(0)

		res := s.Lookup(0x1000)
		res.AddSharer(2)
		res.State().SetExclusive(false)

		Expect(s.Lookup(0x1000).State().Exclusive()).To(BeFalse())
		Expect(s.Lookup(0x1040).State().Exclusive()).To(BeTrue())
	})

	It("should keep a sharer that still holds part of the region", func() {
		install(s, 0x1000)
		s.Lookup(0x1000).AddSharer(1)

		probe.EXPECT().IsRegionPresent(1, uint64(0x1000)).Return(true)

		s.Lookup(0x1000).RemoveSharer(1)

		Expect(s.Lookup(0x1000).State().IsSharer(1)).To(BeTrue())
	})

	It("should drop a sharer that left the region", func() {
		install(s, 0x1000)
		s.Lookup(0x1000).AddSharer(1)

		probe.EXPECT().IsRegionPresent(1, uint64(0x1000)).Return(false)

		s.Lookup(0x1000).RemoveSharer(1)

		Expect(s.Lookup(0x1000).Found()).To(BeFalse())
	})

	It("should evict every present block of a region", func() {
		install(s, 0x1000)
		s.Lookup(0x1000).SetSharer(0)
		install(s, 0x10c0)
		s.Lookup(0x10c0).AddSharer(3)

		res := s.Lookup(0x2000)
		Expect(res.Found()).To(BeFalse())
		Expect(s.EvictionCost(res)).To(Equal(2))

		evicted, err := s.Allocate(res, 0x2000, sharing.NewExact(4))
		Expect(err).NotTo(HaveOccurred())

		Expect(evicted).To(HaveLen(2))
		Expect(evicted[0].Addr).To(Equal(uint64(0x1000)))
		Expect(evicted[1].Addr).To(Equal(uint64(0x10c0)))
		Expect(evicted[0].State.Sharers()).To(Equal([]int{0, 3}))
		Expect(s.Lookup(0x1000).Found()).To(BeFalse())
	})

	It("should keep a protected region", func() {
		install(s, 0x1000)
		s.Lookup(0x1000).SetSharer(0)
		s.SetProtected(0x1040, true)

		res := s.Lookup(0x2000)
		Expect(s.HasVictim(res)).To(BeFalse())

		s.SetProtected(0x1000, false)
		Expect(s.HasVictim(res)).To(BeTrue())
	})

	It("should track blocks shared after an exclusive grant", func() {
		s = NewRegion(RegionConfig{
			NumCores: 4, BlockSize: 64, RegionSize: 256,
			NumSets: 2, NumWays: 1, TrackShared: true,
		})

		install(s, 0x1000)
		s.Lookup(0x1000).SetSharer(0)
		s.Lookup(0x1000).AddSharer(1)

		Expect(s.SharedBlocks()).To(Equal(1))
		Expect(s.Lookup(0x1000).State().Exclusive()).To(BeFalse())

		s.Lookup(0x1000).SetSharer(2)
		Expect(s.SharedBlocks()).To(Equal(0))
	})
})
