package dirstore

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/mem/coherence/sharing"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Tagless", func() {
	var (
		mockCtrl *gomock.Controller
		probe    *MockResidencyProbe
		s        *Tagless
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		probe = NewMockResidencyProbe(mockCtrl)
		s = NewTagless(TaglessConfig{
			NumCores:    4,
			BlockSize:   64,
			NumBuckets:  16,
			NumHashes:   2,
			Partitioned: true,
			Probe:       probe,
		})
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should always find a block", func() {
		res := s.Lookup(0x1000)

		Expect(res.Found()).To(BeTrue())
		Expect(res.State().NoSharers()).To(BeTrue())
		Expect(res.State().Precise()).To(BeFalse())
	})

	It("should not allocate", func() {
		res := s.Lookup(0x1000)

		Expect(s.CanAllocate()).To(BeFalse())
		_, err := s.Allocate(res, 0x1000, sharing.NewExact(4))
		Expect(err).To(MatchError(ErrAllocateUnsupported))
	})

	It("should hash the block, not the byte", func() {
		for i := 0; i < 2; i++ {
			Expect(s.Bucket(i, 0x1004)).To(Equal(s.Bucket(i, 0x1000)))
		}
	})

	It("should record sharers in every bucket", func() {
		s.Lookup(0x1000).SetSharer(2)

		res := s.Lookup(0x1000)
		Expect(res.State().IsSharer(2)).To(BeTrue())
		Expect(res.State().Exclusive()).To(BeTrue())
		Expect(s.Occupancy()).To(Equal(2))
	})

	It("should keep a bucket bit while the core holds a colliding block", func() {
		s.Lookup(0x1000).AddSharer(1)

		probe.EXPECT().
			IsBucketPresent(1, gomock.Any()).
			Return(true).
			Times(2)

		s.Lookup(0x1000).RemoveSharer(1)

		Expect(s.Lookup(0x1000).State().IsSharer(1)).To(BeTrue())
	})

	It("should clear a bucket bit once the core holds nothing there", func() {
		s.Lookup(0x1000).AddSharer(1)

		probe.EXPECT().
			IsBucketPresent(1, gomock.Any()).
			DoAndReturn(func(core int, match func(uint64) bool) bool {
				Expect(match(0x1000)).To(BeTrue())
				return false
			}).
			Times(2)

		s.Lookup(0x1000).RemoveSharer(1)

		Expect(s.Lookup(0x1000).State().NoSharers()).To(BeTrue())
	})
})

var _ = Describe("Tagless with a shared array", func() {
	var (
		mockCtrl *gomock.Controller
		probe    *MockResidencyProbe
		s        *Tagless
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		probe = NewMockResidencyProbe(mockCtrl)
		s = NewTagless(TaglessConfig{
			NumCores:   4,
			BlockSize:  64,
			NumBuckets: 8,
			NumHashes:  2,
			Probe:      probe,
		})
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	// collidingPair finds blocks a and b where the first hash of a and the
	// second hash of b pick the same bucket, but the first hash of b does not.
	collidingPair := func() (uint64, uint64) {
		a := uint64(0)
		for b := uint64(64); b < 64*4096; b += 64 {
			if s.Bucket(1, b) == s.Bucket(0, a) &&
				s.Bucket(0, b) != s.Bucket(0, a) {
				return a, b
			}
		}

		Fail("no colliding blocks")

		return 0, 0
	}

	It("should keep a bit that another hash function still needs", func() {
		a, b := collidingPair()

		s.Lookup(b).AddSharer(0)
		s.Lookup(a).AddSharer(0)

		probe.EXPECT().
			IsBucketPresent(0, gomock.Any()).
			DoAndReturn(func(core int, match func(uint64) bool) bool {
				return match(b)
			}).
			AnyTimes()

		s.Lookup(a).RemoveSharer(0)

		Expect(s.Lookup(b).State().IsSharer(0)).To(BeTrue())
	})

	It("should clear the bits once the core holds nothing there", func() {
		a, _ := collidingPair()

		s.Lookup(a).AddSharer(0)

		probe.EXPECT().
			IsBucketPresent(0, gomock.Any()).
			Return(false).
			AnyTimes()

		s.Lookup(a).RemoveSharer(0)

		Expect(s.Lookup(a).State().NoSharers()).To(BeTrue())
	})
})

var _ = Describe("Infinite", func() {
	It("should never evict", func() {
		s := NewInfinite(64, sharing.ExactFactory{NumCores: 4})

		for i := 0; i < 1000; i++ {
			evicted := install(s, uint64(i)*64, i%4)
			Expect(evicted).To(BeEmpty())
		}

		Expect(s.Occupancy()).To(Equal(1000))
		Expect(s.Lookup(0).State().Sharers()).To(Equal([]int{0}))
		Expect(s.Precise()).To(BeTrue())
	})
})
