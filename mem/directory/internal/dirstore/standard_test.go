package dirstore

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/mem/coherence/sharing"
	"github.com/sarchlab/cohsim/mem/mem"
)

func newTestStandard(bank int, mapper mem.AddressToBankMapper) *Standard {
	return NewStandard(StandardConfig{
		Bank:      bank,
		NumCores:  4,
		BlockSize: 64,
		NumSets:   4,
		NumWays:   2,
		Mapper:    mapper,
	})
}

func install(s Store, addr uint64, sharers ...int) []Evicted {
	res := s.Lookup(addr)
	evicted, err := s.Allocate(res, addr, sharing.NewExactFrom(4, sharers...))
	Expect(err).NotTo(HaveOccurred())

	return evicted
}

var _ = Describe("Standard", func() {
	var s *Standard

	BeforeEach(func() {
		s = newTestStandard(0, nil)
	})

	It("should miss on an empty directory", func() {
		res := s.Lookup(0x100)

		Expect(res.Found()).To(BeFalse())
		Expect(res.State().NoSharers()).To(BeTrue())
		Expect(res.BlockAddress()).To(Equal(uint64(0x100)))
		Expect(func() { res.AddSharer(0) }).To(Panic())
	})

	It("should install and find a block", func() {
		res := s.Lookup(0x104)
		evicted, err := s.Allocate(res, 0x104, sharing.NewExact(4))
		Expect(err).NotTo(HaveOccurred())
		Expect(evicted).To(BeEmpty())

		res.SetSharer(0)

		again := s.Lookup(0x100)
		Expect(again.Found()).To(BeTrue())
		Expect(again.State().Exclusive()).To(BeTrue())
		Expect(s.Occupancy()).To(Equal(1))
	})

	It("should map blocks to sets", func() {
		Expect(s.SetIndex(0x100)).To(Equal(0))
		Expect(s.SetIndex(0x140)).To(Equal(1))
		Expect(s.SetIndex(0x1c0)).To(Equal(3))
	})

	It("should fold tag bits into the set index when skewed", func() {
		skewed := NewStandard(StandardConfig{
			NumCores: 4, BlockSize: 64, NumSets: 4, NumWays: 2, Skew: true,
		})

		Expect(skewed.SetIndex(0x000)).To(Equal(0))
		Expect(skewed.SetIndex(0x100)).To(Equal(1))
		Expect(skewed.SetIndex(0x200)).To(Equal(2))
		Expect(s.SetIndex(0x200)).To(Equal(0))
	})

	It("should prefer empty ways", func() {
		install(s, 0x000, 1)
		install(s, 0x100)

		res := s.Lookup(0x200)
		Expect(s.EvictionCost(res)).To(Equal(0))

		evicted, _ := s.Allocate(res, 0x200, sharing.NewExact(4))
		Expect(evicted).To(BeEmpty())
		Expect(s.Lookup(0x000).Found()).To(BeTrue())
	})

	It("should evict the least recently used block", func() {
		install(s, 0x000, 1)
		install(s, 0x100, 2)
		s.Lookup(0x000)

		res := s.Lookup(0x200)
		Expect(s.EvictionCost(res)).To(Equal(1))

		evicted, _ := s.Allocate(res, 0x200, sharing.NewExact(4))
		Expect(evicted).To(HaveLen(1))
		Expect(evicted[0].Addr).To(Equal(uint64(0x100)))
		Expect(evicted[0].State.Sharers()).To(Equal([]int{2}))
	})

	It("should evict the block with the fewest sharers", func() {
		s = NewStandard(StandardConfig{
			NumCores: 4, BlockSize: 64, NumSets: 4, NumWays: 2,
			VictimFinder: NewVictimFinder("minsharers"),
		})
		install(s, 0x000, 1)
		install(s, 0x100, 1, 2)
		s.Lookup(0x100)
		s.Lookup(0x000)

		evicted := install(s, 0x200)

		Expect(evicted[0].Addr).To(Equal(uint64(0x000)))
	})

	It("should never evict a protected way", func() {
		var big *Standard

		for free := 0; free < 8; free++ {
			big = NewStandard(StandardConfig{
				NumCores: 4, BlockSize: 64, NumSets: 1, NumWays: 8,
			})

			for i := 0; i < 8; i++ {
				install(big, uint64(i)*64, i%4)
				if i != free {
					big.SetProtected(uint64(i)*64, true)
				}
			}

			res := big.Lookup(0x1000)
			Expect(big.HasVictim(res)).To(BeTrue())

			evicted, _ := big.Allocate(res, 0x1000, sharing.NewExact(4))
			Expect(evicted[0].Addr).To(Equal(uint64(free) * 64))
		}

		big.SetProtected(0x1000, true)
		res := big.Lookup(0x2000)
		Expect(big.HasVictim(res)).To(BeFalse())
		Expect(func() {
			big.Allocate(res, 0x2000, sharing.NewExact(4))
		}).To(Panic())
	})

	It("should panic when unprotecting an unprotected way", func() {
		install(s, 0x000, 1)

		Expect(func() { s.SetProtected(0x000, false) }).To(Panic())
	})

	Context("with checkpoints", func() {
		It("should restore every way", func() {
			install(s, 0x000, 1)
			install(s, 0x100, 0, 2)
			install(s, 0x0c0)
			res := s.Lookup(0x1c0)
			s.Allocate(res, 0x1c0, sharing.NewExact(4))
			res.SetSharer(3)

			buf := new(bytes.Buffer)
			Expect(s.SaveState(buf)).To(Succeed())

			fresh := newTestStandard(0, nil)
			Expect(fresh.LoadState(bytes.NewReader(buf.Bytes()))).To(Succeed())

			for i := range s.Sets() {
				Expect(fresh.Sets()[i].LRUQueue).To(Equal(s.Sets()[i].LRUQueue))

				for j := range s.Sets()[i].Ways {
					orig := &s.Sets()[i].Ways[j]
					got := &fresh.Sets()[i].Ways[j]

					Expect(got.Valid).To(Equal(orig.Valid))
					if !orig.Valid {
						continue
					}

					Expect(got.Tag).To(Equal(orig.Tag))
					of, ow := sharing.Encode(orig.State, 1)
					gf, gw := sharing.Encode(got.State, 1)
					Expect(gf).To(Equal(of))
					Expect(gw).To(Equal(ow))
				}
			}
		})

		It("should skip the sections of other banks", func() {
			mapper := mem.NewInterleavedAddressBankMapper(64, 2)
			bank0 := newTestStandard(0, mapper)
			bank1 := newTestStandard(1, mapper)
			install(bank0, 0x000, 1)
			install(bank1, 0x040, 2)

			buf := new(bytes.Buffer)
			Expect(bank0.SaveState(buf)).To(Succeed())
			Expect(bank1.SaveState(buf)).To(Succeed())

			fresh := newTestStandard(1, mapper)
			Expect(fresh.LoadState(bytes.NewReader(buf.Bytes()))).To(Succeed())

			Expect(fresh.Lookup(0x040).State().Sharers()).To(Equal([]int{2}))
			Expect(fresh.Lookup(0x000).Found()).To(BeFalse())
		})

		It("should reject a checkpoint of another geometry", func() {
			buf := new(bytes.Buffer)
			Expect(s.SaveState(buf)).To(Succeed())

			other := NewStandard(StandardConfig{
				NumCores: 4, BlockSize: 64, NumSets: 8, NumWays: 2,
			})

			Expect(other.LoadState(bytes.NewReader(buf.Bytes()))).
				NotTo(Succeed())
		})

		It("should reject an LRU queue with a bad way", func() {
			for _, queue := range [][]int{{7, 0}, {1, 1}} {
				copy(s.Sets()[0].LRUQueue, queue)

				buf := new(bytes.Buffer)
				Expect(s.SaveState(buf)).To(Succeed())

				fresh := newTestStandard(0, nil)
				Expect(fresh.LoadState(bytes.NewReader(buf.Bytes()))).
					To(MatchError(ContainSubstring("LRU of set 0")))
			}
		})

		It("should panic on a block stored in the wrong set", func() {
			install(s, 0x000, 1)
			s.Sets()[0].Ways[0].Tag = 0x040

			buf := new(bytes.Buffer)
			Expect(s.SaveState(buf)).To(Succeed())

			fresh := newTestStandard(0, nil)
			Expect(func() {
				fresh.LoadState(bytes.NewReader(buf.Bytes()))
			}).To(Panic())
		})
	})
})
