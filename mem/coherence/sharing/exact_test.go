package sharing_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/mem/coherence/sharing"
)

var _ = Describe("Exact", func() {
	var s *sharing.Exact

	BeforeEach(func() {
		s = sharing.NewExact(8)
	})

	It("should start empty", func() {
		Expect(s.NoSharers()).To(BeTrue())
		Expect(s.Exclusive()).To(BeFalse())

		_, ok := s.FirstSharer()
		Expect(ok).To(BeFalse())
	})

	It("should add and remove sharers", func() {
		s.AddSharer(3)
		s.AddSharer(5)

		Expect(s.CountSharers()).To(Equal(2))
		Expect(s.ManySharers()).To(BeTrue())
		Expect(s.Sharers()).To(Equal([]int{3, 5}))
		Expect(s.OtherSharers(3)).To(Equal([]int{5}))

		s.RemoveSharer(3)
		Expect(s.OneSharer()).To(BeTrue())
		first, ok := s.FirstSharer()
		Expect(ok).To(BeTrue())
		Expect(first).To(Equal(5))
	})

	It("should be exclusive only with one sharer and the marker", func() {
		s.SetSharer(2)
		Expect(s.Exclusive()).To(BeTrue())

		s.AddSharer(4)
		Expect(s.Exclusive()).To(BeFalse())

		s.RemoveSharer(4)
		Expect(s.Exclusive()).To(BeFalse())

		s.SetExclusive(true)
		Expect(s.Exclusive()).To(BeTrue())
	})

	It("should clear other sharers when setting a sharer", func() {
		s.AddSharer(1)
		s.AddSharer(6)

		s.SetSharer(4)

		Expect(s.Sharers()).To(Equal([]int{4}))
	})

	It("should clone deeply", func() {
		s.AddSharer(1)
		c := s.Clone()
		s.AddSharer(2)

		Expect(c.Sharers()).To(Equal([]int{1}))
	})

	It("should panic on out-of-range cores", func() {
		Expect(func() { s.AddSharer(8) }).To(Panic())
		Expect(func() { s.IsSharer(-1) }).To(Panic())
	})

	It("should always equal the true sharer set", func() {
		r := rand.New(rand.NewSource(1))
		truth := map[int]bool{}

		for i := 0; i < 1000; i++ {
			core := r.Intn(8)

			switch r.Intn(3) {
			case 0:
				s.AddSharer(core)
				truth[core] = true
			case 1:
				s.RemoveSharer(core)
				delete(truth, core)
			case 2:
				s.SetSharer(core)
				truth = map[int]bool{core: true}
			}

			Expect(s.CountSharers()).To(Equal(len(truth)))
			for c := range truth {
				Expect(s.IsSharer(c)).To(BeTrue())
			}
		}
	})

	It("should intersect states", func() {
		a := sharing.NewExactFrom(8, 1, 2, 3)
		b := sharing.NewExactFrom(8, 2, 3, 4)

		out := sharing.Intersect(a, b)

		Expect(out.Sharers()).To(Equal([]int{2, 3}))
		Expect(a.Sharers()).To(Equal([]int{1, 2, 3}))
	})

	It("should round-trip through encoding", func() {
		big := sharing.NewExact(130)
		big.SetSharer(129)

		flags, words := sharing.Encode(big, sharing.WordsFor(130))
		Expect(words).To(HaveLen(3))

		out := sharing.NewExact(130)
		sharing.Decode(out, flags, words)

		Expect(sharing.Equal(big, out)).To(BeTrue())
	})
})
