package mshr_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/mem/privatecache/internal/mshr"
)

var _ = Describe("MSHRImpl", func() {
	var (
		m mshr.MSHR
	)

	BeforeEach(func() {
		m = mshr.NewMSHR(2)
	})

	It("should add an entry", func() {
		Expect(m.AddEntry(&mshr.Entry{Addr: 0x40, SetID: 1})).To(Succeed())

		e, found := m.Lookup(0x40)
		Expect(found).To(BeTrue())
		Expect(e.SetID).To(Equal(1))

		removed, err := m.RemoveEntry(0x40)
		Expect(err).ToNot(HaveOccurred())
		Expect(removed).To(BeIdenticalTo(e))

		_, found = m.Lookup(0x40)
		Expect(found).To(BeFalse())
	})

	It("should error if adding an address that is already in MSHR", func() {
		Expect(m.AddEntry(&mshr.Entry{Addr: 0x40})).To(Succeed())

		Expect(m.AddEntry(&mshr.Entry{Addr: 0x40})).
			To(MatchError("trying to add an address that is already in MSHR"))
	})

	It("should error if adding to a full MSHR", func() {
		Expect(m.AddEntry(&mshr.Entry{Addr: 0x00})).To(Succeed())
		Expect(m.AddEntry(&mshr.Entry{Addr: 0x40})).To(Succeed())

		Expect(m.IsFull()).To(BeTrue())
		Expect(m.AddEntry(&mshr.Entry{Addr: 0x80})).
			To(MatchError("trying to add to a full MSHR"))
	})

	It("should error if removing an entry that does not exist", func() {
		_, err := m.RemoveEntry(0x40)
		Expect(err).To(HaveOccurred())
	})

	It("should count the entries of a set", func() {
		Expect(m.AddEntry(&mshr.Entry{Addr: 0x00, SetID: 0})).To(Succeed())
		Expect(m.AddEntry(&mshr.Entry{Addr: 0x100, SetID: 0})).To(Succeed())

		Expect(m.CountInSet(0)).To(Equal(2))
		Expect(m.CountInSet(1)).To(Equal(0))
		Expect(m.Entries()).To(HaveLen(2))

		m.Reset()
		Expect(m.Entries()).To(BeEmpty())
	})
})
