package mem

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("InterleavedAddressBankMapper", func() {
	var mapper *InterleavedAddressBankMapper

	BeforeEach(func() {
		mapper = NewInterleavedAddressBankMapper(4096, 6)
	})

	It("should find the home bank", func() {
		Expect(mapper.Find(0)).To(Equal(0))
		Expect(mapper.Find(4096)).To(Equal(1))
		Expect(mapper.Find(4097)).To(Equal(1))
		Expect(mapper.Find(6 * 4096)).To(Equal(0))
	})

	It("should compact the addresses of a bank", func() {
		Expect(mapper.Local(4097)).To(Equal(uint64(1)))
		Expect(mapper.Local(6*4096 + 64)).To(Equal(uint64(4096 + 64)))
		Expect(mapper.Local(7*4096 + 64)).To(Equal(uint64(4096 + 64)))
	})
})

var _ = Describe("BankedAddressBankMapper", func() {
	It("should give each bank a contiguous range", func() {
		mapper := NewBankedAddressBankMapper(1<<20, 4)

		Expect(mapper.Find(0)).To(Equal(0))
		Expect(mapper.Find(1<<20 + 8)).To(Equal(1))
		Expect(mapper.Local(1<<20 + 8)).To(Equal(uint64(8)))
	})
})

var _ = Describe("SingleBankMapper", func() {
	It("should map everything to bank 0", func() {
		mapper := SingleBankMapper{}

		Expect(mapper.Find(0xdeadbeef)).To(Equal(0))
		Expect(mapper.Local(0xdeadbeef)).To(Equal(uint64(0xdeadbeef)))
	})
})
