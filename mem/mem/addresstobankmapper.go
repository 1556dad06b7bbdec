// Package mem provides the address mapping shared by the caches and the
// directory banks.
package mem

// AddressToBankMapper finds the directory bank that is home to an address
// and the address as seen inside that bank.
type AddressToBankMapper interface {
	Find(address uint64) int
	Local(address uint64) uint64
	NumBanks() int
}

// SingleBankMapper is used when there is only one bank.
type SingleBankMapper struct{}

// Find always returns bank 0.
func (f SingleBankMapper) Find(address uint64) int {
	return 0
}

// Local returns the address unchanged.
func (f SingleBankMapper) Local(address uint64) uint64 {
	return address
}

// NumBanks returns 1.
func (f SingleBankMapper) NumBanks() int {
	return 1
}

// InterleavedAddressBankMapper spreads chunks of InterleavingSize bytes over
// the banks in a round-robin fashion.
type InterleavedAddressBankMapper struct {
	InterleavingSize uint64
	Banks            int
}

// NewInterleavedAddressBankMapper creates a new mapper for interleaved banks.
func NewInterleavedAddressBankMapper(
	interleavingSize uint64,
	numBanks int,
) *InterleavedAddressBankMapper {
	if interleavingSize == 0 {
		panic("interleaving size must be positive")
	}

	if numBanks <= 0 {
		panic("number of banks must be positive")
	}

	return &InterleavedAddressBankMapper{
		InterleavingSize: interleavingSize,
		Banks:            numBanks,
	}
}

// Find returns the bank that is home to the address.
func (f *InterleavedAddressBankMapper) Find(address uint64) int {
	return int(address / f.InterleavingSize % uint64(f.Banks))
}

// Local removes the bank selection from the address, so that consecutive
// chunks of one bank become consecutive local addresses.
func (f *InterleavedAddressBankMapper) Local(address uint64) uint64 {
	chunk := address / f.InterleavingSize
	offset := address % f.InterleavingSize

	return chunk/uint64(f.Banks)*f.InterleavingSize + offset
}

// NumBanks returns the number of banks.
func (f *InterleavedAddressBankMapper) NumBanks() int {
	return f.Banks
}

// BankedAddressBankMapper gives each bank a contiguous range of BankSize
// bytes.
type BankedAddressBankMapper struct {
	BankSize uint64
	Banks    int
}

// NewBankedAddressBankMapper returns a new BankedAddressBankMapper.
func NewBankedAddressBankMapper(
	bankSize uint64,
	numBanks int,
) *BankedAddressBankMapper {
	if bankSize == 0 {
		panic("bank size must be positive")
	}

	return &BankedAddressBankMapper{
		BankSize: bankSize,
		Banks:    numBanks,
	}
}

// Find returns the bank that holds the address. Addresses past the last
// bank wrap around.
func (f *BankedAddressBankMapper) Find(address uint64) int {
	return int(address / f.BankSize % uint64(f.Banks))
}

// Local returns the offset of the address inside its bank.
func (f *BankedAddressBankMapper) Local(address uint64) uint64 {
	return address % f.BankSize
}

// NumBanks returns the number of banks.
func (f *BankedAddressBankMapper) NumBanks() int {
	return f.Banks
}
