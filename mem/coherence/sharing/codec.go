package sharing

import (
	"log"

	"github.com/bits-and-blooms/bitset"
)

const (
	flagExclusive uint8 = 1 << iota
	flagCoarse
)

type codec interface {
	encode(numWords int) (uint8, []uint64)
	decode(flags uint8, words []uint64)
}

// WordsFor returns the number of 64-bit words needed to encode the sharers
// of numCores cores.
func WordsFor(numCores int) int {
	return (numCores + 63) / 64
}

// Encode turns a state into a flag byte and a fixed number of sharer words.
func Encode(s State, numWords int) (flags uint8, words []uint64) {
	c, ok := s.(codec)
	if !ok {
		log.Panicf("sharing state %T cannot be encoded", s)
	}

	return c.encode(numWords)
}

// Decode overwrites a state with the encoded flag byte and words.
func Decode(s State, flags uint8, words []uint64) {
	c, ok := s.(codec)
	if !ok {
		log.Panicf("sharing state %T cannot be decoded", s)
	}

	c.decode(flags, words)
}

func bitsToWords(b *bitset.BitSet, numWords int) []uint64 {
	words := make([]uint64, numWords)

	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		w := int(i / 64)
		if w >= numWords {
			log.Panicf("sharer %d does not fit in %d words", i, numWords)
		}

		words[w] |= 1 << (i % 64)
	}

	return words
}

func wordsToBits(words []uint64, b *bitset.BitSet, limit int) {
	for w, word := range words {
		for bit := 0; bit < 64; bit++ {
			if word&(1<<uint(bit)) == 0 {
				continue
			}

			i := w*64 + bit
			if i >= limit {
				log.Panicf("encoded sharer %d out of range [0, %d)", i, limit)
			}

			b.Set(uint(i))
		}
	}
}
