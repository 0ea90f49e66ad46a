package v3math

import (
	"math/bits"

	"github.com/holiman/uint256"
)

// Compress maps a tick onto its spacing grid, rounding toward negative
// infinity.
func Compress(tick, spacing int32) int32 {
	c := tick / spacing
	if tick < 0 && tick%spacing != 0 {
		c--
	}
	return c
}

// position splits a compressed tick into its bitmap word and the bit
// within that word.
func position(compressed int32) (int16, uint8) {
	return int16(compressed >> 8), uint8(compressed & 255)
}

// WordPosition returns the bitmap word a search from tick reads. Searching
// down (lte) starts at the word of the tick itself; searching up starts at
// the word of the next compressed tick.
func WordPosition(tick, spacing int32, lte bool) int16 {
	c := Compress(tick, spacing)
	if !lte {
		c++
	}
	word, _ := position(c)
	return word
}

// NextInitializedTickWithinWord scans one bitmap word for the closest
// initialized tick from tick in the given direction. Searching down
// includes tick itself; searching up starts one spacing above it. When the
// word holds no initialized tick in range, the returned tick is the last
// one covered by the word and initialized is false, so the caller can
// continue from the adjacent word.
func NextInitializedTickWithinWord(word *uint256.Int, tick, spacing int32, lte bool) (int32, bool) {
	c := Compress(tick, spacing)

	if lte {
		_, bit := position(c)
		// All bits at or below the current one.
		var mask, masked uint256.Int
		mask.Lsh(one, uint(bit)+1)
		mask.SubUint64(&mask, 1)
		masked.And(word, &mask)

		if masked.IsZero() {
			return (c - int32(bit)) * spacing, false
		}
		return (c - int32(bit) + int32(msb(&masked))) * spacing, true
	}

	c++
	_, bit := position(c)
	// All bits at or above the next one.
	var mask, masked uint256.Int
	mask.Lsh(one, uint(bit))
	mask.SubUint64(&mask, 1)
	mask.Not(&mask)
	masked.And(word, &mask)

	if masked.IsZero() {
		return (c + int32(255-bit)) * spacing, false
	}
	return (c + int32(lsb(&masked)) - int32(bit)) * spacing, true
}

// msb returns the index of the highest set bit. x must be non-zero.
func msb(x *uint256.Int) uint8 {
	return uint8(x.BitLen() - 1)
}

// lsb returns the index of the lowest set bit. x must be non-zero.
func lsb(x *uint256.Int) uint8 {
	for i := 0; i < 4; i++ {
		if x[i] != 0 {
			return uint8(i*64 + bits.TrailingZeros64(x[i]))
		}
	}
	return 0
}
