package v3math

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func wordWithBits(bits ...uint) *uint256.Int {
	w := new(uint256.Int)
	var b uint256.Int
	for _, bit := range bits {
		b.Lsh(one, bit)
		w.Or(w, &b)
	}
	return w
}

func TestCompress(t *testing.T) {
	tests := []struct {
		tick, spacing, want int32
	}{
		{0, 1, 0},
		{255, 1, 255},
		{-255, 1, -255},
		{20, 10, 2},
		{25, 10, 2},
		{-20, 10, -2},
		{-25, 10, -3},
		{-1, 60, -1},
		{887272, 10, 88727},
		{-887272, 10, -88728},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Compress(tc.tick, tc.spacing), "tick %d spacing %d", tc.tick, tc.spacing)
	}
}

func TestWordPosition(t *testing.T) {
	tests := []struct {
		tick, spacing int32
		lte           bool
		want          int16
	}{
		{0, 1, true, 0},
		{255, 1, true, 0},
		{256, 1, true, 1},
		{255, 1, false, 1},
		{254, 1, false, 0},
		{-1, 1, true, -1},
		{-256, 1, true, -1},
		{-257, 1, true, -2},
		{-1, 1, false, 0},
		{-2, 1, false, -1},
		{2550, 10, true, 0},
		{2560, 10, true, 1},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, WordPosition(tc.tick, tc.spacing, tc.lte), "tick %d spacing %d lte %v", tc.tick, tc.spacing, tc.lte)
	}
}

func TestNextInitializedTickWithinWord(t *testing.T) {
	t.Run("lte finds the tick itself", func(t *testing.T) {
		word := wordWithBits(4, 10)
		next, initialized := NextInitializedTickWithinWord(word, 10, 1, true)
		assert.True(t, initialized)
		assert.Equal(t, int32(10), next)
	})

	t.Run("lte finds the closest lower bit", func(t *testing.T) {
		word := wordWithBits(4, 10)
		next, initialized := NextInitializedTickWithinWord(word, 16, 1, true)
		assert.True(t, initialized)
		assert.Equal(t, int32(10), next)
	})

	t.Run("lte empty word reports the word start", func(t *testing.T) {
		next, initialized := NextInitializedTickWithinWord(new(uint256.Int), 100, 1, true)
		assert.False(t, initialized)
		assert.Equal(t, int32(0), next)
	})

	t.Run("gt skips the tick itself", func(t *testing.T) {
		word := wordWithBits(4, 10)
		next, initialized := NextInitializedTickWithinWord(word, 4, 1, false)
		assert.True(t, initialized)
		assert.Equal(t, int32(10), next)
	})

	t.Run("gt finds the closest higher bit", func(t *testing.T) {
		word := wordWithBits(4, 10)
		next, initialized := NextInitializedTickWithinWord(word, 3, 1, false)
		assert.True(t, initialized)
		assert.Equal(t, int32(4), next)
	})

	t.Run("gt empty word reports the word end", func(t *testing.T) {
		next, initialized := NextInitializedTickWithinWord(new(uint256.Int), 10, 1, false)
		assert.False(t, initialized)
		assert.Equal(t, int32(255), next)
	})

	t.Run("lte in a negative word", func(t *testing.T) {
		// Compressed tick -1 lives at bit 255 of word -1.
		word := wordWithBits(255)
		next, initialized := NextInitializedTickWithinWord(word, -1, 1, true)
		assert.True(t, initialized)
		assert.Equal(t, int32(-1), next)

		next, initialized = NextInitializedTickWithinWord(new(uint256.Int), -1, 1, true)
		assert.False(t, initialized)
		assert.Equal(t, int32(-256), next)
	})

	t.Run("gt crossing into a negative word", func(t *testing.T) {
		// Compressed tick -256 lives at bit 0 of word -1.
		word := wordWithBits(0, 200)
		next, initialized := NextInitializedTickWithinWord(word, -257, 1, false)
		assert.True(t, initialized)
		assert.Equal(t, int32(-256), next)
	})

	t.Run("spacing scales the result", func(t *testing.T) {
		word := wordWithBits(1)
		next, initialized := NextInitializedTickWithinWord(word, 25, 10, true)
		assert.True(t, initialized)
		assert.Equal(t, int32(10), next)

		next, initialized = NextInitializedTickWithinWord(new(uint256.Int), 25, 10, true)
		assert.False(t, initialized)
		assert.Equal(t, int32(0), next)
	})

	t.Run("uninitialized negative spacing grid", func(t *testing.T) {
		// -25 at spacing 10 compresses to -3, bit 253 of word -1.
		next, initialized := NextInitializedTickWithinWord(new(uint256.Int), -25, 10, true)
		assert.False(t, initialized)
		assert.Equal(t, int32(-2560), next)
	})
}
