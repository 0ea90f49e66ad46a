package calculator

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/dexmirror/dexmirror-go/engine"
	registry "github.com/dexmirror/dexmirror-go/registry"
)

func TestConstantProductOut(t *testing.T) {
	cases := []struct {
		name       string
		in         uint64
		reserveIn  uint64
		reserveOut uint64
		feeMul     uint64
		want       uint64
	}{
		{"classic 30bps", 100, 1000, 1000, 9970, 90},
		{"tiny pool", 1, 5, 10, 9970, 1},
		{"pancake 25bps", 100, 10_000, 10_000, 9975, 98},
		{"zero input", 0, 1000, 1000, 9970, 0},
		{"zero reserve in", 100, 0, 1000, 9970, 0},
		{"zero reserve out", 100, 1000, 0, 9970, 0},
		{"zero fee multiplier", 100, 1000, 1000, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := constantProductOut(
				uint256.NewInt(tc.in),
				uint256.NewInt(tc.reserveIn),
				uint256.NewInt(tc.reserveOut),
				tc.feeMul,
			)
			assert.Equal(t, tc.want, out.Uint64())
		})
	}

	t.Run("overflow degrades to zero", func(t *testing.T) {
		huge := new(uint256.Int).Not(new(uint256.Int))
		out := constantProductOut(huge, huge, huge, 9970)
		assert.True(t, out.IsZero())
	})
}

func newPairFixture(t *testing.T) (*Calculator, *registry.Pool) {
	t.Helper()
	pool := &registry.Pool{
		Address:  testAddr(10),
		Protocol: engine.ProtocolUniswapV2,
		Token0:   testAddr(11),
		Token1:   testAddr(12),
		Reserve0: mustDec("1000000000000000000000000"), // 1,000,000 units
		Reserve1: mustDec("2000000000000000000000000"), // 2,000,000 units
	}
	store := seedPools(t, pool)
	return newCalc(t, store, nil), pool
}

func TestPairQuoteThroughMirror(t *testing.T) {
	calc, pool := newPairFixture(t)
	ctx := context.Background()
	in := mustDec("1000000000000000000000")

	out, err := calc.AmountOut(ctx, pool, pool.Token0, in)
	require.NoError(t, err)
	assert.Equal(t, "1992013962079806432986", out.Dec())

	// The same trade against the deeper side yields roughly half.
	back, err := calc.AmountOut(ctx, pool, pool.Token1, in)
	require.NoError(t, err)
	assert.True(t, back.Lt(out))
	assert.False(t, back.IsZero())
}

func TestPairQuoteMonotonicAndBounded(t *testing.T) {
	calc, pool := newPairFixture(t)
	ctx := context.Background()

	prev := new(uint256.Int)
	in := mustDec("1000000000000000000")
	for i := 0; i < 12; i++ {
		out, err := calc.AmountOut(ctx, pool, pool.Token0, in)
		require.NoError(t, err)
		assert.True(t, out.Cmp(prev) >= 0, "output shrank as input grew")
		assert.True(t, out.Lt(pool.Reserve1), "output reached the reserve")
		prev = out
		in = new(uint256.Int).Mul(in, uint256.NewInt(4))
	}
}

func TestPairAmountIn(t *testing.T) {
	calc, pool := newPairFixture(t)
	ctx := context.Background()

	t.Run("inverts the quote", func(t *testing.T) {
		in := mustDec("1000000000000000000000")
		out, err := calc.AmountOut(ctx, pool, pool.Token0, in)
		require.NoError(t, err)

		need, err := calc.PairAmountIn(ctx, pool, pool.Token0, out)
		require.NoError(t, err)
		assert.Equal(t, in.Dec(), need.Dec())

		redo, err := calc.AmountOut(ctx, pool, pool.Token0, need)
		require.NoError(t, err)
		assert.True(t, redo.Cmp(out) >= 0, "recovered input no longer fills the output")
	})

	t.Run("zero output needs zero input", func(t *testing.T) {
		need, err := calc.PairAmountIn(ctx, pool, pool.Token0, new(uint256.Int))
		require.NoError(t, err)
		assert.True(t, need.IsZero())
	})

	t.Run("draining the reserve is unpayable", func(t *testing.T) {
		_, err := calc.PairAmountIn(ctx, pool, pool.Token0, pool.Reserve1)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})

	t.Run("token outside pool", func(t *testing.T) {
		_, err := calc.PairAmountIn(ctx, pool, testAddr(99), uint256.NewInt(1))
		assert.ErrorIs(t, err, registry.ErrTokenMismatch)
	})
}

func TestPairSpotRate(t *testing.T) {
	calc, pool := newPairFixture(t)
	ctx := context.Background()

	rate, err := calc.PairSpotRate(ctx, pool, pool.Token0)
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", rate.Dec())

	rate, err = calc.PairSpotRate(ctx, pool, pool.Token1)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", rate.Dec())

	_, err = calc.PairSpotRate(ctx, pool, testAddr(99))
	assert.ErrorIs(t, err, registry.ErrTokenMismatch)
}
