package calculator

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/dexmirror/dexmirror-go/engine"
	registry "github.com/dexmirror/dexmirror-go/registry"
	statedb "github.com/dexmirror/dexmirror-go/statedb"
)

func weightedPool(addr byte, b0, b1, w0, w1, feeWad *uint256.Int) *registry.Pool {
	return &registry.Pool{
		Address:    testAddr(addr),
		Protocol:   engine.ProtocolBalancerWeighted,
		Token0:     testAddr(60),
		Token1:     testAddr(61),
		Decimals0:  18,
		Decimals1:  18,
		Balance0:   b0,
		Balance1:   b1,
		Weight0:    w0,
		Weight1:    w1,
		SwapFeeWad: feeWad,
	}
}

func TestWeightedEqualWeights(t *testing.T) {
	b := mustDec("1000000000000000000000000")
	half := mustDec("500000000000000000")
	in := mustDec("1000000000000000000000")
	ctx := context.Background()

	t.Run("no fee", func(t *testing.T) {
		pool := weightedPool(62, b, b, half, half, nil)
		calc := newCalc(t, seedPools(t, pool), nil)

		out, err := calc.AmountOut(ctx, pool, pool.Token0, in)
		require.NoError(t, err)
		// Equal weights collapse to the constant-product curve with
		// pool-favoring rounding.
		assert.Equal(t, "999000999000999000000", out.Dec())
	})

	t.Run("default fee", func(t *testing.T) {
		pool := weightedPool(63, b, b, half, half, uint256.NewInt(3_000_000_000_000_000))
		calc := newCalc(t, seedPools(t, pool), nil)

		out, err := calc.AmountOut(ctx, pool, pool.Token0, in)
		require.NoError(t, err)
		assert.Equal(t, "996006981039903000000", out.Dec())
	})
}

func TestWeightedEightyTwenty(t *testing.T) {
	b0 := mustDec("1000000000000000000000000")
	b1 := mustDec("500000000000000000000000")
	w0 := mustDec("800000000000000000")
	w1 := mustDec("200000000000000000")
	fee := uint256.NewInt(3_000_000_000_000_000)
	pool := weightedPool(64, b0, b1, w0, w1, fee)
	calc := newCalc(t, seedPools(t, pool), nil)
	ctx := context.Background()
	in := mustDec("1000000000000000000000")

	t.Run("whole exponent", func(t *testing.T) {
		// weightIn/weightOut = 4 exactly, which short-circuits the power
		// function to two squarings.
		out, err := calc.AmountOut(ctx, pool, pool.Token0, in)
		require.NoError(t, err)
		assert.Equal(t, "1989039848006327000000", out.Dec())
	})

	t.Run("fractional exponent", func(t *testing.T) {
		// The reverse direction runs the full log/exp path; pin it between
		// the spot rate and a conservative slippage bound.
		out, err := calc.AmountOut(ctx, pool, pool.Token1, in)
		require.NoError(t, err)

		spotHalf := mustDec("500000000000000000000")
		floor := mustDec("490000000000000000000")
		assert.True(t, out.Lt(spotHalf), "out %s beat the spot rate", out)
		assert.True(t, out.Gt(floor), "out %s lost more than slippage allows", out)
	})
}

func TestWeightedEmptyState(t *testing.T) {
	half := mustDec("500000000000000000")
	b := mustDec("1000000000000000000000000")
	ctx := context.Background()

	t.Run("zero balance", func(t *testing.T) {
		pool := weightedPool(65, b, nil, half, half, nil)
		calc := newCalc(t, seedPools(t, pool), nil)

		out, err := calc.AmountOut(ctx, pool, pool.Token0, uint256.NewInt(1000))
		require.NoError(t, err)
		assert.True(t, out.IsZero())
	})

	t.Run("zero weight in the mirror", func(t *testing.T) {
		pool := weightedPool(66, b, b, half, half, nil)
		store := seedPools(t, pool)
		// Weight words live in slots 4 and 5; blank one behind the
		// registry's back.
		store.InsertAccountStorage(pool.Address, registry.SlotOf(4), registry.PackWord(new(uint256.Int)), statedb.OriginSynthetic)
		calc := newCalc(t, store, nil)

		out, err := calc.AmountOut(ctx, pool, pool.Token0, uint256.NewInt(1000))
		require.NoError(t, err)
		assert.True(t, out.IsZero())
	})
}

func TestWeightedFeeEatsDust(t *testing.T) {
	b := mustDec("1000000000000000000000000")
	half := mustDec("500000000000000000")
	// A one-wei trade at any non-zero fee rounds the fee up to the whole
	// input.
	pool := weightedPool(67, b, b, half, half, uint256.NewInt(1))
	calc := newCalc(t, seedPools(t, pool), nil)

	out, err := calc.AmountOut(context.Background(), pool, pool.Token0, uint256.NewInt(1))
	require.NoError(t, err)
	assert.True(t, out.IsZero())
}
