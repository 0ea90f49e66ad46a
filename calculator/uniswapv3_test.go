package calculator

import (
	"context"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/dexmirror/dexmirror-go/engine"
	registry "github.com/dexmirror/dexmirror-go/registry"
)

func q96() *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), 96)
}

// concentratedPool builds a pool parked at tick zero with liquidity 2^96,
// which makes the virtual reserves exactly 2^96 on both sides and swap
// outputs analytically checkable.
func concentratedPool(addr byte, feePips uint64) *registry.Pool {
	return &registry.Pool{
		Address:      testAddr(addr),
		Protocol:     engine.ProtocolUniswapV3,
		Token0:       testAddr(40),
		Token1:       testAddr(41),
		Fee:          engine.NewPipsFee(feePips),
		SqrtPriceX96: q96(),
		Tick:         0,
		TickSpacing:  60,
		Liquidity:    q96(),
	}
}

func TestConcentratedQuoteWithinRange(t *testing.T) {
	pool := concentratedPool(42, 0)
	store := seedPools(t, pool)
	calc := newCalc(t, store, nil)
	ctx := context.Background()

	// With unit price and L = 2^96 the virtual reserves are 2^96 each, so a
	// fee-free swap of 2^96 in returns exactly half that, both directions.
	in := q96()
	want := new(uint256.Int).Lsh(uint256.NewInt(1), 95)

	out, err := calc.AmountOut(ctx, pool, pool.Token0, in)
	require.NoError(t, err)
	assert.Zero(t, want.Cmp(out), "falling swap: want %s got %s", want, out)

	out, err = calc.AmountOut(ctx, pool, pool.Token1, in)
	require.NoError(t, err)
	assert.Zero(t, want.Cmp(out), "rising swap: want %s got %s", want, out)
}

func TestConcentratedCrossingDropsLiquidity(t *testing.T) {
	uniform := concentratedPool(43, 0)

	crossing := concentratedPool(44, 0)
	net := new(big.Int).Lsh(big.NewInt(1), 95)
	crossing.Ticks = []registry.TickLevel{{Index: -60, LiquidityNet: net}}
	crossing.TickBitmap = map[int16]*uint256.Int{
		-1: new(uint256.Int).Lsh(uint256.NewInt(1), 255),
	}

	store := seedPools(t, uniform, crossing)
	calc := newCalc(t, store, nil)
	ctx := context.Background()
	in := q96()

	outUniform, err := calc.AmountOut(ctx, uniform, uniform.Token0, in)
	require.NoError(t, err)
	outCrossing, err := calc.AmountOut(ctx, crossing, crossing.Token0, in)
	require.NoError(t, err)

	// Crossing the boundary at tick -60 halves the active liquidity, so the
	// rest of the trade fills at a worse price.
	assert.False(t, outCrossing.IsZero())
	assert.True(t, outCrossing.Lt(outUniform),
		"crossing %s should underfill uniform %s", outCrossing, outUniform)
}

func TestConcentratedFeeReducesOutput(t *testing.T) {
	free := concentratedPool(45, 0)
	paid := concentratedPool(46, 0)
	paid.Fee = engine.Fee{} // fall back to the 3000-pip protocol default

	store := seedPools(t, free, paid)
	calc := newCalc(t, store, nil)
	ctx := context.Background()
	in := q96()

	outFree, err := calc.AmountOut(ctx, free, free.Token0, in)
	require.NoError(t, err)
	outPaid, err := calc.AmountOut(ctx, paid, paid.Token0, in)
	require.NoError(t, err)

	assert.True(t, outPaid.Lt(outFree))
	assert.False(t, outPaid.IsZero())
}

func TestConcentratedEmptyPool(t *testing.T) {
	t.Run("zero liquidity walks to the limit", func(t *testing.T) {
		pool := concentratedPool(47, 0)
		pool.Liquidity = new(uint256.Int)
		store := seedPools(t, pool)
		calc := newCalc(t, store, nil)

		out, err := calc.AmountOut(context.Background(), pool, pool.Token0, q96())
		require.NoError(t, err)
		assert.True(t, out.IsZero())
	})

	t.Run("uninitialized price quotes zero", func(t *testing.T) {
		pool := concentratedPool(48, 0)
		pool.SqrtPriceX96 = nil
		store := seedPools(t, pool)
		calc := newCalc(t, store, nil)

		out, err := calc.AmountOut(context.Background(), pool, pool.Token1, uint256.NewInt(1000))
		require.NoError(t, err)
		assert.True(t, out.IsZero())
	})
}

func TestConcentratedDispatchUsesMirror(t *testing.T) {
	// Two descriptors, one seeded store each: quotes must reflect the
	// mirrored liquidity, not the descriptor fields.
	pool := concentratedPool(49, 0)
	store := seedPools(t, pool)
	calc := newCalc(t, store, nil)
	ctx := context.Background()

	before, err := calc.AmountOut(ctx, pool, pool.Token0, q96())
	require.NoError(t, err)

	// Mutating the descriptor after seeding changes nothing.
	pool.Liquidity = new(uint256.Int)
	after, err := calc.AmountOut(ctx, pool, pool.Token0, q96())
	require.NoError(t, err)
	assert.Zero(t, before.Cmp(after))
}

func TestConcentratedFeePips(t *testing.T) {
	cases := []struct {
		name    string
		fee     engine.Fee
		want    uint64
		wantErr bool
	}{
		{"pips pass through", engine.NewPipsFee(500), 500, false},
		{"bps scale up", engine.NewBpsFee(30), 3000, false},
		{"wad has no pips form", engine.NewWadFee(3_000_000_000_000_000), 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := concentratedFeePips(tc.fee)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
