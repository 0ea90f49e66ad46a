package calculator

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/dexmirror/dexmirror-go/engine"
	"github.com/dexmirror/dexmirror-go/evmsim"
	registry "github.com/dexmirror/dexmirror-go/registry"
)

type fakeQuoter struct {
	curve    func(pool common.Address, coinIn, coinOut int64, dx *uint256.Int) (*uint256.Int, error)
	maverick func(pool common.Address, amount *uint256.Int, tokenAIn, exactOutput bool, tickLimit int32) (*uint256.Int, *uint256.Int, error)
}

func (f *fakeQuoter) CurveGetDY(_ context.Context, pool common.Address, coinIn, coinOut int64, dx *uint256.Int) (*uint256.Int, error) {
	return f.curve(pool, coinIn, coinOut, dx)
}

func (f *fakeQuoter) MaverickCalculateSwap(_ context.Context, pool common.Address, amount *uint256.Int, tokenAIn, exactOutput bool, tickLimit int32) (*uint256.Int, *uint256.Int, error) {
	return f.maverick(pool, amount, tokenAIn, exactOutput, tickLimit)
}

func curvePool(addr byte) *registry.Pool {
	return &registry.Pool{
		Address:    testAddr(addr),
		Protocol:   engine.ProtocolCurve,
		Token0:     testAddr(70),
		Token1:     testAddr(71),
		Quoter:     testAddr(72),
		CoinIndex0: 0,
		CoinIndex1: 2,
	}
}

func maverickPool(addr byte) *registry.Pool {
	return &registry.Pool{
		Address:  testAddr(addr),
		Protocol: engine.ProtocolMaverick,
		Token0:   testAddr(70),
		Token1:   testAddr(71),
	}
}

func TestExternalCurveQuote(t *testing.T) {
	pool := curvePool(73)
	store := seedPools(t, pool)
	ctx := context.Background()

	type capture struct {
		pool           common.Address
		coinIn, coinOut int64
	}
	var got capture
	quoter := &fakeQuoter{
		curve: func(p common.Address, i, j int64, dx *uint256.Int) (*uint256.Int, error) {
			got = capture{pool: p, coinIn: i, coinOut: j}
			return uint256.NewInt(12_345), nil
		},
	}
	calc := newCalc(t, store, quoter)

	out, err := calc.AmountOut(ctx, pool, pool.Token0, uint256.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(12_345), out.Uint64())
	assert.Equal(t, pool.Quoter, got.pool, "quote must run against the registry quoter")
	assert.Equal(t, int64(0), got.coinIn)
	assert.Equal(t, int64(2), got.coinOut)

	// The reverse direction swaps the coin indices.
	_, err = calc.AmountOut(ctx, pool, pool.Token1, uint256.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.coinIn)
	assert.Equal(t, int64(0), got.coinOut)
}

func TestExternalMaverickQuote(t *testing.T) {
	pool := maverickPool(74)
	store := seedPools(t, pool)
	ctx := context.Background()

	type capture struct {
		pool        common.Address
		tokenAIn    bool
		exactOutput bool
		tickLimit   int32
	}
	var got capture
	quoter := &fakeQuoter{
		maverick: func(p common.Address, amount *uint256.Int, tokenAIn, exactOutput bool, tickLimit int32) (*uint256.Int, *uint256.Int, error) {
			got = capture{pool: p, tokenAIn: tokenAIn, exactOutput: exactOutput, tickLimit: tickLimit}
			return new(uint256.Int).Set(amount), uint256.NewInt(777), nil
		},
	}
	calc := newCalc(t, store, quoter)

	out, err := calc.AmountOut(ctx, pool, pool.Token0, uint256.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, uint64(777), out.Uint64())
	// No registry quoter configured, so the pool answers for itself.
	assert.Equal(t, pool.Address, got.pool)
	assert.True(t, got.tokenAIn)
	assert.False(t, got.exactOutput)
	assert.Equal(t, int32(-887272), got.tickLimit)

	_, err = calc.AmountOut(ctx, pool, pool.Token1, uint256.NewInt(500))
	require.NoError(t, err)
	assert.False(t, got.tokenAIn)
	assert.Equal(t, int32(887272), got.tickLimit)
}

func TestExternalFailureHandling(t *testing.T) {
	pool := curvePool(75)
	store := seedPools(t, pool)
	ctx := context.Background()
	in := uint256.NewInt(1000)

	t.Run("revert degrades to zero", func(t *testing.T) {
		quoter := &fakeQuoter{
			curve: func(common.Address, int64, int64, *uint256.Int) (*uint256.Int, error) {
				return nil, &evmsim.SimulationError{Kind: evmsim.FailureRevert, Pool: pool.Quoter, Detail: "dx too small"}
			},
		}
		calc := newCalc(t, store, quoter)
		out, err := calc.AmountOut(ctx, pool, pool.Token0, in)
		require.NoError(t, err)
		assert.True(t, out.IsZero())
	})

	t.Run("undecodable returndata degrades to zero", func(t *testing.T) {
		quoter := &fakeQuoter{
			curve: func(common.Address, int64, int64, *uint256.Int) (*uint256.Int, error) {
				return nil, evmsim.ErrDecode
			},
		}
		calc := newCalc(t, store, quoter)
		out, err := calc.AmountOut(ctx, pool, pool.Token0, in)
		require.NoError(t, err)
		assert.True(t, out.IsZero())
	})

	t.Run("transport failure propagates", func(t *testing.T) {
		cause := errors.New("source unreachable")
		quoter := &fakeQuoter{
			curve: func(common.Address, int64, int64, *uint256.Int) (*uint256.Int, error) {
				return nil, &evmsim.SimulationError{Kind: evmsim.FailureTransport, Pool: pool.Quoter, Err: cause}
			},
		}
		calc := newCalc(t, store, quoter)
		_, err := calc.AmountOut(ctx, pool, pool.Token0, in)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("no quoter configured", func(t *testing.T) {
		calc := newCalc(t, store, nil)
		_, err := calc.AmountOut(ctx, pool, pool.Token0, in)
		assert.ErrorIs(t, err, ErrNoExternalQuoter)
	})
}

func TestMaverickBestTickLimit(t *testing.T) {
	pool := maverickPool(76)
	store := seedPools(t, pool)
	ctx := context.Background()
	in := uint256.NewInt(1_000_000)

	t.Run("prefers the richest candidate", func(t *testing.T) {
		best := int32(-887272 + 7*1000)
		quoter := &fakeQuoter{
			maverick: func(_ common.Address, amount *uint256.Int, _, _ bool, tickLimit int32) (*uint256.Int, *uint256.Int, error) {
				if tickLimit == best {
					return amount, uint256.NewInt(2_000), nil
				}
				return amount, uint256.NewInt(1_000), nil
			},
		}
		calc := newCalc(t, store, quoter)
		got, err := calc.MaverickBestTickLimit(ctx, pool, pool.Token0, in)
		require.NoError(t, err)
		assert.Equal(t, best, got)
	})

	t.Run("skips failing candidates", func(t *testing.T) {
		best := int32(-887272 + 3*1000)
		quoter := &fakeQuoter{
			maverick: func(_ common.Address, amount *uint256.Int, _, _ bool, tickLimit int32) (*uint256.Int, *uint256.Int, error) {
				switch {
				case tickLimit == best:
					return amount, uint256.NewInt(900), nil
				case tickLimit > best:
					return nil, nil, &evmsim.SimulationError{Kind: evmsim.FailureRevert, Detail: "limit too tight"}
				default:
					return amount, uint256.NewInt(100), nil
				}
			},
		}
		calc := newCalc(t, store, quoter)
		got, err := calc.MaverickBestTickLimit(ctx, pool, pool.Token0, in)
		require.NoError(t, err)
		assert.Equal(t, best, got)
	})

	t.Run("all candidates failing falls back to the default", func(t *testing.T) {
		quoter := &fakeQuoter{
			maverick: func(common.Address, *uint256.Int, bool, bool, int32) (*uint256.Int, *uint256.Int, error) {
				return nil, nil, &evmsim.SimulationError{Kind: evmsim.FailureHalt, Detail: "out of gas"}
			},
		}
		calc := newCalc(t, store, quoter)
		got, err := calc.MaverickBestTickLimit(ctx, pool, pool.Token0, in)
		require.NoError(t, err)
		assert.Equal(t, int32(-887272), got)
	})

	t.Run("transport failure aborts the scan", func(t *testing.T) {
		cause := errors.New("dial timeout")
		quoter := &fakeQuoter{
			maverick: func(common.Address, *uint256.Int, bool, bool, int32) (*uint256.Int, *uint256.Int, error) {
				return nil, nil, &evmsim.SimulationError{Kind: evmsim.FailureTransport, Err: cause}
			},
		}
		calc := newCalc(t, store, quoter)
		_, err := calc.MaverickBestTickLimit(ctx, pool, pool.Token0, in)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("rejects non-maverick pools", func(t *testing.T) {
		calc := newCalc(t, store, &fakeQuoter{})
		_, err := calc.MaverickBestTickLimit(ctx, curvePool(77), curvePool(77).Token0, in)
		assert.ErrorIs(t, err, ErrPoolState)
	})
}
