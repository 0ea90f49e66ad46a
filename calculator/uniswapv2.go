package calculator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	registry "github.com/dexmirror/dexmirror-go/registry"
)

const bpsDenominator = 10_000

// wad is the 1e18 fixed-point unit.
var wad = uint256.NewInt(1_000_000_000_000_000_000)

func (c *Calculator) pairOut(ctx context.Context, pool *registry.Pool, zeroForOne bool, amountIn *uint256.Int) (*uint256.Int, error) {
	reserveIn, reserveOut, err := c.pairReserves(ctx, pool, zeroForOne)
	if err != nil {
		return nil, err
	}
	feeMul, err := pool.EffectiveFee().BpsMultiplier()
	if err != nil {
		return nil, fmt.Errorf("%w: pool %s: %v", ErrPoolState, pool.Address, err)
	}
	return constantProductOut(amountIn, reserveIn, reserveOut, feeMul), nil
}

func (c *Calculator) pairReserves(ctx context.Context, pool *registry.Pool, zeroForOne bool) (reserveIn, reserveOut *uint256.Int, err error) {
	r0, r1, err := registry.Reserves(ctx, c.store, pool.Address)
	if err != nil {
		return nil, nil, err
	}
	if zeroForOne {
		return r0, r1, nil
	}
	return r1, r0, nil
}

// constantProductOut is the classic getAmountOut formula:
//
//	out = floor(in*feeMul*rOut / (rIn*10000 + in*feeMul))
//
// with feeMul = 10000 - feeBps (9970, 9975 and 9984 across the clone
// families). Empty reserves and intermediate overflow quote as zero.
func constantProductOut(amountIn, reserveIn, reserveOut *uint256.Int, feeMul uint64) *uint256.Int {
	out := new(uint256.Int)
	if amountIn.IsZero() || reserveIn.IsZero() || reserveOut.IsZero() || feeMul == 0 {
		return out
	}
	var fee, inWithFee, numerator, denominator uint256.Int
	fee.SetUint64(feeMul)
	if _, overflow := inWithFee.MulOverflow(amountIn, &fee); overflow {
		return out
	}
	if _, overflow := numerator.MulOverflow(&inWithFee, reserveOut); overflow {
		return out
	}
	fee.SetUint64(bpsDenominator)
	if _, overflow := denominator.MulOverflow(reserveIn, &fee); overflow {
		return out
	}
	if _, overflow := denominator.AddOverflow(&denominator, &inWithFee); overflow {
		return out
	}
	return out.Div(&numerator, &denominator)
}

// PairAmountIn returns the smallest tokenIn input that buys amountOut from a
// reserve-pair pool, the quote formula inverted and rounded up:
//
//	in = floor(rIn*out*10000 / ((rOut-out)*feeMul)) + 1
func (c *Calculator) PairAmountIn(ctx context.Context, pool *registry.Pool, tokenIn common.Address, amountOut *uint256.Int) (*uint256.Int, error) {
	_, zeroForOne, err := pool.Other(tokenIn)
	if err != nil {
		return nil, err
	}
	if amountOut == nil || amountOut.IsZero() {
		return new(uint256.Int), nil
	}
	reserveIn, reserveOut, err := c.pairReserves(ctx, pool, zeroForOne)
	if err != nil {
		return nil, err
	}
	feeMul, err := pool.EffectiveFee().BpsMultiplier()
	if err != nil {
		return nil, fmt.Errorf("%w: pool %s: %v", ErrPoolState, pool.Address, err)
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, fmt.Errorf("%w: pool %s is empty", ErrInsufficientLiquidity, pool.Address)
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: pool %s holds %s", ErrInsufficientLiquidity, pool.Address, reserveOut.Dec())
	}

	var scaledIn, gap, fee, denominator, in uint256.Int
	fee.SetUint64(bpsDenominator)
	if _, overflow := scaledIn.MulOverflow(reserveIn, &fee); overflow {
		return nil, fmt.Errorf("%w: pool %s reserves out of range", ErrPoolState, pool.Address)
	}
	gap.Sub(reserveOut, amountOut)
	fee.SetUint64(feeMul)
	if _, overflow := denominator.MulOverflow(&gap, &fee); overflow {
		return nil, fmt.Errorf("%w: pool %s reserves out of range", ErrPoolState, pool.Address)
	}
	if _, overflow := in.MulDivOverflow(&scaledIn, amountOut, &denominator); overflow {
		return nil, fmt.Errorf("%w: no finite input reaches %s", ErrInsufficientLiquidity, amountOut.Dec())
	}
	return in.AddUint64(&in, 1), nil
}

// PairSpotRate returns the pair's marginal pre-fee exchange rate as a 1e18
// fixed-point reserveOut/reserveIn ratio.
func (c *Calculator) PairSpotRate(ctx context.Context, pool *registry.Pool, tokenIn common.Address) (*uint256.Int, error) {
	_, zeroForOne, err := pool.Other(tokenIn)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, err := c.pairReserves(ctx, pool, zeroForOne)
	if err != nil {
		return nil, err
	}
	if reserveIn.IsZero() {
		return new(uint256.Int), nil
	}
	rate := new(uint256.Int)
	if _, overflow := rate.MulDivOverflow(reserveOut, wad, reserveIn); overflow {
		return nil, fmt.Errorf("%w: pool %s rate exceeds 256 bits", ErrPoolState, pool.Address)
	}
	return rate, nil
}
