package calculator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	registry "github.com/dexmirror/dexmirror-go/registry"
)

var (
	bigOne   = big.NewInt(1)
	bigThree = big.NewInt(3)
	bigTen   = big.NewInt(10)
	bigBps   = big.NewInt(bpsDenominator)
	bigWad   = big.NewInt(1_000_000_000_000_000_000)
)

// solidlyOut quotes a stable/volatile two-curve pool. Volatile pools are
// plain constant product with the descriptor fee; stable pools hold
// k = xy(x²+y²) constant on 18-decimal normalized balances.
func (c *Calculator) solidlyOut(ctx context.Context, pool *registry.Pool, zeroForOne bool, amountIn *uint256.Int) (*uint256.Int, error) {
	r0, r1, err := registry.Reserves(ctx, c.store, pool.Address)
	if err != nil {
		return nil, err
	}
	feeBps, err := solidlyFeeBps(pool)
	if err != nil {
		return nil, err
	}

	if !pool.Stable {
		reserveIn, reserveOut := r0, r1
		if !zeroForOne {
			reserveIn, reserveOut = r1, r0
		}
		return constantProductOut(amountIn, reserveIn, reserveOut, bpsDenominator-feeBps), nil
	}
	return c.stableOut(pool, r0, r1, zeroForOne, amountIn, feeBps)
}

func solidlyFeeBps(pool *registry.Pool) (uint64, error) {
	fee := pool.EffectiveFee()
	mul, err := fee.BpsMultiplier()
	if err != nil {
		return 0, fmt.Errorf("%w: pool %s: %v", ErrPoolState, pool.Address, err)
	}
	return bpsDenominator - mul, nil
}

// stableOut removes the fee from the input, normalizes everything to 1e18
// by token decimals, solves the invariant for the new output-side balance
// and de-normalizes the difference.
func (c *Calculator) stableOut(pool *registry.Pool, r0, r1 *uint256.Int, zeroForOne bool, amountIn *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if r0.IsZero() || r1.IsZero() {
		return zeroQuote(), nil
	}

	in := amountIn.ToBig()
	fee := new(big.Int).Mul(in, new(big.Int).SetUint64(feeBps))
	fee.Quo(fee, bigBps)
	in.Sub(in, fee)
	if in.Sign() == 0 {
		// fee consumed the whole input
		return zeroQuote(), nil
	}

	d0 := pow10(pool.Decimals0)
	d1 := pow10(pool.Decimals1)
	x := r0.ToBig()
	y := r1.ToBig()

	k := stableK(x, y, d0, d1)
	if k.Sign() == 0 {
		return zeroQuote(), nil
	}

	xNorm := wadNorm(x, d0)
	yNorm := wadNorm(y, d1)
	var reserveIn, reserveOut, dOut *big.Int
	if zeroForOne {
		reserveIn, reserveOut, dOut = xNorm, yNorm, d1
		in = wadNorm(in, d0)
	} else {
		reserveIn, reserveOut, dOut = yNorm, xNorm, d0
		in = wadNorm(in, d1)
	}
	if in.Sign() == 0 {
		return zeroQuote(), nil
	}

	x0 := new(big.Int).Add(reserveIn, in)
	yNew, err := solveStableY(x0, k, reserveOut)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", pool.Address, err)
	}

	dy := new(big.Int).Sub(reserveOut, yNew)
	if dy.Sign() <= 0 {
		return zeroQuote(), nil
	}
	dy.Mul(dy, dOut)
	dy.Quo(dy, bigWad)
	out, overflow := uint256.FromBig(dy)
	if overflow {
		return zeroQuote(), nil
	}
	return out, nil
}

// stableK computes the invariant k = xy(x²+y²) on 1e18-normalized balances,
// with the reference truncation at every step.
func stableK(x, y, d0, d1 *big.Int) *big.Int {
	xN := wadNorm(x, d0)
	yN := wadNorm(y, d1)
	a := new(big.Int).Mul(xN, yN)
	a.Quo(a, bigWad)
	bx := new(big.Int).Mul(xN, xN)
	bx.Quo(bx, bigWad)
	by := new(big.Int).Mul(yN, yN)
	by.Quo(by, bigWad)
	bx.Add(bx, by)
	a.Mul(a, bx)
	return a.Quo(a, bigWad)
}

// stableF is f(x0, y) = x0·y·(x0²+y²) in 1e18 fixed point.
func stableF(x0, y *big.Int) *big.Int {
	a := new(big.Int).Mul(x0, y)
	a.Quo(a, bigWad)
	bx := new(big.Int).Mul(x0, x0)
	bx.Quo(bx, bigWad)
	by := new(big.Int).Mul(y, y)
	by.Quo(by, bigWad)
	bx.Add(bx, by)
	a.Mul(a, bx)
	return a.Quo(a, bigWad)
}

// stableD is the derivative df/dy = 3x0y² + x0³ in 1e18 fixed point.
func stableD(x0, y *big.Int) *big.Int {
	yy := new(big.Int).Mul(y, y)
	yy.Quo(yy, bigWad)
	d := new(big.Int).Mul(bigThree, x0)
	d.Mul(d, yy)
	d.Quo(d, bigWad)
	xx := new(big.Int).Mul(x0, x0)
	xx.Quo(xx, bigWad)
	xx.Mul(xx, x0)
	xx.Quo(xx, bigWad)
	return d.Add(d, xx)
}

// solveStableY finds y' with f(x0, y') = k by Newton's method, mirroring the
// on-chain solver: derivative-sized steps, a unit-step snap when the step
// truncates to zero, at most 255 iterations. A flat derivative or an
// exhausted iteration budget returns the current estimate with
// ErrNonConvergence; the estimate must not be quoted.
func solveStableY(x0, k, yStart *big.Int) (*big.Int, error) {
	y := new(big.Int).Set(yStart)
	dy := new(big.Int)
	probe := new(big.Int)
	for i := 0; i < 255; i++ {
		f := stableF(x0, y)
		d := stableD(x0, y)
		if d.Sign() == 0 {
			return y, fmt.Errorf("%w: flat derivative at iteration %d", ErrNonConvergence, i)
		}
		if f.Cmp(k) < 0 {
			dy.Sub(k, f)
			dy.Mul(dy, bigWad)
			dy.Quo(dy, d)
			if dy.Sign() == 0 {
				// The step truncated to zero one balance unit short of the
				// crossing: y+1 is the closest representable solution.
				if stableF(x0, probe.Add(y, bigOne)).Cmp(k) > 0 {
					return y.Add(y, bigOne), nil
				}
				dy.Set(bigOne)
			}
			y.Add(y, dy)
		} else {
			dy.Sub(f, k)
			dy.Mul(dy, bigWad)
			dy.Quo(dy, d)
			if dy.Sign() == 0 {
				if f.Cmp(k) == 0 || stableF(x0, probe.Sub(y, bigOne)).Cmp(k) < 0 {
					return y, nil
				}
				dy.Set(bigOne)
			}
			y.Sub(y, dy)
			if y.Sign() <= 0 {
				return y, fmt.Errorf("%w: iteration %d drove the balance negative", ErrNonConvergence, i)
			}
		}
	}
	return y, fmt.Errorf("%w: 255 iterations exhausted", ErrNonConvergence)
}

// wadNorm rescales a native-decimals balance to 1e18 fixed point.
func wadNorm(v, pow *big.Int) *big.Int {
	out := new(big.Int).Mul(v, bigWad)
	return out.Quo(out, pow)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(bigTen, big.NewInt(int64(decimals)), nil)
}
