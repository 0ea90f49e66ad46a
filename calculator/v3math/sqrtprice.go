package v3math

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// Q96 is 1 in the Q64.96 fixed-point format.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)

	ErrLiquidityZero  = errors.New("v3math: liquidity is zero")
	ErrSqrtPriceZero  = errors.New("v3math: sqrt price is zero")
	ErrMulDivOverflow = errors.New("v3math: muldiv result exceeds 256 bits")
)

// mulDiv writes floor(a*b/d) into z, computing the product at full width.
func mulDiv(z, a, b, d *uint256.Int) error {
	if _, overflow := z.MulDivOverflow(a, b, d); overflow {
		return ErrMulDivOverflow
	}
	return nil
}

// mulDivUp writes ceil(a*b/d) into z.
func mulDivUp(z, a, b, d *uint256.Int) error {
	var rem uint256.Int
	rem.MulMod(a, b, d)
	if err := mulDiv(z, a, b, d); err != nil {
		return err
	}
	if !rem.IsZero() {
		if _, carry := z.AddOverflow(z, one); carry {
			return ErrMulDivOverflow
		}
	}
	return nil
}

// divUp writes ceil(a/d) into z.
func divUp(z, a, d *uint256.Int) {
	var rem uint256.Int
	z.DivMod(a, d, &rem)
	if !rem.IsZero() {
		z.AddUint64(z, 1)
	}
}

// NextSqrtPriceFromInput writes the price after spending amountIn of the
// input token at the given price and liquidity. The result rounds toward
// the starting price so the pool never under-charges.
func NextSqrtPriceFromInput(z, sqrtPX96, liquidity, amountIn *uint256.Int, zeroForOne bool) error {
	if sqrtPX96.IsZero() {
		return ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return ErrLiquidityZero
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount0Up(z, sqrtPX96, liquidity, amountIn)
	}
	return nextSqrtPriceFromAmount1Down(z, sqrtPX96, liquidity, amountIn)
}

// Token0 in, so the price falls: liquidity<<96 * sqrtP / (liquidity<<96 +
// amount*sqrtP), rounded up. Falls back to the division form when the
// product overflows.
func nextSqrtPriceFromAmount0Up(z, sqrtPX96, liquidity, amount *uint256.Int) error {
	if amount.IsZero() {
		z.Set(sqrtPX96)
		return nil
	}

	var numerator1, product, denominator uint256.Int
	numerator1.Lsh(liquidity, 96)

	if _, overflow := product.MulOverflow(amount, sqrtPX96); !overflow {
		if _, carry := denominator.AddOverflow(&numerator1, &product); !carry {
			return mulDivUp(z, &numerator1, sqrtPX96, &denominator)
		}
	}

	denominator.Div(&numerator1, sqrtPX96)
	denominator.Add(&denominator, amount)
	divUp(z, &numerator1, &denominator)
	return nil
}

// Token1 in, so the price rises: sqrtP + amount<<96 / liquidity, rounded
// down.
func nextSqrtPriceFromAmount1Down(z, sqrtPX96, liquidity, amount *uint256.Int) error {
	var quotient uint256.Int
	if err := mulDiv(&quotient, amount, Q96, liquidity); err != nil {
		return err
	}
	if _, carry := z.AddOverflow(sqrtPX96, &quotient); carry {
		return ErrMulDivOverflow
	}
	return nil
}

// Amount0Delta writes the token0 amount between two sqrt prices at the
// given liquidity: liquidity<<96 * (b-a) / b / a.
func Amount0Delta(z *uint256.Int, sqrtRatioAX96, sqrtRatioBX96, liquidity *uint256.Int, roundUp bool) error {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	if sqrtRatioAX96.IsZero() {
		return ErrSqrtPriceZero
	}

	var numerator1, numerator2 uint256.Int
	numerator1.Lsh(liquidity, 96)
	numerator2.Sub(sqrtRatioBX96, sqrtRatioAX96)

	if roundUp {
		var term uint256.Int
		if err := mulDivUp(&term, &numerator1, &numerator2, sqrtRatioBX96); err != nil {
			return err
		}
		divUp(z, &term, sqrtRatioAX96)
		return nil
	}
	if err := mulDiv(z, &numerator1, &numerator2, sqrtRatioBX96); err != nil {
		return err
	}
	z.Div(z, sqrtRatioAX96)
	return nil
}

// Amount1Delta writes the token1 amount between two sqrt prices at the
// given liquidity: liquidity * (b-a) / 2^96.
func Amount1Delta(z *uint256.Int, sqrtRatioAX96, sqrtRatioBX96, liquidity *uint256.Int, roundUp bool) error {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}

	var diff uint256.Int
	diff.Sub(sqrtRatioBX96, sqrtRatioAX96)
	if roundUp {
		return mulDivUp(z, liquidity, &diff, Q96)
	}
	return mulDiv(z, liquidity, &diff, Q96)
}
