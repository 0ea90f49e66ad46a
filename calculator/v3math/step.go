package v3math

import "github.com/holiman/uint256"

// FeeDenominator is the unit of pool fees, in hundredths of a bip.
const FeeDenominator = uint64(1_000_000)

// StepResult holds the outcome of one swap step: the price reached, the
// input consumed, the output produced and the fee charged on the input.
type StepResult struct {
	SqrtPriceNextX96 uint256.Int
	AmountIn         uint256.Int
	AmountOut        uint256.Int
	FeeAmount        uint256.Int
}

var feeDenominator = uint256.NewInt(FeeDenominator)

// ComputeSwapStep advances an exact-input swap within a single tick range.
// It moves the price from current toward target, stopping early when the
// remaining input runs out, and accounts the amounts for exactly the price
// movement that happened. Rounding always favors the pool.
func ComputeSwapStep(res *StepResult, sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining *uint256.Int, feePips uint64) error {
	zeroForOne := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0

	res.AmountIn.Clear()
	res.AmountOut.Clear()
	res.FeeAmount.Clear()

	var feeMul, remainingLessFee uint256.Int
	feeMul.SetUint64(FeeDenominator - feePips)
	if err := mulDiv(&remainingLessFee, amountRemaining, &feeMul, feeDenominator); err != nil {
		return err
	}

	var err error
	if zeroForOne {
		err = Amount0Delta(&res.AmountIn, sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
	} else {
		err = Amount1Delta(&res.AmountIn, sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
	}
	if err != nil {
		return err
	}

	if remainingLessFee.Cmp(&res.AmountIn) >= 0 {
		res.SqrtPriceNextX96.Set(sqrtRatioTargetX96)
	} else {
		if err := NextSqrtPriceFromInput(&res.SqrtPriceNextX96, sqrtRatioCurrentX96, liquidity, &remainingLessFee, zeroForOne); err != nil {
			return err
		}
	}

	reachedTarget := sqrtRatioTargetX96.Eq(&res.SqrtPriceNextX96)

	// Re-derive the amounts from the actual price movement. The input
	// side is already exact when the target was reached.
	if zeroForOne {
		if !reachedTarget {
			if err := Amount0Delta(&res.AmountIn, &res.SqrtPriceNextX96, sqrtRatioCurrentX96, liquidity, true); err != nil {
				return err
			}
		}
		if err := Amount1Delta(&res.AmountOut, &res.SqrtPriceNextX96, sqrtRatioCurrentX96, liquidity, false); err != nil {
			return err
		}
	} else {
		if !reachedTarget {
			if err := Amount1Delta(&res.AmountIn, sqrtRatioCurrentX96, &res.SqrtPriceNextX96, liquidity, true); err != nil {
				return err
			}
		}
		if err := Amount0Delta(&res.AmountOut, sqrtRatioCurrentX96, &res.SqrtPriceNextX96, liquidity, false); err != nil {
			return err
		}
	}

	if !reachedTarget {
		// The price stopped inside the range, so whatever input the
		// movement did not consume is the fee.
		res.FeeAmount.Sub(amountRemaining, &res.AmountIn)
	} else {
		if err := mulDivUp(&res.FeeAmount, &res.AmountIn, uint256.NewInt(feePips), &feeMul); err != nil {
			return err
		}
	}
	return nil
}
