package calculator

import (
	"context"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/dexmirror/dexmirror-go/calculator/fixedpoint"
	registry "github.com/dexmirror/dexmirror-go/registry"
)

// weightedOut quotes a two-token weighted pool. The swap fee comes off the
// native-decimals input first, then balances and input are upscaled to
// 18-decimal fixed point for the power-function invariant and the result is
// floored back down to the output token's decimals.
func (c *Calculator) weightedOut(ctx context.Context, pool *registry.Pool, zeroForOne bool, amountIn *uint256.Int) (*uint256.Int, error) {
	state, err := registry.Weighted(ctx, c.store, pool.Address)
	if err != nil {
		return nil, err
	}

	balanceIn, weightIn := state.Balance0, state.Weight0
	balanceOut, weightOut := state.Balance1, state.Weight1
	decIn, decOut := pool.Decimals0, pool.Decimals1
	if !zeroForOne {
		balanceIn, weightIn = state.Balance1, state.Weight1
		balanceOut, weightOut = state.Balance0, state.Weight0
		decIn, decOut = pool.Decimals1, pool.Decimals0
	}
	if balanceIn.IsZero() || balanceOut.IsZero() || weightIn.IsZero() || weightOut.IsZero() {
		return zeroQuote(), nil
	}

	in := subtractWadFee(amountIn.ToBig(), state.SwapFeeWad.ToBig())
	if in.Sign() == 0 {
		return zeroQuote(), nil
	}

	out, err := weightedOutGivenIn(
		upscale18(balanceIn.ToBig(), decIn),
		weightIn.ToBig(),
		upscale18(balanceOut.ToBig(), decOut),
		weightOut.ToBig(),
		upscale18(in, decIn),
	)
	if err != nil {
		// Out-of-domain exponent or balance ratio; the pool cannot fill this
		// trade, not a mirror fault.
		c.logger.Debug("weighted invariant rejected trade", "pool", pool.Address, "err", err)
		return zeroQuote(), nil
	}

	quote, overflow := uint256.FromBig(downscaleDown18(out, decOut))
	if overflow {
		return zeroQuote(), nil
	}
	return quote, nil
}

// weightedOutGivenIn solves the weighted constant-value invariant for the
// output amount:
//
//	out = balanceOut * (1 - (balanceIn / (balanceIn + in))^(weightIn / weightOut))
//
// Rounding always favors the pool: the base ratio rounds up, the power rounds
// up, the final product rounds down.
func weightedOutGivenIn(balanceIn, weightIn, balanceOut, weightOut, in *big.Int) (*big.Int, error) {
	denominator := new(big.Int).Add(balanceIn, in)
	base, err := fixedpoint.DivUp(balanceIn, denominator)
	if err != nil {
		return nil, err
	}
	exponent, err := fixedpoint.DivDown(weightIn, weightOut)
	if err != nil {
		return nil, err
	}
	power, err := fixedpoint.PowUp(base, exponent)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDown(balanceOut, fixedpoint.Complement(power)), nil
}

// subtractWadFee removes a 1e18-scaled fee fraction from amount, rounding the
// fee against the trader.
func subtractWadFee(amount, feeWad *big.Int) *big.Int {
	fee := fixedpoint.MulUp(amount, feeWad)
	out := new(big.Int).Sub(amount, fee)
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

// upscale18 brings a native-decimals amount to 18-decimal fixed point.
// Tokens above 18 decimals scale down with truncation.
func upscale18(v *big.Int, decimals uint8) *big.Int {
	if decimals == 18 {
		return new(big.Int).Set(v)
	}
	if decimals < 18 {
		return new(big.Int).Mul(v, pow10(18-decimals))
	}
	return new(big.Int).Quo(v, pow10(decimals-18))
}

// downscaleDown18 floors an 18-decimal amount back to native decimals.
func downscaleDown18(v *big.Int, decimals uint8) *big.Int {
	if decimals == 18 {
		return v
	}
	if decimals < 18 {
		return new(big.Int).Quo(v, pow10(18-decimals))
	}
	return new(big.Int).Mul(v, pow10(decimals-18))
}
