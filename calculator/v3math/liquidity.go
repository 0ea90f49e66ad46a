package v3math

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	maxUint128 = uint256.MustFromHex("0xffffffffffffffffffffffffffffffff")

	ErrLiquidityOverflow  = errors.New("v3math: liquidity overflow")
	ErrLiquidityUnderflow = errors.New("v3math: liquidity underflow")
)

// AddDelta writes x adjusted by the signed liquidity delta into z, keeping
// the result within the 128 bits a pool's liquidity occupies.
func AddDelta(z, x *uint256.Int, delta *big.Int) error {
	if delta.Sign() < 0 {
		d, overflow := uint256.FromBig(new(big.Int).Neg(delta))
		if overflow || x.Lt(d) {
			return ErrLiquidityUnderflow
		}
		z.Sub(x, d)
		return nil
	}

	d, overflow := uint256.FromBig(delta)
	if overflow {
		return ErrLiquidityOverflow
	}
	if _, carry := z.AddOverflow(x, d); carry || z.Gt(maxUint128) {
		return ErrLiquidityOverflow
	}
	return nil
}
