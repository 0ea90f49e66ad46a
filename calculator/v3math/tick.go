// Package v3math implements the fixed-point price math of tick-based
// concentrated-liquidity pools: tick to sqrt-price conversion, price
// transitions for a swap amount, per-step amount accounting and the
// within-word bitmap search. All arithmetic is 256-bit with 512-bit
// intermediates where products can exceed a word.
package v3math

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	// MinTick and MaxTick bound the prices a pool can represent.
	MinTick = int32(-887272)
	MaxTick = int32(887272)
)

var (
	// MinSqrtRatio is the Q64.96 sqrt price at MinTick.
	MinSqrtRatio = uint256.NewInt(4295128739)
	// MaxSqrtRatio is the Q64.96 sqrt price at MaxTick.
	MaxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")

	ErrTickRange      = errors.New("v3math: tick out of range")
	ErrSqrtPriceRange = errors.New("v3math: sqrt price out of range")

	one        = uint256.NewInt(1)
	maskLow32  = uint256.NewInt(0xffffffff)
	maxUint256 = new(uint256.Int).Not(new(uint256.Int))

	// q128One is 1 in UQ128.128, the working format of the ladder below.
	q128One = uint256.MustFromHex("0x100000000000000000000000000000000")

	// ratioLadder[i] is sqrt(1.0001^-(2^i)) in UQ128.128. Multiplying the
	// entries selected by the bits of |tick| yields sqrt(1.0001^-|tick|).
	ratioLadder = [20]*uint256.Int{
		uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}
)

// SqrtRatioAtTick writes sqrt(1.0001^tick) * 2^96 into z.
func SqrtRatioAtTick(z *uint256.Int, tick int32) error {
	if tick < MinTick || tick > MaxTick {
		return ErrTickRange
	}

	abs := uint32(tick)
	if tick < 0 {
		abs = uint32(-tick)
	}

	if abs&1 != 0 {
		z.Set(ratioLadder[0])
	} else {
		z.Set(q128One)
	}
	for i := 1; i < len(ratioLadder); i++ {
		if abs&(1<<uint(i)) != 0 {
			z.Mul(z, ratioLadder[i])
			z.Rsh(z, 128)
		}
	}

	if tick > 0 {
		z.Div(maxUint256, z)
	}

	// Round the UQ128.128 up into Q64.96.
	var rem uint256.Int
	rem.And(z, maskLow32)
	z.Rsh(z, 32)
	if !rem.IsZero() {
		z.AddUint64(z, 1)
	}
	return nil
}

// TickAtSqrtRatio returns the greatest tick whose sqrt price is at most
// sqrtPriceX96. It binary-searches the tick range, which is exact and
// keeps the inverse property against SqrtRatioAtTick by construction.
func TickAtSqrtRatio(sqrtPriceX96 *uint256.Int) (int32, error) {
	if sqrtPriceX96.Lt(MinSqrtRatio) || !sqrtPriceX96.Lt(MaxSqrtRatio) {
		return 0, ErrSqrtPriceRange
	}

	low, high := MinTick, MaxTick
	var tick int32
	var ratio uint256.Int
	for low <= high {
		mid := (low + high) / 2
		if err := SqrtRatioAtTick(&ratio, mid); err != nil {
			return 0, err
		}
		if ratio.Cmp(sqrtPriceX96) <= 0 {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return tick, nil
}
