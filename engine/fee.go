package engine

import (
	"errors"
	"fmt"
)

// FeeKind distinguishes the unit a venue expresses its swap fee in. Mixing
// the units up is a classic source of silently wrong quotes, so the unit
// travels with the value.
type FeeKind uint8

const (
	// FeeNone marks venues whose fee is internal to their own quote logic.
	FeeNone FeeKind = iota
	// FeeBps is a fraction of 10_000 (constant-product and solidly clones).
	FeeBps
	// FeePips is a fraction of 1_000_000 (concentrated-liquidity pools).
	FeePips
	// FeeWad is a 1e18-scaled fraction (weighted pools).
	FeeWad
)

const (
	bpsDenominator  = 10_000
	pipsDenominator = 1_000_000
	wadDenominator  = 1_000_000_000_000_000_000
)

var ErrFeeOutOfRange = errors.New("engine: fee exceeds its denominator")

// Fee is a protocol-tagged swap fee.
type Fee struct {
	Kind  FeeKind
	Value uint64
}

func NewBpsFee(v uint64) Fee  { return Fee{Kind: FeeBps, Value: v} }
func NewPipsFee(v uint64) Fee { return Fee{Kind: FeePips, Value: v} }
func NewWadFee(v uint64) Fee  { return Fee{Kind: FeeWad, Value: v} }

// Validate rejects fees at or above 100%.
func (f Fee) Validate() error {
	var denom uint64
	switch f.Kind {
	case FeeNone:
		if f.Value != 0 {
			return fmt.Errorf("%w: none-kind fee carries value %d", ErrFeeOutOfRange, f.Value)
		}
		return nil
	case FeeBps:
		denom = bpsDenominator
	case FeePips:
		denom = pipsDenominator
	case FeeWad:
		denom = wadDenominator
	default:
		return fmt.Errorf("engine: unknown fee kind %d", f.Kind)
	}
	if f.Value >= denom {
		return fmt.Errorf("%w: %d/%d", ErrFeeOutOfRange, f.Value, denom)
	}
	return nil
}

// BpsMultiplier returns 10000-bps, the classic getAmountOut multiplier
// (9970 for the 0.30% family, 9975 for 0.25%, 9984 for 0.16%).
func (f Fee) BpsMultiplier() (uint64, error) {
	if f.Kind != FeeBps {
		return 0, fmt.Errorf("engine: bps multiplier requested for fee kind %d", f.Kind)
	}
	if f.Value >= bpsDenominator {
		return 0, fmt.Errorf("%w: %d bps", ErrFeeOutOfRange, f.Value)
	}
	return bpsDenominator - f.Value, nil
}

func (f Fee) String() string {
	switch f.Kind {
	case FeeNone:
		return "none"
	case FeeBps:
		return fmt.Sprintf("%dbps", f.Value)
	case FeePips:
		return fmt.Sprintf("%dpips", f.Value)
	case FeeWad:
		return fmt.Sprintf("%dwad", f.Value)
	default:
		return fmt.Sprintf("fee(%d,%d)", f.Kind, f.Value)
	}
}

// DefaultFee returns the canonical fee for venues whose clones all charge
// the same rate. Pools that deviate override it on their descriptor.
func DefaultFee(p Protocol) Fee {
	switch p {
	case ProtocolUniswapV2, ProtocolSushiswapV2:
		return NewBpsFee(30)
	case ProtocolPancakeV2, ProtocolBaseSwapV2:
		return NewBpsFee(25)
	case ProtocolAlienBaseV2:
		return NewBpsFee(16)
	case ProtocolUniswapV3, ProtocolPancakeV3, ProtocolSushiswapV3:
		return NewPipsFee(3000)
	case ProtocolAerodrome:
		return NewBpsFee(5)
	case ProtocolBalancerWeighted:
		return NewWadFee(3_000_000_000_000_000) // 0.3%
	default:
		return Fee{Kind: FeeNone}
	}
}
