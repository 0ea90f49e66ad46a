package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Protocol identifies the venue a pool belongs to. The tag selects the quote
// formula family and the default fee; per-pool overrides live on the
// registry descriptor.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolUniswapV2
	ProtocolSushiswapV2
	ProtocolPancakeV2
	ProtocolBaseSwapV2
	ProtocolAlienBaseV2
	ProtocolUniswapV3
	ProtocolPancakeV3
	ProtocolSushiswapV3
	ProtocolAerodrome
	ProtocolBalancerWeighted
	ProtocolCurve
	ProtocolMaverick
)

// Family groups protocols that share a quote formula.
type Family uint8

const (
	FamilyUnknown Family = iota
	// FamilyConstantProduct covers x*y=k clones that differ only by fee.
	FamilyConstantProduct
	// FamilyConcentrated covers tick-based concentrated liquidity pools.
	FamilyConcentrated
	// FamilySolidly covers stable/volatile two-curve pools.
	FamilySolidly
	// FamilyWeighted covers weighted-invariant pools.
	FamilyWeighted
	// FamilyExternal covers pools quoted by executing the venue's own
	// contract against mirrored state.
	FamilyExternal
)

var protocolNames = map[Protocol]string{
	ProtocolUnknown:          "unknown",
	ProtocolUniswapV2:        "uniswap_v2",
	ProtocolSushiswapV2:      "sushiswap_v2",
	ProtocolPancakeV2:        "pancakeswap_v2",
	ProtocolBaseSwapV2:       "baseswap_v2",
	ProtocolAlienBaseV2:      "alienbase_v2",
	ProtocolUniswapV3:        "uniswap_v3",
	ProtocolPancakeV3:        "pancakeswap_v3",
	ProtocolSushiswapV3:      "sushiswap_v3",
	ProtocolAerodrome:        "aerodrome",
	ProtocolBalancerWeighted: "balancer_weighted",
	ProtocolCurve:            "curve",
	ProtocolMaverick:         "maverick",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("protocol(%d)", uint8(p))
}

// ParseProtocol maps a config/catalog label back to its tag.
func ParseProtocol(name string) (Protocol, error) {
	for p, n := range protocolNames {
		if n == name {
			return p, nil
		}
	}
	return ProtocolUnknown, fmt.Errorf("engine: unknown protocol %q", name)
}

// Family returns the formula family for the protocol tag.
func (p Protocol) Family() Family {
	switch p {
	case ProtocolUniswapV2, ProtocolSushiswapV2, ProtocolPancakeV2, ProtocolBaseSwapV2, ProtocolAlienBaseV2:
		return FamilyConstantProduct
	case ProtocolUniswapV3, ProtocolPancakeV3, ProtocolSushiswapV3:
		return FamilyConcentrated
	case ProtocolAerodrome:
		return FamilySolidly
	case ProtocolBalancerWeighted:
		return FamilyWeighted
	case ProtocolCurve, ProtocolMaverick:
		return FamilyExternal
	default:
		return FamilyUnknown
	}
}

// StorageDiff maps storage slots to their post-block words.
type StorageDiff map[common.Hash]common.Hash

// AccountDiff describes the state changes of one account. nil pointer and
// nil slice fields mean "unchanged"; an empty Storage map means no slot
// changed. Created and Selfdestructed are only meaningful for execution
// commits, block-diff producers leave them false.
type AccountDiff struct {
	Balance        *uint256.Int
	Nonce          *uint64
	Code           []byte
	Storage        StorageDiff
	Created        bool
	Selfdestructed bool
}

// BlockDiff is the per-block state delta handed to the mirror. Accounts
// outside the tracked set are carried but ignored on apply.
type BlockDiff struct {
	Number   uint64
	Hash     common.Hash
	Accounts map[common.Address]AccountDiff
}

// Logger defines a standard interface for structured, leveled logging.
// Compatible with the standard library's slog and easy to back with zap.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything. Useful as a config default and in tests.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
