package evmsim

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// quoteABIJSON covers the two pool-side quote functions executed against the
// mirror: stableswap get_dy and the Maverick swap calculator.
const quoteABIJSON = `[
  {
    "inputs": [
      {"internalType": "uint256", "name": "i", "type": "uint256"},
      {"internalType": "uint256", "name": "j", "type": "uint256"},
      {"internalType": "uint256", "name": "dx", "type": "uint256"}
    ],
    "name": "get_dy",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint128", "name": "amount", "type": "uint128"},
      {"internalType": "bool", "name": "tokenAIn", "type": "bool"},
      {"internalType": "bool", "name": "exactOutput", "type": "bool"},
      {"internalType": "int32", "name": "tickLimit", "type": "int32"}
    ],
    "name": "calculateSwap",
    "outputs": [
      {"internalType": "uint256", "name": "amountIn", "type": "uint256"},
      {"internalType": "uint256", "name": "amountOut", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	quoteABIValue abi.ABI
	quoteABIOnce  sync.Once
	quoteABIErr   error
)

func quoteABI() (abi.ABI, error) {
	quoteABIOnce.Do(func() {
		quoteABIValue, quoteABIErr = abi.JSON(strings.NewReader(quoteABIJSON))
	})
	return quoteABIValue, quoteABIErr
}

var maxUint128 = uint256.MustFromHex("0xffffffffffffffffffffffffffffffff")

// DefaultTickLimit is the widest Maverick price limit for a swap direction:
// the swap may move the price all the way to the edge of the tick domain.
func DefaultTickLimit(tokenAIn bool) int32 {
	if tokenAIn {
		return -887272
	}
	return 887272
}

// CurveGetDY quotes a stableswap pool by executing its own get_dy against
// the mirror. coinIn and coinOut are the pool's coin indexes.
func (a *Adapter) CurveGetDY(ctx context.Context, pool common.Address, coinIn, coinOut int64, dx *uint256.Int) (*uint256.Int, error) {
	qabi, err := quoteABI()
	if err != nil {
		return nil, fmt.Errorf("evmsim: quote abi: %w", err)
	}
	input, err := qabi.Pack("get_dy", big.NewInt(coinIn), big.NewInt(coinOut), dx.ToBig())
	if err != nil {
		return nil, fmt.Errorf("evmsim: pack get_dy: %w", err)
	}
	out, err := a.StaticCall(ctx, pool, input)
	if err != nil {
		return nil, err
	}
	values, err := qabi.Unpack("get_dy", out)
	if err != nil {
		return nil, fmt.Errorf("%w: get_dy: %v", ErrDecode, err)
	}
	return wordFromUnpacked(values, 0, "get_dy")
}

// MaverickCalculateSwap executes a Maverick pool's own swap calculator.
// amount is the exact input, or the exact output when exactOutput is set;
// amounts beyond 128 bits saturate to match the argument width. The returned
// pair is the amount the pool would consume and the amount it would pay out.
func (a *Adapter) MaverickCalculateSwap(ctx context.Context, pool common.Address, amount *uint256.Int, tokenAIn, exactOutput bool, tickLimit int32) (amountIn, amountOut *uint256.Int, err error) {
	qabi, err := quoteABI()
	if err != nil {
		return nil, nil, fmt.Errorf("evmsim: quote abi: %w", err)
	}
	arg := amount
	if amount.Gt(maxUint128) {
		a.logger.Warn("maverick amount exceeds 128 bits, saturating",
			"pool", pool,
			"amount", amount.Dec(),
		)
		arg = maxUint128
	}
	input, err := qabi.Pack("calculateSwap", arg.ToBig(), tokenAIn, exactOutput, tickLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("evmsim: pack calculateSwap: %w", err)
	}
	out, err := a.StaticCall(ctx, pool, input)
	if err != nil {
		return nil, nil, err
	}
	values, err := qabi.Unpack("calculateSwap", out)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: calculateSwap: %v", ErrDecode, err)
	}
	if amountIn, err = wordFromUnpacked(values, 0, "calculateSwap"); err != nil {
		return nil, nil, err
	}
	if amountOut, err = wordFromUnpacked(values, 1, "calculateSwap"); err != nil {
		return nil, nil, err
	}
	return amountIn, amountOut, nil
}

func wordFromUnpacked(values []any, idx int, method string) (*uint256.Int, error) {
	if idx >= len(values) {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrDecode, method, len(values))
	}
	word, ok := values[idx].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s value %d is %T", ErrDecode, method, idx, values[idx])
	}
	v, overflow := uint256.FromBig(word)
	if overflow {
		return nil, fmt.Errorf("%w: %s value %d exceeds 256 bits", ErrDecode, method, idx)
	}
	return v, nil
}
