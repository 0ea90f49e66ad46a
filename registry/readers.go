package registry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	statedb "github.com/dexmirror/dexmirror-go/statedb"
)

// Typed reads for the calculators. Everything decodes through the mirror's
// generic slot reads, so quotes always see what the last block diff wrote,
// and a pool nobody seeded still resolves by read-through.

// Reserves reads the packed pair reserves.
func Reserves(ctx context.Context, db statedb.Reader, pool common.Address) (reserve0, reserve1 *uint256.Int, err error) {
	word, err := db.Storage(ctx, pool, SlotOf(pairSlotReserves))
	if err != nil {
		return nil, nil, err
	}
	reserve0, reserve1 = UnpackReserves(word)
	return reserve0, reserve1, nil
}

// PairTokens reads the token slots of a constant-product pair.
func PairTokens(ctx context.Context, db statedb.Reader, pool common.Address) (token0, token1 common.Address, err error) {
	w0, err := db.Storage(ctx, pool, SlotOf(pairSlotToken0))
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	w1, err := db.Storage(ctx, pool, SlotOf(pairSlotToken1))
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return WordAddress(w0), WordAddress(w1), nil
}

// Slot0 reads the active price and tick of a concentrated pool.
func Slot0(ctx context.Context, db statedb.Reader, pool common.Address) (sqrtPriceX96 *uint256.Int, tick int32, err error) {
	word, err := db.Storage(ctx, pool, SlotOf(clSlotSlot0))
	if err != nil {
		return nil, 0, err
	}
	sqrtPriceX96, tick = UnpackSlot0(word)
	return sqrtPriceX96, tick, nil
}

// Liquidity reads the in-range liquidity of a concentrated pool.
func Liquidity(ctx context.Context, db statedb.Reader, pool common.Address) (*uint256.Int, error) {
	word, err := db.Storage(ctx, pool, SlotOf(clSlotLiquidity))
	if err != nil {
		return nil, err
	}
	v := UnpackWord(word)
	return v.And(v, bits128Mask), nil
}

// TickSpacing reads the mirror-parked tick spacing.
func TickSpacing(ctx context.Context, db statedb.Reader, pool common.Address) (int32, error) {
	word, err := db.Storage(ctx, pool, SlotOf(clSlotTickSpacing))
	if err != nil {
		return 0, err
	}
	return int32(UnpackWord(word).Uint64()), nil
}

// TickNetLiquidity reads the signed net liquidity of one tick.
func TickNetLiquidity(ctx context.Context, db statedb.Reader, pool common.Address, tick int32) (*big.Int, error) {
	word, err := db.Storage(ctx, pool, TickSlot(tick))
	if err != nil {
		return nil, err
	}
	return UnpackTickNet(word), nil
}

// TickBitmapWord reads one 256-tick initialization word.
func TickBitmapWord(ctx context.Context, db statedb.Reader, pool common.Address, wordPos int16) (*uint256.Int, error) {
	word, err := db.Storage(ctx, pool, BitmapSlot(wordPos))
	if err != nil {
		return nil, err
	}
	return UnpackWord(word), nil
}

// WeightedPoolState is the mirrored state of a weighted pool.
type WeightedPoolState struct {
	Balance0   *uint256.Int
	Balance1   *uint256.Int
	Weight0    *uint256.Int
	Weight1    *uint256.Int
	SwapFeeWad *uint256.Int
}

// Weighted reads the full weighted-pool state.
func Weighted(ctx context.Context, db statedb.Reader, pool common.Address) (WeightedPoolState, error) {
	var state WeightedPoolState
	read := func(slot uint64, dst **uint256.Int) error {
		word, err := db.Storage(ctx, pool, SlotOf(slot))
		if err != nil {
			return err
		}
		*dst = UnpackWord(word)
		return nil
	}
	if err := read(weightedSlotBalance0, &state.Balance0); err != nil {
		return WeightedPoolState{}, err
	}
	if err := read(weightedSlotBalance1, &state.Balance1); err != nil {
		return WeightedPoolState{}, err
	}
	if err := read(weightedSlotWeight0, &state.Weight0); err != nil {
		return WeightedPoolState{}, err
	}
	if err := read(weightedSlotWeight1, &state.Weight1); err != nil {
		return WeightedPoolState{}, err
	}
	if err := read(weightedSlotSwapFee, &state.SwapFeeWad); err != nil {
		return WeightedPoolState{}, err
	}
	return state, nil
}
