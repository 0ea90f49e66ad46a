package calculator

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/dexmirror/dexmirror-go/calculator/v3math"
	engine "github.com/dexmirror/dexmirror-go/engine"
	registry "github.com/dexmirror/dexmirror-go/registry"
)

// Swap price clamps, one word inside each domain edge: a swap may move the
// price up to, but never onto, the tick-math boundary.
var (
	minPriceLimit = new(uint256.Int).AddUint64(v3math.MinSqrtRatio, 1)
	maxPriceLimit = new(uint256.Int).SubUint64(v3math.MaxSqrtRatio, 1)
)

// v3SwapState is the mutable state of one tick-crossing walk, pooled so the
// hot quote path does not allocate per step.
type v3SwapState struct {
	remaining  uint256.Int
	out        uint256.Int
	price      uint256.Int
	priceStart uint256.Int
	ratioNext  uint256.Int
	liquidity  uint256.Int
	consumed   uint256.Int
	step       v3math.StepResult
	tick       int32
}

var v3StatePool = sync.Pool{New: func() any { return new(v3SwapState) }}

func concentratedFeePips(f engine.Fee) (uint64, error) {
	switch f.Kind {
	case engine.FeePips:
		return f.Value, nil
	case engine.FeeBps:
		return f.Value * 100, nil
	default:
		return 0, fmt.Errorf("fee %s has no pips form", f)
	}
}

// concentratedOut walks the pool's initialized ticks in the swap direction,
// consuming input one price range at a time until the input is spent or the
// price hits its clamp. Rounding and crossing order reproduce the on-chain
// pool exactly.
func (c *Calculator) concentratedOut(ctx context.Context, pool *registry.Pool, zeroForOne bool, amountIn *uint256.Int) (*uint256.Int, error) {
	sqrtPrice, tick, err := registry.Slot0(ctx, c.store, pool.Address)
	if err != nil {
		return nil, err
	}
	if sqrtPrice.IsZero() {
		// pool was never initialized
		return zeroQuote(), nil
	}
	if tick < v3math.MinTick || tick > v3math.MaxTick {
		return nil, fmt.Errorf("%w: pool %s at tick %d", ErrPoolState, pool.Address, tick)
	}
	spacing, err := registry.TickSpacing(ctx, c.store, pool.Address)
	if err != nil {
		return nil, err
	}
	if spacing <= 0 {
		return nil, fmt.Errorf("%w: pool %s tick spacing %d", ErrPoolState, pool.Address, spacing)
	}
	liquidity, err := registry.Liquidity(ctx, c.store, pool.Address)
	if err != nil {
		return nil, err
	}
	feePips, err := concentratedFeePips(pool.EffectiveFee())
	if err != nil {
		return nil, fmt.Errorf("%w: pool %s: %v", ErrPoolState, pool.Address, err)
	}

	limit := maxPriceLimit
	if zeroForOne {
		limit = minPriceLimit
	}
	// Price already at or past the clamp: the swap cannot move.
	if zeroForOne && !sqrtPrice.Gt(limit) || !zeroForOne && !sqrtPrice.Lt(limit) {
		return zeroQuote(), nil
	}

	state := v3StatePool.Get().(*v3SwapState)
	defer v3StatePool.Put(state)
	state.remaining.Set(amountIn)
	state.out.Clear()
	state.price.Set(sqrtPrice)
	state.liquidity.Set(liquidity)
	state.tick = tick

	for !state.remaining.IsZero() && !state.price.Eq(limit) {
		state.priceStart.Set(&state.price)

		word, err := registry.TickBitmapWord(ctx, c.store, pool.Address,
			v3math.WordPosition(state.tick, spacing, zeroForOne))
		if err != nil {
			return nil, err
		}
		tickNext, initialized := v3math.NextInitializedTickWithinWord(word, state.tick, spacing, zeroForOne)
		if tickNext < v3math.MinTick {
			tickNext = v3math.MinTick
		} else if tickNext > v3math.MaxTick {
			tickNext = v3math.MaxTick
		}
		if err := v3math.SqrtRatioAtTick(&state.ratioNext, tickNext); err != nil {
			return nil, fmt.Errorf("%w: pool %s: %v", ErrPoolState, pool.Address, err)
		}

		target := &state.ratioNext
		if zeroForOne && state.ratioNext.Lt(limit) || !zeroForOne && state.ratioNext.Gt(limit) {
			target = limit
		}
		if err := v3math.ComputeSwapStep(&state.step, &state.price, target, &state.liquidity, &state.remaining, feePips); err != nil {
			return nil, fmt.Errorf("%w: pool %s: %v", ErrPoolState, pool.Address, err)
		}
		state.price.Set(&state.step.SqrtPriceNextX96)
		state.consumed.Add(&state.step.AmountIn, &state.step.FeeAmount)
		if state.remaining.Lt(&state.consumed) {
			state.remaining.Clear()
		} else {
			state.remaining.Sub(&state.remaining, &state.consumed)
		}
		state.out.Add(&state.out, &state.step.AmountOut)

		if state.price.Eq(&state.ratioNext) {
			// Reaching the boundary exactly crosses the tick.
			if initialized {
				net, err := registry.TickNetLiquidity(ctx, c.store, pool.Address, tickNext)
				if err != nil {
					return nil, err
				}
				if zeroForOne {
					net.Neg(net)
				}
				if err := v3math.AddDelta(&state.liquidity, &state.liquidity, net); err != nil {
					c.logger.Warn("tick crossing broke liquidity bookkeeping",
						"pool", pool.Address,
						"tick", tickNext,
						"err", err,
					)
					return zeroQuote(), nil
				}
			}
			if zeroForOne {
				state.tick = tickNext - 1
			} else {
				state.tick = tickNext
			}
		} else if !state.price.Eq(&state.priceStart) {
			// Stopped between ticks; re-derive the active tick from the
			// price.
			if state.tick, err = v3math.TickAtSqrtRatio(&state.price); err != nil {
				return nil, fmt.Errorf("%w: pool %s: %v", ErrPoolState, pool.Address, err)
			}
		}
	}

	return new(uint256.Int).Set(&state.out), nil
}
