package calculator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/dexmirror/dexmirror-go/engine"
	"github.com/dexmirror/dexmirror-go/evmsim"
	registry "github.com/dexmirror/dexmirror-go/registry"
)

const (
	// tickLimitStep and tickLimitRange bound the swap-limit search for
	// Maverick pools: fifty whole-kilotick steps on either side of the
	// directional default.
	tickLimitStep  = 1000
	tickLimitRange = 50
)

// externalOut quotes protocols whose curve we do not reproduce natively by
// calling their own view functions through the simulator. Simulation
// failures degrade to a zero quote so one broken pool cannot poison a path
// scan; transport and mirror faults still surface as errors.
func (c *Calculator) externalOut(ctx context.Context, pool *registry.Pool, zeroForOne bool, amountIn *uint256.Int) (*uint256.Int, error) {
	if c.external == nil {
		return nil, fmt.Errorf("%w: pool %s", ErrNoExternalQuoter, pool.Address)
	}

	var (
		out *uint256.Int
		err error
	)
	switch pool.Protocol {
	case engine.ProtocolCurve:
		coinIn, coinOut := pool.CoinIndex0, pool.CoinIndex1
		if !zeroForOne {
			coinIn, coinOut = coinOut, coinIn
		}
		out, err = c.external.CurveGetDY(ctx, pool.QuoterAddress(), coinIn, coinOut, amountIn)
	case engine.ProtocolMaverick:
		_, out, err = c.external.MaverickCalculateSwap(ctx, pool.QuoterAddress(), amountIn, zeroForOne, false, evmsim.DefaultTickLimit(zeroForOne))
	default:
		return nil, fmt.Errorf("%w: protocol %s has no external quote path", ErrPoolState, pool.Protocol)
	}
	if err != nil {
		if isSimulationFailure(err) {
			c.logger.Warn("external quote degraded to zero",
				"pool", pool.Address, "protocol", pool.Protocol, "err", err)
			c.metrics.incSimFallback(pool.Protocol)
			return zeroQuote(), nil
		}
		return nil, err
	}
	return out, nil
}

// isSimulationFailure reports whether err is a contract-level failure
// (revert, halt, undecodable returndata) rather than an infrastructure
// fault. Transport failures keep their error character: a canceled context
// or an unreachable mirror must not read as "this pool pays zero".
func isSimulationFailure(err error) bool {
	var simErr *evmsim.SimulationError
	if errors.As(err, &simErr) {
		return simErr.Kind != evmsim.FailureTransport
	}
	return errors.Is(err, evmsim.ErrDecode)
}

// MaverickBestTickLimit scans candidate swap limits around the directional
// default and returns the one producing the largest exact-in output. Pools
// with sparse bin liquidity can fill more of a trade under a tighter limit,
// so the default is not always optimal. Candidates whose simulation fails
// are skipped; if every candidate fails the default limit is returned.
func (c *Calculator) MaverickBestTickLimit(ctx context.Context, pool *registry.Pool, tokenIn common.Address, amountIn *uint256.Int) (int32, error) {
	if c.external == nil {
		return 0, fmt.Errorf("%w: pool %s", ErrNoExternalQuoter, pool.Address)
	}
	if pool.Protocol != engine.ProtocolMaverick {
		return 0, fmt.Errorf("%w: protocol %s has no swap limit", ErrPoolState, pool.Protocol)
	}
	_, zeroForOne, err := pool.Other(tokenIn)
	if err != nil {
		return 0, err
	}

	base := evmsim.DefaultTickLimit(zeroForOne)
	best := base
	bestOut := uint256.NewInt(0)
	for step := -tickLimitRange; step <= tickLimitRange; step++ {
		candidate := clampTickLimit(int64(base) + int64(step)*tickLimitStep)
		_, out, err := c.external.MaverickCalculateSwap(ctx, pool.QuoterAddress(), amountIn, zeroForOne, false, candidate)
		if err != nil {
			if isSimulationFailure(err) {
				continue
			}
			return 0, err
		}
		if out.Gt(bestOut) {
			best, bestOut = candidate, out
		}
	}
	return best, nil
}

func clampTickLimit(v int64) int32 {
	const bound = 887272
	if v < -bound {
		return -bound
	}
	if v > bound {
		return bound
	}
	return int32(v)
}
