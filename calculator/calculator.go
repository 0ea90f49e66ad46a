// Package calculator turns mirrored pool state into swap quotes. One
// dispatching entry point covers the five formula families: constant-product
// clones, concentrated liquidity, solidly-style stable/volatile curves,
// weighted-invariant pools, and venues quoted by executing their own
// bytecode. Every quote is a pure function of the mirror's current
// contents, so a quote is reproducible until the next block diff lands.
package calculator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	engine "github.com/dexmirror/dexmirror-go/engine"
	registry "github.com/dexmirror/dexmirror-go/registry"
	statedb "github.com/dexmirror/dexmirror-go/statedb"
)

var (
	// ErrNonConvergence reports a stable-curve solve that ran out of
	// iterations or hit a flat derivative. The accompanying estimate must
	// not be used as a quote.
	ErrNonConvergence = errors.New("calculator: stable invariant solver did not converge")

	// ErrNoExternalQuoter is returned for external-invariant pools when the
	// calculator was built without an execution adapter.
	ErrNoExternalQuoter = errors.New("calculator: no external quoter configured")

	// ErrPoolState marks mirrored or descriptor state too inconsistent to
	// quote. This is a setup error, not a market condition.
	ErrPoolState = errors.New("calculator: inconsistent pool state")

	// ErrInsufficientLiquidity is returned by exact-output helpers when the
	// pool cannot pay the requested amount at any price.
	ErrInsufficientLiquidity = errors.New("calculator: requested output exceeds reserves")
)

// ExternalQuoter executes pool-side quote functions for venues without a
// closed form. *evmsim.Adapter implements it.
type ExternalQuoter interface {
	CurveGetDY(ctx context.Context, pool common.Address, coinIn, coinOut int64, dx *uint256.Int) (*uint256.Int, error)
	MaverickCalculateSwap(ctx context.Context, pool common.Address, amount *uint256.Int, tokenAIn, exactOutput bool, tickLimit int32) (amountIn, amountOut *uint256.Int, err error)
}

// Config carries the dependencies of a Calculator.
type Config struct {
	// Store is the mirrored state quotes read through. Required.
	Store statedb.Reader

	// Logger is required.
	Logger engine.Logger

	// Registerer receives the calculator's metrics. Optional.
	Registerer prometheus.Registerer

	// External runs quotes for external-invariant pools. Optional; without
	// it those pools return ErrNoExternalQuoter.
	External ExternalQuoter
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("config: Store is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Calculator computes exact-input quotes from mirrored state. It holds no
// per-quote state, so methods are safe for concurrent use.
type Calculator struct {
	store    statedb.Reader
	logger   engine.Logger
	external ExternalQuoter
	metrics  *calcMetrics
}

// New constructs a Calculator from the configuration.
func New(cfg *Config) (*Calculator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Calculator{
		store:    cfg.Store,
		logger:   cfg.Logger,
		external: cfg.External,
		metrics:  newCalcMetrics(cfg.Registerer),
	}, nil
}

// AmountOut computes the output of swapping amountIn of tokenIn against the
// pool.
//
// Domain edges quote as zero output rather than errors: zero input, empty
// reserves or weights, a fee that consumes the whole input. One drained pool
// must never abort a batch of quotes over unrelated pools. Mirror failures
// propagate as errors, and a stable-curve solve that does not converge
// returns ErrNonConvergence rather than a silent zero.
func (c *Calculator) AmountOut(ctx context.Context, pool *registry.Pool, tokenIn common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil descriptor", ErrPoolState)
	}
	_, zeroForOne, err := pool.Other(tokenIn)
	if err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.IsZero() {
		return new(uint256.Int), nil
	}

	c.metrics.incQuote(pool.Protocol)

	var out *uint256.Int
	switch pool.Protocol.Family() {
	case engine.FamilyConstantProduct:
		out, err = c.pairOut(ctx, pool, zeroForOne, amountIn)
	case engine.FamilyConcentrated:
		out, err = c.concentratedOut(ctx, pool, zeroForOne, amountIn)
	case engine.FamilySolidly:
		out, err = c.solidlyOut(ctx, pool, zeroForOne, amountIn)
	case engine.FamilyWeighted:
		out, err = c.weightedOut(ctx, pool, zeroForOne, amountIn)
	case engine.FamilyExternal:
		out, err = c.externalOut(ctx, pool, zeroForOne, amountIn)
	default:
		err = fmt.Errorf("%w: protocol %s has no formula family", ErrPoolState, pool.Protocol)
	}
	if err != nil {
		c.metrics.incQuoteError(pool.Protocol)
		return nil, err
	}
	return out, nil
}

// zeroQuote is the uniform degraded result: operationally indistinguishable
// from a pool with no liquidity.
func zeroQuote() *uint256.Int {
	return new(uint256.Int)
}
