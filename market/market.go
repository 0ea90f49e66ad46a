// Package market ties the mirror, the pool registry, the calculator and the
// quote cache into one block-synchronous quote surface: quotes and path
// scans on the read side, block-diff ingestion with cache invalidation on
// the write side.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc/pool"

	"github.com/dexmirror/dexmirror-go/calculator"
	"github.com/dexmirror/dexmirror-go/engine"
	"github.com/dexmirror/dexmirror-go/evmsim"
	"github.com/dexmirror/dexmirror-go/registry"
	"github.com/dexmirror/dexmirror-go/statedb"
)

var (
	ErrEmptyPath  = errors.New("market: path has no hops")
	ErrBrokenPath = errors.New("market: hop tokens do not chain")
)

// DefaultInputStep is the grid spacing of BestInput when the caller does
// not provide one.
var DefaultInputStep = uint256.NewInt(200_000_000_000_000)

// bestInputSteps bounds the input grid scan.
const bestInputSteps = 50

const defaultWarmupWorkers = 8

// callerEndowment is the balance the warmup fabricates for the synthetic
// caller so engines that debit gas never see an empty account.
var callerEndowment = uint256.MustFromDecimal("1000000000000000000000000")

// Hop is one leg of a quote path: which pool to trade through and which of
// its tokens goes in.
type Hop struct {
	Pool    common.Address
	TokenIn common.Address
}

// Config carries the dependencies of a Market.
type Config struct {
	// Store is the state mirror. Required.
	Store *statedb.Store

	// Registry resolves pool addresses to descriptors. Required.
	Registry *registry.Registry

	// Calculator produces the actual quotes. Required.
	Calculator *calculator.Calculator

	// Cache memoizes quotes between blocks. Optional; nil disables
	// memoization.
	Cache *calculator.QuoteCache

	// Logger is required.
	Logger engine.Logger

	// Registerer receives the market's metrics. Optional.
	Registerer prometheus.Registerer

	// Caller is the synthetic account warmup endows. Defaults to the
	// simulator's caller.
	Caller common.Address

	// WarmupWorkers bounds the prefetch concurrency. Defaults to 8.
	WarmupWorkers int
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("config: Store is required")
	}
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	if c.Calculator == nil {
		return errors.New("config: Calculator is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Market is the orchestrated quote surface. Safe for concurrent use: reads
// ride the store's RLock and the cache's shard locks, block ingestion takes
// the write side.
type Market struct {
	store    *statedb.Store
	registry *registry.Registry
	calc     *calculator.Calculator
	cache    *calculator.QuoteCache
	logger   engine.Logger
	metrics  *marketMetrics

	caller        common.Address
	warmupWorkers int
}

// New constructs a Market from the configuration.
func New(cfg *Config) (*Market, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	caller := cfg.Caller
	if caller == (common.Address{}) {
		caller = evmsim.DefaultCaller
	}
	workers := cfg.WarmupWorkers
	if workers <= 0 {
		workers = defaultWarmupWorkers
	}
	return &Market{
		store:         cfg.Store,
		registry:      cfg.Registry,
		calc:          cfg.Calculator,
		cache:         cfg.Cache,
		logger:        cfg.Logger,
		metrics:       newMarketMetrics(cfg.Registerer),
		caller:        caller,
		warmupWorkers: workers,
	}, nil
}

// Quote prices a single swap through one registered pool, serving repeat
// amounts from the cache until a block diff touches the pool.
func (m *Market) Quote(ctx context.Context, pool common.Address, tokenIn common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	desc, err := m.registry.Get(pool)
	if err != nil {
		return nil, err
	}
	_, zeroForOne, err := desc.Other(tokenIn)
	if err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.IsZero() {
		return new(uint256.Int), nil
	}

	if m.cache != nil {
		if hit := m.cache.Get(pool, zeroForOne, amountIn); hit != nil {
			return hit, nil
		}
	}
	out, err := m.calc.AmountOut(ctx, desc, tokenIn, amountIn)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.Put(pool, zeroForOne, amountIn, out)
	}
	return out, nil
}

// QuotePath prices a multi-hop path and returns the output of every hop,
// the final amount last. Consecutive hops must chain: each hop has to pay
// in the token the previous hop paid out.
func (m *Market) QuotePath(ctx context.Context, path []Hop, amountIn *uint256.Int) ([]*uint256.Int, error) {
	if len(path) == 0 {
		return nil, ErrEmptyPath
	}
	m.metrics.pathQuotes.Inc()

	outs := make([]*uint256.Int, 0, len(path))
	amount := amountIn
	var next common.Address
	for i, hop := range path {
		desc, err := m.registry.Get(hop.Pool)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		if i > 0 && hop.TokenIn != next {
			return nil, fmt.Errorf("%w: hop %d pays in %s, previous hop paid out %s", ErrBrokenPath, i, hop.TokenIn, next)
		}
		other, _, err := desc.Other(hop.TokenIn)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}

		out, err := m.Quote(ctx, hop.Pool, hop.TokenIn, amount)
		if err != nil {
			return nil, fmt.Errorf("hop %d (%s): %w", i, hop.Pool, err)
		}
		outs = append(outs, out)
		amount = out
		next = other
	}
	return outs, nil
}

// BestInput walks a fixed grid of input amounts above start and returns the
// input maximizing the path's final output, with the output it achieves.
// The scan assumes a cyclic path (it only accepts candidates whose output
// exceeds their input) and stops at the first candidate that is no
// improvement, or at the first failing quote. step defaults to
// DefaultInputStep.
func (m *Market) BestInput(ctx context.Context, path []Hop, start, step *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if step == nil || step.IsZero() {
		step = DefaultInputStep
	}
	m.metrics.inputScans.Inc()

	outs, err := m.QuotePath(ctx, path, start)
	if err != nil {
		return nil, nil, err
	}
	bestIn := new(uint256.Int).Set(start)
	bestOut := outs[len(outs)-1]

	current := new(uint256.Int).Set(start)
	for i := 0; i < bestInputSteps; i++ {
		current.Add(current, step)

		outs, err := m.QuotePath(ctx, path, current)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			m.logger.Debug("input scan stopped on failing quote", "step", i, "err", err)
			break
		}
		out := outs[len(outs)-1]
		if !out.Gt(current) || !out.Gt(bestOut) {
			break
		}
		bestIn.Set(current)
		bestOut = out
	}
	return bestIn, bestOut, nil
}

// ApplyBlockDiff feeds one block's state changes to the mirror and drops
// every cached quote of the touched pools. Invalidation completes before
// the call returns, so a quote issued afterwards can only be served from
// post-block state.
func (m *Market) ApplyBlockDiff(diff *engine.BlockDiff) ([]common.Address, error) {
	started := time.Now()
	touched, err := m.store.ApplyBlockDiff(diff)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		for _, addr := range touched {
			m.cache.InvalidatePool(addr)
		}
	}
	m.metrics.blocksApplied.Inc()
	m.metrics.touchedPools.Observe(float64(len(touched)))
	m.logger.Debug("block diff applied",
		"block", diff.Number, "touched", len(touched), "elapsed", time.Since(started))
	return touched, nil
}

// Warmup prefetches every registered pool's account into the mirror,
// resolves external quoter accounts so their bytecode is local before the
// first simulated call, and endows the synthetic caller. Pool storage needs
// no prefetch, registration already seeded it.
func (m *Market) Warmup(ctx context.Context) error {
	started := time.Now()

	if !m.store.HasAccount(m.caller) {
		var info statedb.AccountInfo
		info.Balance = *callerEndowment
		m.store.InsertAccountInfo(m.caller, info)
	}

	addrs := m.registry.Addresses()
	workers := pool.New().WithErrors().WithMaxGoroutines(m.warmupWorkers)
	for _, addr := range addrs {
		workers.Go(func() error {
			if _, err := m.store.Account(ctx, addr); err != nil {
				return fmt.Errorf("pool %s: %w", addr, err)
			}
			desc, err := m.registry.Get(addr)
			if err != nil {
				return err
			}
			if desc.Protocol.Family() != engine.FamilyExternal {
				return nil
			}
			if quoter := desc.QuoterAddress(); quoter != addr {
				if _, err := m.store.Account(ctx, quoter); err != nil {
					return fmt.Errorf("quoter %s: %w", quoter, err)
				}
			}
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return err
	}
	m.logger.Info("mirror warmed", "pools", len(addrs), "elapsed", time.Since(started))
	return nil
}

// InvalidateAll drops the whole quote cache, for resyncs and reorg
// recovery.
func (m *Market) InvalidateAll() {
	if m.cache != nil {
		m.cache.InvalidateAll()
	}
}
