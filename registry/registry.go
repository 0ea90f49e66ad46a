// Package registry tracks the pool descriptors the quote core serves and
// seeds the state mirror with each pool's storage encoding, so that generic
// slot reads reproduce protocol-correct values from the first quote on.
package registry

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	engine "github.com/dexmirror/dexmirror-go/engine"
	statedb "github.com/dexmirror/dexmirror-go/statedb"
)

var (
	ErrPoolExists      = errors.New("registry: pool already inserted")
	ErrPoolUnknown     = errors.New("registry: pool not found")
	ErrInvalidPool     = errors.New("registry: invalid pool descriptor")
	ErrTokenMismatch   = errors.New("registry: token not in pool")
	ErrUnknownProtocol = errors.New("registry: protocol has no formula family")
)

// TickLevel is one initialized tick of a concentrated pool.
type TickLevel struct {
	Index        int32
	LiquidityNet *big.Int
}

// Pool describes one tracked pool. Only the fields of its protocol family
// need to be set; Insert validates and seeds accordingly.
type Pool struct {
	Address  common.Address
	Protocol engine.Protocol
	Token0   common.Address
	Token1   common.Address

	Decimals0 uint8
	Decimals1 uint8

	// Fee overrides the protocol default when non-zero-kind.
	Fee engine.Fee

	// Constant-product and solidly state.
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
	Stable   bool

	// Concentrated-liquidity state.
	SqrtPriceX96 *uint256.Int
	Tick         int32
	TickSpacing  int32
	Liquidity    *uint256.Int
	Ticks        []TickLevel
	TickBitmap   map[int16]*uint256.Int

	// Weighted state, 1e18-scaled weights and fee.
	Balance0   *uint256.Int
	Balance1   *uint256.Int
	Weight0    *uint256.Int
	Weight1    *uint256.Int
	SwapFeeWad *uint256.Int

	// External-invariant coordinates. Quoter defaults to the pool itself.
	Quoter     common.Address
	CoinIndex0 int64
	CoinIndex1 int64
}

// EffectiveFee resolves the pool's fee, falling back to the protocol
// default.
func (p *Pool) EffectiveFee() engine.Fee {
	if p.Fee.Kind != engine.FeeNone || p.Fee.Value != 0 {
		return p.Fee
	}
	return engine.DefaultFee(p.Protocol)
}

// QuoterAddress resolves the contract an external-invariant quote runs
// against.
func (p *Pool) QuoterAddress() common.Address {
	if p.Quoter != (common.Address{}) {
		return p.Quoter
	}
	return p.Address
}

// Other returns the counterpart token, and whether tokenIn is token0.
func (p *Pool) Other(tokenIn common.Address) (common.Address, bool, error) {
	switch tokenIn {
	case p.Token0:
		return p.Token1, true, nil
	case p.Token1:
		return p.Token0, false, nil
	default:
		return common.Address{}, false, fmt.Errorf("%w: %s in pool %s", ErrTokenMismatch, tokenIn, p.Address)
	}
}

func (p *Pool) validate() error {
	if p.Address == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidPool)
	}
	if p.Token0 == (common.Address{}) || p.Token1 == (common.Address{}) {
		return fmt.Errorf("%w: %s has a zero token", ErrInvalidPool, p.Address)
	}
	if p.Token0 == p.Token1 {
		return fmt.Errorf("%w: %s pairs a token with itself", ErrInvalidPool, p.Address)
	}
	if p.Protocol.Family() == engine.FamilyUnknown {
		return fmt.Errorf("%w: %s", ErrUnknownProtocol, p.Protocol)
	}
	if err := p.EffectiveFee().Validate(); err != nil {
		return fmt.Errorf("%w: pool %s: %v", ErrInvalidPool, p.Address, err)
	}
	if p.Protocol.Family() == engine.FamilyConcentrated && p.TickSpacing <= 0 {
		return fmt.Errorf("%w: %s needs a positive tick spacing", ErrInvalidPool, p.Address)
	}
	if p.Protocol.Family() == engine.FamilyWeighted {
		if p.Weight0 == nil || p.Weight1 == nil || p.Weight0.IsZero() || p.Weight1.IsZero() {
			return fmt.Errorf("%w: %s needs non-zero weights", ErrInvalidPool, p.Address)
		}
	}
	return nil
}

// Config carries the dependencies of a Registry.
type Config struct {
	// Store is the mirror the registry seeds and tracks pools in. Required.
	Store *statedb.Store

	// Logger is required.
	Logger engine.Logger

	// Registerer receives the registry's metrics. Optional.
	Registerer prometheus.Registerer
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

// Registry is the address-keyed descriptor set.
type Registry struct {
	mu         sync.RWMutex
	pools      map[common.Address]*Pool
	byProtocol map[engine.Protocol][]common.Address

	store     *statedb.Store
	logger    engine.Logger
	poolGauge *prometheus.GaugeVec
}

// New constructs a Registry from the configuration.
func New(cfg *Config) (*Registry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	poolGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dexmirror", Subsystem: "registry",
		Name: "pools",
		Help: "Registered pools by protocol.",
	}, []string{"protocol"})
	if cfg.Registerer != nil {
		cfg.Registerer.MustRegister(poolGauge)
	}
	return &Registry{
		pools:      make(map[common.Address]*Pool),
		byProtocol: make(map[engine.Protocol][]common.Address),
		store:      cfg.Store,
		logger:     cfg.Logger,
		poolGauge:  poolGauge,
	}, nil
}

// Insert validates the descriptor, seeds the mirror with the pool's storage
// encoding and marks the address tracked. Inserting the same address twice
// is an error.
func (r *Registry) Insert(pool *Pool) error {
	if err := pool.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.pools[pool.Address]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPoolExists, pool.Address)
	}
	r.pools[pool.Address] = pool
	r.byProtocol[pool.Protocol] = append(r.byProtocol[pool.Protocol], pool.Address)
	r.mu.Unlock()

	if err := r.seed(pool); err != nil {
		return err
	}
	r.store.AddTracked(pool.Address)
	r.poolGauge.WithLabelValues(pool.Protocol.String()).Inc()
	r.logger.Debug("registered pool",
		"pool", pool.Address,
		"protocol", pool.Protocol.String(),
		"fee", pool.EffectiveFee().String(),
	)
	return nil
}

// Get returns the descriptor for addr.
func (r *Registry) Get(addr common.Address) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool, ok := r.pools[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, addr)
	}
	return pool, nil
}

// Has reports whether addr is registered.
func (r *Registry) Has(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pools[addr]
	return ok
}

// ByProtocol lists the registered addresses of one protocol.
func (r *Registry) ByProtocol(p engine.Protocol) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs := make([]common.Address, len(r.byProtocol[p]))
	copy(addrs, r.byProtocol[p])
	return addrs
}

// Addresses lists every registered pool.
func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs := make([]common.Address, 0, len(r.pools))
	for addr := range r.pools {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Len returns the number of registered pools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

func (r *Registry) seed(pool *Pool) error {
	switch pool.Protocol.Family() {
	case engine.FamilyConstantProduct:
		return r.seedPair(pool, true)
	case engine.FamilySolidly:
		return r.seedPair(pool, false)
	case engine.FamilyConcentrated:
		return r.seedConcentrated(pool)
	case engine.FamilyWeighted:
		return r.seedWeighted(pool)
	case engine.FamilyExternal:
		// Quoted by executing the venue's own bytecode; nothing to seed,
		// reads flow through the mirror on demand.
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProtocol, pool.Protocol)
	}
}

// seedPair writes the canonical pair layout. Solidly pools share the packed
// reserve word but keep their token bookkeeping on the descriptor, so the
// token slots are only written for true constant-product clones.
func (r *Registry) seedPair(pool *Pool, withTokens bool) error {
	if withTokens {
		r.store.InsertAccountStorage(pool.Address, SlotOf(pairSlotToken0), AddressWord(pool.Token0), statedb.OriginSynthetic)
		r.store.InsertAccountStorage(pool.Address, SlotOf(pairSlotToken1), AddressWord(pool.Token1), statedb.OriginSynthetic)
	}
	r0, r1 := pool.Reserve0, pool.Reserve1
	if r0 == nil {
		r0 = new(uint256.Int)
	}
	if r1 == nil {
		r1 = new(uint256.Int)
	}
	word, err := PackReserves(r0, r1)
	if err != nil {
		return err
	}
	r.store.InsertAccountStorage(pool.Address, SlotOf(pairSlotReserves), word, statedb.OriginSynthetic)
	return nil
}

func (r *Registry) seedConcentrated(pool *Pool) error {
	sqrtPrice := pool.SqrtPriceX96
	if sqrtPrice == nil {
		sqrtPrice = new(uint256.Int)
	}
	slot0, err := PackSlot0(sqrtPrice, pool.Tick)
	if err != nil {
		return err
	}
	r.store.InsertAccountStorage(pool.Address, SlotOf(clSlotSlot0), slot0, statedb.OriginSynthetic)

	liquidity := pool.Liquidity
	if liquidity == nil {
		liquidity = new(uint256.Int)
	}
	r.store.InsertAccountStorage(pool.Address, SlotOf(clSlotLiquidity), PackWord(liquidity), statedb.OriginSynthetic)
	r.store.InsertAccountStorage(pool.Address, SlotOf(clSlotTickSpacing), PackWord(uint256.NewInt(uint64(pool.TickSpacing))), statedb.OriginSynthetic)

	for _, level := range pool.Ticks {
		word, err := PackTickNet(level.LiquidityNet)
		if err != nil {
			return fmt.Errorf("pool %s tick %d: %w", pool.Address, level.Index, err)
		}
		r.store.InsertAccountStorage(pool.Address, TickSlot(level.Index), word, statedb.OriginSynthetic)
	}
	for wordPos, bits := range pool.TickBitmap {
		r.store.InsertAccountStorage(pool.Address, BitmapSlot(wordPos), PackWord(bits), statedb.OriginSynthetic)
	}
	return nil
}

func (r *Registry) seedWeighted(pool *Pool) error {
	write := func(slot uint64, v *uint256.Int) {
		if v == nil {
			v = new(uint256.Int)
		}
		r.store.InsertAccountStorage(pool.Address, SlotOf(slot), PackWord(v), statedb.OriginSynthetic)
	}
	write(weightedSlotBalance0, pool.Balance0)
	write(weightedSlotBalance1, pool.Balance1)
	write(weightedSlotWeight0, pool.Weight0)
	write(weightedSlotWeight1, pool.Weight1)
	write(weightedSlotSwapFee, pool.SwapFeeWad)
	return nil
}
