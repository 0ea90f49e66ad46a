package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/dexmirror/dexmirror-go/engine"
)

const defaultTraceTimeout = 15 * time.Second

// tracerOptions is the debug_traceBlockByNumber configuration: the prestate
// tracer in diff mode, which reports where every touched account landed
// after each transaction.
type tracerOptions struct {
	Tracer       string       `json:"tracer"`
	TracerConfig tracerConfig `json:"tracerConfig"`
}

type tracerConfig struct {
	DiffMode bool `json:"diffMode"`
}

var prestateDiffOptions = tracerOptions{
	Tracer:       "prestateTracer",
	TracerConfig: tracerConfig{DiffMode: true},
}

// traceResult is one transaction's entry in the block trace. Result is nil
// when the node could not trace the transaction; Error carries its message.
type traceResult struct {
	TxHash common.Hash `json:"txHash"`
	Result *txDiff     `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// txDiff is the prestate tracer's diff-mode payload. Pre is ignored: the
// mirror only needs where state landed.
type txDiff struct {
	Post map[common.Address]accountDelta `json:"post"`
}

type accountDelta struct {
	Balance *hexutil.Big                `json:"balance,omitempty"`
	Nonce   *hexutil.Uint64             `json:"nonce,omitempty"`
	Code    hexutil.Bytes               `json:"code,omitempty"`
	Storage map[common.Hash]common.Hash `json:"storage,omitempty"`
}

// DifferConfig carries the dependencies of a Differ.
type DifferConfig struct {
	// Client is a connected JSON-RPC client whose node exposes the debug
	// namespace. Required; the caller owns its lifecycle.
	Client *rpc.Client

	// Logger is required.
	Logger engine.Logger

	// Timeout bounds each trace call. Defaults to 15s; tracing a full
	// block is much heavier than a plain state read.
	Timeout time.Duration
}

func (c *DifferConfig) validate() error {
	if c.Client == nil {
		return errors.New("config: Client is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Timeout < 0 {
		return errors.New("config: Timeout cannot be negative")
	}
	return nil
}

// Differ turns one block's prestate-diff trace into an engine.BlockDiff.
// Per-transaction deltas are merged in execution order, so a slot written
// twice in a block ends at the last transaction's word, exactly like the
// chain's own post-block state.
type Differ struct {
	rpc     *rpc.Client
	logger  engine.Logger
	timeout time.Duration
}

// NewDiffer constructs a Differ from the configuration.
func NewDiffer(cfg *DifferConfig) (*Differ, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTraceTimeout
	}
	return &Differ{rpc: cfg.Client, logger: cfg.Logger, timeout: timeout}, nil
}

// BlockDiff traces the given block and returns its state delta. A
// transaction the node failed to trace is skipped with a warning; the rest
// of the block still applies.
func (d *Differ) BlockDiff(ctx context.Context, number uint64) (*engine.BlockDiff, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var results []traceResult
	err := d.rpc.CallContext(ctx, &results, "debug_traceBlockByNumber", hexutil.EncodeUint64(number), prestateDiffOptions)
	if err != nil {
		return nil, fmt.Errorf("streams: trace block %d: %w", number, err)
	}

	diff := &engine.BlockDiff{
		Number:   number,
		Accounts: make(map[common.Address]engine.AccountDiff),
	}
	for _, res := range results {
		if res.Error != "" || res.Result == nil {
			d.logger.Warn("transaction trace failed", "block", number, "tx", res.TxHash, "err", res.Error)
			continue
		}
		for addr, delta := range res.Result.Post {
			acc := diff.Accounts[addr]
			d.mergeDelta(&acc, addr, delta)
			diff.Accounts[addr] = acc
		}
	}
	return diff, nil
}

func (d *Differ) mergeDelta(acc *engine.AccountDiff, addr common.Address, delta accountDelta) {
	if delta.Balance != nil {
		bal, overflow := uint256.FromBig(delta.Balance.ToInt())
		if overflow {
			d.logger.Warn("balance overflows 256 bits, dropped", "account", addr)
		} else {
			acc.Balance = bal
		}
	}
	if delta.Nonce != nil {
		nonce := uint64(*delta.Nonce)
		acc.Nonce = &nonce
	}
	if len(delta.Code) > 0 {
		acc.Code = delta.Code
	}
	if len(delta.Storage) > 0 {
		if acc.Storage == nil {
			acc.Storage = make(engine.StorageDiff, len(delta.Storage))
		}
		for slot, word := range delta.Storage {
			acc.Storage[slot] = word
		}
	}
}
