// Package evmsim runs read-only contract calls against the mirrored state.
// Pools whose payout has no closed form (bonding curves, external quoters)
// are quoted by executing their own bytecode; the execution engine itself is
// injected, the package only owns the call policy and failure taxonomy.
package evmsim

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	engine "github.com/dexmirror/dexmirror-go/engine"
	statedb "github.com/dexmirror/dexmirror-go/statedb"
)

// ErrDecode marks returndata that did not match the expected shape.
var ErrDecode = errors.New("evmsim: unexpected returndata shape")

// DefaultCaller is the fixed sender of every simulated call. The account
// exists nowhere on chain, so simulations never collide with real balances
// or nonces.
var DefaultCaller = common.HexToAddress("0x0000000000000000000000000000000000000001")

// DefaultGasLimit bounds a single simulated call.
const DefaultGasLimit = 1_000_000

// Msg is one call request handed to the engine.
type Msg struct {
	Caller common.Address
	To     common.Address
	Input  []byte
	Gas    uint64
	Value  uint256.Int
	Block  uint64
}

// Result is the outcome of one engine call. On success Output holds the
// returndata; on revert it holds the revert data. Changes carries the
// account deltas of the execution for callers that commit.
type Result struct {
	Output     []byte
	GasUsed    uint64
	Reverted   bool
	Halted     bool
	HaltReason string
	Changes    map[common.Address]engine.AccountDiff
}

// Engine executes one message against mirror-backed state. Implementations
// resolve every account, storage word, code blob and block hash they need
// through the supplied reader, so execution sees exactly what the quote
// formulas see. Transport or engine-internal problems are reported through
// the error; reverts and halts through the Result.
type Engine interface {
	Call(ctx context.Context, state statedb.Reader, msg Msg) (Result, error)
}

// FailureKind classifies a failed simulation.
type FailureKind uint8

const (
	// FailureRevert is an explicit REVERT from the callee.
	FailureRevert FailureKind = iota + 1
	// FailureHalt is an abnormal stop: out of gas, invalid opcode.
	FailureHalt
	// FailureTransport is an engine or state-read error before or during
	// execution.
	FailureTransport
)

func (k FailureKind) String() string {
	switch k {
	case FailureRevert:
		return "revert"
	case FailureHalt:
		return "halt"
	case FailureTransport:
		return "transport"
	default:
		return "failure(?)"
	}
}

// SimulationError describes a call that produced no usable output. Detail
// carries the decoded revert reason or halt reason; Err the underlying
// transport error when there is one.
type SimulationError struct {
	Kind    FailureKind
	Pool    common.Address
	Detail  string
	GasUsed uint64
	Err     error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("evmsim: %s call to %s failed: %s", e.Kind, e.Pool, e.Detail)
}

func (e *SimulationError) Unwrap() error { return e.Err }

// Config carries the dependencies of an Adapter.
type Config struct {
	// Engine executes the calls. Required.
	Engine Engine

	// Store backs execution state and receives committed changes. Required.
	Store *statedb.Store

	// Logger is required.
	Logger engine.Logger

	// Registerer receives the adapter's metrics. Optional.
	Registerer prometheus.Registerer

	// Caller overrides DefaultCaller when set.
	Caller common.Address

	// GasLimit overrides DefaultGasLimit when non-zero.
	GasLimit uint64
}

func (c *Config) validate() error {
	if c.Engine == nil {
		return errors.New("config: Engine is required")
	}
	if c.Store == nil {
		return errors.New("config: Store is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Adapter binds an execution engine to the mirror and a call policy: fixed
// synthetic caller, zero value, bounded gas, pinned to the mirror's current
// block.
type Adapter struct {
	engine  Engine
	store   *statedb.Store
	caller  common.Address
	gas     uint64
	logger  engine.Logger
	metrics *adapterMetrics
}

// New constructs an Adapter from the configuration.
func New(cfg *Config) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Adapter{
		engine:  cfg.Engine,
		store:   cfg.Store,
		caller:  cfg.Caller,
		gas:     cfg.GasLimit,
		logger:  cfg.Logger,
		metrics: newAdapterMetrics(cfg.Registerer),
	}
	if a.caller == (common.Address{}) {
		a.caller = DefaultCaller
	}
	if a.gas == 0 {
		a.gas = DefaultGasLimit
	}
	return a, nil
}

// StaticCall runs one read-only call against the mirror and returns the raw
// returndata. Reverts, halts and transport errors come back as a
// *SimulationError; nothing is committed.
func (a *Adapter) StaticCall(ctx context.Context, to common.Address, input []byte) ([]byte, error) {
	res, err := a.call(ctx, to, input)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// Prime runs a call and merges its account deltas into the mirror. Bootstrap
// uses it to fabricate balances and approvals before the first quote; quote
// paths never commit.
func (a *Adapter) Prime(ctx context.Context, to common.Address, input []byte) error {
	res, err := a.call(ctx, to, input)
	if err != nil {
		return err
	}
	if len(res.Changes) > 0 {
		a.store.CommitExecution(res.Changes)
		a.logger.Debug("primed mirror from execution",
			"to", to,
			"accounts", len(res.Changes),
			"gas_used", res.GasUsed,
		)
	}
	return nil
}

func (a *Adapter) call(ctx context.Context, to common.Address, input []byte) (Result, error) {
	msg := Msg{
		Caller: a.caller,
		To:     to,
		Input:  input,
		Gas:    a.gas,
		Block:  a.store.Block(),
	}
	res, err := a.engine.Call(ctx, a.store, msg)
	if err != nil {
		a.metrics.observeCall(FailureTransport, res.GasUsed)
		return Result{}, &SimulationError{
			Kind:   FailureTransport,
			Pool:   to,
			Detail: err.Error(),
			Err:    err,
		}
	}
	switch {
	case res.Reverted:
		a.metrics.observeCall(FailureRevert, res.GasUsed)
		return Result{}, &SimulationError{
			Kind:    FailureRevert,
			Pool:    to,
			Detail:  revertDetail(res.Output),
			GasUsed: res.GasUsed,
		}
	case res.Halted:
		a.metrics.observeCall(FailureHalt, res.GasUsed)
		return Result{}, &SimulationError{
			Kind:    FailureHalt,
			Pool:    to,
			Detail:  res.HaltReason,
			GasUsed: res.GasUsed,
		}
	}
	a.metrics.observeCall(0, res.GasUsed)
	return res, nil
}

// revertDetail decodes an Error(string) payload when there is one and falls
// back to the raw hex otherwise.
func revertDetail(data []byte) string {
	if len(data) == 0 {
		return "reverted without data"
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return common.Bytes2Hex(data)
}
