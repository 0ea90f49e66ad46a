// Package remote adapts a JSON-RPC execution node into the mirror's Source
// interface. All lookups are pinned to an explicit block number; the
// adapter knows nothing about how the fetched values are used.
package remote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dexmirror/dexmirror-go/engine"
	"github.com/dexmirror/dexmirror-go/statedb"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultMaxConcurrent = 64
)

var ErrBlockNotFound = errors.New("remote: block not found")

// Config carries the dependencies of a Client.
type Config struct {
	// Client is a connected JSON-RPC client. Required; the caller owns its
	// lifecycle.
	Client *rpc.Client

	// Logger is required.
	Logger engine.Logger

	// Registerer receives the client's metrics. Optional.
	Registerer prometheus.Registerer

	// Timeout bounds each remote call. Defaults to 10s.
	Timeout time.Duration

	// MaxConcurrent bounds in-flight requests. Defaults to 64.
	MaxConcurrent int
}

func (c *Config) validate() error {
	if c.Client == nil {
		return errors.New("config: Client is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Timeout < 0 {
		return errors.New("config: Timeout cannot be negative")
	}
	if c.MaxConcurrent < 0 {
		return errors.New("config: MaxConcurrent cannot be negative")
	}
	return nil
}

// Client implements statedb.Source over a JSON-RPC node. The three account
// sub-reads go out as one batch; a semaphore bounds total concurrency so a
// cold-start fan-out cannot flood the node.
type Client struct {
	rpc     *rpc.Client
	logger  engine.Logger
	timeout time.Duration
	sem     chan struct{}
	metrics *clientMetrics
}

var _ statedb.Source = (*Client)(nil)

// New constructs a Client from the configuration.
func New(cfg *Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Client{
		rpc:     cfg.Client,
		logger:  cfg.Logger,
		timeout: timeout,
		sem:     make(chan struct{}, maxConcurrent),
		metrics: newClientMetrics(cfg.Registerer),
	}, nil
}

// AccountAt fetches balance, nonce and code in a single batch.
func (c *Client) AccountAt(ctx context.Context, addr common.Address, block uint64) (statedb.RemoteAccount, error) {
	timer := prometheus.NewTimer(c.metrics.duration.WithLabelValues("account"))
	defer timer.ObserveDuration()
	if err := c.acquire(ctx); err != nil {
		return statedb.RemoteAccount{}, err
	}
	defer c.release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tag := hexutil.EncodeUint64(block)
	var (
		balance hexutil.Big
		nonce   hexutil.Uint64
		code    hexutil.Bytes
	)
	batch := []rpc.BatchElem{
		{Method: "eth_getBalance", Args: []any{addr, tag}, Result: &balance},
		{Method: "eth_getTransactionCount", Args: []any{addr, tag}, Result: &nonce},
		{Method: "eth_getCode", Args: []any{addr, tag}, Result: &code},
	}
	c.metrics.requests.WithLabelValues("account").Inc()
	if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
		c.metrics.errors.WithLabelValues("account").Inc()
		return statedb.RemoteAccount{}, fmt.Errorf("remote: account batch for %s: %w", addr, err)
	}
	for _, el := range batch {
		if el.Error != nil {
			c.metrics.errors.WithLabelValues("account").Inc()
			return statedb.RemoteAccount{}, fmt.Errorf("remote: %s for %s: %w", el.Method, addr, el.Error)
		}
	}

	bal, overflow := uint256.FromBig((*big.Int)(&balance))
	if overflow {
		return statedb.RemoteAccount{}, fmt.Errorf("remote: balance of %s overflows 256 bits", addr)
	}
	ra := statedb.RemoteAccount{Nonce: uint64(nonce), Code: code}
	if bal != nil {
		ra.Balance = *bal
	}
	return ra, nil
}

// StorageAt fetches one storage word.
func (c *Client) StorageAt(ctx context.Context, addr common.Address, slot common.Hash, block uint64) (common.Hash, error) {
	timer := prometheus.NewTimer(c.metrics.duration.WithLabelValues("storage"))
	defer timer.ObserveDuration()
	if err := c.acquire(ctx); err != nil {
		return common.Hash{}, err
	}
	defer c.release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var word hexutil.Bytes
	c.metrics.requests.WithLabelValues("storage").Inc()
	err := c.rpc.CallContext(ctx, &word, "eth_getStorageAt", addr, slot, hexutil.EncodeUint64(block))
	if err != nil {
		c.metrics.errors.WithLabelValues("storage").Inc()
		return common.Hash{}, fmt.Errorf("remote: storage %s slot %s: %w", addr, slot, err)
	}
	return common.BytesToHash(word), nil
}

// BlockHashAt fetches the hash of the given block.
func (c *Client) BlockHashAt(ctx context.Context, block uint64) (common.Hash, error) {
	timer := prometheus.NewTimer(c.metrics.duration.WithLabelValues("blockhash"))
	defer timer.ObserveDuration()
	if err := c.acquire(ctx); err != nil {
		return common.Hash{}, err
	}
	defer c.release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var head *struct {
		Hash common.Hash `json:"hash"`
	}
	c.metrics.requests.WithLabelValues("blockhash").Inc()
	err := c.rpc.CallContext(ctx, &head, "eth_getBlockByNumber", hexutil.EncodeUint64(block), false)
	if err != nil {
		c.metrics.errors.WithLabelValues("blockhash").Inc()
		return common.Hash{}, fmt.Errorf("remote: block %d: %w", block, err)
	}
	if head == nil {
		return common.Hash{}, fmt.Errorf("%w: %d", ErrBlockNotFound, block)
	}
	return head.Hash, nil
}

// BlockNumber fetches the current head number, the usual pin for a fresh
// mirror.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	timer := prometheus.NewTimer(c.metrics.duration.WithLabelValues("blocknumber"))
	defer timer.ObserveDuration()
	if err := c.acquire(ctx); err != nil {
		return 0, err
	}
	defer c.release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var number hexutil.Uint64
	c.metrics.requests.WithLabelValues("blocknumber").Inc()
	if err := c.rpc.CallContext(ctx, &number, "eth_blockNumber"); err != nil {
		c.metrics.errors.WithLabelValues("blocknumber").Inc()
		return 0, fmt.Errorf("remote: block number: %w", err)
	}
	return uint64(number), nil
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	<-c.sem
}

type clientMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	m := &clientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "remote",
			Name: "requests_total",
			Help: "Remote lookups by kind.",
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dexmirror", Subsystem: "remote",
			Name: "request_errors_total",
			Help: "Failed remote lookups by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dexmirror", Subsystem: "remote",
			Name:    "request_duration_seconds",
			Help:    "Remote lookup latency by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.errors, m.duration)
	}
	return m
}
