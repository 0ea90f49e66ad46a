// Package streams turns a live execution node into an ordered feed of block
// diffs for the mirror: a newHeads websocket subscription for the live edge,
// debug_traceBlockByNumber with the prestate tracer for the per-block state
// delta, and an ascending catch-up replay for everything missed while
// disconnected. Duplicate and already-applied heads are skipped, never
// reapplied.
package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dexmirror/dexmirror-go/engine"
	"github.com/dexmirror/dexmirror-go/statedb"
)

const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	defaultEventBuffer = 16
	headBuffer         = 16
)

// Sink receives the block diffs the syncer produces. *market.Market
// satisfies it.
type Sink interface {
	ApplyBlockDiff(diff *engine.BlockDiff) ([]common.Address, error)
}

// Touched announces one applied block and the tracked pools it changed.
type Touched struct {
	Block uint64
	Pools []common.Address
}

// Config carries the dependencies of a Syncer.
type Config struct {
	// URL of the execution node. Websocket or IPC; the head subscription
	// does not work over plain HTTP. Required.
	URL string

	// Sink receives every applied block diff. Required.
	Sink Sink

	// Logger is required.
	Logger engine.Logger

	// Registerer receives the syncer's metrics. Optional.
	Registerer prometheus.Registerer

	// LastSynced is the block the mirror already reflects. Replay starts
	// at LastSynced+1; zero replays from genesis.
	LastSynced uint64

	// BufferSize of the events channel. Defaults to 16.
	BufferSize uint

	// Timeout bounds each trace and head-number call. Defaults to 15s.
	Timeout time.Duration
}

func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.Sink == nil {
		return errors.New("config: Sink is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Timeout < 0 {
		return errors.New("config: Timeout cannot be negative")
	}
	return nil
}

// Syncer follows the chain head and keeps the sink exactly one apply behind
// the node: missed spans replay in ascending order, heads at or below the
// last applied block are dropped.
type Syncer struct {
	url        string
	sink       Sink
	logger     engine.Logger
	metrics    *syncerMetrics
	events     chan Touched
	timeout    time.Duration
	lastSynced uint64
}

// New constructs a Syncer from the configuration. It does not connect;
// call Run.
func New(cfg *Config) (*Syncer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	buffer := cfg.BufferSize
	if buffer == 0 {
		buffer = defaultEventBuffer
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTraceTimeout
	}
	return &Syncer{
		url:        cfg.URL,
		sink:       cfg.Sink,
		logger:     cfg.Logger,
		metrics:    newSyncerMetrics(cfg.Registerer),
		events:     make(chan Touched, buffer),
		timeout:    timeout,
		lastSynced: cfg.LastSynced,
	}, nil
}

// Events returns the channel of applied-block announcements. The syncer
// applies backpressure when the buffer is full, so somebody has to drain
// it while Run is alive. The channel closes when Run returns.
func (s *Syncer) Events() <-chan Touched {
	return s.events
}

// Run drives the feed until the context is canceled: catch-up replay, then
// the head subscription, reconnecting with exponential backoff whenever the
// node connection drops. Run owns the events channel and may only be called
// once.
func (s *Syncer) Run(ctx context.Context) error {
	defer close(s.events)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			s.logger.Info("syncer shutting down")
			return ctx.Err()
		}

		s.logger.Info("connecting to execution node", "url", s.url)
		client, err := rpc.DialContext(ctx, s.url)
		if err != nil {
			s.logger.Error("node dial failed, will retry", "err", err, "delay", reconnectDelay)
			if !sleepContext(ctx, reconnectDelay) {
				return ctx.Err()
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}
		s.metrics.connects.Inc()
		reconnectDelay = initialReconnectDelay

		err = s.followHead(ctx, client)
		client.Close()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Info("syncer shutting down")
			return err
		}
		s.logger.Error("head stream failed, reconnecting", "err", err, "delay", reconnectDelay)
		if !sleepContext(ctx, reconnectDelay) {
			return ctx.Err()
		}
		reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
	}
}

func (s *Syncer) followHead(ctx context.Context, client *rpc.Client) error {
	differ, err := NewDiffer(&DifferConfig{Client: client, Logger: s.logger, Timeout: s.timeout})
	if err != nil {
		return err
	}
	if err := s.catchUp(ctx, client, differ); err != nil {
		return err
	}

	heads := make(chan *types.Header, headBuffer)
	sub, err := client.EthSubscribe(ctx, heads, "newHeads")
	if err != nil {
		return fmt.Errorf("streams: subscribe newHeads: %w", err)
	}
	defer sub.Unsubscribe()

	// Blocks sealed between the catch-up scan and the subscription start
	// would otherwise fall through both paths.
	if err := s.catchUp(ctx, client, differ); err != nil {
		return err
	}
	s.logger.Info("following chain head", "block", s.lastSynced)

	for {
		select {
		case head := <-heads:
			s.metrics.heads.Inc()
			number := head.Number.Uint64()
			if number <= s.lastSynced {
				s.logger.Debug("skipping duplicate block", "block", number)
				continue
			}
			// A dropped head announcement shows up as a gap; the middle
			// blocks replay here too.
			if err := s.advanceTo(ctx, differ, number, head.Hash()); err != nil {
				return err
			}
		case err := <-sub.Err():
			return fmt.Errorf("streams: head subscription: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// catchUp replays the span between the mirror and the node's head. The
// chain keeps moving while the replay runs, so it re-reads the head until
// the gap is closed.
func (s *Syncer) catchUp(ctx context.Context, client *rpc.Client, differ *Differ) error {
	head, err := s.headNumber(ctx, client)
	if err != nil {
		return err
	}
	for s.lastSynced < head {
		s.logger.Info("catching up", "from", s.lastSynced, "to", head)
		if err := s.advanceTo(ctx, differ, head, common.Hash{}); err != nil {
			return err
		}
		if head, err = s.headNumber(ctx, client); err != nil {
			return err
		}
	}
	return nil
}

// advanceTo traces and applies every block from lastSynced+1 through target
// in ascending order. headHash is recorded for the target block when known.
func (s *Syncer) advanceTo(ctx context.Context, differ *Differ, target uint64, headHash common.Hash) error {
	for number := s.lastSynced + 1; number <= target; number++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		started := time.Now()

		diff, err := differ.BlockDiff(ctx, number)
		if err != nil {
			s.metrics.traceErrors.Inc()
			return err
		}
		if number == target {
			diff.Hash = headHash
		}

		touched, err := s.sink.ApplyBlockDiff(diff)
		if err != nil {
			if errors.Is(err, statedb.ErrStaleBlockDiff) {
				// Another writer already moved the mirror past this block.
				s.logger.Debug("skipping duplicate block", "block", number)
				s.lastSynced = number
				continue
			}
			return fmt.Errorf("streams: apply block %d: %w", number, err)
		}
		s.lastSynced = number
		s.metrics.blocks.Inc()
		s.metrics.behind.Set(float64(target - number))
		s.logger.Info("block applied",
			"block", number, "touched", len(touched), "elapsed", time.Since(started))

		if !s.emit(ctx, Touched{Block: number, Pools: touched}) {
			return ctx.Err()
		}
	}
	return nil
}

func (s *Syncer) headNumber(ctx context.Context, client *rpc.Client) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var number hexutil.Uint64
	if err := client.CallContext(ctx, &number, "eth_blockNumber"); err != nil {
		return 0, fmt.Errorf("streams: head number: %w", err)
	}
	return uint64(number), nil
}

func (s *Syncer) emit(ctx context.Context, ev Touched) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
