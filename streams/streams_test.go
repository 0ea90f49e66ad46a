package streams

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexmirror/dexmirror-go/calculator"
	"github.com/dexmirror/dexmirror-go/engine"
	"github.com/dexmirror/dexmirror-go/market"
	"github.com/dexmirror/dexmirror-go/registry"
	"github.com/dexmirror/dexmirror-go/statedb"
)

// --- Mock node: eth + debug namespaces over an in-process websocket ---

type mockEth struct {
	mu         sync.Mutex
	head       uint64
	notifier   *rpc.Notifier
	sub        *rpc.Subscription
	subscribed chan struct{}
}

func newMockEth(head uint64) *mockEth {
	return &mockEth{head: head, subscribed: make(chan struct{}, 4)}
}

func (m *mockEth) BlockNumber() hexutil.Uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return hexutil.Uint64(m.head)
}

func (m *mockEth) NewHeads(ctx context.Context) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	m.mu.Lock()
	m.notifier = notifier
	m.sub = sub
	m.mu.Unlock()
	m.subscribed <- struct{}{}
	return sub, nil
}

func (m *mockEth) pushHead(t *testing.T, number uint64) {
	t.Helper()
	m.mu.Lock()
	if number > m.head {
		m.head = number
	}
	notifier, sub := m.notifier, m.sub
	m.mu.Unlock()
	require.NotNil(t, notifier, "pushHead before any subscription")
	require.NoError(t, notifier.Notify(sub.ID, testHeader(number)))
}

func testHeader(n uint64) *types.Header {
	return &types.Header{Number: new(big.Int).SetUint64(n), Difficulty: new(big.Int)}
}

type mockDebug struct {
	mu      sync.Mutex
	results map[uint64][]traceResult
	calls   []uint64
}

func newMockDebug() *mockDebug {
	return &mockDebug{results: make(map[uint64][]traceResult)}
}

func (m *mockDebug) TraceBlockByNumber(_ context.Context, number rpc.BlockNumber, _ *tracerOptions) ([]traceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := uint64(number.Int64())
	m.calls = append(m.calls, n)
	return m.results[n], nil
}

func (m *mockDebug) tracedBlocks() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.calls))
	copy(out, m.calls)
	return out
}

type testNode struct {
	eth   *mockEth
	debug *mockDebug
	url   string
	addr  string
	stop  func()
}

func startNode(t *testing.T, addr string, eth *mockEth, debug *mockDebug) *testNode {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", eth))
	require.NoError(t, server.RegisterName("debug", debug))

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	httpServer := &http.Server{Handler: server.WebsocketHandler([]string{"*"})}
	go func() { _ = httpServer.Serve(ln) }()

	node := &testNode{
		eth:   eth,
		debug: debug,
		url:   "ws://" + ln.Addr().String(),
		addr:  ln.Addr().String(),
	}
	var once sync.Once
	node.stop = func() {
		once.Do(func() {
			_ = httpServer.Close()
			server.Stop()
		})
	}
	t.Cleanup(node.stop)
	return node
}

func waitSubscribed(t *testing.T, eth *mockEth) {
	t.Helper()
	select {
	case <-eth.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("head subscription never arrived")
	}
}

// --- Sinks and helpers ---

type recordingSink struct {
	mu         sync.Mutex
	blocks     []uint64
	hashes     map[uint64]common.Hash
	staleBelow uint64
}

func (r *recordingSink) ApplyBlockDiff(diff *engine.BlockDiff) ([]common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if diff.Number <= r.staleBelow {
		return nil, fmt.Errorf("%w: diff for block %d", statedb.ErrStaleBlockDiff, diff.Number)
	}
	r.blocks = append(r.blocks, diff.Number)
	if r.hashes == nil {
		r.hashes = make(map[uint64]common.Hash)
	}
	r.hashes[diff.Number] = diff.Hash
	var touched []common.Address
	for addr := range diff.Accounts {
		touched = append(touched, addr)
	}
	return touched, nil
}

func (r *recordingSink) applied() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.blocks))
	copy(out, r.blocks)
	return out
}

func (r *recordingSink) hashOf(n uint64) common.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hashes[n]
}

func runSyncer(t *testing.T, cfg *Config) *Syncer {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("syncer did not stop in time")
		}
	})
	return s
}

// waitTouched drains events until the wanted block arrives, checking that
// everything before it is in ascending order.
func waitTouched(t *testing.T, s *Syncer, want uint64) Touched {
	t.Helper()
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "events channel closed while waiting for block %d", want)
			if ev.Block == want {
				return ev
			}
			require.Less(t, ev.Block, want, "blocks must arrive in order")
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for block %d", want)
		}
	}
}

func testAddr(b byte) common.Address {
	var addr common.Address
	addr[19] = b
	addr[0] = 0x40
	return addr
}

// --- Tests ---

func TestConfigValidation(t *testing.T) {
	sink := &recordingSink{}
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{Sink: sink, Logger: engine.NopLogger{}}},
		{"missing sink", Config{URL: "ws://x", Logger: engine.NopLogger{}}},
		{"missing logger", Config{URL: "ws://x", Sink: sink}},
		{"negative timeout", Config{URL: "ws://x", Sink: sink, Logger: engine.NopLogger{}, Timeout: -time.Second}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(&tc.cfg)
			assert.Error(t, err)
		})
	}

	t.Run("differ requires client", func(t *testing.T) {
		_, err := NewDiffer(&DifferConfig{Logger: engine.NopLogger{}})
		assert.Error(t, err)
	})
	t.Run("differ requires logger", func(t *testing.T) {
		_, err := NewDiffer(&DifferConfig{Client: &rpc.Client{}})
		assert.Error(t, err)
	})
}

func TestDifferBlockDiff(t *testing.T) {
	accountA, accountB := testAddr(1), testAddr(2)
	slot1 := common.HexToHash("0x01")
	slot2 := common.HexToHash("0x02")
	firstWord := common.HexToHash("0xaa")
	secondWord := common.HexToHash("0xbb")
	otherWord := common.HexToHash("0xcc")
	code := hexutil.Bytes{0x60, 0x80, 0x60, 0x40}
	nonce := hexutil.Uint64(9)

	debug := newMockDebug()
	debug.results[7] = []traceResult{
		{
			TxHash: common.HexToHash("0x1111"),
			Result: &txDiff{Post: map[common.Address]accountDelta{
				accountA: {
					Balance: (*hexutil.Big)(big.NewInt(5)),
					Storage: map[common.Hash]common.Hash{slot1: firstWord},
				},
			}},
		},
		{
			TxHash: common.HexToHash("0x2222"),
			Result: &txDiff{Post: map[common.Address]accountDelta{
				accountA: {
					Nonce:   &nonce,
					Storage: map[common.Hash]common.Hash{slot1: secondWord, slot2: otherWord},
				},
				accountB: {Code: code},
			}},
		},
		{TxHash: common.HexToHash("0x3333"), Error: "required historical state unavailable"},
	}
	node := startNode(t, "127.0.0.1:0", newMockEth(7), debug)

	client, err := rpc.DialContext(context.Background(), node.url)
	require.NoError(t, err)
	defer client.Close()

	differ, err := NewDiffer(&DifferConfig{Client: client, Logger: engine.NopLogger{}})
	require.NoError(t, err)

	diff, err := differ.BlockDiff(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), diff.Number)
	require.Len(t, diff.Accounts, 2)

	a := diff.Accounts[accountA]
	require.NotNil(t, a.Balance)
	assert.Equal(t, uint64(5), a.Balance.Uint64())
	require.NotNil(t, a.Nonce)
	assert.Equal(t, uint64(9), *a.Nonce)
	assert.Equal(t, secondWord, a.Storage[slot1], "the later transaction's word must win")
	assert.Equal(t, otherWord, a.Storage[slot2])

	b := diff.Accounts[accountB]
	assert.Equal(t, []byte(code), b.Code)
}

func TestSyncerCatchUpAndFollow(t *testing.T) {
	eth := newMockEth(12)
	debug := newMockDebug()
	node := startNode(t, "127.0.0.1:0", eth, debug)
	sink := &recordingSink{}

	s := runSyncer(t, &Config{
		URL:        node.url,
		Sink:       sink,
		Logger:     engine.NopLogger{},
		LastSynced: 10,
	})

	// Catch-up from 10 to the node head at 12.
	waitTouched(t, s, 11)
	waitTouched(t, s, 12)
	waitSubscribed(t, eth)

	eth.pushHead(t, 13)
	waitTouched(t, s, 13)

	// An already-applied head is dropped, a head with a gap replays the
	// middle blocks first.
	eth.pushHead(t, 12)
	eth.pushHead(t, 15)
	waitTouched(t, s, 14)
	waitTouched(t, s, 15)

	assert.Equal(t, []uint64{11, 12, 13, 14, 15}, debug.tracedBlocks())
	assert.Equal(t, []uint64{11, 12, 13, 14, 15}, sink.applied())

	// Only the live head carries its hash; catch-up blocks apply without.
	assert.Equal(t, common.Hash{}, sink.hashOf(11))
	assert.Equal(t, testHeader(13).Hash(), sink.hashOf(13))
}

func TestSyncerToleratesStaleApply(t *testing.T) {
	eth := newMockEth(12)
	debug := newMockDebug()
	node := startNode(t, "127.0.0.1:0", eth, debug)
	sink := &recordingSink{staleBelow: 11}

	s := runSyncer(t, &Config{
		URL:        node.url,
		Sink:       sink,
		Logger:     engine.NopLogger{},
		LastSynced: 10,
	})

	// Block 11 is already in the mirror; the syncer steps over it and
	// keeps going.
	waitTouched(t, s, 12)
	assert.Equal(t, []uint64{12}, sink.applied())
	assert.Equal(t, []uint64{11, 12}, debug.tracedBlocks())
}

func TestSyncerFeedsMarket(t *testing.T) {
	tokenX, tokenY := testAddr(100), testAddr(101)
	pool := &registry.Pool{
		Address:  testAddr(1),
		Protocol: engine.ProtocolUniswapV2,
		Token0:   tokenX,
		Token1:   tokenY,
		Reserve0: uint256.MustFromDecimal("1000000000000000000000"),
		Reserve1: uint256.MustFromDecimal("1000000000000000000000"),
	}
	store, err := statedb.New(&statedb.Config{Source: nullSource{}, Logger: engine.NopLogger{}, InitialBlock: 100})
	require.NoError(t, err)
	reg, err := registry.New(&registry.Config{Store: store, Logger: engine.NopLogger{}})
	require.NoError(t, err)
	require.NoError(t, reg.Insert(pool))
	calc, err := calculator.New(&calculator.Config{Store: store, Logger: engine.NopLogger{}})
	require.NoError(t, err)
	m, err := market.New(&market.Config{
		Store:      store,
		Registry:   reg,
		Calculator: calc,
		Cache:      calculator.NewQuoteCache(nil, 1),
		Logger:     engine.NopLogger{},
	})
	require.NoError(t, err)

	in := uint256.MustFromDecimal("1000000000000000000")
	before, err := m.Quote(context.Background(), pool.Address, tokenX, in)
	require.NoError(t, err)

	newWord, err := registry.PackReserves(
		uint256.MustFromDecimal("1000000000000000000000"),
		uint256.MustFromDecimal("500000000000000000000"),
	)
	require.NoError(t, err)

	eth := newMockEth(101)
	debug := newMockDebug()
	debug.results[101] = []traceResult{{
		TxHash: common.HexToHash("0x4444"),
		Result: &txDiff{Post: map[common.Address]accountDelta{
			pool.Address: {Storage: map[common.Hash]common.Hash{registry.SlotOf(8): newWord}},
		}},
	}}
	node := startNode(t, "127.0.0.1:0", eth, debug)

	s := runSyncer(t, &Config{
		URL:        node.url,
		Sink:       m,
		Logger:     engine.NopLogger{},
		LastSynced: 100,
	})

	ev := waitTouched(t, s, 101)
	assert.Equal(t, []common.Address{pool.Address}, ev.Pools)
	assert.Equal(t, uint64(101), store.Block())

	after, err := m.Quote(context.Background(), pool.Address, tokenX, in)
	require.NoError(t, err)
	assert.True(t, after.Lt(before), "halved reserves must pay out less: %s vs %s", after, before)
}

func TestSyncerReconnects(t *testing.T) {
	eth1 := newMockEth(5)
	debug1 := newMockDebug()
	node1 := startNode(t, "127.0.0.1:0", eth1, debug1)
	sink := &recordingSink{}

	s := runSyncer(t, &Config{
		URL:        node1.url,
		Sink:       sink,
		Logger:     engine.NopLogger{},
		LastSynced: 4,
	})
	waitTouched(t, s, 5)
	waitSubscribed(t, eth1)

	node1.stop()

	// A fresh node on the same address, already one block ahead. The
	// syncer reconnects and catches up without replaying block 5.
	eth2 := newMockEth(6)
	debug2 := newMockDebug()
	startNode(t, node1.addr, eth2, debug2)

	waitTouched(t, s, 6)
	assert.Equal(t, []uint64{5, 6}, sink.applied())
	assert.Equal(t, []uint64{6}, debug2.tracedBlocks())
}

type nullSource struct{}

func (nullSource) AccountAt(context.Context, common.Address, uint64) (statedb.RemoteAccount, error) {
	return statedb.RemoteAccount{}, nil
}

func (nullSource) StorageAt(context.Context, common.Address, common.Hash, uint64) (common.Hash, error) {
	return common.Hash{}, nil
}

func (nullSource) BlockHashAt(context.Context, uint64) (common.Hash, error) {
	return common.Hash{}, nil
}
