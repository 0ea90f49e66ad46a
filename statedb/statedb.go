package statedb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	engine "github.com/dexmirror/dexmirror-go/engine"
)

var (
	ErrRemoteFetch     = errors.New("statedb: remote fetch failed")
	ErrUnknownCodeHash = errors.New("statedb: unknown code hash")
	ErrUnknownAccount  = errors.New("statedb: unknown account")
	ErrUnknownSlot     = errors.New("statedb: unknown storage slot")
	ErrStaleBlockDiff  = errors.New("statedb: stale block diff")
)

// Config carries the dependencies of a Store.
type Config struct {
	// Source services cache misses. Required.
	Source Source

	// Logger is required.
	Logger engine.Logger

	// Registerer receives the store's metrics. Optional; nil disables them.
	Registerer prometheus.Registerer

	// InitialBlock pins the first read-through block. The first applied
	// diff must carry a higher number.
	InitialBlock uint64
}

func (c *Config) validate() error {
	if c.Source == nil {
		return errors.New("config: Source is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Store is an in-memory mirror of the on-chain state the quote core needs:
// account info, storage words, bytecode by hash and block hashes, restricted
// to tracked pool addresses plus whatever reads pull in. Reads are
// read-through against the Source and pinned to the current block; writes
// arrive only through ApplyBlockDiff, CommitExecution and the seeding
// helpers.
//
// Concurrency contract: any number of concurrent readers or exactly one
// writer. Remote fetches never run while a lock is held; concurrent misses
// on the same key collapse into one fetch.
type Store struct {
	mu          sync.RWMutex
	accounts    map[common.Address]*accountEntry
	codeByHash  map[common.Hash][]byte
	blockHashes map[uint64]common.Hash
	tracked     map[common.Address]struct{}
	block       uint64

	source  Source
	flight  singleflight.Group
	logger  engine.Logger
	metrics *storeMetrics
}

// New constructs a Store from the configuration.
func New(cfg *Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Store{
		accounts:    make(map[common.Address]*accountEntry),
		codeByHash:  make(map[common.Hash][]byte),
		blockHashes: make(map[uint64]common.Hash),
		tracked:     make(map[common.Address]struct{}),
		block:       cfg.InitialBlock,
		source:      cfg.Source,
		logger:      cfg.Logger,
		metrics:     newStoreMetrics(cfg.Registerer),
	}, nil
}

// Block returns the block number reads are currently pinned to.
func (s *Store) Block() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.block
}

// SetBlock re-pins the read block without touching mirrored data. Intended
// for bootstrap, before any diff has been applied.
func (s *Store) SetBlock(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = n
	s.metrics.setBlock(n)
}

// AddTracked marks addresses whose block-diff changes the mirror applies.
func (s *Store) AddTracked(addrs ...common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, addr := range addrs {
		s.tracked[addr] = struct{}{}
	}
	s.metrics.setTracked(len(s.tracked))
}

// IsTracked reports whether diffs for addr are applied.
func (s *Store) IsTracked(addr common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tracked[addr]
	return ok
}

// TrackedCount returns the size of the tracked set.
func (s *Store) TrackedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracked)
}

// Account returns the mirrored account info, fetching it on a miss. The
// fetched entry is inserted so later reads are local.
func (s *Store) Account(ctx context.Context, addr common.Address) (AccountInfo, error) {
	s.mu.RLock()
	if e, ok := s.accounts[addr]; ok {
		info := e.info
		s.mu.RUnlock()
		return info, nil
	}
	block := s.block
	s.mu.RUnlock()

	res, err, _ := s.flight.Do(accountKey(addr), func() (any, error) {
		// Another waiter may have landed the entry already.
		s.mu.RLock()
		if e, ok := s.accounts[addr]; ok {
			info := e.info
			s.mu.RUnlock()
			return info, nil
		}
		s.mu.RUnlock()

		s.metrics.incAccountFetch()
		ra, ferr := s.source.AccountAt(ctx, addr, block)
		if ferr != nil {
			s.metrics.incFetchError()
			return AccountInfo{}, fmt.Errorf("%w: account %s at block %d: %v", ErrRemoteFetch, addr, block, ferr)
		}
		info := accountInfoFromRemote(ra)

		s.mu.Lock()
		defer s.mu.Unlock()
		if e, ok := s.accounts[addr]; ok {
			return e.info, nil
		}
		e := newAccountEntry()
		e.info = info
		s.accounts[addr] = e
		s.registerCodeLocked(info.CodeHash, info.Code)
		return info, nil
	})
	if err != nil {
		return AccountInfo{}, err
	}
	return res.(AccountInfo), nil
}

// Storage returns the mirrored word for (addr, slot), fetching on a miss.
// A slot the chain never wrote mirrors as the zero word, it is not an
// error. An unknown account is fetched before its slot.
func (s *Store) Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	s.mu.RLock()
	e, haveAccount := s.accounts[addr]
	if haveAccount {
		if v, ok := e.storage[slot]; ok {
			word := v.Word
			s.mu.RUnlock()
			return word, nil
		}
	}
	block := s.block
	s.mu.RUnlock()

	if !haveAccount {
		if _, err := s.Account(ctx, addr); err != nil {
			return common.Hash{}, err
		}
	}

	res, err, _ := s.flight.Do(storageKey(addr, slot), func() (any, error) {
		s.mu.RLock()
		if e, ok := s.accounts[addr]; ok {
			if v, ok := e.storage[slot]; ok {
				word := v.Word
				s.mu.RUnlock()
				return word, nil
			}
		}
		s.mu.RUnlock()

		s.metrics.incStorageFetch()
		word, ferr := s.source.StorageAt(ctx, addr, slot, block)
		if ferr != nil {
			s.metrics.incFetchError()
			return common.Hash{}, fmt.Errorf("%w: storage %s slot %s at block %d: %v", ErrRemoteFetch, addr, slot, block, ferr)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		e, ok := s.accounts[addr]
		if !ok {
			e = newAccountEntry()
			s.accounts[addr] = e
		}
		// A diff may have written the slot while the fetch was in flight;
		// what the diff wrote is newer than what we fetched.
		if v, ok := e.storage[slot]; ok {
			return v.Word, nil
		}
		e.storage[slot] = StorageValue{Word: word, Origin: OriginRemote}
		return word, nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return res.(common.Hash), nil
}

// StorageValue returns the mirrored value with provenance without fetching.
func (s *Store) StorageValue(addr common.Address, slot common.Hash) (StorageValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.accounts[addr]
	if !ok {
		return StorageValue{}, false
	}
	v, ok := e.storage[slot]
	return v, ok
}

// HasAccount reports whether addr is mirrored, without fetching.
func (s *Store) HasAccount(addr common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[addr]
	return ok
}

// CodeByHash is a pure table lookup. Execution engines may only ask for
// hashes the mirror has seen, so an unknown hash is a hard error rather
// than a fetch.
func (s *Store) CodeByHash(hash common.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if hash == emptyCodeHash || hash == (common.Hash{}) {
		return nil, nil
	}
	code, ok := s.codeByHash[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodeHash, hash)
	}
	return code, nil
}

// BlockHash returns the hash of the given block, fetching it on a miss.
func (s *Store) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	s.mu.RLock()
	if h, ok := s.blockHashes[number]; ok {
		s.mu.RUnlock()
		return h, nil
	}
	s.mu.RUnlock()

	res, err, _ := s.flight.Do(blockHashKey(number), func() (any, error) {
		s.mu.RLock()
		if h, ok := s.blockHashes[number]; ok {
			s.mu.RUnlock()
			return h, nil
		}
		s.mu.RUnlock()

		h, ferr := s.source.BlockHashAt(ctx, number)
		if ferr != nil {
			s.metrics.incFetchError()
			return common.Hash{}, fmt.Errorf("%w: block hash %d: %v", ErrRemoteFetch, number, ferr)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.blockHashes[number] = h
		return h, nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return res.(common.Hash), nil
}

// InsertAccountInfo seeds or replaces the info of an account, keeping any
// mirrored storage. Non-empty code is registered in the code table.
func (s *Store) InsertAccountInfo(addr common.Address, info AccountInfo) {
	if len(info.Code) > 0 && info.CodeHash == (common.Hash{}) {
		info.CodeHash = crypto.Keccak256Hash(info.Code)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.accounts[addr]
	if !ok {
		e = newAccountEntry()
		s.accounts[addr] = e
	}
	e.info = info
	s.registerCodeLocked(info.CodeHash, info.Code)
}

// InsertAccountStorage seeds one word, creating the account entry when
// absent. Existing words are overwritten.
func (s *Store) InsertAccountStorage(addr common.Address, slot common.Hash, word common.Hash, origin Origin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.accounts[addr]
	if !ok {
		e = newAccountEntry()
		s.accounts[addr] = e
	}
	e.storage[slot] = StorageValue{Word: word, Origin: origin}
}

// UpdateAccountStorage rewrites an existing word in place, preserving its
// provenance. Both the account and the slot must already be mirrored.
func (s *Store) UpdateAccountStorage(addr common.Address, slot common.Hash, word common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.accounts[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, addr)
	}
	v, ok := e.storage[slot]
	if !ok {
		return fmt.Errorf("%w: %s slot %s", ErrUnknownSlot, addr, slot)
	}
	v.Word = word
	e.storage[slot] = v
	return nil
}

func (s *Store) registerCodeLocked(hash common.Hash, code []byte) {
	if len(code) == 0 || hash == (common.Hash{}) || hash == emptyCodeHash {
		return
	}
	if _, ok := s.codeByHash[hash]; !ok {
		s.codeByHash[hash] = code
	}
}

func accountInfoFromRemote(ra RemoteAccount) AccountInfo {
	info := AccountInfo{
		Balance:  ra.Balance,
		Nonce:    ra.Nonce,
		CodeHash: emptyCodeHash,
	}
	if len(ra.Code) > 0 {
		info.Code = ra.Code
		info.CodeHash = crypto.Keccak256Hash(ra.Code)
	}
	return info
}

func accountKey(addr common.Address) string {
	return "a" + string(addr.Bytes())
}

func storageKey(addr common.Address, slot common.Hash) string {
	return "s" + string(addr.Bytes()) + string(slot.Bytes())
}

func blockHashKey(n uint64) string {
	return fmt.Sprintf("b%d", n)
}
