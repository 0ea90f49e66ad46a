package statedb

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	engine "github.com/dexmirror/dexmirror-go/engine"
)

// ApplyBlockDiff applies one block's state changes to the mirror and
// advances the pinned block. Only tracked addresses are applied; the rest
// of the diff is skipped. The whole diff is applied under the write lock,
// so readers see either the old block or the new one, never a mix.
//
// Diffs must arrive in strictly increasing block order. A duplicate or
// out-of-order diff is rejected with ErrStaleBlockDiff and the mirror is
// left untouched.
//
// The returned slice holds the tracked addresses that actually changed, for
// quote-cache invalidation and downstream consumers.
func (s *Store) ApplyBlockDiff(diff *engine.BlockDiff) ([]common.Address, error) {
	timer := s.metrics.applyTimer()
	defer timer.ObserveDuration()

	s.mu.Lock()
	defer s.mu.Unlock()

	if diff.Number <= s.block {
		s.metrics.incDiffRejected()
		return nil, fmt.Errorf("%w: diff for block %d, mirror at %d", ErrStaleBlockDiff, diff.Number, s.block)
	}

	var touched []common.Address
	for addr, ad := range diff.Accounts {
		if _, ok := s.tracked[addr]; !ok {
			continue
		}
		s.applyAccountDiffLocked(addr, ad, OriginRemote)
		touched = append(touched, addr)
	}

	s.block = diff.Number
	if diff.Hash != (common.Hash{}) {
		s.blockHashes[diff.Number] = diff.Hash
	}

	s.metrics.observeDiff(diff.Number)
	s.logger.Debug("applied block diff",
		"block", diff.Number,
		"touched", len(touched),
		"skipped", len(diff.Accounts)-len(touched),
	)
	return touched, nil
}

// CommitExecution merges the state changes of a completed read-write
// execution into the mirror. Unlike ApplyBlockDiff it is not restricted to
// tracked addresses and does not advance the block: it exists for local
// fabrications such as warmup approvals and quoter deployment.
//
// Selfdestructed accounts keep their entry but lose storage and info.
// Newly created accounts have their storage cleared before the writes
// apply. Everything written here is OriginSynthetic; fresh code lands in
// the code-by-hash table.
func (s *Store) CommitExecution(changes map[common.Address]engine.AccountDiff) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for addr, ch := range changes {
		if ch.Selfdestructed {
			if e, ok := s.accounts[addr]; ok {
				e.storage = make(map[common.Hash]StorageValue)
				e.info = AccountInfo{CodeHash: emptyCodeHash}
			}
			continue
		}
		e, ok := s.accounts[addr]
		if !ok {
			e = newAccountEntry()
			s.accounts[addr] = e
		}
		if ch.Created {
			e.storage = make(map[common.Hash]StorageValue)
		}
		s.mergeAccountDiffLocked(e, ch, OriginSynthetic)
	}
	s.metrics.incCommit()
}

// applyAccountDiffLocked applies ad to the entry for addr, creating the
// entry if the address was tracked but never read.
func (s *Store) applyAccountDiffLocked(addr common.Address, ad engine.AccountDiff, origin Origin) {
	e, ok := s.accounts[addr]
	if !ok {
		e = newAccountEntry()
		s.accounts[addr] = e
	}
	s.mergeAccountDiffLocked(e, ad, origin)
}

func (s *Store) mergeAccountDiffLocked(e *accountEntry, ad engine.AccountDiff, origin Origin) {
	for slot, word := range ad.Storage {
		e.storage[slot] = StorageValue{Word: word, Origin: origin}
		s.metrics.incSlotUpdate()
	}
	if ad.Balance != nil {
		e.info.Balance = *ad.Balance
	}
	if ad.Nonce != nil {
		e.info.Nonce = *ad.Nonce
	}
	if len(ad.Code) > 0 {
		e.info.Code = ad.Code
		e.info.CodeHash = crypto.Keccak256Hash(ad.Code)
		s.registerCodeLocked(e.info.CodeHash, ad.Code)
	}
}
