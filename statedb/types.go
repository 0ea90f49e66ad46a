package statedb

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Origin records where a mirrored storage word came from. Chain-faithful
// words and locally fabricated ones (primed balances, injected bytecode)
// must stay distinguishable so that fabrications are never mistaken for
// on-chain truth.
type Origin uint8

const (
	// OriginRemote marks words fetched from the chain or applied from a
	// block diff.
	OriginRemote Origin = iota
	// OriginSynthetic marks words fabricated locally.
	OriginSynthetic
)

func (o Origin) String() string {
	switch o {
	case OriginRemote:
		return "remote"
	case OriginSynthetic:
		return "synthetic"
	default:
		return "origin(?)"
	}
}

// AccountInfo is the non-storage half of a mirrored account.
type AccountInfo struct {
	Balance  uint256.Int
	Nonce    uint64
	CodeHash common.Hash
	Code     []byte
}

// StorageValue is one mirrored storage word plus its provenance.
type StorageValue struct {
	Word   common.Hash
	Origin Origin
}

// RemoteAccount is what a Source returns for an account lookup.
type RemoteAccount struct {
	Balance uint256.Int
	Nonce   uint64
	Code    []byte
}

// Source is the remote data provider the mirror reads through on a miss.
// Implementations are adapters over one concrete data source each and know
// nothing about any execution engine. All lookups are pinned to a block.
type Source interface {
	AccountAt(ctx context.Context, addr common.Address, block uint64) (RemoteAccount, error)
	StorageAt(ctx context.Context, addr common.Address, slot common.Hash, block uint64) (common.Hash, error)
	BlockHashAt(ctx context.Context, block uint64) (common.Hash, error)
}

// Reader is the read surface consumed by calculators and the execution
// adapter. *Store implements it.
type Reader interface {
	Account(ctx context.Context, addr common.Address) (AccountInfo, error)
	Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
	CodeByHash(hash common.Hash) ([]byte, error)
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
}

// emptyCodeHash is keccak256 of zero bytes, the code hash of an EOA.
var emptyCodeHash = crypto.Keccak256Hash(nil)

// accountEntry is the mirror's unit of account state. Entries are only ever
// touched under the store lock.
type accountEntry struct {
	info    AccountInfo
	storage map[common.Hash]StorageValue
}

func newAccountEntry() *accountEntry {
	return &accountEntry{storage: make(map[common.Hash]StorageValue)}
}
