package registry

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Storage geometry of the mirrored pool contracts. Constant-product pairs
// keep their canonical slots (token0=6, token1=7, packed reserves=8) and
// concentrated pools theirs (slot0=0, liquidity=4, ticks mapping=5, bitmap
// mapping=6). Tick spacing is an immutable on-chain, so the mirror parks it
// in the otherwise unused slot 14. Weighted pool state has no readable
// on-chain layout at the pool address (it lives in the vault), so the
// mirror defines one: balances=2,3 weights=4,5 swap fee=6.
const (
	pairSlotToken0   = 6
	pairSlotToken1   = 7
	pairSlotReserves = 8

	clSlotSlot0       = 0
	clSlotLiquidity   = 4
	clSlotTicks       = 5
	clSlotTickBitmap  = 6
	clSlotTickSpacing = 14

	weightedSlotBalance0 = 2
	weightedSlotBalance1 = 3
	weightedSlotWeight0  = 4
	weightedSlotWeight1  = 5
	weightedSlotSwapFee  = 6
)

const slot0UnlockedBit = 240

var (
	ErrReserveOverflow  = errors.New("registry: reserve exceeds 112 bits")
	ErrLiquidityNetWide = errors.New("registry: net liquidity exceeds 128 bits")
	ErrSqrtPriceWide    = errors.New("registry: sqrt price exceeds 160 bits")
)

var (
	bits24Mask  = bitMask(24)
	bits112Mask = bitMask(112)
	bits128Mask = bitMask(128)
	bits160Mask = bitMask(160)
	twoPow127   = new(uint256.Int).Lsh(uint256.NewInt(1), 127)
	twoPow128   = new(big.Int).Lsh(big.NewInt(1), 128)
)

func bitMask(n uint) *uint256.Int {
	m := new(uint256.Int).Lsh(uint256.NewInt(1), n)
	return m.SubUint64(m, 1)
}

// SlotOf returns the storage key of a small fixed slot index.
func SlotOf(n uint64) common.Hash {
	return common.Hash(uint256.NewInt(n).Bytes32())
}

// AddressWord right-aligns an address into a storage word.
func AddressWord(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// WordAddress reads a right-aligned address back out of a word.
func WordAddress(word common.Hash) common.Address {
	return common.BytesToAddress(word[:])
}

// PackReserves packs two 112-bit reserves into the canonical pair word.
// The 32-bit timestamp field is left zero, quoting never reads it.
func PackReserves(reserve0, reserve1 *uint256.Int) (common.Hash, error) {
	if reserve0.BitLen() > 112 || reserve1.BitLen() > 112 {
		return common.Hash{}, fmt.Errorf("%w: r0=%s r1=%s", ErrReserveOverflow, reserve0, reserve1)
	}
	packed := new(uint256.Int).Lsh(reserve1, 112)
	packed.Or(packed, reserve0)
	return common.Hash(packed.Bytes32()), nil
}

// UnpackReserves splits the canonical pair word back into its reserves.
func UnpackReserves(word common.Hash) (reserve0, reserve1 *uint256.Int) {
	v := new(uint256.Int).SetBytes(word[:])
	reserve0 = new(uint256.Int).And(v, bits112Mask)
	reserve1 = new(uint256.Int).Rsh(v, 112)
	reserve1.And(reserve1, bits112Mask)
	return reserve0, reserve1
}

// PackSlot0 packs the price word of a concentrated pool: sqrtPriceX96 in
// the low 160 bits, the signed 24-bit tick above it, observation fields and
// protocol fee zeroed, unlocked set.
func PackSlot0(sqrtPriceX96 *uint256.Int, tick int32) (common.Hash, error) {
	if sqrtPriceX96.BitLen() > 160 {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrSqrtPriceWide, sqrtPriceX96)
	}
	v := new(uint256.Int).Set(sqrtPriceX96)
	t := new(uint256.Int).SetUint64(uint64(uint32(tick)))
	t.And(t, bits24Mask)
	t.Lsh(t, 160)
	v.Or(v, t)
	v.Or(v, new(uint256.Int).Lsh(uint256.NewInt(1), slot0UnlockedBit))
	return common.Hash(v.Bytes32()), nil
}

// UnpackSlot0 reads sqrtPriceX96 and the sign-extended tick back out.
func UnpackSlot0(word common.Hash) (sqrtPriceX96 *uint256.Int, tick int32) {
	v := new(uint256.Int).SetBytes(word[:])
	sqrtPriceX96 = new(uint256.Int).And(v, bits160Mask)
	raw := new(uint256.Int).Rsh(v, 160)
	raw.And(raw, bits24Mask)
	t := int32(raw.Uint64())
	if t >= 1<<23 {
		t -= 1 << 24
	}
	return sqrtPriceX96, t
}

// PackWord stores a bare unsigned value (liquidity, balances, weights).
func PackWord(v *uint256.Int) common.Hash {
	return common.Hash(v.Bytes32())
}

// UnpackWord reads a bare unsigned value.
func UnpackWord(word common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes(word[:])
}

// signedWord encodes v as a 256-bit two's-complement storage word, matching
// Solidity's abi.encode(int256(v)).
func signedWord(v int64) common.Hash {
	n := new(uint256.Int)
	if v < 0 {
		n.SetUint64(uint64(-v))
		n.Neg(n)
	} else {
		n.SetUint64(uint64(v))
	}
	return common.Hash(n.Bytes32())
}

// TickSlot returns the storage key of the tick-info word for a tick:
// keccak256(int256(tick) ++ uint256(5)).
func TickSlot(tick int32) common.Hash {
	key := signedWord(int64(tick))
	mapping := SlotOf(clSlotTicks)
	return crypto.Keccak256Hash(key[:], mapping[:])
}

// BitmapSlot returns the storage key of a tick-bitmap word:
// keccak256(int256(wordPos) ++ uint256(6)).
func BitmapSlot(wordPos int16) common.Hash {
	key := signedWord(int64(wordPos))
	mapping := SlotOf(clSlotTickBitmap)
	return crypto.Keccak256Hash(key[:], mapping[:])
}

// PackTickNet stores a tick's net liquidity in the high 128 bits of its
// info word, two's complement, where the on-chain struct keeps it.
func PackTickNet(net *big.Int) (common.Hash, error) {
	if net.BitLen() > 127 {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrLiquidityNetWide, net)
	}
	u := new(uint256.Int)
	if net.Sign() < 0 {
		u.SetFromBig(new(big.Int).Neg(net))
		u.Neg(u)
		u.And(u, bits128Mask)
	} else {
		u.SetFromBig(net)
	}
	u.Lsh(u, 128)
	return common.Hash(u.Bytes32()), nil
}

// UnpackTickNet reads the signed net liquidity back out of a tick word.
func UnpackTickNet(word common.Hash) *big.Int {
	u := new(uint256.Int).SetBytes(word[:])
	u.Rsh(u, 128)
	net := u.ToBig()
	if u.Cmp(twoPow127) >= 0 {
		net.Sub(net, twoPow128)
	}
	return net
}
