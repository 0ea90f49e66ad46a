// Package catalog loads pool descriptors for registry bootstrap.
//
// Two sources yield the same []*registry.Pool: a Postgres pools table for
// production deployments and a JSON file for fixtures and small universes.
// Both decode into the shared Record shape, so a descriptor behaves the
// same no matter where it came from.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/dexmirror/dexmirror-go/calculator/v3math"
	"github.com/dexmirror/dexmirror-go/engine"
	"github.com/dexmirror/dexmirror-go/registry"
)

var ErrBadRecord = errors.New("catalog: bad pool record")

// Source yields the descriptors a registry boots from.
type Source interface {
	Load(ctx context.Context) ([]*registry.Pool, error)
}

// Record is the wire shape of one pool descriptor. Addresses are hex
// strings, big numbers decimal strings. Empty optional fields fall back
// to the protocol defaults where one exists.
type Record struct {
	Address   string `json:"address"`
	Protocol  string `json:"protocol"`
	Token0    string `json:"token0"`
	Token1    string `json:"token1"`
	Decimals0 uint8  `json:"decimals0"`
	Decimals1 uint8  `json:"decimals1"`

	// FeeKind is "bps", "pips" or "wad". Empty keeps the protocol default.
	FeeKind  string `json:"fee_kind,omitempty"`
	FeeValue uint64 `json:"fee_value,omitempty"`

	// Constant-product and solidly state.
	Reserve0 string `json:"reserve0,omitempty"`
	Reserve1 string `json:"reserve1,omitempty"`
	Stable   bool   `json:"stable,omitempty"`

	// Concentrated-liquidity state. The tick bitmap is derived from Ticks,
	// descriptors never carry raw words.
	SqrtPriceX96 string       `json:"sqrt_price_x96,omitempty"`
	Tick         int32        `json:"tick,omitempty"`
	TickSpacing  int32        `json:"tick_spacing,omitempty"`
	Liquidity    string       `json:"liquidity,omitempty"`
	Ticks        []TickRecord `json:"ticks,omitempty"`

	// Weighted-pool state.
	Balance0   string `json:"balance0,omitempty"`
	Balance1   string `json:"balance1,omitempty"`
	Weight0    string `json:"weight0,omitempty"`
	Weight1    string `json:"weight1,omitempty"`
	SwapFeeWad string `json:"swap_fee_wad,omitempty"`

	// Externally quoted venues.
	Quoter     string `json:"quoter,omitempty"`
	CoinIndex0 int64  `json:"coin_index0,omitempty"`
	CoinIndex1 int64  `json:"coin_index1,omitempty"`
}

// TickRecord is one initialized tick of a concentrated pool. LiquidityNet
// is a signed decimal string.
type TickRecord struct {
	Index        int32  `json:"index"`
	LiquidityNet string `json:"liquidity_net"`
}

// Pool converts the record into a registry descriptor. It checks syntax
// only; registry.Insert applies the semantic rules.
func (r *Record) Pool() (*registry.Pool, error) {
	protocol, err := engine.ParseProtocol(r.Protocol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	addr, err := parseAddress("address", r.Address)
	if err != nil {
		return nil, err
	}
	token0, err := parseAddress("token0", r.Token0)
	if err != nil {
		return nil, err
	}
	token1, err := parseAddress("token1", r.Token1)
	if err != nil {
		return nil, err
	}
	fee, err := parseFee(r.FeeKind, r.FeeValue)
	if err != nil {
		return nil, err
	}
	quoter, err := parseOptionalAddress("quoter", r.Quoter)
	if err != nil {
		return nil, err
	}

	pool := &registry.Pool{
		Address:     addr,
		Protocol:    protocol,
		Token0:      token0,
		Token1:      token1,
		Decimals0:   r.Decimals0,
		Decimals1:   r.Decimals1,
		Fee:         fee,
		Stable:      r.Stable,
		Tick:        r.Tick,
		TickSpacing: r.TickSpacing,
		Quoter:      quoter,
		CoinIndex0:  r.CoinIndex0,
		CoinIndex1:  r.CoinIndex1,
	}

	amounts := []struct {
		field string
		src   string
		dst   **uint256.Int
	}{
		{"reserve0", r.Reserve0, &pool.Reserve0},
		{"reserve1", r.Reserve1, &pool.Reserve1},
		{"sqrt_price_x96", r.SqrtPriceX96, &pool.SqrtPriceX96},
		{"liquidity", r.Liquidity, &pool.Liquidity},
		{"balance0", r.Balance0, &pool.Balance0},
		{"balance1", r.Balance1, &pool.Balance1},
		{"weight0", r.Weight0, &pool.Weight0},
		{"weight1", r.Weight1, &pool.Weight1},
		{"swap_fee_wad", r.SwapFeeWad, &pool.SwapFeeWad},
	}
	for _, a := range amounts {
		v, err := parseAmount(a.field, a.src)
		if err != nil {
			return nil, err
		}
		*a.dst = v
	}

	if len(r.Ticks) > 0 {
		if r.TickSpacing <= 0 {
			return nil, fmt.Errorf("%w: ticks given without a tick spacing", ErrBadRecord)
		}
		pool.Ticks = make([]registry.TickLevel, 0, len(r.Ticks))
		pool.TickBitmap = make(map[int16]*uint256.Int)
		for _, t := range r.Ticks {
			if t.Index%r.TickSpacing != 0 {
				return nil, fmt.Errorf("%w: tick %d not aligned to spacing %d",
					ErrBadRecord, t.Index, r.TickSpacing)
			}
			net, ok := new(big.Int).SetString(t.LiquidityNet, 10)
			if !ok {
				return nil, fmt.Errorf("%w: tick %d liquidity_net %q",
					ErrBadRecord, t.Index, t.LiquidityNet)
			}
			pool.Ticks = append(pool.Ticks, registry.TickLevel{Index: t.Index, LiquidityNet: net})
			setBitmapBit(pool.TickBitmap, v3math.Compress(t.Index, r.TickSpacing))
		}
	}

	return pool, nil
}

// setBitmapBit marks one compressed tick as initialized, mirroring how the
// venue's TickBitmap library stores it: word index from the high bits,
// bit position from the low eight.
func setBitmapBit(bitmap map[int16]*uint256.Int, compressed int32) {
	wordPos := int16(compressed >> 8)
	bit := uint(compressed & 255)
	word := bitmap[wordPos]
	if word == nil {
		word = new(uint256.Int)
		bitmap[wordPos] = word
	}
	var mask uint256.Int
	mask.Lsh(uint256.NewInt(1), bit)
	word.Or(word, &mask)
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", ErrBadRecord, field, s)
	}
	return common.HexToAddress(s), nil
}

func parseOptionalAddress(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, s)
}

func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrBadRecord, field, s, err)
	}
	return v, nil
}

func parseFee(kind string, value uint64) (engine.Fee, error) {
	switch kind {
	case "":
		if value != 0 {
			return engine.Fee{}, fmt.Errorf("%w: fee value %d without a fee kind", ErrBadRecord, value)
		}
		return engine.Fee{}, nil
	case "bps":
		return engine.NewBpsFee(value), nil
	case "pips":
		return engine.NewPipsFee(value), nil
	case "wad":
		return engine.NewWadFee(value), nil
	default:
		return engine.Fee{}, fmt.Errorf("%w: unknown fee kind %q", ErrBadRecord, kind)
	}
}

func buildPools(records []Record) ([]*registry.Pool, error) {
	pools := make([]*registry.Pool, 0, len(records))
	for i, rec := range records {
		pool, err := rec.Pool()
		if err != nil {
			return nil, fmt.Errorf("record %d (%s): %w", i, rec.Address, err)
		}
		pools = append(pools, pool)
	}
	return pools, nil
}
