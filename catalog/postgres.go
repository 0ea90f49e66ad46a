package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dexmirror/dexmirror-go/engine"
	"github.com/dexmirror/dexmirror-go/registry"
)

// Optional columns hold empty strings or zeros rather than NULLs, so
// every row scans into the same flat Record. Tick lists are a file-source
// concern; pools loaded from Postgres start with uniform liquidity until
// the first block diff fills their tick words in.
const poolsQuery = `
SELECT address, protocol, token0, token1, decimals0, decimals1,
       fee_kind, fee_value,
       reserve0, reserve1, stable,
       sqrt_price_x96, tick, tick_spacing, liquidity,
       balance0, balance1, weight0, weight1, swap_fee_wad,
       quoter, coin_index0, coin_index1
FROM pools
WHERE chain_id = $1
ORDER BY address`

// PostgresConfig wires a PostgresSource.
type PostgresConfig struct {
	// DSN is the connection string. Required.
	DSN string

	// ChainID selects which chain's rows to load. Required.
	ChainID uint64

	// Logger is required.
	Logger engine.Logger
}

func (c *PostgresConfig) validate() error {
	if c.DSN == "" {
		return errors.New("config: DSN is required")
	}
	if c.ChainID == 0 {
		return errors.New("config: ChainID is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// PostgresSource loads descriptors from a pools table.
type PostgresSource struct {
	db      *pgxpool.Pool
	chainID uint64
	logger  engine.Logger
}

func NewPostgresSource(ctx context.Context, cfg *PostgresConfig) (*PostgresSource, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	db, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("catalog: connect postgres: %w", err)
	}
	return &PostgresSource{db: db, chainID: cfg.ChainID, logger: cfg.Logger}, nil
}

// Close releases the connection pool.
func (s *PostgresSource) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Load runs one scan over the pools table.
func (s *PostgresSource) Load(ctx context.Context) ([]*registry.Pool, error) {
	rows, err := s.db.Query(ctx, poolsQuery, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("catalog: query pools: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.Address, &rec.Protocol, &rec.Token0, &rec.Token1,
			&rec.Decimals0, &rec.Decimals1,
			&rec.FeeKind, &rec.FeeValue,
			&rec.Reserve0, &rec.Reserve1, &rec.Stable,
			&rec.SqrtPriceX96, &rec.Tick, &rec.TickSpacing, &rec.Liquidity,
			&rec.Balance0, &rec.Balance1, &rec.Weight0, &rec.Weight1, &rec.SwapFeeWad,
			&rec.Quoter, &rec.CoinIndex0, &rec.CoinIndex1,
		); err != nil {
			return nil, fmt.Errorf("catalog: scan pool row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: read pools: %w", err)
	}

	s.logger.Info("loaded pool catalog", "chain", s.chainID, "pools", len(records))
	return buildPools(records)
}
