// quoted mirrors on-chain DEX state and serves swap quotes from it.
//
// It boots a pool universe from a catalog (JSON file or Postgres), pins a
// state mirror to the current head, then follows new blocks over a
// websocket subscription, applying prestate-diff traces and invalidating
// quotes for the pools each block touched.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dexmirror/dexmirror-go/calculator"
	"github.com/dexmirror/dexmirror-go/catalog"
	"github.com/dexmirror/dexmirror-go/engine"
	"github.com/dexmirror/dexmirror-go/market"
	"github.com/dexmirror/dexmirror-go/registry"
	"github.com/dexmirror/dexmirror-go/remote"
	"github.com/dexmirror/dexmirror-go/statedb"
	"github.com/dexmirror/dexmirror-go/streams"
)

func main() {
	root := &cobra.Command{
		Use:          "quoted",
		Short:        "DEX quote daemon over a mirrored chain state",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Mirror the chain head and serve quotes",
		RunE:  runQuoted,
	}
	runCmd.Flags().String("ws-url", "", "websocket node endpoint for head and trace streaming")
	runCmd.Flags().String("rpc-url", "", "node endpoint for state read-through (defaults to ws-url)")
	runCmd.Flags().String("catalog", "", "JSON pool catalog path")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for the pools table")
	runCmd.Flags().Uint64("chain-id", 8453, "chain id selecting Postgres catalog rows")
	runCmd.Flags().String("metrics-addr", ":9090", "prometheus listen address")
	runCmd.Flags().Uint("event-buffer", 16, "touched-pool event buffer size")
	runCmd.Flags().Duration("timeout", 15*time.Second, "remote call timeout")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(runCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a pool catalog and exit",
		RunE:  runCheck,
	}
	checkCmd.Flags().String("catalog", "", "JSON pool catalog path")
	checkCmd.Flags().String("pg-dsn", "", "Postgres DSN for the pools table")
	checkCmd.Flags().Uint64("chain-id", 8453, "chain id selecting Postgres catalog rows")
	checkCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(checkCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runQuoted(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	zlog, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zlog.Sync()
	logger := &zapLogger{s: zlog.Sugar()}

	if cfg.WSURL == "" {
		return errors.New("ws-url is required")
	}
	rpcURL := cfg.RPCURL
	if rpcURL == "" {
		rpcURL = cfg.WSURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registerer := prometheus.DefaultRegisterer

	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	defer rpcClient.Close()

	source, err := remote.New(&remote.Config{
		Client:     rpcClient,
		Logger:     logger,
		Registerer: registerer,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return err
	}

	head, err := source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read chain head: %w", err)
	}

	store, err := statedb.New(&statedb.Config{
		Source:       source,
		Logger:       logger,
		Registerer:   registerer,
		InitialBlock: head,
	})
	if err != nil {
		return err
	}
	reg, err := registry.New(&registry.Config{Store: store, Logger: logger, Registerer: registerer})
	if err != nil {
		return err
	}

	pools, err := loadCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}

	inserted, external := 0, 0
	for _, pool := range pools {
		if err := reg.Insert(pool); err != nil {
			logger.Warn("skipping pool", "pool", pool.Address, "err", err)
			continue
		}
		if pool.Protocol.Family() == engine.FamilyExternal {
			external++
		}
		inserted++
	}
	if inserted == 0 {
		return errors.New("catalog yielded no usable pools")
	}
	if external > 0 {
		logger.Warn("no execution engine in this build, external-invariant quotes will fail",
			"pools", external)
	}

	calc, err := calculator.New(&calculator.Config{Store: store, Logger: logger, Registerer: registerer})
	if err != nil {
		return err
	}
	m, err := market.New(&market.Config{
		Store:      store,
		Registry:   reg,
		Calculator: calc,
		Cache:      calculator.NewQuoteCache(registerer, inserted),
		Logger:     logger,
		Registerer: registerer,
	})
	if err != nil {
		return err
	}

	logger.Info("warming mirror", "pools", inserted, "block", head)
	if err := m.Warmup(ctx); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}

	syncer, err := streams.New(&streams.Config{
		URL:        cfg.WSURL,
		Sink:       m,
		Logger:     logger,
		Registerer: registerer,
		LastSynced: head,
		BufferSize: cfg.EventBuffer,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return err
	}

	metricsSrv := serveMetrics(cfg.MetricsAddr, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}()

	go func() {
		for ev := range syncer.Events() {
			logger.Debug("pools touched", "block", ev.Block, "pools", len(ev.Pools))
		}
	}()

	logger.Info("quote daemon up",
		"ws", cfg.WSURL, "pools", inserted, "head", head, "metrics", cfg.MetricsAddr)
	if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	zlog, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zlog.Sync()
	logger := &zapLogger{s: zlog.Sugar()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pools, err := loadCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Run every descriptor through the registry's own checks against a
	// throwaway mirror, so a green check means the daemon will accept it.
	store, err := statedb.New(&statedb.Config{Source: offlineSource{}, Logger: logger})
	if err != nil {
		return err
	}
	reg, err := registry.New(&registry.Config{Store: store, Logger: logger})
	if err != nil {
		return err
	}

	byProtocol := make(map[string]int)
	bad := 0
	for _, pool := range pools {
		if err := reg.Insert(pool); err != nil {
			logger.Error("bad pool", "pool", pool.Address, "err", err)
			bad++
			continue
		}
		byProtocol[pool.Protocol.String()]++
	}
	for protocol, n := range byProtocol {
		logger.Info("catalog pools", "protocol", protocol, "count", n)
	}
	if bad > 0 {
		return fmt.Errorf("catalog check failed for %d of %d pools", bad, len(pools))
	}
	logger.Info("catalog ok", "pools", len(pools))
	return nil
}

func loadCatalog(ctx context.Context, cfg Config, logger engine.Logger) ([]*registry.Pool, error) {
	switch {
	case cfg.CatalogPath != "" && cfg.PostgresDSN != "":
		return nil, errors.New("choose one of --catalog and --pg-dsn")
	case cfg.CatalogPath != "":
		return catalog.NewFileSource(cfg.CatalogPath).Load(ctx)
	case cfg.PostgresDSN != "":
		src, err := catalog.NewPostgresSource(ctx, &catalog.PostgresConfig{
			DSN:     cfg.PostgresDSN,
			ChainID: cfg.ChainID,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		defer src.Close()
		return src.Load(ctx)
	default:
		return nil, errors.New("one of --catalog and --pg-dsn is required")
	}
}

func serveMetrics(addr string, logger engine.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	return srv
}

// offlineSource serves the catalog check, where no chain is available and
// none is needed.
type offlineSource struct{}

func (offlineSource) AccountAt(context.Context, common.Address, uint64) (statedb.RemoteAccount, error) {
	return statedb.RemoteAccount{}, nil
}

func (offlineSource) StorageAt(context.Context, common.Address, common.Hash, uint64) (common.Hash, error) {
	return common.Hash{}, nil
}

func (offlineSource) BlockHashAt(context.Context, uint64) (common.Hash, error) {
	return common.Hash{}, nil
}
