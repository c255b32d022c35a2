package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"stablecoin-transfers/internal/config"
	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/observability"
	"stablecoin-transfers/internal/runner"
	"stablecoin-transfers/internal/storage"
	chstore "stablecoin-transfers/internal/storage/clickhouse"
	pgstore "stablecoin-transfers/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	chains := flag.String("chain", "solana,ethereum", "Comma-separated chains to backfill")
	postgresDSN := flag.String("postgres-dsn", cfg.Postgres.DSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickHouse.DSN, "ClickHouse mirror connection string (empty to skip mirroring)")
	batchSize := flag.Int("batch-size", runner.DefaultEnrichBatchSize, "Rows scanned per page")
	logLevel := flag.String("log-level", cfg.Log.Level, "Log level: debug, info, warn, error")

	flag.Parse()

	logger, err := observability.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, logger, *postgresDSN, *clickhouseDSN, *chains, *batchSize)
	stop()

	if err != nil {
		logger.Error("enrichment failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(ctx context.Context, logger *zap.Logger, dsn, mirrorDSN, chains string, batchSize int) error {
	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	var mirror storage.TransferMirror
	if mirrorDSN != "" {
		conn, err := chstore.NewConn(ctx, mirrorDSN)
		if err != nil {
			return fmt.Errorf("connect to clickhouse: %w", err)
		}
		defer conn.Close()
		mirror = chstore.NewTransferMirror(conn)
	}

	enricher := runner.NewEnricher(pgstore.NewTransferStore(pool), pgstore.NewTagStore(pool), mirror, batchSize, logger)

	for _, c := range strings.Split(chains, ",") {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" {
			continue
		}
		chain := domain.Chain(c)
		if !chain.IsValid() {
			return fmt.Errorf("unknown chain %q", c)
		}
		res, err := enricher.Enrich(ctx, chain)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d rows scanned, %d rows updated, %d mirror failures\n", chain, res.Scanned, res.Updated, res.MirrorFailures)
	}
	return nil
}
