package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"stablecoin-transfers/internal/config"
	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/evm"
	"stablecoin-transfers/internal/extraction"
	"stablecoin-transfers/internal/observability"
	"stablecoin-transfers/internal/runner"
	"stablecoin-transfers/internal/solana"
	"stablecoin-transfers/internal/storage"
	chstore "stablecoin-transfers/internal/storage/clickhouse"
	"stablecoin-transfers/internal/storage/memory"
	"stablecoin-transfers/internal/storage/migrations"
	pgstore "stablecoin-transfers/internal/storage/postgres"
	redisstore "stablecoin-transfers/internal/storage/redis"
)

// exitPartial is returned with --strict when some units failed.
const exitPartial = 2

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	chains := flag.String("chain", "", "Comma-separated chains to extract (default: all in registry)")
	tokens := flag.String("token", "", "Comma-separated token symbols (overrides exclusions)")
	lookback := flag.Duration("lookback", cfg.Run.Lookback, "Extraction window ending now")
	tokensFile := flag.String("tokens-file", cfg.Run.TokensFile, "YAML token registry (default: built-in)")
	includeExcluded := flag.Bool("include-excluded", false, "Also extract tokens excluded by default")
	migrate := flag.Bool("migrate", false, "Apply embedded migrations before running")
	follow := flag.Bool("follow", false, "After the batch run, stream new Solana transfers until interrupted")
	strict := flag.Bool("strict", false, "Exit non-zero when any unit failed")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", cfg.Metrics.Addr, "Prometheus metrics HTTP address (empty to disable)")
	logLevel := flag.String("log-level", cfg.Log.Level, "Log level: debug, info, warn, error")

	flag.Parse()

	logger, err := observability.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		go serveMetrics(logger, *metricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	code := run(ctx, logger, cfg, runFlags{
		chains:          splitList(*chains),
		tokens:          splitList(*tokens),
		lookback:        *lookback,
		tokensFile:      *tokensFile,
		includeExcluded: *includeExcluded,
		migrate:         *migrate,
		follow:          *follow,
		strict:          *strict,
		useMemory:       *useMemory,
	})

	close(done)
	cancel()
	logger.Sync()
	os.Exit(code)
}

type runFlags struct {
	chains          []string
	tokens          []string
	lookback        time.Duration
	tokensFile      string
	includeExcluded bool
	migrate         bool
	follow          bool
	strict          bool
	useMemory       bool
}

// run executes one extraction run (and follow mode if requested) and
// returns the process exit code.
func run(ctx context.Context, logger *zap.Logger, cfg *config.Config, f runFlags) int {
	registry, err := loadRegistry(f.tokensFile)
	if err != nil {
		logger.Error("load token registry", zap.Error(err))
		return 1
	}
	selected, err := selectTokens(registry, f.chains, f.tokens, f.includeExcluded)
	if err != nil {
		logger.Error("select tokens", zap.Error(err))
		return 1
	}

	st, err := openSinks(ctx, logger, cfg, f.useMemory, f.migrate)
	if err != nil {
		logger.Error("open storage", zap.Error(err))
		return 1
	}
	defer st.Close()

	opts := runner.Options{
		Transfers:        st.transfers,
		Tags:             st.tags,
		Mirror:           st.mirror,
		EVM:              make(map[domain.Chain]runner.EVMSource),
		TokenConcurrency: cfg.Run.TokenConcurrency,
		Logger:           logger,
	}

	rpc := solana.NewHTTPClient(cfg.Solana.RPCURL,
		solana.WithTimeout(cfg.Solana.Timeout),
		solana.WithRateLimit(cfg.Solana.RateLimit, cfg.Solana.RateBurst),
		solana.WithLogger(logger),
	)
	opts.Solana = &runner.SolanaSource{
		RPC: rpc,
		Options: extraction.SolanaOptions{
			Paginator:    extraction.PaginatorOptions{PageSize: cfg.Solana.PageSize, MaxPages: cfg.Solana.MaxPages},
			ScanPrograms: cfg.Solana.ScanPrograms,
		},
	}
	if st.owners != nil {
		opts.Solana.OwnerCache = st.owners
	}

	if len(selected[domain.ChainEthereum]) > 0 {
		if cfg.EVM.EthereumRPCURL == "" {
			logger.Warn("ETH_RPC_URL not set, ethereum tokens will fail")
		} else {
			client, err := evm.Dial(ctx, cfg.EVM.EthereumRPCURL)
			if err != nil {
				logger.Error("dial ethereum rpc", zap.Error(err))
				return 1
			}
			defer client.Close()
			opts.EVM[domain.ChainEthereum] = runner.EVMSource{Client: client, BlocksPerHour: cfg.EVM.BlocksPerHour}
		}
	}

	r := runner.New(opts)
	result, err := r.Run(ctx, selected, f.lookback)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		return 1
	}

	for chain, s := range result.Chains {
		fmt.Printf("%s: %d new transfers (%d tags filled, %d tokens failed)\n", chain, s.Inserted, s.TagsFilled, s.Failed)
	}

	if f.follow {
		if err := followSolana(ctx, logger, cfg, r, selected[domain.ChainSolana]); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("follow mode stopped", zap.Error(err))
			return 1
		}
	}

	if f.strict && result.PartialFailures > 0 {
		logger.Warn("partial failures with --strict", zap.Int("partial_failures", result.PartialFailures))
		return exitPartial
	}
	return 0
}

func followSolana(ctx context.Context, logger *zap.Logger, cfg *config.Config, r *runner.Runner, tokens []domain.Token) error {
	if len(tokens) == 0 {
		return fmt.Errorf("--follow needs at least one solana token")
	}
	if cfg.Solana.WSURL == "" {
		return fmt.Errorf("SOLANA_WS_URL is required for --follow")
	}

	wsCfg := solana.DefaultWSConfig()
	wsCfg.Logger = logger
	ws, err := solana.NewWSClient(ctx, cfg.Solana.WSURL, &wsCfg)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer ws.Close()

	return r.Follow(ctx, ws, tokens, extraction.FollowerOptions{Logger: logger})
}

// sinks bundles the storage backends of a run.
type sinks struct {
	transfers storage.TransferStore
	tags      storage.TagReader
	mirror    storage.TransferMirror
	owners    *redisstore.OwnerCache
	closers   []func()
}

func (s *sinks) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openSinks(ctx context.Context, logger *zap.Logger, cfg *config.Config, useMemory, migrate bool) (*sinks, error) {
	s := &sinks{}

	if useMemory {
		s.transfers = memory.NewTransferStore()
		s.tags = memory.NewTagStore()
		logger.Warn("using in-memory storage, results are discarded on exit")
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)

		if migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
				s.Close()
				return nil, err
			}
		}
		s.transfers = pgstore.NewTransferStore(pool)
		s.tags = pgstore.NewTagStore(pool)

		if cfg.ClickHouse.DSN != "" {
			var conn *chstore.Conn
			if migrate {
				conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN, logger)
			} else {
				conn, err = chstore.NewConn(ctx, cfg.ClickHouse.DSN)
			}
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("connect to clickhouse: %w", err)
			}
			s.closers = append(s.closers, func() { _ = conn.Close() })
			s.mirror = chstore.NewTransferMirror(conn)
		}
	}

	if cfg.Redis.URL != "" {
		owners, err := redisstore.NewOwnerCache(ctx, cfg.Redis.URL, cfg.Redis.OwnerTTL, logger)
		if err != nil {
			// Owners are still resolved over RPC without the shared cache.
			logger.Warn("redis owner cache unavailable", zap.Error(err))
		} else {
			s.owners = owners
			s.closers = append(s.closers, func() { _ = owners.Close() })
		}
	}
	return s, nil
}

func loadRegistry(path string) (*config.Registry, error) {
	if path == "" {
		return config.DefaultRegistry(), nil
	}
	return config.LoadRegistry(path)
}

// selectTokens resolves the chains and symbols requested on the command line.
func selectTokens(registry *config.Registry, chains, symbols []string, includeExcluded bool) (map[domain.Chain][]domain.Token, error) {
	wanted := registry.ChainList()
	if len(chains) > 0 {
		wanted = wanted[:0]
		for _, c := range chains {
			chain := domain.Chain(strings.ToLower(c))
			if _, ok := registry.Chains[chain]; !ok {
				return nil, fmt.Errorf("chain %q not in token registry", c)
			}
			wanted = append(wanted, chain)
		}
	}

	out := make(map[domain.Chain][]domain.Token, len(wanted))
	total := 0
	for _, chain := range wanted {
		tokens := registry.Tokens(chain, includeExcluded, symbols...)
		if len(tokens) > 0 {
			out[chain] = tokens
			total += len(tokens)
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("no tokens selected")
	}
	return out, nil
}

func serveMetrics(logger *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	logger.Info("starting metrics server", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", zap.Error(err))
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
