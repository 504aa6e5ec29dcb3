package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Cinglein/temporal-data/internal/domain"
	"github.com/Cinglein/temporal-data/internal/ingestion"
	"github.com/Cinglein/temporal-data/internal/observability"
	"github.com/Cinglein/temporal-data/internal/slottime"
	"github.com/Cinglein/temporal-data/internal/solana"
	"github.com/Cinglein/temporal-data/internal/storage"
	chstore "github.com/Cinglein/temporal-data/internal/storage/clickhouse"
	"github.com/Cinglein/temporal-data/internal/storage/memory"
	"github.com/Cinglein/temporal-data/internal/storage/migrations"
	pgstore "github.com/Cinglein/temporal-data/internal/storage/postgres"
)

func main() {
	rpcEndpoint := flag.String("rpc-endpoint", envOr("RPC", ""), "Solana RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", envOr("WS", ""), "Solana WebSocket endpoint")
	rpcKey := flag.String("rpc-key", envOr("RPC_KEY", ""), "RPC provider API key, appended to endpoints")
	target := flag.String("target", envOr("TARGET", ""), "Feepayer account to track")
	commitment := flag.String("commitment", envOr("COMMITMENT", solana.CommitmentConfirmed), "Commitment level: processed, confirmed, or finalized")
	postgresDSN := flag.String("postgres-dsn", envOr("DATABASE_URL", ""), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", envOr("CLICKHOUSE_URL", ""), "ClickHouse connection string (used instead of PostgreSQL)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of a database")
	batchSize := flag.Int("batch-size", ingestion.DefaultBatchSize, "Maximum events per bulk insert")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	logger := log.New(os.Stdout, "[tracker] ", log.LstdFlags|log.Lshortfile)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err := run(ctx, logger, options{
		rpcEndpoint:   withKey(*rpcEndpoint, *rpcKey),
		wsEndpoint:    withKey(*wsEndpoint, *rpcKey),
		target:        *target,
		commitment:    *commitment,
		postgresDSN:   *postgresDSN,
		clickhouseDSN: *clickhouseDSN,
		useMemory:     *useMemory,
		batchSize:     *batchSize,
	})

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

type options struct {
	rpcEndpoint   string
	wsEndpoint    string
	target        string
	commitment    string
	postgresDSN   string
	clickhouseDSN string
	useMemory     bool
	batchSize     int
}

// run wires the pipeline and blocks until the stream ends or ctx is cancelled.
func run(ctx context.Context, logger *log.Logger, opts options) error {
	if opts.rpcEndpoint == "" {
		return fmt.Errorf("--rpc-endpoint is required")
	}
	if opts.wsEndpoint == "" {
		return fmt.Errorf("--ws-endpoint is required")
	}
	if opts.target == "" {
		return fmt.Errorf("--target is required")
	}
	if !opts.useMemory && opts.postgresDSN == "" && opts.clickhouseDSN == "" {
		return fmt.Errorf("--postgres-dsn or --clickhouse-dsn is required (use --use-memory for in-memory storage)")
	}

	// Startup health check; failures here are fatal, unlike anything after.
	rpc := solana.NewHTTPClient(opts.rpcEndpoint)
	if err := rpc.GetHealth(ctx); err != nil {
		return fmt.Errorf("rpc health check: %w", err)
	}

	var txStore storage.TxStore = memory.NewTxStore()
	switch {
	case opts.useMemory:
		logger.Println("Using in-memory storage")
	case opts.clickhouseDSN != "":
		conn, err := chstore.NewConn(ctx, opts.clickhouseDSN)
		if err != nil {
			return fmt.Errorf("connect to clickhouse: %w", err)
		}
		defer conn.Close()
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			return fmt.Errorf("run clickhouse migrations: %w", err)
		}
		txStore = chstore.NewTxStore(conn)
	default:
		pool, err := pgstore.NewPool(ctx, opts.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}
		txStore = pgstore.NewTxStore(pool)
	}

	resolver, err := slottime.NewResolver(rpc)
	if err != nil {
		return fmt.Errorf("create slot-time resolver: %w", err)
	}

	wsConfig := solana.DefaultWSConfig()
	wsConfig.Commitment = opts.commitment
	ws, err := solana.NewWSClient(ctx, opts.wsEndpoint, &wsConfig)
	if err != nil {
		return fmt.Errorf("create websocket client: %w", err)
	}
	defer ws.Close()

	queue := make(chan *domain.RawTx, ingestion.QueueCapacity)

	writer := ingestion.NewBatchWriter(ingestion.BatchWriterOptions{
		Queue:     queue,
		Resolver:  resolver,
		Store:     txStore,
		BatchSize: opts.batchSize,
		Logger:    logger,
	})
	writer.Start(context.Background())

	subscriber := ingestion.NewSubscriber(ingestion.SubscriberOptions{
		WS:       ws,
		Resolver: resolver,
		Queue:    queue,
		Target:   opts.target,
		Logger:   logger,
	})

	logger.Printf("Tracking %s...", opts.target)
	subErr := subscriber.Run(ctx)

	// The subscriber closed the queue; let the writer drain what's left.
	if err := writer.Wait(); err != nil {
		logger.Printf("Batch writer error: %v", err)
	}

	return subErr
}

// envOr returns the environment value for key, or fallback if unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// withKey appends a provider API key as the final path segment, matching
// providers that authenticate via URL.
func withKey(endpoint, key string) string {
	if endpoint == "" || key == "" {
		return endpoint
	}
	return strings.TrimSuffix(endpoint, "/") + "/" + key
}
