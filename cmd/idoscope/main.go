package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"idoScope/internal/metrics"
)

func main() {
	root := &cobra.Command{
		Use:          "idoscope",
		Short:        "IDO sale pool ledger, simulator and indexer",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(newSimulateCmd(), newIndexCmd(), newDecodeCmd(), newAggregateCmd(), newQuoteCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a YAML scenario through the sale ledger",
		RunE:  runSimulate,
	}
	cmd.Flags().String("scenario", "", "scenario YAML path")
	cmd.Flags().String("out", "./data/sim_logs.jsonl", "output raw log JSONL")
	cmd.Flags().Bool("append", false, "append to the output instead of truncating")
	cmd.Flags().String("report", "", "optional JSON report path")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Fetch IDO contract logs from an RPC endpoint",
		RunE:  runIndex,
	}
	cmd.Flags().String("rpc", "", "EVM RPC URL")
	cmd.Flags().Uint64("from", 0, "start block (inclusive)")
	cmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest minus confirmations")
	cmd.Flags().Uint64("confirmations", 0, "blocks to stay behind the head when --to is 0")
	cmd.Flags().StringSlice("address", nil, "sale contract addresses (comma-separated)")
	cmd.Flags().StringSlice("topic0", nil, "event names or topic0 hashes, default all IDO events")
	cmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	cmd.Flags().String("out", "./data/logs.jsonl", "output JSONL path")
	cmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	cmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs into typed IDO events",
		RunE:  runDecode,
	}
	cmd.Flags().String("in", "", "input raw logs JSONL")
	cmd.Flags().String("out", "./data/typed_events.jsonl", "output typed events JSONL")
	cmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	cmd.Flags().String("topic0-map", "", "extra topic0=EventName aliases (comma-separated)")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func newAggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate typed events into per-pool window metrics",
		RunE:  runAggregate,
	}
	cmd.Flags().String("rpc", "", "optional EVM RPC URL for token decimals")
	cmd.Flags().String("in", "", "input typed events JSONL")
	cmd.Flags().String("window", "1h", "aggregation window (e.g. 5m, 1h)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().Int("batch-size", 1000, "batch size for DB writes")
	cmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	cmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	cmd.Flags().Bool("migrate", true, "create tables when missing")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a purchase against a pool described by flags",
		RunE:  runQuote,
	}
	cmd.Flags().String("curve", "default", "pricing curve (default, linear)")
	cmd.Flags().String("price", "", "default curve price, base tokens per sale token")
	cmd.Flags().String("start-price", "", "linear curve price at zero sold")
	cmd.Flags().String("end-price", "", "linear curve price at the full offering")
	cmd.Flags().String("limit", "", "per-purchase sale token limit")
	cmd.Flags().String("offering", "", "sale tokens offered")
	cmd.Flags().String("sold", "0", "sale tokens already sold")
	cmd.Flags().String("amount", "", "base tokens paid")
	cmd.Flags().Bool("referred", false, "buyer has a referrer")
	cmd.Flags().Uint8("sale-decimals", 18, "sale token decimals")
	cmd.Flags().Uint8("base-decimals", 18, "base token decimals")
	cmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newRegistry returns a registry with the Go runtime and process collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// serveMetrics starts the metrics endpoint when addr is set. The returned
// function stops it.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		if err := metrics.Serve(ctx, addr, reg, logger); err != nil {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	return cancel
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
