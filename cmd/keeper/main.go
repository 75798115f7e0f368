package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// a missing .env is fine; flags, env and config file still apply
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "keeper",
		Short:        "Lending protocol liquidation keeper",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the keeper",
		RunE:  runKeeper,
	}

	runCmd.Flags().String("rpc", "", "JSON-RPC URL")
	runCmd.Flags().StringSlice("pools", nil, "pool addresses (comma-separated)")
	runCmd.Flags().String("oracle", "", "oracle address")
	runCmd.Flags().String("account", "", "node-managed account used to send transactions")
	runCmd.Flags().String("executor", "", "swap and arbitrage executor contract")
	runCmd.Flags().String("router", "", "on-chain quote router")
	runCmd.Flags().String("backstop", "", "pool backstop address, scanned for interest and bad debt auctions")
	runCmd.Flags().String("backstop-token", "", "backstop LP token paid in interest and bad debt auctions")
	runCmd.Flags().String("backstop-quote", "", "reserve the backstop token is priced in")
	runCmd.Flags().StringSlice("supported-collateral", nil, "lot assets we accept (comma-separated)")
	runCmd.Flags().StringSlice("supported-liabilities", nil, "bid assets we accept (comma-separated)")
	runCmd.Flags().String("min-hf", "1.2", "minimum health factor of our own positions")
	runCmd.Flags().String("required-profit", "10", "minimum net profit per fill")
	runCmd.Flags().Int32("oracle-decimals", 7, "oracle price decimals")
	runCmd.Flags().String("bid-percentage", "0", "share of gross profit reserved for fees (0-100)")
	runCmd.Flags().String("fill-cost", "0", "estimated fixed cost of a fill")
	runCmd.Flags().String("arb-fee", "0", "estimated fixed cost of an arbitrage")
	runCmd.Flags().Uint64("refresh-blocks", 10, "price and pool refresh cadence in blocks")
	runCmd.Flags().Uint64("pending-retry-blocks", 20, "blocks before a submitted action may be resubmitted")
	runCmd.Flags().Int("max-submit-retries", 3, "failed submissions per action before giving up")
	runCmd.Flags().String("significance-threshold", "0", "minimum weighted liability of a tracked user")
	runCmd.Flags().String("track-max-hf", "6", "health factor above which users are not tracked")
	runCmd.Flags().Bool("swap-enabled", false, "sell collateral through the executor to cover debt")
	runCmd.Flags().Uint64("from", 0, "first block when no checkpoint exists, 0 means head")
	runCmd.Flags().Uint64("batch-size", 500, "blocks per log query")
	runCmd.Flags().Duration("poll-interval", 2*time.Second, "head polling interval")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().Int("max-retries", 5, "maximum RPC retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial RPC retry backoff")
	runCmd.Flags().String("mirror", "memory", "state mirror (memory, postgres, redis, sqlite)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("redis-addr", "", "Redis address")
	runCmd.Flags().String("redis-password", "", "Redis password")
	runCmd.Flags().Int("redis-db", 0, "Redis database")
	runCmd.Flags().String("sqlite-path", "./data/keeper.db", "SQLite mirror path")
	runCmd.Flags().String("journal", "", "JSONL action journal path")
	runCmd.Flags().String("orders-ws", "", "marketplace websocket URL")
	runCmd.Flags().Float64("submit-rate", 2, "submissions per second, 0 disables throttling")
	runCmd.Flags().Bool("dry-run", false, "log actions instead of sending them")
	runCmd.Flags().String("metrics-addr", "", "prometheus listen address, empty disables")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode pool and oracle logs over a block range",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("rpc", "", "JSON-RPC URL")
	decodeCmd.Flags().StringSlice("pools", nil, "pool addresses (comma-separated)")
	decodeCmd.Flags().String("oracle", "", "oracle address")
	decodeCmd.Flags().Int32("oracle-decimals", 7, "oracle price decimals")
	decodeCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	decodeCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	decodeCmd.Flags().Uint64("batch-size", 500, "blocks per log query")
	decodeCmd.Flags().Int("max-retries", 5, "maximum RPC retry attempts")
	decodeCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial RPC retry backoff")
	decodeCmd.Flags().String("out", "./data/pool_events.jsonl", "output pool events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
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
