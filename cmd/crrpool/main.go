package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "crrpool",
		Short:        "Constant reserve ratio bonding curve pools",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay scenario files against in-process pools",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().StringSlice("scenario", nil, "scenario JSONL files (comma-separated, applied in order)")
	simulateCmd.Flags().String("out", "./data/events.jsonl", "output events JSONL path")
	simulateCmd.Flags().String("logs-out", "", "optional output path for ABI-encoded event logs")
	simulateCmd.Flags().String("report", "./data/report.json", "run report path (empty disables)")
	simulateCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for pools and events")
	simulateCmd.Flags().String("rpc", "", "optional RPC URL; pools then follow latest block time")
	simulateCmd.Flags().Duration("clock-refresh", 2*time.Second, "block time cache duration")
	simulateCmd.Flags().String("start", "2024-01-01T00:00:00Z", "simulated start time (RFC3339) when no RPC is set")
	simulateCmd.Flags().String("factory", "0x00000000000000000000000000000000000000f0", "factory account creators approve for seed reserve")
	simulateCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address until interrupted")
	simulateCmd.Flags().String("metrics-prefix", "crrpool", "Prometheus metric namespace")
	simulateCmd.Flags().Int("batch-size", 100, "steps and events per persistence batch")
	simulateCmd.Flags().Int("max-retries", 5, "maximum retry attempts for persistence")
	simulateCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	simulateCmd.Flags().Bool("strict", false, "stop at the first step whose outcome differs from its expectation")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	addPoolFlags(simulateCmd)

	root.AddCommand(simulateCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a buy or sell against a given curve state",
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("reserve", "", "reserve balance in whole reserve units")
	quoteCmd.Flags().String("supply", "", "token supply in whole tokens")
	quoteCmd.Flags().String("amount", "", "reserve to spend (buy) or tokens to sell (sell)")
	quoteCmd.Flags().String("side", "buy", "buy or sell")
	quoteCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	addPoolFlags(quoteCmd)

	root.AddCommand(quoteCmd)

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "List pools stored in Postgres",
		RunE:  runPools,
	}

	poolsCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	poolsCmd.Flags().String("rpc", "", "optional RPC URL to audit reserve custody against on-chain balances")
	poolsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(poolsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPoolFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32("crr-ppm", 300_000, "reserve ratio in ppm")
	cmd.Flags().Uint32("trade-fee-bps", 100, "trade fee in bps")
	cmd.Flags().Uint32("protocol-fee-bps", 2_000, "protocol share of the trade fee in bps")
	cmd.Flags().Uint32("max-trade-fraction-bps", 1_000, "largest trade as a share of reserve or supply in bps")
	cmd.Flags().Duration("ibr-duration", 7*24*time.Hour, "buy-only period after pool creation")
	cmd.Flags().Uint8("reserve-decimals", 6, "reserve asset decimals")
	cmd.Flags().Uint8("token-decimals", 18, "pool token decimals")
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
