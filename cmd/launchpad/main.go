package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"launchpadScope/internal/config"
	"launchpadScope/internal/curve"
)

func main() {
	root := &cobra.Command{
		Use:          "launchpad",
		Short:        "Bonding-curve launchpad pricing and ledger sync",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("network", "local", "network preset (local, testnet, mainnet)")
	root.PersistentFlags().String("rpc", "", "RPC URL, defaults to the network preset")
	root.PersistentFlags().String("ws", "", "websocket URL for subscriptions, defaults to the network preset")
	root.PersistentFlags().String("launchpad", "", "launchpad contract address")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	addFeeFlags(root.PersistentFlags())

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Follow token creations and trades, keeping live curve snapshots",
		RunE:  runSync,
	}

	syncCmd.Flags().Bool("poll", false, "poll eth_getLogs instead of subscribing over websocket")
	syncCmd.Flags().Duration("poll-interval", 2*time.Second, "polling interval when not subscribing")
	syncCmd.Flags().Uint64("search-interval", 5000, "blocks to backfill before going live")
	syncCmd.Flags().Int("max-tokens", 8, "capacity of the token feed")
	syncCmd.Flags().Int("max-trades", 48, "capacity of the trade feed")
	syncCmd.Flags().Uint64("batch-size", 2000, "blocks per eth_getLogs request")
	syncCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	syncCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	syncCmd.Flags().Bool("strict-cache", false, "panic on feed invariant violations")
	syncCmd.Flags().StringSlice("track", nil, "token addresses to keep snapshots for (comma-separated)")
	syncCmd.Flags().Bool("track-created", true, "keep snapshots for every token seen in the token feed")
	syncCmd.Flags().Duration("refresh-timeout", 10*time.Second, "timeout of one snapshot refresh")
	syncCmd.Flags().Int("refresh-workers", 8, "concurrent snapshot refreshes")
	syncCmd.Flags().Duration("status-interval", 30*time.Second, "interval of the status log, 0 disables it")
	syncCmd.Flags().String("out", "", "directory for JSONL archives, empty disables")
	syncCmd.Flags().String("pg-dsn", "", "Postgres DSN for the archive, empty disables")
	syncCmd.Flags().String("metrics-addr", "", "listen address for /metrics, empty disables")

	root.AddCommand(syncCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote <buy|sell> <amount>",
		Short: "Quote a curve trade",
		Args:  cobra.ExactArgs(2),
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("supply", "0", "current curve supply")
	quoteCmd.Flags().String("token", "", "read the current supply from this token instead of --supply")

	root.AddCommand(quoteCmd)

	unitsCmd := &cobra.Command{
		Use:   "units <value>",
		Short: "Convert an amount across the denomination ladder",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnits,
	}

	unitsCmd.Flags().String("unit", "wei", "unit of the input value")

	root.AddCommand(unitsCmd)

	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "List featured or recent launchpad tokens with their curve state",
		RunE:  runTokens,
	}

	tokensCmd.Flags().Bool("recent", false, "list recent tokens instead of featured ones")
	tokensCmd.Flags().Bool("with-state", true, "read supply, raised and progress of each token")
	tokensCmd.Flags().Duration("timeout", 30*time.Second, "overall timeout")

	root.AddCommand(tokensCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addFeeFlags(flags *pflag.FlagSet) {
	fee := curve.DefaultFeePolicy()
	flags.Uint64("fee-buy-num", fee.BuyNumerator, "buy fee numerator")
	flags.Uint64("fee-buy-den", fee.BuyDenominator, "buy fee denominator")
	flags.String("fee-buy-rounding", fee.BuyRounding.String(), "buy fee rounding (truncate, ceil)")
	flags.Uint64("fee-buy-bias", fee.BuyBias, "base units added to every buy price")
	flags.Uint64("fee-sell-num", fee.SellNumerator, "sell fee numerator")
	flags.Uint64("fee-sell-den", fee.SellDenominator, "sell fee denominator")
	flags.Uint64("fee-sell-bias", fee.SellBias, "base units withheld from every sell refund")
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
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
