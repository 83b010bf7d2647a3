package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"launchpadScope/internal/curve"
)

// Config is built once at startup and passed by value to constructors.
type Config struct {
	Network   Network
	RPCURL    string
	WSURL     string
	Poll      bool
	Launchpad string

	SearchInterval uint64
	MaxTokens      int
	MaxTrades      int
	BatchSize      uint64
	MaxRetries     int
	RetryBackoff   time.Duration
	PollInterval   time.Duration
	StrictCache    bool

	RefreshTimeout time.Duration
	RefreshWorkers int
	TrackCreated   bool
	Track          []string

	Fee curve.FeePolicy

	Out         string
	PGDSN       string
	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
// Environment variables use the LAUNCHPAD_ prefix, e.g. LAUNCHPAD_MAX_TRADES.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LAUNCHPAD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	network, err := LookupNetwork(v.GetString("network"))
	if err != nil {
		return Config{}, err
	}
	rounding, err := curve.ParseRounding(v.GetString("fee-buy-rounding"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Network:        network,
		RPCURL:         firstNonEmpty(v.GetString("rpc"), network.RPCURL),
		WSURL:          firstNonEmpty(v.GetString("ws"), network.WSURL),
		Poll:           v.GetBool("poll"),
		Launchpad:      strings.TrimSpace(v.GetString("launchpad")),
		SearchInterval: v.GetUint64("search-interval"),
		MaxTokens:      v.GetInt("max-tokens"),
		MaxTrades:      v.GetInt("max-trades"),
		BatchSize:      v.GetUint64("batch-size"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		PollInterval:   v.GetDuration("poll-interval"),
		StrictCache:    v.GetBool("strict-cache"),
		RefreshTimeout: v.GetDuration("refresh-timeout"),
		RefreshWorkers: v.GetInt("refresh-workers"),
		TrackCreated:   v.GetBool("track-created"),
		Track:          getStringSlice(v, "track"),
		Fee: curve.FeePolicy{
			BuyNumerator:    v.GetUint64("fee-buy-num"),
			BuyDenominator:  v.GetUint64("fee-buy-den"),
			BuyRounding:     rounding,
			BuyBias:         v.GetUint64("fee-buy-bias"),
			SellNumerator:   v.GetUint64("fee-sell-num"),
			SellDenominator: v.GetUint64("fee-sell-den"),
			SellBias:        v.GetUint64("fee-sell-bias"),
		},
		Out:         v.GetString("out"),
		PGDSN:       v.GetString("pg-dsn"),
		MetricsAddr: v.GetString("metrics-addr"),
		LogLevel:    v.GetString("log-level"),
	}
	if cfg.Poll {
		cfg.WSURL = ""
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	fee := curve.DefaultFeePolicy()

	v.SetDefault("network", "local")
	v.SetDefault("search-interval", uint64(5000))
	v.SetDefault("max-tokens", 8)
	v.SetDefault("max-trades", 48)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("refresh-timeout", 10*time.Second)
	v.SetDefault("refresh-workers", 8)
	v.SetDefault("fee-buy-num", fee.BuyNumerator)
	v.SetDefault("fee-buy-den", fee.BuyDenominator)
	v.SetDefault("fee-buy-rounding", fee.BuyRounding.String())
	v.SetDefault("fee-buy-bias", fee.BuyBias)
	v.SetDefault("fee-sell-num", fee.SellNumerator)
	v.SetDefault("fee-sell-den", fee.SellDenominator)
	v.SetDefault("fee-sell-bias", fee.SellBias)
	v.SetDefault("log-level", "info")
}

// Validate checks the values that every command relies on.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Launchpad != "" && !common.IsHexAddress(c.Launchpad) {
		return fmt.Errorf("invalid launchpad address: %s", c.Launchpad)
	}
	if c.MaxTokens <= 0 || c.MaxTrades <= 0 {
		return fmt.Errorf("feed capacities must be greater than zero")
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	for _, token := range c.Track {
		if !common.IsHexAddress(token) {
			return fmt.Errorf("invalid tracked token: %s", token)
		}
	}
	return c.Fee.Validate()
}

// LaunchpadAddress returns the configured launchpad contract, failing when
// none is set.
func (c Config) LaunchpadAddress() (common.Address, error) {
	if c.Launchpad == "" {
		return common.Address{}, fmt.Errorf("launchpad address is required")
	}
	return common.HexToAddress(c.Launchpad), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
