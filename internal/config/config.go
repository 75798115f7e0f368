package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"liquidationKeeper/internal/model"
)

// Mirror backends.
const (
	MirrorMemory   = "memory"
	MirrorPostgres = "postgres"
	MirrorRedis    = "redis"
	MirrorSQLite   = "sqlite"
)

// Config holds the keeper configuration loaded from flags, env, or config file.
type Config struct {
	RPCURL   string
	Pools    []string
	Oracle   string
	Account  string
	Executor string
	Router   string

	// Backstop is the address interest and bad debt auctions are keyed by. Its LP token
	// is priced in BackstopQuote through the router.
	Backstop      string
	BackstopToken string
	BackstopQuote string

	SupportedCollateral  []string
	SupportedLiabilities []string

	MinHF                 decimal.Decimal
	RequiredProfit        decimal.Decimal
	OracleDecimals        int32
	BidPercentage         decimal.Decimal
	FillCost              decimal.Decimal
	ArbFee                decimal.Decimal
	RefreshBlocks         uint64
	PendingRetryBlocks    uint64
	MaxSubmitRetries      int
	SignificanceThreshold decimal.Decimal
	TrackMaxHF            decimal.Decimal
	SwapEnabled           bool

	FromBlock         uint64
	BatchSize         uint64
	PollInterval      time.Duration
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration

	Mirror     string
	PGDSN      string
	RedisAddr  string
	RedisPass  string
	RedisDB    int
	SQLitePath string
	Journal    string

	OrdersWS    string
	SubmitRate  float64
	DryRun      bool
	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetDefault("min-hf", "1.2")
	v.SetDefault("required-profit", "10")
	v.SetDefault("oracle-decimals", 7)
	v.SetDefault("bid-percentage", "0")
	v.SetDefault("fill-cost", "0")
	v.SetDefault("arb-fee", "0")
	v.SetDefault("refresh-blocks", uint64(10))
	v.SetDefault("pending-retry-blocks", uint64(20))
	v.SetDefault("max-submit-retries", 3)
	v.SetDefault("significance-threshold", "0")
	v.SetDefault("track-max-hf", "6")
	v.SetDefault("swap-enabled", false)
	v.SetDefault("batch-size", uint64(500))
	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("mirror", MirrorMemory)
	v.SetDefault("sqlite-path", "./data/keeper.db")
	v.SetDefault("submit-rate", 2.0)
	v.SetDefault("log-level", "info")

	if err := read(v, cfgFile, flags); err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:               v.GetString("rpc"),
		Pools:                getStringSlice(v, "pools"),
		Oracle:               v.GetString("oracle"),
		Account:              v.GetString("account"),
		Executor:             v.GetString("executor"),
		Router:               v.GetString("router"),
		Backstop:             v.GetString("backstop"),
		BackstopToken:        v.GetString("backstop-token"),
		BackstopQuote:        v.GetString("backstop-quote"),
		SupportedCollateral:  getStringSlice(v, "supported-collateral"),
		SupportedLiabilities: getStringSlice(v, "supported-liabilities"),
		OracleDecimals:       v.GetInt32("oracle-decimals"),
		RefreshBlocks:        v.GetUint64("refresh-blocks"),
		PendingRetryBlocks:   v.GetUint64("pending-retry-blocks"),
		MaxSubmitRetries:     v.GetInt("max-submit-retries"),
		SwapEnabled:          v.GetBool("swap-enabled"),
		FromBlock:            v.GetUint64("from"),
		BatchSize:            v.GetUint64("batch-size"),
		PollInterval:         v.GetDuration("poll-interval"),
		Checkpoint:           v.GetString("checkpoint"),
		CheckpointEnabled:    v.GetBool("checkpoint-enabled"),
		MaxRetries:           v.GetInt("max-retries"),
		RetryBackoff:         v.GetDuration("retry-backoff"),
		Mirror:               strings.ToLower(v.GetString("mirror")),
		PGDSN:                v.GetString("pg-dsn"),
		RedisAddr:            v.GetString("redis-addr"),
		RedisPass:            v.GetString("redis-password"),
		RedisDB:              v.GetInt("redis-db"),
		SQLitePath:           v.GetString("sqlite-path"),
		Journal:              v.GetString("journal"),
		OrdersWS:             v.GetString("orders-ws"),
		SubmitRate:           v.GetFloat64("submit-rate"),
		DryRun:               v.GetBool("dry-run"),
		MetricsAddr:          v.GetString("metrics-addr"),
		LogLevel:             v.GetString("log-level"),
	}

	decimals := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"min-hf", &cfg.MinHF},
		{"required-profit", &cfg.RequiredProfit},
		{"bid-percentage", &cfg.BidPercentage},
		{"fill-cost", &cfg.FillCost},
		{"arb-fee", &cfg.ArbFee},
		{"significance-threshold", &cfg.SignificanceThreshold},
		{"track-max-hf", &cfg.TrackMaxHF},
	}
	for _, item := range decimals {
		raw := strings.TrimSpace(v.GetString(item.key))
		val, err := decimal.NewFromString(raw)
		if err != nil {
			return Config{}, &model.ConfigError{Field: item.key, Value: raw, Reason: "not a decimal"}
		}
		*item.dst = val
	}

	return cfg, nil
}

// Validate checks the values the keeper cannot run without. Errors are *model.ConfigError.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return &model.ConfigError{Field: "rpc", Reason: "required"}
	}
	if len(c.Pools) == 0 {
		return &model.ConfigError{Field: "pools", Reason: "at least one pool is required"}
	}
	for _, pool := range c.Pools {
		if err := checkAddress("pools", pool); err != nil {
			return err
		}
	}
	if err := checkAddress("oracle", c.Oracle); err != nil {
		return err
	}
	if err := checkAddress("account", c.Account); err != nil {
		return err
	}
	optional := map[string]string{
		"executor":       c.Executor,
		"router":         c.Router,
		"backstop":       c.Backstop,
		"backstop-token": c.BackstopToken,
		"backstop-quote": c.BackstopQuote,
	}
	for field, value := range optional {
		if value == "" {
			continue
		}
		if err := checkAddress(field, value); err != nil {
			return err
		}
	}
	if len(c.SupportedCollateral) == 0 {
		return &model.ConfigError{Field: "supported-collateral", Reason: "required"}
	}
	if len(c.SupportedLiabilities) == 0 {
		return &model.ConfigError{Field: "supported-liabilities", Reason: "required"}
	}
	for _, asset := range c.SupportedCollateral {
		if err := checkAddress("supported-collateral", asset); err != nil {
			return err
		}
	}
	for _, asset := range c.SupportedLiabilities {
		if err := checkAddress("supported-liabilities", asset); err != nil {
			return err
		}
	}

	one := decimal.NewFromInt(1)
	switch {
	case c.MinHF.LessThan(one):
		return &model.ConfigError{Field: "min-hf", Value: c.MinHF.String(), Reason: "must be at least 1"}
	case c.RequiredProfit.Sign() < 0:
		return &model.ConfigError{Field: "required-profit", Value: c.RequiredProfit.String(), Reason: "must not be negative"}
	case c.BidPercentage.Sign() < 0 || c.BidPercentage.GreaterThan(decimal.NewFromInt(100)):
		return &model.ConfigError{Field: "bid-percentage", Value: c.BidPercentage.String(), Reason: "must be within 0..100"}
	case c.FillCost.Sign() < 0:
		return &model.ConfigError{Field: "fill-cost", Value: c.FillCost.String(), Reason: "must not be negative"}
	case c.ArbFee.Sign() < 0:
		return &model.ConfigError{Field: "arb-fee", Value: c.ArbFee.String(), Reason: "must not be negative"}
	case c.TrackMaxHF.LessThanOrEqual(one):
		return &model.ConfigError{Field: "track-max-hf", Value: c.TrackMaxHF.String(), Reason: "must be above 1"}
	case c.OracleDecimals < 0 || c.OracleDecimals > 38:
		return &model.ConfigError{Field: "oracle-decimals", Value: fmt.Sprint(c.OracleDecimals), Reason: "must be within 0..38"}
	case c.RefreshBlocks == 0:
		return &model.ConfigError{Field: "refresh-blocks", Reason: "must be positive"}
	case c.PendingRetryBlocks == 0:
		return &model.ConfigError{Field: "pending-retry-blocks", Reason: "must be positive"}
	case c.MaxSubmitRetries <= 0:
		return &model.ConfigError{Field: "max-submit-retries", Value: fmt.Sprint(c.MaxSubmitRetries), Reason: "must be positive"}
	case c.SubmitRate < 0:
		return &model.ConfigError{Field: "submit-rate", Value: fmt.Sprint(c.SubmitRate), Reason: "must not be negative"}
	case c.SwapEnabled && c.Executor == "":
		return &model.ConfigError{Field: "swap-enabled", Reason: "requires executor"}
	case c.BackstopToken != "" && c.BackstopQuote == "":
		return &model.ConfigError{Field: "backstop-quote", Reason: "required to price the backstop token"}
	case c.BackstopToken != "" && c.Router == "":
		return &model.ConfigError{Field: "backstop-token", Reason: "requires router"}
	}

	switch c.Mirror {
	case MirrorMemory:
	case MirrorPostgres:
		if c.PGDSN == "" {
			return &model.ConfigError{Field: "pg-dsn", Reason: "required by the postgres mirror"}
		}
	case MirrorRedis:
		if c.RedisAddr == "" {
			return &model.ConfigError{Field: "redis-addr", Reason: "required by the redis mirror"}
		}
	case MirrorSQLite:
		if c.SQLitePath == "" {
			return &model.ConfigError{Field: "sqlite-path", Reason: "required by the sqlite mirror"}
		}
	default:
		return &model.ConfigError{Field: "mirror", Value: c.Mirror, Reason: "unknown backend"}
	}
	return nil
}

// ArbEnabled reports whether marketplace arbitrage can run.
func (c Config) ArbEnabled() bool {
	return c.OrdersWS != "" && c.Router != "" && c.Executor != ""
}

func checkAddress(field, value string) error {
	if !common.IsHexAddress(value) {
		return &model.ConfigError{Field: field, Value: value, Reason: "not a hex address"}
	}
	return nil
}

// read binds env and flags and reads the config file, as every command does.
func read(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	v.SetEnvPrefix("KEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
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
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
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
