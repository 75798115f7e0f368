package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"liquidationKeeper/internal/model"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	RPCURL         string
	Pools          []string
	Oracle         string
	OracleDecimals int32
	FromBlock      uint64
	ToBlock        uint64
	BatchSize      uint64
	MaxRetries     int
	RetryBackoff   time.Duration
	Out            string
	Errors         string
	LogLevel       string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v := viper.New()
	v.SetDefault("oracle-decimals", 7)
	v.SetDefault("batch-size", uint64(500))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("out", "./data/pool_events.jsonl")
	v.SetDefault("errors", "./data/decode_errors.jsonl")
	v.SetDefault("log-level", "info")

	if err := read(v, cfgFile, flags); err != nil {
		return DecodeConfig{}, err
	}

	return DecodeConfig{
		RPCURL:         v.GetString("rpc"),
		Pools:          getStringSlice(v, "pools"),
		Oracle:         v.GetString("oracle"),
		OracleDecimals: v.GetInt32("oracle-decimals"),
		FromBlock:      v.GetUint64("from"),
		ToBlock:        v.GetUint64("to"),
		BatchSize:      v.GetUint64("batch-size"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		Out:            v.GetString("out"),
		Errors:         v.GetString("errors"),
		LogLevel:       v.GetString("log-level"),
	}, nil
}

// Validate checks the decode range and contracts.
func (c DecodeConfig) Validate() error {
	if c.RPCURL == "" {
		return &model.ConfigError{Field: "rpc", Reason: "required"}
	}
	if len(c.Pools) == 0 && c.Oracle == "" {
		return &model.ConfigError{Field: "pools", Reason: "pools or oracle required"}
	}
	for _, pool := range c.Pools {
		if err := checkAddress("pools", pool); err != nil {
			return err
		}
	}
	if c.Oracle != "" {
		if err := checkAddress("oracle", c.Oracle); err != nil {
			return err
		}
	}
	if c.ToBlock != 0 && c.ToBlock < c.FromBlock {
		return &model.ConfigError{Field: "to", Reason: "must not be below from"}
	}
	if c.Out == "" {
		return &model.ConfigError{Field: "out", Reason: "required"}
	}
	return nil
}
