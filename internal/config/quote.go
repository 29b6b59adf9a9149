package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// QuoteConfig holds configuration for the quote command.
type QuoteConfig struct {
	Reserve  string
	Supply   string
	Amount   string
	Side     string
	LogLevel string
	Pool     PoolDefaults
}

// LoadQuote merges config file, environment variables, and flags into QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v, err := load(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("side", "buy")
		setPoolDefaults(v)
	})
	if err != nil {
		return QuoteConfig{}, err
	}

	return QuoteConfig{
		Reserve:  v.GetString("reserve"),
		Supply:   v.GetString("supply"),
		Amount:   v.GetString("amount"),
		Side:     v.GetString("side"),
		LogLevel: v.GetString("log-level"),
		Pool:     poolDefaults(v),
	}, nil
}

// PoolsConfig holds configuration for the pools command.
type PoolsConfig struct {
	PGDSN    string
	RPCURL   string
	LogLevel string
}

// LoadPools merges config file, environment variables, and flags into PoolsConfig.
func LoadPools(cfgFile string, flags *pflag.FlagSet) (PoolsConfig, error) {
	v, err := load(cfgFile, flags, nil)
	if err != nil {
		return PoolsConfig{}, err
	}
	return PoolsConfig{
		PGDSN:    v.GetString("pg-dsn"),
		RPCURL:   v.GetString("rpc"),
		LogLevel: v.GetString("log-level"),
	}, nil
}
