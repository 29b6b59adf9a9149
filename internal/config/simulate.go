package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Scenarios     []string
	Out           string
	LogsOut       string
	Report        string
	PGDSN         string
	RPCURL        string
	ClockRefresh  time.Duration
	Start         time.Time
	Factory       string
	MetricsAddr   string
	MetricsPrefix string
	BatchSize     int
	MaxRetries    int
	RetryBackoff  time.Duration
	Strict        bool
	LogLevel      string
	Pool          PoolDefaults
}

// LoadSimulate merges config file, environment variables, and flags into SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := load(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("out", "./data/events.jsonl")
		v.SetDefault("logs-out", "")
		v.SetDefault("report", "./data/report.json")
		v.SetDefault("clock-refresh", 2*time.Second)
		v.SetDefault("start", "2024-01-01T00:00:00Z")
		v.SetDefault("factory", "0x00000000000000000000000000000000000000f0")
		v.SetDefault("metrics-prefix", "crrpool")
		v.SetDefault("batch-size", 100)
		v.SetDefault("max-retries", 5)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
		setPoolDefaults(v)
	})
	if err != nil {
		return SimulateConfig{}, err
	}

	start, err := time.Parse(time.RFC3339, v.GetString("start"))
	if err != nil {
		return SimulateConfig{}, fmt.Errorf("parse start: %w", err)
	}

	cfg := SimulateConfig{
		Scenarios:     getStringSlice(v, "scenario"),
		Out:           v.GetString("out"),
		LogsOut:       v.GetString("logs-out"),
		Report:        v.GetString("report"),
		PGDSN:         v.GetString("pg-dsn"),
		RPCURL:        v.GetString("rpc"),
		ClockRefresh:  v.GetDuration("clock-refresh"),
		Start:         start.UTC(),
		Factory:       v.GetString("factory"),
		MetricsAddr:   v.GetString("metrics-addr"),
		MetricsPrefix: v.GetString("metrics-prefix"),
		BatchSize:     v.GetInt("batch-size"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		Strict:        v.GetBool("strict"),
		LogLevel:      v.GetString("log-level"),
		Pool:          poolDefaults(v),
	}

	return cfg, nil
}
