package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CRRPOOL_PG_DSN.
const EnvPrefix = "CRRPOOL"

// PoolDefaults fill in pool settings a scenario or quote leaves out.
type PoolDefaults struct {
	RatioPPM            uint32
	TradeFeeBps         uint32
	ProtocolFeeBps      uint32
	MaxTradeFractionBps uint32
	IBRDuration         time.Duration
	ReserveDecimals     uint8
	TokenDecimals       uint8
}

func setPoolDefaults(v *viper.Viper) {
	v.SetDefault("crr-ppm", uint32(300_000))
	v.SetDefault("trade-fee-bps", uint32(100))
	v.SetDefault("protocol-fee-bps", uint32(2_000))
	v.SetDefault("max-trade-fraction-bps", uint32(1_000))
	v.SetDefault("ibr-duration", 7*24*time.Hour)
	v.SetDefault("reserve-decimals", uint8(6))
	v.SetDefault("token-decimals", uint8(18))
}

func poolDefaults(v *viper.Viper) PoolDefaults {
	return PoolDefaults{
		RatioPPM:            v.GetUint32("crr-ppm"),
		TradeFeeBps:         v.GetUint32("trade-fee-bps"),
		ProtocolFeeBps:      v.GetUint32("protocol-fee-bps"),
		MaxTradeFractionBps: v.GetUint32("max-trade-fraction-bps"),
		IBRDuration:         v.GetDuration("ibr-duration"),
		ReserveDecimals:     uint8(v.GetUint("reserve-decimals")),
		TokenDecimals:       uint8(v.GetUint("token-decimals")),
	}
}

// load merges a config file, environment variables and flags. Defaults are applied
// by setDefaults before flags are bound.
func load(cfgFile string, flags *pflag.FlagSet, setDefaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	if setDefaults != nil {
		setDefaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
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
