package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the daemon settings merged from flags, environment
// variables (QUOTED_*) and an optional config file.
type Config struct {
	WSURL       string
	RPCURL      string
	CatalogPath string
	PostgresDSN string
	ChainID     uint64
	MetricsAddr string
	EventBuffer uint
	Timeout     time.Duration
	LogLevel    string
}

func loadConfig(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QUOTED")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chain-id", uint64(8453))
	v.SetDefault("metrics-addr", ":9090")
	v.SetDefault("event-buffer", uint(16))
	v.SetDefault("timeout", 15*time.Second)
	v.SetDefault("log-level", "info")

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
		v.SetConfigName("quoted")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return Config{
		WSURL:       v.GetString("ws-url"),
		RPCURL:      v.GetString("rpc-url"),
		CatalogPath: v.GetString("catalog"),
		PostgresDSN: v.GetString("pg-dsn"),
		ChainID:     v.GetUint64("chain-id"),
		MetricsAddr: v.GetString("metrics-addr"),
		EventBuffer: v.GetUint("event-buffer"),
		Timeout:     v.GetDuration("timeout"),
		LogLevel:    v.GetString("log-level"),
	}, nil
}
