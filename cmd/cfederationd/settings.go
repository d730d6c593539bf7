package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/centauron/federation-node/federationClient/config"
	"github.com/centauron/federation-node/federationClient/constant"
	"github.com/centauron/federation-node/federationClient/logger"
)

const (
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
	flagPort      = "port"
)

// addOverrideFlags registers the flags that may override the config file.
func addOverrideFlags(fs *pflag.FlagSet) {
	fs.Int(flagLogLevel, 1, "log level (0=debug ... 5=panic)")
	fs.String(flagLogFormat, "console", "log format (json|console)")
	fs.Int(flagPort, 8080, "inbox and query server port")
}

func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(constant.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// loadConfig reads <home>/config/cfederation_config.json and applies flags
// and CFED_* environment variables on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, err
	}

	home := v.GetString(flagHome)
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}
	if cfg.NodeHome == "" || v.IsSet(flagHome) {
		cfg.NodeHome = home
	}

	if v.IsSet(flagLogLevel) {
		cfg.LogLevel = cast.ToInt(v.Get(flagLogLevel))
	}
	if v.IsSet(flagLogFormat) {
		cfg.LogFormat = cast.ToString(v.Get(flagLogFormat))
	}
	if v.IsSet(flagPort) {
		cfg.QueryServerPort = cast.ToInt(v.Get(flagPort))
	}

	if err := config.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)
}
