package main

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ahrav/go-acdat"
)

// Config holds the settings that may come from a TOML file. Command-line
// flags and environment variables take precedence over the file.
type Config struct {
	LogLevel       string `toml:"log_level"`
	Concurrency    int    `toml:"concurrency"`
	MaxDepth       int    `toml:"max_depth"`
	AssetCacheSize int    `toml:"asset_cache_size"`
	Workers        int    `toml:"workers"`
	ProfileAddr    string `toml:"profile_addr"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:       "info",
		AssetCacheSize: 256,
	}
}

// loadConfig reads path, if set, on top of the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config file")
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config file %s", path)
	}
	return cfg, nil
}

// resolveConfig merges the config file with any flags the user set.
func resolveConfig(c *cli.Context) (Config, error) {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("concurrency") {
		cfg.Concurrency = c.Int("concurrency")
	}
	if c.IsSet("max-depth") {
		cfg.MaxDepth = c.Int("max-depth")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("profile-addr") {
		cfg.ProfileAddr = c.String("profile-addr")
	}
	return cfg, nil
}

func (cfg Config) archiveOptions(log *logrus.Entry) []acdat.Option {
	return []acdat.Option{
		acdat.WithLogger(log),
		acdat.WithConcurrency(cfg.Concurrency),
		acdat.WithMaxDepth(cfg.MaxDepth),
		acdat.WithAssetCacheSize(cfg.AssetCacheSize),
	}
}
