package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the matnpu configuration file (~/.config/matnpu/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	// Backend
	Backend string `yaml:"backend"`

	// Problem defaults
	ACLayout    string `yaml:"ac_layout"`
	BLayout     string `yaml:"b_layout"`
	CoreMask    string `yaml:"core_mask"`
	IOMMUDomain *int64 `yaml:"iommu_domain"`
	Seed        *int64 `yaml:"seed"`

	// Bench
	Loops  *int64 `yaml:"loops"`
	Warmup *int64 `yaml:"warmup"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "matnpu", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config; a file that
// exists but does not parse is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// flagSetter is the part of *cli.Command config application needs.
type flagSetter interface {
	IsSet(name string) bool
}

var _ flagSetter = (*cli.Command)(nil)

// applyGlobalConfig applies config file defaults to the global flags when the
// corresponding flag was not explicitly set.
func applyGlobalConfig(c flagSetter, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyProblemConfig(c flagSetter, cfg Config, p *problemFlags) {
	if cfg.ACLayout != "" && !c.IsSet("ac-layout") {
		p.acLayout = cfg.ACLayout
	}
	if cfg.BLayout != "" && !c.IsSet("b-layout") {
		p.bLayout = cfg.BLayout
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		p.seed = *cfg.Seed
	}
}

func applyBenchConfig(c flagSetter, cfg Config, b *benchFlags) {
	applyProblemConfig(c, cfg, &b.problem)
	if cfg.Loops != nil && !c.IsSet("loops") {
		b.loops = *cfg.Loops
	}
	if cfg.Warmup != nil && !c.IsSet("warmup") {
		b.warmup = *cfg.Warmup
	}
	if cfg.CoreMask != "" && !c.IsSet("core-mask") {
		b.coreMask = cfg.CoreMask
	}
	if cfg.IOMMUDomain != nil && !c.IsSet("iommu-domain") {
		b.iommuDomain = *cfg.IOMMUDomain
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c flagSetter, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
