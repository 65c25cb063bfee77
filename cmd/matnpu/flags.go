package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/matnpu/internal/backend"
	"github.com/samcharles93/matnpu/internal/logger"
	"github.com/samcharles93/matnpu/pkg/layout"
	"github.com/samcharles93/matnpu/pkg/matmul"
)

var (
	backendName string
	configFile  string
	logLevel    string
	logFormat   string
	debug       bool

	// loaded in setupGlobals
	fileConfig Config
)

func globalFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "matmul backend (auto, sim, rknpu)",
			Value:       backend.Auto,
			Destination: &backendName,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml",
			Value:       configPath(),
			Destination: &configFile,
		},
	}, loggingFlags()...)
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setupGlobals loads the config file, applies its defaults and installs the logger
// in the command context.
func setupGlobals(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	fileConfig = cfg
	applyGlobalConfig(cmd, cfg)

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	if debug {
		level = slog.LevelDebug
	}
	format, err := logger.ParseFormat(logFormat)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	log := logger.New(os.Stderr, logger.Options{Format: format, Level: level})
	return logger.WithContext(ctx, log), nil
}

// problemFlags are shared by multiply and bench.
type problemFlags struct {
	mode     string
	types    string
	m, k, n  int64
	acLayout string
	bLayout  string
	fillA    float64
	fillB    float64
	random   bool
	seed     int64
}

func (p *problemFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "operation mode: tag (1-11), name (INT8_MM_INT8_TO_INT32) or triple (i8,i8,i32)",
			Destination: &p.mode,
		},
		&cli.StringFlag{
			Name:        "types",
			Usage:       "element types a,b,c (e.g. f16,f16,f32); used when --mode is unset",
			Value:       "f16,f16,f32",
			Destination: &p.types,
		},
		&cli.Int64Flag{Name: "M", Usage: "rows of A and C", Value: 4, Destination: &p.m},
		&cli.Int64Flag{Name: "K", Usage: "columns of A, rows of B", Value: 64, Destination: &p.k},
		&cli.Int64Flag{Name: "N", Usage: "columns of B and C", Value: 32, Destination: &p.n},
		&cli.StringFlag{
			Name:        "ac-layout",
			Usage:       "layout of A and C (normal, perf)",
			Value:       "normal",
			Destination: &p.acLayout,
		},
		&cli.StringFlag{
			Name:        "b-layout",
			Usage:       "layout of B (normal, native)",
			Value:       "normal",
			Destination: &p.bLayout,
		},
		&cli.Float64Flag{Name: "fill-a", Usage: "constant value for every element of A", Value: 1, Destination: &p.fillA},
		&cli.Float64Flag{Name: "fill-b", Usage: "constant value for every element of B", Value: 1, Destination: &p.fillB},
		&cli.BoolFlag{Name: "random", Usage: "fill A and B with random values in the mode's range", Destination: &p.random},
		&cli.Int64Flag{Name: "seed", Usage: "random seed", Value: 42, Destination: &p.seed},
	}
}

func (p *problemFlags) resolve() (matmul.Mode, matmul.Dims, matmul.Config, error) {
	dims := matmul.Dims{M: int(p.m), K: int(p.k), N: int(p.n)}
	var cfg matmul.Config
	spec := p.mode
	if spec == "" {
		spec = p.types
	}
	mode, err := matmul.ParseMode(spec)
	if err != nil {
		return mode, dims, cfg, err
	}
	if cfg.ACLayout, err = layout.ParseKind(p.acLayout, false); err != nil {
		return mode, dims, cfg, fmt.Errorf("--ac-layout: %w", err)
	}
	if cfg.BLayout, err = layout.ParseKind(p.bLayout, true); err != nil {
		return mode, dims, cfg, fmt.Errorf("--b-layout: %w", err)
	}
	return mode, dims, cfg, nil
}

// operands builds A and B as float64 host slices; they are converted to the mode's
// element kinds when the device buffers are populated.
func (p *problemFlags) operands(mode matmul.Mode, dims matmul.Dims) ([]float64, []float64) {
	if !p.random {
		return constant(dims.M*dims.K, p.fillA), constant(dims.K*dims.N, p.fillB)
	}
	gen := newGenerator(p.seed)
	t := mode.Triple()
	loA, hiA := valueRange(mode, matmul.SlotA)
	loB, hiB := valueRange(mode, matmul.SlotB)
	return gen.fill(dims.M*dims.K, t.A, loA, hiA), gen.fill(dims.K*dims.N, t.B, loB, hiB)
}
