package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/matnpu/internal/backend"
	"github.com/samcharles93/matnpu/internal/logger"
	"github.com/samcharles93/matnpu/internal/reference"
	"github.com/samcharles93/matnpu/pkg/matmul"
)

func openDriver(ctx context.Context) (backend.Driver, error) {
	drv, err := backend.New(backendName, logger.FromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	return drv, nil
}

func multiplyCmd() *cli.Command {
	var (
		problem problemFlags
		printC  bool
	)

	return &cli.Command{
		Name:    "multiply",
		Aliases: []string{"mm"},
		Usage:   "Run one multiplication and check it against the CPU reference",
		Flags: append(problem.flags(),
			&cli.BoolFlag{
				Name:        "print",
				Usage:       "print C",
				Destination: &printC,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyProblemConfig(cmd, fileConfig, &problem)

			mode, dims, cfg, err := problem.resolve()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			a, b := problem.operands(mode, dims)

			drv, err := openDriver(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = drv.Close() }()
			log.Info("multiplying", "backend", drv.Name(), "mode", mode.String(), "dims", dims.String())

			start := time.Now()
			res, err := matmul.Multiply(ctx, drv, matmul.Request{Dims: dims, Mode: mode, A: a, B: b, Config: cfg})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: multiply: %v", err), 1)
			}
			elapsed := time.Since(start)
			defer func() { _ = res.Release() }()

			got, err := res.Float64s()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read result: %v", err), 1)
			}
			want, err := reference.MultiplyHost(mode, dims, a, b, reference.QuantOf(cfg))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: reference: %v", err), 1)
			}
			cmp := reference.Compare(res.Kind(), want, got)

			if printC {
				printMatrix(res.Kind().String(), got, dims.M, dims.N)
			}
			fmt.Printf("Mode:     %s\n", mode)
			fmt.Printf("Dims:     %s\n", dims)
			fmt.Printf("Backend:  %s\n", drv.Name())
			fmt.Printf("Elapsed:  %s\n", elapsed.Round(time.Microsecond))
			printComparison(mode, dims, cfg, cmp)
			if !cmp.Match {
				return cli.Exit("result does not match the CPU reference", 1)
			}
			return nil
		},
	}
}

func printMatrix(kind string, data []float64, rows, cols int) {
	fmt.Printf("C (%dx%d, %s):\n", rows, cols, kind)
	for r := range rows {
		for c := range cols {
			fmt.Printf(" %8s", strconv.FormatFloat(data[r*cols+c], 'g', 6, 64))
		}
		fmt.Println()
	}
}

func printComparison(mode matmul.Mode, dims matmul.Dims, cfg matmul.Config, cmp reference.Comparison) {
	verdict := "correct"
	if !cmp.Match {
		verdict = "wrong"
	}
	fmt.Printf("%s matmul result is %s M x K x N is %d %d %d AC_layout is %s B_layout is %s\n",
		mode, verdict, dims.M, dims.K, dims.N, cfg.ACLayout, cfg.BLayout)
	if cmp.Exact {
		fmt.Printf("mismatches: %d\n", cmp.Mismatches)
	} else {
		fmt.Printf("cosine similarity: %.6f (threshold %.3f)\n", cmp.Cosine, reference.CosineThreshold)
	}
}
