package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/matnpu/internal/logger"
	"github.com/samcharles93/matnpu/internal/reference"
	"github.com/samcharles93/matnpu/pkg/matmul"
)

type benchFlags struct {
	problem     problemFlags
	loops       int64
	warmup      int64
	coreMask    string
	iommuDomain int64
	perLoop     bool
	printC      bool
	jsonOut     bool
}

// benchReport is the machine-readable form of a bench run.
type benchReport struct {
	Backend     string          `json:"backend"`
	Mode        string          `json:"mode"`
	M           int             `json:"m"`
	K           int             `json:"k"`
	N           int             `json:"n"`
	ACLayout    string          `json:"ac_layout"`
	BLayout     string          `json:"b_layout"`
	CoreMask    string          `json:"core_mask"`
	IOMMUDomain int             `json:"iommu_domain"`
	Tensors     []tensorReport  `json:"tensors"`
	Loops       []time.Duration `json:"loops_ns"`
	Average     time.Duration   `json:"average_ns"`
	FPS         float64         `json:"fps"`
	Exact       bool            `json:"exact"`
	Mismatches  int             `json:"mismatches"`
	Cosine      float64         `json:"cosine"`
	Match       bool            `json:"match"`
}

type tensorReport struct {
	Name   string `json:"name"`
	Slot   string `json:"slot"`
	Kind   string `json:"kind"`
	Layout string `json:"layout"`
	Dims   []int  `json:"dims"`
	Size   int    `json:"size"`
}

func benchCmd() *cli.Command {
	var b benchFlags

	flags := append([]cli.Flag{}, b.problem.flags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "loops",
			Aliases:     []string{"loop-count"},
			Usage:       "number of timed runs",
			Value:       10,
			Destination: &b.loops,
		},
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of untimed runs before timing",
			Value:       1,
			Destination: &b.warmup,
		},
		&cli.StringFlag{
			Name:        "core-mask",
			Usage:       "NPU cores to use (auto, 0, 1, 2, 0_1, 0_1_2, all)",
			Value:       "auto",
			Destination: &b.coreMask,
		},
		&cli.Int64Flag{
			Name:        "iommu-domain",
			Usage:       "IOMMU domain id of the context",
			Destination: &b.iommuDomain,
		},
		&cli.BoolFlag{
			Name:        "per-loop",
			Usage:       "print the elapsed time of every run",
			Destination: &b.perLoop,
		},
		&cli.BoolFlag{
			Name:        "print",
			Usage:       "print C",
			Destination: &b.printC,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "write a JSON report to stdout instead of tables",
			Destination: &b.jsonOut,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Time repeated runs of one matmul context and verify the result",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyBenchConfig(cmd, fileConfig, &b)
			if b.loops <= 0 {
				return cli.Exit("error: --loops must be positive", 1)
			}
			report, err := runBench(ctx, &b)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if b.jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printBench(os.Stdout, report, b.perLoop)
			}
			if !report.Match {
				return cli.Exit("result does not match the CPU reference", 1)
			}
			return nil
		},
	}
}

func runBench(ctx context.Context, b *benchFlags) (*benchReport, error) {
	log := logger.FromContext(ctx)

	mode, dims, cfg, err := b.problem.resolve()
	if err != nil {
		return nil, err
	}
	if cfg.CoreMask, err = matmul.ParseCoreMask(b.coreMask); err != nil {
		return nil, fmt.Errorf("--core-mask: %w", err)
	}
	cfg.IOMMUDomain = int(b.iommuDomain)
	a, bm := b.problem.operands(mode, dims)

	drv, err := openDriver(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = drv.Close() }()

	report := &benchReport{
		Backend:     drv.Name(),
		Mode:        mode.String(),
		M:           dims.M,
		K:           dims.K,
		N:           dims.N,
		ACLayout:    cfg.ACLayout.String(),
		BLayout:     cfg.BLayout.String(),
		CoreMask:    b.coreMask,
		IOMMUDomain: cfg.IOMMUDomain,
	}
	log.Info("bench", "backend", drv.Name(), "mode", mode.String(), "dims", dims.String(),
		"loops", b.loops, "core_mask", b.coreMask, "iommu_domain", cfg.IOMMUDomain)

	s, err := matmul.NewSession(ctx, drv, dims, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.SetMode(mode); err != nil {
		return nil, err
	}
	if err := s.CreateContext(); err != nil {
		return nil, err
	}
	attrs := s.Attrs()
	for _, slot := range []matmul.Slot{matmul.SlotA, matmul.SlotB, matmul.SlotC} {
		at := attrs.Get(slot)
		report.Tensors = append(report.Tensors, tensorReport{
			Name:   at.Name,
			Slot:   slot.String(),
			Kind:   at.Kind.String(),
			Layout: at.Layout.String(),
			Dims:   at.Dims,
			Size:   at.Size,
		})
	}
	err = s.BindAll(
		matmul.Host{Rows: dims.M, Cols: dims.K, Data: a},
		matmul.Host{Rows: dims.K, Cols: dims.N, Data: bm},
	)
	if err != nil {
		return nil, errors.Join(err, s.Abort())
	}

	for i := range int(b.warmup) {
		log.Debug("warmup run", "run", i+1)
		if err := s.Run(); err != nil {
			return nil, fmt.Errorf("warmup run %d: %w", i+1, err)
		}
	}

	bar := newBenchBar(int(b.loops), b.jsonOut)
	var total time.Duration
	for i := range int(b.loops) {
		start := time.Now()
		if err := s.Run(); err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		elapsed := time.Since(start)
		total += elapsed
		report.Loops = append(report.Loops, elapsed)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	report.Average = total / time.Duration(b.loops)
	if report.Average > 0 {
		report.FPS = float64(time.Second) / float64(report.Average)
	}

	if err := s.Expose(); err != nil {
		return nil, err
	}
	res, err := s.Detach()
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Release() }()

	got, err := res.Float64s()
	if err != nil {
		return nil, err
	}
	want, err := reference.MultiplyHost(mode, dims, a, bm, reference.QuantOf(cfg))
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	cmp := reference.Compare(res.Kind(), want, got)
	report.Exact = cmp.Exact
	report.Mismatches = cmp.Mismatches
	report.Cosine = cmp.Cosine
	report.Match = cmp.Match

	if b.printC && !b.jsonOut {
		printMatrix(res.Kind().String(), got, dims.M, dims.N)
	}
	return report, nil
}

func newBenchBar(n int, quiet bool) *progressbar.ProgressBar {
	if quiet {
		return progressbar.DefaultSilent(int64(n))
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription("Running: "),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		progressbar.OptionClearOnFinish(),
	)
}

func printBench(w io.Writer, r *benchReport, perLoop bool) {
	_, _ = fmt.Fprintf(w, "MatMul %s, M = %d, K = %d, N = %d, B_layout = %s, AC_layout = %s, loops = %d, core_mask = %s, iommu_domain = %d\n",
		r.Mode, r.M, r.K, r.N, r.BLayout, r.ACLayout, len(r.Loops), r.CoreMask, r.IOMMUDomain)
	_, _ = fmt.Fprintf(w, "Backend: %s\n\n", r.Backend)

	tensors := newTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	tensors.Table.Headers("Name", "Slot", "Type", "Layout", "Dims", "Size")
	var totalBytes uint64
	for _, t := range r.Tensors {
		dims := make([]string, len(t.Dims))
		for i, d := range t.Dims {
			dims[i] = strconv.Itoa(d)
		}
		tensors.Row(false, t.Name, t.Slot, t.Kind, t.Layout, "("+strings.Join(dims, ", ")+")", humanize.IBytes(uint64(t.Size)))
		totalBytes += uint64(t.Size)
	}
	_, _ = fmt.Fprintln(w, tensors.Table.Render())
	_, _ = fmt.Fprintf(w, "Device memory: %s\n\n", humanize.IBytes(totalBytes))

	if perLoop {
		loops := newTable(lipgloss.Right)
		loops.Table.Headers("Run", "Elapsed", "FPS")
		for i, d := range r.Loops {
			fps := 0.0
			if d > 0 {
				fps = float64(time.Second) / float64(d)
			}
			loops.Row(false, strconv.Itoa(i), fmt.Sprintf("%.2fms", msec(d)), humanize.CommafWithDigits(fps, 2))
		}
		_, _ = fmt.Fprintln(w, loops.Table.Render())
	}
	_, _ = fmt.Fprintf(w, "Average Time = %.2fms, Average FPS = %s\n\n", msec(r.Average), humanize.CommafWithDigits(r.FPS, 2))

	check := newTable(lipgloss.Left, lipgloss.Right)
	check.Table.Headers("Check", "Value")
	if r.Exact {
		check.Row(r.Mismatches > 0, "mismatches", humanize.Comma(int64(r.Mismatches)))
	} else {
		check.Row(!r.Match, "cosine", fmt.Sprintf("%.6f", r.Cosine))
		check.Row(false, "threshold", fmt.Sprintf("%.3f", reference.CosineThreshold))
	}
	verdict := "correct"
	if !r.Match {
		verdict = "wrong"
	}
	check.Row(!r.Match, "result", verdict)
	_, _ = fmt.Fprintln(w, check.Table.Render())
}

func msec(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
