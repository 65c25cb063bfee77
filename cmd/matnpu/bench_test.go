package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/samcharles93/matnpu/internal/logger"
)

func TestRunBenchOnSimulator(t *testing.T) {
	backendName = "sim"
	t.Cleanup(func() { backendName = "auto" })
	ctx := logger.WithContext(context.Background(), logger.Discard())

	for _, types := range []string{"i8,i8,i32", "f16,f16,f32", "i4,i4,i16", "f16,i8,f16"} {
		b := benchFlags{
			problem: problemFlags{
				types: types, m: 5, k: 40, n: 33,
				acLayout: "perf", bLayout: "native",
				random: true, seed: 3,
			},
			loops:    4,
			warmup:   1,
			coreMask: "0",
			jsonOut:  true,
		}
		report, err := runBench(ctx, &b)
		if err != nil {
			t.Fatalf("%s: runBench: %v", types, err)
		}
		if !report.Match {
			t.Fatalf("%s: result mismatch: %+v", types, report)
		}
		if len(report.Loops) != 4 || len(report.Tensors) != 3 {
			t.Fatalf("%s: unexpected report shape: loops=%d tensors=%d", types, len(report.Loops), len(report.Tensors))
		}
		if report.Tensors[1].Layout == "normal" {
			t.Fatalf("%s: B should be reported in its native layout", types)
		}
	}
}

func TestPrintBench(t *testing.T) {
	r := &benchReport{
		Backend: "sim", Mode: "INT8_MM_INT8_TO_INT32", M: 1, K: 2, N: 3,
		ACLayout: "normal", BLayout: "normal", CoreMask: "auto",
		Tensors: []tensorReport{{Name: "A", Slot: "A", Kind: "int8", Layout: "normal", Dims: []int{1, 2}, Size: 2048}},
		Exact:   true,
		Match:   true,
	}
	var buf bytes.Buffer
	printBench(&buf, r, true)
	out := buf.String()
	for _, want := range []string{"INT8_MM_INT8_TO_INT32", "2.0 KiB", "mismatches", "correct"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
