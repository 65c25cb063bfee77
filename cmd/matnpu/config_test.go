package main

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeFlags map[string]bool

func (f fakeFlags) IsSet(name string) bool { return f[name] }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != "" || cfg.Loops != nil {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := writeConfig(t, "loops: [1, 2\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyBenchConfigOnlyWhenUnset(t *testing.T) {
	path := writeConfig(t, `
backend: sim
ac_layout: perf
b_layout: native
core_mask: "0_1"
iommu_domain: 2
seed: 7
loops: 50
warmup: 0
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	b := benchFlags{
		problem:  problemFlags{acLayout: "normal", bLayout: "normal", seed: 42},
		loops:    10,
		warmup:   1,
		coreMask: "auto",
	}
	applyBenchConfig(fakeFlags{"loops": true, "b-layout": true}, cfg, &b)

	if b.loops != 10 {
		t.Fatalf("explicit --loops overridden: %d", b.loops)
	}
	if b.problem.bLayout != "normal" {
		t.Fatalf("explicit --b-layout overridden: %q", b.problem.bLayout)
	}
	if b.problem.acLayout != "perf" || b.problem.seed != 7 {
		t.Fatalf("problem defaults not applied: %+v", b.problem)
	}
	if b.warmup != 0 || b.coreMask != "0_1" || b.iommuDomain != 2 {
		t.Fatalf("bench defaults not applied: %+v", b)
	}
}

func TestApplyGlobalConfig(t *testing.T) {
	backendName, logLevel, logFormat = "auto", "info", "pretty"
	t.Cleanup(func() { backendName, logLevel, logFormat = "auto", "info", "pretty" })

	applyGlobalConfig(fakeFlags{"log-level": true}, Config{Backend: "sim", LogLevel: "debug", LogFormat: "json"})
	if backendName != "sim" || logFormat != "json" {
		t.Fatalf("defaults not applied: backend=%q format=%q", backendName, logFormat)
	}
	if logLevel != "info" {
		t.Fatalf("explicit --log-level overridden: %q", logLevel)
	}
}

func TestApplyServeConfig(t *testing.T) {
	addr := "127.0.0.1:8080"
	applyServeConfig(fakeFlags{}, Config{ServerAddress: "0.0.0.0:9000"}, &addr)
	if addr != "0.0.0.0:9000" {
		t.Fatalf("server address not applied: %q", addr)
	}
}

func TestProblemResolve(t *testing.T) {
	p := problemFlags{types: "i8,i4,i32", m: 2, k: 32, n: 16, acLayout: "perf", bLayout: "native"}
	mode, dims, cfg, err := p.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if mode.String() != "INT8_MM_INT4_TO_INT32" {
		t.Fatalf("unexpected mode %s", mode)
	}
	if dims.M != 2 || dims.K != 32 || dims.N != 16 {
		t.Fatalf("unexpected dims %s", dims)
	}
	if cfg.ACLayout.String() != "performance" || cfg.BLayout.String() != "native" {
		t.Fatalf("unexpected layouts %s %s", cfg.ACLayout, cfg.BLayout)
	}

	p.mode = "3"
	if mode, _, _, err = p.resolve(); err != nil || mode.String() != "INT8_MM_INT8_TO_INT8" {
		t.Fatalf("--mode should win over --types: %v %v", mode, err)
	}
}

func TestRandomOperandsStayInRange(t *testing.T) {
	p := problemFlags{types: "f16,i4,f32", m: 3, k: 8, n: 5, random: true, seed: 1}
	mode, dims, _, err := p.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	a, b := p.operands(mode, dims)
	if len(a) != 24 || len(b) != 40 {
		t.Fatalf("unexpected operand sizes %d %d", len(a), len(b))
	}
	for _, v := range a {
		if v < -1 || v > 1 {
			t.Fatalf("A value %v out of [-1, 1]", v)
		}
	}
	for _, v := range b {
		if v < -8 || v > 7 || v != float64(int(v)) {
			t.Fatalf("B value %v is not an int4", v)
		}
	}
}
