package backend

import (
	"strings"
	"testing"

	"github.com/samcharles93/matnpu/internal/logger"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":      Auto,
		" SIM ": Sim,
		"rknpu": RKNPU,
		"rknn":  RKNPU,
		"auto":  Auto,
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil || got != want {
			t.Fatalf("Normalize(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := Normalize("cuda"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewSim(t *testing.T) {
	drv, err := New(Sim, logger.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer drv.Close()
	if drv.Name() != Sim {
		t.Fatalf("expected sim driver, got %s", drv.Name())
	}
}

func TestAutoAlwaysOpens(t *testing.T) {
	drv, err := New(Auto, logger.Discard())
	if err != nil {
		t.Fatalf("New(auto): %v", err)
	}
	defer drv.Close()
	if !strings.Contains(Available(), drv.Name()) {
		t.Fatalf("driver %s not in available list %s", drv.Name(), Available())
	}
}

func TestRKNPUUnavailableWithoutTag(t *testing.T) {
	if Has(RKNPU) {
		t.Skip("built with rknpu")
	}
	if _, err := New(RKNPU, logger.Discard()); err == nil {
		t.Fatal("expected error opening rknpu without the build tag")
	}
}
