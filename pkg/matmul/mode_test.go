package matmul

import (
	"errors"
	"strings"
	"testing"

	"github.com/x448/float16"

	"github.com/samcharles93/matnpu/pkg/dtype"
)

func TestResolveTable(t *testing.T) {
	seen := map[Triple]bool{}
	for _, m := range SupportedModes() {
		tr := m.Triple()
		if seen[tr] {
			t.Fatalf("triple %s listed twice", tr)
		}
		seen[tr] = true
		got, err := Resolve(tr.A, tr.B, tr.C)
		if err != nil || got != m {
			t.Fatalf("Resolve(%s) = %v, %v; want %v", tr, got, err, m)
		}
	}
	if len(seen) != 11 {
		t.Fatalf("expected 11 modes, got %d", len(seen))
	}
	if Float16MMFloat16ToFloat32 != 1 || Int8MMInt4ToInt32 != 11 || Int4MMInt4ToInt16 != 10 {
		t.Fatalf("mode tags drifted from the runtime numbering")
	}
}

func TestResolveUnsupported(t *testing.T) {
	_, err := Resolve(dtype.Float32, dtype.Int8, dtype.Float32)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	var ue *UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnsupportedError, got %T", err)
	}
	if ue.Triple != (Triple{dtype.Float32, dtype.Int8, dtype.Float32}) || len(ue.Supported) != 11 {
		t.Fatalf("unexpected error contents: %+v", ue)
	}
	msg := err.Error()
	if !strings.Contains(msg, "(float32, int8, float32)") || !strings.Contains(msg, "(int8, int4, int32)") {
		t.Fatalf("message should name the triple and the legal ones: %s", msg)
	}
}

func TestMustResolvePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic")
		}
	}()
	MustResolve(dtype.Int16, dtype.Int16, dtype.Int16)
}

func TestKindsOf(t *testing.T) {
	got := KindsOf[float16.Float16, dtype.I4, float32]()
	if got != (Triple{dtype.Float16, dtype.Int4, dtype.Float32}) {
		t.Fatalf("KindsOf = %s", got)
	}
	if MustResolve(got.A, got.B, got.C) != Float16MMInt4ToFloat32 {
		t.Fatalf("unexpected mode")
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"2":                               Int8MMInt8ToInt32,
		"int8_mm_int8_to_int32":           Int8MMInt8ToInt32,
		"RKNN_FLOAT16_MM_INT4_TO_FLOAT16": Float16MMInt4ToFloat16,
		"f16,i8,f32":                      Float16MMInt8ToFloat32,
		" i4, i4, i16 ":                   Int4MMInt4ToInt16,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"0", "12", "matmul", "f32,i8,f32"} {
		if _, err := ParseMode(bad); err == nil {
			t.Fatalf("ParseMode(%q) should fail", bad)
		}
	}
}

func TestDriverErrorClassification(t *testing.T) {
	run := NewDriverError(OpRun, StatusTimeout)
	if !errors.Is(run, ErrExecution) || errors.Is(run, ErrResource) {
		t.Fatalf("run failures are execution errors: %v", run)
	}
	alloc := NewDriverError(OpAllocate, StatusMallocFail)
	if !errors.Is(alloc, ErrResource) {
		t.Fatalf("allocation failures are resource errors: %v", alloc)
	}
	if !strings.Contains(alloc.Error(), "RKNN_ERR_MALLOC_FAIL") {
		t.Fatalf("status name missing: %v", alloc)
	}
	if Status(-99).String() != "RKNN_ERR(-99)" {
		t.Fatalf("unexpected unknown status name %s", Status(-99))
	}
}
