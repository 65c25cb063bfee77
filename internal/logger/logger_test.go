package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("context created", "mode", "INT8_MM_INT8_TO_INT32")

	output := buf.String()
	if !strings.Contains(output, `"msg":"context created"`) {
		t.Fatalf("expected message in output, got: %s", output)
	}
	if !strings.Contains(output, `"mode":"INT8_MM_INT8_TO_INT32"`) {
		t.Fatalf("expected mode attr in JSON output, got: %s", output)
	}
	if !strings.Contains(output, `"source"`) {
		t.Fatalf("expected source location in JSON output, got: %s", output)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	for _, format := range []Format{FormatJSON, FormatText, FormatPretty} {
		var buf bytes.Buffer
		log := New(&buf, Options{Format: format, Level: slog.LevelWarn})
		log.Info("hidden")
		log.Debug("hidden too")
		if buf.Len() > 0 {
			t.Fatalf("%s: expected no output below warn, got: %s", format, buf.String())
		}
		log.Warn("shown")
		if !strings.Contains(buf.String(), "shown") {
			t.Fatalf("%s: expected warn message, got: %s", format, buf.String())
		}
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard().With("k", "v").WithGroup("g")
	log.Error("nowhere")
}

func TestWithAttrsAndGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelDebug).With("driver", "sim").WithGroup("session")
	log.Debug("transition", "state", "executed")

	output := buf.String()
	for _, want := range []string{"DEBUG", "transition", "driver=sim", "session.state=executed"} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in output, got: %s", want, output)
		}
	}
	if strings.Contains(output, "\033[") {
		t.Fatalf("expected no color codes for a buffer, got: %q", output)
	}
}

func TestNestedGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)
	slog.New(h.WithGroup("a").WithGroup("b")).Info("nested", "key", "val")
	if !strings.Contains(buf.String(), "a.b.key=val") {
		t.Fatalf("expected 'a.b.key=val' in output, got: %s", buf.String())
	}
	if h.WithGroup("") != h {
		t.Fatal("WithGroup with an empty name should return the same handler")
	}
}

func TestPrettyQuoting(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil)).Info("bind", "layout", "native(n=32,k=32)", "msg", "hello world")
	output := buf.String()
	if !strings.Contains(output, `layout="native(n=32,k=32)"`) {
		t.Fatalf("expected quoted layout, got: %s", output)
	}
	if !strings.Contains(output, `msg="hello world"`) {
		t.Fatalf("expected quoted string with spaces, got: %s", output)
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected bool
	}{
		{"simple", false},
		{"has space", true},
		{"has\ttab", true},
		{`has"quote`, true},
		{"a=b", true},
		{"", true},
	}
	for _, tc := range tests {
		if got := needsQuoting(tc.input); got != tc.expected {
			t.Errorf("needsQuoting(%q): expected %v, got %v", tc.input, tc.expected, got)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("roundtrip")
	if !strings.Contains(buf.String(), "roundtrip") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}
}

func TestParseLevelAndFormat(t *testing.T) {
	t.Parallel()
	levels := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range levels {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}

	f, err := ParseFormat("JSON")
	if err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
