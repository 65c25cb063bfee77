package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/sys/cpu"

	"github.com/samcharles93/matnpu/internal/backend"
)

type output struct {
	GoVersion  string          `json:"go_version"`
	GoOS       string          `json:"go_os"`
	GoArch     string          `json:"go_arch"`
	CPUs       int             `json:"cpus"`
	Features   map[string]bool `json:"features"`
	Backends   string          `json:"backends"`
	NPUDevices map[string]bool `json:"npu_devices"`
	NPUDriver  string          `json:"npu_driver,omitempty"`
}

// npuPaths are the device nodes and debugfs entries the RKNPU kernel driver exposes.
var npuPaths = []string{
	"/dev/rknpu",
	"/dev/dri/renderD129",
	"/sys/kernel/debug/rknpu/version",
	"/sys/kernel/debug/rknpu/load",
}

func main() {
	features := map[string]bool{
		"ASIMD":    cpu.ARM64.HasASIMD,
		"FPHP":     cpu.ARM64.HasFPHP,
		"ASIMDHP":  cpu.ARM64.HasASIMDHP,
		"ASIMDDP":  cpu.ARM64.HasASIMDDP,
		"ASIMDFHM": cpu.ARM64.HasASIMDFHM,
		"SVE":      cpu.ARM64.HasSVE,
	}

	devices := make(map[string]bool, len(npuPaths))
	for _, p := range npuPaths {
		_, err := os.Stat(p)
		devices[p] = err == nil
	}

	out := output{
		GoVersion:  runtime.Version(),
		GoOS:       runtime.GOOS,
		GoArch:     runtime.GOARCH,
		CPUs:       runtime.NumCPU(),
		Features:   features,
		Backends:   backend.Available(),
		NPUDevices: devices,
	}
	if b, err := os.ReadFile("/sys/kernel/debug/rknpu/version"); err == nil {
		out.NPUDriver = strings.TrimSpace(string(b))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}
