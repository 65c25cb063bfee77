package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/matnpu/internal/backend/sim"
	"github.com/samcharles93/matnpu/internal/logger"
	"github.com/samcharles93/matnpu/pkg/matmul"
)

const (
	Sim   = "sim"
	RKNPU = "rknpu"
	Auto  = "auto"
)

// Driver is a matmul driver the CLI and the HTTP service can own and shut down.
type Driver interface {
	matmul.Driver
	Name() string
	Close() error
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Sim, RKNPU, Auto:
		return backend, nil
	case "npu", "rknn":
		return RKNPU, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, sim, or rknpu)", backend)
	}
}

// New opens the named backend. Auto prefers the NPU and falls back to the simulator
// when this build or this machine has none.
func New(name string, log logger.Logger) (Driver, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch backend {
	case Sim:
		return sim.New(sim.Options{Logger: log}), nil
	case RKNPU:
		return newRKNPU(log)
	default:
		if Has(RKNPU) {
			drv, err := newRKNPU(log)
			if err == nil {
				return drv, nil
			}
			log.Warn("rknpu backend unavailable, using simulator", "error", err)
		}
		return sim.New(sim.Options{Logger: log}), nil
	}
}
