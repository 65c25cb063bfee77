//go:build !rknpu

package backend

import (
	"errors"

	"github.com/samcharles93/matnpu/internal/logger"
)

const rknpuEnabled = false

var errRKNPUUnavailable = errors.New("rknpu backend is not available in this build (rebuild with -tags rknpu)")

func newRKNPU(logger.Logger) (Driver, error) {
	return nil, errRKNPUUnavailable
}
