//go:build rknpu

package backend

import (
	"github.com/samcharles93/matnpu/internal/backend/rknn"
	"github.com/samcharles93/matnpu/internal/logger"
)

const rknpuEnabled = true

func newRKNPU(log logger.Logger) (Driver, error) {
	return rknn.New(log)
}
