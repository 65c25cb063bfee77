package matmul

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupported marks an element-type triple with no hardware mode.
	ErrUnsupported = errors.New("unsupported type combination")
	// ErrResource marks a failure to create a context or allocate/bind device memory.
	ErrResource = errors.New("accelerator resource error")
	// ErrExecution marks a failed accelerator run.
	ErrExecution = errors.New("accelerator execution error")
	// ErrUsage marks an operation invoked in the wrong lifecycle state.
	ErrUsage = errors.New("invalid usage")
)

// UnsupportedError carries the offending triple and every legal one.
type UnsupportedError struct {
	Triple    Triple
	Supported []Triple
}

func (e *UnsupportedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "unsupported type combination %s; supported:", e.Triple)
	for i, t := range e.Supported {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte(' ')
		b.WriteString(t.String())
	}
	return b.String()
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// Status is a numeric accelerator return code. Zero is success, failures are negative.
type Status int32

const (
	StatusSuccess           Status = 0
	StatusFail              Status = -1
	StatusTimeout           Status = -2
	StatusDeviceUnavailable Status = -3
	StatusMallocFail        Status = -4
	StatusParamInvalid      Status = -5
	StatusModelInvalid      Status = -6
	StatusCtxInvalid        Status = -7
	StatusInputInvalid      Status = -8
	StatusOutputInvalid     Status = -9
	StatusDeviceUnmatch     Status = -10
	StatusIncompatible      Status = -11
	StatusTargetPlatform    Status = -12
)

var statusNames = map[Status]string{
	StatusSuccess:           "RKNN_SUCC",
	StatusFail:              "RKNN_ERR_FAIL",
	StatusTimeout:           "RKNN_ERR_TIMEOUT",
	StatusDeviceUnavailable: "RKNN_ERR_DEVICE_UNAVAILABLE",
	StatusMallocFail:        "RKNN_ERR_MALLOC_FAIL",
	StatusParamInvalid:      "RKNN_ERR_PARAM_INVALID",
	StatusModelInvalid:      "RKNN_ERR_MODEL_INVALID",
	StatusCtxInvalid:        "RKNN_ERR_CTX_INVALID",
	StatusInputInvalid:      "RKNN_ERR_INPUT_INVALID",
	StatusOutputInvalid:     "RKNN_ERR_OUTPUT_INVALID",
	StatusDeviceUnmatch:     "RKNN_ERR_DEVICE_UNMATCH",
	StatusIncompatible:      "RKNN_ERR_INCOMPATILE_PRE_COMPILE_MODEL",
	StatusTargetPlatform:    "RKNN_ERR_TARGET_PLATFORM_UNMATCH",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RKNN_ERR(%d)", int32(s))
}

// DriverError reports a non-zero status returned by an accelerator call.
type DriverError struct {
	Op     string
	Status Status
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s failed: %s (%d)", e.Op, e.Status, int32(e.Status))
}

// Unwrap classifies the failure: run errors are execution errors, everything else is
// a resource error.
func (e *DriverError) Unwrap() error {
	if e.Op == OpRun {
		return ErrExecution
	}
	return ErrResource
}

// Driver operation names used in DriverError.Op.
const (
	OpCreateContext  = "matmul_create"
	OpAllocate       = "create_mem"
	OpBind           = "matmul_set_io_mem"
	OpRun            = "matmul_run"
	OpDestroyBuffer  = "destroy_mem"
	OpDestroyContext = "matmul_destroy"
	OpSetQuant       = "matmul_set_quant_params"
	OpSetCoreMask    = "matmul_set_core_mask"
)

// NewDriverError is a convenience for driver implementations.
func NewDriverError(op string, status Status) error {
	return &DriverError{Op: op, Status: status}
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}
