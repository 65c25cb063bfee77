package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/matnpu/pkg/matmul"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	// ErrNonFinite reports an output element JSON cannot carry, such as a float16 overflow.
	ErrNonFinite = errors.New("non-finite output")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// writeMatmulError maps a dispatch error onto the HTTP error envelope.
func writeMatmulError(c *echo.Context, err error) error {
	var derr *matmul.DriverError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, matmul.ErrUnsupported):
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "unsupported_combination")
	case errors.Is(err, ErrNonFinite):
		return writeError(c, http.StatusUnprocessableEntity, "result_error", err.Error(), "non_finite_output")
	case errors.Is(err, matmul.ErrUsage):
		return writeError(c, http.StatusConflict, "usage_error", err.Error(), "usage")
	case errors.As(err, &derr):
		return writeError(c, http.StatusBadGateway, "driver_error", err.Error(), derr.Status.String())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return writeError(c, http.StatusServiceUnavailable, "server_error", err.Error(), "canceled")
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
}
