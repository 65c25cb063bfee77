package matmul

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/matnpu/pkg/dtype"
	"github.com/samcharles93/matnpu/pkg/layout"
)

// Result owns the output buffer and the context of a finished multiplication.
// It must be released exactly once.
type Result struct {
	drv      Driver
	ctx      ContextHandle
	mem      Memory
	dims     Dims
	mode     Mode
	kind     dtype.Kind
	layout   layout.Layout
	data     []byte
	released bool
}

func (r *Result) Dims() Dims { return r.dims }
func (r *Result) Mode() Mode { return r.mode }
func (r *Result) Kind() dtype.Kind { return r.kind }
func (r *Result) Layout() layout.Layout { return r.layout }
func (r *Result) Released() bool { return r.released }

// Len is the number of elements Data returns: M*N, or the padded count for raw tiled output.
func (r *Result) Len() int {
	n, err := layout.Elements(r.layout, r.dims.M, r.dims.N)
	if err != nil {
		return r.dims.M * r.dims.N
	}
	return n
}

// Bytes returns the encoded output. It may alias device memory and is only valid
// until Release.
func (r *Result) Bytes() ([]byte, error) {
	if r.released {
		return nil, usageError("result already released")
	}
	return r.data, nil
}

// Data decodes the output into a new host slice of the output kind:
// []float16.Float16, []float32, []int8, []int16 or []int32.
func (r *Result) Data() (any, error) {
	if r.released {
		return nil, usageError("result already released")
	}
	return dtype.Decode(r.kind, r.data, r.Len())
}

// View returns the output as a typed slice that aliases C when the storage allows it.
// Like Bytes it is only valid until Release.
func (r *Result) View() (any, error) {
	if r.released {
		return nil, usageError("result already released")
	}
	v, _, err := dtype.View(r.kind, r.data, r.Len())
	return v, err
}

// Float64s decodes the output as float64 values.
func (r *Result) Float64s() ([]float64, error) {
	if r.released {
		return nil, usageError("result already released")
	}
	return dtype.Float64s(r.kind, r.data, r.Len())
}

// Values copies the output into a new []T that outlives Release. T must match the
// output kind.
func Values[T dtype.Element](r *Result) ([]T, error) {
	data, err := r.View()
	if err != nil {
		return nil, err
	}
	out, ok := data.([]T)
	if !ok {
		var zero T
		return nil, fmt.Errorf("result holds %s, not %T", r.kind, zero)
	}
	return slices.Clone(out), nil
}

// Release destroys the output buffer and then the context. A second call returns ErrUsage.
func (r *Result) Release() error {
	if r.released {
		return usageError("result already released")
	}
	r.released = true
	r.data = nil
	var errs []error
	if err := r.drv.DestroyBuffer(r.ctx, r.mem); err != nil {
		errs = append(errs, fmt.Errorf("destroy C: %w", err))
	}
	r.mem = Memory{}
	if err := r.drv.DestroyContext(r.ctx); err != nil {
		errs = append(errs, fmt.Errorf("destroy context: %w", err))
	}
	return errors.Join(errs...)
}
