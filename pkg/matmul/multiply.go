// Package matmul dispatches dense matrix multiplications to an NPU matmul unit.
//
// It picks the hardware operation mode from the element types involved, manages the
// three operand buffers of an execution context and converts between the accelerator's
// tiled layouts and row-major host data. The accelerator itself sits behind Driver.
package matmul

import (
	"context"
	"fmt"

	"github.com/samcharles93/matnpu/pkg/dtype"
)

// Request describes one multiplication. Mode wins over Types when both are set.
// A is MxK and B is KxN, both row-major.
type Request struct {
	Dims   Dims
	Mode   Mode
	Types  Triple
	A, B   any
	Config Config
}

// Multiply runs a request through the whole session lifecycle and returns the Result,
// which the caller must Release. On error nothing is left allocated.
func Multiply(ctx context.Context, drv Driver, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := NewSession(ctx, drv, req.Dims, req.Config)
	if err != nil {
		return nil, err
	}
	if req.Mode != ModeInvalid {
		err = s.SetMode(req.Mode)
	} else {
		err = s.Resolve(req.Types.A, req.Types.B, req.Types.C)
	}
	if err != nil {
		return nil, err
	}
	if err := s.CreateContext(); err != nil {
		return nil, err
	}
	a := Host{Rows: req.Dims.M, Cols: req.Dims.K, Data: req.A}
	b := Host{Rows: req.Dims.K, Cols: req.Dims.N, Data: req.B}
	if err := s.BindAll(a, b); err != nil {
		return nil, s.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(err)
	}
	if err := s.Run(); err != nil {
		return nil, err
	}
	if err := s.Expose(); err != nil {
		return nil, err
	}
	return s.Detach()
}

// MultiplyAs multiplies typed host slices and returns C as []C. The mode follows from
// the element types, so MultiplyAs[float32](ctx, drv, dims, a16, b16, cfg) with float16
// inputs runs Float16MMFloat16ToFloat32. The Result is released before returning.
func MultiplyAs[C, A, B dtype.Element](ctx context.Context, drv Driver, dims Dims, a []A, b []B, cfg Config) ([]C, error) {
	t := KindsOf[A, B, C]()
	mode, err := Resolve(t.A, t.B, t.C)
	if err != nil {
		return nil, err
	}
	res, err := Multiply(ctx, drv, Request{Dims: dims, Mode: mode, A: a, B: b, Config: cfg})
	if err != nil {
		return nil, err
	}
	out, err := Values[C](res)
	if relErr := res.Release(); relErr != nil && err == nil {
		err = fmt.Errorf("release result: %w", relErr)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
