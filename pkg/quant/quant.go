// Package quant holds the affine quantization parameters attached to matmul operands.
//
// A real value x is stored as q = round(x/Scale) + ZeroPoint. Parameters are either
// per-layer (one scale, one zero point) or per-channel (one pair per output column of
// the weight operand).
package quant

import (
	"errors"
	"fmt"
)

// ErrInvalid is returned for malformed parameters.
var ErrInvalid = errors.New("quant: invalid parameters")

// Params is one scale/zero-point set. The zero value means "not quantized".
type Params struct {
	Scale     []float32
	ZeroPoint []int32
}

// PerLayer returns a single scale and zero point for the whole tensor.
func PerLayer(scale float32, zp int32) Params {
	return Params{Scale: []float32{scale}, ZeroPoint: []int32{zp}}
}

// PerChannel returns n identical channel parameters.
func PerChannel(n int, scale float32, zp int32) Params {
	p := Params{Scale: make([]float32, n), ZeroPoint: make([]int32, n)}
	for i := range n {
		p.Scale[i] = scale
		p.ZeroPoint[i] = zp
	}
	return p
}

// IsZero reports whether no parameters were set.
func (p Params) IsZero() bool {
	return len(p.Scale) == 0 && len(p.ZeroPoint) == 0
}

// Channels is the number of scale entries.
func (p Params) Channels() int {
	return len(p.Scale)
}

// Validate checks p against the number of channels allowed for the operand.
// channels is 1 for per-layer operands and N for a per-channel weight.
func (p Params) Validate(channels int) error {
	if p.IsZero() {
		return nil
	}
	if len(p.Scale) != len(p.ZeroPoint) {
		return fmt.Errorf("%w: %d scales but %d zero points", ErrInvalid, len(p.Scale), len(p.ZeroPoint))
	}
	if len(p.Scale) != 1 && len(p.Scale) != channels {
		return fmt.Errorf("%w: %d scales, want 1 or %d", ErrInvalid, len(p.Scale), channels)
	}
	for i, s := range p.Scale {
		if !(s > 0) {
			return fmt.Errorf("%w: scale[%d] = %g", ErrInvalid, i, s)
		}
	}
	return nil
}

// At returns the scale and zero point for channel ch. Per-layer parameters apply to
// every channel and an unset Params behaves as scale 1, zero point 0.
func (p Params) At(ch int) (float64, int64) {
	switch len(p.Scale) {
	case 0:
		return 1, 0
	case 1:
		return float64(p.Scale[0]), int64(p.ZeroPoint[0])
	default:
		return float64(p.Scale[ch]), int64(p.ZeroPoint[ch])
	}
}

// Clone returns a deep copy so callers can keep mutating their own slices.
func (p Params) Clone() Params {
	if p.IsZero() {
		return Params{}
	}
	return Params{
		Scale:     append([]float32(nil), p.Scale...),
		ZeroPoint: append([]int32(nil), p.ZeroPoint...),
	}
}

func (p Params) String() string {
	switch len(p.Scale) {
	case 0:
		return "none"
	case 1:
		return fmt.Sprintf("scale=%g zp=%d", p.Scale[0], p.ZeroPoint[0])
	default:
		return fmt.Sprintf("per-channel(%d)", len(p.Scale))
	}
}
