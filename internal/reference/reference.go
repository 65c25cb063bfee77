// Package reference is a CPU implementation of the NPU matmul modes. It is the oracle the
// software driver computes with and the CLI verifies hardware results against.
package reference

import (
	"fmt"
	"math"

	"github.com/samcharles93/matnpu/pkg/dtype"
	"github.com/samcharles93/matnpu/pkg/matmul"
	"github.com/samcharles93/matnpu/pkg/quant"
)

// CosineThreshold is the similarity float results must reach to count as matching.
const CosineThreshold = 0.999

// Quant groups the parameters of the three operands.
type Quant struct {
	A, B, C quant.Params
}

// QuantOf extracts the operand parameters from a session config.
func QuantOf(cfg matmul.Config) Quant {
	return Quant{A: cfg.QuantA, B: cfg.QuantB, C: cfg.QuantC}
}

// operandValue dequantizes integer operands. Float operands ignore their parameters.
func operandValue(kind dtype.Kind, p quant.Params, raw float64, ch int) float64 {
	if kind.IsFloat() || p.IsZero() {
		return raw
	}
	scale, zp := p.At(ch)
	return (raw - float64(zp)) * scale
}

// Compute multiplies the Normal-layout encoded operands a (MxK) and b (KxN) and writes
// C (MxN) encoded as t.C into dst. Accumulation is float64. An integer C with parameters
// is requantized as round(r/scale)+zp; integer results saturate to the output range.
func Compute(dst []byte, t matmul.Triple, dims matmul.Dims, a, b []byte, q Quant) error {
	if need := dtype.Bytes(t.A, dims.M*dims.K); len(a) < need {
		return fmt.Errorf("%w: A needs %d bytes, have %d", dtype.ErrShortBuffer, need, len(a))
	}
	if need := dtype.Bytes(t.B, dims.K*dims.N); len(b) < need {
		return fmt.Errorf("%w: B needs %d bytes, have %d", dtype.ErrShortBuffer, need, len(b))
	}
	out := Accumulate(t, dims, a, b, q)
	return dtype.Encode(dst, t.C, out)
}

// Accumulate returns the MxN result values before they are encoded as t.C.
func Accumulate(t matmul.Triple, dims matmul.Dims, a, b []byte, q Quant) []float64 {
	av := make([]float64, dims.M*dims.K)
	for i := range av {
		av[i] = operandValue(t.A, q.A, dtype.At(t.A, a, i), 0)
	}
	bv := make([]float64, dims.K*dims.N)
	for i := range bv {
		bv[i] = operandValue(t.B, q.B, dtype.At(t.B, b, i), i%dims.N)
	}
	out := make([]float64, dims.M*dims.N)
	for i := range dims.M {
		row := av[i*dims.K : (i+1)*dims.K]
		for j := range dims.N {
			var sum float64
			for k, x := range row {
				sum += x * bv[k*dims.N+j]
			}
			out[i*dims.N+j] = sum
		}
	}
	if !t.C.IsFloat() && !q.C.IsZero() {
		scale, zp := q.C.At(0)
		for i, v := range out {
			out[i] = v/scale + float64(zp)
		}
	}
	return out
}

// MultiplyHost encodes host slices the way the device would see them, multiplies them in
// mode and returns C as float64 values.
func MultiplyHost(mode matmul.Mode, dims matmul.Dims, a, b any, q Quant) ([]float64, error) {
	t := mode.Triple()
	ab := make([]byte, dtype.Bytes(t.A, dims.M*dims.K))
	if err := dtype.Encode(ab, t.A, a); err != nil {
		return nil, fmt.Errorf("encode A: %w", err)
	}
	bb := make([]byte, dtype.Bytes(t.B, dims.K*dims.N))
	if err := dtype.Encode(bb, t.B, b); err != nil {
		return nil, fmt.Errorf("encode B: %w", err)
	}
	cb := make([]byte, dtype.Bytes(t.C, dims.M*dims.N))
	if err := Compute(cb, t, dims, ab, bb, q); err != nil {
		return nil, err
	}
	return dtype.Float64s(t.C, cb, dims.M*dims.N)
}

// Equal reports whether two results match element for element.
func Equal(want, got []float64) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

// CosineSimilarity returns the cosine of the angle between a and b. Two zero vectors
// are identical; a zero vector against a non-zero one scores 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 && nb == 0 {
		return 1
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Comparison is the outcome of checking a device result against the reference.
type Comparison struct {
	Exact      bool
	Cosine     float64
	Mismatches int
	Match      bool
}

// Compare checks got against want. Integer outputs must match exactly; float outputs
// must reach CosineThreshold.
func Compare(kind dtype.Kind, want, got []float64) Comparison {
	c := Comparison{Cosine: CosineSimilarity(want, got), Exact: kind != dtype.Unknown && !kind.IsFloat()}
	if len(want) != len(got) {
		c.Mismatches = max(len(want), len(got))
		return c
	}
	for i := range want {
		if want[i] != got[i] {
			c.Mismatches++
		}
	}
	if c.Exact {
		c.Match = c.Mismatches == 0
	} else {
		c.Match = c.Cosine >= CosineThreshold
	}
	return c
}
