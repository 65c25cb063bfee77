package dtype

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

var (
	// ErrShortBuffer is returned when a destination cannot hold the encoded elements.
	ErrShortBuffer = errors.New("dtype: buffer too short")
	// ErrUnsupportedHost is returned for host slices that carry no known element type.
	ErrUnsupportedHost = errors.New("dtype: unsupported host slice type")
)

// scalar is one host element lifted to a form that converts without loss:
// floats travel as float64 and integers as int64.
type scalar struct {
	f       float64
	i       int64
	isFloat bool
}

func (s scalar) float() float64 {
	if s.isFloat {
		return s.f
	}
	return float64(s.i)
}

// integer rounds half away from zero and saturates to [lo, hi]. NaN maps to zero.
func (s scalar) integer(lo, hi int64) int64 {
	if !s.isFloat {
		return min(max(s.i, lo), hi)
	}
	if math.IsNaN(s.f) {
		return 0
	}
	r := math.Round(s.f)
	if r <= float64(lo) {
		return lo
	}
	if r >= float64(hi) {
		return hi
	}
	return int64(r)
}

// hostReader returns the element count of a host slice and an accessor for it.
func hostReader(src any) (int, func(int) scalar, error) {
	switch v := src.(type) {
	case []float16.Float16:
		return len(v), func(i int) scalar { return scalar{f: float64(v[i].Float32()), isFloat: true} }, nil
	case []float32:
		return len(v), func(i int) scalar { return scalar{f: float64(v[i]), isFloat: true} }, nil
	case []float64:
		return len(v), func(i int) scalar { return scalar{f: v[i], isFloat: true} }, nil
	case []int8:
		return len(v), func(i int) scalar { return scalar{i: int64(v[i])} }, nil
	case []I4:
		return len(v), func(i int) scalar { return scalar{i: int64(v[i])} }, nil
	case []int16:
		return len(v), func(i int) scalar { return scalar{i: int64(v[i])} }, nil
	case []int32:
		return len(v), func(i int) scalar { return scalar{i: int64(v[i])} }, nil
	default:
		return 0, nil, fmt.Errorf("%w: %T", ErrUnsupportedHost, src)
	}
}

// Len returns the number of elements in a supported host slice.
func Len(src any) (int, error) {
	n, _, err := hostReader(src)
	return n, err
}

// HostKind reports the device kind that matches a host slice without conversion.
// []float64 has no device counterpart and reports Unknown.
func HostKind(src any) Kind {
	switch src.(type) {
	case []float16.Float16:
		return Float16
	case []float32:
		return Float32
	case []int8:
		return Int8
	case []I4:
		return Int4
	case []int16:
		return Int16
	case []int32:
		return Int32
	default:
		return Unknown
	}
}

// Encode writes every element of src into dst using the little-endian encoding of kind.
// A host slice that already has kind's encoding is copied as is. Other values are
// converted: float32 data written as Float16 is rounded to nearest-even, floats written
// as integers are rounded and saturated, and anything written as Int4 saturates to
// [-8, 7]. src is never modified.
func Encode(dst []byte, kind Kind, src any) error {
	n, at, err := hostReader(src)
	if err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("dtype: encode into %s", kind)
	}
	if need := Bytes(kind, n); len(dst) < need {
		return fmt.Errorf("%w: need %d bytes for %d %s elements, have %d", ErrShortBuffer, need, n, kind, len(dst))
	}
	if raw, ok := hostBytes(kind, src); ok {
		copy(dst, raw)
		return nil
	}
	switch kind {
	case Float16:
		for i := range n {
			h := float16.Fromfloat32(float32(at(i).float()))
			binary.LittleEndian.PutUint16(dst[2*i:], h.Bits())
		}
	case Float32:
		for i := range n {
			binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(float32(at(i).float())))
		}
	case Int8:
		for i := range n {
			dst[i] = byte(int8(at(i).integer(math.MinInt8, math.MaxInt8)))
		}
	case Int4:
		if n%2 == 1 {
			dst[n/2] = 0
		}
		for i := range n {
			PutInt4(dst, i, int8(at(i).integer(-8, 7)))
		}
	case Int16:
		for i := range n {
			binary.LittleEndian.PutUint16(dst[2*i:], uint16(int16(at(i).integer(math.MinInt16, math.MaxInt16))))
		}
	case Int32:
		for i := range n {
			binary.LittleEndian.PutUint32(dst[4*i:], uint32(int32(at(i).integer(math.MinInt32, math.MaxInt32))))
		}
	}
	return nil
}

// Decode reads n elements of kind from src into a freshly allocated host slice:
// []float16.Float16, []float32, []int8 (Int8 and unpacked Int4), []int16 or []int32.
func Decode(kind Kind, src []byte, n int) (any, error) {
	if need := Bytes(kind, n); len(src) < need {
		return nil, fmt.Errorf("%w: need %d bytes for %d %s elements, have %d", ErrShortBuffer, need, n, kind, len(src))
	}
	switch kind {
	case Float16:
		out := make([]float16.Float16, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(src[2*i:]))
		}
		return out, nil
	case Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
		}
		return out, nil
	case Int8:
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(src[i])
		}
		return out, nil
	case Int4:
		out := make([]int8, n)
		for i := range out {
			out[i] = Int4At(src, i)
		}
		return out, nil
	case Int16:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(src[2*i:]))
		}
		return out, nil
	case Int32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(src[4*i:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("dtype: decode from %s", kind)
	}
}

// Float64s decodes n elements of kind into float64 values.
func Float64s(kind Kind, src []byte, n int) ([]float64, error) {
	if need := Bytes(kind, n); len(src) < need {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, need, len(src))
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = At(kind, src, i)
	}
	return out, nil
}

// At decodes element i of a buffer of the given kind as float64.
// The caller is responsible for bounds.
func At(kind Kind, src []byte, i int) float64 {
	switch kind {
	case Float16:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(src[2*i:])).Float32())
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:])))
	case Int8:
		return float64(int8(src[i]))
	case Int4:
		return float64(Int4At(src, i))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(src[2*i:])))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(src[4*i:])))
	default:
		return 0
	}
}
