// Package dtype describes the scalar element kinds the NPU matmul unit understands
// and converts host values to and from their device encoding.
package dtype

import (
	"fmt"
	"strings"

	"github.com/x448/float16"
)

// Kind identifies the encoding of one matrix element.
// Keep these stable; add new values only at the end.
type Kind uint8

const (
	Unknown Kind = iota
	Float16
	Float32
	Int8
	Int4 // signed, two per byte, low nibble first
	Int16
	Int32
)

// I4 marks host int8 data that should be treated as signed 4-bit values.
// Values are expected to lie in [-8, 7].
type I4 int8

// Element is the set of Go types that can carry matrix data on the host side.
type Element interface {
	~float32 | ~float64 | ~int8 | ~int16 | ~int32 | float16.Float16
}

var kindNames = [...]string{
	Unknown: "unknown",
	Float16: "float16",
	Float32: "float32",
	Int8:    "int8",
	Int4:    "int4",
	Int16:   "int16",
	Int32:   "int32",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Bits returns the storage width of one element.
func (k Kind) Bits() int {
	switch k {
	case Int4:
		return 4
	case Int8:
		return 8
	case Float16, Int16:
		return 16
	case Float32, Int32:
		return 32
	default:
		return 0
	}
}

// Valid reports whether k is a known element kind.
func (k Kind) Valid() bool {
	return k > Unknown && k <= Int32
}

func (k Kind) IsFloat() bool {
	return k == Float16 || k == Float32
}

// IsSubByte reports whether more than one element shares a byte.
func (k Kind) IsSubByte() bool {
	return k == Int4
}

// Bytes returns the number of bytes needed to store n elements of kind k.
// Sub-byte kinds round up, so an odd int4 count still occupies a whole final byte.
func Bytes(k Kind, n int) int {
	if n <= 0 {
		return 0
	}
	return (n*k.Bits() + 7) / 8
}

// Parse accepts the canonical names plus the short spellings used on the command line.
func Parse(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float16", "f16", "fp16", "half":
		return Float16, nil
	case "float32", "f32", "fp32", "float":
		return Float32, nil
	case "int8", "i8", "int8_t":
		return Int8, nil
	case "int4", "i4":
		return Int4, nil
	case "int16", "i16", "int16_t":
		return Int16, nil
	case "int32", "i32", "int32_t":
		return Int32, nil
	default:
		return Unknown, fmt.Errorf("unknown element kind %q", s)
	}
}

// KindOf maps a host element type to the device kind it encodes as.
func KindOf[T Element]() Kind {
	var zero T
	switch any(zero).(type) {
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case I4:
		return Int4
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	default:
		return Unknown
	}
}
