package matmul

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samcharles93/matnpu/pkg/dtype"
)

// Triple is the (A, B, C) element kinds of one multiplication.
type Triple struct {
	A, B, C dtype.Kind
}

func (t Triple) String() string {
	return fmt.Sprintf("(%s, %s, %s)", t.A, t.B, t.C)
}

// Mode is a hardware operation mode. The numeric values are the tags the RKNPU runtime
// expects in rknn_matmul_info.type.
type Mode int32

const (
	ModeInvalid               Mode = 0
	Float16MMFloat16ToFloat32 Mode = 1
	Int8MMInt8ToInt32         Mode = 2
	Int8MMInt8ToInt8          Mode = 3
	Float16MMFloat16ToFloat16 Mode = 4
	Float16MMInt8ToFloat32    Mode = 5
	Float16MMInt8ToFloat16    Mode = 6
	Float16MMInt4ToFloat32    Mode = 7
	Float16MMInt4ToFloat16    Mode = 8
	Int8MMInt8ToFloat32       Mode = 9
	Int4MMInt4ToInt16         Mode = 10
	Int8MMInt4ToInt32         Mode = 11
)

type modeRow struct {
	triple Triple
	mode   Mode
	name   string
}

// modeTable is searched in order; the first exact match wins.
var modeTable = []modeRow{
	{Triple{dtype.Float16, dtype.Float16, dtype.Float32}, Float16MMFloat16ToFloat32, "FLOAT16_MM_FLOAT16_TO_FLOAT32"},
	{Triple{dtype.Int8, dtype.Int8, dtype.Int32}, Int8MMInt8ToInt32, "INT8_MM_INT8_TO_INT32"},
	{Triple{dtype.Int8, dtype.Int8, dtype.Int8}, Int8MMInt8ToInt8, "INT8_MM_INT8_TO_INT8"},
	{Triple{dtype.Float16, dtype.Float16, dtype.Float16}, Float16MMFloat16ToFloat16, "FLOAT16_MM_FLOAT16_TO_FLOAT16"},
	{Triple{dtype.Float16, dtype.Int8, dtype.Float32}, Float16MMInt8ToFloat32, "FLOAT16_MM_INT8_TO_FLOAT32"},
	{Triple{dtype.Float16, dtype.Int8, dtype.Float16}, Float16MMInt8ToFloat16, "FLOAT16_MM_INT8_TO_FLOAT16"},
	{Triple{dtype.Float16, dtype.Int4, dtype.Float32}, Float16MMInt4ToFloat32, "FLOAT16_MM_INT4_TO_FLOAT32"},
	{Triple{dtype.Float16, dtype.Int4, dtype.Float16}, Float16MMInt4ToFloat16, "FLOAT16_MM_INT4_TO_FLOAT16"},
	{Triple{dtype.Int8, dtype.Int8, dtype.Float32}, Int8MMInt8ToFloat32, "INT8_MM_INT8_TO_FLOAT32"},
	{Triple{dtype.Int4, dtype.Int4, dtype.Int16}, Int4MMInt4ToInt16, "INT4_MM_INT4_TO_INT16"},
	{Triple{dtype.Int8, dtype.Int4, dtype.Int32}, Int8MMInt4ToInt32, "INT8_MM_INT4_TO_INT32"},
}

func lookupMode(m Mode) (modeRow, bool) {
	for _, row := range modeTable {
		if row.mode == m {
			return row, true
		}
	}
	return modeRow{}, false
}

func (m Mode) String() string {
	if row, ok := lookupMode(m); ok {
		return row.name
	}
	return fmt.Sprintf("MODE(%d)", int32(m))
}

// Valid reports whether m is a known hardware mode.
func (m Mode) Valid() bool {
	_, ok := lookupMode(m)
	return ok
}

// Triple returns the element kinds m operates on.
func (m Mode) Triple() Triple {
	row, _ := lookupMode(m)
	return row.triple
}

// SupportedTriples lists every legal (A, B, C) combination in table order.
func SupportedTriples() []Triple {
	out := make([]Triple, len(modeTable))
	for i, row := range modeTable {
		out[i] = row.triple
	}
	return out
}

// SupportedModes lists every hardware mode in table order.
func SupportedModes() []Mode {
	out := make([]Mode, len(modeTable))
	for i, row := range modeTable {
		out[i] = row.mode
	}
	return out
}

// Resolve maps an element-type triple to its operation mode.
// Unknown triples return an *UnsupportedError.
func Resolve(a, b, c dtype.Kind) (Mode, error) {
	t := Triple{a, b, c}
	for _, row := range modeTable {
		if row.triple == t {
			return row.mode, nil
		}
	}
	return ModeInvalid, &UnsupportedError{Triple: t, Supported: SupportedTriples()}
}

// MustResolve is Resolve for callers that treat an unsupported triple as a programming
// error, for example a fixed instantiation of MultiplyAs.
func MustResolve(a, b, c dtype.Kind) Mode {
	m, err := Resolve(a, b, c)
	if err != nil {
		panic(err)
	}
	return m
}

// KindsOf returns the device kinds for the host element types A, B and C.
func KindsOf[A, B, C dtype.Element]() Triple {
	return Triple{dtype.KindOf[A](), dtype.KindOf[B](), dtype.KindOf[C]()}
}

// ParseMode accepts a numeric tag, a mode name such as "int8_mm_int8_to_int32", or a
// comma-separated triple such as "f16,i8,f32".
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		m := Mode(n)
		if !m.Valid() {
			return ModeInvalid, fmt.Errorf("unknown mode tag %d", n)
		}
		return m, nil
	}
	upper := strings.ToUpper(strings.TrimPrefix(strings.ToLower(s), "rknn_"))
	for _, row := range modeTable {
		if row.name == upper {
			return row.mode, nil
		}
	}
	if parts := strings.Split(s, ","); len(parts) == 3 {
		var kinds [3]dtype.Kind
		for i, p := range parts {
			k, err := dtype.Parse(p)
			if err != nil {
				return ModeInvalid, err
			}
			kinds[i] = k
		}
		return Resolve(kinds[0], kinds[1], kinds[2])
	}
	return ModeInvalid, fmt.Errorf("unknown mode %q", s)
}
