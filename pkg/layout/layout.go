// Package layout converts matrix storage between the row-major layout callers use and
// the blocked layouts the NPU matmul unit prefers.
//
// Three layouts exist:
//
//   - Normal: row-major, one element per position, no padding.
//   - Performance: rows split into tiles of TileRows; inside a tile the row index varies
//     fastest. Used for operand A and result C.
//   - Native: 4-D tiling of the K x N weight operand B as
//     [ceil(N/TileN), ceil(K/TileK), TileN, TileK].
//
// All conversions work on raw little-endian element bytes of a single dtype.Kind, write
// into a caller-supplied destination and never touch bytes past the target layout size.
// Signed 4-bit elements are addressed by nibble, so tiled int4 buffers stay packed.
package layout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/matnpu/pkg/dtype"
)

var (
	ErrShortBuffer = errors.New("layout: buffer too short")
	ErrBadTile     = errors.New("layout: invalid tile size")
	ErrBadShape    = errors.New("layout: invalid matrix shape")
)

// Kind selects one of the supported storage layouts.
type Kind uint8

const (
	Normal Kind = iota
	Performance
	Native
)

func (k Kind) String() string {
	switch k {
	case Normal:
		return "normal"
	case Performance:
		return "performance"
	case Native:
		return "native"
	default:
		return fmt.Sprintf("layout(%d)", uint8(k))
	}
}

// ParseKind accepts the layout name or the numeric flag values the RKNN runtime uses
// (0 = normal; 1 = performance for A/C, native for B).
func ParseKind(s string, weight bool) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "normal", "norm":
		return Normal, nil
	case "perf", "performance":
		return Performance, nil
	case "native":
		return Native, nil
	case "1", "tiled":
		if weight {
			return Native, nil
		}
		return Performance, nil
	default:
		return Normal, fmt.Errorf("unknown layout %q", s)
	}
}

// Layout is a layout kind together with the tile sizes the accelerator reported for it.
// TileRows applies to Performance; TileN and TileK apply to Native.
type Layout struct {
	Kind     Kind
	TileRows int
	TileN    int
	TileK    int
}

// NormalLayout is the row-major layout.
func NormalLayout() Layout { return Layout{Kind: Normal} }

// PerformanceLayout returns a row-blocked layout with the given tile height.
func PerformanceLayout(tileRows int) Layout {
	return Layout{Kind: Performance, TileRows: tileRows}
}

// NativeLayout returns the 4-D weight layout with the given tile sizes.
func NativeLayout(tileN, tileK int) Layout {
	return Layout{Kind: Native, TileN: tileN, TileK: tileK}
}

func (l Layout) String() string {
	switch l.Kind {
	case Performance:
		return fmt.Sprintf("performance(rows=%d)", l.TileRows)
	case Native:
		return fmt.Sprintf("native(n=%d,k=%d)", l.TileN, l.TileK)
	default:
		return l.Kind.String()
	}
}

func (l Layout) validate() error {
	switch l.Kind {
	case Normal:
		return nil
	case Performance:
		if l.TileRows <= 0 {
			return fmt.Errorf("%w: performance tile rows %d", ErrBadTile, l.TileRows)
		}
		return nil
	case Native:
		if l.TileN <= 0 || l.TileK <= 0 {
			return fmt.Errorf("%w: native tile %dx%d", ErrBadTile, l.TileN, l.TileK)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrBadTile, l.Kind)
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Elements returns the number of element slots a rows x cols matrix occupies in layout l,
// padding included. For Native, rows is K and cols is N.
func Elements(l Layout, rows, cols int) (int, error) {
	if rows <= 0 || cols <= 0 {
		return 0, fmt.Errorf("%w: %dx%d", ErrBadShape, rows, cols)
	}
	if err := l.validate(); err != nil {
		return 0, err
	}
	switch l.Kind {
	case Performance:
		return ceilDiv(rows, l.TileRows) * l.TileRows * cols, nil
	case Native:
		return ceilDiv(cols, l.TileN) * ceilDiv(rows, l.TileK) * l.TileN * l.TileK, nil
	default:
		return rows * cols, nil
	}
}

// ByteSize is the storage size of a rows x cols matrix of kind in layout l.
// Allocation sizing and every conversion in this package agree on it.
func ByteSize(l Layout, kind dtype.Kind, rows, cols int) (int, error) {
	n, err := Elements(l, rows, cols)
	if err != nil {
		return 0, err
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("layout: element kind %s", kind)
	}
	return dtype.Bytes(kind, n), nil
}

// Dims returns the logical dimensions the accelerator reports for a tensor in layout l:
// [rows, cols] for Normal, [tiles, cols, TileRows] for Performance and
// [nTiles, kTiles, TileN, TileK] for Native.
func Dims(l Layout, rows, cols int) []int {
	switch l.Kind {
	case Performance:
		return []int{ceilDiv(rows, l.TileRows), cols, l.TileRows}
	case Native:
		return []int{ceilDiv(cols, l.TileN), ceilDiv(rows, l.TileK), l.TileN, l.TileK}
	default:
		return []int{rows, cols}
	}
}
