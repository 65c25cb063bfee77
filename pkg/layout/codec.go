package layout

import (
	"errors"
	"fmt"

	"github.com/samcharles93/matnpu/pkg/dtype"
)

// ErrInt4Range is returned when a value cannot be represented as a signed nibble.
var ErrInt4Range = errors.New("layout: value outside int4 range [-8, 7]")

// mover copies single elements between buffers of one kind.
type mover struct {
	kind dtype.Kind
	size int
}

func newMover(kind dtype.Kind) (mover, error) {
	if !kind.Valid() {
		return mover{}, fmt.Errorf("layout: element kind %s", kind)
	}
	return mover{kind: kind, size: kind.Bits() / 8}, nil
}

func (m mover) move(dst []byte, di int, src []byte, si int) {
	if m.kind.IsSubByte() {
		dtype.PutInt4(dst, di, dtype.Int4At(src, si))
		return
	}
	copy(dst[di*m.size:(di+1)*m.size], src[si*m.size:(si+1)*m.size])
}

// prepare validates both buffers and clears the destination so padding reads as zero.
func prepare(dst, src []byte, kind dtype.Kind, rows, cols int, from, to Layout) (mover, error) {
	m, err := newMover(kind)
	if err != nil {
		return mover{}, err
	}
	srcSize, err := ByteSize(from, kind, rows, cols)
	if err != nil {
		return mover{}, err
	}
	dstSize, err := ByteSize(to, kind, rows, cols)
	if err != nil {
		return mover{}, err
	}
	if len(src) < srcSize {
		return mover{}, fmt.Errorf("%w: %s source needs %d bytes, have %d", ErrShortBuffer, from, srcSize, len(src))
	}
	if len(dst) < dstSize {
		return mover{}, fmt.Errorf("%w: %s destination needs %d bytes, have %d", ErrShortBuffer, to, dstSize, len(dst))
	}
	clear(dst[:dstSize])
	return m, nil
}

// perfIndex maps a logical (row, col) to its element slot in a Performance layout.
func perfIndex(row, col, cols, tileRows int) int {
	return ((row/tileRows)*cols+col)*tileRows + row%tileRows
}

// nativeIndex maps a logical (k, n) of the K x N weight to its slot in a Native layout.
func nativeIndex(k, n, kTiles, tileN, tileK int) int {
	return (((n/tileN)*kTiles+k/tileK)*tileN+n%tileN)*tileK + k%tileK
}

// NormalToPerformance tiles a row-major rows x cols matrix into row blocks of tileRows.
// When rows is not a multiple of tileRows the final block is zero padded.
func NormalToPerformance(dst, src []byte, kind dtype.Kind, rows, cols, tileRows int) error {
	to := PerformanceLayout(tileRows)
	m, err := prepare(dst, src, kind, rows, cols, NormalLayout(), to)
	if err != nil {
		return err
	}
	for r := range rows {
		for c := range cols {
			m.move(dst, perfIndex(r, c, cols, tileRows), src, r*cols+c)
		}
	}
	return nil
}

// PerformanceToNormal is the inverse of NormalToPerformance; padding rows are dropped.
func PerformanceToNormal(dst, src []byte, kind dtype.Kind, rows, cols, tileRows int) error {
	from := PerformanceLayout(tileRows)
	m, err := prepare(dst, src, kind, rows, cols, from, NormalLayout())
	if err != nil {
		return err
	}
	for r := range rows {
		for c := range cols {
			m.move(dst, r*cols+c, src, perfIndex(r, c, cols, tileRows))
		}
	}
	return nil
}

// NormalToNative tiles the row-major K x N weight matrix into
// [ceil(N/tileN), ceil(K/tileK), tileN, tileK]. Partial tiles are zero padded.
func NormalToNative(dst, src []byte, kind dtype.Kind, k, n, tileN, tileK int) error {
	to := NativeLayout(tileN, tileK)
	m, err := prepare(dst, src, kind, k, n, NormalLayout(), to)
	if err != nil {
		return err
	}
	kTiles := ceilDiv(k, tileK)
	for kk := range k {
		for nn := range n {
			m.move(dst, nativeIndex(kk, nn, kTiles, tileN, tileK), src, kk*n+nn)
		}
	}
	return nil
}

// NativeToNormal is the inverse of NormalToNative.
func NativeToNormal(dst, src []byte, kind dtype.Kind, k, n, tileN, tileK int) error {
	from := NativeLayout(tileN, tileK)
	m, err := prepare(dst, src, kind, k, n, from, NormalLayout())
	if err != nil {
		return err
	}
	kTiles := ceilDiv(k, tileK)
	for kk := range k {
		for nn := range n {
			m.move(dst, kk*n+nn, src, nativeIndex(kk, nn, kTiles, tileN, tileK))
		}
	}
	return nil
}

// Convert moves a rows x cols matrix between two layouts. One side must be Normal.
// For Native, rows is K and cols is N.
func Convert(dst, src []byte, kind dtype.Kind, rows, cols int, from, to Layout) error {
	switch {
	case from.Kind == Normal && to.Kind == Normal:
		m, err := prepare(dst, src, kind, rows, cols, from, to)
		if err != nil {
			return err
		}
		size := dtype.Bytes(m.kind, rows*cols)
		copy(dst[:size], src[:size])
		return nil
	case from.Kind == Normal && to.Kind == Performance:
		return NormalToPerformance(dst, src, kind, rows, cols, to.TileRows)
	case from.Kind == Performance && to.Kind == Normal:
		return PerformanceToNormal(dst, src, kind, rows, cols, from.TileRows)
	case from.Kind == Normal && to.Kind == Native:
		return NormalToNative(dst, src, kind, rows, cols, to.TileN, to.TileK)
	case from.Kind == Native && to.Kind == Normal:
		return NativeToNormal(dst, src, kind, rows, cols, from.TileN, from.TileK)
	default:
		return fmt.Errorf("layout: conversion %s -> %s is not supported", from, to)
	}
}

// PackInt4 stores src two values per byte, low nibble first. An odd-length input leaves
// the final high nibble zero. dst must hold at least (len(src)+1)/2 bytes.
func PackInt4(dst []byte, src []int8) error {
	need := dtype.Bytes(dtype.Int4, len(src))
	if len(dst) < need {
		return fmt.Errorf("%w: int4 pack needs %d bytes, have %d", ErrShortBuffer, need, len(dst))
	}
	for i, v := range src {
		if v < -8 || v > 7 {
			return fmt.Errorf("%w: element %d is %d", ErrInt4Range, i, v)
		}
	}
	clear(dst[:need])
	for i, v := range src {
		dtype.PutInt4(dst, i, v)
	}
	return nil
}

// UnpackInt4 expands len(dst) packed nibbles from src, sign-extending each one.
func UnpackInt4(dst []int8, src []byte) error {
	need := dtype.Bytes(dtype.Int4, len(dst))
	if len(src) < need {
		return fmt.Errorf("%w: int4 unpack needs %d bytes, have %d", ErrShortBuffer, need, len(src))
	}
	for i := range dst {
		dst[i] = dtype.Int4At(src, i)
	}
	return nil
}
