package dtype

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"
)

var nativeLittleEndian = func() bool {
	var x uint16 = 1
	b := (*[2]byte)(unsafe.Pointer(&x))
	return b[0] == 1
}()

// View reinterprets raw device bytes as a typed host slice without copying when the host
// is little-endian and the storage is aligned for the element type. Sub-byte kinds and
// misaligned storage fall back to Decode. The boolean reports whether the result aliases raw.
func View(kind Kind, raw []byte, n int) (any, bool, error) {
	if need := Bytes(kind, n); len(raw) < need {
		return nil, false, fmt.Errorf("%w: need %d bytes for %d %s elements, have %d", ErrShortBuffer, need, n, kind, len(raw))
	}
	if n == 0 || kind.IsSubByte() || !nativeLittleEndian {
		v, err := Decode(kind, raw, n)
		return v, false, err
	}
	size := kind.Bits() / 8
	p := unsafe.Pointer(&raw[0])
	if uintptr(p)%uintptr(size) != 0 {
		v, err := Decode(kind, raw, n)
		return v, false, err
	}
	switch kind {
	case Float16:
		return unsafe.Slice((*float16.Float16)(p), n), true, nil
	case Float32:
		return unsafe.Slice((*float32)(p), n), true, nil
	case Int8:
		return unsafe.Slice((*int8)(p), n), true, nil
	case Int16:
		return unsafe.Slice((*int16)(p), n), true, nil
	case Int32:
		return unsafe.Slice((*int32)(p), n), true, nil
	default:
		return nil, false, fmt.Errorf("dtype: view of %s", kind)
	}
}

// hostBytes returns the memory of a host slice whose element type already has kind's
// device encoding, so Encode can copy it verbatim.
func hostBytes(kind Kind, src any) ([]byte, bool) {
	if !nativeLittleEndian || kind.IsSubByte() || HostKind(src) != kind {
		return nil, false
	}
	switch v := src.(type) {
	case []float16.Float16:
		return sliceBytes(v), true
	case []float32:
		return sliceBytes(v), true
	case []int8:
		return sliceBytes(v), true
	case []int16:
		return sliceBytes(v), true
	case []int32:
		return sliceBytes(v), true
	}
	return nil, false
}

func sliceBytes[T any](v []T) []byte {
	if len(v) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(v))), len(v)*int(unsafe.Sizeof(zero)))
}
