package matmul

import (
	"fmt"

	"github.com/samcharles93/matnpu/pkg/dtype"
	"github.com/samcharles93/matnpu/pkg/layout"
	"github.com/samcharles93/matnpu/pkg/quant"
)

// Slot names one of the three operand positions of a context.
type Slot int

const (
	SlotA Slot = iota
	SlotB
	SlotC
)

func (s Slot) String() string {
	switch s {
	case SlotA:
		return "A"
	case SlotB:
		return "B"
	case SlotC:
		return "C"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Dims are the matrix sizes: A is MxK, B is KxN, C is MxN.
type Dims struct {
	M, K, N int
}

func (d Dims) validate() error {
	if d.M <= 0 || d.K <= 0 || d.N <= 0 {
		return fmt.Errorf("invalid dims M=%d K=%d N=%d", d.M, d.K, d.N)
	}
	return nil
}

// Shape returns the logical rows and columns of the operand in slot s.
func (d Dims) Shape(s Slot) (rows, cols int) {
	switch s {
	case SlotA:
		return d.M, d.K
	case SlotB:
		return d.K, d.N
	default:
		return d.M, d.N
	}
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.M, d.K, d.N)
}

// ContextHandle identifies a driver execution context.
type ContextHandle uint64

// Memory is a driver-owned device buffer. Data is the CPU-visible mapping of the buffer
// and stays valid until the buffer is destroyed.
type Memory struct {
	Handle uint64
	Data   []byte
}

// TensorAttr describes one operand as the driver laid it out.
type TensorAttr struct {
	Name   string
	Slot   Slot
	Kind   dtype.Kind
	Layout layout.Layout
	Rows   int
	Cols   int
	// Dims are the dimensions reported by the driver, for display only.
	Dims []int
	// Size is the byte size the driver expects for the buffer.
	Size int
}

// IOAttrs holds the attributes of all three operands of a context.
type IOAttrs struct {
	A, B, C TensorAttr
}

// Get returns the attribute for slot s.
func (io IOAttrs) Get(s Slot) TensorAttr {
	switch s {
	case SlotA:
		return io.A
	case SlotB:
		return io.B
	default:
		return io.C
	}
}

// CoreMask selects NPU cores on multi-core parts. CoreAuto lets the runtime decide.
type CoreMask int32

const (
	CoreAuto CoreMask = 0
	Core0    CoreMask = 1
	Core1    CoreMask = 2
	Core2    CoreMask = 4
	Core01   CoreMask = Core0 | Core1
	Core012  CoreMask = Core0 | Core1 | Core2
	CoreAll  CoreMask = 0xffff
)

// ParseCoreMask accepts auto, all, 0, 1, 2, 0_1 and 0_1_2.
func ParseCoreMask(s string) (CoreMask, error) {
	switch s {
	case "", "auto":
		return CoreAuto, nil
	case "all":
		return CoreAll, nil
	case "0":
		return Core0, nil
	case "1":
		return Core1, nil
	case "2":
		return Core2, nil
	case "0_1", "01":
		return Core01, nil
	case "0_1_2", "012":
		return Core012, nil
	default:
		return CoreAuto, fmt.Errorf("unknown core mask %q", s)
	}
}

// ContextInfo is everything a driver needs to create a matmul context.
type ContextInfo struct {
	Dims             Dims
	Mode             Mode
	ACLayout         layout.Kind
	BLayout          layout.Kind
	BPerChannelQuant bool
	IOMMUDomain      int
}

// Driver is the accelerator runtime. Implementations are not required to be safe for
// concurrent use on the same context.
type Driver interface {
	CreateContext(info ContextInfo) (ContextHandle, IOAttrs, error)
	AllocateBuffer(c ContextHandle, size int) (Memory, error)
	BindBuffer(c ContextHandle, m Memory, attr TensorAttr) error
	Run(c ContextHandle) error
	DestroyBuffer(c ContextHandle, m Memory) error
	DestroyContext(c ContextHandle) error
}

// QuantSetter is implemented by drivers that accept quantization parameters.
type QuantSetter interface {
	SetQuantParams(c ContextHandle, slot Slot, name string, p quant.Params) error
}

// CoreMaskSetter is implemented by drivers for multi-core NPUs.
type CoreMaskSetter interface {
	SetCoreMask(c ContextHandle, mask CoreMask) error
}
