package matmul

import (
	"errors"
	"fmt"

	"github.com/samcharles93/matnpu/pkg/dtype"
	"github.com/samcharles93/matnpu/pkg/layout"
)

// Host is a caller-side row-major matrix. Data is one of []float16.Float16, []float32,
// []float64, []int8, []dtype.I4, []int16 or []int32 and holds exactly Rows*Cols values.
type Host struct {
	Rows, Cols int
	Data       any
}

// deviceBuffer is one operand buffer. owned is cleared when the buffer is destroyed or
// moved out, after which mem must not be used.
type deviceBuffer struct {
	attr  TensorAttr
	mem   Memory
	owned bool
	bound bool
}

// tensorSet manages the A, B and C buffers of one context.
type tensorSet struct {
	drv   Driver
	ctx   ContextHandle
	slots [3]deviceBuffer
}

func (ts *tensorSet) bound(s Slot) bool { return ts.slots[s].bound }

func (ts *tensorSet) allBound() bool {
	return ts.slots[SlotA].bound && ts.slots[SlotB].bound && ts.slots[SlotC].bound
}

// checkHost validates caller data against the operand shape without touching the device.
func checkHost(attr TensorAttr, h Host) error {
	if h.Rows != attr.Rows || h.Cols != attr.Cols {
		return usageError("operand %s is %dx%d, want %dx%d", attr.Slot, h.Rows, h.Cols, attr.Rows, attr.Cols)
	}
	n, err := dtype.Len(h.Data)
	if err != nil {
		return fmt.Errorf("%w: operand %s: %v", ErrUsage, attr.Slot, err)
	}
	if n != attr.Rows*attr.Cols {
		return usageError("operand %s has %d values, want %d", attr.Slot, n, attr.Rows*attr.Cols)
	}
	return nil
}

// allocate reserves device memory for attr. The driver-reported size must cover the
// layout size or the context is unusable.
func (ts *tensorSet) allocate(attr TensorAttr) error {
	need, err := layout.ByteSize(attr.Layout, attr.Kind, attr.Rows, attr.Cols)
	if err != nil {
		return fmt.Errorf("%w: operand %s: %v", ErrResource, attr.Slot, err)
	}
	if attr.Size < need {
		return fmt.Errorf("%w: driver sized operand %s at %d bytes, layout %s needs %d",
			ErrResource, attr.Slot, attr.Size, attr.Layout, need)
	}
	mem, err := ts.drv.AllocateBuffer(ts.ctx, attr.Size)
	if err != nil {
		return fmt.Errorf("allocate %s: %w", attr.Slot, err)
	}
	ts.slots[attr.Slot] = deviceBuffer{attr: attr, mem: mem, owned: true}
	if len(mem.Data) < attr.Size {
		return fmt.Errorf("%w: operand %s mapped %d bytes, want %d", ErrResource, attr.Slot, len(mem.Data), attr.Size)
	}
	return nil
}

// populate encodes caller data into the operand buffer. Tiled layouts go through a
// host staging buffer; Normal layout encodes straight into device memory.
func (ts *tensorSet) populate(s Slot, h Host) error {
	buf := &ts.slots[s]
	attr := buf.attr
	if attr.Layout.Kind == layout.Normal {
		if err := dtype.Encode(buf.mem.Data, attr.Kind, h.Data); err != nil {
			return fmt.Errorf("encode %s: %w", s, err)
		}
		return nil
	}
	staging := make([]byte, dtype.Bytes(attr.Kind, attr.Rows*attr.Cols))
	if err := dtype.Encode(staging, attr.Kind, h.Data); err != nil {
		return fmt.Errorf("encode %s: %w", s, err)
	}
	if err := layout.Convert(buf.mem.Data, staging, attr.Kind, attr.Rows, attr.Cols, layout.NormalLayout(), attr.Layout); err != nil {
		return fmt.Errorf("tile %s: %w", s, err)
	}
	return nil
}

func (ts *tensorSet) bind(s Slot) error {
	buf := &ts.slots[s]
	if err := ts.drv.BindBuffer(ts.ctx, buf.mem, buf.attr); err != nil {
		return fmt.Errorf("bind %s: %w", s, err)
	}
	buf.bound = true
	return nil
}

// destroy frees the buffer in slot s if it is still owned.
func (ts *tensorSet) destroy(s Slot) error {
	buf := &ts.slots[s]
	if !buf.owned {
		return nil
	}
	mem := buf.mem
	*buf = deviceBuffer{attr: buf.attr}
	if err := ts.drv.DestroyBuffer(ts.ctx, mem); err != nil {
		return fmt.Errorf("destroy %s: %w", s, err)
	}
	return nil
}

// take moves the buffer in slot s out of the set. The slot is left moved-from.
func (ts *tensorSet) take(s Slot) (TensorAttr, Memory) {
	buf := &ts.slots[s]
	attr, mem := buf.attr, buf.mem
	*buf = deviceBuffer{attr: attr}
	return attr, mem
}

func (ts *tensorSet) destroyAll() error {
	return errors.Join(ts.destroy(SlotA), ts.destroy(SlotB), ts.destroy(SlotC))
}
