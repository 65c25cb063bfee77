//go:build rknpu

// Package rknn adapts librknnrt's matmul API to the matmul.Driver contract.
package rknn

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/matnpu/internal/backend/rknn/native"
	"github.com/samcharles93/matnpu/internal/logger"
	"github.com/samcharles93/matnpu/pkg/dtype"
	"github.com/samcharles93/matnpu/pkg/layout"
	"github.com/samcharles93/matnpu/pkg/matmul"
	"github.com/samcharles93/matnpu/pkg/quant"
)

type rkContext struct {
	native native.Context
	io     native.IOAttr
}

// Driver talks to the NPU through librknnrt.
type Driver struct {
	mu       sync.Mutex
	log      logger.Logger
	next     uint64
	contexts map[matmul.ContextHandle]*rkContext
	mems     map[uint64]native.Mem
}

var (
	_ matmul.Driver         = (*Driver)(nil)
	_ matmul.QuantSetter    = (*Driver)(nil)
	_ matmul.CoreMaskSetter = (*Driver)(nil)
)

// New probes the NPU with a small int8 context and returns a driver if it works.
func New(log logger.Logger) (*Driver, error) {
	if log == nil {
		log = logger.Discard()
	}
	ctx, _, err := native.Create(native.Info{M: 1, K: 32, N: 32, Type: int(matmul.Int8MMInt8ToInt32)})
	if err != nil {
		return nil, fmt.Errorf("rknpu unavailable: %w", convert(matmul.OpCreateContext, err))
	}
	if err := ctx.Destroy(); err != nil {
		return nil, fmt.Errorf("rknpu probe: %w", convert(matmul.OpDestroyContext, err))
	}
	return &Driver{
		log:      log.With("driver", "rknpu"),
		contexts: make(map[matmul.ContextHandle]*rkContext),
		mems:     make(map[uint64]native.Mem),
	}, nil
}

func (d *Driver) Name() string { return "rknpu" }

// Close destroys anything callers leaked.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for h, c := range d.contexts {
		errs = append(errs, c.native.Destroy())
		delete(d.contexts, h)
	}
	clear(d.mems)
	return errors.Join(errs...)
}

func convert(op string, err error) error {
	var ne *native.Error
	if errors.As(err, &ne) {
		return matmul.NewDriverError(op, matmul.Status(ne.Code))
	}
	return err
}

func kindOf(t int) dtype.Kind {
	switch t {
	case native.TypeFloat16:
		return dtype.Float16
	case native.TypeFloat32:
		return dtype.Float32
	case native.TypeInt8:
		return dtype.Int8
	case native.TypeInt4:
		return dtype.Int4
	case native.TypeInt16:
		return dtype.Int16
	case native.TypeInt32:
		return dtype.Int32
	default:
		return dtype.Unknown
	}
}

// layoutOf reads the tile sizes back from the reported dims: performance tensors are
// 3-D with the tile in the last dim, native weights are [N1, K1, subN, subK].
func layoutOf(requested layout.Kind, dims []int) layout.Layout {
	switch {
	case requested == layout.Performance && len(dims) == 3:
		return layout.PerformanceLayout(dims[2])
	case requested == layout.Native && len(dims) == 4:
		return layout.NativeLayout(dims[2], dims[3])
	default:
		return layout.NormalLayout()
	}
}

func (d *Driver) CreateContext(info matmul.ContextInfo) (matmul.ContextHandle, matmul.IOAttrs, error) {
	ni := native.Info{
		M:             info.Dims.M,
		K:             info.Dims.K,
		N:             info.Dims.N,
		Type:          int(info.Mode),
		IOMMUDomainID: info.IOMMUDomain,
	}
	if info.ACLayout == layout.Performance {
		ni.ACLayout = 1
	}
	if info.BLayout == layout.Native {
		ni.BLayout = 1
	}
	if info.BPerChannelQuant {
		ni.BQuantType = 1
	}
	nctx, io, err := native.Create(ni)
	if err != nil {
		return 0, matmul.IOAttrs{}, convert(matmul.OpCreateContext, err)
	}

	mk := func(slot matmul.Slot, a native.TensorAttr, requested layout.Kind) matmul.TensorAttr {
		rows, cols := info.Dims.Shape(slot)
		return matmul.TensorAttr{
			Name:   a.Name,
			Slot:   slot,
			Kind:   kindOf(a.Type),
			Layout: layoutOf(requested, a.Dims),
			Rows:   rows,
			Cols:   cols,
			Dims:   a.Dims,
			Size:   a.Size,
		}
	}
	attrs := matmul.IOAttrs{
		A: mk(matmul.SlotA, io.A, info.ACLayout),
		B: mk(matmul.SlotB, io.B, info.BLayout),
		C: mk(matmul.SlotC, io.C, info.ACLayout),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	h := matmul.ContextHandle(d.next)
	d.contexts[h] = &rkContext{native: nctx, io: io}
	d.log.Debug("context created", "ctx", uint64(h), "mode", info.Mode.String(), "dims", info.Dims.String())
	return h, attrs, nil
}

func (d *Driver) lookup(op string, c matmul.ContextHandle) (*rkContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, ok := d.contexts[c]
	if !ok {
		return nil, matmul.NewDriverError(op, matmul.StatusCtxInvalid)
	}
	return ctx, nil
}

func (d *Driver) SetCoreMask(c matmul.ContextHandle, mask matmul.CoreMask) error {
	ctx, err := d.lookup(matmul.OpSetCoreMask, c)
	if err != nil {
		return err
	}
	return convert(matmul.OpSetCoreMask, ctx.native.SetCoreMask(int(mask)))
}

func (d *Driver) SetQuantParams(c matmul.ContextHandle, _ matmul.Slot, name string, p quant.Params) error {
	ctx, err := d.lookup(matmul.OpSetQuant, c)
	if err != nil {
		return err
	}
	return convert(matmul.OpSetQuant, ctx.native.SetQuantParams(name, p.Scale, p.ZeroPoint))
}

func (d *Driver) AllocateBuffer(c matmul.ContextHandle, size int) (matmul.Memory, error) {
	ctx, err := d.lookup(matmul.OpAllocate, c)
	if err != nil {
		return matmul.Memory{}, err
	}
	m, err := ctx.native.CreateMem(size)
	if err != nil {
		return matmul.Memory{}, convert(matmul.OpAllocate, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.mems[d.next] = m
	return matmul.Memory{Handle: d.next, Data: m.Bytes()}, nil
}

func (d *Driver) BindBuffer(c matmul.ContextHandle, m matmul.Memory, attr matmul.TensorAttr) error {
	ctx, err := d.lookup(matmul.OpBind, c)
	if err != nil {
		return err
	}
	d.mu.Lock()
	mem, ok := d.mems[m.Handle]
	d.mu.Unlock()
	if !ok {
		return matmul.NewDriverError(matmul.OpBind, matmul.StatusParamInvalid)
	}
	var na *native.TensorAttr
	switch attr.Slot {
	case matmul.SlotA:
		na = &ctx.io.A
	case matmul.SlotB:
		na = &ctx.io.B
	default:
		na = &ctx.io.C
	}
	return convert(matmul.OpBind, ctx.native.SetIOMem(mem, na))
}

func (d *Driver) Run(c matmul.ContextHandle) error {
	ctx, err := d.lookup(matmul.OpRun, c)
	if err != nil {
		return err
	}
	return convert(matmul.OpRun, ctx.native.Run())
}

func (d *Driver) DestroyBuffer(c matmul.ContextHandle, m matmul.Memory) error {
	ctx, err := d.lookup(matmul.OpDestroyBuffer, c)
	if err != nil {
		return err
	}
	d.mu.Lock()
	mem, ok := d.mems[m.Handle]
	delete(d.mems, m.Handle)
	d.mu.Unlock()
	if !ok {
		return matmul.NewDriverError(matmul.OpDestroyBuffer, matmul.StatusParamInvalid)
	}
	return convert(matmul.OpDestroyBuffer, ctx.native.DestroyMem(mem))
}

func (d *Driver) DestroyContext(c matmul.ContextHandle) error {
	d.mu.Lock()
	ctx, ok := d.contexts[c]
	delete(d.contexts, c)
	d.mu.Unlock()
	if !ok {
		return matmul.NewDriverError(matmul.OpDestroyContext, matmul.StatusCtxInvalid)
	}
	return convert(matmul.OpDestroyContext, ctx.native.Destroy())
}
