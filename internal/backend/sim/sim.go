// Package sim is a software NPU that honours the matmul driver contract. It lays
// operands out with the same tiles the hardware reports, computes with the CPU
// reference, and tracks every live context and buffer so leaks and double frees show up
// in tests.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/samcharles93/matnpu/internal/logger"
	"github.com/samcharles93/matnpu/internal/reference"
	"github.com/samcharles93/matnpu/pkg/dtype"
	"github.com/samcharles93/matnpu/pkg/layout"
	"github.com/samcharles93/matnpu/pkg/matmul"
	"github.com/samcharles93/matnpu/pkg/quant"
)

const (
	DefaultTileRows = 4
	// Native B tiles: float16 weights use 16x32 (N x K), 8-bit and 4-bit weights 32x32.
	DefaultFloatTileN = 16
	DefaultFloatTileK = 32
	DefaultIntTileN   = 32
	DefaultIntTileK   = 32

	DefaultCores        = 3
	DefaultIOMMUDomains = 4
)

// Options tunes the simulated hardware. Zero fields take the defaults above.
type Options struct {
	TileRows     int
	FloatTileN   int
	FloatTileK   int
	IntTileN     int
	IntTileK     int
	Cores        int
	IOMMUDomains int
	Logger       logger.Logger
}

func (o Options) withDefaults() Options {
	if o.TileRows <= 0 {
		o.TileRows = DefaultTileRows
	}
	if o.FloatTileN <= 0 {
		o.FloatTileN = DefaultFloatTileN
	}
	if o.FloatTileK <= 0 {
		o.FloatTileK = DefaultFloatTileK
	}
	if o.IntTileN <= 0 {
		o.IntTileN = DefaultIntTileN
	}
	if o.IntTileK <= 0 {
		o.IntTileK = DefaultIntTileK
	}
	if o.Cores <= 0 {
		o.Cores = DefaultCores
	}
	if o.IOMMUDomains <= 0 {
		o.IOMMUDomains = DefaultIOMMUDomains
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	return o
}

type simContext struct {
	info     matmul.ContextInfo
	attrs    matmul.IOAttrs
	bound    [3]uint64
	quant    reference.Quant
	coreMask matmul.CoreMask
	runs     int
}

type buffer struct {
	ctx    matmul.ContextHandle
	data   []byte
	mapped bool
}

type fault struct {
	status matmul.Status
	skip   int
}

// Stats counts live driver objects.
type Stats struct {
	Contexts int
	Buffers  int
	Runs     int
}

// Driver is the simulated accelerator. It is safe for concurrent use by independent
// sessions.
type Driver struct {
	mu       sync.Mutex
	opts     Options
	log      logger.Logger
	nextCtx  uint64
	nextMem  uint64
	contexts map[matmul.ContextHandle]*simContext
	buffers  map[uint64]*buffer
	faults   map[string]*fault
	runs     int
}

var (
	_ matmul.Driver         = (*Driver)(nil)
	_ matmul.QuantSetter    = (*Driver)(nil)
	_ matmul.CoreMaskSetter = (*Driver)(nil)
)

// New returns a simulated driver.
func New(opts Options) *Driver {
	opts = opts.withDefaults()
	return &Driver{
		opts:     opts,
		log:      opts.Logger.With("driver", "sim"),
		contexts: make(map[matmul.ContextHandle]*simContext),
		buffers:  make(map[uint64]*buffer),
		faults:   make(map[string]*fault),
	}
}

func (d *Driver) Name() string { return "sim" }

// FailOn makes the call named op (one of the matmul.Op constants) fail with status after
// skip successful calls. The fault fires once.
func (d *Driver) FailOn(op string, status matmul.Status, skip int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = &fault{status: status, skip: skip}
}

// injected reports a pending fault for op. Caller holds d.mu.
func (d *Driver) injected(op string) error {
	f, ok := d.faults[op]
	if !ok {
		return nil
	}
	if f.skip > 0 {
		f.skip--
		return nil
	}
	delete(d.faults, op)
	return matmul.NewDriverError(op, f.status)
}

// Stats reports the live contexts and buffers and the total number of runs.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Contexts: len(d.contexts), Buffers: len(d.buffers), Runs: d.runs}
}

// Close frees any buffers still mapped. Contexts and buffers are forgotten.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for h, b := range d.buffers {
		errs = append(errs, unmap(b.data, b.mapped))
		delete(d.buffers, h)
	}
	clear(d.contexts)
	return errors.Join(errs...)
}

// attrsFor lays out the three operands the way the hardware would report them.
func (d *Driver) attrsFor(info matmul.ContextInfo) (matmul.IOAttrs, error) {
	t := info.Mode.Triple()
	acLayout := layout.NormalLayout()
	if info.ACLayout == layout.Performance {
		acLayout = layout.PerformanceLayout(d.opts.TileRows)
	}
	bLayout := layout.NormalLayout()
	if info.BLayout == layout.Native {
		if t.B == dtype.Float16 {
			bLayout = layout.NativeLayout(d.opts.FloatTileN, d.opts.FloatTileK)
		} else {
			bLayout = layout.NativeLayout(d.opts.IntTileN, d.opts.IntTileK)
		}
	}
	suffix := uuid.NewString()[:8]
	mk := func(slot matmul.Slot, kind dtype.Kind, l layout.Layout) (matmul.TensorAttr, error) {
		rows, cols := info.Dims.Shape(slot)
		size, err := layout.ByteSize(l, kind, rows, cols)
		if err != nil {
			return matmul.TensorAttr{}, err
		}
		return matmul.TensorAttr{
			Name:   slot.String() + "_" + suffix,
			Slot:   slot,
			Kind:   kind,
			Layout: l,
			Rows:   rows,
			Cols:   cols,
			Dims:   layout.Dims(l, rows, cols),
			Size:   size,
		}, nil
	}
	var io matmul.IOAttrs
	var err error
	if io.A, err = mk(matmul.SlotA, t.A, acLayout); err != nil {
		return io, err
	}
	if io.B, err = mk(matmul.SlotB, t.B, bLayout); err != nil {
		return io, err
	}
	if io.C, err = mk(matmul.SlotC, t.C, acLayout); err != nil {
		return io, err
	}
	return io, nil
}

func (d *Driver) CreateContext(info matmul.ContextInfo) (matmul.ContextHandle, matmul.IOAttrs, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected(matmul.OpCreateContext); err != nil {
		return 0, matmul.IOAttrs{}, err
	}
	if !info.Mode.Valid() || info.Dims.M <= 0 || info.Dims.K <= 0 || info.Dims.N <= 0 {
		return 0, matmul.IOAttrs{}, matmul.NewDriverError(matmul.OpCreateContext, matmul.StatusParamInvalid)
	}
	if info.IOMMUDomain < 0 || info.IOMMUDomain >= d.opts.IOMMUDomains {
		return 0, matmul.IOAttrs{}, matmul.NewDriverError(matmul.OpCreateContext, matmul.StatusParamInvalid)
	}
	attrs, err := d.attrsFor(info)
	if err != nil {
		return 0, matmul.IOAttrs{}, matmul.NewDriverError(matmul.OpCreateContext, matmul.StatusParamInvalid)
	}
	d.nextCtx++
	h := matmul.ContextHandle(d.nextCtx)
	d.contexts[h] = &simContext{info: info, attrs: attrs}
	d.log.Debug("context created", "ctx", uint64(h), "mode", info.Mode.String(), "dims", info.Dims.String())
	return h, attrs, nil
}

func (d *Driver) SetCoreMask(c matmul.ContextHandle, mask matmul.CoreMask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected(matmul.OpSetCoreMask); err != nil {
		return err
	}
	ctx, ok := d.contexts[c]
	if !ok {
		return matmul.NewDriverError(matmul.OpSetCoreMask, matmul.StatusCtxInvalid)
	}
	if mask != matmul.CoreAuto && mask != matmul.CoreAll && int(mask)>>d.opts.Cores != 0 {
		return matmul.NewDriverError(matmul.OpSetCoreMask, matmul.StatusDeviceUnmatch)
	}
	ctx.coreMask = mask
	return nil
}

func (d *Driver) SetQuantParams(c matmul.ContextHandle, slot matmul.Slot, name string, p quant.Params) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected(matmul.OpSetQuant); err != nil {
		return err
	}
	ctx, ok := d.contexts[c]
	if !ok {
		return matmul.NewDriverError(matmul.OpSetQuant, matmul.StatusCtxInvalid)
	}
	if slot < matmul.SlotA || slot > matmul.SlotC || ctx.attrs.Get(slot).Name != name {
		return matmul.NewDriverError(matmul.OpSetQuant, matmul.StatusParamInvalid)
	}
	channels := 1
	if slot == matmul.SlotB && ctx.info.BPerChannelQuant {
		channels = ctx.info.Dims.N
	}
	if err := p.Validate(channels); err != nil {
		return matmul.NewDriverError(matmul.OpSetQuant, matmul.StatusParamInvalid)
	}
	switch slot {
	case matmul.SlotA:
		ctx.quant.A = p.Clone()
	case matmul.SlotB:
		ctx.quant.B = p.Clone()
	default:
		ctx.quant.C = p.Clone()
	}
	return nil
}

func (d *Driver) AllocateBuffer(c matmul.ContextHandle, size int) (matmul.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected(matmul.OpAllocate); err != nil {
		return matmul.Memory{}, err
	}
	if _, ok := d.contexts[c]; !ok {
		return matmul.Memory{}, matmul.NewDriverError(matmul.OpAllocate, matmul.StatusCtxInvalid)
	}
	if size <= 0 {
		return matmul.Memory{}, matmul.NewDriverError(matmul.OpAllocate, matmul.StatusParamInvalid)
	}
	data, mapped := mapAnon(size)
	d.nextMem++
	h := d.nextMem
	d.buffers[h] = &buffer{ctx: c, data: data, mapped: mapped}
	return matmul.Memory{Handle: h, Data: data}, nil
}

func (d *Driver) BindBuffer(c matmul.ContextHandle, m matmul.Memory, attr matmul.TensorAttr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected(matmul.OpBind); err != nil {
		return err
	}
	ctx, ok := d.contexts[c]
	if !ok {
		return matmul.NewDriverError(matmul.OpBind, matmul.StatusCtxInvalid)
	}
	buf, ok := d.buffers[m.Handle]
	if !ok || buf.ctx != c {
		return matmul.NewDriverError(matmul.OpBind, matmul.StatusParamInvalid)
	}
	if attr.Slot < matmul.SlotA || attr.Slot > matmul.SlotC || len(buf.data) < ctx.attrs.Get(attr.Slot).Size {
		return matmul.NewDriverError(matmul.OpBind, matmul.StatusParamInvalid)
	}
	ctx.bound[attr.Slot] = m.Handle
	return nil
}

func (d *Driver) Run(c matmul.ContextHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected(matmul.OpRun); err != nil {
		return err
	}
	ctx, ok := d.contexts[c]
	if !ok {
		return matmul.NewDriverError(matmul.OpRun, matmul.StatusCtxInvalid)
	}
	var data [3][]byte
	for slot, h := range ctx.bound {
		buf, ok := d.buffers[h]
		if h == 0 || !ok {
			return matmul.NewDriverError(matmul.OpRun, matmul.StatusInputInvalid)
		}
		data[slot] = buf.data
	}
	if err := compute(ctx, data[matmul.SlotA], data[matmul.SlotB], data[matmul.SlotC]); err != nil {
		d.log.Error("sim run failed", "ctx", uint64(c), "error", err)
		return matmul.NewDriverError(matmul.OpRun, matmul.StatusFail)
	}
	ctx.runs++
	d.runs++
	return nil
}

// compute untiles A and B, multiplies them on the CPU and tiles the result into C.
func compute(ctx *simContext, a, b, c []byte) error {
	io := ctx.attrs
	an, err := toNormal(io.A, a)
	if err != nil {
		return fmt.Errorf("A: %w", err)
	}
	bn, err := toNormal(io.B, b)
	if err != nil {
		return fmt.Errorf("B: %w", err)
	}
	t := ctx.info.Mode.Triple()
	if io.C.Layout.Kind == layout.Normal {
		return reference.Compute(c, t, ctx.info.Dims, an, bn, ctx.quant)
	}
	cn := make([]byte, dtype.Bytes(io.C.Kind, io.C.Rows*io.C.Cols))
	if err := reference.Compute(cn, t, ctx.info.Dims, an, bn, ctx.quant); err != nil {
		return err
	}
	return layout.Convert(c, cn, io.C.Kind, io.C.Rows, io.C.Cols, layout.NormalLayout(), io.C.Layout)
}

func toNormal(attr matmul.TensorAttr, data []byte) ([]byte, error) {
	if attr.Layout.Kind == layout.Normal {
		return data, nil
	}
	out := make([]byte, dtype.Bytes(attr.Kind, attr.Rows*attr.Cols))
	if err := layout.Convert(out, data, attr.Kind, attr.Rows, attr.Cols, attr.Layout, layout.NormalLayout()); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Driver) DestroyBuffer(c matmul.ContextHandle, m matmul.Memory) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected(matmul.OpDestroyBuffer); err != nil {
		return err
	}
	buf, ok := d.buffers[m.Handle]
	if !ok || buf.ctx != c {
		return matmul.NewDriverError(matmul.OpDestroyBuffer, matmul.StatusParamInvalid)
	}
	if ctx, ok := d.contexts[c]; ok {
		for slot, h := range ctx.bound {
			if h == m.Handle {
				ctx.bound[slot] = 0
			}
		}
	}
	delete(d.buffers, m.Handle)
	if err := unmap(buf.data, buf.mapped); err != nil {
		return fmt.Errorf("sim: unmap buffer %d: %w", m.Handle, err)
	}
	return nil
}

func (d *Driver) DestroyContext(c matmul.ContextHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected(matmul.OpDestroyContext); err != nil {
		return err
	}
	ctx, ok := d.contexts[c]
	if !ok {
		return matmul.NewDriverError(matmul.OpDestroyContext, matmul.StatusCtxInvalid)
	}
	delete(d.contexts, c)
	d.log.Debug("context destroyed", "ctx", uint64(c), "runs", ctx.runs)
	return nil
}
