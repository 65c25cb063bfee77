package matmul

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/matnpu/internal/logger"
	"github.com/samcharles93/matnpu/pkg/dtype"
	"github.com/samcharles93/matnpu/pkg/layout"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUninitialized State = iota
	StateModeResolved
	StateContextCreated
	StateBuffersBound
	StateExecuted
	StateResultReady
	StateReleased
	StateFailed
)

var stateNames = [...]string{
	StateUninitialized:  "uninitialized",
	StateModeResolved:   "mode_resolved",
	StateContextCreated: "context_created",
	StateBuffersBound:   "buffers_bound",
	StateExecuted:       "executed",
	StateResultReady:    "result_ready",
	StateReleased:       "released",
	StateFailed:         "failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session drives one matmul context through its lifecycle:
//
//	Uninitialized -> ModeResolved -> ContextCreated -> BuffersBound -> Executed
//	  -> ResultReady -> Released
//
// Any driver failure aborts the session, destroying everything it owns, and leaves it
// Failed. Calling a method out of order returns ErrUsage and leaves the state unchanged.
// A Session is not safe for concurrent use.
type Session struct {
	drv  Driver
	log  logger.Logger
	dims Dims
	cfg  Config

	state  State
	mode   Mode
	ctx    ContextHandle
	hasCtx bool
	attrs  IOAttrs
	ts     tensorSet
	out    []byte
}

// NewSession validates dims and cfg and returns an Uninitialized session. The logger is
// taken from ctx.
func NewSession(ctx context.Context, drv Driver, dims Dims, cfg Config) (*Session, error) {
	if drv == nil {
		return nil, usageError("nil driver")
	}
	if err := dims.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := cfg.validate(dims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	cfg.QuantA = cfg.QuantA.Clone()
	cfg.QuantB = cfg.QuantB.Clone()
	cfg.QuantC = cfg.QuantC.Clone()
	return &Session{
		drv:  drv,
		log:  logger.FromContext(ctx).With("m", dims.M, "k", dims.K, "n", dims.N),
		dims: dims,
		cfg:  cfg,
	}, nil
}

func (s *Session) State() State { return s.state }
func (s *Session) Mode() Mode { return s.mode }
func (s *Session) Dims() Dims { return s.dims }
func (s *Session) Attrs() IOAttrs { return s.attrs }

func (s *Session) transition(to State) {
	s.log.Debug("matmul session transition", "mode", s.mode.String(), "from", s.state.String(), "state", to.String())
	s.state = to
}

func (s *Session) expect(op string, allowed ...State) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return usageError("%s called in state %s", op, s.state)
}

// fail aborts the session and returns cause, joined with any cleanup error.
func (s *Session) fail(cause error) error {
	if err := s.Abort(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Resolve selects the mode for the element-type triple.
func (s *Session) Resolve(a, b, c dtype.Kind) error {
	if err := s.expect("Resolve", StateUninitialized); err != nil {
		return err
	}
	m, err := Resolve(a, b, c)
	if err != nil {
		s.transition(StateFailed)
		return err
	}
	s.mode = m
	s.transition(StateModeResolved)
	return nil
}

// SetMode selects a mode directly.
func (s *Session) SetMode(m Mode) error {
	if err := s.expect("SetMode", StateUninitialized); err != nil {
		return err
	}
	if !m.Valid() {
		s.transition(StateFailed)
		return fmt.Errorf("%w: mode %s", ErrUnsupported, m)
	}
	s.mode = m
	s.transition(StateModeResolved)
	return nil
}

// CreateContext asks the driver for a context, applies the core mask and quantization
// parameters, and checks the reported operand attributes against the mode.
func (s *Session) CreateContext() error {
	if err := s.expect("CreateContext", StateModeResolved); err != nil {
		return err
	}
	info := ContextInfo{
		Dims:             s.dims,
		Mode:             s.mode,
		ACLayout:         s.cfg.ACLayout,
		BLayout:          s.cfg.BLayout,
		BPerChannelQuant: s.cfg.BPerChannelQuant,
		IOMMUDomain:      s.cfg.IOMMUDomain,
	}
	c, attrs, err := s.drv.CreateContext(info)
	if err != nil {
		s.transition(StateFailed)
		return fmt.Errorf("create context: %w", err)
	}
	s.ctx, s.hasCtx, s.attrs = c, true, attrs
	s.ts = tensorSet{drv: s.drv, ctx: c}

	if err := s.checkAttrs(); err != nil {
		return s.fail(err)
	}
	s.applyCoreMask()
	if err := s.applyQuant(); err != nil {
		return s.fail(err)
	}
	s.transition(StateContextCreated)
	return nil
}

func (s *Session) checkAttrs() error {
	t := s.mode.Triple()
	want := [3]dtype.Kind{t.A, t.B, t.C}
	wantLayout := [3]layout.Kind{s.cfg.ACLayout, s.cfg.BLayout, s.cfg.ACLayout}
	for _, slot := range []Slot{SlotA, SlotB, SlotC} {
		attr := s.attrs.Get(slot)
		rows, cols := s.dims.Shape(slot)
		switch {
		case attr.Slot != slot:
			return fmt.Errorf("%w: driver reported slot %s for %s", ErrResource, attr.Slot, slot)
		case attr.Kind != want[slot]:
			return fmt.Errorf("%w: driver reported %s for %s, mode %s needs %s", ErrResource, attr.Kind, slot, s.mode, want[slot])
		case attr.Rows != rows || attr.Cols != cols:
			return fmt.Errorf("%w: driver reported %dx%d for %s, want %dx%d", ErrResource, attr.Rows, attr.Cols, slot, rows, cols)
		case attr.Layout.Kind != wantLayout[slot]:
			return fmt.Errorf("%w: driver reported layout %s for %s, want %s", ErrResource, attr.Layout, slot, wantLayout[slot])
		}
	}
	return nil
}

// applyCoreMask is best effort: single-core parts reject it and the context still works.
func (s *Session) applyCoreMask() {
	if s.cfg.CoreMask == CoreAuto {
		return
	}
	setter, ok := s.drv.(CoreMaskSetter)
	if !ok {
		s.log.Warn("driver does not support core masks", "core_mask", int(s.cfg.CoreMask))
		return
	}
	if err := setter.SetCoreMask(s.ctx, s.cfg.CoreMask); err != nil {
		s.log.Warn("set core mask failed", "core_mask", int(s.cfg.CoreMask), "error", err)
	}
}

func (s *Session) applyQuant() error {
	for _, slot := range []Slot{SlotA, SlotB, SlotC} {
		p := s.cfg.Quant(slot)
		if p.IsZero() {
			continue
		}
		setter, ok := s.drv.(QuantSetter)
		if !ok {
			return fmt.Errorf("%w: driver does not accept quantization parameters", ErrResource)
		}
		if err := setter.SetQuantParams(s.ctx, slot, s.attrs.Get(slot).Name, p); err != nil {
			return fmt.Errorf("set quant %s: %w", slot, err)
		}
		s.log.Debug("quant params set", "slot", slot.String(), "channels", p.Channels(), "params", p.String())
	}
	return nil
}

// Bind allocates the buffer for slot, fills it from h and binds it to the context.
// For SlotC h is ignored. The session becomes BuffersBound once all three are bound.
func (s *Session) Bind(slot Slot, h Host) error {
	if err := s.expect("Bind", StateContextCreated); err != nil {
		return err
	}
	if slot < SlotA || slot > SlotC {
		return usageError("unknown slot %d", int(slot))
	}
	if s.ts.bound(slot) {
		return usageError("operand %s already bound", slot)
	}
	attr := s.attrs.Get(slot)
	if slot != SlotC {
		if err := checkHost(attr, h); err != nil {
			return err
		}
	}
	if err := s.ts.allocate(attr); err != nil {
		return s.fail(err)
	}
	if slot != SlotC {
		if err := s.ts.populate(slot, h); err != nil {
			return s.fail(err)
		}
	}
	if err := s.ts.bind(slot); err != nil {
		return s.fail(err)
	}
	s.log.Debug("operand bound", "slot", slot.String(), "kind", attr.Kind.String(), "layout", attr.Layout.String(), "bytes", attr.Size)
	if s.ts.allBound() {
		s.transition(StateBuffersBound)
	}
	return nil
}

// BindAll binds A and B from caller data and allocates C.
func (s *Session) BindAll(a, b Host) error {
	if err := s.Bind(SlotA, a); err != nil {
		return err
	}
	if err := s.Bind(SlotB, b); err != nil {
		return err
	}
	return s.Bind(SlotC, Host{})
}

// Run executes the multiplication. It may be repeated once executed, which is how
// benchmarks time the hardware.
func (s *Session) Run() error {
	if err := s.expect("Run", StateBuffersBound, StateExecuted); err != nil {
		return err
	}
	if err := s.drv.Run(s.ctx); err != nil {
		return s.fail(fmt.Errorf("run %s: %w", s.mode, err))
	}
	if s.state != StateExecuted {
		s.transition(StateExecuted)
	}
	return nil
}

// Expose makes C readable in Normal layout. A Normal C is exposed in place; a tiled C
// is converted into a host copy unless RawOutput was requested.
func (s *Session) Expose() error {
	if err := s.expect("Expose", StateExecuted); err != nil {
		return err
	}
	buf := s.ts.slots[SlotC]
	attr := buf.attr
	if attr.Layout.Kind == layout.Normal || s.cfg.RawOutput {
		size, err := layout.ByteSize(attr.Layout, attr.Kind, attr.Rows, attr.Cols)
		if err != nil {
			return s.fail(err)
		}
		s.out = buf.mem.Data[:size:size]
	} else {
		out := make([]byte, dtype.Bytes(attr.Kind, attr.Rows*attr.Cols))
		if err := layout.Convert(out, buf.mem.Data, attr.Kind, attr.Rows, attr.Cols, attr.Layout, layout.NormalLayout()); err != nil {
			return s.fail(fmt.Errorf("untile C: %w", err))
		}
		s.out = out
	}
	s.transition(StateResultReady)
	return nil
}

// Detach ends the session. A and B are destroyed, C and the context move into the
// returned Result, which must be released by the caller.
func (s *Session) Detach() (*Result, error) {
	if err := s.expect("Detach", StateResultReady); err != nil {
		return nil, err
	}
	if err := errors.Join(s.ts.destroy(SlotA), s.ts.destroy(SlotB)); err != nil {
		return nil, s.fail(err)
	}
	attr, mem := s.ts.take(SlotC)
	lay := attr.Layout
	if !s.cfg.RawOutput {
		lay = layout.NormalLayout()
	}
	r := &Result{
		drv:    s.drv,
		ctx:    s.ctx,
		mem:    mem,
		dims:   s.dims,
		mode:   s.mode,
		kind:   attr.Kind,
		layout: lay,
		data:   s.out,
	}
	s.hasCtx = false
	s.out = nil
	s.transition(StateReleased)
	return r, nil
}

// Abort destroys every buffer and the context the session still owns and leaves it
// Failed. It is a no-op once the session is Released or Failed.
func (s *Session) Abort() error {
	if s.state == StateReleased || s.state == StateFailed {
		return nil
	}
	var errs []error
	if s.hasCtx {
		errs = append(errs, s.ts.destroyAll())
		if err := s.drv.DestroyContext(s.ctx); err != nil {
			errs = append(errs, fmt.Errorf("destroy context: %w", err))
		}
		s.hasCtx = false
	}
	s.out = nil
	s.transition(StateFailed)
	return errors.Join(errs...)
}
