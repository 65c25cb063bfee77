package matmul

import (
	"fmt"

	"github.com/samcharles93/matnpu/pkg/layout"
	"github.com/samcharles93/matnpu/pkg/quant"
)

// Config holds the per-context options. The zero value is valid: Normal layouts,
// automatic core selection, IOMMU domain 0, no quantization.
type Config struct {
	ACLayout layout.Kind
	BLayout  layout.Kind
	CoreMask CoreMask
	// IOMMUDomain places the context in a separate 4GB address space on parts that
	// support more than one.
	IOMMUDomain int
	// BPerChannelQuant asks for one quantization scale per output column of B.
	BPerChannelQuant bool
	QuantA           quant.Params
	QuantB           quant.Params
	QuantC           quant.Params
	// RawOutput exposes C in the driver's layout instead of converting to Normal.
	RawOutput bool
}

// Quant returns the parameters configured for slot s.
func (c Config) Quant(s Slot) quant.Params {
	switch s {
	case SlotA:
		return c.QuantA
	case SlotB:
		return c.QuantB
	default:
		return c.QuantC
	}
}

func (c Config) validate(d Dims) error {
	switch c.ACLayout {
	case layout.Normal, layout.Performance:
	default:
		return fmt.Errorf("A/C layout %s not supported", c.ACLayout)
	}
	switch c.BLayout {
	case layout.Normal, layout.Native:
	default:
		return fmt.Errorf("B layout %s not supported", c.BLayout)
	}
	if c.IOMMUDomain < 0 {
		return fmt.Errorf("iommu domain %d", c.IOMMUDomain)
	}
	if err := c.QuantA.Validate(1); err != nil {
		return fmt.Errorf("A: %w", err)
	}
	bChannels := 1
	if c.BPerChannelQuant {
		bChannels = d.N
	}
	if err := c.QuantB.Validate(bChannels); err != nil {
		return fmt.Errorf("B: %w", err)
	}
	if err := c.QuantC.Validate(1); err != nil {
		return fmt.Errorf("C: %w", err)
	}
	return nil
}
