package main

import (
	"math"
	"math/rand/v2"

	"github.com/samcharles93/matnpu/pkg/dtype"
	"github.com/samcharles93/matnpu/pkg/matmul"
)

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

type generator struct {
	rng *rand.Rand
}

func newGenerator(seed int64) generator {
	return generator{rng: rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))}
}

// fill draws n values in [lo, hi]. Integer kinds get whole numbers so the host data
// survives encoding unchanged.
func (g generator) fill(n int, kind dtype.Kind, lo, hi float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if kind.IsFloat() {
			out[i] = lo + g.rng.Float64()*(hi-lo)
			continue
		}
		out[i] = lo + float64(g.rng.IntN(int(hi-lo)+1))
	}
	return out
}

// valueRange returns the operand range the RKNN matmul demo uses for each mode.
// int8 to int8 keeps products small so the saturated output stays meaningful.
func valueRange(mode matmul.Mode, slot matmul.Slot) (lo, hi float64) {
	if mode == matmul.Int8MMInt8ToInt8 {
		if slot == matmul.SlotA {
			return 5, 6
		}
		return 10, 11
	}
	t := mode.Triple()
	kind := t.A
	if slot == matmul.SlotB {
		kind = t.B
	}
	switch kind {
	case dtype.Int4:
		return -8, 7
	case dtype.Int8:
		return math.MinInt8, math.MaxInt8
	case dtype.Int16:
		return math.MinInt16, math.MaxInt16
	default:
		return -1, 1
	}
}
