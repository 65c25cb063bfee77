package reference

import (
	"testing"

	"github.com/x448/float16"

	"github.com/samcharles93/matnpu/pkg/dtype"
	"github.com/samcharles93/matnpu/pkg/matmul"
	"github.com/samcharles93/matnpu/pkg/quant"
)

func TestMultiplyHostInt8ToInt32(t *testing.T) {
	dims := matmul.Dims{M: 2, K: 3, N: 2}
	a := []int8{1, 2, 3, 4, 5, 6}
	b := []int8{1, 0, 0, 1, 1, 1}
	got, err := MultiplyHost(matmul.Int8MMInt8ToInt32, dims, a, b, Quant{})
	if err != nil {
		t.Fatalf("MultiplyHost: %v", err)
	}
	want := []float64{4, 5, 10, 11}
	if !Equal(want, got) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestMultiplyHostFloat16ToFloat32(t *testing.T) {
	dims := matmul.Dims{M: 4, K: 4, N: 4}
	a := make([]float16.Float16, 16)
	b := make([]float16.Float16, 16)
	for i := range 4 {
		a[i*4+i] = float16.Fromfloat32(1)
		b[i*4+i] = float16.Fromfloat32(1)
	}
	got, err := MultiplyHost(matmul.Float16MMFloat16ToFloat32, dims, a, b, Quant{})
	if err != nil {
		t.Fatalf("MultiplyHost: %v", err)
	}
	for i := range 4 {
		for j := range 4 {
			want := 0.0
			if i == j {
				want = 1
			}
			if got[i*4+j] != want {
				t.Fatalf("C[%d][%d] = %v, want %v", i, j, got[i*4+j], want)
			}
		}
	}
}

func TestQuantizedInt8ToInt8(t *testing.T) {
	dims := matmul.Dims{M: 1, K: 2, N: 1}
	q := Quant{A: quant.PerLayer(0.2, 0), B: quant.PerLayer(0.1, 0), C: quant.PerLayer(0.8, 0)}
	// (10*20 + 30*40) * 0.2 * 0.1 / 0.8 = 35
	got, err := MultiplyHost(matmul.Int8MMInt8ToInt8, dims, []int8{10, 30}, []int8{20, 40}, q)
	if err != nil {
		t.Fatalf("MultiplyHost: %v", err)
	}
	if got[0] != 35 {
		t.Fatalf("got %v want 35", got[0])
	}

	// Saturates at the int8 limit.
	got, err = MultiplyHost(matmul.Int8MMInt8ToInt8, dims, []int8{127, 127}, []int8{127, 127}, Quant{})
	if err != nil {
		t.Fatalf("MultiplyHost: %v", err)
	}
	if got[0] != 127 {
		t.Fatalf("got %v want 127", got[0])
	}
}

func TestPerChannelWeights(t *testing.T) {
	dims := matmul.Dims{M: 1, K: 1, N: 2}
	q := Quant{B: quant.Params{Scale: []float32{0.5, 2}, ZeroPoint: []int32{0, 1}}}
	got, err := MultiplyHost(matmul.Float16MMInt8ToFloat32, dims, []float32{2}, []int8{4, 4}, q)
	if err != nil {
		t.Fatalf("MultiplyHost: %v", err)
	}
	if got[0] != 4 || got[1] != 12 {
		t.Fatalf("got %v want [4 12]", got)
	}
}

func TestInt4ToInt16(t *testing.T) {
	dims := matmul.Dims{M: 1, K: 3, N: 1}
	got, err := MultiplyHost(matmul.Int4MMInt4ToInt16, dims, []int8{-8, 7, 1}, []int8{-8, -8, 3}, Quant{})
	if err != nil {
		t.Fatalf("MultiplyHost: %v", err)
	}
	if got[0] != 64-56+3 {
		t.Fatalf("got %v want 11", got[0])
	}
}

func TestCompare(t *testing.T) {
	c := Compare(dtype.Int32, []float64{1, 2}, []float64{1, 3})
	if c.Match || c.Mismatches != 1 || !c.Exact {
		t.Fatalf("integer compare: %+v", c)
	}
	c = Compare(dtype.Float32, []float64{1, 2, 3}, []float64{1.0001, 2, 3})
	if !c.Match {
		t.Fatalf("float compare: %+v", c)
	}
	if CosineSimilarity([]float64{0, 0}, []float64{0, 0}) != 1 {
		t.Fatalf("zero vectors should be identical")
	}
	if CosineSimilarity([]float64{1, 0}, []float64{0, 1}) != 0 {
		t.Fatalf("orthogonal vectors should score 0")
	}
}
