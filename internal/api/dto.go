package api

import (
	"github.com/samcharles93/matnpu/pkg/matmul"
	"github.com/samcharles93/matnpu/pkg/quant"
)

// MatmulRequest is the body of POST /v1/matmul. A and B are row-major. Either Mode or
// Types selects the hardware operation; Mode wins when both are set.
type MatmulRequest struct {
	M     int           `json:"m"`
	K     int           `json:"k"`
	N     int           `json:"n"`
	Mode  string        `json:"mode,omitempty"`
	Types *TypesRequest `json:"types,omitempty"`
	A     []float64     `json:"a"`
	B     []float64     `json:"b"`

	ACLayout    string `json:"ac_layout,omitempty"`
	BLayout     string `json:"b_layout,omitempty"`
	CoreMask    string `json:"core_mask,omitempty"`
	IOMMUDomain int    `json:"iommu_domain,omitempty"`

	QuantA           *QuantRequest `json:"quant_a,omitempty"`
	QuantB           *QuantRequest `json:"quant_b,omitempty"`
	QuantC           *QuantRequest `json:"quant_c,omitempty"`
	BPerChannelQuant bool          `json:"b_per_channel,omitempty"`

	// Keep stores the result handle until DELETE /v1/results/:id.
	Keep bool `json:"keep,omitempty"`
}

type TypesRequest struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

type QuantRequest struct {
	Scale     []float32 `json:"scale"`
	ZeroPoint []int32   `json:"zero_point"`
}

func (q *QuantRequest) params() quant.Params {
	if q == nil {
		return quant.Params{}
	}
	return quant.Params{Scale: q.Scale, ZeroPoint: q.ZeroPoint}
}

type MatmulResponse struct {
	ID     string    `json:"id,omitempty"`
	Object string    `json:"object"`
	Mode   string    `json:"mode"`
	M      int       `json:"m"`
	K      int       `json:"k"`
	N      int       `json:"n"`
	Kind   string    `json:"kind"`
	Data   []float64 `json:"data"`
}

type ModeInfo struct {
	Tag  int32  `json:"tag"`
	Name string `json:"name"`
	A    string `json:"a"`
	B    string `json:"b"`
	C    string `json:"c"`
}

type ModesResponse struct {
	Object string     `json:"object"`
	Data   []ModeInfo `json:"data"`
}

type DeleteResultResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func modeInfo(m matmul.Mode) ModeInfo {
	t := m.Triple()
	return ModeInfo{
		Tag:  int32(m),
		Name: m.String(),
		A:    t.A.String(),
		B:    t.B.String(),
		C:    t.C.String(),
	}
}
