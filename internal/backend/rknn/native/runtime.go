//go:build rknpu

package native

/*
#cgo LDFLAGS: -lrknnrt

#include <stdlib.h>
#include <string.h>
#include <rknn_matmul_api.h>

static int matnpuCreate(rknn_matmul_ctx* ctx, rknn_matmul_info* info, rknn_matmul_io_attr* io) {
	return rknn_matmul_create(ctx, info, io);
}

static rknn_tensor_mem* matnpuCreateMem(rknn_matmul_ctx ctx, uint32_t size) {
	return rknn_create_mem(ctx, size);
}

static int matnpuSetQuant(rknn_matmul_ctx ctx, const char* name, float* scale, int32_t scale_len, int32_t* zp, int32_t zp_len) {
	rknn_quant_params p;
	memset(&p, 0, sizeof(p));
	strncpy(p.name, name, RKNN_MAX_NAME_LEN - 1);
	p.scale = scale;
	p.scale_len = scale_len;
	p.zp = zp;
	p.zp_len = zp_len;
	return rknn_matmul_set_quant_params(ctx, &p);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Tensor type codes of rknn_tensor_type.
const (
	TypeFloat32  = 0
	TypeFloat16  = 1
	TypeInt8     = 2
	TypeUint8    = 3
	TypeInt16    = 4
	TypeUint16   = 5
	TypeInt32    = 6
	TypeUint32   = 7
	TypeInt64    = 8
	TypeBool     = 9
	TypeInt4     = 10
	TypeBfloat16 = 11
)

// Error is a negative return code from librknnrt.
type Error struct {
	Op   string
	Code int
}

func (e *Error) Error() string {
	return fmt.Sprintf("rknn %s failed: %d", e.Op, e.Code)
}

func check(op string, code C.int) error {
	if code < 0 {
		return &Error{Op: op, Code: int(code)}
	}
	return nil
}

// Info mirrors rknn_matmul_info.
type Info struct {
	M, K, N       int
	Type          int
	BLayout       int
	BQuantType    int
	ACLayout      int
	IOMMUDomainID int
}

// TensorAttr is a decoded rknn_matmul_tensor_attr. The raw struct is kept so it can be
// handed back to rknn_matmul_set_io_mem.
type TensorAttr struct {
	Name string
	Dims []int
	Size int
	Type int
	raw  C.rknn_matmul_tensor_attr
}

// IOAttr holds the A, B and C attributes reported by rknn_matmul_create.
type IOAttr struct {
	A, B, C TensorAttr
}

func decodeAttr(a *C.rknn_matmul_tensor_attr) TensorAttr {
	dims := make([]int, int(a.n_dims))
	for i := range dims {
		dims[i] = int(a.dims[i])
	}
	return TensorAttr{
		Name: C.GoString(&a.name[0]),
		Dims: dims,
		Size: int(a.size),
		Type: int(a._type),
		raw:  *a,
	}
}

// Context is an rknn matmul context.
type Context struct {
	h C.rknn_matmul_ctx
}

// Create calls rknn_matmul_create.
func Create(info Info) (Context, IOAttr, error) {
	var ci C.rknn_matmul_info
	ci.M = C.int32_t(info.M)
	ci.K = C.int32_t(info.K)
	ci.N = C.int32_t(info.N)
	ci._type = C.rknn_matmul_type(info.Type)
	ci.B_layout = C.int16_t(info.BLayout)
	ci.B_quant_type = C.int16_t(info.BQuantType)
	ci.AC_layout = C.int16_t(info.ACLayout)
	ci.iommu_domain_id = C.int32_t(info.IOMMUDomainID)

	var io C.rknn_matmul_io_attr
	var ctx C.rknn_matmul_ctx
	if err := check("matmul_create", C.matnpuCreate(&ctx, &ci, &io)); err != nil {
		return Context{}, IOAttr{}, err
	}
	return Context{h: ctx}, IOAttr{A: decodeAttr(&io.A), B: decodeAttr(&io.B), C: decodeAttr(&io.C)}, nil
}

// SetCoreMask calls rknn_matmul_set_core_mask.
func (c Context) SetCoreMask(mask int) error {
	return check("matmul_set_core_mask", C.rknn_matmul_set_core_mask(c.h, C.rknn_core_mask(mask)))
}

// SetQuantParams copies scale and zp into C memory for the duration of the call.
func (c Context) SetQuantParams(name string, scale []float32, zp []int32) error {
	if len(scale) == 0 || len(zp) == 0 {
		return &Error{Op: "matmul_set_quant_params", Code: -5}
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	cscale := (*C.float)(C.malloc(C.size_t(len(scale)) * C.size_t(unsafe.Sizeof(C.float(0)))))
	defer C.free(unsafe.Pointer(cscale))
	czp := (*C.int32_t)(C.malloc(C.size_t(len(zp)) * C.size_t(unsafe.Sizeof(C.int32_t(0)))))
	defer C.free(unsafe.Pointer(czp))
	copy(unsafe.Slice((*float32)(unsafe.Pointer(cscale)), len(scale)), scale)
	copy(unsafe.Slice((*int32)(unsafe.Pointer(czp)), len(zp)), zp)
	return check("matmul_set_quant_params", C.matnpuSetQuant(c.h, cname, cscale, C.int32_t(len(scale)), czp, C.int32_t(len(zp))))
}

// Run calls rknn_matmul_run and blocks until the NPU finishes.
func (c Context) Run() error {
	return check("matmul_run", C.rknn_matmul_run(c.h))
}

// Destroy calls rknn_matmul_destroy.
func (c Context) Destroy() error {
	return check("matmul_destroy", C.rknn_matmul_destroy(c.h))
}

// Mem is a buffer from rknn_create_mem.
type Mem struct {
	ptr *C.rknn_tensor_mem
}

// CreateMem allocates size bytes of NPU-visible memory.
func (c Context) CreateMem(size int) (Mem, error) {
	if size <= 0 {
		return Mem{}, &Error{Op: "create_mem", Code: -5}
	}
	m := C.matnpuCreateMem(c.h, C.uint32_t(size))
	if m == nil {
		return Mem{}, &Error{Op: "create_mem", Code: -4}
	}
	return Mem{ptr: m}, nil
}

// Bytes is the CPU mapping of the buffer.
func (m Mem) Bytes() []byte {
	if m.ptr == nil || m.ptr.virt_addr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(m.ptr.virt_addr), int(m.ptr.size))
}

// SetIOMem binds m to the operand described by attr.
func (c Context) SetIOMem(m Mem, attr *TensorAttr) error {
	return check("matmul_set_io_mem", C.rknn_matmul_set_io_mem(c.h, m.ptr, &attr.raw))
}

// DestroyMem frees a buffer from CreateMem.
func (c Context) DestroyMem(m Mem) error {
	if m.ptr == nil {
		return nil
	}
	return check("destroy_mem", C.rknn_destroy_mem(c.h, m.ptr))
}
