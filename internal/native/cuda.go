//go:build cuda

package native

/*
#cgo LDFLAGS: -lcudart

// Minimal CUDA runtime forward declarations to avoid requiring headers at
// compile time. The linker still requires libcudart when building with the
// cuda tag.
typedef void* cudaStream_t;
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaMemGetInfo(unsigned long long* free, unsigned long long* total);
extern cudaError_t cudaStreamCreate(cudaStream_t* stream);
extern cudaError_t cudaStreamDestroy(cudaStream_t stream);
extern cudaError_t cudaStreamSynchronize(cudaStream_t stream);
extern cudaError_t cudaMalloc(void** ptr, unsigned long long size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaHostRegister(void* ptr, unsigned long long size, unsigned int flags);
extern cudaError_t cudaHostUnregister(void* ptr);
extern cudaError_t cudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream);

#define STRATA_CUDA_MEMCPY_HOST_TO_DEVICE 1
#define STRATA_CUDA_MEMCPY_DEVICE_TO_HOST 2
#define STRATA_CUDA_HOST_REGISTER_DEFAULT 0u

static const char* strataCudaGetErrorString(cudaError_t err) {
	return cudaGetErrorString(err);
}

static int strataCudaGetDeviceCount(int* out) {
	cudaError_t err = cudaGetDeviceCount(out);
	return (int)err;
}

static int strataCudaSetDevice(int device) {
	cudaError_t err = cudaSetDevice(device);
	return (int)err;
}

static int strataCudaMemGetInfo(unsigned long long* freeBytes, unsigned long long* totalBytes) {
	cudaError_t err = cudaMemGetInfo(freeBytes, totalBytes);
	return (int)err;
}

static int strataCudaStreamCreate(cudaStream_t* out) {
	cudaError_t err = cudaStreamCreate(out);
	return (int)err;
}

static int strataCudaStreamDestroy(cudaStream_t stream) {
	cudaError_t err = cudaStreamDestroy(stream);
	return (int)err;
}

static int strataCudaStreamSynchronize(cudaStream_t stream) {
	cudaError_t err = cudaStreamSynchronize(stream);
	return (int)err;
}

static int strataCudaMalloc(void** ptr, unsigned long long size) {
	cudaError_t err = cudaMalloc(ptr, size);
	return (int)err;
}

static int strataCudaFree(void* ptr) {
	cudaError_t err = cudaFree(ptr);
	return (int)err;
}

static int strataCudaHostRegister(void* ptr, unsigned long long size) {
	cudaError_t err = cudaHostRegister(ptr, size, STRATA_CUDA_HOST_REGISTER_DEFAULT);
	return (int)err;
}

static int strataCudaHostUnregister(void* ptr) {
	cudaError_t err = cudaHostUnregister(ptr);
	return (int)err;
}

static int strataCudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream) {
	cudaError_t err = cudaMemcpyAsync(dst, src, size, kind, stream);
	return (int)err;
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

const cudaBuilt = true

// cudaDriver implements Driver on the CUDA runtime.
type cudaDriver struct{}

// NewCUDA returns the CUDA runtime driver. It fails when no device is
// visible so callers can fall back to the simulated driver.
func NewCUDA() (Driver, error) {
	d := &cudaDriver{}
	count, err := d.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("cuda device query failed: %w", err)
	}
	if count < 1 {
		return nil, fmt.Errorf("no cuda devices detected")
	}
	return d, nil
}

func (*cudaDriver) Name() string { return "cuda" }

func (*cudaDriver) DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr("cudaGetDeviceCount", C.strataCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func (*cudaDriver) SetDevice(id int) error {
	return cudaErr("cudaSetDevice", C.strataCudaSetDevice(C.int(id)))
}

func (*cudaDriver) MemInfo() (int64, int64, error) {
	var free, total C.ulonglong
	if err := cudaErr("cudaMemGetInfo", C.strataCudaMemGetInfo(&free, &total)); err != nil {
		return 0, 0, err
	}
	return int64(free), int64(total), nil
}

func (*cudaDriver) NewStream() (Stream, error) {
	var stream C.cudaStream_t
	if err := cudaErr("cudaStreamCreate", C.strataCudaStreamCreate(&stream)); err != nil {
		return Stream{}, err
	}
	return Stream{h: unsafe.Pointer(stream)}, nil
}

func (*cudaDriver) DestroyStream(s Stream) error {
	if s.h == nil {
		return nil
	}
	return cudaErr("cudaStreamDestroy", C.strataCudaStreamDestroy(C.cudaStream_t(s.h)))
}

func (*cudaDriver) Synchronize(s Stream) error {
	return cudaErr("cudaStreamSynchronize", C.strataCudaStreamSynchronize(C.cudaStream_t(s.h)))
}

func (*cudaDriver) Alloc(bytes int64) (DeviceBuffer, error) {
	if bytes <= 0 {
		return DeviceBuffer{}, fmt.Errorf("device alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr("cudaMalloc", C.strataCudaMalloc((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))); err != nil {
		return DeviceBuffer{}, err
	}
	return DeviceBuffer{ptr: ptr}, nil
}

func (*cudaDriver) Free(b DeviceBuffer) error {
	if b.ptr == nil {
		return nil
	}
	return cudaErr("cudaFree", C.strataCudaFree(b.ptr))
}

func (*cudaDriver) RegisterHost(ptr unsafe.Pointer, bytes int64) error {
	if bytes <= 0 {
		return fmt.Errorf("host register size must be > 0")
	}
	return cudaErr("cudaHostRegister", C.strataCudaHostRegister(ptr, C.ulonglong(bytes)))
}

func (*cudaDriver) UnregisterHost(ptr unsafe.Pointer) error {
	return cudaErr("cudaHostUnregister", C.strataCudaHostUnregister(ptr))
}

func (*cudaDriver) MemcpyH2DAsync(dst DeviceBuffer, src unsafe.Pointer, bytes int64, s Stream) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr("cudaMemcpyAsync", C.strataCudaMemcpyAsync(dst.ptr, src, C.ulonglong(bytes), C.STRATA_CUDA_MEMCPY_HOST_TO_DEVICE, C.cudaStream_t(s.h)))
}

func (*cudaDriver) MemcpyD2HAsync(dst unsafe.Pointer, src DeviceBuffer, bytes int64, s Stream) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr("cudaMemcpyAsync", C.strataCudaMemcpyAsync(dst, src.ptr, C.ulonglong(bytes), C.STRATA_CUDA_MEMCPY_DEVICE_TO_HOST, C.cudaStream_t(s.h)))
}

func cudaErr(op string, code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.strataCudaGetErrorString(C.cudaError_t(code)))
	return &Error{Op: op, Code: int(code), Msg: msg}
}
