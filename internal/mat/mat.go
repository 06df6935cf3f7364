// Package mat provides the dense row-major matrix whose storage the
// memory pool and facet synchronization layers manage.
package mat

import (
	"math/rand"
	"unsafe"

	"github.com/samcharles93/strata/internal/facet"
	"github.com/samcharles93/strata/internal/grid"
	"github.com/samcharles93/strata/internal/mempool"
)

const elemSize = 4 // float32

var _ facet.Backed = (*Dense)(nil)

// Dense represents a dense row-major matrix of float32 values with two
// facets: the host facet (Data, the canonical storage) and an optional
// device facet backed by the memory pool.
//
// R and C are the number of rows and columns. Stride is the number of
// elements between the starts of two consecutive rows; device transfers
// require a contiguous matrix (Stride == C). Dense performs no memory
// safety beyond the checks of Go's slice types; out-of-range indices
// panic.
type Dense struct {
	R, C   int
	Stride int
	Data   []float32

	host   facet.View
	device facet.View
	dev    *mempool.DeviceAlloc
	pin    *mempool.PinnedHost
}

// New allocates a zero-initialized matrix. The host facet starts current.
func New(r, c int) *Dense {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	m := &Dense{R: r, C: c, Stride: c, Data: make([]float32, r*c)}
	m.host.MarkCurrent()
	return m
}

// FromData creates a matrix wrapping existing data. It checks that the
// data length matches r*c.
func FromData(r, c int, data []float32) *Dense {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	m := &Dense{R: r, C: c, Stride: c, Data: data}
	m.host.MarkCurrent()
	return m
}

// Row returns a view of the i-th row. Modifications through the returned
// slice update the matrix; follow them with NoteHostWrite so the device
// facet is known stale.
func (m *Dense) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// Len returns the element count.
func (m *Dense) Len() int { return m.R * m.C }

// SizeBytes returns the byte length of the matrix's storage.
func (m *Dense) SizeBytes() int64 { return int64(m.Len()) * elemSize }

// NoteHostWrite records a mutation of Data through the host facet: the
// host facet becomes current and the device facet stale.
func (m *Dense) NoteHostWrite() {
	m.host.MarkCurrent()
	m.device.MarkStale()
}

// NoteDeviceWrite records a mutation through the device facet, as after a
// kernel writes the matrix.
func (m *Dense) NoteDeviceWrite() {
	m.device.MarkCurrent()
	m.host.MarkStale()
}

// DeviceResident reports whether a device facet currently backs the
// matrix.
func (m *Dense) DeviceResident() bool { return m.dev != nil }

// Device returns the device facet's backing allocation, or nil.
func (m *Dense) Device() *mempool.DeviceAlloc { return m.dev }

// FillRand fills the matrix with reproducible pseudo-random values. A
// small range around zero is used to avoid overflow in accumulations; the
// same seed always produces the same matrix.
func FillRand(m *Dense, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.02
	}
	m.NoteHostWrite()
}

// Apply1D runs fn across every element the way a grid-stride kernel
// would: launch geometry chosen by pl for the matrix's length, each
// virtual thread walking with a stride of the full launch width. The host
// facet must be current; the device facet becomes stale.
func (m *Dense) Apply1D(pl grid.Planner, maxWarpsPerBlock int, fn func(i int, v float32) float32) error {
	if !m.host.UpToDate() {
		return errNoCurrentFacet
	}
	if m.Stride != m.C {
		return errNotContiguous
	}
	block, gridDim := pl.Choose1D(m.Len(), maxWarpsPerBlock)
	grid.Stride1D(block, gridDim, m.Len(), func(i int) {
		m.Data[i] = fn(i, m.Data[i])
	})
	m.NoteHostWrite()
	return nil
}

// Axpy computes y += alpha*x elementwise with the same launch plan and
// walk a device kernel would use. Both host facets must be current;
// mismatched shapes panic.
func Axpy(pl grid.Planner, maxWarpsPerBlock int, alpha float32, x, y *Dense) error {
	if x.R != y.R || x.C != y.C {
		panic("mat: axpy shape mismatch")
	}
	if !x.host.UpToDate() || !y.host.UpToDate() {
		return errNoCurrentFacet
	}
	if x.Stride != x.C || y.Stride != y.C {
		return errNotContiguous
	}
	block, gridDim := pl.Choose1D(y.Len(), maxWarpsPerBlock)
	grid.Stride1D(block, gridDim, y.Len(), func(i int) {
		y.Data[i] += alpha * x.Data[i]
	})
	y.NoteHostWrite()
	return nil
}

// Facet returns the view tracking kind's residency metadata.
func (m *Dense) Facet(kind facet.Kind) *facet.View {
	if kind == facet.Device {
		return &m.device
	}
	return &m.host
}

// UpToDate reports whether kind's facet holds current, settled data.
func (m *Dense) UpToDate(kind facet.Kind) bool {
	return m.Facet(kind).UpToDate()
}

// EnsureFacet makes kind's facet current. A stale facet is satisfied by an
// asynchronous copy from the other side, issued on tr.Stream; a facet with
// a pending async write is left alone because the copy in flight will
// satisfy it.
func (m *Dense) EnsureFacet(kind facet.Kind, tr facet.Transfer) error {
	v := m.Facet(kind)
	if v.State() == facet.PendingAsyncWrite {
		return nil
	}
	if v.UpToDate() {
		return nil
	}
	if m.Len() == 0 {
		v.MarkCurrent()
		return nil
	}
	if tr.Pool == nil {
		return errNoPool
	}
	if m.Stride != m.C {
		return errNotContiguous
	}
	switch kind {
	case facet.Device:
		return m.ensureDevice(tr)
	case facet.Host:
		return m.ensureHost(tr)
	default:
		return errUnknownFacet
	}
}

func (m *Dense) ensureDevice(tr facet.Transfer) error {
	if !m.host.UpToDate() {
		return errNoCurrentFacet
	}
	if m.dev == nil {
		a, err := tr.Pool.Alloc(m.SizeBytes())
		if err != nil {
			return err
		}
		m.dev = a
	}
	if err := m.pinIfAsked(tr); err != nil {
		return err
	}
	drv := tr.Pool.Driver()
	issue := func(ptr unsafe.Pointer, _ int64) error {
		return drv.MemcpyH2DAsync(m.dev.Buffer(), ptr, m.SizeBytes(), tr.Stream)
	}
	var err error
	if m.pin != nil {
		err = m.pin.WithBuffer(issue)
	} else {
		err = issue(unsafe.Pointer(&m.Data[0]), m.SizeBytes())
	}
	if err != nil {
		return err
	}
	m.device.MarkCurrent()
	return nil
}

func (m *Dense) ensureHost(tr facet.Transfer) error {
	if m.dev == nil || !m.device.UpToDate() {
		return errNoCurrentFacet
	}
	if err := m.pinIfAsked(tr); err != nil {
		return err
	}
	drv := tr.Pool.Driver()
	issue := func(ptr unsafe.Pointer, _ int64) error {
		return drv.MemcpyD2HAsync(ptr, m.dev.Buffer(), m.SizeBytes(), tr.Stream)
	}
	var err error
	if m.pin != nil {
		err = m.pin.WithBuffer(issue)
	} else {
		err = issue(unsafe.Pointer(&m.Data[0]), m.SizeBytes())
	}
	if err != nil {
		return err
	}
	m.host.MarkCurrent()
	return nil
}

func (m *Dense) pinIfAsked(tr facet.Transfer) error {
	if !tr.PinHost || m.pin != nil {
		return nil
	}
	h, err := tr.Pool.RegisterHost(unsafe.Pointer(&m.Data[0]), m.SizeBytes())
	if err != nil {
		return err
	}
	m.pin = h
	return nil
}

// UnpinHost releases the host storage's pinned registration, if one was
// made on behalf of a transfer.
func (m *Dense) UnpinHost(pool *mempool.Pool) {
	if m.pin == nil {
		return
	}
	pool.UnregisterHost(m.pin)
	m.pin = nil
}

// DestroyFacet drops the device facet and returns its backing allocation
// to pool. The host facet is the canonical storage; destroying it panics.
func (m *Dense) DestroyFacet(kind facet.Kind, pool *mempool.Pool) {
	if kind != facet.Device {
		panic("mat: cannot destroy the host facet")
	}
	if m.dev != nil {
		pool.Free(m.dev)
		m.dev = nil
	}
	m.device.MarkStale()
}

var (
	errNotContiguous  = matError("matrix is not contiguous")
	errNoPool         = matError("no pool for device transfer")
	errNoCurrentFacet = matError("no current facet to copy from")
	errUnknownFacet   = matError("unknown facet kind")
)

type matError string

func (e matError) Error() string { return string(e) }
