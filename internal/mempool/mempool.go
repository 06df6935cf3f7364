// Package mempool owns device and pinned-host allocations for one active
// execution scope. At most one pool is active process-wide; entering a
// scope while another is active panics. The *Pool handle returned by With
// is the ownership capability: releases made through it touch the driver
// immediately, while releases made through the allocation values
// themselves (from other goroutines, or from finalizers) are queued on
// lock-free pending lists and reclaimed at the owner's next allocation or
// at scope teardown.
package mempool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/time/rate"

	"github.com/samcharles93/strata/internal/logger"
	"github.com/samcharles93/strata/internal/native"
)

var active atomic.Pointer[Pool]

// Active returns the currently active pool, or nil when no scope is open.
func Active() *Pool { return active.Load() }

// Config tunes a pool scope.
type Config struct {
	// Driver supplies the native allocation primitives. Required.
	Driver native.Driver
	// Log receives pool diagnostics. Defaults to a silent logger.
	Log logger.Logger
	// ReclaimSleep overrides the pause before the ladder's final retry.
	ReclaimSleep time.Duration
}

// Pool is the allocation arena bound to one execution scope.
type Pool struct {
	drv native.Driver
	log logger.Logger

	pendingFree  freeList
	pendingUnpin pinList

	closed atomic.Bool
	ladder []reclaimTier
	oomLog rate.Sometimes

	stats counters
}

func newPool(cfg Config) *Pool {
	if cfg.Driver == nil {
		panic("mempool: config has no driver")
	}
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{
		drv:    cfg.Driver,
		log:    log.With("component", "mempool"),
		ladder: defaultLadder(cfg.ReclaimSleep),
		oomLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// With enters a pool scope: it activates a fresh pool, runs fn with the
// pool handle, and tears the pool down on every exit path, draining both
// pending lists. Entering while another pool is active panics.
func With(cfg Config, fn func(*Pool) error) error {
	p := newPool(cfg)
	if !active.CompareAndSwap(nil, p) {
		panic("mempool: a pool is already active")
	}
	p.log.Debug("pool scope opened", "driver", p.drv.Name())
	defer func() {
		p.teardown()
		active.Store(nil)
	}()
	return fn(p)
}

// Driver returns the native driver backing this pool.
func (p *Pool) Driver() native.Driver { return p.drv }

func (p *Pool) requireActive(op string) {
	if Active() != p {
		panic("mempool: " + op + " outside the pool's scope")
	}
}

func (p *Pool) teardown() {
	p.closed.Store(true)
	released := p.reclaimPending()
	st := p.stats.snapshot()
	p.log.Debug("pool scope closed",
		"drained", released, "allocs", st.Allocs, "frees", st.Frees,
		"leaked_bytes", st.InUseBytes)
}

// reclaimPending drains both pending lists, natively releasing every
// entry. It returns the number of entries released.
func (p *Pool) reclaimPending() int {
	released := 0
	for n := p.pendingFree.takeAll(); n != nil; n = n.next {
		p.releaseDevice(n.buf, n.bytes)
		released++
	}
	for n := p.pendingUnpin.takeAll(); n != nil; n = n.next {
		p.releasePinned(n.h)
		released++
	}
	return released
}

func (p *Pool) releaseDevice(buf native.DeviceBuffer, bytes int64) {
	if err := p.drv.Free(buf); err != nil {
		p.log.Error("device free failed", "bytes", bytes, "error", err)
		return
	}
	p.stats.frees.Add(1)
	p.stats.inUseBytes.Add(-bytes)
}

func (p *Pool) deferFree(buf native.DeviceBuffer, bytes int64) {
	p.stats.deferredFrees.Add(1)
	p.pendingFree.push(buf, bytes)
	if p.closed.Load() {
		// Late arrival after teardown: nobody will drain for us. The CAS
		// swap in takeAll keeps each entry owned by exactly one drainer
		// even if this races the teardown drain.
		p.reclaimPending()
	}
}

func (p *Pool) deferUnpin(h *PinnedHost) {
	p.stats.deferredUnpins.Add(1)
	p.pendingUnpin.push(h)
	if p.closed.Load() {
		p.reclaimPending()
	}
}

// Alloc reserves bytes of device memory. Pending releases queued on this
// pool are reclaimed first. When the driver reports out of memory the
// reclamation ladder runs tier by tier, draining and retrying after each;
// if the ladder is exhausted the returned error is an *OutOfMemoryError
// and a later Alloc with the same size restarts the ladder from the top.
func (p *Pool) Alloc(bytes int64) (*DeviceAlloc, error) {
	p.requireActive("Alloc")
	if bytes < 0 {
		panic("mempool: negative allocation size")
	}
	p.reclaimPending()

	buf, err := p.drv.Alloc(bytes)
	if err == nil {
		return p.newDeviceAlloc(buf, bytes), nil
	}
	if !native.IsOOM(err) {
		return nil, err
	}

	p.oomLog.Do(func() {
		p.log.Warn("device allocation hit out of memory, reclaiming", "bytes", bytes)
	})
	for _, tier := range p.ladder {
		tier.run()
		p.stats.reclaims.Add(1)
		p.reclaimPending()
		buf, err = p.drv.Alloc(bytes)
		if err == nil {
			p.stats.oomRecoveries.Add(1)
			p.log.Debug("reclaim recovered allocation", "tier", tier.name, "bytes", bytes)
			return p.newDeviceAlloc(buf, bytes), nil
		}
		if !native.IsOOM(err) {
			return nil, err
		}
	}

	p.stats.oomFailures.Add(1)
	return nil, &OutOfMemoryError{Bytes: bytes}
}

func (p *Pool) newDeviceAlloc(buf native.DeviceBuffer, bytes int64) *DeviceAlloc {
	a := &DeviceAlloc{buf: buf, bytes: bytes, pool: p}
	p.stats.allocs.Add(1)
	p.stats.noteInUse(bytes)
	runtime.SetFinalizer(a, (*DeviceAlloc).Free)
	return a
}

// Free releases the allocation natively before returning. It must be
// called through the active pool's handle; code without the handle uses
// DeviceAlloc.Free instead. Releasing an already-freed allocation is a
// no-op.
func (p *Pool) Free(a *DeviceAlloc) {
	p.requireActive("Free")
	if a == nil {
		return
	}
	if !a.freed.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(a, nil)
	if a.pool != p {
		// Another scope's allocation: only its own pool may hand it to
		// the driver.
		a.pool.deferFree(a.buf, a.bytes)
		return
	}
	p.releaseDevice(a.buf, a.bytes)
}

// RegisterHost pins the bytes at ptr with the driver and binds the buffer
// to this pool. The caller keeps ownership of the memory itself and must
// keep it alive until the registration is released.
func (p *Pool) RegisterHost(ptr unsafe.Pointer, bytes int64) (*PinnedHost, error) {
	p.requireActive("RegisterHost")
	if err := p.drv.RegisterHost(ptr, bytes); err != nil {
		return nil, err
	}
	p.stats.hostPins.Add(1)
	p.stats.pinnedBytes.Add(bytes)
	return &PinnedHost{ptr: ptr, bytes: bytes, pool: p}, nil
}

// UnregisterHost releases the buffer's registration natively before
// returning. Like Free it is the owner-handle path; code without the
// handle uses PinnedHost.Unregister. Releasing an already-unregistered
// buffer panics.
func (p *Pool) UnregisterHost(h *PinnedHost) {
	p.requireActive("UnregisterHost")
	if !h.unregistered.CompareAndSwap(false, true) {
		panic("mempool: host buffer already unregistered")
	}
	if h.pool != p {
		h.pool.deferUnpin(h)
		return
	}
	p.releasePinned(h)
}

func (p *Pool) releasePinned(h *PinnedHost) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := p.drv.UnregisterHost(h.ptr); err != nil {
		p.log.Error("host unregister failed", "bytes", h.bytes, "error", err)
		return
	}
	h.pool = nil
	p.stats.hostUnpins.Add(1)
	p.stats.pinnedBytes.Add(-h.bytes)
}

// DeviceAlloc is one device-memory region, exclusively owned by the pool
// that created it until freed.
type DeviceAlloc struct {
	buf   native.DeviceBuffer
	bytes int64
	pool  *Pool
	freed atomic.Bool
}

// Buffer returns the underlying device buffer, or the nil buffer once the
// allocation has been released.
func (a *DeviceAlloc) Buffer() native.DeviceBuffer {
	if a.freed.Load() {
		return native.DeviceBuffer{}
	}
	return a.buf
}

// Bytes returns the region's length.
func (a *DeviceAlloc) Bytes() int64 { return a.bytes }

// Freed reports whether the allocation has been released or queued for
// release.
func (a *DeviceAlloc) Freed() bool { return a.freed.Load() }

// Free queues the region on the owning pool's pending list. It is safe
// from any goroutine, never blocks, and is a no-op when already released;
// the native free runs at the owning pool's next allocation or at its
// teardown.
func (a *DeviceAlloc) Free() {
	if !a.freed.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(a, nil)
	a.pool.deferFree(a.buf, a.bytes)
}

// PinnedHost wraps a caller-supplied host buffer registered with the
// driver for fast asynchronous transfer. The registration, not the memory,
// is what the pool owns.
type PinnedHost struct {
	ptr   unsafe.Pointer
	bytes int64

	// mu serializes the native unregister against concurrent transfers
	// using the buffer.
	mu           sync.Mutex
	pool         *Pool
	unregistered atomic.Bool
}

// Ptr returns the registered base address.
func (h *PinnedHost) Ptr() unsafe.Pointer { return h.ptr }

// Bytes returns the registered length.
func (h *PinnedHost) Bytes() int64 { return h.bytes }

// Registered reports whether the buffer is still registered and not queued
// for release.
func (h *PinnedHost) Registered() bool { return !h.unregistered.Load() }

// WithBuffer runs fn while holding the buffer's release lock, so an
// unregister issued concurrently cannot pull the registration out from
// under a transfer in flight.
func (h *PinnedHost) WithBuffer(fn func(ptr unsafe.Pointer, bytes int64) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unregistered.Load() {
		return ErrHostUnregistered
	}
	return fn(h.ptr, h.bytes)
}

// Unregister queues the registration for release on the owning pool's
// pending list. Safe from any goroutine. Releasing an already-unregistered
// buffer panics.
func (h *PinnedHost) Unregister() {
	if !h.unregistered.CompareAndSwap(false, true) {
		panic("mempool: host buffer already unregistered")
	}
	h.pool.deferUnpin(h)
}
