package mempool

import (
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/samcharles93/strata/internal/native"
)

// The active-pool slot is process-global, so none of these tests may run
// in parallel.

func simConfig(bytes int64) Config {
	return Config{
		Driver:       native.NewSim(native.SimConfig{DeviceBytes: bytes}),
		ReclaimSleep: time.Millisecond,
	}
}

func TestWithScope(t *testing.T) {
	if Active() != nil {
		t.Fatal("a pool is active before any scope opened")
	}

	var escaped *Pool
	err := With(simConfig(1<<20), func(p *Pool) error {
		escaped = p
		if Active() != p {
			t.Fatal("active pool is not the scope's pool")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	if Active() != nil {
		t.Fatal("pool still active after scope exit")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("Alloc on a dead pool handle did not panic")
		}
	}()
	escaped.Alloc(16)
}

func TestWithPropagatesError(t *testing.T) {
	want := errors.New("boom")
	err := With(simConfig(1<<20), func(*Pool) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("With returned %v, want %v", err, want)
	}
	if Active() != nil {
		t.Fatal("pool not released on error exit")
	}
}

func TestNestedWithPanics(t *testing.T) {
	err := With(simConfig(1<<20), func(*Pool) error {
		defer func() {
			if recover() == nil {
				t.Error("nested With did not panic")
			}
		}()
		With(simConfig(1<<20), func(*Pool) error { return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestAllocAndImmediateFree(t *testing.T) {
	cfg := simConfig(1 << 20)
	drv := cfg.Driver

	err := With(cfg, func(p *Pool) error {
		free0, _, err := drv.MemInfo()
		if err != nil {
			t.Fatalf("MemInfo: %v", err)
		}

		a, err := p.Alloc(4096)
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		if a.Bytes() != 4096 || a.Buffer().IsNil() {
			t.Fatalf("allocation not usable: bytes=%d nil=%v", a.Bytes(), a.Buffer().IsNil())
		}
		if free1, _, _ := drv.MemInfo(); free1 != free0-4096 {
			t.Fatalf("free memory = %d, want %d", free1, free0-4096)
		}

		p.Free(a)
		if free2, _, _ := drv.MemInfo(); free2 != free0 {
			t.Fatal("owner free was not immediate")
		}
		if !a.Freed() || !a.Buffer().IsNil() {
			t.Fatal("allocation still presents a buffer after free")
		}

		// Releasing again, through either path, is a no-op.
		p.Free(a)
		a.Free()
		if st := p.Stats(); st.Frees != 1 || st.DeferredFrees != 0 {
			t.Fatalf("stats after double free: %+v", st)
		}
		if st := p.Stats(); st.InUseBytes != 0 || st.PeakBytes != 4096 {
			t.Fatalf("byte gauges after free: %+v", st)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestDeferredFreesInvisibleUntilNextAlloc(t *testing.T) {
	cfg := simConfig(1 << 20)
	drv := cfg.Driver

	err := With(cfg, func(p *Pool) error {
		const n = 4
		allocs := make([]*DeviceAlloc, n)
		for i := range allocs {
			a, err := p.Alloc(1024)
			if err != nil {
				t.Fatalf("Alloc %d: %v", i, err)
			}
			allocs[i] = a
		}
		freeBefore, _, _ := drv.MemInfo()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, a := range allocs {
				a.Free()
			}
		}()
		wg.Wait()

		if f, _, _ := drv.MemInfo(); f != freeBefore {
			t.Fatal("deferred frees reached the driver before the owner drained")
		}
		if st := p.Stats(); st.DeferredFrees != n || st.Frees != 0 {
			t.Fatalf("stats before drain: %+v", st)
		}

		b, err := p.Alloc(512)
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		if f, _, _ := drv.MemInfo(); f != freeBefore+n*1024-512 {
			t.Fatalf("free memory after drain = %d, want %d", f, freeBefore+n*1024-512)
		}
		if st := p.Stats(); st.Frees != n {
			t.Fatalf("stats after drain: %+v", st)
		}
		p.Free(b)
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestTeardownDrainsPending(t *testing.T) {
	cfg := simConfig(1 << 20)
	drv := cfg.Driver

	err := With(cfg, func(p *Pool) error {
		a, err := p.Alloc(2048)
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		a.Free()
		if f, total, _ := drv.MemInfo(); f == total {
			t.Fatal("value-path free reached the driver inside the scope")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}

	free, total, err := drv.MemInfo()
	if err != nil {
		t.Fatalf("MemInfo: %v", err)
	}
	if free != total {
		t.Fatalf("teardown left %d bytes unreclaimed", total-free)
	}
}

func TestLadderOrderAndShortCircuit(t *testing.T) {
	err := With(simConfig(2048), func(p *Pool) error {
		blocker, err := p.Alloc(2048)
		if err != nil {
			t.Fatalf("Alloc blocker: %v", err)
		}

		var order []string
		p.ladder = []reclaimTier{
			{name: "first", run: func() { order = append(order, "first") }},
			{name: "second", run: func() {
				order = append(order, "second")
				blocker.Free()
			}},
			{name: "third", run: func() { order = append(order, "third") }},
		}

		a, err := p.Alloc(1024)
		if err != nil {
			t.Fatalf("Alloc after reclaim: %v", err)
		}
		if got := strings.Join(order, ","); got != "first,second" {
			t.Fatalf("ladder ran tiers %q, want %q", got, "first,second")
		}
		if st := p.Stats(); st.OOMRecoveries != 1 || st.Reclaims != 2 {
			t.Fatalf("stats: %+v", st)
		}
		p.Free(a)
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestLadderExhaustedIsRecoverable(t *testing.T) {
	err := With(simConfig(1024), func(p *Pool) error {
		blocker, err := p.Alloc(1024)
		if err != nil {
			t.Fatalf("Alloc blocker: %v", err)
		}

		_, err = p.Alloc(1024)
		if err == nil {
			t.Fatal("Alloc succeeded on an exhausted device")
		}
		var oom *OutOfMemoryError
		if !errors.As(err, &oom) {
			t.Fatalf("error %v is not an OutOfMemoryError", err)
		}
		if oom.Bytes != 1024 {
			t.Fatalf("OOM carries %d bytes, want 1024", oom.Bytes)
		}
		if !IsOOM(err) {
			t.Fatal("IsOOM missed an OutOfMemoryError")
		}
		if st := p.Stats(); st.OOMFailures != 1 {
			t.Fatalf("stats: %+v", st)
		}

		// The failure is recoverable: release the blocker and ask again.
		p.Free(blocker)
		a, err := p.Alloc(1024)
		if err != nil {
			t.Fatalf("retry after recovery: %v", err)
		}
		p.Free(a)
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestRegisterHostLifecycle(t *testing.T) {
	buf := make([]byte, 4096)
	ptr := unsafe.Pointer(&buf[0])

	err := With(simConfig(1<<20), func(p *Pool) error {
		h, err := p.RegisterHost(ptr, int64(len(buf)))
		if err != nil {
			t.Fatalf("RegisterHost: %v", err)
		}
		if !h.Registered() {
			t.Fatal("fresh registration reports unregistered")
		}

		called := false
		err = h.WithBuffer(func(got unsafe.Pointer, bytes int64) error {
			called = true
			if got != ptr || bytes != int64(len(buf)) {
				t.Fatalf("WithBuffer got (%p, %d)", got, bytes)
			}
			return nil
		})
		if err != nil || !called {
			t.Fatalf("WithBuffer: err=%v called=%v", err, called)
		}

		if _, err := p.RegisterHost(ptr, int64(len(buf))); err == nil {
			t.Fatal("duplicate registration succeeded")
		}

		p.UnregisterHost(h)
		if h.Registered() {
			t.Fatal("buffer still registered after owner unregister")
		}
		if err := h.WithBuffer(func(unsafe.Pointer, int64) error { return nil }); !errors.Is(err, ErrHostUnregistered) {
			t.Fatalf("WithBuffer after unregister: %v", err)
		}

		// The registration slot is free again.
		h2, err := p.RegisterHost(ptr, int64(len(buf)))
		if err != nil {
			t.Fatalf("re-register: %v", err)
		}
		p.UnregisterHost(h2)
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestDoubleUnregisterPanics(t *testing.T) {
	buf := make([]byte, 64)

	err := With(simConfig(1<<20), func(p *Pool) error {
		h, err := p.RegisterHost(unsafe.Pointer(&buf[0]), int64(len(buf)))
		if err != nil {
			t.Fatalf("RegisterHost: %v", err)
		}
		p.UnregisterHost(h)

		defer func() {
			if recover() == nil {
				t.Error("second unregister did not panic")
			}
		}()
		h.Unregister()
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestDeferredUnpinDrainsOnAlloc(t *testing.T) {
	buf := make([]byte, 256)
	ptr := unsafe.Pointer(&buf[0])
	cfg := simConfig(1 << 20)

	err := With(cfg, func(p *Pool) error {
		h, err := p.RegisterHost(ptr, int64(len(buf)))
		if err != nil {
			t.Fatalf("RegisterHost: %v", err)
		}

		h.Unregister()
		if st := p.Stats(); st.DeferredUnpins != 1 || st.HostUnpins != 0 {
			t.Fatalf("stats before drain: %+v", st)
		}
		// The native registration is still held until the owner drains.
		if err := cfg.Driver.RegisterHost(ptr, int64(len(buf))); err == nil {
			t.Fatal("native registration already released before drain")
		}

		a, err := p.Alloc(16)
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		if st := p.Stats(); st.HostUnpins != 1 {
			t.Fatalf("stats after drain: %+v", st)
		}
		h2, err := p.RegisterHost(ptr, int64(len(buf)))
		if err != nil {
			t.Fatalf("re-register after drain: %v", err)
		}
		p.UnregisterHost(h2)
		p.Free(a)
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestFinalizerQueuesRelease(t *testing.T) {
	err := With(simConfig(1<<20), func(p *Pool) error {
		func() {
			a, err := p.Alloc(4096)
			if err != nil {
				t.Fatalf("Alloc: %v", err)
			}
			_ = a
		}()

		deadline := time.Now().Add(5 * time.Second)
		for p.Stats().DeferredFrees == 0 {
			if time.Now().After(deadline) {
				t.Fatal("finalizer never queued the release")
			}
			runtime.GC()
			time.Sleep(10 * time.Millisecond)
		}

		a, err := p.Alloc(16)
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		if p.Stats().Frees == 0 {
			t.Fatal("drain did not release the finalized allocation")
		}
		p.Free(a)
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestConcurrentValueFrees(t *testing.T) {
	err := With(simConfig(1<<20), func(p *Pool) error {
		const workers, each = 8, 8
		allocs := make([]*DeviceAlloc, workers*each)
		for i := range allocs {
			a, err := p.Alloc(64)
			if err != nil {
				t.Fatalf("Alloc %d: %v", i, err)
			}
			allocs[i] = a
		}

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(chunk []*DeviceAlloc) {
				defer wg.Done()
				for _, a := range chunk {
					a.Free()
				}
			}(allocs[w*each : (w+1)*each])
		}
		wg.Wait()

		a, err := p.Alloc(16)
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		p.Free(a)
		st := p.Stats()
		if st.Frees != workers*each+1 || st.InUseBytes != 0 {
			t.Fatalf("stats after concurrent frees: %+v", st)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestAllocNegativePanics(t *testing.T) {
	err := With(simConfig(1<<20), func(p *Pool) error {
		defer func() {
			if recover() == nil {
				t.Error("negative allocation did not panic")
			}
		}()
		p.Alloc(-1)
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func BenchmarkPendingPushDrain(b *testing.B) {
	var l freeList
	for i := 0; i < b.N; i++ {
		l.push(native.DeviceBuffer{}, 64)
		if i%1024 == 1023 {
			for n := l.takeAll(); n != nil; n = n.next {
			}
		}
	}
}

func BenchmarkPendingPushContended(b *testing.B) {
	var l freeList
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			l.push(native.DeviceBuffer{}, 64)
			if i++; i%1024 == 0 {
				l.takeAll()
			}
		}
	})
}
