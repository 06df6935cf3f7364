package mempool

import "sync/atomic"

// Stats is a point-in-time snapshot of pool activity. Byte gauges count
// regions until their native release, so deferred frees still show as
// in-use until the owner drains them.
type Stats struct {
	Allocs         uint64
	Frees          uint64
	DeferredFrees  uint64
	HostPins       uint64
	HostUnpins     uint64
	DeferredUnpins uint64
	InUseBytes     int64
	PeakBytes      int64
	PinnedBytes    int64
	Reclaims       uint64
	OOMRecoveries  uint64
	OOMFailures    uint64
}

type counters struct {
	allocs         atomic.Uint64
	frees          atomic.Uint64
	deferredFrees  atomic.Uint64
	hostPins       atomic.Uint64
	hostUnpins     atomic.Uint64
	deferredUnpins atomic.Uint64
	inUseBytes     atomic.Int64
	peakBytes      atomic.Int64
	pinnedBytes    atomic.Int64
	reclaims       atomic.Uint64
	oomRecoveries  atomic.Uint64
	oomFailures    atomic.Uint64
}

// noteInUse raises the in-use gauge and ratchets the peak.
func (c *counters) noteInUse(bytes int64) {
	inUse := c.inUseBytes.Add(bytes)
	for {
		peak := c.peakBytes.Load()
		if inUse <= peak || c.peakBytes.CompareAndSwap(peak, inUse) {
			return
		}
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Allocs:         c.allocs.Load(),
		Frees:          c.frees.Load(),
		DeferredFrees:  c.deferredFrees.Load(),
		HostPins:       c.hostPins.Load(),
		HostUnpins:     c.hostUnpins.Load(),
		DeferredUnpins: c.deferredUnpins.Load(),
		InUseBytes:     c.inUseBytes.Load(),
		PeakBytes:      c.peakBytes.Load(),
		PinnedBytes:    c.pinnedBytes.Load(),
		Reclaims:       c.reclaims.Load(),
		OOMRecoveries:  c.oomRecoveries.Load(),
		OOMFailures:    c.oomFailures.Load(),
	}
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats { return p.stats.snapshot() }
