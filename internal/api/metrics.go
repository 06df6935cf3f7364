package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/samcharles93/strata/internal/device"
	"github.com/samcharles93/strata/internal/mempool"
)

// Metric descriptor indices and descriptor table.
const (
	deviceFreeDesc = iota
	deviceTotalDesc
	poolActiveDesc
	poolAllocsDesc
	poolFreesDesc
	poolDeferredFreesDesc
	poolHostPinsDesc
	poolHostUnpinsDesc
	poolDeferredUnpinsDesc
	poolInUseDesc
	poolPeakDesc
	poolPinnedDesc
	poolReclaimsDesc
	poolOOMRecoveriesDesc
	poolOOMFailuresDesc
	numDescriptors
)

var descriptors = [numDescriptors]*prometheus.Desc{
	deviceFreeDesc: prometheus.NewDesc(
		"strata_device_free_bytes",
		"Free device memory as reported by the driver.",
		[]string{"backend"}, nil,
	),
	deviceTotalDesc: prometheus.NewDesc(
		"strata_device_total_bytes",
		"Total device memory as reported by the driver.",
		[]string{"backend"}, nil,
	),
	poolActiveDesc: prometheus.NewDesc(
		"strata_pool_active",
		"Whether a memory pool scope is currently open.",
		nil, nil,
	),
	poolAllocsDesc: prometheus.NewDesc(
		"strata_pool_allocs_total",
		"Device allocations served by the pool.",
		nil, nil,
	),
	poolFreesDesc: prometheus.NewDesc(
		"strata_pool_frees_total",
		"Device allocations released back to the driver.",
		nil, nil,
	),
	poolDeferredFreesDesc: prometheus.NewDesc(
		"strata_pool_deferred_frees_total",
		"Frees queued from other goroutines or finalizers.",
		nil, nil,
	),
	poolHostPinsDesc: prometheus.NewDesc(
		"strata_pool_host_pins_total",
		"Host buffers registered for pinned transfers.",
		nil, nil,
	),
	poolHostUnpinsDesc: prometheus.NewDesc(
		"strata_pool_host_unpins_total",
		"Host buffers unregistered again.",
		nil, nil,
	),
	poolDeferredUnpinsDesc: prometheus.NewDesc(
		"strata_pool_deferred_unpins_total",
		"Unregistrations queued from other goroutines.",
		nil, nil,
	),
	poolInUseDesc: prometheus.NewDesc(
		"strata_pool_in_use_bytes",
		"Device bytes currently held by live allocations.",
		nil, nil,
	),
	poolPeakDesc: prometheus.NewDesc(
		"strata_pool_peak_bytes",
		"High-water mark of in-use device bytes.",
		nil, nil,
	),
	poolPinnedDesc: prometheus.NewDesc(
		"strata_pool_pinned_bytes",
		"Host bytes currently registered with the driver.",
		nil, nil,
	),
	poolReclaimsDesc: prometheus.NewDesc(
		"strata_pool_reclaims_total",
		"Reclamation ladder tiers executed under memory pressure.",
		nil, nil,
	),
	poolOOMRecoveriesDesc: prometheus.NewDesc(
		"strata_pool_oom_recoveries_total",
		"Allocations that succeeded after reclaim.",
		nil, nil,
	),
	poolOOMFailuresDesc: prometheus.NewDesc(
		"strata_pool_oom_failures_total",
		"Allocations that failed even after the reclaim ladder.",
		nil, nil,
	),
}

// collector exports device and pool state to Prometheus. Pool metrics
// reflect whichever pool is active at scrape time.
type collector struct {
	ctx *device.Context
}

func newCollector(ctx *device.Context) prometheus.Collector {
	return &collector{ctx: ctx}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if c.ctx != nil {
		drv := c.ctx.Driver()
		if free, total, err := drv.MemInfo(); err == nil {
			ch <- prometheus.MustNewConstMetric(
				descriptors[deviceFreeDesc], prometheus.GaugeValue,
				float64(free), drv.Name(),
			)
			ch <- prometheus.MustNewConstMetric(
				descriptors[deviceTotalDesc], prometheus.GaugeValue,
				float64(total), drv.Name(),
			)
		}
	}

	p := mempool.Active()
	activeVal := 0.0
	if p != nil {
		activeVal = 1.0
	}
	ch <- prometheus.MustNewConstMetric(
		descriptors[poolActiveDesc], prometheus.GaugeValue, activeVal,
	)
	if p == nil {
		return
	}

	st := p.Stats()
	counters := []struct {
		desc  int
		value float64
	}{
		{poolAllocsDesc, float64(st.Allocs)},
		{poolFreesDesc, float64(st.Frees)},
		{poolDeferredFreesDesc, float64(st.DeferredFrees)},
		{poolHostPinsDesc, float64(st.HostPins)},
		{poolHostUnpinsDesc, float64(st.HostUnpins)},
		{poolDeferredUnpinsDesc, float64(st.DeferredUnpins)},
		{poolReclaimsDesc, float64(st.Reclaims)},
		{poolOOMRecoveriesDesc, float64(st.OOMRecoveries)},
		{poolOOMFailuresDesc, float64(st.OOMFailures)},
	}
	for _, m := range counters {
		ch <- prometheus.MustNewConstMetric(
			descriptors[m.desc], prometheus.CounterValue, m.value,
		)
	}
	ch <- prometheus.MustNewConstMetric(
		descriptors[poolInUseDesc], prometheus.GaugeValue, float64(st.InUseBytes),
	)
	ch <- prometheus.MustNewConstMetric(
		descriptors[poolPeakDesc], prometheus.GaugeValue, float64(st.PeakBytes),
	)
	ch <- prometheus.MustNewConstMetric(
		descriptors[poolPinnedDesc], prometheus.GaugeValue, float64(st.PinnedBytes),
	)
}
