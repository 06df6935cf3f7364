// Package facet models the dual residency of a matrix's storage: a host
// facet and a device facet, each a possibly-stale materialization of the
// same data. The package holds only the residency contract and its
// per-facet synchronization metadata; matrices implement Backed and the
// synchronization engine drives it.
package facet

import (
	"github.com/samcharles93/strata/internal/mempool"
	"github.com/samcharles93/strata/internal/native"
)

// Kind names one residency of a matrix's data.
type Kind int

const (
	Host Kind = iota
	Device
)

func (k Kind) String() string {
	switch k {
	case Host:
		return "host"
	case Device:
		return "device"
	default:
		return "unknown"
	}
}

// Other returns the opposite residency.
func (k Kind) Other() Kind {
	if k == Host {
		return Device
	}
	return Host
}

// Direction marks which way data is moving into a facet while a transfer
// is in flight.
type Direction int

const (
	None Direction = iota
	FromHost
	FromDevice
)

func (d Direction) String() string {
	switch d {
	case None:
		return "none"
	case FromHost:
		return "from-host"
	case FromDevice:
		return "from-device"
	default:
		return "unknown"
	}
}

// Transfer carries the explicit context a materialization needs: the pool
// backing device facets, the stream copies are issued on, and whether host
// buffers should be registered as pinned memory first.
type Transfer struct {
	Pool    *mempool.Pool
	Stream  native.Stream
	PinHost bool
}

// Backed is the narrow contract the synchronization engine needs from a
// matrix: acquire a facet's metadata, make a facet current, query
// residency, and drop the device facet.
type Backed interface {
	// Facet returns the view tracking kind's residency metadata.
	Facet(kind Kind) *View
	// EnsureFacet makes kind's facet current, issuing an asynchronous
	// copy on tr.Stream when the facet is stale. A facet with a pending
	// async write is left alone; the copy already in flight will satisfy
	// it.
	EnsureFacet(kind Kind, tr Transfer) error
	// UpToDate reports whether kind's facet holds current, settled data.
	UpToDate(kind Kind) bool
	// DestroyFacet drops the device facet, returning its backing
	// allocation to pool. Destroying the host facet panics; it is the
	// canonical storage.
	DestroyFacet(kind Kind, pool *mempool.Pool)
	// UnpinHost releases the host storage's pinned registration, if one
	// was made on behalf of a transfer.
	UnpinHost(pool *mempool.Pool)
}
