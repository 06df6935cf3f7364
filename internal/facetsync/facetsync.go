// Package facetsync orchestrates asynchronous host-device copies for
// batches of matrices. Transfers are issued on a dedicated copy stream so
// they overlap with compute, and every episode ends with a hard fence: the
// matching Finish blocks until the copy stream drains, so no caller ever
// observes a partially copied facet.
package facetsync

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/samcharles93/strata/internal/device"
	"github.com/samcharles93/strata/internal/facet"
	"github.com/samcharles93/strata/internal/logger"
	"github.com/samcharles93/strata/internal/mempool"
	"github.com/samcharles93/strata/internal/native"
)

// Config binds an engine to one device context and pool scope.
type Config struct {
	// Context supplies the driver and both streams. Nil disables the
	// engine; episodes become pass-throughs.
	Context *device.Context
	// Pool backs device facets and pinned registrations. Required when
	// Context is set.
	Pool *mempool.Pool
	// PinHost registers host buffers as pinned memory before transfers.
	PinHost bool
	// Log receives episode diagnostics. Defaults to a silent logger.
	Log logger.Logger
}

// Engine runs synchronization episodes. One engine serves one device
// context; episodes on it must not overlap.
type Engine struct {
	drv        native.Driver
	pool       *mempool.Pool
	compute    native.Stream
	copyStream native.Stream
	pinHost    bool
	log        logger.Logger
}

// New builds an engine from cfg.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{
		pool:    cfg.Pool,
		pinHost: cfg.PinHost,
		log:     log.With("component", "facetsync"),
	}
	if cfg.Context != nil {
		if cfg.Pool == nil {
			panic("facetsync: config has a device context but no pool")
		}
		e.drv = cfg.Context.Driver()
		e.compute = cfg.Context.Compute()
		e.copyStream = cfg.Context.Copy()
	}
	return e
}

func (e *Engine) disabled() bool { return e.drv == nil }

// Token records one synchronization episode: the deduplicated ensure and
// destroy sets it covers. It is consumed exactly once by the matching
// Finish.
type Token struct {
	ID      uuid.UUID
	ensure  []facet.Backed
	destroy []facet.Backed
	done    bool
}

func (t *Token) empty() bool { return len(t.ensure) == 0 && len(t.destroy) == 0 }

// Ensure returns the deduplicated set of matrices the episode makes
// device-resident.
func (t *Token) Ensure() []facet.Backed { return t.ensure }

// Destroy returns the deduplicated set of matrices the episode strips of
// device residency.
func (t *Token) Destroy() []facet.Backed { return t.destroy }

func dedup(set []facet.Backed) []facet.Backed {
	if len(set) == 0 {
		return nil
	}
	seen := make(map[facet.Backed]struct{}, len(set))
	out := set[:0:0]
	for _, m := range set {
		if m == nil {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Start opens an episode. The two sets must be disjoint; a matrix cannot
// become device-resident and lose device residency in the same episode,
// and overlap panics before any copy is issued. The caller must not read
// or mutate any listed matrix until the matching Finish returns.
//
// The compute stream is synchronized first so no copy can race an
// in-flight kernel's writes. Then every ensure matrix has its device facet
// materialized and every destroy matrix its host facet, all copies issued
// asynchronously on the copy stream, and a synthetic in-flight writer is
// installed on each target facet so nothing treats it as settled before
// Finish.
func (e *Engine) Start(ensure, destroy []facet.Backed) (*Token, error) {
	ensure = dedup(ensure)
	destroy = dedup(destroy)
	inEnsure := make(map[facet.Backed]struct{}, len(ensure))
	for _, m := range ensure {
		inEnsure[m] = struct{}{}
	}
	for _, m := range destroy {
		if _, ok := inEnsure[m]; ok {
			panic("facetsync: ensure and destroy sets overlap")
		}
	}

	tok := &Token{ensure: ensure, destroy: destroy}
	if e.disabled() || tok.empty() {
		return tok, nil
	}
	tok.ID = uuid.New()

	if err := e.drv.Synchronize(e.compute); err != nil {
		return nil, fmt.Errorf("synchronizing compute stream: %w", err)
	}

	tr := facet.Transfer{Pool: e.pool, Stream: e.copyStream, PinHost: e.pinHost}
	var watched []*facet.View
	unwind := func() {
		for _, v := range watched {
			v.RemoveWatcher()
		}
	}

	for i, m := range ensure {
		if err := m.EnsureFacet(facet.Device, tr); err != nil {
			unwind()
			return nil, fmt.Errorf("materializing device facet of ensure[%d]: %w", i, err)
		}
		v := m.Facet(facet.Device)
		v.AddWatcher(facet.FromHost)
		watched = append(watched, v)
	}
	for i, m := range destroy {
		if err := m.EnsureFacet(facet.Host, tr); err != nil {
			unwind()
			return nil, fmt.Errorf("materializing host facet of destroy[%d]: %w", i, err)
		}
		v := m.Facet(facet.Host)
		v.AddWatcher(facet.FromDevice)
		watched = append(watched, v)
	}

	e.log.Debug("sync episode started",
		"episode", tok.ID, "ensure", len(ensure), "destroy", len(destroy))
	return tok, nil
}

// Finish closes the episode: it blocks until the copy stream fully drains,
// removes every synthetic writer, checks that each target facet came out
// current, and strips destroy matrices of their device facets, returning
// the backing allocations to the pool. There is no timeout on the drain;
// it is a correctness barrier. A token is consumed exactly once; finishing
// it again panics.
func (e *Engine) Finish(tok *Token) error {
	if tok.done {
		panic("facetsync: token already consumed")
	}
	tok.done = true
	if e.disabled() || tok.empty() {
		return nil
	}

	if err := e.drv.Synchronize(e.copyStream); err != nil {
		return fmt.Errorf("draining copy stream: %w", err)
	}

	var errs []error
	for i, m := range tok.ensure {
		m.Facet(facet.Device).RemoveWatcher()
		if !m.UpToDate(facet.Device) {
			errs = append(errs, fmt.Errorf("device facet of ensure[%d] not current after drain", i))
		}
	}
	for i, m := range tok.destroy {
		m.Facet(facet.Host).RemoveWatcher()
		if !m.UpToDate(facet.Host) {
			errs = append(errs, fmt.Errorf("host facet of destroy[%d] not current after drain", i))
		}
		m.DestroyFacet(facet.Device, e.pool)
	}
	for _, m := range tok.ensure {
		m.UnpinHost(e.pool)
	}
	for _, m := range tok.destroy {
		m.UnpinHost(e.pool)
	}

	e.log.Debug("sync episode finished", "episode", tok.ID)
	return errors.Join(errs...)
}

// With runs body inside one episode: every ensure matrix is
// device-resident while body runs, and every destroy matrix loses device
// residency after it returns. Finish runs on every exit path, including
// panics. With both sets empty, or on a disabled engine, body runs with no
// stream or fence overhead.
func (e *Engine) With(ensure, destroy []facet.Backed, body func() error) (err error) {
	tok, startErr := e.Start(ensure, destroy)
	if startErr != nil {
		return startErr
	}
	defer func() {
		if ferr := e.Finish(tok); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()
	return body()
}
