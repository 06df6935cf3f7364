// Package device owns the execution context the rest of strata runs
// against: the selected native driver, the primary compute stream and the
// secondary copy stream, and the launch-geometry limits of the device.
package device

import (
	"fmt"
	"strings"

	"github.com/samcharles93/strata/internal/grid"
	"github.com/samcharles93/strata/internal/native"
)

const (
	Sim  = "sim"
	CUDA = "cuda"
	Auto = "auto"
)

// DefaultDevice is the device ordinal used when none is configured.
const DefaultDevice = 0

// DefaultSeed seeds device random state. Random-number generation itself
// lives with the RNG bindings; only the default belongs to this
// configuration surface.
const DefaultSeed int64 = 1234

// Normalize canonicalizes a backend name, defaulting empty to Auto.
func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Sim, CUDA, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, sim, or cuda)", backend)
	}
}

// Available returns a comma-separated list of available backends.
func Available() string {
	entries := []string{Sim}
	if native.HasCUDA() {
		entries = append(entries, CUDA)
	}
	return strings.Join(entries, ",")
}

// Config selects and tunes the device context.
type Config struct {
	// Backend is auto, sim, or cuda. Auto prefers cuda when it is compiled
	// in and a device is visible.
	Backend string
	// ID is the device ordinal.
	ID int
	// Seed is the default seed handed to device random state.
	Seed int64
	// MaxBlocks overrides the per-launch block cap when positive.
	MaxBlocks int
	// SimBytes caps the simulated device heap when the sim driver is
	// selected. Zero means the driver default.
	SimBytes int64
}

// Properties describes the launch limits of the opened device.
type Properties struct {
	WarpSize  int
	MaxBlocks int
}

// Context is an opened device: a driver plus the two streams all of
// strata's work is issued on. The compute stream carries kernels, the copy
// stream carries facet transfers so they overlap with compute.
type Context struct {
	drv     native.Driver
	compute native.Stream
	copy    native.Stream
	props   Properties
	planner grid.Planner
	seed    int64
}

// Open selects a driver per cfg, binds the device, and creates the compute
// and copy streams.
func Open(cfg Config) (*Context, error) {
	backend, err := Normalize(cfg.Backend)
	if err != nil {
		return nil, err
	}

	var drv native.Driver
	switch backend {
	case CUDA:
		drv, err = native.NewCUDA()
		if err != nil {
			return nil, err
		}
	case Sim:
		drv = native.NewSim(native.SimConfig{DeviceBytes: cfg.SimBytes})
	case Auto:
		if drv, err = native.NewCUDA(); err != nil {
			drv = native.NewSim(native.SimConfig{DeviceBytes: cfg.SimBytes})
		}
	}

	if err := drv.SetDevice(cfg.ID); err != nil {
		return nil, fmt.Errorf("binding device %d: %w", cfg.ID, err)
	}

	compute, err := drv.NewStream()
	if err != nil {
		return nil, fmt.Errorf("creating compute stream: %w", err)
	}
	copyStream, err := drv.NewStream()
	if err != nil {
		_ = drv.DestroyStream(compute)
		return nil, fmt.Errorf("creating copy stream: %w", err)
	}

	maxBlocks := cfg.MaxBlocks
	if maxBlocks <= 0 {
		maxBlocks = grid.DefaultMaxBlocks
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = DefaultSeed
	}

	return &Context{
		drv:     drv,
		compute: compute,
		copy:    copyStream,
		props:   Properties{WarpSize: grid.WarpSize, MaxBlocks: maxBlocks},
		planner: grid.Planner{MaxBlocks: maxBlocks},
		seed:    seed,
	}, nil
}

// Driver returns the opened native driver.
func (c *Context) Driver() native.Driver { return c.drv }

// Compute returns the primary stream kernels are issued on.
func (c *Context) Compute() native.Stream { return c.compute }

// Copy returns the secondary stream facet transfers are issued on.
func (c *Context) Copy() native.Stream { return c.copy }

// Props returns the opened device's launch limits.
func (c *Context) Props() Properties { return c.props }

// Planner returns a launch planner bound to the device's block cap.
func (c *Context) Planner() grid.Planner { return c.planner }

// Seed returns the configured default random seed.
func (c *Context) Seed() int64 { return c.seed }

// Close destroys both streams. The driver itself holds no further state to
// release.
func (c *Context) Close() error {
	var err error
	if e := c.drv.DestroyStream(c.copy); e != nil {
		err = e
	}
	if e := c.drv.DestroyStream(c.compute); e != nil && err == nil {
		err = e
	}
	return err
}
