package device

import (
	"strings"
	"testing"

	"github.com/samcharles93/strata/internal/grid"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", Auto},
		{"auto", Auto},
		{"SIM", Sim},
		{" cuda ", CUDA},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := Normalize("opencl"); err == nil {
		t.Fatal("Normalize accepted an unknown backend")
	}
}

func TestAvailableAlwaysListsSim(t *testing.T) {
	t.Parallel()

	if !strings.Contains(Available(), Sim) {
		t.Fatalf("Available() = %q, missing %q", Available(), Sim)
	}
}

func TestOpenSim(t *testing.T) {
	t.Parallel()

	ctx, err := Open(Config{Backend: Sim, SimBytes: 1 << 20})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ctx.Close()

	if !ctx.Compute().Valid() || !ctx.Copy().Valid() {
		t.Fatal("expected both streams to be created")
	}
	if ctx.Compute() == ctx.Copy() {
		t.Fatal("compute and copy must be distinct streams")
	}
	if ctx.Props().WarpSize != grid.WarpSize {
		t.Fatalf("warp size = %d, want %d", ctx.Props().WarpSize, grid.WarpSize)
	}
	if ctx.Props().MaxBlocks != grid.DefaultMaxBlocks {
		t.Fatalf("max blocks = %d, want default %d", ctx.Props().MaxBlocks, grid.DefaultMaxBlocks)
	}
	if ctx.Seed() != DefaultSeed {
		t.Fatalf("seed = %d, want default %d", ctx.Seed(), DefaultSeed)
	}

	free, total, err := ctx.Driver().MemInfo()
	if err != nil {
		t.Fatalf("MemInfo: %v", err)
	}
	if free != 1<<20 || total != 1<<20 {
		t.Fatalf("MemInfo = (%d, %d), want (%d, %d)", free, total, 1<<20, 1<<20)
	}
}

func TestOpenAutoFallsBackToSim(t *testing.T) {
	t.Parallel()

	// In builds without the cuda tag, auto must resolve to the simulator
	// rather than fail.
	ctx, err := Open(Config{Backend: Auto})
	if err != nil {
		t.Fatalf("Open(auto): %v", err)
	}
	defer ctx.Close()

	if ctx.Driver() == nil {
		t.Fatal("Open(auto) returned a nil driver")
	}
}

func TestOpenOverrides(t *testing.T) {
	t.Parallel()

	ctx, err := Open(Config{Backend: Sim, Seed: 7, MaxBlocks: 128})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ctx.Close()

	if ctx.Seed() != 7 {
		t.Fatalf("seed = %d, want 7", ctx.Seed())
	}
	if ctx.Props().MaxBlocks != 128 {
		t.Fatalf("max blocks = %d, want 128", ctx.Props().MaxBlocks)
	}

	_, gridDim := ctx.Planner().Choose1D(1<<24, 4)
	if gridDim.X != 128 {
		t.Fatalf("planner block cap not applied: grid.X = %d, want 128", gridDim.X)
	}
}

func TestOpenRejectsBadBackend(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Backend: "metal"}); err == nil {
		t.Fatal("Open accepted an unknown backend")
	}
}
