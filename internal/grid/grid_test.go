package grid

import "testing"

func TestChoose1DConcrete(t *testing.T) {
	t.Parallel()
	block, g := Choose1D(1000, 4)
	if block != (Dim3{X: 128, Y: 1, Z: 1}) {
		t.Fatalf("block = %+v, want (128,1,1)", block)
	}
	if g != (Dim3{X: 8, Y: 1, Z: 1}) {
		t.Fatalf("grid = %+v, want (8,1,1)", g)
	}
}

func TestChoose2DConcrete(t *testing.T) {
	t.Parallel()
	block, g := Choose2D(10, 50, 4)
	if block != (Dim3{X: 32, Y: 4, Z: 1}) {
		t.Fatalf("block = %+v, want (32,4,1)", block)
	}
	if g != (Dim3{X: 1, Y: 5, Z: 1}) {
		t.Fatalf("grid = %+v, want (1,5,1)", g)
	}
}

func TestChoose3DConcrete(t *testing.T) {
	t.Parallel()
	// 3*10*roundUp(50,32)/32 = 60 warps, 4 per block, 15 blocks.
	block, g := Choose3D(3, 10, 50, 4)
	if block != (Dim3{X: 32, Y: 4, Z: 1}) {
		t.Fatalf("block = %+v, want (32,4,1)", block)
	}
	if g != (Dim3{X: 1, Y: 15, Z: 1}) {
		t.Fatalf("grid = %+v, want (1,15,1)", g)
	}
}

func TestChoose1DDegenerate(t *testing.T) {
	t.Parallel()
	block, g := Choose1D(0, 8)
	if block != (Dim3{X: 32, Y: 1, Z: 1}) || g != (Dim3{X: 1, Y: 1, Z: 1}) {
		t.Fatalf("n=0: block=%+v grid=%+v, want single warp, single block", block, g)
	}

	// A zero or negative warp cap is clamped to one warp.
	block, g = Choose1D(100, 0)
	if block.X != WarpSize || g.X < 1 {
		t.Fatalf("maxWarps=0: block=%+v grid=%+v", block, g)
	}
}

func TestChoose1DRespectsBlockCap(t *testing.T) {
	t.Parallel()
	p := Planner{MaxBlocks: 2}
	_, g := p.Choose1D(1 << 20, 1)
	if g.X != 2 {
		t.Fatalf("grid.X = %d, want clamp to 2", g.X)
	}
}

func TestChoose1DProperties(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 31, 32, 33, 1000, 4096, 100_000} {
		for _, maxWarps := range []int{1, 2, 4, 32} {
			block, g := Choose1D(n, maxWarps)
			if block.X <= 0 || block.X%WarpSize != 0 {
				t.Fatalf("n=%d maxWarps=%d: block.X=%d not a positive warp multiple", n, maxWarps, block.X)
			}
			if block.X > WarpSize*maxWarps {
				t.Fatalf("n=%d maxWarps=%d: block.X=%d exceeds the warp cap", n, maxWarps, block.X)
			}
			if g.X < 1 || g.X > DefaultMaxBlocks {
				t.Fatalf("n=%d maxWarps=%d: grid.X=%d out of range", n, maxWarps, g.X)
			}
			if block.Y != 1 || block.Z != 1 || g.Y != 1 || g.Z != 1 {
				t.Fatalf("n=%d: 1D shapes must only use x: block=%+v grid=%+v", n, block, g)
			}
		}
	}
}

func TestStride1DCoversEachIndexOnce(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 100, 1000, 5000} {
		block, g := Choose1D(n, 4)
		seen := make([]int, n)
		Stride1D(block, g, n, func(i int) {
			seen[i]++
		})
		for i, c := range seen {
			if c != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, i, c)
			}
		}
	}
}

func TestClipAndRoundUp(t *testing.T) {
	t.Parallel()
	if got := Clip(5, 1, 10); got != 5 {
		t.Fatalf("Clip(5,1,10) = %d", got)
	}
	if got := Clip(-3, 1, 10); got != 1 {
		t.Fatalf("Clip(-3,1,10) = %d", got)
	}
	if got := Clip(42, 1, 10); got != 10 {
		t.Fatalf("Clip(42,1,10) = %d", got)
	}
	if got := RoundUp(50, 32); got != 64 {
		t.Fatalf("RoundUp(50,32) = %d", got)
	}
	if got := RoundUp(64, 32); got != 64 {
		t.Fatalf("RoundUp(64,32) = %d", got)
	}
	if got := RoundUp(0, 32); got != 0 {
		t.Fatalf("RoundUp(0,32) = %d", got)
	}
}

func BenchmarkChoose1D(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Choose1D(1<<20, 4)
	}
}
