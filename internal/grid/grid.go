// Package grid computes launch geometry for elementwise device kernels: how
// many threads per block and how many blocks to run for a given problem
// shape. The grid it returns may be smaller than the problem, so every
// kernel launched with it must walk its indices with a grid-stride loop to
// cover the whole problem.
package grid

// WarpSize is the number of threads that execute in lockstep. Block sizing
// is always a multiple of it.
const WarpSize = 32

// DefaultMaxBlocks caps the number of blocks in one launch when the planner
// is not configured from device properties.
const DefaultMaxBlocks = 4096

// Dim3 is a block or grid shape.
type Dim3 struct {
	X, Y, Z int
}

// Count returns the total number of threads (for a block shape) or blocks
// (for a grid shape) the dimensions describe.
func (d Dim3) Count() int { return d.X * d.Y * d.Z }

// Planner chooses block and grid shapes under a device's launch limits.
// The zero value uses DefaultMaxBlocks.
type Planner struct {
	// MaxBlocks is the device-wide cap on blocks per launch.
	MaxBlocks int
}

func (p Planner) maxBlocks() int {
	if p.MaxBlocks > 0 {
		return p.MaxBlocks
	}
	return DefaultMaxBlocks
}

// Choose1D plans the launch of an n-element elementwise kernel. The block is
// warp-granular and the grid is clamped to the planner's block cap, so the
// kernel must iterate with a grid-stride loop of stride block.X*grid.X.
// Degenerate inputs are clamped, never rejected: n = 0 still yields one
// single-warp block.
func (p Planner) Choose1D(n, maxWarpsPerBlock int) (block, grid Dim3) {
	warps := ceilDiv(n, WarpSize)
	wpb := Clip(warps, 1, max(maxWarpsPerBlock, 1))
	nBlocks := Clip(warps/wpb, 1, p.maxBlocks())
	return Dim3{X: WarpSize * wpb, Y: 1, Z: 1}, Dim3{X: nBlocks, Y: 1, Z: 1}
}

// Choose2D plans a height×width elementwise launch. The x dimension is never
// split across blocks: the block is always (WarpSize, warpsPerBlock, 1) and
// the grid (1, nBlocks, 1), with the row extent rounded up to whole warps.
// The kernel contract is a nested grid-stride loop over rows then columns.
func (p Planner) Choose2D(height, width, maxWarpsPerBlock int) (block, grid Dim3) {
	warps := ceilDiv(height*RoundUp(width, WarpSize), WarpSize)
	wpb := Clip(warps, 1, max(maxWarpsPerBlock, 1))
	nBlocks := Clip(warps/wpb, 1, p.maxBlocks())
	return Dim3{X: WarpSize, Y: wpb, Z: 1}, Dim3{X: 1, Y: nBlocks, Z: 1}
}

// Choose3D plans a thickness×height×width elementwise launch with the same
// fixed-x convention as Choose2D. The kernel iterates plane, then row, then
// column, each with a grid-stride loop.
func (p Planner) Choose3D(thickness, height, width, maxWarpsPerBlock int) (block, grid Dim3) {
	warps := ceilDiv(thickness*height*RoundUp(width, WarpSize), WarpSize)
	wpb := Clip(warps, 1, max(maxWarpsPerBlock, 1))
	nBlocks := Clip(warps/wpb, 1, p.maxBlocks())
	return Dim3{X: WarpSize, Y: wpb, Z: 1}, Dim3{X: 1, Y: nBlocks, Z: 1}
}

// Choose1D plans with the default block cap.
func Choose1D(n, maxWarpsPerBlock int) (block, grid Dim3) {
	return Planner{}.Choose1D(n, maxWarpsPerBlock)
}

// Choose2D plans with the default block cap.
func Choose2D(height, width, maxWarpsPerBlock int) (block, grid Dim3) {
	return Planner{}.Choose2D(height, width, maxWarpsPerBlock)
}

// Choose3D plans with the default block cap.
func Choose3D(thickness, height, width, maxWarpsPerBlock int) (block, grid Dim3) {
	return Planner{}.Choose3D(thickness, height, width, maxWarpsPerBlock)
}

// Clip clamps v into [lo, hi].
func Clip(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RoundUp returns the smallest multiple of m that is >= x.
func RoundUp(x, m int) int {
	return ceilDiv(x, m) * m
}

func ceilDiv(x, m int) int {
	return (x + m - 1) / m
}

// Stride1D walks every index in [0, n) the way a kernel launched with the
// given geometry does: each thread starts at its global id and advances by
// the total thread count. Each index is visited exactly once per pass. The
// simulated backend executes elementwise work through it, which keeps the
// planner's coverage contract honest off-device.
func Stride1D(block, grid Dim3, n int, fn func(i int)) {
	total := block.Count() * grid.Count()
	for thread := 0; thread < total; thread++ {
		for i := thread; i < n; i += total {
			fn(i)
		}
	}
}
