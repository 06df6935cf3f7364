package mempool

import (
	"runtime"
	"runtime/debug"
	"time"
)

// DefaultReclaimSleep is the pause before the ladder's final retry, giving
// finalizers on other goroutines a chance to queue their releases.
const DefaultReclaimSleep = 100 * time.Millisecond

// A reclaimTier is one rung of the out-of-memory recovery ladder. Tiers
// run strictly in order; after each one the pool drains its pending lists
// and retries the allocation, so a reclaim that succeeds early
// short-circuits the rest of the ladder.
type reclaimTier struct {
	name string
	run  func()
}

func defaultLadder(sleep time.Duration) []reclaimTier {
	if sleep <= 0 {
		sleep = DefaultReclaimSleep
	}
	return []reclaimTier{
		{name: "finalizers", run: runFinalizers},
		{name: "full-gc", run: fullCollect},
		{name: "sleep", run: func() { time.Sleep(sleep) }},
	}
}

// runFinalizers triggers a collection and yields so the runtime's
// finalizer goroutine can queue releases for unreachable allocations.
// Device memory held only by values pending collection cannot be reclaimed
// any other way.
func runFinalizers() {
	runtime.GC()
	runtime.Gosched()
}

// fullCollect forces a full pass and returns freed pages to the OS.
func fullCollect() {
	debug.FreeOSMemory()
}
