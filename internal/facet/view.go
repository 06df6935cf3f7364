package facet

// State describes whether a facet's contents can be inspected right now.
type State int

const (
	// Idle means no asynchronous write targets the facet.
	Idle State = iota
	// PendingAsyncWrite means a copy into the facet has been issued but
	// not yet fenced. The facet is not verifiable until the writer is
	// removed.
	PendingAsyncWrite
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingAsyncWrite:
		return "pending-async-write"
	default:
		return "unknown"
	}
}

// View tracks the synchronization metadata of one facet. Views are mutated
// only by the matrix that owns them and by the synchronization engine
// during an episode; callers must not touch a matrix between the start and
// finish of an episode that lists it, so the fields need no locking.
type View struct {
	current  bool
	state    State
	watchers int
	dir      Direction
}

// UpToDate reports whether the facet holds current data that is safe to
// read. A facet with a pending async write is never up to date, even if
// the in-flight copy will make it so.
func (v *View) UpToDate() bool {
	return v.current && v.state == Idle
}

// MarkCurrent records that the facet's contents match the canonical data.
// The claim is stream-ordered: when a copy is still in flight the pending
// state keeps the facet unverifiable until the watcher is removed.
func (v *View) MarkCurrent() { v.current = true }

// MarkStale records that the facet's contents can no longer be trusted.
func (v *View) MarkStale() { v.current = false }

// State returns the facet's write state.
func (v *View) State() State { return v.state }

// Watchers returns the number of installed in-flight writers.
func (v *View) Watchers() int { return v.watchers }

// Direction returns the direction of the pending write, or None.
func (v *View) Direction() Direction { return v.dir }

// Settled reports whether the facet is quiescent: no pending async write
// and no watchers.
func (v *View) Settled() bool {
	return v.state == Idle && v.watchers == 0
}

// AddWatcher installs one synthetic in-flight writer moving data in dir.
// While any watcher is installed the facet stays in PendingAsyncWrite and
// cannot be treated as settled.
func (v *View) AddWatcher(dir Direction) {
	v.watchers++
	v.dir = dir
	v.state = PendingAsyncWrite
}

// RemoveWatcher removes one installed writer. When the last watcher leaves
// the facet returns to Idle and its direction clears. Removing from a view
// with no watchers panics.
func (v *View) RemoveWatcher() {
	if v.watchers == 0 {
		panic("facet: watcher underflow")
	}
	v.watchers--
	if v.watchers == 0 {
		v.state = Idle
		v.dir = None
	}
}
