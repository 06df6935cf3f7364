package api

// DeviceInfo describes the opened device context.
type DeviceInfo struct {
	Backend    string `json:"backend"`
	Devices    int    `json:"devices"`
	WarpSize   int    `json:"warp_size"`
	MaxBlocks  int    `json:"max_blocks"`
	FreeBytes  int64  `json:"free_bytes"`
	TotalBytes int64  `json:"total_bytes"`
}

// PoolInfo is a snapshot of the active memory pool. Active is false when
// no pool scope is open, in which case the counters are zero.
type PoolInfo struct {
	Active         bool   `json:"active"`
	Allocs         uint64 `json:"allocs"`
	Frees          uint64 `json:"frees"`
	DeferredFrees  uint64 `json:"deferred_frees"`
	HostPins       uint64 `json:"host_pins"`
	HostUnpins     uint64 `json:"host_unpins"`
	DeferredUnpins uint64 `json:"deferred_unpins"`
	InUseBytes     int64  `json:"in_use_bytes"`
	PeakBytes      int64  `json:"peak_bytes"`
	PinnedBytes    int64  `json:"pinned_bytes"`
	Reclaims       uint64 `json:"reclaims"`
	OOMRecoveries  uint64 `json:"oom_recoveries"`
	OOMFailures    uint64 `json:"oom_failures"`
}

// GeometryResponse is a computed launch geometry.
type GeometryResponse struct {
	Warps int    `json:"warps_per_block"`
	Block [3]int `json:"block"`
	Grid  [3]int `json:"grid"`
}

// ErrorBody is the envelope every error response carries.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
