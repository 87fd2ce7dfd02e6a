// Package sysinfo reads host-level diagnostics (uptime, load average, CPU
// temperature, OS memory, disk headroom) for the admin surface's
// /debug/sysinfo endpoint, grounded on the teacher's
// internal/resources/sysinfo_linux.go and sysinfo_other.go, trimmed to the
// fields an operator actually needs to diagnose a deployed gateway and
// dropped the per-module enable/disable bookkeeping those files carried
// for the flow engine (out of scope here).
package sysinfo

// Snapshot is one point-in-time read of host diagnostics.
type Snapshot struct {
	Hostname        string  `json:"hostname"`
	OS              string  `json:"os"`
	Arch            string  `json:"arch"`
	BoardModel      string  `json:"board_model"`
	UptimeSeconds   uint64  `json:"uptime_seconds"`
	TemperatureC    float64 `json:"temperature_celsius"`
	LoadAvg1        float64 `json:"load_avg_1"`
	LoadAvg5        float64 `json:"load_avg_5"`
	LoadAvg15       float64 `json:"load_avg_15"`
	CPUUsagePercent float64 `json:"cpu_usage_percent"`

	MemTotalBytes     uint64  `json:"mem_total_bytes"`
	MemAvailableBytes uint64  `json:"mem_available_bytes"`
	MemPercentUsed    float64 `json:"mem_percent_used"`

	DiskTotalBytes     uint64  `json:"disk_total_bytes"`
	DiskAvailableBytes uint64  `json:"disk_available_bytes"`
	DiskPercentUsed    float64 `json:"disk_percent_used"`
}

// DiskPath is where Get reports free-space headroom for; gatewaycore only
// ever writes under its own data/log directories, so the root filesystem
// is the right proxy for "is this board running out of disk".
const DiskPath = "/"
