//go:build !linux

package sysinfo

import (
	"os"
	"runtime"
)

// Get falls back to Go runtime memory stats off Linux; uptime, load
// average, CPU temperature and disk usage have no portable equivalent and
// are left at zero.
func Get() Snapshot {
	hostname, _ := os.Hostname()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var percent float64
	if ms.Sys > 0 {
		percent = float64(ms.Alloc) / float64(ms.Sys) * 100
	}

	return Snapshot{
		Hostname:          hostname,
		OS:                runtime.GOOS,
		Arch:              runtime.GOARCH,
		BoardModel:        runtime.GOOS + "/" + runtime.GOARCH,
		MemTotalBytes:     ms.Sys,
		MemAvailableBytes: ms.Sys - ms.Alloc,
		MemPercentUsed:    percent,
	}
}
