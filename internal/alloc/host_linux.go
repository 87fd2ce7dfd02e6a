//go:build linux

package alloc

import (
	"os"
	"strconv"
	"strings"
)

// HostStrategy reports free bytes from the OS's own view of memory
// (/proc/meminfo) rather than this process's Go heap, which matters on a
// memory-constrained embedded gateway where other processes on the same
// board can starve it before its own heap ever feels pressure. Grounded on
// internal/resources/sysinfo_linux.go's getOSMemory parsing, adapted from a
// general system-stats snapshot into a single alloc.Strategy.FreeBytes
// reading. PoolSmall and PoolLarge both read the same MemAvailable value;
// the pool split here is purely about which process/host sees the number,
// not a second budget ceiling the way RuntimeStrategy's small pool is.
type HostStrategy struct{}

// NewHostStrategy returns a Strategy backed by the kernel's memory
// accounting. FreeBytes falls back to 0 if /proc/meminfo can't be read.
func NewHostStrategy() *HostStrategy {
	return &HostStrategy{}
}

func (s *HostStrategy) FreeBytes(p Pool) uint64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	var memFree, memAvailable, buffers, cached uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		val, perr := strconv.ParseUint(fields[1], 10, 64)
		if perr != nil {
			continue
		}
		val *= 1024 // /proc/meminfo is in kB
		switch key {
		case "MemFree":
			memFree = val
		case "MemAvailable":
			memAvailable = val
		case "Buffers":
			buffers = val
		case "Cached":
			cached = val
		}
	}
	if memAvailable > 0 {
		return memAvailable
	}
	return memFree + buffers + cached
}
