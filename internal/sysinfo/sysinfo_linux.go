//go:build linux

package sysinfo

import (
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Get reads the current host snapshot from procfs, the same
// read-whole-file-then-parse idiom the teacher uses throughout its
// sysinfo/hal packages.
func Get() Snapshot {
	var s Snapshot
	s.OS = "linux"
	s.Hostname, _ = os.Hostname()
	s.Arch = getArch()
	s.BoardModel = getBoardModel()
	s.TemperatureC = getCPUTemperature()
	s.UptimeSeconds = getUptime()
	s.LoadAvg1, s.LoadAvg5, s.LoadAvg15 = getLoadAvg()
	s.CPUUsagePercent = getCPUUsage()

	total, available, percent := getOSMemory()
	s.MemTotalBytes = total
	s.MemAvailableBytes = available
	s.MemPercentUsed = percent

	diskTotal, diskAvail, diskPercent := getDiskUsage(DiskPath)
	s.DiskTotalBytes = diskTotal
	s.DiskAvailableBytes = diskAvail
	s.DiskPercentUsed = diskPercent

	return s
}

func readProcFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func getCPUTemperature() float64 {
	content, err := readProcFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0
	}
	milliC, err := strconv.ParseFloat(content, 64)
	if err != nil {
		return 0
	}
	return milliC / 1000.0
}

func getUptime() uint64 {
	content, err := readProcFile("/proc/uptime")
	if err != nil {
		return 0
	}
	parts := strings.Fields(content)
	if len(parts) < 1 {
		return 0
	}
	uptime, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	return uint64(uptime)
}

func getLoadAvg() (float64, float64, float64) {
	content, err := readProcFile("/proc/loadavg")
	if err != nil {
		return 0, 0, 0
	}
	parts := strings.Fields(content)
	if len(parts) < 3 {
		return 0, 0, 0
	}
	l1, _ := strconv.ParseFloat(parts[0], 64)
	l5, _ := strconv.ParseFloat(parts[1], 64)
	l15, _ := strconv.ParseFloat(parts[2], 64)
	return l1, l5, l15
}

func getBoardModel() string {
	content, err := readProcFile("/proc/device-tree/model")
	if err != nil {
		content, err = readProcFile("/sys/firmware/devicetree/base/model")
		if err != nil {
			return "unknown"
		}
	}
	return strings.TrimRight(content, "\x00")
}

func getOSMemory() (total, available uint64, percentUsed float64) {
	content, err := readProcFile("/proc/meminfo")
	if err != nil {
		return 0, 0, 0
	}
	memMap := make(map[string]uint64)
	for _, line := range strings.Split(content, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		key := strings.TrimSuffix(parts[0], ":")
		val, perr := strconv.ParseUint(parts[1], 10, 64)
		if perr != nil {
			continue
		}
		memMap[key] = val * 1024
	}
	total = memMap["MemTotal"]
	available = memMap["MemAvailable"]
	if available == 0 {
		available = memMap["MemFree"] + memMap["Buffers"] + memMap["Cached"]
	}
	if total > 0 {
		percentUsed = float64(total-available) / float64(total) * 100
	}
	return
}

var prevCPUIdle, prevCPUTotal uint64

func getCPUUsage() float64 {
	content, err := readProcFile("/proc/stat")
	if err != nil {
		return 0
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 1 {
		return 0
	}
	fields := strings.Fields(lines[0])
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0
	}
	values := make([]uint64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		v, _ := strconv.ParseUint(f, 10, 64)
		values = append(values, v)
	}
	idle := values[3]
	if len(values) > 4 {
		idle += values[4]
	}
	var total uint64
	for _, v := range values {
		total += v
	}

	if prevCPUTotal == 0 {
		prevCPUIdle, prevCPUTotal = idle, total
		return 0
	}
	diffIdle := idle - prevCPUIdle
	diffTotal := total - prevCPUTotal
	prevCPUIdle, prevCPUTotal = idle, total
	if diffTotal == 0 {
		return 0
	}
	return (1.0 - float64(diffIdle)/float64(diffTotal)) * 100
}

func getDiskUsage(path string) (total, available uint64, percentUsed float64) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, 0
	}
	total = stat.Blocks * uint64(stat.Bsize)
	available = stat.Bavail * uint64(stat.Bsize)
	if total > 0 {
		percentUsed = float64(total-available) / float64(total) * 100
	}
	return
}

func getArch() string {
	content, err := readProcFile("/proc/cpuinfo")
	if err != nil {
		return "unknown"
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "Hardware") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return "arm"
}
