package mqttpub

import "time"

// cadenceDuration turns a server_config.json {interval, interval_unit}
// pair into a time.Duration (spec.md §4.6/§6, unit ∈ {ms, s, m}).
func cadenceDuration(interval int, unit string) time.Duration {
	if interval <= 0 {
		interval = 1
	}
	switch unit {
	case "ms":
		return time.Duration(interval) * time.Millisecond
	case "m":
		return time.Duration(interval) * time.Minute
	default:
		return time.Duration(interval) * time.Second
	}
}
