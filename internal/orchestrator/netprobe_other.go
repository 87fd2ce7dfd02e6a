//go:build !linux

package orchestrator

// rssiForInterface has no portable signal-quality source off Linux; N/A.
func rssiForInterface(name string) int {
	return -1
}
