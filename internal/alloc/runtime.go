package alloc

import "runtime"

// FreeBytes estimates free bytes for the requested pool from runtime
// memory statistics.
func (s *RuntimeStrategy) FreeBytes(p Pool) uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	switch p {
	case PoolSmall:
		inUse := ms.StackInuse + ms.MSpanInuse + ms.MCacheInuse
		if inUse >= s.SmallPoolBudget {
			return 0
		}
		return s.SmallPoolBudget - inUse
	default: // PoolLarge
		if ms.HeapSys <= ms.HeapInuse {
			return 0
		}
		return ms.HeapSys - ms.HeapInuse
	}
}
