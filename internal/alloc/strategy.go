// Package alloc abstracts the two-pool memory model of spec.md §5/§9: a
// scarce "small" pool and an abundant "large" pool. On this platform both
// pools are backed by Go's garbage-collected heap, so a Strategy only
// reports estimated free bytes per pool; allocations themselves are not
// routed through this package. The Memory Guard is its only consumer.
package alloc

// Pool names the two allocation strategies of spec.md §5.
type Pool string

const (
	PoolSmall Pool = "small"
	PoolLarge Pool = "large"
)

// Strategy reports estimated free bytes per pool for the Memory Guard
// (spec.md §4.10).
type Strategy interface {
	// FreeBytes returns an estimate of free bytes in the given pool.
	FreeBytes(p Pool) uint64
}

// RuntimeStrategy is the default Strategy: both pools map onto
// runtime.MemStats. PoolLarge reports heap headroom (HeapSys minus
// HeapInuse); PoolSmall reports a fixed budget minus the runtime's stack,
// span and mcache memory in use, to emulate the scarcer internal pool the
// spec describes.
type RuntimeStrategy struct {
	// SmallPoolBudget is the nominal ceiling (bytes) assumed for the small
	// pool; FreeBytes(PoolSmall) reports budget-minus-in-use.
	SmallPoolBudget uint64
}

// NewRuntimeStrategy returns a RuntimeStrategy with the spec's ~300KB
// nominal small-pool budget (spec.md §5).
func NewRuntimeStrategy() *RuntimeStrategy {
	return &RuntimeStrategy{SmallPoolBudget: 300 * 1024}
}
