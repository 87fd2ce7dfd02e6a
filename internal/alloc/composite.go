package alloc

// MinStrategy reports the minimum FreeBytes across all of its members, so
// the Memory Guard reacts to whichever resource is scarcer: this process's
// own Go heap headroom or the board's overall OS memory. A gateway can be
// starved by another process on the same board well before its own heap
// feels any pressure.
type MinStrategy struct {
	strategies []Strategy
}

// NewMinStrategy combines one or more Strategy implementations.
func NewMinStrategy(strategies ...Strategy) *MinStrategy {
	return &MinStrategy{strategies: strategies}
}

func (m *MinStrategy) FreeBytes(p Pool) uint64 {
	var min uint64
	for i, s := range m.strategies {
		free := s.FreeBytes(p)
		if i == 0 || free < min {
			min = free
		}
	}
	return min
}
