// Package memguard implements the Memory Guard of spec.md §4.10: a
// periodic free-memory check against internal/alloc.Strategy with a
// tiered action ladder (flush queue entries, clear expired MQTT fallback
// entries, force GC, emergency restart), grounded on internal/health's
// ticker-driven check loop shape.
package memguard

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GifariKemal/iiot-gateway-core/internal/alloc"
	"github.com/GifariKemal/iiot-gateway-core/internal/model"
	"github.com/GifariKemal/iiot-gateway-core/internal/queue"
	"github.com/GifariKemal/iiot-gateway-core/internal/store"
)

// Level is one of the memory-pressure bands of spec.md §4.10.
type Level string

const (
	LevelHealthy   Level = "HEALTHY"
	LevelWarning   Level = "WARNING"
	LevelCritical  Level = "CRITICAL"
	LevelEmergency Level = "EMERGENCY"
)

const (
	checkInterval    = 5 * time.Second
	flushBatchSize   = 20
	fallbackMaxAge   = 1 * time.Hour
	defaultRestartN  = 3
)

// Thresholds are the free-byte cutoffs in the small pool (spec.md §4.10
// defaults: HEALTHY 80KB, WARNING 40KB, CRITICAL 20KB, EMERGENCY 10KB).
type Thresholds struct {
	HealthyBytes   uint64
	WarningBytes   uint64
	CriticalBytes  uint64
	EmergencyBytes uint64
	// RestartAfterN is how many consecutive EMERGENCY checks trigger a
	// restart. A value <= 0 uses defaultRestartN.
	RestartAfterN int
}

func defaultThresholds() Thresholds {
	return Thresholds{
		HealthyBytes:   80 * 1024,
		WarningBytes:   40 * 1024,
		CriticalBytes:  20 * 1024,
		EmergencyBytes: 10 * 1024,
		RestartAfterN:  defaultRestartN,
	}
}

func classify(freeBytes uint64, th Thresholds) Level {
	switch {
	case freeBytes <= th.EmergencyBytes:
		return LevelEmergency
	case freeBytes <= th.CriticalBytes:
		return LevelCritical
	case freeBytes <= th.WarningBytes:
		return LevelWarning
	default:
		return LevelHealthy
	}
}

// RestartFunc performs the emergency restart; it is never called directly
// by Guard's own goroutine loop logic other than via Run's ticker.
type RestartFunc func()

// Guard runs the periodic check and tiered ladder.
type Guard struct {
	strategy  alloc.Strategy
	th        Thresholds
	dataQueue *queue.Queue[model.MeasurementPoint]
	fallback  *store.FallbackQueue
	restart   RestartFunc
	log       *zap.Logger

	mu                sync.Mutex
	consecutiveEmerg  int
	lastLevel         Level

	stop chan struct{}
	done chan struct{}
}

// New builds a Guard. fallback and restart may both be nil, in which case
// those ladder rungs are skipped (e.g. no Redis-backed fallback queue
// configured, or no restart hook wired yet).
func New(strategy alloc.Strategy, dataQueue *queue.Queue[model.MeasurementPoint], fallback *store.FallbackQueue, restart RestartFunc) *Guard {
	return &Guard{
		strategy:  strategy,
		th:        defaultThresholds(),
		dataQueue: dataQueue,
		fallback:  fallback,
		restart:   restart,
		log:       zap.NewNop(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// WithThresholds overrides the default thresholds.
func (g *Guard) WithThresholds(th Thresholds) *Guard {
	if th.RestartAfterN <= 0 {
		th.RestartAfterN = defaultRestartN
	}
	g.th = th
	return g
}

// WithLogger attaches a structured logger.
func (g *Guard) WithLogger(log *zap.Logger) *Guard {
	g.log = log
	return g
}

// Run ticks every 5s and applies the ladder until Stop is called.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			close(g.done)
			return
		case <-ctx.Done():
			close(g.done)
			return
		case <-ticker.C:
			g.checkOnce(ctx)
		}
	}
}

// Stop signals Run to exit and waits for it.
func (g *Guard) Stop() {
	close(g.stop)
	<-g.done
}

// checkOnce runs a single check-and-react cycle; exported indirectly via
// Run, called directly by tests so the ladder logic doesn't need a live
// ticker to exercise.
func (g *Guard) checkOnce(ctx context.Context) Level {
	free := g.strategy.FreeBytes(alloc.PoolSmall)
	level := classify(free, g.th)

	switch level {
	case LevelWarning:
		g.flushOldest()
	case LevelCritical:
		g.flushOldest()
		g.clearExpiredFallback(ctx)
	case LevelEmergency:
		g.flushOldest()
		g.clearExpiredFallback(ctx)
		g.forceGC()
		g.noteEmergency()
	}
	if level != LevelEmergency {
		g.resetEmergencyStreak()
	}

	g.mu.Lock()
	g.lastLevel = level
	g.mu.Unlock()

	g.log.Info("memguard: check", zap.String("level", string(level)), zap.Uint64("free_bytes", free))
	return level
}

// CurrentLevel returns the level observed at the most recent check, or
// LevelHealthy if no check has run yet (diagnostics/admin surface use).
func (g *Guard) CurrentLevel() Level {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastLevel == "" {
		return LevelHealthy
	}
	return g.lastLevel
}

func (g *Guard) flushOldest() {
	if g.dataQueue == nil {
		return
	}
	flushed := g.dataQueue.DrainN(flushBatchSize)
	if len(flushed) > 0 {
		g.log.Warn("memguard: flushed oldest queue entries", zap.Int("count", len(flushed)))
	}
}

func (g *Guard) clearExpiredFallback(ctx context.Context) {
	if g.fallback == nil {
		return
	}
	dropped, err := g.fallback.ClearExpired(ctx, fallbackMaxAge)
	if err != nil {
		g.log.Error("memguard: clear expired fallback entries failed", zap.Error(err))
		return
	}
	if dropped > 0 {
		g.log.Warn("memguard: cleared expired fallback entries", zap.Int("dropped", dropped))
	}
}

func (g *Guard) forceGC() {
	runtime.GC()
	debug.FreeOSMemory()
	g.log.Warn("memguard: forced GC")
}

// noteEmergency tracks consecutive EMERGENCY checks and fires the restart
// hook once the threshold is reached, per spec.md §4.10 "emergency restart
// (only after sustained EMERGENCY for N consecutive checks)".
func (g *Guard) noteEmergency() {
	g.mu.Lock()
	g.consecutiveEmerg++
	n := g.consecutiveEmerg
	g.mu.Unlock()

	if n >= g.th.RestartAfterN && g.restart != nil {
		g.log.Error("memguard: sustained EMERGENCY, triggering restart", zap.Int("consecutive_checks", n))
		g.restart()
	}
}

func (g *Guard) resetEmergencyStreak() {
	g.mu.Lock()
	g.consecutiveEmerg = 0
	g.mu.Unlock()
}
