// Package netsuper implements the Network Supervisor of spec.md §4.8: an
// Ethernet-primary / wireless-secondary failover controller with
// hysteresis, signal-quality bands and a stabilization delay, grounded on
// internal/health's ticker-driven periodic-check shape (RegisterCheck /
// StartPeriodicChecks) generalized from independent named checks into one
// two-interface state machine.
package netsuper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GifariKemal/iiot-gateway-core/internal/errs"
)

// Mode names an interface the way server_config.json's
// communication.primary_network_mode does (spec.md §6).
type Mode string

const (
	ModeETH  Mode = "ETH"
	ModeWIFI Mode = "WIFI"
)

// Quality is a wireless signal-quality band (spec.md §4.8).
type Quality string

const (
	QualityPoor      Quality = "POOR"
	QualityFair      Quality = "FAIR"
	QualityGood      Quality = "GOOD"
	QualityExcellent Quality = "EXCELLENT"
	QualityNA        Quality = "N/A" // wired interfaces carry no RSSI
)

const (
	defaultCheckInterval   = 5 * time.Second
	defaultHysteresisMS    = 10_000
	defaultMinConnMS       = 3_000
	activeModeMutexTimeout = 100 * time.Millisecond
)

// Thresholds holds the configurable RSSI band edges of spec.md §4.8,
// in dBm (all negative; less negative is stronger signal).
type Thresholds struct {
	PoorBelow  int // < PoorBelow -> POOR
	FairBelow  int // [PoorBelow, FairBelow) -> FAIR
	GoodBelow  int // [FairBelow, GoodBelow) -> GOOD
	// >= GoodBelow -> EXCELLENT
}

func defaultThresholds() Thresholds {
	return Thresholds{PoorBelow: -80, FairBelow: -70, GoodBelow: -50}
}

func classifyRSSI(rssi int, th Thresholds) Quality {
	switch {
	case rssi < th.PoorBelow:
		return QualityPoor
	case rssi < th.FairBelow:
		return QualityFair
	case rssi < th.GoodBelow:
		return QualityGood
	default:
		return QualityExcellent
	}
}

// InterfaceState is the per-interface tracked state of spec.md §4.8.
type InterfaceState struct {
	Mode                    Mode
	IsActive                bool
	Healthy                 bool
	RSSI                    int
	Quality                 Quality
	ConsecutiveFailureCount int
	StateChangeTime         time.Time
	LocalIP                 string
}

// HealthProbe reports whether an interface is currently usable, and (for
// wireless) its RSSI in dBm. Implementations own the OS-level polling;
// the Supervisor only interprets the result.
type HealthProbe func(ctx context.Context) (healthy bool, rssiDBm int, localIP string, err error)

// Config configures a Supervisor.
type Config struct {
	Primary            Mode
	CheckInterval      time.Duration
	HysteresisWindow   time.Duration
	MinConnectionTime  time.Duration
	Thresholds         Thresholds
}

func (c Config) withDefaults() Config {
	if c.Primary == "" {
		c.Primary = ModeETH
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaultCheckInterval
	}
	if c.HysteresisWindow <= 0 {
		c.HysteresisWindow = defaultHysteresisMS * time.Millisecond
	}
	if c.MinConnectionTime <= 0 {
		c.MinConnectionTime = defaultMinConnMS * time.Millisecond
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = defaultThresholds()
	}
	return c
}

// Supervisor owns the active-mode mutex and the two interfaces' state,
// per spec.md §4.10's "all of get_local_ip, is_available,
// get_active_client, and switch_mode take it with a 100 ms timeout."
type Supervisor struct {
	cfg Config
	log *zap.Logger

	probes map[Mode]HealthProbe

	mu             sync.Mutex
	states         map[Mode]*InterfaceState
	active         Mode
	lastSwitchTime time.Time

	stop chan struct{}
	done chan struct{}
}

// New builds a Supervisor. probes must contain an entry for cfg.Primary and
// exactly one other Mode (the secondary).
func New(cfg Config, probes map[Mode]HealthProbe) *Supervisor {
	cfg = cfg.withDefaults()
	states := make(map[Mode]*InterfaceState, len(probes))
	now := time.Now()
	for m := range probes {
		states[m] = &InterfaceState{Mode: m, StateChangeTime: now}
	}
	s := &Supervisor{
		cfg:    cfg,
		log:    zap.NewNop(),
		probes: probes,
		states: states,
		active: cfg.Primary,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if st, ok := s.states[cfg.Primary]; ok {
		st.IsActive = true
	}
	return s
}

// WithLogger attaches a structured logger.
func (s *Supervisor) WithLogger(log *zap.Logger) *Supervisor {
	s.log = log
	return s
}

func (s *Supervisor) secondary() Mode {
	for m := range s.states {
		if m != s.cfg.Primary {
			return m
		}
	}
	return ""
}

// Run polls every interface at cfg.CheckInterval and applies the
// switch/hysteresis rule of spec.md §4.8 until Stop is called.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			close(s.done)
			return
		case <-ctx.Done():
			close(s.done)
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

// Stop signals Run to exit and waits for it.
func (s *Supervisor) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Supervisor) evaluate(ctx context.Context) {
	for mode, probe := range s.probes {
		healthy, rssi, ip, err := probe(ctx)
		if !s.lock() {
			continue
		}
		st := s.states[mode]
		if err != nil {
			st.ConsecutiveFailureCount++
			healthy = false
		} else {
			st.ConsecutiveFailureCount = 0
		}
		st.Healthy = healthy
		st.RSSI = rssi
		st.LocalIP = ip
		if mode != ModeETH {
			st.Quality = classifyRSSI(rssi, s.cfg.Thresholds)
		} else {
			st.Quality = QualityNA
		}
		s.mu.Unlock()
	}

	if !s.lock() {
		return
	}
	defer s.mu.Unlock()

	secondary := s.secondary()
	primaryState := s.states[s.cfg.Primary]
	secondaryState := s.states[secondary]
	currentState := s.states[s.active]

	hysteresisElapsed := time.Since(s.lastSwitchTime) >= s.cfg.HysteresisWindow
	timeOnCurrent := time.Since(currentState.StateChangeTime)

	switch {
	case s.active != s.cfg.Primary && primaryState != nil && primaryState.Healthy &&
		hysteresisElapsed && timeOnCurrent >= s.cfg.MinConnectionTime:
		s.switchTo(s.cfg.Primary)
	case !currentState.Healthy && secondaryState != nil && secondaryState.Healthy && hysteresisElapsed:
		s.switchTo(secondary)
	}
}

// switchTo must be called with mu held.
func (s *Supervisor) switchTo(mode Mode) {
	now := time.Now()
	if cur, ok := s.states[s.active]; ok {
		cur.IsActive = false
	}
	s.active = mode
	s.lastSwitchTime = now
	if st, ok := s.states[mode]; ok {
		st.IsActive = true
		st.StateChangeTime = now
	}
	s.log.Info("netsuper: switched active interface", zap.String("mode", string(mode)))
}

// IsAvailable reports whether the currently active interface is healthy.
func (s *Supervisor) IsAvailable() bool {
	if !s.lock() {
		return false
	}
	defer s.mu.Unlock()
	st := s.states[s.active]
	return st != nil && st.Healthy
}

// LocalIP returns the active interface's local IP address.
func (s *Supervisor) LocalIP() (string, error) {
	if !s.lock() {
		return "", errs.New(errs.KindNetUnavailable, "active-mode lock timed out", nil)
	}
	defer s.mu.Unlock()
	st := s.states[s.active]
	if st == nil || st.LocalIP == "" {
		return "", errs.New(errs.KindNetUnavailable, "no local IP for active interface", nil)
	}
	return st.LocalIP, nil
}

// ActiveMode returns the currently active interface.
func (s *Supervisor) ActiveMode() Mode {
	if !s.lock() {
		return ""
	}
	defer s.mu.Unlock()
	return s.active
}

// GetActiveClient returns an *http.Client whose outbound connections are
// bound to the active interface's local IP, suitable for the HTTP and
// MQTT publishers (spec.md §4.8 "a transport handle suitable for HTTP/MQTT
// TCP sockets").
func (s *Supervisor) GetActiveClient() (*http.Client, error) {
	ip, err := s.LocalIP()
	if err != nil {
		return nil, err
	}
	localAddr, err := net.ResolveTCPAddr("tcp", ip+":0")
	if err != nil {
		return nil, fmt.Errorf("netsuper: resolve local addr: %w", err)
	}
	dialer := &net.Dialer{LocalAddr: localAddr, Timeout: 10 * time.Second}
	return &http.Client{
		Transport: &http.Transport{DialContext: dialer.DialContext},
	}, nil
}

// lock acquires mu within activeModeMutexTimeout, per spec.md §4.10. Uses
// TryLock in a short poll loop rather than spawning a goroutine to block on
// Lock(), which would leak and eventually deadlock the Supervisor if the
// timeout fired before the goroutine's Lock() call returned.
func (s *Supervisor) lock() bool {
	deadline := time.Now().Add(activeModeMutexTimeout)
	for {
		if s.mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
