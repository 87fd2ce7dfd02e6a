package netsuper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRSSI(t *testing.T) {
	th := defaultThresholds()
	assert.Equal(t, QualityPoor, classifyRSSI(-90, th))
	assert.Equal(t, QualityFair, classifyRSSI(-75, th))
	assert.Equal(t, QualityGood, classifyRSSI(-60, th))
	assert.Equal(t, QualityExcellent, classifyRSSI(-40, th))
}

// flagProbe lets a test flip an interface's health/RSSI mid-run.
type flagProbe struct {
	mu      sync.Mutex
	healthy bool
	rssi    int
	ip      string
}

func (p *flagProbe) probe(ctx context.Context) (bool, int, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy, p.rssi, p.ip, nil
}

func (p *flagProbe) set(healthy bool, rssi int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy, p.rssi = healthy, rssi
}

func TestFailoverToSecondaryOnPrimaryDown(t *testing.T) {
	eth := &flagProbe{healthy: true, ip: "10.0.0.5"}
	wifi := &flagProbe{healthy: true, rssi: -55, ip: "192.168.1.5"}

	s := New(Config{
		Primary:           ModeETH,
		CheckInterval:     10 * time.Millisecond,
		HysteresisWindow:  30 * time.Millisecond,
		MinConnectionTime: 0,
	}, map[Mode]HealthProbe{
		ModeETH:  eth.probe,
		ModeWIFI: wifi.probe,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ModeETH, s.ActiveMode())

	eth.set(false, 0)
	require.Eventually(t, func() bool {
		return s.ActiveMode() == ModeWIFI
	}, 500*time.Millisecond, 10*time.Millisecond)
}

func TestHysteresisBlocksRapidSwitchBack(t *testing.T) {
	eth := &flagProbe{healthy: false, ip: "10.0.0.5"}
	wifi := &flagProbe{healthy: true, rssi: -55, ip: "192.168.1.5"}

	s := New(Config{
		Primary:           ModeETH,
		CheckInterval:     5 * time.Millisecond,
		HysteresisWindow:  200 * time.Millisecond,
		MinConnectionTime: 0,
	}, map[Mode]HealthProbe{
		ModeETH:  eth.probe,
		ModeWIFI: wifi.probe,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool { return s.ActiveMode() == ModeWIFI }, 500*time.Millisecond, 5*time.Millisecond)

	// Primary recovers immediately, but the hysteresis window just opened
	// on the switch to WIFI, so ETH must not be re-selected right away.
	eth.set(true, 0)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, ModeWIFI, s.ActiveMode())
}

func TestIsAvailableReflectsActiveHealth(t *testing.T) {
	eth := &flagProbe{healthy: true, ip: "10.0.0.5"}
	s := New(Config{Primary: ModeETH, CheckInterval: time.Hour}, map[Mode]HealthProbe{ModeETH: eth.probe})
	s.states[ModeETH].Healthy = true
	assert.True(t, s.IsAvailable())
}
