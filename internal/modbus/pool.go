package modbus

import (
	"sync"
	"time"
)

const (
	tcpPoolMaxConns  = 10
	tcpPoolIdleAfter = 60 * time.Second
	tcpPoolMaxAge    = 5 * time.Minute
)

// poolEntry tracks one pooled TCP connection's lifecycle, per spec.md
// §4.3's per-entry bookkeeping.
type poolEntry struct {
	client    Client
	createdAt time.Time
	lastUsed  time.Time
	useCount  uint64
	healthy   bool
}

// connPool is the Modbus TCP driver's connection pool, indexed by
// "ip:port", grounded on the reconnect/idle-close shape of the teacher's
// tcp_client.go.
type connPool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry

	// dialFn is overridden in tests to substitute a fake Client instead of
	// opening a real TCP socket.
	dialFn func(ip string, port int, timeout time.Duration) (Client, error)
}

func newConnPool() *connPool {
	return &connPool{entries: make(map[string]*poolEntry), dialFn: dialTCP}
}

// Get returns a live client for key ("ip:port"), dialing a new one if
// absent, unhealthy, or past the pool's capacity eviction policy.
func (p *connPool) Get(key, ip string, port int, timeout time.Duration, now time.Time) (Client, error) {
	p.mu.Lock()
	if e, ok := p.entries[key]; ok && e.healthy {
		e.lastUsed = now
		e.useCount++
		c := e.client
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.dialFn(ip, port, timeout)
	if err != nil {
		return nil, err
	}
	if err := c.Open(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.entries[key]; ok {
		_ = old.client.Close()
		delete(p.entries, key)
	}
	if len(p.entries) >= tcpPoolMaxConns {
		p.evictOneLocked(now)
	}
	p.entries[key] = &poolEntry{client: c, createdAt: now, lastUsed: now, useCount: 1, healthy: true}
	return c, nil
}

// MarkUnhealthy flags key's connection so the next Get redials it.
func (p *connPool) MarkUnhealthy(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		e.healthy = false
	}
}

// Sweep closes connections idle longer than tcpPoolIdleAfter or older than
// tcpPoolMaxAge, per spec.md §4.3.
func (p *connPool) Sweep(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		if now.Sub(e.lastUsed) > tcpPoolIdleAfter || now.Sub(e.createdAt) > tcpPoolMaxAge {
			_ = e.client.Close()
			delete(p.entries, key)
		}
	}
}

// evictOneLocked drops the least-recently-used entry to make room for a
// new connection once the pool is at capacity. Caller holds p.mu.
func (p *connPool) evictOneLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for key, e := range p.entries {
		if oldestKey == "" || e.lastUsed.Before(oldest) {
			oldestKey = key
			oldest = e.lastUsed
		}
	}
	if oldestKey != "" {
		_ = p.entries[oldestKey].client.Close()
		delete(p.entries, oldestKey)
	}
}

// CloseAll tears down every pooled connection (driver shutdown).
func (p *connPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		_ = e.client.Close()
		delete(p.entries, key)
	}
}

// Len reports the number of pooled connections (diagnostics/tests).
func (p *connPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
