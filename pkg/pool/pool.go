// Package pool implements a per-upstream TCP/TLS connection pool: an
// available/active split, per-connection age/idle/query-count bookkeeping,
// and a periodic health sweep that evicts stale connections.
package pool

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"
)

// ErrAtCapacity is returned by Acquire when no idle connection is
// available and current_size has already reached max_conn.
var ErrAtCapacity = errors.New("pool: at capacity")

// pooledConn wraps a net.Conn with age/idle/query-count bookkeeping.
type pooledConn struct {
	net.Conn
	createdAt  time.Time
	lastUsedAt time.Time
	queryCount int
}

func (c *pooledConn) age(now time.Time) time.Duration  { return now.Sub(c.createdAt) }
func (c *pooledConn) idle(now time.Time) time.Duration { return now.Sub(c.lastUsedAt) }

// Pool manages connections to one upstream address.
type Pool struct {
	server    string
	cfg       config.PoolConfig
	tlsConfig *tls.Config
	logger    *logging.Logger

	mu        sync.Mutex
	available []*pooledConn
	current   int // total connections outstanding: available + on loan

	// minConnOverride lets pkg/perf shrink the floor the health sweep
	// replenishes down to under host memory pressure, without touching
	// the configured MinConn. -1 means "no override".
	minConnOverride atomic.Int64

	stopHealth chan struct{}

	totalCreated int64
	totalClosed  int64
	totalReused  int64
}

// New builds a pool for server. If warm start is configured, it
// pre-establishes up to MinConn connections before returning, and starts
// the background health sweep.
func New(server string, cfg config.PoolConfig, tlsConfig *tls.Config, logger *logging.Logger) (*Pool, error) {
	p := &Pool{
		server:     server,
		cfg:        cfg,
		tlsConfig:  tlsConfig,
		logger:     logger,
		stopHealth: make(chan struct{}),
	}
	p.minConnOverride.Store(-1)

	if cfg.WarmStart {
		for i := 0; i < cfg.MinConn; i++ {
			conn, err := p.dial()
			if err != nil {
				if logger != nil {
					logger.Warn("pool: warm start connection failed", "server", server, "error", err)
				}
				break
			}
			p.available = append(p.available, conn)
			p.current++
		}
	}

	go p.healthSweepLoop()
	return p, nil
}

func (p *Pool) dial() (*pooledConn, error) {
	dialer := net.Dialer{Timeout: p.cfg.ConnectTimeout}
	var conn net.Conn
	var err error
	if p.tlsConfig != nil {
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.server, p.tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", p.server)
	}
	if err != nil {
		return nil, fmt.Errorf("pool: dial %s: %w", p.server, err)
	}
	now := time.Now()
	p.totalCreated++
	return &pooledConn{Conn: conn, createdAt: now, lastUsedAt: now}, nil
}

// valid reports whether a pooled connection is still within its age and
// idle bounds").
func (p *Pool) valid(c *pooledConn, now time.Time) bool {
	return c.age(now) < p.cfg.MaxConnAge && c.idle(now) < p.cfg.IdleTimeout
}

// Lease is a connection on loan; Release must be called exactly once.
type Lease struct {
	conn *pooledConn
	pool *Pool
}

// Conn exposes the underlying net.Conn for I/O.
func (l *Lease) Conn() net.Conn { return l.conn }

// Acquire pops an available, valid connection or creates a new one if
// current_size < max_conn.
func (p *Pool) Acquire() (*Lease, error) {
	now := time.Now()

	p.mu.Lock()
	for len(p.available) > 0 {
		c := p.available[len(p.available)-1]
		p.available = p.available[:len(p.available)-1]
		if p.valid(c, now) {
			p.totalReused++
			p.mu.Unlock()
			return &Lease{conn: c, pool: p}, nil
		}
		c.Close()
		p.totalClosed++
		p.current--
	}

	if p.current >= p.cfg.MaxConn {
		p.mu.Unlock()
		return nil, ErrAtCapacity
	}
	p.current++
	p.mu.Unlock()

	conn, err := p.dial()
	if err != nil {
		p.mu.Lock()
		p.current--
		p.mu.Unlock()
		return nil, err
	}
	return &Lease{conn: conn, pool: p}, nil
}

// Release returns a connection to the pool, disposing of it (and trying to
// create a replacement) if it has exceeded max_queries_per_connection or is
// no longer valid.
func (l *Lease) Release() {
	p := l.pool
	c := l.conn
	c.queryCount++
	c.lastUsedAt = time.Now()

	now := time.Now()
	if c.queryCount >= p.cfg.MaxQueriesPerConnection || !p.valid(c, now) {
		c.Close()
		p.mu.Lock()
		p.totalClosed++
		p.current--
		p.mu.Unlock()
		p.tryReplenishOne()
		return
	}

	p.mu.Lock()
	p.available = append(p.available, c)
	p.mu.Unlock()
}

// Discard disposes of a connection that errored mid-use without returning
// it to the pool (the caller believes it is no longer usable).
func (l *Lease) Discard() {
	p := l.pool
	l.conn.Close()
	p.mu.Lock()
	p.totalClosed++
	p.current--
	p.mu.Unlock()
}

func (p *Pool) tryReplenishOne() {
	p.mu.Lock()
	if p.current >= p.cfg.MinConn {
		p.mu.Unlock()
		return
	}
	p.current++
	p.mu.Unlock()

	conn, err := p.dial()
	if err != nil {
		p.mu.Lock()
		p.current--
		p.mu.Unlock()
		return
	}
	p.mu.Lock()
	p.available = append(p.available, conn)
	p.mu.Unlock()
}

// healthSweepLoop periodically drops invalid idle connections and
// replenishes down to min_conn.
func (p *Pool) healthSweepLoop() {
	if p.cfg.HealthSweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.HealthSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			p.sweepOnce()
		}
	}
}

func (p *Pool) sweepOnce() {
	now := time.Now()

	p.mu.Lock()
	kept := p.available[:0]
	for _, c := range p.available {
		if p.valid(c, now) {
			kept = append(kept, c)
			continue
		}
		c.Close()
		p.totalClosed++
		p.current--
	}
	p.available = kept
	minConn := p.cfg.MinConn
	if override := p.minConnOverride.Load(); override >= 0 && int(override) < minConn {
		minConn = int(override)
	}
	deficit := minConn - p.current
	p.mu.Unlock()

	for i := 0; i < deficit; i++ {
		p.tryReplenishOne()
	}
}

// SetMinConnOverride lowers the floor the next health sweep replenishes
// down to, without mutating the configured MinConn. Passing a negative
// value clears the override. pkg/perf calls this under host memory
// pressure.
func (p *Pool) SetMinConnOverride(n int) {
	p.minConnOverride.Store(int64(n))
}

// Stats reports pool-wide counters.
type Stats struct {
	Current      int
	Available    int
	TotalCreated int64
	TotalClosed  int64
	TotalReused  int64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Current:      p.current,
		Available:    len(p.available),
		TotalCreated: p.totalCreated,
		TotalClosed:  p.totalClosed,
		TotalReused:  p.totalReused,
	}
}

// Close stops the health sweep and closes every idle connection.
func (p *Pool) Close() {
	close(p.stopHealth)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.available {
		c.Close()
	}
	p.available = nil
}
