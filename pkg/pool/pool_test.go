package pool

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardendns/warden/pkg/config"
)

func echoServer(t *testing.T) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 1024)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					if _, err := c.Write(buf[:n]); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func testPoolConfig() config.PoolConfig {
	cfg := config.DefaultPoolConfig()
	cfg.MinConn = 1
	cfg.MaxConn = 2
	cfg.WarmStart = false
	cfg.MaxConnAge = time.Hour
	cfg.IdleTimeout = time.Hour
	cfg.HealthSweepInterval = 0
	cfg.MaxQueriesPerConnection = 2
	return cfg
}

func TestAcquireReleaseReusesConnection(t *testing.T) {
	addr, closeFn := echoServer(t)
	defer closeFn()

	p, err := New(addr, testPoolConfig(), nil, nil)
	require.NoError(t, err)
	defer p.Close()

	lease, err := p.Acquire()
	require.NoError(t, err)
	conn1 := lease.Conn()
	lease.Release()

	lease2, err := p.Acquire()
	require.NoError(t, err)
	require.Same(t, conn1, lease2.Conn())

	// Read stats before the second Release: with MaxQueriesPerConnection=2
	// that Release recycles the connection and dials a replacement.
	stats := p.Stats()
	require.EqualValues(t, 1, stats.TotalCreated)
	require.EqualValues(t, 1, stats.TotalReused)
	lease2.Release()
}

func TestAcquireFailsAtCapacity(t *testing.T) {
	addr, closeFn := echoServer(t)
	defer closeFn()

	cfg := testPoolConfig()
	cfg.MaxConn = 1
	p, err := New(addr, cfg, nil, nil)
	require.NoError(t, err)
	defer p.Close()

	lease1, err := p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	require.ErrorIs(t, err, ErrAtCapacity)

	lease1.Release()
}

func TestReleaseRecyclesAfterMaxQueries(t *testing.T) {
	addr, closeFn := echoServer(t)
	defer closeFn()

	cfg := testPoolConfig()
	cfg.MaxQueriesPerConnection = 1
	p, err := New(addr, cfg, nil, nil)
	require.NoError(t, err)
	defer p.Close()

	lease, err := p.Acquire()
	require.NoError(t, err)
	conn1 := lease.Conn()
	lease.Release() // hits MaxQueriesPerConnection=1, should be disposed

	lease2, err := p.Acquire()
	require.NoError(t, err)
	require.NotSame(t, conn1, lease2.Conn())
	lease2.Release()
}

func TestManagerReusesPoolPerServer(t *testing.T) {
	addr, closeFn := echoServer(t)
	defer closeFn()

	m := NewManager(testPoolConfig(), nil)
	defer m.Close()

	p1, err := m.Get(addr)
	require.NoError(t, err)
	p2, err := m.Get(addr)
	require.NoError(t, err)
	require.Same(t, p1, p2)
}
