package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/wire"
)

// fakeUpstream answers every UDP query with a canned A record, echoing the
// transaction id and question back (a minimal stand-in for an upstream
// resolver, in the spirit of original_source/client.rs's own
// loopback-socket tests).
func fakeUpstream(t *testing.T) (addr string, closeFn func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 512)
		for {
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, err := wire.Decode(buf[:n])
			if err != nil {
				continue
			}
			resp := &wire.Message{
				Header:   wire.Header{ID: req.Header.ID, Response: true, RecursionAvailable: true},
				Question: req.Question,
				Answer: []wire.Record{
					{Name: req.Question[0].Name, TTL: wire.TTL{Seconds: 60}, Data: wire.ARecord{IP: net.ParseIP("93.184.216.34")}},
				},
			}
			resp.SetQuestionCounts()
			out, err := wire.Encode(resp, 512)
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(out, raddr)
		}
	}()

	return conn.LocalAddr().String(), func() { conn.Close() }
}

func TestQueryRoundTrip(t *testing.T) {
	upstream, closeUpstream := fakeUpstream(t)
	defer closeUpstream()

	cfg := config.DefaultClientConfig()
	c, err := New(cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg, err := c.Query(ctx, "example.com.", wire.TypeA, upstream, true)
	require.NoError(t, err)
	require.Len(t, msg.Answer, 1)
	require.Equal(t, "example.com.", msg.Question[0].Name)
}

func TestQueryTimesOutAgainstDeadUpstream(t *testing.T) {
	// A bound-but-silent socket: nothing ever replies, so the sweeper must
	// fire.
	dead, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer dead.Close()

	cfg := config.DefaultClientConfig()
	cfg.QueryTimeout = 150 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond

	c, err := New(cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = c.Query(ctx, "silent.example.", wire.TypeA, dead.LocalAddr().String(), true)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestConcurrentQueriesDemultiplexCorrectly(t *testing.T) {
	upstream, closeUpstream := fakeUpstream(t)
	defer closeUpstream()

	cfg := config.DefaultClientConfig()
	c, err := New(cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := c.Query(ctx, "concurrent.example.", wire.TypeA, upstream, true)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
}
