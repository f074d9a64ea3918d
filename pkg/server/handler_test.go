package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardendns/warden/pkg/cache"
	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/firewall"
	"github.com/wardendns/warden/pkg/wire"
)

// fakeUpstream answers every UDP query with a canned A record, mirroring
// pkg/client's own fakeUpstream test helper.
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
			if err != nil || len(req.Question) == 0 {
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

func testHandler(t *testing.T, upstream string) *Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Upstreams = []string{upstream}
	cfg.RateLimit.Enabled = false
	cfg.DDoS.Enabled = false
	cfg.SourceValidate.Enabled = false
	cfg.RequestLimits.Enabled = false
	cfg.Firewall.Whitelist = nil
	cfg.Client.QueryTimeout = time.Second

	h, _, err := NewHandler(cfg, nil, nil)
	require.NoError(t, err)
	return h
}

func encodeQuery(t *testing.T, name string, qtype wire.Type) []byte {
	t.Helper()
	msg := &wire.Message{
		Header:   wire.Header{ID: 42, RecursionDesired: true},
		Question: []wire.Question{{Name: name, Type: qtype, Class: wire.ClassIN}},
	}
	msg.SetQuestionCounts()
	buf, err := wire.Encode(msg, 512)
	require.NoError(t, err)
	return buf
}

func TestHandleResolvesCacheMissThroughUpstream(t *testing.T) {
	upstream, closeUpstream := fakeUpstream(t)
	defer closeUpstream()

	h := testHandler(t, upstream)
	raw := encodeQuery(t, "example.com.", wire.TypeA)

	respBuf := h.Handle(context.Background(), raw, net.ParseIP("127.0.0.1"), false)
	require.NotNil(t, respBuf)

	resp, err := wire.Decode(respBuf)
	require.NoError(t, err)
	require.Equal(t, uint16(42), resp.Header.ID)
	require.True(t, resp.Header.Response)
	require.Len(t, resp.Answer, 1)
}

func TestHandleServesSecondQueryFromCache(t *testing.T) {
	upstream, closeUpstream := fakeUpstream(t)
	defer closeUpstream()

	h := testHandler(t, upstream)
	raw := encodeQuery(t, "cached.example.com.", wire.TypeA)

	first := h.Handle(context.Background(), raw, net.ParseIP("127.0.0.1"), false)
	require.NotNil(t, first)

	closeUpstream() // upstream gone: a second resolve would fail, a cache hit would not

	second := h.Handle(context.Background(), raw, net.ParseIP("127.0.0.1"), false)
	require.NotNil(t, second)

	resp, err := wire.Decode(second)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
}

func TestHandleBlocksFirewalledDomain(t *testing.T) {
	upstream, closeUpstream := fakeUpstream(t)
	defer closeUpstream()

	h := testHandler(t, upstream)
	h.firewall.AddPolicy(firewall.Policy{
		Domain:   "blocked.example.com",
		Action:   firewall.ActionNXDomain,
		Category: "test",
	})

	raw := encodeQuery(t, "blocked.example.com.", wire.TypeA)
	respBuf := h.Handle(context.Background(), raw, net.ParseIP("127.0.0.1"), false)
	require.NotNil(t, respBuf)

	resp, err := wire.Decode(respBuf)
	require.NoError(t, err)
	require.Equal(t, wire.ResultNXDomain, resp.Header.Rcode)
}

// poisoningUpstream answers every query with a record owned by an
// unrelated domain, simulating a compromised or spoofing upstream trying
// to smuggle an out-of-bailiwick record into the cache.
func poisoningUpstream(t *testing.T) (addr string, closeFn func()) {
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
			if err != nil || len(req.Question) == 0 {
				continue
			}
			resp := &wire.Message{
				Header:   wire.Header{ID: req.Header.ID, Response: true, RecursionAvailable: true},
				Question: req.Question,
				Answer: []wire.Record{
					{Name: "attacker.test.", TTL: wire.TTL{Seconds: 60}, Data: wire.ARecord{IP: net.ParseIP("6.6.6.6")}},
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

func TestHandleDropsOutOfBailiwickAnswer(t *testing.T) {
	upstream, closeUpstream := poisoningUpstream(t)
	defer closeUpstream()

	h := testHandler(t, upstream)
	raw := encodeQuery(t, "victim.example.com.", wire.TypeA)

	respBuf := h.Handle(context.Background(), raw, net.ParseIP("127.0.0.1"), false)
	require.NotNil(t, respBuf)

	resp, err := wire.Decode(respBuf)
	require.NoError(t, err)
	require.Empty(t, resp.Answer)

	status, _ := h.cache.Lookup("victim.example.com.", wire.TypeA)
	require.Equal(t, cache.Miss, status, "an out-of-bailiwick answer must never be cached")
}

func TestHandleDropsOversizedUDPQuery(t *testing.T) {
	upstream, closeUpstream := fakeUpstream(t)
	defer closeUpstream()

	cfg := config.Default()
	cfg.Upstreams = []string{upstream}
	cfg.RequestLimits.Enabled = true
	cfg.RequestLimits.MaxUDPSize = 10
	h2, _, err := NewHandler(cfg, nil, nil)
	require.NoError(t, err)

	raw := encodeQuery(t, "toolarge.example.com.", wire.TypeA)
	require.Greater(t, len(raw), 10)

	resp := h2.Handle(context.Background(), raw, net.ParseIP("127.0.0.1"), false)
	require.Nil(t, resp)
}
