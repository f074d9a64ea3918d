package qmin

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/wire"
)

type fakeStep struct {
	qname string
	qtype wire.Type
	resp  *wire.Message
	err   error
}

type fakeQuerier struct {
	steps []fakeStep
	calls []fakeStep
}

func (f *fakeQuerier) Query(ctx context.Context, qname string, qtype wire.Type, server string, recursionDesired bool) (*wire.Message, error) {
	f.calls = append(f.calls, fakeStep{qname: qname, qtype: qtype})
	if len(f.steps) == 0 {
		return &wire.Message{Header: wire.Header{Rcode: wire.ResultServFail}}, nil
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	return step.resp, step.err
}

func testCfg() config.QnameMinConfig {
	return config.QnameMinConfig{Enabled: true, MaxLabels: 10, StepTimeout: time.Second, NSCacheTTL: time.Minute}
}

func TestResolveMinimizesLabelByLabel(t *testing.T) {
	fq := &fakeQuerier{steps: []fakeStep{
		{resp: &wire.Message{Header: wire.Header{Rcode: wire.ResultNoError}, Authority: []wire.Record{{Name: "com", Data: wire.NSRecord{Host: "ns.com."}}}, Additional: []wire.Record{{Name: "ns.com.", Data: wire.ARecord{IP: net.ParseIP("9.9.9.9")}}}}},
		{resp: &wire.Message{Header: wire.Header{Rcode: wire.ResultNoError}, Authority: []wire.Record{{Name: "example.com", Data: wire.NSRecord{Host: "ns.example.com."}}}, Additional: []wire.Record{{Name: "ns.example.com.", Data: wire.ARecord{IP: net.ParseIP("8.8.8.8")}}}}},
		{resp: &wire.Message{Header: wire.Header{Rcode: wire.ResultNoError}, Answer: []wire.Record{{Name: "www.example.com", Data: wire.ARecord{IP: net.ParseIP("1.2.3.4")}}}}},
	}}
	m := New(testCfg(), nil, fq, []string{"198.41.0.4:53"})

	resp, err := m.Resolve(context.Background(), "www.example.com", wire.TypeA)
	require.NoError(t, err)
	require.Equal(t, wire.ResultNoError, resp.Header.Rcode)
	require.Len(t, fq.calls, 3)
	require.Equal(t, "com", fq.calls[0].qname)
	require.Equal(t, wire.TypeNS, fq.calls[0].qtype)
	require.Equal(t, "example.com", fq.calls[1].qname)
	require.Equal(t, wire.TypeNS, fq.calls[1].qtype)
	require.Equal(t, "www.example.com", fq.calls[2].qname)
	require.Equal(t, wire.TypeA, fq.calls[2].qtype)
	require.Equal(t, uint64(1), m.Stats().QueriesMinimized)
}

func TestResolveFallsBackOnRefused(t *testing.T) {
	fq := &fakeQuerier{steps: []fakeStep{
		{resp: &wire.Message{Header: wire.Header{Rcode: wire.ResultRefused}}},
		{resp: &wire.Message{Header: wire.Header{Rcode: wire.ResultNoError}}},
	}}
	m := New(testCfg(), nil, fq, []string{"198.41.0.4:53"})

	resp, err := m.Resolve(context.Background(), "example.com", wire.TypeA)
	require.NoError(t, err)
	require.Equal(t, wire.ResultNoError, resp.Header.Rcode)
	require.Equal(t, uint64(1), m.Stats().FallbackUsed)
}

func TestResolveDisabledGoesFull(t *testing.T) {
	cfg := testCfg()
	cfg.Enabled = false
	fq := &fakeQuerier{steps: []fakeStep{{resp: &wire.Message{Header: wire.Header{Rcode: wire.ResultNoError}}}}}
	m := New(cfg, nil, fq, []string{"198.41.0.4:53"})

	_, err := m.Resolve(context.Background(), "example.com", wire.TypeA)
	require.NoError(t, err)
	require.Len(t, fq.calls, 1)
	require.Equal(t, "example.com", fq.calls[0].qname)
	require.Equal(t, wire.TypeA, fq.calls[0].qtype)
}

func TestShouldMinimizeExcludesANY(t *testing.T) {
	require.False(t, shouldMinimize(wire.TypeANY))
	require.True(t, shouldMinimize(wire.TypeA))
}

func TestNextServerPrefersGlueRecord(t *testing.T) {
	resp := &wire.Message{
		Authority:  []wire.Record{{Name: "example.com", Data: wire.NSRecord{Host: "ns1.example.com."}}},
		Additional: []wire.Record{{Name: "ns1.example.com.", Data: wire.ARecord{IP: net.ParseIP("5.6.7.8")}}},
	}
	require.Equal(t, "5.6.7.8:53", nextServer(resp))
}
