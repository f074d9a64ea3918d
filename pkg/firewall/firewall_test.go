package firewall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/wire"
)

func TestTrieExactMatch(t *testing.T) {
	root := newTrieNode()
	root.insert(labelsReversed("ads.example.com"), Policy{Domain: "ads.example.com", Action: ActionNXDomain, Category: "ads"})

	p := root.lookup(labelsReversed("ads.example.com"))
	require.NotNil(t, p)
	require.Equal(t, ActionNXDomain, p.Action)

	require.Nil(t, root.lookup(labelsReversed("example.com")))
}

func TestTrieWildcardMatch(t *testing.T) {
	root := newTrieNode()
	root.insert(labelsReversed("*.doubleclick.net"), Policy{Domain: "*.doubleclick.net", Action: ActionNXDomain, Category: "ads"})

	p := root.lookup(labelsReversed("ad.doubleclick.net"))
	require.NotNil(t, p)
	require.Equal(t, ActionNXDomain, p.Action)

	p = root.lookup(labelsReversed("x.y.doubleclick.net"))
	require.NotNil(t, p)
	require.Equal(t, ActionNXDomain, p.Action)
}

func TestTrieExactBeatsWildcard(t *testing.T) {
	root := newTrieNode()
	root.insert(labelsReversed("*.example.com"), Policy{Domain: "*.example.com", Action: ActionNXDomain, Category: "wildcard"})
	root.insert(labelsReversed("good.example.com"), Policy{Domain: "good.example.com", Action: ActionPassthru, Category: "allow"})

	p := root.lookup(labelsReversed("good.example.com"))
	require.NotNil(t, p)
	require.Equal(t, ActionPassthru, p.Action)

	p = root.lookup(labelsReversed("bad.example.com"))
	require.NotNil(t, p)
	require.Equal(t, ActionNXDomain, p.Action)
}

func newTestFirewall() *Firewall {
	cfg := config.FirewallConfig{Enabled: true}
	return New(cfg, nil)
}

func TestFirewallWhitelistShortCircuits(t *testing.T) {
	f := newTestFirewall()
	f.whitelist["safe.example.com"] = struct{}{}
	f.AddPolicy(Policy{Domain: "safe.example.com", Action: ActionNXDomain})

	v := f.Check("safe.example.com.", "1.2.3.4", "A")
	require.Equal(t, ActionPassthru, v.Action)
}

func TestFirewallTrieBlocksDomain(t *testing.T) {
	f := newTestFirewall()
	f.AddPolicy(Policy{Domain: "malware.test", Action: ActionNXDomain, Category: "malware"})

	v := f.Check("malware.test", "1.2.3.4", "A")
	require.Equal(t, ActionNXDomain, v.Action)
	require.NotNil(t, v.Policy)
	require.Equal(t, uint64(1), f.Stats().QueriesBlocked)
	require.Equal(t, uint64(1), f.Stats().BlocksByCategory["malware"])
}

func TestFirewallConditionalRuleFallback(t *testing.T) {
	f := newTestFirewall()
	err := f.AddRule(&ConditionalRule{
		Name:    "block-work-hours",
		Logic:   `DomainEndsWith(Domain, "social.test")`,
		Action:  ActionNXDomain,
		Enabled: true,
	})
	require.NoError(t, err)

	v := f.Check("www.social.test", "1.2.3.4", "A")
	require.Equal(t, ActionNXDomain, v.Action)
	require.NotNil(t, v.Rule)
	require.Nil(t, v.Policy)
}

func TestFirewallPassthruWhenNoMatch(t *testing.T) {
	f := newTestFirewall()
	v := f.Check("clean.example.com", "1.2.3.4", "A")
	require.Equal(t, ActionPassthru, v.Action)
}

func TestFirewallDisabledAlwaysPasses(t *testing.T) {
	cfg := config.FirewallConfig{Enabled: false}
	f := New(cfg, nil)
	f.AddPolicy(Policy{Domain: "malware.test", Action: ActionNXDomain})

	v := f.Check("malware.test", "1.2.3.4", "A")
	require.Equal(t, ActionPassthru, v.Action)
}

func TestSynthesizeResponseNXDomain(t *testing.T) {
	query := &wire.Message{
		Header:   wire.Header{ID: 42},
		Question: []wire.Question{{Name: "malware.test", Type: wire.TypeA}},
	}
	resp := SynthesizeResponse(query, Verdict{Action: ActionNXDomain})
	require.True(t, resp.Header.Response)
	require.Equal(t, wire.ResultNXDomain, resp.Header.Rcode)
	require.Equal(t, query.Question, resp.Question)
}

func TestSynthesizeResponseRedirect(t *testing.T) {
	query := &wire.Message{
		Header:   wire.Header{ID: 7},
		Question: []wire.Question{{Name: "ads.test", Type: wire.TypeA}},
	}
	v := Verdict{Action: ActionRedirect, Policy: &Policy{Domain: "ads.test", Action: ActionRedirect, RedirectTo: "0.0.0.0"}}
	resp := SynthesizeResponse(query, v)
	require.Equal(t, wire.ResultNoError, resp.Header.Rcode)
	require.Len(t, resp.Answer, 1)
	require.Equal(t, "ads.test", resp.Answer[0].Name)
}

func TestSynthesizeResponseRedirectTypeMismatchYieldsNoData(t *testing.T) {
	query := &wire.Message{
		Header:   wire.Header{ID: 8},
		Question: []wire.Question{{Name: "ads.test", Type: wire.TypeAAAA}},
	}
	v := Verdict{Action: ActionRedirect, Policy: &Policy{Domain: "ads.test", Action: ActionRedirect, RedirectTo: "0.0.0.0"}}
	resp := SynthesizeResponse(query, v)
	require.Equal(t, wire.ResultNoError, resp.Header.Rcode)
	require.Empty(t, resp.Answer)
}

func TestSynthesizeResponseRedirectNonAddressQtypeYieldsNoData(t *testing.T) {
	query := &wire.Message{
		Header:   wire.Header{ID: 9},
		Question: []wire.Question{{Name: "ads.test", Type: wire.TypeTXT}},
	}
	v := Verdict{Action: ActionRedirect, Policy: &Policy{Domain: "ads.test", Action: ActionRedirect, RedirectTo: "1.2.3.4"}}
	resp := SynthesizeResponse(query, v)
	require.Equal(t, wire.ResultNoError, resp.Header.Rcode)
	require.Empty(t, resp.Answer)
}

func TestSynthesizeResponseTCPOnly(t *testing.T) {
	query := &wire.Message{Header: wire.Header{ID: 1}, Question: []wire.Question{{Name: "x.test", Type: wire.TypeA}}}
	resp := SynthesizeResponse(query, Verdict{Action: ActionTCPOnly})
	require.True(t, resp.Header.Truncated)
}
