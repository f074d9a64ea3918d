package firewall

import (
	"net"
	"strings"
	"sync"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"
	"github.com/wardendns/warden/pkg/wire"
)

// Verdict is the outcome of checking one query against the firewall.
type Verdict struct {
	Action   Action
	Policy   *Policy // nil when the match came from the conditional rule layer
	Rule     *ConditionalRule
}

// Stats mirrors RpzStats.
type Stats struct {
	QueriesProcessed uint64
	QueriesBlocked   uint64
	QueriesRedirected uint64
	QueriesPassed    uint64
	BlocksByCategory map[string]uint64
}

// Firewall evaluates queries against a whitelist, a trie of domain
// policies, and an expr-lang conditional rule layer, in that precedence
// order — grounded on RpzEngine::process_query.
type Firewall struct {
	cfg       config.FirewallConfig
	logger    *logging.Logger
	whitelist map[string]struct{}
	rules     *RuleEngine

	mu    sync.RWMutex
	root  *trieNode
	stats Stats
}

func New(cfg config.FirewallConfig, logger *logging.Logger) *Firewall {
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, d := range cfg.Whitelist {
		wl[normalizeDomain(d)] = struct{}{}
	}
	return &Firewall{
		cfg:       cfg,
		logger:    logger,
		whitelist: wl,
		rules:     NewRuleEngine(),
		root:      newTrieNode(),
		stats:     Stats{BlocksByCategory: make(map[string]uint64)},
	}
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSuffix(d, "."))
}

// AddPolicy inserts a policy into the trie.
func (f *Firewall) AddPolicy(p Policy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.root.insert(labelsReversed(p.Domain), p)
}

// AddRule compiles and appends a conditional rule.
func (f *Firewall) AddRule(r *ConditionalRule) error {
	return f.rules.AddRule(r)
}

// Reload atomically swaps the policy trie for one built from policies,
// used by cmd/wardend's config/zone-file watcher so an in-flight Check
// never sees a half-rebuilt trie.
func (f *Firewall) Reload(policies []Policy) {
	root := newTrieNode()
	for _, p := range policies {
		root.insert(labelsReversed(p.Domain), p)
	}
	f.mu.Lock()
	f.root = root
	f.mu.Unlock()
}

// Check classifies one query, returning a Verdict whose Action the caller
// should turn into either a passthrough or a synthetic response.
func (f *Firewall) Check(qname, clientIP, qtype string) Verdict {
	if !f.cfg.Enabled {
		return Verdict{Action: ActionPassthru}
	}

	f.mu.Lock()
	f.stats.QueriesProcessed++
	f.mu.Unlock()

	if _, ok := f.whitelist[normalizeDomain(qname)]; ok {
		f.mu.Lock()
		f.stats.QueriesPassed++
		f.mu.Unlock()
		return Verdict{Action: ActionPassthru}
	}

	f.mu.RLock()
	policy := f.root.lookup(labelsReversed(qname))
	f.mu.RUnlock()

	if policy != nil {
		f.mu.Lock()
		switch policy.Action {
		case ActionPassthru:
			f.stats.QueriesPassed++
		case ActionRedirect:
			f.stats.QueriesBlocked++
			f.stats.QueriesRedirected++
			f.stats.BlocksByCategory[policy.Category]++
		default:
			f.stats.QueriesBlocked++
			f.stats.BlocksByCategory[policy.Category]++
		}
		f.mu.Unlock()
		if policy.Action != ActionPassthru {
			return Verdict{Action: policy.Action, Policy: policy}
		}
	}

	if rule, matched := f.rules.Evaluate(NewRuleContext(qname, clientIP, qtype)); matched {
		f.mu.Lock()
		if rule.Action == ActionPassthru {
			f.stats.QueriesPassed++
		} else {
			f.stats.QueriesBlocked++
		}
		f.mu.Unlock()
		return Verdict{Action: rule.Action, Rule: rule}
	}

	f.mu.Lock()
	f.stats.QueriesPassed++
	f.mu.Unlock()
	return Verdict{Action: ActionPassthru}
}

// SynthesizeResponse builds a reply for a non-passthrough, non-drop
// verdict, mirroring RpzEngine's per-action response builders
// (create_nxdomain_response and friends).
func SynthesizeResponse(query *wire.Message, v Verdict) *wire.Message {
	resp := &wire.Message{Header: query.Header, Question: query.Question}
	resp.Header.Response = true
	resp.Header.RecursionAvailable = true

	switch v.Action {
	case ActionNXDomain:
		resp.Header.Rcode = wire.ResultNXDomain
	case ActionNoData:
		resp.Header.Rcode = wire.ResultNoError
	case ActionTCPOnly:
		resp.Header.Truncated = true
	case ActionRedirect:
		resp.Header.Rcode = wire.ResultNoError
		if v.Policy != nil && v.Policy.RedirectTo != "" && len(query.Question) > 0 {
			if ip := net.ParseIP(v.Policy.RedirectTo); ip != nil {
				qtype := query.Question[0].Type
				var data wire.RecordData
				switch {
				case qtype == wire.TypeA && ip.To4() != nil:
					data = wire.ARecord{IP: ip}
				case qtype == wire.TypeAAAA && ip.To4() == nil:
					data = wire.AAAARecord{IP: ip}
				}
				// A or AAAA only, and only when it matches the question's
				// qtype; anything else (type mismatch, TXT/MX/etc.) falls
				// through to NODATA with no answer section.
				if data != nil {
					resp.Answer = []wire.Record{{Name: query.Question[0].Name, TTL: wire.TTL{Seconds: 60}, Data: data}}
				}
			}
		}
	default:
		resp.Header.Rcode = wire.ResultNoError
	}
	return resp
}

func (f *Firewall) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := f.stats
	out.BlocksByCategory = make(map[string]uint64, len(f.stats.BlocksByCategory))
	for k, v := range f.stats.BlocksByCategory {
		out.BlocksByCategory[k] = v
	}
	return out
}
