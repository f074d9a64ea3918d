// Package qmin implements RFC 7816 query name minimization: instead of
// sending a resolver's full query name to every nameserver on the
// delegation path, only the minimal suffix needed to find the next
// delegation is sent, until the final label is reached and the real qtype
// is queried.
package qmin

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"
	"github.com/wardendns/warden/pkg/wire"
)

// Querier is the subset of pkg/client.Client the minimizer needs, kept as
// an interface so tests can supply a fake.
type Querier interface {
	Query(ctx context.Context, qname string, qtype wire.Type, server string, recursionDesired bool) (*wire.Message, error)
}

type nsCacheEntry struct {
	servers []string
	expires time.Time
}

// Stats mirrors MinimizationStats.
type Stats struct {
	QueriesMinimized uint64
	FallbackUsed     uint64
	CacheHits        uint64
}

// Minimizer resolves a query incrementally, label by label, from the TLD
// down, at the most specific nameserver it already knows, falling back to
// full recursion through the root hint when a step fails or minimization
// is unsupported.
type Minimizer struct {
	cfg    config.QnameMinConfig
	logger *logging.Logger
	client Querier
	root   []string // root hint server addresses, "ip:port"

	mu      sync.Mutex
	nsCache map[string]nsCacheEntry
	stats   Stats
}

func New(cfg config.QnameMinConfig, logger *logging.Logger, client Querier, rootHints []string) *Minimizer {
	return &Minimizer{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		root:    rootHints,
		nsCache: make(map[string]nsCacheEntry),
	}
}

// labels splits a domain into its dot-separated labels, dropping a
// trailing root label.
func labels(qname string) []string {
	qname = strings.TrimSuffix(qname, ".")
	if qname == "" {
		return nil
	}
	return strings.Split(qname, ".")
}

// suffixDepth joins the rightmost d labels of parts into a domain name, so
// depth 1 is the TLD and depth len(parts) is the full name.
func suffixDepth(parts []string, d int) string {
	return strings.Join(parts[len(parts)-d:], ".")
}

// Resolve performs RFC 7816 minimized resolution of qname/qtype. It
// iterates suffixes from the TLD up to the full name (shortest to
// longest), querying NS at each step except the last, where the real qtype
// is sent. A REFUSED or SERVFAIL response at any step, or exceeding
// MaxLabels iterations, falls back to a single full non-minimized query at
// the root, mirroring resolve_incremental's fallback branches.
func (m *Minimizer) Resolve(ctx context.Context, qname string, qtype wire.Type) (*wire.Message, error) {
	if !m.cfg.Enabled || !shouldMinimize(qtype) {
		return m.resolveFull(ctx, qname, qtype)
	}

	parts := labels(qname)
	if len(parts) == 0 {
		return m.resolveFull(ctx, qname, qtype)
	}

	startDepth, server := m.closestKnownNS(parts)
	if server == "" {
		server = m.pickRoot()
	}

	maxLabels := m.cfg.MaxLabels
	if maxLabels <= 0 || maxLabels > len(parts) {
		maxLabels = len(parts)
	}

	for d := startDepth; d <= maxLabels; d++ {
		suffix := suffixDepth(parts, d)
		final := d == len(parts)
		stepType := wire.TypeNS
		if final {
			stepType = qtype
		}

		stepCtx, cancel := context.WithTimeout(ctx, m.stepTimeout())
		resp, err := m.client.Query(stepCtx, suffix, stepType, server, false)
		cancel()
		if err != nil {
			return m.fallback(ctx, qname, qtype)
		}

		switch resp.Header.Rcode {
		case wire.ResultRefused, wire.ResultServFail:
			return m.fallback(ctx, qname, qtype)
		case wire.ResultNXDomain:
			if final {
				return resp, nil
			}
			continue
		case wire.ResultNoError:
			if final {
				m.bumpMinimized()
				return resp, nil
			}
			if ns := nextServer(resp); ns != "" {
				server = ns
				m.cacheNS(suffix, []string{ns})
			}
		default:
			if final {
				return resp, nil
			}
		}
	}

	return m.fallback(ctx, qname, qtype)
}

func (m *Minimizer) stepTimeout() time.Duration {
	if m.cfg.StepTimeout <= 0 {
		return time.Second
	}
	return m.cfg.StepTimeout
}

func (m *Minimizer) resolveFull(ctx context.Context, qname string, qtype wire.Type) (*wire.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, m.stepTimeout())
	defer cancel()
	return m.client.Query(ctx, qname, qtype, m.pickRoot(), true)
}

func (m *Minimizer) fallback(ctx context.Context, qname string, qtype wire.Type) (*wire.Message, error) {
	m.mu.Lock()
	m.stats.FallbackUsed++
	m.mu.Unlock()
	return m.resolveFull(ctx, qname, qtype)
}

func (m *Minimizer) pickRoot() string {
	if len(m.root) == 0 {
		return ""
	}
	return m.root[0]
}

// closestKnownNS searches depths from the full name down to the TLD and
// returns the nameserver cached for the longest (most specific) known
// suffix, plus the depth minimization should resume at, mirroring
// find_closest_ns + calculate_skip_labels. A miss resumes at depth 1 (the
// TLD).
func (m *Minimizer) closestKnownNS(parts []string) (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for d := len(parts); d >= 1; d-- {
		suffix := suffixDepth(parts, d)
		if e, ok := m.nsCache[suffix]; ok {
			if now.Before(e.expires) && len(e.servers) > 0 {
				m.stats.CacheHits++
				return d, e.servers[0]
			}
			delete(m.nsCache, suffix)
		}
	}
	return 1, ""
}

func (m *Minimizer) cacheNS(zone string, servers []string) {
	if !m.cfg.Enabled {
		return
	}
	ttl := m.cfg.NSCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nsCache[zone] = nsCacheEntry{servers: servers, expires: time.Now().Add(ttl)}
}

func (m *Minimizer) bumpMinimized() {
	m.mu.Lock()
	m.stats.QueriesMinimized++
	m.mu.Unlock()
}

func (m *Minimizer) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// shouldMinimize excludes query types where minimization offers no
// privacy benefit, mirroring QnameMinimizer::should_minimize's skip of
// meta queries.
func shouldMinimize(qtype wire.Type) bool {
	switch qtype {
	case wire.TypeANY:
		return false
	default:
		return true
	}
}

// nextServer extracts an address worth querying next from an NS-referral
// response's additional section: the glue A record of one of the referred
// NS hosts. A referral without such glue yields "" (bare NS hostnames are
// not resolved here).
func nextServer(resp *wire.Message) string {
	nsHosts := make(map[string]struct{})
	for _, rr := range resp.Answer {
		if ns, ok := rr.Data.(wire.NSRecord); ok {
			nsHosts[strings.TrimSuffix(strings.ToLower(ns.Host), ".")] = struct{}{}
		}
	}
	for _, rr := range resp.Authority {
		if ns, ok := rr.Data.(wire.NSRecord); ok {
			nsHosts[strings.TrimSuffix(strings.ToLower(ns.Host), ".")] = struct{}{}
		}
	}
	if len(nsHosts) == 0 {
		return ""
	}
	for _, rr := range resp.Additional {
		name := strings.TrimSuffix(strings.ToLower(rr.Name), ".")
		if _, ok := nsHosts[name]; !ok {
			continue
		}
		if a, ok := rr.Data.(wire.ARecord); ok {
			return a.IP.String() + ":53"
		}
	}
	return ""
}
