package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/wardendns/warden/pkg/client"
	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"
	"github.com/wardendns/warden/pkg/pool"
	"github.com/wardendns/warden/pkg/qmin"
	"github.com/wardendns/warden/pkg/retry"
	"github.com/wardendns/warden/pkg/wire"
)

// errAllUpstreamsFailed is returned when every configured upstream's
// circuit breaker is open or every attempt against it failed.
var errAllUpstreamsFailed = errors.New("server: all upstreams failed")

// poolSet owns one pool.Manager shared across resolutions, used only for
// upstreams this resolver is configured to reach over pooled TCP/TLS
// rather than one-shot UDP.
type poolSet struct {
	manager   *pool.Manager
	tlsUpstreams map[string]struct{}
}

func newPoolSet(cfg config.Config) *poolSet {
	ps := &poolSet{manager: pool.NewManager(cfg.Pool, nil), tlsUpstreams: make(map[string]struct{})}
	if cfg.Pool.TLSEnabled {
		for _, u := range cfg.Upstreams {
			ps.tlsUpstreams[u] = struct{}{}
		}
	}
	return ps
}

func (ps *poolSet) usesPool(upstream string) bool {
	_, ok := ps.tlsUpstreams[upstream]
	return ok
}

// resolver picks an upstream, runs the query through that upstream's
// retry.Do-wrapped circuit breaker, and falls back to RFC 7816 qname
// minimization against root hints when no forwarder is configured.
type resolver struct {
	cfg       config.Config
	logger    *logging.Logger
	client    *client.Client
	breakers  *retry.Registry
	pools     *poolSet
	minimizer *qmin.Minimizer

	rrIndex atomic.Uint32
}

func newResolver(cfg config.Config, logger *logging.Logger, cl *client.Client, breakers *retry.Registry, pools *poolSet) *resolver {
	r := &resolver{cfg: cfg, logger: logger, client: cl, breakers: breakers, pools: pools}
	r.minimizer = qmin.New(cfg.QnameMin, logger, cl, cfg.RootHints)
	return r
}

// resolve answers qname/qtype, either by forwarding to a configured
// upstream or, when no upstreams are configured, by
// iterative resolution through pkg/qmin against the root hints.
func (r *resolver) resolve(ctx context.Context, qname string, qtype wire.Type) (*wire.Message, error) {
	if len(r.cfg.Upstreams) == 0 {
		return r.minimizer.Resolve(ctx, qname, qtype)
	}

	n := uint32(len(r.cfg.Upstreams))
	start := r.rrIndex.Add(1) - 1

	var lastErr error
	for i := uint32(0); i < n; i++ {
		upstream := r.cfg.Upstreams[(start+i)%n]
		breaker := r.breakers.Get(upstream)

		var resp *wire.Message
		err := retry.Do(ctx, r.cfg.Retry, breaker, client.Transient, func() error {
			var qerr error
			if r.pools.usesPool(upstream) {
				resp, qerr = r.queryPooled(ctx, upstream, qname, qtype)
			} else {
				resp, qerr = r.client.Query(ctx, qname, qtype, upstream, true)
			}
			return qerr
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", errAllUpstreamsFailed, lastErr)
}

// refresh satisfies adaptive.Refresher: it re-resolves domain/qtype and
// hands back the fresh answer records for the prefetch worker pool to
// re-store.
func (r *resolver) refresh(domain string, qtype wire.Type) ([]wire.Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Client.QueryTimeout)
	defer cancel()
	resp, err := r.resolve(ctx, domain, qtype)
	if err != nil {
		return nil, err
	}
	return resp.Answer, nil
}

// queryPooled sends a length-prefixed query over a pooled TCP/TLS
// connection, used for upstreams configured with pool.PoolConfig.TLSEnabled
// rather than
// pkg/client's ephemeral per-query socket.
func (r *resolver) queryPooled(ctx context.Context, upstream, qname string, qtype wire.Type) (*wire.Message, error) {
	p, err := r.pools.manager.Get(upstream)
	if err != nil {
		return nil, err
	}
	lease, err := p.Acquire()
	if err != nil {
		return nil, err
	}

	req := &wire.Message{
		Header:   wire.Header{ID: uint16(r.rrIndex.Load()), RecursionDesired: true},
		Question: []wire.Question{{Name: qname, Type: qtype, Class: wire.ClassIN}},
	}
	req.SetQuestionCounts()
	buf, err := wire.Encode(req, 65535)
	if err != nil {
		lease.Discard()
		return nil, err
	}

	conn := lease.Conn()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(buf)))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		lease.Discard()
		return nil, err
	}
	if _, err := conn.Write(buf); err != nil {
		lease.Discard()
		return nil, err
	}

	if _, err := readFull(conn, lenPrefix[:]); err != nil {
		lease.Discard()
		return nil, err
	}
	respLen := binary.BigEndian.Uint16(lenPrefix[:])
	respBuf := make([]byte, respLen)
	if _, err := readFull(conn, respBuf); err != nil {
		lease.Discard()
		return nil, err
	}

	resp, err := wire.Decode(respBuf)
	if err != nil {
		lease.Discard()
		return nil, err
	}
	lease.Release()
	return resp, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
