// Package server wires every pipeline component into the per-query path
// and owns the UDP/TCP listeners: size gate, decode, request-shape check,
// source validation, firewall, rate limiting, DDoS detection, cache,
// resolve-on-miss, cache store, encode, reply.
package server

import (
	"context"
	"net"
	"time"

	"github.com/wardendns/warden/pkg/adaptive"
	"github.com/wardendns/warden/pkg/cache"
	"github.com/wardendns/warden/pkg/client"
	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/ddos"
	"github.com/wardendns/warden/pkg/firewall"
	"github.com/wardendns/warden/pkg/logging"
	"github.com/wardendns/warden/pkg/qmin"
	"github.com/wardendns/warden/pkg/ratelimit"
	"github.com/wardendns/warden/pkg/reqlimits"
	"github.com/wardendns/warden/pkg/retry"
	"github.com/wardendns/warden/pkg/sourcevalidate"
	"github.com/wardendns/warden/pkg/telemetry"
	"github.com/wardendns/warden/pkg/wire"
)

// Handler runs one query through every configured pipeline stage. It holds
// no per-query state; all mutable state lives in the stage components
// themselves, each already safe for concurrent use.
type Handler struct {
	cfg     config.Config
	logger  *logging.Logger
	metrics *telemetry.Metrics

	reqLimits *reqlimits.Limiter
	source    *sourcevalidate.Validator
	firewall  *firewall.Firewall
	rate      *ratelimit.Limiter
	ddos      *ddos.Detector
	cache     *adaptive.Cache

	resolver *resolver
}

// NewHandler assembles every pipeline stage from cfg and returns a Handler
// plus the client.Client it owns (the caller is responsible for closing
// the client on shutdown).
func NewHandler(cfg config.Config, logger *logging.Logger, metrics *telemetry.Metrics) (*Handler, *client.Client, error) {
	cl, err := client.New(cfg.Client, logger)
	if err != nil {
		return nil, nil, err
	}

	breakers := retry.NewRegistry(cfg.Retry)
	pools := newPoolSet(cfg)

	res := newResolver(cfg, logger, cl, breakers, pools)

	base := cache.New(cfg.Cache.ShardCount, cfg.Cache.MaxEntries, logger)
	ac := adaptive.New(base, cfg.Adaptive, res.refresh, logger)

	h := &Handler{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		reqLimits: reqlimits.New(cfg.RequestLimits),
		source:    sourcevalidate.New(cfg.SourceValidate, logger),
		firewall:  firewall.New(cfg.Firewall, logger),
		rate:      ratelimit.New(cfg.RateLimit),
		ddos:      ddos.New(cfg.DDoS, logger),
		cache:     ac,
		resolver:  res,
	}
	return h, cl, nil
}

// Handle runs raw (an undecoded DNS wire packet) through the full pipeline
// and returns the encoded response to write back, or nil if the query
// should be silently dropped.
func (h *Handler) Handle(ctx context.Context, raw []byte, clientIP net.IP, isTCP bool) []byte {
	start := time.Now()

	maxSize := h.cfg.Server.MaxUDPSize
	if isTCP {
		maxSize = h.cfg.Server.MaxTCPSize
	}

	if res := h.checkRawSize(len(raw), clientIP, isTCP); res.Verdict != reqlimits.Accept {
		return nil
	}

	query, err := wire.Decode(raw)
	if err != nil {
		return encodeError(wire.Header{Rcode: wire.ResultServFail}, maxSize)
	}
	if len(query.Question) == 0 {
		return encodeError(wire.Header{ID: query.Header.ID, Response: true, Rcode: wire.ResultServFail}, maxSize)
	}
	q := query.Question[0]

	if limited := h.checkContent(query, clientIP); limited != reqlimits.Accept {
		return refused(query, maxSize)
	}

	switch h.source.Validate(query, clientIP, isTCP).Verdict {
	case sourcevalidate.Invalid:
		return nil
	case sourcevalidate.ForceTCP:
		if !isTCP {
			resp := query.Clone()
			resp.Header.Response = true
			resp.Header.Truncated = true
			return mustEncode(resp, maxSize)
		}
	}

	qtypeLabel := q.Type.String()
	if v := h.firewall.Check(q.Name, clientIP.String(), qtypeLabel); v.Action != firewall.ActionPassthru {
		return mustEncode(firewall.SynthesizeResponse(query, v), maxSize)
	}

	switch h.rate.Check(clientIP, q.Type) {
	case ratelimit.Throttled:
		return refused(query, maxSize)
	case ratelimit.Banned:
		return nil
	}

	ddosVerdict := h.ddos.Check(ddos.Query{
		ClientIP:  clientIP,
		Domain:    q.Name,
		QType:     qtypeLabel,
		WireBytes: len(raw),
	}, start)
	if !ddosVerdict.Allowed {
		if ddosVerdict.Mitigation == ddos.MitigationTarpit {
			return refused(query, maxSize)
		}
		return nil
	}

	status, cached := h.cache.Lookup(q.Name, q.Type)
	var resp *wire.Message
	if status == cache.Miss {
		resp, err = h.resolver.resolve(ctx, q.Name, q.Type)
		if err != nil {
			return servfail(query, maxSize)
		}
		resp.Answer = filterBailiwick(q.Name, resp.Answer)
		resp.Authority = filterBailiwick(q.Name, resp.Authority)
		if len(resp.Answer) > 0 {
			h.cache.Store(resp.Answer, q.Type)
		} else if resp.Header.Rcode == wire.ResultNXDomain {
			h.cache.StoreNXDomain(q.Name, q.Type, uint32(h.cfg.Cache.NegativeTTL.Seconds()))
		}
	} else {
		resp = cached
	}

	resp = resp.Clone()
	resp.Header.ID = query.Header.ID
	resp.Header.RecursionDesired = query.Header.RecursionDesired
	resp.Header.RecursionAvailable = h.cfg.Server.RecursionAvail
	if len(resp.Question) == 0 {
		resp.Question = query.Question
	}

	if h.metrics != nil {
		h.metrics.QueryDuration.Record(ctx, time.Since(start).Seconds())
	}
	return mustEncode(resp, maxSize)
}

// filterBailiwick drops any record whose owner name is not in-bailiwick of
// queried, so an upstream cannot smuggle unrelated records into the cache
// under a victim domain's name.
func filterBailiwick(queried string, records []wire.Record) []wire.Record {
	out := records[:0:0]
	for _, rec := range records {
		if client.InBailiwick(queried, rec.Name) {
			out = append(out, rec)
		}
	}
	return out
}

func (h *Handler) checkRawSize(size int, clientIP net.IP, isTCP bool) reqlimits.Result {
	if isTCP {
		return h.reqLimits.ValidateTCPSize(size, clientIP)
	}
	return h.reqLimits.ValidateUDPSize(size, clientIP)
}

func (h *Handler) checkContent(query *wire.Message, clientIP net.IP) reqlimits.Verdict {
	names := make([]string, len(query.Question))
	for i, q := range query.Question {
		names[i] = q.Name
	}
	return h.reqLimits.ValidateContent(len(query.Question), names, clientIP).Verdict
}

func refused(query *wire.Message, maxSize int) []byte {
	resp := query.Clone()
	resp.Header.Response = true
	resp.Header.Rcode = wire.ResultRefused
	return mustEncode(resp, maxSize)
}

func servfail(query *wire.Message, maxSize int) []byte {
	resp := query.Clone()
	resp.Header.Response = true
	resp.Header.Rcode = wire.ResultServFail
	return mustEncode(resp, maxSize)
}

func encodeError(h wire.Header, maxSize int) []byte {
	h.Response = true
	buf, err := wire.Encode(&wire.Message{Header: h}, maxSize)
	if err != nil {
		return nil
	}
	return buf
}

func mustEncode(m *wire.Message, maxSize int) []byte {
	buf, err := wire.Encode(m, maxSize)
	if err != nil {
		return nil
	}
	return buf
}
