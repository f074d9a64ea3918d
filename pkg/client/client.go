// Package client implements the stub resolver that sends queries to a
// specified upstream and decodes the response: one shared UDP listening
// socket demultiplexed by transaction id through a pending-query table, a
// sweeper goroutine that times out stale entries, and TCP fallback on
// truncation.
package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"
	"github.com/wardendns/warden/pkg/wire"
)

// pendingQuery is a query awaiting a response, keyed by transaction id. The
// channel is delivered to exactly once, by whichever of {worker, sweeper}
// observes it first — removal from the map is what makes delivery
// exactly-once.
type pendingQuery struct {
	sentAt time.Time
	ch     chan *wire.Message // nil received value signals timeout
}

// Client is the UDP/TCP stub resolver. One Client owns one UDP socket and
// one background worker/sweeper pair; it is safe for concurrent use by many
// callers.
type Client struct {
	cfg    config.ClientConfig
	logger *logging.Logger

	conn *net.UDPConn
	seq  atomic.Uint32

	mu      sync.Mutex
	pending map[uint16]*pendingQuery

	sent   atomic.Uint64
	failed atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// New binds the shared UDP socket and starts the receive-loop and sweeper
// goroutines.
func New(cfg config.ClientConfig, logger *logging.Logger) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.UDPListenAddress)
	if err != nil {
		return nil, fmt.Errorf("client: resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: bind udp socket: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		conn:    conn,
		pending: make(map[uint16]*pendingQuery),
		closed:  make(chan struct{}),
	}

	go c.recvLoop()
	go c.sweepLoop()

	return c, nil
}

// nextID assigns a 16-bit transaction id from a monotonic counter modulo
// 2^16; wraparound is legal.
func (c *Client) nextID() uint16 {
	return uint16(c.seq.Add(1))
}

// Query sends qname/qtype to server over UDP, falling back to TCP once if
// the UDP response is truncated.
func (c *Client) Query(ctx context.Context, qname string, qtype wire.Type, server string, recursionDesired bool) (*wire.Message, error) {
	msg, err := c.queryUDP(ctx, qname, qtype, server, recursionDesired)
	if err != nil {
		return nil, err
	}
	if !msg.Header.Truncated {
		return msg, nil
	}
	if c.logger != nil {
		c.logger.Debug("truncated UDP response, retrying over TCP", "qname", qname, "server", server)
	}
	return c.QueryTCP(ctx, qname, qtype, server, recursionDesired)
}

func (c *Client) queryUDP(ctx context.Context, qname string, qtype wire.Type, server string, recursionDesired bool) (*wire.Message, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("client: resolve upstream %s: %w", server, err)
	}

	id := c.nextID()
	req := buildQuery(id, qname, qtype, recursionDesired)
	buf, err := wire.Encode(req, 512)
	if err != nil {
		return nil, fmt.Errorf("client: encode query: %w", err)
	}

	pq := &pendingQuery{sentAt: time.Now(), ch: make(chan *wire.Message, 1)}
	c.mu.Lock()
	c.pending[id] = pq
	c.mu.Unlock()

	c.sent.Add(1)
	if _, err := c.conn.WriteToUDP(buf, raddr); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.failed.Add(1)
		return nil, fmt.Errorf("client: send query: %w", err)
	}

	select {
	case msg := <-pq.ch:
		if msg == nil {
			c.failed.Add(1)
			return nil, ErrTimeout
		}
		return msg, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.failed.Add(1)
		return nil, ctx.Err()
	case <-c.closed:
		c.failed.Add(1)
		return nil, ErrLookupFailed
	}
}

// QueryTCP issues a query over a single dedicated TCP connection, framed
// with a two-byte length prefix.
func (c *Client) QueryTCP(ctx context.Context, qname string, qtype wire.Type, server string, recursionDesired bool) (*wire.Message, error) {
	dialer := net.Dialer{Timeout: c.cfg.TCPDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", server)
	if err != nil {
		return nil, fmt.Errorf("client: tcp dial %s: %w", server, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.QueryTimeout))
	}

	id := c.nextID()
	req := buildQuery(id, qname, qtype, recursionDesired)
	buf, err := wire.Encode(req, 65535)
	if err != nil {
		return nil, fmt.Errorf("client: encode query: %w", err)
	}

	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(buf)))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return nil, fmt.Errorf("client: write tcp length prefix: %w", err)
	}
	if _, err := conn.Write(buf); err != nil {
		return nil, fmt.Errorf("client: write tcp query: %w", err)
	}

	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return nil, fmt.Errorf("client: read tcp length prefix: %w", err)
	}
	respLen := binary.BigEndian.Uint16(lenPrefix[:])
	respBuf := make([]byte, respLen)
	if _, err := io.ReadFull(conn, respBuf); err != nil {
		return nil, fmt.Errorf("client: read tcp response: %w", err)
	}

	msg, err := wire.Decode(respBuf)
	if err != nil {
		return nil, fmt.Errorf("client: decode tcp response: %w", err)
	}
	return msg, nil
}

func buildQuery(id uint16, qname string, qtype wire.Type, recursionDesired bool) *wire.Message {
	m := &wire.Message{
		Header:   wire.Header{ID: id, RecursionDesired: recursionDesired},
		Question: []wire.Question{{Name: qname, Type: qtype, Class: wire.ClassIN}},
	}
	m.SetQuestionCounts()
	return m
}

// recvLoop is the single worker that reads every inbound UDP datagram and
// demultiplexes it to the waiting pendingQuery by transaction id.
func (c *Client) recvLoop() {
	buf := make([]byte, 65535)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			continue
		}

		msg, err := wire.Decode(buf[:n])
		if err != nil {
			if c.logger != nil {
				c.logger.Debug("client: dropping undecodable response", "error", err)
			}
			continue
		}

		c.mu.Lock()
		pq, ok := c.pending[msg.Header.ID]
		if ok {
			delete(c.pending, msg.Header.ID)
		}
		c.mu.Unlock()

		if !ok {
			if c.logger != nil {
				c.logger.Debug("client: discarding response for unknown id", "id", msg.Header.ID)
			}
			continue
		}
		pq.ch <- msg
	}
}

// sweepLoop times out pending entries older than QueryTimeout on a fixed
// tick.
func (c *Client) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case now := <-ticker.C:
			var expired []uint16
			c.mu.Lock()
			for id, pq := range c.pending {
				if now.Sub(pq.sentAt) >= c.cfg.QueryTimeout {
					expired = append(expired, id)
				}
			}
			chans := make([]chan *wire.Message, 0, len(expired))
			for _, id := range expired {
				chans = append(chans, c.pending[id].ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()

			for _, ch := range chans {
				ch <- nil
			}
		}
	}
}

// Stats returns (sent, failed) counters.
func (c *Client) Stats() (sent, failed uint64) {
	return c.sent.Load(), c.failed.Load()
}

// Close stops the background goroutines and releases the UDP socket.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return c.conn.Close()
}
