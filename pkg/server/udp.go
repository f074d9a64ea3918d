package server

import (
	"context"
	"errors"
	"net"
)

// serveUDP reads datagrams off conn until it closes or ctx is canceled,
// dispatching each to the handler on its own goroutine so one slow
// resolution never blocks the read loop.
func (s *Server) serveUDP(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, s.cfg.Server.MaxTCPSize) // generous enough for any EDNS0 UDP payload
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])

		go func(packet []byte, addr *net.UDPAddr) {
			resp := s.handler.Handle(ctx, packet, addr.IP, false)
			if resp == nil {
				return
			}
			_, _ = conn.WriteToUDP(resp, addr)
		}(packet, addr)
	}
}
