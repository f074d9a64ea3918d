package sourcevalidate

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// The cookie sizes match RFC 7873: an 8-byte client cookie plus an 8-byte
// server cookie, carried in the EDNS0 COOKIE option (option code 10).
const (
	ednsOptCookie  = 10
	clientCookieSz = 8
	serverCookieSz = 8
)

type cookieInfo struct {
	clientIP  net.IP
	createdAt time.Time
	lastUsed  time.Time
	useCount  uint64
}

// cookieJar tracks server cookies this process has issued, mirroring
// SourceValidator's valid_cookies map, keyed by the full 16-byte cookie.
type cookieJar struct {
	mu      sync.Mutex
	secret  []byte
	entries map[string]*cookieInfo
}

func newCookieJar(secret []byte) *cookieJar {
	return &cookieJar{secret: secret, entries: make(map[string]*cookieInfo)}
}

// serverCookie derives an 8-byte tag from the secret, client IP, and a
// timestamp using blake2b — the Go-ecosystem analogue of the original's
// "simplified HMAC" SHA-256 construction, truncated to RFC 7873's 8-byte
// server cookie width.
func serverCookie(secret []byte, clientIP net.IP, ts uint64) [serverCookieSz]byte {
	h, _ := blake2b.New(serverCookieSz, secret)
	h.Write(clientIP.To16())
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], ts)
	h.Write(tsBuf[:])
	var out [serverCookieSz]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Issue builds a fresh 16-byte client+server cookie for clientIP and
// records it, returning the bytes to attach to an EDNS0 COOKIE option.
func (j *cookieJar) Issue(clientIP net.IP, clientCookie []byte) []byte {
	now := time.Now()
	sc := serverCookie(j.secret, clientIP, uint64(now.Unix()))

	out := make([]byte, 0, clientCookieSz+serverCookieSz)
	out = append(out, clientCookie...)
	out = append(out, sc[:]...)

	j.mu.Lock()
	j.entries[string(out)] = &cookieInfo{clientIP: clientIP, createdAt: now, lastUsed: now}
	j.mu.Unlock()
	return out
}

type cookieResult int

const (
	cookieValid cookieResult = iota
	cookieMissing
	cookieInvalid
)

// extractCookie pulls the raw COOKIE option payload from an OPT record's
// option list, encoded as repeated (code uint16, length uint16, data)
// per RFC 6891 §6.1.2.
func extractCookie(rawOptions []byte) ([]byte, bool) {
	off := 0
	for off+4 <= len(rawOptions) {
		code := binary.BigEndian.Uint16(rawOptions[off:])
		length := int(binary.BigEndian.Uint16(rawOptions[off+2:]))
		off += 4
		if off+length > len(rawOptions) {
			return nil, false
		}
		if code == ednsOptCookie {
			return rawOptions[off : off+length], true
		}
		off += length
	}
	return nil, false
}

// validate checks a presented cookie option against lifetime and
// freshness, matching CookieValidation's three-way Valid/Missing/Invalid
// outcome plus the original's lifetime-based eviction.
func (j *cookieJar) validate(rawOptions []byte, clientIP net.IP, lifetime time.Duration) cookieResult {
	raw, ok := extractCookie(rawOptions)
	if !ok {
		return cookieMissing
	}
	if len(raw) != clientCookieSz && len(raw) != clientCookieSz+serverCookieSz {
		return cookieInvalid
	}
	if len(raw) == clientCookieSz {
		// Client-only cookie: nothing to validate against yet, caller
		// should issue a server cookie and ask for a retry.
		return cookieMissing
	}

	j.mu.Lock()
	info, ok := j.entries[string(raw)]
	if ok {
		if time.Since(info.createdAt) > lifetime || !info.clientIP.Equal(clientIP) {
			delete(j.entries, string(raw))
			ok = false
		} else {
			info.lastUsed = time.Now()
			info.useCount++
		}
	}
	j.mu.Unlock()

	if !ok {
		return cookieInvalid
	}
	return cookieValid
}

// sweep drops cookies older than lifetime, mirroring cleanup_old_data's
// cookie half.
func (j *cookieJar) sweep(lifetime time.Duration) {
	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for k, v := range j.entries {
		if now.Sub(v.createdAt) > lifetime {
			delete(j.entries, k)
		}
	}
}
