package sourcevalidate

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardendns/warden/pkg/config"
)

func testConfig() config.SourceValidateConfig {
	cfg := config.DefaultSourceValidateConfig()
	cfg.RateWindow = time.Minute
	cfg.MaxQueriesPerSource = 100
	return cfg
}

func TestBogonDetection(t *testing.T) {
	require.True(t, isBogon(net.ParseIP("10.0.0.1")))
	require.True(t, isBogon(net.ParseIP("192.168.1.1")))
	require.True(t, isBogon(net.ParseIP("172.16.0.1")))
	require.True(t, isBogon(net.ParseIP("127.0.0.1")))
	require.False(t, isBogon(net.ParseIP("8.8.8.8")))
}

func TestBCP38Validation(t *testing.T) {
	require.True(t, validateBCP38(net.ParseIP("8.8.8.8")))
	require.True(t, validateBCP38(net.ParseIP("1.1.1.1")))
	require.False(t, validateBCP38(net.ParseIP("0.0.0.0")))
	require.False(t, validateBCP38(net.ParseIP("255.255.255.255")))
}

func TestValidateRejectsBogonSource(t *testing.T) {
	v := New(testConfig(), nil)
	res := v.Validate(nil, net.ParseIP("192.168.1.5"), false)
	require.Equal(t, Invalid, res.Verdict)
}

func TestValidateAcceptsCleanSource(t *testing.T) {
	v := New(testConfig(), nil)
	res := v.Validate(nil, net.ParseIP("8.8.8.8"), false)
	require.Equal(t, Valid, res.Verdict)
	require.EqualValues(t, 1, v.Stats().ValidSources)
}

func TestSourceTrackingCountsQueries(t *testing.T) {
	v := New(testConfig(), nil)
	ip := net.ParseIP("8.8.8.8")
	v.track(ip)
	v.track(ip)
	info := v.sources[ip.String()]
	require.EqualValues(t, 2, info.queryCount)
}

func TestSuspicionScoreAccumulatesAndDecays(t *testing.T) {
	v := New(testConfig(), nil)
	ip := net.ParseIP("8.8.8.8")
	v.track(ip)
	v.bumpSuspicion(ip, 0.3)
	v.bumpSuspicion(ip, 0.2)
	require.InDelta(t, 0.5, v.suspicionScore(ip), 1e-9)

	v.markValidated(ip)
	require.Less(t, v.suspicionScore(ip), 0.5)
}

func TestValidateForcesTCPWhenSuspicionExceedsThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.SuspicionThreshold = 0.1
	v := New(cfg, nil)
	ip := net.ParseIP("8.8.8.8")
	v.track(ip)
	v.bumpSuspicion(ip, 0.9)

	res := v.Validate(nil, ip, false)
	require.Equal(t, ForceTCP, res.Verdict)
}

func TestValidateReturnsSuspiciousOverTCP(t *testing.T) {
	cfg := testConfig()
	cfg.SuspicionThreshold = 0.1
	v := New(cfg, nil)
	ip := net.ParseIP("8.8.8.8")
	v.track(ip)
	v.bumpSuspicion(ip, 0.9)

	res := v.Validate(nil, ip, true)
	require.Equal(t, Suspicious, res.Verdict)
}

func TestCookieIssueAndValidateRoundTrip(t *testing.T) {
	jar := newCookieJar([]byte("secret"))
	ip := net.ParseIP("8.8.8.8")
	clientCookie := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	full := jar.Issue(ip, clientCookie)
	require.Len(t, full, clientCookieSz+serverCookieSz)

	raw := encodeCookieOption(full)
	require.Equal(t, cookieValid, jar.validate(raw, ip, time.Hour))
}

func TestCookieMissingWhenNoOption(t *testing.T) {
	jar := newCookieJar([]byte("secret"))
	require.Equal(t, cookieMissing, jar.validate(nil, net.ParseIP("8.8.8.8"), time.Hour))
}

func TestCookieInvalidWhenUnknown(t *testing.T) {
	jar := newCookieJar([]byte("secret"))
	fake := make([]byte, clientCookieSz+serverCookieSz)
	raw := encodeCookieOption(fake)
	require.Equal(t, cookieInvalid, jar.validate(raw, net.ParseIP("8.8.8.8"), time.Hour))
}

func encodeCookieOption(cookie []byte) []byte {
	out := make([]byte, 4+len(cookie))
	out[0] = 0
	out[1] = ednsOptCookie
	out[2] = byte(len(cookie) >> 8)
	out[3] = byte(len(cookie))
	copy(out[4:], cookie)
	return out
}
