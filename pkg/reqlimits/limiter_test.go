package reqlimits

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardendns/warden/pkg/config"
)

func testConfig() config.RequestLimitsConfig {
	cfg := config.DefaultRequestLimitsConfig()
	cfg.ViolationsToQuarantine = 2
	cfg.QuarantineWindow = time.Minute
	cfg.QuarantineDuration = time.Minute
	return cfg
}

func TestUDPSizeWithinLimitAccepted(t *testing.T) {
	l := New(testConfig())
	res := l.ValidateUDPSize(400, net.ParseIP("1.2.3.4"))
	require.Equal(t, Accept, res.Verdict)
}

func TestUDPSizeOverLimitRejected(t *testing.T) {
	l := New(testConfig())
	res := l.ValidateUDPSize(4096, net.ParseIP("1.2.3.4"))
	require.Equal(t, TooLarge, res.Verdict)
}

func TestTCPSizeOverLimitRejected(t *testing.T) {
	l := New(testConfig())
	res := l.ValidateTCPSize(100000, net.ParseIP("1.2.3.4"))
	require.Equal(t, TooLarge, res.Verdict)
}

func TestContentTooManyQuestionsRejected(t *testing.T) {
	l := New(testConfig())
	res := l.ValidateContent(5, []string{"example.com."}, net.ParseIP("1.2.3.4"))
	require.Equal(t, TooLarge, res.Verdict)
}

func TestContentNameTooLongRejected(t *testing.T) {
	l := New(testConfig())
	longName := ""
	for i := 0; i < 300; i++ {
		longName += "a"
	}
	res := l.ValidateContent(1, []string{longName}, net.ParseIP("1.2.3.4"))
	require.Equal(t, TooLarge, res.Verdict)
}

func TestRepeatedViolationsQuarantineClient(t *testing.T) {
	l := New(testConfig())
	ip := net.ParseIP("9.9.9.9")

	for i := 0; i < 3; i++ {
		l.ValidateUDPSize(99999, ip)
	}

	res := l.ValidateUDPSize(100, ip)
	require.Equal(t, Quarantined, res.Verdict)
	require.EqualValues(t, 1, l.Stats().ClientsQuarantined)
}

func TestDisabledLimiterAlwaysAccepts(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	l := New(cfg)
	res := l.ValidateUDPSize(999999, net.ParseIP("1.2.3.4"))
	require.Equal(t, Accept, res.Verdict)
}
