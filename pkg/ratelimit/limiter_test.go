package ratelimit

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/wire"
)

func fastConfig(algo config.RateLimitAlgorithm) config.RateLimitConfig {
	cfg := config.DefaultRateLimitConfig()
	cfg.Algorithm = algo
	cfg.PerClientLimit = 2
	cfg.PerClientBurst = 2
	cfg.GlobalLimit = 1000
	cfg.GlobalBurst = 1000
	cfg.Window = time.Second
	cfg.ConsecutiveToThrottle = 2
	cfg.ThrottlesToBan = 2
	cfg.ThrottleDuration = 50 * time.Millisecond
	cfg.BanDuration = 50 * time.Millisecond
	cfg.CleanupInterval = 0
	cfg.QTypeLimits = map[string]float64{"ANY": 1}
	return cfg
}

func TestTokenBucketAllowsBurstThenDenies(t *testing.T) {
	l := New(fastConfig(config.RateLimitTokenBucket))
	defer l.Close()
	ip := net.ParseIP("1.2.3.4")

	require.Equal(t, Allow, l.Check(ip, wire.TypeA))
	require.Equal(t, Allow, l.Check(ip, wire.TypeA))
	require.Equal(t, Throttled, l.Check(ip, wire.TypeA))
}

func TestSlidingWindowDenyPastLimit(t *testing.T) {
	l := New(fastConfig(config.RateLimitSlidingWindow))
	defer l.Close()
	ip := net.ParseIP("1.2.3.5")

	require.Equal(t, Allow, l.Check(ip, wire.TypeA))
	require.Equal(t, Allow, l.Check(ip, wire.TypeA))
	require.NotEqual(t, Allow, l.Check(ip, wire.TypeA))
}

func TestFixedWindowResetsAfterWindow(t *testing.T) {
	cfg := fastConfig(config.RateLimitFixedWindow)
	cfg.Window = 30 * time.Millisecond
	l := New(cfg)
	defer l.Close()
	ip := net.ParseIP("1.2.3.6")

	require.Equal(t, Allow, l.Check(ip, wire.TypeA))
	require.Equal(t, Allow, l.Check(ip, wire.TypeA))
	require.NotEqual(t, Allow, l.Check(ip, wire.TypeA))

	time.Sleep(40 * time.Millisecond)
	require.Equal(t, Allow, l.Check(ip, wire.TypeA))
}

func TestLeakyBucketDeniesOverCapacity(t *testing.T) {
	l := New(fastConfig(config.RateLimitLeakyBucket))
	defer l.Close()
	ip := net.ParseIP("1.2.3.7")

	require.Equal(t, Allow, l.Check(ip, wire.TypeA))
	require.Equal(t, Allow, l.Check(ip, wire.TypeA))
	require.NotEqual(t, Allow, l.Check(ip, wire.TypeA))
}

func TestConsecutiveDenialsEscalateToThrottleThenBan(t *testing.T) {
	cfg := fastConfig(config.RateLimitFixedWindow)
	cfg.PerClientLimit = 0
	cfg.PerClientBurst = 0
	cfg.QTypeLimits = nil
	cfg.ConsecutiveToThrottle = 1
	cfg.ThrottlesToBan = 2
	cfg.ThrottleDuration = 10 * time.Millisecond
	cfg.BanDuration = 40 * time.Millisecond
	l := New(cfg)
	defer l.Close()
	ip := net.ParseIP("1.2.3.8")

	require.Equal(t, Throttled, l.Check(ip, wire.TypeA))

	time.Sleep(15 * time.Millisecond)
	require.Equal(t, Banned, l.Check(ip, wire.TypeA))
	require.Equal(t, Banned, l.Check(ip, wire.TypeA))

	time.Sleep(45 * time.Millisecond)
	verdict := l.Check(ip, wire.TypeA)
	require.NotEqual(t, Banned, verdict)
}

func TestDisabledLimiterAlwaysAllows(t *testing.T) {
	cfg := fastConfig(config.RateLimitTokenBucket)
	cfg.Enabled = false
	l := New(cfg)
	defer l.Close()
	for i := 0; i < 10; i++ {
		require.Equal(t, Allow, l.Check(net.ParseIP("1.2.3.9"), wire.TypeA))
	}
}
