package ddos

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardendns/warden/pkg/config"
)

func testConfig() config.DDoSConfig {
	cfg := config.DefaultDDoSConfig()
	cfg.VolumetricWindow = time.Second
	cfg.VolumetricQPSThreshold = 5
	cfg.AmplificationRatio = 10
	cfg.EntropyThreshold = 3.0
	cfg.MaxConnectionsPerIP = 3
	cfg.MitigationDur = 50 * time.Millisecond
	return cfg
}

func TestShannonEntropy(t *testing.T) {
	require.Less(t, shannonEntropy("aaaaaaaa"), shannonEntropy("a8f2k9x1"))
}

func TestAmplificationRatio(t *testing.T) {
	require.Greater(t, amplificationRatio("ANY", 20), amplificationRatio("A", 20))
}

func TestCheckAllowsCleanTraffic(t *testing.T) {
	d := New(testConfig(), nil)
	v := d.Check(Query{ClientIP: net.ParseIP("10.0.0.1"), Domain: "example.com", QType: "A", WireBytes: 40}, time.Now())
	require.True(t, v.Allowed)
	require.Equal(t, ThreatNone, v.ThreatLevel)
}

func TestCheckDetectsVolumetricFlood(t *testing.T) {
	d := New(testConfig(), nil)
	ip := net.ParseIP("10.0.0.2")
	now := time.Now()
	var last Verdict
	for i := 0; i < 10; i++ {
		last = d.Check(Query{ClientIP: ip, Domain: "example.com", QType: "A", WireBytes: 40}, now)
	}
	require.Equal(t, AttackVolumetricFlood, last.AttackType)
	require.GreaterOrEqual(t, last.ThreatLevel, ThreatHigh)
}

func TestCheckDetectsAmplification(t *testing.T) {
	d := New(testConfig(), nil)
	v := d.Check(Query{ClientIP: net.ParseIP("10.0.0.3"), Domain: "x.com", QType: "ANY", WireBytes: 20}, time.Now())
	require.Equal(t, AttackAmplification, v.AttackType)
	require.Equal(t, MitigationRequireCookie, v.Mitigation)
	require.False(t, v.Allowed)
}

func TestCheckDetectsRandomSubdomain(t *testing.T) {
	d := New(testConfig(), nil)
	v := d.Check(Query{ClientIP: net.ParseIP("10.0.0.4"), Domain: "a8f2k9x1z0q7.example.com", QType: "A", WireBytes: 40}, time.Now())
	require.Equal(t, AttackRandomSubdomain, v.AttackType)
	require.Equal(t, MitigationChallenge, v.Mitigation)
	require.False(t, v.Allowed)
	require.Equal(t, uint64(1), d.Stats().EntropyDetections)
}

func TestCheckDetectsConnectionFlood(t *testing.T) {
	cfg := testConfig()
	cfg.VolumetricQPSThreshold = 1000
	d := New(cfg, nil)
	ip := net.ParseIP("10.0.0.5")
	var last Verdict
	for i := 0; i < 5; i++ {
		last = d.Check(Query{ClientIP: ip, Domain: "example.com", QType: "A", WireBytes: 40}, time.Now())
	}
	require.Equal(t, AttackConnectionFlood, last.AttackType)
}

func TestWhitelistBypassesAllSignals(t *testing.T) {
	cfg := testConfig()
	cfg.Whitelist = []string{"10.0.0.9"}
	d := New(cfg, nil)
	v := d.Check(Query{ClientIP: net.ParseIP("10.0.0.9"), Domain: "a8f2k9x1z0q7.example.com", QType: "ANY", WireBytes: 5}, time.Now())
	require.True(t, v.Allowed)
}

func TestBlockIPStaysBlockedUntilExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.AmplificationRatio = 100
	cfg.VolumetricQPSThreshold = 1000
	cfg.MaxConnectionsPerIP = 1000
	d := New(cfg, nil)
	_ = d.AddMitigationRule(&MitigationRule{Name: "subdomain-block", Logic: `AttackType == "random_subdomain"`, Action: MitigationBlockIP, Priority: 200, Enabled: true})
	ip := net.ParseIP("10.0.0.6")
	now := time.Now()

	v := d.Check(Query{ClientIP: ip, Domain: "a8f2k9x1z0q7.example.com", QType: "A", WireBytes: 40}, now)
	require.Equal(t, MitigationBlockIP, v.Mitigation)
	require.False(t, v.Allowed)

	v = d.Check(Query{ClientIP: ip, Domain: "example.com", QType: "A", WireBytes: 40}, now.Add(10*time.Millisecond))
	require.Equal(t, MitigationBlockIP, v.Mitigation, "still within mitigation window")
	require.False(t, v.Allowed)

	v = d.Check(Query{ClientIP: ip, Domain: "example.com", QType: "A", WireBytes: 40}, now.Add(100*time.Millisecond))
	require.NotEqual(t, MitigationBlockIP, v.Mitigation)
}

func TestDisabledDetectorAlwaysAllows(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	d := New(cfg, nil)
	v := d.Check(Query{ClientIP: net.ParseIP("10.0.0.7"), Domain: "a8f2k9x1z0q7.example.com", QType: "ANY", WireBytes: 5}, time.Now())
	require.True(t, v.Allowed)
}

func TestMitigationEngineSelectsByPriority(t *testing.T) {
	e := NewMitigationEngine()
	require.NoError(t, e.AddRule(&MitigationRule{Name: "low", Logic: "ThreatLevel >= 1", Action: MitigationRateLimit, Priority: 1, Enabled: true}))
	require.NoError(t, e.AddRule(&MitigationRule{Name: "high", Logic: "ThreatLevel >= 3", Action: MitigationBlockIP, Priority: 10, Enabled: true}))

	rule, ok := e.Select(ThreatHigh, AttackNone)
	require.True(t, ok)
	require.Equal(t, "high", rule.Name)

	rule, ok = e.Select(ThreatLow, AttackNone)
	require.True(t, ok)
	require.Equal(t, "low", rule.Name)
}
