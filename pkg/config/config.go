// Package config defines the plain, serialization-friendly configuration
// structs every component takes. Parsing a config *file* is explicitly out
// of this module's scope; these structs exist only so a caller — cmd/wardend, or a test
// — can build one in code or unmarshal it from YAML with no core package
// ever touching a filesystem path itself. Style (yaml tags, Default()
// constructors) is uniform across every subsystem's config struct.
package config

import "time"

// Config aggregates every component's configuration into one top-level
// struct.
type Config struct {
	Logging        LoggingConfig        `yaml:"logging"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Server         ServerConfig         `yaml:"server"`
	Cache          CacheConfig          `yaml:"cache"`
	Adaptive       AdaptiveCacheConfig  `yaml:"adaptive_cache"`
	Client         ClientConfig         `yaml:"client"`
	Pool           PoolConfig           `yaml:"connection_pool"`
	Retry          RetryConfig          `yaml:"retry"`
	SourceValidate SourceValidateConfig `yaml:"source_validation"`
	RequestLimits  RequestLimitsConfig  `yaml:"request_limits"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Firewall       FirewallConfig       `yaml:"firewall"`
	DDoS           DDoSConfig           `yaml:"ddos"`
	QnameMin       QnameMinConfig       `yaml:"qname_minimization"`
	Perf           PerfConfig           `yaml:"performance"`
	Storage        StorageConfig        `yaml:"storage"`
	Upstreams      []string             `yaml:"upstreams"`
	RootHints      []string             `yaml:"root_hints"`
}

// Default returns a Config with every subsystem's defaults, so every
// config struct has a safe zero-touch default.
func Default() Config {
	return Config{
		Logging:        DefaultLoggingConfig(),
		Telemetry:      DefaultTelemetryConfig(),
		Server:         DefaultServerConfig(),
		Cache:          DefaultCacheConfig(),
		Adaptive:       DefaultAdaptiveCacheConfig(),
		Client:         DefaultClientConfig(),
		Pool:           DefaultPoolConfig(),
		Retry:          DefaultRetryConfig(),
		SourceValidate: DefaultSourceValidateConfig(),
		RequestLimits:  DefaultRequestLimitsConfig(),
		RateLimit:      DefaultRateLimitConfig(),
		Firewall:       DefaultFirewallConfig(),
		DDoS:           DefaultDDoSConfig(),
		QnameMin:       DefaultQnameMinConfig(),
		Perf:           DefaultPerfConfig(),
		Storage:        DefaultStorageConfig(),
		Upstreams:      []string{"1.1.1.1:53", "8.8.8.8:53"},
		RootHints:      []string{"198.41.0.4:53", "199.9.14.201:53", "192.33.4.12:53"},
	}
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`  // debug|info|warn|error
	Format    string `yaml:"format"` // json|text
	Output    string `yaml:"output"` // stdout|stderr|file
	FilePath  string `yaml:"file_path"`
	AddSource bool   `yaml:"add_source"`
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "text", Output: "stdout"}
}

// TelemetryConfig configures pkg/telemetry.
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	TracingEnabled    bool   `yaml:"tracing_enabled"`
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:           true,
		ServiceName:       "warden",
		ServiceVersion:    "dev",
		PrometheusEnabled: true,
		PrometheusPort:    9153,
	}
}

// ServerConfig configures pkg/server.
type ServerConfig struct {
	UDPAddress     string        `yaml:"udp_address"`
	TCPAddress     string        `yaml:"tcp_address"`
	UDPEnabled     bool          `yaml:"udp_enabled"`
	TCPEnabled     bool          `yaml:"tcp_enabled"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxUDPSize     int           `yaml:"max_udp_size"`
	MaxTCPSize     int           `yaml:"max_tcp_size"`
	RecursionAvail bool          `yaml:"recursion_available"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		UDPAddress:     ":53",
		TCPAddress:     ":53",
		UDPEnabled:     true,
		TCPEnabled:     true,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   2 * time.Second,
		MaxUDPSize:     512,
		MaxTCPSize:     65535,
		RecursionAvail: true,
	}
}

// CacheConfig configures pkg/cache.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxEntries  int           `yaml:"max_entries"`
	ShardCount  int           `yaml:"shard_count"`
	MinTTL      time.Duration `yaml:"min_ttl"`
	MaxTTL      time.Duration `yaml:"max_ttl"`
	NegativeTTL time.Duration `yaml:"negative_ttl"`
	BlockedTTL  time.Duration `yaml:"blocked_ttl"`
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:     true,
		MaxEntries:  100_000,
		ShardCount:  32,
		MinTTL:      5 * time.Second,
		MaxTTL:      24 * time.Hour,
		NegativeTTL: 5 * time.Minute,
		BlockedTTL:  time.Hour,
	}
}

// AdaptiveCacheConfig configures pkg/adaptive.
type AdaptiveCacheConfig struct {
	Enabled            bool    `yaml:"enabled"`
	MinTTL             uint32  `yaml:"min_ttl_seconds"`
	MaxTTL             uint32  `yaml:"max_ttl_seconds"`
	PrefetchThreshold  float64 `yaml:"prefetch_threshold"`
	PrefetchWorkers    int     `yaml:"prefetch_workers"`
	PrefetchQueueSize  int     `yaml:"prefetch_queue_size"`
	PrefetchLeadFactor float64 `yaml:"prefetch_lead_factor"` // fraction of TTL remaining that triggers prefetch
}

func DefaultAdaptiveCacheConfig() AdaptiveCacheConfig {
	return AdaptiveCacheConfig{
		Enabled:            true,
		MinTTL:             30,
		MaxTTL:             86400,
		PrefetchThreshold:  0.6,
		PrefetchWorkers:    4,
		PrefetchQueueSize:  1024,
		PrefetchLeadFactor: 0.1,
	}
}

// ClientConfig configures pkg/client.
type ClientConfig struct {
	UDPListenAddress string        `yaml:"udp_listen_address"` // "" or ":0" picks an ephemeral port
	QueryTimeout     time.Duration `yaml:"query_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	TCPDialTimeout   time.Duration `yaml:"tcp_dial_timeout"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		UDPListenAddress: ":0",
		QueryTimeout:     time.Second,
		SweepInterval:    100 * time.Millisecond,
		TCPDialTimeout:   2 * time.Second,
	}
}

// PoolConfig configures pkg/pool.
type PoolConfig struct {
	MinConn                 int           `yaml:"min_conn"`
	MaxConn                 int           `yaml:"max_conn"`
	MaxQueriesPerConnection int           `yaml:"max_queries_per_connection"`
	IdleTimeout             time.Duration `yaml:"idle_timeout"`
	ConnectTimeout          time.Duration `yaml:"connect_timeout"`
	MaxConnAge              time.Duration `yaml:"max_conn_age"`
	HealthSweepInterval     time.Duration `yaml:"health_sweep_interval"`
	WarmStart               bool          `yaml:"warm_start"`
	TLSEnabled              bool          `yaml:"tls_enabled"`
	TLSInsecureSkipVerify   bool          `yaml:"tls_insecure_skip_verify"`
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConn:                 2,
		MaxConn:                 16,
		MaxQueriesPerConnection: 10_000,
		IdleTimeout:             30 * time.Second,
		ConnectTimeout:          3 * time.Second,
		MaxConnAge:              5 * time.Minute,
		HealthSweepInterval:     15 * time.Second,
		WarmStart:               true,
	}
}

// RetryConfig configures pkg/retry.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	Multiplier        float64       `yaml:"multiplier"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	JitterFraction    float64       `yaml:"jitter_fraction"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	SuccessThreshold  int           `yaml:"success_threshold"`
	OpenDuration      time.Duration `yaml:"open_duration"`
	HalfOpenTimeout   time.Duration `yaml:"half_open_timeout"`
	FailureWindow     time.Duration `yaml:"failure_window"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:      3,
		InitialBackoff:   100 * time.Millisecond,
		Multiplier:       2.0,
		MaxBackoff:       5 * time.Second,
		JitterFraction:   0.2,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenDuration:     30 * time.Second,
		HalfOpenTimeout:  10 * time.Second,
		FailureWindow:    60 * time.Second,
	}
}

// SourceValidateConfig configures pkg/sourcevalidate.
type SourceValidateConfig struct {
	Enabled            bool          `yaml:"enabled"`
	RejectBogons       bool          `yaml:"reject_bogons"`
	CookiesEnabled      bool          `yaml:"cookies_enabled"`
	CookieSecret       string        `yaml:"cookie_secret"`
	CookieLifetime     time.Duration `yaml:"cookie_lifetime"`
	SuspicionThreshold float64       `yaml:"suspicion_threshold"`
	ScoreDecayPerHit   float64       `yaml:"score_decay_per_hit"`
	RateWindow         time.Duration `yaml:"rate_window"`
	MaxQueriesPerSource int          `yaml:"max_queries_per_source"`
}

func DefaultSourceValidateConfig() SourceValidateConfig {
	return SourceValidateConfig{
		Enabled:            true,
		RejectBogons:       true,
		CookiesEnabled:     false,
		CookieLifetime:     5 * time.Minute,
		SuspicionThreshold: 0.8,
		ScoreDecayPerHit:   0.02,
		RateWindow:         10 * time.Second,
		MaxQueriesPerSource: 1000,
	}
}

// RequestLimitsConfig configures pkg/reqlimits.
type RequestLimitsConfig struct {
	Enabled             bool          `yaml:"enabled"`
	MaxUDPSize          int           `yaml:"max_udp_size"`
	MaxTCPSize          int           `yaml:"max_tcp_size"`
	MaxQuestionCount    int           `yaml:"max_question_count"`
	MaxNameLength       int           `yaml:"max_name_length"`
	ViolationsToQuarantine int        `yaml:"violations_to_quarantine"`
	QuarantineWindow    time.Duration `yaml:"quarantine_window"`
	QuarantineDuration  time.Duration `yaml:"quarantine_duration"`
}

func DefaultRequestLimitsConfig() RequestLimitsConfig {
	return RequestLimitsConfig{
		Enabled:                true,
		MaxUDPSize:             512,
		MaxTCPSize:             65535,
		MaxQuestionCount:       1,
		MaxNameLength:          253,
		ViolationsToQuarantine: 5,
		QuarantineWindow:       time.Minute,
		QuarantineDuration:     10 * time.Minute,
	}
}

// RateLimitAlgorithm selects which algorithm pkg/ratelimit.New builds.
type RateLimitAlgorithm string

const (
	RateLimitTokenBucket    RateLimitAlgorithm = "token_bucket"
	RateLimitSlidingWindow  RateLimitAlgorithm = "sliding_window"
	RateLimitFixedWindow    RateLimitAlgorithm = "fixed_window"
	RateLimitLeakyBucket    RateLimitAlgorithm = "leaky_bucket"
	RateLimitAdaptive       RateLimitAlgorithm = "adaptive"
)

// RateLimitConfig configures pkg/ratelimit.
type RateLimitConfig struct {
	Enabled             bool               `yaml:"enabled"`
	Algorithm           RateLimitAlgorithm `yaml:"algorithm"`
	PerClientLimit      float64            `yaml:"per_client_limit"`
	PerClientBurst      int                `yaml:"per_client_burst"`
	GlobalLimit         float64            `yaml:"global_limit"`
	GlobalBurst         int                `yaml:"global_burst"`
	Window              time.Duration      `yaml:"window"`
	ConsecutiveToThrottle int              `yaml:"consecutive_to_throttle"`
	ThrottlesToBan      int                `yaml:"throttles_to_ban"`
	ThrottleDuration    time.Duration      `yaml:"throttle_duration"`
	BanDuration         time.Duration      `yaml:"ban_duration"`
	CleanupInterval     time.Duration      `yaml:"cleanup_interval"`
	IdleEviction        time.Duration      `yaml:"idle_eviction"`
	QTypeLimits         map[string]float64 `yaml:"qtype_limits"` // e.g. ANY, TXT, DNSKEY
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:               true,
		Algorithm:             RateLimitTokenBucket,
		PerClientLimit:        20,
		PerClientBurst:        40,
		GlobalLimit:           5000,
		GlobalBurst:           10000,
		Window:                time.Second,
		ConsecutiveToThrottle: 5,
		ThrottlesToBan:        3,
		ThrottleDuration:      30 * time.Second,
		BanDuration:           10 * time.Minute,
		CleanupInterval:       time.Minute,
		IdleEviction:          5 * time.Minute,
		QTypeLimits:           map[string]float64{"ANY": 1, "TXT": 5, "DNSKEY": 5},
	}
}

// FirewallConfig configures pkg/firewall.
type FirewallConfig struct {
	Enabled         bool           `yaml:"enabled"`
	DefaultCategory string         `yaml:"default_category"`
	Whitelist       []string       `yaml:"whitelist"`
	Policies        []PolicyConfig `yaml:"policies"`
	ZoneFile        string         `yaml:"zone_file"` // optional RPZ zone file, hot-reloaded by cmd/wardend
}

// PolicyConfig is one inline RPZ policy entry, unmarshaled straight into
// firewall.Policy by cmd/wardend.
type PolicyConfig struct {
	Domain     string `yaml:"domain"`
	Action     string `yaml:"action"`
	Category   string `yaml:"category"`
	RedirectTo string `yaml:"redirect_to"`
	Message    string `yaml:"message"`
	Priority   int    `yaml:"priority"`
}

func DefaultFirewallConfig() FirewallConfig {
	return FirewallConfig{Enabled: true, DefaultCategory: "uncategorized"}
}

// DDoSConfig configures pkg/ddos.
type DDoSConfig struct {
	Enabled                bool          `yaml:"enabled"`
	VolumetricWindow       time.Duration `yaml:"volumetric_window"`
	VolumetricQPSThreshold float64       `yaml:"volumetric_qps_threshold"`
	AmplificationRatio     float64       `yaml:"amplification_ratio"`
	EntropyThreshold       float64       `yaml:"entropy_threshold"`
	MaxConnectionsPerIP    int           `yaml:"max_connections_per_ip"`
	MitigationDur          time.Duration `yaml:"mitigation_duration"`
	Whitelist              []string      `yaml:"whitelist"`
}

// MitigationDuration returns how long a BlockIp mitigation holds a client,
// falling back to a safe default when unset.
func (c DDoSConfig) MitigationDuration() time.Duration {
	if c.MitigationDur <= 0 {
		return 5 * time.Minute
	}
	return c.MitigationDur
}

func DefaultDDoSConfig() DDoSConfig {
	return DDoSConfig{
		Enabled:                true,
		VolumetricWindow:       60 * time.Second,
		VolumetricQPSThreshold: 200,
		AmplificationRatio:     15,
		EntropyThreshold:       3.5,
		MaxConnectionsPerIP:    100,
		MitigationDur:          5 * time.Minute,
	}
}

// QnameMinConfig configures pkg/qmin.
type QnameMinConfig struct {
	Enabled      bool          `yaml:"enabled"`
	NSCacheTTL   time.Duration `yaml:"ns_cache_ttl"`
	MaxLabels    int           `yaml:"max_labels"`
	StepTimeout  time.Duration `yaml:"step_timeout"`
}

func DefaultQnameMinConfig() QnameMinConfig {
	return QnameMinConfig{Enabled: false, NSCacheTTL: 10 * time.Minute, MaxLabels: 24, StepTimeout: time.Second}
}

// PerfConfig configures pkg/perf.
type PerfConfig struct {
	Enabled           bool          `yaml:"enabled"`
	TargetResponseMS  int           `yaml:"target_response_ms"`
	SampleWindow      int           `yaml:"sample_window"`
	HostSampleInterval time.Duration `yaml:"host_sample_interval"`
	MemPressurePercent float64      `yaml:"mem_pressure_percent"`
}

func DefaultPerfConfig() PerfConfig {
	return PerfConfig{
		Enabled:            true,
		TargetResponseMS:   10,
		SampleWindow:       10000,
		HostSampleInterval: 15 * time.Second,
		MemPressurePercent: 85,
	}
}

// StorageConfig configures pkg/storage.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{Driver: "memory", DSN: "file::memory:?cache=shared"}
}
