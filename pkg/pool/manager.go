package pool

import (
	"crypto/tls"
	"sync"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"
)

// Manager owns one Pool per upstream server address, created lazily on
// first use.
type Manager struct {
	mu     sync.Mutex
	cfg    config.PoolConfig
	logger *logging.Logger
	pools  map[string]*Pool
	tlsCfg *tls.Config
}

// NewManager builds an empty manager. When cfg.TLSEnabled is set, every
// pool it creates shares one *tls.Config built from cfg on first use.
func NewManager(cfg config.PoolConfig, logger *logging.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger, pools: make(map[string]*Pool)}
}

func (m *Manager) tlsConfigFor() *tls.Config {
	if !m.cfg.TLSEnabled {
		return nil
	}
	if m.tlsCfg == nil {
		m.tlsCfg = &tls.Config{InsecureSkipVerify: m.cfg.TLSInsecureSkipVerify} //nolint:gosec // configurable
	}
	return m.tlsCfg
}

// Get returns the pool for server, creating it on first use.
func (m *Manager) Get(server string) (*Pool, error) {
	m.mu.Lock()
	p, ok := m.pools[server]
	m.mu.Unlock()
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[server]; ok {
		return p, nil
	}

	p, err := New(server, m.cfg, m.tlsConfigFor(), m.logger)
	if err != nil {
		return nil, err
	}
	m.pools[server] = p
	return p, nil
}

// Close closes every pool the manager has created.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pools {
		p.Close()
	}
}
