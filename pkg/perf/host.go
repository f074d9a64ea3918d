package perf

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/logging"
)

// shrinkablePool is the subset of pool.Pool the sampler needs, kept as an
// interface so this package does not import pkg/pool directly and tests
// can supply a fake.
type shrinkablePool interface {
	SetMinConnOverride(n int)
}

// HostSample is one point-in-time reading, mirroring 
// systemMetrics shape trimmed to the fields this package acts on.
type HostSample struct {
	MemPercent float64
	MemUsed    uint64
	MemTotal   uint64
}

// HostSampler periodically reads host memory via gopsutil and, when usage
// crosses MemPressurePercent, shrinks the floor every registered pool's
// health sweep replenishes down to.
type HostSampler struct {
	cfg    config.PerfConfig
	logger *logging.Logger

	mu    sync.Mutex
	last  HostSample
	pools []registeredPool

	stop chan struct{}
	done chan struct{}
}

type registeredPool struct {
	pool        shrinkablePool
	reducedMin  int
}

func NewHostSampler(cfg config.PerfConfig, logger *logging.Logger) *HostSampler {
	return &HostSampler{
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Register adds a pool whose min-conn floor should drop to reducedMin
// under memory pressure, and revert to no override once pressure clears.
func (h *HostSampler) Register(p shrinkablePool, reducedMin int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pools = append(h.pools, registeredPool{pool: p, reducedMin: reducedMin})
}

// Start runs the sampling loop until Stop is called. It is a no-op if the
// config disables host sampling.
func (h *HostSampler) Start() {
	if !h.cfg.Enabled || h.cfg.HostSampleInterval <= 0 {
		close(h.done)
		return
	}
	go h.loop()
}

func (h *HostSampler) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.HostSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.sampleOnce()
		}
	}
}

func (h *HostSampler) sampleOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sample := HostSample{}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sample.MemTotal = vm.Total
		sample.MemUsed = vm.Used
		sample.MemPercent = vm.UsedPercent
	} else if h.logger != nil {
		h.logger.Warn("perf: host memory sample failed", "error", err)
	}

	h.mu.Lock()
	h.last = sample
	pools := append([]registeredPool(nil), h.pools...)
	h.mu.Unlock()

	underPressure := h.cfg.MemPressurePercent > 0 && sample.MemPercent >= h.cfg.MemPressurePercent
	for _, rp := range pools {
		if underPressure {
			rp.pool.SetMinConnOverride(rp.reducedMin)
		} else {
			rp.pool.SetMinConnOverride(-1)
		}
	}
}

func (h *HostSampler) Last() HostSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *HostSampler) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	<-h.done
}
