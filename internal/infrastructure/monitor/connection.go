package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/promorang/maturity/internal/infrastructure/buffer"
)

// Probe checks one dependency. Required probes decide IsOnline.
type Probe struct {
	Name     string
	Required bool
	Timeout  time.Duration
	Check    func(ctx context.Context) error
}

// PostgresProbe pings the pool.
func PostgresProbe(pool *pgxpool.Pool) Probe {
	return Probe{
		Name:     "postgresql",
		Required: true,
		Timeout:  3 * time.Second,
		Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	}
}

// RedisProbe pings the client.
func RedisProbe(client redislib.UniversalClient) Probe {
	return Probe{
		Name:     "redis",
		Required: true,
		Timeout:  2 * time.Second,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

type Monitor struct {
	probes []Probe
	buffer *buffer.Store

	status   Status
	mu       sync.RWMutex
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// New builds a monitor. buf may be nil when no offline buffer is used.
func New(buf *buffer.Store, interval time.Duration, logger *zap.Logger, probes ...Probe) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		probes:   probes,
		buffer:   buf,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// IsOnline reports whether every required probe passed on the last refresh.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status.LastCheck.IsZero() {
		return false
	}
	for _, p := range m.probes {
		if p.Required && !m.status.Services[p.Name] {
			return false
		}
	}
	return true
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.status
	out.Services = make(map[string]bool, len(m.status.Services))
	for k, v := range m.status.Services {
		out.Services[k] = v
	}
	return out
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Refresh()
	for {
		select {
		case <-ticker.C:
			m.Refresh()
		case <-m.stopCh:
			return
		}
	}
}

// Refresh runs every probe once and publishes the result.
func (m *Monitor) Refresh() {
	services := make(map[string]bool, len(m.probes)+1)
	for _, p := range m.probes {
		services[p.Name] = m.run(p)
	}

	bufferOK, bufferSize := m.checkBuffer()
	if m.buffer != nil {
		services["buffer"] = bufferOK
	}

	m.mu.Lock()
	previous := m.status.Services
	m.status = Status{
		Services:   services,
		BufferSize: bufferSize,
		LastCheck:  time.Now(),
	}
	m.mu.Unlock()

	for name, ok := range services {
		if was, seen := previous[name]; seen && was != ok {
			m.logger.Info("dependency status changed", zap.String("service", name), zap.Bool("online", ok))
		}
	}
}

func (m *Monitor) run(p Probe) bool {
	if p.Check == nil {
		return false
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Check(ctx); err != nil {
		m.logger.Debug("probe failed", zap.String("service", p.Name), zap.Error(err))
		return false
	}
	return true
}

func (m *Monitor) checkBuffer() (bool, int) {
	if m.buffer == nil {
		return false, 0
	}
	size, err := m.buffer.Size()
	if err != nil {
		m.logger.Warn("buffer size check failed", zap.Error(err))
		return false, size
	}
	return true, size
}
