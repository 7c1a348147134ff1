package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StopFunc releases a component during graceful shutdown.
type StopFunc func(ctx context.Context) error

// RunFunc blocks while a component serves. Returning an error brings the
// whole process down.
type RunFunc func(ctx context.Context) error

// Component is a long-lived part of the service. Either func may be nil.
type Component struct {
	Name string
	Run  RunFunc
	Stop StopFunc
}

// Manager runs components until a termination signal or the first failure,
// then stops them in reverse registration order.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger
	signals bool

	mu         sync.Mutex
	components []Component
	stopped    bool
}

// New creates a lifecycle manager with the desired shutdown timeout.
func New(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
		signals: true,
	}
}

// WithoutSignals disables SIGINT/SIGTERM handling; the caller's context is
// then the only way to stop Run.
func (m *Manager) WithoutSignals() *Manager {
	m.signals = false
	return m
}

// Add registers a component.
func (m *Manager) Add(c Component) {
	if c.Run == nil && c.Stop == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// Register adds a stop-only component.
func (m *Manager) Register(name string, fn StopFunc) {
	m.Add(Component{Name: name, Stop: fn})
}

// Run starts every component with a RunFunc and waits. It returns after all
// components are stopped, joining run and shutdown errors.
func (m *Manager) Run(ctx context.Context) error {
	if m.signals {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer stop()
	}

	m.mu.Lock()
	components := append([]Component(nil), m.components...)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range components {
		if c.Run == nil {
			continue
		}
		g.Go(func() error {
			if err := c.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			return nil
		})
	}

	<-gctx.Done()
	if ctx.Err() != nil {
		m.logger.Info("shutdown requested")
	}

	shutdownErr := m.Shutdown(context.Background())
	return errors.Join(g.Wait(), shutdownErr)
}

// Shutdown stops every component once, respecting the configured timeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true

	var result error
	for i := len(m.components) - 1; i >= 0; i-- {
		c := m.components[i]
		if c.Stop == nil {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			m.logger.Error("shutdown hook failed", zap.String("component", c.Name), zap.Error(err))
			result = errors.Join(result, err)
			continue
		}
		m.logger.Info("component stopped", zap.String("component", c.Name))
	}
	return result
}
