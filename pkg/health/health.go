// Package health tracks the reachability of the report history database.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status represents the current health status.
type Status string

const (
	// StatusHealthy indicates the dependency answers.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the last check failed.
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates no check ran yet.
	StatusUnknown Status = "unknown"
	// StatusDisabled indicates nothing is monitored.
	StatusDisabled Status = "disabled"
)

const (
	defaultCheckInterval = 30 * time.Second
	pingTimeout          = 5 * time.Second
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Monitor periodically pings a dependency and keeps the last outcome.
type Monitor struct {
	mu                  sync.RWMutex
	target              Pinger
	status              Status
	lastCheck           time.Time
	lastError           error
	consecutiveFailures int
	interval            time.Duration
	log                 *slog.Logger
	cancel              context.CancelFunc
	done                chan struct{}
}

// Info contains current health information.
type Info struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// NewMonitor returns a monitor of target. A nil target is reported as disabled.
func NewMonitor(target Pinger) *Monitor {
	status := StatusUnknown
	if target == nil {
		status = StatusDisabled
	}
	return &Monitor{
		target:   target,
		status:   status,
		interval: defaultCheckInterval,
		log:      slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger
func (m *Monitor) SetLogger(log *slog.Logger) {
	m.log = log
}

// SetInterval changes the delay between two checks. It must be called before Start.
func (m *Monitor) SetInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// Start checks once, then keeps checking in the background until ctx is
// done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	if m.target == nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	m.Check(ctx)
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Stop stops the background checks and waits for them to end.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Info returns current health information.
func (m *Monitor) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := Info{
		Status:              m.status,
		LastCheck:           m.lastCheck,
		ConsecutiveFailures: m.consecutiveFailures,
	}
	if m.lastError != nil {
		info.LastError = m.lastError.Error()
	}
	return info
}

// Healthy reports whether the last check succeeded. A disabled monitor is healthy.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status == StatusHealthy || m.status == StatusDisabled
}

// Check pings the target now.
func (m *Monitor) Check(ctx context.Context) {
	if m.target == nil {
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	err := m.target.PingContext(pingCtx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCheck = time.Now()

	if err != nil {
		m.status = StatusUnhealthy
		m.lastError = err
		m.consecutiveFailures++
		m.log.Debug("Database health check failed",
			slog.String("error", err.Error()),
			slog.Int("consecutive_failures", m.consecutiveFailures))
		return
	}

	if m.status == StatusUnhealthy {
		m.log.Info("Database health restored")
	}
	m.status = StatusHealthy
	m.lastError = nil
	m.consecutiveFailures = 0
}
