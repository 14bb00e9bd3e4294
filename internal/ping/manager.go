package ping

import (
	"fmt"
	"log"
	"sync"
	"time"

	"regionping/internal/models"
	"regionping/internal/probe"
)

// TargetSource resolves the region the page currently has selected.
type TargetSource interface {
	Current() (models.ProbeTarget, error)
	Watch(fn func(models.ProbeTarget)) (unsubscribe func())
}

// Session is the part of a prober the manager drives.
type Session interface {
	Start()
	Stop()
	Snapshot() probe.Snapshot
}

// Factory builds a fresh, idle session for target.
type Factory func(target models.ProbeTarget) Session

// ProberFactory returns a Factory producing websocket probers with opts.
func ProberFactory(opts probe.Options) Factory {
	return func(target models.ProbeTarget) Session {
		return probe.New(target, opts)
	}
}

// Status describes the active session for diagnostics.
type Status struct {
	Result      models.PingResult `json:"result"`
	Target      string            `json:"target,omitempty"`
	State       probe.State       `json:"state"`
	Retries     int               `json:"retries"`
	LastReading time.Time         `json:"last_reading"`
}

// Manager owns the active probing session and is the single source of
// truth for the current latency estimate.
type Manager struct {
	source  TargetSource
	factory Factory
	logger  *log.Logger

	mu          sync.Mutex
	region      models.Region
	session     Session
	generation  uint64
	unsubscribe func()
}

// NewManager creates a manager with no active session.
func NewManager(source TargetSource, factory Factory, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{source: source, factory: factory, logger: logger}
}

// StartPingTest makes sure a session is probing the selected region. A live
// session for the same region is left alone; one that gave up is replaced.
func (m *Manager) StartPingTest() error {
	return m.start(false)
}

// Restart replaces the session even if the region has not changed.
func (m *Manager) Restart() error {
	return m.start(true)
}

func (m *Manager) start(force bool) error {
	target, err := m.source.Current()
	if err != nil {
		return fmt.Errorf("resolve region: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !force && m.activeLocked() && m.region == target.Region {
		return nil
	}
	m.replaceLocked(target)
	return nil
}

func (m *Manager) replaceLocked(target models.ProbeTarget) {
	if m.session != nil {
		m.session.Stop()
	}
	m.generation++
	m.region = target.Region
	m.session = m.factory(target)
	m.session.Start()
	m.logger.Printf("ping: probing %s at %s (session %d)", target.Region, target.Endpoint, m.generation)
}

func (m *Manager) activeLocked() bool {
	if m.session == nil {
		return false
	}
	switch m.session.Snapshot().State {
	case probe.StateGivenUp, probe.StateStopped:
		return false
	}
	return true
}

// ResetPing closes the active session and forgets it.
func (m *Manager) ResetPing() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.session.Stop()
		m.session = nil
	}
}

// GetPingResult returns the latest estimate without touching the network.
// Ping is 0 when unknown.
func (m *Manager) GetPingResult() models.PingResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := models.PingResult{Region: string(m.region)}
	if m.session != nil {
		result.Ping = m.session.Snapshot().LatencyMs
	}
	return result
}

// Status returns the estimate together with the session state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		Result: models.PingResult{Region: string(m.region)},
		State:  probe.StateIdle,
	}
	if m.session == nil {
		return status
	}
	snap := m.session.Snapshot()
	status.Result.Ping = snap.LatencyMs
	status.Target = snap.Target.URL()
	status.State = snap.State
	status.Retries = snap.Retries
	status.LastReading = snap.LastReading
	return status
}

// Generation counts sessions created so far.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Watch restarts probing whenever the source reports a region change.
func (m *Manager) Watch() {
	unsubscribe := m.source.Watch(func(target models.ProbeTarget) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.activeLocked() && m.region == target.Region {
			return
		}
		m.replaceLocked(target)
	})

	m.mu.Lock()
	prev := m.unsubscribe
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Close stops watching and tears down the active session.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	m.ResetPing()
}
