// Package health probes the broker path on a fixed interval and wraps the
// results in a circuit breaker that gates outbound operations.
package health

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"fleetlink/config"
	"fleetlink/metric"
)

// Status classifies one health check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded" // reachable but slow; not a breaker failure
	StatusUnhealthy Status = "unhealthy"
)

// CircuitState is the breaker position. Operations are blocked only while
// the circuit is open.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

func circuitMetricValue(s CircuitState) int {
	switch s {
	case CircuitOpen:
		return 1
	case CircuitHalfOpen:
		return 2
	default:
		return 0
	}
}

// historyLimit bounds the kept check results.
const historyLimit = 100

// stopGrace bounds how long Stop waits for an in-flight check.
const stopGrace = 5 * time.Second

// Probe is the transport surface a check exercises.
type Probe interface {
	IsConnected() bool
	Publish(topic string, payload []byte, qos byte, retain bool) bool
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status    Status        `json:"status"`
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Stats is a snapshot of the monitor.
type Stats struct {
	State               CircuitState  `json:"circuitState"`
	TotalChecks         int           `json:"totalChecks"`
	SuccessfulChecks    int           `json:"successfulChecks"`
	FailedChecks        int           `json:"failedChecks"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	AverageLatency      time.Duration `json:"averageLatency"`
	LastStatus          Status        `json:"lastStatus,omitempty"`
	LastCheckedAt       time.Time     `json:"lastCheckedAt"`
}

// TransitionHandler observes breaker transitions.
type TransitionHandler func(from, to CircuitState, consecutiveFailures int)

// Monitor runs the check loop and owns the breaker state machine:
// closed -> open after the configured consecutive failures, open -> half-open
// once the open timeout has passed, half-open -> closed on the next good
// probe or back to open on a bad one.
type Monitor struct {
	cfg     *config.HealthConfig
	probe   Probe
	topic   string
	log     *slog.Logger
	metrics *metric.Metrics

	mu                  sync.RWMutex
	state               CircuitState
	openedAt            time.Time
	consecutiveFailures int
	totalChecks         int
	successfulChecks    int
	failedChecks        int
	history             []CheckResult
	lastResult          CheckResult
	transitionHandlers  []TransitionHandler

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor builds a monitor probing via topic. metrics may be nil.
func NewMonitor(cfg *config.HealthConfig, probe Probe, topic string, m *metric.Metrics, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	mon := &Monitor{
		cfg:     cfg,
		probe:   probe,
		topic:   topic,
		log:     log,
		metrics: m,
		state:   CircuitClosed,
		stopCh:  make(chan struct{}),
	}
	m.RecordCircuitState(circuitMetricValue(CircuitClosed))
	return mon
}

// OnTransition registers a callback for breaker transitions.
func (m *Monitor) OnTransition(h TransitionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionHandlers = append(m.transitionHandlers, h)
}

// Start launches the periodic check loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop ends the check loop and waits for an in-flight check to finish, up
// to stopGrace. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		m.log.Warn("health check loop did not stop in time")
	}
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// IsOperationAllowed reports whether outbound operations may proceed.
// Only a strictly open circuit blocks; half-open lets traffic through so
// the path can prove itself.
func (m *Monitor) IsOperationAllowed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != CircuitOpen
}

// State returns the current breaker position.
func (m *Monitor) State() CircuitState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Check runs one cycle. While the circuit is open and the timeout has not
// passed, nothing is probed. The cycle that finds the timeout elapsed only
// moves the breaker to half-open; the next cycle's probe decides where it
// goes from there.
func (m *Monitor) Check() CheckResult {
	m.mu.Lock()
	if m.state == CircuitOpen {
		if time.Since(m.openedAt) < m.cfg.OpenTimeout {
			last := m.lastResult
			m.mu.Unlock()
			return last
		}
		from, changed := m.transitionLocked(CircuitHalfOpen)
		handlers := m.handlersLocked()
		failures := m.consecutiveFailures
		last := m.lastResult
		m.mu.Unlock()
		if changed {
			m.notify(handlers, from, CircuitHalfOpen, failures)
		}
		return last
	}
	m.mu.Unlock()

	res := m.runProbe()
	m.record(res)
	return res
}

func (m *Monitor) runProbe() CheckResult {
	res := CheckResult{CheckedAt: time.Now()}
	if !m.probe.IsConnected() {
		res.Status = StatusUnhealthy
		res.Message = "transport disconnected"
		return res
	}
	res.Connected = true
	payload, _ := json.Marshal(map[string]string{
		"checkedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
	start := time.Now()
	ok := m.probe.Publish(m.topic, payload, 0, false)
	res.Latency = time.Since(start)
	switch {
	case !ok:
		res.Status = StatusUnhealthy
		res.Message = "probe publish rejected"
	case res.Latency > m.cfg.LatencyThreshold:
		res.Status = StatusDegraded
		res.Message = "probe latency above threshold"
	default:
		res.Status = StatusHealthy
	}
	return res
}

func (m *Monitor) record(res CheckResult) {
	m.metrics.RecordHealthCheck(string(res.Status), res.Latency)

	var (
		from    CircuitState
		to      CircuitState
		changed bool
	)
	m.mu.Lock()
	m.totalChecks++
	if res.Status == StatusUnhealthy {
		m.failedChecks++
		m.consecutiveFailures++
	} else {
		// Degraded is a slow success: it resets the failure streak.
		m.successfulChecks++
		m.consecutiveFailures = 0
	}
	m.history = append(m.history, res)
	if len(m.history) > historyLimit {
		m.history = m.history[1:]
	}
	m.lastResult = res

	switch m.state {
	case CircuitClosed:
		if m.consecutiveFailures >= m.cfg.FailureThreshold {
			from, changed = m.transitionLocked(CircuitOpen)
			to = CircuitOpen
		}
	case CircuitHalfOpen:
		if res.Status == StatusUnhealthy {
			from, changed = m.transitionLocked(CircuitOpen)
			to = CircuitOpen
		} else {
			from, changed = m.transitionLocked(CircuitClosed)
			to = CircuitClosed
		}
	}
	handlers := m.handlersLocked()
	failures := m.consecutiveFailures
	m.mu.Unlock()

	if changed {
		m.notify(handlers, from, to, failures)
	}
}

// transitionLocked moves the breaker; the caller holds the write lock.
func (m *Monitor) transitionLocked(to CircuitState) (CircuitState, bool) {
	from := m.state
	if from == to {
		return from, false
	}
	m.state = to
	switch to {
	case CircuitOpen:
		m.openedAt = time.Now()
	case CircuitClosed:
		m.consecutiveFailures = 0
	}
	m.metrics.RecordCircuitState(circuitMetricValue(to))
	return from, true
}

func (m *Monitor) handlersLocked() []TransitionHandler {
	hs := make([]TransitionHandler, len(m.transitionHandlers))
	copy(hs, m.transitionHandlers)
	return hs
}

func (m *Monitor) notify(handlers []TransitionHandler, from, to CircuitState, failures int) {
	m.log.Warn("circuit transition", "from", from, "to", to, "consecutiveFailures", failures)
	for _, h := range handlers {
		h(from, to, failures)
	}
}

// Stats returns a snapshot of counters and breaker state.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum time.Duration
	measured := 0
	for _, r := range m.history {
		if r.Latency > 0 {
			sum += r.Latency
			measured++
		}
	}
	var avg time.Duration
	if measured > 0 {
		avg = sum / time.Duration(measured)
	}
	return Stats{
		State:               m.state,
		TotalChecks:         m.totalChecks,
		SuccessfulChecks:    m.successfulChecks,
		FailedChecks:        m.failedChecks,
		ConsecutiveFailures: m.consecutiveFailures,
		AverageLatency:      avg,
		LastStatus:          m.lastResult.Status,
		LastCheckedAt:       m.lastResult.CheckedAt,
	}
}

// History returns a copy of the recent check results, oldest first.
func (m *Monitor) History() []CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CheckResult, len(m.history))
	copy(out, m.history)
	return out
}
