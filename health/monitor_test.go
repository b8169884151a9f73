package health

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"fleetlink/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProbe struct {
	mu        sync.Mutex
	connected bool
	publishOK bool
	delay     time.Duration
	published []string
}

func (p *fakeProbe) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakeProbe) Publish(topic string, payload []byte, qos byte, retain bool) bool {
	p.mu.Lock()
	delay := p.delay
	ok := p.publishOK
	p.published = append(p.published, topic)
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return ok
}

func (p *fakeProbe) publishCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func (p *fakeProbe) set(connected, publishOK bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
	p.publishOK = publishOK
}

func testHealthConfig() *config.HealthConfig {
	return &config.HealthConfig{
		CheckInterval:    10 * time.Millisecond,
		LatencyThreshold: 50 * time.Millisecond,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Millisecond,
	}
}

func testMonitor(cfg *config.HealthConfig, probe Probe) *Monitor {
	return NewMonitor(cfg, probe, "vda5050/v2/fleetlink/fc-1/healthcheck", nil, testLogger())
}

func TestCheckHealthy(t *testing.T) {
	probe := &fakeProbe{connected: true, publishOK: true}
	mon := testMonitor(testHealthConfig(), probe)

	res := mon.Check()
	if res.Status != StatusHealthy {
		t.Fatalf("status = %q, want %q", res.Status, StatusHealthy)
	}
	if !res.Connected {
		t.Error("Connected = false on a healthy check")
	}
	if res.Message != "" {
		t.Errorf("message = %q, want empty on a healthy check", res.Message)
	}
	if !mon.IsOperationAllowed() {
		t.Fatal("operations should be allowed with a healthy probe")
	}
	stats := mon.Stats()
	if stats.TotalChecks != 1 || stats.SuccessfulChecks != 1 || stats.FailedChecks != 0 {
		t.Fatalf("stats = %+v, want 1 total, 1 successful, 0 failed", stats)
	}
	if probe.published[0] != "vda5050/v2/fleetlink/fc-1/healthcheck" {
		t.Fatalf("probe topic = %q", probe.published[0])
	}
}

func TestCheckUnhealthyWhenDisconnected(t *testing.T) {
	probe := &fakeProbe{connected: false}
	mon := testMonitor(testHealthConfig(), probe)

	res := mon.Check()
	if res.Status != StatusUnhealthy {
		t.Fatalf("status = %q, want %q", res.Status, StatusUnhealthy)
	}
	if res.Connected {
		t.Error("Connected = true with a disconnected probe")
	}
	if res.Message == "" {
		t.Error("unhealthy check should carry a message")
	}
	if probe.publishCount() != 0 {
		t.Fatal("disconnected probe should not publish")
	}
	if got := mon.Stats().ConsecutiveFailures; got != 1 {
		t.Fatalf("consecutiveFailures = %d, want 1", got)
	}
}

func TestDegradedIsSlowSuccess(t *testing.T) {
	cfg := testHealthConfig()
	cfg.LatencyThreshold = time.Millisecond
	probe := &fakeProbe{connected: true, publishOK: true, delay: 5 * time.Millisecond}
	mon := testMonitor(cfg, probe)

	// Build up a failure streak first, then watch one degraded check reset it.
	probe.set(false, false)
	for i := 0; i < 4; i++ {
		mon.Check()
	}
	if got := mon.Stats().ConsecutiveFailures; got != 4 {
		t.Fatalf("consecutiveFailures = %d, want 4", got)
	}

	probe.set(true, true)
	res := mon.Check()
	if res.Status != StatusDegraded {
		t.Fatalf("status = %q, want %q", res.Status, StatusDegraded)
	}
	stats := mon.Stats()
	if stats.ConsecutiveFailures != 0 {
		t.Fatalf("consecutiveFailures = %d, want 0 after degraded check", stats.ConsecutiveFailures)
	}
	if stats.State != CircuitClosed {
		t.Fatalf("state = %q, want %q", stats.State, CircuitClosed)
	}

	// Four more failures still should not open the circuit; the streak restarted.
	probe.set(false, false)
	for i := 0; i < 4; i++ {
		mon.Check()
	}
	if got := mon.State(); got != CircuitClosed {
		t.Fatalf("state = %q, want %q after 4 failures", got, CircuitClosed)
	}
	mon.Check()
	if got := mon.State(); got != CircuitOpen {
		t.Fatalf("state = %q, want %q after 5th failure", got, CircuitOpen)
	}
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	probe := &fakeProbe{connected: false}
	mon := testMonitor(testHealthConfig(), probe)

	for i := 0; i < 4; i++ {
		mon.Check()
		if !mon.IsOperationAllowed() {
			t.Fatalf("operations blocked after %d failures, threshold is 5", i+1)
		}
	}
	mon.Check()
	if mon.State() != CircuitOpen {
		t.Fatalf("state = %q, want %q", mon.State(), CircuitOpen)
	}
	if mon.IsOperationAllowed() {
		t.Fatal("operations should be blocked while the circuit is open")
	}
}

func TestOpenSkipsProbesUntilTimeout(t *testing.T) {
	probe := &fakeProbe{connected: false}
	mon := testMonitor(testHealthConfig(), probe)

	for i := 0; i < 5; i++ {
		mon.Check()
	}
	before := probe.publishCount()

	// Inside the open window nothing is probed and the state holds.
	mon.Check()
	if mon.State() != CircuitOpen {
		t.Fatalf("state = %q, want %q inside open window", mon.State(), CircuitOpen)
	}

	time.Sleep(40 * time.Millisecond)

	// This cycle only transitions; the probe itself waits for the next one.
	mon.Check()
	if mon.State() != CircuitHalfOpen {
		t.Fatalf("state = %q, want %q after open timeout", mon.State(), CircuitHalfOpen)
	}
	if got := probe.publishCount(); got != before {
		t.Fatalf("publish count = %d, want %d (transition cycle must not probe)", got, before)
	}
	if !mon.IsOperationAllowed() {
		t.Fatal("half-open should allow operations")
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	probe := &fakeProbe{connected: false}
	mon := testMonitor(testHealthConfig(), probe)

	for i := 0; i < 5; i++ {
		mon.Check()
	}
	time.Sleep(40 * time.Millisecond)
	mon.Check() // open -> half-open

	probe.set(true, true)
	res := mon.Check()
	if res.Status != StatusHealthy {
		t.Fatalf("status = %q, want %q", res.Status, StatusHealthy)
	}
	stats := mon.Stats()
	if stats.State != CircuitClosed {
		t.Fatalf("state = %q, want %q", stats.State, CircuitClosed)
	}
	if stats.ConsecutiveFailures != 0 {
		t.Fatalf("consecutiveFailures = %d, want 0 after close", stats.ConsecutiveFailures)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	probe := &fakeProbe{connected: false}
	mon := testMonitor(testHealthConfig(), probe)

	for i := 0; i < 5; i++ {
		mon.Check()
	}
	time.Sleep(40 * time.Millisecond)
	mon.Check() // open -> half-open

	mon.Check() // probe still down
	if mon.State() != CircuitOpen {
		t.Fatalf("state = %q, want %q after failed half-open probe", mon.State(), CircuitOpen)
	}
	if mon.IsOperationAllowed() {
		t.Fatal("operations should be blocked after reopening")
	}

	// The open window restarted, so the next check stays put.
	mon.Check()
	if mon.State() != CircuitOpen {
		t.Fatalf("state = %q, want %q inside restarted window", mon.State(), CircuitOpen)
	}
}

func TestTransitionCallbacks(t *testing.T) {
	probe := &fakeProbe{connected: false}
	mon := testMonitor(testHealthConfig(), probe)

	type hop struct{ from, to CircuitState }
	var mu sync.Mutex
	var hops []hop
	mon.OnTransition(func(from, to CircuitState, failures int) {
		mu.Lock()
		hops = append(hops, hop{from, to})
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		mon.Check()
	}
	time.Sleep(40 * time.Millisecond)
	mon.Check()
	probe.set(true, true)
	mon.Check()

	mu.Lock()
	defer mu.Unlock()
	want := []hop{
		{CircuitClosed, CircuitOpen},
		{CircuitOpen, CircuitHalfOpen},
		{CircuitHalfOpen, CircuitClosed},
	}
	if len(hops) != len(want) {
		t.Fatalf("got %d transitions, want %d: %v", len(hops), len(want), hops)
	}
	for i, w := range want {
		if hops[i] != w {
			t.Fatalf("transition %d = %v, want %v", i, hops[i], w)
		}
	}
}

func TestStartStopLoop(t *testing.T) {
	probe := &fakeProbe{connected: true, publishOK: true}
	mon := testMonitor(testHealthConfig(), probe)

	mon.Start()
	deadline := time.Now().Add(2 * time.Second)
	for mon.Stats().TotalChecks < 2 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for periodic checks")
		}
		time.Sleep(5 * time.Millisecond)
	}
	mon.Stop()
	mon.Stop() // idempotent

	after := mon.Stats().TotalChecks
	time.Sleep(50 * time.Millisecond)
	if got := mon.Stats().TotalChecks; got != after {
		t.Fatalf("checks kept running after Stop: %d -> %d", after, got)
	}
}

func TestStopAwaitsInFlightCheck(t *testing.T) {
	probe := &fakeProbe{connected: true, publishOK: true, delay: 60 * time.Millisecond}
	mon := testMonitor(testHealthConfig(), probe)

	mon.Start()
	deadline := time.Now().Add(2 * time.Second)
	for probe.publishCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a probe to start")
		}
		time.Sleep(time.Millisecond)
	}

	mon.Stop()
	if got := mon.Stats().TotalChecks; got == 0 {
		t.Fatal("Stop returned before the in-flight check was recorded")
	}
}

func TestStatsAverageLatency(t *testing.T) {
	probe := &fakeProbe{connected: true, publishOK: true, delay: 2 * time.Millisecond}
	mon := testMonitor(testHealthConfig(), probe)

	mon.Check()
	mon.Check()

	stats := mon.Stats()
	if stats.AverageLatency <= 0 {
		t.Fatalf("averageLatency = %v, want > 0", stats.AverageLatency)
	}
	if stats.LastStatus != StatusHealthy {
		t.Fatalf("lastStatus = %q, want %q", stats.LastStatus, StatusHealthy)
	}
	if len(mon.History()) != 2 {
		t.Fatalf("history length = %d, want 2", len(mon.History()))
	}
}
