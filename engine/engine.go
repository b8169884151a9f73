// Package engine is the orchestrator: it owns the event bus, builds the
// publisher/subscriber pair over the shared transport, supervises health
// checking and crash persistence, and exposes the operations the HTTP API
// serves.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fleetlink/config"
	"fleetlink/fleetstate"
	"fleetlink/health"
	"fleetlink/metric"
	"fleetlink/persist"
	"fleetlink/store"
	"fleetlink/transport"
	"fleetlink/vda5050"
)

const (
	// reconnectKickThreshold is the failure streak at which an opening
	// circuit also forces a transport reconnect attempt.
	reconnectKickThreshold = 3

	// onlineWindow is how recent a state report must be for a robot to
	// count as online without an explicit ONLINE connection message.
	onlineWindow = 30 * time.Second

	// stopGrace bounds how long Stop waits for the maintenance loop.
	stopGrace = 5 * time.Second
)

// ErrCircuitOpen is returned by publish operations while the breaker blocks
// outbound traffic.
var ErrCircuitOpen = errors.New("operations suspended: circuit open")

// Transport is the broker session the engine supervises.
type Transport interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	Publish(topic string, payload []byte, qos byte, retain bool) bool
	Subscribe(filter string, handler func(topic string, payload []byte)) bool
	Unsubscribe(filter string)
	OnConnectionChange(fn func(connected bool))
	PendingCount() int
	DroppedCount() uint64
	TakePending() []transport.PendingMessage
}

type Config struct {
	AppConfig *config.Config
	Transport Transport
	Health    *health.Monitor
	Persist   *persist.Store
	Fleet     *fleetstate.Manager
	DB        *store.DB
	Metrics   *metric.Metrics
	Logger    *slog.Logger
}

type Engine struct {
	cfg        *config.Config
	transport  Transport
	health     *health.Monitor
	persist    *persist.Store
	fleet      *fleetstate.Manager
	db         *store.DB
	metrics    *metric.Metrics
	log        *slog.Logger
	publisher  *vda5050.Publisher
	subscriber *vda5050.Subscriber

	Events *EventBus

	started   atomic.Bool
	startedAt time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Status is the aggregate picture served on the status endpoint.
type Status struct {
	Operational    bool          `json:"operational"`
	Connected      bool          `json:"connected"`
	CircuitState   string        `json:"circuitState"`
	Health         health.Stats  `json:"health"`
	PendingCount   int           `json:"pendingCount"`
	DroppedCount   uint64        `json:"droppedCount"`
	PersistedCount int           `json:"persistedCount"`
	Persisted      persist.Stats `json:"persisted"`
	RobotsKnown    int           `json:"robotsKnown"`
	RobotsOnline   int           `json:"robotsOnline"`
	UptimeSeconds  int64         `json:"uptimeSeconds"`
	Timestamp      time.Time     `json:"timestamp"`
}

func New(c Config) *Engine {
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:       c.AppConfig,
		transport: c.Transport,
		health:    c.Health,
		persist:   c.Persist,
		fleet:     c.Fleet,
		db:        c.DB,
		metrics:   c.Metrics,
		log:       log,
		Events:    NewEventBus(),
		stopCh:    make(chan struct{}),
	}

	topics := vda5050.Topics{
		Prefix:       e.cfg.Protocol.BasePrefix,
		Manufacturer: e.cfg.Protocol.Manufacturer,
	}
	var gate vda5050.OperationGate
	if c.Health != nil {
		gate = c.Health
	}
	e.publisher = vda5050.NewPublisher(c.Transport, gate,
		&dispatchRecorder{db: c.DB, bus: e.Events, log: log},
		vda5050.PublisherOptions{
			Topics:  topics,
			Version: e.cfg.Protocol.Version,
			QoS:     byte(e.cfg.MQTT.DefaultQoS),
			Retain:  e.cfg.MQTT.RetainByDefault,
		}, log)
	e.subscriber = vda5050.NewSubscriber(c.Transport, topics, log)
	return e
}

// Start brings the backbone up: recover the persisted backlog, connect,
// subscribe fleet-wide, and launch the health and maintenance loops.
func (e *Engine) Start() error {
	e.startedAt = time.Now()

	// Surface whatever a previous shutdown left behind. Recovered messages
	// are logged and counted, not replayed: state reports go stale in
	// seconds and redispatch decisions belong to the operator.
	if msgs, err := e.persist.LoadAll(); err != nil {
		e.log.Warn("load persisted backlog failed", "error", err)
	} else if len(msgs) > 0 {
		e.log.Info("recovered persisted backlog", "count", len(msgs))
		e.Events.Emit(EventBacklogRecovered, BacklogRecoveredEvent{Count: len(msgs)})
	}

	// A restart leaves yesterday's fleet in the mirror.
	if err := e.fleet.SyncRedis(); err != nil {
		e.log.Warn("rebuild redis fleet mirror failed", "error", err)
	}

	e.wireEventHandlers()

	if err := e.transport.Connect(); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	if !e.subscriber.SubscribeAll() {
		e.log.Warn("fleet-wide subscriptions not active yet")
	}
	e.health.Start()
	e.wg.Add(1)
	go e.maintenanceLoop()

	e.started.Store(true)
	e.log.Info("engine started")
	return nil
}

// Stop winds the backbone down in reverse order: the maintenance loop is
// awaited, health checking stops, messages still waiting for the broker are
// persisted, the session closes, and a last expiry pass sweeps the store.
func (e *Engine) Stop() {
	e.started.Store(false)
	e.stopOnce.Do(func() { close(e.stopCh) })

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		e.log.Warn("maintenance loop did not stop in time")
	}

	e.health.Stop()

	if pending := e.transport.TakePending(); len(pending) > 0 {
		msgs := make([]persist.Message, 0, len(pending))
		for _, pm := range pending {
			msgs = append(msgs, persist.NewMessage(pm.Topic, pm.Payload, pm.QoS, pm.Retain, pm.EnqueuedAt))
		}
		if err := e.persist.PersistBatch(msgs); err != nil {
			e.log.Error("persist pending messages failed", "count", len(msgs), "error", err)
		} else {
			e.log.Info("persisted pending messages", "count", len(msgs))
		}
	}

	e.transport.Disconnect()

	if removed := e.persist.CleanupExpired(); removed > 0 {
		e.log.Info("removed expired persistence files", "count", removed)
	}
	e.log.Info("engine stopped")
}

func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Maintenance.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if removed := e.persist.CleanupExpired(); removed > 0 {
				e.log.Info("removed expired persistence files", "count", removed)
			}
			st := e.GetStatus()
			e.log.Info("status",
				"connected", st.Connected,
				"circuit", st.CircuitState,
				"pending", st.PendingCount,
				"robotsOnline", st.RobotsOnline,
				"robotsKnown", st.RobotsKnown)
		}
	}
}

// --- Operations ---

// PublishAssignment turns a transport plan into an order and dispatches it.
// The returned order ID is valid even when the message was queued rather
// than delivered; the order log records which happened.
func (e *Engine) PublishAssignment(plan vda5050.AssignmentPlan) (string, error) {
	if plan.RobotSerial == "" {
		return "", errors.New("assignment needs a robot serial")
	}
	if !e.health.IsOperationAllowed() {
		return "", ErrCircuitOpen
	}
	order := vda5050.BuildOrder(plan)
	if !e.publisher.PublishOrder(plan.RobotSerial, order) {
		e.log.Info("assignment queued for delivery", "orderId", order.OrderID, "robot", plan.RobotSerial)
	}
	return order.OrderID, nil
}

// PublishEmergencyStop halts a robot immediately.
func (e *Engine) PublishEmergencyStop(serial string) error {
	if !e.health.IsOperationAllowed() {
		return ErrCircuitOpen
	}
	e.publisher.PublishEmergencyStop(serial)
	return nil
}

// PublishResume releases a robot from an emergency stop.
func (e *Engine) PublishResume(serial string) error {
	if !e.health.IsOperationAllowed() {
		return ErrCircuitOpen
	}
	e.publisher.PublishResume(serial)
	return nil
}

// PublishCancelOrder aborts a robot's active order.
func (e *Engine) PublishCancelOrder(serial string) error {
	if !e.health.IsOperationAllowed() {
		return ErrCircuitOpen
	}
	e.publisher.PublishCancelOrder(serial)
	return nil
}

// SubscribeRobot subscribes one robot's inbound topics. A no-op when the
// fleet-wide filters already cover the robot.
func (e *Engine) SubscribeRobot(serial string) bool {
	return e.subscriber.SubscribeRobot(serial)
}

// ObserveRobot subscribes one robot's topics and registers callbacks that
// fire only for that robot. Any callback may be nil. The returned cancel
// function removes the callbacks; the topic subscriptions stay, shared with
// the fleet-wide filters.
func (e *Engine) ObserveRobot(serial string, onState vda5050.StateHandler, onVisualization vda5050.VisualizationHandler, onConnection vda5050.ConnectionHandler) (cancel func(), ok bool) {
	var ids []vda5050.HandlerID
	if onState != nil {
		ids = append(ids, e.subscriber.OnState(func(s string, st *vda5050.State) {
			if s == serial {
				onState(s, st)
			}
		}))
	}
	if onVisualization != nil {
		ids = append(ids, e.subscriber.OnVisualization(func(s string, v *vda5050.Visualization) {
			if s == serial {
				onVisualization(s, v)
			}
		}))
	}
	if onConnection != nil {
		ids = append(ids, e.subscriber.OnConnection(func(s string, c *vda5050.Connection) {
			if s == serial {
				onConnection(s, c)
			}
		}))
	}
	cancel = func() {
		for _, id := range ids {
			e.subscriber.Remove(id)
		}
	}
	return cancel, e.subscriber.SubscribeRobot(serial)
}

// IsRobotOnline reports whether a robot looks alive: its connection topic
// says ONLINE, or a state report arrived recently enough.
func (e *Engine) IsRobotOnline(serial string) bool {
	if snap, ok := e.fleet.Get(serial); ok && snap.Online {
		return true
	}
	return e.subscriber.IsRobotOnline(serial, onlineWindow)
}

// GetStatus assembles the aggregate controller status.
func (e *Engine) GetStatus() Status {
	hs := e.health.Stats()
	connected := e.transport.IsConnected()
	return Status{
		Operational:    e.started.Load() && connected && hs.State != health.CircuitOpen,
		Connected:      connected,
		CircuitState:   string(hs.State),
		Health:         hs,
		PendingCount:   e.transport.PendingCount(),
		DroppedCount:   e.transport.DroppedCount(),
		PersistedCount: e.persist.StoredCount(),
		Persisted:      e.persist.Stats(),
		RobotsKnown:    len(e.fleet.GetAll()),
		RobotsOnline:   e.fleet.OnlineCount(),
		UptimeSeconds:  int64(time.Since(e.startedAt).Seconds()),
		Timestamp:      time.Now().UTC(),
	}
}

// --- Read accessors for the HTTP API ---

func (e *Engine) AppConfig() *config.Config { return e.cfg }

func (e *Engine) Robots() []*fleetstate.RobotSnapshot { return e.fleet.GetAll() }

func (e *Engine) Robot(serial string) (*fleetstate.RobotSnapshot, bool) {
	return e.fleet.Get(serial)
}

func (e *Engine) HealthStats() health.Stats { return e.health.Stats() }

func (e *Engine) HealthHistory() []health.CheckResult { return e.health.History() }

// OrderLog returns recent dispatches, newest first. Without a database the
// log is empty.
func (e *Engine) OrderLog(limit int) ([]*store.OrderLogEntry, error) {
	if e.db == nil {
		return nil, nil
	}
	return e.db.ListOrderLog(limit)
}

// OrderDispatches returns every dispatch attempt recorded for one order.
func (e *Engine) OrderDispatches(orderID string) ([]*store.OrderLogEntry, error) {
	if e.db == nil {
		return nil, nil
	}
	return e.db.ListOrderDispatches(orderID)
}

// RobotEvents returns recent robot lifecycle events, newest first.
func (e *Engine) RobotEvents(limit int) ([]*store.RobotEvent, error) {
	if e.db == nil {
		return nil, nil
	}
	return e.db.ListRobotEvents(limit)
}

// RobotEventsBySerial returns recent lifecycle events for one robot.
func (e *Engine) RobotEventsBySerial(serial string, limit int) ([]*store.RobotEvent, error) {
	if e.db == nil {
		return nil, nil
	}
	return e.db.ListRobotEventsBySerial(serial, limit)
}
