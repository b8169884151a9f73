// Package fleetstate keeps the live fleet picture: one snapshot per robot,
// updated from the robot topics, with an optional Redis mirror and a durable
// event trail for connection changes.
package fleetstate

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"fleetlink/store"
	"fleetlink/vda5050"
)

const mirrorTimeout = 2 * time.Second

// Mirror is an external replica of the fleet picture. RedisStore implements
// it; a nil mirror disables replication.
type Mirror interface {
	SetRobot(ctx context.Context, serial string, snap *RobotSnapshot) error
	FlushAll(ctx context.Context) error
}

// Manager holds snapshots in memory, authoritative because every robot
// report rebuilds them. The mirror and the database are write-through
// extras: either may be nil without changing behavior.
type Manager struct {
	db    *store.DB
	redis Mirror
	log   *slog.Logger

	mu     sync.RWMutex
	robots map[string]*RobotSnapshot
}

func NewManager(db *store.DB, redis Mirror, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		db:     db,
		redis:  redis,
		log:    log,
		robots: make(map[string]*RobotSnapshot),
	}
}

// HandleState folds a state report into the robot's snapshot.
func (m *Manager) HandleState(serial string, st *vda5050.State) {
	now := time.Now()
	m.mu.Lock()
	snap := m.snapshotLocked(serial)
	snap.OrderID = st.OrderID
	snap.OrderUpdateID = st.OrderUpdateID
	snap.LastNodeID = st.LastNodeID
	snap.LastNodeSequenceID = st.LastNodeSequenceID
	snap.Driving = st.Driving
	snap.OperatingMode = st.OperatingMode
	snap.BatteryCharge = st.BatteryState.BatteryCharge
	snap.Charging = st.BatteryState.Charging
	snap.Errors = st.Errors
	snap.LastStateAt = now
	snap.LastSeen = now
	mirror := *snap
	m.mu.Unlock()

	m.mirrorRobot(serial, &mirror)
}

// HandleVisualization folds a position report into the robot's snapshot.
// Visualization arrives at high rate, so it is not mirrored to Redis on its
// own; the next state report carries the position along.
func (m *Manager) HandleVisualization(serial string, v *vda5050.Visualization) {
	m.mu.Lock()
	snap := m.snapshotLocked(serial)
	if v.AgvPosition != nil {
		snap.Position = v.AgvPosition
	}
	if v.Velocity != nil {
		snap.Velocity = v.Velocity
	}
	snap.LastSeen = time.Now()
	m.mu.Unlock()
}

// HandleConnection folds a presence report into the robot's snapshot and
// appends a robot event when the state actually changed.
func (m *Manager) HandleConnection(serial string, c *vda5050.Connection) {
	m.mu.Lock()
	snap := m.snapshotLocked(serial)
	prev := snap.ConnectionState
	snap.ConnectionState = string(c.ConnectionState)
	snap.Online = c.ConnectionState == vda5050.ConnectionOnline
	snap.LastSeen = time.Now()
	mirror := *snap
	m.mu.Unlock()

	if prev != string(c.ConnectionState) {
		m.log.Info("robot connection changed", "serial", serial, "from", prev, "to", c.ConnectionState)
		if m.db != nil {
			if err := m.db.AppendRobotEvent(serial, "connection", string(c.ConnectionState)); err != nil {
				m.log.Warn("append robot event failed", "serial", serial, "error", err)
			}
		}
	}
	m.mirrorRobot(serial, &mirror)
}

// snapshotLocked returns the snapshot for serial, creating it on first sight.
func (m *Manager) snapshotLocked(serial string) *RobotSnapshot {
	snap, ok := m.robots[serial]
	if !ok {
		snap = &RobotSnapshot{Serial: serial}
		m.robots[serial] = snap
	}
	return snap
}

// Get returns a copy of the snapshot for serial.
func (m *Manager) Get(serial string) (*RobotSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.robots[serial]
	if !ok {
		return nil, false
	}
	out := *snap
	return &out, true
}

// GetAll returns copies of all snapshots, sorted by serial.
func (m *Manager) GetAll() []*RobotSnapshot {
	m.mu.RLock()
	out := make([]*RobotSnapshot, 0, len(m.robots))
	for _, snap := range m.robots {
		c := *snap
		out = append(out, &c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// OnlineCount returns how many robots currently report ONLINE.
func (m *Manager) OnlineCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, snap := range m.robots {
		if snap.Online {
			n++
		}
	}
	return n
}

// SyncRedis rebuilds the Redis mirror from memory. Called on startup and
// safe to call again after a Redis outage.
func (m *Manager) SyncRedis() error {
	if m.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.redis.FlushAll(ctx); err != nil {
		return err
	}
	snaps := m.GetAll()
	for _, snap := range snaps {
		if err := m.redis.SetRobot(ctx, snap.Serial, snap); err != nil {
			return err
		}
	}
	m.log.Info("synced robots to redis", "count", len(snaps))
	return nil
}

func (m *Manager) mirrorRobot(serial string, snap *RobotSnapshot) {
	if m.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := m.redis.SetRobot(ctx, serial, snap); err != nil {
		m.log.Warn("redis mirror update failed", "serial", serial, "error", err)
	}
}
