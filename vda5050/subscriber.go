package vda5050

import (
	"log/slog"
	"sync"
	"time"
)

// HandlerID identifies a registered callback so it can be removed later.
type HandlerID int

// StateHandler receives decoded state reports.
type StateHandler func(serial string, s *State)

// VisualizationHandler receives decoded visualization reports.
type VisualizationHandler func(serial string, v *Visualization)

// ConnectionHandler receives decoded connection reports.
type ConnectionHandler func(serial string, c *Connection)

// Subscriber subscribes to the inbound robot topics and fans decoded
// messages out to registered callbacks. Routing is purely by topic suffix;
// a message only ever reaches the handlers for its own kind. Undecodable
// payloads and unknown kinds are logged and dropped, never fatal.
type Subscriber struct {
	transport Transport
	topics    Topics
	log       *slog.Logger

	mu          sync.RWMutex
	nextID      HandlerID
	stateHs     map[HandlerID]StateHandler
	visHs       map[HandlerID]VisualizationHandler
	connHs      map[HandlerID]ConnectionHandler
	lastStateAt map[string]time.Time
	serials     map[string]struct{}
	wildcard    bool
}

// NewSubscriber wires a subscriber to its transport. Nothing is subscribed
// until SubscribeRobot or SubscribeAll is called.
func NewSubscriber(t Transport, topics Topics, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{
		transport:   t,
		topics:      topics,
		log:         log,
		stateHs:     make(map[HandlerID]StateHandler),
		visHs:       make(map[HandlerID]VisualizationHandler),
		connHs:      make(map[HandlerID]ConnectionHandler),
		lastStateAt: make(map[string]time.Time),
		serials:     make(map[string]struct{}),
	}
}

// OnState registers a callback for state reports.
func (s *Subscriber) OnState(h StateHandler) HandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.stateHs[s.nextID] = h
	return s.nextID
}

// OnVisualization registers a callback for visualization reports.
func (s *Subscriber) OnVisualization(h VisualizationHandler) HandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.visHs[s.nextID] = h
	return s.nextID
}

// OnConnection registers a callback for connection reports.
func (s *Subscriber) OnConnection(h ConnectionHandler) HandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.connHs[s.nextID] = h
	return s.nextID
}

// Remove deregisters a callback by id.
func (s *Subscriber) Remove(id HandlerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stateHs, id)
	delete(s.visHs, id)
	delete(s.connHs, id)
}

// SubscribeRobot subscribes the three inbound topics for one robot serial.
// A robot already covered by an earlier subscription (including the
// fleet-wide wildcard) is not subscribed again; overlapping filters would
// dispatch every message twice. Reports whether the subscriptions are
// accepted.
func (s *Subscriber) SubscribeRobot(serial string) bool {
	if serial == Wildcard {
		return s.SubscribeAll()
	}
	s.mu.Lock()
	if s.wildcard {
		s.mu.Unlock()
		return true
	}
	if _, ok := s.serials[serial]; ok {
		s.mu.Unlock()
		return true
	}
	s.serials[serial] = struct{}{}
	s.mu.Unlock()
	return s.subscribeTopics(serial)
}

// SubscribeAll subscribes the inbound topics for every robot under the
// configured manufacturer and replaces any per-robot subscriptions.
func (s *Subscriber) SubscribeAll() bool {
	s.mu.Lock()
	if s.wildcard {
		s.mu.Unlock()
		return true
	}
	s.wildcard = true
	serials := make([]string, 0, len(s.serials))
	for sn := range s.serials {
		serials = append(serials, sn)
	}
	s.serials = make(map[string]struct{})
	s.mu.Unlock()

	for _, sn := range serials {
		s.unsubscribeTopics(sn)
	}
	return s.subscribeTopics(Wildcard)
}

// StartSubscribing subscribes the given robots, or the whole fleet when the
// list is empty.
func (s *Subscriber) StartSubscribing(serials ...string) bool {
	if len(serials) == 0 {
		return s.SubscribeAll()
	}
	ok := true
	for _, sn := range serials {
		ok = s.SubscribeRobot(sn) && ok
	}
	return ok
}

// UnsubscribeRobot drops the three inbound subscriptions for one robot. A
// fleet-wide wildcard subscription is unaffected.
func (s *Subscriber) UnsubscribeRobot(serial string) {
	s.mu.Lock()
	_, ok := s.serials[serial]
	delete(s.serials, serial)
	s.mu.Unlock()
	if ok {
		s.unsubscribeTopics(serial)
	}
}

func (s *Subscriber) subscribeTopics(serial string) bool {
	ok := s.transport.Subscribe(s.topics.State(serial), s.dispatch)
	ok = s.transport.Subscribe(s.topics.Visualization(serial), s.dispatch) && ok
	ok = s.transport.Subscribe(s.topics.Connection(serial), s.dispatch) && ok
	return ok
}

func (s *Subscriber) unsubscribeTopics(serial string) {
	s.transport.Unsubscribe(s.topics.State(serial))
	s.transport.Unsubscribe(s.topics.Visualization(serial))
	s.transport.Unsubscribe(s.topics.Connection(serial))
}

// IsRobotOnline reports whether a state report from the robot arrived
// within the given window.
func (s *Subscriber) IsRobotOnline(serial string, within time.Duration) bool {
	s.mu.RLock()
	last, ok := s.lastStateAt[serial]
	s.mu.RUnlock()
	return ok && time.Since(last) <= within
}

// LastStateAt returns when the robot last reported state.
func (s *Subscriber) LastStateAt(serial string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last, ok := s.lastStateAt[serial]
	return last, ok
}

func (s *Subscriber) dispatch(topic string, payload []byte) {
	serial, kind := s.topics.Parse(topic)
	switch kind {
	case TopicState:
		st, err := DecodeState(payload)
		if err != nil {
			s.log.Warn("dropping undecodable state", "topic", topic, "error", err, "payload", truncate(payload, 200))
			return
		}
		if serial != "unknown" {
			s.mu.Lock()
			s.lastStateAt[serial] = time.Now()
			s.mu.Unlock()
		}
		for _, h := range s.stateSnapshot() {
			h(serial, st)
		}
	case TopicVisualization:
		v, err := DecodeVisualization(payload)
		if err != nil {
			s.log.Warn("dropping undecodable visualization", "topic", topic, "error", err, "payload", truncate(payload, 200))
			return
		}
		for _, h := range s.visSnapshot() {
			h(serial, v)
		}
	case TopicConnection:
		c, err := DecodeConnection(payload)
		if err != nil {
			s.log.Warn("dropping undecodable connection", "topic", topic, "error", err, "payload", truncate(payload, 200))
			return
		}
		for _, h := range s.connSnapshot() {
			h(serial, c)
		}
	default:
		s.log.Warn("dropping message with unexpected topic suffix", "topic", topic, "kind", kind)
	}
}

func (s *Subscriber) stateSnapshot() []StateHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hs := make([]StateHandler, 0, len(s.stateHs))
	for _, h := range s.stateHs {
		hs = append(hs, h)
	}
	return hs
}

func (s *Subscriber) visSnapshot() []VisualizationHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hs := make([]VisualizationHandler, 0, len(s.visHs))
	for _, h := range s.visHs {
		hs = append(hs, h)
	}
	return hs
}

func (s *Subscriber) connSnapshot() []ConnectionHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hs := make([]ConnectionHandler, 0, len(s.connHs))
	for _, h := range s.connHs {
		hs = append(hs, h)
	}
	return hs
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
