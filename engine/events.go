package engine

const (
	EventTransportConnected EventType = iota + 1
	EventTransportDisconnected
	EventCircuitTransition
	EventOrderPublished
	EventActionPublished
	EventRobotConnection
	EventBacklogRecovered
)

// String names event types for logs and the SSE stream.
func (t EventType) String() string {
	switch t {
	case EventTransportConnected:
		return "transport.connected"
	case EventTransportDisconnected:
		return "transport.disconnected"
	case EventCircuitTransition:
		return "circuit.transition"
	case EventOrderPublished:
		return "order.published"
	case EventActionPublished:
		return "action.published"
	case EventRobotConnection:
		return "robot.connection"
	case EventBacklogRecovered:
		return "backlog.recovered"
	default:
		return "unknown"
	}
}

// --- Event payloads ---

type TransportEvent struct {
	Detail string `json:"detail"`
}

type CircuitTransitionEvent struct {
	From                string `json:"from"`
	To                  string `json:"to"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
}

type OrderPublishedEvent struct {
	OrderID     string `json:"orderId"`
	RobotSerial string `json:"robotSerial"`
	Topic       string `json:"topic"`
	HeaderID    int32  `json:"headerId"`
	Delivered   bool   `json:"delivered"`
}

type ActionPublishedEvent struct {
	ActionType  string `json:"actionType"`
	RobotSerial string `json:"robotSerial"`
	Topic       string `json:"topic"`
	HeaderID    int32  `json:"headerId"`
	Delivered   bool   `json:"delivered"`
}

type RobotConnectionEvent struct {
	Serial string `json:"serial"`
	State  string `json:"state"`
}

type BacklogRecoveredEvent struct {
	Count int `json:"count"`
}
