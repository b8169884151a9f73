// Package vda5050 implements the VDA 5050 wire schema spoken between the
// fleet controller and AGVs: message types, topic conventions, order
// validation, and the publisher/subscriber pair that rides on a Transport.
package vda5050

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wire format for all message timestamps: ISO-8601
// UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the wire format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a wire-format timestamp. Robots are not all strict
// about the millisecond part, so plain RFC 3339 is accepted too.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// BlockingType controls whether an action may run alongside driving and
// other actions.
type BlockingType string

const (
	BlockingNone BlockingType = "NONE" // may run while driving
	BlockingSoft BlockingType = "SOFT" // robot must stand still, other actions allowed
	BlockingHard BlockingType = "HARD" // robot must stand still, no parallel actions
)

// OrientationType describes how an edge orientation is interpreted.
type OrientationType string

const (
	OrientationGlobal     OrientationType = "GLOBAL"
	OrientationTangential OrientationType = "TANGENTIAL"
)

// ConnectionState is reported by robots on the connection topic, usually as
// a retained last-will message.
type ConnectionState string

const (
	ConnectionOnline  ConnectionState = "ONLINE"
	ConnectionOffline ConnectionState = "OFFLINE"
	ConnectionBroken  ConnectionState = "CONNECTIONBROKEN"
)

// Action types the controller issues.
const (
	ActionStopPause   = "stopPause"
	ActionCancelOrder = "cancelOrder"
	ActionPick        = "pick"
	ActionDrop        = "drop"
)

// Action status values reported back in State.ActionStates.
const (
	ActionWaiting      = "WAITING"
	ActionInitializing = "INITIALIZING"
	ActionRunning      = "RUNNING"
	ActionFinished     = "FINISHED"
	ActionFailed       = "FAILED"
)

// Header is the common head of every message on every topic.
type Header struct {
	HeaderID     int32  `json:"headerId"`
	Timestamp    string `json:"timestamp"`
	Version      string `json:"version"`
	Manufacturer string `json:"manufacturer"`
	SerialNumber string `json:"serialNumber"`
}

// Order instructs a robot to traverse a sequence of nodes and edges.
// Node sequenceIds are even, edge sequenceIds odd, interleaved starting at 0.
type Order struct {
	Header
	OrderID       string `json:"orderId"`
	OrderUpdateID int    `json:"orderUpdateId"`
	Nodes         []Node `json:"nodes"`
	Edges         []Edge `json:"edges"`
}

// Node is a waypoint in an order.
type Node struct {
	NodeID       string        `json:"nodeId"`
	SequenceID   int           `json:"sequenceId"`
	Released     bool          `json:"released"`
	NodePosition *NodePosition `json:"nodePosition,omitempty"`
	Actions      []Action      `json:"actions"`
}

// NodePosition places a node on a map.
type NodePosition struct {
	X                     float64 `json:"x"`
	Y                     float64 `json:"y"`
	Theta                 float64 `json:"theta,omitempty"`
	AllowedDeviationXy    float64 `json:"allowedDeviationXy,omitempty"`
	AllowedDeviationTheta float64 `json:"allowedDeviationTheta,omitempty"`
	MapID                 string  `json:"mapId"`
}

// Edge connects two consecutive nodes of an order.
type Edge struct {
	EdgeID          string          `json:"edgeId"`
	SequenceID      int             `json:"sequenceId"`
	Released        bool            `json:"released"`
	StartNodeID     string          `json:"startNodeId"`
	EndNodeID       string          `json:"endNodeId"`
	MaxSpeed        float64         `json:"maxSpeed,omitempty"`
	OrientationType OrientationType `json:"orientationType,omitempty"`
	Actions         []Action        `json:"actions"`
}

// Action is a task attached to a node, an edge, or an instant-actions message.
type Action struct {
	ActionType       string            `json:"actionType"`
	ActionID         string            `json:"actionId"`
	BlockingType     BlockingType      `json:"blockingType"`
	ActionParameters []ActionParameter `json:"actionParameters,omitempty"`
}

// ActionParameter is a free-form key/value argument to an action.
type ActionParameter struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// InstantActions carries actions a robot must execute immediately, outside
// any order context.
type InstantActions struct {
	Header
	Actions []Action `json:"instantActions"`
}

// State is the periodic robot report on the state topic.
type State struct {
	Header
	OrderID            string        `json:"orderId"`
	OrderUpdateID      int           `json:"orderUpdateId"`
	LastNodeID         string        `json:"lastNodeId"`
	LastNodeSequenceID int           `json:"lastNodeSequenceId"`
	Driving            bool          `json:"driving"`
	OperatingMode      string        `json:"operatingMode"`
	BatteryState       BatteryState  `json:"batteryState"`
	Errors             []ErrorEntry  `json:"errors"`
	ActionStates       []ActionState `json:"actionStates"`
}

// BatteryState is the battery section of a state report.
type BatteryState struct {
	BatteryCharge float64 `json:"batteryCharge"`
	Charging      bool    `json:"charging"`
}

// ErrorEntry is one active error reported by a robot.
type ErrorEntry struct {
	ErrorType        string `json:"errorType"`
	ErrorLevel       string `json:"errorLevel"` // WARNING, FATAL
	ErrorDescription string `json:"errorDescription,omitempty"`
}

// ActionState reports progress of a previously dispatched action.
type ActionState struct {
	ActionID          string `json:"actionId"`
	ActionType        string `json:"actionType,omitempty"`
	ActionStatus      string `json:"actionStatus"`
	ResultDescription string `json:"resultDescription,omitempty"`
}

// Visualization is the high-rate position report on the visualization topic.
type Visualization struct {
	Header
	AgvPosition *AgvPosition `json:"agvPosition,omitempty"`
	Velocity    *Velocity    `json:"velocity,omitempty"`
}

// AgvPosition is a robot pose on a map.
type AgvPosition struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
	MapID string  `json:"mapId"`
}

// Velocity is a robot velocity in its own frame.
type Velocity struct {
	VX    float64 `json:"vx"`
	VY    float64 `json:"vy"`
	Omega float64 `json:"omega"`
}

// Connection is the broker-side presence report on the connection topic.
type Connection struct {
	Header
	ConnectionState ConnectionState `json:"connectionState"`
}

// Encode marshals an order to its wire form.
func (o *Order) Encode() ([]byte, error) {
	return json.Marshal(o)
}

// Encode marshals an instant-actions message to its wire form.
func (ia *InstantActions) Encode() ([]byte, error) {
	return json.Marshal(ia)
}

// DecodeState unmarshals a state report.
func DecodeState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &s, nil
}

// DecodeVisualization unmarshals a visualization report.
func DecodeVisualization(data []byte) (*Visualization, error) {
	var v Visualization
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode visualization: %w", err)
	}
	return &v, nil
}

// DecodeConnection unmarshals a connection report.
func DecodeConnection(data []byte) (*Connection, error) {
	var c Connection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode connection: %w", err)
	}
	return &c, nil
}
