package fleetstate

import (
	"time"

	"fleetlink/vda5050"
)

// RobotSnapshot is the last known picture of one robot, assembled from its
// state, visualization, and connection topics.
type RobotSnapshot struct {
	Serial             string                `json:"serial"`
	Online             bool                  `json:"online"`
	ConnectionState    string                `json:"connectionState"`
	OrderID            string                `json:"orderId"`
	OrderUpdateID      int                   `json:"orderUpdateId"`
	LastNodeID         string                `json:"lastNodeId"`
	LastNodeSequenceID int                   `json:"lastNodeSequenceId"`
	Driving            bool                  `json:"driving"`
	OperatingMode      string                `json:"operatingMode"`
	BatteryCharge      float64               `json:"batteryCharge"`
	Charging           bool                  `json:"charging"`
	Errors             []vda5050.ErrorEntry  `json:"errors,omitempty"`
	Position           *vda5050.AgvPosition  `json:"position,omitempty"`
	Velocity           *vda5050.Velocity     `json:"velocity,omitempty"`
	LastStateAt        time.Time             `json:"lastStateAt"`
	LastSeen           time.Time             `json:"lastSeen"`
}
