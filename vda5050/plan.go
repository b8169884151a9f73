package vda5050

import "github.com/google/uuid"

// AssignmentPlan is what a route planner hands over for one transport job:
// a robot, a pickup and a dropoff. Coordinates come from the planner; zero
// values pass through unchanged.
type AssignmentPlan struct {
	OrderID     string // generated when empty
	RobotSerial string
	MapID       string
	MaxSpeed    float64
	Pickup      PlanStop
	Dropoff     PlanStop
}

// PlanStop is one end of a transport job.
type PlanStop struct {
	LocationID string
	X          float64
	Y          float64
}

// BuildOrder maps an assignment plan onto a two-node order: pickup at
// sequenceId 0 with a hard pick action, the connecting edge at sequenceId 1,
// dropoff at sequenceId 2 with a hard drop action. The header is stamped at
// publish time.
func BuildOrder(plan AssignmentPlan) *Order {
	pickup := plan.Pickup.LocationID
	if pickup == "" {
		pickup = "pickup"
	}
	dropoff := plan.Dropoff.LocationID
	if dropoff == "" {
		dropoff = "dropoff"
	}
	orderID := plan.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}
	return &Order{
		OrderID: orderID,
		Nodes: []Node{
			{
				NodeID:       pickup,
				SequenceID:   0,
				Released:     true,
				NodePosition: &NodePosition{X: plan.Pickup.X, Y: plan.Pickup.Y, MapID: plan.MapID},
				Actions: []Action{{
					ActionType:   ActionPick,
					ActionID:     uuid.New().String(),
					BlockingType: BlockingHard,
				}},
			},
			{
				NodeID:       dropoff,
				SequenceID:   2,
				Released:     true,
				NodePosition: &NodePosition{X: plan.Dropoff.X, Y: plan.Dropoff.Y, MapID: plan.MapID},
				Actions: []Action{{
					ActionType:   ActionDrop,
					ActionID:     uuid.New().String(),
					BlockingType: BlockingHard,
				}},
			},
		},
		Edges: []Edge{
			{
				EdgeID:          pickup + "-" + dropoff,
				SequenceID:      1,
				Released:        true,
				StartNodeID:     pickup,
				EndNodeID:       dropoff,
				MaxSpeed:        plan.MaxSpeed,
				OrientationType: OrientationTangential,
				Actions:         []Action{},
			},
		},
	}
}

// EmergencyStopAction builds the hard stop instant action.
func EmergencyStopAction() Action {
	return Action{
		ActionType:   ActionStopPause,
		ActionID:     uuid.New().String(),
		BlockingType: BlockingHard,
	}
}

// ResumeAction releases a previous emergency stop. Same action type as the
// stop; the blocking type distinguishes the two.
func ResumeAction() Action {
	return Action{
		ActionType:   ActionStopPause,
		ActionID:     uuid.New().String(),
		BlockingType: BlockingNone,
	}
}

// CancelOrderAction aborts the active order.
func CancelOrderAction() Action {
	return Action{
		ActionType:   ActionCancelOrder,
		ActionID:     uuid.New().String(),
		BlockingType: BlockingHard,
	}
}
