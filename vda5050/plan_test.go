package vda5050

import "testing"

func TestBuildOrderSequencing(t *testing.T) {
	o := BuildOrder(AssignmentPlan{
		OrderID:     "job-1",
		RobotSerial: "AGV_7",
		MapID:       "hall-a",
		Pickup:      PlanStop{LocationID: "shelf-12", X: 4.5, Y: 2.0},
		Dropoff:     PlanStop{LocationID: "dock-3", X: 18.0, Y: 7.5},
	})

	if len(o.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(o.Nodes))
	}
	if len(o.Edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(o.Edges))
	}
	if o.Nodes[0].SequenceID != 0 || o.Nodes[1].SequenceID != 2 {
		t.Errorf("node sequenceIds = %d, %d, want 0, 2", o.Nodes[0].SequenceID, o.Nodes[1].SequenceID)
	}
	if o.Edges[0].SequenceID != 1 {
		t.Errorf("edge sequenceId = %d, want 1", o.Edges[0].SequenceID)
	}
	if o.Edges[0].StartNodeID != "shelf-12" || o.Edges[0].EndNodeID != "dock-3" {
		t.Errorf("edge connects %q -> %q, want shelf-12 -> dock-3", o.Edges[0].StartNodeID, o.Edges[0].EndNodeID)
	}
}

func TestBuildOrderActions(t *testing.T) {
	o := BuildOrder(AssignmentPlan{
		OrderID: "job-2",
		Pickup:  PlanStop{LocationID: "shelf-1"},
		Dropoff: PlanStop{LocationID: "dock-1"},
	})

	pickup := o.Nodes[0]
	if len(pickup.Actions) != 1 || pickup.Actions[0].ActionType != ActionPick {
		t.Errorf("pickup actions = %+v, want one pick", pickup.Actions)
	}
	if pickup.Actions[0].BlockingType != BlockingHard {
		t.Errorf("pick blockingType = %q, want HARD", pickup.Actions[0].BlockingType)
	}
	dropoff := o.Nodes[1]
	if len(dropoff.Actions) != 1 || dropoff.Actions[0].ActionType != ActionDrop {
		t.Errorf("dropoff actions = %+v, want one drop", dropoff.Actions)
	}
	if pickup.Actions[0].ActionID == dropoff.Actions[0].ActionID {
		t.Error("pick and drop share an actionId")
	}
}

func TestBuildOrderCoordinates(t *testing.T) {
	o := BuildOrder(AssignmentPlan{
		OrderID: "job-3",
		MapID:   "hall-b",
		Pickup:  PlanStop{LocationID: "a", X: 1.5, Y: 2.5},
		Dropoff: PlanStop{LocationID: "b", X: 3.5, Y: 4.5},
	})

	p := o.Nodes[0].NodePosition
	if p == nil || p.X != 1.5 || p.Y != 2.5 || p.MapID != "hall-b" {
		t.Errorf("pickup position = %+v, want {1.5 2.5 hall-b}", p)
	}
	d := o.Nodes[1].NodePosition
	if d == nil || d.X != 3.5 || d.Y != 4.5 {
		t.Errorf("dropoff position = %+v, want {3.5 4.5}", d)
	}
}

func TestBuildOrderDefaults(t *testing.T) {
	o := BuildOrder(AssignmentPlan{})

	if o.OrderID == "" {
		t.Error("orderId should be generated when the plan has none")
	}
	if o.Nodes[0].NodeID != "pickup" || o.Nodes[1].NodeID != "dropoff" {
		t.Errorf("node ids = %q, %q, want pickup, dropoff", o.Nodes[0].NodeID, o.Nodes[1].NodeID)
	}
	// A zero-coordinate plan still yields positions; resolution is the planner's job.
	if o.Nodes[0].NodePosition == nil {
		t.Error("pickup position missing")
	}
	if !o.Nodes[0].Released || !o.Edges[0].Released {
		t.Error("built order segments should be released")
	}
}

func TestBuildOrderValidates(t *testing.T) {
	o := BuildOrder(AssignmentPlan{OrderID: "job-4"})
	o.HeaderID = 1
	if err := ValidateOrder(o); err != nil {
		t.Fatalf("built order fails validation: %v", err)
	}
}
