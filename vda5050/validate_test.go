package vda5050

import (
	"strings"
	"testing"
)

func validTestOrder() *Order {
	return &Order{
		Header:  Header{HeaderID: 1},
		OrderID: "ord-1",
		Nodes: []Node{
			{NodeID: "a", SequenceID: 0},
			{NodeID: "b", SequenceID: 2},
			{NodeID: "c", SequenceID: 4},
		},
		Edges: []Edge{
			{EdgeID: "a-b", SequenceID: 1},
			{EdgeID: "b-c", SequenceID: 3},
		},
	}
}

func TestValidateOrder(t *testing.T) {
	if err := ValidateOrder(validTestOrder()); err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}
}

func TestValidateOrderZeroHeaderID(t *testing.T) {
	o := validTestOrder()
	o.HeaderID = 0
	err := ValidateOrder(o)
	if err == nil {
		t.Fatal("expected error for zero headerId")
	}
	if !strings.Contains(err.Error(), "headerId") {
		t.Errorf("error = %q, want mention of headerId", err)
	}
}

func TestValidateOrderOddNodeSequence(t *testing.T) {
	o := validTestOrder()
	o.Nodes[1].SequenceID = 3
	if err := ValidateOrder(o); err == nil {
		t.Fatal("expected error for odd node sequenceId")
	}
}

func TestValidateOrderEvenEdgeSequence(t *testing.T) {
	o := validTestOrder()
	o.Edges[0].SequenceID = 2
	if err := ValidateOrder(o); err == nil {
		t.Fatal("expected error for even edge sequenceId")
	}
}

func TestValidateOrderNodeSequenceNotAscending(t *testing.T) {
	o := validTestOrder()
	o.Nodes[2].SequenceID = 2
	if err := ValidateOrder(o); err == nil {
		t.Fatal("expected error for repeated node sequenceId")
	}
}

func TestValidateOrderEdgeSequenceNotAscending(t *testing.T) {
	o := validTestOrder()
	o.Edges[1].SequenceID = 1
	if err := ValidateOrder(o); err == nil {
		t.Fatal("expected error for repeated edge sequenceId")
	}
}

func TestValidateOrderNoNodes(t *testing.T) {
	o := validTestOrder()
	o.Nodes = nil
	if err := ValidateOrder(o); err == nil {
		t.Fatal("expected error for order without nodes")
	}
}

func TestValidateOrderMissingOrderID(t *testing.T) {
	o := validTestOrder()
	o.OrderID = ""
	if err := ValidateOrder(o); err == nil {
		t.Fatal("expected error for missing orderId")
	}
}
