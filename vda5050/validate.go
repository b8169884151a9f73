package vda5050

import "fmt"

// ValidateOrder enforces the order sequencing rules before a publish:
// a stamped header (headerId never zero), node sequenceIds even and strictly
// ascending, edge sequenceIds odd and strictly ascending.
func ValidateOrder(o *Order) error {
	if o.HeaderID == 0 {
		return fmt.Errorf("order %s: headerId is zero", o.OrderID)
	}
	if o.OrderID == "" {
		return fmt.Errorf("order without orderId")
	}
	if len(o.Nodes) == 0 {
		return fmt.Errorf("order %s: no nodes", o.OrderID)
	}
	prev := -1
	for _, n := range o.Nodes {
		if n.SequenceID%2 != 0 {
			return fmt.Errorf("order %s: node %s has odd sequenceId %d", o.OrderID, n.NodeID, n.SequenceID)
		}
		if n.SequenceID <= prev {
			return fmt.Errorf("order %s: node %s sequenceId %d not ascending", o.OrderID, n.NodeID, n.SequenceID)
		}
		prev = n.SequenceID
	}
	prev = -1
	for _, e := range o.Edges {
		if e.SequenceID%2 != 1 {
			return fmt.Errorf("order %s: edge %s has even sequenceId %d", o.OrderID, e.EdgeID, e.SequenceID)
		}
		if e.SequenceID <= prev {
			return fmt.Errorf("order %s: edge %s sequenceId %d not ascending", o.OrderID, e.EdgeID, e.SequenceID)
		}
		prev = e.SequenceID
	}
	return nil
}
