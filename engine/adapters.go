package engine

import (
	"log/slog"

	"fleetlink/store"
	"fleetlink/vda5050"
)

// dispatchRecorder bridges publisher audit records into the order log and
// the event bus. The publisher calls it inline, so failures are logged and
// swallowed.
type dispatchRecorder struct {
	db  *store.DB
	bus *EventBus
	log *slog.Logger
}

func (r *dispatchRecorder) RecordDispatch(kind, orderID, actionType, serial, topic string, headerID int32, delivered bool) {
	if r.db != nil {
		if err := r.db.AppendDispatch(kind, orderID, actionType, serial, topic, headerID, delivered); err != nil {
			r.log.Warn("append dispatch record failed", "orderId", orderID, "error", err)
		}
	}
	switch kind {
	case vda5050.TopicOrder:
		r.bus.Emit(EventOrderPublished, OrderPublishedEvent{
			OrderID:     orderID,
			RobotSerial: serial,
			Topic:       topic,
			HeaderID:    headerID,
			Delivered:   delivered,
		})
	case vda5050.TopicInstantActions:
		r.bus.Emit(EventActionPublished, ActionPublishedEvent{
			ActionType:  actionType,
			RobotSerial: serial,
			Topic:       topic,
			HeaderID:    headerID,
			Delivered:   delivered,
		})
	}
}
