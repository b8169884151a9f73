package engine

import (
	"fleetlink/health"
	"fleetlink/vda5050"
)

func (e *Engine) wireEventHandlers() {
	// Broker session changes go onto the bus; the transport itself already
	// handles resubscribe and drain.
	e.transport.OnConnectionChange(func(connected bool) {
		if connected {
			e.Events.Emit(EventTransportConnected, TransportEvent{Detail: "broker session established"})
		} else {
			e.Events.Emit(EventTransportDisconnected, TransportEvent{Detail: "broker session lost"})
		}
	})

	e.health.OnTransition(func(from, to health.CircuitState, failures int) {
		e.Events.Emit(EventCircuitTransition, CircuitTransitionEvent{
			From:                string(from),
			To:                  string(to),
			ConsecutiveFailures: failures,
		})
	})

	// A circuit that opens during a long failure streak while the session is
	// down usually means the broker vanished without a clean disconnect.
	// Kick one reconnect attempt; the transport's own loop takes it from
	// there.
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(CircuitTransitionEvent)
		if ev.To != string(health.CircuitOpen) {
			return
		}
		if ev.ConsecutiveFailures >= reconnectKickThreshold && !e.transport.IsConnected() {
			e.log.Warn("circuit opened while disconnected, forcing reconnect",
				"consecutiveFailures", ev.ConsecutiveFailures)
			go func() {
				if err := e.transport.Connect(); err != nil {
					e.log.Warn("forced reconnect failed", "error", err)
				}
			}()
		}
	}, EventCircuitTransition)

	// Robot topics feed the fleet picture.
	e.subscriber.OnState(func(serial string, st *vda5050.State) {
		e.metrics.RecordReceived(vda5050.TopicState)
		e.fleet.HandleState(serial, st)
	})
	e.subscriber.OnVisualization(func(serial string, v *vda5050.Visualization) {
		e.metrics.RecordReceived(vda5050.TopicVisualization)
		e.fleet.HandleVisualization(serial, v)
	})
	e.subscriber.OnConnection(func(serial string, c *vda5050.Connection) {
		e.metrics.RecordReceived(vda5050.TopicConnection)
		e.fleet.HandleConnection(serial, c)
		e.Events.Emit(EventRobotConnection, RobotConnectionEvent{
			Serial: serial,
			State:  string(c.ConnectionState),
		})
	})
}
