package vda5050

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// Transport is the broker session the publisher and subscriber ride on.
// Publish reports whether the message was handed to the broker; a false
// return means it was queued for later delivery or dropped. Subscribe
// reports whether the subscription was accepted.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retain bool) bool
	Subscribe(filter string, handler func(topic string, payload []byte)) bool
	Unsubscribe(filter string)
}

// OperationGate is consulted before every outbound publish. The health
// monitor's circuit breaker implements it; a nil gate always allows.
type OperationGate interface {
	IsOperationAllowed() bool
}

// DispatchRecorder receives an audit record for every outbound publish
// attempt. Implementations must return quickly and never panic the caller.
type DispatchRecorder interface {
	RecordDispatch(kind, orderID, actionType, serial, topic string, headerID int32, delivered bool)
}

// PublisherOptions carries the protocol identity stamped on every message.
type PublisherOptions struct {
	Topics  Topics
	Version string
	QoS     byte
	Retain  bool
}

// Publisher stamps, validates and publishes outbound orders and instant
// actions. Safe for concurrent use.
type Publisher struct {
	transport Transport
	gate      OperationGate
	recorder  DispatchRecorder
	opts      PublisherOptions
	log       *slog.Logger

	headers headerCounter
}

// NewPublisher wires a publisher to its transport. gate and recorder may be
// nil.
func NewPublisher(t Transport, gate OperationGate, rec DispatchRecorder, opts PublisherOptions, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		transport: t,
		gate:      gate,
		recorder:  rec,
		opts:      opts,
		log:       log,
	}
}

// headerCounter hands out header ids: strictly increasing, never zero,
// wrapping from the maximum back to 1.
type headerCounter struct {
	v atomic.Int32
}

func (c *headerCounter) next() int32 {
	for {
		cur := c.v.Load()
		next := cur + 1
		if cur == math.MaxInt32 {
			next = 1
		}
		if c.v.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// stamp fills the header in place. A caller-preset header id is kept so
// retransmissions keep their identity; only an unset (zero) id draws from
// the counter.
func (p *Publisher) stamp(h *Header, serial string) {
	if h.HeaderID == 0 {
		h.HeaderID = p.headers.next()
	}
	h.Timestamp = FormatTimestamp(time.Now())
	h.Version = p.opts.Version
	h.Manufacturer = p.opts.Topics.Manufacturer
	h.SerialNumber = serial
}

func (p *Publisher) allowed() bool {
	return p.gate == nil || p.gate.IsOperationAllowed()
}

func (p *Publisher) record(kind, orderID, actionType, serial, topic string, headerID int32, delivered bool) {
	if p.recorder != nil {
		p.recorder.RecordDispatch(kind, orderID, actionType, serial, topic, headerID, delivered)
	}
}

// PublishOrder stamps the order header, validates the sequencing rules and
// publishes to the robot's order topic. Returns whether the message reached
// the broker.
func (p *Publisher) PublishOrder(serial string, o *Order) bool {
	p.stamp(&o.Header, serial)
	if err := ValidateOrder(o); err != nil {
		p.log.Error("rejecting invalid order", "robot", serial, "error", err)
		return false
	}
	topic := p.opts.Topics.Order(serial)
	if !p.allowed() {
		p.log.Warn("order publish blocked, circuit open", "robot", serial, "orderId", o.OrderID)
		p.record(TopicOrder, o.OrderID, "", serial, topic, o.HeaderID, false)
		return false
	}
	payload, err := o.Encode()
	if err != nil {
		p.log.Error("encode order", "robot", serial, "orderId", o.OrderID, "error", err)
		return false
	}
	ok := p.transport.Publish(topic, payload, p.opts.QoS, p.opts.Retain)
	if ok {
		p.log.Info("order published", "robot", serial, "orderId", o.OrderID, "headerId", o.HeaderID)
	} else {
		p.log.Warn("order not delivered", "robot", serial, "orderId", o.OrderID, "headerId", o.HeaderID)
	}
	p.record(TopicOrder, o.OrderID, "", serial, topic, o.HeaderID, ok)
	return ok
}

// PublishInstantActions stamps and publishes actions to the robot's
// instant-actions topic.
func (p *Publisher) PublishInstantActions(serial string, actions ...Action) bool {
	msg := &InstantActions{Actions: actions}
	p.stamp(&msg.Header, serial)
	topic := p.opts.Topics.InstantActions(serial)
	actionType := ""
	if len(actions) > 0 {
		actionType = actions[0].ActionType
	}
	if !p.allowed() {
		p.log.Warn("instant actions blocked, circuit open", "robot", serial, "actionType", actionType)
		p.record(TopicInstantActions, "", actionType, serial, topic, msg.HeaderID, false)
		return false
	}
	payload, err := msg.Encode()
	if err != nil {
		p.log.Error("encode instant actions", "robot", serial, "error", err)
		return false
	}
	ok := p.transport.Publish(topic, payload, p.opts.QoS, p.opts.Retain)
	if ok {
		p.log.Info("instant actions published", "robot", serial, "actionType", actionType, "headerId", msg.HeaderID)
	} else {
		p.log.Warn("instant actions not delivered", "robot", serial, "actionType", actionType, "headerId", msg.HeaderID)
	}
	p.record(TopicInstantActions, "", actionType, serial, topic, msg.HeaderID, ok)
	return ok
}

// PublishEmergencyStop halts a robot immediately.
func (p *Publisher) PublishEmergencyStop(serial string) bool {
	return p.PublishInstantActions(serial, EmergencyStopAction())
}

// PublishResume releases a robot from an emergency stop.
func (p *Publisher) PublishResume(serial string) bool {
	return p.PublishInstantActions(serial, ResumeAction())
}

// PublishCancelOrder aborts the robot's active order.
func (p *Publisher) PublishCancelOrder(serial string) bool {
	return p.PublishInstantActions(serial, CancelOrderAction())
}

// PublishAssignment maps a transport job onto a VDA 5050 order and
// publishes it to the plan's robot.
func (p *Publisher) PublishAssignment(plan AssignmentPlan) bool {
	return p.PublishOrder(plan.RobotSerial, BuildOrder(plan))
}
