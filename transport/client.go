// Package transport wraps the paho MQTT session with local reconnect
// handling, buffering of undeliverable messages, and wildcard-aware dispatch
// of inbound messages to registered handlers.
package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fleetlink/config"
	"fleetlink/metric"
)

// MessageHandler receives inbound messages for a matching subscription.
type MessageHandler func(topic string, payload []byte)

// ConnectionHandler is notified with true on every established connection
// and false on every loss.
type ConnectionHandler func(connected bool)

// Client is the broker session. Publish never returns an error: a message
// that cannot be delivered right now is buffered and the call reports false.
// Reconnects are driven by the client itself, not by the paho library, so
// the retry policy stays in one place.
type Client struct {
	cfg     *config.MQTTConfig
	log     *slog.Logger
	metrics *metric.Metrics

	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu           sync.RWMutex
	conn         mqtt.Client
	handlers     map[string]MessageHandler
	connHandlers []ConnectionHandler
	closing      bool
	reconnecting bool

	pending *pendingQueue
}

// NewClient builds an unconnected client. metrics may be nil.
func NewClient(cfg *config.MQTTConfig, m *metric.Metrics, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		newClient: mqtt.NewClient,
		handlers:  make(map[string]MessageHandler),
		pending:   newPendingQueue(cfg.PendingBufferSize),
	}
}

// SetClientFactory overrides the paho constructor, for tests that run
// against a fake broker session. Must be called before Connect.
func (c *Client) SetClientFactory(f func(*mqtt.ClientOptions) mqtt.Client) {
	c.newClient = f
}

func (c *Client) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	for _, u := range c.cfg.BrokerURLs() {
		opts.AddBroker(u)
	}
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetCleanSession(c.cfg.CleanSession)
	if c.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(c.cfg.KeepAlive)
	}
	if c.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	}
	// Reconnect policy lives in reconnectLoop.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		c.route(msg.Topic(), msg.Payload())
	})
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	return opts
}

// Connect establishes the broker session. With auto-reconnect enabled a
// failed first attempt is not an error; the reconnect loop keeps trying in
// the background.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.conn != nil && c.conn.IsConnected() {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	if c.conn == nil {
		c.conn = c.newClient(c.clientOptions())
	}
	conn := c.conn
	c.mu.Unlock()

	token := conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		if !c.cfg.AutoReconnect {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		c.log.Warn("initial connect failed, retrying in background", "error", err)
		c.scheduleReconnect()
	}
	return nil
}

// IsConnected reports whether the broker session is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// OnConnectionChange registers a callback for connect and disconnect
// transitions.
func (c *Client) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connHandlers = append(c.connHandlers, fn)
}

func (c *Client) notifyConnection(connected bool) {
	c.mu.RLock()
	hs := make([]ConnectionHandler, len(c.connHandlers))
	copy(hs, c.connHandlers)
	c.mu.RUnlock()
	for _, h := range hs {
		h(connected)
	}
}

// Publish delivers a message to the broker, or buffers it when the broker
// is unreachable. Reports whether the message was delivered now.
func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		c.buffer(topic, payload, qos, retain)
		c.scheduleReconnect()
		return false
	}
	token := conn.Publish(topic, qos, retain, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Warn("publish failed, buffering message", "topic", topic, "error", err)
		c.buffer(topic, payload, qos, retain)
		return false
	}
	c.metrics.RecordPublished("delivered")
	return true
}

func (c *Client) buffer(topic string, payload []byte, qos byte, retain bool) {
	evicted := c.pending.add(PendingMessage{
		Topic:      topic,
		Payload:    payload,
		QoS:        qos,
		Retain:     retain,
		EnqueuedAt: time.Now(),
	})
	if evicted {
		c.log.Warn("pending buffer full, dropped oldest message", "capacity", c.cfg.PendingBufferSize)
		c.metrics.RecordPendingDropped()
	}
	c.metrics.RecordPublished("queued")
	c.metrics.RecordPendingBuffered(c.pending.len())
}

// Subscribe registers a handler for a topic filter. The subscription is
// held across reconnects; when the broker is currently unreachable it
// becomes active on the next connect. Reports whether the subscription was
// accepted.
func (c *Client) Subscribe(filter string, handler func(topic string, payload []byte)) bool {
	c.mu.Lock()
	c.handlers[filter] = handler
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return true
	}
	return c.subscribeBroker(conn, filter)
}

func (c *Client) subscribeBroker(conn mqtt.Client, filter string) bool {
	// nil callback: deliveries arrive through the default publish handler,
	// which is the single dispatch path.
	token := conn.Subscribe(filter, byte(c.cfg.DefaultQoS), nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error("subscribe failed", "filter", filter, "error", err)
		return false
	}
	return true
}

// Unsubscribe removes a subscription and its handler.
func (c *Client) Unsubscribe(filter string) {
	c.mu.Lock()
	delete(c.handlers, filter)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil && conn.IsConnected() {
		token := conn.Unsubscribe(filter)
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Warn("unsubscribe failed", "filter", filter, "error", err)
		}
	}
}

// route fans one inbound message out to every matching handler. Handlers
// run off the network goroutine; a panicking handler is contained.
func (c *Client) route(topic string, payload []byte) {
	c.mu.RLock()
	var hs []MessageHandler
	for filter, h := range c.handlers {
		if MatchTopic(filter, topic) {
			hs = append(hs, h)
		}
	}
	c.mu.RUnlock()

	if len(hs) == 0 {
		c.log.Debug("no handler for inbound message", "topic", topic)
		return
	}
	go func() {
		for _, h := range hs {
			c.invoke(h, topic, payload)
		}
	}()
}

func (c *Client) invoke(h MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("message handler panicked", "topic", topic, "panic", r)
		}
	}()
	h(topic, payload)
}

func (c *Client) onConnect(conn mqtt.Client) {
	c.log.Info("connected to broker")
	c.metrics.RecordConnected(true)

	c.mu.RLock()
	filters := make([]string, 0, len(c.handlers))
	for f := range c.handlers {
		filters = append(filters, f)
	}
	c.mu.RUnlock()
	for _, f := range filters {
		c.subscribeBroker(conn, f)
	}

	go c.drainPending()
	c.notifyConnection(true)
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn("broker connection lost", "error", err)
	c.metrics.RecordConnected(false)
	c.notifyConnection(false)
	c.scheduleReconnect()
}

// drainPending redelivers buffered messages in FIFO order. A message that
// fails again goes back to the buffer, followed by the rest, so order is
// preserved for the next attempt.
func (c *Client) drainPending() {
	msgs := c.pending.takeAll()
	c.metrics.RecordPendingBuffered(c.pending.len())
	if len(msgs) == 0 {
		return
	}
	c.log.Info("redelivering buffered messages", "count", len(msgs))
	for i, m := range msgs {
		if !c.Publish(m.Topic, m.Payload, m.QoS, m.Retain) {
			for _, rest := range msgs[i+1:] {
				c.pending.add(rest)
			}
			c.metrics.RecordPendingBuffered(c.pending.len())
			c.log.Warn("redelivery interrupted, messages rebuffered", "remaining", len(msgs)-i)
			return
		}
	}
	c.log.Info("buffered messages redelivered", "count", len(msgs))
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.closing || !c.cfg.AutoReconnect || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	delay := c.cfg.ReconnectDelay
	for attempt := 1; ; attempt++ {
		if c.cfg.MaxReconnectAttempts > 0 && attempt > c.cfg.MaxReconnectAttempts {
			c.log.Error("giving up on broker reconnect", "attempts", c.cfg.MaxReconnectAttempts)
			return
		}
		time.Sleep(delay)

		c.mu.RLock()
		closing := c.closing
		conn := c.conn
		c.mu.RUnlock()
		if closing || conn == nil {
			return
		}
		if conn.IsConnected() {
			return
		}

		c.log.Info("reconnecting to broker", "attempt", attempt)
		token := conn.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Warn("reconnect failed", "attempt", attempt, "error", err)
		} else {
			c.metrics.RecordReconnect()
			return
		}

		if c.cfg.ReconnectMaxDelay > 0 {
			delay *= 2
			if delay > c.cfg.ReconnectMaxDelay {
				delay = c.cfg.ReconnectMaxDelay
			}
		}
	}
}

// PendingCount returns the number of buffered messages.
func (c *Client) PendingCount() int {
	return c.pending.len()
}

// DroppedCount returns how many messages were evicted from a full buffer.
func (c *Client) DroppedCount() uint64 {
	return c.pending.droppedCount()
}

// TakePending hands over the buffered messages, emptying the buffer. Used
// at shutdown to persist what could not be delivered.
func (c *Client) TakePending() []PendingMessage {
	msgs := c.pending.takeAll()
	c.metrics.RecordPendingBuffered(0)
	return msgs
}

// Disconnect closes the broker session after a short quiesce and stops the
// reconnect loop.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return
	}
	conn.Disconnect(uint(c.cfg.DisconnectQuiesce.Milliseconds()))
	c.log.Info("disconnected from broker")
	c.metrics.RecordConnected(false)
	c.notifyConnection(false)
}
