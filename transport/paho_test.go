package transport

import (
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct{ err error }

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type pahoPublish struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

// fakePaho is an in-memory stand-in for the paho session.
type fakePaho struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connected    bool
	connectErr   error
	publishErr   error
	published    []pahoPublish
	subscribed   map[string]byte
	unsubscribed []string
}

func newFakePaho() (*fakePaho, func(*mqtt.ClientOptions) mqtt.Client) {
	f := &fakePaho{subscribed: make(map[string]byte)}
	return f, func(o *mqtt.ClientOptions) mqtt.Client {
		f.mu.Lock()
		f.opts = o
		f.mu.Unlock()
		return f
	}
}

func (f *fakePaho) Connect() mqtt.Token {
	f.mu.Lock()
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return &doneToken{err: err}
	}
	f.connected = true
	onConnect := f.opts.OnConnect
	f.mu.Unlock()
	if onConnect != nil {
		onConnect(f)
	}
	return &doneToken{}
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return &doneToken{err: errors.New("not connected")}
	}
	if f.publishErr != nil {
		return &doneToken{err: f.publishErr}
	}
	f.published = append(f.published, pahoPublish{topic, qos, retained, payload.([]byte)})
	return &doneToken{}
}

func (f *fakePaho) Subscribe(topic string, qos byte, _ mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic] = qos
	return &doneToken{}
}

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range filters {
		f.subscribed[k] = v
	}
	return &doneToken{}
}

func (f *fakePaho) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.subscribed, t)
		f.unsubscribed = append(f.unsubscribed, t)
	}
	return &doneToken{}
}

func (f *fakePaho) AddRoute(string, mqtt.MessageHandler) {}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakePaho) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// deliver injects an inbound message through the default publish handler.
func (f *fakePaho) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.opts.DefaultPublishHandler
	f.mu.Unlock()
	if h != nil {
		h(f, &fakeInbound{topic: topic, payload: payload})
	}
}

// dropConnection simulates a broker-side connection loss. Broker-side
// subscription state is forgotten, as with a clean session.
func (f *fakePaho) dropConnection() {
	f.mu.Lock()
	f.connected = false
	f.subscribed = make(map[string]byte)
	onLost := f.opts.OnConnectionLost
	f.mu.Unlock()
	if onLost != nil {
		onLost(f, errors.New("connection lost"))
	}
}

func (f *fakePaho) setConnectErr(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

func (f *fakePaho) publishedMessages() []pahoPublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pahoPublish, len(f.published))
	copy(out, f.published)
	return out
}

func (f *fakePaho) subscribedFilters() map[string]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]byte, len(f.subscribed))
	for k, v := range f.subscribed {
		out[k] = v
	}
	return out
}

func (f *fakePaho) unsubscribedFilters() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.unsubscribed))
	copy(out, f.unsubscribed)
	return out
}

type fakeInbound struct {
	topic   string
	payload []byte
}

func (m *fakeInbound) Duplicate() bool   { return false }
func (m *fakeInbound) Qos() byte         { return 1 }
func (m *fakeInbound) Retained() bool    { return false }
func (m *fakeInbound) Topic() string     { return m.topic }
func (m *fakeInbound) MessageID() uint16 { return 0 }
func (m *fakeInbound) Payload() []byte   { return m.payload }
func (m *fakeInbound) Ack()              {}
