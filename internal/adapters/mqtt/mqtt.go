// Package mqtt adapts an MQTT broker session to the connection abstraction.
//
// Every inbound message is queued (bounded by count and age) and fanned out to
// the listeners registered on its topic as a {"topic", "payload"} envelope.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/verify"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidMessage = errors.New("invalid mqtt message")
	ErrMissingToken   = errors.New("token not found in the message payload")
)

const disconnectQuiesce = 250 // ms

// Options tunes the adapter independently of the device parameters.
type Options struct {
	QueueCapacity  int
	QueueMaxAge    time.Duration
	SweepSpec      string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration

	// NewClient builds the paho client. Tests replace it with a fake.
	NewClient func(*paho.ClientOptions) paho.Client
}

func DefaultOptions() Options {
	return Options{
		QueueCapacity:  1000,
		QueueMaxAge:    60 * time.Second,
		SweepSpec:      "@every 10s",
		ConnectTimeout: 10 * time.Second,
		KeepAlive:      60 * time.Second,
		NewClient:      paho.NewClient,
	}
}

type queued struct {
	topic   string
	payload []byte
	at      time.Time
}

type handler struct {
	id    string
	topic string
	cb    connection.ListenCallback
	timer *time.Timer
}

type reply struct {
	topic string
	token any
	ch    chan []byte
}

type Conn struct {
	cfg    connection.MQTTConfig
	opts   Options
	logger *logrus.Logger
	now    func() time.Time

	mu       sync.Mutex
	client   paho.Client
	sweeper  *cron.Cron
	queue    []queued
	handlers map[string]*handler
	replies  map[*reply]struct{}
}

func New(cfg connection.MQTTConfig, opts Options, logger *logrus.Logger) *Conn {
	if opts.NewClient == nil {
		opts.NewClient = paho.NewClient
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultOptions().QueueCapacity
	}
	return &Conn{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		handlers: make(map[string]*handler),
		replies:  make(map[*reply]struct{}),
	}
}

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	connected := c.client != nil
	c.mu.Unlock()
	if connected {
		return nil
	}

	clientID := c.cfg.ClientID
	if clientID == "" {
		clientID = "devtest-" + uuid.New().String()
	}

	o := paho.NewClientOptions()
	o.AddBroker(c.cfg.Endpoint())
	o.SetClientID(clientID)
	o.SetUsername(c.cfg.Username)
	o.SetPassword(c.cfg.Password)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(false)
	o.SetConnectTimeout(c.opts.ConnectTimeout)
	o.SetKeepAlive(c.opts.KeepAlive)
	if c.cfg.MQTTVersion == "3.1" {
		o.SetProtocolVersion(3)
	} else {
		o.SetProtocolVersion(4)
	}
	o.SetOnConnectHandler(c.resubscribe)
	o.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.WithError(err).WithField("broker", c.cfg.Endpoint()).Warn("MQTT connection lost")
	})

	client := c.opts.NewClient(o)
	if err := wait(ctx, client.Connect()); err != nil {
		return connection.ConnectError(connection.ProtocolMQTT, err)
	}

	sweeper := cron.New()
	if c.opts.SweepSpec != "" && c.opts.QueueMaxAge > 0 {
		if _, err := sweeper.AddFunc(c.opts.SweepSpec, c.sweep); err != nil {
			client.Disconnect(0)
			return connection.ConnectError(connection.ProtocolMQTT, fmt.Errorf("invalid sweep schedule: %w", err))
		}
	}
	sweeper.Start()

	c.mu.Lock()
	c.client = client
	c.sweeper = sweeper
	c.mu.Unlock()
	c.logger.WithFields(logrus.Fields{
		"broker":    c.cfg.Endpoint(),
		"client_id": clientID,
	}).Info("MQTT connected")
	return nil
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	client := c.client
	sweeper := c.sweeper
	for _, h := range c.handlers {
		h.timer.Stop()
	}
	c.handlers = make(map[string]*handler)
	c.queue = nil
	c.client = nil
	c.sweeper = nil
	c.mu.Unlock()

	if sweeper != nil {
		<-sweeper.Stop().Done()
	}
	if client != nil {
		client.Disconnect(disconnectQuiesce)
		c.logger.WithField("broker", c.cfg.Endpoint()).Info("MQTT disconnected")
	}
	return nil
}

func (c *Conn) current() (paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, connection.ErrNotConnected
	}
	return c.client, nil
}

// Send publishes data to the configured topic.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	client, err := c.current()
	if err != nil {
		return err
	}
	if err := wait(ctx, client.Publish(c.cfg.Topic, c.cfg.QoS, false, data)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", c.cfg.Topic, err)
	}
	return nil
}

// Receive pops the newest queued message, or returns nothing when the queue
// is empty.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, connection.ErrNotConnected
	}
	if len(c.queue) == 0 {
		return []byte{}, nil
	}
	last := c.queue[len(c.queue)-1]
	c.queue = c.queue[:len(c.queue)-1]
	return last.payload, nil
}

type envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// SendAndReceive publishes the payload of a {topic, payload} request and waits
// for a reply carrying the same token on the topic with its second and third
// segments swapped.
func (c *Conn) SendAndReceive(ctx context.Context, payload string, timeout time.Duration) ([]byte, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}

	var req envelope
	if err := json.Unmarshal([]byte(verify.Normalize(payload)), &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	var body map[string]any
	if req.Topic == "" || json.Unmarshal(req.Payload, &body) != nil || body == nil {
		return nil, fmt.Errorf("%w: topic or payload not found", ErrInvalidMessage)
	}
	token, ok := body["token"]
	if !ok {
		return nil, ErrMissingToken
	}

	r := &reply{topic: ReplyTopic(req.Topic), token: token, ch: make(chan []byte, 1)}
	c.mu.Lock()
	c.replies[r] = struct{}{}
	c.mu.Unlock()
	defer c.release(r)

	if err := wait(ctx, client.Subscribe(r.topic, c.cfg.QoS, c.onMessage)); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.topic, err)
	}
	if err := wait(ctx, client.Publish(req.Topic, c.cfg.QoS, false, []byte(req.Payload))); err != nil {
		return nil, fmt.Errorf("failed to publish to %s: %w", req.Topic, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-r.ch:
		return json.Marshal(envelope{Topic: r.topic, Payload: data})
	case <-timer.C:
		return nil, connection.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReplyTopic swaps the second and third segments of topic when it has more
// than two segments.
func ReplyTopic(topic string) string {
	segments := strings.Split(topic, "/")
	if len(segments) > 2 {
		segments[1], segments[2] = segments[2], segments[1]
	}
	return strings.Join(segments, "/")
}

func (c *Conn) release(r *reply) {
	c.mu.Lock()
	delete(c.replies, r)
	unsubscribe := !c.topicInUse(r.topic)
	client := c.client
	c.mu.Unlock()

	if unsubscribe && client != nil {
		client.Unsubscribe(r.topic)
	}
}

// Listen registers cb for messages on the topic named by expected and
// subscribes to it. The registration expires after timeout.
func (c *Conn) Listen(ctx context.Context, id, expected string, timeout time.Duration, cb connection.ListenCallback) ([]byte, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}

	var exp envelope
	if err := json.Unmarshal([]byte(verify.Normalize(expected)), &exp); err != nil || exp.Topic == "" {
		return nil, fmt.Errorf("failed to set up listener for id %s: %w", id, ErrInvalidMessage)
	}

	c.mu.Lock()
	_, exists := c.handlers[id]
	c.mu.Unlock()
	if exists {
		c.Unlisten(id)
	}

	h := &handler{id: id, topic: exp.Topic, cb: cb}
	c.mu.Lock()
	h.timer = time.AfterFunc(timeout, func() { c.expire(h) })
	c.handlers[id] = h
	c.mu.Unlock()

	if err := wait(ctx, client.Subscribe(exp.Topic, c.cfg.QoS, c.onMessage)); err != nil {
		c.mu.Lock()
		h.timer.Stop()
		if c.handlers[id] == h {
			delete(c.handlers, id)
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", exp.Topic, err)
	}

	c.logger.WithFields(logrus.Fields{"id": id, "topic": exp.Topic}).Debug("MQTT listener registered")
	return json.Marshal(struct {
		Status string `json:"status"`
		ID     string `json:"id"`
		Topic  string `json:"topic"`
	}{"listening", id, exp.Topic})
}

func (c *Conn) expire(h *handler) {
	c.mu.Lock()
	current := c.handlers[h.id] == h
	c.mu.Unlock()
	if current {
		c.logger.WithField("id", h.id).Debug("MQTT listener expired")
		c.Unlisten(h.id)
	}
}

// Unlisten removes the listener and unsubscribes when no one else needs its
// topic. Unknown ids are ignored.
func (c *Conn) Unlisten(id string) error {
	c.mu.Lock()
	h, ok := c.handlers[id]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	h.timer.Stop()
	delete(c.handlers, id)
	unsubscribe := !c.topicInUse(h.topic)
	client := c.client
	c.mu.Unlock()

	if unsubscribe && client != nil {
		client.Unsubscribe(h.topic)
	}
	return nil
}

// topicInUse must be called with c.mu held.
func (c *Conn) topicInUse(topic string) bool {
	for _, h := range c.handlers {
		if h.topic == topic {
			return true
		}
	}
	for r := range c.replies {
		if r.topic == topic {
			return true
		}
	}
	return false
}

func (c *Conn) onMessage(_ paho.Client, msg paho.Message) {
	topic, data := msg.Topic(), msg.Payload()

	c.mu.Lock()
	c.queue = append(c.queue, queued{topic: topic, payload: data, at: c.now()})
	if over := len(c.queue) - c.opts.QueueCapacity; over > 0 {
		c.queue = c.queue[over:]
	}

	var targets []*handler
	for _, h := range c.handlers {
		if h.topic == topic {
			targets = append(targets, h)
		}
	}

	var decoded any
	isJSON := json.Unmarshal(data, &decoded) == nil
	for r := range c.replies {
		if r.topic != topic || !isJSON {
			continue
		}
		if obj, ok := decoded.(map[string]any); ok && reflect.DeepEqual(obj["token"], r.token) {
			select {
			case r.ch <- data:
			default:
			}
		}
	}
	c.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	body := json.RawMessage(data)
	if !isJSON {
		raw, _ := json.Marshal(string(data))
		body = raw
	}
	wrapped, err := json.Marshal(envelope{Topic: topic, Payload: body})
	if err != nil {
		c.logger.WithError(err).WithField("topic", topic).Error("Failed to wrap MQTT message")
		return
	}
	for _, h := range targets {
		h.cb(h.id, wrapped)
	}
}

func (c *Conn) resubscribe(client paho.Client) {
	c.mu.Lock()
	topics := make(map[string]struct{})
	for _, h := range c.handlers {
		topics[h.topic] = struct{}{}
	}
	for r := range c.replies {
		topics[r.topic] = struct{}{}
	}
	c.mu.Unlock()

	for topic := range topics {
		client.Subscribe(topic, c.cfg.QoS, c.onMessage)
	}
}

// sweep drops queued messages older than the configured age.
func (c *Conn) sweep() {
	cutoff := c.now().Add(-c.opts.QueueMaxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.queue[:0]
	for _, m := range c.queue {
		if m.at.After(cutoff) {
			kept = append(kept, m)
		}
	}
	c.queue = kept
}

func wait(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
