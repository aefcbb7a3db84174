package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/wtthornton/HomeIQ-sub000/internal/config"
	"github.com/wtthornton/HomeIQ-sub000/internal/events"
)

// MessageHandler is called for each MQTT message received on a
// subscribed topic. Implementations must be safe for concurrent use.
type MessageHandler func(topic string, payload []byte)

// BusHandler returns a [MessageHandler] that republishes each message
// as an activity event on the bus. The entity id is derived from the
// payload when it carries one, falling back to statestream topic
// structure; the activity recorder drops events it cannot attribute.
func BusHandler(bus *events.Bus, logger *slog.Logger) MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(topic string, payload []byte) {
		entityID := EntityIDFromMessage(topic, payload)
		bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceMQTT,
			Kind:      events.KindActivity,
			Data: map[string]any{
				"entity_id":    entityID,
				"topic":        topic,
				"payload_size": len(payload),
			},
		})
		if logger.Enabled(context.Background(), slog.LevelDebug) {
			logger.Debug("mqtt activity",
				"topic", topic,
				"entity_id", entityID,
				"payload_size", len(payload))
		}
	}
}

// loggingHandler returns a [MessageHandler] that only logs messages at
// debug level. Used when no bus is wired.
func loggingHandler(logger *slog.Logger) MessageHandler {
	return func(topic string, payload []byte) {
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			return
		}
		fields := []any{
			"topic", topic,
			"payload_size", len(payload),
		}
		if id := EntityIDFromMessage(topic, payload); id != "" {
			fields = append(fields, "entity_id", id)
		}
		logger.Debug("mqtt message received", fields...)
	}
}

// Subscriber maintains the broker connection, subscribes to the
// configured topics, and forwards rate-admitted messages to its
// handler.
type Subscriber struct {
	cfg        config.MQTTConfig
	instanceID string
	handler    MessageHandler
	limiter    *messageRateLimiter
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// NewSubscriber creates a Subscriber but does not connect. Call
// [Subscriber.Start] to establish the connection. A nil handler logs
// messages instead of forwarding them.
func NewSubscriber(cfg config.MQTTConfig, instanceID string, handler MessageHandler, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = loggingHandler(logger)
	}
	limit := int64(cfg.MaxMessagesPerSec)
	if limit <= 0 {
		limit = 50
	}
	return &Subscriber{
		cfg:        cfg,
		instanceID: instanceID,
		handler:    handler,
		limiter:    newMessageRateLimiter(limit, time.Second, logger),
		logger:     logger,
	}
}

// Start connects to the MQTT broker, subscribes on every (re-)connect,
// and blocks until ctx is cancelled. A birth message marks the
// availability topic "online"; the broker will marks it "offline" when
// the connection dies without a clean disconnect.
func (s *Subscriber) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(s.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	topics := s.cfg.Topics
	if len(topics) == 0 {
		topics = []string{"homeassistant/statestream/#"}
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: s.cfg.Username,
		ConnectPassword: []byte(s.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   s.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			s.logger.Info("mqtt connected to broker", "broker", s.cfg.Broker)
			s.subscribe(ctx, cm, topics)
			s.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			s.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: s.clientID(),
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					s.receive(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	s.cm = cm

	go s.limiter.start(ctx)

	// Wait for the initial connection before settling in.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		s.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (s *Subscriber) Stop(ctx context.Context) error {
	if s.cm == nil {
		return nil
	}
	s.publishAvailability(ctx, s.cm, "offline")
	return s.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the MQTT broker connection is
// established or ctx expires. Useful for connwatch health probes.
func (s *Subscriber) AwaitConnection(ctx context.Context) error {
	if s.cm == nil {
		return fmt.Errorf("mqtt subscriber not started")
	}
	return s.cm.AwaitConnection(ctx)
}

// receive is the inbound hot path: rate-admit, then hand off.
func (s *Subscriber) receive(topic string, payload []byte) {
	if !s.limiter.allow() {
		return
	}
	s.handler(topic, payload)
}

func (s *Subscriber) clientName() string {
	if s.cfg.ClientName != "" {
		return s.cfg.ClientName
	}
	return "homeiq"
}

// clientID includes the instance id prefix so two installs against the
// same broker never kick each other's session.
func (s *Subscriber) clientID() string {
	if s.instanceID == "" {
		return s.clientName()
	}
	id := s.instanceID
	if len(id) > 8 {
		id = id[:8]
	}
	return s.clientName() + "-" + id
}

func (s *Subscriber) availabilityTopic() string {
	return s.clientName() + "/availability"
}

func (s *Subscriber) subscribe(ctx context.Context, cm *autopaho.ConnectionManager, topics []string) {
	subs := make([]paho.SubscribeOptions, len(topics))
	for i, t := range topics {
		subs[i] = paho.SubscribeOptions{Topic: t, QoS: 0}
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		s.logger.Warn("mqtt subscribe failed", "topics", topics, "error", err)
		return
	}
	s.logger.Info("mqtt subscribed", "topics", topics)
}

func (s *Subscriber) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   s.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		s.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		s.logger.Info("mqtt availability published", "status", status)
	}
}

// messageRateLimiter tracks inbound message rates and drops messages
// when the rate exceeds the configured threshold. It uses atomic
// counters for lock-free operation on the hot path.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

// newMessageRateLimiter creates a rate limiter that allows limit
// messages per interval. Exceeding the limit causes messages to be
// dropped until the next interval reset.
func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start runs the periodic counter reset loop. It blocks until ctx is
// cancelled. At each interval boundary it resets the message counter
// and logs a warning if any messages were dropped.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			dropped := r.dropped.Swap(0)
			if dropped > 0 {
				r.logger.Warn("mqtt messages dropped due to rate limit",
					"received", count,
					"dropped", dropped,
					"interval", r.interval.String(),
					"limit", r.limit,
				)
			}
		}
	}
}

// allow increments the message counter and returns true if the
// current count is within the limit. If over the limit it increments
// the dropped counter and returns false.
func (r *messageRateLimiter) allow() bool {
	n := r.count.Add(1)
	if n > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
