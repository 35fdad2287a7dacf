// Package mqttsub receives sensor readings that devices publish to an MQTT broker.
package mqttsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sensorhub/sensor-server/internal/config"
)

const (
	connectTimeout    = 10 * time.Second
	subscribeTimeout  = 5 * time.Second
	disconnectQuiesce = 250
)

// Message is a QoS 0 publish received from the broker.
type Message struct {
	Topic   string
	Device  string
	Payload []byte
}

// Handler is invoked for each received message.
type Handler func(context.Context, Message)

// Subscriber holds one broker connection and re-subscribes after every reconnect.
type Subscriber struct {
	cfg     config.MQTT
	logger  *slog.Logger
	handler Handler
	client  mqtt.Client
}

// New constructs a subscriber; it does not connect until Start.
func New(cfg config.MQTT, logger *slog.Logger, h Handler) *Subscriber {
	if h == nil {
		h = func(context.Context, Message) {}
	}
	return &Subscriber{cfg: cfg, logger: logger, handler: h}
}

// Start connects to the broker. Subscription happens in the on-connect hook so it survives reconnects.
func (s *Subscriber) Start() error {
	if s.cfg.Broker == "" {
		return errors.New("mqtt broker not configured")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", "broker", s.cfg.Broker, "error", err)
		})

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect: timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	if s.client == nil {
		return
	}
	s.client.Disconnect(disconnectQuiesce)
	s.logger.Info("mqtt subscriber stopped")
	s.client = nil
}

func (s *Subscriber) onConnect(c mqtt.Client) {
	token := c.Subscribe(s.cfg.Topic, 0, s.onMessage)
	if !token.WaitTimeout(subscribeTimeout) {
		s.logger.Error("mqtt subscribe timed out", "topic", s.cfg.Topic)
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("mqtt subscribe failed", "topic", s.cfg.Topic, "error", err)
		return
	}
	s.logger.Info("mqtt subscribed", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
}

func (s *Subscriber) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg := Message{
		Topic:   m.Topic(),
		Device:  DeviceFromTopic(m.Topic()),
		Payload: m.Payload(),
	}
	safeInvoke(s.handler, context.Background(), msg, s.logger)
}

// DeviceFromTopic extracts <device> from topics shaped like sensors/<device>/readings.
func DeviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

func safeInvoke(h Handler, ctx context.Context, msg Message, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("mqtt handler panic", "topic", msg.Topic, "panic", r)
		}
	}()
	h(ctx, msg)
}
