package egress

import (
	"encoding/json"
	"fmt"

	"github.com/eversmart/homecore/internal/hub"
	"github.com/eversmart/homecore/internal/infrastructure/mqtt"
)

// Publisher is the MQTT surface the sink needs.
// Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// MQTTSink republishes hub events to MQTT so external consumers can
// follow the home's state without touching the tag broker.
//
// It implements hub.Sink: join it to the home-events group and every
// bridge event flows out as JSON on homecore/events/{kind}.
//
// Delivery is best-effort. A disconnected MQTT broker drops events
// silently; the paho client reconnects on its own and the stream
// resumes. Nothing is buffered for replay.
type MQTTSink struct {
	publisher Publisher
	qos       byte
	logger    Logger
}

// NewMQTTSink creates a sink publishing at the given QoS.
func NewMQTTSink(publisher Publisher, qos byte, logger Logger) *MQTTSink {
	return &MQTTSink{
		publisher: publisher,
		qos:       qos,
		logger:    logger,
	}
}

// Deliver implements hub.Sink.
func (s *MQTTSink) Deliver(event hub.Event) error {
	if !s.publisher.IsConnected() {
		if s.logger != nil {
			s.logger.Debug("mqtt egress dropped event, broker offline", "kind", event.Kind)
		}
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event for mqtt: %w", err)
	}

	topic := mqtt.Topics{}.Event(event.Kind)
	if err := s.publisher.Publish(topic, payload, s.qos, false); err != nil {
		if s.logger != nil {
			s.logger.Warn("mqtt egress publish failed", "topic", topic, "error", err)
		}
		return fmt.Errorf("publishing event to %s: %w", topic, err)
	}
	return nil
}
