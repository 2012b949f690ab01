package egress

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/eversmart/homecore/internal/hub"
)

// ─── Mock Publisher ──────────────────────────────────────────────────

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type mockPublisher struct {
	connected bool
	err       error
	messages  []published
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, published{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (m *mockPublisher) IsConnected() bool { return m.connected }

// ─── Tests ───────────────────────────────────────────────────────────

func TestDeliver(t *testing.T) {
	pub := &mockPublisher{connected: true}
	sink := NewMQTTSink(pub, 1, nil)

	event := hub.Event{
		Kind:      hub.KindTagUpdate,
		Tag:       "living.lamp.onoff",
		Value:     true,
		Timestamp: time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC),
	}
	if err := sink.Deliver(event); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.topic != "homecore/events/tag_update" {
		t.Errorf("topic = %q", msg.topic)
	}
	if msg.qos != 1 || msg.retained {
		t.Errorf("qos = %d, retained = %v", msg.qos, msg.retained)
	}

	var decoded hub.Event
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.Tag != event.Tag || decoded.Kind != event.Kind {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDeliver_OfflineDropsSilently(t *testing.T) {
	pub := &mockPublisher{connected: false}
	sink := NewMQTTSink(pub, 1, nil)

	if err := sink.Deliver(hub.Event{Kind: hub.KindTagUpdate}); err != nil {
		t.Fatalf("Deliver() while offline error = %v, want nil", err)
	}
	if len(pub.messages) != 0 {
		t.Errorf("published %d messages while offline", len(pub.messages))
	}
}

func TestDeliver_PublishFailure(t *testing.T) {
	pub := &mockPublisher{connected: true, err: errors.New("broker rejected")}
	sink := NewMQTTSink(pub, 1, nil)

	if err := sink.Deliver(hub.Event{Kind: hub.KindTagUpdate}); err == nil {
		t.Fatal("Deliver() should surface publish failure")
	}
}
