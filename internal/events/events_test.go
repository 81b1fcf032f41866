package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

type failingPublisher struct{ closed bool }

func (f *failingPublisher) Name() string { return "failing" }

func (f *failingPublisher) Publish(context.Context, Event) error { return errors.New("down") }

func (f *failingPublisher) Close() error {
	f.closed = true
	return nil
}

func TestFanoutDeliversToAll(t *testing.T) {
	mem := NewMemoryPublisher()
	bad := &failingPublisher{}
	fan := NewFanout(mem, nil, bad)
	if fan.Len() != 2 {
		t.Fatalf("nil publisher must be skipped, got %d", fan.Len())
	}

	err := fan.Publish(context.Background(), Event{RunID: "r1", Stage: "validate", Allowed: true})
	if err == nil || !strings.Contains(err.Error(), "publisher failing") {
		t.Fatalf("expected joined error, got %v", err)
	}
	got := mem.Events()
	if len(got) != 1 || got[0].RunID != "r1" || !got[0].Allowed {
		t.Fatalf("memory publisher did not receive event: %+v", got)
	}

	if err := fan.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !bad.closed {
		t.Fatalf("downstream publisher not closed")
	}
}

func TestLogPublisherWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))
	p := NewLogPublisher(l)
	if err := p.Publish(context.Background(), Event{RunID: "r2", DeviceID: "swarm:worker-01", Code: "PLAN_LIMIT", ExitCode: 0}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["msg"] != "gate_event" || line["device_id"] != "swarm:worker-01" || line["code"] != "PLAN_LIMIT" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestEncodeStampsTime(t *testing.T) {
	payload, err := encode(Event{RunID: "r3"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.OccurredAt.IsZero() {
		t.Fatalf("occurred_at must be filled")
	}
}

func TestConstructorsValidateConfig(t *testing.T) {
	if _, err := NewRedisPublisher(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty redis address")
	}
	if _, err := NewRabbitMQPublisher(RabbitMQConfig{}); err == nil {
		t.Fatalf("expected error for empty rabbitmq url")
	}
}

func TestRedisPublishFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	p := newRedisPublisher(client, "")
	defer p.Close()
	if p.list != DefaultRedisList {
		t.Fatalf("unexpected default list: %s", p.list)
	}
	if err := p.Publish(context.Background(), Event{RunID: "r4"}); err == nil {
		t.Fatalf("expected error when redis is unreachable")
	}
}

func TestRabbitMQPublishing(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	msg := publishing(Event{RunID: "r5", Stage: "register", OccurredAt: at}, []byte(`{}`), true)
	if msg.DeliveryMode != amqp.Persistent || msg.MessageId != "r5" || msg.Type != "register" || !msg.Timestamp.Equal(at) {
		t.Fatalf("unexpected publishing: %+v", msg)
	}
	if msg.ContentType != "application/json" {
		t.Fatalf("unexpected content type: %s", msg.ContentType)
	}

	var nilPublisher *RabbitMQPublisher
	if err := nilPublisher.Publish(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for uninitialised publisher")
	}
}
