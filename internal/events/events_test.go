package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	t.Parallel()

	fw := &fakeWriter{}
	p := &KafkaPublisher{w: fw, topic: "t"}

	err := p.Publish(context.Background(), Event{
		Type:       TypeIdentifierDone,
		EndpointID: "ep1",
		PID:        "doi:10.1/x",
		Files:      3,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("messages=%d", len(fw.msgs))
	}
	m := fw.msgs[0]
	if string(m.Key) != "doi:10.1/x" {
		t.Fatalf("key=%q", m.Key)
	}
	if len(m.Headers) != 2 || string(m.Headers[0].Value) != TypeIdentifierDone {
		t.Fatalf("headers=%v", m.Headers)
	}

	var ev Event
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Fatalf("id/timestamp not filled: %+v", ev)
	}
	if ev.Files != 3 || ev.EndpointID != "ep1" {
		t.Fatalf("event=%+v", ev)
	}

	if err := p.Close(); err != nil || !fw.closed {
		t.Fatalf("close err=%v closed=%v", err, fw.closed)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	p := &KafkaPublisher{w: &fakeWriter{err: boom}, topic: "t"}
	if err := p.Publish(context.Background(), Event{Type: TypeIdentifierError}); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want wrapped broker error", err)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}
