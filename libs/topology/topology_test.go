package topology

import (
	"errors"
	"testing"

	"github.com/carelink/apptpipeline/libs/events"
	"github.com/segmentio/kafka-go"
)

func TestBinding_ResolvesQueuesByName(t *testing.T) {
	cfg := Default()

	created, err := cfg.Binding("appointment.created.queue")
	if err != nil || created != "appointments.appointment.created" {
		t.Fatalf("unexpected created binding %q (%v)", created, err)
	}
	updated, err := cfg.Binding("appointment.updated.queue")
	if err != nil || updated != "appointments.appointment.updated" {
		t.Fatalf("unexpected updated binding %q (%v)", updated, err)
	}
	if _, err := cfg.Binding("appointment.deleted.queue"); !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("expected ErrUnknownQueue, got %v", err)
	}
}

func TestRoutingKey(t *testing.T) {
	cfg := Default()
	key, err := cfg.RoutingKey(events.Created)
	if err != nil || key != cfg.CreatedRoutingKey {
		t.Fatalf("unexpected created key %q (%v)", key, err)
	}
	key, err = cfg.RoutingKey(events.Updated)
	if err != nil || key != cfg.UpdatedRoutingKey {
		t.Fatalf("unexpected updated key %q (%v)", key, err)
	}
	if _, err := cfg.RoutingKey("DELETED"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestPublishedTopicMatchesQueueBinding(t *testing.T) {
	cfg := Default()
	for _, tc := range []struct {
		typ   events.Type
		queue string
	}{
		{events.Created, cfg.CreatedQueue},
		{events.Updated, cfg.UpdatedQueue},
	} {
		key, _ := cfg.RoutingKey(tc.typ)
		bound, _ := cfg.Binding(tc.queue)
		if cfg.TopicFor(key) != bound {
			t.Fatalf("%s publishes to %q but %s reads %q", tc.typ, cfg.TopicFor(key), tc.queue, bound)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg := Default()
	cfg.UpdatedRoutingKey = cfg.CreatedRoutingKey
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected duplicate routing keys to be rejected")
	}

	cfg = Default()
	cfg.Exchange = " "
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected blank exchange to be rejected")
	}
}

func TestGroupIDAndDeadLetter(t *testing.T) {
	cfg := Default()
	if got := GroupID("history-service", cfg.CreatedQueue); got != "history-service.appointment.created.queue" {
		t.Fatalf("unexpected group id %q", got)
	}
	if got := cfg.DeadLetterTopic(cfg.UpdatedQueue); got != "appointments.appointment.updated.queue.dlq" {
		t.Fatalf("unexpected dlq topic %q", got)
	}
}

type fakeCreator struct {
	got []kafka.TopicConfig
	err error
}

func (f *fakeCreator) CreateTopics(topics ...kafka.TopicConfig) error {
	f.got = append(f.got, topics...)
	return f.err
}

func TestDeclare_IsIdempotent(t *testing.T) {
	cfg := Default()
	fc := &fakeCreator{}
	if err := declare(fc, cfg); err != nil {
		t.Fatalf("declare failed: %v", err)
	}
	if len(fc.got) != 4 {
		t.Fatalf("expected 4 topics, got %d", len(fc.got))
	}
	if fc.got[0].NumPartitions != 3 || fc.got[0].ReplicationFactor != 1 {
		t.Fatalf("unexpected topic config %+v", fc.got[0])
	}

	fc.err = kafka.TopicAlreadyExists
	if err := declare(fc, cfg); err != nil {
		t.Fatalf("expected existing topics to be accepted, got %v", err)
	}

	fc.err = kafka.InvalidReplicationFactor
	if err := declare(fc, cfg); err == nil {
		t.Fatal("expected broker error to surface")
	}
}
