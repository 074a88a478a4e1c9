// Package topology describes where appointment events travel: one exchange,
// two routing keys, two durable queues and a dead-letter destination per
// queue, rendered onto Kafka topics.
//
// The exchange is a topic namespace. Publishing with routing key k writes to
// topic "<exchange>.<k>". A queue is bound to exactly one routing key, and a
// consumer family reads a queue through its own consumer group, so each
// family sees every event while instances of one family share the load.
package topology

import (
	"errors"
	"fmt"
	"strings"

	"github.com/carelink/apptpipeline/libs/events"
)

var ErrUnknownQueue = errors.New("unknown queue")

type Config struct {
	Exchange          string `env:"BROKER_EXCHANGE" env-default:"appointments"`
	CreatedQueue      string `env:"QUEUE_CREATED" env-default:"appointment.created.queue"`
	UpdatedQueue      string `env:"QUEUE_UPDATED" env-default:"appointment.updated.queue"`
	CreatedRoutingKey string `env:"ROUTING_KEY_CREATED" env-default:"appointment.created"`
	UpdatedRoutingKey string `env:"ROUTING_KEY_UPDATED" env-default:"appointment.updated"`
	Partitions        int    `env:"TOPIC_PARTITIONS" env-default:"3"`
	ReplicationFactor int    `env:"TOPIC_REPLICATION_FACTOR" env-default:"1"`
}

func Default() Config {
	return Config{
		Exchange:          "appointments",
		CreatedQueue:      "appointment.created.queue",
		UpdatedQueue:      "appointment.updated.queue",
		CreatedRoutingKey: "appointment.created",
		UpdatedRoutingKey: "appointment.updated",
		Partitions:        3,
		ReplicationFactor: 1,
	}
}

func (c Config) Validate() error {
	names := map[string]string{
		"exchange":            c.Exchange,
		"created queue":       c.CreatedQueue,
		"updated queue":       c.UpdatedQueue,
		"created routing key": c.CreatedRoutingKey,
		"updated routing key": c.UpdatedRoutingKey,
	}
	for label, v := range names {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("topology: %s is required", label)
		}
	}
	if c.CreatedQueue == c.UpdatedQueue {
		return errors.New("topology: queues must be distinct")
	}
	if c.CreatedRoutingKey == c.UpdatedRoutingKey {
		return errors.New("topology: routing keys must be distinct")
	}
	if c.Partitions < 1 || c.ReplicationFactor < 1 {
		return errors.New("topology: partitions and replication factor must be positive")
	}
	return nil
}

// RoutingKey maps an event type to its routing key. Cancellations ride the
// UPDATED key.
func (c Config) RoutingKey(t events.Type) (string, error) {
	switch t {
	case events.Created:
		return c.CreatedRoutingKey, nil
	case events.Updated:
		return c.UpdatedRoutingKey, nil
	default:
		return "", fmt.Errorf("topology: no routing key for event type %q", t)
	}
}

// TopicFor is the destination a publish with routingKey lands on.
func (c Config) TopicFor(routingKey string) string {
	return c.Exchange + "." + routingKey
}

// Binding resolves a queue name to the topic it is bound to.
func (c Config) Binding(queue string) (string, error) {
	switch queue {
	case c.CreatedQueue:
		return c.TopicFor(c.CreatedRoutingKey), nil
	case c.UpdatedQueue:
		return c.TopicFor(c.UpdatedRoutingKey), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
}

func (c Config) Queues() []string {
	return []string{c.CreatedQueue, c.UpdatedQueue}
}

func (c Config) DeadLetterTopic(queue string) string {
	return c.Exchange + "." + queue + ".dlq"
}

// GroupID names the consumer group one service uses to read a queue.
func GroupID(service, queue string) string {
	return service + "." + queue
}

// Topics lists every topic the topology owns: routed topics first, then the
// dead-letter topics.
func (c Config) Topics() []string {
	return []string{
		c.TopicFor(c.CreatedRoutingKey),
		c.TopicFor(c.UpdatedRoutingKey),
		c.DeadLetterTopic(c.CreatedQueue),
		c.DeadLetterTopic(c.UpdatedQueue),
	}
}
