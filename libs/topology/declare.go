package topology

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

type topicCreator interface {
	CreateTopics(topics ...kafka.TopicConfig) error
}

// Declare creates every topic of cfg that does not exist yet. It is safe to
// run from every service on every start.
func Declare(ctx context.Context, brokers []string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(brokers) == 0 {
		return errors.New("topology: no brokers configured")
	}

	dialer := kafka.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("topology: dial %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("topology: find controller: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrl, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("topology: dial controller %s: %w", addr, err)
	}
	defer ctrl.Close()

	return declare(ctrl, cfg)
}

func declare(c topicCreator, cfg Config) error {
	topics := cfg.Topics()
	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     cfg.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
	}
	if err := c.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("topology: create topics: %w", err)
	}
	return nil
}
