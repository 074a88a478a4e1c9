package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck dials the first broker and, when topics are given, confirms
// each of them has at least one partition.
func ReadyCheck(brokers []string, topics ...string) func(context.Context) error {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			return err
		}
		defer conn.Close()
		if len(topics) == 0 {
			return nil
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}

		partitions, err := conn.ReadPartitions(topics...)
		if err != nil {
			return fmt.Errorf("read partitions: %w", err)
		}
		return missingTopics(topics, partitions)
	}
}

func missingTopics(topics []string, partitions []kafka.Partition) error {
	seen := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		seen[p.Topic] = true
	}
	var missing []string
	for _, t := range topics {
		if !seen[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("topics not declared: %v", missing)
	}
	return nil
}
