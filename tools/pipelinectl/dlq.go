package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/carelink/apptpipeline/libs/consumer"
	"github.com/carelink/apptpipeline/libs/kafkax"
	"github.com/carelink/apptpipeline/libs/runtime"
	"github.com/carelink/apptpipeline/libs/topology"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
)

const headerReplayedFrom = "replayed_from"

var errNoBrokers = errors.New("no kafka brokers configured")

var (
	dlqQueue   string
	dlqLimit   int
	dlqTimeout time.Duration
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect or replay dead-lettered messages",
}

var dlqInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print dead-lettered messages of a queue without consuming them",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, err := dlqTopic()
		if err != nil {
			return err
		}
		msgs, err := peek(cmd.Context(), brokerList(), topic, dlqLimit, dlqTimeout)
		if err != nil {
			return err
		}
		return printEntries(cmd.OutOrStdout(), msgs)
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Republish dead-lettered messages to the queue they came from",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, err := dlqTopic()
		if err != nil {
			return err
		}
		target, err := cfg.Topology.Binding(dlqQueue)
		if err != nil {
			return err
		}
		if len(brokerList()) == 0 {
			return errNoBrokers
		}

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokerList(),
			GroupID:     topology.GroupID("pipelinectl.replay", dlqQueue),
			Topic:       topic,
			StartOffset: kafka.FirstOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
		defer reader.Close()

		writer := kafkax.NewWriter(brokerList())
		defer writer.Close()

		logger := runtime.NewLogger("pipelinectl")
		n, err := replay(cmd.Context(), reader, writer, target, dlqLimit, dlqTimeout, logger)
		fmt.Fprintf(cmd.OutOrStdout(), "replayed %d message(s) from %s to %s\n", n, topic, target)
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{dlqInspectCmd, dlqReplayCmd} {
		c.Flags().StringVar(&dlqQueue, "queue", "", "queue whose dead-letter topic to use")
		c.Flags().IntVar(&dlqLimit, "limit", 20, "maximum number of messages")
		c.Flags().DurationVar(&dlqTimeout, "timeout", 5*time.Second, "stop after this long without a new message")
		_ = c.MarkFlagRequired("queue")
	}
	dlqCmd.AddCommand(dlqInspectCmd, dlqReplayCmd)
}

func dlqTopic() (string, error) {
	if _, err := cfg.Topology.Binding(dlqQueue); err != nil {
		return "", err
	}
	return cfg.Topology.DeadLetterTopic(dlqQueue), nil
}

type entry struct {
	Partition   int               `json:"partition"`
	Offset      int64             `json:"offset"`
	Key         string            `json:"key"`
	Time        time.Time         `json:"time"`
	Headers     map[string]string `json:"headers"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	PayloadText string            `json:"payload_text,omitempty"`
}

func toEntry(msg kafka.Message) entry {
	e := entry{
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Time:      msg.Time,
		Headers:   make(map[string]string, len(msg.Headers)),
	}
	for _, h := range msg.Headers {
		e.Headers[h.Key] = string(h.Value)
	}
	if json.Valid(msg.Value) {
		e.Payload = msg.Value
	} else {
		e.PayloadText = string(msg.Value)
	}
	return e
}

func printEntries(w io.Writer, msgs []kafka.Message) error {
	enc := json.NewEncoder(w)
	for _, m := range msgs {
		if err := enc.Encode(toEntry(m)); err != nil {
			return err
		}
	}
	return nil
}

// peek reads up to limit messages from the start of every partition of
// topic without joining a consumer group.
func peek(ctx context.Context, brokers []string, topic string, limit int, idle time.Duration) ([]kafka.Message, error) {
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, err
	}
	partitions, err := conn.ReadPartitions(topic)
	_ = conn.Close()
	if err != nil {
		return nil, err
	}

	var out []kafka.Message
	for _, p := range partitions {
		if len(out) >= limit {
			break
		}
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   brokers,
			Topic:     topic,
			Partition: p.ID,
			MinBytes:  1,
			MaxBytes:  10e6,
		})
		if err := r.SetOffset(kafka.FirstOffset); err != nil {
			_ = r.Close()
			return nil, err
		}
		msgs, err := drain(ctx, r, limit-len(out), idle)
		_ = r.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
}

// drain fetches until limit messages were read or idle passes without one.
func drain(ctx context.Context, r fetcher, limit int, idle time.Duration) ([]kafka.Message, error) {
	var out []kafka.Message
	for len(out) < limit {
		fetchCtx, cancel := context.WithTimeout(ctx, idle)
		msg, err := r.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return out, nil
			}
			return out, err
		}
		out = append(out, msg)
	}
	return out, nil
}

type replayReader interface {
	fetcher
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func replay(ctx context.Context, r replayReader, w consumer.Writer, target string, limit int, idle time.Duration, logger *slog.Logger) (int, error) {
	replayed := 0
	for replayed < limit {
		msgs, err := drain(ctx, r, 1, idle)
		if err != nil {
			return replayed, err
		}
		if len(msgs) == 0 {
			return replayed, nil
		}
		if err := w.WriteMessages(ctx, replayMessage(msgs[0], target)); err != nil {
			return replayed, fmt.Errorf("republish offset %d: %w", msgs[0].Offset, err)
		}
		if err := r.CommitMessages(ctx, msgs[0]); err != nil {
			return replayed, err
		}
		logger.Info("message replayed",
			"event_id", kafkax.HeaderValue(msgs[0].Headers, kafkax.HeaderEventID),
			"dlq_reason", kafkax.HeaderValue(msgs[0].Headers, consumer.HeaderDLQReason),
			"offset", msgs[0].Offset,
			"topic", target,
		)
		replayed++
	}
	return replayed, nil
}

// replayMessage strips dead-letter bookkeeping and points msg back at its
// routed topic. Event id and trace headers are kept.
func replayMessage(msg kafka.Message, target string) kafka.Message {
	var headers []kafka.Header
	for _, h := range msg.Headers {
		if strings.HasPrefix(h.Key, "dlq_") {
			continue
		}
		headers = append(headers, h)
	}
	headers = kafkax.SetHeader(headers, headerReplayedFrom, msg.Topic)
	return kafka.Message{
		Topic:   target,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}
