package consumer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/carelink/apptpipeline/libs/topology"
)

// QueueConfig resolves the reader settings for one queue of topo as seen
// by service.
func QueueConfig(brokers []string, service, queue string, topo topology.Config, settings Settings) (Config, error) {
	topic, err := topo.Binding(queue)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Brokers:         brokers,
		GroupID:         topology.GroupID(service, queue),
		Topic:           topic,
		DeadLetterTopic: topo.DeadLetterTopic(queue),
		Settings:        settings,
	}, nil
}

// Group runs one Consumer per queue.
type Group struct {
	consumers []*Consumer
}

// ForQueues builds a consumer for every queue of topo, all sharing handler.
func ForQueues(logger *slog.Logger, brokers []string, service string, topo topology.Config, settings Settings, handler Handler) (*Group, error) {
	g := &Group{}
	for _, queue := range topo.Queues() {
		cfg, err := QueueConfig(brokers, service, queue, topo, settings)
		if err != nil {
			return nil, err
		}
		g.consumers = append(g.consumers, New(logger.With("queue", queue), cfg, handler))
	}
	return g, nil
}

// Run blocks until ctx is cancelled and every consumer has stopped.
func (g *Group) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range g.consumers {
		wg.Add(1)
		go func(c *Consumer) {
			defer wg.Done()
			c.Run(ctx)
		}(c)
	}
	wg.Wait()
}
