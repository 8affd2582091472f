package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// QueuePublisher is a DeliveryHandler that forwards outbox entries to a Queue
// so the notify worker can process them out of process.
type QueuePublisher struct {
	queue Queue
}

func NewQueuePublisher(queue Queue) *QueuePublisher {
	if queue == nil {
		panic("events: queue required")
	}
	return &QueuePublisher{queue: queue}
}

func (p *QueuePublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("events: encode queued entry: %w", err)
	}
	return p.queue.Send(ctx, string(body))
}
