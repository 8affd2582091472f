package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-portal/pkg/logging"
)

const (
	defaultConsumerWait = 10
	maxConsumerWait     = 20
	maxConsumerBatch    = 10
)

type processedChecker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Consumer long-polls a Queue and hands decoded outbox entries to a
// DeliveryHandler. A message is deleted only after the handler succeeds, so
// failures are redelivered by the queue's visibility timeout.
type Consumer struct {
	queue       Queue
	handler     DeliveryHandler
	processed   processedChecker
	logger      *logging.Logger
	workers     int
	waitSeconds int
	batchSize   int

	wg sync.WaitGroup
}

func NewConsumer(queue Queue, handler DeliveryHandler, logger *logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		queue:       queue,
		handler:     handler,
		logger:      logger.Named("event-consumer"),
		workers:     2,
		waitSeconds: defaultConsumerWait,
		batchSize:   5,
	}
}

// WithProcessedStore enables duplicate suppression by outbox event id.
func (c *Consumer) WithProcessedStore(store processedChecker) *Consumer {
	c.processed = store
	return c
}

func (c *Consumer) WithWorkers(n int) *Consumer {
	if n > 0 {
		c.workers = n
	}
	return c
}

func (c *Consumer) WithWaitSeconds(seconds int) *Consumer {
	if seconds >= 0 {
		c.waitSeconds = min(seconds, maxConsumerWait)
	}
	return c
}

func (c *Consumer) WithBatchSize(n int) *Consumer {
	if n > 0 {
		c.batchSize = min(n, maxConsumerBatch)
	}
	return c
}

// Start launches the consumer goroutines.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.run(ctx, i+1)
	}
}

// Wait blocks until all consumer goroutines exit.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, workerID int) {
	defer c.wg.Done()
	c.logger.Debug("event consumer started", "worker_id", workerID)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			c.logger.Debug("event consumer stopping", "worker_id", workerID)
			return
		}

		messages, err := c.queue.Receive(ctx, c.batchSize, c.waitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to receive events", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg QueueMessage) {
	var entry OutboxEntry
	if err := json.Unmarshal([]byte(msg.Body), &entry); err != nil || entry.ID == uuid.Nil {
		c.logger.Error("dropping undecodable event", "error", err, "msg_id", msg.ID)
		c.delete(msg)
		return
	}
	eventID := entry.ID.String()

	if c.processed != nil {
		seen, err := c.processed.AlreadyProcessed(ctx, ProviderQueue, eventID)
		if err != nil {
			c.logger.Warn("processed lookup failed", "error", err, "event_id", eventID)
		} else if seen {
			c.logger.Debug("skipping duplicate event", "event_id", eventID, "type", entry.Type)
			c.delete(msg)
			return
		}
	}

	if err := c.handler.Handle(ctx, entry); err != nil {
		c.logger.Error("event handling failed", "error", err, "event_id", eventID, "type", entry.Type)
		return
	}

	if c.processed != nil {
		if _, err := c.processed.MarkProcessed(ctx, ProviderQueue, eventID); err != nil {
			c.logger.Warn("failed to mark event processed", "error", err, "event_id", eventID)
		}
	}
	c.delete(msg)
}

func (c *Consumer) delete(msg QueueMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		c.logger.Error("failed to delete queue message", "error", err, "msg_id", msg.ID)
	}
}
