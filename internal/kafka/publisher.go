package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/order"
)

type PublisherConfig struct {
	Topic        string
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	QueueSize    int
	DrainTimeout time.Duration
}

func (c *PublisherConfig) withDefaults() {
	if c.Topic == "" {
		c.Topic = "order_events"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
}

type outboxTask struct {
	ID       uuid.UUID
	Key      []byte
	Payload  []byte
	Attempts int
}

// Publisher is an in-memory outbox for order lifecycle events. Publish only
// enqueues; Run hands queued events to the producer in batches and retries
// failed sends up to MaxAttempts.
type Publisher struct {
	producer Producer
	config   PublisherConfig
	logger   *zap.Logger

	mu    sync.Mutex
	queue []*outboxTask

	running        chan struct{}
	done           chan struct{}
	startOnce      sync.Once
	shutdownSignal chan struct{}
	stopOnce       sync.Once
}

func NewPublisher(producer Producer, config PublisherConfig, logger *zap.Logger) *Publisher {
	config.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		producer:       producer,
		config:         config,
		logger:         logger.With(zap.String("component", "event_publisher"), zap.String("topic", config.Topic)),
		running:        make(chan struct{}),
		done:           make(chan struct{}),
		shutdownSignal: make(chan struct{}),
	}
}

// Publish implements order.Notifier. When the queue is full the event is dropped.
func (p *Publisher) Publish(_ context.Context, event order.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode event", zap.Error(err))
		metrics.OperationErrorsTotal.WithLabelValues("publish_event").Inc()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) >= p.config.QueueSize {
		p.logger.Warn("Event queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("order_id", event.OrderID))
		metrics.EventsPublishedTotal.WithLabelValues("dropped").Inc()
		return
	}
	p.queue = append(p.queue, &outboxTask{
		ID:      uuid.New(),
		Key:     []byte(event.TrackingNumber),
		Payload: payload,
	})
}

func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Run processes the queue until ctx is cancelled or Shutdown is called, then
// makes one last attempt at everything still queued.
func (p *Publisher) Run(ctx context.Context) {
	p.startOnce.Do(func() { close(p.running) })
	defer close(p.done)

	p.logger.Info("Starting event publisher")
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.processBatch(ctx)
		case <-p.shutdownSignal:
			p.logger.Info("Event publisher received shutdown signal, stopping...")
			p.drain()
			return
		case <-ctx.Done():
			p.logger.Info("Event publisher context cancelled, stopping...")
			p.drain()
			return
		}
	}
}

// Shutdown stops Run, waits for the final drain and closes the producer.
func (p *Publisher) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.shutdownSignal)

		select {
		case <-p.running:
			select {
			case <-p.done:
				p.logger.Info("Event publisher shutdown complete")
			case <-time.After(p.config.DrainTimeout + time.Second):
				p.logger.Warn("Event publisher shutdown timed out")
			}
		default:
		}

		if err := p.producer.Close(); err != nil {
			p.logger.Error("Failed to close producer", zap.Error(err))
		}
	})
}

// take removes up to n tasks from the head of the queue; n < 0 takes all.
func (p *Publisher) take(n int) []*outboxTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 || n > len(p.queue) {
		n = len(p.queue)
	}
	batch := make([]*outboxTask, n)
	copy(batch, p.queue[:n])
	p.queue = p.queue[n:]
	return batch
}

func (p *Publisher) requeue(tasks []*outboxTask) {
	if len(tasks) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(tasks, p.queue...)
}

func (p *Publisher) processBatch(ctx context.Context) {
	tasks := p.take(p.config.BatchSize)
	if len(tasks) == 0 {
		return
	}
	p.logger.Debug("Processing event batch", zap.Int("size", len(tasks)))

	var retry []*outboxTask
	for i, task := range tasks {
		if ctx.Err() != nil {
			retry = append(retry, tasks[i:]...)
			break
		}
		if p.processSingleTask(ctx, task) {
			retry = append(retry, task)
		}
	}
	p.requeue(retry)
}

// processSingleTask reports whether the task should be retried.
func (p *Publisher) processSingleTask(ctx context.Context, task *outboxTask) bool {
	err := p.producer.SendMessage(ctx, p.config.Topic, task.Key, task.Payload)
	if err == nil {
		metrics.EventsPublishedTotal.WithLabelValues("sent").Inc()
		return false
	}

	task.Attempts++
	l := p.logger.With(zap.String("task_id", task.ID.String()), zap.Int("attempt", task.Attempts), zap.Error(err))
	if task.Attempts >= p.config.MaxAttempts {
		l.Error("Event reached max attempts, dropping")
		metrics.EventsPublishedTotal.WithLabelValues("failed").Inc()
		return false
	}
	l.Warn("Failed to send event, will retry")
	return true
}

func (p *Publisher) drain() {
	tasks := p.take(-1)
	if len(tasks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.config.DrainTimeout)
	defer cancel()

	p.logger.Info("Draining queued events", zap.Int("count", len(tasks)))
	for i, task := range tasks {
		if ctx.Err() != nil {
			p.logger.Warn("Drain timed out, events lost", zap.Int("remaining", len(tasks)-i))
			return
		}
		if err := p.producer.SendMessage(ctx, p.config.Topic, task.Key, task.Payload); err != nil {
			p.logger.Error("Failed to send event during drain", zap.String("task_id", task.ID.String()), zap.Error(err))
			metrics.EventsPublishedTotal.WithLabelValues("failed").Inc()
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues("sent").Inc()
	}
}
