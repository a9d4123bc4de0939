package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"converta/internal/entities"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// EventHandler processes one conversation event
type EventHandler func(ctx context.Context, evt entities.ConversationEvent) error

// declareEventQueues sets up the main queue and its dead-letter queue.
// Rejected deliveries land in <queue>.dlq.
func declareEventQueues(ch *amqp.Channel, queue string) error {
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring %s: %w", dlq, err)
	}
	_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	})
	if err != nil {
		return fmt.Errorf("declaring %s: %w", queue, err)
	}
	return nil
}

func dialEvents(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := declareEventQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// AMQPPublisher sends conversation events to RabbitMQ
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	mu    sync.Mutex
}

func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	conn, ch, err := dialEvents(url, queue)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt entities.ConversationEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: evt.TraceID,
		Type:          "conversation.updated",
		Timestamp:     evt.OccurredAt,
		Body:          body,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// AMQPConsumer runs a fixed pool of workers over the event queue
type AMQPConsumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
	log         zerolog.Logger
}

func NewAMQPConsumer(url, queue string, concurrency int, log zerolog.Logger) (*AMQPConsumer, error) {
	if concurrency <= 0 {
		concurrency = 2
	}
	conn, ch, err := dialEvents(url, queue)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	return &AMQPConsumer{
		conn:        conn,
		ch:          ch,
		queue:       queue,
		concurrency: concurrency,
		log:         log.With().Str("component", "worker").Logger(),
	}, nil
}

// Run consumes until ctx ends. Failed or malformed events are rejected
// without requeue and go to the dead-letter queue.
func (c *AMQPConsumer) Run(ctx context.Context, handle EventHandler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}
	c.log.Info().Str("queue", c.queue).Int("concurrency", c.concurrency).Msg("worker started")

	jobs := make(chan amqp.Delivery, c.concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.process(ctx, workerID, d, handle)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("amqp delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *AMQPConsumer) process(ctx context.Context, workerID int, d amqp.Delivery, handle EventHandler) {
	var evt entities.ConversationEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil || evt.ConversationID == "" {
		c.log.Warn().Err(err).Int("worker", workerID).Msg("bad event")
		_ = d.Nack(false, false)
		return
	}
	log := c.log.With().Int("worker", workerID).Str("trace_id", evt.TraceID).Logger()

	start := time.Now()
	if err := handle(ctx, evt); err != nil {
		log.Error().Err(err).Dur("cost", time.Since(start)).Msg("event failed")
		_ = d.Nack(false, false)
		return
	}
	if err := d.Ack(false); err != nil {
		log.Warn().Err(err).Msg("ack failed")
	}
}

func (c *AMQPConsumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// InlineDispatcher runs event handlers in-process when no broker is
// configured. Publish never blocks the relay.
type InlineDispatcher struct {
	handle  EventHandler
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewInlineDispatcher(handle EventHandler, log zerolog.Logger) *InlineDispatcher {
	return &InlineDispatcher{
		handle:  handle,
		timeout: 30 * time.Second,
		log:     log.With().Str("component", "events").Logger(),
	}
}

func (d *InlineDispatcher) Publish(ctx context.Context, evt entities.ConversationEvent) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.handle(hctx, evt); err != nil {
			d.log.Error().Err(err).Str("trace_id", evt.TraceID).Str("conversation_id", evt.ConversationID).Msg("event handler failed")
		}
	}()
	return nil
}

// Wait blocks until in-flight handlers finish
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
