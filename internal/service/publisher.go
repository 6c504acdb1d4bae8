// Package service holds outbound integrations used by the workflow engine.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/model"
	"github.com/iliyamo/dossier-workflow/internal/queue"
)

const publishTimeout = 5 * time.Second

// Publisher sends notification events to a durable RabbitMQ queue.  It
// satisfies workflow.Notifier.
type Publisher struct {
	url   string
	queue string
	log   *zap.Logger
	now   func() time.Time
	wg    sync.WaitGroup
}

// NewPublisher returns a publisher for the given broker URL and queue.
func NewPublisher(url, queueName string, log *zap.Logger) *Publisher {
	return &Publisher{
		url:   url,
		queue: queueName,
		log:   log.With(zap.String("component", "notification-publisher")),
		now:   time.Now,
	}
}

// Notify publishes n in the background.  Failures are logged; the caller's
// transaction has already committed and is never affected.
func (p *Publisher) Notify(ctx context.Context, n model.Notification) {
	ev := queue.EventFrom(n, p.now())
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, ev); err != nil {
			p.log.Error("publish notification failed",
				zap.Uint64("user_id", ev.UserID), zap.String("kind", string(ev.Kind)), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (p *Publisher) Wait() { p.wg.Wait() }

// Publish dials the broker, declares the queue and sends ev as a persistent
// JSON message.
func (p *Publisher) Publish(ctx context.Context, ev queue.NotificationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
