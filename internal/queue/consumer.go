package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// Sink stores a notification.  repository.NotificationRepo satisfies it.
type Sink interface {
	Create(ctx context.Context, n *model.Notification) error
}

// Consumer drains the notification queue into a Sink.
type Consumer struct {
	URL   string
	Queue string
	Sink  Sink
	Log   *zap.Logger
}

const maxBackoff = 30 * time.Second

// Run dials the broker, declares the durable queue and consumes until ctx is
// cancelled.  Lost connections are redialed with exponential backoff.
// Messages that cannot be decoded or stored are rejected without requeue so
// a poison message cannot spin the worker.
func (c *Consumer) Run(ctx context.Context) error {
	log := c.Log.With(zap.String("component", "notification-consumer"), zap.String("queue", c.Queue))
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			log.Warn("dial broker failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		log.Info("connected to broker")

		err = c.consume(ctx, conn, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("set qos failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := HandleMessage(ctx, c.Sink, d.Body); err != nil {
				if Retryable(err) {
					log.Warn("notification store unavailable, requeueing", zap.Error(err))
					if !sleep(ctx, requeueDelay) {
						_ = d.Nack(false, true)
						return ctx.Err()
					}
					_ = d.Nack(false, true)
					continue
				}
				log.Error("dropping notification", zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// requeueDelay paces redelivery while the notification store is down.
const requeueDelay = time.Second

// ErrMalformed marks a delivery that can never be stored.
var ErrMalformed = errors.New("malformed notification event")

// Retryable reports whether a HandleMessage failure is transient.  Store
// outages and lock conflicts are; malformed events are not.
func Retryable(err error) bool {
	if errors.Is(err, ErrMalformed) {
		return false
	}
	var dep *model.DependencyError
	return errors.As(err, &dep) || errors.Is(err, model.ErrConflict)
}

// HandleMessage decodes one delivery body and stores it.
func HandleMessage(ctx context.Context, sink Sink, body []byte) error {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := ev.Notification()
	if err := sink.Create(ctx, &n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
