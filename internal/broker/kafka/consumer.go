package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultRetryMin = 500 * time.Millisecond
	DefaultRetryMax = 30 * time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает сообщения группы по одному и коммитит offset только после
// успешной обработки.
type Consumer struct {
	r messageReader

	retryMin time.Duration
	retryMax time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{
		r:        r,
		retryMin: DefaultRetryMin,
		retryMax: DefaultRetryMax,
		sleep:    sleepCtx,
	}
}

// WithRetryBackoff задаёт паузу между повторами обработчика: от min, удваивается до max.
// Нулевые значения оставляют умолчания.
func (c *Consumer) WithRetryBackoff(min, max time.Duration) *Consumer {
	if min > 0 {
		c.retryMin = min
	}
	if max > 0 {
		c.retryMax = max
	}
	if c.retryMax < c.retryMin {
		c.retryMax = c.retryMin
	}
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume вызывает handler для каждого сообщения. Ошибка handler-а не пропускает
// сообщение: оно повторяется, пока handler не справится или не отменят ctx.
// Следующее сообщение читается только после commit текущего.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := c.handle(ctx, msg, handler); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler func(key, value []byte) error) error {
	delay := c.retryMin
	for attempt := 1; ; attempt++ {
		err := handler(msg.Key, msg.Value)
		if err == nil {
			return nil
		}
		slog.Warn("kafka handler failed, retrying",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"retry_in", delay.String(),
			"error", err.Error(),
		)
		if serr := c.sleep(ctx, delay); serr != nil {
			return errors.Wrapf(err, "handle message (partition %d, offset %d)", msg.Partition, msg.Offset)
		}
		delay *= 2
		if delay > c.retryMax {
			delay = c.retryMax
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
