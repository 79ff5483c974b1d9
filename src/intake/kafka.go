package intake

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message payload.
type Handler func(ctx context.Context, payload []byte) error

func NewKafkaReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  cfg.KafkaMaxWait,
	})
}

// Consumer reads signal payloads from a topic and hands them to a Handler
// one at a time, committing each offset once it has been handled.
type Consumer struct {
	reader   MessageReader
	handle   Handler
	logger   *logrus.Entry
	retryMax int
	backoff  time.Duration
}

func NewConsumer(reader MessageReader, handle Handler, cfg Config, logger *logrus.Entry) *Consumer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Consumer{
		reader:   reader,
		handle:   handle,
		logger:   logger.WithField("component", "kafka-intake"),
		retryMax: cfg.KafkaRetryMax,
		backoff:  cfg.KafkaBackoff,
	}
}

// Run consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.WithError(err).Warn("closing kafka reader")
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("kafka intake stopped")
				return nil
			}
			c.logger.WithError(err).Error("fetching kafka message")
			if !c.sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("committing kafka offset")
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	var err error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if err = c.handle(ctx, msg.Value); err == nil {
			return
		}
		if !c.sleep(ctx, c.backoff*time.Duration(attempt+1)) {
			break
		}
	}
	c.logger.WithError(err).WithFields(map[string]interface{}{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	}).Error("giving up on kafka message")
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
