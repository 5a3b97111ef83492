package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/NordCoder/Studymate/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, key, value []byte) error

var (
	mConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_messages_total", Help: "Messages handled, by outcome.",
	}, []string{"topic", "result"})
	mLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kafka_consumer_lag", Help: "Reader lag reported by the last fetch.",
	}, []string{"topic"})
)

type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topic         string
	FromBeginning bool
	Logger        *zap.Logger
	// Retry governs handler errors; HandlePolicy when zero.
	Retry retry.Policy
}

// Consumer reads one topic as part of a group. An offset is committed once
// the handler accepted the message or the retry policy gave up on it.
type Consumer struct {
	reader *kafka.Reader
	topic  string
	log    *zap.Logger
	policy retry.Policy
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	log := cfg.Logger
	if log == nil {
		log = zap.L()
	}
	policy := cfg.Retry
	if policy.Attempts == 0 {
		policy = retry.HandlePolicy("kafka_consume_"+cfg.Topic, log)
	}
	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}

	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:               cfg.Brokers,
			GroupID:               cfg.GroupID,
			Topic:                 cfg.Topic,
			StartOffset:           start,
			WatchPartitionChanges: true,
			MinBytes:              1,
			MaxBytes:              10e6,
			MaxWait:               time.Second,
			SessionTimeout:        10 * time.Second,
			RebalanceTimeout:      15 * time.Second,
			HeartbeatInterval:     3 * time.Second,
		}),
		topic:  cfg.Topic,
		policy: policy,
		log: log.With(
			zap.String("component", "kafka.consumer"),
			zap.String("topic", cfg.Topic),
			zap.String("group", cfg.GroupID),
		),
	}
}

// Consume blocks until ctx is done. A message the handler still rejects
// after the retry policy is logged, counted as skipped and committed, so one
// bad message cannot stall the partition.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	c.log.Info("consumer started")
	defer c.log.Info("consumer stopped")

	const (
		minBackoff = 200 * time.Millisecond
		maxBackoff = 5 * time.Second
	)
	backoff := minBackoff

	for {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			lvl := c.log.Warn
			if errors.Is(err, io.EOF) {
				lvl = c.log.Debug
			}
			lvl("fetch failed", zap.Error(err), zap.Duration("backoff", backoff))
			if serr := sleepCtx(ctx, backoff); serr != nil {
				return serr
			}
			backoff = min(2*backoff, maxBackoff)
			continue
		}
		backoff = minBackoff
		mLag.WithLabelValues(c.topic).Set(float64(c.reader.Lag()))

		if err := c.process(ctx, msg, h); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// process runs h under the retry policy. It returns an error only when ctx
// ended, in which case the message must not be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message, h Handler) error {
	hctx := extractTrace(ctx, msg.Headers)
	err := retry.Do(ctx, func() error { return h(hctx, msg.Key, msg.Value) }, c.policy)
	switch {
	case err == nil:
		mConsumed.WithLabelValues(c.topic, "ok").Inc()
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	mConsumed.WithLabelValues(c.topic, "skipped").Inc()
	c.log.Error("message skipped",
		zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset),
		zap.Bool("permanent", retry.IsPermanent(err)), zap.Error(err))
	return nil
}

func (c *Consumer) Close() error { return c.reader.Close() }

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
