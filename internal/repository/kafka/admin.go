package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// SessionEventsRetention bounds how long the audit trail stays on the broker.
const SessionEventsRetention = 7 * 24 * time.Hour

type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	Retention         time.Duration
	// ReadyWait bounds the wait for every partition to get a leader.
	ReadyWait time.Duration
}

func (s *TopicSpec) withDefaults() {
	if s.NumPartitions <= 0 {
		s.NumPartitions = 1
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
	if s.ReadyWait <= 0 {
		s.ReadyWait = 5 * time.Second
	}
}

// EnsureTopic creates the topic through the controller when it is missing
// and waits until every partition has a leader.
func EnsureTopic(ctx context.Context, brokers []string, spec TopicSpec, log *zap.Logger) error {
	if len(brokers) == 0 {
		return errors.New("ensure topic: no brokers")
	}
	if log == nil {
		log = zap.NewNop()
	}
	spec.withDefaults()
	log = log.With(zap.String("topic", spec.Name))

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial %s: %w", brokers[0], err)
	}
	defer conn.Close()

	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer cc.Close()

	tc := kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.NumPartitions,
		ReplicationFactor: spec.ReplicationFactor,
	}
	if spec.Retention > 0 {
		tc.ConfigEntries = []kafka.ConfigEntry{{
			ConfigName:  "retention.ms",
			ConfigValue: strconv.FormatInt(spec.Retention.Milliseconds(), 10),
		}}
	}
	if err := cc.CreateTopics(tc); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic: %w", err)
	}

	return waitLeaders(ctx, conn, spec, log)
}

func waitLeaders(ctx context.Context, conn *kafka.Conn, spec TopicSpec, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, spec.ReadyWait)
	defer cancel()

	backoff := 100 * time.Millisecond
	for {
		parts, err := conn.ReadPartitions(spec.Name)
		if err == nil && len(parts) > 0 && allHaveLeader(parts) {
			log.Info("topic ready", zap.Int("partitions", len(parts)))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("topic %s not ready: %w", spec.Name, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, time.Second)
	}
}

func allHaveLeader(parts []kafka.Partition) bool {
	for _, p := range parts {
		if p.Leader.ID < 0 {
			return false
		}
	}
	return true
}

// BootstrapConsumer makes sure the session events topic exists before
// joining the group. A broker that is still starting only costs a warning;
// the reader keeps retrying on its own.
func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig, partitions int, log *zap.Logger) *Consumer {
	err := EnsureTopic(ctx, cfg.Brokers, TopicSpec{
		Name:          cfg.Topic,
		NumPartitions: partitions,
		Retention:     SessionEventsRetention,
	}, log)
	if err != nil && log != nil {
		log.Warn("ensure topic", zap.String("topic", cfg.Topic), zap.Error(err))
	}
	return NewConsumer(cfg)
}
