package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NordCoder/Studymate/internal/obs"
	kafkax "github.com/NordCoder/Studymate/internal/repository/kafka"
	"go.uber.org/zap"
)

// kafka-init creates the topics listed in KAFKA_TOPICS before the services
// start. Session topics get the audit retention.
func main() {
	brokers := strings.Split(env("KAFKA_BROKER", "kafka:9092"), ",")
	topics := strings.Split(env("KAFKA_TOPICS", kafkax.SessionEventsTopic), ",")
	partitions := envInt("KAFKA_PARTITIONS", 3)
	rf := envInt("KAFKA_RF", 1)

	l, err := obs.NewLogger(obs.LogConfig{Level: env("LOG_LEVEL", "info"), App: "studymate/kafka-init"})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		spec := kafkax.TopicSpec{
			Name:              t,
			NumPartitions:     partitions,
			ReplicationFactor: rf,
			ReadyWait:         30 * time.Second,
		}
		if strings.HasPrefix(t, "studymate.sessions.") {
			spec.Retention = kafkax.SessionEventsRetention
		}
		if err := kafkax.EnsureTopic(ctx, brokers, spec, l); err != nil {
			l.Fatal("ensure topic", zap.String("topic", t), zap.Error(err))
		}
	}
	l.Info("kafka-init ok")
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil && n > 0 {
		return n
	}
	return def
}
