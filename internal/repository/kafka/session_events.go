package kafka

import (
	"context"

	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
)

const SessionEventsTopic = "studymate.sessions.events"

type SessionEventsKafka struct {
	p *Producer
}

func NewSessionEventsKafka(p *Producer) *SessionEventsKafka { return &SessionEventsKafka{p: p} }

var _ domainauth.EventPublisher = (*SessionEventsKafka)(nil)

// PublishSessionEvent is keyed by user id so one user's events keep their
// order within a partition.
func (e *SessionEventsKafka) PublishSessionEvent(ctx context.Context, key string, payload []byte) error {
	return e.p.Publish(ctx, []byte(key), payload)
}
