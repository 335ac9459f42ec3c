package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// GradingEvent announces a completed batch to downstream consumers.
type GradingEvent struct {
	Source        string    `json:"source"`
	BatchID       string    `json:"batch_id"`
	Subject       string    `json:"subject,omitempty"`
	StudentRef    string    `json:"student_ref,omitempty"`
	Status        string    `json:"status"`
	TotalScore    float64   `json:"total_score"`
	MaxTotalScore float64   `json:"max_total_score"`
	Arbitration   int       `json:"arbitration"`
	Failed        int       `json:"failed"`
	SentAt        time.Time `json:"sent_at"`
}

// GradingEventPublisher fans grading events out to subscribers.
type GradingEventPublisher interface {
	Publish(ctx context.Context, event GradingEvent) error
}

type gradingEventPublisher struct {
	redis   *redis.Client
	nats    *nats.Conn
	subject string
	nodeID  string
	logger  zerolog.Logger
}

// NewGradingEventPublisher publishes to a Redis channel and a NATS subject of the same
// name. Either transport may be nil.
func NewGradingEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, subject, nodeID string, logger zerolog.Logger) GradingEventPublisher {
	return &gradingEventPublisher{
		redis:   redisClient,
		nats:    natsConn,
		subject: subject,
		nodeID:  nodeID,
		logger:  logger.With().Str("component", "grading_events").Logger(),
	}
}

func (p *gradingEventPublisher) Publish(ctx context.Context, event GradingEvent) error {
	if p.subject == "" {
		return nil
	}

	event.Source = p.nodeID
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var errs []error
	if p.redis != nil {
		if err := p.redis.Publish(ctx, p.subject, payload).Err(); err != nil {
			errs = append(errs, err)
		}
	}

	if p.nats != nil {
		if err := p.nats.Publish(p.subject, payload); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
