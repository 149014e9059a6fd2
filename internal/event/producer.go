package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nanami404/meeting-assistant/internal/domain"
	pkgkafka "github.com/nanami404/meeting-assistant/pkg/kafka"
)

// Kafka topics published by the messaging core.
var (
	TopicMessageSent = pkgkafka.Topic("message", "sent")
)

// Aggregate type constant.
const AggregateTypeMessage = "message"

// Source identifier for events originating from this service.
const SourceMeetingAssistant = "meeting-assistant"

// MessageSentData is the payload for a message.sent event.
type MessageSentData struct {
	MessageID    string    `json:"message_id"`
	Title        string    `json:"title"`
	SenderID     string    `json:"sender_id"`
	RecipientIDs []string  `json:"recipient_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

// Producer publishes messaging domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer. A nil kafka producer disables
// publishing (every publish becomes a no-op), which keeps Kafka optional.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishMessageSent publishes a message.sent event after a message has
// been persisted and fanned out.
func (p *Producer) PublishMessageSent(ctx context.Context, msg *domain.Message, recipientIDs []string) error {
	if p.kafka == nil {
		return nil
	}

	data := MessageSentData{
		MessageID:    msg.ID,
		Title:        msg.Title,
		SenderID:     msg.SenderID,
		RecipientIDs: recipientIDs,
		CreatedAt:    msg.CreatedAt,
	}

	event, err := pkgkafka.NewEvent(TopicMessageSent, msg.ID, AggregateTypeMessage, SourceMeetingAssistant, data)
	if err != nil {
		return fmt.Errorf("create message.sent event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicMessageSent, event); err != nil {
		return fmt.Errorf("publish message.sent event: %w", err)
	}

	p.logger.DebugContext(ctx, "published message.sent event",
		slog.String("message_id", msg.ID),
	)

	return nil
}
