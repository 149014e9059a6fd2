package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nanami404/meeting-assistant/internal/domain"
	pkgkafka "github.com/nanami404/meeting-assistant/pkg/kafka"
)

// Topics consumed from the meeting-management side of the system.
const (
	TopicMeetingCreated  = "meeting.created"
	TopicMeetingReminder = "meeting.reminder"
)

// ConsumerGroupID is the Kafka consumer group for this service.
const ConsumerGroupID = "meeting-assistant"

// SystemSenderID is the sender recorded on messages that originate from
// events rather than from a user.
const SystemSenderID = "system"

// MeetingCreatedData is the payload of a meeting.created event.
type MeetingCreatedData struct {
	MeetingID      string    `json:"meeting_id"`
	Title          string    `json:"title"`
	OrganizerID    string    `json:"organizer_id"`
	StartsAt       time.Time `json:"starts_at"`
	ParticipantIDs []string  `json:"participant_ids"`
}

// MeetingReminderData is the payload of a meeting.reminder event.
type MeetingReminderData struct {
	MeetingID      string    `json:"meeting_id"`
	Title          string    `json:"title"`
	StartsAt       time.Time `json:"starts_at"`
	ParticipantIDs []string  `json:"participant_ids"`
}

// MessageSender is the slice of the message service the consumer needs:
// persist a system message and fan it out to participants.
type MessageSender interface {
	SendSystem(ctx context.Context, title, content string, recipientIDs []string) (*domain.Message, error)
}

// ConsumerHandler routes incoming Kafka events to the appropriate handler.
type ConsumerHandler struct {
	messages MessageSender
	logger   *slog.Logger
}

// NewConsumerHandler creates a new event consumer handler.
func NewConsumerHandler(messages MessageSender, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{
		messages: messages,
		logger:   logger,
	}
}

// Handle processes an incoming Kafka event based on its event type.
func (h *ConsumerHandler) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicMeetingCreated:
		return h.handleMeetingCreated(ctx, event)
	case TopicMeetingReminder:
		return h.handleMeetingReminder(ctx, event)
	default:
		h.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

// handleMeetingCreated fans out an invitation message to all participants.
func (h *ConsumerHandler) handleMeetingCreated(ctx context.Context, event *pkgkafka.Event) error {
	var data MeetingCreatedData
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.ErrorContext(ctx, "malformed meeting.created payload, skipping",
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if len(data.ParticipantIDs) == 0 {
		return nil
	}

	title := fmt.Sprintf("New meeting: %s", data.Title)
	content := fmt.Sprintf("You have been invited to %q, starting at %s.",
		data.Title, data.StartsAt.Format(time.RFC3339))

	msg, err := h.messages.SendSystem(ctx, title, content, data.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("send meeting.created message: %w", err)
	}

	h.logger.InfoContext(ctx, "meeting invitation fanned out",
		slog.String("meeting_id", data.MeetingID),
		slog.String("message_id", msg.ID),
		slog.Int("participants", len(data.ParticipantIDs)),
	)
	return nil
}

// handleMeetingReminder fans out a reminder message to all participants.
func (h *ConsumerHandler) handleMeetingReminder(ctx context.Context, event *pkgkafka.Event) error {
	var data MeetingReminderData
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.ErrorContext(ctx, "malformed meeting.reminder payload, skipping",
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if len(data.ParticipantIDs) == 0 {
		return nil
	}

	title := fmt.Sprintf("Reminder: %s", data.Title)
	content := fmt.Sprintf("%q starts at %s.", data.Title, data.StartsAt.Format(time.RFC3339))

	msg, err := h.messages.SendSystem(ctx, title, content, data.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("send meeting.reminder message: %w", err)
	}

	h.logger.InfoContext(ctx, "meeting reminder fanned out",
		slog.String("meeting_id", data.MeetingID),
		slog.String("message_id", msg.ID),
		slog.Int("participants", len(data.ParticipantIDs)),
	)
	return nil
}

// NewConsumers creates Kafka consumers for all topics this service
// subscribes to.
func NewConsumers(brokers []string, handler *ConsumerHandler, logger *slog.Logger) []*pkgkafka.Consumer {
	topics := []string{
		TopicMeetingCreated,
		TopicMeetingReminder,
	}

	consumers := make([]*pkgkafka.Consumer, 0, len(topics))

	for _, topic := range topics {
		cfg := pkgkafka.ConsumerConfig{
			Brokers:  brokers,
			GroupID:  ConsumerGroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}

		consumers = append(consumers, pkgkafka.NewConsumer(cfg, handler.Handle, logger))
	}

	return consumers
}
