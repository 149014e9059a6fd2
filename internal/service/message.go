package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nanami404/meeting-assistant/internal/domain"
	"github.com/nanami404/meeting-assistant/internal/event"
	"github.com/nanami404/meeting-assistant/internal/push"
	"github.com/nanami404/meeting-assistant/internal/repository"
	apperrors "github.com/nanami404/meeting-assistant/pkg/errors"
)

// backlogLimit bounds how many unread messages are replayed on connect.
// A client with more unread than this receives the oldest backlogLimit
// frames and fetches the remainder through the paginated list endpoint;
// the cap is part of the client contract, it never loses stored messages.
const backlogLimit = 500

// MessageService coordinates message persistence with live push delivery.
// The contract is persist-first: a message exists durably before any push
// attempt, and push failures never fail a send.
type MessageService struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	registry *push.Registry
	producer *event.Producer
	logger   *slog.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(
	messages repository.MessageRepository,
	users repository.UserRepository,
	registry *push.Registry,
	producer *event.Producer,
	logger *slog.Logger,
) *MessageService {
	return &MessageService{
		messages: messages,
		users:    users,
		registry: registry,
		producer: producer,
		logger:   logger,
	}
}

// SendInput holds the parameters for sending a message.
type SendInput struct {
	SenderID     string
	Title        string
	Content      string
	RecipientIDs []string
}

// Send persists the message with its fan-out records, then pushes a frame
// to every recipient that is currently online. Recipient IDs that do not
// resolve to known users are skipped with a warning, not an error.
//
// Delivery is at-least-once: a recipient connecting during the send can
// receive the same frame from both the live push and the connect-time
// backlog replay. Clients deduplicate by message ID.
func (s *MessageService) Send(ctx context.Context, input *SendInput) (*domain.Message, error) {
	if input.Title == "" {
		return nil, apperrors.InvalidInput("title is required")
	}
	if input.Content == "" {
		return nil, apperrors.InvalidInput("content is required")
	}
	if len(input.RecipientIDs) == 0 {
		return nil, apperrors.InvalidInput("at least one recipient is required")
	}

	recipients, err := s.resolveRecipients(ctx, input.RecipientIDs)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		Title:     input.Title,
		Content:   input.Content,
		SenderID:  input.SenderID,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.messages.CreateWithRecipients(ctx, msg, recipients); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	s.pushToOnline(ctx, msg, recipients)

	if err := s.producer.PublishMessageSent(ctx, msg, recipients); err != nil {
		// Persistence already succeeded; the event stream is best effort.
		s.logger.WarnContext(ctx, "failed to publish message.sent event",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}

	return msg, nil
}

// SendSystem persists and delivers a message on behalf of the system
// (event-driven fan-out, no human sender).
func (s *MessageService) SendSystem(ctx context.Context, title, content string, recipientIDs []string) (*domain.Message, error) {
	return s.Send(ctx, &SendInput{
		SenderID:     event.SystemSenderID,
		Title:        title,
		Content:      content,
		RecipientIDs: recipientIDs,
	})
}

// resolveRecipients dedupes the requested IDs and drops the ones that do
// not resolve to known users.
func (s *MessageService) resolveRecipients(ctx context.Context, requested []string) ([]string, error) {
	seen := make(map[string]struct{}, len(requested))
	deduped := make([]string, 0, len(requested))
	for _, id := range requested {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}

	known, err := s.users.FilterExisting(ctx, deduped)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	if len(known) < len(deduped) {
		knownSet := make(map[string]struct{}, len(known))
		for _, id := range known {
			knownSet[id] = struct{}{}
		}
		for _, id := range deduped {
			if _, ok := knownSet[id]; !ok {
				s.logger.WarnContext(ctx, "skipping unknown recipient",
					slog.String("recipient_id", id),
				)
			}
		}
	}

	return known, nil
}

// pushToOnline fans the frame out to every online recipient. Failures are
// swallowed: the delivery record stays unread and the message reaches the
// recipient via backlog replay or a list query instead.
func (s *MessageService) pushToOnline(ctx context.Context, msg *domain.Message, recipients []string) {
	frame := domain.FrameFromMessage(msg)
	for _, recipientID := range recipients {
		if !s.registry.IsOnline(recipientID) {
			continue
		}
		delivered := s.registry.Send(recipientID, frame)
		s.logger.DebugContext(ctx, "pushed message frame",
			slog.String("message_id", msg.ID),
			slog.String("recipient_id", recipientID),
			slog.Int("connections", delivered),
		)
	}
}

// Connect registers a live channel for the user and returns the unread
// backlog, oldest first, to be replayed before any live traffic. The
// backlog is capped at backlogLimit frames; see the constant for the
// overflow contract.
func (s *MessageService) Connect(ctx context.Context, userID string) (*push.Conn, []domain.Frame, error) {
	conn := s.registry.Register(userID)

	entries, err := s.messages.ListUnread(ctx, userID, backlogLimit)
	if err != nil {
		s.registry.Unregister(conn)
		return nil, nil, fmt.Errorf("load backlog: %w", err)
	}

	backlog := make([]domain.Frame, 0, len(entries))
	for i := range entries {
		backlog = append(backlog, domain.FrameFromMessage(&entries[i].Message))
	}

	s.logger.InfoContext(ctx, "push channel connected",
		slog.String("user_id", userID),
		slog.Int("backlog", len(backlog)),
	)
	return conn, backlog, nil
}

// Disconnect unregisters the channel. Message state is untouched: unread
// status is independent of connectivity.
func (s *MessageService) Disconnect(conn *push.Conn) {
	s.registry.Unregister(conn)
}

// List returns the recipient's inbox page, newest first.
func (s *MessageService) List(ctx context.Context, recipientID string, offset, limit int, isRead *bool) ([]domain.InboxEntry, int, error) {
	entries, total, err := s.messages.ListByRecipient(ctx, recipientID, offset, limit, isRead)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	return entries, total, nil
}

// MarkRead marks one of the recipient's messages read.
func (s *MessageService) MarkRead(ctx context.Context, recipientID, messageID string) error {
	return s.messages.MarkRead(ctx, recipientID, messageID)
}

// MarkAllRead marks all of the recipient's unread messages read.
func (s *MessageService) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	return s.messages.MarkAllRead(ctx, recipientID)
}

// Delete removes one of the recipient's delivery records.
func (s *MessageService) Delete(ctx context.Context, recipientID, messageID string) error {
	return s.messages.Delete(ctx, recipientID, messageID)
}

// DeleteByKind bulk-deletes the recipient's delivery records by read state.
func (s *MessageService) DeleteByKind(ctx context.Context, recipientID, kind string) (int, error) {
	if !domain.IsValidDeleteKind(kind) {
		return 0, apperrors.InvalidInput(fmt.Sprintf("invalid delete kind %q", kind))
	}
	return s.messages.DeleteByKind(ctx, recipientID, kind)
}
