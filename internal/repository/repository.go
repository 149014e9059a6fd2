package repository

import (
	"context"

	"github.com/nanami404/meeting-assistant/internal/domain"
)

// UserRepository defines the interface for user lookups. Users are owned by
// the user-management side of the system; the messaging core only reads them.
type UserRepository interface {
	// GetByID retrieves a user by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// FilterExisting returns the subset of the given IDs that resolve to
	// known users, in no particular order.
	FilterExisting(ctx context.Context, ids []string) ([]string, error)
}

// MessageRepository defines the interface for message and delivery-record
// persistence. Every recipient-scoped operation takes the recipient ID as a
// mandatory predicate; no operation addresses a delivery record by message
// ID alone.
type MessageRepository interface {
	// CreateWithRecipients inserts the message and one delivery record per
	// recipient in a single transaction. Either all rows exist afterwards
	// or none do.
	CreateWithRecipients(ctx context.Context, msg *domain.Message, recipientIDs []string) error

	// ListByRecipient returns the recipient's inbox ordered newest first,
	// optionally filtered by read state, plus the total matching count.
	ListByRecipient(ctx context.Context, recipientID string, offset, limit int, isRead *bool) ([]domain.InboxEntry, int, error)

	// ListUnread returns the recipient's unread messages ordered oldest
	// first, for backlog replay.
	ListUnread(ctx context.Context, recipientID string, limit int) ([]domain.InboxEntry, error)

	// MarkRead marks one delivery record read. Returns NotFound when the
	// recipient owns no record for the message.
	MarkRead(ctx context.Context, recipientID, messageID string) error

	// MarkAllRead marks all of the recipient's unread records read and
	// returns the number updated.
	MarkAllRead(ctx context.Context, recipientID string) (int, error)

	// Delete removes one delivery record (never the message). Returns
	// NotFound when the recipient owns no record for the message.
	Delete(ctx context.Context, recipientID, messageID string) error

	// DeleteByKind bulk-deletes the recipient's delivery records by read
	// state (read, unread, or all) and returns the number deleted.
	DeleteByKind(ctx context.Context, recipientID, kind string) (int, error)
}
