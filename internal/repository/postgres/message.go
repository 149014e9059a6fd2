package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/nanami404/meeting-assistant/internal/domain"
	"github.com/nanami404/meeting-assistant/pkg/database"
	apperrors "github.com/nanami404/meeting-assistant/pkg/errors"
)

// MessageRepository implements repository.MessageRepository using PostgreSQL.
type MessageRepository struct {
	pool database.DBTX
}

// NewMessageRepository creates a new PostgreSQL-backed message repository.
func NewMessageRepository(pool database.DBTX) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// CreateWithRecipients inserts the message row and one delivery record per
// recipient inside a single transaction, so a failed insert leaves no
// partial fan-out behind.
func (r *MessageRepository) CreateWithRecipients(ctx context.Context, msg *domain.Message, recipientIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fan-out tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, title, content, sender_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.Title, msg.Content, msg.SenderID, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	for _, recipientID := range recipientIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO message_recipients (message_id, recipient_id, is_read, created_at)
			VALUES ($1, $2, FALSE, $3)`,
			msg.ID, recipientID, msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert delivery record for %s: %w", recipientID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit fan-out tx: %w", err)
	}

	return nil
}

// ListByRecipient returns the recipient's inbox ordered newest first,
// optionally filtered by read state, plus the total matching count.
func (r *MessageRepository) ListByRecipient(ctx context.Context, recipientID string, offset, limit int, isRead *bool) ([]domain.InboxEntry, int, error) {
	query := `
		SELECT m.id, m.title, m.content, m.sender_id, m.created_at,
		       mr.is_read, mr.read_at,
		       count(*) OVER() AS total_count
		FROM messages m
		JOIN message_recipients mr ON mr.message_id = m.id
		WHERE mr.recipient_id = $1`

	args := []any{recipientID}
	if isRead != nil {
		query += ` AND mr.is_read = $2`
		args = append(args, *isRead)
	}
	query += fmt.Sprintf(`
		ORDER BY m.created_at DESC
		LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages by recipient: %w", err)
	}
	defer rows.Close()

	var totalCount int
	entries := make([]domain.InboxEntry, 0)

	for rows.Next() {
		var e domain.InboxEntry
		if err := rows.Scan(
			&e.ID,
			&e.Title,
			&e.Content,
			&e.SenderID,
			&e.CreatedAt,
			&e.IsRead,
			&e.ReadAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan inbox row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate inbox rows: %w", err)
	}

	return entries, totalCount, nil
}

// ListUnread returns the recipient's unread messages oldest first. The
// ascending order is what gives reconnecting clients a chronological
// backlog.
func (r *MessageRepository) ListUnread(ctx context.Context, recipientID string, limit int) ([]domain.InboxEntry, error) {
	query := `
		SELECT m.id, m.title, m.content, m.sender_id, m.created_at,
		       mr.is_read, mr.read_at
		FROM messages m
		JOIN message_recipients mr ON mr.message_id = m.id
		WHERE mr.recipient_id = $1 AND mr.is_read = FALSE
		ORDER BY m.created_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unread messages: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.InboxEntry, 0)
	for rows.Next() {
		var e domain.InboxEntry
		if err := rows.Scan(
			&e.ID,
			&e.Title,
			&e.Content,
			&e.SenderID,
			&e.CreatedAt,
			&e.IsRead,
			&e.ReadAt,
		); err != nil {
			return nil, fmt.Errorf("scan unread row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unread rows: %w", err)
	}

	return entries, nil
}

// MarkRead marks the recipient's delivery record for the message as read.
func (r *MessageRepository) MarkRead(ctx context.Context, recipientID, messageID string) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE message_recipients
		SET is_read = TRUE, read_at = $1
		WHERE recipient_id = $2 AND message_id = $3`,
		time.Now().UTC(), recipientID, messageID,
	)
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("message", messageID)
	}

	return nil
}

// MarkAllRead marks every unread delivery record of the recipient as read
// and returns the number updated.
func (r *MessageRepository) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE message_recipients
		SET is_read = TRUE, read_at = $1
		WHERE recipient_id = $2 AND is_read = FALSE`,
		time.Now().UTC(), recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all messages read: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// Delete removes the recipient's delivery record for the message. The
// message row itself is never deleted here; other recipients may still
// hold records for it.
func (r *MessageRepository) Delete(ctx context.Context, recipientID, messageID string) error {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM message_recipients
		WHERE recipient_id = $1 AND message_id = $2`,
		recipientID, messageID,
	)
	if err != nil {
		return fmt.Errorf("delete delivery record: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("message", messageID)
	}

	return nil
}

// DeleteByKind bulk-deletes the recipient's delivery records by read state
// and returns the number deleted.
func (r *MessageRepository) DeleteByKind(ctx context.Context, recipientID, kind string) (int, error) {
	query := `DELETE FROM message_recipients WHERE recipient_id = $1`

	switch kind {
	case domain.DeleteKindRead:
		query += ` AND is_read = TRUE`
	case domain.DeleteKindUnread:
		query += ` AND is_read = FALSE`
	case domain.DeleteKindAll:
	default:
		return 0, apperrors.InvalidInput(fmt.Sprintf("invalid delete kind %q", kind))
	}

	ct, err := r.pool.Exec(ctx, query, recipientID)
	if err != nil {
		return 0, fmt.Errorf("delete delivery records by kind: %w", err)
	}

	return int(ct.RowsAffected()), nil
}
