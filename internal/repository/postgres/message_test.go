package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanami404/meeting-assistant/internal/domain"
	"github.com/nanami404/meeting-assistant/pkg/database"
	apperrors "github.com/nanami404/meeting-assistant/pkg/errors"
)

func sampleMessage() *domain.Message {
	return &domain.Message{
		ID:        "msg-001",
		Title:     "Weekly sync",
		Content:   "Moved to 14:00.",
		SenderID:  "usr-001",
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
}

var inboxColumns = []string{
	"id", "title", "content", "sender_id", "created_at",
	"is_read", "read_at", "total_count",
}

func TestMessageRepository_CreateWithRecipients_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewMessageRepository(mock)
	msg := sampleMessage()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(msg.ID, msg.Title, msg.Content, msg.SenderID, msg.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO message_recipients").
		WithArgs(msg.ID, "usr-002", msg.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO message_recipients").
		WithArgs(msg.ID, "usr-003", msg.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = repo.CreateWithRecipients(context.Background(), msg, []string{"usr-002", "usr-003"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_CreateWithRecipients_RollbackOnRecipientError(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewMessageRepository(mock)
	msg := sampleMessage()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(msg.ID, msg.Title, msg.Content, msg.SenderID, msg.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO message_recipients").
		WithArgs(msg.ID, "usr-002", msg.CreatedAt).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err = repo.CreateWithRecipients(context.Background(), msg, []string{"usr-002"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert delivery record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_ListByRecipient_NoFilter(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewMessageRepository(mock)
	msg := sampleMessage()

	rows := pgxmock.NewRows(inboxColumns).
		AddRow(msg.ID, msg.Title, msg.Content, msg.SenderID, msg.CreatedAt, false, (*time.Time)(nil), 1)

	mock.ExpectQuery("SELECT m.id, m.title").
		WithArgs("usr-002", 20, 0).
		WillReturnRows(rows)

	entries, total, err := repo.ListByRecipient(context.Background(), "usr-002", 0, 20, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, msg.ID, entries[0].ID)
	assert.False(t, entries[0].IsRead)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_ListByRecipient_ReadFilter(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewMessageRepository(mock)

	mock.ExpectQuery("SELECT m.id, m.title").
		WithArgs("usr-002", true, 10, 20).
		WillReturnRows(pgxmock.NewRows(inboxColumns))

	isRead := true
	entries, total, err := repo.ListByRecipient(context.Background(), "usr-002", 20, 10, &isRead)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_ListUnread(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewMessageRepository(mock)

	older := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"id", "title", "content", "sender_id", "created_at", "is_read", "read_at"}).
		AddRow("msg-001", "a", "x", "usr-001", older, false, (*time.Time)(nil)).
		AddRow("msg-002", "b", "y", "usr-001", newer, false, (*time.Time)(nil))

	mock.ExpectQuery("SELECT m.id, m.title").
		WithArgs("usr-002", 100).
		WillReturnRows(rows)

	entries, err := repo.ListUnread(context.Background(), "usr-002", 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "msg-001", entries[0].ID, "backlog must come back oldest first")
	assert.Equal(t, "msg-002", entries[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_MarkRead_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewMessageRepository(mock)

	mock.ExpectExec("UPDATE message_recipients").
		WithArgs(pgxmock.AnyArg(), "usr-002", "msg-001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.MarkRead(context.Background(), "usr-002", "msg-001")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_MarkRead_NotOwned(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewMessageRepository(mock)

	mock.ExpectExec("UPDATE message_recipients").
		WithArgs(pgxmock.AnyArg(), "usr-999", "msg-001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.MarkRead(context.Background(), "usr-999", "msg-001")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_MarkAllRead(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewMessageRepository(mock)

	mock.ExpectExec("UPDATE message_recipients").
		WithArgs(pgxmock.AnyArg(), "usr-002").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	count, err := repo.MarkAllRead(context.Background(), "usr-002")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Second call finds no unread rows left: zero count, no error.
	mock.ExpectExec("UPDATE message_recipients").
		WithArgs(pgxmock.AnyArg(), "usr-002").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	count, err = repo.MarkAllRead(context.Background(), "usr-002")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "marking an already-read inbox is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_Delete_Success(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewMessageRepository(mock)

	mock.ExpectExec("DELETE FROM message_recipients").
		WithArgs("usr-002", "msg-001").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err = repo.Delete(context.Background(), "usr-002", "msg-001")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_Delete_NotOwned(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewMessageRepository(mock)

	mock.ExpectExec("DELETE FROM message_recipients").
		WithArgs("usr-999", "msg-001").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err = repo.Delete(context.Background(), "usr-999", "msg-001")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_DeleteByKind(t *testing.T) {
	tests := []struct {
		kind string
		want int
	}{
		{domain.DeleteKindRead, 2},
		{domain.DeleteKindUnread, 1},
		{domain.DeleteKindAll, 3},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			mock, err := database.NewMockPool()
			require.NoError(t, err)
			defer mock.Close()

			repo := NewMessageRepository(mock)

			mock.ExpectExec("DELETE FROM message_recipients").
				WithArgs("usr-002").
				WillReturnResult(pgxmock.NewResult("DELETE", int64(tt.want)))

			count, err := repo.DeleteByKind(context.Background(), "usr-002", tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, count)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMessageRepository_DeleteByKind_InvalidKind(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewMessageRepository(mock)

	_, err = repo.DeleteByKind(context.Background(), "usr-002", "archived")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}
