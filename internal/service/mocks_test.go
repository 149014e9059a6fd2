package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nanami404/meeting-assistant/internal/domain"
)

// --- Mock UserRepository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) FilterExisting(ctx context.Context, ids []string) ([]string, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// --- Mock MessageRepository ---

type mockMessageRepository struct {
	mock.Mock
}

func (m *mockMessageRepository) CreateWithRecipients(ctx context.Context, msg *domain.Message, recipientIDs []string) error {
	args := m.Called(ctx, msg, recipientIDs)
	return args.Error(0)
}

func (m *mockMessageRepository) ListByRecipient(ctx context.Context, recipientID string, offset, limit int, isRead *bool) ([]domain.InboxEntry, int, error) {
	args := m.Called(ctx, recipientID, offset, limit, isRead)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.InboxEntry), args.Int(1), args.Error(2)
}

func (m *mockMessageRepository) ListUnread(ctx context.Context, recipientID string, limit int) ([]domain.InboxEntry, error) {
	args := m.Called(ctx, recipientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.InboxEntry), args.Error(1)
}

func (m *mockMessageRepository) MarkRead(ctx context.Context, recipientID, messageID string) error {
	args := m.Called(ctx, recipientID, messageID)
	return args.Error(0)
}

func (m *mockMessageRepository) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	args := m.Called(ctx, recipientID)
	return args.Int(0), args.Error(1)
}

func (m *mockMessageRepository) Delete(ctx context.Context, recipientID, messageID string) error {
	args := m.Called(ctx, recipientID, messageID)
	return args.Error(0)
}

func (m *mockMessageRepository) DeleteByKind(ctx context.Context, recipientID, kind string) (int, error) {
	args := m.Called(ctx, recipientID, kind)
	return args.Int(0), args.Error(1)
}
