package domain

import (
	"time"
)

// Delete kind constants for bulk delivery-record deletion.
const (
	DeleteKindRead   = "read"
	DeleteKindUnread = "unread"
	DeleteKindAll    = "all"
)

// Message is an immutable notification created by a sender and fanned out
// to one or more recipients. Mutable per-recipient state lives on the
// DeliveryRecord, never here.
type Message struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryRecord tracks per-recipient read/unread state for a message.
// Exactly one record exists per (message, recipient) pair.
type DeliveryRecord struct {
	MessageID   string     `json:"message_id"`
	RecipientID string     `json:"recipient_id"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// InboxEntry is the joined view of a message and the recipient's delivery
// record, as returned by list queries.
type InboxEntry struct {
	Message
	IsRead bool       `json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}

// Frame is the payload pushed over a live channel, both for live sends and
// backlog replay. Clients deduplicate by MessageID.
type Frame struct {
	MessageID string    `json:"message_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FrameFromMessage builds the push frame for a message.
func FrameFromMessage(m *Message) Frame {
	return Frame{
		MessageID: m.ID,
		Title:     m.Title,
		Content:   m.Content,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}
}

// ValidDeleteKinds returns the set of valid bulk-delete kinds.
func ValidDeleteKinds() []string {
	return []string{DeleteKindRead, DeleteKindUnread, DeleteKindAll}
}

// IsValidDeleteKind checks whether the given kind is a valid bulk-delete kind.
func IsValidDeleteKind(kind string) bool {
	for _, k := range ValidDeleteKinds() {
		if k == kind {
			return true
		}
	}
	return false
}
