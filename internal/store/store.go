package store

import (
	"context"
	"errors"
	"time"

	"github.com/roomcrew/roomnoti/internal/model"
)

// ErrNoInbox is returned when nothing was cached for a member yet.
var ErrNoInbox = errors.New("no cached inbox")

// Inbox is the last inbox snapshot persisted for a member.
type Inbox struct {
	MemberID int64
	Items    []model.Notification
	Unread   int
	SavedAt  time.Time
}

// Store persists the member's inbox between runs so the list can render
// before the backend answers.
type Store interface {
	// SaveInbox replaces the cached inbox for a member.
	SaveInbox(ctx context.Context, memberID int64, items []model.Notification, unread int) error

	// LoadInbox returns the cached inbox or ErrNoInbox.
	LoadInbox(ctx context.Context, memberID int64) (*Inbox, error)

	// ClearMember drops everything cached for a member (logout).
	ClearMember(ctx context.Context, memberID int64) error

	Close() error
}
