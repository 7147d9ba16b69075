// Package store persists chat threads and messages.
//
// The chat bridge consults a ThreadStore before forwarding a turn and after
// the stream completes. Callers treat every error as best-effort.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a thread does not exist or is not owned by
// the caller.
var ErrNotFound = errors.New("thread not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultTitle is used until the first completed turn derives a title.
const DefaultTitle = "New chat"

type Thread struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID              string          `json:"id"`
	ThreadID        string          `json:"thread_id"`
	Role            Role            `json:"role"`
	Content         string          `json:"content"`
	Card            json.RawMessage `json:"card,omitempty"`
	ClientMessageID string          `json:"client_message_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ThreadStore is the persistence boundary used by the chat bridge and the
// thread hydration endpoints.
type ThreadStore interface {
	// ResolveThread returns requestedID when it is a valid UUID owned by
	// ownerID. Otherwise it creates a new thread; created reports which.
	ResolveThread(ctx context.Context, ownerID, requestedID string) (threadID string, created bool, err error)
	AppendMessage(ctx context.Context, msg Message) error
	TouchThread(ctx context.Context, threadID string) error
	SetTitle(ctx context.Context, threadID, title string) error
	ListThreads(ctx context.Context, ownerID string, limit int) ([]Thread, error)
	ListMessages(ctx context.Context, ownerID, threadID string) ([]Message, error)
}

// ValidThreadID reports whether id is a canonical UUID.
func ValidThreadID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
