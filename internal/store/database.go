package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"commerce-portal-backend/internal/db"
)

// DatabaseStore stores chat threads and messages in PostgreSQL
type DatabaseStore struct {
	db *db.DB
}

// NewDatabaseStore creates a new database store
func NewDatabaseStore(database *db.DB) *DatabaseStore {
	return &DatabaseStore{db: database}
}

// ResolveThread reuses requestedID when it exists and belongs to ownerID,
// otherwise inserts a fresh thread.
func (ds *DatabaseStore) ResolveThread(ctx context.Context, ownerID, requestedID string) (string, bool, error) {
	if ownerID == "" {
		return "", false, fmt.Errorf("owner_id is required")
	}
	if ValidThreadID(requestedID) {
		var owner string
		err := ds.db.QueryRowContext(ctx,
			`SELECT owner_id FROM chat_threads WHERE id = $1`, requestedID,
		).Scan(&owner)
		switch {
		case err == nil && owner == ownerID:
			return requestedID, false, nil
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return "", false, fmt.Errorf("failed to look up thread: %w", err)
		}
	}

	var id string
	query := `
		INSERT INTO chat_threads (owner_id, title, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id
	`
	if err := ds.db.QueryRowContext(ctx, query, ownerID, DefaultTitle).Scan(&id); err != nil {
		return "", false, fmt.Errorf("failed to create thread: %w", err)
	}
	return id, true, nil
}

// AppendMessage inserts a message. A repeated client message id for the
// same thread is ignored.
func (ds *DatabaseStore) AppendMessage(ctx context.Context, msg Message) error {
	if msg.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	var card any
	if len(msg.Card) > 0 {
		card = string(msg.Card)
	}
	var clientID any
	if msg.ClientMessageID != "" {
		clientID = msg.ClientMessageID
	}

	query := `
		INSERT INTO chat_messages (thread_id, role, content, card, client_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (thread_id, client_message_id) DO NOTHING
	`
	_, err := ds.db.ExecContext(ctx, query, msg.ThreadID, string(msg.Role), msg.Content, card, clientID)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (ds *DatabaseStore) TouchThread(ctx context.Context, threadID string) error {
	return ds.execOne(ctx, `UPDATE chat_threads SET updated_at = NOW() WHERE id = $1`, threadID)
}

func (ds *DatabaseStore) SetTitle(ctx context.Context, threadID, title string) error {
	return ds.execOne(ctx, `UPDATE chat_threads SET title = $2 WHERE id = $1`, threadID, title)
}

// ListThreads returns the owner's threads, most recently updated first
func (ds *DatabaseStore) ListThreads(ctx context.Context, ownerID string, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, owner_id, title, created_at, updated_at
		FROM chat_threads
		WHERE owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`
	rows, err := ds.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	out := make([]Thread, 0)
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListMessages returns a thread's messages in insertion order
func (ds *DatabaseStore) ListMessages(ctx context.Context, ownerID, threadID string) ([]Message, error) {
	if !ValidThreadID(threadID) {
		return nil, ErrNotFound
	}
	query := `
		SELECT m.id, m.thread_id, m.role, m.content, m.card, COALESCE(m.client_message_id, ''), m.created_at
		FROM chat_messages m
		JOIN chat_threads t ON t.id = m.thread_id
		WHERE m.thread_id = $1 AND t.owner_id = $2
		ORDER BY m.seq
	`
	rows, err := ds.db.QueryContext(ctx, query, threadID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var (
			m    Message
			role string
			card []byte
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &card, &m.ClientMessageID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = Role(role)
		if len(card) > 0 {
			m.Card = card
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		var owner string
		err := ds.db.QueryRowContext(ctx, `SELECT owner_id FROM chat_threads WHERE id = $1`, threadID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != ownerID) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up thread: %w", err)
		}
	}
	return out, nil
}

func (ds *DatabaseStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := ds.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update thread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ ThreadStore = (*DatabaseStore)(nil)
