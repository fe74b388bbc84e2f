package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-stream/internal/broadcast"
	"go.uber.org/zap"
)

// ArchivedMessage is a stream message read back from the archive. Payload and
// context stay as raw JSON.
type ArchivedMessage struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Priority  int               `json:"priority"`
	Timestamp time.Time         `json:"timestamp"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Body      json.RawMessage   `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Archive is a sink that stores every message. It implements sink.Sink.
type Archive struct {
	store *Store
}

// Archive returns a sink view of the store.
func (s *Store) Archive() *Archive {
	return &Archive{store: s}
}

func (a *Archive) Name() string { return "postgres" }

// Deliver implements sink.Sink.
func (a *Archive) Deliver(ctx context.Context, msg broadcast.Message) error {
	return a.store.InsertMessage(ctx, msg)
}

// Close is a no-op; the pool is closed by its owner.
func (a *Archive) Close() error { return nil }

// InsertMessage stores a message. Re-inserting the same id is a no-op.
func (s *Store) InsertMessage(ctx context.Context, msg broadcast.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	var metadata []byte
	if len(msg.Metadata) > 0 {
		if metadata, err = json.Marshal(msg.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	var session *string
	if msg.SessionID != "" {
		session = &msg.SessionID
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO stream_messages (id, type, session_id, priority, created_at, expires_at, body, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, string(msg.Type), session, msg.Priority, msg.Timestamp, msg.ExpiresAt, body, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages, newest first. An empty
// sessionID returns messages from every session.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]ArchivedMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, type, COALESCE(session_id, ''), priority, created_at, expires_at, body, metadata
		FROM stream_messages
		WHERE $1 = '' OR session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		var metadata []byte
		if err := rows.Scan(&m.ID, &m.Type, &m.SessionID, &m.Priority, &m.Timestamp, &m.ExpiresAt, &m.Body, &metadata); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				s.logger.Warn("bad message metadata", zap.String("message", m.ID), zap.Error(err))
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PurgeExpired deletes messages whose expiry is before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM stream_messages WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("purged expired messages", zap.Int64("count", n))
	}
	return tag.RowsAffected(), nil
}
