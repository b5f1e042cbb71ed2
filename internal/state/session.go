package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionTTL = 7 * 24 * time.Hour

func sessionKey(sessionID string) string { return "ss:session:" + sessionID }

// SessionRecord is one authenticated HTTP session.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSession stores a new session for a user and returns its id.
func (m *Manager) CreateSession(ctx context.Context, userID string) (string, error) {
	rec := SessionRecord{
		SessionID: uuid.New().String(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := m.client.Set(ctx, sessionKey(rec.SessionID), data, sessionTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	return rec.SessionID, nil
}

// GetSession loads a session and refreshes its TTL.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	data, err := m.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	m.client.Expire(ctx, sessionKey(sessionID), sessionTTL)
	return &rec, nil
}

// DeleteSession removes a session.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.client.Del(ctx, sessionKey(sessionID)).Err()
}
