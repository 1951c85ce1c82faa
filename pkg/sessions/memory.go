// Package sessions provides SessionLog implementations backed by memory or Redis.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/sortie/pkg/models"
)

// DefaultMaxMessages bounds how many messages a session keeps.
const DefaultMaxMessages = 2000

// MemoryLog keeps session messages in process memory.
type MemoryLog struct {
	mu          sync.RWMutex
	maxMessages int
	sessions    map[string][]models.Message
}

func NewMemoryLog(maxMessages int) *MemoryLog {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	return &MemoryLog{
		maxMessages: maxMessages,
		sessions:    make(map[string][]models.Message),
	}
}

func (l *MemoryLog) Append(_ context.Context, sessionID string, msg models.Message) error {
	msg = normalize(sessionID, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	messages := append(l.sessions[sessionID], msg)
	if len(messages) > l.maxMessages {
		messages = messages[len(messages)-l.maxMessages:]
	}

	l.sessions[sessionID] = messages

	return nil
}

// Recent returns up to limit of the newest messages, oldest first. A limit
// of zero or less returns everything.
func (l *MemoryLog) Recent(_ context.Context, sessionID string, limit int) ([]models.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	messages := l.sessions[sessionID]
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	out := make([]models.Message, len(messages))
	copy(out, messages)

	return out, nil
}

// Clear drops every message of the session.
func (l *MemoryLog) Clear(_ context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.sessions, sessionID)

	return nil
}

func normalize(sessionID string, msg models.Message) models.Message {
	msg.SessionID = sessionID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if msg.Type == "" {
		msg.Type = models.MessageText
	}

	return msg
}
