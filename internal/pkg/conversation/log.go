package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/magictales/storyforge/app/models"
)

// Store is the persistence surface of the log. Append-only: there is no
// update or delete.
type Store interface {
	Create(entry *models.ConversationEntry) error
	GetBySessionID(sessionID string) ([]models.ConversationEntry, error)
}

// Log records every user/AI exchange of a generation session. Entries are
// immutable once written; a correction is a new entry whose details carry a
// `corrects` reference to the earlier entry id.
type Log struct {
	store Store
}

// NewLog creates a conversation log over the given store.
func NewLog(store Store) *Log {
	return &Log{store: store}
}

// Append writes one entry and returns its id. Origin and type are validated
// as closed enums before anything is stored.
func (l *Log) Append(ctx context.Context, entry *models.ConversationEntry) (uint, error) {
	if err := entry.Validate(); err != nil {
		return 0, err
	}
	if err := l.store.Create(entry); err != nil {
		return 0, fmt.Errorf("failed to append conversation entry: %w", err)
	}
	return entry.ID, nil
}

// AppendChat records a free-form message.
func (l *Log) AppendChat(ctx context.Context, userID uint, sessionID string, origin models.EntryOrigin, message string) (uint, error) {
	details, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return 0, err
	}
	return l.Append(ctx, &models.ConversationEntry{
		UserID:    userID,
		SessionID: sessionID,
		Origin:    origin,
		Type:      models.TypeChat,
		Details:   string(details),
	})
}

// AppendCommand records a named command with structured details.
func (l *Log) AppendCommand(ctx context.Context, userID uint, sessionID string, origin models.EntryOrigin, command string, details map[string]interface{}) (uint, error) {
	var payload string
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return 0, err
		}
		payload = string(raw)
	}
	return l.Append(ctx, &models.ConversationEntry{
		UserID:    userID,
		SessionID: sessionID,
		Origin:    origin,
		Type:      models.TypeCommand,
		Command:   command,
		Details:   payload,
	})
}

// ReadSession returns the session's entries in arrival order. Repeated reads
// of an untouched session return the same sequence.
func (l *Log) ReadSession(ctx context.Context, sessionID string) ([]models.ConversationEntry, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	return l.store.GetBySessionID(sessionID)
}
