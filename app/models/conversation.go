package models

import (
	"fmt"
	"time"
)

// EntryOrigin says who produced a conversation entry.
type EntryOrigin string

// EntryType distinguishes free-form chat from pipeline commands.
type EntryType string

const (
	OriginUser EntryOrigin = "user"
	OriginAI   EntryOrigin = "ai"

	TypeChat    EntryType = "chat"
	TypeCommand EntryType = "command"
)

// ConversationEntry is one exchange in the append-only conversation log.
// Entries are never updated or deleted; corrections reference the corrected
// entry id inside Details.
type ConversationEntry struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	UserID    uint        `gorm:"not null;index" json:"user_id"`
	SessionID string      `gorm:"type:char(36);not null;index" json:"session_id"`
	Origin    EntryOrigin `gorm:"type:enum('user','ai');not null" json:"origin"`
	Type      EntryType   `gorm:"type:enum('chat','command');not null" json:"type"`
	Command   string      `gorm:"type:varchar(100);default:null" json:"command,omitempty"`
	Details   string      `gorm:"type:json;default:null" json:"details,omitempty"`
	CreatedAt time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

// TableName keeps the historical table name from the original schema.
func (ConversationEntry) TableName() string {
	return "conversations"
}

// ParseOrigin rejects unrecognized origin values at the boundary.
func ParseOrigin(s string) (EntryOrigin, error) {
	switch EntryOrigin(s) {
	case OriginUser, OriginAI:
		return EntryOrigin(s), nil
	}
	return "", fmt.Errorf("unknown conversation origin %q", s)
}

// ParseEntryType rejects unrecognized type values at the boundary.
func ParseEntryType(s string) (EntryType, error) {
	switch EntryType(s) {
	case TypeChat, TypeCommand:
		return EntryType(s), nil
	}
	return "", fmt.Errorf("unknown conversation entry type %q", s)
}

// Validate checks the closed enum fields and required references.
func (e *ConversationEntry) Validate() error {
	if e.UserID == 0 {
		return fmt.Errorf("conversation entry requires a user id")
	}
	if e.SessionID == "" {
		return fmt.Errorf("conversation entry requires a session id")
	}
	if _, err := ParseOrigin(string(e.Origin)); err != nil {
		return err
	}
	if _, err := ParseEntryType(string(e.Type)); err != nil {
		return err
	}
	if e.Type == TypeCommand && e.Command == "" {
		return fmt.Errorf("command entries require a command name")
	}
	return nil
}
