package repository

import (
	"github.com/magictales/storyforge/app/models"
	"gorm.io/gorm"
)

// conversationRepository implements the ConversationRepository interface
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository instance
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// Create appends a new entry to the conversation log
func (r *conversationRepository) Create(entry *models.ConversationEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	return r.db.Create(entry).Error
}

// GetBySessionID retrieves all entries of a session in arrival order
func (r *conversationRepository) GetBySessionID(sessionID string) ([]models.ConversationEntry, error) {
	var entries []models.ConversationEntry
	err := r.db.Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// GetByUserID retrieves a page of a user's entries, newest first
func (r *conversationRepository) GetByUserID(userID uint, offset, limit int) ([]models.ConversationEntry, error) {
	var entries []models.ConversationEntry
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&entries).Error
	return entries, err
}

// CountBySessionID returns the number of entries in a session
func (r *conversationRepository) CountBySessionID(sessionID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.ConversationEntry{}).Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}
