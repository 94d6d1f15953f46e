package repository

import (
	"time"

	"github.com/magictales/storyforge/app/models"
	"gorm.io/gorm"
)

// storyRepository implements the StoryRepository interface
type storyRepository struct {
	db *gorm.DB
}

// NewStoryRepository creates a new story repository instance
func NewStoryRepository(db *gorm.DB) StoryRepository {
	return &storyRepository{db: db}
}

// Create creates a new story in the database
func (r *storyRepository) Create(story *models.Story) error {
	return r.db.Create(story).Error
}

// GetByID retrieves a story by its ID
func (r *storyRepository) GetByID(id uint) (*models.Story, error) {
	var story models.Story
	err := r.db.First(&story, id).Error
	if err != nil {
		return nil, err
	}
	return &story, nil
}

// GetOwned retrieves a story only if its profile belongs to the given user
func (r *storyRepository) GetOwned(id, userID uint) (*models.Story, error) {
	var story models.Story
	err := r.db.
		Joins("JOIN profiles ON profiles.id = stories.profile_id").
		Where("stories.id = ? AND profiles.user_id = ?", id, userID).
		First(&story).Error
	if err != nil {
		return nil, err
	}
	return &story, nil
}

// GetBySessionID retrieves the story attached to a generation session
func (r *storyRepository) GetBySessionID(sessionID string) (*models.Story, error) {
	var story models.Story
	err := r.db.Where("session_id = ?", sessionID).First(&story).Error
	if err != nil {
		return nil, err
	}
	return &story, nil
}

// GetByUserID retrieves all stories across the user's profiles
func (r *storyRepository) GetByUserID(userID uint) ([]models.Story, error) {
	var stories []models.Story
	err := r.db.
		Joins("JOIN profiles ON profiles.id = stories.profile_id").
		Where("profiles.user_id = ?", userID).
		Order("stories.created_at DESC").
		Find(&stories).Error
	return stories, err
}

// UpdateSynopsis stores the generated synopsis without touching any other
// column. LastSuccessfulStep moves only through CommitStep/ResetProgress and
// read_count only through the counter flush.
func (r *storyRepository) UpdateSynopsis(id uint, synopsis string) error {
	return r.db.Model(&models.Story{}).
		Where("id = ?", id).
		Update("synopsis", synopsis).Error
}

// Delete removes a story by its ID
func (r *storyRepository) Delete(id uint) error {
	return r.db.Delete(&models.Story{}, id).Error
}

// CountByUserIDSince counts stories created across the user's profiles since
// the given instant. This feeds the monthly quota check.
func (r *storyRepository) CountByUserIDSince(userID uint, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.Story{}).
		Joins("JOIN profiles ON profiles.id = stories.profile_id").
		Where("profiles.user_id = ? AND stories.created_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

// CommitStep performs the optimistic step advance. The WHERE clause on the
// current step makes the step boundary the unit of atomicity: a concurrent
// advance for the same step updates zero rows.
func (r *storyRepository) CommitStep(id uint, fromStep int) (int64, error) {
	tx := r.db.Model(&models.Story{}).
		Where("id = ? AND last_successful_step = ?", id, fromStep).
		Update("last_successful_step", fromStep+1)
	return tx.RowsAffected, tx.Error
}

// ResetProgress rewinds a story to step zero under a new session id. The old
// session's conversation entries stay untouched.
func (r *storyRepository) ResetProgress(id uint, newSessionID string) error {
	return r.db.Model(&models.Story{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_successful_step": 0,
			"session_id":           newSessionID,
		}).Error
}
