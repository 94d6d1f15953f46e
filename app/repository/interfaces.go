package repository

import (
	"time"

	"github.com/magictales/storyforge/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetWithPlan(id uint) (*models.User, error)
	Update(user *models.User) error
	UpdateLastVisited(id uint, at time.Time) error
	Delete(id uint) error
	Count() (int64, error)
}

// PlanRepository defines the interface for subscription plan lookups
type PlanRepository interface {
	GetByID(id uint) (*models.Plan, error)
	GetByName(name string) (*models.Plan, error)
	GetAll() ([]models.Plan, error)
	Count() (int64, error)
}

// ProfileRepository defines the interface for profile-related operations
type ProfileRepository interface {
	Create(profile *models.Profile) error
	GetByID(id uint) (*models.Profile, error)
	GetByUserID(userID uint) ([]models.Profile, error)
	GetOwned(id, userID uint) (*models.Profile, error)
	Update(profile *models.Profile) error
	Delete(id uint) error
	CountByUserID(userID uint) (int64, error)
}

// StoryRepository defines the interface for story-related operations.
// CommitStep and ResetProgress are the only ways LastSuccessfulStep moves.
type StoryRepository interface {
	Create(story *models.Story) error
	GetByID(id uint) (*models.Story, error)
	GetOwned(id, userID uint) (*models.Story, error)
	GetBySessionID(sessionID string) (*models.Story, error)
	GetByUserID(userID uint) ([]models.Story, error)
	// UpdateSynopsis writes the synopsis column only; story rows have
	// concurrent writers (step commits, counter flush) that a full-row
	// save would overwrite.
	UpdateSynopsis(id uint, synopsis string) error
	Delete(id uint) error
	CountByUserIDSince(userID uint, since time.Time) (int64, error)
	// CommitStep advances LastSuccessfulStep from fromStep to fromStep+1
	// only if nobody advanced it in the meantime. Returns the number of
	// rows updated (0 means a concurrent writer won).
	CommitStep(id uint, fromStep int) (int64, error)
	// ResetProgress sets LastSuccessfulStep back to zero under a fresh
	// session id.
	ResetProgress(id uint, newSessionID string) error
}

// ConversationRepository defines the interface for the append-only
// conversation log. There is deliberately no update or delete.
type ConversationRepository interface {
	Create(entry *models.ConversationEntry) error
	GetBySessionID(sessionID string) ([]models.ConversationEntry, error)
	GetByUserID(userID uint, offset, limit int) ([]models.ConversationEntry, error)
	CountBySessionID(sessionID string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Plan         PlanRepository
	Profile      ProfileRepository
	Story        StoryRepository
	Conversation ConversationRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Plan:         NewPlanRepository(db),
		Profile:      NewProfileRepository(db),
		Story:        NewStoryRepository(db),
		Conversation: NewConversationRepository(db),
	}
}
