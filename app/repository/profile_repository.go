package repository

import (
	"github.com/magictales/storyforge/app/models"
	"gorm.io/gorm"
)

// profileRepository implements the ProfileRepository interface
type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository instance
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

// Create creates a new profile in the database
func (r *profileRepository) Create(profile *models.Profile) error {
	return r.db.Create(profile).Error
}

// GetByID retrieves a profile by its ID
func (r *profileRepository) GetByID(id uint) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.First(&profile, id).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetByUserID retrieves all profiles belonging to a user
func (r *profileRepository) GetByUserID(userID uint) ([]models.Profile, error) {
	var profiles []models.Profile
	err := r.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&profiles).Error
	return profiles, err
}

// GetOwned retrieves a profile only if it belongs to the given user
func (r *profileRepository) GetOwned(id, userID uint) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Update updates an existing profile
func (r *profileRepository) Update(profile *models.Profile) error {
	return r.db.Save(profile).Error
}

// Delete removes a profile and its stories in one transaction
func (r *profileRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("profile_id = ?", id).Delete(&models.Story{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Profile{}, id).Error
	})
}

// CountByUserID returns the number of profiles a user owns
func (r *profileRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Profile{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
