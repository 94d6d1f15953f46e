package models

import (
	"time"

	"gorm.io/gorm"
)

// Profile is a persona a user creates stories for. Deleting a profile
// removes its stories with it.
type Profile struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index" json:"user_id"`
	User      *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Details   string         `gorm:"type:text" json:"details"`
	Stories   []Story        `gorm:"foreignKey:ProfileID;constraint:OnDelete:CASCADE" json:"stories,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
