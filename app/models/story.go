package models

import (
	"time"
)

// Story is the unit of generation work. LastSuccessfulStep is the single
// source of truth for pipeline progress: it only moves forward, one step at
// a time, and only after the generated content for that step is persisted.
type Story struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	ProfileID          uint      `gorm:"not null;index" json:"profile_id"`
	Profile            *Profile  `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
	SessionID          string    `gorm:"type:char(36);index" json:"session_id"`
	Title              string    `gorm:"type:varchar(255)" json:"title"`
	Features           string    `gorm:"type:text" json:"features,omitempty"`
	Synopsis           string    `gorm:"type:text" json:"synopsis,omitempty"`
	LastSuccessfulStep int       `gorm:"not null;default:0" json:"last_successful_step"`
	ReadCount          int64     `gorm:"not null;default:0" json:"read_count"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCompleted reports whether the story reached the end of a pipeline with
// the given total step count.
func (s *Story) IsCompleted(totalSteps int) bool {
	return s.LastSuccessfulStep >= totalSteps
}
