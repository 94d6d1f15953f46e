package models

import (
	"time"

	"gorm.io/gorm"
)

// UnlimitedStories is the sentinel quota for plans without a monthly cap.
const UnlimitedStories = 999

type Plan struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	Name                 string         `gorm:"uniqueIndex;type:varchar(100)" json:"name" validate:"required,min=2,max=100"`
	IsPopular            bool           `gorm:"not null;default:false" json:"is_popular"`
	Price                float64        `gorm:"type:decimal(8,2);not null;default:0" json:"price"`
	DiscountPerYear      float64        `gorm:"type:decimal(8,2);default:null" json:"discount_per_year"`
	SaveUpMessage        string         `gorm:"type:varchar(255);default:null" json:"save_up_message,omitempty"`
	StoriesPerMonth      int            `gorm:"not null;default:0" json:"stories_per_month" validate:"gte=0"`
	CustomizationOptions string         `gorm:"type:varchar(100);default:null" json:"customization_options,omitempty"`
	VoiceSynthesis       string         `gorm:"type:varchar(100);default:null" json:"voice_synthesis,omitempty"`
	CustomerSupport      string         `gorm:"type:varchar(100);default:null" json:"customer_support,omitempty"`
	Description          string         `gorm:"type:json;default:null" json:"description,omitempty"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsUnlimited reports whether this plan has no monthly story cap.
func (p *Plan) IsUnlimited() bool {
	return p.StoriesPerMonth >= UnlimitedStories
}
