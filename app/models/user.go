package models

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	// DefaultPlanID is the free tier every new account starts on.
	DefaultPlanID uint = 1
)

type User struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email          string         `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	Password       string         `gorm:"type:text" json:"-" validate:"required,min=6"`
	PlanID         uint           `gorm:"not null;default:1;index" json:"plan_id"`
	Plan           *Plan          `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	TryMode        bool           `gorm:"not null;default:false" json:"try_mode"`
	HelperID       string         `gorm:"type:varchar(100);default:null" json:"helper_id,omitempty"`
	PendingEmail   string         `gorm:"type:varchar(200);default:null" json:"-"`
	ValidationCode int            `gorm:"default:null" json:"-"`
	LastVisited    *time.Time     `gorm:"type:timestamp;default:null" json:"last_visited"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

func CreateUser(name string, email string, password string) (*User, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:     name,
		Email:    email,
		Password: pw,
		PlanID:   DefaultPlanID,
	}

	err = u.Validate()
	if err != nil {
		return nil, err
	}

	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// CheckPassword verifies if the provided password matches the user's stored password
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.Password)
}

// SetPassword hashes and sets a new password for the user
func (u *User) SetPassword(password string) error {
	hashedPassword, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.Password = hashedPassword
	return nil
}

// GenerateValidationCode sets a fresh 6-digit code for email/password changes
func (u *User) GenerateValidationCode() error {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return err
	}
	u.ValidationCode = int(n.Int64()) + 100000
	return nil
}

// CheckValidationCode reports whether the given code matches the pending one
func (u *User) CheckValidationCode(code int) bool {
	return u.ValidationCode != 0 && u.ValidationCode == code
}

// ClearPendingChanges drops any pending email change and validation code
func (u *User) ClearPendingChanges() {
	u.PendingEmail = ""
	u.ValidationCode = 0
}

// Touch updates the last visited timestamp to now
func (u *User) Touch() {
	now := time.Now()
	u.LastVisited = &now
}
