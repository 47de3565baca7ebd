package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a registered bot user. Subscription state is never stored here;
// whether a user is subscribed is derived from their Subscription rows.
type User struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PlatformID int64     `gorm:"not null;uniqueIndex" json:"platform_id"`
	FullName   string    `gorm:"not null;size:255" json:"full_name"`
	Email      string    `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Phone      string    `gorm:"size:32" json:"phone"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
