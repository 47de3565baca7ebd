package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InviteLink is a single-use, time-boxed credential to join the restricted
// channel. Link is the platform URL; Code is the local identifier that the
// platform echoes back on join.
type InviteLink struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Code                 string     `gorm:"not null;size:16;uniqueIndex" json:"code"`
	Link                 string     `gorm:"not null;size:255;uniqueIndex" json:"link"`
	IssuedToUserID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"issued_to_user_id"`
	RedeemedByUserID     *uuid.UUID `gorm:"type:uuid;index" json:"redeemed_by_user_id,omitempty"`
	RedeemedByPlatformID *int64     `json:"redeemed_by_platform_id,omitempty"`
	IsUsed               bool       `gorm:"not null;default:false" json:"is_used"`
	CreatedAt            time.Time  `json:"created_at"`
	UsedAt               *time.Time `json:"used_at,omitempty"`
	ExpiresAt            time.Time  `gorm:"not null;index" json:"expires_at"`
	IssuedTo             User       `gorm:"foreignKey:IssuedToUserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	RedeemedBy           *User      `gorm:"foreignKey:RedeemedByUserID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
}

func (l *InviteLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// Spendable reports whether the link can still be redeemed at now.
func (l *InviteLink) Spendable(now time.Time) bool {
	return !l.IsUsed && l.ExpiresAt.After(now)
}
