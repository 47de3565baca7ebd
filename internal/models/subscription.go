package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ReasonSuperseded = "superseded"
	ReasonExpired    = "expired"
	ReasonRevoked    = "revoked"
)

// Subscription is one time-boxed access grant. IsActive is an explicit flag:
// once false it never flips back, a renewed entitlement is always a new row.
type Subscription struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             uuid.UUID  `gorm:"type:uuid;not null;index:idx_subscriptions_user_active,priority:1" json:"user_id"`
	StartDate          time.Time  `gorm:"not null" json:"start_date"`
	EndDate            time.Time  `gorm:"not null;index" json:"end_date"`
	IsActive           bool       `gorm:"not null;default:true;index:idx_subscriptions_user_active,priority:2" json:"is_active"`
	AutoRenewal        bool       `gorm:"not null;default:false" json:"auto_renewal"`
	DeactivationReason string     `gorm:"size:20;not null;default:''" json:"deactivation_reason,omitempty"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	EvictedAt          *time.Time `gorm:"index" json:"evicted_at,omitempty"`
	EvictionAttempts   int        `gorm:"not null;default:0" json:"eviction_attempts"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	User               User       `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Expired reports whether the window has closed at now. The end instant itself
// counts as expired.
func (s *Subscription) Expired(now time.Time) bool {
	return !s.EndDate.After(now)
}
