package dto

import "time"

// GrantSubscriptionRequest grants access for Days, or Months of 30 days when
// Days is zero. With Extend the user's auto-renewal flag is kept.
type GrantSubscriptionRequest struct {
	Days        int        `json:"days" validate:"gte=0,lte=3650"`
	Months      int        `json:"months" validate:"gte=0,lte=120"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	AutoRenewal bool       `json:"auto_renewal"`
	Extend      bool       `json:"extend"`
}

type BroadcastRequest struct {
	Text string `json:"text" validate:"required,max=4096"`
}
