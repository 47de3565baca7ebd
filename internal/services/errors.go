package services

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrNotEntitled         = errors.New("no active subscription")
	ErrConfiguration       = errors.New("bot is not configured for this operation")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrGateway             = errors.New("messaging gateway failure")
	ErrInviteNotFound      = errors.New("invite not found")
	ErrInviteUsed          = errors.New("invite already used")
	ErrInviteExpired       = errors.New("invite expired")
	ErrInvalidDuration     = errors.New("duration must be a positive number of days")
	ErrSweepInProgress     = errors.New("sweep already in progress")
	ErrPlanNotFound        = errors.New("plan not found")
)

// ConstraintError reports input or state that would break a store invariant.
type ConstraintError struct {
	Field  string
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ConstraintError) Unwrap() error { return ErrConstraintViolation }

// GatewayError wraps a failed messaging platform call.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() []error { return []error{ErrGateway, e.Err} }

// ConfigurationError means the bot lacks a channel or a channel permission.
// Retrying will not help until an operator fixes it.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
