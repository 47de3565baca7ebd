package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/repository"
	"github.com/google/uuid"
)

type RegisterRequest struct {
	PlatformID int64  `json:"platform_id" validate:"required"`
	FullName   string `json:"full_name" validate:"required,max=255"`
	Phone      string `json:"phone" validate:"required,phone"`
	Email      string `json:"email" validate:"required,max=255,mailbox"`
}

// normalized collapses whitespace in the name, strips phone separators and
// lowercases the email.
func (r RegisterRequest) normalized() RegisterRequest {
	r.FullName = strings.Join(strings.Fields(r.FullName), " ")
	r.Phone = phoneSeparators.Replace(strings.TrimSpace(r.Phone))
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	return r
}

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

func ValidateName(name string) (string, error) {
	name = RegisterRequest{FullName: name}.normalized().FullName
	if err := validateVar("full_name", name, "required,max=255"); err != nil {
		return "", err
	}
	return name, nil
}

// ValidatePhone strips common separators and accepts 7 to 15 digits with an
// optional leading plus.
func ValidatePhone(phone string) (string, error) {
	phone = RegisterRequest{Phone: phone}.normalized().Phone
	if err := validateVar("phone", phone, "required,phone"); err != nil {
		return "", err
	}
	return phone, nil
}

func ValidateEmail(email string) (string, error) {
	email = RegisterRequest{Email: email}.normalized().Email
	if err := validateVar("email", email, "required,max=255,mailbox"); err != nil {
		return "", err
	}
	return email, nil
}

type UserService struct {
	repo *repository.Repository
}

func NewUserService(repo *repository.Repository) *UserService {
	return &UserService{repo: repo}
}

// Register creates the user or, when the platform id is already known,
// updates their profile.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	req = req.normalized()
	if err := ValidateStruct(req); err != nil {
		return nil, err
	}
	name, phone, email := req.FullName, req.Phone, req.Email

	user, err := s.repo.GetUserByPlatformID(ctx, req.PlatformID)
	switch {
	case err == nil:
		user.FullName, user.Phone, user.Email = name, phone, email
		if err := s.repo.UpdateUser(ctx, user); err != nil {
			return nil, translateUserError(err)
		}
		slog.Info("user profile updated", "op", "user.register", "user_id", user.ID, "platform_id", user.PlatformID)
		return user, nil
	case !repository.IsNotFound(err):
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	user = &models.User{
		PlatformID: req.PlatformID,
		FullName:   name,
		Phone:      phone,
		Email:      email,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, translateUserError(err)
	}
	slog.Info("user registered", "op", "user.register", "user_id", user.ID, "platform_id", user.PlatformID)
	return user, nil
}

func translateUserError(err error) error {
	if repository.IsDuplicateKey(err) {
		return &ConstraintError{Field: "email", Reason: "is already registered"}
	}
	return fmt.Errorf("failed to save user: %w", err)
}

func (s *UserService) GetByPlatformID(ctx context.Context, platformID int64) (*models.User, error) {
	user, err := s.repo.GetUserByPlatformID(ctx, platformID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// Delete removes the user together with their subscriptions and invites.
func (s *UserService) Delete(ctx context.Context, userID uuid.UUID) error {
	deleted, err := s.repo.DeleteUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if !deleted {
		return ErrUserNotFound
	}
	slog.Info("user deleted", "op", "user.delete", "user_id", userID)
	return nil
}
