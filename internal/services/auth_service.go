package services

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const RoleAdmin = "admin"

var ErrInvalidCredentials = errors.New("invalid username or password")

// AdminToken is a signed access token for the admin API.
type AdminToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthService authenticates the single operator account configured through
// ADMIN_USERNAME and ADMIN_PASSWORD_HASH.
type AuthService struct {
	username     string
	passwordHash []byte
	secret       []byte
	expiry       time.Duration
	clock        Clock
}

func NewAuthService(cfg *config.Config, clock Clock) *AuthService {
	return &AuthService{
		username:     cfg.AdminUsername,
		passwordHash: []byte(cfg.AdminPasswordHash),
		secret:       []byte(cfg.JWTSecret),
		expiry:       cfg.JWTExpiry,
		clock:        clock,
	}
}

func (s *AuthService) Login(username, password string) (*AdminToken, error) {
	// Login is disabled until a password hash is configured.
	if len(s.passwordHash) == 0 || len(s.secret) == 0 {
		return nil, ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil || !userOK {
		slog.Warn("admin login rejected", "op", "auth.login", "username", username)
		return nil, ErrInvalidCredentials
	}
	return s.generateAccessToken()
}

func (s *AuthService) generateAccessToken() (*AdminToken, error) {
	now := s.clock.Now()
	exp := now.Add(s.expiry)
	claims := jwt.MapClaims{
		"sub":  s.username,
		"role": RoleAdmin,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &AdminToken{AccessToken: signed, ExpiresAt: exp}, nil
}
