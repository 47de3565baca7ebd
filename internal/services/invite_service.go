package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/config"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/events"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/repository"
	"github.com/google/uuid"
)

const (
	inviteCodeLength   = 8
	inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

type InviteConfig struct {
	ChannelID      int64
	TTL            time.Duration
	GatewayTimeout time.Duration
	RedeemPolicy   string
}

type IssuedInvite struct {
	Link      string    `json:"link"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Reused    bool      `json:"reused"`
}

type InviteService struct {
	repo   *repository.Repository
	subs   *SubscriptionService
	gw     gateway.Gateway
	events events.Publisher
	clock  Clock
	cfg    InviteConfig
}

func NewInviteService(repo *repository.Repository, subs *SubscriptionService, gw gateway.Gateway, pub events.Publisher, clock Clock, cfg InviteConfig) *InviteService {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.RedeemPolicy == "" {
		cfg.RedeemPolicy = config.RedeemPolicyGrandfather
	}
	return &InviteService{repo: repo, subs: subs, gw: gw, events: pub, clock: clock, cfg: cfg}
}

// Issue hands the user a single-use link to the channel. An outstanding link
// is returned again instead of minting a new one. Without an active
// subscription nothing is written and the gateway is not called.
func (s *InviteService) Issue(ctx context.Context, userID uuid.UUID) (*IssuedInvite, error) {
	// Persists lazy expiry before the entitlement check below.
	status, err := s.subs.GetStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !status.Active {
		metrics.InvitesTotal.WithLabelValues("issued", "not_entitled").Inc()
		return nil, ErrNotEntitled
	}

	var (
		issued *IssuedInvite
		row    *models.InviteLink
		minted string
	)
	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if _, err := tx.LockUser(ctx, userID); err != nil {
			if repository.IsNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		now := s.clock.Now()
		cur, err := tx.CurrentSubscription(ctx, userID)
		if err != nil {
			if repository.IsNotFound(err) {
				return ErrNotEntitled
			}
			return err
		}
		if cur.Expired(now) {
			return ErrNotEntitled
		}

		existing, err := tx.OutstandingInvite(ctx, userID, now)
		if err == nil {
			issued = &IssuedInvite{Link: existing.Link, Code: existing.Code, ExpiresAt: existing.ExpiresAt, Reused: true}
			return nil
		}
		if !repository.IsNotFound(err) {
			return err
		}

		if err := s.checkInvitePermission(ctx); err != nil {
			return err
		}

		code, err := generateCode(inviteCodeLength)
		if err != nil {
			return fmt.Errorf("failed to generate invite code: %w", err)
		}
		expires := now.Add(s.cfg.TTL)

		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
		handle, err := s.gw.CreateSingleUseInvite(gctx, gateway.InviteRequest{
			ChannelID: s.cfg.ChannelID,
			Name:      code,
			ExpiresAt: expires,
		})
		if err != nil {
			return &GatewayError{Op: "createSingleUseInvite", Err: err}
		}
		minted = handle.URL

		row = &models.InviteLink{
			Code:           code,
			Link:           handle.URL,
			IssuedToUserID: userID,
			ExpiresAt:      expires,
		}
		if err := tx.CreateInvite(ctx, row); err != nil {
			if repository.IsDuplicateKey(err) {
				return &ConstraintError{Field: "code", Reason: "generated code collided, try again"}
			}
			return fmt.Errorf("failed to save invite: %w", err)
		}
		issued = &IssuedInvite{Link: row.Link, Code: row.Code, ExpiresAt: row.ExpiresAt}
		return nil
	})
	if err != nil {
		metrics.InvitesTotal.WithLabelValues("issued", "error").Inc()
		slog.Warn("invite issue failed", "op", "invite.issue", "user_id", userID, "error", err)
		if minted != "" {
			s.revokeOrphan(ctx, minted)
		}
		return nil, err
	}

	if issued.Reused {
		metrics.InvitesTotal.WithLabelValues("reused", "ok").Inc()
		return issued, nil
	}
	metrics.InvitesTotal.WithLabelValues("issued", "ok").Inc()
	slog.Info("invite issued", "op", "invite.issue", "user_id", userID, "code", row.Code)
	publish(ctx, s.events, events.SubjectInviteIssued, events.InviteEvent{
		InviteID:       row.ID,
		IssuedToUserID: userID,
		ExpiresAt:      row.ExpiresAt,
		OccurredAt:     s.clock.Now(),
	})
	return issued, nil
}

// revokeOrphan kills a platform link whose row was never committed, so no
// one can join through a link the store does not know about.
func (s *InviteService) revokeOrphan(ctx context.Context, link string) {
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GatewayTimeout)
	defer cancel()
	if err := s.gw.RevokeInvite(gctx, s.cfg.ChannelID, link); err != nil {
		slog.Error("failed to revoke orphaned invite link", "op", "invite.issue", "link", link, "error", err)
		return
	}
	metrics.InvitesTotal.WithLabelValues("revoked", "orphan").Inc()
}

func (s *InviteService) checkInvitePermission(ctx context.Context) error {
	if s.cfg.ChannelID == 0 {
		return &ConfigurationError{Reason: "channel id is not set"}
	}
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	perms, err := s.gw.GetBotPermissions(gctx, s.cfg.ChannelID)
	if err != nil {
		return &GatewayError{Op: "getBotPermissions", Err: err}
	}
	if !perms.CanInviteUsers {
		return &ConfigurationError{Reason: "bot cannot create invite links in the channel"}
	}
	return nil
}

// Redeem consumes the link carrying code for the joining platform user. Only
// the first redemption succeeds.
func (s *InviteService) Redeem(ctx context.Context, code string, platformID int64) (*models.InviteLink, error) {
	invite, err := s.repo.GetInviteByCode(ctx, code)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}
	return s.redeem(ctx, invite, platformID)
}

// RedeemByLink is Redeem for join events that carry only the URL.
func (s *InviteService) RedeemByLink(ctx context.Context, link string, platformID int64) (*models.InviteLink, error) {
	invite, err := s.repo.GetInviteByLink(ctx, link)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}
	return s.redeem(ctx, invite, platformID)
}

func (s *InviteService) redeem(ctx context.Context, invite *models.InviteLink, platformID int64) (*models.InviteLink, error) {
	now := s.clock.Now()
	if invite.IsUsed {
		metrics.InvitesTotal.WithLabelValues("redeemed", "used").Inc()
		return nil, ErrInviteUsed
	}
	if !invite.Spendable(now) {
		metrics.InvitesTotal.WithLabelValues("redeemed", "expired").Inc()
		return nil, ErrInviteExpired
	}

	var redeemerID *uuid.UUID
	redeemer, err := s.repo.GetUserByPlatformID(ctx, platformID)
	switch {
	case err == nil:
		redeemerID = &redeemer.ID
	case !repository.IsNotFound(err):
		return nil, err
	}

	won, err := s.repo.MarkInviteUsed(ctx, invite.ID, redeemerID, platformID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem invite: %w", err)
	}
	if !won {
		metrics.InvitesTotal.WithLabelValues("redeemed", "used").Inc()
		return nil, ErrInviteUsed
	}
	invite.IsUsed = true
	invite.UsedAt = &now
	invite.RedeemedByUserID = redeemerID
	invite.RedeemedByPlatformID = &platformID

	if s.cfg.RedeemPolicy == config.RedeemPolicyRevokeOnLapse {
		status, err := s.subs.GetStatus(ctx, invite.IssuedToUserID)
		if err != nil {
			return nil, err
		}
		if !status.Active {
			metrics.InvitesTotal.WithLabelValues("redeemed", "lapsed").Inc()
			if err := s.subs.removeFromChannel(ctx, platformID); err != nil {
				slog.Warn("failed to remove joiner with lapsed invite", "op", "invite.redeem", "platform_id", platformID, "error", err)
			}
			return nil, ErrNotEntitled
		}
	}

	metrics.InvitesTotal.WithLabelValues("redeemed", "ok").Inc()
	slog.Info("invite redeemed", "op", "invite.redeem", "platform_id", platformID, "code", invite.Code)
	publish(ctx, s.events, events.SubjectInviteRedeemed, events.InviteEvent{
		InviteID:             invite.ID,
		IssuedToUserID:       invite.IssuedToUserID,
		RedeemedByPlatformID: platformID,
		ExpiresAt:            invite.ExpiresAt,
		OccurredAt:           now,
	})
	return invite, nil
}

func generateCode(n int) (string, error) {
	limit := big.NewInt(int64(len(inviteCodeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = inviteCodeAlphabet[idx.Int64()]
	}
	return string(b), nil
}

// IsInviteError reports whether err is one of the expected redemption outcomes
// rather than a failure.
func IsInviteError(err error) bool {
	return errors.Is(err, ErrInviteNotFound) || errors.Is(err, ErrInviteUsed) || errors.Is(err, ErrInviteExpired)
}
