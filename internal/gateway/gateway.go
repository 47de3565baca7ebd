// Package gateway is the bot's view of the messaging platform: channel
// membership, single-use invites and direct messages.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrNotAMember is returned by GetMember when the user is not in the channel.
var ErrNotAMember = errors.New("gateway: user is not a channel member")

type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

// Present reports whether the status means the user can currently read the channel.
func (s MemberStatus) Present() bool {
	switch s {
	case StatusCreator, StatusAdministrator, StatusMember, StatusRestricted:
		return true
	}
	return false
}

type Member struct {
	UserID int64
	Status MemberStatus
}

type Permissions struct {
	CanRestrictMembers bool
	CanInviteUsers     bool
}

// InviteRequest asks for a link admitting exactly one member. Name is shown
// to channel admins and echoed back in join updates.
type InviteRequest struct {
	ChannelID int64
	Name      string
	ExpiresAt time.Time
}

type InviteHandle struct {
	URL       string
	ExpiresAt time.Time
}

// Gateway is implemented by the Telegram adapter and by gatewaytest.Fake.
type Gateway interface {
	GetMember(ctx context.Context, channelID, userID int64) (*Member, error)
	// RemoveMember bans then immediately unbans, so the user is out of the
	// channel but may rejoin later with a fresh invite.
	RemoveMember(ctx context.Context, channelID, userID int64) error
	CreateSingleUseInvite(ctx context.Context, req InviteRequest) (*InviteHandle, error)
	// RevokeInvite makes a link created by CreateSingleUseInvite unusable.
	RevokeInvite(ctx context.Context, channelID int64, url string) error
	SendDirectMessage(ctx context.Context, userID int64, text string) error
	GetBotPermissions(ctx context.Context, channelID int64) (*Permissions, error)
}
