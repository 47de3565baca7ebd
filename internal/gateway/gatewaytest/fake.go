// Package gatewaytest provides an in-memory gateway that records every call.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway"
)

type Message struct {
	UserID int64
	Text   string
}

// Fake is a scripted gateway.Gateway. Members start absent; Join adds them.
// Error fields, when set, are returned by the matching call.
type Fake struct {
	mu sync.Mutex

	Perms   gateway.Permissions
	members map[int64]bool

	// InviteURL, when set, is returned for every created invite.
	InviteURL string

	GetMemberErr   error
	RemoveErr      error
	RemoveErrFor   map[int64]error
	InviteErr      error
	RevokeErr      error
	SendErr        error
	PermissionsErr error

	Removed  []int64
	Invites  []gateway.InviteRequest
	Revoked  []string
	Messages []Message
	Calls    int

	sendGates map[int64]chan struct{}
}

func New() *Fake {
	return &Fake{
		Perms:        gateway.Permissions{CanRestrictMembers: true, CanInviteUsers: true},
		members:      make(map[int64]bool),
		RemoveErrFor: make(map[int64]error),
	}
}

func (f *Fake) Join(userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[userID] = true
}

func (f *Fake) IsMember(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[userID]
}

// HoldSendsTo makes direct messages to userID wait until release is closed
// or the caller's context ends.
func (f *Fake) HoldSendsTo(userID int64, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendGates == nil {
		f.sendGates = make(map[int64]chan struct{})
	}
	f.sendGates[userID] = release
}

func (f *Fake) RevokedLinks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Revoked...)
}

func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls
}

func (f *Fake) RemovedUsers() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.Removed...)
}

func (f *Fake) SentMessages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.Messages...)
}

func (f *Fake) GetMember(_ context.Context, _ int64, userID int64) (*gateway.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.GetMemberErr != nil {
		return nil, f.GetMemberErr
	}
	if !f.members[userID] {
		return nil, gateway.ErrNotAMember
	}
	return &gateway.Member{UserID: userID, Status: gateway.StatusMember}, nil
}

func (f *Fake) RemoveMember(_ context.Context, _ int64, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	f.Removed = append(f.Removed, userID)
	if err := f.RemoveErrFor[userID]; err != nil {
		return err
	}
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	delete(f.members, userID)
	return nil
}

func (f *Fake) CreateSingleUseInvite(_ context.Context, req gateway.InviteRequest) (*gateway.InviteHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.InviteErr != nil {
		return nil, f.InviteErr
	}
	f.Invites = append(f.Invites, req)
	url := f.InviteURL
	if url == "" {
		url = fmt.Sprintf("https://t.me/+%s%d", req.Name, len(f.Invites))
	}
	return &gateway.InviteHandle{URL: url, ExpiresAt: req.ExpiresAt}, nil
}

func (f *Fake) RevokeInvite(_ context.Context, _ int64, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.RevokeErr != nil {
		return f.RevokeErr
	}
	f.Revoked = append(f.Revoked, url)
	return nil
}

func (f *Fake) SendDirectMessage(ctx context.Context, userID int64, text string) error {
	f.mu.Lock()
	gate := f.sendGates[userID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Messages = append(f.Messages, Message{UserID: userID, Text: text})
	return nil
}

func (f *Fake) GetBotPermissions(_ context.Context, _ int64) (*gateway.Permissions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.PermissionsErr != nil {
		return nil, f.PermissionsErr
	}
	perms := f.Perms
	return &perms, nil
}

var _ gateway.Gateway = (*Fake)(nil)
