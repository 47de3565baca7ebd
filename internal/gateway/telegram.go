package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/metrics"
)

const pollTimeout = 60

type TelegramConfig struct {
	Token      string
	Timeout    time.Duration
	RatePerSec int
	Debug      bool
}

// Telegram implements Gateway over the Bot API. All calls share one rate
// limiter so sweeps and broadcasts stay under the platform's flood limits.
type Telegram struct {
	api     *tgbotapi.BotAPI
	poller  *tgbotapi.BotAPI
	limiter *rate.Limiter
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 25
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	api.Debug = cfg.Debug

	// Long polling holds a request open for up to pollTimeout, so updates use
	// their own client.
	poller, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint,
		&http.Client{Timeout: pollTimeout*time.Second + timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}

	slog.Info("telegram bot authorized", "username", api.Self.UserName, "bot_id", api.Self.ID)
	return &Telegram{
		api:     api,
		poller:  poller,
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
	}, nil
}

// BotID is the platform id of the bot account itself.
func (t *Telegram) BotID() int64 {
	return t.api.Self.ID
}

func (t *Telegram) UserName() string {
	return t.api.Self.UserName
}

// call waits for a limiter slot, runs fn and records the outcome. fn itself is
// bounded by the HTTP client timeout since the Bot API client takes no context.
func (t *Telegram) call(ctx context.Context, method string, fn func() error) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	metrics.GatewayDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	metrics.GatewayRequestsTotal.WithLabelValues(method, metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (t *Telegram) GetMember(ctx context.Context, channelID, userID int64) (*Member, error) {
	var cm tgbotapi.ChatMember
	err := t.call(ctx, "getChatMember", func() error {
		var err error
		cm, err = t.api.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: channelID, UserID: userID},
		})
		return err
	})
	if err != nil {
		if isUserNotFound(err) {
			return nil, ErrNotAMember
		}
		return nil, err
	}

	status := MemberStatus(cm.Status)
	if !status.Present() {
		return nil, ErrNotAMember
	}
	return &Member{UserID: userID, Status: status}, nil
}

func (t *Telegram) RemoveMember(ctx context.Context, channelID, userID int64) error {
	member := tgbotapi.ChatMemberConfig{ChatID: channelID, UserID: userID}
	err := t.call(ctx, "banChatMember", func() error {
		_, err := t.api.Request(tgbotapi.BanChatMemberConfig{ChatMemberConfig: member})
		return err
	})
	if err != nil {
		return err
	}
	return t.call(ctx, "unbanChatMember", func() error {
		_, err := t.api.Request(tgbotapi.UnbanChatMemberConfig{ChatMemberConfig: member, OnlyIfBanned: true})
		return err
	})
}

func (t *Telegram) CreateSingleUseInvite(ctx context.Context, req InviteRequest) (*InviteHandle, error) {
	var link tgbotapi.ChatInviteLink
	err := t.call(ctx, "createChatInviteLink", func() error {
		resp, err := t.api.Request(tgbotapi.CreateChatInviteLinkConfig{
			ChatConfig:  tgbotapi.ChatConfig{ChatID: req.ChannelID},
			Name:        req.Name,
			ExpireDate:  int(req.ExpiresAt.Unix()),
			MemberLimit: 1,
		})
		if err != nil {
			return err
		}
		return json.Unmarshal(resp.Result, &link)
	})
	if err != nil {
		return nil, err
	}
	if link.InviteLink == "" {
		return nil, errors.New("createChatInviteLink: empty invite link in response")
	}
	return &InviteHandle{URL: link.InviteLink, ExpiresAt: time.Unix(int64(link.ExpireDate), 0).UTC()}, nil
}

func (t *Telegram) RevokeInvite(ctx context.Context, channelID int64, url string) error {
	return t.call(ctx, "revokeChatInviteLink", func() error {
		_, err := t.api.Request(tgbotapi.RevokeChatInviteLinkConfig{
			ChatConfig: tgbotapi.ChatConfig{ChatID: channelID},
			InviteLink: url,
		})
		return err
	})
}

func (t *Telegram) SendDirectMessage(ctx context.Context, userID int64, text string) error {
	return t.call(ctx, "sendMessage", func() error {
		msg := tgbotapi.NewMessage(userID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		_, err := t.api.Send(msg)
		return err
	})
}

func (t *Telegram) GetBotPermissions(ctx context.Context, channelID int64) (*Permissions, error) {
	var cm tgbotapi.ChatMember
	err := t.call(ctx, "getChatMember", func() error {
		var err error
		cm, err = t.api.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: channelID, UserID: t.api.Self.ID},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if cm.Status == string(StatusCreator) {
		return &Permissions{CanRestrictMembers: true, CanInviteUsers: true}, nil
	}
	if cm.Status != string(StatusAdministrator) {
		return &Permissions{}, nil
	}
	return &Permissions{
		CanRestrictMembers: cm.CanRestrictMembers,
		CanInviteUsers:     cm.CanInviteUsers,
	}, nil
}

// Updates streams incoming messages and channel membership changes until ctx
// is cancelled.
func (t *Telegram) Updates(ctx context.Context) tgbotapi.UpdatesChannel {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	cfg.AllowedUpdates = []string{"message", "chat_member"}

	updates := t.poller.GetUpdatesChan(cfg)
	go func() {
		<-ctx.Done()
		t.poller.StopReceivingUpdates()
	}()
	return updates
}

func isUserNotFound(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return apiErr.Code == 400 && (strings.Contains(msg, "user not found") || strings.Contains(msg, "participant_id_invalid"))
}

var _ Gateway = (*Telegram)(nil)
