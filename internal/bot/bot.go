// Package bot is the Telegram front end: registration, user commands, admin
// commands and channel join tracking.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/gateway"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/plans"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/services"
)

const (
	updateTimeout = 30 * time.Second
	maxInFlight   = 32
	dateLayout    = "02.01.2006"
)

type Deps struct {
	Users     *services.UserService
	Subs      *services.SubscriptionService
	Invites   *services.InviteService
	Admin     *services.AdminService
	Plans     *plans.Registry
	Gateway   gateway.Gateway
	Clock     services.Clock
	ChannelID int64
}

type Bot struct {
	users     *services.UserService
	subs      *services.SubscriptionService
	invites   *services.InviteService
	admin     *services.AdminService
	plans     *plans.Registry
	gw        gateway.Gateway
	clock     services.Clock
	channelID int64
	sessions  *sessions
}

func New(d Deps) *Bot {
	clock := d.Clock
	if clock == nil {
		clock = services.SystemClock{}
	}
	return &Bot{
		users:     d.Users,
		subs:      d.Subs,
		invites:   d.Invites,
		admin:     d.Admin,
		plans:     d.Plans,
		gw:        d.Gateway,
		clock:     clock,
		channelID: d.ChannelID,
		sessions:  newSessions(),
	}
}

// Run handles updates until ctx is cancelled or the channel closes. Updates
// from different users run in parallel, up to maxInFlight at once; updates
// from one user keep their order. Run returns after in-flight handlers finish.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	slog.Info("bot started", "op", "bot.run")
	d := newDispatcher(func(u tgbotapi.Update) {
		uctx, cancel := context.WithTimeout(ctx, updateTimeout)
		defer cancel()
		b.HandleUpdate(uctx, u)
	})

	var g errgroup.Group
	g.SetLimit(maxInFlight)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			key := senderOf(u)
			if !d.enqueue(key, u) {
				continue
			}
			g.Go(func() error {
				d.drain(key, u)
				return nil
			})
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while handling update", "op", "bot.update", "update_id", u.UpdateID, "error", fmt.Sprint(r))
		}
	}()

	switch {
	case u.ChatMember != nil:
		b.handleChatMember(ctx, u.ChatMember)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}
	from := msg.From.ID

	if !msg.IsCommand() {
		if sess, ok := b.sessions.get(from, b.clock.Now()); ok {
			b.advanceRegistration(ctx, from, sess, msg.Text)
			return
		}
		b.reply(ctx, from, "Unknown input. Send /start to begin or /status to check your subscription.")
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start":
		b.cmdStart(ctx, from)
	case "cancel":
		b.sessions.drop(from)
		b.reply(ctx, from, "Cancelled.")
	case "status", "info", "subscription":
		b.cmdStatus(ctx, from)
	case "buy":
		b.cmdBuy(ctx, from)
	case "paid":
		b.cmdPaid(ctx, from, args)
	case "invite":
		b.cmdInvite(ctx, from)
	case "activate_sub", "revoke", "users", "stats", "broadcast":
		if !b.admin.IsAdmin(from) {
			b.reply(ctx, from, "This command is for administrators.")
			return
		}
		b.handleAdmin(ctx, from, msg.Command(), args)
	default:
		b.reply(ctx, from, "Unknown command.")
	}
}

func (b *Bot) cmdStart(ctx context.Context, from int64) {
	step := Transition(StateIdle, Draft{}, "")
	b.sessions.put(from, step.State, step.Draft, b.clock.Now())
	if user, err := b.users.GetByPlatformID(ctx, from); err == nil {
		b.reply(ctx, from, fmt.Sprintf("Welcome back, %s. Send /cancel to keep your current details.\n\n%s",
			html.EscapeString(user.FullName), step.Reply))
		return
	}
	b.reply(ctx, from, "Welcome! This bot sells access to a private channel.\n\n"+step.Reply)
}

func (b *Bot) advanceRegistration(ctx context.Context, from int64, sess *session, input string) {
	now := b.clock.Now()
	step := Transition(sess.state, sess.draft, input)
	if step.State != StateComplete {
		b.sessions.put(from, step.State, step.Draft, now)
		b.reply(ctx, from, step.Reply)
		return
	}

	_, err := b.users.Register(ctx, services.RegisterRequest{
		PlatformID: from,
		FullName:   step.Draft.FullName,
		Phone:      step.Draft.Phone,
		Email:      step.Draft.Email,
	})
	var ce *services.ConstraintError
	switch {
	case err == nil:
		b.sessions.drop(from)
		b.reply(ctx, from, step.Reply)
	case errors.As(err, &ce) && ce.Field == "email":
		b.sessions.put(from, StateAwaitingEmail, step.Draft, now)
		b.reply(ctx, from, "That email is already registered. Please send another one.")
	default:
		slog.Error("registration failed", "op", "bot.register", "platform_id", from, "error", err)
		b.reply(ctx, from, "Something went wrong. Please try again later.")
	}
}

func (b *Bot) cmdStatus(ctx context.Context, from int64) {
	user, ok := b.requireUser(ctx, from)
	if !ok {
		return
	}
	st, err := b.subs.GetStatus(ctx, user.ID)
	if err != nil {
		slog.Error("status lookup failed", "op", "bot.status", "platform_id", from, "error", err)
		b.reply(ctx, from, "Something went wrong. Please try again later.")
		return
	}
	if !st.Active {
		b.reply(ctx, from, "You have no active subscription. Use /buy to get one.")
		return
	}
	b.reply(ctx, from, fmt.Sprintf("✅ Subscription active until <b>%s</b>, %d days left.\nUse /invite to get a link to the channel.",
		st.EndDate.Format(dateLayout), st.DaysRemaining))
}

func (b *Bot) cmdBuy(ctx context.Context, from int64) {
	if _, ok := b.requireUser(ctx, from); !ok {
		return
	}
	var sb strings.Builder
	sb.WriteString("Available plans:\n")
	for _, p := range b.plans.All() {
		fmt.Fprintf(&sb, "• <b>%s</b>: %d days, %d %s (<code>/paid %s</code>)\n",
			html.EscapeString(p.Title), p.DurationDays(), p.Price, html.EscapeString(p.Currency), html.EscapeString(p.ID))
	}
	sb.WriteString("\nAfter paying, send /paid with the plan id and an administrator will activate it.")
	b.reply(ctx, from, sb.String())
}

func (b *Bot) cmdPaid(ctx context.Context, from int64, planID string) {
	user, ok := b.requireUser(ctx, from)
	if !ok {
		return
	}
	plan, found := b.plans.Get(planID)
	if !found {
		b.reply(ctx, from, "Unknown plan. Use /buy to see the plan ids.")
		return
	}
	if b.admin.RequestPaymentReview(ctx, user, plan.Title) == 0 {
		b.reply(ctx, from, "No administrator could be reached. Please try again later.")
		return
	}
	b.reply(ctx, from, "Thanks! An administrator will confirm your payment shortly.")
}

func (b *Bot) cmdInvite(ctx context.Context, from int64) {
	user, ok := b.requireUser(ctx, from)
	if !ok {
		return
	}
	issued, err := b.invites.Issue(ctx, user.ID)
	switch {
	case err == nil:
		b.reply(ctx, from, fmt.Sprintf("Your personal link (valid until %s, single use):\n%s",
			issued.ExpiresAt.Format("02.01.2006 15:04 UTC"), issued.Link))
	case errors.Is(err, services.ErrNotEntitled):
		b.reply(ctx, from, "You need an active subscription to join the channel. Use /buy.")
	case errors.Is(err, services.ErrConfiguration):
		b.admin.NotifyAdmins(ctx, "⚠️ Invite links cannot be created: "+html.EscapeString(err.Error()))
		b.reply(ctx, from, "Invites are temporarily unavailable. The administrators have been notified.")
	default:
		slog.Error("invite failed", "op", "bot.invite", "platform_id", from, "error", err)
		b.reply(ctx, from, "Could not create a link right now. Please try again in a minute.")
	}
}

func (b *Bot) handleAdmin(ctx context.Context, from int64, cmd, args string) {
	switch cmd {
	case "activate_sub":
		b.cmdActivate(ctx, from, args)
	case "revoke":
		b.cmdRevoke(ctx, from, args)
	case "users":
		b.cmdUsers(ctx, from)
	case "stats":
		b.cmdStats(ctx, from)
	case "broadcast":
		b.cmdBroadcast(ctx, from, args)
	}
}

func (b *Bot) cmdActivate(ctx context.Context, from int64, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		b.reply(ctx, from, "Usage: /activate_sub &lt;platform_id&gt; &lt;months&gt;")
		return
	}
	pid, err1 := strconv.ParseInt(fields[0], 10, 64)
	months, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil || months <= 0 {
		b.reply(ctx, from, "Usage: /activate_sub &lt;platform_id&gt; &lt;months&gt;")
		return
	}
	user, err := b.users.GetByPlatformID(ctx, pid)
	if err != nil {
		b.reply(ctx, from, adminError(err))
		return
	}
	sub, err := b.subs.Extend(ctx, user.ID, months*plans.DaysPerMonth)
	if err != nil {
		b.reply(ctx, from, adminError(err))
		return
	}
	slog.Info("subscription activated by admin", "op", "bot.activate_sub", "admin_id", from, "platform_id", pid, "months", months)
	if !b.notify(ctx, pid, fmt.Sprintf("✅ Your payment was confirmed. Subscription active until <b>%s</b>.\nUse /invite to join the channel.",
		sub.EndDate.Format(dateLayout))) {
		b.reply(ctx, from, "Activated, but the user could not be notified.")
		return
	}
	b.reply(ctx, from, fmt.Sprintf("Activated for %d until %s.", pid, sub.EndDate.Format(dateLayout)))
}

func (b *Bot) cmdRevoke(ctx context.Context, from int64, args string) {
	pid, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		b.reply(ctx, from, "Usage: /revoke &lt;platform_id&gt;")
		return
	}
	user, err := b.users.GetByPlatformID(ctx, pid)
	if err != nil {
		b.reply(ctx, from, adminError(err))
		return
	}
	if err := b.subs.Revoke(ctx, user.ID); err != nil {
		b.reply(ctx, from, adminError(err))
		return
	}
	slog.Info("subscription revoked by admin", "op", "bot.revoke", "admin_id", from, "platform_id", pid)
	b.reply(ctx, from, fmt.Sprintf("Revoked %d.", pid))
}

func (b *Bot) cmdUsers(ctx context.Context, from int64) {
	summaries, err := b.admin.ListUsersWithSubscriptionSummary(ctx)
	if err != nil {
		b.reply(ctx, from, adminError(err))
		return
	}
	if len(summaries) == 0 {
		b.reply(ctx, from, "No users yet.")
		return
	}
	lines := make([]string, 0, len(summaries)+1)
	lines = append(lines, fmt.Sprintf("Users: %d", len(summaries)))
	for _, s := range summaries {
		state := "no subscription"
		if s.IsSubscribed {
			state = fmt.Sprintf("until %s (%d d)", s.EndDate.Format(dateLayout), s.DaysRemaining)
		}
		lines = append(lines, fmt.Sprintf("<code>%d</code> %s, %s, %s, invites %d",
			s.User.PlatformID, html.EscapeString(s.User.FullName), html.EscapeString(s.User.Email), state, s.InvitesIssued))
	}
	for _, chunk := range chunkLines(lines, maxMessageLen) {
		b.reply(ctx, from, chunk)
	}
}

func (b *Bot) cmdStats(ctx context.Context, from int64) {
	st, err := b.admin.Stats(ctx)
	if err != nil {
		b.reply(ctx, from, adminError(err))
		return
	}
	b.reply(ctx, from, fmt.Sprintf("Users: %d\nActive subscriptions: %d\nInvites issued: %d\nInvites used: %d\nPending evictions: %d",
		st.Users, st.ActiveSubscriptions, st.InvitesIssued, st.InvitesUsed, st.PendingEvictions))
}

func (b *Bot) cmdBroadcast(ctx context.Context, from int64, text string) {
	res, err := b.admin.Broadcast(ctx, text)
	if err != nil {
		b.reply(ctx, from, adminError(err))
		return
	}
	b.reply(ctx, from, fmt.Sprintf("Broadcast sent to %d of %d users (%d failed).", res.Sent, res.Total, res.Failed))
}

// handleChatMember redeems the invite a user joined the channel with.
func (b *Bot) handleChatMember(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) {
	if upd.Chat.ID != b.channelID || upd.NewChatMember.User == nil {
		return
	}
	joined := gateway.MemberStatus(upd.NewChatMember.Status).Present() &&
		!gateway.MemberStatus(upd.OldChatMember.Status).Present()
	if !joined {
		return
	}
	pid := upd.NewChatMember.User.ID
	if upd.InviteLink == nil {
		slog.Info("member joined without an invite link", "op", "bot.join", "platform_id", pid)
		return
	}

	var err error
	if name := upd.InviteLink.Name; name != "" {
		_, err = b.invites.Redeem(ctx, name, pid)
	} else {
		err = services.ErrInviteNotFound
	}
	if errors.Is(err, services.ErrInviteNotFound) {
		_, err = b.invites.RedeemByLink(ctx, upd.InviteLink.InviteLink, pid)
	}
	switch {
	case err == nil:
	case services.IsInviteError(err), errors.Is(err, services.ErrNotEntitled):
		slog.Warn("join not matched to a redeemable invite", "op", "bot.join", "platform_id", pid, "error", err)
	default:
		slog.Error("invite redemption failed", "op", "bot.join", "platform_id", pid, "error", err)
	}
}

func (b *Bot) requireUser(ctx context.Context, from int64) (*models.User, bool) {
	user, err := b.users.GetByPlatformID(ctx, from)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			b.reply(ctx, from, "Please register first with /start.")
		} else {
			slog.Error("user lookup failed", "op", "bot.user", "platform_id", from, "error", err)
			b.reply(ctx, from, "Something went wrong. Please try again later.")
		}
		return nil, false
	}
	return user, true
}

func (b *Bot) reply(ctx context.Context, to int64, text string) {
	b.notify(ctx, to, text)
}

func (b *Bot) notify(ctx context.Context, to int64, text string) bool {
	if err := b.gw.SendDirectMessage(ctx, to, text); err != nil {
		slog.Warn("reply failed", "op", "bot.reply", "platform_id", to, "error", err)
		return false
	}
	return true
}

func adminError(err error) string {
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		return "No such user."
	case errors.Is(err, services.ErrNotEntitled):
		return "The user has no active subscription."
	case errors.Is(err, services.ErrConstraintViolation), errors.Is(err, services.ErrInvalidDuration):
		return html.EscapeString(err.Error())
	}
	slog.Error("admin command failed", "op", "bot.admin", "error", err)
	return "Something went wrong, see the logs."
}

// maxMessageLen stays under the platform's 4096 character limit.
const maxMessageLen = 4000

// chunkLines joins lines into messages no longer than limit bytes. A single
// longer line is sent on its own.
func chunkLines(lines []string, limit int) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, line := range lines {
		if cur.Len() > 0 && cur.Len()+1+len(line) > limit {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
