package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"cleanerbot/internal/logging"
	"cleanerbot/internal/model"
	"cleanerbot/internal/repository"
	"cleanerbot/internal/service"
)

const commandTimeout = 2 * time.Minute

// Scheduler is what commands need from the scheduler loop.
type Scheduler interface {
	RunAdHocCleaning(ctx context.Context, guildID, channelID string) int
	State() service.SchedulerState
}

// Deps are the stores and services commands act on.
type Deps struct {
	Schedules *repository.ScheduleRepository
	Debts     *repository.DebtRepository
	Audit     *repository.AuditRepository
	Scheduler Scheduler
	Location  *time.Location
}

// Bot aggregates the Discord session with the repositories and services.
type Bot struct {
	session  *discordgo.Session
	platform service.Platform

	schedules *repository.ScheduleRepository
	debts     *repository.DebtRepository
	audit     *repository.AuditRepository
	scheduler Scheduler

	prefix   string
	loc      *time.Location
	clock    func() time.Time
	perms    func(userID, channelID string) (int64, error)
	commands map[string]command
	log      zerolog.Logger

	baseCtx context.Context
}

func New(session *discordgo.Session, platform service.Platform, deps Deps, prefix string, log zerolog.Logger) *Bot {
	b := newBot(platform, deps, prefix, log)
	b.session = session
	b.perms = func(userID, channelID string) (int64, error) {
		return session.UserChannelPermissions(userID, channelID)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMembers |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent
	session.AddHandler(b.onMessageCreate)
	return b
}

func newBot(platform service.Platform, deps Deps, prefix string, log zerolog.Logger) *Bot {
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	if prefix == "" {
		prefix = "$"
	}
	b := &Bot{
		platform:  platform,
		schedules: deps.Schedules,
		debts:     deps.Debts,
		audit:     deps.Audit,
		scheduler: deps.Scheduler,
		prefix:    prefix,
		loc:       loc,
		clock:     service.LocalClock(loc),
		log:       logging.Component(log, "bot"),
		baseCtx:   context.Background(),
	}
	b.commands = b.commandTable()
	return b
}

// Start opens the gateway and handles commands until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	b.baseCtx = ctx
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	b.log.Info().Str("prefix", b.prefix).Msg("listening for commands")

	<-ctx.Done()

	if err := b.session.Close(); err != nil {
		b.log.Warn().Err(err).Msg("close discord session")
	}
	return nil
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	req, ok := parseRequest(b.prefix, m.Content)
	if !ok {
		return
	}
	req.GuildID = m.GuildID
	req.ChannelID = m.ChannelID
	req.AuthorID = m.Author.ID

	ctx, cancel := context.WithTimeout(b.baseCtx, commandTimeout)
	defer cancel()
	b.handle(ctx, req)
}

// handle runs a command and posts its reply to the invoking channel.
func (b *Bot) handle(ctx context.Context, req request) {
	log := b.log.With().
		Str("command", req.Name).
		Str("guild_id", req.GuildID).
		Str("channel_id", req.ChannelID).
		Str("user_id", req.AuthorID).
		Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("command panicked")
		}
	}()

	reply, err := b.dispatch(ctx, req)
	if err != nil {
		reply = b.errorReply(log, err)
	}
	if reply == nil {
		return
	}
	if err := b.platform.SendMessage(ctx, req.ChannelID, *reply); err != nil {
		log.Error().Err(err).Msg("send reply")
	}
}

// dispatch runs the named command. Unknown commands are ignored.
func (b *Bot) dispatch(ctx context.Context, req request) (*service.Notification, error) {
	cmd, ok := b.commands[req.Name]
	if !ok {
		return nil, nil
	}
	if cmd.perm != 0 {
		allowed, err := b.hasPermission(req, cmd.perm)
		if err != nil {
			return nil, fmt.Errorf("check permissions: %w", err)
		}
		if !allowed {
			return failure("You don't have permission to use this command."), nil
		}
	}
	b.log.Info().Str("command", req.Name).Strs("args", req.Args).Str("user_id", req.AuthorID).Msg("command")
	return cmd.run(ctx, req)
}

func (b *Bot) hasPermission(req request, perm int64) (bool, error) {
	if b.perms == nil {
		return false, nil
	}
	granted, err := b.perms(req.AuthorID, req.ChannelID)
	if err != nil {
		return false, err
	}
	if granted&discordgo.PermissionAdministrator != 0 {
		return true, nil
	}
	return granted&perm == perm, nil
}

func (b *Bot) errorReply(log zerolog.Logger, err error) *service.Notification {
	var verr *model.ValidationError
	var uerr *usageError
	switch {
	case errors.As(err, &uerr):
		return failure(fmt.Sprintf("Usage: `%s%s`", b.prefix, uerr.usage))
	case errors.As(err, &verr):
		return failure(capitalize(verr.Error()))
	case errors.Is(err, repository.ErrDuplicateTask):
		return failure(capitalize(err.Error()))
	default:
		log.Error().Err(err).Msg("command failed")
		return failure("Something went wrong, check the bot logs.")
	}
}

// appendAudit records a user action; a failing store is only logged.
func (b *Bot) appendAudit(ctx context.Context, req request, action model.ActionKind, details string) {
	entry := model.AuditLog{
		UserID:  req.AuthorID,
		GuildID: req.GuildID,
		Level:   model.LevelInfo,
		Action:  action,
		Details: details,
	}
	if err := b.audit.Append(ctx, entry); err != nil {
		b.log.Warn().Err(err).Str("action", string(action)).Msg("append audit log")
	}
}

func failure(text string) *service.Notification {
	return &service.Notification{Title: "❌ " + text, Color: service.ColorRed}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
