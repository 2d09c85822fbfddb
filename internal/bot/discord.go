package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"cleanerbot/internal/logging"
	"cleanerbot/internal/service"
)

const (
	historyPageSize = 100
	// Discord refuses to bulk-delete messages older than two weeks.
	bulkDeleteWindow = 14*24*time.Hour - time.Minute
)

// discordAPI is the part of *discordgo.Session the adapter calls.
type discordAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// Discord implements service.Platform over discordgo.
type Discord struct {
	api     discordAPI
	state   *discordgo.State
	limiter *rate.Limiter
	clock   func() time.Time
	log     zerolog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// NewDiscord wraps a session. Outgoing notifications are limited to
// ratePerSec messages per second.
func NewDiscord(session *discordgo.Session, ratePerSec float64, log zerolog.Logger) *Discord {
	d := newDiscord(session, ratePerSec, log)
	d.state = session.State
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		d.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord session ready")
		d.markReady()
	})
	return d
}

func newDiscord(api discordAPI, ratePerSec float64, log zerolog.Logger) *Discord {
	if ratePerSec <= 0 {
		ratePerSec = 2
	}
	return &Discord{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		clock:   time.Now,
		log:     logging.Component(log, "discord"),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the gateway has delivered the Ready event.
func (d *Discord) Ready() <-chan struct{} {
	return d.ready
}

func (d *Discord) markReady() {
	d.readyOnce.Do(func() { close(d.ready) })
}

func (d *Discord) ResolveChannel(ctx context.Context, channelID string) (*service.Channel, error) {
	if d.state != nil {
		if ch, err := d.state.Channel(channelID); err == nil {
			return toChannel(ch), nil
		}
	}
	ch, err := d.api.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("resolve channel %s: %w", channelID, mapError(err))
	}
	return toChannel(ch), nil
}

// PurgeMessages walks the channel history newest first. Messages younger than
// the bulk delete window go out in one request per page, older ones one by one.
func (d *Discord) PurgeMessages(ctx context.Context, ch *service.Channel, limit int, keep func(service.Message) bool) ([]service.Message, error) {
	var (
		deleted []service.Message
		before  string
	)
	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		page, err := d.api.ChannelMessages(ch.ID, historyPageSize, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return deleted, fmt.Errorf("fetch history: %w", mapError(err))
		}
		if len(page) == 0 {
			return deleted, nil
		}
		before = page[len(page)-1].ID

		cutoff := d.clock().Add(-bulkDeleteWindow)
		var recent, old []service.Message
		full := false
		for _, m := range page {
			msg := toMessage(m)
			if keep(msg) {
				continue
			}
			if limit > 0 && len(deleted)+len(recent)+len(old) >= limit {
				full = true
				break
			}
			if msg.Timestamp.After(cutoff) {
				recent = append(recent, msg)
			} else {
				old = append(old, msg)
			}
		}

		if len(recent) > 0 {
			ids := make([]string, 0, len(recent))
			for _, m := range recent {
				ids = append(ids, m.ID)
			}
			if err := d.api.ChannelMessagesBulkDelete(ch.ID, ids, discordgo.WithContext(ctx)); err != nil {
				return deleted, fmt.Errorf("bulk delete: %w", mapError(err))
			}
			deleted = append(deleted, recent...)
		}
		for _, m := range old {
			if err := d.api.ChannelMessageDelete(ch.ID, m.ID, discordgo.WithContext(ctx)); err != nil {
				if errors.Is(mapError(err), service.ErrNotFound) {
					continue
				}
				return deleted, fmt.Errorf("delete message %s: %w", m.ID, mapError(err))
			}
			deleted = append(deleted, m)
		}

		d.log.Debug().Str("channel_id", ch.ID).Int("page", len(page)).Int("deleted", len(deleted)).Msg("purged page")
		if full || len(page) < historyPageSize {
			return deleted, nil
		}
	}
}

func (d *Discord) SendMessage(ctx context.Context, channelID string, n service.Notification) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}
	if _, err := d.api.ChannelMessageSendEmbed(channelID, toEmbed(n, d.clock()), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send to %s: %w", channelID, mapError(err))
	}
	return nil
}

func (d *Discord) ResolveMember(ctx context.Context, guildID, userID string) (*service.Member, error) {
	if d.state != nil {
		if m, err := d.state.Member(guildID, userID); err == nil {
			return toMember(m), nil
		}
	}
	m, err := d.api.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("resolve member %s: %w", userID, mapError(err))
	}
	return toMember(m), nil
}

// mapError sorts REST failures into the platform error kinds.
func mapError(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Message != nil {
			switch rest.Message.Code {
			case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
				return fmt.Errorf("%w: %w", service.ErrPermissionDenied, err)
			case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownMember:
				return fmt.Errorf("%w: %w", service.ErrNotFound, err)
			}
		}
		if rest.Response != nil {
			switch rest.Response.StatusCode {
			case http.StatusForbidden:
				return fmt.Errorf("%w: %w", service.ErrPermissionDenied, err)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %w", service.ErrNotFound, err)
			}
		}
	}
	return fmt.Errorf("%w: %w", service.ErrTransient, err)
}

func toChannel(ch *discordgo.Channel) *service.Channel {
	return &service.Channel{ID: ch.ID, GuildID: ch.GuildID, Name: ch.Name}
}

func toMessage(m *discordgo.Message) service.Message {
	msg := service.Message{ID: m.ID, Pinned: m.Pinned, Timestamp: m.Timestamp}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorBot = m.Author.Bot
	}
	return msg
}

func toMember(m *discordgo.Member) *service.Member {
	out := &service.Member{DisplayName: m.Nick}
	if m.User != nil {
		out.ID = m.User.ID
		out.Mention = m.User.Mention()
		if out.DisplayName == "" {
			out.DisplayName = m.User.GlobalName
		}
		if out.DisplayName == "" {
			out.DisplayName = m.User.Username
		}
	}
	return out
}

func toEmbed(n service.Notification, now time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Description,
		Color:       n.Color,
		Timestamp:   now.Format(time.RFC3339),
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if n.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: n.Footer}
	}
	return embed
}
