package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"cleanerbot/internal/logging"
)

// ErrForeignChannel is returned when a task points at a channel outside its guild.
var ErrForeignChannel = errors.New("channel belongs to another guild")

// CleaningService purges channels.
type CleaningService struct {
	platform Platform
	log      zerolog.Logger
}

func NewCleaningService(platform Platform, log zerolog.Logger) *CleaningService {
	return &CleaningService{platform: platform, log: logging.Component(log, "cleaner")}
}

// ExecuteCleaning deletes every message in the channel, sparing pinned ones
// when excludePinned is set, and posts a summary when confirm is set. A
// channel that does not belong to guildID is left untouched. It never
// panics; failures are logged here and reported as zero deletions together
// with the error, which callers use only for bookkeeping.
func (s *CleaningService) ExecuteCleaning(ctx context.Context, guildID, channelID string, excludePinned, confirm bool) (deleted int, err error) {
	log := s.log.With().Str("guild_id", guildID).Str("channel_id", channelID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("cleaning panicked")
			deleted, err = 0, fmt.Errorf("cleaning panicked: %v", r)
		}
	}()

	ch, err := s.platform.ResolveChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Msg("channel not found")
		} else {
			log.Error().Err(err).Msg("resolve channel")
		}
		return 0, fmt.Errorf("resolve channel %s: %w", channelID, err)
	}
	if ch.GuildID != guildID {
		log.Error().Str("channel_guild_id", ch.GuildID).Msg("refusing to clean channel of another guild")
		return 0, fmt.Errorf("clean %s: %w", channelID, ErrForeignChannel)
	}
	log = log.With().Str("channel", ch.Name).Logger()

	keep := func(Message) bool { return false }
	if excludePinned {
		keep = func(m Message) bool { return m.Pinned }
	}

	log.Info().Bool("exclude_pinned", excludePinned).Msg("cleaning channel")
	msgs, err := s.platform.PurgeMessages(ctx, ch, 0, keep)
	if err != nil {
		switch {
		case errors.Is(err, ErrPermissionDenied):
			log.Error().Err(err).Msg("missing permissions to purge channel")
		case errors.Is(err, ErrTransient):
			log.Error().Err(err).Msg("platform error while purging")
		default:
			log.Error().Err(err).Msg("purge failed")
		}
		return 0, fmt.Errorf("purge %s: %w", channelID, err)
	}
	deleted = len(msgs)
	log.Info().Int("deleted", deleted).Msg("channel cleaned")

	if confirm {
		n := Notification{
			Title:       "🧹 Channel cleaned",
			Description: fmt.Sprintf("Deleted %d messages", deleted),
			Color:       ColorGreen,
			Footer:      "Automatic cleanup",
		}
		if err := s.platform.SendMessage(ctx, ch.ID, n); err != nil {
			log.Warn().Err(err).Msg("send cleaning confirmation")
		}
	}
	return deleted, nil
}
