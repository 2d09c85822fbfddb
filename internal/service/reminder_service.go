package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cleanerbot/internal/logging"
	"cleanerbot/internal/model"
	"cleanerbot/internal/repository"
)

// MaxReminderPairs bounds how many debtor/creditor pairs one run notifies.
// Pairs past the cap wait for the task's next run.
const MaxReminderPairs = 10

// DebtStore is what the reminder service needs from the debt repository.
type DebtStore interface {
	ListDebts(ctx context.Context, f repository.DebtFilter) ([]model.Debt, error)
	MarkReminded(ctx context.Context, scheduleID uint, debtIDs []uint, at time.Time) error
}

// ReminderService sends debt reminders for a guild.
type ReminderService struct {
	debts    DebtStore
	platform Platform
	clock    func() time.Time
	log      zerolog.Logger
}

func NewReminderService(debts DebtStore, platform Platform, clock func() time.Time, log zerolog.Logger) *ReminderService {
	if clock == nil {
		clock = time.Now
	}
	return &ReminderService{
		debts:    debts,
		platform: platform,
		clock:    clock,
		log:      logging.Component(log, "reminder"),
	}
}

// debtGroup is the unsettled debts one member owes another.
type debtGroup struct {
	debtorID   string
	creditorID string
	debts      []model.Debt
	total      decimal.Decimal
}

// groupDebts groups debts by (debtor, creditor), keeping first-seen order.
func groupDebts(debts []model.Debt) []*debtGroup {
	var groups []*debtGroup
	index := make(map[[2]string]*debtGroup)
	for _, d := range debts {
		key := [2]string{d.DebtorID, d.CreditorID}
		g, ok := index[key]
		if !ok {
			g = &debtGroup{debtorID: d.DebtorID, creditorID: d.CreditorID, total: decimal.Zero}
			index[key] = g
			groups = append(groups, g)
		}
		g.debts = append(g.debts, d)
		g.total = g.total.Add(d.Amount)
	}
	return groups
}

func (g *debtGroup) description() string {
	var parts []string
	for _, d := range g.debts {
		if desc := strings.TrimSpace(d.Description); desc != "" {
			parts = append(parts, desc)
		}
	}
	return strings.Join(parts, ", ")
}

func (g *debtGroup) ids() []uint {
	ids := make([]uint, 0, len(g.debts))
	for _, d := range g.debts {
		ids = append(ids, d.ID)
	}
	return ids
}

// RenderReminder fills the task's template placeholders.
func RenderReminder(template, debtor, creditor string, amount decimal.Decimal, currency, description string) string {
	if description == "" {
		description = "no description"
	}
	return strings.NewReplacer(
		"{debtor}", debtor,
		"{creditor}", creditor,
		"{amount}", amount.StringFixed(2),
		"{currency}", currency,
		"{description}", description,
	).Replace(template)
}

// ExecuteDebtReminders posts one reminder per debtor/creditor pair with
// unsettled debts in the task's guild and returns how many pairs were
// notified. The task's channel must belong to that guild. Like
// ExecuteCleaning it never panics and logs its own failures.
func (s *ReminderService) ExecuteDebtReminders(ctx context.Context, task *model.DebtReminderTask) (notified int, err error) {
	log := s.log.With().Uint("task_id", task.ID).Str("guild_id", task.GuildID).Str("channel_id", task.ChannelID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("debt reminders panicked")
			err = fmt.Errorf("debt reminders panicked: %v", r)
		}
	}()

	ch, err := s.platform.ResolveChannel(ctx, task.ChannelID)
	if err != nil {
		log.Error().Err(err).Msg("resolve reminder channel")
		return 0, fmt.Errorf("resolve channel %s: %w", task.ChannelID, err)
	}
	if ch.GuildID != task.GuildID {
		log.Error().Str("channel_guild_id", ch.GuildID).Msg("refusing to post reminders into another guild")
		return 0, fmt.Errorf("remind in %s: %w", task.ChannelID, ErrForeignChannel)
	}

	settled := false
	debts, err := s.debts.ListDebts(ctx, repository.DebtFilter{GuildID: task.GuildID, Settled: &settled})
	if err != nil {
		log.Error().Err(err).Msg("load unsettled debts")
		return 0, err
	}
	if len(debts) == 0 {
		log.Info().Msg("no debts to remind about")
		return 0, nil
	}

	groups := groupDebts(debts)
	if len(groups) > MaxReminderPairs {
		log.Info().Int("pairs", len(groups)).Int("cap", MaxReminderPairs).Msg("capping reminders for this run")
		groups = groups[:MaxReminderPairs]
	}

	for _, g := range groups {
		pairLog := log.With().Str("debtor_id", g.debtorID).Str("creditor_id", g.creditorID).Logger()

		debtor, err := s.platform.ResolveMember(ctx, task.GuildID, g.debtorID)
		if err != nil {
			pairLog.Warn().Err(err).Msg("debtor not resolvable, skipping")
			continue
		}
		creditor, err := s.platform.ResolveMember(ctx, task.GuildID, g.creditorID)
		if err != nil {
			pairLog.Warn().Err(err).Msg("creditor not resolvable, skipping")
			continue
		}

		currency := g.debts[0].Currency
		total := g.total.StringFixed(2) + " " + currency
		n := Notification{
			Title:       "💰 Debt reminder",
			Description: RenderReminder(task.Template(), debtor.DisplayName, creditor.DisplayName, g.total, currency, g.description()),
			Color:       ColorOrange,
			Fields: []Field{
				{Name: "Debtor", Value: debtor.Mention, Inline: true},
				{Name: "Creditor", Value: creditor.Mention, Inline: true},
				{Name: "Total", Value: total, Inline: true},
			},
			Footer: "Automatic reminder",
		}
		if err := s.platform.SendMessage(ctx, task.ChannelID, n); err != nil {
			pairLog.Error().Err(err).Msg("send reminder")
			continue
		}
		notified++
		pairLog.Info().Str("total", total).Msg("reminder sent")

		if err := s.debts.MarkReminded(ctx, task.ID, g.ids(), s.clock()); err != nil {
			pairLog.Warn().Err(err).Msg("stamp reminded debts")
		}
	}
	return notified, nil
}
