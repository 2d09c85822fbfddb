package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"cleanerbot/internal/model"
	"cleanerbot/internal/repository"
	"cleanerbot/internal/service"
	"cleanerbot/internal/timematch"
)

const (
	maxCleanAmount  = 1000
	statusAuditRows = 5
)

var (
	reChannelMention = regexp.MustCompile(`^<#(\d+)>$`)
	reUserMention    = regexp.MustCompile(`^<@!?(\d+)>$`)
	reSnowflake      = regexp.MustCompile(`^\d+$`)
	reCurrencyArg    = regexp.MustCompile(`^[A-Z]{3}$`)
)

// request is one parsed command invocation.
type request struct {
	Name      string
	Args      []string
	GuildID   string
	ChannelID string
	AuthorID  string
}

type command struct {
	usage   string
	summary string
	perm    int64
	run     func(ctx context.Context, req request) (*service.Notification, error)
}

// usageError makes the bot answer with the command's usage line.
type usageError struct {
	usage string
}

func (e *usageError) Error() string { return "usage: " + e.usage }

// commandOrder is the order help lists commands in.
var commandOrder = []string{
	"add", "remove", "list", "test", "clean", "status",
	"debt_add", "debt_settle", "debt_list",
	"debt_reminder", "debt_reminder_remove", "help",
}

func (b *Bot) commandTable() map[string]command {
	admin := int64(discordgo.PermissionAdministrator)
	return map[string]command{
		"add": {
			usage: "add #channel HH:MM", summary: "Clean a channel every day at the given time",
			perm: admin, run: b.cmdAdd,
		},
		"remove": {
			usage: "remove #channel", summary: "Stop cleaning a channel",
			perm: admin, run: b.cmdRemove,
		},
		"list": {
			usage: "list", summary: "Show this server's schedules",
			run: b.cmdList,
		},
		"test": {
			usage: "test [#channel]", summary: "Clean a channel right now",
			perm: admin, run: b.cmdTest,
		},
		"clean": {
			usage: "clean amount", summary: "Delete the latest bot messages in this channel",
			perm: discordgo.PermissionManageMessages, run: b.cmdClean,
		},
		"status": {
			usage: "status", summary: "Show scheduler state and recent activity",
			perm: admin, run: b.cmdStatus,
		},
		"debt_add": {
			usage: "debt_add @debtor @creditor amount [description] [CUR]", summary: "Record a debt",
			run: b.cmdDebtAdd,
		},
		"debt_settle": {
			usage: "debt_settle id", summary: "Mark a debt as paid",
			run: b.cmdDebtSettle,
		},
		"debt_list": {
			usage: "debt_list [@member]", summary: "Show unsettled debts",
			run: b.cmdDebtList,
		},
		"debt_reminder": {
			usage: "debt_reminder #channel HH:MM [daily|weekly|interval] [template]", summary: "Post debt reminders at the given time",
			perm: admin, run: b.cmdDebtReminder,
		},
		"debt_reminder_remove": {
			usage: "debt_reminder_remove #channel", summary: "Stop debt reminders in a channel",
			perm: admin, run: b.cmdDebtReminderRemove,
		},
		"help": {
			usage: "help", summary: "Show this message",
			run: b.cmdHelp,
		},
	}
}

// parseRequest splits "<prefix>name args..." into a request.
func parseRequest(prefix, content string) (request, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return request{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return request{}, false
	}
	return request{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

func parseChannelArg(arg string) (string, bool) {
	if m := reChannelMention.FindStringSubmatch(arg); m != nil {
		return m[1], true
	}
	if reSnowflake.MatchString(arg) {
		return arg, true
	}
	return "", false
}

func parseUserArg(arg string) (string, bool) {
	if m := reUserMention.FindStringSubmatch(arg); m != nil {
		return m[1], true
	}
	if reSnowflake.MatchString(arg) {
		return arg, true
	}
	return "", false
}

// parseAmount accepts both "12.50" and "12,50".
func parseAmount(arg string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(arg, ",", "."))
	if err != nil {
		return decimal.Zero, &model.ValidationError{Field: "amount", Reason: "use a number like 100.50"}
	}
	return d, nil
}

// splitDescription separates an optional trailing currency code from the
// description words. Only an upper-case three letter word counts as currency.
func splitDescription(words []string) (description, currency string) {
	if n := len(words); n > 0 && reCurrencyArg.MatchString(words[n-1]) {
		currency = words[n-1]
		words = words[:n-1]
	}
	return strings.Join(words, " "), currency
}

func channelMention(id string) string { return "<#" + id + ">" }
func userMention(id string) string    { return "<@" + id + ">" }

// guildChannel checks that a channel argument names a channel of the invoking
// guild. A non-nil notification is the refusal to reply with.
func (b *Bot) guildChannel(ctx context.Context, req request, channelID string) (*service.Notification, error) {
	ch, err := b.platform.ResolveChannel(ctx, channelID)
	if errors.Is(err, service.ErrNotFound) || (err == nil && ch.GuildID != req.GuildID) {
		return failure(fmt.Sprintf("Channel %s is not on this server", channelMention(channelID))), nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve channel %s: %w", channelID, err)
	}
	return nil, nil
}

func (b *Bot) cmdAdd(ctx context.Context, req request) (*service.Notification, error) {
	usage := &usageError{usage: "add #channel HH:MM"}
	if len(req.Args) != 2 {
		return nil, usage
	}
	channelID, ok := parseChannelArg(req.Args[0])
	if !ok {
		return nil, usage
	}
	if refusal, err := b.guildChannel(ctx, req, channelID); refusal != nil || err != nil {
		return refusal, err
	}

	task := &model.CleaningTask{
		TaskBase: model.TaskBase{
			GuildID:   req.GuildID,
			ChannelID: channelID,
			RunTime:   req.Args[1],
			Frequency: model.FrequencyDaily,
			IsActive:  true,
			AddedBy:   req.AuthorID,
			AddedAt:   b.clock(),
		},
		ExcludePinned:    true,
		SendConfirmation: true,
	}
	if _, err := b.schedules.AddCleaningTask(ctx, task); err != nil {
		return nil, err
	}
	b.appendAudit(ctx, req, model.ActionAddSchedule,
		fmt.Sprintf("Added cleaning of channel %s at %s", channelID, task.RunTime))

	n := &service.Notification{
		Title:       "✅ Schedule added",
		Description: fmt.Sprintf("%s will be cleaned every day at **%s**", channelMention(channelID), task.RunTime),
		Color:       service.ColorGreen,
		Fields:      []service.Field{{Name: "Task ID", Value: strconv.FormatUint(uint64(task.ID), 10), Inline: true}},
		Footer:      "Added by " + req.AuthorID,
	}
	if next, err := timematch.NextRun(task, b.clock()); err == nil {
		n.Fields = append(n.Fields, service.Field{Name: "Next run", Value: next.Format("2006-01-02 15:04"), Inline: true})
	}
	return n, nil
}

func (b *Bot) cmdRemove(ctx context.Context, req request) (*service.Notification, error) {
	usage := &usageError{usage: "remove #channel"}
	if len(req.Args) != 1 {
		return nil, usage
	}
	channelID, ok := parseChannelArg(req.Args[0])
	if !ok {
		return nil, usage
	}
	removed, err := b.schedules.RemoveCleaningTask(ctx, channelID, req.GuildID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return failure(fmt.Sprintf("No cleaning schedule for %s", channelMention(channelID))), nil
	}
	b.appendAudit(ctx, req, model.ActionRemoveSchedule, fmt.Sprintf("Removed cleaning of channel %s", channelID))
	return &service.Notification{
		Title:       "🗑️ Schedule removed",
		Description: fmt.Sprintf("%s will no longer be cleaned", channelMention(channelID)),
		Color:       service.ColorOrange,
	}, nil
}

func (b *Bot) cmdList(ctx context.Context, req request) (*service.Notification, error) {
	cleanings, err := b.schedules.ListAllCleaningTasks(ctx)
	if err != nil {
		return nil, err
	}
	reminders, err := b.schedules.ListDebtReminderTasks(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}

	now := b.clock()
	var fields []service.Field
	for _, t := range cleanings {
		if t.GuildID != req.GuildID {
			continue
		}
		fields = append(fields, service.Field{
			Name:  "🧹 " + t.RunTime,
			Value: describeTask(t, channelMention(t.ChannelID), now),
		})
	}
	for _, t := range reminders {
		fields = append(fields, service.Field{
			Name:  "💰 " + t.RunTime,
			Value: describeTask(t, channelMention(t.ChannelID), now),
		})
	}

	n := &service.Notification{Title: "📋 Schedules", Color: service.ColorBlue, Fields: fields}
	if len(fields) == 0 {
		n.Description = "No schedules on this server"
	} else {
		n.Description = fmt.Sprintf("%d schedules", len(fields))
	}
	return n, nil
}

func describeTask(t model.Task, where string, now time.Time) string {
	base := t.Base()
	parts := []string{where, "ID " + strconv.FormatUint(uint64(base.ID), 10), string(base.Frequency)}
	if !base.IsActive {
		parts = append(parts, "inactive")
	} else if next, err := timematch.NextRun(t, now); err == nil {
		parts = append(parts, "next "+next.Format("2006-01-02 15:04"))
	}
	if base.LastRunAt != nil {
		parts = append(parts, "last run "+base.LastRunAt.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, " · ")
}

func (b *Bot) cmdTest(ctx context.Context, req request) (*service.Notification, error) {
	channelID := req.ChannelID
	if len(req.Args) > 0 {
		id, ok := parseChannelArg(req.Args[0])
		if !ok {
			return nil, &usageError{usage: "test [#channel]"}
		}
		if refusal, err := b.guildChannel(ctx, req, id); refusal != nil || err != nil {
			return refusal, err
		}
		channelID = id
	}
	deleted := b.scheduler.RunAdHocCleaning(ctx, req.GuildID, channelID)
	b.appendAudit(ctx, req, model.ActionTestCleaning,
		fmt.Sprintf("Test cleaning of channel %s deleted %d messages", channelID, deleted))
	return &service.Notification{
		Title:       "🧪 Test finished",
		Description: fmt.Sprintf("Deleted %d messages from %s", deleted, channelMention(channelID)),
		Color:       service.ColorGreen,
	}, nil
}

func (b *Bot) cmdClean(ctx context.Context, req request) (*service.Notification, error) {
	usage := &usageError{usage: "clean amount"}
	if len(req.Args) != 1 {
		return nil, usage
	}
	amount, err := strconv.Atoi(req.Args[0])
	if err != nil || amount < 1 {
		return nil, usage
	}
	if amount > maxCleanAmount {
		amount = maxCleanAmount
	}
	ch, err := b.platform.ResolveChannel(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}
	deleted, err := b.platform.PurgeMessages(ctx, ch, amount, func(m service.Message) bool { return !m.AuthorBot })
	if err != nil {
		if errors.Is(err, service.ErrPermissionDenied) {
			return failure("I'm not allowed to delete messages here"), nil
		}
		return nil, err
	}
	return &service.Notification{
		Title:       "🤖 Bot messages cleaned",
		Description: fmt.Sprintf("Deleted **%d** bot messages", len(deleted)),
		Color:       service.ColorGreen,
	}, nil
}

func (b *Bot) cmdStatus(ctx context.Context, req request) (*service.Notification, error) {
	cleanings, err := b.schedules.ListAllCleaningTasks(ctx)
	if err != nil {
		return nil, err
	}
	reminders, err := b.schedules.ListDebtReminderTasks(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}
	active := 0
	for _, t := range cleanings {
		if t.GuildID == req.GuildID && t.IsActive {
			active++
		}
	}
	recent, err := b.audit.ListRecent(ctx, req.GuildID, statusAuditRows)
	if err != nil {
		return nil, err
	}
	lastRun := "never"
	runs, err := b.audit.ListByAction(ctx, req.GuildID, model.ActionRunCleaning, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		lastRun = fmt.Sprintf("%s %s", runs[0].CreatedAt.In(b.loc).Format("2006-01-02 15:04"), runs[0].Level)
	}

	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		lines = append(lines, fmt.Sprintf("`%s` %s %s", e.CreatedAt.In(b.loc).Format("01-02 15:04"), e.Action, e.Details))
	}
	activity := strings.Join(lines, "\n")
	if activity == "" {
		activity = "nothing yet"
	}

	return &service.Notification{
		Title: "📊 Status",
		Color: service.ColorBlue,
		Fields: []service.Field{
			{Name: "Scheduler", Value: b.scheduler.State().String(), Inline: true},
			{Name: "Server time", Value: timematch.CurrentTimeKey(b.clock()), Inline: true},
			{Name: "Cleaning schedules", Value: strconv.Itoa(active), Inline: true},
			{Name: "Debt reminders", Value: strconv.Itoa(len(reminders)), Inline: true},
			{Name: "Last scheduled cleaning", Value: lastRun, Inline: true},
			{Name: "Recent activity", Value: activity},
		},
	}, nil
}

func (b *Bot) cmdDebtAdd(ctx context.Context, req request) (*service.Notification, error) {
	usage := &usageError{usage: "debt_add @debtor @creditor amount [description] [CUR]"}
	if len(req.Args) < 3 {
		return nil, usage
	}
	debtorID, ok1 := parseUserArg(req.Args[0])
	creditorID, ok2 := parseUserArg(req.Args[1])
	if !ok1 || !ok2 {
		return nil, usage
	}
	amount, err := parseAmount(req.Args[2])
	if err != nil {
		return nil, err
	}
	description, currency := splitDescription(req.Args[3:])

	debt := &model.Debt{
		DebtorID:    debtorID,
		CreditorID:  creditorID,
		Amount:      amount,
		Currency:    currency,
		Description: description,
		GuildID:     req.GuildID,
	}
	if _, err := b.debts.AddDebt(ctx, debt); err != nil {
		return nil, err
	}
	b.appendAudit(ctx, req, model.ActionAddDebt, fmt.Sprintf("Added debt #%d: %s -> %s: %s %s",
		debt.ID, debtorID, creditorID, debt.Amount.StringFixed(2), debt.Currency))

	n := &service.Notification{
		Title:       "✅ Debt added",
		Description: fmt.Sprintf("%s owes %s", userMention(debtorID), userMention(creditorID)),
		Color:       service.ColorGreen,
		Fields: []service.Field{
			{Name: "Amount", Value: debt.Amount.StringFixed(2) + " " + debt.Currency, Inline: true},
			{Name: "Debt ID", Value: strconv.FormatUint(uint64(debt.ID), 10), Inline: true},
		},
		Footer: "Added by " + req.AuthorID,
	}
	if description != "" {
		n.Fields = append(n.Fields, service.Field{Name: "Description", Value: description, Inline: true})
	}
	return n, nil
}

func (b *Bot) cmdDebtSettle(ctx context.Context, req request) (*service.Notification, error) {
	usage := &usageError{usage: "debt_settle id"}
	if len(req.Args) != 1 {
		return nil, usage
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	if err != nil {
		return nil, usage
	}

	debt, err := b.debts.GetDebt(ctx, uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && debt.GuildID != req.GuildID) {
		return failure(fmt.Sprintf("Debt #%d not found", id)), nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := b.debts.SettleDebt(ctx, debt.ID); err != nil {
		return nil, err
	}
	b.appendAudit(ctx, req, model.ActionSettleDebt, fmt.Sprintf("Settled debt #%d", id))
	return &service.Notification{
		Title: fmt.Sprintf("✅ Debt #%d marked as settled", id),
		Color: service.ColorGreen,
	}, nil
}

func (b *Bot) cmdDebtList(ctx context.Context, req request) (*service.Notification, error) {
	open := false
	filter := repository.DebtFilter{GuildID: req.GuildID, Settled: &open}
	title := "💰 Debts on this server"

	var debts []model.Debt
	if len(req.Args) > 0 {
		memberID, ok := parseUserArg(req.Args[0])
		if !ok {
			return nil, &usageError{usage: "debt_list [@member]"}
		}
		asDebtor := filter
		asDebtor.DebtorID = &memberID
		owes, err := b.debts.ListDebts(ctx, asDebtor)
		if err != nil {
			return nil, err
		}
		asCreditor := filter
		asCreditor.CreditorID = &memberID
		owed, err := b.debts.ListDebts(ctx, asCreditor)
		if err != nil {
			return nil, err
		}
		debts = append(owes, owed...)
		sort.Slice(debts, func(i, j int) bool { return debts[i].ID < debts[j].ID })
		title = "💰 Debts of " + userMention(memberID)
	} else {
		var err error
		debts, err = b.debts.ListDebts(ctx, filter)
		if err != nil {
			return nil, err
		}
	}

	n := &service.Notification{Title: title, Color: service.ColorBlue}
	if len(debts) == 0 {
		n.Description = "No debts"
		return n, nil
	}
	reminded, err := b.lastReminded(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}
	summary, details := summarizeDebts(debts, reminded, b.loc)
	n.Description = fmt.Sprintf("Debts: %d | Pairs: %d", len(debts), len(summary))
	n.Fields = append(n.Fields, service.Field{Name: "Who owes whom", Value: strings.Join(summary, "\n")})
	if len(summary) <= service.MaxReminderPairs {
		n.Fields = append(n.Fields, service.Field{Name: "Details", Value: truncate(strings.Join(details, "\n"), 1000)})
	}
	return n, nil
}

// lastReminded maps debt ids to the latest time any reminder task of the
// guild posted about them.
func (b *Bot) lastReminded(ctx context.Context, guildID string) (map[uint]time.Time, error) {
	tasks, err := b.schedules.ListDebtReminderTasks(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := make(map[uint]time.Time)
	for _, t := range tasks {
		links, err := b.debts.ListReminderLinks(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			if l.LastRemindedAt != nil && l.LastRemindedAt.After(out[l.DebtID]) {
				out[l.DebtID] = *l.LastRemindedAt
			}
		}
	}
	return out, nil
}

// summarizeDebts renders per-pair totals and per-debt lines, pairs in first-seen order.
func summarizeDebts(debts []model.Debt, reminded map[uint]time.Time, loc *time.Location) (summary, details []string) {
	type pair struct{ debtor, creditor string }
	var order []pair
	totals := make(map[pair]decimal.Decimal)
	currency := make(map[pair]string)
	lines := make(map[pair][]string)

	for _, d := range debts {
		p := pair{d.DebtorID, d.CreditorID}
		if _, ok := totals[p]; !ok {
			order = append(order, p)
			totals[p] = decimal.Zero
			currency[p] = d.Currency
		}
		totals[p] = totals[p].Add(d.Amount)
		line := fmt.Sprintf("  %d. %s %s", d.ID, d.Amount.StringFixed(2), d.Currency)
		if d.Description != "" {
			line += " (" + truncate(d.Description, 30) + ")"
		}
		if at, ok := reminded[d.ID]; ok {
			line += " · reminded " + at.In(loc).Format("01-02 15:04")
		}
		lines[p] = append(lines[p], line)
	}

	for _, p := range order {
		head := fmt.Sprintf("%s → %s", userMention(p.debtor), userMention(p.creditor))
		summary = append(summary, fmt.Sprintf("%s: %s %s", head, totals[p].StringFixed(2), currency[p]))
		details = append(details, head+":")
		details = append(details, lines[p]...)
	}
	return summary, details
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (b *Bot) cmdDebtReminder(ctx context.Context, req request) (*service.Notification, error) {
	usage := &usageError{usage: "debt_reminder #channel HH:MM [daily|weekly|interval] [template]"}
	if len(req.Args) < 2 {
		return nil, usage
	}
	channelID, ok := parseChannelArg(req.Args[0])
	if !ok {
		return nil, usage
	}
	if refusal, err := b.guildChannel(ctx, req, channelID); refusal != nil || err != nil {
		return refusal, err
	}
	rest := req.Args[2:]
	freq := model.FrequencyDaily
	if len(rest) > 0 {
		if f, ok := model.ParseFrequency(strings.ToLower(rest[0])); ok {
			freq = f
			rest = rest[1:]
		}
	}

	task := &model.DebtReminderTask{
		TaskBase: model.TaskBase{
			GuildID:   req.GuildID,
			ChannelID: channelID,
			RunTime:   req.Args[1],
			Frequency: freq,
			IsActive:  true,
			AddedBy:   req.AuthorID,
			AddedAt:   b.clock(),
		},
		MessageTemplate: strings.Join(rest, " "),
	}
	if _, err := b.schedules.AddDebtReminderTask(ctx, task); err != nil {
		return nil, err
	}
	b.appendAudit(ctx, req, model.ActionAddSchedule,
		fmt.Sprintf("Added debt reminders in channel %s at %s", channelID, task.RunTime))

	return &service.Notification{
		Title:       "✅ Debt reminders scheduled",
		Description: fmt.Sprintf("Debt reminders will be posted in %s at **%s**", channelMention(channelID), task.RunTime),
		Color:       service.ColorGreen,
		Fields: []service.Field{
			{Name: "Frequency", Value: string(freq), Inline: true},
			{Name: "Template", Value: task.Template()},
		},
	}, nil
}

func (b *Bot) cmdDebtReminderRemove(ctx context.Context, req request) (*service.Notification, error) {
	usage := &usageError{usage: "debt_reminder_remove #channel"}
	if len(req.Args) != 1 {
		return nil, usage
	}
	channelID, ok := parseChannelArg(req.Args[0])
	if !ok {
		return nil, usage
	}
	removed, err := b.schedules.RemoveTasks(ctx, channelID, req.GuildID, model.KindDebtReminder)
	if err != nil {
		return nil, err
	}
	if !removed {
		return failure(fmt.Sprintf("No debt reminders in %s", channelMention(channelID))), nil
	}
	b.appendAudit(ctx, req, model.ActionRemoveSchedule, fmt.Sprintf("Removed debt reminders in channel %s", channelID))
	return &service.Notification{
		Title:       "🗑️ Debt reminders removed",
		Description: fmt.Sprintf("No more debt reminders in %s", channelMention(channelID)),
		Color:       service.ColorOrange,
	}, nil
}

func (b *Bot) cmdHelp(context.Context, request) (*service.Notification, error) {
	fields := make([]service.Field, 0, len(commandOrder))
	for _, name := range commandOrder {
		cmd := b.commands[name]
		summary := cmd.summary
		switch cmd.perm {
		case 0:
		case discordgo.PermissionAdministrator:
			summary += " (admin)"
		default:
			summary += " (moderators)"
		}
		fields = append(fields, service.Field{Name: "`" + b.prefix + cmd.usage + "`", Value: summary})
	}
	return &service.Notification{
		Title:  "ℹ️ Commands",
		Color:  service.ColorBlue,
		Fields: fields,
	}, nil
}
