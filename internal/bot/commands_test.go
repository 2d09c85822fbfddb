package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cleanerbot/internal/model"
	"cleanerbot/internal/repository"
	"cleanerbot/internal/service"
)

type stubScheduler struct {
	guilds   []string
	channels []string
	deleted  int
}

func (s *stubScheduler) RunAdHocCleaning(_ context.Context, guildID, channelID string) int {
	s.guilds = append(s.guilds, guildID)
	s.channels = append(s.channels, channelID)
	return s.deleted
}

func (s *stubScheduler) State() service.SchedulerState { return service.StateIdle }

// stubPlatform records replies and purges nothing. Channels live in g1
// unless listed in guilds; an empty guild means the channel does not exist.
type stubPlatform struct {
	sent   []service.Notification
	guilds map[string]string
}

func (p *stubPlatform) ResolveChannel(_ context.Context, channelID string) (*service.Channel, error) {
	guildID, ok := p.guilds[channelID]
	if !ok {
		guildID = "g1"
	}
	if guildID == "" {
		return nil, fmt.Errorf("channel %s: %w", channelID, service.ErrNotFound)
	}
	return &service.Channel{ID: channelID, GuildID: guildID}, nil
}

func (p *stubPlatform) PurgeMessages(context.Context, *service.Channel, int, func(service.Message) bool) ([]service.Message, error) {
	return []service.Message{{ID: "1", AuthorBot: true}}, nil
}

func (p *stubPlatform) SendMessage(_ context.Context, _ string, n service.Notification) error {
	p.sent = append(p.sent, n)
	return nil
}

func (p *stubPlatform) ResolveMember(_ context.Context, _, userID string) (*service.Member, error) {
	return &service.Member{ID: userID, DisplayName: userID, Mention: "<@" + userID + ">"}, nil
}

type botEnv struct {
	bot       *Bot
	schedules *repository.ScheduleRepository
	debts     *repository.DebtRepository
	audit     *repository.AuditRepository
	scheduler *stubScheduler
	platform  *stubPlatform
	perms     int64
}

func newBotEnv(t *testing.T) *botEnv {
	t.Helper()
	db, err := repository.NewDB(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	env := &botEnv{
		schedules: repository.NewScheduleRepository(db),
		debts:     repository.NewDebtRepository(db),
		audit:     repository.NewAuditRepository(db),
		scheduler: &stubScheduler{deleted: 7},
		platform:  &stubPlatform{},
		perms:     discordgo.PermissionAdministrator,
	}
	env.bot = newBot(env.platform, Deps{
		Schedules: env.schedules,
		Debts:     env.debts,
		Audit:     env.audit,
		Scheduler: env.scheduler,
		Location:  time.UTC,
	}, "$", zerolog.Nop())
	env.bot.clock = func() time.Time { return time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC) }
	env.bot.perms = func(string, string) (int64, error) { return env.perms, nil }
	return env
}

// run sends content as user u1 in channel c1 of guild g1 and returns the reply.
func (e *botEnv) run(t *testing.T, content string) *service.Notification {
	t.Helper()
	req, ok := parseRequest("$", content)
	require.True(t, ok, content)
	req.GuildID, req.ChannelID, req.AuthorID = "g1", "c1", "u1"

	before := len(e.platform.sent)
	e.bot.handle(context.Background(), req)
	if len(e.platform.sent) == before {
		return nil
	}
	return &e.platform.sent[len(e.platform.sent)-1]
}

func TestParseRequest(t *testing.T) {
	req, ok := parseRequest("$", "  $ADD <#123>   09:00 ")
	require.True(t, ok)
	assert.Equal(t, "add", req.Name)
	assert.Equal(t, []string{"<#123>", "09:00"}, req.Args)

	_, ok = parseRequest("$", "hello $add")
	assert.False(t, ok)
	_, ok = parseRequest("$", "$")
	assert.False(t, ok)
}

func TestParseArgs(t *testing.T) {
	id, ok := parseChannelArg("<#123>")
	assert.True(t, ok)
	assert.Equal(t, "123", id)
	_, ok = parseChannelArg("#general")
	assert.False(t, ok)

	for _, in := range []string{"<@42>", "<@!42>", "42"} {
		id, ok := parseUserArg(in)
		assert.True(t, ok, in)
		assert.Equal(t, "42", id, in)
	}
	_, ok = parseUserArg("@someone")
	assert.False(t, ok)

	amount, err := parseAmount("12,50")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(amount))
	_, err = parseAmount("lots")
	var verr *model.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestSplitDescription(t *testing.T) {
	tests := []struct {
		words    []string
		desc     string
		currency string
	}{
		{nil, "", ""},
		{[]string{"pizza"}, "pizza", ""},
		{[]string{"tea"}, "tea", ""},
		{[]string{"EUR"}, "", "EUR"},
		{[]string{"pizza", "and", "beer", "USD"}, "pizza and beer", "USD"},
	}
	for _, tt := range tests {
		desc, cur := splitDescription(tt.words)
		assert.Equal(t, tt.desc, desc, "%v", tt.words)
		assert.Equal(t, tt.currency, cur, "%v", tt.words)
	}
}

func TestAddAndRemoveCleaning(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	reply := env.run(t, "$add <#555> 09:00")
	require.NotNil(t, reply)
	assert.Equal(t, "✅ Schedule added", reply.Title)

	task, err := env.schedules.GetCleaningTask(ctx, "555", "g1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "09:00", task.RunTime)
	assert.Equal(t, "u1", task.AddedBy)
	assert.True(t, task.ExcludePinned)

	reply = env.run(t, "$add <#555> 10:00")
	assert.Contains(t, reply.Title, "already exists")

	reply = env.run(t, "$add <#556> 25:00")
	assert.Contains(t, reply.Title, "HH:MM")

	reply = env.run(t, "$remove <#555>")
	assert.Equal(t, "🗑️ Schedule removed", reply.Title)
	reply = env.run(t, "$remove <#555>")
	assert.Contains(t, reply.Title, "No cleaning schedule")

	logs, err := env.audit.ListRecent(ctx, "g1", 10)
	require.NoError(t, err)
	actions := make([]model.ActionKind, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.Equal(t, []model.ActionKind{model.ActionRemoveSchedule, model.ActionAddSchedule}, actions)
}

func TestAdminCommandsNeedPermission(t *testing.T) {
	env := newBotEnv(t)
	env.perms = discordgo.PermissionSendMessages

	reply := env.run(t, "$add <#555> 09:00")
	require.NotNil(t, reply)
	assert.Contains(t, reply.Title, "permission")

	task, err := env.schedules.GetCleaningTask(context.Background(), "555", "g1")
	require.NoError(t, err)
	assert.Nil(t, task)

	env.perms = discordgo.PermissionManageMessages
	reply = env.run(t, "$clean 5")
	assert.Equal(t, "🤖 Bot messages cleaned", reply.Title)
}

func TestUsageErrors(t *testing.T) {
	env := newBotEnv(t)
	reply := env.run(t, "$add 09:00")
	require.NotNil(t, reply)
	assert.Contains(t, reply.Title, "Usage: `$add #channel HH:MM`")

	assert.Nil(t, env.run(t, "$unknown"))
}

func TestTestCommandRunsAdHocCleaning(t *testing.T) {
	env := newBotEnv(t)

	reply := env.run(t, "$test")
	assert.Equal(t, "Deleted 7 messages from <#c1>", reply.Description)
	env.run(t, "$test <#777>")
	assert.Equal(t, []string{"c1", "777"}, env.scheduler.channels)
	assert.Equal(t, []string{"g1", "g1"}, env.scheduler.guilds)

	logs, err := env.audit.ListByAction(context.Background(), "g1", model.ActionTestCleaning, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestChannelArgumentsMustBelongToGuild(t *testing.T) {
	env := newBotEnv(t)
	env.platform.guilds = map[string]string{"999": "g2", "404": ""}
	ctx := context.Background()

	for _, content := range []string{"$add <#999> 09:00", "$test <#999>", "$debt_reminder <#999> 18:00", "$add <#404> 09:00"} {
		reply := env.run(t, content)
		require.NotNil(t, reply, content)
		assert.Contains(t, reply.Title, "is not on this server", content)
	}

	task, err := env.schedules.GetCleaningTask(ctx, "999", "g1")
	require.NoError(t, err)
	assert.Nil(t, task)
	reminders, err := env.schedules.ListDebtReminderTasks(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, reminders)
	assert.Empty(t, env.scheduler.channels)

	logs, err := env.audit.ListRecent(ctx, "g1", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestDebtListShowsLastReminder(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()
	env.run(t, "$debt_add <@42> <@7> 30 pizza")
	env.run(t, "$debt_reminder <#900> 18:00")

	tasks, err := env.schedules.ListDebtReminderTasks(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	at := time.Date(2026, 3, 31, 18, 0, 0, 0, time.UTC)
	require.NoError(t, env.debts.MarkReminded(ctx, tasks[0].ID, []uint{1}, at))

	reply := env.run(t, "$debt_list")
	require.Len(t, reply.Fields, 2)
	assert.Contains(t, reply.Fields[1].Value, "1. 30.00 PLN (pizza) · reminded 03-31 18:00")
}

func TestDebtLifecycle(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	reply := env.run(t, "$debt_add <@42> <@7> 30 pizza")
	assert.Equal(t, "✅ Debt added", reply.Title)
	env.run(t, "$debt_add <@42> <@7> 20,005")
	reply = env.run(t, "$debt_add <@42> <@42> 5")
	assert.Contains(t, reply.Title, "cannot owe themselves")

	debts, err := env.debts.ListDebts(ctx, repository.DebtFilter{GuildID: "g1"})
	require.NoError(t, err)
	require.Len(t, debts, 2)
	assert.Equal(t, "PLN", debts[0].Currency)
	assert.Equal(t, "pizza", debts[0].Description)

	reply = env.run(t, "$debt_list")
	require.NotEmpty(t, reply.Fields)
	assert.Contains(t, reply.Fields[0].Value, "<@42> → <@7>: 50.01 PLN")

	reply = env.run(t, "$debt_list <@7>")
	assert.Equal(t, "💰 Debts of <@7>", reply.Title)
	assert.Equal(t, "Debts: 2 | Pairs: 1", reply.Description)

	reply = env.run(t, "$debt_settle 999")
	assert.Contains(t, reply.Title, "not found")

	reply = env.run(t, "$debt_settle #1")
	assert.Equal(t, "✅ Debt #1 marked as settled", reply.Title)
	got, err := env.debts.GetDebt(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.IsSettled)

	reply = env.run(t, "$debt_list")
	assert.Contains(t, reply.Fields[0].Value, "20.01 PLN")
}

func TestDebtSettleIsScopedToGuild(t *testing.T) {
	env := newBotEnv(t)
	other := &model.Debt{DebtorID: "1", CreditorID: "2", Amount: decimal.NewFromInt(5), GuildID: "g2"}
	_, err := env.debts.AddDebt(context.Background(), other)
	require.NoError(t, err)

	reply := env.run(t, "$debt_settle 1")
	assert.Contains(t, reply.Title, "not found")

	got, err := env.debts.GetDebt(context.Background(), other.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSettled)
}

func TestDebtReminderCommands(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	reply := env.run(t, "$debt_reminder <#900> 18:00 weekly {debtor} pay {creditor}!")
	assert.Equal(t, "✅ Debt reminders scheduled", reply.Title)
	env.run(t, "$debt_reminder <#900> 08:00")

	tasks, err := env.schedules.ListDebtReminderTasks(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "08:00", tasks[0].RunTime)
	assert.Equal(t, model.DefaultReminderTemplate, tasks[0].Template())
	assert.Equal(t, model.FrequencyWeekly, tasks[1].Frequency)
	assert.Equal(t, "{debtor} pay {creditor}!", tasks[1].MessageTemplate)

	reply = env.run(t, "$list")
	assert.Equal(t, "2 schedules", reply.Description)

	reply = env.run(t, "$debt_reminder_remove <#900>")
	assert.Equal(t, "🗑️ Debt reminders removed", reply.Title)
	tasks, err = env.schedules.ListDebtReminderTasks(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestListShowsOnlyThisGuild(t *testing.T) {
	env := newBotEnv(t)
	env.run(t, "$add <#1> 09:00")
	other := &model.CleaningTask{TaskBase: model.TaskBase{GuildID: "g2", ChannelID: "2", RunTime: "10:00", IsActive: true, AddedBy: "x"}}
	_, err := env.schedules.AddCleaningTask(context.Background(), other)
	require.NoError(t, err)

	reply := env.run(t, "$list")
	require.Len(t, reply.Fields, 1)
	assert.Equal(t, "🧹 09:00", reply.Fields[0].Name)
	assert.Contains(t, reply.Fields[0].Value, "next 2026-04-01 09:00")
}

func TestStatusAndHelp(t *testing.T) {
	env := newBotEnv(t)
	env.run(t, "$add <#1> 09:00")

	reply := env.run(t, "$status")
	require.Len(t, reply.Fields, 6)
	assert.Equal(t, "idle", reply.Fields[0].Value)
	assert.Equal(t, "08:30", reply.Fields[1].Value)
	assert.Equal(t, "1", reply.Fields[2].Value)
	assert.Equal(t, "never", reply.Fields[4].Value)
	assert.Contains(t, reply.Fields[5].Value, string(model.ActionAddSchedule))

	require.NoError(t, env.audit.Append(context.Background(), model.AuditLog{
		UserID: model.SystemUserID, GuildID: "g1", Level: model.LevelError, Action: model.ActionRunCleaning,
	}))
	reply = env.run(t, "$status")
	assert.Contains(t, reply.Fields[4].Value, string(model.LevelError))

	reply = env.run(t, "$help")
	assert.Len(t, reply.Fields, len(commandOrder))
	assert.Equal(t, "`$add #channel HH:MM`", reply.Fields[0].Name)
}
