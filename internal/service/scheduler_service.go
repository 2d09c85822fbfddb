package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"cleanerbot/internal/logging"
	"cleanerbot/internal/model"
	"cleanerbot/internal/timematch"
)

// DefaultPollSpec fires once a minute, on the minute.
const DefaultPollSpec = "0 * * * * *"

// SchedulerState is what the loop is doing right now.
type SchedulerState int32

const (
	StateIdle SchedulerState = iota
	StatePolling
)

func (s SchedulerState) String() string {
	if s == StatePolling {
		return "polling"
	}
	return "idle"
}

// TaskStore is what the scheduler needs from the schedule repository.
type TaskStore interface {
	ListAllCleaningTasks(ctx context.Context) ([]*model.CleaningTask, error)
	ListDebtReminderTasks(ctx context.Context, guildID string) ([]*model.DebtReminderTask, error)
	GetCleaningTask(ctx context.Context, channelID, guildID string) (*model.CleaningTask, error)
	UpdateLastRun(ctx context.Context, taskID uint, at time.Time) (bool, error)
}

// AuditStore appends audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry model.AuditLog) error
}

// Cleaner is implemented by CleaningService.
type Cleaner interface {
	ExecuteCleaning(ctx context.Context, guildID, channelID string, excludePinned, confirm bool) (int, error)
}

// Reminder is implemented by ReminderService.
type Reminder interface {
	ExecuteDebtReminders(ctx context.Context, task *model.DebtReminderTask) (int, error)
}

// SchedulerConfig wires a SchedulerService.
type SchedulerConfig struct {
	Tasks    TaskStore
	Audit    AuditStore
	Cleaner  Cleaner
	Reminder Reminder
	// Clock returns the current wall-clock time; defaults to time.Now in Location.
	Clock    func() time.Time
	Location *time.Location
	// PollSpec is a six-field (with seconds) cron spec; defaults to DefaultPollSpec.
	PollSpec string
	Log      zerolog.Logger
}

// TickReport summarizes one poll.
type TickReport struct {
	Key       string
	Skipped   bool
	Cleanings int
	Reminders int
	Failures  int
}

// SchedulerService polls the task store on a cron tick and runs whatever is due.
type SchedulerService struct {
	tasks    TaskStore
	audit    AuditStore
	cleaner  Cleaner
	reminder Reminder
	clock    func() time.Time
	spec     string
	log      zerolog.Logger

	cron  *cron.Cron
	state atomic.Int32

	mu      sync.Mutex
	lastKey string
}

// LocalClock returns the wall clock in loc.
func LocalClock(loc *time.Location) func() time.Time {
	return func() time.Time { return time.Now().In(loc) }
}

func NewSchedulerService(cfg SchedulerConfig) *SchedulerService {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	clock := cfg.Clock
	if clock == nil {
		clock = LocalClock(loc)
	}
	spec := cfg.PollSpec
	if spec == "" {
		spec = DefaultPollSpec
	}
	log := logging.Component(cfg.Log, "scheduler")
	cl := cronLogger{log: log}

	return &SchedulerService{
		tasks:    cfg.Tasks,
		audit:    cfg.Audit,
		cleaner:  cfg.Cleaner,
		reminder: cfg.Reminder,
		clock:    clock,
		spec:     spec,
		log:      log,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

func (s *SchedulerService) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// Start waits for ready to close, then polls on the configured spec until ctx
// is cancelled. A tick that is running when ctx ends is allowed to finish.
func (s *SchedulerService) Start(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	tickCtx := context.WithoutCancel(ctx)
	if _, err := s.cron.AddFunc(s.spec, func() { s.Tick(tickCtx) }); err != nil {
		return fmt.Errorf("schedule poll %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Msg("scheduler started")

	<-ctx.Done()
	s.Stop()
	s.log.Info().Msg("scheduler stopped")
	return nil
}

// Stop stops the cron and waits for a running tick.
func (s *SchedulerService) Stop() {
	done := s.cron.Stop()
	<-done.Done()
}

// Tick runs one poll: due cleaning tasks first, then due debt reminder tasks.
// A second tick within the same minute is skipped.
func (s *SchedulerService) Tick(ctx context.Context) TickReport {
	now := s.clock()
	report := TickReport{Key: timematch.CurrentTimeKey(now)}

	minute := now.Format("2006-01-02 15:04")
	s.mu.Lock()
	if minute == s.lastKey {
		s.mu.Unlock()
		report.Skipped = true
		s.log.Debug().Str("now", report.Key).Msg("tick already ran this minute")
		return report
	}
	s.lastKey = minute
	s.mu.Unlock()

	s.state.Store(int32(StatePolling))
	defer s.state.Store(int32(StateIdle))

	log := s.log.With().Str("tick_id", uuid.NewString()).Str("now", report.Key).Logger()
	log.Debug().Msg("polling tasks")

	s.pollCleaning(ctx, log, &report)
	s.pollReminders(ctx, log, &report)

	if report.Cleanings+report.Reminders+report.Failures > 0 {
		log.Info().
			Int("cleanings", report.Cleanings).
			Int("reminders", report.Reminders).
			Int("failures", report.Failures).
			Msg("tick finished")
	}
	return report
}

func (s *SchedulerService) pollCleaning(ctx context.Context, log zerolog.Logger, report *TickReport) {
	tasks, err := s.tasks.ListAllCleaningTasks(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list cleaning tasks")
		report.Failures++
		return
	}
	for _, task := range tasks {
		if !timematch.TaskIsDue(task, report.Key) {
			continue
		}
		taskLog := log.With().Uint("task_id", task.ID).Str("channel_id", task.ChannelID).Logger()
		if s.isolate(taskLog, func() error { return s.runCleaning(ctx, taskLog, task) }) {
			report.Cleanings++
		} else {
			report.Failures++
		}
	}
}

func (s *SchedulerService) pollReminders(ctx context.Context, log zerolog.Logger, report *TickReport) {
	tasks, err := s.tasks.ListDebtReminderTasks(ctx, "")
	if err != nil {
		log.Error().Err(err).Msg("list debt reminder tasks")
		report.Failures++
		return
	}
	for _, task := range tasks {
		if !timematch.TaskIsDue(task, report.Key) {
			continue
		}
		taskLog := log.With().Uint("task_id", task.ID).Str("channel_id", task.ChannelID).Logger()
		if s.isolate(taskLog, func() error { return s.runReminders(ctx, taskLog, task) }) {
			report.Reminders++
		} else {
			report.Failures++
		}
	}
}

// isolate runs fn and turns a panic into a failure so one task cannot take
// down the rest of the tick.
func (s *SchedulerService) isolate(log zerolog.Logger, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("task panicked")
			ok = false
		}
	}()
	return fn() == nil
}

func (s *SchedulerService) runCleaning(ctx context.Context, log zerolog.Logger, task *model.CleaningTask) error {
	deleted, err := s.cleaner.ExecuteCleaning(ctx, task.GuildID, task.ChannelID, task.ExcludePinned, task.SendConfirmation)

	entry := model.AuditLog{
		UserID:  model.SystemUserID,
		GuildID: task.GuildID,
		Level:   model.LevelInfo,
		Action:  model.ActionRunCleaning,
		Details: fmt.Sprintf("Scheduled cleaning of channel %s at %s deleted %d messages", task.ChannelID, task.RunTime, deleted),
	}
	if err != nil {
		entry.Level = model.LevelError
		entry.Details = fmt.Sprintf("Scheduled cleaning of channel %s at %s failed: %v", task.ChannelID, task.RunTime, err)
	} else {
		s.stampLastRun(ctx, log, task.ID)
	}
	s.appendAudit(ctx, log, entry)
	return err
}

func (s *SchedulerService) runReminders(ctx context.Context, log zerolog.Logger, task *model.DebtReminderTask) error {
	notified, err := s.reminder.ExecuteDebtReminders(ctx, task)

	entry := model.AuditLog{
		UserID:  model.SystemUserID,
		GuildID: task.GuildID,
		Level:   model.LevelInfo,
		Action:  model.ActionRunDebtReminder,
		Details: fmt.Sprintf("Debt reminders in channel %s at %s notified %d pairs", task.ChannelID, task.RunTime, notified),
	}
	if err != nil {
		entry.Level = model.LevelError
		entry.Details = fmt.Sprintf("Debt reminders in channel %s at %s failed: %v", task.ChannelID, task.RunTime, err)
	} else {
		s.stampLastRun(ctx, log, task.ID)
	}
	s.appendAudit(ctx, log, entry)
	return err
}

func (s *SchedulerService) stampLastRun(ctx context.Context, log zerolog.Logger, taskID uint) {
	if _, err := s.tasks.UpdateLastRun(ctx, taskID, s.clock()); err != nil {
		log.Warn().Err(err).Msg("update last run")
	}
}

// appendAudit is fire-and-forget: a failing audit store is logged and ignored.
func (s *SchedulerService) appendAudit(ctx context.Context, log zerolog.Logger, entry model.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", string(entry.Action)).Msg("append audit log")
	}
}

// RunAdHocCleaning cleans a channel of guildID right away, outside the
// schedule. The channel's cleaning task flags apply when it has one;
// otherwise pinned messages are kept and a confirmation is posted.
func (s *SchedulerService) RunAdHocCleaning(ctx context.Context, guildID, channelID string) int {
	log := s.log.With().Str("guild_id", guildID).Str("channel_id", channelID).Logger()
	excludePinned, confirm := true, true
	task, err := s.tasks.GetCleaningTask(ctx, channelID, guildID)
	if err != nil {
		log.Warn().Err(err).Msg("load cleaning task")
	} else if task != nil {
		excludePinned, confirm = task.ExcludePinned, task.SendConfirmation
	}
	log.Info().Msg("ad hoc cleaning")
	deleted, _ := s.cleaner.ExecuteCleaning(ctx, guildID, channelID, excludePinned, confirm)
	return deleted
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
