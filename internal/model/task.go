package model

import "time"

// TaskKind discriminates the concrete task types stored in the schedules table.
type TaskKind string

const (
	KindCleaning     TaskKind = "cleaning"
	KindDebtReminder TaskKind = "debt_reminder"
)

// Frequency is how often a task is meant to run.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyInterval Frequency = "interval"
)

// ParseFrequency accepts the lower-case names; empty means daily.
func ParseFrequency(raw string) (Frequency, bool) {
	switch Frequency(raw) {
	case "", FrequencyDaily:
		return FrequencyDaily, true
	case FrequencyWeekly:
		return FrequencyWeekly, true
	case FrequencyInterval:
		return FrequencyInterval, true
	}
	return "", false
}

// DefaultReminderTemplate is used when a debt reminder task has no template of its own.
const DefaultReminderTemplate = "Debt reminder: {debtor} owes {creditor} {amount} {currency}. Description: {description}"

// Task is a persisted, time-triggered unit of work. It is implemented only by
// *CleaningTask and *DebtReminderTask.
type Task interface {
	Kind() TaskKind
	Base() *TaskBase
}

// TaskBase holds the fields shared by every task kind.
type TaskBase struct {
	ID        uint
	GuildID   string
	ChannelID string
	RunTime   string // HH:MM
	Frequency Frequency
	IsActive  bool
	AddedBy   string
	AddedAt   time.Time
	LastRunAt *time.Time
}

// CleaningTask purges a channel once it is due.
type CleaningTask struct {
	TaskBase
	ExcludePinned    bool
	SendConfirmation bool
}

func (t *CleaningTask) Kind() TaskKind  { return KindCleaning }
func (t *CleaningTask) Base() *TaskBase { return &t.TaskBase }

// DebtReminderTask posts reminders about unsettled debts of its guild.
type DebtReminderTask struct {
	TaskBase
	MessageTemplate string
}

func (t *DebtReminderTask) Kind() TaskKind  { return KindDebtReminder }
func (t *DebtReminderTask) Base() *TaskBase { return &t.TaskBase }

// Template returns the message template, falling back to the default one.
func (t *DebtReminderTask) Template() string {
	if t.MessageTemplate == "" {
		return DefaultReminderTemplate
	}
	return t.MessageTemplate
}

// Schedule is the persisted row behind every Task.
type Schedule struct {
	ID        uint      `gorm:"primaryKey"`
	TaskType  TaskKind  `gorm:"size:20;index;not null"`
	GuildID   string    `gorm:"size:32;index:idx_schedule_scope;not null"`
	ChannelID string    `gorm:"size:32;index:idx_schedule_scope;not null"`
	RunTime   string    `gorm:"size:5;not null"`
	Frequency Frequency `gorm:"size:20;not null"`
	IsActive  bool      `gorm:"not null"`
	AddedBy   string    `gorm:"size:32;not null"`
	AddedAt   time.Time
	LastRunAt *time.Time

	// Cleaning only.
	ExcludePinned    bool `gorm:"not null"`
	SendConfirmation bool `gorm:"not null"`

	// Debt reminders only.
	MessageTemplate *string `gorm:"type:text"`

	DebtLinks []DebtSchedule `gorm:"foreignKey:ScheduleID;constraint:OnDelete:CASCADE"`
}

// ScheduleFromTask flattens a task into its row representation.
func ScheduleFromTask(task Task) Schedule {
	b := task.Base()
	row := Schedule{
		ID:        b.ID,
		TaskType:  task.Kind(),
		GuildID:   b.GuildID,
		ChannelID: b.ChannelID,
		RunTime:   b.RunTime,
		Frequency: b.Frequency,
		IsActive:  b.IsActive,
		AddedBy:   b.AddedBy,
		AddedAt:   b.AddedAt,
		LastRunAt: b.LastRunAt,
	}
	if row.Frequency == "" {
		row.Frequency = FrequencyDaily
	}
	switch t := task.(type) {
	case *CleaningTask:
		row.ExcludePinned = t.ExcludePinned
		row.SendConfirmation = t.SendConfirmation
	case *DebtReminderTask:
		tmpl := t.MessageTemplate
		row.MessageTemplate = &tmpl
	}
	return row
}

// ToTask rebuilds the concrete task from a row. Unknown kinds yield nil.
func (s Schedule) ToTask() Task {
	base := TaskBase{
		ID:        s.ID,
		GuildID:   s.GuildID,
		ChannelID: s.ChannelID,
		RunTime:   s.RunTime,
		Frequency: s.Frequency,
		IsActive:  s.IsActive,
		AddedBy:   s.AddedBy,
		AddedAt:   s.AddedAt,
		LastRunAt: s.LastRunAt,
	}
	switch s.TaskType {
	case KindCleaning:
		return &CleaningTask{TaskBase: base, ExcludePinned: s.ExcludePinned, SendConfirmation: s.SendConfirmation}
	case KindDebtReminder:
		t := &DebtReminderTask{TaskBase: base}
		if s.MessageTemplate != nil {
			t.MessageTemplate = *s.MessageTemplate
		}
		return t
	}
	return nil
}
