package model

import (
	"fmt"
	"time"
)

// SystemUserID marks audit entries written by the scheduler itself.
const SystemUserID = "system"

type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

type ActionKind string

const (
	ActionRunCleaning     ActionKind = "RUN_CLEANING"
	ActionRunDebtReminder ActionKind = "RUN_DEBT_REMINDER"
	ActionTestCleaning    ActionKind = "TEST_CLEANING"
	ActionAddSchedule     ActionKind = "ADD_SCHEDULE"
	ActionRemoveSchedule  ActionKind = "REMOVE_SCHEDULE"
	ActionAddDebt         ActionKind = "ADD_DEBT"
	ActionSettleDebt      ActionKind = "SETTLE_DEBT"
)

// AuditLog is an append-only record of what the bot did and on whose behalf.
type AuditLog struct {
	ID        uint       `gorm:"primaryKey"`
	UserID    string     `gorm:"size:32;not null"`
	GuildID   string     `gorm:"size:32;index;not null"`
	Level     LogLevel   `gorm:"size:10;not null"`
	Action    ActionKind `gorm:"size:50;index;not null"`
	Details   string     `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// ValidationError reports input that was rejected before touching any state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
