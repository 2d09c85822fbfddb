package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is applied to debts recorded without a currency.
const DefaultCurrency = "PLN"

// Debt is a monetary obligation from one guild member to another.
type Debt struct {
	ID          uint            `gorm:"primaryKey"`
	DebtorID    string          `gorm:"size:32;index;not null"`
	CreditorID  string          `gorm:"size:32;index;not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Currency    string          `gorm:"size:3;not null;default:PLN"`
	Description string          `gorm:"type:text"`
	GuildID     string          `gorm:"size:32;index;not null"`
	IsSettled   bool            `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Reminders []DebtSchedule `gorm:"foreignKey:DebtID;constraint:OnDelete:CASCADE"`
}

// DebtSchedule links a debt to a reminder task that has reminded about it.
type DebtSchedule struct {
	ID             uint `gorm:"primaryKey"`
	DebtID         uint `gorm:"uniqueIndex:idx_debt_schedule;not null"`
	ScheduleID     uint `gorm:"uniqueIndex:idx_debt_schedule;not null"`
	LastRemindedAt *time.Time
	CreatedAt      time.Time
}
