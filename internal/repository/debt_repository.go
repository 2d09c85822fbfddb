package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cleanerbot/internal/model"
)

// DebtFilter narrows ListDebts. GuildID is required; nil fields match anything.
type DebtFilter struct {
	GuildID    string
	DebtorID   *string
	CreditorID *string
	Settled    *bool
}

// DebtRepository handles debts and their reminder links.
type DebtRepository struct {
	db *gorm.DB
}

func NewDebtRepository(db *gorm.DB) *DebtRepository {
	return &DebtRepository{db: db}
}

// AddDebt validates and stores debt, setting its ID.
func (r *DebtRepository) AddDebt(ctx context.Context, debt *model.Debt) (uint, error) {
	if err := ValidateDebt(debt); err != nil {
		return 0, err
	}
	debt.IsSettled = false
	if err := r.db.WithContext(ctx).Create(debt).Error; err != nil {
		return 0, fmt.Errorf("create debt: %w", err)
	}
	return debt.ID, nil
}

// SettleDebt marks a debt as settled. It matches by id alone, so settling an
// already settled debt still reports true.
func (r *DebtRepository) SettleDebt(ctx context.Context, debtID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Debt{}).
		Where("id = ?", debtID).
		Updates(map[string]interface{}{
			"is_settled": true,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("settle debt: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *DebtRepository) GetDebt(ctx context.Context, debtID uint) (*model.Debt, error) {
	var debt model.Debt
	if err := r.db.WithContext(ctx).First(&debt, debtID).Error; err != nil {
		return nil, err
	}
	return &debt, nil
}

func (r *DebtRepository) ListDebts(ctx context.Context, f DebtFilter) ([]model.Debt, error) {
	q := r.db.WithContext(ctx).Where("guild_id = ?", f.GuildID)
	if f.DebtorID != nil {
		q = q.Where("debtor_id = ?", *f.DebtorID)
	}
	if f.CreditorID != nil {
		q = q.Where("creditor_id = ?", *f.CreditorID)
	}
	if f.Settled != nil {
		q = q.Where("is_settled = ?", *f.Settled)
	}
	var debts []model.Debt
	if err := q.Order("id ASC").Find(&debts).Error; err != nil {
		return nil, fmt.Errorf("list debts: %w", err)
	}
	return debts, nil
}

// MarkReminded records that the reminder task scheduleID covered debtIDs at the given time.
func (r *DebtRepository) MarkReminded(ctx context.Context, scheduleID uint, debtIDs []uint, at time.Time) error {
	if len(debtIDs) == 0 {
		return nil
	}
	links := make([]model.DebtSchedule, 0, len(debtIDs))
	for _, id := range debtIDs {
		links = append(links, model.DebtSchedule{DebtID: id, ScheduleID: scheduleID, LastRemindedAt: &at})
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "debt_id"}, {Name: "schedule_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_reminded_at"}),
	}).Create(&links).Error
	if err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	return nil
}

func (r *DebtRepository) ListReminderLinks(ctx context.Context, scheduleID uint) ([]model.DebtSchedule, error) {
	var links []model.DebtSchedule
	if err := r.db.WithContext(ctx).Where("schedule_id = ?", scheduleID).Order("debt_id ASC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("list reminder links: %w", err)
	}
	return links, nil
}
