package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"cleanerbot/internal/model"
)

// ScheduleRepository persists cleaning and debt reminder tasks.
type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// AddCleaningTask stores task and sets its ID. It fails with ErrDuplicateTask
// when the channel already has an active cleaning task.
func (r *ScheduleRepository) AddCleaningTask(ctx context.Context, task *model.CleaningTask) (uint, error) {
	if err := ValidateTask(task); err != nil {
		return 0, err
	}
	if task.AddedAt.IsZero() {
		task.AddedAt = time.Now()
	}
	row := model.ScheduleFromTask(task)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if task.IsActive {
			var count int64
			if err := tx.Model(&model.Schedule{}).
				Where("task_type = ? AND guild_id = ? AND channel_id = ? AND is_active = ?",
					model.KindCleaning, task.GuildID, task.ChannelID, true).
				Count(&count).Error; err != nil {
				return fmt.Errorf("check duplicate: %w", err)
			}
			if count > 0 {
				return ErrDuplicateTask
			}
		}
		return tx.Create(&row).Error
	})
	if errors.Is(err, ErrDuplicateTask) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("create cleaning task: %w", err)
	}
	task.ID = row.ID
	return row.ID, nil
}

// RemoveCleaningTask deletes the channel's cleaning tasks and reports whether any existed.
func (r *ScheduleRepository) RemoveCleaningTask(ctx context.Context, channelID, guildID string) (bool, error) {
	return r.RemoveTasks(ctx, channelID, guildID, model.KindCleaning)
}

// RemoveTasks hard-deletes every task of the given kind on the channel.
func (r *ScheduleRepository) RemoveTasks(ctx context.Context, channelID, guildID string, kind model.TaskKind) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("task_type = ? AND guild_id = ? AND channel_id = ?", kind, guildID, channelID).
		Delete(&model.Schedule{})
	if res.Error != nil {
		return false, fmt.Errorf("delete %s task: %w", kind, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetCleaningTask returns the channel's cleaning task, preferring an active
// one. It returns nil without error when there is none.
func (r *ScheduleRepository) GetCleaningTask(ctx context.Context, channelID, guildID string) (*model.CleaningTask, error) {
	var row model.Schedule
	err := r.db.WithContext(ctx).
		Where("task_type = ? AND guild_id = ? AND channel_id = ?", model.KindCleaning, guildID, channelID).
		Order("is_active DESC, id ASC").
		First(&row).Error
	switch {
	case err == nil:
		return row.ToTask().(*model.CleaningTask), nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("find cleaning task: %w", err)
	}
}

func (r *ScheduleRepository) ListAllCleaningTasks(ctx context.Context) ([]*model.CleaningTask, error) {
	rows, err := r.list(ctx, model.KindCleaning, "")
	if err != nil {
		return nil, err
	}
	tasks := make([]*model.CleaningTask, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.ToTask().(*model.CleaningTask))
	}
	return tasks, nil
}

// AddDebtReminderTask stores task and sets its ID. A channel may carry any
// number of reminder tasks.
func (r *ScheduleRepository) AddDebtReminderTask(ctx context.Context, task *model.DebtReminderTask) (uint, error) {
	if err := ValidateTask(task); err != nil {
		return 0, err
	}
	if task.AddedAt.IsZero() {
		task.AddedAt = time.Now()
	}
	row := model.ScheduleFromTask(task)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("create debt reminder task: %w", err)
	}
	task.ID = row.ID
	return row.ID, nil
}

// ListDebtReminderTasks lists reminder tasks of one guild, or of all guilds
// when guildID is empty.
func (r *ScheduleRepository) ListDebtReminderTasks(ctx context.Context, guildID string) ([]*model.DebtReminderTask, error) {
	rows, err := r.list(ctx, model.KindDebtReminder, guildID)
	if err != nil {
		return nil, err
	}
	tasks := make([]*model.DebtReminderTask, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.ToTask().(*model.DebtReminderTask))
	}
	return tasks, nil
}

// UpdateLastRun stamps a task's last successful run.
func (r *ScheduleRepository) UpdateLastRun(ctx context.Context, taskID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Schedule{}).
		Where("id = ?", taskID).
		Update("last_run_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("update last run: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *ScheduleRepository) list(ctx context.Context, kind model.TaskKind, guildID string) ([]model.Schedule, error) {
	q := r.db.WithContext(ctx).Where("task_type = ?", kind)
	if guildID != "" {
		q = q.Where("guild_id = ?", guildID)
	}
	var rows []model.Schedule
	if err := q.Order("run_time ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list %s tasks: %w", kind, err)
	}
	return rows, nil
}
