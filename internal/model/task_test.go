package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		in   string
		want Frequency
		ok   bool
	}{
		{"", FrequencyDaily, true},
		{"daily", FrequencyDaily, true},
		{"weekly", FrequencyWeekly, true},
		{"interval", FrequencyInterval, true},
		{"monthly", "", false},
		{"Daily", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFrequency(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	ran := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	base := TaskBase{
		ID:        7,
		GuildID:   "g",
		ChannelID: "c",
		RunTime:   "09:00",
		Frequency: FrequencyWeekly,
		IsActive:  true,
		AddedBy:   "u",
		AddedAt:   ran.Add(-time.Hour),
	}

	cleaning := &CleaningTask{TaskBase: base, ExcludePinned: false, SendConfirmation: true}
	cleaning.LastRunAt = &ran
	row := ScheduleFromTask(cleaning)
	assert.Equal(t, KindCleaning, row.TaskType)
	assert.Nil(t, row.MessageTemplate)
	assert.Equal(t, cleaning, row.ToTask())

	reminder := &DebtReminderTask{TaskBase: base, MessageTemplate: "{debtor}!"}
	row = ScheduleFromTask(reminder)
	assert.Equal(t, KindDebtReminder, row.TaskType)
	require.NotNil(t, row.MessageTemplate)
	back, ok := row.ToTask().(*DebtReminderTask)
	require.True(t, ok)
	assert.Equal(t, reminder, back)
	assert.Nil(t, back.LastRunAt)
}

func TestScheduleFromTaskDefaultsFrequency(t *testing.T) {
	row := ScheduleFromTask(&CleaningTask{TaskBase: TaskBase{RunTime: "10:00"}})
	assert.Equal(t, FrequencyDaily, row.Frequency)
}

func TestUnknownKindYieldsNil(t *testing.T) {
	assert.Nil(t, Schedule{TaskType: "other"}.ToTask())
}

func TestTemplateFallsBack(t *testing.T) {
	assert.Equal(t, DefaultReminderTemplate, (&DebtReminderTask{}).Template())
	assert.Equal(t, "x", (&DebtReminderTask{MessageTemplate: "x"}).Template())
}
