// Package timematch maps wall-clock time to the HH:MM keys tasks are scheduled by.
package timematch

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"cleanerbot/internal/model"
)

// KeyLayout is the time.Format layout of a time key.
const KeyLayout = "15:04"

// CurrentTimeKey formats now as a zero-padded 24-hour HH:MM key.
func CurrentTimeKey(now time.Time) string {
	return now.Format(KeyLayout)
}

// IsValidTimeFormat reports whether s is exactly HH:MM with hours 00-23 and
// minutes 00-59.
func IsValidTimeFormat(s string) bool {
	_, _, ok := split(s)
	return ok
}

// TaskIsDue reports whether task should run at nowKey. Only activity and the
// run time are consulted; the frequency is deliberately ignored.
func TaskIsDue(task model.Task, nowKey string) bool {
	b := task.Base()
	return b.IsActive && b.RunTime == nowKey
}

// DailyCronSpec renders an HH:MM run time as a five-field cron expression.
func DailyCronSpec(runTime string) (string, error) {
	hour, minute, ok := split(runTime)
	if !ok {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", runTime)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// NextRun returns the first instant strictly after now at which task would be due.
func NextRun(task model.Task, now time.Time) (time.Time, error) {
	spec, err := DailyCronSpec(task.Base().RunTime)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", spec, err)
	}
	return sched.Next(now), nil
}

func split(s string) (hour, minute int, ok bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, false
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, false
		}
	}
	hour = int(s[0]-'0')*10 + int(s[1]-'0')
	minute = int(s[3]-'0')*10 + int(s[4]-'0')
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
