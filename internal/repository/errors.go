package repository

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"cleanerbot/internal/model"
	"cleanerbot/internal/timematch"
)

// ErrDuplicateTask is returned when a channel already has an active cleaning task.
var ErrDuplicateTask = errors.New("an active cleaning task already exists for this channel")

var reCurrency = regexp.MustCompile(`^[A-Z]{3}$`)

func invalid(field, reason string) error {
	return &model.ValidationError{Field: field, Reason: reason}
}

// ValidateTask checks the fields every task needs before it can be stored.
func ValidateTask(task model.Task) error {
	b := task.Base()
	switch {
	case strings.TrimSpace(b.GuildID) == "":
		return invalid("guild", "required")
	case strings.TrimSpace(b.ChannelID) == "":
		return invalid("channel", "required")
	case !timematch.IsValidTimeFormat(b.RunTime):
		return invalid("run time", "expected HH:MM, e.g. 09:00")
	case strings.TrimSpace(b.AddedBy) == "":
		return invalid("added by", "required")
	}
	if _, ok := model.ParseFrequency(string(b.Frequency)); !ok {
		return invalid("frequency", "expected daily, weekly or interval")
	}
	return nil
}

// ValidateDebt checks and normalizes a debt in place: the amount is rounded
// to two fraction digits and the currency defaults to PLN.
func ValidateDebt(d *model.Debt) error {
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	if d.Currency == "" {
		d.Currency = model.DefaultCurrency
	}
	d.Amount = d.Amount.Round(2)
	switch {
	case strings.TrimSpace(d.GuildID) == "":
		return invalid("guild", "required")
	case d.DebtorID == "" || d.CreditorID == "":
		return invalid("member", "debtor and creditor are required")
	case d.DebtorID == d.CreditorID:
		return invalid("member", "a member cannot owe themselves")
	case !d.Amount.GreaterThan(decimal.Zero):
		return invalid("amount", "must be greater than 0")
	case !reCurrency.MatchString(d.Currency):
		return invalid("currency", "expected a 3-letter code")
	}
	return nil
}
