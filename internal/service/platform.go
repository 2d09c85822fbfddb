package service

import (
	"context"
	"errors"
	"time"
)

// Errors a Platform reports. Implementations wrap them so errors.Is works.
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTransient        = errors.New("transient platform error")
)

// Channel is a resolved text channel.
type Channel struct {
	ID      string
	GuildID string
	Name    string
}

// Message is the part of a chat message the purge predicate looks at.
type Message struct {
	ID        string
	AuthorID  string
	AuthorBot bool
	Pinned    bool
	Timestamp time.Time
}

// Member is a resolved guild member.
type Member struct {
	ID          string
	DisplayName string
	Mention     string
}

// Field is one name/value pair of a Notification.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notification is a message the bot posts into a channel.
type Notification struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
	Footer      string
}

// Notification colors.
const (
	ColorGreen  = 0x2ecc71
	ColorOrange = 0xe67e22
	ColorRed    = 0xe74c3c
	ColorBlue   = 0x3498db
)

// Platform is the chat platform the executors act on.
type Platform interface {
	ResolveChannel(ctx context.Context, channelID string) (*Channel, error)
	// PurgeMessages deletes up to limit messages (limit <= 0 means no cap)
	// for which keep returns false, and returns the deleted ones.
	PurgeMessages(ctx context.Context, ch *Channel, limit int, keep func(Message) bool) ([]Message, error)
	SendMessage(ctx context.Context, channelID string, n Notification) error
	ResolveMember(ctx context.Context, guildID, userID string) (*Member, error)
}
