package service

import (
	"context"
	"fmt"
	"sync"
)

// fakePlatform is an in-memory Platform. Errors are injected per channel or member.
type fakePlatform struct {
	mu sync.Mutex

	channels   map[string]*Channel
	messages   map[string][]Message
	members    map[string]*Member
	purgeErr   map[string]error
	sendErr    error
	panicOnRes bool

	sent        []sentNotification
	purgeCalls  int
	purgeCounts map[string]int
}

type sentNotification struct {
	ChannelID string
	N         Notification
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		channels:    make(map[string]*Channel),
		messages:    make(map[string][]Message),
		members:     make(map[string]*Member),
		purgeErr:    make(map[string]error),
		purgeCounts: make(map[string]int),
	}
}

func (f *fakePlatform) addChannel(guildID, channelID string, msgs ...Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[channelID] = &Channel{ID: channelID, GuildID: guildID, Name: "chan-" + channelID}
	f.messages[channelID] = append(f.messages[channelID], msgs...)
}

func (f *fakePlatform) addMember(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[id] = &Member{ID: id, DisplayName: name, Mention: "<@" + id + ">"}
}

func (f *fakePlatform) ResolveChannel(_ context.Context, channelID string) (*Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnRes {
		panic("resolve exploded")
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	cp := *ch
	return &cp, nil
}

func (f *fakePlatform) PurgeMessages(_ context.Context, ch *Channel, limit int, keep func(Message) bool) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgeCalls++
	f.purgeCounts[ch.ID]++
	if err := f.purgeErr[ch.ID]; err != nil {
		return nil, err
	}
	var kept, deleted []Message
	for _, m := range f.messages[ch.ID] {
		if keep(m) || (limit > 0 && len(deleted) >= limit) {
			kept = append(kept, m)
			continue
		}
		deleted = append(deleted, m)
	}
	f.messages[ch.ID] = kept
	return deleted, nil
}

func (f *fakePlatform) SendMessage(_ context.Context, channelID string, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentNotification{ChannelID: channelID, N: n})
	return nil
}

func (f *fakePlatform) ResolveMember(_ context.Context, _ string, userID string) (*Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", userID, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (f *fakePlatform) sentTo(channelID string) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Notification
	for _, s := range f.sent {
		if s.ChannelID == channelID {
			out = append(out, s.N)
		}
	}
	return out
}

func (f *fakePlatform) remaining(channelID string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages[channelID]...)
}
