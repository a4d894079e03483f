// Package testutil provides shared in-memory fakes for tests: a recording
// platform sender and a static classifier scorer.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/modflow/ModFlow/internal/platform"
)

// SentMessage records one outbound message handled by FakeSender.
type SentMessage struct {
	Ref     platform.MessageRef
	Channel platform.ChannelID
	Kind    string // "text", "card", "file"
	Text    string
	Card    platform.Card
	Name    string
	Deleted bool
}

// FakeSender is an in-memory platform.Sender that records everything sent
// through it. Safe for concurrent use.
type FakeSender struct {
	mu        sync.Mutex
	nextID    int
	messages  map[platform.MessageRef]*SentMessage
	order     []platform.MessageRef
	reactions map[platform.MessageRef][]string
	edits     map[platform.MessageRef]int

	// FailSends, when set, makes every send return this error.
	FailSends error
	// GoneRefs marks refs whose edit/delete/react calls fail with
	// platform.ErrMessageGone.
	GoneRefs map[platform.MessageRef]bool
}

// NewFakeSender creates an empty recording sender.
func NewFakeSender() *FakeSender {
	return &FakeSender{
		messages:  make(map[platform.MessageRef]*SentMessage),
		reactions: make(map[platform.MessageRef][]string),
		edits:     make(map[platform.MessageRef]int),
		GoneRefs:  make(map[platform.MessageRef]bool),
	}
}

func (f *FakeSender) record(channel platform.ChannelID, m SentMessage) (platform.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSends != nil {
		return platform.MessageRef{}, f.FailSends
	}
	f.nextID++
	ref := platform.MessageRef{Channel: channel, ID: platform.MessageID(fmt.Sprintf("msg-%d", f.nextID))}
	m.Ref = ref
	m.Channel = channel
	f.messages[ref] = &m
	f.order = append(f.order, ref)
	return ref, nil
}

func (f *FakeSender) SendText(ctx context.Context, channel platform.ChannelID, text string) (platform.MessageRef, error) {
	return f.record(channel, SentMessage{Kind: "text", Text: text})
}

func (f *FakeSender) SendCard(ctx context.Context, channel platform.ChannelID, card platform.Card) (platform.MessageRef, error) {
	return f.record(channel, SentMessage{Kind: "card", Card: card})
}

func (f *FakeSender) SendFile(ctx context.Context, channel platform.ChannelID, name string, data []byte) (platform.MessageRef, error) {
	return f.record(channel, SentMessage{Kind: "file", Name: name})
}

func (f *FakeSender) EditCard(ctx context.Context, ref platform.MessageRef, card platform.Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GoneRefs[ref] {
		return platform.ErrMessageGone
	}
	m, ok := f.messages[ref]
	if !ok || m.Deleted {
		return platform.ErrMessageGone
	}
	m.Card = card
	f.edits[ref]++
	return nil
}

func (f *FakeSender) DeleteMessage(ctx context.Context, ref platform.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GoneRefs[ref] {
		return platform.ErrMessageGone
	}
	m, ok := f.messages[ref]
	if !ok || m.Deleted {
		return platform.ErrMessageGone
	}
	m.Deleted = true
	return nil
}

func (f *FakeSender) React(ctx context.Context, ref platform.MessageRef, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GoneRefs[ref] {
		return platform.ErrMessageGone
	}
	f.reactions[ref] = append(f.reactions[ref], emoji)
	return nil
}

func (f *FakeSender) RemoveReaction(ctx context.Context, ref platform.MessageRef, emoji string, user platform.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GoneRefs[ref] {
		return platform.ErrMessageGone
	}
	list := f.reactions[ref]
	for i, e := range list {
		if e == emoji {
			f.reactions[ref] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (f *FakeSender) RemoveAllReactions(ctx context.Context, ref platform.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GoneRefs[ref] {
		return platform.ErrMessageGone
	}
	delete(f.reactions, ref)
	return nil
}

// Sent returns all recorded messages in send order.
func (f *FakeSender) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, 0, len(f.order))
	for _, ref := range f.order {
		out = append(out, *f.messages[ref])
	}
	return out
}

// Texts returns the text of every recorded plain message in send order.
func (f *FakeSender) Texts() []string {
	var out []string
	for _, m := range f.Sent() {
		if m.Kind == "text" {
			out = append(out, m.Text)
		}
	}
	return out
}

// LastSent returns the most recently sent message. The second return is
// false when nothing was sent.
func (f *FakeSender) LastSent() (SentMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.order) == 0 {
		return SentMessage{}, false
	}
	return *f.messages[f.order[len(f.order)-1]], true
}

// Message returns the recorded message for ref.
func (f *FakeSender) Message(ref platform.MessageRef) (SentMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[ref]
	if !ok {
		return SentMessage{}, false
	}
	return *m, true
}

// Reactions returns the bot-seeded reactions on a message.
func (f *FakeSender) Reactions(ref platform.MessageRef) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reactions[ref]...)
}

// EditCount returns how many times a message was edited.
func (f *FakeSender) EditCount(ref platform.MessageRef) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits[ref]
}

// MarkGone makes subsequent edit/delete/react calls against ref fail with
// platform.ErrMessageGone.
func (f *FakeSender) MarkGone(ref platform.MessageRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GoneRefs[ref] = true
}
