// Package platform defines the chat-platform boundary: the Sender interface
// every transport adapter implements, the inbound event types the router
// consumes, and the output values flows render. Nothing above this package
// imports a platform SDK directly.
package platform

import "context"

// UserID identifies a platform account.
type UserID string

// ChannelID identifies a conversation surface (a channel or a DM thread).
type ChannelID string

// MessageID identifies a single message within a channel.
type MessageID string

// MessageRef addresses one message for edits, deletions, and reactions.
type MessageRef struct {
	Channel ChannelID
	ID      MessageID
}

// Zero reports whether the ref addresses nothing.
func (r MessageRef) Zero() bool {
	return r.Channel == "" && r.ID == ""
}

// CardField is one labeled line on a card.
type CardField struct {
	Name  string
	Value string
}

// Card is a structured message: rich on platforms that support it, rendered
// as labeled text elsewhere.
type Card struct {
	Title  string
	Body   string
	Color  string
	Fields []CardField
	Footer string
}

// Sender is the outbound half of the platform boundary. Implementations must
// be safe for concurrent use. Edit and delete calls against messages that no
// longer exist return ErrMessageGone; callers treat that as recoverable.
type Sender interface {
	SendText(ctx context.Context, channel ChannelID, text string) (MessageRef, error)
	SendCard(ctx context.Context, channel ChannelID, card Card) (MessageRef, error)
	SendFile(ctx context.Context, channel ChannelID, name string, data []byte) (MessageRef, error)
	EditCard(ctx context.Context, ref MessageRef, card Card) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	React(ctx context.Context, ref MessageRef, emoji string) error
	RemoveReaction(ctx context.Context, ref MessageRef, emoji string, user UserID) error
	RemoveAllReactions(ctx context.Context, ref MessageRef) error
}

// MessageEvent is an inbound content submission or edit.
type MessageEvent struct {
	Ref        MessageRef
	From       UserID
	Text       string
	ImageURLs  []string
	ImageData  [][]byte
	DM         bool
	Edited     bool
	PrevText   string
	Timestamp  int64
	AuthorName string
}

// ReactionEvent is a reaction added to or removed from a message.
type ReactionEvent struct {
	Ref     MessageRef
	User    UserID
	Emoji   string
	Added   bool
	BotSelf bool
}

// Event is the sum of inbound event kinds delivered by a transport adapter.
// Exactly one field is non-nil.
type Event struct {
	Message  *MessageEvent
	Reaction *ReactionEvent
}
