package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modflow/ModFlow/internal/platform"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// SendText sends a plain text message to the given chat.
func (c *Client) SendText(ctx context.Context, channel platform.ChannelID, text string) (platform.MessageRef, error) {
	if text == "" {
		return platform.MessageRef{}, fmt.Errorf("message body cannot be empty")
	}
	jid, err := parseChannel(channel)
	if err != nil {
		return platform.MessageRef{}, err
	}
	slog.Debug("Sending WhatsApp message", "to", channel, "body_length", len(text))
	resp, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &text})
	if err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", channel)
		return platform.MessageRef{}, fmt.Errorf("failed to send message to %s: %w", channel, err)
	}
	return platform.MessageRef{Channel: channel, ID: platform.MessageID(resp.ID)}, nil
}

// SendCard renders a card as WhatsApp-formatted text and sends it. WhatsApp
// has no rich embeds, so the color becomes a swatch emoji on the title line.
func (c *Client) SendCard(ctx context.Context, channel platform.ChannelID, card platform.Card) (platform.MessageRef, error) {
	return c.SendText(ctx, channel, FormatCard(card))
}

// SendFile uploads data as a document message.
func (c *Client) SendFile(ctx context.Context, channel platform.ChannelID, name string, data []byte) (platform.MessageRef, error) {
	jid, err := parseChannel(channel)
	if err != nil {
		return platform.MessageRef{}, err
	}
	up, err := c.waClient.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		slog.Error("Failed to upload WhatsApp document", "error", err, "name", name)
		return platform.MessageRef{}, fmt.Errorf("failed to upload document %s: %w", name, err)
	}
	mime := http.DetectContentType(data)
	length := uint64(len(data))
	doc := &waE2E.DocumentMessage{
		URL:           &up.URL,
		DirectPath:    &up.DirectPath,
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    &length,
		Mimetype:      &mime,
		FileName:      &name,
	}
	resp, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{DocumentMessage: doc})
	if err != nil {
		slog.Error("Failed to send WhatsApp document", "error", err, "to", channel)
		return platform.MessageRef{}, fmt.Errorf("failed to send document to %s: %w", channel, err)
	}
	return platform.MessageRef{Channel: channel, ID: platform.MessageID(resp.ID)}, nil
}

// EditCard replaces an already-sent card with a new rendering.
func (c *Client) EditCard(ctx context.Context, ref platform.MessageRef, card platform.Card) error {
	jid, err := parseChannel(ref.Channel)
	if err != nil {
		return err
	}
	text := FormatCard(card)
	edit := c.waClient.BuildEdit(jid, types.MessageID(ref.ID), &waE2E.Message{Conversation: &text})
	if _, err := c.waClient.SendMessage(ctx, jid, edit); err != nil {
		slog.Error("Failed to edit WhatsApp message", "error", err, "to", ref.Channel, "id", ref.ID)
		return fmt.Errorf("failed to edit message %s: %w", ref.ID, err)
	}
	return nil
}

// DeleteMessage revokes a message. Messages the bot did not author can only
// be revoked in group chats where the bot is an admin.
func (c *Client) DeleteMessage(ctx context.Context, ref platform.MessageRef) error {
	jid, err := parseChannel(ref.Channel)
	if err != nil {
		return err
	}
	revoke := c.waClient.BuildRevoke(jid, c.senderOf(ref), types.MessageID(ref.ID))
	if _, err := c.waClient.SendMessage(ctx, jid, revoke); err != nil {
		slog.Error("Failed to revoke WhatsApp message", "error", err, "to", ref.Channel, "id", ref.ID)
		return fmt.Errorf("failed to revoke message %s: %w", ref.ID, err)
	}
	c.forgetSender(ref)
	return nil
}

// React adds the bot's own reaction to a message.
func (c *Client) React(ctx context.Context, ref platform.MessageRef, emoji string) error {
	return c.sendReaction(ctx, ref, emoji)
}

// RemoveReaction clears a reaction. WhatsApp cannot force-remove another
// user's reaction, so only the bot's own is withdrawn.
func (c *Client) RemoveReaction(ctx context.Context, ref platform.MessageRef, emoji string, user platform.UserID) error {
	if !c.isSelf(user) {
		slog.Debug("Cannot remove another user's WhatsApp reaction", "user", user, "id", ref.ID)
		return nil
	}
	return c.sendReaction(ctx, ref, "")
}

// RemoveAllReactions withdraws the bot's own reaction. Other users' reactions
// are out of reach on WhatsApp.
func (c *Client) RemoveAllReactions(ctx context.Context, ref platform.MessageRef) error {
	return c.sendReaction(ctx, ref, "")
}

func (c *Client) sendReaction(ctx context.Context, ref platform.MessageRef, emoji string) error {
	jid, err := parseChannel(ref.Channel)
	if err != nil {
		return err
	}
	target := c.senderOf(ref)
	if target.IsEmpty() && c.waClient.Store.ID != nil {
		target = c.waClient.Store.ID.ToNonAD()
	}
	reaction := c.waClient.BuildReaction(jid, target, types.MessageID(ref.ID), emoji)
	if _, err := c.waClient.SendMessage(ctx, jid, reaction); err != nil {
		slog.Error("Failed to send WhatsApp reaction", "error", err, "to", ref.Channel, "id", ref.ID, "emoji", emoji)
		return fmt.Errorf("failed to react to message %s: %w", ref.ID, err)
	}
	return nil
}

// KickParticipant removes a user from a group chat. Works only where the
// bot is a group admin.
func (c *Client) KickParticipant(ctx context.Context, user platform.UserID, channel platform.ChannelID) error {
	group, target, err := kickTargets(user, channel)
	if err != nil {
		return err
	}
	slog.Info("Removing WhatsApp group participant", "user", user, "channel", channel)
	if _, err := c.waClient.UpdateGroupParticipants(group, []types.JID{target}, whatsmeow.ParticipantChangeRemove); err != nil {
		slog.Error("Failed to remove WhatsApp group participant", "error", err, "user", user, "channel", channel)
		return fmt.Errorf("failed to remove %s from %s: %w", user, channel, err)
	}
	return nil
}

// kickTargets resolves the group and participant JIDs for a removal. Only
// group chats have participants to remove.
func kickTargets(user platform.UserID, channel platform.ChannelID) (types.JID, types.JID, error) {
	group, err := parseChannel(channel)
	if err != nil {
		return types.EmptyJID, types.EmptyJID, err
	}
	if group.Server != GroupJIDSuffix {
		return types.EmptyJID, types.EmptyJID, fmt.Errorf("channel %s is not a group chat", channel)
	}
	s := string(user)
	if !strings.ContainsRune(s, '@') {
		s = s + "@" + JIDSuffix
	}
	target, err := types.ParseJID(s)
	if err != nil {
		return types.EmptyJID, types.EmptyJID, fmt.Errorf("invalid participant JID %q: %w", user, err)
	}
	return group, target, nil
}

func (c *Client) isSelf(user platform.UserID) bool {
	if c.waClient == nil || c.waClient.Store.ID == nil {
		return false
	}
	return string(user) == c.waClient.Store.ID.ToNonAD().String()
}

func parseChannel(channel platform.ChannelID) (types.JID, error) {
	s := string(channel)
	if s == "" {
		return types.EmptyJID, fmt.Errorf("recipient cannot be empty")
	}
	if !strings.ContainsRune(s, '@') {
		s = s + "@" + JIDSuffix
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid chat JID %q: %w", channel, err)
	}
	return jid, nil
}

// swatches maps the card palette to emoji WhatsApp can actually show.
var swatches = map[string]string{
	"#95a5a6": "⚪",
	"#2ecc71": "🟢",
	"#f1c40f": "🟡",
	"#e67e22": "🟠",
	"#e74c3c": "🔴",
}

// FormatCard renders a card as WhatsApp markdown text.
func FormatCard(card platform.Card) string {
	var b strings.Builder
	if card.Title != "" {
		if sw, ok := swatches[strings.ToLower(card.Color)]; ok {
			b.WriteString(sw)
			b.WriteString(" ")
		}
		b.WriteString("*")
		b.WriteString(card.Title)
		b.WriteString("*\n")
	}
	if card.Body != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(card.Body)
		b.WriteString("\n")
	}
	for _, f := range card.Fields {
		b.WriteString("\n*")
		b.WriteString(f.Name)
		b.WriteString(":* ")
		b.WriteString(f.Value)
	}
	if len(card.Fields) > 0 {
		b.WriteString("\n")
	}
	if card.Footer != "" {
		b.WriteString("\n_")
		b.WriteString(card.Footer)
		b.WriteString("_")
	}
	return strings.TrimRight(b.String(), "\n")
}
