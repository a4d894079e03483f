package whatsapp

import (
	"context"
	"log/slog"

	"github.com/modflow/ModFlow/internal/platform"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// handleEvent translates Whatsmeow events into platform events. It runs on
// the whatsmeow dispatch goroutine and must not block.
func (c *Client) handleEvent(evt interface{}) {
	msg, ok := evt.(*events.Message)
	if !ok || msg.Message == nil {
		return
	}

	channel := platform.ChannelID(msg.Info.Chat.String())
	sender := msg.Info.Sender.ToNonAD()

	if reaction := msg.Message.GetReactionMessage(); reaction != nil {
		ref := platform.MessageRef{
			Channel: channel,
			ID:      platform.MessageID(reaction.GetKey().GetID()),
		}
		// A removal carries no emoji on WhatsApp; the registry drops events
		// with an empty emoji, so unclick handlers do not fire here.
		c.publish(platform.Event{Reaction: &platform.ReactionEvent{
			Ref:     ref,
			User:    platform.UserID(sender.String()),
			Emoji:   reaction.GetText(),
			Added:   reaction.GetText() != "",
			BotSelf: msg.Info.IsFromMe,
		}})
		return
	}

	if msg.Info.IsFromMe {
		return
	}

	if protocol := msg.Message.GetProtocolMessage(); protocol != nil {
		if protocol.GetType() != waE2E.ProtocolMessage_MESSAGE_EDIT {
			return
		}
		ref := platform.MessageRef{
			Channel: channel,
			ID:      platform.MessageID(protocol.GetKey().GetID()),
		}
		c.publish(platform.Event{Message: &platform.MessageEvent{
			Ref:        ref,
			From:       platform.UserID(sender.String()),
			Text:       extractText(protocol.GetEditedMessage()),
			DM:         msg.Info.Chat.Server == types.DefaultUserServer,
			Edited:     true,
			Timestamp:  msg.Info.Timestamp.Unix(),
			AuthorName: msg.Info.PushName,
		}})
		return
	}

	ref := platform.MessageRef{Channel: channel, ID: platform.MessageID(msg.Info.ID)}
	c.rememberSender(ref, sender)

	ev := platform.MessageEvent{
		Ref:        ref,
		From:       platform.UserID(sender.String()),
		Text:       extractText(msg.Message),
		DM:         msg.Info.Chat.Server == types.DefaultUserServer,
		Timestamp:  msg.Info.Timestamp.Unix(),
		AuthorName: msg.Info.PushName,
	}
	if img := msg.Message.GetImageMessage(); img != nil {
		if ev.Text == "" {
			ev.Text = img.GetCaption()
		}
		data, err := c.waClient.Download(context.Background(), img)
		if err != nil {
			slog.Warn("Failed to download WhatsApp image", "error", err, "id", msg.Info.ID)
		} else {
			ev.ImageData = append(ev.ImageData, data)
		}
	}
	c.publish(platform.Event{Message: &ev})
}

func (c *Client) publish(ev platform.Event) {
	select {
	case c.events <- ev:
	default:
		slog.Warn("WhatsApp event buffer full, dropping event")
	}
}

func extractText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if t := m.GetConversation(); t != "" {
		return t
	}
	if ext := m.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := m.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	return ""
}
