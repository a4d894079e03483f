package flow

import (
	"context"
	"fmt"

	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/reaction"
)

// Output is one element of a Say sequence. Implementations: Text, CardOut,
// FileOut, Affordance.
type Output interface {
	isOutput()
}

// Text renders a plain message.
type Text string

// CardOut renders a structured card.
type CardOut struct {
	Card platform.Card
}

// FileOut renders a file attachment.
type FileOut struct {
	Name string
	Data []byte
}

// Affordance attaches an emoji reaction to the most recently rendered
// message of the same Say call. When Reply is set, a click feeds it into the
// machine as a simulated subject reply; otherwise Handlers fire directly.
// Once marks the affordance as part of the card's exclusive group.
type Affordance struct {
	Emoji    string
	Reply    string
	Handlers reaction.Handlers
	Once     bool
}

func (Text) isOutput()       {}
func (CardOut) isOutput()    {}
func (FileOut) isOutput()    {}
func (Affordance) isOutput() {}

// Say renders a sequence of outputs in order into the flow's channel.
// Message-bearing outputs advance the attachment point; affordances bind to
// the message most recently rendered. An affordance with nothing rendered
// before it is an error.
func (f *Flow) Say(ctx context.Context, outputs ...Output) error {
	send := f.deps.Sender
	for _, out := range outputs {
		switch o := out.(type) {
		case Text:
			ref, err := send.SendText(ctx, f.channel, string(o))
			if err != nil {
				return fmt.Errorf("flow %s: sending text: %w", f.name, err)
			}
			f.setLastRef(ref)
		case CardOut:
			ref, err := send.SendCard(ctx, f.channel, o.Card)
			if err != nil {
				return fmt.Errorf("flow %s: sending card: %w", f.name, err)
			}
			f.setLastRef(ref)
		case FileOut:
			ref, err := send.SendFile(ctx, f.channel, o.Name, o.Data)
			if err != nil {
				return fmt.Errorf("flow %s: sending file: %w", f.name, err)
			}
			f.setLastRef(ref)
		case Affordance:
			f.mu.Lock()
			ref := f.lastRef
			f.mu.Unlock()
			if ref.Zero() {
				return fmt.Errorf("flow %s: affordance %s has no message to attach to", f.name, o.Emoji)
			}
			h := o.Handlers
			if o.Reply != "" {
				h = reaction.Handlers{OnClick: f.SimulateReply(o.Reply)}
			}
			if err := f.attach(ctx, ref, o.Emoji, h, o.Once); err != nil {
				return err
			}
		default:
			return fmt.Errorf("flow %s: unknown output %T", f.name, out)
		}
	}
	return nil
}

// reactionHandlersFor wraps a plain action as click handlers.
func reactionHandlersFor(fn func(ctx context.Context) error) reaction.Handlers {
	return reaction.Handlers{
		OnClick: func(ctx context.Context, _ platform.UserID) error { return fn(ctx) },
	}
}

func (f *Flow) setLastRef(ref platform.MessageRef) {
	f.mu.Lock()
	f.lastRef = ref
	f.mu.Unlock()
}
