// Package bot routes platform events: reactions go to the affordance
// registry, direct messages to the subject's active conversation flow, and
// channel messages through the content scanner. It owns the per-user flow
// stacks and the message cache the intake link resolver reads from.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modflow/ModFlow/internal/classify"
	"github.com/modflow/ModFlow/internal/flow"
	"github.com/modflow/ModFlow/internal/metrics"
	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/reaction"
	"github.com/modflow/ModFlow/internal/report"
)

// recentLimit bounds the message cache the link resolver reads from.
const recentLimit = 2048

// Banner applies escalating bans and answers ban lookups. Implemented by
// the ban package's Redis store.
type Banner interface {
	Ban(ctx context.Context, user, reason string) (time.Duration, error)
	IsBanned(ctx context.Context, user string) (bool, time.Duration, string, error)
}

// HashStore records confirmed abusive images so re-uploads are removed on
// sight. Implemented by the store backends.
type HashStore interface {
	AddKnownImage(hash string) error
}

// Opts configures a Bot. Sender, Reactions, Desk, and Classifier are
// required; the rest degrade gracefully when nil.
type Opts struct {
	Sender     platform.Sender
	Reactions  *reaction.Registry
	Desk       *report.Desk
	Classifier *classify.Classifier

	// Banner backs the review ban action and the inbound ban check. Nil
	// drops the action from review menus and skips the check.
	Banner Banner

	// Hashes backs the image-confirmation step of CSAM reviews. Nil drops
	// that step from the review menu.
	Hashes HashStore

	// Kick removes a user from a channel. Nil drops the kick action.
	Kick func(ctx context.Context, user platform.UserID, channel platform.ChannelID) error

	// Escalate forwards a case to the competent authority. Nil falls
	// back to logging the case for manual escalation.
	Escalate func(ctx context.Context, r *report.Report) error

	// DMChannel maps a user to their direct-message surface. Nil means
	// the user id doubles as the channel id, which holds on WhatsApp.
	DMChannel func(platform.UserID) platform.ChannelID
}

// Bot is the event router.
type Bot struct {
	sender     platform.Sender
	reactions  *reaction.Registry
	desk       *report.Desk
	classifier *classify.Classifier
	banner     Banner
	hashes     HashStore
	kick       func(ctx context.Context, user platform.UserID, channel platform.ChannelID) error
	escalate   func(ctx context.Context, r *report.Report) error
	dmChannel  func(platform.UserID) platform.ChannelID
	deps       flow.Dependencies

	mu          sync.Mutex
	stacks      map[platform.UserID][]*flow.Flow
	editFlows   map[platform.MessageRef]*flow.EditedMessageFlow
	recent      map[platform.MessageRef]platform.MessageEvent
	recentOrder []platform.MessageRef
	aliases     map[platform.MessageRef]platform.MessageRef
}

// New creates a bot and hooks it into the desk's claim notifications.
func New(opts Opts) *Bot {
	dm := opts.DMChannel
	if dm == nil {
		dm = func(u platform.UserID) platform.ChannelID { return platform.ChannelID(u) }
	}
	b := &Bot{
		sender:     opts.Sender,
		reactions:  opts.Reactions,
		desk:       opts.Desk,
		classifier: opts.Classifier,
		banner:     opts.Banner,
		hashes:     opts.Hashes,
		kick:       opts.Kick,
		escalate:   opts.Escalate,
		dmChannel:  dm,
		deps:       flow.Dependencies{Sender: opts.Sender, Reactions: opts.Reactions},
		stacks:     make(map[platform.UserID][]*flow.Flow),
		editFlows:  make(map[platform.MessageRef]*flow.EditedMessageFlow),
		recent:     make(map[platform.MessageRef]platform.MessageEvent),
		aliases:    make(map[platform.MessageRef]platform.MessageRef),
	}
	if b.desk != nil {
		b.desk.OnClaimed(b.openReview)
	}
	return b
}

// Run consumes the event stream until the context ends or the stream
// closes.
func (b *Bot) Run(ctx context.Context, events <-chan platform.Event) error {
	slog.Info("bot event loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				slog.Info("bot event stream closed")
				return nil
			}
			b.Dispatch(ctx, ev)
		}
	}
}

// Dispatch routes one event.
func (b *Bot) Dispatch(ctx context.Context, ev platform.Event) {
	switch {
	case ev.Reaction != nil:
		b.reactions.Dispatch(ctx, *ev.Reaction)
	case ev.Message != nil:
		b.handleMessage(ctx, *ev.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, ev platform.MessageEvent) {
	switch {
	case ev.Edited:
		b.handleEdit(ctx, ev)
	case ev.DM:
		b.handleDM(ctx, ev)
	default:
		b.scanMessage(ctx, ev)
	}
}

// handleDM delivers a direct message to the subject's active flow, or
// starts report intake on the start keyword.
func (b *Bot) handleDM(ctx context.Context, ev platform.MessageEvent) {
	if active := b.activeFlow(ev.From); active != nil {
		handled, err := active.HandleMessage(ctx, ev.Text)
		if err != nil {
			// Logic faults fail loud: the error text goes back to the
			// channel that triggered the handler, then to the operator log.
			if _, sendErr := b.sender.SendText(ctx, b.dmChannel(ev.From), fmt.Sprintf("Something went wrong: %v", err)); sendErr != nil {
				slog.Warn("failed to surface handler error", "subject", ev.From, "error", sendErr)
			}
			slog.Error("flow message handling failed", "flow", active.Name(), "subject", ev.From, "error", err)
		}
		if handled {
			return
		}
	}
	if models.MatchesKeyword(ev.Text, models.StartKeywords) {
		if err := b.OpenIntake(ctx, ev.From, nil); err != nil {
			slog.Error("failed to open report intake", "subject", ev.From, "error", err)
		}
		return
	}
	hint := "Hi! I'm the moderation assistant. Reply `report` to report a message that breaks the rules."
	if _, err := b.sender.SendText(ctx, b.dmChannel(ev.From), hint); err != nil {
		slog.Warn("failed to send DM hint", "subject", ev.From, "error", err)
	}
}

// OpenIntake starts a report intake conversation in the reporter's DMs.
// A non-nil target pre-fills the reported message.
func (b *Bot) OpenIntake(ctx context.Context, reporter platform.UserID, target *platform.MessageEvent) error {
	inf := flow.NewIntake(flow.IntakeOpts{
		Reporter:       reporter,
		DMChannel:      b.dmChannel(reporter),
		Desk:           b.desk,
		Deps:           b.deps,
		ResolveMessage: b.resolveMessage,
		Target:         target,
	})
	b.pushFlow(inf.Flow)
	return inf.Start(ctx)
}

// activeFlow returns the most recently opened flow of a subject that is
// still running, pruning closed ones.
func (b *Bot) activeFlow(subject platform.UserID) *flow.Flow {
	b.mu.Lock()
	defer b.mu.Unlock()
	stack := b.stacks[subject]
	for i := len(stack) - 1; i >= 0; i-- {
		if !stack[i].Closed() {
			b.stacks[subject] = stack[:i+1]
			return stack[i]
		}
	}
	delete(b.stacks, subject)
	return nil
}

func (b *Bot) pushFlow(f *flow.Flow) {
	b.mu.Lock()
	b.stacks[f.Subject()] = append(b.stacks[f.Subject()], f)
	b.mu.Unlock()
	metrics.ActiveFlows.WithLabelValues(f.Name()).Inc()
	f.OnClose(func(ctx context.Context) {
		metrics.ActiveFlows.WithLabelValues(f.Name()).Dec()
		b.removeFlow(f)
	})
	slog.Debug("flow opened", "flow", f.Name(), "subject", f.Subject())
}

func (b *Bot) removeFlow(f *flow.Flow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stack := b.stacks[f.Subject()]
	for i, other := range stack {
		if other == f {
			b.stacks[f.Subject()] = append(stack[:i], stack[i+1:]...)
			break
		}
	}
	if len(b.stacks[f.Subject()]) == 0 {
		delete(b.stacks, f.Subject())
	}
}

// remember stores a channel message for later link resolution and alias
// lookups. The cache is bounded; the oldest entries fall out first.
func (b *Bot) remember(ev platform.MessageEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, seen := b.recent[ev.Ref]; !seen {
		b.recentOrder = append(b.recentOrder, ev.Ref)
	}
	b.recent[ev.Ref] = ev
	for len(b.recentOrder) > recentLimit {
		oldest := b.recentOrder[0]
		b.recentOrder = b.recentOrder[1:]
		delete(b.recent, oldest)
		delete(b.aliases, oldest)
	}
}

// addAlias records that ref is a repost of original, so reports against the
// repost resolve to the original author's message.
func (b *Bot) addAlias(ref, original platform.MessageRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aliases[ref] = original
}

// resolveMessage turns a pasted message link into the message it addresses,
// following resend aliases. Accepted forms are `channel/message-id` and a
// bare message id.
func (b *Bot) resolveMessage(ctx context.Context, link string) (platform.MessageEvent, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return platform.MessageEvent{}, fmt.Errorf("empty message link")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var ref platform.MessageRef
	if i := strings.LastIndex(link, "/"); i >= 0 {
		ref = platform.MessageRef{
			Channel: platform.ChannelID(link[:i]),
			ID:      platform.MessageID(link[i+1:]),
		}
	} else {
		for _, candidate := range b.recentOrder {
			if string(candidate.ID) == link {
				ref = candidate
				break
			}
		}
		if ref.Zero() {
			return platform.MessageEvent{}, fmt.Errorf("no recent message with id %q", link)
		}
	}
	if original, ok := b.aliases[ref]; ok {
		ref = original
	}
	ev, ok := b.recent[ref]
	if !ok {
		return platform.MessageEvent{}, fmt.Errorf("message %s not found in the recent history", ref.ID)
	}
	return ev, nil
}
