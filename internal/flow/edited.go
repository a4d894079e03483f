package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modflow/ModFlow/internal/classify"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/report"
)

const (
	stateEditWait StateTag = "AWAITING_EDIT"

	// EditGracePeriod is how long the author has to fix a flagged edit
	// before the message is removed.
	EditGracePeriod = 10 * time.Minute
)

// EditedMessageOpts configures a flagged-edit flow.
type EditedMessageOpts struct {
	Subject   platform.UserID
	DMChannel platform.ChannelID
	Original  platform.MessageEvent
	Verdict   classify.Verdict
	Desk      *report.Desk
	Deps      Dependencies

	// Rescore re-evaluates replacement text when the author edits again.
	Rescore func(ctx context.Context, text string) (classify.Verdict, error)

	// DeleteOriginal removes the offending message from its channel.
	DeleteOriginal func(ctx context.Context) error

	// ResendSpoilered reposts the message behind a spoiler mask.
	ResendSpoilered func(ctx context.Context) error
}

// EditedMessageFlow handles a message whose edit was flagged: the author
// gets a grace period, shown as a live countdown card, to fix the edit.
// Fixing it ends the flow; running out of time removes the message.
type EditedMessageFlow struct {
	*Flow
	opts         EditedMessageOpts
	countdownRef platform.MessageRef
	watchdog     *Watchdog
}

// NewEditedMessage builds a flagged-edit flow.
func NewEditedMessage(opts EditedMessageOpts) *EditedMessageFlow {
	ef := &EditedMessageFlow{opts: opts}
	states := map[StateTag]State{
		stateEditWait: {
			Introduce: ef.introduce,
			OnMessage: ef.onMessage,
			Help:      "Edit your message so it no longer breaks the rules, or reply `resend` to repost it behind a spoiler. When the timer runs out the message is removed.",
		},
	}
	ef.Flow = New("edited_message", opts.Subject, opts.DMChannel, states, opts.Deps)
	return ef
}

// Start enters the waiting state and launches the countdown.
func (ef *EditedMessageFlow) Start(ctx context.Context) error {
	if err := ef.TransitionTo(ctx, stateEditWait, true); err != nil {
		return err
	}
	ef.watchdog = ef.StartWatchdog(ctx, EditGracePeriod, time.Second, ef.renderCountdown, ef.expire)
	return nil
}

func (ef *EditedMessageFlow) introduce(ctx context.Context) error {
	err := ef.Say(ctx,
		Text(fmt.Sprintf("Your edit was flagged as %s. You have %d minutes to change it back or fix it; after that the message will be removed.",
			ef.opts.Verdict.Category.Display(), int(EditGracePeriod.Minutes()))),
		CardOut{Card: countdownCard(EditGracePeriod, EditGracePeriod)},
	)
	if err != nil {
		return err
	}
	ef.countdownRef = ef.LastRef()
	return nil
}

// countdownCard renders the timer, colored by the remaining fraction.
func countdownCard(remaining, total time.Duration) platform.Card {
	frac := float64(remaining) / float64(total)
	color := "#e74c3c"
	switch {
	case frac > 0.5:
		color = "#2ecc71"
	case frac > 0.2:
		color = "#f1c40f"
	case frac > 0.075:
		color = "#e67e22"
	}
	if remaining < 0 {
		remaining = 0
	}
	mins := int(remaining.Minutes())
	secs := int(remaining.Seconds()) % 60
	return platform.Card{
		Title: "Time remaining",
		Body:  fmt.Sprintf("%02d:%02d", mins, secs),
		Color: color,
	}
}

func (ef *EditedMessageFlow) renderCountdown(ctx context.Context, remaining time.Duration) error {
	return ef.deps.Sender.EditCard(ctx, ef.countdownRef, countdownCard(remaining, EditGracePeriod))
}

func (ef *EditedMessageFlow) onMessage(ctx context.Context, text string) error {
	if strings.EqualFold(strings.TrimSpace(text), "resend") {
		return ef.resend(ctx)
	}
	return ef.Say(ctx, Text("Edit the original message to fix it, or reply `resend` to repost it behind a spoiler."))
}

func (ef *EditedMessageFlow) resend(ctx context.Context) error {
	defer ef.Close(ctx)
	if ef.opts.DeleteOriginal != nil {
		if err := ef.opts.DeleteOriginal(ctx); err != nil && !platform.IsGone(err) {
			return fmt.Errorf("removing edited message: %w", err)
		}
	}
	if ef.opts.ResendSpoilered != nil {
		if err := ef.opts.ResendSpoilered(ctx); err != nil {
			return fmt.Errorf("reposting spoilered message: %w", err)
		}
	}
	if err := ef.fileReport(ctx); err != nil {
		return err
	}
	return ef.Say(ctx, Text("Your message was reposted behind a spoiler."))
}

// HandleEdit feeds a new edit of the same message into the flow. An
// acceptable edit ends the flow and cancels the countdown; an unacceptable
// one restarts the clock on the old verdict's category or the new, worse
// one.
func (ef *EditedMessageFlow) HandleEdit(ctx context.Context, text string) error {
	if ef.Closed() {
		return nil
	}
	verdict, err := ef.opts.Rescore(ctx, text)
	if err != nil {
		return fmt.Errorf("rescoring edit: %w", err)
	}
	if verdict.Flagged {
		ef.opts.Verdict = verdict
		return ef.Say(ctx, Text(fmt.Sprintf("That edit still looks like %s — the timer is still running.", verdict.Category.Display())))
	}

	ef.Close(ctx)
	return ef.Say(ctx, Text("Thanks — your edit looks fine now."))
}

func (ef *EditedMessageFlow) expire(ctx context.Context) {
	if ef.opts.DeleteOriginal != nil {
		if err := ef.opts.DeleteOriginal(ctx); err != nil && !platform.IsGone(err) {
			slog.Error("failed to remove expired message", "subject", ef.Subject(), "error", err)
		}
	}
	if err := ef.fileReport(ctx); err != nil {
		slog.Error("failed to file expiry report", "subject", ef.Subject(), "error", err)
	}
	if err := ef.Say(ctx, Text("Time ran out — your message was removed.")); err != nil {
		slog.Warn("expiry notice failed", "subject", ef.Subject(), "error", err)
	}
	ef.Close(ctx)
}

func (ef *EditedMessageFlow) fileReport(ctx context.Context) error {
	if ef.opts.Desk == nil {
		return nil
	}
	_, err := ef.opts.Desk.File(ctx, report.Intake{
		Kind:       report.KindAutomated,
		Category:   ef.opts.Verdict.Category,
		Subject:    ef.opts.Subject,
		Content:    ef.opts.Original.Text,
		ContentRef: ef.opts.Original.Ref,
	})
	if err != nil {
		return fmt.Errorf("filing edit report: %w", err)
	}
	return nil
}
