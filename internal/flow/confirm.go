package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modflow/ModFlow/internal/classify"
	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/report"
)

const stateConfirmSend StateTag = "CONFIRM_SEND"

// ConfirmTimeout is how long the author has to answer before the flagged
// message is discarded.
const ConfirmTimeout = 5 * time.Minute

// ConfirmSendOpts configures a flagged-send confirmation flow.
type ConfirmSendOpts struct {
	Subject   platform.UserID
	DMChannel platform.ChannelID
	Original  platform.MessageEvent
	Verdict   classify.Verdict
	Desk      *report.Desk
	Deps      Dependencies

	// Resend reposts the withheld message to its original channel,
	// spoilered when the content is explicit.
	Resend func(ctx context.Context, spoilered bool) error

	// AlwaysReport files a report even when the author abandons the
	// message.
	AlwaysReport bool

	// decoy suppresses both the resend and the report: the flow only
	// keeps up appearances while the real report is filed elsewhere.
	decoy bool
}

// ConfirmSendFlow holds a flagged message and asks its author whether they
// really want to send it. Identified abuse is reported whichever way the
// author answers, per AlwaysReport; the decoy variant reports nothing.
type ConfirmSendFlow struct {
	*Flow
	opts ConfirmSendOpts
}

// NewConfirmSend builds a confirmation flow for a withheld message.
func NewConfirmSend(opts ConfirmSendOpts) *ConfirmSendFlow {
	cf := &ConfirmSendFlow{opts: opts}
	states := map[StateTag]State{
		stateConfirmSend: {
			Introduce: cf.introduce,
			OnMessage: cf.onAnswer,
			Help:      "Reply `yes` to send your message anyway, or `no` to discard it. If you do nothing it will be discarded in a few minutes.",
		},
	}
	cf.Flow = New("confirm_send", opts.Subject, opts.DMChannel, states, opts.Deps)
	return cf
}

// NewDecoyWarning builds the decoy variant shown for known abusive images:
// it looks identical to the ordinary confirmation but never resends and
// never files its own report.
func NewDecoyWarning(opts ConfirmSendOpts) *ConfirmSendFlow {
	opts.decoy = true
	opts.AlwaysReport = false
	cf := NewConfirmSend(opts)
	cf.Flow.name = "decoy_warning"
	return cf
}

// Start enters the confirmation state and arms the timeout.
func (cf *ConfirmSendFlow) Start(ctx context.Context) error {
	if err := cf.TransitionTo(ctx, stateConfirmSend, true); err != nil {
		return err
	}
	cf.StartWatchdog(ctx, ConfirmTimeout, time.Second, nil, cf.expire)
	return nil
}

func (cf *ConfirmSendFlow) introduce(ctx context.Context) error {
	preview := cf.opts.Original.Text
	if preview == "" {
		preview = "(attachment)"
	}
	return cf.Say(ctx,
		Text(fmt.Sprintf("Your message was held back because it looks like %s:", cf.opts.Verdict.Category.Display())),
		CardOut{Card: platform.Card{Body: preview, Color: "#e67e22"}},
		Text("Do you still want to send it?"),
		Affordance{Emoji: "👍", Reply: "yes", Once: true},
		Affordance{Emoji: "👎", Reply: "no", Once: true},
	)
}

func (cf *ConfirmSendFlow) onAnswer(ctx context.Context, text string) error {
	switch {
	case models.MatchesKeyword(text, models.YesKeywords):
		return cf.finish(ctx, true)
	case models.MatchesKeyword(text, models.NoKeywords):
		return cf.finish(ctx, false)
	default:
		return cf.Say(ctx, Text("Please answer `yes` or `no`."))
	}
}

func (cf *ConfirmSendFlow) expire(ctx context.Context) {
	if err := cf.Say(ctx, Text("No answer in time — your message was discarded.")); err != nil {
		slog.Warn("confirm timeout notice failed", "subject", cf.Subject(), "error", err)
	}
	if err := cf.finish(ctx, false); err != nil {
		slog.Error("confirm timeout teardown failed", "subject", cf.Subject(), "error", err)
	}
}

func (cf *ConfirmSendFlow) finish(ctx context.Context, send bool) error {
	defer cf.Close(ctx)

	if send && !cf.opts.decoy && cf.opts.Resend != nil {
		if err := cf.opts.Resend(ctx, cf.opts.Verdict.Explicit); err != nil {
			return fmt.Errorf("resending withheld message: %w", err)
		}
	}
	notice := "Okay, your message was discarded."
	if send {
		// The decoy claims success too; nothing was actually reposted.
		notice = "Okay, your message was sent."
	}
	if err := cf.Say(ctx, Text(notice)); err != nil {
		return err
	}

	if cf.opts.decoy {
		return nil
	}
	if send || cf.opts.AlwaysReport {
		_, err := cf.opts.Desk.File(ctx, report.Intake{
			Kind:        report.KindAutomated,
			Category:    cf.opts.Verdict.Category,
			Subject:     cf.opts.Subject,
			Content:     cf.opts.Original.Text,
			ContentRef:  cf.opts.Original.Ref,
			Attachments: cf.opts.Original.ImageData,
		})
		if err != nil {
			return fmt.Errorf("filing confirmation report: %w", err)
		}
	}
	return nil
}
