package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modflow/ModFlow/internal/classify"
	"github.com/modflow/ModFlow/internal/flow"
	"github.com/modflow/ModFlow/internal/metrics"
	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/reaction"
	"github.com/modflow/ModFlow/internal/report"
)

// SOSEmoji is the support marker seeded on borderline messages and on every
// attachment. Clicking it opens the outreach conversation for the clicker.
const SOSEmoji = "🆘"

// scanMessage checks a channel message against the classifier. Images are
// scanned before text: an image hit decides the message's fate on its own.
func (b *Bot) scanMessage(ctx context.Context, ev platform.MessageEvent) {
	if b.dropIfBanned(ctx, ev) {
		return
	}
	b.remember(ev)

	for _, data := range ev.ImageData {
		verdict, err := b.classifier.CheckImage(ctx, data)
		if err != nil {
			slog.Error("image classification failed", "message", ev.Ref.ID, "error", err)
			continue
		}
		if verdict.KnownImage {
			b.handleKnownImage(ctx, ev, verdict)
			return
		}
		if verdict.Flagged {
			b.withhold(ctx, ev, verdict)
			return
		}
	}

	// Attachments that pass the scan still get the support marker; a scanner
	// cannot tell what a picture means to the person who posted it.
	marked := false
	if len(ev.ImageData) > 0 || len(ev.ImageURLs) > 0 {
		b.markSOS(ctx, ev)
		marked = true
	}

	if ev.Text == "" {
		return
	}
	verdict, err := b.classifier.CheckText(ctx, ev.Text)
	if err != nil {
		slog.Error("text classification failed", "message", ev.Ref.ID, "error", err)
		return
	}
	switch {
	case verdict.Flagged:
		b.withhold(ctx, ev, verdict)
	case verdict.SOS && !marked:
		b.markSOS(ctx, ev)
	}
}

// dropIfBanned removes channel messages from users with an active ban. The
// platform cannot stop a banned user from typing, so the bot enforces the
// ban by revoking whatever they post. Ban-store errors fail open.
func (b *Bot) dropIfBanned(ctx context.Context, ev platform.MessageEvent) bool {
	if b.banner == nil {
		return false
	}
	banned, remaining, _, err := b.banner.IsBanned(ctx, string(ev.From))
	if err != nil {
		slog.Warn("ban check failed", "user", ev.From, "error", err)
		return false
	}
	if !banned {
		return false
	}
	slog.Info("message from banned user removed", "message", ev.Ref.ID, "author", ev.From, "remaining", remaining)
	if err := b.sender.DeleteMessage(ctx, ev.Ref); err != nil && !platform.IsGone(err) {
		slog.Error("failed to remove banned user's message", "message", ev.Ref.ID, "error", err)
	}
	notice := fmt.Sprintf("You're banned from posting for another %s. Your message was removed.", remaining.Round(time.Minute))
	if _, err := b.sender.SendText(ctx, b.dmChannel(ev.From), notice); err != nil {
		slog.Warn("failed to notify banned user", "user", ev.From, "error", err)
	}
	return true
}

// withhold pulls a flagged message out of its channel and asks the author,
// in their DMs, whether they really want to send it. The report is filed
// whichever way they answer.
func (b *Bot) withhold(ctx context.Context, ev platform.MessageEvent, verdict classify.Verdict) {
	slog.Info("message withheld", "message", ev.Ref.ID, "author", ev.From, "category", verdict.Category)
	metrics.ContentFlagged.WithLabelValues(string(verdict.Category)).Inc()
	if err := b.sender.DeleteMessage(ctx, ev.Ref); err != nil && !platform.IsGone(err) {
		slog.Error("failed to withhold message", "message", ev.Ref.ID, "error", err)
	}
	cf := flow.NewConfirmSend(flow.ConfirmSendOpts{
		Subject:   ev.From,
		DMChannel: b.dmChannel(ev.From),
		Original:  ev,
		Verdict:   verdict,
		Desk:      b.desk,
		Deps:      b.deps,
		Resend: func(ctx context.Context, spoilered bool) error {
			return b.resend(ctx, ev, spoilered)
		},
		AlwaysReport: true,
	})
	b.pushFlow(cf.Flow)
	if err := cf.Start(ctx); err != nil {
		slog.Error("failed to start confirmation flow", "subject", ev.From, "error", err)
	}
}

// handleKnownImage handles a hash-list match: the message is removed and
// reported immediately, while the author sees only the ordinary
// confirmation conversation. The decoy never resends and files nothing on
// its own.
func (b *Bot) handleKnownImage(ctx context.Context, ev platform.MessageEvent, verdict classify.Verdict) {
	slog.Info("known image detected", "message", ev.Ref.ID, "author", ev.From)
	metrics.ContentFlagged.WithLabelValues(string(verdict.Category)).Inc()
	if err := b.sender.DeleteMessage(ctx, ev.Ref); err != nil && !platform.IsGone(err) {
		slog.Error("failed to remove known image", "message", ev.Ref.ID, "error", err)
	}
	if _, err := b.desk.File(ctx, report.Intake{
		Kind:        report.KindAutomated,
		Category:    models.CategoryCSAM,
		Subject:     ev.From,
		Content:     describeContent(ev),
		ContentRef:  ev.Ref,
		Attachments: ev.ImageData,
		Urgent:      true,
	}); err != nil {
		slog.Error("failed to file known-image report", "message", ev.Ref.ID, "error", err)
	}
	df := flow.NewDecoyWarning(flow.ConfirmSendOpts{
		Subject:   ev.From,
		DMChannel: b.dmChannel(ev.From),
		Original:  ev,
		Verdict:   verdict,
		Desk:      b.desk,
		Deps:      b.deps,
	})
	b.pushFlow(df.Flow)
	if err := df.Start(ctx); err != nil {
		slog.Error("failed to start decoy flow", "subject", ev.From, "error", err)
	}
}

// markSOS seeds the support marker on a borderline message. Nobody is
// messaged outright: whoever clicks the marker gets the outreach in their
// own DMs, and their click is withdrawn so the marker stays usable.
func (b *Bot) markSOS(ctx context.Context, ev platform.MessageEvent) {
	if err := b.sender.React(ctx, ev.Ref, SOSEmoji); err != nil {
		if !platform.IsGone(err) {
			slog.Warn("failed to seed support marker", "message", ev.Ref.ID, "error", err)
		}
		return
	}
	slog.Debug("support marker seeded", "message", ev.Ref.ID, "author", ev.From)
	b.reactions.Register(ev.Ref, SOSEmoji, reaction.Handlers{
		OnClick: func(ctx context.Context, user platform.UserID) error {
			if err := b.sender.RemoveReaction(ctx, ev.Ref, SOSEmoji, user); err != nil && !platform.IsGone(err) {
				slog.Warn("failed to withdraw support click", "message", ev.Ref.ID, "user", user, "error", err)
			}
			return b.openSOS(ctx, user, ev)
		},
	}, false)
}

// openSOS starts the outreach conversation for whoever clicked the support
// marker, showing the marked message, crisis resources, and a reporting
// shortcut prefilled with that message.
func (b *Bot) openSOS(ctx context.Context, subject platform.UserID, ev platform.MessageEvent) error {
	sf := flow.NewSOS(flow.SOSOpts{
		Subject:   subject,
		DMChannel: b.dmChannel(subject),
		Original:  ev,
		Deps:      b.deps,
		OpenIntake: func(ctx context.Context) error {
			return b.OpenIntake(ctx, subject, &ev)
		},
	})
	b.pushFlow(sf.Flow)
	if err := sf.Start(ctx); err != nil {
		return fmt.Errorf("starting outreach for %s: %w", subject, err)
	}
	return nil
}

// handleEdit routes an edit either into the flagged-edit flow already
// watching the message or through a fresh rescore.
func (b *Bot) handleEdit(ctx context.Context, ev platform.MessageEvent) {
	b.mu.Lock()
	ef := b.editFlows[ev.Ref]
	if cached, ok := b.recent[ev.Ref]; ok {
		cached.Text = ev.Text
		b.recent[ev.Ref] = cached
	}
	b.mu.Unlock()

	if ef != nil {
		if err := ef.HandleEdit(ctx, ev.Text); err != nil {
			slog.Error("flagged-edit handling failed", "message", ev.Ref.ID, "error", err)
		}
		return
	}
	if ev.DM || ev.Text == "" {
		return
	}

	verdict, err := b.classifier.CheckText(ctx, ev.Text)
	if err != nil {
		slog.Error("edit classification failed", "message", ev.Ref.ID, "error", err)
		return
	}
	if !verdict.Flagged {
		return
	}

	slog.Info("edit flagged", "message", ev.Ref.ID, "author", ev.From, "category", verdict.Category)
	edited := flow.NewEditedMessage(flow.EditedMessageOpts{
		Subject:   ev.From,
		DMChannel: b.dmChannel(ev.From),
		Original:  ev,
		Verdict:   verdict,
		Desk:      b.desk,
		Deps:      b.deps,
		Rescore: func(ctx context.Context, text string) (classify.Verdict, error) {
			return b.classifier.CheckText(ctx, text)
		},
		DeleteOriginal: func(ctx context.Context) error {
			if err := b.sender.DeleteMessage(ctx, ev.Ref); err != nil && !platform.IsGone(err) {
				return err
			}
			return nil
		},
		ResendSpoilered: func(ctx context.Context) error {
			return b.resend(ctx, ev, true)
		},
	})
	b.mu.Lock()
	b.editFlows[ev.Ref] = edited
	b.mu.Unlock()
	edited.OnClose(func(context.Context) {
		b.mu.Lock()
		delete(b.editFlows, ev.Ref)
		b.mu.Unlock()
	})
	b.pushFlow(edited.Flow)
	if err := edited.Start(ctx); err != nil {
		slog.Error("failed to start flagged-edit flow", "subject", ev.From, "error", err)
	}
}

// resend reposts a withheld message to its original channel on the author's
// behalf, optionally behind a content warning, and records the alias pair.
func (b *Bot) resend(ctx context.Context, original platform.MessageEvent, spoilered bool) error {
	author := original.AuthorName
	if author == "" {
		author = string(original.From)
	}
	text := original.Text
	if spoilered {
		text = fmt.Sprintf("⚠️ Content warning — shared by %s:\n> %s", author, text)
	} else {
		text = fmt.Sprintf("%s said:\n> %s", author, text)
	}
	ref, err := b.sender.SendText(ctx, original.Ref.Channel, text)
	if err != nil {
		return fmt.Errorf("reposting message for %s: %w", original.From, err)
	}
	b.addAlias(ref, original.Ref)
	return nil
}

// openReview runs on every successful claim: the assigned moderator gets a
// review conversation in their DMs, wired to the actions the deployment
// supports.
func (b *Bot) openReview(ctx context.Context, r *report.Report, moderator platform.UserID) {
	rf := flow.NewReview(flow.ReviewOpts{
		Reviewer: moderator,
		Channel:  b.dmChannel(moderator),
		Report:   r,
		Actions:  b.reviewActions(r, moderator),
		Deps:     b.deps,
	})
	b.pushFlow(rf.Flow)
	if err := rf.Start(ctx); err != nil {
		slog.Error("failed to start review flow", "report", r.ID, "reviewer", moderator, "error", err)
	}
}

func (b *Bot) reviewActions(r *report.Report, moderator platform.UserID) flow.ReviewActions {
	actions := flow.ReviewActions{
		NotifyActor: func(ctx context.Context, text string) error {
			_, err := b.sender.SendText(ctx, b.dmChannel(r.Subject), text)
			return err
		},
	}
	if !r.ContentRef.Zero() {
		actions.DeleteContent = func(ctx context.Context) error {
			if err := b.sender.DeleteMessage(ctx, r.ContentRef); err != nil && !platform.IsGone(err) {
				return err
			}
			return nil
		}
	}
	if b.kick != nil && r.Subject != "" {
		actions.KickActor = func(ctx context.Context) error {
			return b.kick(ctx, r.Subject, r.ContentRef.Channel)
		}
	}
	if b.banner != nil && r.Subject != "" {
		actions.BanActor = func(ctx context.Context, reason string) (time.Duration, error) {
			return b.banner.Ban(ctx, string(r.Subject), reason)
		}
	}
	if len(r.Attachments) > 0 && b.hashes != nil {
		actions.ShowImage = func(ctx context.Context) error {
			for i, img := range r.Attachments {
				softened, err := softenImage(img)
				if err != nil {
					return fmt.Errorf("softening attachment %d: %w", i+1, err)
				}
				name := fmt.Sprintf("evidence-%d.png", i+1)
				if _, err := b.sender.SendFile(ctx, b.dmChannel(moderator), name, softened); err != nil {
					return err
				}
			}
			return nil
		}
		actions.ConfirmImage = func(ctx context.Context) error {
			for _, img := range r.Attachments {
				if err := b.hashes.AddKnownImage(report.HashImage(img)); err != nil {
					return err
				}
			}
			return nil
		}
		actions.ReclassifyAdult = func(ctx context.Context, comment string) error {
			_, err := b.desk.File(ctx, report.Intake{
				Kind:        report.KindUser,
				Category:    models.CategorySexual,
				Reporter:    moderator,
				Subject:     r.Subject,
				Content:     r.Content,
				ContentRef:  r.ContentRef,
				Attachments: r.Attachments,
				Comment:     comment,
			})
			return err
		}
	}
	if r.Kind == report.KindUser && r.Reporter != "" {
		actions.NotifyVictim = func(ctx context.Context, text string) error {
			_, err := b.sender.SendText(ctx, b.dmChannel(r.Reporter), text)
			return err
		}
	}
	actions.Escalate = func(ctx context.Context) error {
		if b.escalate != nil {
			return b.escalate(ctx, r)
		}
		// No escalation transport configured; leave a durable trace for
		// the operators to act on.
		slog.Warn("escalation requested but no transport is configured", "report", r.ID, "category", r.Category)
		return nil
	}
	return actions
}

func describeContent(ev platform.MessageEvent) string {
	if ev.Text != "" {
		return ev.Text
	}
	if len(ev.ImageData) > 0 {
		return fmt.Sprintf("[image attachment, %d bytes]", len(ev.ImageData[0]))
	}
	return "[no content captured]"
}
