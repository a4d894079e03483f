// Package report implements the report entity and its lifecycle: creation,
// publication to moderator channels, claiming, unassignment, and resolution.
// A report renders through one routine into any number of mirror cards that
// are updated independently.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modflow/ModFlow/internal/metrics"
	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/reaction"
)

// Claim and lifecycle errors.
var (
	ErrAlreadyClaimed = errors.New("report already claimed")
	ErrResolved       = errors.New("report already resolved")
	ErrModeratorBusy  = errors.New("moderator already reviewing a report")
	ErrNotAssignee    = errors.New("moderator is not the assignee")
	ErrNotPending     = errors.New("report is not under review")
)

// Kind distinguishes classifier-filed reports from user-filed ones.
type Kind string

const (
	KindAutomated Kind = "automated"
	KindUser      Kind = "user"
)

// ClaimEmoji is the reaction seeded on assignable mirrors; clicking it
// claims the report.
const ClaimEmoji = "🙋"

// Deps carries the services a report renders and dispatches through.
type Deps struct {
	Sender    platform.Sender
	Reactions *reaction.Registry
}

// Mirror is one published card of a report. Assignable mirrors carry the
// claim affordance while the report is NEW; self-destructing mirrors are
// deleted on resolution.
type Mirror struct {
	Ref          platform.MessageRef
	Assignable   bool
	SelfDestruct bool
}

// Report is one moderation case. All mutable state is mutex-guarded; the
// lock is never held across platform calls.
type Report struct {
	ID        string
	Kind      Kind
	Category  models.AbuseCategory
	CreatedAt time.Time

	// Immutable case facts.
	Reporter    platform.UserID
	Subject     platform.UserID
	Content     string
	ContentRef  platform.MessageRef
	Attachments [][]byte
	Comment     string
	Urgency     int

	mu       sync.Mutex
	status   models.ReportStatus
	assignee platform.UserID
	hidden   bool
	mirrors  []*Mirror

	deps Deps
	desk *Desk

	// onClaimed runs after a successful claim, once the claim affordances
	// are gone. The desk's owner wires it to open a review flow.
	onClaimed func(ctx context.Context, moderator platform.UserID)
}

// Status returns the current lifecycle status.
func (r *Report) Status() models.ReportStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Assignee returns the claiming moderator, if any.
func (r *Report) Assignee() platform.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assignee
}

// Hidden reports whether the offending content is masked on report cards.
func (r *Report) Hidden() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hidden
}

// OnClaimed sets the hook run after each successful claim.
func (r *Report) OnClaimed(fn func(ctx context.Context, moderator platform.UserID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClaimed = fn
}

// urgencyColors maps urgency scores to card colors, least to most urgent.
var urgencyColors = [5]string{"#95a5a6", "#2ecc71", "#f1c40f", "#e67e22", "#e74c3c"}

// Render produces the report card. Every mirror shows this exact card; there
// is no per-mirror rendering.
func (r *Report) Render() platform.Card {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renderLocked()
}

func (r *Report) renderLocked() platform.Card {
	content := r.Content
	if r.hidden || r.Category == models.CategoryCSAM {
		content = "*(hidden — use the review actions to reveal)*"
	}
	fields := []platform.CardField{
		{Name: "Category", Value: r.Category.Display()},
		{Name: "Urgency", Value: models.UrgencyDisplay(r.Urgency)},
		{Name: "Status", Value: string(r.status)},
	}
	if r.assignee != "" {
		fields = append(fields, platform.CardField{Name: "Assigned to", Value: string(r.assignee)})
	}
	if r.Subject != "" {
		fields = append(fields, platform.CardField{Name: "Author", Value: string(r.Subject)})
	}
	if r.Kind == KindUser && r.Reporter != "" {
		fields = append(fields, platform.CardField{Name: "Reported by", Value: string(r.Reporter)})
	}
	if content != "" {
		fields = append(fields, platform.CardField{Name: "Content", Value: content})
	}
	if r.Comment != "" {
		fields = append(fields, platform.CardField{Name: "Comment", Value: r.Comment})
	}
	title := "Report"
	if r.Kind == KindAutomated {
		title = "Flagged Content"
	}
	return platform.Card{
		Title:  title,
		Color:  urgencyColors[r.Urgency],
		Fields: fields,
		Footer: fmt.Sprintf("%s · filed %s", r.ID, r.CreatedAt.Format(time.RFC822)),
	}
}

// Publish renders the report into a channel and tracks the resulting card as
// a mirror. While the report is NEW, assignable mirrors carry the claim
// affordance.
func (r *Report) Publish(ctx context.Context, channel platform.ChannelID, assignable, selfDestruct bool) error {
	card := r.Render()
	ref, err := r.deps.Sender.SendCard(ctx, channel, card)
	if err != nil {
		return fmt.Errorf("report %s: publishing to %s: %w", r.ID, channel, err)
	}
	m := &Mirror{Ref: ref, Assignable: assignable, SelfDestruct: selfDestruct}
	r.mu.Lock()
	r.mirrors = append(r.mirrors, m)
	claimable := assignable && r.status == models.StatusNew
	r.mu.Unlock()

	if claimable {
		if err := r.seedClaimAffordance(ctx, ref); err != nil {
			return err
		}
	}
	slog.Debug("report published", "report", r.ID, "channel", channel, "assignable", assignable)
	return nil
}

func (r *Report) seedClaimAffordance(ctx context.Context, ref platform.MessageRef) error {
	if err := r.deps.Sender.React(ctx, ref, ClaimEmoji); err != nil {
		if platform.IsGone(err) {
			return nil
		}
		return fmt.Errorf("report %s: seeding claim affordance: %w", r.ID, err)
	}
	r.deps.Reactions.Register(ref, ClaimEmoji, reaction.Handlers{
		OnClick: func(ctx context.Context, user platform.UserID) error {
			return r.handleClaimClick(ctx, user)
		},
	}, false)
	return nil
}

func (r *Report) handleClaimClick(ctx context.Context, moderator platform.UserID) error {
	err := r.Claim(ctx, moderator)
	if err == nil {
		return nil
	}
	slog.Info("claim rejected", "report", r.ID, "moderator", moderator, "reason", err)
	// A lost race is normal operation; tell the moderator and move on.
	switch {
	case errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrResolved):
		r.notifyModerator(ctx, moderator, "That report has already been taken.")
	case errors.Is(err, ErrModeratorBusy):
		r.notifyModerator(ctx, moderator, "Finish your current review before claiming another report.")
	default:
		return err
	}
	return nil
}

func (r *Report) notifyModerator(ctx context.Context, moderator platform.UserID, text string) {
	if r.desk == nil || r.desk.dmChannel == nil {
		return
	}
	if _, err := r.deps.Sender.SendText(ctx, r.desk.dmChannel(moderator), text); err != nil {
		slog.Warn("failed to notify moderator", "report", r.ID, "moderator", moderator, "error", err)
	}
}

// Claim assigns the report to a moderator. It fails with ErrAlreadyClaimed
// or ErrResolved when the report is no longer NEW, and with ErrModeratorBusy
// when the moderator already holds another review. On success the claim
// affordances are stripped from every mirror before anything else happens,
// so no rival claim can land afterwards.
func (r *Report) Claim(ctx context.Context, moderator platform.UserID) error {
	r.mu.Lock()
	switch r.status {
	case models.StatusPending:
		r.mu.Unlock()
		metrics.ClaimRejections.WithLabelValues("taken").Inc()
		return ErrAlreadyClaimed
	case models.StatusResolved:
		r.mu.Unlock()
		metrics.ClaimRejections.WithLabelValues("taken").Inc()
		return ErrResolved
	}
	if r.desk != nil {
		if err := r.desk.acquireReviewer(moderator, r.ID); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	r.status = models.StatusPending
	r.assignee = moderator
	claimable := r.assignableMirrorsLocked()
	hook := r.onClaimed
	r.mu.Unlock()

	slog.Info("report claimed", "report", r.ID, "moderator", moderator)
	r.stripClaimAffordances(ctx, claimable)
	r.persist("claim")
	r.BroadcastUpdate(ctx)
	if hook != nil {
		hook(ctx, moderator)
	}
	return nil
}

func (r *Report) assignableMirrorsLocked() []*Mirror {
	var out []*Mirror
	for _, m := range r.mirrors {
		if m.Assignable {
			out = append(out, m)
		}
	}
	return out
}

func (r *Report) stripClaimAffordances(ctx context.Context, mirrors []*Mirror) {
	for _, m := range mirrors {
		r.deps.Reactions.Deregister(m.Ref, ClaimEmoji)
		if err := r.deps.Sender.RemoveAllReactions(ctx, m.Ref); err != nil && !platform.IsGone(err) {
			slog.Warn("failed to strip claim affordance", "report", r.ID, "message", m.Ref.ID, "error", err)
		}
	}
}

// Unassign returns a PENDING report to NEW: the assignee is cleared and the
// claim affordances reappear on assignable mirrors.
func (r *Report) Unassign(ctx context.Context) error {
	r.mu.Lock()
	if r.status != models.StatusPending {
		r.mu.Unlock()
		return ErrNotPending
	}
	moderator := r.assignee
	r.status = models.StatusNew
	r.assignee = ""
	claimable := r.assignableMirrorsLocked()
	r.mu.Unlock()

	if r.desk != nil {
		r.desk.releaseReviewer(moderator, r.ID)
	}
	slog.Info("report unassigned", "report", r.ID, "moderator", moderator)
	for _, m := range claimable {
		if err := r.seedClaimAffordance(ctx, m.Ref); err != nil {
			slog.Warn("failed to restore claim affordance", "report", r.ID, "message", m.Ref.ID, "error", err)
		}
	}
	r.persist("unassign")
	r.BroadcastUpdate(ctx)
	return nil
}

// Resolve moves the report to its terminal status. The first call deletes
// self-destructing mirrors and strips affordances; repeat calls are no-ops.
func (r *Report) Resolve(ctx context.Context) error {
	r.mu.Lock()
	if r.status == models.StatusResolved {
		r.mu.Unlock()
		return nil
	}
	moderator := r.assignee
	r.status = models.StatusResolved
	mirrors := append([]*Mirror(nil), r.mirrors...)
	var kept []*Mirror
	for _, m := range mirrors {
		if !m.SelfDestruct {
			kept = append(kept, m)
		}
	}
	r.mirrors = kept
	r.mu.Unlock()

	if r.desk != nil && moderator != "" {
		r.desk.releaseReviewer(moderator, r.ID)
	}
	slog.Info("report resolved", "report", r.ID, "moderator", moderator)
	for _, m := range mirrors {
		r.deps.Reactions.DeregisterCard(m.Ref)
		if !m.SelfDestruct {
			continue
		}
		if err := r.deps.Sender.DeleteMessage(ctx, m.Ref); err != nil && !platform.IsGone(err) {
			slog.Warn("failed to delete mirror", "report", r.ID, "message", m.Ref.ID, "error", err)
		}
	}
	r.persist("resolve")
	r.BroadcastUpdate(ctx)
	if r.desk != nil {
		r.desk.reportResolved(ctx, r)
	}
	return nil
}

// SetHidden toggles content masking on the report cards.
func (r *Report) SetHidden(ctx context.Context, hidden bool) {
	r.mu.Lock()
	changed := r.hidden != hidden
	r.hidden = hidden
	r.mu.Unlock()
	if changed {
		r.BroadcastUpdate(ctx)
	}
}

// BroadcastUpdate re-renders every mirror. Each mirror is updated
// independently: one vanished or failing card never blocks the others.
func (r *Report) BroadcastUpdate(ctx context.Context) {
	r.mu.Lock()
	card := r.renderLocked()
	mirrors := append([]*Mirror(nil), r.mirrors...)
	r.mu.Unlock()

	for _, m := range mirrors {
		if err := r.deps.Sender.EditCard(ctx, m.Ref, card); err != nil {
			if platform.IsGone(err) {
				slog.Debug("mirror vanished, skipping update", "report", r.ID, "message", m.Ref.ID)
				continue
			}
			slog.Warn("mirror update failed", "report", r.ID, "message", m.Ref.ID, "error", err)
		}
	}
}

// Mirrors returns a snapshot of the report's mirrors.
func (r *Report) Mirrors() []Mirror {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Mirror, len(r.mirrors))
	for i, m := range r.mirrors {
		out[i] = *m
	}
	return out
}

// persist writes a lifecycle change through to the archive. The full record
// was saved at filing time; lifecycle ops only touch status, assignee, and
// the resolution timestamp.
func (r *Report) persist(op string) {
	if r.desk == nil {
		return
	}
	if err := r.desk.archiveStatus(r); err != nil {
		slog.Error("failed to archive report", "report", r.ID, "op", op, "error", err)
	}
}
