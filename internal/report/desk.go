package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modflow/ModFlow/internal/metrics"
	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/store"
)

// Notifier pages a human when a report needs attention faster than the
// moderator channels provide. Implemented by the notify package.
type Notifier interface {
	PageUrgent(ctx context.Context, id string, category models.AbuseCategory, urgency int) error
}

// PageUrgencyThreshold is the minimum urgency that triggers a page.
const PageUrgencyThreshold = 4

// Desk owns the live set of reports: it files them, publishes them to the
// moderator channels, enforces one-review-per-moderator, and archives every
// lifecycle change.
type Desk struct {
	deps         Deps
	archiveStore store.Store
	notifier     Notifier
	dmChannel    func(platform.UserID) platform.ChannelID

	mu          sync.Mutex
	reports     map[string]*Report
	reviewing   map[platform.UserID]string
	modChannels []platform.ChannelID
	onClaimed   func(ctx context.Context, r *Report, moderator platform.UserID)
}

// DeskOpts configures a Desk.
type DeskOpts struct {
	Deps        Deps
	Store       store.Store
	Notifier    Notifier
	ModChannels []platform.ChannelID
	// DMChannel maps a user to their direct-message surface.
	DMChannel func(platform.UserID) platform.ChannelID
}

// NewDesk creates a desk. Store and Notifier may be nil; the desk then skips
// archiving and paging.
func NewDesk(opts DeskOpts) *Desk {
	return &Desk{
		deps:         opts.Deps,
		archiveStore: opts.Store,
		notifier:     opts.Notifier,
		dmChannel:    opts.DMChannel,
		reports:      make(map[string]*Report),
		reviewing:    make(map[platform.UserID]string),
		modChannels:  opts.ModChannels,
	}
}

// Intake is the material a new report is filed from.
type Intake struct {
	Kind             Kind
	Category         models.AbuseCategory
	Reporter         platform.UserID
	Subject          platform.UserID
	Content          string
	ContentRef       platform.MessageRef
	Attachments      [][]byte
	Comment          string
	VictimIsReporter bool
	Urgent           bool
}

// File creates a report from intake material, archives it, and publishes an
// assignable, self-destructing mirror to every moderator channel. Reports at
// or above the paging threshold additionally page the on-call moderator.
func (d *Desk) File(ctx context.Context, in Intake) (*Report, error) {
	r := &Report{
		ID:          uuid.NewString(),
		Kind:        in.Kind,
		Category:    in.Category,
		CreatedAt:   time.Now().UTC(),
		Reporter:    in.Reporter,
		Subject:     in.Subject,
		Content:     in.Content,
		ContentRef:  in.ContentRef,
		Attachments: in.Attachments,
		Comment:     in.Comment,
		Urgency:     models.Urgency(in.Category, in.VictimIsReporter, in.Urgent),
		status:      models.StatusNew,
		deps:        d.deps,
		desk:        d,
	}

	d.mu.Lock()
	if hook := d.onClaimed; hook != nil {
		r.onClaimed = func(ctx context.Context, moderator platform.UserID) {
			hook(ctx, r, moderator)
		}
	}
	d.reports[r.ID] = r
	channels := append([]platform.ChannelID(nil), d.modChannels...)
	d.mu.Unlock()

	metrics.ReportsCreated.WithLabelValues(string(r.Kind)).Inc()
	slog.Info("report filed", "report", r.ID, "kind", r.Kind, "category", r.Category, "urgency", r.Urgency)

	if err := d.archive(r); err != nil {
		slog.Error("failed to archive new report", "report", r.ID, "error", err)
	}
	for _, ch := range channels {
		if err := r.Publish(ctx, ch, true, true); err != nil {
			slog.Warn("failed to publish report", "report", r.ID, "channel", ch, "error", err)
		}
	}
	if d.notifier != nil && r.Urgency >= PageUrgencyThreshold {
		if err := d.notifier.PageUrgent(ctx, r.ID, r.Category, r.Urgency); err != nil {
			slog.Error("failed to page urgent report", "report", r.ID, "error", err)
		}
	}
	return r, nil
}

// OnClaimed sets the hook run after any report filed through this desk is
// successfully claimed. Set it before the first File call.
func (d *Desk) OnClaimed(fn func(ctx context.Context, r *Report, moderator platform.UserID)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClaimed = fn
}

// Get returns a live report by id.
func (d *Desk) Get(id string) (*Report, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.reports[id]
	return r, ok
}

// Reviewing returns the id of the report a moderator currently reviews, if
// any.
func (d *Desk) Reviewing(moderator platform.UserID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.reviewing[moderator]
	return id, ok
}

// AddModChannel registers a moderator channel for future publications.
func (d *Desk) AddModChannel(ch platform.ChannelID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.modChannels {
		if existing == ch {
			return
		}
	}
	d.modChannels = append(d.modChannels, ch)
}

// RemindUnclaimed posts a summary of reports that have sat unclaimed for
// longer than maxAge to every moderator channel. Ran periodically by the
// scheduler.
func (d *Desk) RemindUnclaimed(ctx context.Context, maxAge time.Duration) {
	d.mu.Lock()
	live := make([]*Report, 0, len(d.reports))
	for _, r := range d.reports {
		live = append(live, r)
	}
	channels := append([]platform.ChannelID(nil), d.modChannels...)
	d.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var stale int
	highest := -1
	for _, r := range live {
		if r.Status() == models.StatusNew && r.CreatedAt.Before(cutoff) {
			stale++
			if r.Urgency > highest {
				highest = r.Urgency
			}
		}
	}
	if stale == 0 {
		return
	}

	slog.Info("unclaimed report reminder", "count", stale, "highest_urgency", highest)
	msg := fmt.Sprintf("⏰ %d report(s) have been waiting unclaimed for over %s. The highest urgency among them is %s. React with %s on a report card to claim one.",
		stale, maxAge, models.UrgencyDisplay(highest), ClaimEmoji)
	for _, ch := range channels {
		if _, err := d.deps.Sender.SendText(ctx, ch, msg); err != nil {
			slog.Warn("failed to send reminder", "channel", ch, "error", err)
		}
	}
}

// acquireReviewer reserves a moderator for one report. A moderator holds at
// most one review at a time.
func (d *Desk) acquireReviewer(moderator platform.UserID, reportID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if held, ok := d.reviewing[moderator]; ok && held != reportID {
		metrics.ClaimRejections.WithLabelValues("busy").Inc()
		return ErrModeratorBusy
	}
	d.reviewing[moderator] = reportID
	metrics.ReportsClaimed.Inc()
	return nil
}

func (d *Desk) releaseReviewer(moderator platform.UserID, reportID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reviewing[moderator] == reportID {
		delete(d.reviewing, moderator)
	}
}

func (d *Desk) reportResolved(ctx context.Context, r *Report) {
	metrics.ReportsResolved.Inc()
	if r.Kind == KindUser && r.Reporter != "" && d.dmChannel != nil {
		msg := "Thanks for your report — our moderators have reviewed it and taken the appropriate action."
		if _, err := d.deps.Sender.SendText(ctx, d.dmChannel(r.Reporter), msg); err != nil {
			slog.Warn("failed to notify reporter", "report", r.ID, "error", err)
		}
	}
}

func (d *Desk) archive(r *Report) error {
	if d.archiveStore == nil {
		return nil
	}
	r.mu.Lock()
	rec := store.ReportRecord{
		ID:        r.ID,
		Kind:      string(r.Kind),
		Category:  string(r.Category),
		Urgency:   r.Urgency,
		Status:    string(r.status),
		Assignee:  string(r.assignee),
		Reporter:  string(r.Reporter),
		Subject:   string(r.Subject),
		Channel:   string(r.ContentRef.Channel),
		MessageID: string(r.ContentRef.ID),
		Content:   r.Content,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	if r.status == models.StatusResolved {
		now := time.Now().UTC()
		rec.ResolvedAt = &now
	}
	r.mu.Unlock()
	return d.archiveStore.SaveReport(rec)
}

// archiveStatus writes only the lifecycle columns of an already-archived
// report.
func (d *Desk) archiveStatus(r *Report) error {
	if d.archiveStore == nil {
		return nil
	}
	r.mu.Lock()
	status := r.status
	assignee := r.assignee
	r.mu.Unlock()
	var resolvedAt *time.Time
	if status == models.StatusResolved {
		now := time.Now().UTC()
		resolvedAt = &now
	}
	return d.archiveStore.UpdateReportStatus(r.ID, string(status), string(assignee), resolvedAt)
}

// HashImage returns the hex digest used for the known-image list.
func HashImage(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
