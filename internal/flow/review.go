package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/report"
)

// Review flow states.
const (
	stateReviewStart   StateTag = "REVIEW_START"
	stateConfirmDelete StateTag = "CONFIRM_DELETE"
	stateConfirmKick   StateTag = "CONFIRM_KICK"
	stateConfirmBan    StateTag = "CONFIRM_BAN"
	stateViewImage     StateTag = "VIEWING_IMAGE"
	stateAdultComment  StateTag = "IS_ADULT"
	stateReviewQuit    StateTag = "REVIEW_QUIT"
)

// ReviewActions are the moderation capabilities a review flow can invoke.
// The router wires them to the platform, the ban store, and the escalation
// path; nil actions are omitted from the menu.
type ReviewActions struct {
	// DeleteContent removes the offending message from its channel.
	DeleteContent func(ctx context.Context) error
	// KickActor removes the author from the channel with a warning.
	KickActor func(ctx context.Context) error
	// BanActor bans the author; the returned duration reflects the
	// escalation tier applied.
	BanActor func(ctx context.Context, reason string) (time.Duration, error)
	// Escalate forwards the case to the competent authority. Only CSAM
	// reviews expose it.
	Escalate func(ctx context.Context) error
	// ShowImage posts the report's attachments, softened, to the review
	// channel. Only set when the report carries an image.
	ShowImage func(ctx context.Context) error
	// ConfirmImage records the report's attachments on the known-image
	// list so re-uploads are removed on sight.
	ConfirmImage func(ctx context.Context) error
	// ReclassifyAdult refiles the case as adult sexual content with the
	// reviewer's comment attached.
	ReclassifyAdult func(ctx context.Context, comment string) error
	// NotifyActor messages the author of the offending content.
	NotifyActor func(ctx context.Context, text string) error
	// NotifyVictim messages the person the content targets.
	NotifyVictim func(ctx context.Context, text string) error
}

// reviewAction is one entry of the review menu.
type reviewAction struct {
	label   string
	command string
	run     func(rf *ReviewFlow, ctx context.Context) error
}

// ReviewOpts configures a review conversation.
type ReviewOpts struct {
	Reviewer platform.UserID
	Channel  platform.ChannelID
	Report   *report.Report
	Actions  ReviewActions
	Deps     Dependencies
}

// ReviewFlow walks the assigned moderator through acting on a report. The
// concrete action set depends on the report's category; destructive actions
// go through a confirmation state with proportionality language tailored to
// the category.
type ReviewFlow struct {
	*Flow
	opts    ReviewOpts
	actions []reviewAction
	deleted bool
}

// NewReview builds the review conversation appropriate for the report's
// category.
func NewReview(opts ReviewOpts) *ReviewFlow {
	rf := &ReviewFlow{opts: opts}
	rf.actions = rf.buildActions()

	states := map[StateTag]State{
		stateReviewStart: {
			Introduce: rf.introStart,
			OnMessage: rf.onCommand,
			Help:      "Reply with the number or name of an action. `resolve` finishes the review; `cancel` puts the report back in the queue.",
		},
		stateConfirmDelete: {
			Introduce: rf.confirmIntro("delete the message"),
			OnMessage: rf.onConfirm(rf.doDelete),
		},
		stateConfirmKick: {
			Introduce: rf.confirmIntro("kick the author"),
			OnMessage: rf.onConfirm(rf.doKick),
		},
		stateConfirmBan: {
			Introduce: rf.confirmIntro("ban the author"),
			OnMessage: rf.onConfirm(rf.doBan),
		},
		stateViewImage: {
			Introduce: rf.introViewImage,
			OnMessage: rf.onViewImage,
			Help:      "Reply `confirm` if the image is child sexual abuse material, `adult` if the person shown is an adult, or `back` for the action list.",
		},
		stateAdultComment: {
			Introduce: rf.introAdultComment,
			OnMessage: rf.onAdultComment,
		},
		stateReviewQuit: {
			Introduce: rf.introQuit,
			OnMessage: rf.onQuit,
		},
	}
	rf.Flow = New("review_"+strings.ToLower(string(opts.Report.Category)), opts.Reviewer, opts.Channel, states, opts.Deps)
	rf.Flow.SetQuitState(stateReviewQuit)
	return rf
}

// buildActions assembles the menu for the report's category. Every review
// can delete, hide or reveal, unassign, and resolve; person-level penalties
// and escalation depend on the category and the wired capabilities.
func (rf *ReviewFlow) buildActions() []reviewAction {
	opts := rf.opts
	var out []reviewAction
	if opts.Actions.DeleteContent != nil {
		out = append(out, reviewAction{"Delete the message", "delete", func(rf *ReviewFlow, ctx context.Context) error {
			return rf.TransitionTo(ctx, stateConfirmDelete, true)
		}})
	}
	if opts.Actions.KickActor != nil {
		out = append(out, reviewAction{"Kick the author", "kick", func(rf *ReviewFlow, ctx context.Context) error {
			return rf.TransitionTo(ctx, stateConfirmKick, true)
		}})
	}
	if opts.Actions.BanActor != nil {
		out = append(out, reviewAction{"Ban the author", "ban", func(rf *ReviewFlow, ctx context.Context) error {
			return rf.TransitionTo(ctx, stateConfirmBan, true)
		}})
	}
	if opts.Report.Category == models.CategoryCSAM {
		if opts.Actions.ConfirmImage != nil {
			out = append(out, reviewAction{"Review the image", "image", func(rf *ReviewFlow, ctx context.Context) error {
				return rf.TransitionTo(ctx, stateViewImage, true)
			}})
		}
		if opts.Actions.Escalate != nil {
			out = append(out, reviewAction{"Escalate to NCMEC", "escalate", (*ReviewFlow).doEscalate})
		}
	}
	switch opts.Report.Category {
	case models.CategoryHarmful:
		if opts.Actions.NotifyActor != nil {
			out = append(out, reviewAction{"Send crisis resources to the author", "resources", (*ReviewFlow).doSendResources})
		}
	case models.CategoryBullying, models.CategoryHarass:
		if opts.Actions.NotifyVictim != nil {
			out = append(out, reviewAction{"Check in with the person targeted", "checkin", (*ReviewFlow).doCheckIn})
		}
	}
	out = append(out,
		reviewAction{"Hide / reveal the content on the report", "hide", (*ReviewFlow).doToggleHidden},
		reviewAction{"Put the report back in the queue", "unassign", (*ReviewFlow).doUnassign},
		reviewAction{"Resolve — no further action", "resolve", (*ReviewFlow).doResolve},
	)
	return out
}

// Start opens the review conversation.
func (rf *ReviewFlow) Start(ctx context.Context) error {
	return rf.TransitionTo(ctx, stateReviewStart, true)
}

func (rf *ReviewFlow) introStart(ctx context.Context) error {
	var menu strings.Builder
	for i, a := range rf.actions {
		fmt.Fprintf(&menu, "%d. %s (`%s`)\n", i+1, a.label, a.command)
	}
	err := rf.Say(ctx,
		Text("You're reviewing this report:"),
		CardOut{Card: rf.opts.Report.Render()},
		CardOut{Card: platform.Card{Title: "Actions", Body: menu.String()}},
	)
	if err != nil {
		return err
	}
	return rf.ReactIndex(ctx, len(rf.actions))
}

func (rf *ReviewFlow) onCommand(ctx context.Context, text string) error {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "done" {
		t = "resolve"
	}
	var chosen *reviewAction
	if n, err := strconv.Atoi(t); err == nil && n >= 1 && n <= len(rf.actions) {
		chosen = &rf.actions[n-1]
	} else {
		for i := range rf.actions {
			if rf.actions[i].command == t {
				chosen = &rf.actions[i]
				break
			}
		}
	}
	if chosen == nil {
		return rf.Say(ctx, Text("Reply with an action number or name — `help` shows the list again."))
	}
	if err := rf.validate(); err != nil {
		return rf.abort(ctx, err)
	}
	return chosen.run(rf, ctx)
}

// validate re-checks that this reviewer still owns a live review. The check
// runs again before every action: the report may have been resolved or
// reassigned underneath a long-idle conversation.
func (rf *ReviewFlow) validate() error {
	r := rf.opts.Report
	if r.Status() != models.StatusPending {
		return report.ErrNotPending
	}
	if r.Assignee() != rf.opts.Reviewer {
		return report.ErrNotAssignee
	}
	return nil
}

// abort ends a review whose report moved on without its reviewer.
func (rf *ReviewFlow) abort(ctx context.Context, cause error) error {
	defer rf.Close(ctx)
	slog.Info("review aborted", "report", rf.opts.Report.ID, "reviewer", rf.opts.Reviewer, "cause", cause)
	msg := "This report is no longer yours to review — someone else has taken over or it has been resolved."
	if errors.Is(cause, report.ErrNotPending) {
		msg = "This report has already been resolved — nothing more to do."
	}
	return rf.Say(ctx, Text(msg))
}

// proportionality is shown before destructive confirmation, tailored to the
// report's category.
var proportionality = map[models.AbuseCategory]string{
	models.CategorySpam:     "Spam is usually best handled by deleting and warning; consider whether a ban is proportionate.",
	models.CategoryHateful:  "Hateful content violates the rules regardless of intent; person-level penalties are usually warranted.",
	models.CategorySexual:   "Consider whether the content was posted maliciously before applying person-level penalties.",
	models.CategoryHarass:   "Harassment tends to repeat; removing only the message rarely protects the target.",
	models.CategoryBullying: "Bullying tends to escalate; make sure the target is safe before deciding the penalty.",
	models.CategoryHarmful:  "If someone is in danger, crisis resources matter more than penalties.",
	models.CategoryViolence: "Credible threats warrant the strongest response available.",
	models.CategoryCSAM:     "Do not delete the evidence before escalation is complete.",
}

func (rf *ReviewFlow) confirmIntro(what string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		outputs := []Output{Text(fmt.Sprintf("You're about to %s.", what))}
		if note, ok := proportionality[rf.opts.Report.Category]; ok {
			outputs = append(outputs, Text(note))
		}
		outputs = append(outputs, Text("Go ahead?"))
		if err := rf.Say(ctx, outputs...); err != nil {
			return err
		}
		return rf.ReactYesNo(ctx)
	}
}

func (rf *ReviewFlow) onConfirm(action func(ctx context.Context) error) func(ctx context.Context, text string) error {
	return func(ctx context.Context, text string) error {
		switch {
		case models.MatchesKeyword(text, models.YesKeywords):
			if err := rf.validate(); err != nil {
				return rf.abort(ctx, err)
			}
			if err := action(ctx); err != nil {
				// A failed platform action is reported to the reviewer,
				// not propagated; the review continues.
				slog.Warn("review action failed", "report", rf.opts.Report.ID, "error", err)
				if sayErr := rf.Say(ctx, Text("That didn't work — the platform refused the action. Try again or pick something else.")); sayErr != nil {
					return sayErr
				}
			}
			return rf.TransitionTo(ctx, stateReviewStart, true)
		case models.MatchesKeyword(text, models.NoKeywords):
			return rf.TransitionTo(ctx, stateReviewStart, true)
		default:
			return rf.Say(ctx, Text("Please answer `yes` or `no`."))
		}
	}
}

func (rf *ReviewFlow) doDelete(ctx context.Context) error {
	if err := rf.opts.Actions.DeleteContent(ctx); err != nil && !platform.IsGone(err) {
		return err
	}
	rf.deleted = true
	return rf.Say(ctx, Text("The message is gone."))
}

func (rf *ReviewFlow) doKick(ctx context.Context) error {
	if err := rf.opts.Actions.KickActor(ctx); err != nil {
		return err
	}
	return rf.Say(ctx, Text("The author has been kicked."))
}

func (rf *ReviewFlow) doBan(ctx context.Context) error {
	duration, err := rf.opts.Actions.BanActor(ctx, rf.opts.Report.Category.Display())
	if err != nil {
		return err
	}
	return rf.Say(ctx, Text(fmt.Sprintf("The author has been banned for %s.", duration)))
}

func (rf *ReviewFlow) doEscalate(ctx context.Context) error {
	if err := rf.opts.Actions.Escalate(ctx); err != nil {
		slog.Error("escalation failed", "report", rf.opts.Report.ID, "error", err)
		return rf.Say(ctx, Text("Escalation failed — do NOT resolve this report; try again or contact the admins directly."))
	}
	return rf.Say(ctx, Text("The case has been escalated. Resolve the report once you've finished the local cleanup."))
}

func (rf *ReviewFlow) introViewImage(ctx context.Context) error {
	if err := rf.Say(ctx, Text("The image follows, desaturated. Take a moment before you look.")); err != nil {
		return err
	}
	if rf.opts.Actions.ShowImage != nil {
		if err := rf.opts.Actions.ShowImage(ctx); err != nil {
			slog.Error("failed to deliver review image", "report", rf.opts.Report.ID, "error", err)
			if sayErr := rf.Say(ctx, Text("The image couldn't be delivered. You can still act on the report, or `back` out.")); sayErr != nil {
				return sayErr
			}
		}
	}
	return rf.Say(ctx, Text("Is this child sexual abuse material? Reply `confirm` if it is, `adult` if the person shown is an adult, or `back` for the action list."))
}

func (rf *ReviewFlow) onViewImage(ctx context.Context, text string) error {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "confirm":
		if err := rf.validate(); err != nil {
			return rf.abort(ctx, err)
		}
		if err := rf.opts.Actions.ConfirmImage(ctx); err != nil {
			slog.Error("failed to record confirmed image", "report", rf.opts.Report.ID, "error", err)
			return rf.Say(ctx, Text("Couldn't record the image on the block list — try again."))
		}
		if err := rf.Say(ctx, Text("The image is on the block list; re-uploads will be removed on sight. Escalate before you delete anything.")); err != nil {
			return err
		}
		return rf.TransitionTo(ctx, stateReviewStart, true)
	case "adult":
		return rf.TransitionTo(ctx, stateAdultComment, true)
	case "back":
		return rf.TransitionTo(ctx, stateReviewStart, true)
	default:
		return rf.Say(ctx, Text("Reply `confirm`, `adult`, or `back`."))
	}
}

func (rf *ReviewFlow) introAdultComment(ctx context.Context) error {
	return rf.Say(ctx, Text("The case will be refiled as adult sexual content. Add a note for the new report, or reply `skip`."))
}

func (rf *ReviewFlow) onAdultComment(ctx context.Context, text string) error {
	comment := strings.TrimSpace(text)
	if strings.EqualFold(comment, "back") {
		return rf.TransitionTo(ctx, stateViewImage, true)
	}
	if strings.EqualFold(comment, "skip") {
		comment = ""
	}
	if err := rf.validate(); err != nil {
		return rf.abort(ctx, err)
	}
	if rf.opts.Actions.ReclassifyAdult != nil {
		if err := rf.opts.Actions.ReclassifyAdult(ctx, comment); err != nil {
			slog.Error("failed to refile report", "report", rf.opts.Report.ID, "error", err)
			return rf.Say(ctx, Text("Refiling failed — try again or `back` out."))
		}
	}
	if err := rf.Say(ctx, Text("Refiled as adult sexual content — a fresh report is in the queue.")); err != nil {
		return err
	}
	return rf.doResolve(ctx)
}

func (rf *ReviewFlow) doSendResources(ctx context.Context) error {
	if err := rf.opts.Actions.NotifyActor(ctx, "Someone was worried about a message you posted. If you're struggling, these are free and confidential:\n"+supportResources.Body); err != nil {
		slog.Warn("failed to send crisis resources", "report", rf.opts.Report.ID, "error", err)
		return rf.Say(ctx, Text("Couldn't reach the author directly."))
	}
	return rf.Say(ctx, Text("Crisis resources sent to the author."))
}

func (rf *ReviewFlow) doCheckIn(ctx context.Context) error {
	if err := rf.opts.Actions.NotifyVictim(ctx, "A moderator reviewed a report about messages directed at you. You're not in trouble — we wanted to check that you're okay, and to say the situation is being handled."); err != nil {
		slog.Warn("failed to check in with target", "report", rf.opts.Report.ID, "error", err)
		return rf.Say(ctx, Text("Couldn't reach the person targeted."))
	}
	return rf.Say(ctx, Text("Sent a check-in to the person targeted."))
}

func (rf *ReviewFlow) doToggleHidden(ctx context.Context) error {
	r := rf.opts.Report
	r.SetHidden(ctx, !r.Hidden())
	state := "revealed"
	if r.Hidden() {
		state = "hidden"
	}
	if err := rf.Say(ctx, Text(fmt.Sprintf("The content is now %s on the report.", state))); err != nil {
		return err
	}
	return rf.TransitionTo(ctx, stateReviewStart, true)
}

func (rf *ReviewFlow) doUnassign(ctx context.Context) error {
	defer rf.Close(ctx)
	if err := rf.opts.Report.Unassign(ctx); err != nil {
		return fmt.Errorf("unassigning report: %w", err)
	}
	return rf.Say(ctx, Text("The report is back in the queue for another moderator."))
}

func (rf *ReviewFlow) doResolve(ctx context.Context) error {
	defer rf.Close(ctx)
	if err := rf.opts.Report.Resolve(ctx); err != nil {
		return fmt.Errorf("resolving report: %w", err)
	}
	return rf.Say(ctx, Text("Review finished — the report is resolved."))
}

func (rf *ReviewFlow) introQuit(ctx context.Context) error {
	if err := rf.Say(ctx, Text("Stop reviewing? The report goes back in the queue for someone else.")); err != nil {
		return err
	}
	return rf.ReactYesNo(ctx)
}

func (rf *ReviewFlow) onQuit(ctx context.Context, text string) error {
	if models.MatchesKeyword(text, models.YesKeywords) {
		return rf.doUnassign(ctx)
	}
	return rf.Revert(ctx)
}
