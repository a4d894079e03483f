package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/report"
)

// Intake flow states.
const (
	stateIntakeStart    StateTag = "REPORT_START"
	stateAwaitLink      StateTag = "AWAITING_MESSAGE_LINK"
	stateAwaitCategory  StateTag = "AWAITING_ABUSE_TYPE"
	stateCheckIfVictim  StateTag = "CHECK_IF_VICTIM"
	stateAskForVictim   StateTag = "ASK_FOR_VICTIM"
	stateSuicideCheck   StateTag = "SUICIDE_CHECK"
	stateCurrentEvents  StateTag = "CURRENT_EVENTS_CHECK"
	stateAddComment     StateTag = "ADD_COMMENT"
	stateFinalizeReport StateTag = "FINALIZE_REPORT"
	stateIntakeQuit     StateTag = "REPORT_QUIT"
)

// IntakeOpts configures a user-report intake conversation.
type IntakeOpts struct {
	Reporter  platform.UserID
	DMChannel platform.ChannelID
	Desk      *report.Desk
	Deps      Dependencies

	// ResolveMessage turns a pasted message link into the message it
	// addresses, following resend aliases.
	ResolveMessage func(ctx context.Context, link string) (platform.MessageEvent, error)

	// Target pre-fills the reported message, skipping the link prompt.
	// Used when intake starts from a reaction on a concrete message.
	Target *platform.MessageEvent
}

// IntakeFlow walks a reporter through filing a report: which message, what
// kind of abuse, the category's follow-up questions, a free-text comment,
// and a final confirmation.
type IntakeFlow struct {
	*Flow
	opts IntakeOpts

	target           platform.MessageEvent
	category         models.AbuseCategory
	victimIsReporter bool
	victim           string
	urgent           bool
	comment          string
}

// NewIntake builds an intake conversation.
func NewIntake(opts IntakeOpts) *IntakeFlow {
	inf := &IntakeFlow{opts: opts}
	states := map[StateTag]State{
		stateIntakeStart: {
			Introduce: inf.introStart,
		},
		stateAwaitLink: {
			Introduce: inf.introLink,
			OnMessage: inf.onLink,
			Help:      "Paste a link to the message you want to report. Right-click (or long-press) the message and choose Copy Link.",
		},
		stateAwaitCategory: {
			Introduce: inf.introCategory,
			OnMessage: inf.onCategory,
			Help:      "Reply with the number of the abuse type, or a word like `harassment` or `spam`.",
		},
		stateCheckIfVictim: {
			Introduce: inf.introVictimCheck,
			OnMessage: inf.onVictimCheck,
			Help:      "Reply `yes` if the harassment targets you, `no` if it targets someone else.",
		},
		stateAskForVictim: {
			Introduce: inf.introAskVictim,
			OnMessage: inf.onAskVictim,
			Help:      "Tell me who is being bullied, or reply `skip`.",
		},
		stateSuicideCheck: {
			Introduce: inf.introSuicideCheck,
			OnMessage: inf.onUrgencyCheck,
			Help:      "Reply `yes` if someone may be in immediate danger, otherwise `no`.",
		},
		stateCurrentEvents: {
			Introduce: inf.introCurrentEvents,
			OnMessage: inf.onUrgencyCheck,
			Help:      "Reply `yes` if this is about something happening now or about to happen, otherwise `no`.",
		},
		stateAddComment: {
			Introduce: inf.introComment,
			OnMessage: inf.onComment,
			Help:      "Add anything that helps the moderators, or reply `skip`.",
		},
		stateFinalizeReport: {
			Introduce: inf.introFinalize,
			OnMessage: inf.onFinalize,
			Help:      "Reply `yes` to submit the report, `no` to discard it.",
		},
		stateIntakeQuit: {
			Introduce: inf.introQuit,
			OnMessage: inf.onQuit,
		},
	}
	inf.Flow = New("report_intake", opts.Reporter, opts.DMChannel, states, opts.Deps)
	inf.Flow.SetQuitState(stateIntakeQuit)
	return inf
}

// Start opens the conversation.
func (inf *IntakeFlow) Start(ctx context.Context) error {
	return inf.TransitionTo(ctx, stateIntakeStart, true)
}

func (inf *IntakeFlow) introStart(ctx context.Context) error {
	err := inf.Say(ctx, Text("Thanks for helping keep this space safe. I'll ask a few questions; you can type `cancel` at any time to stop, or `help` if you're stuck."))
	if err != nil {
		return err
	}
	if inf.opts.Target != nil {
		inf.target = *inf.opts.Target
		return inf.TransitionTo(ctx, stateAwaitCategory, true)
	}
	return inf.TransitionTo(ctx, stateAwaitLink, true)
}

func (inf *IntakeFlow) introLink(ctx context.Context) error {
	return inf.Say(ctx, Text("Which message do you want to report? Paste a link to it."))
}

func (inf *IntakeFlow) onLink(ctx context.Context, text string) error {
	msg, err := inf.opts.ResolveMessage(ctx, strings.TrimSpace(text))
	if err != nil {
		return inf.Say(ctx, Text("I couldn't find that message. Make sure you pasted the full link, and that I can see the channel it's in."))
	}
	inf.target = msg
	return inf.TransitionTo(ctx, stateAwaitCategory, true)
}

func (inf *IntakeFlow) introCategory(ctx context.Context) error {
	preview := inf.target.Text
	if preview == "" {
		preview = "(attachment)"
	}
	cats := models.Categories()
	var menu strings.Builder
	for i, c := range cats {
		fmt.Fprintf(&menu, "%d. %s\n", i+1, c.Display())
	}
	err := inf.Say(ctx,
		Text("You're reporting this message:"),
		CardOut{Card: platform.Card{Body: preview, Footer: string(inf.target.From)}},
		CardOut{Card: platform.Card{Title: "What kind of abuse is it?", Body: menu.String()}},
	)
	if err != nil {
		return err
	}
	return inf.ReactIndex(ctx, len(cats))
}

func (inf *IntakeFlow) onCategory(ctx context.Context, text string) error {
	cats := models.Categories()
	var chosen models.AbuseCategory
	if n, err := strconv.Atoi(strings.TrimSpace(text)); err == nil && n >= 1 && n <= len(cats) {
		chosen = cats[n-1]
	} else if c, ok := models.CategoryFromKeyword(text); ok {
		chosen = c
	} else {
		return inf.Say(ctx, Text("I didn't catch that — reply with a number from the list, or a word like `harassment`."))
	}
	inf.category = chosen

	switch chosen {
	case models.CategoryHarass:
		return inf.TransitionTo(ctx, stateCheckIfVictim, true)
	case models.CategoryBullying:
		return inf.TransitionTo(ctx, stateAskForVictim, true)
	case models.CategoryHarmful:
		return inf.TransitionTo(ctx, stateSuicideCheck, true)
	case models.CategoryViolence:
		return inf.TransitionTo(ctx, stateCurrentEvents, true)
	default:
		return inf.TransitionTo(ctx, stateAddComment, true)
	}
}

func (inf *IntakeFlow) introVictimCheck(ctx context.Context) error {
	if err := inf.Say(ctx, Text("Is the harassment directed at you?")); err != nil {
		return err
	}
	return inf.ReactYesNo(ctx)
}

func (inf *IntakeFlow) onVictimCheck(ctx context.Context, text string) error {
	switch {
	case models.MatchesKeyword(text, models.YesKeywords):
		inf.victimIsReporter = true
	case models.MatchesKeyword(text, models.NoKeywords):
		inf.victimIsReporter = false
	default:
		return inf.Say(ctx, Text("Please answer `yes` or `no`."))
	}
	return inf.TransitionTo(ctx, stateAddComment, true)
}

func (inf *IntakeFlow) introAskVictim(ctx context.Context) error {
	return inf.Say(ctx, Text("Who is being bullied? A name or mention helps the moderators act faster. Reply `skip` if you'd rather not say."))
}

func (inf *IntakeFlow) onAskVictim(ctx context.Context, text string) error {
	if !strings.EqualFold(strings.TrimSpace(text), "skip") {
		inf.victim = strings.TrimSpace(text)
	}
	return inf.TransitionTo(ctx, stateAddComment, true)
}

func (inf *IntakeFlow) introSuicideCheck(ctx context.Context) error {
	err := inf.Say(ctx,
		Text("Do you think someone may hurt themselves or be in immediate danger?"),
		CardOut{Card: supportResources},
	)
	if err != nil {
		return err
	}
	return inf.ReactYesNo(ctx)
}

func (inf *IntakeFlow) introCurrentEvents(ctx context.Context) error {
	if err := inf.Say(ctx, Text("Is this about something happening right now, or about to happen?")); err != nil {
		return err
	}
	return inf.ReactYesNo(ctx)
}

func (inf *IntakeFlow) onUrgencyCheck(ctx context.Context, text string) error {
	switch {
	case models.MatchesKeyword(text, models.YesKeywords):
		inf.urgent = true
	case models.MatchesKeyword(text, models.NoKeywords):
		inf.urgent = false
	default:
		return inf.Say(ctx, Text("Please answer `yes` or `no`."))
	}
	return inf.TransitionTo(ctx, stateAddComment, true)
}

func (inf *IntakeFlow) introComment(ctx context.Context) error {
	return inf.Say(ctx, Text("Anything else the moderators should know? Reply with a comment, or `skip`."))
}

func (inf *IntakeFlow) onComment(ctx context.Context, text string) error {
	if !strings.EqualFold(strings.TrimSpace(text), "skip") {
		inf.comment = strings.TrimSpace(text)
	}
	return inf.TransitionTo(ctx, stateFinalizeReport, true)
}

func (inf *IntakeFlow) introFinalize(ctx context.Context) error {
	fields := []platform.CardField{
		{Name: "Category", Value: inf.category.Display()},
		{Name: "Urgency", Value: models.UrgencyDisplay(models.Urgency(inf.category, inf.victimIsReporter, inf.urgent))},
	}
	if inf.victim != "" {
		fields = append(fields, platform.CardField{Name: "Victim", Value: inf.victim})
	}
	if inf.comment != "" {
		fields = append(fields, platform.CardField{Name: "Comment", Value: inf.comment})
	}
	fields = append(fields, platform.CardField{Name: "Message", Value: inf.target.Text})
	err := inf.Say(ctx,
		CardOut{Card: platform.Card{Title: "Your report", Fields: fields}},
		Text("Submit this report?"),
	)
	if err != nil {
		return err
	}
	return inf.ReactYesNo(ctx)
}

func (inf *IntakeFlow) onFinalize(ctx context.Context, text string) error {
	switch {
	case models.MatchesKeyword(text, models.YesKeywords):
		return inf.submit(ctx)
	case models.MatchesKeyword(text, models.NoKeywords):
		defer inf.Close(ctx)
		return inf.Say(ctx, Text("Okay, the report was discarded."))
	default:
		return inf.Say(ctx, Text("Please answer `yes` or `no`."))
	}
}

func (inf *IntakeFlow) submit(ctx context.Context) error {
	defer inf.Close(ctx)
	comment := inf.comment
	if inf.victim != "" {
		if comment != "" {
			comment += " — "
		}
		comment += "victim: " + inf.victim
	}
	_, err := inf.opts.Desk.File(ctx, report.Intake{
		Kind:             report.KindUser,
		Category:         inf.category,
		Reporter:         inf.opts.Reporter,
		Subject:          inf.target.From,
		Content:          inf.target.Text,
		ContentRef:       inf.target.Ref,
		Attachments:      inf.target.ImageData,
		Comment:          comment,
		VictimIsReporter: inf.victimIsReporter,
		Urgent:           inf.urgent,
	})
	if err != nil {
		return fmt.Errorf("filing user report: %w", err)
	}
	return inf.Say(ctx, Text("Thank you — your report is with the moderators now. We'll let you know once it's been handled."))
}

func (inf *IntakeFlow) introQuit(ctx context.Context) error {
	if err := inf.Say(ctx, Text("Stop here and discard the report so far?")); err != nil {
		return err
	}
	return inf.ReactYesNo(ctx)
}

func (inf *IntakeFlow) onQuit(ctx context.Context, text string) error {
	if models.MatchesKeyword(text, models.YesKeywords) {
		defer inf.Close(ctx)
		return inf.Say(ctx, Text("Okay — nothing was filed. You can start again any time by messaging `report`."))
	}
	return inf.Revert(ctx)
}
