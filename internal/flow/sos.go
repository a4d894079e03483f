package flow

import (
	"context"

	"github.com/modflow/ModFlow/internal/platform"
)

const stateSOS StateTag = "SOS"

// supportResources is the card shown to authors of borderline content.
var supportResources = platform.Card{
	Title: "You matter",
	Body: "If you or someone you know is struggling, these are free and confidential:\n" +
		"• Suicide & Crisis Lifeline — call or text 988\n" +
		"• Crisis Text Line — text HOME to 741741\n" +
		"• International helplines — findahelpline.com",
	Color: "#3498db",
}

// SOSOpts configures a support outreach flow.
type SOSOpts struct {
	Subject   platform.UserID
	DMChannel platform.ChannelID
	Original  platform.MessageEvent
	Deps      Dependencies

	// OpenIntake starts a report intake conversation for the subject.
	OpenIntake func(ctx context.Context) error
}

// SOSFlow reaches out to an author whose message scored in the uncertain
// band: it shows support resources and offers a reporting shortcut, without
// accusing anyone of anything.
type SOSFlow struct {
	*Flow
	opts SOSOpts
}

// NewSOS builds a support outreach flow.
func NewSOS(opts SOSOpts) *SOSFlow {
	sf := &SOSFlow{opts: opts}
	states := map[StateTag]State{
		stateSOS: {
			Introduce: sf.introduce,
		},
	}
	sf.Flow = New("sos", opts.Subject, opts.DMChannel, states, opts.Deps)
	return sf
}

// Start sends the outreach and closes: the flow holds no conversation, only
// the report affordance stays live.
func (sf *SOSFlow) Start(ctx context.Context) error {
	return sf.TransitionTo(ctx, stateSOS, true)
}

func (sf *SOSFlow) introduce(ctx context.Context) error {
	outputs := []Output{
		Text("Hey — we noticed this message and wanted to check in:"),
		CardOut{Card: platform.Card{Body: sf.opts.Original.Text}},
		CardOut{Card: supportResources},
	}
	if sf.opts.OpenIntake != nil {
		outputs = append(outputs,
			Text("If something here worries you about someone else, you can file a report:"),
			Affordance{
				Emoji: "📋",
				Handlers: reactionHandlersFor(func(ctx context.Context) error {
					return sf.opts.OpenIntake(ctx)
				}),
				Once: true,
			},
		)
	}
	return sf.Say(ctx, outputs...)
}
