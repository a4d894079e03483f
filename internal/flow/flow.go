// Package flow implements the conversation engine and the concrete
// moderation flows built on it. A Flow is a small state machine bound to one
// subject and one channel: states carry an optional introduction and a text
// handler, cancel and help keywords are intercepted uniformly, and emoji
// affordances on rendered cards feed simulated replies back into the
// machine.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/reaction"
)

// StateTag names one state of a flow's machine.
type StateTag string

// State is one node of the machine. Introduce runs when the flow enters the
// state with introduction requested; a nil Introduce makes that entry
// silent. OnMessage handles subject text while the state is current. Help is
// shown when the subject asks for help in this state; empty Help lets the
// help keyword fall through to OnMessage.
type State struct {
	Introduce func(ctx context.Context) error
	OnMessage func(ctx context.Context, text string) error
	Help      string
}

// Dependencies carries the services a flow renders through.
type Dependencies struct {
	Sender    platform.Sender
	Reactions *reaction.Registry
}

// Flow is a per-subject conversation state machine. All state access is
// mutex-guarded; handlers run on the router's dispatch goroutines.
type Flow struct {
	name    string
	subject platform.UserID
	channel platform.ChannelID
	deps    Dependencies

	mu        sync.Mutex
	states    map[StateTag]State
	current   StateTag
	quitState StateTag
	preQuit   StateTag
	closed    bool
	lastRef   platform.MessageRef
	cards     []platform.MessageRef
	watchdogs []*Watchdog
	onClose   []func(ctx context.Context)
}

// New creates a flow over an explicit state map. The caller transitions into
// the initial state afterwards, normally with an introduction.
func New(name string, subject platform.UserID, channel platform.ChannelID, states map[StateTag]State, deps Dependencies) *Flow {
	return &Flow{
		name:    name,
		subject: subject,
		channel: channel,
		states:  states,
		deps:    deps,
	}
}

// Name returns the flow's type name, used in logs and routing decisions.
func (f *Flow) Name() string { return f.name }

// Subject returns the user this flow converses with.
func (f *Flow) Subject() platform.UserID { return f.subject }

// Channel returns the conversation surface the flow renders into.
func (f *Flow) Channel() platform.ChannelID { return f.channel }

// Current returns the current state tag.
func (f *Flow) Current() StateTag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Closed reports whether the flow has been torn down.
func (f *Flow) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SetQuitState designates the state entered when the subject types a cancel
// keyword. Flows without a quit state ignore cancel keywords.
func (f *Flow) SetQuitState(tag StateTag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quitState = tag
}

// OnClose registers fn to run during Close, after watchdogs have stopped.
func (f *Flow) OnClose(fn func(ctx context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = append(f.onClose, fn)
}

// TransitionTo moves the machine to tag and, when introduce is set, runs the
// state's introduction. States without an introduction enter silently.
func (f *Flow) TransitionTo(ctx context.Context, tag StateTag, introduce bool) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	st, ok := f.states[tag]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("flow %s: unknown state %q", f.name, tag)
	}
	from := f.current
	f.current = tag
	f.mu.Unlock()

	slog.Debug("flow transition", "flow", f.name, "subject", f.subject, "from", from, "to", tag, "introduce", introduce)
	if introduce && st.Introduce != nil {
		if err := st.Introduce(ctx); err != nil {
			return fmt.Errorf("flow %s: introducing state %q: %w", f.name, tag, err)
		}
	}
	return nil
}

// HandleMessage forwards one subject message into the machine. Help and
// cancel keywords are intercepted before the state handler sees the text:
// help renders the current state's help message, cancel snapshots the
// current state and enters the quit state with an introduction. Returns
// whether the message was consumed.
func (f *Flow) HandleMessage(ctx context.Context, text string) (bool, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false, nil
	}
	st, ok := f.states[f.current]
	quit := f.quitState
	cur := f.current
	f.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("flow %s: no current state", f.name)
	}

	if st.Help != "" && models.MatchesKeyword(text, models.HelpKeywords) {
		return true, f.Say(ctx, Text(st.Help))
	}
	if quit != "" && cur != quit && models.MatchesKeyword(text, models.CancelKeywords) {
		f.mu.Lock()
		f.preQuit = cur
		f.mu.Unlock()
		return true, f.TransitionTo(ctx, quit, true)
	}
	if st.OnMessage == nil {
		return false, nil
	}
	return true, st.OnMessage(ctx, text)
}

// Revert returns from the quit state to the exact state the cancel keyword
// interrupted, without re-running its introduction.
func (f *Flow) Revert(ctx context.Context) error {
	f.mu.Lock()
	tag := f.preQuit
	f.mu.Unlock()
	if tag == "" {
		return fmt.Errorf("flow %s: revert with no prior state", f.name)
	}
	return f.TransitionTo(ctx, tag, false)
}

// SimulateReply returns a click handler that feeds text into the machine as
// if the subject had typed it. The handler is pinned to the state current at
// creation time: if the flow has moved on or closed by the time the
// affordance fires, the stale reply is dropped.
func (f *Flow) SimulateReply(text string) func(ctx context.Context, user platform.UserID) error {
	f.mu.Lock()
	captured := f.current
	f.mu.Unlock()
	return func(ctx context.Context, _ platform.UserID) error {
		f.mu.Lock()
		stale := f.closed || f.current != captured
		f.mu.Unlock()
		if stale {
			slog.Debug("dropping stale simulated reply", "flow", f.name, "text", text, "capturedState", captured)
			return nil
		}
		_, err := f.HandleMessage(ctx, text)
		return err
	}
}

// Close tears the flow down: watchdogs are stopped and joined first, so no
// countdown tick runs after teardown, then affordances on the flow's cards
// are deregistered and close hooks run. Close is idempotent.
func (f *Flow) Close(ctx context.Context) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	watchdogs := f.watchdogs
	f.watchdogs = nil
	cards := f.cards
	f.cards = nil
	hooks := f.onClose
	f.onClose = nil
	f.mu.Unlock()

	for _, w := range watchdogs {
		w.Stop()
	}
	if f.deps.Reactions != nil {
		for _, ref := range cards {
			f.deps.Reactions.DeregisterCard(ref)
		}
	}
	for _, fn := range hooks {
		fn(ctx)
	}
	slog.Debug("flow closed", "flow", f.name, "subject", f.subject)
}

// trackCard remembers a card carrying affordances so Close can clean it up.
func (f *Flow) trackCard(ref platform.MessageRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cards {
		if c == ref {
			return
		}
	}
	f.cards = append(f.cards, ref)
}

// LastRef returns the most recently rendered message, if any.
func (f *Flow) LastRef() platform.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRef
}

// ReactYesNo attaches 👍/👎 affordances to the last rendered message,
// simulating "yes" and "no". The pair is exclusive: the first click retires
// both.
func (f *Flow) ReactYesNo(ctx context.Context) error {
	if err := f.attachReply(ctx, "👍", "yes", true); err != nil {
		return err
	}
	return f.attachReply(ctx, "👎", "no", true)
}

// ReactDone attaches a ✅ affordance simulating "done".
func (f *Flow) ReactDone(ctx context.Context) error {
	return f.attachReply(ctx, "✅", "done", true)
}

var indexEmojis = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

// ReactIndex attaches n numbered affordances to the last rendered message,
// each simulating its ordinal ("1" through "n"). The group is exclusive.
func (f *Flow) ReactIndex(ctx context.Context, n int) error {
	if n > len(indexEmojis) {
		return fmt.Errorf("flow %s: %d choices exceeds the %d available numbered reactions", f.name, n, len(indexEmojis))
	}
	for i := 0; i < n; i++ {
		if err := f.attachReply(ctx, indexEmojis[i], strconv.Itoa(i+1), true); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flow) attachReply(ctx context.Context, emoji, reply string, once bool) error {
	f.mu.Lock()
	ref := f.lastRef
	f.mu.Unlock()
	if ref.Zero() {
		return fmt.Errorf("flow %s: no message to attach %s to", f.name, emoji)
	}
	return f.attach(ctx, ref, emoji, reaction.Handlers{OnClick: f.SimulateReply(reply)}, once)
}

func (f *Flow) attach(ctx context.Context, ref platform.MessageRef, emoji string, h reaction.Handlers, once bool) error {
	if err := f.deps.Sender.React(ctx, ref, emoji); err != nil {
		if platform.IsGone(err) {
			slog.Warn("affordance target vanished", "flow", f.name, "emoji", emoji, "message", ref.ID)
			return nil
		}
		return fmt.Errorf("flow %s: seeding affordance %s: %w", f.name, emoji, err)
	}
	f.deps.Reactions.Register(ref, emoji, h, once)
	f.trackCard(ref)
	return nil
}
