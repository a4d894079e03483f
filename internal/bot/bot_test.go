package bot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/modflow/ModFlow/internal/classify"
	"github.com/modflow/ModFlow/internal/flow"
	"github.com/modflow/ModFlow/internal/metrics"
	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/reaction"
	"github.com/modflow/ModFlow/internal/report"
	"github.com/modflow/ModFlow/internal/store"
	"github.com/modflow/ModFlow/internal/testutil"
)

type botFixture struct {
	bot     *Bot
	sender  *testutil.FakeSender
	archive *store.InMemoryStore
	desk    *report.Desk
	reg     *reaction.Registry
}

var knownImageBytes = []byte("known-image-bytes")

func newBotFixture(t *testing.T, mods ...func(*Opts)) *botFixture {
	t.Helper()
	sender := testutil.NewFakeSender()
	reg := reaction.NewRegistry()
	archive := store.NewInMemoryStore()
	if err := archive.AddKnownImage(report.HashImage(knownImageBytes)); err != nil {
		t.Fatalf("AddKnownImage: %v", err)
	}
	desk := report.NewDesk(report.DeskOpts{
		Deps:        report.Deps{Sender: sender, Reactions: reg},
		Store:       archive,
		ModChannels: []platform.ChannelID{"mods"},
		DMChannel: func(u platform.UserID) platform.ChannelID {
			return platform.ChannelID(u)
		},
	})
	scorer := &testutil.StaticScorer{
		TextScores: map[string]map[string]float64{
			"nasty text":   {classify.AttrThreat: 0.8},
			"worrying msg": {classify.AttrThreat: 0.7},
		},
	}
	opts := Opts{
		Sender:     sender,
		Reactions:  reg,
		Desk:       desk,
		Classifier: classify.New(scorer, archive),
		Hashes:     archive,
	}
	for _, mod := range mods {
		mod(&opts)
	}
	b := New(opts)
	return &botFixture{bot: b, sender: sender, archive: archive, desk: desk, reg: reg}
}

func channelMessage(id, from, text string) platform.Event {
	return platform.Event{Message: &platform.MessageEvent{
		Ref:  platform.MessageRef{Channel: "general", ID: platform.MessageID(id)},
		From: platform.UserID(from),
		Text: text,
	}}
}

func dm(from, text string) platform.Event {
	return platform.Event{Message: &platform.MessageEvent{
		Ref:  platform.MessageRef{Channel: platform.ChannelID(from), ID: "dm-msg"},
		From: platform.UserID(from),
		Text: text,
		DM:   true,
	}}
}

func textsTo(sender *testutil.FakeSender, channel platform.ChannelID) []string {
	var out []string
	for _, m := range sender.Sent() {
		if m.Channel == channel && m.Kind == "text" {
			out = append(out, m.Text)
		}
	}
	return out
}

func hasReaction(sender *testutil.FakeSender, ref platform.MessageRef, emoji string) bool {
	for _, e := range sender.Reactions(ref) {
		if e == emoji {
			return true
		}
	}
	return false
}

// waitFor polls for a condition set by a reaction handler, which runs on its
// own goroutine.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within a second")
}

// grayPNG encodes a small valid PNG for attachment round-trips.
func grayPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestDMWithoutFlowGetsHint(t *testing.T) {
	fx := newBotFixture(t)
	fx.bot.Dispatch(context.Background(), dm("carol", "hello there"))

	texts := textsTo(fx.sender, "carol")
	if len(texts) != 1 || !strings.Contains(texts[0], "Reply `report`") {
		t.Errorf("carol got %v, want the usage hint", texts)
	}
}

func TestDMStartKeywordOpensIntake(t *testing.T) {
	fx := newBotFixture(t)
	ctx := context.Background()
	fx.bot.Dispatch(ctx, dm("dave", "report"))

	texts := textsTo(fx.sender, "dave")
	if len(texts) == 0 || !strings.Contains(texts[0], "Thanks for helping") {
		t.Fatalf("dave got %v, want the intake intro", texts)
	}
	if fx.bot.activeFlow("dave") == nil {
		t.Error("no active flow for dave after the start keyword")
	}

	// Follow-up DMs are routed into the open flow, not answered with the
	// hint.
	fx.bot.Dispatch(ctx, dm("dave", "not-a-link"))
	for _, text := range textsTo(fx.sender, "dave") {
		if strings.Contains(text, "Reply `report`") {
			t.Error("hint sent while a flow was active")
		}
	}
}

func TestFlowHandlerErrorReachesSubject(t *testing.T) {
	fx := newBotFixture(t)
	ctx := context.Background()
	states := map[flow.StateTag]flow.State{
		"BROKEN": {OnMessage: func(ctx context.Context, text string) error {
			return errors.New("handler exploded")
		}},
	}
	f := flow.New("glitchy", "erin", "erin", states, flow.Dependencies{Sender: fx.sender, Reactions: fx.reg})
	if err := f.TransitionTo(ctx, "BROKEN", false); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	fx.bot.pushFlow(f)

	fx.bot.Dispatch(ctx, dm("erin", "anything"))
	var surfaced bool
	for _, text := range textsTo(fx.sender, "erin") {
		if strings.Contains(text, "handler exploded") {
			surfaced = true
		}
	}
	if !surfaced {
		t.Errorf("handler error never reached erin, got %v", textsTo(fx.sender, "erin"))
	}
}

func TestFlaggedMessageWithheldAndResentOnYes(t *testing.T) {
	fx := newBotFixture(t)
	ctx := context.Background()
	fx.bot.Dispatch(ctx, channelMessage("m1", "bob", "nasty text"))

	if len(textsTo(fx.sender, "bob")) == 0 {
		t.Fatal("author was not contacted about the withheld message")
	}

	fx.bot.Dispatch(ctx, dm("bob", "yes"))
	var resent bool
	for _, text := range textsTo(fx.sender, "general") {
		if strings.Contains(text, "bob said:") && strings.Contains(text, "nasty text") {
			resent = true
		}
	}
	if !resent {
		t.Error("confirmed message was not reposted to its channel")
	}

	reports, err := fx.archive.ListOpenReports()
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].Kind != "automated" {
		t.Errorf("archived reports = %+v, want one automated report", reports)
	}
}

func TestWithheldMessageCountsInMetrics(t *testing.T) {
	fx := newBotFixture(t)
	counter := metrics.ContentFlagged.WithLabelValues(string(models.CategoryViolence))
	before := promtest.ToFloat64(counter)

	fx.bot.Dispatch(context.Background(), channelMessage("m1", "bob", "nasty text"))
	if got := promtest.ToFloat64(counter) - before; got != 1 {
		t.Errorf("flagged counter moved by %v, want 1", got)
	}
}

func TestCleanMessageLeavesNoTrace(t *testing.T) {
	fx := newBotFixture(t)
	fx.bot.Dispatch(context.Background(), channelMessage("m1", "bob", "all good here"))

	if sent := fx.sender.Sent(); len(sent) != 0 {
		t.Errorf("clean message triggered %d sends", len(sent))
	}
}

func TestBannedAuthorMessagesRemoved(t *testing.T) {
	banner := &stubBanner{banned: map[string]time.Duration{"bob": 3 * time.Hour}}
	fx := newBotFixture(t, func(o *Opts) { o.Banner = banner })
	fx.bot.Dispatch(context.Background(), channelMessage("m1", "bob", "nasty text"))

	texts := textsTo(fx.sender, "bob")
	if len(texts) != 1 || !strings.Contains(texts[0], "banned from posting") {
		t.Fatalf("bob got %v, want only the ban notice", texts)
	}
	if !strings.Contains(texts[0], "3h0m0s") {
		t.Errorf("ban notice %q lacks the remaining duration", texts[0])
	}

	// The message never reaches the scanner: nothing is withheld or filed,
	// even though the text would flag.
	reports, err := fx.archive.ListOpenReports()
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 0 {
		t.Errorf("banned user's message filed %d reports", len(reports))
	}
}

type stubBanner struct {
	banned map[string]time.Duration
}

func (s *stubBanner) Ban(ctx context.Context, user, reason string) (time.Duration, error) {
	return 24 * time.Hour, nil
}

func (s *stubBanner) IsBanned(ctx context.Context, user string) (bool, time.Duration, string, error) {
	d, ok := s.banned[user]
	return ok, d, "earlier removal", nil
}

func TestKnownImageReportedImmediately(t *testing.T) {
	fx := newBotFixture(t)
	ctx := context.Background()
	fx.bot.Dispatch(ctx, platform.Event{Message: &platform.MessageEvent{
		Ref:       platform.MessageRef{Channel: "general", ID: "m-img"},
		From:      "bob",
		ImageData: [][]byte{knownImageBytes},
	}})

	reports, err := fx.archive.ListOpenReports()
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("archived %d reports, want 1", len(reports))
	}
	if reports[0].Kind != "automated" || reports[0].Urgency != 4 {
		t.Errorf("report = %+v, want automated at maximum urgency", reports[0])
	}
	// The author sees only the ordinary confirmation conversation.
	if len(textsTo(fx.sender, "bob")) == 0 {
		t.Error("author got no decoy conversation")
	}

	// Confirming never reposts hash-matched content.
	fx.bot.Dispatch(ctx, dm("bob", "yes"))
	if got := textsTo(fx.sender, "general"); len(got) != 0 {
		t.Errorf("content reposted: %v", got)
	}
}

func TestImageConfirmationBlocksReuploads(t *testing.T) {
	fx := newBotFixture(t)
	ctx := context.Background()
	evidence := grayPNG(t)

	r, err := fx.desk.File(ctx, report.Intake{
		Kind:        report.KindAutomated,
		Category:    models.CategoryCSAM,
		Subject:     "bob",
		Content:     "[image attachment]",
		ContentRef:  platform.MessageRef{Channel: "general", ID: "m-ev"},
		Attachments: [][]byte{evidence},
		Urgent:      true,
	})
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if err := r.Claim(ctx, "mod"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if fx.bot.activeFlow("mod") == nil {
		t.Fatal("claim did not open a review conversation")
	}

	// Asking for the image delivers a softened copy, never the original.
	fx.bot.Dispatch(ctx, dm("mod", "image"))
	var delivered bool
	for _, m := range fx.sender.Sent() {
		if m.Channel == "mod" && m.Kind == "file" && strings.Contains(m.Name, "evidence") {
			delivered = true
		}
	}
	if !delivered {
		t.Error("no evidence file reached the reviewer")
	}

	fx.bot.Dispatch(ctx, dm("mod", "confirm"))
	known, err := fx.archive.IsKnownImage(report.HashImage(evidence))
	if err != nil {
		t.Fatal(err)
	}
	if !known {
		t.Fatal("confirmed image missing from the hash list")
	}

	// A re-upload of the confirmed image is removed and reported on sight.
	fx.bot.Dispatch(ctx, platform.Event{Message: &platform.MessageEvent{
		Ref:       platform.MessageRef{Channel: "general", ID: "m-again"},
		From:      "eve",
		ImageData: [][]byte{evidence},
	}})
	reports, err := fx.archive.ListOpenReports()
	if err != nil {
		t.Fatal(err)
	}
	var reupload bool
	for _, rec := range reports {
		if rec.Subject == "eve" && rec.Kind == "automated" {
			reupload = true
		}
	}
	if !reupload {
		t.Errorf("re-upload not reported, open reports = %+v", reports)
	}
}

func TestBorderlineMessageGetsMarker(t *testing.T) {
	fx := newBotFixture(t)
	ref := platform.MessageRef{Channel: "general", ID: "m1"}
	fx.bot.Dispatch(context.Background(), channelMessage("m1", "bob", "worrying msg"))

	if !hasReaction(fx.sender, ref, SOSEmoji) {
		t.Errorf("reactions = %v, want the support marker", fx.sender.Reactions(ref))
	}
	// The marker is the whole intervention: nobody is messaged and nothing
	// is filed until someone clicks it.
	if got := textsTo(fx.sender, "bob"); len(got) != 0 {
		t.Errorf("marker messaged the author: %v", got)
	}
	reports, err := fx.archive.ListOpenReports()
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 0 {
		t.Errorf("marker filed %d reports", len(reports))
	}
}

func TestCleanAttachmentGetsMarker(t *testing.T) {
	fx := newBotFixture(t)
	ref := platform.MessageRef{Channel: "general", ID: "m-pic"}
	fx.bot.Dispatch(context.Background(), platform.Event{Message: &platform.MessageEvent{
		Ref:       ref,
		From:      "bob",
		Text:      "look at this",
		ImageData: [][]byte{[]byte("holiday-photo")},
	}})

	if !hasReaction(fx.sender, ref, SOSEmoji) {
		t.Errorf("reactions = %v, want the support marker on the attachment", fx.sender.Reactions(ref))
	}
	for _, m := range fx.sender.Sent() {
		if m.Kind == "text" {
			t.Errorf("attachment marker sent a message: %q", m.Text)
		}
	}
}

func TestMarkerClickOpensOutreachForClicker(t *testing.T) {
	fx := newBotFixture(t)
	ctx := context.Background()
	ref := platform.MessageRef{Channel: "general", ID: "m1"}
	fx.bot.Dispatch(ctx, channelMessage("m1", "bob", "worrying msg"))

	fx.bot.Dispatch(ctx, platform.Event{Reaction: &platform.ReactionEvent{
		Ref:   ref,
		User:  "carol",
		Emoji: SOSEmoji,
		Added: true,
	}})

	// The clicker, not the author, gets the outreach conversation.
	waitFor(t, func() bool {
		for _, text := range textsTo(fx.sender, "carol") {
			if strings.Contains(text, "wanted to check in") {
				return true
			}
		}
		return false
	})
	if got := textsTo(fx.sender, "bob"); len(got) != 0 {
		t.Errorf("outreach leaked to the author: %v", got)
	}
}

func TestFlaggedEditStartsGracePeriod(t *testing.T) {
	fx := newBotFixture(t)
	ctx := context.Background()
	fx.bot.Dispatch(ctx, channelMessage("m1", "bob", "all good here"))
	fx.bot.Dispatch(ctx, platform.Event{Message: &platform.MessageEvent{
		Ref:    platform.MessageRef{Channel: "general", ID: "m1"},
		From:   "bob",
		Text:   "nasty text",
		Edited: true,
	}})

	var countdown bool
	for _, m := range fx.sender.Sent() {
		if m.Channel == "bob" && m.Kind == "card" && m.Card.Title == "Time remaining" {
			countdown = true
		}
	}
	if !countdown {
		t.Error("flagged edit did not start the countdown conversation")
	}
}

func TestResolveMessageFollowsAliases(t *testing.T) {
	fx := newBotFixture(t)
	ctx := context.Background()
	fx.bot.Dispatch(ctx, channelMessage("m1", "bob", "all good here"))

	ev, err := fx.bot.resolveMessage(ctx, "general/m1")
	if err != nil {
		t.Fatalf("resolveMessage(general/m1): %v", err)
	}
	if ev.From != "bob" {
		t.Errorf("resolved author = %q, want bob", ev.From)
	}

	// A bare id scans the recent history.
	if _, err := fx.bot.resolveMessage(ctx, "m1"); err != nil {
		t.Errorf("resolveMessage(m1): %v", err)
	}

	// A repost alias resolves to the original message.
	repost := platform.MessageRef{Channel: "general", ID: "m2"}
	fx.bot.addAlias(repost, platform.MessageRef{Channel: "general", ID: "m1"})
	ev, err = fx.bot.resolveMessage(ctx, "general/m2")
	if err != nil {
		t.Fatalf("resolveMessage(general/m2): %v", err)
	}
	if ev.Ref.ID != "m1" {
		t.Errorf("alias resolved to %q, want m1", ev.Ref.ID)
	}

	if _, err := fx.bot.resolveMessage(ctx, "nowhere/nothing"); err == nil {
		t.Error("unknown link did not error")
	}
}

func TestReactionEventsReachRegistry(t *testing.T) {
	fx := newBotFixture(t)
	ref := platform.MessageRef{Channel: "general", ID: "m1"}
	clicked := make(chan platform.UserID, 1)
	fx.reg.Register(ref, "✅", reaction.Handlers{
		OnClick: func(ctx context.Context, user platform.UserID) error {
			clicked <- user
			return nil
		},
	}, false)

	fx.bot.Dispatch(context.Background(), platform.Event{Reaction: &platform.ReactionEvent{
		Ref:   ref,
		User:  "carol",
		Emoji: "✅",
		Added: true,
	}})

	select {
	case user := <-clicked:
		if user != "carol" {
			t.Errorf("handler saw user %q, want carol", user)
		}
	case <-time.After(time.Second):
		t.Fatal("reaction handler never fired")
	}
}
