package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/modflow/ModFlow/internal/classify"
	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/reaction"
	"github.com/modflow/ModFlow/internal/store"
	"github.com/modflow/ModFlow/internal/testutil"
)

type editedFixture struct {
	flow      *EditedMessageFlow
	sender    *testutil.FakeSender
	archive   *store.InMemoryStore
	deletes   int
	respoiled int
	rescore   func(text string) classify.Verdict
}

func newEditedFixture(t *testing.T) *editedFixture {
	t.Helper()
	fx := &editedFixture{
		sender: testutil.NewFakeSender(),
		rescore: func(text string) classify.Verdict {
			if strings.Contains(text, "nasty") {
				return classify.Verdict{Flagged: true, Category: models.CategoryHarass}
			}
			return classify.Verdict{}
		},
	}
	reg := reaction.NewRegistry()
	desk, archive := newFlowDesk(t, fx.sender, reg)
	fx.archive = archive
	fx.flow = NewEditedMessage(EditedMessageOpts{
		Subject:   "bob",
		DMChannel: "dm-bob",
		Original: platform.MessageEvent{
			Ref:  platform.MessageRef{Channel: "general", ID: "msg-edit"},
			From: "bob",
			Text: "now nasty",
		},
		Verdict: classify.Verdict{Flagged: true, Category: models.CategoryHarass},
		Desk:    desk,
		Deps:    Dependencies{Sender: fx.sender, Reactions: reg},
		Rescore: func(ctx context.Context, text string) (classify.Verdict, error) {
			return fx.rescore(text), nil
		},
		DeleteOriginal: func(ctx context.Context) error {
			fx.deletes++
			return nil
		},
		ResendSpoilered: func(ctx context.Context) error {
			fx.respoiled++
			return nil
		},
	})
	if err := fx.flow.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { fx.flow.Close(context.Background()) })
	return fx
}

func TestEditedFlowIntroducesWithCountdown(t *testing.T) {
	fx := newEditedFixture(t)

	last, ok := fx.sender.LastSent()
	if !ok || last.Kind != "card" {
		t.Fatalf("expected a countdown card, got %+v", last)
	}
	if last.Card.Title != "Time remaining" {
		t.Errorf("card title = %q", last.Card.Title)
	}
	// Full time remaining renders green.
	if last.Card.Color != "#2ecc71" {
		t.Errorf("card color = %q, want green at full time", last.Card.Color)
	}
}

func TestCountdownCardColorsByFraction(t *testing.T) {
	tests := []struct {
		remaining int // percent
		want      string
	}{
		{100, "#2ecc71"},
		{51, "#2ecc71"},
		{50, "#f1c40f"},
		{21, "#f1c40f"},
		{20, "#e67e22"},
		{8, "#e67e22"},
		{7, "#e74c3c"},
		{0, "#e74c3c"},
	}
	for _, tt := range tests {
		card := countdownCard(EditGracePeriod*time.Duration(tt.remaining)/100, EditGracePeriod)
		if card.Color != tt.want {
			t.Errorf("countdownCard(%d%%) color = %q, want %q", tt.remaining, card.Color, tt.want)
		}
	}
}

func TestAcceptableEditEndsFlow(t *testing.T) {
	fx := newEditedFixture(t)

	if err := fx.flow.HandleEdit(context.Background(), "all friendly now"); err != nil {
		t.Fatalf("HandleEdit: %v", err)
	}
	if !fx.flow.Closed() {
		t.Error("flow should close on an acceptable edit")
	}
	if fx.deletes != 0 {
		t.Error("acceptable edit must not delete the message")
	}
	if !strings.Contains(lastTexts(fx.sender), "looks fine now") {
		t.Errorf("missing all-clear notice in %q", lastTexts(fx.sender))
	}
}

func TestUnacceptableEditKeepsTimerRunning(t *testing.T) {
	fx := newEditedFixture(t)

	if err := fx.flow.HandleEdit(context.Background(), "still nasty"); err != nil {
		t.Fatalf("HandleEdit: %v", err)
	}
	if fx.flow.Closed() {
		t.Error("flow should stay open on a still-flagged edit")
	}
	if !strings.Contains(lastTexts(fx.sender), "timer is still running") {
		t.Errorf("missing still-running notice in %q", lastTexts(fx.sender))
	}
}

func TestResendCommandRepostsSpoilered(t *testing.T) {
	fx := newEditedFixture(t)

	answer(t, fx.flow.Flow, "resend")

	if fx.deletes != 1 || fx.respoiled != 1 {
		t.Errorf("deletes = %d respoiled = %d, want 1 and 1", fx.deletes, fx.respoiled)
	}
	if len(openReports(t, fx.archive)) != 1 {
		t.Error("resend should file the report")
	}
	if !fx.flow.Closed() {
		t.Error("flow should close after resend")
	}
}

func TestEditExpiryRemovesMessage(t *testing.T) {
	fx := newEditedFixture(t)

	fx.flow.expire(context.Background())

	if fx.deletes != 1 {
		t.Errorf("deletes = %d, want 1", fx.deletes)
	}
	if fx.respoiled != 0 {
		t.Error("expiry must not repost")
	}
	if len(openReports(t, fx.archive)) != 1 {
		t.Error("expiry should file the report")
	}
	if !fx.flow.Closed() {
		t.Error("flow should close after expiry")
	}
	if !strings.Contains(lastTexts(fx.sender), "Time ran out") {
		t.Errorf("missing expiry notice in %q", lastTexts(fx.sender))
	}
}

func TestHandleEditAfterCloseIsNoop(t *testing.T) {
	fx := newEditedFixture(t)
	fx.flow.Close(context.Background())
	before := len(fx.sender.Sent())

	if err := fx.flow.HandleEdit(context.Background(), "still nasty"); err != nil {
		t.Fatalf("HandleEdit: %v", err)
	}
	if got := len(fx.sender.Sent()); got != before {
		t.Errorf("closed flow sent %d new messages", got-before)
	}
}
