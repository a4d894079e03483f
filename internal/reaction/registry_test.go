package reaction

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modflow/ModFlow/internal/platform"
)

func ref(id string) platform.MessageRef {
	return platform.MessageRef{Channel: "chan-1", ID: platform.MessageID(id)}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatchClickAndUnclick(t *testing.T) {
	r := NewRegistry()
	var clicks, unclicks, toggles int32
	r.Register(ref("m1"), "👍", Handlers{
		OnClick:   func(ctx context.Context, u platform.UserID) error { atomic.AddInt32(&clicks, 1); return nil },
		OnUnclick: func(ctx context.Context, u platform.UserID) error { atomic.AddInt32(&unclicks, 1); return nil },
		OnToggle: func(ctx context.Context, u platform.UserID, added bool) error {
			atomic.AddInt32(&toggles, 1)
			return nil
		},
	}, false)

	ctx := context.Background()
	r.Dispatch(ctx, platform.ReactionEvent{Ref: ref("m1"), User: "alice", Emoji: "👍", Added: true})
	r.Dispatch(ctx, platform.ReactionEvent{Ref: ref("m1"), User: "alice", Emoji: "👍", Added: false})

	waitFor(t, func() bool {
		return atomic.LoadInt32(&clicks) == 1 && atomic.LoadInt32(&unclicks) == 1 && atomic.LoadInt32(&toggles) == 2
	})
}

func TestDispatchIgnoresUnboundAndSelf(t *testing.T) {
	r := NewRegistry()
	var fired int32
	r.Register(ref("m1"), "👍", Handlers{
		OnClick: func(ctx context.Context, u platform.UserID) error { atomic.AddInt32(&fired, 1); return nil },
	}, false)

	ctx := context.Background()
	// Wrong emoji, wrong message, and the bot's own reaction.
	r.Dispatch(ctx, platform.ReactionEvent{Ref: ref("m1"), User: "alice", Emoji: "👎", Added: true})
	r.Dispatch(ctx, platform.ReactionEvent{Ref: ref("m2"), User: "alice", Emoji: "👍", Added: true})
	r.Dispatch(ctx, platform.ReactionEvent{Ref: ref("m1"), User: "bot", Emoji: "👍", Added: true, BotSelf: true})

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Errorf("fired = %d, want 0", fired)
	}
}

func TestOncePerCardGroupExclusivity(t *testing.T) {
	r := NewRegistry()
	var fired int32
	var firedEmoji atomic.Value
	for _, emoji := range []string{"1️⃣", "2️⃣", "3️⃣"} {
		e := emoji
		r.Register(ref("menu"), e, Handlers{
			OnClick: func(ctx context.Context, u platform.UserID) error {
				atomic.AddInt32(&fired, 1)
				firedEmoji.Store(e)
				return nil
			},
		}, true)
	}

	// Activate every option concurrently; exactly one may win.
	ctx := context.Background()
	var wg sync.WaitGroup
	for _, emoji := range []string{"1️⃣", "2️⃣", "3️⃣"} {
		wg.Add(1)
		go func(e string) {
			defer wg.Done()
			r.Dispatch(ctx, platform.ReactionEvent{Ref: ref("menu"), User: "alice", Emoji: e, Added: true})
		}(emoji)
	}
	wg.Wait()

	waitFor(t, func() bool { return atomic.LoadInt32(&fired) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("fired = %d, want exactly 1", got)
	}
	if r.Bound(ref("menu")) {
		t.Error("bindings should all be removed after a oncePerCard activation")
	}

	// Re-dispatching the winner is also a no-op now.
	if e, ok := firedEmoji.Load().(string); ok {
		r.Dispatch(ctx, platform.ReactionEvent{Ref: ref("menu"), User: "bob", Emoji: e, Added: true})
		time.Sleep(50 * time.Millisecond)
		if got := atomic.LoadInt32(&fired); got != 1 {
			t.Errorf("fired = %d after replay, want 1", got)
		}
	}
}

func TestDeregisterCard(t *testing.T) {
	r := NewRegistry()
	var fired int32
	r.Register(ref("m1"), "👍", Handlers{
		OnClick: func(ctx context.Context, u platform.UserID) error { atomic.AddInt32(&fired, 1); return nil },
	}, false)
	r.Register(ref("m1"), "👎", Handlers{
		OnClick: func(ctx context.Context, u platform.UserID) error { atomic.AddInt32(&fired, 1); return nil },
	}, false)

	r.DeregisterCard(ref("m1"))
	if r.Bound(ref("m1")) {
		t.Error("card should have no bindings after DeregisterCard")
	}

	r.Dispatch(context.Background(), platform.ReactionEvent{Ref: ref("m1"), User: "alice", Emoji: "👍", Added: true})
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Errorf("fired = %d, want 0", fired)
	}
}

func TestRegisterReplacesBinding(t *testing.T) {
	r := NewRegistry()
	var first, second int32
	r.Register(ref("m1"), "👍", Handlers{
		OnClick: func(ctx context.Context, u platform.UserID) error { atomic.AddInt32(&first, 1); return nil },
	}, false)
	r.Register(ref("m1"), "👍", Handlers{
		OnClick: func(ctx context.Context, u platform.UserID) error { atomic.AddInt32(&second, 1); return nil },
	}, false)

	r.Dispatch(context.Background(), platform.ReactionEvent{Ref: ref("m1"), User: "alice", Emoji: "👍", Added: true})
	waitFor(t, func() bool { return atomic.LoadInt32(&second) == 1 })
	if atomic.LoadInt32(&first) != 0 {
		t.Error("replaced handler should not fire")
	}
}
