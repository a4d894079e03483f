package ban

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and
// flushes test keys before returning. Tests that call this helper require a
// running Redis on localhost:6379 and are skipped otherwise.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		for _, pattern := range []string{BanPrefix + "test_*", OffensesPrefix + "test_*"} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStore(client)
}

func TestIsBannedNotBanned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	banned, remaining, reason, err := store.IsBanned(ctx, "test_no_ban")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if banned {
		t.Errorf("expected not banned, got banned (remaining=%v reason=%q)", remaining, reason)
	}
}

func TestBanEscalation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d, err := store.Ban(ctx, "test_repeat", "harassment")
	if err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if d != BanFirst {
		t.Errorf("first offense duration = %v, want %v", d, BanFirst)
	}

	banned, remaining, reason, err := store.IsBanned(ctx, "test_repeat")
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if !banned || reason != "harassment" {
		t.Errorf("IsBanned = %v, %q", banned, reason)
	}
	if remaining <= 0 || remaining > BanFirst {
		t.Errorf("remaining = %v", remaining)
	}

	if d, _ = store.Ban(ctx, "test_repeat", "harassment again"); d != BanSecond {
		t.Errorf("second offense duration = %v, want %v", d, BanSecond)
	}
	if d, _ = store.Ban(ctx, "test_repeat", "again"); d != BanThird {
		t.Errorf("third offense duration = %v, want %v", d, BanThird)
	}
	if d, _ = store.Ban(ctx, "test_repeat", "again"); d != BanThird {
		t.Errorf("fourth offense duration = %v, want %v", d, BanThird)
	}
}

func TestUnban(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Ban(ctx, "test_unban", "spam"); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if err := store.Unban(ctx, "test_unban"); err != nil {
		t.Fatalf("Unban: %v", err)
	}
	banned, _, _, err := store.IsBanned(ctx, "test_unban")
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if banned {
		t.Error("still banned after Unban")
	}

	// Unban keeps the offense counter: the next ban still escalates.
	d, err := store.Ban(ctx, "test_unban", "spam again")
	if err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if d != BanSecond {
		t.Errorf("post-unban duration = %v, want %v", d, BanSecond)
	}
}
