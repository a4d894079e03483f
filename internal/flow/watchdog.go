package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Watchdog is a cancellable countdown owned by a flow. It ticks at a fixed
// interval, invoking render with the remaining time, and invokes expire when
// the countdown reaches zero. Stop cancels the countdown and joins the
// goroutine, so after Stop (or the owning flow's Close) returns, no further
// tick or expiry can run.
type Watchdog struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	detach   func()
}

// StartWatchdog launches a countdown attached to the flow's lifetime. render
// may be nil; a render error degrades the watchdog to silent counting rather
// than aborting it. expire runs at most once, and never after Stop returns.
func (f *Flow) StartWatchdog(ctx context.Context, total, interval time.Duration, render func(ctx context.Context, remaining time.Duration) error, expire func(ctx context.Context)) *Watchdog {
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &Watchdog{cancel: cancel, done: make(chan struct{})}
	w.detach = func() { f.removeWatchdog(w) }

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cancel()
		close(w.done)
		return w
	}
	f.watchdogs = append(f.watchdogs, w)
	f.mu.Unlock()

	go w.run(wctx, f.name, total, interval, render, expire)
	return w
}

func (w *Watchdog) run(ctx context.Context, flowName string, total, interval time.Duration, render func(ctx context.Context, remaining time.Duration) error, expire func(ctx context.Context)) {
	defer close(w.done)
	deadline := time.Now().Add(total)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	rendering := render != nil
	for {
		select {
		case <-ctx.Done():
			w.detach()
			return
		case <-ticker.C:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				// Detach before expiring: expire may close the owning
				// flow, and Close must not join the goroutine it runs on.
				w.detach()
				expire(ctx)
				return
			}
			if rendering {
				if err := render(ctx, remaining); err != nil {
					slog.Warn("watchdog render failed, counting silently", "flow", flowName, "error", err)
					rendering = false
				}
			}
		}
	}
}

// Stop cancels the countdown and waits for the goroutine to exit. Safe to
// call multiple times and after expiry.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(w.cancel)
	<-w.done
}

func (f *Flow) removeWatchdog(w *Watchdog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, other := range f.watchdogs {
		if other == w {
			f.watchdogs = append(f.watchdogs[:i], f.watchdogs[i+1:]...)
			return
		}
	}
}
