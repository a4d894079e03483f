// Package reaction implements emoji-affordance dispatch: handlers bound to
// (message, emoji) pairs, invoked when users add or remove reactions. The
// registry is an injected dependency, not package state, so tests and the
// router each own their instance.
package reaction

import (
	"context"
	"log/slog"
	"sync"

	"github.com/modflow/ModFlow/internal/platform"
)

// Handlers holds the callbacks for one binding. Any subset may be set.
// OnToggle fires for both added and removed events, after the direction
// specific callback.
type Handlers struct {
	OnClick   func(ctx context.Context, user platform.UserID) error
	OnUnclick func(ctx context.Context, user platform.UserID) error
	OnToggle  func(ctx context.Context, user platform.UserID, added bool) error
}

type bindingKey struct {
	ref   platform.MessageRef
	emoji string
}

type binding struct {
	handlers    Handlers
	oncePerCard bool
}

// Registry maps (message, emoji) pairs to handlers and dispatches inbound
// reaction events to them. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	bindings map[bindingKey]*binding
	byCard   map[platform.MessageRef][]bindingKey
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[bindingKey]*binding),
		byCard:   make(map[platform.MessageRef][]bindingKey),
	}
}

// Register binds handlers to a reaction emoji on a message. A oncePerCard
// binding belongs to an exclusive group: its first activation removes every
// binding on the same message, so at most one such affordance ever fires.
// Registering the same (message, emoji) pair again replaces the old binding.
func (r *Registry) Register(ref platform.MessageRef, emoji string, h Handlers, oncePerCard bool) {
	key := bindingKey{ref: ref, emoji: emoji}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bindings[key]; !exists {
		r.byCard[ref] = append(r.byCard[ref], key)
	}
	r.bindings[key] = &binding{handlers: h, oncePerCard: oncePerCard}
	slog.Debug("reaction.Register", "channel", ref.Channel, "message", ref.ID, "emoji", emoji, "oncePerCard", oncePerCard)
}

// Deregister removes one binding. Unknown bindings are ignored.
func (r *Registry) Deregister(ref platform.MessageRef, emoji string) {
	key := bindingKey{ref: ref, emoji: emoji}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(key)
}

// DeregisterCard removes every binding on a message, e.g. when the message
// is deleted or its flow closes.
func (r *Registry) DeregisterCard(ref platform.MessageRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearCardLocked(ref)
}

func (r *Registry) removeLocked(key bindingKey) {
	if _, ok := r.bindings[key]; !ok {
		return
	}
	delete(r.bindings, key)
	keys := r.byCard[key.ref]
	for i, k := range keys {
		if k == key {
			r.byCard[key.ref] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(r.byCard[key.ref]) == 0 {
		delete(r.byCard, key.ref)
	}
}

func (r *Registry) clearCardLocked(ref platform.MessageRef) {
	for _, key := range r.byCard[ref] {
		delete(r.bindings, key)
	}
	delete(r.byCard, ref)
}

// Bound reports whether any binding exists on the message.
func (r *Registry) Bound(ref platform.MessageRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byCard[ref]) > 0
}

// Dispatch routes a reaction event to the matching binding, if any, and
// runs the handlers in a new goroutine. For a oncePerCard binding, all
// bindings on the message are removed before the handler starts, so a
// concurrent second activation finds nothing to fire. Dispatch itself never
// blocks on handler work; handler errors are logged.
func (r *Registry) Dispatch(ctx context.Context, ev platform.ReactionEvent) {
	if ev.BotSelf {
		return
	}
	key := bindingKey{ref: ev.Ref, emoji: ev.Emoji}
	r.mu.Lock()
	b, ok := r.bindings[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	if ev.Added && b.oncePerCard {
		r.clearCardLocked(ev.Ref)
	}
	r.mu.Unlock()

	go r.invoke(ctx, b.handlers, ev)
}

func (r *Registry) invoke(ctx context.Context, h Handlers, ev platform.ReactionEvent) {
	if ev.Added && h.OnClick != nil {
		if err := h.OnClick(ctx, ev.User); err != nil {
			slog.Error("reaction handler failed", "emoji", ev.Emoji, "message", ev.Ref.ID, "kind", "click", "error", err)
		}
	}
	if !ev.Added && h.OnUnclick != nil {
		if err := h.OnUnclick(ctx, ev.User); err != nil {
			slog.Error("reaction handler failed", "emoji", ev.Emoji, "message", ev.Ref.ID, "kind", "unclick", "error", err)
		}
	}
	if h.OnToggle != nil {
		if err := h.OnToggle(ctx, ev.User, ev.Added); err != nil {
			slog.Error("reaction handler failed", "emoji", ev.Emoji, "message", ev.Ref.ID, "kind", "toggle", "error", err)
		}
	}
}
