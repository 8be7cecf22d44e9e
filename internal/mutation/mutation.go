// Package mutation runs optimistic changes to the inbox: the local change is
// applied first, the remote call confirms it, and a failure compensates.
package mutation

import (
	"context"
	"fmt"
	"log/slog"

	"inboxsync/internal/domain"
	"inboxsync/internal/event"
)

// Command is one optimistic mutation.
type Command interface {
	// Apply makes the local change.
	Apply(ctx context.Context) error
	// Confirm performs the remote call.
	Confirm(ctx context.Context) error
	// Commit runs after a successful Confirm.
	Commit(ctx context.Context)
	// Compensate undoes or repairs the local change after Confirm failed.
	Compensate(ctx context.Context, cause error)
}

// Execute runs cmd. A failed Confirm is compensated and reported wrapped in
// domain.ErrMutationFailed.
func Execute(ctx context.Context, cmd Command) error {
	if err := cmd.Apply(ctx); err != nil {
		return err
	}
	if err := cmd.Confirm(ctx); err != nil {
		cmd.Compensate(ctx, err)
		return fmt.Errorf("%w: %w", domain.ErrMutationFailed, err)
	}
	cmd.Commit(ctx)
	return nil
}

type Store interface {
	Snapshot() []domain.ConversationSummary
	RemovePending(ids []string) int
	Settle(ids []string, confirmed bool)
}

type Remote interface {
	BulkDelete(ctx context.Context, ids []string) error
}

type Emitter interface {
	Emit(ctx context.Context, env event.Envelope) error
}

type Refresher interface {
	Refresh(ctx context.Context, explicit bool) error
}

// Selection is cleared after a confirmed delete.
type Selection interface {
	Clear()
}

type Options struct {
	Emitter   Emitter
	Selection Selection
	Logger    *slog.Logger
}

type Coordinator struct {
	store     Store
	remote    Remote
	refresher Refresher
	emitter   Emitter
	selection Selection
	logger    *slog.Logger
}

func NewCoordinator(store Store, remote Remote, refresher Refresher, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		store:     store,
		remote:    remote,
		refresher: refresher,
		emitter:   opts.Emitter,
		selection: opts.Selection,
		logger:    opts.Logger.With("component", "mutation"),
	}
}

// BulkDelete optimistically removes ids and confirms with the server. On
// failure the list is rebuilt from a fresh snapshot and the returned error
// wraps domain.ErrMutationFailed.
func (c *Coordinator) BulkDelete(ctx context.Context, ids []string) error {
	ids = unique(ids)
	if len(ids) == 0 {
		return nil
	}
	return Execute(ctx, &deleteCommand{c: c, ids: ids})
}

// DeleteOne is BulkDelete for a single conversation.
func (c *Coordinator) DeleteOne(ctx context.Context, id string) error {
	return c.BulkDelete(ctx, []string{id})
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type deleteCommand struct {
	c       *Coordinator
	ids     []string
	capture []domain.ConversationSummary
}

func (d *deleteCommand) Apply(context.Context) error {
	d.capture = d.c.store.Snapshot()
	removed := d.c.store.RemovePending(d.ids)
	d.c.logger.Debug("optimistic delete", "requested", len(d.ids), "removed", removed)
	return nil
}

func (d *deleteCommand) Confirm(ctx context.Context) error {
	if err := d.c.remote.BulkDelete(ctx, d.ids); err != nil {
		return fmt.Errorf("bulk delete %d conversations: %w", len(d.ids), err)
	}
	return nil
}

func (d *deleteCommand) Commit(ctx context.Context) {
	d.capture = nil
	d.c.store.Settle(d.ids, true)

	if d.c.emitter != nil {
		for _, id := range d.ids {
			env, err := event.New(event.ConversationDeleted, id, nil)
			if err == nil {
				err = d.c.emitter.Emit(ctx, env)
			}
			if err != nil {
				d.c.logger.Debug("conversationDeleted not propagated", "conversation_id", id, "error", err)
			}
		}
	}
	if d.c.selection != nil {
		d.c.selection.Clear()
	}
	d.c.logger.Info("conversations deleted", "count", len(d.ids))
}

// Compensate drops the captured list and rebuilds from a fresh snapshot.
func (d *deleteCommand) Compensate(ctx context.Context, cause error) {
	d.c.logger.Warn("delete rejected, refreshing", "count", len(d.ids), "captured", len(d.capture), "error", cause)
	d.capture = nil
	d.c.store.Settle(d.ids, false)
	if err := d.c.refresher.Refresh(context.WithoutCancel(ctx), false); err != nil {
		d.c.logger.Warn("refresh after rejected delete failed", "error", err)
	}
}
