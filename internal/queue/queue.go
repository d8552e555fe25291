// Package queue is the durable log of pending actions: server effects recorded
// while offline and not yet confirmed.
//
// The log lives in the pending_actions collection of the local store. Actions
// are read oldest first and removed one at a time after their replay is
// confirmed; nothing is dequeued or locked on read.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JhanGutierrez/ventry/internal/model"
	"github.com/JhanGutierrez/ventry/internal/store"
)

var actions = store.NewCollection(store.Schema[model.PendingAction]{
	Name: store.CollectionPendingActions,
	Key:  func(a model.PendingAction) string { return a.ID },
})

// Queue is the pending action log.
//
// Thread-safety: every method is a single store transaction, so Queue is safe
// for concurrent use. The sync orchestrator is expected to be its only
// remover.
type Queue struct {
	store  *store.Store
	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// New returns a queue backed by s.
func New(s *store.Store, opts ...Option) *Queue {
	q := &Queue{store: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue durably appends a. It returns once the write is committed.
// An action id that is already queued is a DUPLICATE_KEY storage error.
func (q *Queue) Enqueue(ctx context.Context, a model.PendingAction) error {
	return q.EnqueueTx(ctx, q.store, a)
}

// EnqueueTx appends a on h, so the action commits together with the
// optimistic records written in the same store transaction.
func (q *Queue) EnqueueTx(ctx context.Context, h store.Handle, a model.PendingAction) error {
	if a.Intent == nil {
		return model.NewValidationError("enqueue", model.CodeInvalidInput,
			fmt.Errorf("pending action %s has no intent", a.ID))
	}
	if err := actions.Add(ctx, h, a); err != nil {
		return err
	}

	q.logger.Debug("action enqueued",
		"event", "enqueue",
		"action_id", a.ID,
		"entity", a.Intent.Entity(),
		"intent", a.Intent.Kind(),
	)
	return nil
}

// Drain returns every queued action, oldest first. It does not remove them.
func (q *Queue) Drain(ctx context.Context) ([]model.PendingAction, error) {
	return actions.GetAll(ctx, q.store)
}

// Remove deletes the action with the given id. Removing an id that is not
// queued is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.RemoveTx(ctx, q.store, id)
}

// RemoveTx deletes the action on h, so the removal commits together with the
// server records written for it.
func (q *Queue) RemoveTx(ctx context.Context, h store.Handle, id string) error {
	if err := actions.Delete(ctx, h, id); err != nil {
		return err
	}
	q.logger.Debug("action removed", "event", "remove", "action_id", id)
	return nil
}

// Len returns the number of queued actions.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return actions.Count(ctx, q.store)
}
