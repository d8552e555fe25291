package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JhanGutierrez/ventry/internal/gateway"
	"github.com/JhanGutierrez/ventry/internal/model"
	"github.com/JhanGutierrez/ventry/internal/queue"
	"github.com/JhanGutierrez/ventry/internal/store"
)

// DefaultActionTimeout bounds the remote calls made for one action.
const DefaultActionTimeout = 30 * time.Second

// State is the orchestrator state.
type State string

const (
	StateIdle    State = "IDLE"
	StateSyncing State = "SYNCING"
)

// Status is the outcome of one start request.
type Status string

const (
	// StatusCompleted means the queue was fully drained.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed means the drain stopped at a failed action.
	StatusFailed Status = "FAILED"
	// StatusSkipped means another drain was already running.
	StatusSkipped Status = "SKIPPED"
)

// Report summarizes one start request.
type Report struct {
	Status    Status
	Replayed  int
	Remaining int
	// Affected lists the store collections the run wrote to, sorted.
	Affected []string
	Err      error
}

// Refresher re-reads collections from the server into the local cache.
// Implemented by *catalog.Catalog.
type Refresher interface {
	Refresh(ctx context.Context, collections ...string) error
}

// Signal is a connectivity stream. Implemented by *connectivity.Monitor.
type Signal interface {
	Subscribe() (<-chan bool, func())
}

// Orchestrator drains the pending action queue.
//
// Thread-safety model:
//   - Start(): safe from any goroutine; concurrent calls collapse to one drain
//   - Run(): call from one goroutine; each online transition starts a drain
//   - Subscribe(), State(): safe from any goroutine
type Orchestrator struct {
	store         *store.Store
	queue         *queue.Queue
	gw            *gateway.Gateway
	syncing       atomic.Bool
	actionTimeout time.Duration
	refresher     Refresher
	logger        *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan Report
	nextID int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithActionTimeout sets the per-action timeout.
//
// Default: 30s (DefaultActionTimeout)
func WithActionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.actionTimeout = d
		}
	}
}

// WithRefresher refreshes the read cache after every fully drained run.
func WithRefresher(r Refresher) Option {
	return func(o *Orchestrator) {
		o.refresher = r
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an idle orchestrator.
func New(s *store.Store, q *queue.Queue, gw *gateway.Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         s,
		queue:         q,
		gw:            gw,
		actionTimeout: DefaultActionTimeout,
		logger:        slog.Default(),
		subs:          make(map[int]chan Report),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns IDLE or SYNCING.
func (o *Orchestrator) State() State {
	if o.syncing.Load() {
		return StateSyncing
	}
	return StateIdle
}

// Start drains the queue unless a drain is already running, in which case it
// returns a SKIPPED report and a nil error.
//
// On failure the returned error is a *DrainError and the report has status
// FAILED. Either way the orchestrator is IDLE again when Start returns.
func (o *Orchestrator) Start(ctx context.Context) (Report, error) {
	if !o.syncing.CompareAndSwap(false, true) {
		o.logger.Info("sync already running, start request ignored", "event", "sync_skipped")
		return Report{Status: StatusSkipped}, nil
	}

	o.logger.Info("sync started", "event", "sync_start")
	report := o.drain(ctx)
	o.syncing.Store(false)

	o.publish(report)
	if report.Err != nil {
		return report, report.Err
	}
	return report, nil
}

// Run starts a drain whenever sig reports online, until ctx is cancelled.
// Drains run on their own goroutine so the signal is never left unread;
// Run waits for the last one before returning.
func (o *Orchestrator) Run(ctx context.Context, sig Signal) error {
	ch, cancel := sig.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case online, ok := <-ch:
			if !ok {
				return nil
			}
			if !online {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = o.Start(ctx)
			}()
		}
	}
}

// Subscribe returns a channel of run reports. A subscriber that falls behind
// only sees the latest report. The cancel func closes the channel.
func (o *Orchestrator) Subscribe() (<-chan Report, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++
	ch := make(chan Report, 1)
	o.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subs, id)
			close(ch)
		})
	}
}

func (o *Orchestrator) publish(r Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- r:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- r:
		default:
		}
	}
}

func (o *Orchestrator) drain(ctx context.Context) Report {
	actions, err := o.queue.Drain(ctx)
	if err != nil {
		o.logger.Error("sync failed to read queue", "event", "sync_failed", "error", err)
		return Report{Status: StatusFailed, Err: err}
	}

	affected := make(map[string]bool)
	for i, action := range actions {
		if err := o.replay(ctx, action, affected); err != nil {
			err = model.WithAction(err, action)
			de := &DrainError{
				ActionID:  action.ID,
				Entity:    action.Intent.Entity(),
				Intent:    action.Intent.Kind(),
				Replayed:  i,
				Remaining: len(actions) - i,
				Err:       err,
			}
			o.logger.Error("sync stopped",
				"event", "sync_failed",
				"action_id", action.ID,
				"entity", action.Intent.Entity(),
				"intent", action.Intent.Kind(),
				"kind", model.KindOf(err),
				"code", model.CodeOf(err),
				"replayed", i,
				"remaining", len(actions)-i,
				"error", err,
			)
			return Report{
				Status:    StatusFailed,
				Replayed:  i,
				Remaining: len(actions) - i,
				Affected:  sortedKeys(affected),
				Err:       de,
			}
		}

		o.logger.Info("action replayed",
			"event", "action_replayed",
			"action_id", action.ID,
			"entity", action.Intent.Entity(),
			"intent", action.Intent.Kind(),
		)
	}

	if o.refresher != nil {
		refreshed := []string{
			store.CollectionWarehouses,
			store.CollectionProducts,
			store.CollectionInventories,
			store.CollectionMovements,
		}
		if err := o.refresher.Refresh(ctx, refreshed...); err != nil {
			o.logger.Warn("cache refresh after sync failed", "event", "refresh_failed", "error", err)
		} else {
			for _, c := range refreshed {
				affected[c] = true
			}
		}
	}

	o.logger.Info("sync completed", "event", "sync_complete", "replayed", len(actions))
	return Report{
		Status:   StatusCompleted,
		Replayed: len(actions),
		Affected: sortedKeys(affected),
	}
}

// replay runs one action under the per-action timeout.
func (o *Orchestrator) replay(ctx context.Context, action model.PendingAction, affected map[string]bool) error {
	actx, cancel := context.WithTimeout(ctx, o.actionTimeout)
	defer cancel()

	r := &replayer{o: o, action: action, affected: affected}
	err := action.Intent.Accept(actx, r)
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !model.IsNetwork(err) && !model.IsStorage(err) {
		err = model.NewNetworkError("replay", model.CodeTimeout, err)
	}
	return err
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
