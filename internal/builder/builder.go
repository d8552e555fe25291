// Package builder turns form input into records, online when the backend is
// reachable and optimistically offline when it is not.
//
// Offline, every mutation writes its optimistic records and the pending action
// that will replay them in one store transaction, so the cache and the queue
// never disagree. Client-generated ids are sent as the permanent ids.
package builder

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/JhanGutierrez/ventry/internal/gateway"
	"github.com/JhanGutierrez/ventry/internal/model"
	"github.com/JhanGutierrez/ventry/internal/queue"
	"github.com/JhanGutierrez/ventry/internal/store"
	"github.com/JhanGutierrez/ventry/internal/validate"
)

// Connectivity reports whether the backend is reachable.
// Implemented by *connectivity.Monitor.
type Connectivity interface {
	Current() bool
}

// Mode says whether a mutation reached the server or was queued.
type Mode string

const (
	ModeOnline  Mode = "ONLINE"
	ModeOffline Mode = "OFFLINE"
)

// WarehouseResult is the outcome of CreateWarehouse.
type WarehouseResult struct {
	Warehouse model.Warehouse `json:"warehouse"`
	Mode      Mode            `json:"mode"`
	ActionID  string          `json:"action_id,omitempty"`
}

// ProductResult is the outcome of CreateProduct.
type ProductResult struct {
	Product  model.Product `json:"product"`
	Mode     Mode          `json:"mode"`
	ActionID string        `json:"action_id,omitempty"`
}

// MovementResult is the outcome of RecordMovement. Inventory is the record
// the movement was applied to, with its new quantity.
type MovementResult struct {
	Movement  model.Movement        `json:"movement"`
	Inventory model.InventoryRecord `json:"inventory"`
	Mode      Mode                  `json:"mode"`
	ActionID  string                `json:"action_id,omitempty"`
	Intent    model.IntentKind      `json:"intent,omitempty"`
}

// Builder creates warehouses, products and movements.
//
// Thread-safety: Builder is safe for concurrent use. Offline movements read
// and write the inventory inside one store transaction.
type Builder struct {
	store     *store.Store
	queue     *queue.Queue
	gw        *gateway.Gateway
	conn      Connectivity
	ids       model.IDGenerator
	clock     model.Clock
	validator *validate.Validator
	logger    *slog.Logger
	userID    string
}

// Option configures a Builder.
type Option func(*Builder)

// WithIDGenerator sets the id source. Default: model.UUIDv7Generator.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(b *Builder) {
		b.ids = g
	}
}

// WithClock sets the timestamp source. Default: model.SystemClock.
func WithClock(c model.Clock) Option {
	return func(b *Builder) {
		b.clock = c
	}
}

// WithValidator sets the input validator. Default: validate.New().
func WithValidator(v *validate.Validator) Option {
	return func(b *Builder) {
		b.validator = v
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// WithUserID sets the user recorded on movements whose input names none.
func WithUserID(id string) Option {
	return func(b *Builder) {
		b.userID = id
	}
}

// New returns a builder writing to s and q, reaching the server through gw
// whenever conn reports online.
func New(s *store.Store, q *queue.Queue, gw *gateway.Gateway, conn Connectivity, opts ...Option) (*Builder, error) {
	b := &Builder{
		store:  s,
		queue:  q,
		gw:     gw,
		conn:   conn,
		ids:    model.UUIDv7Generator{},
		clock:  model.SystemClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.validator == nil {
		v, err := validate.New()
		if err != nil {
			return nil, err
		}
		b.validator = v
	}
	return b, nil
}

// CreateWarehouse validates in and creates the warehouse on the server, or
// stores it optimistically and queues a CREATE action.
func (b *Builder) CreateWarehouse(ctx context.Context, in model.WarehouseInput) (WarehouseResult, error) {
	in.Name = clean(in.Name)
	in.Location = clean(in.Location)
	if err := b.validator.Warehouse(in); err != nil {
		return WarehouseResult{}, err
	}

	now := b.clock()
	w := model.Warehouse{
		ID:        b.ids.NewID(),
		Name:      in.Name,
		Location:  in.Location,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if b.conn.Current() {
		server, err := b.gw.Warehouses.Create(ctx, w)
		if err == nil {
			server.SyncStatus = model.SyncStatusSynced
			if err := store.Warehouses.Put(ctx, b.store, server); err != nil {
				return WarehouseResult{}, err
			}
			b.logCreated(model.EntityWarehouse, server.ID, ModeOnline, "")
			return WarehouseResult{Warehouse: server, Mode: ModeOnline}, nil
		}
		if !model.IsNetwork(err) {
			return WarehouseResult{}, err
		}
		b.logFallback(model.EntityWarehouse, w.ID, err)
	}

	w.SyncStatus = model.SyncStatusPendingCreation
	action := b.newAction(now, model.CreateWarehouse{Warehouse: w})
	err := b.store.Update(ctx, func(tx *store.Tx) error {
		if err := store.Warehouses.Add(ctx, tx, w); err != nil {
			return err
		}
		return b.queue.EnqueueTx(ctx, tx, action)
	})
	if err != nil {
		return WarehouseResult{}, err
	}

	b.logCreated(model.EntityWarehouse, w.ID, ModeOffline, action.ID)
	return WarehouseResult{Warehouse: w, Mode: ModeOffline, ActionID: action.ID}, nil
}

// CreateProduct validates in and creates the product on the server, or stores
// it optimistically and queues a CREATE action.
func (b *Builder) CreateProduct(ctx context.Context, in model.ProductInput) (ProductResult, error) {
	in.SKU = clean(in.SKU)
	in.Name = clean(in.Name)
	in.Description = clean(in.Description)
	if err := b.validator.Product(in); err != nil {
		return ProductResult{}, err
	}

	now := b.clock()
	p := model.Product{
		ID:          b.ids.NewID(),
		SKU:         in.SKU,
		Name:        in.Name,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if b.conn.Current() {
		server, err := b.gw.Products.Create(ctx, p)
		if err == nil {
			server.SyncStatus = model.SyncStatusSynced
			if err := store.Products.Put(ctx, b.store, server); err != nil {
				return ProductResult{}, err
			}
			b.logCreated(model.EntityProduct, server.ID, ModeOnline, "")
			return ProductResult{Product: server, Mode: ModeOnline}, nil
		}
		if !model.IsNetwork(err) {
			return ProductResult{}, err
		}
		b.logFallback(model.EntityProduct, p.ID, err)
	}

	p.SyncStatus = model.SyncStatusPendingCreation
	action := b.newAction(now, model.CreateProduct{Product: p})
	err := b.store.Update(ctx, func(tx *store.Tx) error {
		if err := store.Products.Add(ctx, tx, p); err != nil {
			return err
		}
		return b.queue.EnqueueTx(ctx, tx, action)
	})
	if err != nil {
		return ProductResult{}, err
	}

	b.logCreated(model.EntityProduct, p.ID, ModeOffline, action.ID)
	return ProductResult{Product: p, Mode: ModeOffline, ActionID: action.ID}, nil
}

func (b *Builder) newAction(now time.Time, intent model.Intent) model.PendingAction {
	return model.PendingAction{
		ID:         b.ids.NewID(),
		EnqueuedAt: now,
		Intent:     intent,
	}
}

func (b *Builder) logCreated(entity model.Entity, id string, mode Mode, actionID string) {
	b.logger.Info("record created",
		"event", "create",
		"entity", entity,
		"id", id,
		"mode", mode,
		"action_id", actionID,
	)
}

func (b *Builder) logFallback(entity model.Entity, id string, err error) {
	b.logger.Warn("online create failed, queuing offline",
		"event", "offline_fallback",
		"entity", entity,
		"id", id,
		"error", err,
	)
}

// clean trims and NFC-normalizes free text so visually identical input is
// stored identically.
func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
