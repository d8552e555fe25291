// Package catalog serves entity listings from the server when it is
// reachable and from the local cache when it is not.
//
// An online listing also refreshes the cache. Records with local changes the
// server has not seen yet (sync_status other than SYNCED) survive the
// refresh and are shown in place of the server copy.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JhanGutierrez/ventry/internal/gateway"
	"github.com/JhanGutierrez/ventry/internal/model"
	"github.com/JhanGutierrez/ventry/internal/store"
)

// Connectivity reports whether the backend is reachable.
type Connectivity interface {
	Current() bool
}

// Source says where a listing came from.
type Source string

const (
	SourceServer Source = "server"
	SourceCache  Source = "cache"
	SourceEmpty  Source = "empty"
)

// Listing is the result of a list operation. Err holds the error that forced
// a fallback, if any; it is informational and already logged.
type Listing[T any] struct {
	Records []T    `json:"records"`
	Source  Source `json:"source"`
	Err     error  `json:"-"`
}

// Catalog lists cached entities.
type Catalog struct {
	store  *store.Store
	gw     *gateway.Gateway
	conn   Connectivity
	logger *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = l
	}
}

// New creates a Catalog.
func New(s *store.Store, gw *gateway.Gateway, conn Connectivity, opts ...Option) *Catalog {
	c := &Catalog{
		store:  s,
		gw:     gw,
		conn:   conn,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// entity binds one cached collection to its remote.
type entity[T, P any] struct {
	coll      store.Collection[T]
	remote    gateway.Remote[T, P]
	status    func(T) model.SyncStatus
	setStatus func(T, model.SyncStatus) T
}

func (c *Catalog) warehouses() entity[model.Warehouse, gateway.WarehousePatch] {
	return entity[model.Warehouse, gateway.WarehousePatch]{
		coll:      store.Warehouses,
		remote:    c.gw.Warehouses,
		status:    func(w model.Warehouse) model.SyncStatus { return w.SyncStatus },
		setStatus: func(w model.Warehouse, s model.SyncStatus) model.Warehouse { w.SyncStatus = s; return w },
	}
}

func (c *Catalog) products() entity[model.Product, gateway.ProductPatch] {
	return entity[model.Product, gateway.ProductPatch]{
		coll:      store.Products,
		remote:    c.gw.Products,
		status:    func(p model.Product) model.SyncStatus { return p.SyncStatus },
		setStatus: func(p model.Product, s model.SyncStatus) model.Product { p.SyncStatus = s; return p },
	}
}

func (c *Catalog) inventories() entity[model.InventoryRecord, gateway.InventoryPatch] {
	return entity[model.InventoryRecord, gateway.InventoryPatch]{
		coll:   store.Inventories,
		remote: c.gw.Inventories,
		status: func(r model.InventoryRecord) model.SyncStatus { return r.SyncStatus },
		setStatus: func(r model.InventoryRecord, s model.SyncStatus) model.InventoryRecord {
			r.SyncStatus = s
			return r
		},
	}
}

func (c *Catalog) movements() entity[model.Movement, gateway.MovementPatch] {
	return entity[model.Movement, gateway.MovementPatch]{
		coll:      store.Movements,
		remote:    c.gw.Movements,
		status:    func(m model.Movement) model.SyncStatus { return m.SyncStatus },
		setStatus: func(m model.Movement, s model.SyncStatus) model.Movement { m.SyncStatus = s; return m },
	}
}

// Warehouses lists warehouses.
func (c *Catalog) Warehouses(ctx context.Context) Listing[model.Warehouse] {
	return list(ctx, c, c.warehouses())
}

// Products lists products.
func (c *Catalog) Products(ctx context.Context) Listing[model.Product] {
	return list(ctx, c, c.products())
}

// Inventories lists inventory records.
func (c *Catalog) Inventories(ctx context.Context) Listing[model.InventoryRecord] {
	return list(ctx, c, c.inventories())
}

// Movements lists movements.
func (c *Catalog) Movements(ctx context.Context) Listing[model.Movement] {
	return list(ctx, c, c.movements())
}

// Refresh re-reads the named collections from the server into the cache.
// It stops at the first failure.
func (c *Catalog) Refresh(ctx context.Context, collections ...string) error {
	for _, name := range collections {
		var err error
		switch name {
		case store.CollectionWarehouses:
			_, err = refresh(ctx, c, c.warehouses())
		case store.CollectionProducts:
			_, err = refresh(ctx, c, c.products())
		case store.CollectionInventories:
			_, err = refresh(ctx, c, c.inventories())
		case store.CollectionMovements:
			_, err = refresh(ctx, c, c.movements())
		default:
			err = fmt.Errorf("collection %q cannot be refreshed", name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// list tries the server, then the cache, then gives up with an empty listing.
func list[T, P any](ctx context.Context, c *Catalog, e entity[T, P]) Listing[T] {
	var cause error
	if c.conn.Current() {
		records, err := refresh(ctx, c, e)
		if err == nil {
			return Listing[T]{Records: records, Source: SourceServer}
		}
		if !model.IsNetwork(err) {
			c.logger.Error("list refresh failed",
				"event", "list_failed", "collection", e.coll.Name(), "error", err)
		} else {
			c.logger.Warn("list falling back to cache",
				"event", "list_fallback", "collection", e.coll.Name(), "error", err)
		}
		cause = err
	}

	records, err := e.coll.GetAll(ctx, c.store)
	if err != nil {
		c.logger.Error("list cache read failed",
			"event", "list_failed", "collection", e.coll.Name(), "error", err)
		return Listing[T]{Records: []T{}, Source: SourceEmpty, Err: err}
	}
	if records == nil {
		records = []T{}
	}
	return Listing[T]{Records: records, Source: SourceCache, Err: cause}
}

// refresh queries every server record and replaces the cached collection with
// them, keeping pending local records. The pending read and the replace run
// in one transaction.
func refresh[T, P any](ctx context.Context, c *Catalog, e entity[T, P]) ([]T, error) {
	server, err := e.remote.Query(ctx, nil)
	if err != nil {
		return nil, err
	}

	var merged []T
	err = c.store.Update(ctx, func(tx *store.Tx) error {
		var local []T
		for _, s := range []model.SyncStatus{model.SyncStatusPendingCreation, model.SyncStatusPendingUpdate} {
			recs, err := e.coll.GetByIndex(ctx, tx, store.IndexBySyncStatus, string(s))
			if err != nil {
				return err
			}
			local = append(local, recs...)
		}
		merged = merge(e, server, local)
		return e.coll.ClearAndReplaceAll(ctx, tx, merged)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("cache refreshed",
		"event", "cache_refreshed",
		"collection", e.coll.Name(),
		"server", len(server),
		"pending", countPending(e, merged),
	)
	return merged, nil
}

// merge marks server records SYNCED, replaces those with a pending local
// copy, and appends pending records the server does not have yet.
func merge[T, P any](e entity[T, P], server, local []T) []T {
	byKey := make(map[string]T, len(local))
	for _, l := range local {
		byKey[e.coll.Key(l)] = l
	}

	out := make([]T, 0, len(server)+len(local))
	seen := make(map[string]bool, len(server))
	for _, s := range server {
		key := e.coll.Key(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		if l, ok := byKey[key]; ok {
			out = append(out, l)
			continue
		}
		out = append(out, e.setStatus(s, model.SyncStatusSynced))
	}
	for _, l := range local {
		key := e.coll.Key(l)
		if !seen[key] {
			seen[key] = true
			out = append(out, l)
		}
	}
	return out
}

func countPending[T, P any](e entity[T, P], records []T) int {
	n := 0
	for _, r := range records {
		if e.status(r).Pending() {
			n++
		}
	}
	return n
}
