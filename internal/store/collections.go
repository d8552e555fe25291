package store

import (
	"context"

	"github.com/JhanGutierrez/ventry/internal/model"
)

// Collection names.
const (
	CollectionWarehouses     = "warehouses"
	CollectionProducts       = "products"
	CollectionInventories    = "inventories"
	CollectionMovements      = "movements"
	CollectionPendingActions = "pending_actions"
	CollectionAliases        = "id_aliases"
)

// Index names.
const (
	IndexBySyncStatus     = "by_sync_status"
	IndexProductWarehouse = "product_warehouse"
	IndexByInventory      = "by_inventory"
)

// Alias maps an optimistic id to the id the server assigned instead.
type Alias struct {
	OptimisticID string `json:"optimistic_id"`
	ServerID     string `json:"server_id"`
	Collection   string `json:"collection"`
}

var (
	Warehouses = NewCollection(Schema[model.Warehouse]{
		Name: CollectionWarehouses,
		Key:  func(w model.Warehouse) string { return w.ID },
		Indexes: []Index[model.Warehouse]{
			{Name: IndexBySyncStatus, Key: func(w model.Warehouse) string { return string(w.SyncStatus) }},
		},
	})

	Products = NewCollection(Schema[model.Product]{
		Name: CollectionProducts,
		Key:  func(p model.Product) string { return p.ID },
		Indexes: []Index[model.Product]{
			{Name: IndexBySyncStatus, Key: func(p model.Product) string { return string(p.SyncStatus) }},
		},
	})

	Inventories = NewCollection(Schema[model.InventoryRecord]{
		Name: CollectionInventories,
		Key:  func(r model.InventoryRecord) string { return r.ID },
		Indexes: []Index[model.InventoryRecord]{
			{Name: IndexProductWarehouse, Key: func(r model.InventoryRecord) string {
				return CompositeKey(r.ProductID, r.WarehouseID)
			}},
			{Name: IndexBySyncStatus, Key: func(r model.InventoryRecord) string { return string(r.SyncStatus) }},
		},
	})

	Movements = NewCollection(Schema[model.Movement]{
		Name: CollectionMovements,
		Key:  func(m model.Movement) string { return m.ID },
		Indexes: []Index[model.Movement]{
			{Name: IndexByInventory, Key: func(m model.Movement) string { return m.InventoryID }},
			{Name: IndexBySyncStatus, Key: func(m model.Movement) string { return string(m.SyncStatus) }},
		},
	})

	Aliases = NewCollection(Schema[Alias]{
		Name: CollectionAliases,
		Key:  func(a Alias) string { return a.OptimisticID },
	})
)

// ResolveID follows the alias recorded for id, if any.
func ResolveID(ctx context.Context, h Handle, id string) (string, error) {
	a, ok, err := Aliases.Get(ctx, h, id)
	if err != nil || !ok {
		return id, err
	}
	return a.ServerID, nil
}
