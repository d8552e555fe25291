package engine

import (
	"context"
	"fmt"

	"github.com/JhanGutierrez/ventry/internal/gateway"
	"github.com/JhanGutierrez/ventry/internal/model"
	"github.com/JhanGutierrez/ventry/internal/store"
)

// replayer replays one pending action. Remote calls use the context passed to
// each Visit method, which carries the per-action timeout. Local commits run
// without that deadline so a confirmed remote effect is always recorded.
type replayer struct {
	o        *Orchestrator
	action   model.PendingAction
	affected map[string]bool
}

var _ model.IntentVisitor = (*replayer)(nil)

func (r *replayer) VisitCreateWarehouse(ctx context.Context, in model.CreateWarehouse) error {
	server, err := createOrAdopt(ctx, r.o.gw.Warehouses, in.Warehouse, in.Warehouse.ID)
	if err != nil {
		return err
	}
	server.SyncStatus = model.SyncStatusSynced

	return r.commit(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := replaceID(ctx, tx, store.Warehouses, in.Warehouse.ID, server.ID); err != nil {
			return err
		}
		return store.Warehouses.Put(ctx, tx, server)
	}, store.CollectionWarehouses)
}

func (r *replayer) VisitCreateProduct(ctx context.Context, in model.CreateProduct) error {
	server, err := createOrAdopt(ctx, r.o.gw.Products, in.Product, in.Product.ID)
	if err != nil {
		return err
	}
	server.SyncStatus = model.SyncStatusSynced

	return r.commit(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := replaceID(ctx, tx, store.Products, in.Product.ID, server.ID); err != nil {
			return err
		}
		return store.Products.Put(ctx, tx, server)
	}, store.CollectionProducts)
}

// VisitCreateMovement applies the staged absolute quantity, then creates the
// movement against the same inventory record.
func (r *replayer) VisitCreateMovement(ctx context.Context, in model.CreateMovement) error {
	invID, err := store.ResolveID(context.WithoutCancel(ctx), r.o.store, in.Inventory.ID)
	if err != nil {
		return err
	}

	inv, err := r.o.gw.Inventories.Update(ctx, invID, gateway.Quantity(in.Inventory.Quantity))
	if err != nil {
		return err
	}

	mv := in.Movement
	mv.InventoryID = invID
	created, err := createOrAdopt(ctx, r.o.gw.Movements, mv, mv.ID)
	if err != nil {
		return err
	}

	return r.commitMovement(ctx, inv, mv.ID, created)
}

// VisitCreateInventoryAndMovement creates the inventory record, then the
// movement against the id the server returned.
func (r *replayer) VisitCreateInventoryAndMovement(ctx context.Context, in model.CreateInventoryAndMovement) error {
	lctx := context.WithoutCancel(ctx)

	local := in.Inventory
	var err error
	if local.ProductID, err = store.ResolveID(lctx, r.o.store, local.ProductID); err != nil {
		return err
	}
	if local.WarehouseID, err = store.ResolveID(lctx, r.o.store, local.WarehouseID); err != nil {
		return err
	}

	inv, err := r.createInventory(ctx, local)
	if err != nil {
		return err
	}

	mv := in.Movement
	mv.InventoryID = inv.ID
	created, err := createOrAdopt(ctx, r.o.gw.Movements, mv, mv.ID)
	if err != nil {
		return err
	}

	return r.commitMovement(ctx, inv, mv.ID, created)
}

// createInventory creates the inventory record unless an earlier attempt at
// this action already did and recorded an alias for it. A server-assigned id
// is recorded and applied locally before the movement step, so a retry after
// a movement failure never creates the record twice.
func (r *replayer) createInventory(ctx context.Context, local model.InventoryRecord) (model.InventoryRecord, error) {
	lctx := context.WithoutCancel(ctx)

	resolved, err := store.ResolveID(lctx, r.o.store, local.ID)
	if err != nil {
		return model.InventoryRecord{}, err
	}
	if resolved != local.ID {
		found, err := r.o.gw.Inventories.Query(ctx, gateway.Filter{"id": resolved})
		if err != nil {
			return model.InventoryRecord{}, err
		}
		if len(found) == 0 {
			return model.InventoryRecord{}, model.NewValidationError("replay inventory", model.CodeRejected,
				fmt.Errorf("inventory %s (aliased from %s) no longer exists on the server", resolved, local.ID))
		}
		return found[0], nil
	}

	inv, err := createOrAdopt(ctx, r.o.gw.Inventories, local, local.ID)
	if err != nil {
		return model.InventoryRecord{}, err
	}
	if inv.ID == local.ID {
		return inv, nil
	}

	r.o.logger.Info("inventory id reassigned by server",
		"event", "id_reassigned",
		"action_id", r.action.ID,
		"optimistic_id", local.ID,
		"server_id", inv.ID,
	)
	err = r.o.store.Update(lctx, func(tx *store.Tx) error {
		return rekeyInventory(lctx, tx, local.ID, inv.ID)
	})
	if err != nil {
		return model.InventoryRecord{}, err
	}
	r.affected[store.CollectionInventories] = true
	r.affected[store.CollectionMovements] = true
	r.affected[store.CollectionAliases] = true
	return inv, nil
}

// commitMovement records the confirmed inventory and movement and removes the
// action.
func (r *replayer) commitMovement(ctx context.Context, inv model.InventoryRecord, optimisticID string, mv model.Movement) error {
	mv.SyncStatus = model.SyncStatusSynced

	return r.commit(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := mergeInventory(ctx, tx, inv); err != nil {
			return err
		}
		if err := replaceID(ctx, tx, store.Movements, optimisticID, mv.ID); err != nil {
			return err
		}
		return store.Movements.Put(ctx, tx, mv)
	}, store.CollectionInventories, store.CollectionMovements)
}

// commit writes the action's server records and removes the action in one
// transaction.
func (r *replayer) commit(ctx context.Context, fn func(ctx context.Context, tx *store.Tx) error, collections ...string) error {
	lctx := context.WithoutCancel(ctx)

	err := r.o.store.Update(lctx, func(tx *store.Tx) error {
		if err := fn(lctx, tx); err != nil {
			return err
		}
		return r.o.queue.RemoveTx(lctx, tx, r.action.ID)
	})
	if err != nil {
		return err
	}

	for _, c := range collections {
		r.affected[c] = true
	}
	r.affected[store.CollectionPendingActions] = true
	return nil
}

// mergeInventory stores the server's inventory record. If the cached quantity
// differs, later queued movements have already been applied locally, so the
// local quantity is kept and the record stays PENDING_UPDATE until they
// replay.
func mergeInventory(ctx context.Context, tx *store.Tx, server model.InventoryRecord) error {
	server.SyncStatus = model.SyncStatusSynced

	local, ok, err := store.Inventories.Get(ctx, tx, server.ID)
	if err != nil {
		return err
	}
	if ok && local.Quantity != server.Quantity {
		server.Quantity = local.Quantity
		server.SyncStatus = model.SyncStatusPendingUpdate
	}
	return store.Inventories.Put(ctx, tx, server)
}

// replaceID drops the optimistic record and records the alias when the
// server assigned its own id. No-op when the ids match.
func replaceID[T any](ctx context.Context, tx *store.Tx, c store.Collection[T], optimisticID, serverID string) error {
	if optimisticID == serverID {
		return nil
	}
	if err := store.Aliases.Put(ctx, tx, store.Alias{
		OptimisticID: optimisticID,
		ServerID:     serverID,
		Collection:   c.Name(),
	}); err != nil {
		return err
	}
	return c.Delete(ctx, tx, optimisticID)
}

// rekeyInventory moves the cached inventory record from oldID to newID,
// points its movements at newID and records the alias for queued actions that
// still name oldID.
func rekeyInventory(ctx context.Context, tx *store.Tx, oldID, newID string) error {
	local, ok, err := store.Inventories.Get(ctx, tx, oldID)
	if err != nil {
		return err
	}
	if err := replaceID(ctx, tx, store.Inventories, oldID, newID); err != nil {
		return err
	}
	if ok {
		local.ID = newID
		if err := store.Inventories.Put(ctx, tx, local); err != nil {
			return err
		}
	}

	movements, err := store.Movements.GetByIndex(ctx, tx, store.IndexByInventory, oldID)
	if err != nil {
		return err
	}
	for _, m := range movements {
		m.InventoryID = newID
		if err := store.Movements.Put(ctx, tx, m); err != nil {
			return err
		}
	}
	return nil
}

// createOrAdopt creates record on the server. If the server rejects the
// create because a record with the same id already exists (an earlier
// attempt succeeded remotely but was never confirmed locally), the existing
// record is adopted instead.
func createOrAdopt[T, P any](ctx context.Context, remote gateway.Remote[T, P], record T, id string) (T, error) {
	created, err := remote.Create(ctx, record)
	if err == nil || !model.IsValidation(err) {
		return created, err
	}

	existing, qerr := remote.Query(ctx, gateway.Filter{"id": id})
	if qerr != nil || len(existing) == 0 {
		return created, err
	}
	return existing[0], nil
}
