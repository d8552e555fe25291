package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/JhanGutierrez/ventry/internal/gateway"
	"github.com/JhanGutierrez/ventry/internal/model"
	"github.com/JhanGutierrez/ventry/internal/store"
)

// RecordMovement validates in, resolves the inventory record for the
// product/warehouse pair and applies the movement to it.
//
// Online, the server's inventory is read and updated (or created for a first
// inbound movement) before the movement is created. While local changes are
// still queued, or the pair's cached inventory is pending, the movement takes
// the offline path and lands behind them.
//
// Offline, the cached inventory is updated and one action bundling the
// inventory change with the movement is queued:
//   - existing inventory: CREATE_MOVEMENT with the new absolute quantity
//   - no inventory, INBOUND: CREATE_INVENTORY_AND_MOVEMENT
//   - no inventory, OUTBOUND: rejected with NO_INVENTORY
//
// An outbound movement that would leave negative stock is rejected with
// INSUFFICIENT_STOCK and nothing is written.
func (b *Builder) RecordMovement(ctx context.Context, in model.MovementInput) (MovementResult, error) {
	in.ProductID = clean(in.ProductID)
	in.WarehouseID = clean(in.WarehouseID)
	in.Reason = clean(in.Reason)
	in.UserID = clean(in.UserID)
	if in.UserID == "" {
		in.UserID = b.userID
	}
	if err := b.validator.Movement(in); err != nil {
		return MovementResult{}, err
	}

	now := b.clock()
	mv := model.Movement{
		ID:        b.ids.NewID(),
		Quantity:  in.Quantity,
		Type:      in.Type,
		Reason:    in.Reason,
		UserID:    in.UserID,
		CreatedAt: now,
	}

	if b.conn.Current() {
		deferred, err := b.hasPendingChanges(ctx, in)
		if err != nil {
			return MovementResult{}, err
		}
		if !deferred {
			res, done, err := b.recordOnline(ctx, in, mv, now)
			if done || err != nil {
				return res, err
			}
		} else {
			b.logger.Debug("pending local changes, movement queued behind them",
				"event", "movement_deferred",
				"product_id", in.ProductID, "warehouse_id", in.WarehouseID)
		}
	}

	return b.recordOffline(ctx, in, mv, now)
}

// hasPendingChanges reports whether the movement must be queued even though
// the server is reachable: any queued action, or a cached inventory for the
// pair that the server has not confirmed. The server quantity does not
// include those changes, and a queued absolute quantity replayed later would
// overwrite an online update.
func (b *Builder) hasPendingChanges(ctx context.Context, in model.MovementInput) (bool, error) {
	n, err := b.queue.Len(ctx)
	if err != nil || n > 0 {
		return n > 0, err
	}
	inv, found, err := store.Inventories.GetFirstByIndex(ctx, b.store,
		store.IndexProductWarehouse, store.CompositeKey(in.ProductID, in.WarehouseID))
	if err != nil {
		return false, err
	}
	return found && inv.SyncStatus.Pending(), nil
}

// recordOnline runs the movement against the server. done is false when a
// network error happened before anything was applied remotely, in which case
// the caller falls back to the offline path.
func (b *Builder) recordOnline(ctx context.Context, in model.MovementInput, mv model.Movement, now time.Time) (res MovementResult, done bool, err error) {
	found, err := b.gw.Inventories.Query(ctx, gateway.Filter{
		"product_id":   in.ProductID,
		"warehouse_id": in.WarehouseID,
	})
	if err != nil {
		return b.onlineFailed(mv, err)
	}

	var inv model.InventoryRecord
	if len(found) > 0 {
		current := found[0]
		next, err := model.ApplyMovement(current.Quantity, in.Type, in.Quantity)
		if err != nil {
			return MovementResult{}, true, err
		}
		inv, err = b.gw.Inventories.Update(ctx, current.ID, gateway.Quantity(next))
		if err != nil {
			return b.onlineFailed(mv, err)
		}
	} else {
		if in.Type == model.MovementOutbound {
			return MovementResult{}, true, noInventory(in)
		}
		qty, err := model.ApplyMovement(0, in.Type, in.Quantity)
		if err != nil {
			return MovementResult{}, true, err
		}
		inv, err = b.gw.Inventories.Create(ctx, model.InventoryRecord{
			ID:          b.ids.NewID(),
			ProductID:   in.ProductID,
			WarehouseID: in.WarehouseID,
			Quantity:    qty,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return b.onlineFailed(mv, err)
		}
	}
	inv.SyncStatus = model.SyncStatusSynced
	mv.InventoryID = inv.ID

	created, err := b.gw.Movements.Create(ctx, mv)
	if err != nil {
		if !model.IsNetwork(err) {
			// The inventory change stands on the server; keep the cache in step.
			if serr := store.Inventories.Put(ctx, b.store, inv); serr != nil {
				return MovementResult{}, true, serr
			}
			return MovementResult{}, true, err
		}
		b.logFallback(model.EntityMovement, mv.ID, err)
		res, err := b.queueRemainingMovement(ctx, inv, mv, now)
		return res, true, err
	}
	created.SyncStatus = model.SyncStatusSynced

	err = b.store.Update(ctx, func(tx *store.Tx) error {
		if err := store.Inventories.Put(ctx, tx, inv); err != nil {
			return err
		}
		return store.Movements.Put(ctx, tx, created)
	})
	if err != nil {
		return MovementResult{}, true, err
	}

	b.logCreated(model.EntityMovement, created.ID, ModeOnline, "")
	return MovementResult{Movement: created, Inventory: inv, Mode: ModeOnline}, true, nil
}

func (b *Builder) onlineFailed(mv model.Movement, err error) (MovementResult, bool, error) {
	if !model.IsNetwork(err) {
		return MovementResult{}, true, err
	}
	b.logFallback(model.EntityMovement, mv.ID, err)
	return MovementResult{}, false, nil
}

// queueRemainingMovement handles a network failure after the server already
// applied the inventory step: the confirmed inventory is cached and only the
// movement is queued, carrying the absolute quantity so a replayed update is
// harmless.
func (b *Builder) queueRemainingMovement(ctx context.Context, inv model.InventoryRecord, mv model.Movement, now time.Time) (MovementResult, error) {
	mv.SyncStatus = model.SyncStatusPendingCreation
	action := b.newAction(now, model.CreateMovement{
		Inventory: model.InventoryUpdate{ID: inv.ID, Quantity: inv.Quantity},
		Movement:  mv,
	})

	err := b.store.Update(ctx, func(tx *store.Tx) error {
		if err := store.Inventories.Put(ctx, tx, inv); err != nil {
			return err
		}
		if err := store.Movements.Add(ctx, tx, mv); err != nil {
			return err
		}
		return b.queue.EnqueueTx(ctx, tx, action)
	})
	if err != nil {
		return MovementResult{}, err
	}

	b.logCreated(model.EntityMovement, mv.ID, ModeOffline, action.ID)
	return MovementResult{
		Movement:  mv,
		Inventory: inv,
		Mode:      ModeOffline,
		ActionID:  action.ID,
		Intent:    model.IntentCreateMovement,
	}, nil
}

// recordOffline applies the movement to the cached inventory and queues it.
// The lookup, the stock check and every write share one transaction.
func (b *Builder) recordOffline(ctx context.Context, in model.MovementInput, mv model.Movement, now time.Time) (MovementResult, error) {
	var res MovementResult

	err := b.store.Update(ctx, func(tx *store.Tx) error {
		inv, found, err := store.Inventories.GetFirstByIndex(ctx, tx,
			store.IndexProductWarehouse, store.CompositeKey(in.ProductID, in.WarehouseID))
		if err != nil {
			return err
		}

		var intent model.Intent
		if found {
			next, err := model.ApplyMovement(inv.Quantity, in.Type, in.Quantity)
			if err != nil {
				return err
			}
			inv.Quantity = next
			inv.UpdatedAt = now
			if inv.SyncStatus == model.SyncStatusSynced {
				inv.SyncStatus = model.SyncStatusPendingUpdate
			}
			mv.InventoryID = inv.ID
			mv.SyncStatus = model.SyncStatusPendingCreation
			intent = model.CreateMovement{
				Inventory: model.InventoryUpdate{ID: inv.ID, Quantity: next},
				Movement:  mv,
			}
		} else {
			if in.Type == model.MovementOutbound {
				return noInventory(in)
			}
			qty, err := model.ApplyMovement(0, in.Type, in.Quantity)
			if err != nil {
				return err
			}
			inv = model.InventoryRecord{
				ID:          b.ids.NewID(),
				ProductID:   in.ProductID,
				WarehouseID: in.WarehouseID,
				Quantity:    qty,
				CreatedAt:   now,
				UpdatedAt:   now,
				SyncStatus:  model.SyncStatusPendingCreation,
			}
			mv.InventoryID = inv.ID
			mv.SyncStatus = model.SyncStatusPendingCreation
			intent = model.CreateInventoryAndMovement{Inventory: inv, Movement: mv}
		}

		action := b.newAction(now, intent)
		if err := store.Inventories.Put(ctx, tx, inv); err != nil {
			return err
		}
		if err := store.Movements.Add(ctx, tx, mv); err != nil {
			return err
		}
		if err := b.queue.EnqueueTx(ctx, tx, action); err != nil {
			return err
		}

		res = MovementResult{
			Movement:  mv,
			Inventory: inv,
			Mode:      ModeOffline,
			ActionID:  action.ID,
			Intent:    intent.Kind(),
		}
		return nil
	})
	if err != nil {
		b.logger.Debug("movement rejected", "event", "movement_rejected",
			"product_id", in.ProductID, "warehouse_id", in.WarehouseID, "error", err)
		return MovementResult{}, err
	}

	b.logCreated(model.EntityMovement, mv.ID, ModeOffline, res.ActionID)
	return res, nil
}

func noInventory(in model.MovementInput) error {
	return model.NewValidationError("record movement", model.CodeNoInventory,
		fmt.Errorf("%w: product %s, warehouse %s", model.ErrNoInventory, in.ProductID, in.WarehouseID))
}
