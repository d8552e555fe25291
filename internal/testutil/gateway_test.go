package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JhanGutierrez/ventry/internal/gateway"
	"github.com/JhanGutierrez/ventry/internal/model"
)

func TestMemoryGateway_CreateKeepsClientID(t *testing.T) {
	mg := NewMemoryGateway()
	gw := mg.Gateway()

	got, err := gw.Warehouses.Create(context.Background(), model.Warehouse{
		ID: "w-1", Name: "North", SyncStatus: model.SyncStatusPendingCreation,
	})
	require.NoError(t, err)
	assert.Equal(t, "w-1", got.ID)
	assert.Empty(t, got.SyncStatus)
	assert.Equal(t, []string{"create warehouses w-1"}, mg.Calls())
}

func TestMemoryGateway_DuplicateCreateRejected(t *testing.T) {
	mg := NewMemoryGateway()
	gw := mg.Gateway()
	ctx := context.Background()

	_, err := gw.Products.Create(ctx, model.Product{ID: "p-1"})
	require.NoError(t, err)
	_, err = gw.Products.Create(ctx, model.Product{ID: "p-1"})
	assert.True(t, model.IsValidation(err))
}

func TestMemoryGateway_MovementNeedsInventory(t *testing.T) {
	mg := NewMemoryGateway()
	gw := mg.Gateway()

	_, err := gw.Movements.Create(context.Background(), model.Movement{ID: "mv-1", InventoryID: "missing"})
	assert.True(t, model.IsValidation(err))
	assert.Equal(t, 0, mg.Count(TableMovements))
}

func TestMemoryGateway_AssignServerIDs(t *testing.T) {
	mg := NewMemoryGateway()
	mg.AssignServerIDs(TableInventory)

	got, err := mg.Gateway().Inventories.Create(context.Background(), model.InventoryRecord{ID: "inv-local", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, "srv-0001", got.ID)
}

func TestMemoryGateway_UpdateRejectsNegative(t *testing.T) {
	mg := NewMemoryGateway()
	mg.SeedInventory(model.InventoryRecord{ID: "inv-1", Quantity: 3})

	_, err := mg.Gateway().Inventories.Update(context.Background(), "inv-1", gateway.Quantity(-1))
	assert.True(t, model.IsValidation(err))
	assert.Equal(t, int64(3), mg.Inventories()[0].Quantity)
}

func TestMemoryGateway_QueryFilter(t *testing.T) {
	mg := NewMemoryGateway()
	mg.SeedInventory(model.InventoryRecord{ID: "inv-1", ProductID: "p-1", WarehouseID: "w-1"})
	mg.SeedInventory(model.InventoryRecord{ID: "inv-2", ProductID: "p-1", WarehouseID: "w-2"})

	got, err := mg.Gateway().Inventories.Query(context.Background(), gateway.Filter{"product_id": "p-1", "warehouse_id": "w-2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "inv-2", got[0].ID)
}

func TestMemoryGateway_FailNextAndDown(t *testing.T) {
	mg := NewMemoryGateway()
	gw := mg.Gateway()
	ctx := context.Background()
	boom := model.NewNetworkError("create warehouses", model.CodeUnavailable, errors.New("boom"))

	mg.FailNext("create warehouses", boom)
	_, err := gw.Warehouses.Create(ctx, model.Warehouse{ID: "w-1"})
	assert.ErrorIs(t, err, boom)

	_, err = gw.Warehouses.Create(ctx, model.Warehouse{ID: "w-1"})
	require.NoError(t, err, "fault is consumed")

	mg.SetDown(true)
	_, err = gw.Warehouses.Query(ctx, nil)
	assert.True(t, model.IsNetwork(err))
	assert.Equal(t, 1, mg.CallCount("query warehouses"))
	assert.Equal(t, 2, mg.CallCount("create warehouses"))
}

func TestMemoryGateway_Hold(t *testing.T) {
	mg := NewMemoryGateway()
	gw := mg.Gateway()
	entered, release := mg.Hold()

	done := make(chan error, 1)
	go func() {
		_, err := gw.Warehouses.Create(context.Background(), model.Warehouse{ID: "w-1"})
		done <- err
	}()

	select {
	case op := <-entered:
		assert.Equal(t, "create warehouses", op)
	case <-time.After(time.Second):
		t.Fatal("call never reached the gate")
	}
	assert.Equal(t, 0, mg.Count(TableWarehouses))

	release()
	require.NoError(t, <-done)
	assert.Equal(t, 1, mg.Count(TableWarehouses))
}

func TestMemoryGateway_HoldRespectsContext(t *testing.T) {
	mg := NewMemoryGateway()
	_, release := mg.Hold()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := mg.Gateway().Warehouses.Create(ctx, model.Warehouse{ID: "w-1"})
	assert.Equal(t, model.CodeTimeout, model.CodeOf(err))
}
