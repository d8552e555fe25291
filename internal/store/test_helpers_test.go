package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/JhanGutierrez/ventry/internal/model"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testWarehouse(id, name string, status model.SyncStatus) model.Warehouse {
	return model.Warehouse{
		ID:         id,
		Name:       name,
		Location:   "Dock " + name,
		CreatedAt:  testTime,
		UpdatedAt:  testTime,
		SyncStatus: status,
	}
}

func testInventory(id, productID, warehouseID string, qty int64, status model.SyncStatus) model.InventoryRecord {
	return model.InventoryRecord{
		ID:          id,
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    qty,
		CreatedAt:   testTime,
		UpdatedAt:   testTime,
		SyncStatus:  status,
	}
}

// getTableColumns returns column names for a table.
func getTableColumns(t *testing.T, s *Store, table string) []string {
	t.Helper()
	var columns []string
	if err := s.db.Select(&columns, "SELECT name FROM pragma_table_info(?)", table); err != nil {
		t.Fatalf("failed to get table info: %v", err)
	}
	return columns
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
