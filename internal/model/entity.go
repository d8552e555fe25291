package model

import (
	"fmt"
	"time"
)

// SyncStatus tracks whether a cached record matches the server.
type SyncStatus string

const (
	// SyncStatusSynced marks a record confirmed by the server.
	SyncStatusSynced SyncStatus = "SYNCED"
	// SyncStatusPendingCreation marks an optimistic record the server has not seen.
	SyncStatusPendingCreation SyncStatus = "PENDING_CREATION"
	// SyncStatusPendingUpdate marks a confirmed record with unreplayed local changes.
	SyncStatusPendingUpdate SyncStatus = "PENDING_UPDATE"
)

// Pending reports whether the record still has local changes waiting for a drain.
func (s SyncStatus) Pending() bool {
	return s == SyncStatusPendingCreation || s == SyncStatusPendingUpdate
}

// MovementType is the direction of a stock movement.
type MovementType string

const (
	MovementInbound  MovementType = "INBOUND"
	MovementOutbound MovementType = "OUTBOUND"
)

// ParseMovementType accepts the canonical upper-case names.
func ParseMovementType(s string) (MovementType, error) {
	switch MovementType(s) {
	case MovementInbound, MovementOutbound:
		return MovementType(s), nil
	}
	return "", fmt.Errorf("unknown movement type %q: must be INBOUND or OUTBOUND", s)
}

// Warehouse is a physical stock location.
type Warehouse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Location   string     `json:"location"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
}

// Product is a catalog item identified by SKU.
type Product struct {
	ID          string     `json:"id"`
	SKU         string     `json:"sku"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SyncStatus  SyncStatus `json:"sync_status,omitempty"`
}

// InventoryRecord is the stock level of one product in one warehouse.
// There is normally one record per (ProductID, WarehouseID) pair.
type InventoryRecord struct {
	ID          string     `json:"id"`
	ProductID   string     `json:"product_id"`
	WarehouseID string     `json:"warehouse_id"`
	Quantity    int64      `json:"quantity"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SyncStatus  SyncStatus `json:"sync_status,omitempty"`
}

// Movement records one inbound or outbound change against an inventory record.
type Movement struct {
	ID          string       `json:"id"`
	InventoryID string       `json:"inventory_id"`
	Quantity    int64        `json:"quantity"`
	Type        MovementType `json:"type"`
	Reason      string       `json:"reason"`
	UserID      string       `json:"user_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	SyncStatus  SyncStatus   `json:"sync_status,omitempty"`
}

// WarehouseInput is the form-level input for a new warehouse.
type WarehouseInput struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// ProductInput is the form-level input for a new product.
type ProductInput struct {
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MovementInput is the form-level input for a stock movement.
// The inventory record is resolved from ProductID and WarehouseID.
type MovementInput struct {
	ProductID   string       `json:"product_id"`
	WarehouseID string       `json:"warehouse_id"`
	Type        MovementType `json:"type"`
	Quantity    int64        `json:"quantity"`
	Reason      string       `json:"reason"`
	UserID      string       `json:"user_id"`
}
