// Package gateway is the remote data service: per-entity create, update and
// query operations against the backend.
//
// Every call either returns the canonical server record or fails with a
// model network error (unreachable, timed out, overloaded) or a model
// validation error (the server rejected the request).
package gateway

import (
	"context"
	"errors"

	"github.com/JhanGutierrez/ventry/internal/model"
)

// Filter selects records by exact field equality. An empty filter matches
// every record.
type Filter map[string]string

// Remote is the gateway for one entity kind. T is the record type and P the
// patch type accepted by Update.
type Remote[T, P any] interface {
	Create(ctx context.Context, record T) (T, error)
	Update(ctx context.Context, id string, patch P) (T, error)
	Query(ctx context.Context, filter Filter) ([]T, error)
}

// WarehousePatch lists the warehouse fields an update may change.
type WarehousePatch struct {
	Name     *string `json:"name,omitempty"`
	Location *string `json:"location,omitempty"`
}

// ProductPatch lists the product fields an update may change.
type ProductPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// InventoryPatch lists the inventory fields an update may change.
// Quantity is absolute.
type InventoryPatch struct {
	Quantity *int64 `json:"quantity,omitempty"`
}

// MovementPatch lists the movement fields an update may change.
type MovementPatch struct {
	Reason *string `json:"reason,omitempty"`
}

// Gateway groups the per-entity remotes.
type Gateway struct {
	Warehouses  Remote[model.Warehouse, WarehousePatch]
	Products    Remote[model.Product, ProductPatch]
	Inventories Remote[model.InventoryRecord, InventoryPatch]
	Movements   Remote[model.Movement, MovementPatch]
}

// Quantity returns a patch that sets the inventory quantity to q.
func Quantity(q int64) InventoryPatch {
	return InventoryPatch{Quantity: &q}
}

// ErrNoEndpoint is wrapped by every call of an Unconfigured gateway.
var ErrNoEndpoint = errors.New("no gateway endpoint configured")

// Unconfigured returns a gateway whose calls all fail with an UNAVAILABLE
// network error, so callers fall back to the offline path.
func Unconfigured() *Gateway {
	return &Gateway{
		Warehouses:  unconfigured[model.Warehouse, WarehousePatch]{},
		Products:    unconfigured[model.Product, ProductPatch]{},
		Inventories: unconfigured[model.InventoryRecord, InventoryPatch]{},
		Movements:   unconfigured[model.Movement, MovementPatch]{},
	}
}

type unconfigured[T, P any] struct{}

func (unconfigured[T, P]) Create(context.Context, T) (T, error) {
	var zero T
	return zero, model.NewNetworkError("create", model.CodeUnavailable, ErrNoEndpoint)
}

func (unconfigured[T, P]) Update(context.Context, string, P) (T, error) {
	var zero T
	return zero, model.NewNetworkError("update", model.CodeUnavailable, ErrNoEndpoint)
}

func (unconfigured[T, P]) Query(context.Context, Filter) ([]T, error) {
	return nil, model.NewNetworkError("query", model.CodeUnavailable, ErrNoEndpoint)
}
