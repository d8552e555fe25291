package model

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Entity names the entity a pending action is filed under.
type Entity string

const (
	EntityWarehouse Entity = "warehouse"
	EntityProduct   Entity = "product"
	EntityMovement  Entity = "movement"
)

// IntentKind names the server operation a pending action stands for.
type IntentKind string

const (
	IntentCreate                     IntentKind = "CREATE"
	IntentCreateMovement             IntentKind = "CREATE_MOVEMENT"
	IntentCreateInventoryAndMovement IntentKind = "CREATE_INVENTORY_AND_MOVEMENT"
)

// Intent is the payload of a pending action. The set of implementations is
// closed: the unexported method keeps other packages from adding variants.
type Intent interface {
	Entity() Entity
	Kind() IntentKind
	// Accept calls the IntentVisitor method matching the concrete variant.
	Accept(ctx context.Context, v IntentVisitor) error
	sealed()
}

// IntentVisitor handles every Intent variant. Adding a variant to the sum
// type adds a method here, so every implementation must be updated.
type IntentVisitor interface {
	VisitCreateWarehouse(ctx context.Context, in CreateWarehouse) error
	VisitCreateProduct(ctx context.Context, in CreateProduct) error
	VisitCreateMovement(ctx context.Context, in CreateMovement) error
	VisitCreateInventoryAndMovement(ctx context.Context, in CreateInventoryAndMovement) error
}

// CreateWarehouse replays an offline warehouse creation.
type CreateWarehouse struct {
	Warehouse Warehouse `json:"warehouse"`
}

func (CreateWarehouse) Entity() Entity   { return EntityWarehouse }
func (CreateWarehouse) Kind() IntentKind { return IntentCreate }
func (CreateWarehouse) sealed()          {}

func (c CreateWarehouse) Accept(ctx context.Context, v IntentVisitor) error {
	return v.VisitCreateWarehouse(ctx, c)
}

// CreateProduct replays an offline product creation.
type CreateProduct struct {
	Product Product `json:"product"`
}

func (CreateProduct) Entity() Entity   { return EntityProduct }
func (CreateProduct) Kind() IntentKind { return IntentCreate }
func (CreateProduct) sealed()          {}

func (c CreateProduct) Accept(ctx context.Context, v IntentVisitor) error {
	return v.VisitCreateProduct(ctx, c)
}

// InventoryUpdate is the stock level staged for an existing inventory record.
// Quantity is absolute, so replaying the update twice is harmless.
type InventoryUpdate struct {
	ID       string `json:"id"`
	Quantity int64  `json:"quantity"`
}

// CreateMovement replays a movement against an inventory record that already
// existed when the movement was recorded: the staged quantity update first,
// then the movement itself.
type CreateMovement struct {
	Inventory InventoryUpdate `json:"inventory"`
	Movement  Movement        `json:"movement"`
}

func (CreateMovement) Entity() Entity   { return EntityMovement }
func (CreateMovement) Kind() IntentKind { return IntentCreateMovement }
func (CreateMovement) sealed()          {}

func (c CreateMovement) Accept(ctx context.Context, v IntentVisitor) error {
	return v.VisitCreateMovement(ctx, c)
}

// CreateInventoryAndMovement replays the first inbound movement for a
// product/warehouse pair: the inventory record is created, then the movement
// is created against the inventory id the server returned.
type CreateInventoryAndMovement struct {
	Inventory InventoryRecord `json:"inventory"`
	Movement  Movement        `json:"movement"`
}

func (CreateInventoryAndMovement) Entity() Entity   { return EntityMovement }
func (CreateInventoryAndMovement) Kind() IntentKind { return IntentCreateInventoryAndMovement }
func (CreateInventoryAndMovement) sealed()          {}

func (c CreateInventoryAndMovement) Accept(ctx context.Context, v IntentVisitor) error {
	return v.VisitCreateInventoryAndMovement(ctx, c)
}

// PendingAction is one queued server effect. It is immutable once enqueued.
type PendingAction struct {
	ID         string
	EnqueuedAt time.Time
	Intent     Intent
}

// actionEnvelope is the persisted form of a PendingAction.
type actionEnvelope struct {
	ID         string          `json:"id"`
	Entity     Entity          `json:"entity"`
	Intent     IntentKind      `json:"intent"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

// MarshalJSON writes the action as a tagged envelope.
func (a PendingAction) MarshalJSON() ([]byte, error) {
	if a.Intent == nil {
		return nil, fmt.Errorf("pending action %s has no intent", a.ID)
	}
	payload, err := json.Marshal(a.Intent)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for action %s: %w", a.ID, err)
	}
	return json.Marshal(actionEnvelope{
		ID:         a.ID,
		Entity:     a.Intent.Entity(),
		Intent:     a.Intent.Kind(),
		EnqueuedAt: a.EnqueuedAt,
		Payload:    payload,
	})
}

// UnmarshalJSON reads a tagged envelope. Unknown (entity, intent) pairs are an
// error rather than being skipped.
func (a *PendingAction) UnmarshalJSON(data []byte) error {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal pending action: %w", err)
	}

	intent, err := decodeIntent(env.Entity, env.Intent, env.Payload)
	if err != nil {
		return fmt.Errorf("pending action %s: %w", env.ID, err)
	}

	a.ID = env.ID
	a.EnqueuedAt = env.EnqueuedAt
	a.Intent = intent
	return nil
}

func decodeIntent(entity Entity, kind IntentKind, payload json.RawMessage) (Intent, error) {
	switch {
	case entity == EntityWarehouse && kind == IntentCreate:
		var in CreateWarehouse
		err := json.Unmarshal(payload, &in)
		return in, err
	case entity == EntityProduct && kind == IntentCreate:
		var in CreateProduct
		err := json.Unmarshal(payload, &in)
		return in, err
	case entity == EntityMovement && kind == IntentCreateMovement:
		var in CreateMovement
		err := json.Unmarshal(payload, &in)
		return in, err
	case entity == EntityMovement && kind == IntentCreateInventoryAndMovement:
		var in CreateInventoryAndMovement
		err := json.Unmarshal(payload, &in)
		return in, err
	}
	return nil, fmt.Errorf("unknown intent %s for entity %s", kind, entity)
}
