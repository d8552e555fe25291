// Package model defines the ventry domain: the four cached entity kinds,
// the pending actions that describe not-yet-confirmed server effects, and
// the error taxonomy shared by the store, the builder and the sync engine.
//
// # Pending actions
//
// A PendingAction wraps an Intent. Intent is a closed sum type: the only
// implementations are CreateWarehouse, CreateProduct, CreateMovement and
// CreateInventoryAndMovement. Consumers dispatch through Intent.Accept and an
// IntentVisitor, so adding a variant breaks the build of every visitor until
// it handles the new case.
//
// # Identifiers
//
// Records are created with client-generated identifiers (UUIDv7 by default).
// The same identifier is sent to the server on create, so an optimistic
// record never needs renumbering once it is confirmed.
//
// # Stock invariant
//
// InventoryRecord.Quantity is never negative. ApplyMovement is the only place
// stock arithmetic happens and is used for both the online and offline paths.
package model
