package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/JhanGutierrez/ventry/internal/model"
	"github.com/JhanGutierrez/ventry/internal/queue"
	"github.com/JhanGutierrez/ventry/internal/store"
	"github.com/JhanGutierrez/ventry/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// AssertionContext provides access to the final client and server state.
type AssertionContext struct {
	Ctx    context.Context
	Store  *store.Store
	Queue  *queue.Queue
	Server *testutil.MemoryGateway
}

// EvaluateAssertions evaluates all assertions against the final state.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch {
		case actx == nil:
			err = fmt.Errorf("assertion[%d]: %s requires state context", i, assertion.Type)
		case assertion.Type == AssertQueueLen:
			err = assertQueueLen(actx, assertion)
		case assertion.Type == AssertQuantity:
			err = assertQuantity(actx, assertion)
		case assertion.Type == AssertServerQuantity:
			err = assertServerQuantity(actx, assertion)
		case assertion.Type == AssertSyncStatus:
			err = assertSyncStatus(actx, assertion)
		case assertion.Type == AssertServerCount:
			err = assertServerCount(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func assertQueueLen(actx *AssertionContext, a Assertion) error {
	n, err := actx.Queue.Len(actx.Ctx)
	if err != nil {
		return fmt.Errorf("queue_len: %w", err)
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertQueueLen,
			Expected: fmt.Sprintf("%d pending actions", *a.Count),
			Actual:   fmt.Sprintf("%d pending actions", n),
		}
	}
	return nil
}

// assertQuantity reads the cached inventory for the pair through its index.
func assertQuantity(actx *AssertionContext, a Assertion) error {
	inv, ok, err := store.Inventories.GetFirstByIndex(actx.Ctx, actx.Store,
		store.IndexProductWarehouse, store.CompositeKey(a.Product, a.Warehouse))
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	return compareQuantity(AssertQuantity, a, inv.Quantity, ok)
}

func assertServerQuantity(actx *AssertionContext, a Assertion) error {
	for _, inv := range actx.Server.Inventories() {
		if inv.ProductID == a.Product && inv.WarehouseID == a.Warehouse {
			return compareQuantity(AssertServerQuantity, a, inv.Quantity, true)
		}
	}
	return compareQuantity(AssertServerQuantity, a, 0, false)
}

func compareQuantity(typ string, a Assertion, got int64, found bool) error {
	want := fmt.Sprintf("quantity %d for product %s in warehouse %s", *a.Value, a.Product, a.Warehouse)
	if !found {
		return &AssertionError{Type: typ, Expected: want, Actual: "no inventory record"}
	}
	if got != *a.Value {
		return &AssertionError{Type: typ, Expected: want, Actual: fmt.Sprintf("quantity %d", got)}
	}
	return nil
}

func assertSyncStatus(actx *AssertionContext, a Assertion) error {
	status, found, err := cachedStatus(actx.Ctx, actx.Store, a.Collection, a.ID)
	if err != nil {
		return fmt.Errorf("sync_status: %w", err)
	}

	want := fmt.Sprintf("%s %s with status %s", a.Collection, a.ID, a.Status)
	if !found {
		return &AssertionError{Type: AssertSyncStatus, Expected: want, Actual: "record not cached"}
	}
	if string(status) != a.Status {
		return &AssertionError{Type: AssertSyncStatus, Expected: want, Actual: fmt.Sprintf("status %s", status)}
	}
	return nil
}

func cachedStatus(ctx context.Context, h store.Handle, collection, id string) (model.SyncStatus, bool, error) {
	switch collection {
	case store.CollectionWarehouses:
		w, ok, err := store.Warehouses.Get(ctx, h, id)
		return w.SyncStatus, ok, err
	case store.CollectionProducts:
		p, ok, err := store.Products.Get(ctx, h, id)
		return p.SyncStatus, ok, err
	case store.CollectionInventories:
		r, ok, err := store.Inventories.Get(ctx, h, id)
		return r.SyncStatus, ok, err
	case store.CollectionMovements:
		m, ok, err := store.Movements.Get(ctx, h, id)
		return m.SyncStatus, ok, err
	}
	return "", false, fmt.Errorf("unknown collection %q", collection)
}

func assertServerCount(actx *AssertionContext, a Assertion) error {
	n := actx.Server.Count(a.Table)
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertServerCount,
			Expected: fmt.Sprintf("%d records in %s", *a.Count, a.Table),
			Actual:   fmt.Sprintf("%d records", n),
		}
	}
	return nil
}
