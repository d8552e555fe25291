package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/JhanGutierrez/ventry/internal/gateway"
	"github.com/JhanGutierrez/ventry/internal/model"
)

// Table names used in MemoryGateway operation names, matching the GraphQL
// tables: "create warehouses", "update inventory", "query movements", ...
const (
	TableWarehouses = "warehouses"
	TableProducts   = "products"
	TableInventory  = "inventory"
	TableMovements  = "movements"
)

// MemoryGateway is an in-memory backend for tests.
//
// It behaves like the real service: creates reject duplicate ids, movements
// must reference an existing inventory record, inventory quantities may not go
// negative. Tests can inject faults, make the server assign its own ids, and
// hold calls at a gate to observe a drain in progress.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryGateway struct {
	mu sync.Mutex

	warehouses  *memTable[model.Warehouse]
	products    *memTable[model.Product]
	inventories *memTable[model.InventoryRecord]
	movements   *memTable[model.Movement]

	calls    []string
	faults   map[string][]error
	down     bool
	serverID map[string]bool
	nextID   int

	gate    chan struct{}
	entered chan string
}

// NewMemoryGateway returns an empty backend.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		warehouses:  newMemTable(func(w model.Warehouse) string { return w.ID }),
		products:    newMemTable(func(p model.Product) string { return p.ID }),
		inventories: newMemTable(func(r model.InventoryRecord) string { return r.ID }),
		movements:   newMemTable(func(m model.Movement) string { return m.ID }),
		faults:      make(map[string][]error),
		serverID:    make(map[string]bool),
	}
}

// Gateway returns the per-entity remotes backed by g.
func (g *MemoryGateway) Gateway() *gateway.Gateway {
	return &gateway.Gateway{
		Warehouses: memRemote[model.Warehouse, gateway.WarehousePatch]{
			g: g, name: TableWarehouses, table: g.warehouses,
			setID: func(w model.Warehouse, id string) model.Warehouse { w.ID = id; return w },
			apply: func(w model.Warehouse, p gateway.WarehousePatch) (model.Warehouse, error) {
				if p.Name != nil {
					w.Name = *p.Name
				}
				if p.Location != nil {
					w.Location = *p.Location
				}
				return w, nil
			},
		},
		Products: memRemote[model.Product, gateway.ProductPatch]{
			g: g, name: TableProducts, table: g.products,
			setID: func(p model.Product, id string) model.Product { p.ID = id; return p },
			apply: func(p model.Product, patch gateway.ProductPatch) (model.Product, error) {
				if patch.Name != nil {
					p.Name = *patch.Name
				}
				if patch.Description != nil {
					p.Description = *patch.Description
				}
				return p, nil
			},
		},
		Inventories: memRemote[model.InventoryRecord, gateway.InventoryPatch]{
			g: g, name: TableInventory, table: g.inventories,
			setID: func(r model.InventoryRecord, id string) model.InventoryRecord { r.ID = id; return r },
			check: func(r model.InventoryRecord) error {
				if r.Quantity < 0 {
					return fmt.Errorf("check constraint: quantity %d < 0", r.Quantity)
				}
				return nil
			},
			apply: func(r model.InventoryRecord, p gateway.InventoryPatch) (model.InventoryRecord, error) {
				if p.Quantity != nil {
					r.Quantity = *p.Quantity
				}
				return r, nil
			},
		},
		Movements: memRemote[model.Movement, gateway.MovementPatch]{
			g: g, name: TableMovements, table: g.movements,
			setID: func(m model.Movement, id string) model.Movement { m.ID = id; return m },
			check: func(m model.Movement) error {
				if _, ok := g.inventories.get(m.InventoryID); !ok {
					return fmt.Errorf("foreign key violation: inventory %q does not exist", m.InventoryID)
				}
				return nil
			},
			apply: func(m model.Movement, p gateway.MovementPatch) (model.Movement, error) {
				if p.Reason != nil {
					m.Reason = *p.Reason
				}
				return m, nil
			},
		},
	}
}

// FailNext makes the next call named op (for example "create movements")
// fail with err. Repeated calls queue several failures.
func (g *MemoryGateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faults[op] = append(g.faults[op], err)
}

// SetDown makes every call fail with an UNAVAILABLE network error until
// SetDown(false).
func (g *MemoryGateway) SetDown(down bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.down = down
}

// AssignServerIDs makes creates on table ignore the client id and assign
// "srv-NNNN" ids instead.
func (g *MemoryGateway) AssignServerIDs(table string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.serverID[table] = true
}

// Hold closes the gate: every following call blocks until release is called
// or its context ends. entered yields the operation name of each call that
// reaches the gate.
func (g *MemoryGateway) Hold() (entered <-chan string, release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	gate := make(chan struct{})
	g.gate = gate
	g.entered = make(chan string, 64)

	var once sync.Once
	return g.entered, func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			close(gate)
			g.gate = nil
		})
	}
}

// Calls returns the log of calls received, as "<op> <id>" lines.
func (g *MemoryGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// CallCount returns how many calls named op were received.
func (g *MemoryGateway) CallCount(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

// SeedWarehouse stores w as if the server already had it.
func (g *MemoryGateway) SeedWarehouse(w model.Warehouse) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w.SyncStatus = ""
	g.warehouses.put(w)
}

// SeedProduct stores p as if the server already had it.
func (g *MemoryGateway) SeedProduct(p model.Product) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p.SyncStatus = ""
	g.products.put(p)
}

// SeedInventory stores r as if the server already had it.
func (g *MemoryGateway) SeedInventory(r model.InventoryRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r.SyncStatus = ""
	g.inventories.put(r)
}

// Warehouses returns the server's warehouses in creation order.
func (g *MemoryGateway) Warehouses() []model.Warehouse {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.warehouses.all()
}

// Products returns the server's products in creation order.
func (g *MemoryGateway) Products() []model.Product {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.products.all()
}

// Inventories returns the server's inventory records in creation order.
func (g *MemoryGateway) Inventories() []model.InventoryRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inventories.all()
}

// Movements returns the server's movements in creation order.
func (g *MemoryGateway) Movements() []model.Movement {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.movements.all()
}

// Count returns the number of server records in table.
func (g *MemoryGateway) Count(table string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch table {
	case TableWarehouses:
		return len(g.warehouses.rows)
	case TableProducts:
		return len(g.products.rows)
	case TableInventory:
		return len(g.inventories.rows)
	case TableMovements:
		return len(g.movements.rows)
	}
	return 0
}

// enter logs the call, waits at the gate, and returns any injected fault.
// On success it returns with g.mu held; the caller must unlock.
func (g *MemoryGateway) enter(ctx context.Context, op, id string) error {
	g.mu.Lock()
	g.calls = append(g.calls, op+" "+id)
	gate, entered := g.gate, g.entered
	g.mu.Unlock()

	if gate != nil {
		entered <- op
		select {
		case <-gate:
		case <-ctx.Done():
			return model.NewNetworkError(op, model.CodeTimeout, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return model.NewNetworkError(op, model.CodeTimeout, err)
	}

	g.mu.Lock()
	if g.down {
		g.mu.Unlock()
		return model.NewNetworkError(op, model.CodeUnavailable, fmt.Errorf("backend unreachable"))
	}
	if queued := g.faults[op]; len(queued) > 0 {
		err := queued[0]
		g.faults[op] = queued[1:]
		g.mu.Unlock()
		return err
	}
	return nil
}

// memTable is an insertion-ordered record set.
type memTable[T any] struct {
	key  func(T) string
	rows []T
	pos  map[string]int
}

func newMemTable[T any](key func(T) string) *memTable[T] {
	return &memTable[T]{key: key, pos: make(map[string]int)}
}

func (t *memTable[T]) get(id string) (T, bool) {
	i, ok := t.pos[id]
	if !ok {
		var zero T
		return zero, false
	}
	return t.rows[i], true
}

func (t *memTable[T]) put(v T) {
	id := t.key(v)
	if i, ok := t.pos[id]; ok {
		t.rows[i] = v
		return
	}
	t.pos[id] = len(t.rows)
	t.rows = append(t.rows, v)
}

func (t *memTable[T]) all() []T {
	return append([]T(nil), t.rows...)
}

// memRemote implements gateway.Remote over one memTable.
type memRemote[T, P any] struct {
	g     *MemoryGateway
	name  string
	table *memTable[T]
	setID func(T, string) T
	check func(T) error
	apply func(T, P) (T, error)
}

func (r memRemote[T, P]) Create(ctx context.Context, record T) (T, error) {
	var zero T
	op := "create " + r.name
	if err := r.g.enter(ctx, op, r.table.key(record)); err != nil {
		return zero, err
	}
	defer r.g.mu.Unlock()

	record = stripStatus(record)
	if r.g.serverID[r.name] {
		r.g.nextID++
		record = r.setID(record, fmt.Sprintf("srv-%04d", r.g.nextID))
	}
	if _, exists := r.table.get(r.table.key(record)); exists {
		return zero, model.NewValidationError(op, model.CodeRejected,
			fmt.Errorf("uniqueness violation: %s %q already exists", r.name, r.table.key(record)))
	}
	if r.check != nil {
		if err := r.check(record); err != nil {
			return zero, model.NewValidationError(op, model.CodeRejected, err)
		}
	}
	r.table.put(record)
	return record, nil
}

func (r memRemote[T, P]) Update(ctx context.Context, id string, patch P) (T, error) {
	var zero T
	op := "update " + r.name
	if err := r.g.enter(ctx, op, id); err != nil {
		return zero, err
	}
	defer r.g.mu.Unlock()

	current, ok := r.table.get(id)
	if !ok {
		return zero, model.NewValidationError(op, model.CodeRejected, fmt.Errorf("%s %q not found", r.name, id))
	}
	next, err := r.apply(current, patch)
	if err != nil {
		return zero, model.NewValidationError(op, model.CodeRejected, err)
	}
	if r.check != nil {
		if err := r.check(next); err != nil {
			return zero, model.NewValidationError(op, model.CodeRejected, err)
		}
	}
	r.table.put(next)
	return next, nil
}

func (r memRemote[T, P]) Query(ctx context.Context, filter gateway.Filter) ([]T, error) {
	op := "query " + r.name
	if err := r.g.enter(ctx, op, ""); err != nil {
		return nil, err
	}
	defer r.g.mu.Unlock()

	out := make([]T, 0, len(r.table.rows))
	for _, row := range r.table.rows {
		if matches(row, filter) {
			out = append(out, row)
		}
	}
	return out, nil
}

// matches compares filter values with the record's JSON fields.
func matches(v any, filter gateway.Filter) bool {
	if len(filter) == 0 {
		return true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return false
	}
	for k, want := range filter {
		if fmt.Sprint(fields[k]) != want {
			return false
		}
	}
	return true
}

// stripStatus clears the client-only sync_status field.
func stripStatus[T any](v T) T {
	switch r := any(&v).(type) {
	case *model.Warehouse:
		r.SyncStatus = ""
	case *model.Product:
		r.SyncStatus = ""
	case *model.InventoryRecord:
		r.SyncStatus = ""
	case *model.Movement:
		r.SyncStatus = ""
	}
	return v
}
