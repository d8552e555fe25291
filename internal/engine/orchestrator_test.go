package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JhanGutierrez/ventry/internal/builder"
	"github.com/JhanGutierrez/ventry/internal/connectivity"
	"github.com/JhanGutierrez/ventry/internal/model"
	"github.com/JhanGutierrez/ventry/internal/queue"
	"github.com/JhanGutierrez/ventry/internal/store"
	"github.com/JhanGutierrez/ventry/internal/testutil"
)

type env struct {
	store   *store.Store
	queue   *queue.Queue
	server  *testutil.MemoryGateway
	monitor *connectivity.Monitor
	builder *builder.Builder
}

// newEnv starts offline so every builder call is queued.
func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q := queue.New(s)
	mg := testutil.NewMemoryGateway()
	mon := connectivity.NewMonitor(false)

	b, err := builder.New(s, q, mg.Gateway(), mon,
		builder.WithIDGenerator(testutil.NewSequenceIDs("id")),
		builder.WithClock(testutil.NewDeterministicClock().Now),
		builder.WithUserID("user-1"),
	)
	require.NoError(t, err)

	return &env{store: s, queue: q, server: mg, monitor: mon, builder: b}
}

func (e *env) orchestrator(opts ...Option) *Orchestrator {
	return New(e.store, e.queue, e.server.Gateway(), opts...)
}

func (e *env) queued(t *testing.T) int {
	t.Helper()
	n, err := e.queue.Len(context.Background())
	require.NoError(t, err)
	return n
}

func (e *env) warehouse(t *testing.T, name string) model.Warehouse {
	t.Helper()
	res, err := e.builder.CreateWarehouse(context.Background(), model.WarehouseInput{Name: name, Location: "Dock 1"})
	require.NoError(t, err)
	require.Equal(t, builder.ModeOffline, res.Mode)
	return res.Warehouse
}

func (e *env) product(t *testing.T, sku string) model.Product {
	t.Helper()
	res, err := e.builder.CreateProduct(context.Background(), model.ProductInput{SKU: sku, Name: "Widget " + sku})
	require.NoError(t, err)
	require.Equal(t, builder.ModeOffline, res.Mode)
	return res.Product
}

func (e *env) move(t *testing.T, typ model.MovementType, qty int64) builder.MovementResult {
	t.Helper()
	res, err := e.builder.RecordMovement(context.Background(), model.MovementInput{
		ProductID:   "p-1",
		WarehouseID: "w-1",
		Type:        typ,
		Quantity:    qty,
		Reason:      "count",
	})
	require.NoError(t, err)
	require.Equal(t, builder.ModeOffline, res.Mode)
	return res
}

func (e *env) cachedInventory(t *testing.T, id string) (model.InventoryRecord, bool) {
	t.Helper()
	inv, ok, err := store.Inventories.Get(context.Background(), e.store, id)
	require.NoError(t, err)
	return inv, ok
}

// A warehouse created offline reaches the server on the next drain and the
// cached copy becomes SYNCED.
func TestStart_ReplaysQueuedWarehouse(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	w := e.warehouse(t, "North")

	report, err := e.orchestrator().Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 0, report.Remaining)
	assert.Equal(t, []string{store.CollectionPendingActions, store.CollectionWarehouses}, report.Affected)

	require.Len(t, e.server.Warehouses(), 1)
	assert.Equal(t, w.ID, e.server.Warehouses()[0].ID, "client id is sent as the permanent id")

	cached, ok, err := store.Warehouses.Get(ctx, e.store, w.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.SyncStatusSynced, cached.SyncStatus)
	assert.Equal(t, 0, e.queued(t))
}

func TestStart_EmptyQueue(t *testing.T) {
	o := newEnv(t).orchestrator()

	report, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Zero(t, report.Replayed)
	assert.Empty(t, report.Affected)
	assert.Equal(t, StateIdle, o.State())
}

// A network failure on the second action stops the drain there. The first
// action stays replayed; the retry replays only what is left.
func TestStart_StopsAtFirstFailureAndResumes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	w := e.warehouse(t, "North")
	p := e.product(t, "SKU-1")

	e.server.FailNext("create products",
		model.NewNetworkError("create products", model.CodeUnavailable, errors.New("connection reset")))

	o := e.orchestrator()
	report, err := o.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 1, report.Remaining)

	var de *DrainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, model.EntityProduct, de.Entity)
	assert.Equal(t, model.IntentCreate, de.Intent)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, model.CodeUnavailable, model.CodeOf(err))

	var me *model.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, de.ActionID, me.ActionID, "cause is annotated with the failed action")

	assert.Equal(t, 1, e.queued(t))
	cachedW, _, err := store.Warehouses.Get(ctx, e.store, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusSynced, cachedW.SyncStatus)
	cachedP, _, err := store.Products.Get(ctx, e.store, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPendingCreation, cachedP.SyncStatus)

	report, err = o.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 0, e.queued(t))
	assert.Equal(t, 1, e.server.CallCount("create warehouses"), "replayed actions are never sent twice")
	assert.Equal(t, 2, e.server.CallCount("create products"))
}

// A start request during a drain is dropped, not queued.
func TestStart_SingleFlight(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.warehouse(t, "North")
	o := e.orchestrator()

	entered, release := e.server.Hold()
	defer release()

	done := make(chan Report, 1)
	go func() {
		r, _ := o.Start(ctx)
		done <- r
	}()

	select {
	case op := <-entered:
		assert.Equal(t, "create warehouses", op)
	case <-time.After(5 * time.Second):
		t.Fatal("drain never reached the server")
	}
	assert.Equal(t, StateSyncing, o.State())

	skipped, err := o.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, skipped.Status)

	release()
	select {
	case r := <-done:
		assert.Equal(t, StatusCompleted, r.Status)
		assert.Equal(t, 1, r.Replayed)
	case <-time.After(5 * time.Second):
		t.Fatal("drain never finished")
	}
	assert.Equal(t, StateIdle, o.State())
	assert.Equal(t, 1, e.server.CallCount("create warehouses"))
}

// Several offline movements on one inventory record converge on the server
// to the quantity the client showed.
func TestStart_MovementsConvergeOnLocalQuantity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	first := e.move(t, model.MovementInbound, 10)
	e.move(t, model.MovementOutbound, 3)
	e.move(t, model.MovementInbound, 5)
	require.Equal(t, 3, e.queued(t))

	local, ok := e.cachedInventory(t, first.Inventory.ID)
	require.True(t, ok)
	require.Equal(t, int64(12), local.Quantity)

	report, err := e.orchestrator().Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Replayed)

	require.Len(t, e.server.Inventories(), 1)
	assert.Equal(t, int64(12), e.server.Inventories()[0].Quantity)
	assert.Len(t, e.server.Movements(), 3)

	local, ok = e.cachedInventory(t, first.Inventory.ID)
	require.True(t, ok)
	assert.Equal(t, int64(12), local.Quantity)
	assert.Equal(t, model.SyncStatusSynced, local.SyncStatus)

	movements, err := store.Movements.GetAll(ctx, e.store)
	require.NoError(t, err)
	for _, m := range movements {
		assert.Equal(t, model.SyncStatusSynced, m.SyncStatus, "movement %s", m.ID)
	}
}

// A movement recorded after reconnecting, while an offline movement is still
// queued, replays after it and the server ends at the locally computed
// quantity.
func TestStart_OfflineThenOnlineMovementConverges(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	seeded := model.InventoryRecord{ID: "inv-1", ProductID: "p-1", WarehouseID: "w-1", Quantity: 5}
	e.server.SeedInventory(seeded)
	seeded.SyncStatus = model.SyncStatusSynced
	require.NoError(t, store.Inventories.Put(ctx, e.store, seeded))

	e.move(t, model.MovementInbound, 3)
	e.monitor.Set(true)
	res, err := e.builder.RecordMovement(ctx, model.MovementInput{
		ProductID: "p-1", WarehouseID: "w-1", Type: model.MovementInbound, Quantity: 2, Reason: "count",
	})
	require.NoError(t, err)
	assert.Equal(t, builder.ModeOffline, res.Mode)
	require.Equal(t, 2, e.queued(t))

	report, err := e.orchestrator().Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Replayed)

	require.Len(t, e.server.Inventories(), 1)
	assert.Equal(t, int64(10), e.server.Inventories()[0].Quantity)

	implied := seeded.Quantity
	for _, m := range e.server.Movements() {
		if m.Type == model.MovementInbound {
			implied += m.Quantity
		} else {
			implied -= m.Quantity
		}
	}
	assert.Equal(t, int64(10), implied, "server movements account for the server quantity")

	local, ok := e.cachedInventory(t, "inv-1")
	require.True(t, ok)
	assert.Equal(t, int64(10), local.Quantity)
	assert.Equal(t, model.SyncStatusSynced, local.SyncStatus)
}

// A partially replayed sequence keeps the local quantity and stays
// PENDING_UPDATE until the remaining movements replay.
func TestStart_PartialReplayKeepsLocalQuantity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	first := e.move(t, model.MovementInbound, 10)
	e.move(t, model.MovementOutbound, 4)

	e.server.FailNext("update inventory",
		model.NewNetworkError("update inventory", model.CodeUnavailable, errors.New("connection reset")))

	_, err := e.orchestrator().Start(ctx)
	require.Error(t, err)

	assert.Equal(t, int64(10), e.server.Inventories()[0].Quantity)
	local, _ := e.cachedInventory(t, first.Inventory.ID)
	assert.Equal(t, int64(6), local.Quantity)
	assert.Equal(t, model.SyncStatusPendingUpdate, local.SyncStatus)
}

// When the server assigns its own inventory id, later actions and cached
// records follow the server id.
func TestStart_ServerAssignedInventoryID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.server.AssignServerIDs(testutil.TableInventory)

	first := e.move(t, model.MovementInbound, 10)
	e.move(t, model.MovementOutbound, 3)

	report, err := e.orchestrator().Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Replayed)
	assert.Contains(t, report.Affected, store.CollectionAliases)

	require.Len(t, e.server.Inventories(), 1)
	serverInv := e.server.Inventories()[0]
	assert.Equal(t, "srv-0001", serverInv.ID)
	assert.Equal(t, int64(7), serverInv.Quantity)
	for _, m := range e.server.Movements() {
		assert.Equal(t, "srv-0001", m.InventoryID)
	}

	_, ok := e.cachedInventory(t, first.Inventory.ID)
	assert.False(t, ok, "optimistic record is replaced")
	local, ok := e.cachedInventory(t, "srv-0001")
	require.True(t, ok)
	assert.Equal(t, int64(7), local.Quantity)
	assert.Equal(t, model.SyncStatusSynced, local.SyncStatus)

	movements, err := store.Movements.GetByIndex(ctx, e.store, store.IndexByInventory, "srv-0001")
	require.NoError(t, err)
	assert.Len(t, movements, 2)

	resolved, err := store.ResolveID(ctx, e.store, first.Inventory.ID)
	require.NoError(t, err)
	assert.Equal(t, "srv-0001", resolved)
}

// A retry after the movement step failed reuses the inventory record the
// first attempt created.
func TestStart_RetryAfterMovementFailureDoesNotDuplicateInventory(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.server.AssignServerIDs(testutil.TableInventory)
	e.move(t, model.MovementInbound, 10)

	e.server.FailNext("create movements",
		model.NewNetworkError("create movements", model.CodeUnavailable, errors.New("connection reset")))

	o := e.orchestrator()
	_, err := o.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, e.server.Count(testutil.TableInventory))

	_, err = o.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.server.Count(testutil.TableInventory))
	assert.Equal(t, 1, e.server.Count(testutil.TableMovements))
	assert.Equal(t, 1, e.server.CallCount("create inventory"))
	assert.Equal(t, 1, e.server.CallCount("query inventory"))
	assert.Equal(t, 0, e.queued(t))
}

// A record the server already holds (an earlier attempt succeeded remotely)
// is adopted instead of failing the drain.
func TestStart_AdoptsExistingRecord(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	w := e.warehouse(t, "North")
	e.server.SeedWarehouse(w)

	report, err := e.orchestrator().Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 1, e.server.Count(testutil.TableWarehouses))
	assert.Equal(t, 1, e.server.CallCount("query warehouses"))
}

// A server validation rejection stops the drain and is not retryable.
func TestStart_ServerRejection(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, store.Inventories.Put(ctx, e.store, model.InventoryRecord{
		ID: "inv-1", ProductID: "p-1", WarehouseID: "w-1", Quantity: 5,
		SyncStatus: model.SyncStatusSynced,
	}))
	e.move(t, model.MovementOutbound, 2)

	report, err := e.orchestrator().Start(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, report.Status)
	assert.True(t, model.IsValidation(err))
	assert.Equal(t, model.CodeRejected, model.CodeOf(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 1, e.queued(t), "rejected action stays queued")
}

// A hung call is abandoned after the action timeout.
func TestStart_ActionTimeout(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.warehouse(t, "North")

	_, release := e.server.Hold()
	defer release()

	_, err := e.orchestrator(WithActionTimeout(50 * time.Millisecond)).Start(ctx)
	require.Error(t, err)
	assert.True(t, model.IsNetwork(err))
	assert.Equal(t, model.CodeTimeout, model.CodeOf(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 1, e.queued(t))
}

type recordingRefresher struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordingRefresher) Refresh(_ context.Context, collections ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, collections)
	return r.err
}

func (r *recordingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestStart_RefreshesAfterCompletedDrain(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.warehouse(t, "North")
	e.product(t, "SKU-1")
	e.server.FailNext("create products",
		model.NewNetworkError("create products", model.CodeUnavailable, errors.New("down")))

	ref := &recordingRefresher{}
	o := e.orchestrator(WithRefresher(ref))

	_, err := o.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, ref.count(), "no refresh after a failed drain")

	report, err := o.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ref.count())
	assert.Equal(t, []string{
		store.CollectionWarehouses,
		store.CollectionProducts,
		store.CollectionInventories,
		store.CollectionMovements,
	}, ref.calls[0])
	assert.Contains(t, report.Affected, store.CollectionMovements)
}

func TestStart_RefreshFailureDoesNotFailDrain(t *testing.T) {
	e := newEnv(t)
	e.warehouse(t, "North")
	ref := &recordingRefresher{err: model.NewNetworkError("query", model.CodeUnavailable, errors.New("down"))}

	report, err := e.orchestrator(WithRefresher(ref)).Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.NotContains(t, report.Affected, store.CollectionProducts)
}

func TestSubscribe_ReceivesReports(t *testing.T) {
	e := newEnv(t)
	e.warehouse(t, "North")
	o := e.orchestrator()

	ch, cancel := o.Subscribe()
	defer cancel()

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	select {
	case r := <-ch:
		assert.Equal(t, StatusCompleted, r.Status)
		assert.Equal(t, 1, r.Replayed)
	default:
		t.Fatal("no report published")
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok, "cancel closes the channel")
	cancel()
}

func TestSubscribe_SlowSubscriberSeesLatest(t *testing.T) {
	e := newEnv(t)
	o := e.orchestrator()
	ch, cancel := o.Subscribe()
	defer cancel()

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	e.warehouse(t, "North")
	_, err = o.Start(context.Background())
	require.NoError(t, err)

	r := <-ch
	assert.Equal(t, 1, r.Replayed)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected second report: %+v", extra)
	default:
	}
}

// Going online triggers a drain.
func TestRun_DrainsOnOnlineTransition(t *testing.T) {
	e := newEnv(t)
	e.warehouse(t, "North")
	o := e.orchestrator()

	reports, cancelSub := o.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- o.Run(ctx, e.monitor) }()

	e.monitor.Set(true)

	select {
	case r := <-reports:
		assert.Equal(t, StatusCompleted, r.Status)
		assert.Equal(t, 1, r.Replayed)
	case <-time.After(5 * time.Second):
		t.Fatal("online transition did not start a drain")
	}

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, e.queued(t))
}
