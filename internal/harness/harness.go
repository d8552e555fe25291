package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JhanGutierrez/ventry/internal/builder"
	"github.com/JhanGutierrez/ventry/internal/catalog"
	"github.com/JhanGutierrez/ventry/internal/connectivity"
	"github.com/JhanGutierrez/ventry/internal/engine"
	"github.com/JhanGutierrez/ventry/internal/model"
	"github.com/JhanGutierrez/ventry/internal/queue"
	"github.com/JhanGutierrez/ventry/internal/store"
	"github.com/JhanGutierrez/ventry/internal/testutil"
)

// Harness is the test execution engine.
// It wires the real client pipeline to an in-memory server.
type Harness struct {
	store        *store.Store
	queue        *queue.Queue
	server       *testutil.MemoryGateway
	monitor      *connectivity.Monitor
	builder      *builder.Builder
	orchestrator *engine.Orchestrator

	// seen is the number of server calls already written to the trace.
	seen int
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and server
// 2. Load seed records
// 3. Execute steps with expect validation
// 4. Evaluate assertions
//
// The returned error reports a broken harness setup; scenario mismatches
// are recorded in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	q := queue.New(st, queue.WithLogger(logger))
	server := testutil.NewMemoryGateway()
	gw := server.Gateway()
	mon := connectivity.NewMonitor(scenario.Online, connectivity.WithLogger(logger))

	b, err := builder.New(st, q, gw, mon,
		builder.WithIDGenerator(testutil.NewSequenceIDs("id")),
		builder.WithClock(testutil.NewDeterministicClock().Now),
		builder.WithUserID("harness"),
		builder.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create builder: %w", err)
	}

	cat := catalog.New(st, gw, mon, catalog.WithLogger(logger))
	h := &Harness{
		store:   st,
		queue:   q,
		server:  server,
		monitor: mon,
		builder: b,
		orchestrator: engine.New(st, q, gw,
			engine.WithRefresher(cat),
			engine.WithLogger(logger),
		),
	}

	ctx := context.Background()
	if err := h.loadSeed(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to load seed: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Do, err)
		}
	}

	actx := &AssertionContext{
		Ctx:    ctx,
		Store:  st,
		Queue:  q,
		Server: server,
	}
	for _, errMsg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// loadSeed writes cache records as SYNCED and server records as-is.
func (h *Harness) loadSeed(ctx context.Context, seed Seed) error {
	err := h.store.Update(ctx, func(tx *store.Tx) error {
		for _, sw := range seed.Cache.Warehouses {
			w := sw.record()
			w.SyncStatus = model.SyncStatusSynced
			if err := store.Warehouses.Put(ctx, tx, w); err != nil {
				return err
			}
		}
		for _, sp := range seed.Cache.Products {
			p := sp.record()
			p.SyncStatus = model.SyncStatusSynced
			if err := store.Products.Put(ctx, tx, p); err != nil {
				return err
			}
		}
		for _, sr := range seed.Cache.Inventories {
			r := sr.record()
			r.SyncStatus = model.SyncStatusSynced
			if err := store.Inventories.Put(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, w := range seed.Server.Warehouses {
		h.server.SeedWarehouse(w.record())
	}
	for _, p := range seed.Server.Products {
		h.server.SeedProduct(p.record())
	}
	for _, r := range seed.Server.Inventories {
		h.server.SeedInventory(r.record())
	}
	return nil
}

// executeStep runs one step, traces it and checks its expectation.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	var (
		line string
		out  outcome
		err  error
	)

	switch step.Do {
	case StepCreateWarehouse:
		line, out = h.createWarehouse(ctx, step)
	case StepCreateProduct:
		line, out = h.createProduct(ctx, step)
	case StepRecordMovement:
		line, out = h.recordMovement(ctx, step)
	case StepGoOnline:
		h.monitor.Set(true)
		line = "online"
	case StepGoOffline:
		h.monitor.Set(false)
		line = "offline"
	case StepSync:
		line, out = h.sync(ctx)
	case StepSyncConcurrent:
		line, out, err = h.syncConcurrent(ctx)
	case StepFailNext:
		h.server.FailNext(step.Op, fault(step))
		line = fmt.Sprintf("fail_next op=%s kind=%s", step.Op, step.Kind)
	case StepAssignServerIDs:
		h.server.AssignServerIDs(step.Table)
		line = fmt.Sprintf("assign_server_ids table=%s", step.Table)
	default:
		return fmt.Errorf("unknown step %q", step.Do)
	}
	if err != nil {
		return err
	}

	result.AddTrace(line)
	h.traceCalls(result)

	if step.Expect != nil {
		for _, msg := range checkExpect(*step.Expect, out) {
			result.AddError(fmt.Sprintf("steps[%d] (%s): %s", index, step.Do, msg))
		}
	}
	return nil
}

// traceCalls appends the server calls made since the last step.
func (h *Harness) traceCalls(result *Result) {
	calls := h.server.Calls()
	for _, c := range calls[h.seen:] {
		result.AddTrace("  call " + strings.TrimSpace(c))
	}
	h.seen = len(calls)
}

// outcome is what a step produced, compared against StepExpect.
type outcome struct {
	mode      builder.Mode
	err       error
	report    *engine.Report
	reportErr error
}

func (h *Harness) createWarehouse(ctx context.Context, step Step) (string, outcome) {
	res, err := h.builder.CreateWarehouse(ctx, model.WarehouseInput{Name: step.Name, Location: step.Location})
	if err != nil {
		return errorLine(step.Do, err), outcome{err: err}
	}
	return fmt.Sprintf("%s id=%s mode=%s%s", step.Do, res.Warehouse.ID, res.Mode, actionSuffix(res.ActionID)),
		outcome{mode: res.Mode}
}

func (h *Harness) createProduct(ctx context.Context, step Step) (string, outcome) {
	res, err := h.builder.CreateProduct(ctx, model.ProductInput{SKU: step.SKU, Name: step.Name, Description: step.Description})
	if err != nil {
		return errorLine(step.Do, err), outcome{err: err}
	}
	return fmt.Sprintf("%s id=%s mode=%s%s", step.Do, res.Product.ID, res.Mode, actionSuffix(res.ActionID)),
		outcome{mode: res.Mode}
}

func (h *Harness) recordMovement(ctx context.Context, step Step) (string, outcome) {
	res, err := h.builder.RecordMovement(ctx, model.MovementInput{
		ProductID:   step.Product,
		WarehouseID: step.Warehouse,
		Type:        model.MovementType(step.Type),
		Quantity:    step.Quantity,
		Reason:      step.Reason,
	})
	if err != nil {
		return errorLine(step.Do, err), outcome{err: err}
	}

	line := fmt.Sprintf("%s movement=%s inventory=%s quantity=%d mode=%s",
		step.Do, res.Movement.ID, res.Inventory.ID, res.Inventory.Quantity, res.Mode)
	if res.Intent != "" {
		line += fmt.Sprintf(" intent=%s", res.Intent)
	}
	return line + actionSuffix(res.ActionID), outcome{mode: res.Mode}
}

func (h *Harness) sync(ctx context.Context) (string, outcome) {
	report, err := h.orchestrator.Start(ctx)
	line := fmt.Sprintf("sync status=%s replayed=%d remaining=%d", report.Status, report.Replayed, report.Remaining)
	if err != nil {
		line += " error=" + errorCode(err)
	}
	return line, outcome{report: &report, reportErr: err}
}

// syncConcurrent blocks the first drain at its first server call, issues a
// second Start, then lets the first drain finish. The outcome is the first
// drain's report; the second must be SKIPPED.
func (h *Harness) syncConcurrent(ctx context.Context) (string, outcome, error) {
	entered, release := h.server.Hold()
	defer release()

	type started struct {
		report engine.Report
		err    error
	}
	done := make(chan started, 1)
	go func() {
		r, err := h.orchestrator.Start(ctx)
		done <- started{r, err}
	}()

	select {
	case <-entered:
	case first := <-done:
		return "", outcome{}, fmt.Errorf("first drain finished without calling the server (status %s)", first.report.Status)
	}

	second, err := h.orchestrator.Start(ctx)
	if err != nil {
		return "", outcome{}, fmt.Errorf("second drain: %w", err)
	}
	release()
	first := <-done

	line := fmt.Sprintf("sync_concurrent first=%s second=%s", first.report.Status, second.Status)
	out := outcome{report: &first.report, reportErr: first.err}
	if second.Status != engine.StatusSkipped {
		out.err = fmt.Errorf("second drain status %s, want %s", second.Status, engine.StatusSkipped)
	}
	return line, out, nil
}

func fault(step Step) error {
	cause := errors.New("injected fault")
	if step.Kind == "validation" {
		return model.NewValidationError(step.Op, model.CodeRejected, cause)
	}
	return model.NewNetworkError(step.Op, model.CodeUnavailable, cause)
}

func errorLine(step string, err error) string {
	return fmt.Sprintf("%s error=%s", step, errorCode(err))
}

// errorCode renders err as KIND/CODE.
func errorCode(err error) string {
	return fmt.Sprintf("%s/%s", model.KindOf(err), model.CodeOf(err))
}

func actionSuffix(id string) string {
	if id == "" {
		return ""
	}
	return " action=" + id
}

// checkExpect compares a step outcome with its expectation.
func checkExpect(want StepExpect, got outcome) []string {
	var errs []string

	if want.Error == "" && got.err != nil {
		errs = append(errs, fmt.Sprintf("unexpected error: %v", got.err))
	}
	if want.Error != "" {
		cause := got.err
		if cause == nil {
			cause = got.reportErr
		}
		switch {
		case cause == nil:
			errs = append(errs, fmt.Sprintf("expected error %s, got none", want.Error))
		case errorCode(cause) != want.Error:
			errs = append(errs, fmt.Sprintf("expected error %s, got %s (%v)", want.Error, errorCode(cause), cause))
		}
	}

	if want.Mode != "" && string(got.mode) != want.Mode {
		errs = append(errs, fmt.Sprintf("expected mode %s, got %q", want.Mode, got.mode))
	}

	if want.Status == "" && want.Replayed == nil && want.Remaining == nil {
		return errs
	}
	if got.report == nil {
		return append(errs, "expected a sync report, step produced none")
	}
	if want.Status != "" && string(got.report.Status) != want.Status {
		errs = append(errs, fmt.Sprintf("expected status %s, got %s", want.Status, got.report.Status))
	}
	if want.Replayed != nil && got.report.Replayed != *want.Replayed {
		errs = append(errs, fmt.Sprintf("expected %d replayed, got %d", *want.Replayed, got.report.Replayed))
	}
	if want.Remaining != nil && got.report.Remaining != *want.Remaining {
		errs = append(errs, fmt.Sprintf("expected %d remaining, got %d", *want.Remaining, got.report.Remaining))
	}
	return errs
}
