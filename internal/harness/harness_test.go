package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:  "minimal",
		Steps: []Step{{Do: StepSync, Expect: &StepExpect{Status: "COMPLETED", Replayed: intPtr(0)}}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{
		"sync status=COMPLETED replayed=0 remaining=0",
		"  call query warehouses",
		"  call query products",
		"  call query inventory",
		"  call query movements",
	}, result.Trace)
}

func TestRun_StepExpectationMismatch(t *testing.T) {
	scenario := &Scenario{
		Name: "mismatch",
		Steps: []Step{
			{Do: StepCreateWarehouse, Name: "North", Location: "Dock 1", Expect: &StepExpect{Mode: "ONLINE"}},
			{Do: StepCreateProduct, SKU: "SKU-1", Name: "Widget", Expect: &StepExpect{Error: "VALIDATION/INVALID_INPUT"}},
			{Do: StepSync, Expect: &StepExpect{Status: "FAILED"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], `steps[0] (create_warehouse): expected mode ONLINE, got "OFFLINE"`)
	assert.Contains(t, result.Errors[1], "expected error VALIDATION/INVALID_INPUT, got none")
	assert.Contains(t, result.Errors[2], "expected status FAILED, got COMPLETED")
}

func TestRun_UnexpectedErrorFailsStep(t *testing.T) {
	scenario := &Scenario{
		Name: "unexpected_error",
		Steps: []Step{
			{Do: StepCreateWarehouse, Name: " ", Location: "Dock 1", Expect: &StepExpect{Mode: "OFFLINE"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"create_warehouse error=VALIDATION/INVALID_INPUT"}, result.Trace)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "unexpected error")
}

func TestRun_OnlineCreateReachesServer(t *testing.T) {
	scenario := &Scenario{
		Name:   "online_create",
		Online: true,
		Steps: []Step{
			{Do: StepCreateWarehouse, Name: "North", Location: "Dock 1", Expect: &StepExpect{Mode: "ONLINE"}},
		},
		Assertions: []Assertion{
			{Type: AssertQueueLen, Count: intPtr(0)},
			{Type: AssertServerCount, Table: "warehouses", Count: intPtr(1)},
			{Type: AssertSyncStatus, Collection: "warehouses", ID: "id-0001", Status: "SYNCED"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{
		"create_warehouse id=id-0001 mode=ONLINE",
		"  call create warehouses id-0001",
	}, result.Trace)
}

func TestRun_SeedServerRecords(t *testing.T) {
	scenario := &Scenario{
		Name:   "seeded_server",
		Online: true,
		Seed: Seed{Server: SeedRecords{
			Warehouses:  []SeedWarehouse{{ID: "w-1", Name: "North"}},
			Inventories: []SeedInventory{{ID: "inv-1", Product: "p-1", Warehouse: "w-1", Quantity: 3}},
		}},
		Steps: []Step{{Do: StepSync}},
		Assertions: []Assertion{
			{Type: AssertQuantity, Product: "p-1", Warehouse: "w-1", Value: int64Ptr(3)},
			{Type: AssertSyncStatus, Collection: "warehouses", ID: "w-1", Status: "SYNCED"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/server_assigned_inventory_id.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_FreshDatabasePerRun(t *testing.T) {
	scenario := &Scenario{
		Name:       "fresh",
		Steps:      []Step{{Do: StepCreateWarehouse, Name: "North", Location: "Dock 1"}},
		Assertions: []Assertion{{Type: AssertQueueLen, Count: intPtr(1)}},
	}

	for i := 0; i < 2; i++ {
		result, err := Run(scenario)
		require.NoError(t, err)
		assert.True(t, result.Pass, "run %d errors: %v", i, result.Errors)
	}
}

func TestResult_TraceText(t *testing.T) {
	r := NewResult()
	assert.Nil(t, r.TraceText())

	r.AddTrace("online")
	r.AddTrace("offline")
	assert.Equal(t, "online\noffline\n", string(r.TraceText()))
}
