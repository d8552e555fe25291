package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JhanGutierrez/ventry/internal/model"
)

// Scenario defines a conformance test scenario: seed state, a sequence of
// client steps, and assertions on the final cache, queue and server.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Online is the connectivity state at the start.
	Online bool `yaml:"online"`

	// Seed is loaded before the first step.
	Seed Seed `yaml:"seed,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Seed is the state before the first step. Cache records are stored SYNCED.
type Seed struct {
	Cache  SeedRecords `yaml:"cache,omitempty"`
	Server SeedRecords `yaml:"server,omitempty"`
}

// SeedRecords lists records per entity.
type SeedRecords struct {
	Warehouses  []SeedWarehouse `yaml:"warehouses,omitempty"`
	Products    []SeedProduct   `yaml:"products,omitempty"`
	Inventories []SeedInventory `yaml:"inventories,omitempty"`
}

// SeedWarehouse is a warehouse present before the first step.
type SeedWarehouse struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Location string `yaml:"location,omitempty"`
}

// SeedProduct is a product present before the first step.
type SeedProduct struct {
	ID   string `yaml:"id"`
	SKU  string `yaml:"sku"`
	Name string `yaml:"name"`
}

// SeedInventory is an inventory record present before the first step.
type SeedInventory struct {
	ID        string `yaml:"id"`
	Product   string `yaml:"product"`
	Warehouse string `yaml:"warehouse"`
	Quantity  int64  `yaml:"quantity"`
}

func (w SeedWarehouse) record() model.Warehouse {
	return model.Warehouse{ID: w.ID, Name: w.Name, Location: w.Location}
}

func (p SeedProduct) record() model.Product {
	return model.Product{ID: p.ID, SKU: p.SKU, Name: p.Name}
}

func (r SeedInventory) record() model.InventoryRecord {
	return model.InventoryRecord{ID: r.ID, ProductID: r.Product, WarehouseID: r.Warehouse, Quantity: r.Quantity}
}

// Step is one client action.
type Step struct {
	// Do selects the action, see the Step* constants.
	Do string `yaml:"do"`

	// Warehouse and product fields (create_warehouse, create_product).
	Name        string `yaml:"name,omitempty"`
	Location    string `yaml:"location,omitempty"`
	SKU         string `yaml:"sku,omitempty"`
	Description string `yaml:"description,omitempty"`

	// Movement fields (record_movement).
	Product   string `yaml:"product,omitempty"`
	Warehouse string `yaml:"warehouse,omitempty"`
	Type      string `yaml:"type,omitempty"`
	Quantity  int64  `yaml:"quantity,omitempty"`
	Reason    string `yaml:"reason,omitempty"`

	// Fault injection (fail_next): gateway operation and error kind.
	Op   string `yaml:"op,omitempty"`
	Kind string `yaml:"kind,omitempty"`

	// Table for assign_server_ids.
	Table string `yaml:"table,omitempty"`

	// Expect checks the step outcome. If nil, the step is only traced.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect is the expected outcome of a step. Empty fields are not checked.
type StepExpect struct {
	// Mode is ONLINE or OFFLINE for create steps.
	Mode string `yaml:"mode,omitempty"`

	// Error is the expected failure as KIND/CODE, e.g. VALIDATION/NO_INVENTORY.
	Error string `yaml:"error,omitempty"`

	// Status, Replayed and Remaining check a sync report.
	Status    string `yaml:"status,omitempty"`
	Replayed  *int   `yaml:"replayed,omitempty"`
	Remaining *int   `yaml:"remaining,omitempty"`
}

// Step actions.
const (
	StepCreateWarehouse = "create_warehouse"
	StepCreateProduct   = "create_product"
	StepRecordMovement  = "record_movement"
	StepGoOnline        = "go_online"
	StepGoOffline       = "go_offline"
	StepSync            = "sync"
	StepSyncConcurrent  = "sync_concurrent"
	StepFailNext        = "fail_next"
	StepAssignServerIDs = "assign_server_ids"
)

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "queue_len": number of pending actions equals Count
	// - "quantity": cached quantity for Product/Warehouse equals Value
	// - "server_quantity": server quantity for Product/Warehouse equals Value
	// - "sync_status": cached record Collection/ID has Status
	// - "server_count": server Table holds Count records
	Type string `yaml:"type"`

	Count      *int   `yaml:"count,omitempty"`
	Value      *int64 `yaml:"value,omitempty"`
	Product    string `yaml:"product,omitempty"`
	Warehouse  string `yaml:"warehouse,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	ID         string `yaml:"id,omitempty"`
	Status     string `yaml:"status,omitempty"`
	Table      string `yaml:"table,omitempty"`
}

// Assertion type constants.
const (
	AssertQueueLen       = "queue_len"
	AssertQuantity       = "quantity"
	AssertServerQuantity = "server_quantity"
	AssertSyncStatus     = "sync_status"
	AssertServerCount    = "server_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps must contain at least one step")
	}
	for i, step := range s.Steps {
		if err := validateStep(step, i); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s Step, index int) error {
	switch s.Do {
	case StepCreateWarehouse, StepCreateProduct, StepGoOnline, StepGoOffline, StepSync, StepSyncConcurrent:
	case StepRecordMovement:
		if _, err := model.ParseMovementType(s.Type); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case StepFailNext:
		if s.Op == "" {
			return fmt.Errorf("steps[%d]: op is required for fail_next", index)
		}
		if s.Kind != "network" && s.Kind != "validation" {
			return fmt.Errorf("steps[%d]: kind must be network or validation, got %q", index, s.Kind)
		}
	case StepAssignServerIDs:
		if s.Table == "" {
			return fmt.Errorf("steps[%d]: table is required for assign_server_ids", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: do is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown step %q", index, s.Do)
	}
	return nil
}

func validateAssertion(a Assertion, index int) error {
	switch a.Type {
	case AssertQueueLen:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for queue_len", index)
		}
	case AssertQuantity, AssertServerQuantity:
		if a.Product == "" || a.Warehouse == "" || a.Value == nil {
			return fmt.Errorf("assertions[%d]: product, warehouse and value are required for %s", index, a.Type)
		}
	case AssertSyncStatus:
		if a.Collection == "" || a.ID == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: collection, id and status are required for sync_status", index)
		}
	case AssertServerCount:
		if a.Table == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: table and count are required for server_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
