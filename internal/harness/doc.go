// Package harness runs conformance scenarios against the offline mutation
// pipeline: the record builder, the action queue, the sync orchestrator and
// the catalog, all backed by an in-memory database and an in-memory server.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	online: false
//	seed:
//	  cache:
//	    inventories:
//	      - { id: inv-1, product: p-1, warehouse: w-1, quantity: 5 }
//	steps:
//	  - do: record_movement
//	    product: p-1
//	    warehouse: w-1
//	    type: INBOUND
//	    quantity: 10
//	    expect: { mode: OFFLINE }
//	  - do: go_online
//	  - do: sync
//	    expect: { status: COMPLETED, replayed: 1, remaining: 0 }
//	assertions:
//	  - type: queue_len
//	    count: 0
//	  - type: quantity
//	    product: p-1
//	    warehouse: w-1
//	    value: 15
//
// # Steps
//
//   - create_warehouse, create_product, record_movement: call the builder
//   - go_online, go_offline: flip the connectivity monitor
//   - sync: run one drain
//   - sync_concurrent: start a second drain while the first one is blocked
//     on the server and expect it to be skipped
//   - fail_next: make the next server call named op fail (kind network or
//     validation)
//   - assign_server_ids: make the server ignore client ids for a table
//
// # Assertion Types
//
//   - queue_len: number of pending actions
//   - quantity: cached quantity for a product/warehouse pair
//   - server_quantity: server quantity for a product/warehouse pair
//   - sync_status: sync status of a cached record
//   - server_count: number of records in a server table
//
// # Deterministic Testing
//
// Ids come from testutil.SequenceIDs ("id-0001", "id-0002", ...) and
// timestamps from testutil.DeterministicClock, so a scenario produces the
// same trace on every run. Traces are compared against golden files in
// testdata/golden.
package harness
