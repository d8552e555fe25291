// Package store provides the SQLite-backed local object store.
//
// The store holds named collections of JSON records, each with a primary key
// and optional secondary indexes:
//   - warehouses, products: indexed by_sync_status
//   - inventories: indexed product_warehouse and by_sync_status
//   - movements: indexed by_inventory and by_sync_status
//   - pending_actions: the offline mutation log (see internal/queue)
//   - id_aliases: optimistic id to server id mappings
//
// # Ordering
//
// GetAll and GetByIndex return records in insertion order (objects.seq).
// Put on an existing key keeps its position, so the pending action log is
// always read oldest first.
//
// # Transactions
//
// Collection operations take a Handle. Passing the *Store runs each call in
// its own transaction; passing the *Tx given to Store.Update groups several
// calls into one atomic unit. Inside Update, always use the *Tx: the store has
// a single connection and a nested call on the *Store blocks.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Index rows are removed with their object
//
// Failures are returned as model storage errors with a code describing the
// cause (quota, corruption, schema version, duplicate key, I/O).
package store
