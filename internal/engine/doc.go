// Package engine implements the sync orchestrator: it drains the pending
// action queue against the remote gateway and reconciles the local store
// with the records the server returns.
//
// ARCHITECTURE:
//
// Single-Flight Drain:
// At most one drain runs at a time. Start moves the orchestrator from IDLE to
// SYNCING with a compare-and-swap; a start request that loses the race is
// logged and dropped, never queued or retried.
//
// Drain Flow:
// 1. Read every queued action, oldest first
// 2. Replay each action through a visitor, one at a time, each under its own timeout
// 3. Write the server records to the store as SYNCED and remove the action
// in the same transaction
// 4. Stop at the first failure; the failed action and everything after it
// stay queued for the next run
//
// After every run a Report is published to subscribers naming the collections
// the run touched, so views can re-read them.
//
// CRITICAL PATTERNS:
//
// Ordering:
// Actions are replayed strictly in enqueue order. A later action may depend on
// an earlier one (a movement against an inventory record created offline).
//
// Identity:
// Client ids are sent as permanent ids. When the server assigns a different
// id anyway, an alias is recorded and the optimistic record is replaced, so
// later actions naming the old id replay against the server id. Inventory
// records are re-keyed together with their cached movements.
package engine
