// Package ledger persists per-book processing records in SQLite. The ledger
// is the single source of truth for the pipeline state machine: discovery
// creates pending records, workers claim them with atomic status transitions,
// heartbeats mark live claims, and completed or failed records stay behind so
// later runs can skip or retry idempotently.
package ledger
