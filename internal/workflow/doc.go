// Package workflow coordinates the pipeline: discovery of new book files,
// claim-based worker scheduling over the ledger, stage execution with
// heartbeats, and failure isolation so one bad book never stops the batch.
package workflow
