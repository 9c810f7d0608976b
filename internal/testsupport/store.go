package testsupport

import (
	"context"
	"testing"

	"shelftamer/internal/config"
	"shelftamer/internal/identity"
	"shelftamer/internal/ledger"
)

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRecord creates a pending record for tests using the provided store.
func NewRecord(t testing.TB, store *ledger.Store, book *identity.Book) *ledger.Record {
	t.Helper()

	record, err := store.NewRecord(context.Background(), book)
	if err != nil {
		t.Fatalf("store.NewRecord: %v", err)
	}
	return record
}
