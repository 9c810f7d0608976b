package workflow

import (
	"context"
	"testing"
	"time"

	"shelftamer/internal/logging"
	"shelftamer/internal/testsupport"
)

func TestDrainSurfacesDeadLedger(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	manager := NewManager(cfg, store, Pipeline{}, logging.NewNop())

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- manager.drain(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("drain should surface a dead ledger")
		}
	case <-time.After(30 * time.Second):
		t.Fatal("drain kept retrying a dead ledger instead of aborting")
	}
}
