package ledger_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shelftamer/internal/ledger"
	"shelftamer/internal/testsupport"
)

func seedRecord(t *testing.T, store *ledger.Store, name string) *ledger.Record {
	t.Helper()
	cfgDir := t.TempDir()
	path := testsupport.WriteFile(t, filepath.Join(cfgDir, name), "content of "+name)
	book := testsupport.MustNewBook(t, path)
	return testsupport.NewRecord(t, store, book)
}

func TestNewRecordDefaults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	record := seedRecord(t, store, "earthsea.epub")
	if record.Status != ledger.StatusPending {
		t.Fatalf("status = %q", record.Status)
	}
	if record.BookID == "" || record.Fingerprint == "" {
		t.Fatalf("identity fields missing: %+v", record)
	}
	if record.Attempts != 0 {
		t.Fatalf("attempts = %d", record.Attempts)
	}
	if !record.Retryable {
		t.Fatal("new records default to retryable")
	}
}

func TestFindByBookID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	record := seedRecord(t, store, "dune.pdf")

	found, err := store.FindByBookID(context.Background(), record.BookID)
	if err != nil {
		t.Fatalf("FindByBookID: %v", err)
	}
	if found == nil || found.ID != record.ID {
		t.Fatalf("lookup mismatch: %+v", found)
	}

	missing, err := store.FindByBookID(context.Background(), "no-such-book")
	if err != nil {
		t.Fatalf("FindByBookID: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown id, got %+v", missing)
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	record := seedRecord(t, store, "dune.pdf")

	record.Status = ledger.StatusExtracted
	record.PageCount = 7
	record.PagesTruncated = true
	record.MetadataJSON = `{"title":"Dune"}`
	record.PDFPath = "/library/pdf/Science Fiction/dune.pdf"
	now := time.Now().UTC()
	record.LastAttemptAt = &now

	if err := store.Update(context.Background(), record); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded, err := store.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != ledger.StatusExtracted {
		t.Fatalf("status = %q", reloaded.Status)
	}
	if reloaded.PageCount != 7 || !reloaded.PagesTruncated {
		t.Fatalf("page fields lost: %+v", reloaded)
	}
	if reloaded.MetadataJSON != record.MetadataJSON {
		t.Fatalf("metadata lost: %q", reloaded.MetadataJSON)
	}
	if reloaded.LastAttemptAt == nil {
		t.Fatal("last attempt timestamp lost")
	}
}

func TestClaimIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	record := seedRecord(t, store, "dune.pdf")

	const attempts = 8
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Claim(context.Background(), record.ID, ledger.StatusPending, ledger.StatusExtracting)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one claim winner, got %d", winners)
	}

	claimed, err := store.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if claimed.Status != ledger.StatusExtracting {
		t.Fatalf("status = %q", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Fatalf("attempts = %d, claim bumps once", claimed.Attempts)
	}
	if claimed.LastHeartbeat == nil {
		t.Fatal("claim should set a heartbeat")
	}
}

func TestTransitionReleasesClaimWithoutAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	record := seedRecord(t, store, "dune.pdf")

	ok, err := store.Claim(context.Background(), record.ID, ledger.StatusPending, ledger.StatusExtracting)
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}

	ok, err = store.Transition(context.Background(), record.ID, ledger.StatusExtracting, ledger.StatusPending)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if !ok {
		t.Fatal("transition from the claimed status should apply")
	}

	released, err := store.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if released.Status != ledger.StatusPending {
		t.Fatalf("status = %q", released.Status)
	}
	if released.Attempts != 1 {
		t.Fatalf("attempts = %d, transition must not bump the counter", released.Attempts)
	}
	if released.LastHeartbeat != nil {
		t.Fatal("transition should clear the heartbeat")
	}

	ok, err = store.Transition(context.Background(), record.ID, ledger.StatusExtracting, ledger.StatusPending)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if ok {
		t.Fatal("transition from a stale status must report no change")
	}
}

func TestFindBySourcePath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	record := seedRecord(t, store, "dune.pdf")

	found, err := store.FindBySourcePath(context.Background(), record.SourcePath)
	if err != nil {
		t.Fatalf("FindBySourcePath: %v", err)
	}
	if found == nil || found.ID != record.ID {
		t.Fatalf("lookup mismatch: %+v", found)
	}

	missing, err := store.FindBySourcePath(context.Background(), "/nowhere/else.pdf")
	if err != nil {
		t.Fatalf("FindBySourcePath: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown path, got %+v", missing)
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	record := seedRecord(t, store, "dune.pdf")

	ok, err := store.Claim(context.Background(), record.ID, ledger.StatusPending, ledger.StatusExtracting)
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}

	// Heartbeat is fresh, nothing to reclaim.
	reclaimed, err := store.ReclaimStaleProcessing(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("reclaimed %d records with live heartbeats", reclaimed)
	}

	reclaimed, err = store.ReclaimStaleProcessing(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d", reclaimed)
	}

	reset, err := store.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reset.Status != ledger.StatusPending {
		t.Fatalf("stale extracting should roll back to pending, got %q", reset.Status)
	}
	if reset.LastHeartbeat != nil {
		t.Fatal("heartbeat should be cleared on reclaim")
	}
}

func TestRetryFailedSkipsNonRetryable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	corrupt := seedRecord(t, store, "corrupt.pdf")
	corrupt.SetFailed("extraction error: decode failed", false, ledger.StatusPending)
	if err := store.Update(context.Background(), corrupt); err != nil {
		t.Fatalf("Update: %v", err)
	}

	flaky := seedRecord(t, store, "flaky.epub")
	flaky.SetFailed("model unavailable", true, ledger.StatusPending)
	if err := store.Update(context.Background(), flaky); err != nil {
		t.Fatalf("Update: %v", err)
	}

	requeued, err := store.RetryFailed(context.Background())
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("requeued = %d, blanket retry must skip non-retryable records", requeued)
	}

	// Explicit id overrides the non-retryable flag.
	requeued, err = store.RetryFailed(context.Background(), corrupt.ID)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("explicit retry requeued = %d", requeued)
	}
	reloaded, err := store.GetByID(context.Background(), corrupt.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != ledger.StatusPending || !reloaded.Retryable {
		t.Fatalf("explicit retry should reset status and flag: %+v", reloaded)
	}
}

func TestRetryFailedResumesFromFailedStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	// Enrichment finished but emission blew up; a retry must not repeat the
	// model calls.
	book := seedRecord(t, store, "emitless.pdf")
	book.MetadataJSON = `{"title":"Dune"}`
	book.SetFailed("no artifact produced", true, ledger.StatusEnriched)
	if err := store.Update(context.Background(), book); err != nil {
		t.Fatalf("Update: %v", err)
	}

	requeued, err := store.RetryFailed(context.Background())
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("requeued = %d", requeued)
	}

	reloaded, err := store.GetByID(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != ledger.StatusEnriched {
		t.Fatalf("status = %q, want requeue at the failed stage", reloaded.Status)
	}
	if reloaded.MetadataJSON == "" {
		t.Fatal("enrichment snapshot must survive the retry")
	}
	if reloaded.ErrorMessage != "" {
		t.Fatalf("error message not cleared: %q", reloaded.ErrorMessage)
	}
}

func TestRetryFailedWithoutResumeStatusFallsBackToPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	book := seedRecord(t, store, "legacy.pdf")
	book.SetFailed("model unavailable", true, "")
	if err := store.Update(context.Background(), book); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := store.RetryFailed(context.Background(), book.ID); err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	reloaded, err := store.GetByID(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != ledger.StatusPending {
		t.Fatalf("status = %q, want pending", reloaded.Status)
	}
}

func TestStatsAndMaintenance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	done := seedRecord(t, store, "done.pdf")
	done.Status = ledger.StatusCompleted
	if err := store.Update(context.Background(), done); err != nil {
		t.Fatalf("Update: %v", err)
	}
	seedRecord(t, store, "waiting.epub")

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[ledger.StatusCompleted] != 1 || stats[ledger.StatusPending] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}

	removed, err := store.ClearCompleted(context.Background())
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d", removed)
	}

	remaining, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Status != ledger.StatusPending {
		t.Fatalf("unexpected remaining records %+v", remaining)
	}

	if err := store.Remove(context.Background(), remaining[0].ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	empty, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty ledger, got %+v", empty)
	}
}
