package workflow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"shelftamer/internal/config"
	"shelftamer/internal/enrich"
	"shelftamer/internal/extract"
	"shelftamer/internal/identity"
	"shelftamer/internal/ledger"
	"shelftamer/internal/llm"
	"shelftamer/internal/logging"
	"shelftamer/internal/testsupport"
	"shelftamer/internal/workflow"
)

type modelServer struct {
	*httptest.Server
	metadataCalls atomic.Int32
	classifyCalls atomic.Int32
}

// newModelServer answers metadata and classification prompts like a local
// model endpoint would.
func newModelServer(t *testing.T) *modelServer {
	t.Helper()
	ms := &modelServer{}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.Write([]byte(`{"models":[{"name":"llama3.2"}]}`))
			return
		}
		var payload struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		system := ""
		if len(payload.Messages) > 0 {
			system = payload.Messages[0].Content
		}
		var content string
		if strings.Contains(system, "subject category") {
			ms.classifyCalls.Add(1)
			content = `{"label":"Science Fiction","confidence":0.92,"reason":"desert planet"}`
		} else {
			ms.metadataCalls.Add(1)
			content = `{"title":"Dune","author":"Frank Herbert","year":1965,"language":"en","summary":"Desert planet politics."}`
		}
		body, _ := json.Marshal(map[string]any{
			"message": map[string]string{"role": "assistant", "content": content},
			"done":    true,
		})
		w.Write(body)
	}))
	t.Cleanup(ms.Server.Close)
	return ms
}

func newManager(t *testing.T, cfg *config.Config, store *ledger.Store) *workflow.Manager {
	t.Helper()
	client := llm.NewClient(llm.Config{
		BaseURL:           cfg.Models.BaseURL,
		TimeoutSeconds:    5,
		MaxInFlight:       cfg.Models.MaxInFlight,
		RequestsPerMinute: 6000,
	})
	pipeline := workflow.BuildPipeline(cfg, client, logging.NewNop())
	return workflow.NewManager(cfg, store, pipeline, logging.NewNop())
}

func TestRunOnceProcessesBookEndToEnd(t *testing.T) {
	server := newModelServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithModelBaseURL(server.URL))
	store := testsupport.MustOpenLedger(t, cfg)
	testsupport.WritePDF(t, filepath.Join(cfg.Paths.InputDir, "dune.pdf"),
		"Dune by Frank Herbert", "The spice must flow.")

	manager := newManager(t, cfg, store)
	summary, err := manager.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Discovery.Queued != 1 || summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.ExitCode() != 0 {
		t.Fatalf("exit code = %d", summary.ExitCode())
	}

	records, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != ledger.StatusCompleted {
		t.Fatalf("records = %+v", records)
	}
	record := records[0]
	if record.PDFPath == "" || record.EpubPath == "" {
		t.Fatalf("artifact paths missing: %+v", record)
	}
	if !strings.Contains(record.PDFPath, "Science Fiction") {
		t.Fatalf("PDFPath %q not filed under category", record.PDFPath)
	}
	for _, artifact := range []string{record.PDFPath, record.EpubPath} {
		if _, err := os.Stat(artifact); err != nil {
			t.Fatalf("artifact %s missing: %v", artifact, err)
		}
	}

	archived := filepath.Join(cfg.ProcessedDir(), "dune.pdf")
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("source not archived: %v", err)
	}
	if server.metadataCalls.Load() != 1 || server.classifyCalls.Load() != 1 {
		t.Fatalf("model calls = %d/%d, want 1/1",
			server.metadataCalls.Load(), server.classifyCalls.Load())
	}
}

func TestRunOnceSkipsIdenticalContent(t *testing.T) {
	server := newModelServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithModelBaseURL(server.URL))
	store := testsupport.MustOpenLedger(t, cfg)
	source := testsupport.WritePDF(t, filepath.Join(cfg.Paths.InputDir, "dune.pdf"),
		"Dune by Frank Herbert")
	original, err := os.ReadFile(source)
	if err != nil {
		t.Fatal(err)
	}

	manager := newManager(t, cfg, store)
	if _, err := manager.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}

	// The same bytes land in the input directory again.
	if err := os.WriteFile(source, original, 0o644); err != nil {
		t.Fatal(err)
	}
	summary, err := manager.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if summary.Discovery.SkippedCompleted != 1 || summary.Succeeded != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if server.metadataCalls.Load() != 1 {
		t.Fatalf("model called %d times, reprocessed a completed book", server.metadataCalls.Load())
	}
}

func TestRunOnceReprocessesChangedContent(t *testing.T) {
	server := newModelServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithModelBaseURL(server.URL))
	store := testsupport.MustOpenLedger(t, cfg)
	source := filepath.Join(cfg.Paths.InputDir, "dune.pdf")
	testsupport.WritePDF(t, source, "First edition text")

	manager := newManager(t, cfg, store)
	if _, err := manager.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}

	testsupport.WritePDF(t, source, "Revised second edition text")
	summary, err := manager.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if summary.Discovery.Queued != 1 || summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	completed, err := store.List(context.Background(), ledger.StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 2 {
		t.Fatalf("completed records = %d, want distinct record per content version", len(completed))
	}
}

func TestRunOnceIsolatesCorruptBook(t *testing.T) {
	server := newModelServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithModelBaseURL(server.URL))
	store := testsupport.MustOpenLedger(t, cfg)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InputDir, "broken.pdf"), "not a pdf at all")
	testsupport.WritePDF(t, filepath.Join(cfg.Paths.InputDir, "good.pdf"), "Readable text")

	manager := newManager(t, cfg, store)
	summary, err := manager.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.ExitCode() != 1 {
		t.Fatalf("exit code = %d, want 1", summary.ExitCode())
	}

	failed, err := store.List(context.Background(), ledger.StatusFailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Retryable {
		t.Fatalf("failed records = %+v, want one non-retryable failure", failed)
	}

	// The broken file stays put and stays skipped.
	summary, err = manager.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if summary.Discovery.SkippedFailed != 1 || summary.Failed != 0 {
		t.Fatalf("second summary = %+v", summary)
	}
}

func TestRunOnceCountsDegradedEnrichment(t *testing.T) {
	// The classifier answers with a label that sanitizes to nothing, so the
	// book files under Unclassified and counts as degraded, not succeeded.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.Write([]byte(`{"models":[{"name":"llama3.2"}]}`))
			return
		}
		var payload struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		content := `{"title":"Dune","author":"Frank Herbert","year":1965,"language":"en","summary":"s"}`
		if len(payload.Messages) > 0 && strings.Contains(payload.Messages[0].Content, "subject category") {
			content = `{"label":"???","confidence":0.4,"reason":""}`
		}
		body, _ := json.Marshal(map[string]any{
			"message": map[string]string{"role": "assistant", "content": content},
			"done":    true,
		})
		w.Write(body)
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithModelBaseURL(server.URL))
	store := testsupport.MustOpenLedger(t, cfg)
	testsupport.WritePDF(t, filepath.Join(cfg.Paths.InputDir, "dune.pdf"), "The spice must flow.")

	manager := newManager(t, cfg, store)
	summary, err := manager.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Degraded != 1 || summary.Succeeded != 0 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want one degraded completion", summary)
	}
	if summary.ExitCode() != 0 {
		t.Fatalf("exit code = %d, degraded completions are not failures", summary.ExitCode())
	}

	records, err := store.List(context.Background(), ledger.StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("completed records = %d", len(records))
	}
	record := records[0]
	if !record.ClassifyDegraded || record.MetadataDegraded {
		t.Fatalf("degraded flags = %v/%v, want classification only",
			record.MetadataDegraded, record.ClassifyDegraded)
	}
	if !strings.Contains(record.PDFPath, enrich.UnclassifiedLabel) {
		t.Fatalf("PDFPath %q not filed under the fallback category", record.PDFPath)
	}
}

func TestRunOnceResumesEmissionWithoutReEnrichment(t *testing.T) {
	server := newModelServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithModelBaseURL(server.URL))
	store := testsupport.MustOpenLedger(t, cfg)
	source := testsupport.WritePDF(t, filepath.Join(cfg.Paths.InputDir, "dune.pdf"),
		"The spice must flow.")

	// A previous run enriched the book and then failed during emission.
	book, err := identity.NewBook(source)
	if err != nil {
		t.Fatalf("NewBook: %v", err)
	}
	record := testsupport.NewRecord(t, store, book)
	metaJSON, _ := json.Marshal(enrich.Metadata{
		Title: "Dune", Author: "Frank Herbert", Year: 1965, Language: "en", Summary: "s",
	})
	classJSON, _ := json.Marshal(enrich.Classification{Label: "Science Fiction", Confidence: 0.9})
	record.MetadataJSON = string(metaJSON)
	record.ClassificationJSON = string(classJSON)
	record.SetFailed("no artifact produced: disk full", true, ledger.StatusEnriched)
	if err := store.Update(context.Background(), record); err != nil {
		t.Fatalf("Update: %v", err)
	}

	manager := newManager(t, cfg, store)
	summary, err := manager.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Discovery.Requeued != 1 || summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if server.metadataCalls.Load() != 0 || server.classifyCalls.Load() != 0 {
		t.Fatalf("model calls = %d/%d, retry must resume at emission",
			server.metadataCalls.Load(), server.classifyCalls.Load())
	}

	reloaded, err := store.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != ledger.StatusCompleted {
		t.Fatalf("status = %q", reloaded.Status)
	}
	if !strings.Contains(reloaded.PDFPath, "Science Fiction") {
		t.Fatalf("PDFPath %q lost the enriched category", reloaded.PDFPath)
	}
}

func TestRunOncePageBudgetTruncatesModelInputOnly(t *testing.T) {
	server := newModelServer(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithModelBaseURL(server.URL),
		testsupport.WithMaxPages(1))
	store := testsupport.MustOpenLedger(t, cfg)
	testsupport.WritePDF(t, filepath.Join(cfg.Paths.InputDir, "dune.pdf"),
		"Front matter", "Middle chapter", "Closing chapter")

	manager := newManager(t, cfg, store)
	summary, err := manager.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	records, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	record := records[0]
	if record.PageCount != 3 || !record.PagesTruncated {
		t.Fatalf("page accounting wrong: count=%d truncated=%v", record.PageCount, record.PagesTruncated)
	}

	// The budget limits what the models see; the artifact keeps every page.
	decoder := &extract.PDFDecoder{}
	pages, err := decoder.Pages(context.Background(), record.PDFPath)
	if err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if pages.SourcePages != 4 {
		t.Fatalf("artifact pages = %d, want title page plus all three source pages", pages.SourcePages)
	}
}

func TestRunOnceWithWorkerPool(t *testing.T) {
	server := newModelServer(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithModelBaseURL(server.URL),
		testsupport.WithWorkers(4))
	store := testsupport.MustOpenLedger(t, cfg)
	for _, name := range []string{"alpha.pdf", "bravo.pdf", "charlie.pdf"} {
		testsupport.WritePDF(t, filepath.Join(cfg.Paths.InputDir, name), "Text of "+name)
	}

	manager := newManager(t, cfg, store)
	summary, err := manager.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Succeeded != 3 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := server.metadataCalls.Load(); got != 3 {
		t.Fatalf("metadata calls = %d, want exactly one per book", got)
	}
}

func TestHealthCheckCoversStages(t *testing.T) {
	server := newModelServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithModelBaseURL(server.URL))
	store := testsupport.MustOpenLedger(t, cfg)

	manager := newManager(t, cfg, store)
	checks := manager.HealthCheck(context.Background())
	if len(checks) != 3 {
		t.Fatalf("health checks = %d, want one per stage", len(checks))
	}
	for _, check := range checks {
		if !check.Ready {
			t.Fatalf("stage %s unhealthy: %s", check.Name, check.Detail)
		}
	}
}
