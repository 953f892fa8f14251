package script

import (
	"strings"
	"testing"

	"guideflow/internal/workspace"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	layout, err := workspace.NewLayout(t.TempDir(), "acct", "ws")
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}
	return NewStore(layout)
}

func sampleMarkdown(t *testing.T) string {
	t.Helper()
	out, err := Emit(EmitOptions{Title: "Sample", BaseURL: "https://example.com"}, []Step{
		{Kind: StepGoto, URL: "https://example.com"},
		{Kind: StepClick, Label: "Login"},
	})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	return out
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	path, err := store.Save("11111111-1111-4111-8111-111111111111", "Sample", sampleMarkdown(t))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !strings.HasSuffix(path, "generated-guide.md") {
		t.Fatalf("unexpected path %q", path)
	}

	loaded, err := store.Load("11111111-1111-4111-8111-111111111111")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Title != "Sample" || loaded.BaseURL != "https://example.com" {
		t.Fatalf("unexpected script %+v", loaded)
	}
	if len(loaded.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(loaded.Steps))
	}
	if err := loaded.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	registry, err := store.Registry()
	if err != nil {
		t.Fatalf("Registry failed: %v", err)
	}
	if _, ok := registry["11111111-1111-4111-8111-111111111111"]; !ok {
		t.Fatal("expected registry entry")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := newTestStore(t)
	const scriptID = "22222222-2222-4222-8222-222222222222"
	if _, err := store.Save(scriptID, "Sample", sampleMarkdown(t)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	bundle, err := store.Export(scriptID)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if bundle.Metadata.Title != "Sample" || bundle.Metadata.BaseURL != "https://example.com" {
		t.Fatalf("unexpected metadata %+v", bundle.Metadata)
	}
	if bundle.ExportedAt.IsZero() {
		t.Fatal("exportedAt not set")
	}

	// Re-import without overwrite fails, with overwrite succeeds.
	if _, err := store.Import(bundle, false); err == nil {
		t.Fatal("expected overwrite error")
	}
	if _, err := store.Import(bundle, true); err != nil {
		t.Fatalf("Import with overwrite failed: %v", err)
	}

	// Import into a fresh store succeeds without overwrite.
	other := newTestStore(t)
	if _, err := other.Import(bundle, false); err != nil {
		t.Fatalf("Import into fresh workspace failed: %v", err)
	}
	loaded, err := other.Load(scriptID)
	if err != nil {
		t.Fatalf("Load after import failed: %v", err)
	}
	if loaded.Title != "Sample" {
		t.Fatalf("unexpected title %q", loaded.Title)
	}
}

func TestScriptValidate(t *testing.T) {
	s := &Script{BaseURL: "not a url", Steps: []Step{{Kind: StepGoto, URL: "https://x.test"}}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected invalid baseUrl error")
	}

	s = &Script{
		BaseURL: "https://example.com",
		Steps: []Step{
			{Kind: StepGoto, URL: "https://example.com"},
			{Kind: StepTTSStart, Label: "solo", Text: "hi"},
		},
	}
	if err := s.Validate(); err == nil {
		t.Fatal("expected unpaired tts error")
	}
}
