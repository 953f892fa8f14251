package script

import (
	"strings"
	"testing"
	"time"
)

func TestEmitInjectsLeadingGoto(t *testing.T) {
	steps := []Step{
		{Kind: StepClick, Label: "Login"},
	}
	out, err := Emit(EmitOptions{Title: "Login guide", BaseURL: "https://example.com"}, steps)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	fm, _, err := ParseFrontmatter(out)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if len(fm.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(fm.Steps))
	}
	if fm.Steps[0].Kind != StepGoto || fm.Steps[0].URL != "https://example.com" {
		t.Fatalf("expected injected goto, got %+v", fm.Steps[0])
	}
	if fm.TotalSteps != 2 {
		t.Fatalf("totalSteps = %d, want 2", fm.TotalSteps)
	}
}

func TestParseMarkdownStripsByteOrderMark(t *testing.T) {
	out, err := Emit(EmitOptions{Title: "BOM guide", BaseURL: "https://example.com"}, []Step{
		{Kind: StepClick, Label: "Login"},
	})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	// Editors on Windows prepend a BOM when saving guides by hand.
	sc, err := ParseMarkdown("\uFEFF" + out)
	if err != nil {
		t.Fatalf("ParseMarkdown rejected BOM-prefixed guide: %v", err)
	}
	if sc.Title != "BOM guide" || len(sc.Steps) != 2 {
		t.Fatalf("parsed guide wrong: title=%q steps=%d", sc.Title, len(sc.Steps))
	}
}

func TestEmitKeepsExistingGoto(t *testing.T) {
	steps := []Step{
		{Kind: StepGoto, URL: "https://example.com/login"},
		{Kind: StepClick, Label: "Login"},
	}
	out, err := Emit(EmitOptions{Title: "t", BaseURL: "https://example.com"}, steps)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	fm, _, err := ParseFrontmatter(out)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if len(fm.Steps) != 2 {
		t.Fatalf("expected no extra goto, got %d steps", len(fm.Steps))
	}
}

func TestEmitHidesSensitiveValues(t *testing.T) {
	steps := []Step{
		{Kind: StepGoto, URL: "https://example.com"},
		{Kind: StepType, Label: "Password", Value: "{{secret.pw}}", Sensitive: true},
	}
	out, err := Emit(EmitOptions{Title: "t", BaseURL: "https://example.com"}, steps)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	_, body, err := ParseFrontmatter(out)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if !strings.Contains(body, "[HIDDEN]") {
		t.Fatalf("expected [HIDDEN] in body, got:\n%s", body)
	}
	if strings.Contains(body, "{{secret.pw}}") {
		t.Fatalf("secret placeholder leaked into body:\n%s", body)
	}
	if !strings.Contains(body, StepsMarker) {
		t.Fatal("expected steps marker in body")
	}
}

func TestRepairNarrationPairs(t *testing.T) {
	steps := []Step{
		{Kind: StepGoto, URL: "https://example.com"},
		{Kind: StepTTSStart, Label: "fill", Text: "Fill the form"},
		{Kind: StepType, Label: "Name", Value: "x"},
		{Kind: StepClick, Label: "Submit"},
	}
	out := repairNarrationPairs(steps)
	// Wait must land immediately after the next non-narration step.
	if out[3].Kind != StepTTSWait || out[3].Label != "fill" {
		t.Fatalf("expected tts_wait after type step, got %+v", out)
	}
	if err := checkNarrationPairs(out); err != nil {
		t.Fatalf("pairing still broken: %v", err)
	}
}

func TestSuppressPreNavigationNarration(t *testing.T) {
	steps := []Step{
		{Kind: StepTTSStart, Label: "hello", Text: "Welcome"},
		{Kind: StepTTSWait, Label: "hello"},
		{Kind: StepGoto, URL: "https://example.com"},
		{Kind: StepClick, Label: "Login"},
	}
	out := suppressPreNavigationNarration(steps)
	for _, step := range out {
		if step.IsNarration() && step.Label == "hello" {
			t.Fatalf("pre-navigation narration survived: %+v", out)
		}
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(out))
	}
}

func TestAutoNarrationPlacement(t *testing.T) {
	steps := []Step{
		{Kind: StepGoto, URL: "https://example.com"},
		{Kind: StepClick, Label: "Login"},
	}
	out, err := Emit(EmitOptions{
		Title:     "Sign in",
		BaseURL:   "https://example.com",
		Narrate:   true,
		Generated: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, steps)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	fm, _, err := ParseFrontmatter(out)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if fm.Steps[0].Kind != StepGoto {
		t.Fatalf("expected goto first, got %+v", fm.Steps[0])
	}
	if fm.Steps[1].Kind != StepTTSStart || fm.Steps[1].Label != IntroLabel {
		t.Fatalf("expected intro after goto, got %+v", fm.Steps[1])
	}
	last := fm.Steps[len(fm.Steps)-1]
	if last.Kind != StepTTSWait || last.Label != OutroLabel {
		t.Fatalf("expected outro wait last, got %+v", last)
	}
	if err := checkNarrationPairs(fm.Steps); err != nil {
		t.Fatalf("auto narration left broken pairs: %v", err)
	}
}

func TestEmitMultilineNoteRendersBlockScalar(t *testing.T) {
	steps := []Step{
		{Kind: StepGoto, URL: "https://example.com", Note: "first line\nsecond line"},
	}
	out, err := Emit(EmitOptions{Title: "t", BaseURL: "https://example.com"}, steps)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if !strings.Contains(out, "note: |") {
		t.Fatalf("expected block scalar for multi-line note:\n%s", out)
	}
	fm, _, err := ParseFrontmatter(out)
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if fm.Steps[0].Note != "first line\nsecond line" {
		t.Fatalf("note mangled: %q", fm.Steps[0].Note)
	}
}
