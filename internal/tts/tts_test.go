package tts

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"guideflow/internal/llm"
	"guideflow/internal/script"
)

func TestSegmentsPairsInOrder(t *testing.T) {
	steps := []script.Step{
		{Kind: script.StepTTSStart, Label: "intro_auto", Text: "Welcome."},
		{Kind: script.StepGoto, URL: "https://example.com"},
		{Kind: script.StepTTSWait, Label: "intro_auto"},
		{Kind: script.StepClick, Label: "Log in"},
		{Kind: script.StepTTSStart, Label: "outro_auto", Text: "Done."},
		{Kind: script.StepTTSWait, Label: "outro_auto"},
	}
	segments, err := Segments(steps)
	if err != nil {
		t.Fatalf("Segments failed: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Label != "intro_auto" || segments[0].Text != "Welcome." || segments[0].StartIndex != 0 || segments[0].WaitIndex != 2 {
		t.Errorf("intro segment wrong: %+v", segments[0])
	}
	if segments[1].Label != "outro_auto" || segments[1].WaitIndex != 5 {
		t.Errorf("outro segment wrong: %+v", segments[1])
	}
}

func TestSegmentsRejectsUnpaired(t *testing.T) {
	if _, err := Segments([]script.Step{{Kind: script.StepTTSStart, Label: "a", Text: "x"}}); err == nil {
		t.Error("dangling start must error")
	}
	if _, err := Segments([]script.Step{{Kind: script.StepTTSWait, Label: "a"}}); err == nil {
		t.Error("wait without start must error")
	}
}

func TestMockProviderProducesWAV(t *testing.T) {
	res, err := MockProvider{}.Synthesize(t.Context(), Request{Text: "A short narration line.", Voice: "default"})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if res.ContentType != "audio/wav" {
		t.Fatalf("wrong content type %s", res.ContentType)
	}
	if !bytes.HasPrefix(res.Audio, []byte("RIFF")) || !bytes.Contains(res.Audio[:16], []byte("WAVE")) {
		t.Fatal("output is not a WAV container")
	}
	if res.Duration < 2*time.Second {
		t.Fatalf("duration floor violated: %s", res.Duration)
	}
}

func TestEnhanceFallsBackOnFailure(t *testing.T) {
	client := llm.NewMockClient()
	client.EnqueueError(errors.New("down"))
	if got := Enhance(t.Context(), client, "original", "en"); got != "original" {
		t.Fatalf("failed enhancement must keep original, got %q", got)
	}
	if got := Enhance(t.Context(), nil, "original", "en"); got != "original" {
		t.Fatalf("nil client must keep original, got %q", got)
	}
}

func TestEnhanceUsesReply(t *testing.T) {
	client := llm.NewMockClient()
	client.Enqueue("  Polished narration.  ")
	if got := Enhance(t.Context(), client, "raw", "en"); got != "Polished narration." {
		t.Fatalf("unexpected enhancement %q", got)
	}
}
