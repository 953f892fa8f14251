// Package tts carries the narration contract: pairing of tts_start/tts_wait
// markers in a step list, optional LLM polish of narration text, and the
// provider interface guides are voiced through.
package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guideflow/internal/llm"
	"guideflow/internal/script"
)

// Request is one narration synthesis request.
type Request struct {
	Text     string
	Voice    string
	Language string
}

// ProviderResult is synthesized audio.
type ProviderResult struct {
	Audio       []byte
	ContentType string
	Duration    time.Duration
	Metadata    map[string]string
}

// Provider synthesizes narration audio.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (ProviderResult, error)
}

// Segment is one paired narration span inside a step list.
type Segment struct {
	Label string
	Text  string
	// StartIndex and WaitIndex are the positions of the tts_start and
	// tts_wait markers in the step list.
	StartIndex int
	WaitIndex  int
}

// Segments extracts the paired narration spans of steps in order. An
// unmatched tts_start or tts_wait is an error; the emitter repairs pairing
// before this runs.
func Segments(steps []script.Step) ([]Segment, error) {
	var segments []Segment
	open := map[string]int{}
	for i, s := range steps {
		switch s.Kind {
		case script.StepTTSStart:
			if _, dup := open[s.Label]; dup {
				return nil, fmt.Errorf("narration %q started twice", s.Label)
			}
			open[s.Label] = i
		case script.StepTTSWait:
			start, ok := open[s.Label]
			if !ok {
				return nil, fmt.Errorf("narration wait %q has no start", s.Label)
			}
			delete(open, s.Label)
			segments = append(segments, Segment{
				Label:      s.Label,
				Text:       steps[start].Text,
				StartIndex: start,
				WaitIndex:  i,
			})
		}
	}
	for label := range open {
		return nil, fmt.Errorf("narration %q never waited on", label)
	}
	return segments, nil
}

// Enhance polishes raw narration text for speech via the LLM. On any failure
// the original text is returned so narration degrades instead of breaking.
func Enhance(ctx context.Context, client llm.Client, text, language string) string {
	if client == nil || strings.TrimSpace(text) == "" {
		return text
	}
	resp, err := client.ExecuteTTSEnhancement(ctx, llm.Request{
		System: "You rewrite short UI narration for text-to-speech. Keep the meaning, make it flow when spoken aloud, reply with the rewritten text only.",
		Prompt: fmt.Sprintf("Language: %s\n\nNarration: %s", language, text),
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		return text
	}
	return strings.TrimSpace(resp.Content)
}
