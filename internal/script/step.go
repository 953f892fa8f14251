// Package script models guide steps, the markdown-with-frontmatter format, and
// the import/export round trip.
package script

import (
	"fmt"
	"strings"
)

// StepKind discriminates the step sum type.
type StepKind string

const (
	StepGoto       StepKind = "goto"
	StepClick      StepKind = "click"
	StepType       StepKind = "type"
	StepAssertPage StepKind = "assert_page"
	StepKeypress   StepKind = "keypress"
	StepTTSStart   StepKind = "tts_start"
	StepTTSWait    StepKind = "tts_wait"
)

// Step is one atomic browser action or narration marker. Only the fields
// applicable to the kind are set; Validate enforces the required ones.
type Step struct {
	Kind       StepKind `yaml:"type" json:"type"`
	Label      string   `yaml:"label,omitempty" json:"label,omitempty"`
	URL        string   `yaml:"url,omitempty" json:"url,omitempty"`
	Value      string   `yaml:"value,omitempty" json:"value,omitempty"`
	Key        string   `yaml:"key,omitempty" json:"key,omitempty"`
	Text       string   `yaml:"text,omitempty" json:"text,omitempty"`
	Sensitive  bool     `yaml:"sensitive,omitempty" json:"sensitive,omitempty"`
	WaitMs     int      `yaml:"waitMs,omitempty" json:"waitMs,omitempty"`
	Screenshot bool     `yaml:"screenshot,omitempty" json:"screenshot,omitempty"`
	Note       string   `yaml:"note,omitempty" json:"note,omitempty"`
}

// Validate checks the per-kind required fields.
func (s Step) Validate() error {
	switch s.Kind {
	case StepGoto, StepAssertPage:
		if strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("%s step requires url", s.Kind)
		}
	case StepClick:
		if strings.TrimSpace(s.Label) == "" {
			return fmt.Errorf("click step requires label")
		}
	case StepType:
		if strings.TrimSpace(s.Value) == "" && strings.TrimSpace(s.Label) == "" {
			return fmt.Errorf("type step requires value or label")
		}
	case StepKeypress:
		if strings.TrimSpace(s.Key) == "" {
			return fmt.Errorf("keypress step requires key")
		}
	case StepTTSStart, StepTTSWait:
		if strings.TrimSpace(s.Label) == "" {
			return fmt.Errorf("%s step requires label", s.Kind)
		}
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	return nil
}

// IsNarration reports whether the step is a TTS marker rather than a browser
// action.
func (s Step) IsNarration() bool {
	return s.Kind == StepTTSStart || s.Kind == StepTTSWait
}

// IdentityKey returns a stable key identifying "the same" step across planning
// iterations: kind plus the discriminating field. Used by loop detection and
// refinement accounting.
func (s Step) IdentityKey() string {
	switch s.Kind {
	case StepGoto, StepAssertPage:
		return string(s.Kind) + ":" + strings.ToLower(strings.TrimSpace(s.URL))
	case StepKeypress:
		return string(s.Kind) + ":" + strings.ToLower(strings.TrimSpace(s.Key))
	default:
		return string(s.Kind) + ":" + strings.ToLower(strings.TrimSpace(s.Label))
	}
}

// Describe renders a one-line human description used in the markdown body and
// in event payloads.
func (s Step) Describe() string {
	switch s.Kind {
	case StepGoto:
		return fmt.Sprintf("Navigate to %s", s.URL)
	case StepClick:
		return fmt.Sprintf("Click %q", s.Label)
	case StepType:
		value := s.Value
		if s.Sensitive {
			value = "[HIDDEN]"
		}
		if s.Label != "" {
			return fmt.Sprintf("Type %s into %q", value, s.Label)
		}
		return fmt.Sprintf("Type %s", value)
	case StepAssertPage:
		return fmt.Sprintf("Verify the page is %s", s.URL)
	case StepKeypress:
		return fmt.Sprintf("Press %s", s.Key)
	case StepTTSStart:
		return fmt.Sprintf("Narration start (%s)", s.Label)
	case StepTTSWait:
		return fmt.Sprintf("Narration wait (%s)", s.Label)
	default:
		return string(s.Kind)
	}
}
