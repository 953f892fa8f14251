package script

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// StepsMarker sits in the markdown body where per-step descriptions render.
const StepsMarker = "<!-- STEPS:AUTOGENERATED -->"

// Frontmatter is the YAML header of a generated guide.
type Frontmatter struct {
	Title       string    `yaml:"title"`
	BaseURL     string    `yaml:"baseUrl"`
	Generated   time.Time `yaml:"generated"`
	TotalSteps  int       `yaml:"totalSteps"`
	RecordVideo bool      `yaml:"recordVideo"`
	Steps       []Step    `yaml:"steps"`
	Language    string    `yaml:"language"`
	OutputDir   string    `yaml:"outputDir,omitempty"`
	Tags        []string  `yaml:"tags,omitempty"`
}

// Script is a parsed guide addressable by UUID.
type Script struct {
	ID          string
	Title       string
	BaseURL     string
	Steps       []Step
	Language    string
	RecordVideo bool
	Tags        []string
	Path        string
	Body        string
}

// Validate checks the structural invariants of a script before execution.
func (s *Script) Validate() error {
	if strings.TrimSpace(s.BaseURL) == "" {
		return fmt.Errorf("script has no baseUrl")
	}
	parsed, err := url.Parse(s.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid baseUrl %q", s.BaseURL)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("script has no steps")
	}
	for i, step := range s.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	if err := checkNarrationPairs(s.Steps); err != nil {
		return err
	}
	return nil
}

// checkNarrationPairs verifies every tts_start(label) has a later
// tts_wait(label).
func checkNarrationPairs(steps []Step) error {
	for i, step := range steps {
		if step.Kind != StepTTSStart {
			continue
		}
		paired := false
		for _, later := range steps[i+1:] {
			if later.Kind == StepTTSWait && later.Label == step.Label {
				paired = true
				break
			}
		}
		if !paired {
			return fmt.Errorf("tts_start %q has no matching tts_wait", step.Label)
		}
	}
	return nil
}

// FirstActionable returns the index of the first non-narration step, or -1.
func FirstActionable(steps []Step) int {
	for i, step := range steps {
		if !step.IsNarration() {
			return i
		}
	}
	return -1
}
