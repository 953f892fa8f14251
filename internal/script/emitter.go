package script

import (
	"fmt"
	"strings"
	"time"
)

// Narration labels reserved for the automatic intro/outro pair.
const (
	IntroLabel = "intro_auto"
	OutroLabel = "outro_auto"
)

// EmitOptions carries the metadata rendered into the frontmatter header.
type EmitOptions struct {
	Title       string
	BaseURL     string
	Generated   time.Time
	RecordVideo bool
	Language    string
	OutputDir   string
	Tags        []string
	// Narrate controls whether the automatic intro/outro pair is added. It is
	// enabled for generated guides that carry narration markers.
	Narrate bool
}

// Emit renders the executed step list into a markdown guide with YAML
// frontmatter. The step list is normalized first: a leading navigation step is
// injected when missing, narration pairing is repaired, and automatic
// intro/outro narration is placed when narration is enabled.
func Emit(opts EmitOptions, steps []Step) (string, error) {
	normalized := NormalizeSteps(steps, opts.BaseURL, opts)

	generated := opts.Generated
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	fm := Frontmatter{
		Title:       opts.Title,
		BaseURL:     opts.BaseURL,
		Generated:   generated.UTC(),
		TotalSteps:  len(normalized),
		RecordVideo: opts.RecordVideo,
		Steps:       normalized,
		Language:    language,
		OutputDir:   opts.OutputDir,
		Tags:        opts.Tags,
	}
	header, err := RenderFrontmatter(fm)
	if err != nil {
		return "", err
	}

	var body strings.Builder
	body.WriteString(header)
	body.WriteString("\n# ")
	body.WriteString(opts.Title)
	body.WriteString("\n\n")
	body.WriteString(fmt.Sprintf("This guide walks through %d steps starting at %s.\n\n", countActionable(normalized), opts.BaseURL))
	body.WriteString("## Steps\n\n")
	body.WriteString(StepsMarker)
	body.WriteString("\n\n")
	index := 1
	for _, step := range normalized {
		if step.IsNarration() {
			continue
		}
		body.WriteString(fmt.Sprintf("%d. %s\n", index, step.Describe()))
		index++
	}
	return body.String(), nil
}

func countActionable(steps []Step) int {
	n := 0
	for _, step := range steps {
		if !step.IsNarration() {
			n++
		}
	}
	return n
}

// NormalizeSteps applies the emitter rules in order: inject the leading Goto,
// suppress narration of the initial page load, repair tts_start/tts_wait
// pairing, then place the automatic intro/outro narration.
func NormalizeSteps(steps []Step, baseURL string, opts EmitOptions) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)

	out = ensureLeadingGoto(out, baseURL)
	out = suppressPreNavigationNarration(out)
	out = repairNarrationPairs(out)
	if opts.Narrate {
		out = placeAutoNarration(out, opts.Title)
		out = repairNarrationPairs(out)
	}
	return out
}

func ensureLeadingGoto(steps []Step, baseURL string) []Step {
	first := FirstActionable(steps)
	if first >= 0 && steps[first].Kind == StepGoto {
		return steps
	}
	if strings.TrimSpace(baseURL) == "" {
		return steps
	}
	lead := Step{Kind: StepGoto, URL: baseURL}
	return append([]Step{lead}, steps...)
}

// suppressPreNavigationNarration drops narration whose next actionable step is
// the initial navigation. Narrating a page load that has not happened yet
// reads wrong in the rendered guide.
func suppressPreNavigationNarration(steps []Step) []Step {
	first := FirstActionable(steps)
	if first <= 0 || steps[first].Kind != StepGoto {
		return steps
	}
	suppressed := map[string]bool{}
	for _, step := range steps[:first] {
		if step.Kind == StepTTSStart {
			suppressed[step.Label] = true
		}
	}
	if len(suppressed) == 0 {
		return steps
	}
	out := steps[:0:0]
	for _, step := range steps {
		if step.IsNarration() && suppressed[step.Label] {
			continue
		}
		out = append(out, step)
	}
	return out
}

// repairNarrationPairs inserts a tts_wait immediately after the next
// non-narration step for every unpaired tts_start. A start with no later
// actionable step gets its wait appended directly.
func repairNarrationPairs(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	out = append(out, steps...)

	for i := 0; i < len(out); i++ {
		step := out[i]
		if step.Kind != StepTTSStart {
			continue
		}
		paired := false
		for _, later := range out[i+1:] {
			if later.Kind == StepTTSWait && later.Label == step.Label {
				paired = true
				break
			}
		}
		if paired {
			continue
		}
		wait := Step{Kind: StepTTSWait, Label: step.Label}
		insertAt := len(out)
		for j := i + 1; j < len(out); j++ {
			if !out[j].IsNarration() {
				insertAt = j + 1
				break
			}
		}
		out = append(out[:insertAt], append([]Step{wait}, out[insertAt:]...)...)
	}
	return out
}

// placeAutoNarration ensures the intro pair sits right after the first Goto
// and the outro pair closes the guide.
func placeAutoNarration(steps []Step, title string) []Step {
	if hasNarrationLabel(steps, IntroLabel) && hasNarrationLabel(steps, OutroLabel) {
		return steps
	}
	out := make([]Step, 0, len(steps)+4)
	out = append(out, steps...)

	if !hasNarrationLabel(out, IntroLabel) {
		intro := Step{
			Kind:  StepTTSStart,
			Label: IntroLabel,
			Text:  fmt.Sprintf("Welcome. This guide walks through %s.", strings.TrimSpace(title)),
		}
		insertAt := 0
		for i, step := range out {
			if step.Kind == StepGoto {
				insertAt = i + 1
				break
			}
		}
		out = append(out[:insertAt], append([]Step{intro}, out[insertAt:]...)...)
	}
	if !hasNarrationLabel(out, OutroLabel) {
		out = append(out,
			Step{Kind: StepTTSStart, Label: OutroLabel, Text: "That completes this guide."},
			Step{Kind: StepTTSWait, Label: OutroLabel},
		)
	}
	return out
}

func hasNarrationLabel(steps []Step, label string) bool {
	for _, step := range steps {
		if step.Kind == StepTTSStart && step.Label == label {
			return true
		}
	}
	return false
}
