// Package planner turns the current page state into the next guide step via
// the LLM, validating the previous step and goal progress along the way.
package planner

import (
	"context"
	"fmt"
	"strings"

	"guideflow/internal/jsonx"
	"guideflow/internal/llm"
	"guideflow/internal/logging"
	"guideflow/internal/script"
	"guideflow/internal/utils"
)

// PageState is the snapshot of the page a step left behind, fed to the next
// planning call for validation.
type PageState struct {
	URL                string
	CleanedDOM         string
	Screenshot         string
	NavigationOccurred bool
}

// Context carries everything one planning call sees.
type Context struct {
	Goal string
	URL  string
	// CleanedDOM is the token-bounded page text.
	CleanedDOM string
	// Screenshot is a data URL, file path or raw base64 image; empty skips
	// the image attachment.
	Screenshot string
	History    []script.Step
	// PreviousReasoning is the reasoning string of the last planner reply.
	PreviousReasoning string
	// PreviousState, when set, asks the planner to validate the last step.
	PreviousState *PageState
	PreviousStep  *script.Step
	// GoalCriteria are the success criteria derived from the goal.
	GoalCriteria []string
}

// Validation is the planner's verdict on the previously executed step.
type Validation struct {
	Success   bool   `json:"success"`
	Reasoning string `json:"reasoning"`
}

// GoalValidation is the planner's verdict on overall goal completion.
type GoalValidation struct {
	IsComplete bool   `json:"isComplete"`
	Reasoning  string `json:"reasoning"`
}

// Result is one parsed planner reply.
type Result struct {
	Step           script.Step     `json:"step"`
	Confidence     float64         `json:"confidence"`
	MatchesGoal    bool            `json:"matchesGoal"`
	Reasoning      string          `json:"reasoning"`
	StepValidation *Validation     `json:"stepValidation,omitempty"`
	GoalValidation *GoalValidation `json:"goalValidation,omitempty"`

	// Fallback marks a reply the parser could not recover. The orchestrator
	// treats it as a planning error.
	Fallback bool `json:"-"`
}

// Planner plans the next step of a session.
type Planner struct {
	client    llm.Client
	imageOpts llm.ImageOptions
	logger    logging.Logger
}

// New builds a planner around client.
func New(client llm.Client, imageOpts llm.ImageOptions) *Planner {
	return &Planner{
		client:    client,
		imageOpts: imageOpts,
		logger:    utils.NewComponentLogger("Planner"),
	}
}

const systemPrompt = `You guide a web browser step by step to accomplish a user goal.

Each turn you see the goal, the current URL, the cleaned page content, an
optional screenshot and the steps already executed. You reply with exactly one
JSON object and nothing else:

{
  "step": {"type": "goto|click|type|assert_page|keypress", "url": "...", "label": "...", "value": "...", "key": "..."},
  "confidence": 0.0-1.0,
  "matchesGoal": true|false,
  "reasoning": "...",
  "stepValidation": {"success": true|false, "reasoning": "..."},
  "goalValidation": {"isComplete": true|false, "reasoning": "..."}
}

Include stepValidation and goalValidation only when a previous step exists.

Rules:
- Only reference elements visible in the page content.
- "type" steps only target text fields. NEVER type into a select, dropdown,
  picker or combobox. To choose a dropdown value: click to open it, click the
  option, and press Escape if an overlay stays open.
- Field values may use {{secret.KEY}} and {{var.KEY}} placeholders.
- When the goal is accomplished, set goalValidation.isComplete true and
  propose an assert_page step for the final URL.`

const tightenedSuffix = `

IMPORTANT: your previous reply was not parseable. Reply with the single JSON
object only. No markdown fences, no commentary, no trailing text.`

// PlanNext asks the LLM for the next step. A reply that cannot be parsed is
// retried once with a tightened prompt; a second failure returns a fallback
// Result with zero confidence.
func (p *Planner) PlanNext(ctx context.Context, pc Context) (*Result, error) {
	req, err := p.buildRequest(pc, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Execute(ctx, llm.TaskPlanStep, *req)
	if err != nil {
		return nil, fmt.Errorf("plan step: %w", err)
	}
	result, parseErr := parseResult(resp.Content)
	if parseErr == nil {
		return result, nil
	}
	p.logger.Warn("unparseable planner reply, retrying with tightened prompt: %v", parseErr)

	req, err = p.buildRequest(pc, true)
	if err != nil {
		return nil, err
	}
	resp, err = p.client.Execute(ctx, llm.TaskPlanStep, *req)
	if err != nil {
		return nil, fmt.Errorf("plan step (retry): %w", err)
	}
	result, parseErr = parseResult(resp.Content)
	if parseErr == nil {
		return result, nil
	}
	p.logger.Error("planner reply unparseable after retry: %v", parseErr)
	return fallbackResult(pc, parseErr), nil
}

func (p *Planner) buildRequest(pc Context, tightened bool) (*llm.Request, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", pc.Goal)
	if len(pc.GoalCriteria) > 0 {
		b.WriteString("Success criteria:\n")
		for _, c := range pc.GoalCriteria {
			b.WriteString("- " + c + "\n")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current URL: %s\n\n", pc.URL)

	if len(pc.History) > 0 {
		b.WriteString("Steps executed so far:\n")
		for i, s := range pc.History {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s.Describe())
		}
		b.WriteString("\n")
	}
	if pc.PreviousReasoning != "" {
		fmt.Fprintf(&b, "Your previous reasoning: %s\n\n", pc.PreviousReasoning)
	}
	if pc.PreviousState != nil {
		fmt.Fprintf(&b, "State before the last step: url=%s navigationOccurred=%t\n", pc.PreviousState.URL, pc.PreviousState.NavigationOccurred)
		if pc.PreviousStep != nil {
			fmt.Fprintf(&b, "Last executed step: %s\n", pc.PreviousStep.Describe())
		}
		b.WriteString("Validate the last step and the goal in stepValidation and goalValidation.\n\n")
	}
	fmt.Fprintf(&b, "Current page content:\n%s\n", pc.CleanedDOM)

	system := systemPrompt
	if tightened {
		system += tightenedSuffix
	}
	req := &llm.Request{
		System:      system,
		Prompt:      b.String(),
		MaxTokens:   1024,
		Temperature: 0.1,
	}
	if pc.Screenshot != "" {
		att, err := llm.PrepareImage(pc.Screenshot, p.imageOpts)
		if err != nil {
			p.logger.Warn("dropping unusable screenshot: %v", err)
		} else {
			req.Images = []llm.Attachment{att}
		}
	}
	return req, nil
}

func parseResult(content string) (*Result, error) {
	raw, err := llm.ExtractJSONObject(content)
	if err != nil {
		return nil, err
	}
	var result Result
	if err := jsonx.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("decode planner reply: %w", err)
	}
	if result.Step.Kind == "" {
		return nil, fmt.Errorf("planner reply lacks a step")
	}
	if err := result.Step.Validate(); err != nil {
		return nil, fmt.Errorf("planner proposed invalid step: %w", err)
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result, nil
}

// fallbackResult is returned when both parse attempts failed. Zero confidence
// plus the Fallback flag make the orchestrator treat it as a planning error.
func fallbackResult(pc Context, cause error) *Result {
	url := pc.URL
	if url == "" {
		url = "about:blank"
	}
	return &Result{
		Step:       script.Step{Kind: script.StepAssertPage, URL: url},
		Confidence: 0,
		Reasoning:  fmt.Sprintf("planner reply unparseable: %v", cause),
		Fallback:   true,
	}
}
