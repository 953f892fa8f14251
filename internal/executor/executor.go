// Package executor performs one guide step against the browser driver,
// capturing artifacts and classifying what the page did in response.
package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"guideflow/internal/browser"
	"guideflow/internal/logging"
	"guideflow/internal/resolver"
	"guideflow/internal/script"
	"guideflow/internal/utils"
	"guideflow/internal/workspace"
)

// UIChange describes what the page did in response to a step.
type UIChange struct {
	NavigationOccurred  bool     `json:"navigationOccurred"`
	NewURL              string   `json:"newUrl,omitempty"`
	ElementsAppeared    []string `json:"elementsAppeared,omitempty"`
	ElementsDisappeared []string `json:"elementsDisappeared,omitempty"`
}

// StepResult is the outcome of executing one step.
type StepResult struct {
	Success         bool              `json:"success"`
	Duration        time.Duration     `json:"duration"`
	ScreenshotPath  string            `json:"screenshotPath,omitempty"`
	DOMSnapshotPath string            `json:"domSnapshotPath,omitempty"`
	UIChange        UIChange          `json:"uiChange"`
	ErrorKind       browser.ErrorKind `json:"errorKind,omitempty"`
	Error           string            `json:"error,omitempty"`
	// ResolvedStep is the executed step after placeholder injection but
	// before substitution, so its value carries the placeholder token rather
	// than the secret. Generate mode records it in the emitted guide.
	ResolvedStep script.Step `json:"-"`
	// FinalURL and FinalDOM feed the next planning iteration.
	FinalURL string `json:"-"`
	FinalDOM string `json:"-"`
}

// Options tunes the executor's waits.
type Options struct {
	Quiescence browser.QuiescenceOptions
	// ClickSettle is the extra wait after labeled clicks so dropdown
	// overlays can open or close.
	ClickSettle time.Duration
	// StepTimeout bounds one step end to end.
	StepTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ClickSettle <= 0 {
		o.ClickSettle = 200 * time.Millisecond
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = 60 * time.Second
	}
	return o
}

// Executor runs steps for one session.
type Executor struct {
	driver   browser.Driver
	layout   *workspace.Layout
	resolver *resolver.Resolver
	secrets  *resolver.Store
	vars     *resolver.Store
	opts     Options
	logger   logging.Logger
}

// New builds an executor. resolver, secrets and vars may be nil when the
// session has no placeholder values.
func New(driver browser.Driver, layout *workspace.Layout, res *resolver.Resolver, secrets, vars *resolver.Store, opts Options) *Executor {
	return &Executor{
		driver:   driver,
		layout:   layout,
		resolver: res,
		secrets:  secrets,
		vars:     vars,
		opts:     opts.withDefaults(),
		logger:   utils.NewComponentLogger("Executor"),
	}
}

// Execute runs step as step number index of sessionID. The returned error is
// non-nil only for infrastructure failures; step-level failures are reported
// in the result.
func (e *Executor) Execute(ctx context.Context, sessionID string, index int, step script.Step) (*StepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()

	start := time.Now()
	result := &StepResult{ResolvedStep: step}

	preURL, _ := e.driver.CurrentURL(ctx)
	preDOM, _ := e.driver.DOMHTML(ctx)

	recorded, performed, err := e.resolveStep(ctx, preURL, step)
	result.ResolvedStep = recorded
	if err != nil {
		return e.fail(result, start, err), nil
	}

	if err := e.perform(ctx, performed); err != nil {
		e.capture(ctx, sessionID, index, result)
		return e.fail(result, start, err), nil
	}

	if performed.WaitMs > 0 {
		select {
		case <-time.After(time.Duration(performed.WaitMs) * time.Millisecond):
		case <-ctx.Done():
		}
	}

	postURL, _ := e.driver.CurrentURL(ctx)
	postDOM, _ := e.driver.DOMHTML(ctx)
	result.FinalURL = postURL
	result.FinalDOM = postDOM
	result.UIChange = detectChange(performed, preURL, postURL, preDOM, postDOM)

	e.capture(ctx, sessionID, index, result)
	result.Success = true
	result.Duration = time.Since(start)
	return result, nil
}

// resolveStep injects cached label→key mappings into bare Type steps and
// substitutes placeholder tokens. recorded keeps the placeholder value so
// callers can persist the step without the secret; performed carries the
// substituted value the driver types.
func (e *Executor) resolveStep(ctx context.Context, url string, step script.Step) (recorded, performed script.Step, err error) {
	if step.Kind != script.StepType {
		return step, step, nil
	}
	if step.Value == "" && step.Label != "" && e.resolver != nil {
		if key, kind, ok := e.lookupMapping(ctx, url, step.Label); ok {
			step.Value = resolver.Placeholder(kind, key)
			if kind == resolver.KindSecret {
				step.Sensitive = true
			}
		}
	}
	if step.Value == "" {
		return step, step, fmt.Errorf("type step %q has no value and no resolvable mapping", step.Label)
	}
	if resolver.ContainsPlaceholder(step.Value) {
		if resolver.IsSensitiveValue(step.Value) {
			step.Sensitive = true
		}
		recorded = step
		substituted, substErr := resolver.Substitute(step.Value, e.secrets, e.vars)
		if substErr != nil {
			return recorded, step, substErr
		}
		step.Value = substituted
		return recorded, step, nil
	}
	return step, step, nil
}

// lookupMapping consults the secret resolver first, then the variable
// resolver.
func (e *Executor) lookupMapping(ctx context.Context, url, label string) (string, resolver.Kind, bool) {
	if e.secrets != nil && !e.secrets.Empty() {
		mapping, err := e.resolver.MapLabels(ctx, url, resolver.KindSecret, []string{label}, e.secrets)
		if err != nil {
			e.logger.Warn("secret mapping for %q failed: %v", label, err)
		} else if key, ok := mapping[label]; ok {
			return key, resolver.KindSecret, true
		}
	}
	if e.vars != nil && !e.vars.Empty() {
		mapping, err := e.resolver.MapLabels(ctx, url, resolver.KindVariable, []string{label}, e.vars)
		if err != nil {
			e.logger.Warn("variable mapping for %q failed: %v", label, err)
		} else if key, ok := mapping[label]; ok {
			return key, resolver.KindVariable, true
		}
	}
	return "", "", false
}

func (e *Executor) perform(ctx context.Context, step script.Step) error {
	switch step.Kind {
	case script.StepGoto:
		if err := e.driver.Navigate(ctx, step.URL); err != nil {
			return err
		}
		return e.driver.WaitQuiescent(ctx, e.opts.Quiescence)
	case script.StepClick:
		if err := e.driver.Click(ctx, step.Label); err != nil {
			return err
		}
		if err := e.driver.WaitQuiescent(ctx, e.opts.Quiescence); err != nil {
			return err
		}
		// Dropdown overlays can render after quiescence resolves.
		select {
		case <-time.After(e.opts.ClickSettle):
		case <-ctx.Done():
		}
		return nil
	case script.StepType:
		return e.driver.Type(ctx, step.Label, step.Value)
	case script.StepKeypress:
		return e.driver.Press(ctx, step.Key)
	case script.StepAssertPage:
		current, err := e.driver.CurrentURL(ctx)
		if err != nil {
			return err
		}
		if !urlMatches(current, step.URL) {
			return &browser.DriverError{
				Kind:    browser.ErrOther,
				Message: fmt.Sprintf("page is %s, expected %s", current, step.URL),
			}
		}
		return nil
	case script.StepTTSStart, script.StepTTSWait:
		// Narration markers perform no browser action here; the guide
		// renderer pairs and voices them.
		return nil
	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// urlMatches accepts exact matches and prefix matches ignoring a trailing
// slash, so assert_page tolerates tracking queries appended on landing.
func urlMatches(current, expected string) bool {
	current = strings.TrimSuffix(current, "/")
	expected = strings.TrimSuffix(expected, "/")
	return current == expected || strings.HasPrefix(current, expected)
}

func (e *Executor) capture(ctx context.Context, sessionID string, index int, result *StepResult) {
	if e.layout == nil {
		return
	}
	if shot, err := e.driver.Screenshot(ctx); err == nil && len(shot) > 0 {
		path := e.layout.ScreenshotPath(sessionID, index)
		if writeErr := os.WriteFile(path, shot, 0o644); writeErr == nil {
			result.ScreenshotPath = path
		} else {
			e.logger.Warn("write screenshot: %v", writeErr)
		}
	}
	if html, err := e.driver.DOMHTML(ctx); err == nil && html != "" {
		path := e.layout.DomSnapshotPath(sessionID, index)
		if writeErr := os.WriteFile(path, []byte(html), 0o644); writeErr == nil {
			result.DOMSnapshotPath = path
		} else {
			e.logger.Warn("write DOM snapshot: %v", writeErr)
		}
	}
}

func (e *Executor) fail(result *StepResult, start time.Time, err error) *StepResult {
	result.Success = false
	result.Duration = time.Since(start)
	result.ErrorKind = browser.Classify(err)
	msg := err.Error()
	if e.secrets != nil {
		msg = resolver.RedactPlaceholders(msg, e.secrets)
	}
	result.Error = msg
	return result
}
