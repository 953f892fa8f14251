// Package orchestrator drives a session end to end: the planner/executor
// iteration for goal-driven generation and the sequential replay of saved
// guides, emitting the event stream as it goes.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"guideflow/internal/browser"
	"guideflow/internal/config"
	"guideflow/internal/events"
	"guideflow/internal/executor"
	"guideflow/internal/llm"
	"guideflow/internal/logging"
	"guideflow/internal/planner"
	"guideflow/internal/script"
	"guideflow/internal/session"
	"guideflow/internal/tts"
	"guideflow/internal/utils"
	"guideflow/internal/utils/id"
	"guideflow/internal/workspace"
)

// domTokenBudget bounds the cleaned DOM fed to the planner.
const domTokenBudget = 6000

// Orchestrator coordinates one session at a time per instance. The browser,
// executor and placeholder caches it holds are session-scoped.
type Orchestrator struct {
	cfg      config.Config
	sessions *session.Manager
	layout   *workspace.Layout
	driver   browser.Driver
	planner  *planner.Planner
	exec     *executor.Executor
	scripts  *script.Store
	voice    tts.Provider
	client   llm.Client
	metrics  *Metrics
	logger   logging.Logger
}

// New wires an orchestrator. voice may be nil when narration is not voiced.
func New(cfg config.Config, sessions *session.Manager, layout *workspace.Layout, driver browser.Driver, pl *planner.Planner, ex *executor.Executor, scripts *script.Store, voice tts.Provider) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		sessions: sessions,
		layout:   layout,
		driver:   driver,
		planner:  pl,
		exec:     ex,
		scripts:  scripts,
		voice:    voice,
		metrics:  defaultMetrics(),
		logger:   utils.NewComponentLogger("Orchestrator"),
	}
}

// SetMetrics overrides the shared metrics instance, used by tests with a
// private registry.
func (o *Orchestrator) SetMetrics(m *Metrics) {
	o.metrics = m
}

// SetNarrationClient enables LLM polishing of narration text before
// synthesis. Without it narration is voiced verbatim.
func (o *Orchestrator) SetNarrationClient(c llm.Client) {
	o.client = c
}

// Generate runs the planner/executor loop until the goal completes, the step
// cap is hit, the loop detector fires or the session is cancelled. The
// session always terminates with exactly one terminal event; the returned
// error mirrors a Failed outcome for the caller's convenience.
func (o *Orchestrator) Generate(ctx context.Context, sessionID, goal, baseURL, title string) error {
	start := time.Now()
	o.metrics.sessionStarted()

	outcome, err := o.generate(ctx, sessionID, goal, baseURL, title)
	o.metrics.sessionFinished("generate", outcome.String(), time.Since(start))
	return err
}

func (o *Orchestrator) generate(ctx context.Context, sessionID, goal, baseURL, title string) (session.Outcome, error) {
	if err := o.layout.EnsureSessionDirs(sessionID); err != nil {
		return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("prepare session directories: %v", err))
	}
	if title == "" {
		title = goal
	}

	stepCap := o.cfg.MaxStepsPerSession
	var (
		executed    []script.Step
		screenshots []string
		lastResult  *planner.Result
		prevState   *planner.PageState
		prevStep    *script.Step
		lastKey     string
		retryCounts = map[string]int{}
	)

	if err := o.driver.Navigate(ctx, baseURL); err != nil {
		return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("open %s: %v", baseURL, err))
	}
	executed = append(executed, script.Step{Kind: script.StepGoto, URL: baseURL})

	for i := 0; i < stepCap; i++ {
		if o.sessions.Cancelled(sessionID) {
			return o.cancelSession(sessionID)
		}

		url, cleaned, shot := o.observe(ctx)

		o.sessions.Emit(sessionID, events.StepPlanning, map[string]any{"iteration": i})
		result, err := o.planner.PlanNext(ctx, planner.Context{
			Goal:              goal,
			URL:               url,
			CleanedDOM:        cleaned,
			Screenshot:        shot,
			History:           executed,
			PreviousReasoning: previousReasoning(lastResult),
			PreviousState:     prevState,
			PreviousStep:      prevStep,
			GoalCriteria:      []string{goal},
		})
		if err != nil {
			return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("planning error: %v", err))
		}
		if result.Fallback {
			return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("planning error: %s", result.Reasoning))
		}
		lastResult = result

		if result.StepValidation != nil {
			payload := map[string]any{
				"success":   result.StepValidation.Success,
				"reasoning": result.StepValidation.Reasoning,
			}
			if result.GoalValidation != nil {
				payload["goalComplete"] = result.GoalValidation.IsComplete
			}
			o.sessions.Emit(sessionID, events.ValidationPerformed, payload)
		}
		o.sessions.Emit(sessionID, events.StepPlanned, map[string]any{
			"step":       result.Step.Describe(),
			"kind":       string(result.Step.Kind),
			"confidence": result.Confidence,
			"reasoning":  result.Reasoning,
			"screenshot": shot,
		})

		if key, stuck := detectLoop(executed, o.cfg.LoopDetectionWindow); stuck {
			return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("stuck: step %s repeats without progress", key))
		}

		key := result.Step.IdentityKey()
		if key == lastKey {
			retryCounts[key]++
			o.metrics.refinementObserved()
			o.sessions.Emit(sessionID, events.StepRefinementStarted, map[string]any{
				"step":    key,
				"attempt": retryCounts[key],
			})
		} else {
			lastKey = key
			retryCounts[key] = 0
		}

		if o.sessions.Cancelled(sessionID) {
			return o.cancelSession(sessionID)
		}

		index := len(executed)
		o.sessions.Emit(sessionID, events.StepExecuting, map[string]any{
			"index": index,
			"step":  result.Step.Describe(),
		})
		stepResult, err := o.exec.Execute(ctx, sessionID, index, result.Step)
		if err != nil {
			return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("execute step %d: %v", index, err))
		}
		o.metrics.stepObserved(string(result.Step.Kind), stepStatus(stepResult), stepResult.Duration)

		if stepResult.Success {
			// The resolved step keeps the injected placeholder and the
			// sensitive flag; the emitted guide must replay without a live
			// resolver.
			executed = append(executed, stepResult.ResolvedStep)
			o.emitStepArtifacts(sessionID, index, stepResult.ResolvedStep, stepResult)
			if stepResult.ScreenshotPath != "" {
				screenshots = append(screenshots, stepResult.ScreenshotPath)
			}
		} else {
			o.metrics.stepFailed(string(result.Step.Kind), string(stepResult.ErrorKind))
			o.sessions.Emit(sessionID, events.StepFailed, map[string]any{
				"index":     index,
				"step":      result.Step.Describe(),
				"errorKind": string(stepResult.ErrorKind),
				"error":     stepResult.Error,
			})
			if retryCounts[key] >= o.cfg.MaxRefinesPerStep {
				return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("step failed (%s): %s", stepResult.ErrorKind, stepResult.Error))
			}
		}

		stepCopy := stepResult.ResolvedStep
		prevStep = &stepCopy
		prevState = &planner.PageState{
			URL:                stepResult.FinalURL,
			CleanedDOM:         cleanDOMText(stepResult.FinalDOM),
			Screenshot:         stepResult.ScreenshotPath,
			NavigationOccurred: stepResult.UIChange.NavigationOccurred,
		}

		// Goal validation judges the previous step's aftermath, so it can
		// report completion even when this step failed.
		goalDone := result.GoalValidation != nil && result.GoalValidation.IsComplete
		assertDone := result.Step.Kind == script.StepAssertPage && stepResult.Success
		if goalDone || assertDone {
			return o.finishGenerate(sessionID, title, baseURL, executed, screenshots)
		}

		progress := (i + 1) * 100 / stepCap
		o.sessions.Emit(sessionID, events.GoalProgress, map[string]any{
			"progress":  progress,
			"iteration": i + 1,
			"cap":       stepCap,
		})
		o.sessions.SetProgress(sessionID, progress, len(executed), stepCap)

		select {
		case <-time.After(o.cfg.IterationPause()):
		case <-o.sessions.CancelChan(sessionID):
		case <-ctx.Done():
		}
		if ctx.Err() != nil && !o.sessions.Cancelled(sessionID) {
			return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("session context ended: %v", ctx.Err()))
		}
	}
	return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("step cap (%d) reached without completing the goal", stepCap))
}

func (o *Orchestrator) finishGenerate(sessionID, title, baseURL string, executed []script.Step, screenshots []string) (session.Outcome, error) {
	markdown, err := script.Emit(script.EmitOptions{
		Title:    title,
		BaseURL:  baseURL,
		Language: o.cfg.Language,
		Narrate:  true,
	}, executed)
	if err != nil {
		return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("render guide: %v", err))
	}
	o.sessions.Emit(sessionID, events.MarkdownGenerated, map[string]any{
		"markdown":   markdown,
		"totalSteps": len(executed),
	})

	o.sessions.Emit(sessionID, events.ScriptSaving, nil)
	scriptID := id.NewScriptID()
	path, err := o.scripts.Save(scriptID, title, markdown)
	if err != nil {
		return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("save guide: %v", err))
	}
	o.sessions.SetScriptID(sessionID, scriptID)

	if copyErr := os.WriteFile(o.layout.SessionGuidePath(sessionID), []byte(markdown), 0o644); copyErr != nil {
		o.logger.Warn("write session guide copy: %v", copyErr)
	}
	if logErr := o.layout.WriteGuideLog(sessionID, workspace.GuideLog{
		SessionID:   sessionID,
		ScriptID:    scriptID,
		Markdown:    path,
		Screenshots: screenshots,
		GeneratedAt: time.Now().UTC(),
	}); logErr != nil {
		o.logger.Warn("write guide log: %v", logErr)
	}

	o.sessions.Emit(sessionID, events.ScriptSaved, map[string]any{
		"scriptId": scriptID,
		"path":     path,
	})
	o.sessions.Emit(sessionID, events.Completed, nil)
	o.sessions.Complete(sessionID, session.OutcomeCompleted, "")
	return session.OutcomeCompleted, nil
}

// Run replays a saved guide step by step.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, sc *script.Script) error {
	start := time.Now()
	o.metrics.sessionStarted()

	outcome, err := o.run(ctx, sessionID, sc)
	o.metrics.sessionFinished("run", outcome.String(), time.Since(start))
	return err
}

func (o *Orchestrator) run(ctx context.Context, sessionID string, sc *script.Script) (session.Outcome, error) {
	if err := o.layout.EnsureSessionDirs(sessionID); err != nil {
		return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("prepare session directories: %v", err))
	}

	o.sessions.Emit(sessionID, events.ScriptLoaded, map[string]any{
		"scriptId":   sc.ID,
		"title":      sc.Title,
		"totalSteps": len(sc.Steps),
	})
	o.sessions.SetScriptID(sessionID, sc.ID)

	if err := sc.Validate(); err != nil {
		return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("invalid guide: %v", err))
	}
	if _, err := tts.Segments(sc.Steps); err != nil {
		return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("invalid narration: %v", err))
	}
	o.sessions.Emit(sessionID, events.ConfigValidated, map[string]any{"baseUrl": sc.BaseURL})

	if sc.RecordVideo {
		o.sessions.Emit(sessionID, events.VideoRecordingStarted, nil)
	}

	// Narration synthesis overlaps step execution: tts_start launches it,
	// tts_wait joins it.
	narration, narrCtx := errgroup.WithContext(ctx)
	pending := map[string]chan int64{}

	var screenshots []string
	total := len(sc.Steps)
	for i, step := range sc.Steps {
		if o.sessions.Cancelled(sessionID) {
			_ = narration.Wait()
			return o.cancelSession(sessionID)
		}

		switch {
		case step.Kind == script.StepTTSStart:
			o.sessions.Emit(sessionID, events.TTSStarted, map[string]any{"label": step.Label})
			done := make(chan int64, 1)
			pending[step.Label] = done
			text := step.Text
			narration.Go(func() error {
				defer close(done)
				if o.voice == nil {
					return nil
				}
				text = tts.Enhance(narrCtx, o.client, text, o.cfg.Language)
				res, synthErr := o.voice.Synthesize(narrCtx, tts.Request{Text: text, Language: o.cfg.Language})
				if synthErr != nil {
					o.logger.Warn("narration synthesis failed: %v", synthErr)
					return nil
				}
				done <- res.Duration.Milliseconds()
				return nil
			})
		case step.Kind == script.StepTTSWait:
			payload := map[string]any{"label": step.Label}
			if done, ok := pending[step.Label]; ok {
				if ms, received := <-done; received {
					payload["durationMs"] = ms
					if o.voice != nil {
						payload["provider"] = o.voice.Name()
					}
				}
				delete(pending, step.Label)
			}
			o.sessions.Emit(sessionID, events.TTSCompleted, payload)
		default:
			o.sessions.Emit(sessionID, events.StepExecuting, map[string]any{
				"index": i,
				"step":  step.Describe(),
			})
			stepResult, err := o.exec.Execute(ctx, sessionID, i, step)
			if err != nil {
				_ = narration.Wait()
				return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("execute step %d: %v", i, err))
			}
			o.metrics.stepObserved(string(step.Kind), stepStatus(stepResult), stepResult.Duration)
			if !stepResult.Success {
				o.metrics.stepFailed(string(step.Kind), string(stepResult.ErrorKind))
				o.sessions.Emit(sessionID, events.StepFailed, map[string]any{
					"index":     i,
					"step":      step.Describe(),
					"errorKind": string(stepResult.ErrorKind),
					"error":     stepResult.Error,
				})
				_ = narration.Wait()
				return session.OutcomeFailed, o.failSession(sessionID, fmt.Sprintf("step %d failed (%s): %s", i, stepResult.ErrorKind, stepResult.Error))
			}
			o.emitStepArtifacts(sessionID, i, step, stepResult)
			if stepResult.ScreenshotPath != "" {
				screenshots = append(screenshots, stepResult.ScreenshotPath)
			}
		}

		progress := (i + 1) * 100 / total
		o.sessions.Emit(sessionID, events.GoalProgress, map[string]any{
			"progress": progress,
			"current":  i + 1,
			"total":    total,
		})
		o.sessions.SetProgress(sessionID, progress, i+1, total)
	}

	_ = narration.Wait()

	video := ""
	if sc.RecordVideo {
		video = o.layout.VideoPath(sessionID)
		o.sessions.Emit(sessionID, events.VideoRecordingStopped, map[string]any{"path": video})
	}

	if sc.Body != "" {
		if copyErr := os.WriteFile(o.layout.SessionGuidePath(sessionID), []byte(sc.Body), 0o644); copyErr != nil {
			o.logger.Warn("write session guide copy: %v", copyErr)
		}
	}
	if logErr := o.layout.WriteGuideLog(sessionID, workspace.GuideLog{
		SessionID:   sessionID,
		ScriptID:    sc.ID,
		Markdown:    sc.Path,
		Screenshots: screenshots,
		Video:       video,
		GeneratedAt: time.Now().UTC(),
	}); logErr != nil {
		o.logger.Warn("write guide log: %v", logErr)
	}
	o.sessions.Emit(sessionID, events.ReportGenerated, map[string]any{
		"path": o.layout.GuideLogPath(sessionID),
	})

	o.sessions.Emit(sessionID, events.Completed, nil)
	o.sessions.Complete(sessionID, session.OutcomeCompleted, "")
	return session.OutcomeCompleted, nil
}

func (o *Orchestrator) emitStepArtifacts(sessionID string, index int, step script.Step, res *executor.StepResult) {
	o.sessions.Emit(sessionID, events.StepExecuted, map[string]any{
		"index":      index,
		"step":       step.Describe(),
		"kind":       string(step.Kind),
		"durationMs": res.Duration.Milliseconds(),
		"uiChange":   res.UIChange,
	})
	if res.ScreenshotPath != "" {
		o.sessions.Emit(sessionID, events.ScreenshotCaptured, map[string]any{
			"index": index,
			"path":  res.ScreenshotPath,
		})
	}
	if res.DOMSnapshotPath != "" {
		o.sessions.Emit(sessionID, events.DomSnapshotCaptured, map[string]any{
			"index": index,
			"path":  res.DOMSnapshotPath,
		})
	}
}

// observe captures the page for one planning iteration.
func (o *Orchestrator) observe(ctx context.Context) (url, cleaned, screenshot string) {
	url, _ = o.driver.CurrentURL(ctx)
	if html, err := o.driver.DOMHTML(ctx); err == nil {
		cleaned = cleanDOMText(html)
	} else {
		o.logger.Warn("capture DOM for planning: %v", err)
	}
	if shot, err := o.driver.Screenshot(ctx); err == nil && len(shot) > 0 {
		screenshot = "data:image/png;base64," + base64.StdEncoding.EncodeToString(shot)
	} else if err != nil {
		o.logger.Warn("capture screenshot for planning: %v", err)
	}
	return url, cleaned, screenshot
}

func cleanDOMText(html string) string {
	if html == "" {
		return ""
	}
	cleaned, err := browser.CleanDOM(html, domTokenBudget)
	if err != nil {
		return ""
	}
	return cleaned
}

func previousReasoning(result *planner.Result) string {
	if result == nil {
		return ""
	}
	return result.Reasoning
}

func stepStatus(res *executor.StepResult) string {
	if res.Success {
		return "ok"
	}
	return "failed"
}

// detectLoop reports whether the last three executed steps repeat the three
// before them. window bounds how much history is considered.
func detectLoop(executed []script.Step, window int) (string, bool) {
	if window < 6 {
		window = 6
	}
	if len(executed) < 6 {
		return "", false
	}
	recent := executed
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	n := len(recent)
	for i := 0; i < 3; i++ {
		if recent[n-3+i].IdentityKey() != recent[n-6+i].IdentityKey() {
			return "", false
		}
	}
	return recent[n-1].IdentityKey(), true
}

func (o *Orchestrator) failSession(sessionID, msg string) error {
	o.sessions.Emit(sessionID, events.ErrorEvent, map[string]any{"message": msg})
	o.sessions.Complete(sessionID, session.OutcomeFailed, msg)
	return errors.New(msg)
}

func (o *Orchestrator) cancelSession(sessionID string) (session.Outcome, error) {
	o.sessions.Complete(sessionID, session.OutcomeCancelled, "cancelled by user")
	return session.OutcomeCancelled, nil
}
