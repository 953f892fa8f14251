// Package engine is the public facade: it starts run and generate sessions,
// exposes subscription/status/cancel, and supervises detached worker
// processes.
package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"guideflow/internal/browser"
	"guideflow/internal/config"
	"guideflow/internal/events"
	"guideflow/internal/executor"
	"guideflow/internal/jsonx"
	"guideflow/internal/llm"
	"guideflow/internal/logging"
	"guideflow/internal/orchestrator"
	"guideflow/internal/planner"
	"guideflow/internal/resolver"
	"guideflow/internal/script"
	"guideflow/internal/session"
	"guideflow/internal/tts"
	"guideflow/internal/utils"
	"guideflow/internal/utils/id"
	"guideflow/internal/workspace"
)

// DriverFactory builds the browser a session owns. Tests inject mock
// drivers through it.
type DriverFactory func(cfg config.Config) (browser.Driver, error)

func chromeFactory(cfg config.Config) (browser.Driver, error) {
	return browser.NewChromeDriver(browser.ChromeOptions{Headless: true})
}

// Engine coordinates sessions inside one process.
type Engine struct {
	cfg      config.Config
	sessions *session.Manager
	layout   *workspace.Layout
	scripts  *script.Store
	client   llm.Client
	drivers  DriverFactory
	voice    tts.Provider
	logger   logging.Logger
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithDriverFactory replaces the chromedp driver factory.
func WithDriverFactory(f DriverFactory) Option {
	return func(e *Engine) { e.drivers = f }
}

// WithLLMClient replaces the OpenAI-compatible client.
func WithLLMClient(c llm.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithVoice sets the narration provider used during runs.
func WithVoice(p tts.Provider) Option {
	return func(e *Engine) { e.voice = p }
}

// New builds an engine over cfg's storage layout.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	layout, err := workspace.NewLayout(cfg.StorageRoot, cfg.AccountID, cfg.WorkspaceID)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		sessions: session.NewManager(cfg.EventBufferSize, nil),
		layout:   layout,
		scripts:  script.NewStore(layout),
		client:   llm.NewOpenAIClient(cfg.LLM),
		drivers:  chromeFactory,
		voice:    tts.MockProvider{},
		logger:   utils.NewComponentLogger("Engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Scripts exposes the script store for import/export commands.
func (e *Engine) Scripts() *script.Store {
	return e.scripts
}

// Layout exposes the workspace paths.
func (e *Engine) Layout() *workspace.Layout {
	return e.layout
}

// StartOptions carries the per-session inputs shared by run and generate.
type StartOptions struct {
	// Detached spawns a worker child process instead of running in this
	// process.
	Detached bool
	// SessionID preallocates the id; empty generates one. Workers receive
	// theirs from the parent.
	SessionID string
	// Secrets and Vars back the placeholder stores.
	Secrets map[string]string
	Vars    map[string]string
	// SecretOverrides dominate Secrets on key collision.
	SecretOverrides map[string]string
}

// StartRun replays the stored script and returns the session id immediately.
func (e *Engine) StartRun(ctx context.Context, scriptID string, opts StartOptions) (string, error) {
	sessionID, err := sessionIDFor(opts)
	if err != nil {
		return "", err
	}
	if opts.Detached {
		return sessionID, e.spawnWorker(sessionID, []string{"worker", "--session-id", sessionID, "--script-id", scriptID}, opts)
	}

	sc, err := e.scripts.Load(scriptID)
	if err != nil {
		return "", fmt.Errorf("load script %s: %w", scriptID, err)
	}
	orch, err := e.prepare(sessionID, session.KindRun, opts)
	if err != nil {
		return "", err
	}
	go func() {
		if runErr := orch.Run(context.Background(), sessionID, sc); runErr != nil {
			e.logger.Warn("session %s ended: %v", sessionID, runErr)
		}
	}()
	return sessionID, nil
}

// StartGenerate plans a new guide toward goal and returns the session id
// immediately.
func (e *Engine) StartGenerate(ctx context.Context, goal, baseURL, title string, opts StartOptions) (string, error) {
	sessionID, err := sessionIDFor(opts)
	if err != nil {
		return "", err
	}
	if opts.Detached {
		return sessionID, e.spawnWorker(sessionID, []string{
			"worker", "--session-id", sessionID, "--goal", goal, "--url", baseURL, "--title", title,
		}, opts)
	}

	orch, err := e.prepare(sessionID, session.KindPrompt, opts)
	if err != nil {
		return "", err
	}
	go func() {
		if runErr := orch.Generate(context.Background(), sessionID, goal, baseURL, title); runErr != nil {
			e.logger.Warn("session %s ended: %v", sessionID, runErr)
		}
	}()
	return sessionID, nil
}

// RunWorker executes a session synchronously in this process. The worker
// command calls it after the parent preallocated the id and serialized the
// placeholder stores into the environment.
func (e *Engine) RunWorker(ctx context.Context, sessionID, scriptID, goal, baseURL, title string, opts StartOptions) error {
	if !id.IsValid(sessionID) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	if scriptID != "" {
		sc, err := e.scripts.Load(scriptID)
		if err != nil {
			return fmt.Errorf("load script %s: %w", scriptID, err)
		}
		orch, err := e.prepare(sessionID, session.KindRun, opts)
		if err != nil {
			return err
		}
		// A failed session is not a worker failure; the terminal event
		// carries the outcome.
		_ = orch.Run(ctx, sessionID, sc)
		return nil
	}
	orch, err := e.prepare(sessionID, session.KindPrompt, opts)
	if err != nil {
		return err
	}
	_ = orch.Generate(ctx, sessionID, goal, baseURL, title)
	return nil
}

// sessionIDFor validates a preallocated id or generates one. Ids become path
// components, so a malformed one is rejected before any directory is derived
// from it.
func sessionIDFor(opts StartOptions) (string, error) {
	if opts.SessionID == "" {
		return id.NewSessionID(), nil
	}
	if !id.IsValid(opts.SessionID) {
		return "", fmt.Errorf("invalid session id %q", opts.SessionID)
	}
	return opts.SessionID, nil
}

// prepare registers the session, attaches the NDJSON mirror, builds the
// session-scoped browser/executor/orchestrator stack and starts the session.
func (e *Engine) prepare(sessionID string, kind session.Kind, opts StartOptions) (*orchestrator.Orchestrator, error) {
	if err := e.sessions.Create(sessionID, kind); err != nil {
		return nil, err
	}
	if err := e.layout.EnsureSessionDirs(sessionID); err != nil {
		e.sessions.Remove(sessionID)
		return nil, err
	}
	writer, err := events.NewLogWriter(e.layout.EventLogPath(sessionID))
	if err != nil {
		e.sessions.Remove(sessionID)
		return nil, err
	}
	if err := e.sessions.AttachLog(sessionID, writer); err != nil {
		writer.Close()
		e.sessions.Remove(sessionID)
		return nil, err
	}

	driver, err := e.drivers(e.cfg)
	if err != nil {
		writer.Close()
		e.sessions.Remove(sessionID)
		return nil, fmt.Errorf("start browser: %w", err)
	}
	e.sessions.SetCleanup(sessionID, func() {
		if closeErr := driver.Close(); closeErr != nil {
			e.logger.Warn("close browser for %s: %v", sessionID, closeErr)
		}
	})

	strategy := resolver.StrategyHybrid
	if e.cfg.SecretsStrategy == config.StrategyHeuristic {
		strategy = resolver.StrategyHeuristic
	}
	secrets := resolver.NewStore(opts.Secrets, opts.SecretOverrides)
	vars := resolver.NewStore(opts.Vars, nil)
	res := resolver.New(e.client, strategy)

	ex := executor.New(driver, e.layout, res, secrets, vars, executor.Options{
		Quiescence: browser.QuiescenceOptions{
			QuietWindow:     time.Duration(e.cfg.DomQuiescenceQuietMs) * time.Millisecond,
			Cap:             time.Duration(e.cfg.DomQuiescenceCapMs) * time.Millisecond,
			PageLoadTimeout: time.Duration(e.cfg.PageLoadTimeoutMs) * time.Millisecond,
		},
		StepTimeout: e.cfg.StepTimeout(),
	})
	pl := planner.New(e.client, llm.ImageOptions{
		MaxWidth:  e.cfg.ImageMaxWidth,
		MaxHeight: e.cfg.ImageMaxHeight,
		Quality:   e.cfg.ImageQuality,
	})
	orch := orchestrator.New(e.cfg, e.sessions, e.layout, driver, pl, ex, e.scripts, e.voice)
	orch.SetNarrationClient(e.client)

	if err := e.sessions.Start(sessionID); err != nil {
		return nil, err
	}
	return orch, nil
}

// spawnWorker launches a detached child and waits (bounded) for the event
// log to appear so a caller can subscribe immediately. The placeholder
// stores travel in the child's environment, not argv, so secret values stay
// out of the process list.
func (e *Engine) spawnWorker(sessionID string, args []string, opts StartOptions) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	cmd := exec.Command(exe, args...)
	cmd.Env = workerEnv(opts)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn worker: %w", err)
	}
	go func() {
		if waitErr := cmd.Wait(); waitErr != nil {
			e.logger.Warn("worker for %s exited: %v", sessionID, waitErr)
		}
	}()

	logPath := e.layout.EventLogPath(sessionID)
	deadline := time.Now().Add(e.cfg.LogWaitTimeout())
	for time.Now().Before(deadline) {
		if _, statErr := os.Stat(logPath); statErr == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("worker for %s produced no event log within %s", sessionID, e.cfg.LogWaitTimeout())
}

const (
	envSecrets         = "GUIDEFLOW_SECRETS"
	envVars            = "GUIDEFLOW_VARS"
	envSecretOverrides = "GUIDEFLOW_SECRET_OVERRIDES"
)

// workerEnv serializes the placeholder stores for a detached worker.
func workerEnv(opts StartOptions) []string {
	env := os.Environ()
	for name, values := range map[string]map[string]string{
		envSecrets:         opts.Secrets,
		envVars:            opts.Vars,
		envSecretOverrides: opts.SecretOverrides,
	} {
		if len(values) == 0 {
			continue
		}
		data, err := jsonx.Marshal(values)
		if err != nil {
			continue
		}
		env = append(env, name+"="+string(data))
	}
	return env
}

// StartOptionsFromEnv rebuilds the placeholder stores a parent serialized
// through spawnWorker. The worker command calls it before RunWorker.
func StartOptionsFromEnv() StartOptions {
	return StartOptions{
		Secrets:         mapFromEnv(envSecrets),
		Vars:            mapFromEnv(envVars),
		SecretOverrides: mapFromEnv(envSecretOverrides),
	}
}

func mapFromEnv(name string) map[string]string {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	var values map[string]string
	if err := jsonx.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

// Subscribe streams a session's events: the live bus when the session runs
// in this process, the NDJSON log otherwise. The tailer waits (bounded) for
// the log file to appear, so subscribing can race session startup cleanly.
func (e *Engine) Subscribe(ctx context.Context, sessionID string) (<-chan events.Event, error) {
	ch, err := e.sessions.Subscribe(sessionID)
	if err == nil {
		return ch, nil
	}
	return events.Tail(ctx, e.layout.EventLogPath(sessionID), events.TailerOptions{
		AppearTimeout: e.cfg.LogWaitTimeout(),
	})
}

// Status reports a session. Sessions of other processes are reconstructed
// from their event log.
func (e *Engine) Status(sessionID string) (session.Snapshot, error) {
	snap, err := e.sessions.Status(sessionID)
	if err == nil {
		return snap, nil
	}
	return e.statusFromLog(sessionID)
}

// Cancel requests cooperative cancellation. For sessions of this process
// only; a detached worker is cancelled through its own facade.
func (e *Engine) Cancel(sessionID string) {
	e.sessions.Cancel(sessionID)
}

// statusFromLog rebuilds a snapshot by scanning the session's event log.
func (e *Engine) statusFromLog(sessionID string) (session.Snapshot, error) {
	path := e.layout.EventLogPath(sessionID)
	if _, err := os.Stat(path); err != nil {
		return session.Snapshot{}, session.ErrNotFound
	}

	snap := session.Snapshot{ID: sessionID, Status: session.StatusStarted}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, err := events.Tail(ctx, path, events.TailerOptions{AppearTimeout: time.Second})
	if err != nil {
		return session.Snapshot{}, err
	}
	for evt := range ch {
		switch evt.Type {
		case events.SessionStarted:
			t := evt.Time()
			snap.StartedAt = &t
		case events.SessionCompleted:
			snap.Status = session.StatusCompleted
			snap.Progress = 100
		case events.SessionFailed:
			snap.Status = session.StatusFailed
			if msg, ok := evt.Payload["error"].(string); ok {
				snap.Error = msg
			}
		case events.SessionCancelled:
			snap.Status = session.StatusCancelled
		case events.GoalProgress:
			if p, ok := evt.Payload["progress"].(float64); ok {
				snap.Progress = int(p)
			}
		case events.ScriptSaved:
			if sid, ok := evt.Payload["scriptId"].(string); ok {
				snap.ScriptID = sid
			}
		}
		if evt.IsTerminal() {
			t := evt.Time()
			snap.CompletedAt = &t
			break
		}
	}
	return snap, nil
}
