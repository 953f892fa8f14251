package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"guideflow/internal/browser"
	"guideflow/internal/config"
	"guideflow/internal/events"
	"guideflow/internal/llm"
	"guideflow/internal/script"
	"guideflow/internal/session"
)

func testConfig(storage string) config.Config {
	cfg := config.DefaultConfig()
	cfg.StorageRoot = storage
	cfg.IterationPauseMs = 1
	cfg.LogWaitTimeoutMs = 2000
	cfg.SecretsStrategy = config.StrategyHeuristic
	return cfg
}

func mockSite(cfg config.Config) (browser.Driver, error) {
	return browser.NewMockDriver(
		&browser.MockPage{
			URL:    "https://example.com/login",
			HTML:   "<html><head><title>Login</title></head><body><input aria-label='Email'><button>Log in</button></body></html>",
			Fields: []string{"Email"},
			Clicks: map[string]string{"Log in": "https://example.com/home"},
		},
		&browser.MockPage{
			URL:  "https://example.com/home",
			HTML: "<html><head><title>Home</title></head><body><h1>Dashboard</h1></body></html>",
		},
	), nil
}

func newTestEngine(t *testing.T, storage string) *Engine {
	t.Helper()
	eng, err := New(testConfig(storage),
		WithDriverFactory(mockSite),
		WithLLMClient(llm.NewMockClient()),
	)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng
}

func saveLoginGuide(t *testing.T, eng *Engine) string {
	t.Helper()
	markdown, err := script.Emit(script.EmitOptions{
		Title:   "Login walkthrough",
		BaseURL: "https://example.com/login",
	}, []script.Step{
		{Kind: script.StepGoto, URL: "https://example.com/login"},
		{Kind: script.StepType, Label: "Email", Value: "admin@example.com"},
		{Kind: script.StepClick, Label: "Log in"},
		{Kind: script.StepAssertPage, URL: "https://example.com/home"},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if _, err := eng.Scripts().Save("script-login", "Login walkthrough", markdown); err != nil {
		t.Fatalf("save: %v", err)
	}
	return "script-login"
}

func drain(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var got []events.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, evt)
		case <-timeout:
			t.Fatalf("stream never terminated; got %d events", len(got))
		}
	}
}

func TestStartRunCompletesAndMirrorsLog(t *testing.T) {
	storage := t.TempDir()
	eng := newTestEngine(t, storage)
	scriptID := saveLoginGuide(t, eng)

	sessionID, err := eng.StartRun(context.Background(), scriptID, StartOptions{})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	ch, err := eng.Subscribe(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	evts := drain(t, ch)
	if len(evts) == 0 || evts[len(evts)-1].Type != events.SessionCompleted {
		t.Fatalf("expected completed terminal, got %v", evts)
	}

	snap, err := eng.Status(sessionID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if snap.Status != session.StatusCompleted {
		t.Fatalf("wrong status %s", snap.Status)
	}
}

func TestLateSubscriberReadsLogAcrossEngines(t *testing.T) {
	storage := t.TempDir()
	producer := newTestEngine(t, storage)
	scriptID := saveLoginGuide(t, producer)

	sessionID, err := producer.StartRun(context.Background(), scriptID, StartOptions{})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	drain(t, mustSubscribe(t, producer, sessionID))

	// A second engine instance knows nothing in memory; it must fall back
	// to the NDJSON log for both the stream and the status.
	consumer := newTestEngine(t, storage)
	evts := drain(t, mustSubscribe(t, consumer, sessionID))
	if len(evts) == 0 {
		t.Fatal("log replay yielded no events")
	}
	if evts[0].Seq != 0 {
		t.Fatalf("replay must start at seq 0, got %d", evts[0].Seq)
	}
	if evts[len(evts)-1].Type != events.SessionCompleted {
		t.Fatalf("replay must end at the terminal event, got %s", evts[len(evts)-1].Type)
	}
	for i, evt := range evts {
		if evt.Seq != int64(i) {
			t.Fatalf("replayed seq not contiguous at %d", i)
		}
	}

	snap, err := consumer.Status(sessionID)
	if err != nil {
		t.Fatalf("Status from log failed: %v", err)
	}
	if snap.Status != session.StatusCompleted || snap.Progress != 100 {
		t.Fatalf("log-derived snapshot wrong: %+v", snap)
	}
}

func mustSubscribe(t *testing.T, eng *Engine, id string) <-chan events.Event {
	t.Helper()
	ch, err := eng.Subscribe(context.Background(), id)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	return ch
}

func TestSubscribeUnknownSessionTimesOut(t *testing.T) {
	eng := newTestEngine(t, t.TempDir())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := eng.Subscribe(ctx, "no-such-session"); err == nil {
		t.Fatal("expected appear-timeout error for unknown session")
	}
}

func TestStartRunRejectsMalformedSessionID(t *testing.T) {
	eng := newTestEngine(t, t.TempDir())
	scriptID := saveLoginGuide(t, eng)

	// Preallocated ids become path components; anything that is not a UUID
	// is refused before a directory is derived from it.
	if _, err := eng.StartRun(context.Background(), scriptID, StartOptions{SessionID: "../escape"}); err == nil {
		t.Fatal("expected malformed session id to be rejected")
	}
	if _, err := eng.StartGenerate(context.Background(), "goal", "https://example.com", "", StartOptions{SessionID: "not-a-uuid"}); err == nil {
		t.Fatal("expected malformed session id to be rejected")
	}
}

func TestWorkerEnvRoundTrip(t *testing.T) {
	opts := StartOptions{
		Secrets:         map[string]string{"password": "hunter2"},
		Vars:            map[string]string{"user": "alice"},
		SecretOverrides: map[string]string{"password": "override"},
	}
	for _, entry := range workerEnv(opts) {
		if name, value, ok := strings.Cut(entry, "="); ok && strings.HasPrefix(name, "GUIDEFLOW_") {
			t.Setenv(name, value)
		}
	}
	got := StartOptionsFromEnv()
	if got.Secrets["password"] != "hunter2" || got.Vars["user"] != "alice" || got.SecretOverrides["password"] != "override" {
		t.Fatalf("detached options lost values across the environment: %+v", got)
	}
}

func TestCancelGenerate(t *testing.T) {
	storage := t.TempDir()
	client := llm.NewMockClient()
	client.Handler = func(ctx context.Context, task llm.Task, req llm.Request) (llm.Response, error) {
		return llm.Response{Content: `{"step": {"type": "click", "label": "Log in"}, "confidence": 0.9, "reasoning": "advance"}`}, nil
	}
	eng, err := New(testConfig(storage), WithDriverFactory(mockSite), WithLLMClient(client))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	sessionID, err := eng.StartGenerate(context.Background(), "never finishes", "https://example.com/login", "", StartOptions{})
	if err != nil {
		t.Fatalf("StartGenerate failed: %v", err)
	}
	ch := mustSubscribe(t, eng, sessionID)
	eng.Cancel(sessionID)

	evts := drain(t, ch)
	if evts[len(evts)-1].Type != events.SessionCancelled {
		t.Fatalf("expected session_cancelled, got %s", evts[len(evts)-1].Type)
	}
}
