package session

import (
	"path/filepath"
	"testing"
	"time"

	"guideflow/internal/events"
)

func drain(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatalf("stream did not close; got %d events", len(out))
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := NewManager(64, nil)
	if err := m.Create("s1", KindRun); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Create("s1", KindRun); err == nil {
		t.Fatal("expected duplicate id error")
	}

	ch, err := m.Subscribe("s1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := m.Start("s1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	m.Emit("s1", events.StepExecuted, map[string]any{"index": 0})
	m.Complete("s1", OutcomeCompleted, "")

	got := drain(t, ch)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].Type != events.SessionStarted {
		t.Fatalf("first event = %s, want session_started", got[0].Type)
	}
	if got[2].Type != events.SessionCompleted {
		t.Fatalf("last event = %s, want session_completed", got[2].Type)
	}
	for i, evt := range got {
		if evt.Seq != int64(i) {
			t.Fatalf("seq %d at position %d", evt.Seq, i)
		}
	}

	snap, err := m.Status("s1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if snap.Status != StatusCompleted || snap.CompletedAt == nil || snap.Progress != 100 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestTerminalReentryIsNoop(t *testing.T) {
	m := NewManager(64, nil)
	_ = m.Create("s1", KindPrompt)
	_ = m.Start("s1")
	ch, _ := m.Subscribe("s1")

	m.Complete("s1", OutcomeFailed, "boom")
	m.Complete("s1", OutcomeCompleted, "")
	m.Emit("s1", events.StepExecuted, nil)

	got := drain(t, ch)
	terminals := 0
	for _, evt := range got {
		if evt.IsTerminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly 1 terminal event, got %d", terminals)
	}
	snap, _ := m.Status("s1")
	if snap.Status != StatusFailed || snap.Error != "boom" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestCleanupFiresExactlyOnce(t *testing.T) {
	m := NewManager(64, nil)
	_ = m.Create("s1", KindRun)
	_ = m.Start("s1")

	calls := 0
	m.SetCleanup("s1", func() { calls++ })
	m.Complete("s1", OutcomeCancelled, "")
	m.Complete("s1", OutcomeCancelled, "")
	if calls != 1 {
		t.Fatalf("cleanup ran %d times, want 1", calls)
	}
}

func TestCleanupPanicIsIsolated(t *testing.T) {
	m := NewManager(64, nil)
	_ = m.Create("s1", KindRun)
	_ = m.Start("s1")
	m.SetCleanup("s1", func() { panic("subscriber gone wrong") })
	m.Complete("s1", OutcomeCompleted, "")

	snap, err := m.Status("s1")
	if err != nil || snap.Status != StatusCompleted {
		t.Fatalf("session corrupted by cleanup panic: %+v err=%v", snap, err)
	}
}

func TestCancelToken(t *testing.T) {
	m := NewManager(64, nil)
	_ = m.Create("s1", KindPrompt)
	_ = m.Start("s1")

	if m.Cancelled("s1") {
		t.Fatal("fresh session reports cancelled")
	}
	m.Cancel("s1")
	if !m.Cancelled("s1") {
		t.Fatal("Cancel did not set token")
	}
	select {
	case <-m.CancelChan("s1"):
	default:
		t.Fatal("cancel channel not closed")
	}
	// Cancel is a request; status is still non-terminal until the
	// orchestrator performs the transition.
	snap, _ := m.Status("s1")
	if snap.Status != StatusStarted {
		t.Fatalf("cancel must not transition status, got %s", snap.Status)
	}
	m.Cancel("s1") // idempotent
}

func TestSubscribeUnknownFallsBackToLog(t *testing.T) {
	m := NewManager(64, nil)
	if _, err := m.Subscribe("ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProgressMonotone(t *testing.T) {
	m := NewManager(64, nil)
	_ = m.Create("s1", KindRun)
	m.SetProgress("s1", 40, 2, 5)
	m.SetProgress("s1", 20, 3, 5)
	snap, _ := m.Status("s1")
	if snap.Progress != 40 {
		t.Fatalf("progress regressed to %d", snap.Progress)
	}
	if snap.CurrentStep != 3 {
		t.Fatalf("current step not updated: %+v", snap)
	}
}

func TestAttachLogMirrorsTerminalEvent(t *testing.T) {
	m := NewManager(64, nil)
	_ = m.Create("s1", KindRun)
	path := filepath.Join(t.TempDir(), "events.ndjson")
	writer, err := events.NewLogWriter(path)
	if err != nil {
		t.Fatalf("NewLogWriter failed: %v", err)
	}
	if err := m.AttachLog("s1", writer); err != nil {
		t.Fatalf("AttachLog failed: %v", err)
	}
	_ = m.Start("s1")
	m.Complete("s1", OutcomeCompleted, "")

	// The cleanup hook closed the writer; appending must now fail.
	if err := writer.Append(events.Event{Type: events.ErrorEvent}); err == nil {
		t.Fatal("expected append on closed writer to fail")
	}
}

func TestOutcomeString(t *testing.T) {
	cases := map[Outcome]string{
		OutcomeCompleted: "completed",
		OutcomeFailed:    "failed",
		OutcomeCancelled: "cancelled",
		Outcome(99):      "unknown",
	}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(outcome), got, want)
		}
	}
}
