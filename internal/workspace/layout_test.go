package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLayoutPaths(t *testing.T) {
	root := t.TempDir()
	l, err := NewLayout(root, "acct-1", "ws-1")
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}

	want := filepath.Join(root, "acct-1", "ws-1", "sessions", "sess-1", "events.ndjson")
	if got := l.EventLogPath("sess-1"); got != want {
		t.Fatalf("EventLogPath = %q, want %q", got, want)
	}
	if !strings.HasSuffix(l.ScreenshotPath("sess-1", 3), filepath.Join("screenshots", "step-3.png")) {
		t.Fatalf("unexpected screenshot path %q", l.ScreenshotPath("sess-1", 3))
	}
	if !strings.HasSuffix(l.ScriptMarkdownPath("scr-1"), filepath.Join("generated-scripts", "scr-1", "generated-guide.md")) {
		t.Fatalf("unexpected script path %q", l.ScriptMarkdownPath("scr-1"))
	}
}

func TestLayoutRejectsTraversal(t *testing.T) {
	if _, err := NewLayout(t.TempDir(), "..", "ws"); err == nil {
		t.Fatal("expected error for traversal account id")
	}
	if _, err := NewLayout(t.TempDir(), "acct", "a/b"); err == nil {
		t.Fatal("expected error for separator in workspace id")
	}

	l, err := NewLayout(t.TempDir(), "acct", "ws")
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}
	if err := l.EnsureSessionDirs("../escape"); err == nil {
		t.Fatal("expected error for traversal session id")
	}
}

func TestLayoutContains(t *testing.T) {
	l, err := NewLayout(t.TempDir(), "acct", "ws")
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}
	if !l.Contains(l.EventLogPath("s")) {
		t.Fatal("expected event log path inside workspace")
	}
	if l.Contains(filepath.Join(l.Root(), "..", "other")) {
		t.Fatal("expected sibling workspace path outside")
	}
}

func TestGuideLogRoundTrip(t *testing.T) {
	l, err := NewLayout(t.TempDir(), "acct", "ws")
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}
	if err := l.EnsureSessionDirs("sess-1"); err != nil {
		t.Fatalf("EnsureSessionDirs failed: %v", err)
	}
	entry := GuideLog{
		SessionID:   "sess-1",
		ScriptID:    "scr-1",
		Markdown:    l.SessionGuidePath("sess-1"),
		Screenshots: []string{l.ScreenshotPath("sess-1", 0)},
		GeneratedAt: time.Now().UTC().Round(time.Second),
	}
	if err := l.WriteGuideLog("sess-1", entry); err != nil {
		t.Fatalf("WriteGuideLog failed: %v", err)
	}
	if _, err := os.Stat(l.GuideLogPath("sess-1")); err != nil {
		t.Fatalf("expected guide log file: %v", err)
	}
	got, err := l.ReadGuideLog("sess-1")
	if err != nil {
		t.Fatalf("ReadGuideLog failed: %v", err)
	}
	if got.ScriptID != "scr-1" || len(got.Screenshots) != 1 {
		t.Fatalf("unexpected guide log %+v", got)
	}
}
