// Package workspace owns the on-disk artifact layout. Everything a tenant
// produces lives under <storage>/<accountId>/<workspaceId>/ and no path handed
// out by this package ever escapes that subtree.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"guideflow/internal/jsonx"
)

// Layout resolves artifact paths for one tenant workspace.
type Layout struct {
	storageRoot string
	accountID   string
	workspaceID string
}

// NewLayout validates the tenant coordinates and returns a Layout. Identifiers
// containing path separators or traversal tokens are rejected outright.
func NewLayout(storageRoot, accountID, workspaceID string) (*Layout, error) {
	for _, part := range []string{accountID, workspaceID} {
		if err := checkPathComponent(part); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(storageRoot) == "" {
		return nil, fmt.Errorf("storage root is empty")
	}
	return &Layout{
		storageRoot: filepath.Clean(storageRoot),
		accountID:   accountID,
		workspaceID: workspaceID,
	}, nil
}

func checkPathComponent(part string) error {
	if strings.TrimSpace(part) == "" {
		return fmt.Errorf("empty path component")
	}
	if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
		return fmt.Errorf("unsafe path component %q", part)
	}
	return nil
}

// Root returns <storage>/<account>/<workspace>.
func (l *Layout) Root() string {
	return filepath.Join(l.storageRoot, l.accountID, l.workspaceID)
}

// ScriptsDir returns the directory holding all generated scripts.
func (l *Layout) ScriptsDir() string {
	return filepath.Join(l.Root(), "generated-scripts")
}

// ScriptDir returns the directory for one script.
func (l *Layout) ScriptDir(scriptID string) string {
	return filepath.Join(l.ScriptsDir(), scriptID)
}

// ScriptMarkdownPath returns the canonical markdown path of a script.
func (l *Layout) ScriptMarkdownPath(scriptID string) string {
	return filepath.Join(l.ScriptDir(scriptID), "generated-guide.md")
}

// ScriptRegistryPath returns the registry index file for imported scripts.
func (l *Layout) ScriptRegistryPath() string {
	return filepath.Join(l.ScriptsDir(), "registry.json")
}

// SessionDir returns the directory for one session.
func (l *Layout) SessionDir(sessionID string) string {
	return filepath.Join(l.Root(), "sessions", sessionID)
}

// EventLogPath returns the NDJSON event log path of a session.
func (l *Layout) EventLogPath(sessionID string) string {
	return filepath.Join(l.SessionDir(sessionID), "events.ndjson")
}

// ScreenshotPath returns the screenshot path for a step index.
func (l *Layout) ScreenshotPath(sessionID string, stepIndex int) string {
	return filepath.Join(l.SessionDir(sessionID), "screenshots", fmt.Sprintf("step-%d.png", stepIndex))
}

// DomSnapshotPath returns the DOM snapshot path for a step index.
func (l *Layout) DomSnapshotPath(sessionID string, stepIndex int) string {
	return filepath.Join(l.SessionDir(sessionID), "dom-snapshots", fmt.Sprintf("step-%d.html", stepIndex))
}

// VideoPath returns the recording path of a session.
func (l *Layout) VideoPath(sessionID string) string {
	return filepath.Join(l.SessionDir(sessionID), "videos", "guide-video.mp4")
}

// SessionGuidePath returns the run-side copy of the generated guide.
func (l *Layout) SessionGuidePath(sessionID string) string {
	return filepath.Join(l.SessionDir(sessionID), "guides", "generated-guide.md")
}

// GuideLogPath returns the final-output index file of a session.
func (l *Layout) GuideLogPath(sessionID string) string {
	return filepath.Join(l.SessionDir(sessionID), "guide-log.json")
}

// EnsureSessionDirs creates the session directory tree.
func (l *Layout) EnsureSessionDirs(sessionID string) error {
	if err := checkPathComponent(sessionID); err != nil {
		return err
	}
	for _, dir := range []string{
		l.SessionDir(sessionID),
		filepath.Join(l.SessionDir(sessionID), "screenshots"),
		filepath.Join(l.SessionDir(sessionID), "dom-snapshots"),
		filepath.Join(l.SessionDir(sessionID), "guides"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}
	return nil
}

// EnsureScriptDir creates the directory for one script.
func (l *Layout) EnsureScriptDir(scriptID string) error {
	if err := checkPathComponent(scriptID); err != nil {
		return err
	}
	if err := os.MkdirAll(l.ScriptDir(scriptID), 0o755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}
	return nil
}

// Contains reports whether path is inside the workspace root. Artifact writers
// use it as a last-line guard before creating files.
func (l *Layout) Contains(path string) bool {
	rel, err := filepath.Rel(l.Root(), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// GuideLog indexes the final outputs of a completed session.
type GuideLog struct {
	SessionID   string    `json:"sessionId"`
	ScriptID    string    `json:"scriptId,omitempty"`
	Markdown    string    `json:"markdown,omitempty"`
	Screenshots []string  `json:"screenshots,omitempty"`
	Video       string    `json:"video,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// WriteGuideLog persists the output index under the session directory.
func (l *Layout) WriteGuideLog(sessionID string, entry GuideLog) error {
	data, err := jsonx.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.GuideLogPath(sessionID), data, 0o644)
}

// ReadGuideLog loads the output index of a session.
func (l *Layout) ReadGuideLog(sessionID string) (GuideLog, error) {
	var entry GuideLog
	data, err := os.ReadFile(l.GuideLogPath(sessionID))
	if err != nil {
		return entry, err
	}
	if err := jsonx.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("decode guide log: %w", err)
	}
	return entry, nil
}
