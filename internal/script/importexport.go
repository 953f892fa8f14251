package script

import (
	"fmt"
	"os"
	"strings"
	"time"

	"guideflow/internal/jsonx"
	"guideflow/internal/workspace"
)

// ExportBundle is the neutral JSON representation of a stored script.
type ExportBundle struct {
	ScriptID   string         `json:"scriptId"`
	Metadata   ExportMetadata `json:"metadata"`
	Config     Frontmatter    `json:"config"`
	Body       string         `json:"body"`
	ExportedAt time.Time      `json:"exportedAt"`
}

// ExportMetadata summarizes the script for consumers that do not parse the
// full config.
type ExportMetadata struct {
	Title   string `json:"title"`
	BaseURL string `json:"baseUrl"`
}

// RegistryEntry records one imported or generated script in the workspace
// registry.
type RegistryEntry struct {
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists scripts under a workspace layout.
type Store struct {
	layout *workspace.Layout
}

// NewStore returns a script store rooted at the workspace layout.
func NewStore(layout *workspace.Layout) *Store {
	return &Store{layout: layout}
}

// Save writes a rendered guide under <scriptsDir>/<scriptId>/generated-guide.md
// and records it in the registry.
func (s *Store) Save(scriptID, title, markdown string) (string, error) {
	if err := s.layout.EnsureScriptDir(scriptID); err != nil {
		return "", err
	}
	path := s.layout.ScriptMarkdownPath(scriptID)
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	if err := s.updateRegistry(scriptID, RegistryEntry{Title: title, Path: path, UpdatedAt: time.Now().UTC()}); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads and parses a stored script.
func (s *Store) Load(scriptID string) (*Script, error) {
	path := s.layout.ScriptMarkdownPath(scriptID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script %s not found: %w", scriptID, err)
	}
	parsed, err := ParseMarkdown(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse script %s: %w", scriptID, err)
	}
	parsed.ID = scriptID
	parsed.Path = path
	return parsed, nil
}

// Export reads the stored markdown and returns the neutral JSON bundle.
func (s *Store) Export(scriptID string) (*ExportBundle, error) {
	path := s.layout.ScriptMarkdownPath(scriptID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script %s not found: %w", scriptID, err)
	}
	fm, body, err := ParseFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse script %s: %w", scriptID, err)
	}
	return &ExportBundle{
		ScriptID:   scriptID,
		Metadata:   ExportMetadata{Title: fm.Title, BaseURL: fm.BaseURL},
		Config:     fm,
		Body:       body,
		ExportedAt: time.Now().UTC(),
	}, nil
}

// Import writes a bundle back into the workspace. Without overwrite an
// existing script id is an error.
func (s *Store) Import(bundle *ExportBundle, overwrite bool) (string, error) {
	if bundle == nil || strings.TrimSpace(bundle.ScriptID) == "" {
		return "", fmt.Errorf("bundle has no scriptId")
	}
	path := s.layout.ScriptMarkdownPath(bundle.ScriptID)
	if _, err := os.Stat(path); err == nil && !overwrite {
		return "", fmt.Errorf("script %s already exists (use overwrite)", bundle.ScriptID)
	}
	header, err := RenderFrontmatter(bundle.Config)
	if err != nil {
		return "", err
	}
	markdown := header
	if bundle.Body != "" {
		markdown += "\n" + bundle.Body
	}
	return s.Save(bundle.ScriptID, bundle.Config.Title, markdown)
}

// Registry returns the full script registry.
func (s *Store) Registry() (map[string]RegistryEntry, error) {
	registry := map[string]RegistryEntry{}
	data, err := os.ReadFile(s.layout.ScriptRegistryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return registry, nil
		}
		return nil, err
	}
	if err := jsonx.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return registry, nil
}

func (s *Store) updateRegistry(scriptID string, entry RegistryEntry) error {
	registry, err := s.Registry()
	if err != nil {
		return err
	}
	registry[scriptID] = entry
	data, err := jsonx.MarshalIndent(registry, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.layout.ScriptsDir(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.layout.ScriptRegistryPath(), data, 0o644)
}
