package script

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// ParseMarkdown splits a guide document into frontmatter and body and decodes
// the YAML header. The returned script carries no ID or path; callers attach
// those from the surrounding storage context.
func ParseMarkdown(content string) (*Script, error) {
	header, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}
	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, fmt.Errorf("decode frontmatter: %w", err)
	}
	return &Script{
		Title:       fm.Title,
		BaseURL:     fm.BaseURL,
		Steps:       fm.Steps,
		Language:    fm.Language,
		RecordVideo: fm.RecordVideo,
		Tags:        fm.Tags,
		Body:        body,
	}, nil
}

// ParseFrontmatter decodes only the YAML header of a guide document.
func ParseFrontmatter(content string) (Frontmatter, string, error) {
	header, body, err := splitFrontmatter(content)
	if err != nil {
		return Frontmatter{}, "", err
	}
	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return Frontmatter{}, "", fmt.Errorf("decode frontmatter: %w", err)
	}
	return fm, body, nil
}

func splitFrontmatter(content string) (header, body string, err error) {
	trimmed := strings.TrimLeft(content, "\uFEFF\n\r ")
	if !strings.HasPrefix(trimmed, frontmatterDelimiter) {
		return "", "", fmt.Errorf("document has no frontmatter header")
	}
	rest := trimmed[len(frontmatterDelimiter):]
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")

	end := strings.Index(rest, "\n"+frontmatterDelimiter)
	if end < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter header")
	}
	header = rest[:end]
	body = rest[end+len(frontmatterDelimiter)+1:]
	body = strings.TrimPrefix(body, "\r\n")
	body = strings.TrimPrefix(body, "\n")
	return header, body, nil
}

// RenderFrontmatter encodes the YAML header. yaml.v3 quotes strings where
// required and renders multi-line notes as block scalars aligned under the
// key, which is exactly the layout the guide format wants.
func RenderFrontmatter(fm Frontmatter) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\n%s%s\n", frontmatterDelimiter, buf.String(), frontmatterDelimiter), nil
}
