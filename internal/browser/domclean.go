package browser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"guideflow/internal/token"
)

// CleanDOM converts a page document into compact text for the LLM: noise
// elements are removed, then title, headings, form fields, buttons, links and
// content blocks are extracted. The output is bounded by tokenBudget.
func CleanDOM(html string, tokenBudget int) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, svg, iframe, link, meta").Remove()

	var content strings.Builder

	if title := strings.TrimSpace(doc.Find("title").Text()); title != "" {
		content.WriteString("# " + title + "\n\n")
	}

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(i int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			level := s.Get(0).Data[1] - '0'
			content.WriteString(strings.Repeat("#", int(level)) + " " + text + "\n")
		}
	})
	content.WriteString("\n")

	fields := FieldLabels(doc)
	if len(fields) > 0 {
		content.WriteString("Form fields:\n")
		for _, f := range fields {
			content.WriteString("- " + f.Describe() + "\n")
		}
		content.WriteString("\n")
	}

	var buttons []string
	doc.Find("button, input[type=submit], [role=button], a.btn, a.button").Each(func(i int, s *goquery.Selection) {
		label := strings.TrimSpace(s.Text())
		if label == "" {
			label, _ = s.Attr("value")
		}
		if label = strings.TrimSpace(label); label != "" {
			buttons = append(buttons, label)
		}
	})
	if len(buttons) > 0 {
		content.WriteString("Buttons: " + strings.Join(dedupe(buttons), " | ") + "\n\n")
	}

	var links []string
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" && len(text) < 80 {
			links = append(links, text)
		}
	})
	if links = dedupe(links); len(links) > 0 {
		if len(links) > 40 {
			links = links[:40]
		}
		content.WriteString("Links: " + strings.Join(links, " | ") + "\n\n")
	}

	doc.Find("p, li, td, label, span.error, div[role=alert]").Each(func(i int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" && len(text) > 2 && len(text) < 400 {
			content.WriteString(text + "\n")
		}
	})

	return token.Truncate(content.String(), tokenBudget), nil
}

// Field is one form field discovered on the page.
type Field struct {
	Label string
	Type  string
	Tag   string
}

// Describe renders the field for the cleaned DOM.
func (f Field) Describe() string {
	kind := f.Type
	if kind == "" {
		kind = f.Tag
	}
	return fmt.Sprintf("%s (%s)", f.Label, kind)
}

// IsPicker reports whether the field is a select/combobox. The planner never
// proposes Type steps for pickers.
func (f Field) IsPicker() bool {
	return f.Tag == "select" || f.Type == "combobox"
}

// ExtractFieldLabels returns the visible form-field labels of a document,
// in document order. The resolver feeds these to the label→key mapping.
func ExtractFieldLabels(html string) ([]Field, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	return FieldLabels(doc), nil
}

// FieldLabels collects labeled inputs, selects and textareas. A field's label
// comes from its <label for=…>, wrapping label, aria-label, placeholder or
// name attribute, in that order.
func FieldLabels(doc *goquery.Document) []Field {
	labelFor := map[string]string{}
	doc.Find("label[for]").Each(func(i int, s *goquery.Selection) {
		id, _ := s.Attr("for")
		if text := strings.TrimSpace(s.Text()); id != "" && text != "" {
			labelFor[id] = text
		}
	})

	var fields []Field
	seen := map[string]bool{}
	doc.Find("input, select, textarea").Each(func(i int, s *goquery.Selection) {
		inputType, _ := s.Attr("type")
		switch inputType {
		case "hidden", "submit", "button":
			return
		}
		tag := goquery.NodeName(s)

		label := ""
		if id, ok := s.Attr("id"); ok {
			label = labelFor[id]
		}
		if label == "" {
			if parent := s.Closest("label"); parent.Length() > 0 {
				label = strings.TrimSpace(parent.Text())
			}
		}
		if label == "" {
			label, _ = s.Attr("aria-label")
		}
		if label == "" {
			label, _ = s.Attr("placeholder")
		}
		if label == "" {
			label, _ = s.Attr("name")
		}
		label = strings.TrimSpace(label)
		if label == "" || seen[strings.ToLower(label)] {
			return
		}
		seen[strings.ToLower(label)] = true
		if role, _ := s.Attr("role"); role == "combobox" {
			inputType = "combobox"
		}
		fields = append(fields, Field{Label: label, Type: inputType, Tag: tag})
	})
	return fields
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := in[:0:0]
	for _, s := range in {
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
