package browser

import (
	"strings"
	"testing"
)

const loginHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Acme Login</title>
  <script>console.log("noise")</script>
  <style>.x{color:red}</style>
</head>
<body>
  <h1>Sign in</h1>
  <form>
    <label for="em">Email address</label>
    <input id="em" type="email" name="email">
    <label>Password <input type="password" name="pw"></label>
    <input type="hidden" name="csrf" value="tok">
    <select id="country" aria-label="Country"><option>DE</option></select>
    <input type="text" placeholder="Promo code">
    <button type="submit">Log in</button>
  </form>
  <a href="/forgot">Forgot password?</a>
  <p>Welcome back. Enter your credentials to continue.</p>
</body>
</html>`

func TestCleanDOMExtractsStructure(t *testing.T) {
	out, err := CleanDOM(loginHTML, 0)
	if err != nil {
		t.Fatalf("CleanDOM failed: %v", err)
	}
	for _, want := range []string{
		"# Acme Login",
		"# Sign in",
		"Email address (email)",
		"Password (password)",
		"Country (select)",
		"Promo code (text)",
		"Buttons: Log in",
		"Forgot password?",
		"Welcome back.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("cleaned DOM missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "console.log") || strings.Contains(out, "color:red") {
		t.Error("script/style content leaked into cleaned DOM")
	}
	if strings.Contains(out, "csrf") {
		t.Error("hidden field leaked into cleaned DOM")
	}
}

func TestCleanDOMRespectsTokenBudget(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 500; i++ {
		b.WriteString("<p>Paragraph with a reasonable amount of filler text in it.</p>")
	}
	b.WriteString("</body></html>")

	out, err := CleanDOM(b.String(), 100)
	if err != nil {
		t.Fatalf("CleanDOM failed: %v", err)
	}
	if !strings.Contains(out, "[content truncated]") {
		t.Error("expected truncation marker")
	}
	if len(out) > 4000 {
		t.Errorf("output not bounded: %d bytes", len(out))
	}
}

func TestExtractFieldLabels(t *testing.T) {
	fields, err := ExtractFieldLabels(loginHTML)
	if err != nil {
		t.Fatalf("ExtractFieldLabels failed: %v", err)
	}
	var labels []string
	for _, f := range fields {
		labels = append(labels, f.Label)
	}
	joined := strings.Join(labels, "|")
	for _, want := range []string{"Email address", "Password", "Country", "Promo code"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing field label %q in %v", want, labels)
		}
	}
	for _, f := range fields {
		if f.Label == "Country" && !f.IsPicker() {
			t.Error("Country must be classified as a picker")
		}
		if f.Label == "csrf" {
			t.Error("hidden input must be skipped")
		}
	}
}

func TestFieldLabelFallbackOrder(t *testing.T) {
	html := `<html><body>
	  <input type="text" aria-label="Aria wins" placeholder="placeholder loses">
	  <input type="text" placeholder="Placeholder next">
	  <input type="text" name="name_last">
	</body></html>`
	fields, err := ExtractFieldLabels(html)
	if err != nil {
		t.Fatalf("ExtractFieldLabels failed: %v", err)
	}
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	if fields[0].Label != "Aria wins" || fields[1].Label != "Placeholder next" || fields[2].Label != "name_last" {
		t.Errorf("wrong label resolution order: %+v", fields)
	}
}

func TestMockDriverScriptedFlow(t *testing.T) {
	drv := NewMockDriver(
		&MockPage{
			URL:    "https://example.com/login",
			HTML:   loginHTML,
			Fields: []string{"Email address", "Password"},
			Clicks: map[string]string{"Log in": "https://example.com/home"},
		},
		&MockPage{URL: "https://example.com/home", HTML: "<html><body><h1>Home</h1></body></html>"},
	)
	ctx := t.Context()

	if err := drv.Navigate(ctx, "https://example.com/login"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if err := drv.Type(ctx, "Email address", "a@b.com"); err != nil {
		t.Fatalf("type: %v", err)
	}
	if err := drv.Click(ctx, "Log in"); err != nil {
		t.Fatalf("click: %v", err)
	}
	url, _ := drv.CurrentURL(ctx)
	if url != "https://example.com/home" {
		t.Fatalf("expected navigation to home, got %s", url)
	}
	if drv.Typed("Email address") != "a@b.com" {
		t.Error("typed value not recorded")
	}
	if err := drv.Click(ctx, "Nope"); err == nil || Classify(err) != ErrNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
}
