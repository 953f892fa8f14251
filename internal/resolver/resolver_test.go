package resolver

import (
	"errors"
	"testing"

	"guideflow/internal/llm"
)

func secretStore() *Store {
	return NewStore(map[string]string{
		"ADMIN_USERNAME": "admin@example.com",
		"ADMIN_PASSWORD": "s3cret!",
	}, nil)
}

func TestMapLabelsLLMHappyPath(t *testing.T) {
	client := &llm.MockClient{}
	client.Enqueue(`{"mapping": {"Email": "ADMIN_USERNAME", "Password": "ADMIN_PASSWORD"}}`)

	r := New(client, StrategyHybrid)
	mapping, err := r.MapLabels(t.Context(), "https://example.com/login", KindSecret,
		[]string{"Email", "Password"}, secretStore())
	if err != nil {
		t.Fatalf("MapLabels failed: %v", err)
	}
	if mapping["Email"] != "ADMIN_USERNAME" || mapping["Password"] != "ADMIN_PASSWORD" {
		t.Fatalf("unexpected mapping: %v", mapping)
	}
}

func TestMapLabelsDropsCrossTypeBindings(t *testing.T) {
	client := &llm.MockClient{}
	client.Enqueue(`{"mapping": {"Email": "ADMIN_PASSWORD", "Password": "ADMIN_PASSWORD"}}`)

	r := New(client, StrategyHybrid)
	mapping, err := r.MapLabels(t.Context(), "https://example.com/login", KindSecret,
		[]string{"Email", "Password"}, secretStore())
	if err != nil {
		t.Fatalf("MapLabels failed: %v", err)
	}
	if _, ok := mapping["Email"]; ok {
		t.Error("username-shaped label must never bind a password-shaped key")
	}
	if mapping["Password"] != "ADMIN_PASSWORD" {
		t.Errorf("legitimate binding dropped: %v", mapping)
	}
}

func TestMapLabelsDropsUnknownKeysAndCanonicalizes(t *testing.T) {
	client := &llm.MockClient{}
	client.Enqueue(`{"mapping": {"Email": "admin_username", "Company": "NOT_A_KEY"}}`)

	r := New(client, StrategyHybrid)
	mapping, err := r.MapLabels(t.Context(), "https://example.com/login", KindSecret,
		[]string{"Email", "Company"}, secretStore())
	if err != nil {
		t.Fatalf("MapLabels failed: %v", err)
	}
	if mapping["Email"] != "ADMIN_USERNAME" {
		t.Errorf("expected case-insensitive canonical key, got %v", mapping)
	}
	if _, ok := mapping["Company"]; ok {
		t.Error("unknown key must be dropped, never guessed")
	}
}

func TestMapLabelsCachesPerURL(t *testing.T) {
	client := &llm.MockClient{}
	client.Enqueue(`{"mapping": {"Email": "ADMIN_USERNAME"}}`)
	client.Enqueue(`{"mapping": {"Email": "ADMIN_USERNAME"}}`)

	r := New(client, StrategyHybrid)
	store := secretStore()
	for i := 0; i < 3; i++ {
		if _, err := r.MapLabels(t.Context(), "https://example.com/login", KindSecret, []string{"Email"}, store); err != nil {
			t.Fatalf("MapLabels failed: %v", err)
		}
	}
	if got := len(client.Calls()); got != 1 {
		t.Fatalf("expected a single LLM call for a cached URL, got %d", got)
	}
	// A different URL misses the cache.
	if _, err := r.MapLabels(t.Context(), "https://example.com/settings", KindSecret, []string{"Email"}, store); err != nil {
		t.Fatalf("MapLabels failed: %v", err)
	}
	if got := len(client.Calls()); got != 2 {
		t.Fatalf("expected second LLM call for new URL, got %d", got)
	}
}

func TestMapLabelsEmptyInputsShortCircuit(t *testing.T) {
	client := &llm.MockClient{}
	r := New(client, StrategyHybrid)

	mapping, err := r.MapLabels(t.Context(), "https://example.com", KindSecret, nil, secretStore())
	if err != nil || len(mapping) != 0 {
		t.Fatalf("expected empty mapping without labels, got %v %v", mapping, err)
	}
	mapping, err = r.MapLabels(t.Context(), "https://example.com", KindSecret, []string{"Email"}, NewStore(nil, nil))
	if err != nil || len(mapping) != 0 {
		t.Fatalf("expected empty mapping without keys, got %v %v", mapping, err)
	}
	if len(client.Calls()) != 0 {
		t.Error("empty inputs must not reach the LLM")
	}
}

func TestMapLabelsPropagatesLLMError(t *testing.T) {
	client := &llm.MockClient{}
	client.EnqueueError(errors.New("model unavailable"))

	r := New(client, StrategyHybrid)
	if _, err := r.MapLabels(t.Context(), "https://example.com", KindSecret, []string{"Email"}, secretStore()); err == nil {
		t.Fatal("expected error from failing LLM")
	}
}

func TestHeuristicStrategyNeedsNoClient(t *testing.T) {
	r := New(nil, StrategyHeuristic)
	mapping, err := r.MapLabels(t.Context(), "https://example.com/login", KindSecret,
		[]string{"Email address", "Password"}, secretStore())
	if err != nil {
		t.Fatalf("MapLabels failed: %v", err)
	}
	if mapping["Email address"] != "ADMIN_USERNAME" {
		t.Errorf("heuristic missed username binding: %v", mapping)
	}
	if mapping["Password"] != "ADMIN_PASSWORD" {
		t.Errorf("heuristic missed password binding: %v", mapping)
	}
}

func TestStoreOverridesDominate(t *testing.T) {
	s := NewStore(
		map[string]string{"API_KEY": "workspace-level"},
		map[string]string{"API_KEY": "secret-level"},
	)
	if v, _ := s.Value("API_KEY"); v != "secret-level" {
		t.Fatalf("override must win on key collision, got %q", v)
	}
}

func TestSubstitute(t *testing.T) {
	secrets := secretStore()
	vars := NewStore(map[string]string{"PROJECT": "demo"}, nil)

	out, err := Substitute("user={{secret.ADMIN_USERNAME}} proj={{var.PROJECT}}", secrets, vars)
	if err != nil {
		t.Fatalf("Substitute failed: %v", err)
	}
	if out != "user=admin@example.com proj=demo" {
		t.Fatalf("unexpected substitution: %q", out)
	}

	if out, err := Substitute("plain text", secrets, vars); err != nil || out != "plain text" {
		t.Fatalf("placeholder-free value must pass through, got %q %v", out, err)
	}
}

func TestSubstituteUnknownKeyIsFatal(t *testing.T) {
	_, err := Substitute("{{secret.MISSING}}", secretStore(), nil)
	var pe *PlaceholderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PlaceholderError, got %v", err)
	}
	if pe.Key != "MISSING" || pe.Kind != KindSecret {
		t.Fatalf("wrong error detail: %+v", pe)
	}
}

func TestSensitivityHelpers(t *testing.T) {
	if !IsSensitiveValue("{{secret.ADMIN_PASSWORD}}") {
		t.Error("secret token must be sensitive")
	}
	if IsSensitiveValue("{{var.PROJECT}}") {
		t.Error("var token must not be sensitive")
	}
	if Placeholder(KindSecret, "ADMIN_PASSWORD") != "{{secret.ADMIN_PASSWORD}}" {
		t.Error("wrong placeholder rendering")
	}
	if !ContainsPlaceholder("x {{ var.A }} y") {
		t.Error("whitespace-padded token must be detected")
	}
	masked := RedactPlaceholders("typing s3cret! into field", secretStore())
	if masked != "typing [HIDDEN] into field" {
		t.Errorf("secret value leaked: %q", masked)
	}
}
