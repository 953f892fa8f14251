// Package resolver maps natural-language field labels to keys of a secrets
// or variables set, and substitutes placeholder tokens at execute time.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"guideflow/internal/jsonx"
	"guideflow/internal/llm"
	"guideflow/internal/logging"
	"guideflow/internal/utils"
)

// Kind distinguishes the two placeholder namespaces.
type Kind string

const (
	KindSecret   Kind = "secret"
	KindVariable Kind = "var"
)

// Strategy selects how label→key mapping is produced.
type Strategy string

const (
	// StrategyHybrid asks the LLM and post-filters the reply.
	StrategyHybrid Strategy = "hybrid"
	// StrategyHeuristic maps by substring rules without an LLM call.
	StrategyHeuristic Strategy = "heuristic"
)

// Store holds the values one placeholder namespace can resolve to, plus
// optional per-key hints shown to the LLM.
type Store struct {
	values map[string]string
	hints  map[string]string
}

// NewStore merges workspace-level and override-level values. Overrides win
// on key collision.
func NewStore(workspace, overrides map[string]string) *Store {
	values := make(map[string]string, len(workspace)+len(overrides))
	for k, v := range workspace {
		values[k] = v
	}
	for k, v := range overrides {
		values[k] = v
	}
	return &Store{values: values, hints: map[string]string{}}
}

// SetHint attaches a description for key that is shown to the LLM.
func (s *Store) SetHint(key, hint string) {
	s.hints[key] = hint
}

// Value returns the stored value for key, matched case-insensitively.
func (s *Store) Value(key string) (string, bool) {
	if v, ok := s.values[key]; ok {
		return v, true
	}
	for k, v := range s.values {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Keys returns the key set in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Empty reports whether the store has no values.
func (s *Store) Empty() bool {
	return len(s.values) == 0
}

const cacheSize = 64

// Resolver produces label→key mappings, memoized per URL for the session
// lifetime.
type Resolver struct {
	client   llm.Client
	strategy Strategy
	cache    *lru.Cache[string, map[string]string]
	logger   logging.Logger
}

// New builds a resolver. client may be nil when strategy is heuristic.
func New(client llm.Client, strategy Strategy) *Resolver {
	if strategy == "" {
		strategy = StrategyHybrid
	}
	cache, _ := lru.New[string, map[string]string](cacheSize)
	return &Resolver{
		client:   client,
		strategy: strategy,
		cache:    cache,
		logger:   utils.NewComponentLogger("Resolver"),
	}
}

// MapLabels returns a label→key mapping for the visible field labels on url,
// drawn from store's key set. Labels the mapping cannot place are omitted.
func (r *Resolver) MapLabels(ctx context.Context, url string, kind Kind, labels []string, store *Store) (map[string]string, error) {
	if store == nil || store.Empty() || len(labels) == 0 {
		return map[string]string{}, nil
	}
	cacheKey := string(kind) + "|" + url
	if cached, ok := r.cache.Get(cacheKey); ok {
		return cached, nil
	}

	var mapping map[string]string
	var err error
	if r.strategy == StrategyHeuristic || r.client == nil {
		mapping = heuristicMapping(labels, store.Keys())
	} else {
		mapping, err = r.llmMapping(ctx, kind, url, labels, store)
		if err != nil {
			return nil, err
		}
	}
	mapping = r.postFilter(mapping, store)
	r.cache.Add(cacheKey, mapping)
	return mapping, nil
}

func (r *Resolver) llmMapping(ctx context.Context, kind Kind, url string, labels []string, store *Store) (map[string]string, error) {
	task := llm.TaskResolveSecrets
	if kind == KindVariable {
		task = llm.TaskResolveVariables
	}

	var keys strings.Builder
	for _, k := range store.Keys() {
		keys.WriteString("- " + k)
		if hint := store.hints[k]; hint != "" {
			keys.WriteString(": " + hint)
		}
		keys.WriteString("\n")
	}

	prompt := fmt.Sprintf(`Page URL: %s

Visible form field labels:
%s
Available keys:
%s
Map each label to the single best-fitting key. Only use keys from the list.
If no key fits a label, leave that label out entirely. Never guess.

Reply with exactly one JSON object: {"mapping": {"<label>": "<KEY>", ...}}`,
		url, "- "+strings.Join(labels, "\n- ")+"\n", keys.String())

	resp, err := r.client.Execute(ctx, task, llm.Request{
		System:      "You map web form field labels to configuration keys. You reply with a single JSON object and nothing else.",
		Prompt:      prompt,
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s mapping: %w", kind, err)
	}

	raw, err := llm.ExtractJSONObject(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse %s mapping reply: %w", kind, err)
	}
	var parsed struct {
		Mapping map[string]string `json:"mapping"`
	}
	if err := jsonx.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decode %s mapping reply: %w", kind, err)
	}
	if parsed.Mapping == nil {
		return map[string]string{}, nil
	}
	return parsed.Mapping, nil
}

var (
	usernameLabelRe = regexp.MustCompile(`(?i)email|username|login|user|mail|benutzername`)
	passwordKeyRe   = regexp.MustCompile(`(?i)password|pwd|pw$|passwort`)
)

// postFilter drops entries whose key is outside the store and entries that
// cross the username/password type boundary.
func (r *Resolver) postFilter(mapping map[string]string, store *Store) map[string]string {
	out := make(map[string]string, len(mapping))
	for label, key := range mapping {
		canonical, ok := canonicalKey(key, store)
		if !ok {
			r.logger.Warn("dropping mapping %q -> %q: key not in set", label, key)
			continue
		}
		if usernameLabelRe.MatchString(label) && passwordKeyRe.MatchString(canonical) {
			r.logger.Warn("dropping mapping %q -> %q: username label bound to password key", label, canonical)
			continue
		}
		if passwordKeyRe.MatchString(label) && usernameLabelRe.MatchString(canonical) && !passwordKeyRe.MatchString(canonical) {
			r.logger.Warn("dropping mapping %q -> %q: password label bound to username key", label, canonical)
			continue
		}
		out[label] = canonical
	}
	return out
}

// canonicalKey matches key against the store case-insensitively and returns
// the store's spelling.
func canonicalKey(key string, store *Store) (string, bool) {
	for _, k := range store.Keys() {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return "", false
}

// heuristicMapping binds labels to keys by shared substrings, used when the
// LLM is disabled.
func heuristicMapping(labels, keys []string) map[string]string {
	out := map[string]string{}
	for _, label := range labels {
		ll := strings.ToLower(label)
		var best string
		for _, key := range keys {
			kl := strings.ToLower(key)
			switch {
			case passwordKeyRe.MatchString(ll) && passwordKeyRe.MatchString(kl):
				best = key
			case usernameLabelRe.MatchString(ll) && usernameLabelRe.MatchString(kl) && !passwordKeyRe.MatchString(kl):
				best = key
			case strings.Contains(kl, normalizeLabel(ll)) && best == "":
				best = key
			}
			if best != "" && (passwordKeyRe.MatchString(ll) == passwordKeyRe.MatchString(strings.ToLower(best))) {
				break
			}
		}
		if best != "" {
			out[label] = best
		}
	}
	return out
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.NewReplacer(" ", "_", "-", "_").Replace(label)
	return label
}
