package resolver

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(secret|var)\.([A-Za-z0-9_.-]+)\s*\}\}`)

// PlaceholderError marks a reference to a key neither store can resolve. It
// is fatal for the step that carries it.
type PlaceholderError struct {
	Kind Kind
	Key  string
}

func (e *PlaceholderError) Error() string {
	return fmt.Sprintf("unknown %s key %q", e.Kind, e.Key)
}

// Substitute replaces every {{secret.KEY}} and {{var.KEY}} token in value
// with the stored value. The first unknown key aborts with a
// PlaceholderError.
func Substitute(value string, secrets, vars *Store) (string, error) {
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(value, func(match string) string {
		if firstErr != nil {
			return match
		}
		parts := placeholderRe.FindStringSubmatch(match)
		kind, key := Kind(parts[1]), parts[2]
		store := secrets
		if kind == KindVariable {
			store = vars
		}
		if store != nil {
			if v, ok := store.Value(key); ok {
				return v
			}
		}
		firstErr = &PlaceholderError{Kind: kind, Key: key}
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ContainsPlaceholder reports whether value references any placeholder token.
func ContainsPlaceholder(value string) bool {
	return placeholderRe.MatchString(value)
}

// Placeholder renders a token for kind and key, e.g. "{{secret.ADMIN_PASSWORD}}".
func Placeholder(kind Kind, key string) string {
	return "{{" + string(kind) + "." + key + "}}"
}

// IsSensitiveValue reports whether value references a secret placeholder.
// Steps carrying one are marked sensitive so their value never reaches logs
// or the emitted guide.
func IsSensitiveValue(value string) bool {
	for _, m := range placeholderRe.FindAllStringSubmatch(value, -1) {
		if Kind(m[1]) == KindSecret {
			return true
		}
	}
	return false
}

// RedactPlaceholders masks resolved secret values in msg. It is a best-effort
// guard for log lines built from substituted step values.
func RedactPlaceholders(msg string, secrets *Store) string {
	if secrets == nil {
		return msg
	}
	for _, key := range secrets.Keys() {
		if v, ok := secrets.Value(key); ok && v != "" {
			msg = strings.ReplaceAll(msg, v, "[HIDDEN]")
		}
	}
	return msg
}
