package llm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"guideflow/internal/jsonx"
)

var (
	trailingCommaPattern  = regexp.MustCompile(`,\s*([}\]])`)
	duplicateCommaPattern = regexp.MustCompile(`,\s*,`)
)

// ExtractJSONObject recovers the first JSON object from raw model output. It
// scans for the first balanced {…} outside string literals (respecting
// escapes), trims trailing and duplicate commas, and revalidates. If the
// cleaned candidate still does not parse it is handed to the jsonrepair
// library as a last attempt.
func ExtractJSONObject(raw string) (string, error) {
	candidate, err := firstBalancedObject(raw)
	if err != nil {
		return "", err
	}

	cleaned := duplicateCommaPattern.ReplaceAllString(candidate, ",")
	cleaned = trailingCommaPattern.ReplaceAllString(cleaned, "$1")
	if jsonx.Valid([]byte(cleaned)) {
		return cleaned, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(cleaned)
	if repairErr == nil && jsonx.Valid([]byte(repaired)) {
		return repaired, nil
	}
	return "", fmt.Errorf("no valid JSON object in model output")
}

// firstBalancedObject returns the first {…} span with balanced braces,
// ignoring braces inside string literals.
func firstBalancedObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", fmt.Errorf("model output contains no JSON object")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in model output")
}
