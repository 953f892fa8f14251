package executor

import (
	"net/url"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"guideflow/internal/script"
)

const maxChangedElements = 20

// detectChange builds the UI change record for one executed step.
//
// Navigation is true when the URL changed or the step was a Goto; as a
// heuristic fallback, a click on a submit-shaped label counts when the
// landing URL carries a query or fragment.
func detectChange(step script.Step, preURL, postURL, preDOM, postDOM string) UIChange {
	change := UIChange{}

	switch {
	case step.Kind == script.StepGoto:
		change.NavigationOccurred = true
		change.NewURL = postURL
	case preURL != postURL:
		change.NavigationOccurred = true
		change.NewURL = postURL
	case step.Kind == script.StepClick && isSubmitLabel(step.Label) && hasQueryOrFragment(postURL):
		change.NavigationOccurred = true
		change.NewURL = postURL
	}

	change.ElementsAppeared, change.ElementsDisappeared = diffElements(preDOM, postDOM)
	return change
}

func isSubmitLabel(label string) bool {
	l := strings.ToLower(label)
	for _, word := range []string{"login", "log in", "sign in", "submit", "continue", "next", "save", "create"} {
		if strings.Contains(l, word) {
			return true
		}
	}
	return false
}

func hasQueryOrFragment(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.RawQuery != "" || u.Fragment != ""
}

// diffElements line-diffs the two documents and reports inserted and deleted
// lines, trimmed and capped.
func diffElements(before, after string) (appeared, disappeared []string) {
	if before == after {
		return nil, nil
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	for _, d := range diffs {
		for _, line := range strings.Split(d.Text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				if len(appeared) < maxChangedElements {
					appeared = append(appeared, line)
				}
			case diffmatchpatch.DiffDelete:
				if len(disappeared) < maxChangedElements {
					disappeared = append(disappeared, line)
				}
			}
		}
	}
	return appeared, disappeared
}
