package artifact

import (
	"fmt"
	"regexp"
	"strings"
)

// Verdict parsing is a text contract over agent-authored prose. The accepted
// shape is a single line beginning with the verdict label, a colon, and a
// value; markdown emphasis around the label is tolerated. Anything else,
// including a recognizable label with an unrecognizable value, fails the
// gate rather than being guessed at.

// Verdict labels for the two quality-gated phases
const (
	ReviewVerdictLabel = "Overall verdict"
	ShipVerdictLabel   = "Ship readiness"
)

// VerdictError means the artifact carries no parseable verdict line
type VerdictError struct {
	Label  string
	Detail string
}

func (e *VerdictError) Error() string {
	return fmt.Sprintf("no usable %q line: %s", e.Label, e.Detail)
}

var passValues = map[string]bool{
	"pass": true, "passed": true, "ship": true, "ready": true,
	"yes": true, "approved": true, "go": true,
}

var failValues = map[string]bool{
	"fail": true, "failed": true, "no": true, "not ready": true,
	"no-go": true, "blocked": true, "rejected": true, "hold": true,
}

// ParseVerdict finds the labeled verdict line and returns whether it passes.
// A missing line or an ambiguous value is an error; callers treat both as a
// failing gate.
func ParseVerdict(content, label string) (bool, error) {
	lineRe := regexp.MustCompile(`(?im)^[#*\s]*` + regexp.QuoteMeta(label) + `\s*[:*]+\s*(.+)$`)
	matches := lineRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return false, &VerdictError{Label: label, Detail: "line not found"}
	}
	// the last occurrence wins: an agent restating the label in prose
	// earlier in the document must not shadow the actual verdict
	raw := matches[len(matches)-1][1]
	value := strings.ToLower(strings.TrimSpace(strings.Trim(raw, "*_` .!")))

	if passValues[value] {
		return true, nil
	}
	if failValues[value] {
		return false, nil
	}
	// prefix forms like "PASS - minor nits remain"
	for _, sep := range []string{" - ", " — ", ": ", ", ", " ("} {
		if head, _, ok := strings.Cut(value, sep); ok {
			head = strings.TrimSpace(head)
			if passValues[head] {
				return true, nil
			}
			if failValues[head] {
				return false, nil
			}
		}
	}
	return false, &VerdictError{Label: label, Detail: fmt.Sprintf("ambiguous value %q", raw)}
}
