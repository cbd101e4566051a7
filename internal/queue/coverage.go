package queue

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jamesjlundin/appforge/internal/domain"
)

// The coverage matrix is a markdown table under a "Coverage" heading in the
// planning artifact. The last column of each row lists the task ids that
// cover the requirement. This is a text contract over agent-authored prose:
// the accepted shape is exactly a pipe-delimited table, and anything that
// does not parse as one is treated as no matrix rather than guessed at.
var coverageHeadingRe = regexp.MustCompile(`(?im)^#{1,6}\s+.*coverage.*$`)

// CoverageRefs extracts every task id referenced by the coverage matrix.
// Returns nil when the artifact carries no matrix.
func CoverageRefs(text string) []string {
	loc := coverageHeadingRe.FindStringIndex(text)
	if loc == nil {
		return nil
	}

	seen := make(map[string]bool)
	var refs []string
	pastHeader := false
	for _, line := range strings.Split(text[loc[1]:], "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			break // next section
		}
		if !strings.HasPrefix(trimmed, "|") {
			continue
		}
		cells := strings.Split(strings.Trim(trimmed, "|"), "|")
		if len(cells) < 2 {
			continue
		}
		last := strings.TrimSpace(cells[len(cells)-1])
		if last == "" || strings.Trim(last, "- :") == "" {
			pastHeader = true // separator row ends the header
			continue
		}
		if !pastHeader {
			continue
		}
		for _, token := range strings.FieldsFunc(last, func(r rune) bool {
			return r == ',' || r == ' ' || r == '`'
		}) {
			token = strings.TrimSpace(token)
			if token == "" || seen[token] {
				continue
			}
			seen[token] = true
			refs = append(refs, token)
		}
	}
	return refs
}

// CheckCoverage verifies that every task id the coverage matrix references
// resolves to a queue entry or one of its decomposition slices. Unresolved
// references mean the plan and the queue disagree; that needs re-planning,
// not a guess.
func CheckCoverage(planText string, tasks []*domain.Task) error {
	refs := CoverageRefs(planText)
	if len(refs) == 0 {
		return nil
	}

	ids := make(map[string]bool, len(tasks))
	parents := make(map[string]bool)
	for _, t := range tasks {
		ids[t.ID] = true
		if t.Provenance == domain.ProvenanceDecomposed {
			if i := strings.LastIndex(t.ID, "-S"); i > 0 {
				parents[t.ID[:i]] = true
			}
		}
	}

	var missing []string
	for _, ref := range refs {
		if ids[ref] || parents[ref] {
			continue
		}
		missing = append(missing, ref)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &domain.ConsistencyError{
			Op:     "coverage check",
			Detail: "coverage matrix references unknown tasks: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
