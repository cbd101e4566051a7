package verify

import (
	"regexp"
	"strings"

	"github.com/jamesjlundin/appforge/internal/domain"
)

// Failure parsing is a text contract over tool output. The accepted shapes,
// and nothing else, are:
//
//	src/app.ts(12,5): error TS2322: message     (tsc)
//	FAIL src/app.test.ts > suite > test name    (vitest)
//	✕ test name  /  × test name                 (vitest/jest list items)
//	● suite › test name                         (jest summary bullets)
//
// Output that matches none of these still yields one synthetic signature per
// failed check, so a failing run never parses to an empty failure set.
var (
	tscErrorRe   = regexp.MustCompile(`(?m)^(.+?)\(\d+,\d+\): error (TS\d+): (.*)$`)
	vitestFailRe = regexp.MustCompile(`(?m)^\s*FAIL\s+(\S+)\s*>\s*(.+)$`)
	listItemRe   = regexp.MustCompile(`(?m)^\s*[✕×]\s+(.+)$`)
	jestBulletRe = regexp.MustCompile(`(?m)^\s*●\s+(.+)$`)
	plainFailRe  = regexp.MustCompile(`(?m)^\s*FAIL\s+(\S+)\s*$`)
)

// ParseFailures extracts a deduplicated set of failure signatures from every
// failed check in a verification result.
func ParseFailures(result *domain.WorkspaceTestResult) []domain.FailureSignature {
	seen := make(map[string]bool)
	var sigs []domain.FailureSignature
	add := func(file, title string) {
		sig := domain.FailureSignature{File: file, Title: strings.TrimSpace(title)}
		if sig.Title == "" || seen[sig.Key()] {
			return
		}
		seen[sig.Key()] = true
		sigs = append(sigs, sig)
	}

	for _, check := range result.FailedChecks() {
		before := len(sigs)

		for _, m := range tscErrorRe.FindAllStringSubmatch(check.Output, -1) {
			add(m[1], m[2]+" "+m[3])
		}
		for _, m := range vitestFailRe.FindAllStringSubmatch(check.Output, -1) {
			add(m[1], m[2])
		}

		// list items and bullets carry no file; attribute them to the most
		// recent FAIL path, or the check itself
		file := lastFailPath(check.Output)
		if file == "" {
			file = check.Name
		}
		for _, m := range listItemRe.FindAllStringSubmatch(check.Output, -1) {
			add(file, m[1])
		}
		for _, m := range jestBulletRe.FindAllStringSubmatch(check.Output, -1) {
			add(file, m[1])
		}

		if len(sigs) == before {
			add(check.Name, "check failed")
		}
	}
	return sigs
}

func lastFailPath(output string) string {
	matches := plainFailRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// Delta compares two failure sets and returns the signatures resolved since
// before and the signatures newly introduced.
func Delta(before, after []domain.FailureSignature) (resolved, introduced []domain.FailureSignature) {
	beforeKeys := keySet(before)
	afterKeys := keySet(after)
	for _, sig := range before {
		if !afterKeys[sig.Key()] {
			resolved = append(resolved, sig)
		}
	}
	for _, sig := range after {
		if !beforeKeys[sig.Key()] {
			introduced = append(introduced, sig)
		}
	}
	return resolved, introduced
}

// ContainsNew reports whether after holds any signature absent from baseline
func ContainsNew(baseline, after []domain.FailureSignature) bool {
	base := keySet(baseline)
	for _, sig := range after {
		if !base[sig.Key()] {
			return true
		}
	}
	return false
}

func keySet(sigs []domain.FailureSignature) map[string]bool {
	set := make(map[string]bool, len(sigs))
	for _, sig := range sigs {
		set[sig.Key()] = true
	}
	return set
}
