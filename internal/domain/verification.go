package domain

import (
	"strings"
	"time"
)

// VerificationStage names one set of checks run against the generated
// workspace. Stages run in a fixed order and are independently checkpointed.
type VerificationStage struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Suite   string        `json:"suite"` // test-suite selector passed to the verification runner
	Timeout time.Duration `json:"timeout"`
}

// TestCheckResult is one named check (typecheck, lint, a test suite) within
// a verification run.
type TestCheckResult struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Passed  bool   `json:"passed"`
	Output  string `json:"output"`
}

// WorkspaceTestResult aggregates the checks of one verification run
type WorkspaceTestResult struct {
	Checks []TestCheckResult `json:"checks"`
	Passed bool              `json:"passed"`
}

// FailedChecks returns the checks that did not pass
func (r *WorkspaceTestResult) FailedChecks() []TestCheckResult {
	var failed []TestCheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// FailureSignature is a normalized (file, title) pair used to deduplicate
// and diff failing checks across repair attempts.
type FailureSignature struct {
	File  string `json:"file"`
	Title string `json:"title"`
}

// Key returns a stable map key for the signature
func (s FailureSignature) Key() string {
	return s.File + "::" + strings.ToLower(strings.TrimSpace(s.Title))
}
