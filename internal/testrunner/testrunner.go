// Package testrunner runs the generated workspace's quality checks and test
// suites and folds them into a WorkspaceTestResult the verification engine
// consumes.
package testrunner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/jamesjlundin/appforge/internal/domain"
)

// Runner executes the checks for one verification suite against a workspace
type Runner interface {
	Run(ctx context.Context, workspace, suite string) (*domain.WorkspaceTestResult, error)
}

// check is one named step in a verification run
type check struct {
	name    string
	command []string
}

// suiteChecks builds the ordered check list for a suite selector. Every
// suite shares the install/typecheck/lint/build preamble; the selector picks
// which test script runs last.
func suiteChecks(suite string) []check {
	return []check{
		{"install", []string{"npm", "install", "--no-audit", "--no-fund"}},
		{"typecheck", []string{"npx", "tsc", "--noEmit"}},
		{"lint", []string{"npm", "run", "lint", "--if-present"}},
		{"build", []string{"npm", "run", "build"}},
		{suite + " tests", []string{"npm", "run", "test:" + suite}},
	}
}

// CommandRunner runs checks as subprocesses in the workspace directory
type CommandRunner struct {
	logger *slog.Logger

	// runCommand executes one check; overridable in tests
	runCommand func(ctx context.Context, workspace string, argv []string) (string, error)
}

func NewCommandRunner(logger *slog.Logger) *CommandRunner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &CommandRunner{logger: logger}
	r.runCommand = runLocal
	return r
}

func runLocal(ctx context.Context, workspace string, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workspace
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// Run executes the suite's checks in order. A failing check ends the run;
// the checks after it never execute and the aggregate is marked failed.
func (r *CommandRunner) Run(ctx context.Context, workspace, suite string) (*domain.WorkspaceTestResult, error) {
	result := &domain.WorkspaceTestResult{Passed: true}

	for _, c := range suiteChecks(suite) {
		started := time.Now()
		output, err := r.runCommand(ctx, workspace, c.command)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("verification %s check interrupted: %w", c.name, ctx.Err())
		}

		passed := err == nil
		result.Checks = append(result.Checks, domain.TestCheckResult{
			Name:    c.name,
			Command: commandLine(c.command),
			Passed:  passed,
			Output:  output,
		})
		r.logger.Info("verification check finished",
			"check", c.name, "suite", suite,
			"passed", passed, "elapsed", time.Since(started).Round(time.Second))

		if !passed {
			result.Passed = false
			break
		}
	}
	return result, nil
}

func commandLine(argv []string) string {
	line := argv[0]
	for _, a := range argv[1:] {
		line += " " + a
	}
	return line
}
