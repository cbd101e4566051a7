package gitops

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Client is the version-control contract the pipeline consumes. The engine
// never shells out to git directly; everything goes through this interface
// so tests can substitute an in-memory fake.
type Client interface {
	// Commit stages everything and commits. Returns false when there was
	// nothing to commit.
	Commit(ctx context.Context, workspace, message string) (bool, error)
	HasUncommittedChanges(ctx context.Context, workspace string) (bool, error)
	HeadRevision(ctx context.Context, workspace string) (string, error)
	ResetHard(ctx context.Context, workspace, revision string) error
	DiffSummary(ctx context.Context, workspace string) (string, error)
}

// CLI implements Client by invoking the git binary with explicit argument
// vectors.
type CLI struct{}

// NewCLI returns a git CLI client
func NewCLI() *CLI {
	return &CLI{}
}

func (c *CLI) run(ctx context.Context, workspace string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workspace
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

// Commit stages all changes and commits them. A clean tree is not an error;
// it reports (false, nil) so callers can distinguish "nothing happened".
func (c *CLI) Commit(ctx context.Context, workspace, message string) (bool, error) {
	if _, err := c.run(ctx, workspace, "add", "-A"); err != nil {
		return false, err
	}
	dirty, err := c.HasUncommittedChanges(ctx, workspace)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}
	if _, err := c.run(ctx, workspace, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

func (c *CLI) HasUncommittedChanges(ctx context.Context, workspace string) (bool, error) {
	out, err := c.run(ctx, workspace, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (c *CLI) HeadRevision(ctx context.Context, workspace string) (string, error) {
	out, err := c.run(ctx, workspace, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *CLI) ResetHard(ctx context.Context, workspace, revision string) error {
	if _, err := c.run(ctx, workspace, "reset", "--hard", revision); err != nil {
		return err
	}
	// Remove untracked files too; a rollback must restore the exact tree
	_, err := c.run(ctx, workspace, "clean", "-fd")
	return err
}

func (c *CLI) DiffSummary(ctx context.Context, workspace string) (string, error) {
	out, err := c.run(ctx, workspace, "diff", "HEAD", "--stat")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
