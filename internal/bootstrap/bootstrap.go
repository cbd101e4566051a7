// Package bootstrap creates the remote repository for a run from a template
// and clones it into the workspace directory. One opaque external call from
// the pipeline's point of view.
package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Result is the outcome of a successful bootstrap
type Result struct {
	WorkspacePath string
	RepositoryURL string
}

// Bootstrapper provisions the workspace repository for a run
type Bootstrapper interface {
	Bootstrap(ctx context.Context, runID, repoName string) (*Result, error)
}

// GH provisions repositories through the gh CLI
type GH struct {
	templateRepo string // owner/name of the template repository
	workspaceDir string // parent directory for cloned workspaces
	logger       *slog.Logger

	// runCommand executes one gh/git step; overridable in tests
	runCommand func(ctx context.Context, dir string, argv []string) (string, error)
}

func NewGH(templateRepo, workspaceDir string, logger *slog.Logger) *GH {
	if logger == nil {
		logger = slog.Default()
	}
	g := &GH{templateRepo: templateRepo, workspaceDir: workspaceDir, logger: logger}
	g.runCommand = runLocal
	return g
}

func runLocal(ctx context.Context, dir string, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

var repoURLRe = regexp.MustCompile(`https://github\.com/\S+`)

// Bootstrap creates repoName from the template and clones it under the
// workspace directory. Fails if the target workspace path already exists.
func (g *GH) Bootstrap(ctx context.Context, runID, repoName string) (*Result, error) {
	workspace := filepath.Join(g.workspaceDir, repoName)
	if _, err := os.Stat(workspace); err == nil {
		return nil, fmt.Errorf("workspace %s already exists", workspace)
	}
	if err := os.MkdirAll(g.workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace dir: %w", err)
	}

	args := []string{"gh", "repo", "create", repoName, "--private"}
	if g.templateRepo != "" {
		args = append(args, "--template", g.templateRepo)
	}
	out, err := g.runCommand(ctx, g.workspaceDir, args)
	if err != nil {
		return nil, fmt.Errorf("creating repository %s: %w", repoName, err)
	}

	url := repoURLRe.FindString(out)
	if url == "" {
		// gh prints the URL on success; fall back to resolving it
		out, err = g.runCommand(ctx, g.workspaceDir,
			[]string{"gh", "repo", "view", repoName, "--json", "url", "--jq", ".url"})
		if err != nil {
			return nil, fmt.Errorf("resolving repository url: %w", err)
		}
		url = strings.TrimSpace(out)
	}

	if _, err := g.runCommand(ctx, g.workspaceDir,
		[]string{"gh", "repo", "clone", repoName, workspace}); err != nil {
		return nil, fmt.Errorf("cloning %s: %w", repoName, err)
	}

	g.logger.Info("workspace bootstrapped",
		"run", runID, "repo", url, "workspace", workspace)
	return &Result{WorkspacePath: workspace, RepositoryURL: url}, nil
}

// RepoName derives a repository name from the run's idea text
func RepoName(idea, runID string) string {
	slug := strings.ToLower(strings.TrimSpace(idea))
	slug = regexp.MustCompile(`[^a-z0-9]+`).ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		slug = "app"
	}
	suffix := runID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return slug + "-" + suffix
}
