package agent

import (
	"fmt"
	"os"
	"path/filepath"
)

// promptFile is a scoped resource holding the prompt in a private temp
// location. Prompts can contain repository content and must never pass
// through a shell or be world-readable; the file is 0600 inside a 0700
// directory and removed on every exit path.
type promptFile struct {
	dir  string
	path string
}

// writePromptFile creates the restricted temp file holding the prompt
func writePromptFile(prompt string) (*promptFile, error) {
	dir, err := os.MkdirTemp("", "appforge-prompt-*")
	if err != nil {
		return nil, fmt.Errorf("creating prompt dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	path := filepath.Join(dir, "prompt.md")
	if err := os.WriteFile(path, []byte(prompt), 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("writing prompt file: %w", err)
	}

	return &promptFile{dir: dir, path: path}, nil
}

// Path returns the prompt file location
func (p *promptFile) Path() string {
	return p.path
}

// Close removes the prompt file and its directory
func (p *promptFile) Close() error {
	return os.RemoveAll(p.dir)
}
