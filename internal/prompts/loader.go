package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"text/template"
)

// Loader resolves prompt templates. Override directories are checked in
// order before the embedded defaults, so a user can adjust a phase prompt
// without rebuilding.
type Loader struct {
	overrideDirs []string
	mu           sync.RWMutex
	cache        map[string]*template.Template
}

func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
	}
}

// DefaultLoader checks the workspace-local .appforge/prompts/ directory,
// then ~/.config/appforge/prompts/, then the embedded templates.
func DefaultLoader(workspaceRoot string) *Loader {
	var dirs []string
	if workspaceRoot != "" {
		dirs = append(dirs, filepath.Join(workspaceRoot, ".appforge", "prompts"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "appforge", "prompts"))
	}
	return NewLoader(dirs...)
}

func (l *Loader) loadContent(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, path)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path)
}

func (l *Loader) loadTemplate(path string) (*template.Template, error) {
	l.mu.RLock()
	tmpl, ok := l.cache[path]
	l.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	content, err := l.loadContent(path)
	if err != nil {
		return nil, fmt.Errorf("loading prompt %s: %w", path, err)
	}
	tmpl, err = template.New(path).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("compiling prompt %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = tmpl
	l.mu.Unlock()
	return tmpl, nil
}

// Phase renders the prompt template for a phase (e.g. "spec") with data
func (l *Loader) Phase(phaseID string, data any) (string, error) {
	tmpl, err := l.loadTemplate(filepath.Join("phases", phaseID+".md"))
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt for phase %s: %w", phaseID, err)
	}
	return buf.String(), nil
}
