package queue

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jamesjlundin/appforge/internal/domain"
)

// ManifestMissingError means the planning artifact contains no machine
// readable manifest block at all. The planning phase must be re-run.
type ManifestMissingError struct{}

func (e *ManifestMissingError) Error() string {
	return "planning artifact contains no task manifest block"
}

// ManifestParseError means a manifest block was found but could not be
// decoded or failed structural validation. The planning phase must be re-run.
type ManifestParseError struct {
	Detail string
	Err    error
}

func (e *ManifestParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task manifest invalid: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("task manifest invalid: %s", e.Detail)
}

func (e *ManifestParseError) Unwrap() error { return e.Err }

// manifestBlockRe matches a fenced yaml code block. The first block whose
// body decodes to a tasks document is the manifest.
var manifestBlockRe = regexp.MustCompile("(?s)```(?:yaml|yml)\\s*\n(.*?)\n```")

type manifestDoc struct {
	Tasks []*domain.Task `yaml:"tasks"`
}

// ParseManifest extracts the task manifest from a planning artifact. Tasks
// come back in document order with provenance set to manifest.
func ParseManifest(text string) ([]*domain.Task, error) {
	blocks := manifestBlockRe.FindAllStringSubmatch(text, -1)
	if len(blocks) == 0 {
		return nil, &ManifestMissingError{}
	}

	var lastErr error
	for _, block := range blocks {
		var doc manifestDoc
		if err := yaml.Unmarshal([]byte(block[1]), &doc); err != nil {
			lastErr = err
			continue
		}
		if len(doc.Tasks) == 0 {
			continue
		}
		if err := validateManifest(doc.Tasks); err != nil {
			return nil, err
		}
		for _, t := range doc.Tasks {
			t.Provenance = domain.ProvenanceManifest
		}
		return doc.Tasks, nil
	}

	if lastErr != nil {
		return nil, &ManifestParseError{Detail: "yaml decode failed", Err: lastErr}
	}
	return nil, &ManifestMissingError{}
}

type followUpDoc struct {
	FollowUpTasks []*domain.Task `yaml:"follow_up_tasks"`
}

// ParseFollowUps scans a task invocation's output for a follow-up block. A
// missing or malformed block is not an error here: follow-ups are an offer
// from the agent, not a required artifact.
func ParseFollowUps(output string) []*domain.Task {
	for _, block := range manifestBlockRe.FindAllStringSubmatch(output, -1) {
		var doc followUpDoc
		if err := yaml.Unmarshal([]byte(block[1]), &doc); err != nil {
			continue
		}
		if len(doc.FollowUpTasks) > 0 {
			return doc.FollowUpTasks
		}
	}
	return nil
}

func validateManifest(tasks []*domain.Task) error {
	seen := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if strings.TrimSpace(t.ID) == "" {
			return &ManifestParseError{Detail: fmt.Sprintf("task at position %d has no id", i)}
		}
		if seen[t.ID] {
			return &ManifestParseError{Detail: fmt.Sprintf("duplicate task id %q", t.ID)}
		}
		seen[t.ID] = true
		if strings.TrimSpace(t.Title) == "" && strings.TrimSpace(t.Body) == "" {
			return &ManifestParseError{Detail: fmt.Sprintf("task %s has neither title nor body", t.ID)}
		}
	}
	return nil
}
