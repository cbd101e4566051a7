package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/jamesjlundin/appforge/internal/domain"
)

// memStore is an in-memory Store for queue tests
type memStore struct {
	queues   map[string][]*domain.Task
	replaces int
}

func newMemStore() *memStore {
	return &memStore{queues: make(map[string][]*domain.Task)}
}

func (s *memStore) ReplaceQueue(runID string, tasks []*domain.Task) error {
	copied := make([]*domain.Task, len(tasks))
	for i, t := range tasks {
		copied[i] = t.Clone()
	}
	s.queues[runID] = copied
	s.replaces++
	return nil
}

func (s *memStore) LoadQueue(runID string) ([]*domain.Task, error) {
	return s.queues[runID], nil
}

const planWithManifest = `# Implementation Plan

Some prose about the approach.

` + "```yaml" + `
tasks:
  - id: T1
    title: Set up data layer
    body: Create the database schema and access layer.
    files: [db/schema.sql, db/store.go]
  - id: T2
    title: Build API handlers
    body: Implement the HTTP handlers.
    depends_on: T1
    files: [api/handlers.go]
` + "```" + `

## Coverage Matrix

| Requirement | Tasks |
|---|---|
| Data persistence | T1 |
| API surface | T2 |
`

func TestParseManifest(t *testing.T) {
	tasks, err := ParseManifest(planWithManifest)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].ID != "T1" || tasks[1].ID != "T2" {
		t.Errorf("ids = %s, %s", tasks[0].ID, tasks[1].ID)
	}
	if tasks[1].DependsOn != "T1" {
		t.Errorf("T2 depends_on = %q, want T1", tasks[1].DependsOn)
	}
	for _, task := range tasks {
		if task.Provenance != domain.ProvenanceManifest {
			t.Errorf("task %s provenance = %s, want manifest", task.ID, task.Provenance)
		}
	}
}

func TestParseManifest_NoBlockIsMissing(t *testing.T) {
	_, err := ParseManifest("# Plan\n\nJust prose, no manifest.")
	var missing *ManifestMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want ManifestMissingError", err)
	}
}

func TestParseManifest_InvalidYAMLIsParseError(t *testing.T) {
	text := "# Plan\n```yaml\ntasks:\n  - id: [unclosed\n```\n"
	_, err := ParseManifest(text)
	var parseErr *ManifestParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want ManifestParseError", err)
	}
}

func TestParseManifest_DuplicateIDsRejected(t *testing.T) {
	text := "```yaml\ntasks:\n  - id: T1\n    title: a\n  - id: T1\n    title: b\n```"
	_, err := ParseManifest(text)
	var parseErr *ManifestParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want ManifestParseError for duplicate id", err)
	}
}

func TestDecompose_NineFilesChunkFour(t *testing.T) {
	parent := &domain.Task{
		ID:        "T5",
		Title:     "Big refactor",
		Body:      "Touch everything.",
		DependsOn: "T4",
		Files: []string{
			"a.go", "b.go", "c.go", "d.go", "e.go", "f.go", "g.go", "h.go", "i.go",
		},
	}

	slices := Decompose(parent)
	if len(slices) != 3 {
		t.Fatalf("got %d slices, want 3", len(slices))
	}

	// ids and sequential dependency chain
	if slices[0].ID != "T5-S1" || slices[1].ID != "T5-S2" || slices[2].ID != "T5-S3" {
		t.Errorf("slice ids = %s, %s, %s", slices[0].ID, slices[1].ID, slices[2].ID)
	}
	if slices[0].DependsOn != "T4" {
		t.Errorf("slice 1 depends_on = %q, want inherited T4", slices[0].DependsOn)
	}
	if slices[1].DependsOn != "T5-S1" || slices[2].DependsOn != "T5-S2" {
		t.Errorf("chain = %q, %q; want T5-S1, T5-S2", slices[1].DependsOn, slices[2].DependsOn)
	}

	// file lists partition the original in order
	var all []string
	for _, s := range slices {
		all = append(all, s.Files...)
	}
	if len(all) != len(parent.Files) {
		t.Fatalf("partition has %d files, want %d", len(all), len(parent.Files))
	}
	for i, f := range parent.Files {
		if all[i] != f {
			t.Errorf("file %d = %s, want %s", i, all[i], f)
		}
	}

	for _, s := range slices {
		if s.Provenance != domain.ProvenanceDecomposed {
			t.Errorf("slice %s provenance = %s, want decomposed", s.ID, s.Provenance)
		}
	}
}

func TestNeedsDecomposition(t *testing.T) {
	small := &domain.Task{ID: "T1", Files: []string{"a.go"}}
	if NeedsDecomposition(small) {
		t.Error("small task should not need decomposition")
	}
	manyFiles := &domain.Task{ID: "T2", Files: make([]string, maxFilesPerTask+1)}
	if !NeedsDecomposition(manyFiles) {
		t.Error("task above file threshold should decompose")
	}
	longBody := &domain.Task{ID: "T3", Body: string(make([]byte, maxBodyBytes+1))}
	if !NeedsDecomposition(longBody) {
		t.Error("task above body threshold should decompose")
	}
}

func TestBuildFromPlan_DecomposesAndPersists(t *testing.T) {
	plan := `# Plan
` + "```yaml" + `
tasks:
  - id: T1
    title: Huge task
    body: Do a lot.
    files: [a, b, c, d, e, f, g, h, i]
  - id: T2
    title: Small task
    body: Do a little.
` + "```" + `

## Coverage Matrix

| Requirement | Tasks |
|---|---|
| Everything | T1, T2 |
`
	store := newMemStore()
	m := NewManager("run-1", store, slog.Default())

	decomps, err := m.BuildFromPlan(plan)
	if err != nil {
		t.Fatalf("BuildFromPlan: %v", err)
	}
	if decomps != 1 {
		t.Errorf("decompositions = %d, want 1", decomps)
	}
	if m.Len() != 4 {
		t.Errorf("queue length = %d, want 4 (3 slices + 1 task)", m.Len())
	}
	if len(store.queues["run-1"]) != 4 {
		t.Errorf("persisted queue length = %d, want 4", len(store.queues["run-1"]))
	}
}

func TestBuildFromPlan_CoverageMismatchIsFatal(t *testing.T) {
	plan := `# Plan
` + "```yaml" + `
tasks:
  - id: T1
    title: Only task
    body: Work.
` + "```" + `

## Coverage Matrix

| Requirement | Tasks |
|---|---|
| Phantom feature | T9 |
`
	m := NewManager("run-1", newMemStore(), slog.Default())
	_, err := m.BuildFromPlan(plan)
	var cerr *domain.ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConsistencyError", err)
	}
}

func TestCheckCoverage_ParentIDResolvesToSlices(t *testing.T) {
	tasks := []*domain.Task{
		{ID: "T1-S1", Provenance: domain.ProvenanceDecomposed},
		{ID: "T1-S2", Provenance: domain.ProvenanceDecomposed},
	}
	plan := "## Coverage Matrix\n\n| Requirement | Tasks |\n|---|---|\n| Feature | T1 |\n"
	if err := CheckCoverage(plan, tasks); err != nil {
		t.Errorf("parent id should resolve through its slices: %v", err)
	}
}

func TestInsertDynamicFollowUps(t *testing.T) {
	store := newMemStore()
	m := NewManager("run-1", store, slog.Default())
	m.tasks = []*domain.Task{
		{ID: "T1", Title: "first"},
		{ID: "T2", Title: "second"},
	}

	inserted, err := m.InsertDynamicFollowUps("T1", []*domain.Task{
		{Title: "fix import", Body: "Fix the broken import."},
		{Title: "add test", Body: "Add a regression test."},
	})
	if err != nil {
		t.Fatalf("InsertDynamicFollowUps: %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}

	ids := make([]string, 0, m.Len())
	for _, task := range m.Tasks() {
		ids = append(ids, task.ID)
	}
	want := []string{"T1", "T1-F1", "T1-F2", "T2"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("queue order = %v, want %v", ids, want)
	}

	f1 := m.Tasks()[1]
	if f1.Provenance != domain.ProvenanceDynamic {
		t.Errorf("follow-up provenance = %s, want dynamic", f1.Provenance)
	}
	if f1.DependsOn != "T1" {
		t.Errorf("first follow-up depends_on = %q, want trigger T1", f1.DependsOn)
	}
	if m.Tasks()[2].DependsOn != "T1-F1" {
		t.Errorf("second follow-up depends_on = %q, want T1-F1", m.Tasks()[2].DependsOn)
	}
	if store.replaces != 1 {
		t.Errorf("persist calls = %d, want 1", store.replaces)
	}
}

func TestInsertDynamicFollowUps_BoundsPerTrigger(t *testing.T) {
	m := NewManager("run-1", newMemStore(), slog.Default())
	m.tasks = []*domain.Task{{ID: "T1"}}

	offered := make([]*domain.Task, maxDynamicPerTrigger+2)
	for i := range offered {
		offered[i] = &domain.Task{Title: fmt.Sprintf("extra %d", i)}
	}
	inserted, err := m.InsertDynamicFollowUps("T1", offered)
	if err != nil {
		t.Fatalf("InsertDynamicFollowUps: %v", err)
	}
	if inserted != maxDynamicPerTrigger {
		t.Errorf("inserted = %d, want bound %d", inserted, maxDynamicPerTrigger)
	}
}

func TestInsertDynamicFollowUps_CollisionFreeIDs(t *testing.T) {
	m := NewManager("run-1", newMemStore(), slog.Default())
	m.tasks = []*domain.Task{
		{ID: "T1"},
		{ID: "T1-F1"}, // a follow-up from an earlier trigger
	}

	if _, err := m.InsertDynamicFollowUps("T1", []*domain.Task{{Title: "more"}}); err != nil {
		t.Fatalf("InsertDynamicFollowUps: %v", err)
	}
	// the existing T1-F1 must not be shadowed
	if got := m.Tasks()[1].ID; got != "T1-F2" {
		t.Errorf("new follow-up id = %s, want T1-F2", got)
	}
}

func TestInsertDynamicFollowUps_UnknownTriggerIsFatal(t *testing.T) {
	m := NewManager("run-1", newMemStore(), slog.Default())
	m.tasks = []*domain.Task{{ID: "T1"}}

	_, err := m.InsertDynamicFollowUps("T9", []*domain.Task{{Title: "x"}})
	var cerr *domain.ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConsistencyError", err)
	}
}

func TestLoad_ResumeIndexPastQueueIsFatal(t *testing.T) {
	store := newMemStore()
	store.queues["run-1"] = []*domain.Task{{ID: "T1"}, {ID: "T2"}}
	m := NewManager("run-1", store, slog.Default())

	if err := m.Load(2); err != nil {
		t.Errorf("index equal to length resumes past the end cleanly: %v", err)
	}

	err := m.Load(3)
	var cerr *domain.ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConsistencyError for index past queue", err)
	}
}

func TestParseFollowUps(t *testing.T) {
	output := `Task finished. Two issues remain:

` + "```yaml" + `
follow_up_tasks:
  - title: Fix circular import
    body: Break the cycle between api and db.
` + "```" + `
`
	tasks := ParseFollowUps(output)
	if len(tasks) != 1 {
		t.Fatalf("got %d follow-ups, want 1", len(tasks))
	}
	if tasks[0].Title != "Fix circular import" {
		t.Errorf("title = %q", tasks[0].Title)
	}

	if got := ParseFollowUps("no block here"); got != nil {
		t.Errorf("plain output should yield no follow-ups, got %v", got)
	}
}
