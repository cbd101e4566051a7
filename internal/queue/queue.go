package queue

import (
	"fmt"
	"log/slog"

	"github.com/jamesjlundin/appforge/internal/domain"
)

// maxDynamicPerTrigger bounds how many follow-up tasks one task's output may
// splice into the queue. Anything past the bound is dropped with a warning;
// an agent that wants unbounded fan-out gets to re-plan instead.
const maxDynamicPerTrigger = 3

// Store is the persistence surface the queue needs. The persisted queue is
// the source of truth across resumes.
type Store interface {
	ReplaceQueue(runID string, tasks []*domain.Task) error
	LoadQueue(runID string) ([]*domain.Task, error)
}

// Manager owns the live task queue for one run. The queue is rebuilt at
// phase start from either the persisted copy or a freshly parsed manifest,
// spliced in place when dynamic follow-ups appear, and persisted after every
// structural change.
type Manager struct {
	runID  string
	store  Store
	logger *slog.Logger
	tasks  []*domain.Task
}

func NewManager(runID string, store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{runID: runID, store: store, logger: logger}
}

// BuildFromPlan constructs the queue from a planning artifact: parse the
// manifest, decompose oversized tasks into slices, cross-check the coverage
// matrix, persist. Returns the number of decomposition events.
func (m *Manager) BuildFromPlan(planText string) (int, error) {
	manifest, err := ParseManifest(planText)
	if err != nil {
		return 0, err
	}

	var tasks []*domain.Task
	decompositions := 0
	for _, t := range manifest {
		if !NeedsDecomposition(t) {
			tasks = append(tasks, t)
			continue
		}
		slices := Decompose(t)
		m.logger.Info("decomposed oversized task",
			"task", t.ID, "slices", len(slices), "files", len(t.Files))
		tasks = append(tasks, slices...)
		decompositions++
	}

	if err := CheckCoverage(planText, tasks); err != nil {
		return 0, err
	}

	m.tasks = tasks
	if err := m.persist(); err != nil {
		return 0, err
	}
	return decompositions, nil
}

// Load restores the persisted queue and validates it against the run's
// last-completed-task index. An index past the end of the queue means the
// persisted queue and the run record disagree; silently clamping would
// re-execute or skip work, so it is fatal.
func (m *Manager) Load(lastCompletedTask int) error {
	tasks, err := m.store.LoadQueue(m.runID)
	if err != nil {
		return fmt.Errorf("loading task queue: %w", err)
	}
	if lastCompletedTask > len(tasks) {
		return &domain.ConsistencyError{
			Op: "queue resume",
			Detail: fmt.Sprintf("last completed task index %d exceeds queue length %d; the queue must be rebuilt",
				lastCompletedTask, len(tasks)),
		}
	}
	m.tasks = tasks
	return nil
}

// Tasks returns the live queue in execution order
func (m *Manager) Tasks() []*domain.Task {
	return m.tasks
}

// Len returns the queue length
func (m *Manager) Len() int {
	return len(m.tasks)
}

// InsertDynamicFollowUps splices newTasks immediately after the triggering
// task, assigns collision-free identifiers derived from the trigger, bounds
// the count per trigger, and persists the queue. Returns the number of tasks
// actually inserted.
func (m *Manager) InsertDynamicFollowUps(afterTaskID string, newTasks []*domain.Task) (int, error) {
	if len(newTasks) == 0 {
		return 0, nil
	}

	at := -1
	for i, t := range m.tasks {
		if t.ID == afterTaskID {
			at = i
			break
		}
	}
	if at < 0 {
		return 0, &domain.ConsistencyError{
			Op:     "dynamic insertion",
			Detail: fmt.Sprintf("trigger task %s not found in queue", afterTaskID),
		}
	}

	if len(newTasks) > maxDynamicPerTrigger {
		m.logger.Warn("dropping excess follow-up tasks",
			"trigger", afterTaskID, "offered", len(newTasks), "bound", maxDynamicPerTrigger)
		newTasks = newTasks[:maxDynamicPerTrigger]
	}

	used := make(map[string]bool, len(m.tasks))
	for _, t := range m.tasks {
		used[t.ID] = true
	}

	inserts := make([]*domain.Task, 0, len(newTasks))
	prev := afterTaskID
	for i, nt := range newTasks {
		t := nt.Clone()
		t.ID = followUpID(used, afterTaskID, i+1)
		used[t.ID] = true
		t.Provenance = domain.ProvenanceDynamic
		t.DependsOn = prev
		prev = t.ID
		inserts = append(inserts, t)
	}

	merged := make([]*domain.Task, 0, len(m.tasks)+len(inserts))
	merged = append(merged, m.tasks[:at+1]...)
	merged = append(merged, inserts...)
	merged = append(merged, m.tasks[at+1:]...)
	m.tasks = merged
	if err := m.persist(); err != nil {
		return 0, err
	}
	m.logger.Info("inserted follow-up tasks",
		"trigger", afterTaskID, "count", len(inserts))
	return len(inserts), nil
}

// followUpID derives a queue-unique id from the trigger task id
func followUpID(used map[string]bool, trigger string, n int) string {
	for {
		id := fmt.Sprintf("%s-F%d", trigger, n)
		if !used[id] {
			return id
		}
		n++
	}
}

func (m *Manager) persist() error {
	if err := m.store.ReplaceQueue(m.runID, m.tasks); err != nil {
		return fmt.Errorf("persisting task queue: %w", err)
	}
	return nil
}
