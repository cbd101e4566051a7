package statestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamesjlundin/appforge/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for run state, the task queue,
// and the agent-invocation ledger. The on-disk record is the source of
// truth: callers load at start and save after every mutation.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or updates a run record
func (s *Store) SaveRun(run *domain.Run) error {
	phases, err := json.Marshal(run.CompletedPhases)
	if err != nil {
		return err
	}
	stages, err := json.Marshal(run.CompletedStages)
	if err != nil {
		return err
	}
	costs, err := json.Marshal(run.PhaseCosts)
	if err != nil {
		return err
	}

	run.UpdatedAt = time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO runs (id, idea, engine, status, workspace_path, repository_url,
			completed_phases, current_phase,
			actual_cost_usd, estimated_cost_usd, effective_cost_usd,
			tokens_input, tokens_output, phase_costs,
			last_completed_task, decomposition_count, dynamic_task_count,
			completed_stages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			workspace_path = excluded.workspace_path,
			repository_url = excluded.repository_url,
			completed_phases = excluded.completed_phases,
			current_phase = excluded.current_phase,
			actual_cost_usd = excluded.actual_cost_usd,
			estimated_cost_usd = excluded.estimated_cost_usd,
			effective_cost_usd = excluded.effective_cost_usd,
			tokens_input = excluded.tokens_input,
			tokens_output = excluded.tokens_output,
			phase_costs = excluded.phase_costs,
			last_completed_task = excluded.last_completed_task,
			decomposition_count = excluded.decomposition_count,
			dynamic_task_count = excluded.dynamic_task_count,
			completed_stages = excluded.completed_stages,
			updated_at = excluded.updated_at
	`,
		run.ID,
		run.Idea,
		string(run.Engine),
		string(run.Status),
		run.WorkspacePath,
		run.RepositoryURL,
		string(phases),
		run.CurrentPhase,
		run.ActualCostUSD,
		run.EstimatedCostUSD,
		run.EffectiveCostUSD,
		run.TokensInput,
		run.TokensOutput,
		string(costs),
		run.LastCompletedTask,
		run.DecompositionCount,
		run.DynamicTaskCount,
		string(stages),
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, idea, engine, status, workspace_path, repository_url,
			completed_phases, current_phase,
			actual_cost_usd, estimated_cost_usd, effective_cost_usd,
			tokens_input, tokens_output, phase_costs,
			last_completed_task, decomposition_count, dynamic_task_count,
			completed_stages, created_at, updated_at
		FROM runs WHERE id = ?
	`, id)

	var run domain.Run
	var engine, status string
	var workspace, repoURL, currentPhase sql.NullString
	var phases, stages, costs string

	err := row.Scan(&run.ID, &run.Idea, &engine, &status, &workspace, &repoURL,
		&phases, &currentPhase,
		&run.ActualCostUSD, &run.EstimatedCostUSD, &run.EffectiveCostUSD,
		&run.TokensInput, &run.TokensOutput, &costs,
		&run.LastCompletedTask, &run.DecompositionCount, &run.DynamicTaskCount,
		&stages, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	run.Engine = domain.Engine(engine)
	run.Status = domain.RunStatus(status)
	run.WorkspacePath = workspace.String
	run.RepositoryURL = repoURL.String
	run.CurrentPhase = currentPhase.String
	if err := json.Unmarshal([]byte(phases), &run.CompletedPhases); err != nil {
		return nil, fmt.Errorf("decoding completed_phases for run %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(stages), &run.CompletedStages); err != nil {
		return nil, fmt.Errorf("decoding completed_stages for run %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(costs), &run.PhaseCosts); err != nil {
		return nil, fmt.Errorf("decoding phase_costs for run %s: %w", id, err)
	}
	if run.PhaseCosts == nil {
		run.PhaseCosts = make(map[string]*domain.PhaseCost)
	}

	return &run, nil
}

// ListRuns returns all runs ordered by creation time, newest first
func (s *Store) ListRuns() ([]*domain.Run, error) {
	rows, err := s.db.Query(`SELECT id FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]*domain.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ReplaceQueue atomically replaces the persisted task queue for a run. Called
// after every structural change (manifest load, decomposition, dynamic
// insertion) so that the stored queue always reflects the live one.
func (s *Store) ReplaceQueue(runID string, tasks []*domain.Task) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM queue_tasks WHERE run_id = ?`, runID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO queue_tasks (run_id, position, id, title, body, priority,
			complexity, milestone, description, files, acceptance_criteria,
			test_expectations, depends_on, provenance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, task := range tasks {
		files, err := json.Marshal(task.Files)
		if err != nil {
			return err
		}
		criteria, err := json.Marshal(task.AcceptanceCriteria)
		if err != nil {
			return err
		}
		expectations, err := json.Marshal(task.TestExpectations)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(runID, i, task.ID, task.Title, task.Body,
			string(task.Priority), task.Complexity, task.Milestone,
			task.Description, string(files), string(criteria),
			string(expectations), task.DependsOn, string(task.Provenance)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadQueue returns the persisted task queue for a run in position order
func (s *Store) LoadQueue(runID string) ([]*domain.Task, error) {
	rows, err := s.db.Query(`
		SELECT id, title, body, priority, complexity, milestone, description,
			files, acceptance_criteria, test_expectations, depends_on, provenance
		FROM queue_tasks WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		var task domain.Task
		var priority, provenance string
		var complexity, milestone, description, dependsOn sql.NullString
		var files, criteria, expectations string

		err := rows.Scan(&task.ID, &task.Title, &task.Body, &priority,
			&complexity, &milestone, &description, &files, &criteria,
			&expectations, &dependsOn, &provenance)
		if err != nil {
			return nil, err
		}

		task.Priority = domain.Priority(priority)
		task.Provenance = domain.Provenance(provenance)
		task.Complexity = complexity.String
		task.Milestone = milestone.String
		task.Description = description.String
		task.DependsOn = dependsOn.String
		if err := json.Unmarshal([]byte(files), &task.Files); err != nil {
			return nil, fmt.Errorf("decoding files for task %s: %w", task.ID, err)
		}
		if err := json.Unmarshal([]byte(criteria), &task.AcceptanceCriteria); err != nil {
			return nil, fmt.Errorf("decoding acceptance_criteria for task %s: %w", task.ID, err)
		}
		if err := json.Unmarshal([]byte(expectations), &task.TestExpectations); err != nil {
			return nil, fmt.Errorf("decoding test_expectations for task %s: %w", task.ID, err)
		}

		tasks = append(tasks, &task)
	}

	return tasks, rows.Err()
}

// InvocationRecord is one row of the agent-invocation ledger
type InvocationRecord struct {
	ID             string
	RunID          string
	Phase          string
	Purpose        string
	CostUSD        float64
	TokensInput    int
	TokensOutput   int
	NumTurns       int
	StopReason     string
	DecoderVariant string
	OutputSource   string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// RecordInvocation appends one agent invocation to the ledger
func (s *Store) RecordInvocation(rec *InvocationRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO invocations (id, run_id, phase, purpose, cost_usd,
			tokens_input, tokens_output, num_turns, stop_reason,
			decoder_variant, output_source, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.RunID, rec.Phase, rec.Purpose, rec.CostUSD,
		rec.TokensInput, rec.TokensOutput, rec.NumTurns, rec.StopReason,
		rec.DecoderVariant, rec.OutputSource, rec.StartedAt, rec.FinishedAt)
	return err
}

// ListInvocations returns the invocation ledger for a run, oldest first
func (s *Store) ListInvocations(runID string) ([]*InvocationRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, phase, purpose, cost_usd, tokens_input,
			tokens_output, num_turns, stop_reason, decoder_variant,
			output_source, started_at, finished_at
		FROM invocations WHERE run_id = ? ORDER BY started_at
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*InvocationRecord
	for rows.Next() {
		var rec InvocationRecord
		var purpose, stopReason, variant, source sql.NullString
		var finished sql.NullTime
		err := rows.Scan(&rec.ID, &rec.RunID, &rec.Phase, &purpose,
			&rec.CostUSD, &rec.TokensInput, &rec.TokensOutput, &rec.NumTurns,
			&stopReason, &variant, &source, &rec.StartedAt, &finished)
		if err != nil {
			return nil, err
		}
		rec.Purpose = purpose.String
		rec.StopReason = stopReason.String
		rec.DecoderVariant = variant.String
		rec.OutputSource = source.String
		if finished.Valid {
			t := finished.Time
			rec.FinishedAt = &t
		}
		recs = append(recs, &rec)
	}

	return recs, rows.Err()
}
